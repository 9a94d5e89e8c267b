package webpush

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/daovote/govdash/src/types"
	"github.com/daovote/govdash/src/webclient"
)

const messageTTL = "86400" // 24 hours

// ErrGone marks endpoints the push service no longer knows; callers should
// delete the subscription instead of retrying it.
var ErrGone = errors.New("subscription gone")

type Payload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url"`
	ProposalID uint64 `json:"proposalId,omitempty"`
}

type Transport struct {
	httpClient *http.Client
	subject    string
	publicKey  string
	privateKey *ecdsa.PrivateKey
	now        func() time.Time
}

func NewTransport(subject, publicKey, privateKey string) (*Transport, error) {
	key, err := ParseVAPIDPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &Transport{
		httpClient: webclient.NewDefault(15 * time.Second),
		subject:    subject,
		publicKey:  publicKey,
		privateKey: key,
		now:        time.Now,
	}, nil
}

// Send encrypts and delivers one payload to one endpoint. HTTP 200/201 is
// success; 404/410 returns ErrGone; anything else is a plain failure.
func (t *Transport) Send(ctx context.Context, sub types.PushSubscription, payload Payload) error {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	body, err := encryptPayload(sub.P256dh, sub.Auth, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt payload: %w", err)
	}
	authz, err := AuthorizationHeader(sub.Endpoint, t.subject, t.publicKey, t.privateKey, t.now())
	if err != nil {
		return fmt.Errorf("vapid: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("TTL", messageTTL)
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", authz)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return ErrGone
	default:
		return fmt.Errorf("push service status %d", resp.StatusCode)
	}
}

type BatchResult struct {
	Sent   int
	Failed int
	Gone   []string // endpoints to prune
}

// SendBatch fans one payload out to every subscription concurrently. Each
// subscription contributes exactly one increment; one failure never blocks
// the rest, and there is no partial-batch abort.
func (t *Transport) SendBatch(ctx context.Context, subs []types.PushSubscription, payload Payload) BatchResult {
	var (
		mu     sync.Mutex
		result BatchResult
		wg     sync.WaitGroup
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(sub types.PushSubscription) {
			defer wg.Done()
			err := t.Send(ctx, sub, payload)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Sent++
			case errors.Is(err, ErrGone):
				result.Failed++
				result.Gone = append(result.Gone, sub.Endpoint)
			default:
				result.Failed++
				log.Printf("webpush: send to %s failed: %v", shortEndpoint(sub.Endpoint), err)
			}
		}(sub)
	}
	wg.Wait()
	return result
}

func shortEndpoint(endpoint string) string {
	if len(endpoint) <= 50 {
		return endpoint
	}
	return endpoint[:50]
}
