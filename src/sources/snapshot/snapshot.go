// Package snapshot fetches off-chain vote proposals for one configured space
// from the Snapshot GraphQL hub. Results are cached for five minutes; on any
// remote failure the adapter serves the last good data, or an empty list when
// it has never succeeded. It never returns an error to the caller.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/types"
	"github.com/daovote/govdash/src/webclient"
)

const (
	defaultEndpoint = "https://hub.snapshot.org/graphql"
	cacheTTL        = 5 * time.Minute
	pageSize        = 20
)

type Adapter struct {
	endpoint      string
	space         string
	httpClient    *http.Client
	cache         *sources.Cache
	retryAttempts int
	retryDelay    time.Duration
}

func New(space string) *Adapter {
	return &Adapter{
		endpoint:      defaultEndpoint,
		space:         space,
		httpClient:    webclient.NewDefault(10 * time.Second),
		cache:         sources.NewCache(cacheTTL),
		retryAttempts: 3,
		retryDelay:    2 * time.Second,
	}
}

func NewWithEndpoint(endpoint, space string) *Adapter {
	a := New(space)
	a.endpoint = endpoint
	return a
}

func (a *Adapter) Source() string { return types.SourceSnapshot }

type snapshotProposal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Choices     []string  `json:"choices"`
	Start       int64     `json:"start"`
	End         int64     `json:"end"`
	State       string    `json:"state"`
	Author      string    `json:"author"`
	Scores      []float64 `json:"scores"`
	ScoresTotal float64   `json:"scores_total"`
	Quorum      float64   `json:"quorum"`
	Link        string    `json:"link"`
}

func (a *Adapter) Fetch(ctx context.Context) ([]sources.RawProposal, error) {
	data, err := a.cache.Fetch(ctx, a.fetchRemote)
	if err != nil {
		log.Printf("snapshot: fetch failed, no cached data: %v", err)
		return nil, nil
	}
	return data, nil
}

func (a *Adapter) fetchRemote(ctx context.Context) ([]sources.RawProposal, error) {
	query := fmt.Sprintf(`
		query Proposals {
			proposals(
				first: %d,
				skip: 0,
				where: { space_in: [%q] },
				orderBy: "created",
				orderDirection: desc
			) {
				id title body choices start end state author
				scores scores_total quorum link
			}
		}`, pageSize, a.space)

	body, err := a.post(ctx, query)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Proposals []snapshotProposal `json:"proposals"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse proposals: %w", err)
	}
	proposals := resp.Data.Proposals

	names := a.fetchAuthorNames(ctx, proposals)

	out := make([]sources.RawProposal, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, a.toRaw(p, names))
	}
	return out, nil
}

// fetchAuthorNames resolves display names for proposal authors. Name lookup
// failure is cosmetic and falls back to truncated addresses.
func (a *Adapter) fetchAuthorNames(ctx context.Context, proposals []snapshotProposal) map[string]string {
	names := map[string]string{}
	if len(proposals) == 0 {
		return names
	}

	seen := map[string]bool{}
	addrs := make([]string, 0, len(proposals))
	for _, p := range proposals {
		if !seen[p.Author] {
			seen[p.Author] = true
			addrs = append(addrs, p.Author)
		}
	}

	quoted := make([]string, len(addrs))
	for i, addr := range addrs {
		quoted[i] = fmt.Sprintf("%q", addr)
	}
	query := fmt.Sprintf(`
		query Users {
			users(where: { id_in: [%s] }) { id name }
		}`, strings.Join(quoted, ","))

	body, err := a.post(ctx, query)
	if err != nil {
		log.Printf("snapshot: author lookup failed: %v", err)
		return names
	}

	var resp struct {
		Data struct {
			Users []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"users"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Printf("snapshot: parse author lookup: %v", err)
		return names
	}
	for _, u := range resp.Data.Users {
		if u.Name != "" {
			names[strings.ToLower(u.ID)] = u.Name
		}
	}
	return names
}

func (a *Adapter) toRaw(p snapshotProposal, names map[string]string) sources.RawProposal {
	author := names[strings.ToLower(p.Author)]
	if author == "" {
		author = shortenAddress(p.Author)
	}

	start := time.Unix(p.Start, 0).UTC()
	end := time.Unix(p.End, 0).UTC()

	var forVotes, againstVotes float64
	if len(p.Scores) > 0 {
		forVotes = p.Scores[0]
	}
	if len(p.Scores) > 1 {
		againstVotes = p.Scores[1]
	}

	url := p.Link
	if url == "" {
		url = fmt.Sprintf("https://snapshot.org/#/%s/proposal/%s", a.space, p.ID)
	}

	raw := sources.RawProposal{
		ExternalID:   p.ID,
		Title:        p.Title,
		SourceStatus: p.State,
		ForVotes:     forVotes,
		AgainstVotes: againstVotes,
		StartsAt:     &start,
		EndsAt:       &end,
		URL:          url,
		CreatedAt:    start,
	}
	if p.Body != "" {
		desc := truncate(p.Body, 500)
		raw.Description = &desc
	}
	if author != "" {
		raw.Author = &author
	}
	if p.Quorum > 0 {
		q := p.Quorum
		raw.Quorum = &q
	}
	return raw
}

// post issues one GraphQL request with bounded retries on 429/5xx.
func (a *Adapter) post(ctx context.Context, query string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	status, body, err := webclient.DoWithRetry(ctx, a.retryAttempts, a.retryDelay, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, nil, err
		}
		return resp.StatusCode, b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", status, truncate(string(body), 200))
	}
	return body, nil
}

func shortenAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
