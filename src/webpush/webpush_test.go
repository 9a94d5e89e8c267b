package webpush

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/daovote/govdash/src/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subscriber struct {
	priv   *ecdh.PrivateKey
	auth   []byte
	p256dh string
	authB  string
}

func newSubscriber(t *testing.T) subscriber {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return subscriber{
		priv:   priv,
		auth:   auth,
		p256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		authB:  base64.RawURLEncoding.EncodeToString(auth),
	}
}

// decrypt reverses the aes128gcm encoding with the subscriber's keys, the way
// a browser would before handing the payload to the service worker.
func (s subscriber) decrypt(t *testing.T, body []byte) []byte {
	require.Greater(t, len(body), saltLength+5)
	salt := body[:saltLength]
	rs := binary.BigEndian.Uint32(body[saltLength : saltLength+4])
	require.Equal(t, uint32(recordSize), rs)
	idLen := int(body[saltLength+4])
	asPublic := body[saltLength+5 : saltLength+5+idLen]
	ciphertext := body[saltLength+5+idLen:]

	asPub, err := ecdh.P256().NewPublicKey(asPublic)
	require.NoError(t, err)
	shared, err := s.priv.ECDH(asPub)
	require.NoError(t, err)

	uaPublic := s.priv.PublicKey().Bytes()
	ikmInfo := append(append([]byte(ikmInfoPrefix), uaPublic...), asPublic...)
	ikm, err := hkdfExtract(s.auth, shared, ikmInfo, 32)
	require.NoError(t, err)
	cek, err := hkdfExtract(salt, ikm, []byte(cekInfo), 16)
	require.NoError(t, err)
	nonce, err := hkdfExtract(salt, ikm, []byte(nonceInfo), 12)
	require.NoError(t, err)

	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	record, err := gcm.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)

	require.Equal(t, byte(0x02), record[len(record)-1], "last-record delimiter")
	return record[: len(record)-1 : len(record)-1]
}

func newSigningKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	encoded := base64.RawURLEncoding.EncodeToString(priv.Bytes())
	key, err := ParseVAPIDPrivateKey(encoded)
	require.NoError(t, err)
	return key, base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes())
}

func TestEncryptPayloadRoundTrip(t *testing.T) {
	sub := newSubscriber(t)
	plaintext := []byte(`{"title":"New proposal","body":"Fund audits"}`)

	body, err := encryptPayload(sub.p256dh, sub.authB, plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, sub.decrypt(t, body))
}

func TestEncryptPayloadAcceptsPaddedStdKeys(t *testing.T) {
	sub := newSubscriber(t)
	// Some browsers hand out standard-alphabet padded base64.
	padded := base64.StdEncoding.EncodeToString(sub.priv.PublicKey().Bytes())
	authStd := base64.StdEncoding.EncodeToString(sub.auth)

	body, err := encryptPayload(padded, authStd, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), sub.decrypt(t, body))
}

func TestEncryptPayloadRejectsOversize(t *testing.T) {
	sub := newSubscriber(t)
	_, err := encryptPayload(sub.p256dh, sub.authB, make([]byte, recordSize))
	require.Error(t, err)
}

func TestVAPIDTokenClaims(t *testing.T) {
	key, _ := newSigningKey(t)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	signed, err := vapidToken("https://push.example.net/send/abc123", "mailto:ops@daovote.app", key, now)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "https://push.example.net", claims["aud"])
	assert.Equal(t, "mailto:ops@daovote.app", claims["sub"])
	assert.Equal(t, float64(now.Add(tokenLifetime).Unix()), claims["exp"])
}

func TestVAPIDTokenRejectsBadEndpoint(t *testing.T) {
	key, _ := newSigningKey(t)
	_, err := vapidToken("not-a-url", "mailto:x@y", key, time.Now())
	require.Error(t, err)
}

func TestParseVAPIDPrivateKeyLength(t *testing.T) {
	_, err := ParseVAPIDPrivateKey(base64.RawURLEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)

	key, pub := newSigningKey(t)
	derived, err := key.PublicKey.ECDH()
	require.NoError(t, err)
	assert.Equal(t, mustDecode(t, pub), derived.Bytes(), "derived public key matches the keygen output")
}

func mustDecode(t *testing.T, s string) []byte {
	b, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	return b
}

func newTransport(t *testing.T) *Transport {
	key, pub := newSigningKey(t)
	return &Transport{
		httpClient: http.DefaultClient,
		subject:    "mailto:ops@daovote.app",
		publicKey:  pub,
		privateKey: key,
		now:        time.Now,
	}
}

func TestSendHeadersAndBody(t *testing.T) {
	sub := newSubscriber(t)
	tr := newTransport(t)

	var gotAuth, gotEncoding, gotTTL string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEncoding = r.Header.Get("Content-Encoding")
		gotTTL = r.Header.Get("TTL")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := tr.Send(context.Background(), types.PushSubscription{
		Endpoint: srv.URL + "/send/abc", P256dh: sub.p256dh, Auth: sub.authB,
	}, Payload{Title: "Voting ends in 24 hours!", Body: "AIP-1", URL: "https://daovote.app", ProposalID: 7})
	require.NoError(t, err)

	assert.Equal(t, "aes128gcm", gotEncoding)
	assert.Equal(t, messageTTL, gotTTL)
	assert.True(t, strings.HasPrefix(gotAuth, "vapid t="), gotAuth)
	assert.Contains(t, gotAuth, ", k="+tr.publicKey)

	decrypted := string(sub.decrypt(t, gotBody))
	assert.Contains(t, decrypted, `"title":"Voting ends in 24 hours!"`)
	assert.Contains(t, decrypted, `"proposalId":7`)
}

func TestSendStatusHandling(t *testing.T) {
	sub := newSubscriber(t)
	tr := newTransport(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	mk := func(path string) types.PushSubscription {
		return types.PushSubscription{Endpoint: srv.URL + path, P256dh: sub.p256dh, Auth: sub.authB}
	}

	require.NoError(t, tr.Send(context.Background(), mk("/ok"), Payload{Title: "t"}))
	assert.ErrorIs(t, tr.Send(context.Background(), mk("/gone"), Payload{Title: "t"}), ErrGone)
	assert.ErrorIs(t, tr.Send(context.Background(), mk("/missing"), Payload{Title: "t"}), ErrGone)
	assert.Error(t, tr.Send(context.Background(), mk("/boom"), Payload{Title: "t"}))

	res := tr.SendBatch(context.Background(), []types.PushSubscription{
		mk("/ok"), mk("/ok"), mk("/gone"), mk("/boom"),
	}, Payload{Title: "t"})
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{srv.URL + "/gone"}, res.Gone)
}
