// Package webpush delivers encrypted browser push messages. The application
// server authenticates itself with a VAPID ES256 token per push origin and
// encrypts each payload to the subscriber's keys per RFC 8291.
package webpush

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenLifetime = 12 * time.Hour

// ParseVAPIDPrivateKey decodes the base64url raw P-256 scalar generated by
// the keygen tool into a signing key.
func ParseVAPIDPrivateKey(encoded string) (*ecdsa.PrivateKey, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P256()},
		D:         new(big.Int).SetBytes(raw),
	}
	priv.X, priv.Y = priv.Curve.ScalarBaseMult(raw)
	return priv, nil
}

// vapidToken builds and signs the JWT carried in the Authorization header:
// audience is the push service origin, expiry is twelve hours out.
func vapidToken(endpoint, subject string, key *ecdsa.PrivateKey, now time.Time) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no origin", endpoint)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"aud": u.Scheme + "://" + u.Host,
		"exp": now.Add(tokenLifetime).Unix(),
		"sub": subject,
	})
	return token.SignedString(key)
}

// AuthorizationHeader returns the `vapid t=<jwt>, k=<publicKey>` value for
// one push endpoint.
func AuthorizationHeader(endpoint, subject, publicKey string, key *ecdsa.PrivateKey, now time.Time) (string, error) {
	t, err := vapidToken(endpoint, subject, key, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("vapid t=%s, k=%s", t, publicKey), nil
}

// decodeBase64 accepts both padded and unpadded, url-safe and standard
// alphabets; browser subscription keys show up in all of them.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "+/") {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}
