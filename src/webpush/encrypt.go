package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	saltLength    = 16
	recordSize    = 4096
	maxPlaintext  = recordSize - 16 /* GCM tag */ - 1 /* delimiter */ - 86 /* header */
	ikmInfoPrefix = "WebPush: info\x00"
	cekInfo       = "Content-Encoding: aes128gcm\x00"
	nonceInfo     = "Content-Encoding: nonce\x00"
)

// encryptPayload seals plaintext for one subscriber per RFC 8291: ECDH over
// P-256 against the subscription's p256dh key, HKDF keyed with the auth
// secret, then a single aes128gcm record (RFC 8188) with the 0x02 last-record
// delimiter. The returned body carries the binary header
// salt | rs | idlen | serverPublicKey up front.
func encryptPayload(p256dh, auth string, plaintext []byte) ([]byte, error) {
	if len(plaintext) > maxPlaintext {
		return nil, fmt.Errorf("payload too large: %d bytes", len(plaintext))
	}

	subscriberPub, err := decodeBase64(p256dh)
	if err != nil {
		return nil, fmt.Errorf("decode p256dh: %w", err)
	}
	authSecret, err := decodeBase64(auth)
	if err != nil {
		return nil, fmt.Errorf("decode auth: %w", err)
	}

	curve := ecdh.P256()
	uaPublic, err := curve.NewPublicKey(subscriberPub)
	if err != nil {
		return nil, fmt.Errorf("subscriber public key: %w", err)
	}
	asKey, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate server key: %w", err)
	}
	sharedSecret, err := asKey.ECDH(uaPublic)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	asPublic := asKey.PublicKey().Bytes()

	// IKM = HKDF(auth, ecdh_secret, "WebPush: info" || ua_public || as_public)
	ikmInfo := make([]byte, 0, len(ikmInfoPrefix)+len(subscriberPub)+len(asPublic))
	ikmInfo = append(ikmInfo, ikmInfoPrefix...)
	ikmInfo = append(ikmInfo, subscriberPub...)
	ikmInfo = append(ikmInfo, asPublic...)
	ikm, err := hkdfExtract(authSecret, sharedSecret, ikmInfo, 32)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}

	cek, err := hkdfExtract(salt, ikm, []byte(cekInfo), 16)
	if err != nil {
		return nil, err
	}
	nonce, err := hkdfExtract(salt, ikm, []byte(nonceInfo), 12)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	record := make([]byte, 0, len(plaintext)+1)
	record = append(record, plaintext...)
	record = append(record, 0x02)
	ciphertext := gcm.Seal(nil, nonce, record, nil)

	// Header: salt (16) | record size (4, BE) | keyid length (1) | keyid.
	body := make([]byte, 0, saltLength+5+len(asPublic)+len(ciphertext))
	body = append(body, salt...)
	body = binary.BigEndian.AppendUint32(body, recordSize)
	body = append(body, byte(len(asPublic)))
	body = append(body, asPublic...)
	body = append(body, ciphertext...)
	return body, nil
}

func hkdfExtract(salt, secret, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	r := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}
