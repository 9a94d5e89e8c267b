// Command vapid-keygen generates a P-256 key pair for Web Push VAPID
// authentication and prints it in the env-var form govdash expects.
package main

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}

	private := base64.RawURLEncoding.EncodeToString(key.Bytes())
	public := base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())

	fmt.Println("Add these to your environment:")
	fmt.Println()
	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", public)
	fmt.Printf("VAPID_PRIVATE_KEY=%s\n", private)
	fmt.Println("VAPID_SUBJECT=mailto:your-email@example.com")
	fmt.Println()
	fmt.Println("Keep the private key secret; never commit it.")
}
