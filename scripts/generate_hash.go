//go:build ignore

// generate_hash.go prints an Argon2id hash for ADMIN_API_KEY_HASH.
//
//	go run scripts/generate_hash.go            # new random key + its hash
//	go run scripts/generate_hash.go <api-key>  # hash an existing key
//
// The single quotes in the output keep godotenv from expanding the $
// separators.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	minKeyLen   = 24
	saltLen     = 16
	memoryKiB   = 64 * 1024
	passes      = 3
	parallelism = 2
	hashLen     = 32
)

func main() {
	key, generated, err := apiKey(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	salt, err := random(saltLen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "salt: %v\n", err)
		os.Exit(1)
	}
	sum := argon2.IDKey([]byte(key), salt, passes, memoryKiB, parallelism, hashLen)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memoryKiB, passes, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum))

	if generated {
		fmt.Printf("# send as X-Admin-Key, store it somewhere safe:\n# %s\n", key)
	}
	fmt.Printf("ADMIN_API_KEY_HASH='%s'\n", encoded)
}

func apiKey(args []string) (string, bool, error) {
	if len(args) == 0 {
		b, err := random(32)
		if err != nil {
			return "", false, fmt.Errorf("key: %w", err)
		}
		return base64.RawURLEncoding.EncodeToString(b), true, nil
	}
	if len(args[0]) < minKeyLen {
		return "", false, fmt.Errorf("the API key must be at least %d characters long", minKeyLen)
	}
	return args[0], false, nil
}

func random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
