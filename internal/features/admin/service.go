// Package admin — service.go verifies the admin API key against its
// Argon2id hash and enforces the failed-attempt lockout.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/token-shop/internal/common"
)

// AttemptStore persists key attempts.
type AttemptStore interface {
	LogAttempt(ctx context.Context, client string, success bool) error
	RecentFailures(ctx context.Context, client string, period time.Duration) (int, error)
}

// Service checks admin keys.
type Service struct {
	store       AttemptStore
	hash        string
	maxFailures int
	lockout     time.Duration
}

// NewService creates the key checker. An empty hash disables admin routes.
func NewService(store AttemptStore, hash string) *Service {
	return &Service{
		store:       store,
		hash:        hash,
		maxFailures: DefaultMaxFailures,
		lockout:     DefaultLockoutPeriod,
	}
}

// Enabled reports whether an admin key is configured.
func (s *Service) Enabled() bool {
	return s.hash != ""
}

// Verify checks key for client. After maxFailures failures within the
// lockout period every attempt is refused, even with the right key.
func (s *Service) Verify(ctx context.Context, client, key string) error {
	if !s.Enabled() {
		return common.ErrUnauthorized
	}

	failures, err := s.store.RecentFailures(ctx, client, s.lockout)
	if err != nil {
		return err
	}
	if failures >= s.maxFailures {
		return common.ErrTooManyAttempts
	}

	match := key != "" && verifyArgon2id(key, s.hash)

	if err := s.store.LogAttempt(ctx, client, match); err != nil {
		log.WithError(err).Warn("admin: failed to log key attempt")
	}

	if !match {
		log.WithField("client", client).Warn("admin: wrong API key")
		return common.ErrUnauthorized
	}
	return nil
}

// verifyArgon2id checks a secret against an encoded Argon2id hash.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func verifyArgon2id(secret, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("admin: malformed Argon2id hash")
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	_, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		log.WithError(err).Error("admin: bad Argon2id parameters")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("admin: bad Argon2id salt")
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("admin: bad Argon2id hash")
		return false
	}

	computedHash := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Constant time to avoid leaking the prefix length
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}
