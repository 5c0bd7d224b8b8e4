// Package admin guards administrative routes with an Argon2id-hashed API
// key and a failed-attempt lockout.
// models.go describes key attempts.
package admin

import "time"

// KeyAttempt is one presentation of the admin key (for brute-force lockout).
type KeyAttempt struct {
	ID          int64     `db:"id"`
	Client      string    `db:"client"` // client IP
	AttemptTime time.Time `db:"attempt_time"`
	Success     bool      `db:"success"`
}

// Lockout defaults
const (
	DefaultMaxFailures   = 3
	DefaultLockoutPeriod = time.Hour
)

// HeaderAPIKey carries the admin key on requests.
const HeaderAPIKey = "X-Admin-Key"
