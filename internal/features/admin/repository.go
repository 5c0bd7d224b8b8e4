// Package admin — repository.go works with the admin_key_attempts table.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository records admin key attempts.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates the repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LogAttempt records one key presentation.
func (r *Repository) LogAttempt(ctx context.Context, client string, success bool) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO admin_key_attempts (client, success) VALUES ($1, $2)`,
		client, success)
	if err != nil {
		return fmt.Errorf("log admin key attempt: %w", err)
	}
	return nil
}

// RecentFailures counts failed attempts of a client since now-period.
func (r *Repository) RecentFailures(ctx context.Context, client string, period time.Duration) (int, error) {
	since := time.Now().Add(-period)
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM admin_key_attempts
		WHERE client = $1 AND success = FALSE AND attempt_time >= $2
	`, client, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count admin key failures: %w", err)
	}
	return count, nil
}
