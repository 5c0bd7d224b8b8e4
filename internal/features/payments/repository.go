// Package payments — repository.go works with the payment_records table.
// Every mutation locks the row (SELECT ... FOR UPDATE) and decides on the
// freshly read state inside the same transaction.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/token-shop/internal/common"
	"serotonyl.ru/token-shop/internal/db/postgres"
	"serotonyl.ru/token-shop/internal/features/tokens"
	"serotonyl.ru/token-shop/internal/gateway"
)

// Ledger applies a credit inside an open transaction.
type Ledger interface {
	ApplyCreditTx(ctx context.Context, tx pgx.Tx, c tokens.Credit) (bool, error)
}

// Repository is the Postgres Store.
type Repository struct {
	db     *pgxpool.Pool
	ledger Ledger
}

// NewRepository creates the payment repository.
func NewRepository(db *pgxpool.Pool, ledger Ledger) *Repository {
	return &Repository{db: db, ledger: ledger}
}

const recordColumns = `
	id, external_ref, provider, correlation_id, client_handle,
	user_id, game_id, location, package_index, token_quantity, unit_price_cents, currency, created_at,
	provider_status, status, payment_method, payer_ref, receipt_ref, failure, metadata,
	tokens_added, tokens_scheduled_for, credited_at, updated_at`

// openStatuses is the SQL list of statuses still awaiting a provider outcome.
const openStatuses = `('created', 'processing')`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r                 Record
		provider, status  string
		failure, metadata []byte
	)
	err := row.Scan(
		&r.ID, &r.ExternalRef, &provider, &r.CorrelationID, &r.ClientHandle,
		&r.UserID, &r.GameID, &r.Location, &r.PackageIndex, &r.TokenQuantity, &r.UnitPriceCents, &r.Currency, &r.CreatedAt,
		&r.ProviderStatus, &status, &r.PaymentMethod, &r.PayerRef, &r.ReceiptRef, &failure, &metadata,
		&r.TokensAdded, &r.TokensScheduledFor, &r.CreditedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment record: %w", err)
	}

	r.Provider = gateway.Provider(provider)
	r.Status = gateway.Status(status)
	if len(failure) > 0 {
		var f gateway.Failure
		if err := json.Unmarshal(failure, &f); err != nil {
			return nil, fmt.Errorf("decode failure of %s: %w", r.ID, err)
		}
		r.Failure = &f
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func (r *Repository) queryRecords(ctx context.Context, sql string, args ...any) ([]*Record, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func encodeDetails(rec *Record) (failure, metadata []byte, err error) {
	if rec.Failure != nil {
		if failure, err = json.Marshal(rec.Failure); err != nil {
			return nil, nil, fmt.Errorf("encode failure: %w", err)
		}
	}
	md := rec.Metadata
	if md == nil {
		md = map[string]string{}
	}
	if metadata, err = json.Marshal(md); err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return failure, metadata, nil
}

// Create inserts a new record.
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	failure, metadata, err := encodeDetails(rec)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO payment_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`,
		rec.ID, rec.ExternalRef, string(rec.Provider), rec.CorrelationID, rec.ClientHandle,
		rec.UserID, rec.GameID, rec.Location, rec.PackageIndex, rec.TokenQuantity, rec.UnitPriceCents, rec.Currency, rec.CreatedAt,
		rec.ProviderStatus, string(rec.Status), rec.PaymentMethod, rec.PayerRef, rec.ReceiptRef, failure, metadata,
		rec.TokensAdded, rec.TokensScheduledFor, rec.CreditedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

// GetByID returns a record by internal id.
func (r *Repository) GetByID(ctx context.Context, id string) (*Record, error) {
	return scanRecord(r.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM payment_records WHERE id = $1`, id))
}

// GetByExternalRef returns a record by provider reference.
func (r *Repository) GetByExternalRef(ctx context.Context, externalRef string) (*Record, error) {
	return scanRecord(r.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM payment_records WHERE external_ref = $1`, externalRef))
}

// FindRecentOpen returns the newest open record for the purchase key created
// at or after since.
func (r *Repository) FindRecentOpen(ctx context.Context, key PurchaseKey, since time.Time) (*Record, error) {
	return scanRecord(r.db.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM payment_records
		WHERE user_id = $1 AND provider = $2 AND game_id = $3 AND package_index = $4 AND location = $5
		  AND status IN `+openStatuses+` AND created_at >= $6
		ORDER BY created_at DESC
		LIMIT 1
	`, key.UserID, string(key.Provider), key.GameID, key.PackageIndex, key.Location, since))
}

// ListByUser returns the user's records, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	records, err := r.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM payment_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments of %s: %w", userID, err)
	}
	return records, nil
}

// ListOpen returns records the status sweep has to look at: open ones of
// the given providers, and paid ones whose credit has neither happened nor
// been scheduled.
func (r *Repository) ListOpen(ctx context.Context, providers []string, limit int) ([]*Record, error) {
	records, err := r.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM payment_records
		WHERE (status IN `+openStatuses+` AND provider = ANY($1))
		   OR (status = 'succeeded' AND tokens_added = FALSE AND tokens_scheduled_for IS NULL)
		ORDER BY updated_at
		LIMIT $2
	`, providers, limit)
	if err != nil {
		return nil, fmt.Errorf("list open payments: %w", err)
	}
	return records, nil
}

// ListDueReleases returns paid records whose scheduled release has arrived.
func (r *Repository) ListDueReleases(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	records, err := r.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM payment_records
		WHERE status = 'succeeded' AND tokens_added = FALSE
		  AND tokens_scheduled_for IS NOT NULL AND tokens_scheduled_for <= $1
		ORDER BY tokens_scheduled_for
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due releases: %w", err)
	}
	return records, nil
}

// ApplyUpdate locks the record, lets fn mutate it and writes it back when fn
// reports a change.
func (r *Repository) ApplyUpdate(ctx context.Context, id string, fn func(rec *Record) (bool, error)) (*Record, error) {
	var out *Record
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		rec, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM payment_records WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		changed, err := fn(rec)
		if err != nil {
			return err
		}
		out = rec
		if !changed {
			return nil
		}

		failure, metadata, err := encodeDetails(rec)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE payment_records
			SET provider_status = $2, status = $3, payment_method = $4, payer_ref = $5,
			    receipt_ref = $6, failure = $7, metadata = $8, updated_at = $9
			WHERE id = $1
		`, rec.ID, rec.ProviderStatus, string(rec.Status), rec.PaymentMethod, rec.PayerRef,
			rec.ReceiptRef, failure, metadata, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update payment record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScheduleRelease sets the release time once. It reports false when the
// record is not paid, already credited or already scheduled.
func (r *Repository) ScheduleRelease(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_records
		SET tokens_scheduled_for = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'succeeded' AND tokens_added = FALSE AND tokens_scheduled_for IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("schedule release: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Credit adds the record's tokens to the balance and flips tokens_added in
// one transaction. It reports false, without error, when the record is not
// creditable any more.
func (r *Repository) Credit(ctx context.Context, id string, now time.Time) (*Record, bool, error) {
	var (
		out      *Record
		credited bool
	)
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		rec, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM payment_records WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		out = rec
		if !rec.NeedsCredit() {
			return nil
		}

		applied, err := r.ledger.ApplyCreditTx(ctx, tx, tokens.Credit{
			PaymentRecordID: rec.ID,
			UserID:          rec.UserID,
			GameID:          rec.GameID,
			Location:        rec.Location,
			Tokens:          rec.TokenQuantity,
			Reason:          fmt.Sprintf("%s payment %s", rec.Provider, rec.ExternalRef),
		})
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE payment_records
			SET tokens_added = TRUE, tokens_scheduled_for = NULL, credited_at = $2, updated_at = $2
			WHERE id = $1
		`, rec.ID, now)
		if err != nil {
			return fmt.Errorf("mark tokens added: %w", err)
		}

		rec.TokensAdded = true
		rec.TokensScheduledFor = nil
		rec.CreditedAt = &now
		rec.UpdatedAt = now
		credited = applied
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, credited, nil
}
