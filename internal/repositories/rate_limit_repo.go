package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/gatekeeper/internal/database"
	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
)

// RateLimitRepository persists per-key rolling counters. Mutations go
// through Apply, which serializes concurrent updates for the same key with
// a row lock so two racing attempts cannot both read the same count.
type RateLimitRepository struct {
	db *database.DB
}

func NewRateLimitRepository(db *database.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

const rateLimitColumns = `id, client_identifier, attempt_type, attempt_count, success_count,
	failure_count, first_attempt_at, last_attempt_at, blocked_until, is_blocked, block_reason,
	violation_count, updated_at`

func scanRateLimitRow(scanner rowScanner) (*models.RateLimitEntry, error) {
	var e models.RateLimitEntry

	err := scanner.Scan(
		&e.ID, &e.ClientIdentifier, &e.AttemptType, &e.AttemptCount, &e.SuccessCount,
		&e.FailureCount, &e.FirstAttemptAt, &e.LastAttemptAt, &e.BlockedUntil, &e.IsBlocked,
		&e.BlockReason, &e.ViolationCount, &e.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

// Apply locks (creating if absent) the entry for the key, passes it to
// mutate, and writes the result back, all inside one transaction.
func (r *RateLimitRepository) Apply(ctx context.Context, clientID, attemptType string, mutate func(*models.RateLimitEntry) error) (*models.RateLimitEntry, error) {
	var entry *models.RateLimitEntry

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		// Ensure the row exists before locking it. ON CONFLICT DO NOTHING
		// makes concurrent first attempts converge on one row.
		now := time.Now()
		_, err := tx.Exec(ctx, `
			INSERT INTO rate_limit_entries (id, client_identifier, attempt_type, first_attempt_at, last_attempt_at, updated_at)
			VALUES ($1, $2, $3, $4, $4, $4)
			ON CONFLICT (client_identifier, attempt_type) DO NOTHING
		`, uuid.New().String(), clientID, attemptType, now)
		if err != nil {
			return database.MapPostgresError(err)
		}

		row := tx.QueryRow(ctx, `
			SELECT `+rateLimitColumns+` FROM rate_limit_entries
			WHERE client_identifier = $1 AND attempt_type = $2
			FOR UPDATE
		`, clientID, attemptType)

		e, err := scanRateLimitRow(row)
		if err != nil {
			return err
		}

		if err := mutate(e); err != nil {
			return err
		}

		e.UpdatedAt = time.Now()
		_, err = tx.Exec(ctx, `
			UPDATE rate_limit_entries SET
				attempt_count = $3, success_count = $4, failure_count = $5,
				first_attempt_at = $6, last_attempt_at = $7, blocked_until = $8,
				is_blocked = $9, block_reason = $10, violation_count = $11, updated_at = $12
			WHERE client_identifier = $1 AND attempt_type = $2
		`, clientID, attemptType,
			e.AttemptCount, e.SuccessCount, e.FailureCount,
			e.FirstAttemptAt, e.LastAttemptAt, e.BlockedUntil,
			e.IsBlocked, e.BlockReason, e.ViolationCount, e.UpdatedAt,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}

		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Get returns the entry for the key, or ErrNotFound.
func (r *RateLimitRepository) Get(ctx context.Context, clientID, attemptType string) (*models.RateLimitEntry, error) {
	query := `
		SELECT ` + rateLimitColumns + ` FROM rate_limit_entries
		WHERE client_identifier = $1 AND attempt_type = $2
	`

	return scanRateLimitRow(r.db.Pool.QueryRow(ctx, query, clientID, attemptType))
}

// Reset clears the entry for a key. Administrative use.
func (r *RateLimitRepository) Reset(ctx context.Context, clientID, attemptType string) error {
	query := `DELETE FROM rate_limit_entries WHERE client_identifier = $1 AND attempt_type = $2`
	_, err := r.db.Pool.Exec(ctx, query, clientID, attemptType)
	return database.MapPostgresError(err)
}

// DeleteStale sweeps entries whose window and block have long elapsed.
func (r *RateLimitRepository) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM rate_limit_entries
		WHERE last_attempt_at < $1
		  AND (blocked_until IS NULL OR blocked_until < $1)
	`

	tag, err := r.db.Pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
