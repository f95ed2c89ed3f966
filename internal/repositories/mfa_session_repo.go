package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/gatekeeper/internal/database"
	"github.com/harborbank/gatekeeper/internal/models"
)

type MfaSessionRepository struct {
	db *database.DB
}

func NewMfaSessionRepository(db *database.DB) *MfaSessionRepository {
	return &MfaSessionRepository{db: db}
}

const mfaSessionColumns = `id, user_id, email, code_hash, method, created_at, expires_at,
	last_sent_at, is_used, used_at, attempt_count, max_attempts, is_blocked`

func scanMfaSessionRow(scanner rowScanner) (*models.MfaSession, error) {
	var s models.MfaSession

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.Email, &s.CodeHash, &s.Method, &s.CreatedAt, &s.ExpiresAt,
		&s.LastSentAt, &s.IsUsed, &s.UsedAt, &s.AttemptCount, &s.MaxAttempts, &s.IsBlocked,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func (r *MfaSessionRepository) Create(ctx context.Context, s *models.MfaSession) error {
	s.ID = uuid.New().String()
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastSentAt.IsZero() {
		s.LastSentAt = now
	}

	query := `
		INSERT INTO mfa_sessions (id, user_id, email, code_hash, method, created_at, expires_at, last_sent_at, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		s.ID, s.UserID, s.Email, s.CodeHash, s.Method, s.CreatedAt, s.ExpiresAt, s.LastSentAt, s.MaxAttempts,
	)
	return database.MapPostgresError(err)
}

func (r *MfaSessionRepository) GetByID(ctx context.Context, id string) (*models.MfaSession, error) {
	query := `SELECT ` + mfaSessionColumns + ` FROM mfa_sessions WHERE id = $1`
	return scanMfaSessionRow(r.db.Pool.QueryRow(ctx, query, id))
}

// InvalidatePending blocks any still-pending sessions for the user/email
// pair. Called when a fresh code is issued so only one session is live.
func (r *MfaSessionRepository) InvalidatePending(ctx context.Context, userID, email string) (int64, error) {
	query := `
		UPDATE mfa_sessions SET is_blocked = TRUE
		WHERE user_id = $1 AND email = $2 AND is_used = FALSE AND is_blocked = FALSE
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, email)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// IncrementAttempts bumps the attempt counter and flips is_blocked when the
// limit is reached, in a single statement so concurrent wrong codes cannot
// both land on the same pre-limit count.
func (r *MfaSessionRepository) IncrementAttempts(ctx context.Context, id string) (attemptCount int, blocked bool, err error) {
	query := `
		UPDATE mfa_sessions SET
			attempt_count = attempt_count + 1,
			is_blocked = (attempt_count + 1 >= max_attempts)
		WHERE id = $1
		RETURNING attempt_count, is_blocked
	`

	err = r.db.Pool.QueryRow(ctx, query, id).Scan(&attemptCount, &blocked)
	if err != nil {
		return 0, false, database.MapPostgresError(err)
	}
	return attemptCount, blocked, nil
}

// MarkUsed consumes the session. Conditional on not-yet-used so a replayed
// verify cannot succeed twice.
func (r *MfaSessionRepository) MarkUsed(ctx context.Context, id string) error {
	query := `
		UPDATE mfa_sessions SET is_used = TRUE, used_at = now()
		WHERE id = $1 AND is_used = FALSE AND is_blocked = FALSE
	`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

// GetLatestForUser returns the most recently created session for the
// user/email pair, regardless of state. Drives the resend cooldown.
func (r *MfaSessionRepository) GetLatestForUser(ctx context.Context, userID, email string) (*models.MfaSession, error) {
	query := `
		SELECT ` + mfaSessionColumns + ` FROM mfa_sessions
		WHERE user_id = $1 AND email = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanMfaSessionRow(r.db.Pool.QueryRow(ctx, query, userID, email))
}

// DeleteExpired removes terminal sessions past their expiry.
func (r *MfaSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM mfa_sessions WHERE expires_at <= CURRENT_TIMESTAMP`

	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
