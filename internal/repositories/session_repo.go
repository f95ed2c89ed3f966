package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/harborbank/gatekeeper/internal/database"
	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
)

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, token_hash, ip_address, user_agent, device_fingerprint,
	location, created_at, expires_at, last_activity_at, is_revoked, revoked_at, revoke_reason,
	is_trusted_device, inactivity_timeout_minutes`

func scanSessionRow(scanner rowScanner) (*models.UserSession, error) {
	var s models.UserSession

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.IPAddress, &s.UserAgent, &s.DeviceFingerprint,
		&s.Location, &s.CreatedAt, &s.ExpiresAt, &s.LastActivityAt, &s.IsRevoked, &s.RevokedAt,
		&s.RevokeReason, &s.IsTrustedDevice, &s.InactivityTimeoutMinutes,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *models.UserSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.CreatedAt
	}

	query := `
		INSERT INTO user_sessions (
			id, user_id, token_hash, ip_address, user_agent, device_fingerprint,
			location, created_at, expires_at, last_activity_at, is_trusted_device,
			inactivity_timeout_minutes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		s.ID, s.UserID, s.TokenHash, s.IPAddress, s.UserAgent, s.DeviceFingerprint,
		s.Location, s.CreatedAt, s.ExpiresAt, s.LastActivityAt, s.IsTrustedDevice,
		s.InactivityTimeoutMinutes,
	)
	return database.MapPostgresError(err)
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE token_hash = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// UpdateActivity refreshes last_activity_at. The only write on the session
// hot path; returns false if the session is gone or already revoked.
func (r *SessionRepository) UpdateActivity(ctx context.Context, tokenHash string) (bool, error) {
	query := `
		UPDATE user_sessions SET last_activity_at = now()
		WHERE token_hash = $1 AND is_revoked = FALSE
	`

	tag, err := r.db.Pool.Exec(ctx, query, tokenHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, tokenHash, reason string) error {
	query := `
		UPDATE user_sessions SET is_revoked = TRUE, revoked_at = now(), revoke_reason = $2
		WHERE token_hash = $1 AND is_revoked = FALSE
	`

	tag, err := r.db.Pool.Exec(ctx, query, tokenHash, reason)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RevokeAllExcept revokes every live session for the user except keepID
// (pass "" to revoke all) and returns how many were revoked.
func (r *SessionRepository) RevokeAllExcept(ctx context.Context, userID, keepID, reason string) (int64, error) {
	query := `
		UPDATE user_sessions SET is_revoked = TRUE, revoked_at = now(), revoke_reason = $3
		WHERE user_id = $1 AND id <> $2 AND is_revoked = FALSE AND expires_at > now()
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, keepID, reason)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// ListActive returns non-revoked, non-expired sessions for a user. Callers
// still apply the inactivity check, which is time-of-read dependent.
func (r *SessionRepository) ListActive(ctx context.Context, userID string) ([]*models.UserSession, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM user_sessions
		WHERE user_id = $1 AND is_revoked = FALSE AND expires_at > now()
		ORDER BY last_activity_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]*models.UserSession, error) {
	sessions := make([]*models.UserSession, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return sessions, nil
}

// DeleteExpired removes sessions past absolute expiry plus revoked ones
// older than the retention horizon.
func (r *SessionRepository) DeleteExpired(ctx context.Context, revokedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM user_sessions
		WHERE expires_at <= CURRENT_TIMESTAMP
		   OR (is_revoked = TRUE AND revoked_at < $1)
	`

	tag, err := r.db.Pool.Exec(ctx, query, revokedBefore)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
