package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/gatekeeper/internal/database"
	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// LoginAttemptRepository handles the immutable login audit trail.
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Record inserts a finished attempt and fills in its generated ID.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	attempt.ID = uuid.New().String()
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now()
	}

	query := `
		INSERT INTO login_attempts (
			id, user_id, email, ip_address, user_agent,
			country, region, city, latitude, longitude,
			device_fingerprint, device_type, device_os, device_browser,
			attempted_at, success, failure_reason,
			is_anomalous, anomaly_reasons, risk_score, response_action, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID, attempt.UserID, attempt.Email, attempt.IPAddress, attempt.UserAgent,
		attempt.Country, attempt.Region, attempt.City, attempt.Latitude, attempt.Longitude,
		attempt.DeviceFingerprint, attempt.DeviceType, attempt.DeviceOS, attempt.DeviceBrowser,
		attempt.AttemptedAt, attempt.Success, attempt.FailureReason,
		attempt.IsAnomalous, pq.Array(attempt.AnomalyReasons), attempt.RiskScore,
		string(attempt.ResponseAction), attempt.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", database.MapPostgresError(err))
	}

	return nil
}

const loginAttemptColumns = `id, user_id, email, ip_address, user_agent,
	country, region, city, latitude, longitude,
	device_fingerprint, device_type, device_os, device_browser,
	attempted_at, success, failure_reason,
	is_anomalous, anomaly_reasons, risk_score, response_action, expires_at`

func scanLoginAttemptRow(scanner rowScanner) (*models.LoginAttempt, error) {
	var a models.LoginAttempt
	var reasons []string
	var action string

	err := scanner.Scan(
		&a.ID, &a.UserID, &a.Email, &a.IPAddress, &a.UserAgent,
		&a.Country, &a.Region, &a.City, &a.Latitude, &a.Longitude,
		&a.DeviceFingerprint, &a.DeviceType, &a.DeviceOS, &a.DeviceBrowser,
		&a.AttemptedAt, &a.Success, &a.FailureReason,
		&a.IsAnomalous, pq.Array(&reasons), &a.RiskScore, &action, &a.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	a.AnomalyReasons = reasons
	a.ResponseAction = models.ResponseAction(action)
	return &a, nil
}

// GetLastSuccessful returns the most recent successful attempt for a user,
// or ErrNotFound if none exists.
func (r *LoginAttemptRepository) GetLastSuccessful(ctx context.Context, userID string) (*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + ` FROM login_attempts
		WHERE user_id = $1 AND success = true
		ORDER BY attempted_at DESC
		LIMIT 1
	`

	return scanLoginAttemptRow(r.db.Pool.QueryRow(ctx, query, userID))
}

// ListRecentByUser returns attempts for a user, newest first.
func (r *LoginAttemptRepository) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + ` FROM login_attempts
		WHERE user_id = $1
		ORDER BY attempted_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempts: %w", err)
	}
	defer rows.Close()

	return collectLoginAttempts(rows)
}

func collectLoginAttempts(rows pgx.Rows) ([]*models.LoginAttempt, error) {
	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		a, err := scanLoginAttemptRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return attempts, nil
}

// DeleteExpired removes attempts past their retention horizon.
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`

	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
