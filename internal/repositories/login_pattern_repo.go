package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/gatekeeper/internal/database"
	"github.com/harborbank/gatekeeper/internal/models"
)

// LoginPatternRepository stores the per-user behavioral fingerprint. The
// rolling sets live in JSONB columns; the repository owns the marshaling.
type LoginPatternRepository struct {
	db *database.DB
}

func NewLoginPatternRepository(db *database.DB) *LoginPatternRepository {
	return &LoginPatternRepository{db: db}
}

func (r *LoginPatternRepository) GetByUserID(ctx context.Context, userID string) (*models.UserLoginPattern, error) {
	query := `
		SELECT id, user_id, typical_ips, typical_locations, typical_devices, typical_hours,
			typical_days, preferred_timezone, total_successful_logins, total_failed_logins,
			location_risk_threshold, time_risk_threshold, device_risk_threshold,
			first_login_at, last_login_at, updated_at
		FROM user_login_patterns WHERE user_id = $1
	`

	var p models.UserLoginPattern
	var ips, locations, devices, hours, days []byte

	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&p.ID, &p.UserID, &ips, &locations, &devices, &hours,
		&days, &p.PreferredTimezone, &p.TotalSuccessfulLogins, &p.TotalFailedLogins,
		&p.LocationRiskThreshold, &p.TimeRiskThreshold, &p.DeviceRiskThreshold,
		&p.FirstLoginAt, &p.LastLoginAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{ips, &p.TypicalIPs},
		{locations, &p.TypicalLocations},
		{devices, &p.TypicalDevices},
		{hours, &p.TypicalHours},
		{days, &p.TypicalDays},
	} {
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("failed to decode login pattern: %w", err)
		}
	}

	return &p, nil
}

// Upsert writes the full pattern, creating the row on the user's first
// successful login.
func (r *LoginPatternRepository) Upsert(ctx context.Context, p *models.UserLoginPattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.UpdatedAt = time.Now()

	ips, err := json.Marshal(p.TypicalIPs)
	if err != nil {
		return fmt.Errorf("failed to encode typical IPs: %w", err)
	}
	locations, err := json.Marshal(p.TypicalLocations)
	if err != nil {
		return fmt.Errorf("failed to encode typical locations: %w", err)
	}
	devices, err := json.Marshal(p.TypicalDevices)
	if err != nil {
		return fmt.Errorf("failed to encode typical devices: %w", err)
	}
	hours, err := json.Marshal(p.TypicalHours)
	if err != nil {
		return fmt.Errorf("failed to encode typical hours: %w", err)
	}
	days, err := json.Marshal(p.TypicalDays)
	if err != nil {
		return fmt.Errorf("failed to encode typical days: %w", err)
	}

	query := `
		INSERT INTO user_login_patterns (
			id, user_id, typical_ips, typical_locations, typical_devices, typical_hours,
			typical_days, preferred_timezone, total_successful_logins, total_failed_logins,
			location_risk_threshold, time_risk_threshold, device_risk_threshold,
			first_login_at, last_login_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_id) DO UPDATE SET
			typical_ips = EXCLUDED.typical_ips,
			typical_locations = EXCLUDED.typical_locations,
			typical_devices = EXCLUDED.typical_devices,
			typical_hours = EXCLUDED.typical_hours,
			typical_days = EXCLUDED.typical_days,
			preferred_timezone = EXCLUDED.preferred_timezone,
			total_successful_logins = EXCLUDED.total_successful_logins,
			total_failed_logins = EXCLUDED.total_failed_logins,
			location_risk_threshold = EXCLUDED.location_risk_threshold,
			time_risk_threshold = EXCLUDED.time_risk_threshold,
			device_risk_threshold = EXCLUDED.device_risk_threshold,
			last_login_at = EXCLUDED.last_login_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.Pool.Exec(ctx, query,
		p.ID, p.UserID, ips, locations, devices, hours,
		days, p.PreferredTimezone, p.TotalSuccessfulLogins, p.TotalFailedLogins,
		p.LocationRiskThreshold, p.TimeRiskThreshold, p.DeviceRiskThreshold,
		p.FirstLoginAt, p.LastLoginAt, p.UpdatedAt,
	)
	return database.MapPostgresError(err)
}

// IncrementFailures bumps the failed-login counter without touching the sets.
func (r *LoginPatternRepository) IncrementFailures(ctx context.Context, userID string) error {
	query := `
		UPDATE user_login_patterns
		SET total_failed_logins = total_failed_logins + 1, updated_at = now()
		WHERE user_id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, userID)
	return database.MapPostgresError(err)
}
