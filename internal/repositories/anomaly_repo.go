package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/gatekeeper/internal/database"
	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
)

type AnomalyRepository struct {
	db *database.DB
}

func NewAnomalyRepository(db *database.DB) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

const anomalyColumns = `id, login_attempt_id, user_id, anomaly_type, severity, risk_score,
	description, details, status, response_action, resolved_by, resolution_notes, resolved_at, created_at`

func scanAnomalyRow(scanner rowScanner) (*models.AnomalyDetection, error) {
	var a models.AnomalyDetection
	var details []byte
	var action string

	err := scanner.Scan(
		&a.ID, &a.LoginAttemptID, &a.UserID, &a.AnomalyType, &a.Severity, &a.RiskScore,
		&a.Description, &details, &a.Status, &action, &a.ResolvedBy, &a.ResolutionNotes,
		&a.ResolvedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return nil, fmt.Errorf("failed to decode anomaly details: %w", err)
		}
	}
	a.ResponseAction = models.ResponseAction(action)
	return &a, nil
}

func (r *AnomalyRepository) Create(ctx context.Context, a *models.AnomalyDetection) error {
	a.ID = uuid.New().String()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = models.AnomalyStatusPending
	}

	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("failed to encode anomaly details: %w", err)
	}

	query := `
		INSERT INTO anomaly_detections (
			id, login_attempt_id, user_id, anomaly_type, severity, risk_score,
			description, details, status, response_action, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		a.ID, a.LoginAttemptID, a.UserID, a.AnomalyType, a.Severity, a.RiskScore,
		a.Description, details, a.Status, string(a.ResponseAction), a.CreatedAt,
	)
	return database.MapPostgresError(err)
}

func (r *AnomalyRepository) GetByID(ctx context.Context, id string) (*models.AnomalyDetection, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomaly_detections WHERE id = $1`
	return scanAnomalyRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *AnomalyRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.AnomalyDetection, error) {
	query := `
		SELECT ` + anomalyColumns + ` FROM anomaly_detections
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	return collectAnomalies(rows)
}

func (r *AnomalyRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AnomalyDetection, error) {
	query := `
		SELECT ` + anomalyColumns + ` FROM anomaly_detections
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	return collectAnomalies(rows)
}

func collectAnomalies(rows pgx.Rows) ([]*models.AnomalyDetection, error) {
	anomalies := make([]*models.AnomalyDetection, 0)
	for rows.Next() {
		a, err := scanAnomalyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return anomalies, nil
}

// Resolve transitions a pending anomaly to a terminal review status.
func (r *AnomalyRepository) Resolve(ctx context.Context, id, status, resolvedBy, notes string) error {
	query := `
		UPDATE anomaly_detections SET
			status = $2, resolved_by = $3, resolution_notes = $4, resolved_at = now()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, status, resolvedBy, notes)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
