package models

import "time"

// Anomaly types produced by the risk scorer.
const (
	AnomalyUnusualLocation  = "unusual_location"
	AnomalyNewDevice        = "new_device"
	AnomalyUnusualTime      = "unusual_time"
	AnomalyImpossibleTravel = "impossible_travel"
)

// Review states for a flagged anomaly.
const (
	AnomalyStatusPending   = "pending"
	AnomalyStatusResolved  = "resolved"
	AnomalyStatusIgnored   = "ignored"
	AnomalyStatusEscalated = "escalated"
)

// AnomalyDetection is written whenever a login attempt scores above the
// flag threshold. Only manual review mutates it afterwards.
type AnomalyDetection struct {
	ID              string
	LoginAttemptID  string
	UserID          string
	AnomalyType     string
	Severity        int // 1-5
	RiskScore       int // 0-100
	Description     string
	Details         map[string]any
	Status          string
	ResponseAction  ResponseAction
	ResolvedBy      *string
	ResolutionNotes *string
	ResolvedAt      *time.Time
	CreatedAt       time.Time
}

// SeverityForScore maps a 0-100 risk score onto the 1-5 severity scale.
func SeverityForScore(score int) int {
	switch {
	case score >= 90:
		return 5
	case score >= 70:
		return 4
	case score >= 50:
		return 3
	case score >= 30:
		return 2
	default:
		return 1
	}
}
