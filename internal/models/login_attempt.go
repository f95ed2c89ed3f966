package models

import "time"

// ResponseAction is the decision the risk engine attaches to a login attempt.
type ResponseAction string

const (
	ActionAllow  ResponseAction = "allow"
	ActionStepUp ResponseAction = "step_up"
	ActionBlock  ResponseAction = "block"
	ActionLock   ResponseAction = "lock"
)

// Failure reasons recorded on login attempts.
const (
	FailureRateLimited        = "rate_limited"
	FailureInvalidCredentials = "invalid_credentials"
	FailureAccountInactive    = "account_inactive"
	FailureAccountLocked      = "account_locked"
	FailureRiskBlocked        = "risk_blocked"
	FailureRiskLocked         = "risk_locked"
)

// LoginAttempt is the immutable audit record of a single login try.
// Written once, after the outcome is final; never mutated.
type LoginAttempt struct {
	ID                string
	UserID            *string // nil when the email did not resolve to a user
	Email             string
	IPAddress         string
	UserAgent         string
	Country           *string
	Region            *string
	City              *string
	Latitude          *float64
	Longitude         *float64
	DeviceFingerprint string
	DeviceType        string
	DeviceOS          string
	DeviceBrowser     string
	AttemptedAt       time.Time
	Success           bool
	FailureReason     *string
	IsAnomalous       bool
	AnomalyReasons    []string
	RiskScore         int // 0-100
	ResponseAction    ResponseAction
	ExpiresAt         time.Time // retention horizon for the cleanup sweep
}
