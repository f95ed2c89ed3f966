package models

import "time"

// Attempt types tracked by the rate limiter.
const (
	AttemptTypeLogin     = "LOGIN"
	AttemptTypeMfaVerify = "MFA_VERIFY"
	AttemptTypeMfaResend = "MFA_RESEND"
)

// RateLimitEntry is the persistent rolling counter for one
// (client identifier, attempt type) pair. Rows are created on first
// attempt and mutated in place; they are swept, never hard-deleted
// mid-window.
type RateLimitEntry struct {
	ID               string
	ClientIdentifier string
	AttemptType      string
	AttemptCount     int
	SuccessCount     int
	FailureCount     int
	FirstAttemptAt   time.Time // anchors the rolling window
	LastAttemptAt    time.Time
	BlockedUntil     *time.Time
	IsBlocked        bool
	BlockReason      *string
	ViolationCount   int // completed blocks, drives escalating backoff
	UpdatedAt        time.Time
}

// WindowExpired reports whether the rolling window anchored at
// FirstAttemptAt has fully elapsed.
func (e *RateLimitEntry) WindowExpired(now time.Time, window time.Duration) bool {
	return now.Sub(e.FirstAttemptAt) >= window
}

// BlockActive reports whether a block is currently in force.
func (e *RateLimitEntry) BlockActive(now time.Time) bool {
	return e.IsBlocked && e.BlockedUntil != nil && now.Before(*e.BlockedUntil)
}

// Remaining returns how many attempts are left in the current window.
func (e *RateLimitEntry) Remaining(maxAttempts int) int {
	remaining := maxAttempts - e.AttemptCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
