package models

import "time"

// MfaSession is one step-up verification challenge. Terminal on success,
// expiry, or attempt exhaustion; the caller must issue a fresh session to
// retry after any terminal state.
type MfaSession struct {
	ID           string
	UserID       string
	Email        string
	CodeHash     string // bcrypt hash of the one-time code; empty for authenticator method
	Method       string // "sms", "email", "authenticator"
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastSentAt   time.Time
	IsUsed       bool
	UsedAt       *time.Time
	AttemptCount int
	MaxAttempts  int
	IsBlocked    bool
}

// IsExpired reports whether the session TTL has elapsed.
func (s *MfaSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RemainingAttempts returns how many verification tries are left.
func (s *MfaSession) RemainingAttempts() int {
	remaining := s.MaxAttempts - s.AttemptCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
