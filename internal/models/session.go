package models

import "time"

// Session revocation reasons.
const (
	RevokeReasonLogout     = "logout"
	RevokeReasonLogoutAll  = "logout_all"
	RevokeReasonInactivity = "inactivity"
	RevokeReasonSecurity   = "security"
)

// UserSession is one authenticated device session. The bearer token itself
// is never stored; only the SHA-256 hash of its session identifier is.
type UserSession struct {
	ID                       string
	UserID                   string
	TokenHash                string
	IPAddress                string
	UserAgent                string
	DeviceFingerprint        string
	Location                 *string
	CreatedAt                time.Time
	ExpiresAt                time.Time // absolute expiry
	LastActivityAt           time.Time
	IsRevoked                bool
	RevokedAt                *time.Time
	RevokeReason             *string
	IsTrustedDevice          bool
	InactivityTimeoutMinutes int
}

// InactivityDeadline returns the instant at which the session times out
// absent further activity.
func (s *UserSession) InactivityDeadline() time.Time {
	return s.LastActivityAt.Add(time.Duration(s.InactivityTimeoutMinutes) * time.Minute)
}

// InactiveAt reports whether the inactivity timeout has elapsed at now.
func (s *UserSession) InactiveAt(now time.Time) bool {
	return now.After(s.InactivityDeadline())
}

// MinutesUntilTimeout returns whole minutes of inactivity budget left,
// clamped at zero.
func (s *UserSession) MinutesUntilTimeout(now time.Time) int {
	remaining := s.InactivityDeadline().Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Minute)
}

// ActiveAt reports whether the session is usable at now: not revoked, not
// past absolute expiry, and not inactivity-expired.
func (s *UserSession) ActiveAt(now time.Time) bool {
	return !s.IsRevoked && now.Before(s.ExpiresAt) && !s.InactiveAt(now)
}
