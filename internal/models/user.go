package models

import (
	"time"
)

// MFA delivery options a user can have configured.
const (
	MfaOptionNone          = ""
	MfaOptionSms           = "sms"
	MfaOptionEmail         = "email"
	MfaOptionAuthenticator = "authenticator"
)

// User holds the security-relevant subset of an account. Profile and
// registration CRUD live outside this service.
type User struct {
	ID                  string
	Email               string
	FullName            string
	PasswordHash        string
	PhoneNumber         string
	MfaOption           string // "", "sms", "email", "authenticator"
	IsActive            bool
	FailedLoginAttempts int
	LastFailedLoginAt   *time.Time
	AccountLockedUntil  *time.Time
	LockedPermanently   bool
	LockReason          *string
	LastLoginAt         *time.Time
	TotpSecretEncrypted []byte // AES-256-GCM encrypted TOTP secret, nil unless enrolled
	TotpSecretNonce     []byte // GCM nonce (12 bytes)
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the account is under a temporary or permanent lock.
func (u *User) IsLocked(now time.Time) bool {
	if u.LockedPermanently {
		return true
	}
	return u.AccountLockedUntil != nil && now.Before(*u.AccountLockedUntil)
}

// HasAuthenticator reports whether a TOTP secret has been enrolled.
func (u *User) HasAuthenticator() bool {
	return len(u.TotpSecretEncrypted) > 0
}
