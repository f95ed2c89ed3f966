package models

import "errors"

// Generic errors mapped onto HTTP status codes at the handler layer.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource conflict")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternalServer = errors.New("internal server error")
)

// Login flow errors.
var (
	ErrRateLimited              = errors.New("rate limit exceeded")
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrAccountInactive          = errors.New("account is inactive")
	ErrAccountLocked            = errors.New("account is temporarily locked")
	ErrAccountLockedPermanently = errors.New("account is locked pending review")
)

// Step-up verification errors.
var (
	ErrMfaSessionNotFound = errors.New("verification session not found")
	ErrMfaInvalidCode     = errors.New("invalid verification code")
	ErrMfaExpired         = errors.New("verification session expired")
	ErrMfaBlocked         = errors.New("verification session blocked")
	ErrMfaSessionUsed     = errors.New("verification session already used")
	ErrMfaResendTooSoon   = errors.New("resend requested too soon")
	ErrMfaNotConfigured   = errors.New("no verification method configured")
)

// Session errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
)
