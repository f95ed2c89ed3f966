package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the JWT claims carried by a session bearer token.
// The registered ID (jti) is the session identifier; the session row in
// the database remains the authority for revocation and inactivity.
type TokenClaims struct {
	Type   string `json:"type"` // always "session"
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
