package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/harborbank/gatekeeper/internal/models"
)

// TokenManager signs and validates session bearer tokens. The token is a
// JWT whose jti is the session ID; revocation and inactivity are enforced
// against the session row, never from the token alone.
type TokenManager struct {
	secret   string
	tokenTTL time.Duration
}

func NewTokenManager(secret string, tokenTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:   secret,
		tokenTTL: tokenTTL,
	}
}

// GenerateSessionToken creates a signed token for the session and returns
// it with its absolute expiry.
func (tm *TokenManager) GenerateSessionToken(sessionID, userID, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.tokenTTL)

	claims := &models.TokenClaims{
		Type:   "session",
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken verifies signature and registered claims and returns the
// parsed claims. Callers must still check the session row.
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(tm.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid || claims.Type != "session" || claims.ID == "" {
		return nil, fmt.Errorf("invalid session token")
	}

	return claims, nil
}

// HashSessionID returns the hex SHA-256 of a session ID, the form stored in
// the user_sessions table.
func HashSessionID(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])
}
