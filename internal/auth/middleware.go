package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/harborbank/gatekeeper/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the resolved session in context
	SessionContextKey contextKey = "session"
	// TokenContextKey is the key for storing the raw bearer token in context
	TokenContextKey contextKey = "token"
)

// SessionValidator resolves a bearer token to a live session. The database
// row, not the token, decides revocation and inactivity.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.UserSession, error)
}

// SessionMiddleware authenticates requests against the session store and
// injects the resolved session plus the raw token into the request context.
func SessionMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := ExtractBearerToken(r)
			if !ok {
				http.Error(w, "missing or malformed authorization header", http.StatusUnauthorized)
				return
			}

			session, err := validator.Validate(r.Context(), token)
			if err != nil {
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			ctx = context.WithValue(ctx, TokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractBearerToken pulls the token out of the Authorization header.
func ExtractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetSessionFromContext extracts the authenticated session from request context
func GetSessionFromContext(r *http.Request) *models.UserSession {
	session, ok := r.Context().Value(SessionContextKey).(*models.UserSession)
	if !ok {
		return nil
	}
	return session
}

// GetTokenFromContext extracts the raw bearer token from request context
func GetTokenFromContext(r *http.Request) string {
	token, ok := r.Context().Value(TokenContextKey).(string)
	if !ok {
		return ""
	}
	return token
}
