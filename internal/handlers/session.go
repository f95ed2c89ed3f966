package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/harborbank/gatekeeper/internal/auth"
	"github.com/harborbank/gatekeeper/internal/models"
	pkghttp "github.com/harborbank/gatekeeper/pkg/http"
)

// SessionServiceInterface defines the interface for session lifecycle logic
type SessionServiceInterface interface {
	Validate(ctx context.Context, token string) (*models.UserSession, error)
	UpdateActivity(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token, reason string) error
	RevokeAllOthers(ctx context.Context, userID, keepToken string) (int64, error)
	ListActive(ctx context.Context, userID string) ([]*models.UserSession, error)
}

// SessionHandler handles session validation and lifecycle HTTP requests
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// ValidateSessionResponse reports the liveness of the presented token
type ValidateSessionResponse struct {
	IsValid             bool   `json:"isValid"`
	IsExpired           bool   `json:"isExpired"`
	IsInactive          bool   `json:"isInactive"`
	MinutesUntilTimeout int    `json:"minutesUntilTimeout"`
	Message             string `json:"message"`
}

// LogoutAllRequest represents the request body for logout-all
type LogoutAllRequest struct {
	ConfirmLogoutAll bool `json:"confirmLogoutAll"`
}

// LogoutAllResponse represents the response body for logout-all
type LogoutAllResponse struct {
	Success         bool   `json:"success"`
	SessionsRevoked int64  `json:"sessionsRevoked"`
	Message         string `json:"message"`
}

// SessionSummary is one active session as shown to its owner
type SessionSummary struct {
	ID              string    `json:"id"`
	IPAddress       string    `json:"ipAddress"`
	Location        *string   `json:"location,omitempty"`
	UserAgent       string    `json:"userAgent"`
	CreatedAt       time.Time `json:"createdAt"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
	IsTrustedDevice bool      `json:"isTrustedDevice"`
	IsCurrent       bool      `json:"isCurrent"`
}

// Validate reports whether the presented bearer token maps to a live
// session. Unlike the authenticated endpoints this always answers 200 with
// the state in the body so clients can distinguish expiry from revocation.
// @Summary Validate session
// @Security BearerAuth
// @Produce json
// @Success 200 {object} ValidateSessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/session/validate [get]
func (h *SessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.ExtractBearerToken(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
		return
	}

	session, err := h.service.Validate(r.Context(), token)
	now := time.Now()

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ValidateSessionResponse{
			IsValid:             true,
			MinutesUntilTimeout: session.MinutesUntilTimeout(now),
			Message:             "Session is active.",
		})
	case errors.Is(err, models.ErrSessionExpired):
		resp := ValidateSessionResponse{IsExpired: true, Message: "Session has expired."}
		if session != nil && now.Before(session.ExpiresAt) {
			resp.IsInactive = true
			resp.Message = "Session timed out due to inactivity."
		}
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, models.ErrSessionRevoked):
		writeJSON(w, http.StatusOK, ValidateSessionResponse{
			IsExpired: true,
			Message:   "Session has been revoked.",
		})
	case errors.Is(err, models.ErrSessionNotFound):
		writeJSON(w, http.StatusOK, ValidateSessionResponse{
			Message: "Session not found.",
		})
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Heartbeat refreshes the session's activity clock
// @Summary Session heartbeat
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/session/heartbeat [post]
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	token := auth.GetTokenFromContext(r)
	if token == "" {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	alive, err := h.service.UpdateActivity(r.Context(), token)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	if !alive {
		pkghttp.WriteUnauthorized(w, "Session is no longer active")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Logout revokes the current session
// @Summary Logout
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.GetTokenFromContext(r)
	if token == "" {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Revoke(r.Context(), token, models.RevokeReasonLogout); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			pkghttp.WriteUnauthorized(w, "Session is no longer active")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every other session for the user
// @Summary Logout from all other devices
// @Accept json
// @Security BearerAuth
// @Param request body LogoutAllRequest true "Logout-all request"
// @Produce json
// @Success 200 {object} LogoutAllResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout-all [post]
func (h *SessionHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	token := auth.GetTokenFromContext(r)
	if session == nil || token == "" {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req LogoutAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if !req.ConfirmLogoutAll {
		pkghttp.WriteBadRequest(w, "confirmLogoutAll must be true")
		return
	}

	count, err := h.service.RevokeAllOthers(r.Context(), session.UserID, token)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, LogoutAllResponse{
		Success:         true,
		SessionsRevoked: count,
		Message:         "All other sessions have been signed out.",
	})
}

// ListSessions returns the user's active sessions
// @Summary List active sessions
// @Security BearerAuth
// @Produce json
// @Success 200 {array} SessionSummary
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/sessions [get]
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.service.ListActive(r.Context(), session.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionSummary{
			ID:              s.ID,
			IPAddress:       s.IPAddress,
			Location:        s.Location,
			UserAgent:       s.UserAgent,
			CreatedAt:       s.CreatedAt,
			LastActivityAt:  s.LastActivityAt,
			IsTrustedDevice: s.IsTrustedDevice,
			IsCurrent:       s.ID == session.ID,
		})
	}

	writeJSON(w, http.StatusOK, out)
}
