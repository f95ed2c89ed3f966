package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harborbank/gatekeeper/internal/handlers"
	"github.com/harborbank/gatekeeper/internal/models"
)

func validateRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/session/validate", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestValidateSession_Active(t *testing.T) {
	session := handlers.TestSession("sess-1", "user-1")

	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		ValidateFunc: func(ctx context.Context, token string) (*models.UserSession, error) {
			assert.Equal(t, "good-token", token)
			return session, nil
		},
	})

	w := httptest.NewRecorder()
	handler.Validate(w, validateRequest("good-token"))

	var resp handlers.ValidateSessionResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.True(t, resp.IsValid)
	assert.False(t, resp.IsExpired)
	assert.False(t, resp.IsInactive)
	assert.Greater(t, resp.MinutesUntilTimeout, 0)
}

func TestValidateSession_InactivityTimeout(t *testing.T) {
	// Inactivity-expired but still within absolute expiry.
	session := handlers.TestSession("sess-1", "user-1")
	session.LastActivityAt = time.Now().Add(-2 * time.Hour)

	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		ValidateFunc: func(ctx context.Context, token string) (*models.UserSession, error) {
			return session, models.ErrSessionExpired
		},
	})

	w := httptest.NewRecorder()
	handler.Validate(w, validateRequest("stale-token"))

	var resp handlers.ValidateSessionResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.False(t, resp.IsValid)
	assert.True(t, resp.IsExpired)
	assert.True(t, resp.IsInactive)
	assert.Equal(t, "Session timed out due to inactivity.", resp.Message)
}

func TestValidateSession_AbsoluteExpiry(t *testing.T) {
	session := handlers.TestSession("sess-1", "user-1")
	session.ExpiresAt = time.Now().Add(-time.Minute)

	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		ValidateFunc: func(ctx context.Context, token string) (*models.UserSession, error) {
			return session, models.ErrSessionExpired
		},
	})

	w := httptest.NewRecorder()
	handler.Validate(w, validateRequest("old-token"))

	var resp handlers.ValidateSessionResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.True(t, resp.IsExpired)
	assert.False(t, resp.IsInactive)
}

func TestValidateSession_Revoked(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		ValidateFunc: func(ctx context.Context, token string) (*models.UserSession, error) {
			return nil, models.ErrSessionRevoked
		},
	})

	w := httptest.NewRecorder()
	handler.Validate(w, validateRequest("revoked-token"))

	var resp handlers.ValidateSessionResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.False(t, resp.IsValid)
	assert.True(t, resp.IsExpired)
	assert.Equal(t, "Session has been revoked.", resp.Message)
}

func TestValidateSession_NotFound(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		ValidateFunc: func(ctx context.Context, token string) (*models.UserSession, error) {
			return nil, models.ErrSessionNotFound
		},
	})

	w := httptest.NewRecorder()
	handler.Validate(w, validateRequest("unknown-token"))

	var resp handlers.ValidateSessionResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.False(t, resp.IsValid)
	assert.False(t, resp.IsExpired)
	assert.False(t, resp.IsInactive)
}

func TestValidateSession_MissingHeader(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{})

	w := httptest.NewRecorder()
	handler.Validate(w, validateRequest(""))

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestHeartbeat_RefreshesActivity(t *testing.T) {
	touched := false
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		UpdateActivityFunc: func(ctx context.Context, token string) (bool, error) {
			touched = true
			assert.Equal(t, "good-token", token)
			return true, nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/session/heartbeat", nil)
	req = handlers.WithSessionContext(req, handlers.TestSession("sess-1", "user-1"), "good-token")
	w := httptest.NewRecorder()

	handler.Heartbeat(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, touched)
}

func TestHeartbeat_DeadSession(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		UpdateActivityFunc: func(ctx context.Context, token string) (bool, error) {
			return false, nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/session/heartbeat", nil)
	req = handlers.WithSessionContext(req, handlers.TestSession("sess-1", "user-1"), "stale-token")
	w := httptest.NewRecorder()

	handler.Heartbeat(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestLogout_RevokesCurrentSession(t *testing.T) {
	var gotReason string
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		RevokeFunc: func(ctx context.Context, token, reason string) error {
			gotReason = reason
			return nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/logout", nil)
	req = handlers.WithSessionContext(req, handlers.TestSession("sess-1", "user-1"), "good-token")
	w := httptest.NewRecorder()

	handler.Logout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, models.RevokeReasonLogout, gotReason)
}

func TestLogoutAll_RequiresConfirmation(t *testing.T) {
	called := false
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		RevokeAllOthersFunc: func(ctx context.Context, userID, keepToken string) (int64, error) {
			called = true
			return 3, nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/logout-all", handlers.LogoutAllRequest{
		ConfirmLogoutAll: false,
	})
	req = handlers.WithSessionContext(req, handlers.TestSession("sess-1", "user-1"), "good-token")
	w := httptest.NewRecorder()

	handler.LogoutAll(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.False(t, called)
}

func TestLogoutAll_RevokesOtherSessions(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		RevokeAllOthersFunc: func(ctx context.Context, userID, keepToken string) (int64, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, "good-token", keepToken)
			return 3, nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/logout-all", handlers.LogoutAllRequest{
		ConfirmLogoutAll: true,
	})
	req = handlers.WithSessionContext(req, handlers.TestSession("sess-1", "user-1"), "good-token")
	w := httptest.NewRecorder()

	handler.LogoutAll(w, req)

	var resp handlers.LogoutAllResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.True(t, resp.Success)
	assert.Equal(t, int64(3), resp.SessionsRevoked)
}

func TestListSessions_MarksCurrent(t *testing.T) {
	current := handlers.TestSession("sess-1", "user-1")
	other := handlers.TestSession("sess-2", "user-1")
	other.IPAddress = "203.0.113.20"

	handler := handlers.NewSessionHandler(&handlers.MockSessionService{
		ListActiveFunc: func(ctx context.Context, userID string) ([]*models.UserSession, error) {
			return []*models.UserSession{current, other}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	req = handlers.WithSessionContext(req, current, "good-token")
	w := httptest.NewRecorder()

	handler.ListSessions(w, req)

	var resp []handlers.SessionSummary
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.Len(t, resp, 2)
	assert.True(t, resp[0].IsCurrent)
	assert.False(t, resp[1].IsCurrent)
	assert.Equal(t, "203.0.113.20", resp[1].IPAddress)
}
