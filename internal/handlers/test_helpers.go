package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harborbank/gatekeeper/internal/auth"
	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/harborbank/gatekeeper/internal/services"
	pkghttp "github.com/harborbank/gatekeeper/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext adds a resolved session and bearer token to request
// context, as the session middleware would.
func WithSessionContext(req *http.Request, session *models.UserSession, token string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, session)
	ctx = context.WithValue(ctx, auth.TokenContextKey, token)
	return req.WithContext(ctx)
}

// TestSession builds a live session for handler tests.
func TestSession(id, userID string) *models.UserSession {
	now := time.Now()
	return &models.UserSession{
		ID:                       id,
		UserID:                   userID,
		IPAddress:                "198.51.100.7",
		UserAgent:                "test-agent",
		CreatedAt:                now,
		ExpiresAt:                now.Add(12 * time.Hour),
		LastActivityAt:           now,
		InactivityTimeoutMinutes: 30,
	}
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	LoginFunc func(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
}

func (m *MockLoginService) Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, input)
}

// MockMfaService implements MfaServiceInterface for testing
type MockMfaService struct {
	SendMfaCodeFunc          func(ctx context.Context, email, method, ipAddress string) (*models.MfaSession, error)
	CompleteMfaLoginFunc     func(ctx context.Context, sessionID, code, ipAddress, userAgent string, rememberDevice bool) (*services.LoginResult, *services.VerifyResult, error)
	CanResendFunc            func(ctx context.Context, sessionID string) (bool, time.Time, error)
	EnrollAuthenticatorFunc  func(ctx context.Context, userID string) (string, error)
	ConfirmAuthenticatorFunc func(ctx context.Context, userID, code string) error
}

func (m *MockMfaService) SendMfaCode(ctx context.Context, email, method, ipAddress string) (*models.MfaSession, error) {
	if m.SendMfaCodeFunc == nil {
		return nil, models.ErrMfaSessionNotFound
	}
	return m.SendMfaCodeFunc(ctx, email, method, ipAddress)
}

func (m *MockMfaService) CompleteMfaLogin(ctx context.Context, sessionID, code, ipAddress, userAgent string, rememberDevice bool) (*services.LoginResult, *services.VerifyResult, error) {
	if m.CompleteMfaLoginFunc == nil {
		return nil, nil, models.ErrMfaSessionNotFound
	}
	return m.CompleteMfaLoginFunc(ctx, sessionID, code, ipAddress, userAgent, rememberDevice)
}

func (m *MockMfaService) CanResend(ctx context.Context, sessionID string) (bool, time.Time, error) {
	if m.CanResendFunc == nil {
		return false, time.Time{}, nil
	}
	return m.CanResendFunc(ctx, sessionID)
}

func (m *MockMfaService) EnrollAuthenticator(ctx context.Context, userID string) (string, error) {
	if m.EnrollAuthenticatorFunc == nil {
		return "", models.ErrNotFound
	}
	return m.EnrollAuthenticatorFunc(ctx, userID)
}

func (m *MockMfaService) ConfirmAuthenticator(ctx context.Context, userID, code string) error {
	if m.ConfirmAuthenticatorFunc == nil {
		return models.ErrMfaNotConfigured
	}
	return m.ConfirmAuthenticatorFunc(ctx, userID, code)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	ValidateFunc        func(ctx context.Context, token string) (*models.UserSession, error)
	UpdateActivityFunc  func(ctx context.Context, token string) (bool, error)
	RevokeFunc          func(ctx context.Context, token, reason string) error
	RevokeAllOthersFunc func(ctx context.Context, userID, keepToken string) (int64, error)
	ListActiveFunc      func(ctx context.Context, userID string) ([]*models.UserSession, error)
}

func (m *MockSessionService) Validate(ctx context.Context, token string) (*models.UserSession, error) {
	if m.ValidateFunc == nil {
		return nil, models.ErrSessionNotFound
	}
	return m.ValidateFunc(ctx, token)
}

func (m *MockSessionService) UpdateActivity(ctx context.Context, token string) (bool, error) {
	if m.UpdateActivityFunc == nil {
		return false, nil
	}
	return m.UpdateActivityFunc(ctx, token)
}

func (m *MockSessionService) Revoke(ctx context.Context, token, reason string) error {
	if m.RevokeFunc == nil {
		return nil
	}
	return m.RevokeFunc(ctx, token, reason)
}

func (m *MockSessionService) RevokeAllOthers(ctx context.Context, userID, keepToken string) (int64, error) {
	if m.RevokeAllOthersFunc == nil {
		return 0, nil
	}
	return m.RevokeAllOthersFunc(ctx, userID, keepToken)
}

func (m *MockSessionService) ListActive(ctx context.Context, userID string) ([]*models.UserSession, error) {
	if m.ListActiveFunc == nil {
		return nil, nil
	}
	return m.ListActiveFunc(ctx, userID)
}

// MockAdminRateLimitService implements AdminRateLimitService for testing
type MockAdminRateLimitService struct {
	ResetRateLimitFunc func(ctx context.Context, clientID, attemptType string) error
}

func (m *MockAdminRateLimitService) ResetRateLimit(ctx context.Context, clientID, attemptType string) error {
	if m.ResetRateLimitFunc == nil {
		return nil
	}
	return m.ResetRateLimitFunc(ctx, clientID, attemptType)
}

// MockAdminAccountService implements AdminAccountService for testing
type MockAdminAccountService struct {
	UnlockAccountFunc  func(ctx context.Context, userID string) error
	RecentAttemptsFunc func(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

func (m *MockAdminAccountService) UnlockAccount(ctx context.Context, userID string) error {
	if m.UnlockAccountFunc == nil {
		return nil
	}
	return m.UnlockAccountFunc(ctx, userID)
}

func (m *MockAdminAccountService) RecentAttempts(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	if m.RecentAttemptsFunc == nil {
		return nil, nil
	}
	return m.RecentAttemptsFunc(ctx, userID, limit)
}

// MockAdminAnomalyService implements AdminAnomalyService for testing
type MockAdminAnomalyService struct {
	ListPendingFunc      func(ctx context.Context, limit int) ([]*models.AnomalyDetection, error)
	ListForUserFunc      func(ctx context.Context, userID string, limit int) ([]*models.AnomalyDetection, error)
	ResolveDetectionFunc func(ctx context.Context, id, status, resolvedBy, notes string) error
}

func (m *MockAdminAnomalyService) ListPending(ctx context.Context, limit int) ([]*models.AnomalyDetection, error) {
	if m.ListPendingFunc == nil {
		return nil, nil
	}
	return m.ListPendingFunc(ctx, limit)
}

func (m *MockAdminAnomalyService) ListForUser(ctx context.Context, userID string, limit int) ([]*models.AnomalyDetection, error) {
	if m.ListForUserFunc == nil {
		return nil, nil
	}
	return m.ListForUserFunc(ctx, userID, limit)
}

func (m *MockAdminAnomalyService) ResolveDetection(ctx context.Context, id, status, resolvedBy, notes string) error {
	if m.ResolveDetectionFunc == nil {
		return nil
	}
	return m.ResolveDetectionFunc(ctx, id, status, resolvedBy, notes)
}
