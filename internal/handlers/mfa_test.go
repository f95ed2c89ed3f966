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
	"github.com/harborbank/gatekeeper/internal/services"
	pkghttp "github.com/harborbank/gatekeeper/pkg/http"
)

const testMfaSessionID = "a1b2c3d4-5555-4666-8777-888899990000"

func newMfaHandler(svc *handlers.MockMfaService) *handlers.MfaHandler {
	return handlers.NewMfaHandler(svc, &pkghttp.IPConfig{})
}

func TestSendCode_Success(t *testing.T) {
	now := time.Now()
	nextResend := now.Add(60 * time.Second)

	handler := newMfaHandler(&handlers.MockMfaService{
		SendMfaCodeFunc: func(ctx context.Context, email, method, ipAddress string) (*models.MfaSession, error) {
			assert.Equal(t, "avery.chen@example.com", email)
			return &models.MfaSession{
				ID:          testMfaSessionID,
				Email:       email,
				Method:      models.MfaOptionEmail,
				ExpiresAt:   now.Add(5 * time.Minute),
				LastSentAt:  now,
				MaxAttempts: 3,
			}, nil
		},
		CanResendFunc: func(ctx context.Context, sessionID string) (bool, time.Time, error) {
			return false, nextResend, nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/send-code", handlers.SendCodeRequest{
		Email: "Avery.Chen@example.com",
	})
	w := httptest.NewRecorder()

	handler.SendCode(w, req)

	var resp handlers.SendCodeResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.True(t, resp.Success)
	assert.Equal(t, testMfaSessionID, resp.SessionID)
	assert.Equal(t, 3, resp.RemainingAttempts)
	assert.False(t, resp.CanResend)
	assert.NotNil(t, resp.NextResendAt)
	assert.NotNil(t, resp.ExpiresAt)
}

func TestSendCode_UnknownAccountStaysGeneric(t *testing.T) {
	// A missing account and a missing factor must be indistinguishable
	// from the outside.
	for _, svcErr := range []error{models.ErrMfaSessionNotFound, models.ErrMfaNotConfigured} {
		handler := newMfaHandler(&handlers.MockMfaService{
			SendMfaCodeFunc: func(ctx context.Context, email, method, ipAddress string) (*models.MfaSession, error) {
				return nil, svcErr
			},
		})

		req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/send-code", handlers.SendCodeRequest{
			Email: "nobody@example.com",
		})
		w := httptest.NewRecorder()

		handler.SendCode(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	}
}

func TestSendCode_ResendTooSoon(t *testing.T) {
	handler := newMfaHandler(&handlers.MockMfaService{
		SendMfaCodeFunc: func(ctx context.Context, email, method, ipAddress string) (*models.MfaSession, error) {
			return nil, models.ErrMfaResendTooSoon
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/send-code", handlers.SendCodeRequest{
		Email: "avery.chen@example.com",
	})
	w := httptest.NewRecorder()

	handler.SendCode(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "resend_too_soon")
}

func TestSendCode_RejectsUnknownMethod(t *testing.T) {
	handler := newMfaHandler(&handlers.MockMfaService{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/send-code", handlers.SendCodeRequest{
		Email:     "avery.chen@example.com",
		MfaMethod: "carrier-pigeon",
	})
	w := httptest.NewRecorder()

	handler.SendCode(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestVerifyCode_Success(t *testing.T) {
	expiresAt := time.Now().Add(12 * time.Hour)

	handler := newMfaHandler(&handlers.MockMfaService{
		CompleteMfaLoginFunc: func(ctx context.Context, sessionID, code, ipAddress, userAgent string, rememberDevice bool) (*services.LoginResult, *services.VerifyResult, error) {
			assert.Equal(t, testMfaSessionID, sessionID)
			assert.Equal(t, "123456", code)
			return &services.LoginResult{
					UserID:         "user-1",
					Token:          "signed.jwt.token",
					TokenExpiresAt: expiresAt,
				}, &services.VerifyResult{
					Success:           true,
					RemainingAttempts: 2,
				}, nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/verify-code", handlers.VerifyCodeRequest{
		Email:     "avery.chen@example.com",
		SessionID: testMfaSessionID,
		Code:      "123456",
	})
	w := httptest.NewRecorder()

	handler.VerifyCode(w, req)

	var resp handlers.VerifyCodeResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.True(t, resp.Success)
	assert.Equal(t, "signed.jwt.token", resp.AccessToken)
	assert.NotNil(t, resp.TokenExpiresAt)
	assert.False(t, resp.IsLocked)
}

func TestVerifyCode_WrongCode(t *testing.T) {
	handler := newMfaHandler(&handlers.MockMfaService{
		CompleteMfaLoginFunc: func(ctx context.Context, sessionID, code, ipAddress, userAgent string, rememberDevice bool) (*services.LoginResult, *services.VerifyResult, error) {
			return nil, &services.VerifyResult{
				Success:           false,
				RemainingAttempts: 1,
			}, nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/verify-code", handlers.VerifyCodeRequest{
		Email:     "avery.chen@example.com",
		SessionID: testMfaSessionID,
		Code:      "000000",
	})
	w := httptest.NewRecorder()

	handler.VerifyCode(w, req)

	var resp handlers.VerifyCodeResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.False(t, resp.Success)
	assert.Empty(t, resp.AccessToken)
	assert.Equal(t, 1, resp.RemainingAttempts)
	assert.False(t, resp.IsLocked)
	assert.Equal(t, "Incorrect code.", resp.Message)
}

func TestVerifyCode_ExhaustedAttemptsLocks(t *testing.T) {
	handler := newMfaHandler(&handlers.MockMfaService{
		CompleteMfaLoginFunc: func(ctx context.Context, sessionID, code, ipAddress, userAgent string, rememberDevice bool) (*services.LoginResult, *services.VerifyResult, error) {
			return nil, &services.VerifyResult{
				Success:           false,
				RemainingAttempts: 0,
				Blocked:           true,
			}, nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/verify-code", handlers.VerifyCodeRequest{
		Email:     "avery.chen@example.com",
		SessionID: testMfaSessionID,
		Code:      "000000",
	})
	w := httptest.NewRecorder()

	handler.VerifyCode(w, req)

	var resp handlers.VerifyCodeResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)

	assert.False(t, resp.Success)
	assert.True(t, resp.IsLocked)
	assert.Equal(t, 0, resp.RemainingAttempts)
}

func TestVerifyCode_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{"session not found", models.ErrMfaSessionNotFound, http.StatusNotFound, "not_found"},
		{"expired", models.ErrMfaExpired, http.StatusBadRequest, "mfa_expired"},
		{"blocked", models.ErrMfaBlocked, http.StatusBadRequest, "mfa_blocked"},
		{"already used", models.ErrMfaSessionUsed, http.StatusBadRequest, "mfa_used"},
		{"rate limited", models.ErrRateLimited, http.StatusBadRequest, "rate_limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newMfaHandler(&handlers.MockMfaService{
				CompleteMfaLoginFunc: func(ctx context.Context, sessionID, code, ipAddress, userAgent string, rememberDevice bool) (*services.LoginResult, *services.VerifyResult, error) {
					return nil, nil, tt.serviceErr
				},
			})

			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/verify-code", handlers.VerifyCodeRequest{
				Email:     "avery.chen@example.com",
				SessionID: testMfaSessionID,
				Code:      "123456",
			})
			w := httptest.NewRecorder()

			handler.VerifyCode(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestVerifyCode_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body handlers.VerifyCodeRequest
	}{
		{"missing session id", handlers.VerifyCodeRequest{Email: "a@example.com", Code: "123456"}},
		{"session id not a uuid", handlers.VerifyCodeRequest{Email: "a@example.com", SessionID: "abc", Code: "123456"}},
		{"code too short", handlers.VerifyCodeRequest{Email: "a@example.com", SessionID: testMfaSessionID, Code: "123"}},
		{"code not numeric", handlers.VerifyCodeRequest{Email: "a@example.com", SessionID: testMfaSessionID, Code: "abcdef"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newMfaHandler(&handlers.MockMfaService{})

			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/verify-code", tt.body)
			w := httptest.NewRecorder()

			handler.VerifyCode(w, req)

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		})
	}
}

func TestEnrollAuthenticator_Success(t *testing.T) {
	handler := newMfaHandler(&handlers.MockMfaService{
		EnrollAuthenticatorFunc: func(ctx context.Context, userID string) (string, error) {
			assert.Equal(t, "user-1", userID)
			return "data:image/png;base64,AAAA", nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/enroll-authenticator", nil)
	req = handlers.WithSessionContext(req, handlers.TestSession("sess-1", "user-1"), "token-1")
	w := httptest.NewRecorder()

	handler.EnrollAuthenticator(w, req)

	var resp handlers.EnrollAuthenticatorResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Contains(t, resp.QRCode, "data:image/png;base64,")
}

func TestEnrollAuthenticator_RequiresSession(t *testing.T) {
	handler := newMfaHandler(&handlers.MockMfaService{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/enroll-authenticator", nil)
	w := httptest.NewRecorder()

	handler.EnrollAuthenticator(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestConfirmAuthenticator_Success(t *testing.T) {
	confirmed := false
	handler := newMfaHandler(&handlers.MockMfaService{
		ConfirmAuthenticatorFunc: func(ctx context.Context, userID, code string) error {
			confirmed = true
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, "123456", code)
			return nil
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/confirm-authenticator", handlers.ConfirmAuthenticatorRequest{
		Code: "123456",
	})
	req = handlers.WithSessionContext(req, handlers.TestSession("sess-1", "user-1"), "token-1")
	w := httptest.NewRecorder()

	handler.ConfirmAuthenticator(w, req)

	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.True(t, confirmed)
}

func TestConfirmAuthenticator_WrongCode(t *testing.T) {
	handler := newMfaHandler(&handlers.MockMfaService{
		ConfirmAuthenticatorFunc: func(ctx context.Context, userID, code string) error {
			return models.ErrMfaInvalidCode
		},
	})

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/mfa/confirm-authenticator", handlers.ConfirmAuthenticatorRequest{
		Code: "000000",
	})
	req = handlers.WithSessionContext(req, handlers.TestSession("sess-1", "user-1"), "token-1")
	w := httptest.NewRecorder()

	handler.ConfirmAuthenticator(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "mfa_invalid_code")
}
