package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/harborbank/gatekeeper/internal/auth"
	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/harborbank/gatekeeper/internal/services"
	pkghttp "github.com/harborbank/gatekeeper/pkg/http"
)

// MfaServiceInterface defines the interface for step-up verification logic
type MfaServiceInterface interface {
	SendMfaCode(ctx context.Context, email, method, ipAddress string) (*models.MfaSession, error)
	CompleteMfaLogin(ctx context.Context, sessionID, code, ipAddress, userAgent string, rememberDevice bool) (*services.LoginResult, *services.VerifyResult, error)
	CanResend(ctx context.Context, sessionID string) (bool, time.Time, error)
	EnrollAuthenticator(ctx context.Context, userID string) (string, error)
	ConfirmAuthenticator(ctx context.Context, userID, code string) error
}

// MfaHandler handles step-up verification and authenticator enrollment
type MfaHandler struct {
	service  MfaServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewMfaHandler creates a new MfaHandler
func NewMfaHandler(service MfaServiceInterface, ipConfig *pkghttp.IPConfig) *MfaHandler {
	return &MfaHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request/response DTOs

type SendCodeRequest struct {
	Email     string `json:"email" validate:"required,email"`
	MfaMethod string `json:"mfaMethod" validate:"omitempty,oneof=sms email authenticator"`
}

type SendCodeResponse struct {
	Success           bool       `json:"success"`
	SessionID         string     `json:"sessionId,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	RemainingAttempts int        `json:"remainingAttempts"`
	CanResend         bool       `json:"canResend"`
	NextResendAt      *time.Time `json:"nextResendAt,omitempty"`
	Message           string     `json:"message"`
}

type VerifyCodeRequest struct {
	Email     string `json:"email" validate:"required,email"`
	SessionID string `json:"sessionId" validate:"required,uuid"`
	Code      string `json:"code" validate:"required,len=6,numeric"`
}

type VerifyCodeResponse struct {
	Success           bool       `json:"success"`
	AccessToken       string     `json:"accessToken,omitempty"`
	TokenExpiresAt    *time.Time `json:"tokenExpiresAt,omitempty"`
	RemainingAttempts int        `json:"remainingAttempts"`
	IsLocked          bool       `json:"isLocked"`
	Message           string     `json:"message"`
}

type ConfirmAuthenticatorRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type EnrollAuthenticatorResponse struct {
	QRCode  string `json:"qrCode"`
	Message string `json:"message"`
}

// SendCode handles issuing or reissuing a step-up verification code
// @Summary Send MFA code
// @Accept json
// @Param request body SendCodeRequest true "Send code request"
// @Produce json
// @Success 200 {object} SendCodeResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/mfa/send-code [post]
func (h *MfaHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	session, err := h.service.SendMfaCode(r.Context(), req.Email, req.MfaMethod, ipAddress)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMfaResendTooSoon):
			pkghttp.WriteError(w, http.StatusBadRequest, "resend_too_soon",
				"A code was sent recently. Please wait before requesting another.")
		case errors.Is(err, models.ErrRateLimited):
			pkghttp.WriteError(w, http.StatusBadRequest, "rate_limited",
				"Too many attempts. Please try again later.")
		case errors.Is(err, models.ErrMfaSessionNotFound), errors.Is(err, models.ErrMfaNotConfigured):
			// Do not disclose whether the account exists or what factor it has.
			pkghttp.WriteBadRequest(w, "Unable to send a verification code for this request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	canResend, nextResendAt, err := h.service.CanResend(r.Context(), session.ID)
	if err != nil {
		canResend, nextResendAt = false, session.LastSentAt
	}

	writeJSON(w, http.StatusOK, SendCodeResponse{
		Success:           true,
		SessionID:         session.ID,
		ExpiresAt:         &session.ExpiresAt,
		RemainingAttempts: session.RemainingAttempts(),
		CanResend:         canResend,
		NextResendAt:      &nextResendAt,
		Message:           "Verification code sent via " + session.Method + ".",
	})
}

// VerifyCode handles step-up code verification and finishes the login
// @Summary Verify MFA code
// @Accept json
// @Param request body VerifyCodeRequest true "Verify code request"
// @Produce json
// @Success 200 {object} VerifyCodeResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /auth/mfa/verify-code [post]
func (h *MfaHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, verify, err := h.service.CompleteMfaLogin(r.Context(), req.SessionID, req.Code, ipAddress, userAgent, false)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMfaSessionNotFound):
			pkghttp.WriteNotFound(w, "Verification session not found")
		case errors.Is(err, models.ErrMfaExpired):
			pkghttp.WriteError(w, http.StatusBadRequest, "mfa_expired",
				"Verification code has expired. Please request a new one.")
		case errors.Is(err, models.ErrMfaBlocked):
			pkghttp.WriteError(w, http.StatusBadRequest, "mfa_blocked",
				"Too many incorrect codes. Please restart the login.")
		case errors.Is(err, models.ErrMfaSessionUsed):
			pkghttp.WriteError(w, http.StatusBadRequest, "mfa_used",
				"This code has already been used.")
		case errors.Is(err, models.ErrRateLimited):
			pkghttp.WriteError(w, http.StatusBadRequest, "rate_limited",
				"Too many attempts. Please try again later.")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	resp := VerifyCodeResponse{
		Success:           verify.Success,
		RemainingAttempts: verify.RemainingAttempts,
		IsLocked:          verify.Blocked,
	}
	if verify.Success {
		resp.AccessToken = result.Token
		resp.TokenExpiresAt = &result.TokenExpiresAt
		resp.Message = "Verification successful."
	} else if verify.Blocked {
		resp.Message = "Too many incorrect codes. Please restart the login."
	} else {
		resp.Message = "Incorrect code."
	}

	writeJSON(w, http.StatusOK, resp)
}

// EnrollAuthenticator starts TOTP enrollment for the authenticated user
// @Summary Enroll authenticator app
// @Security BearerAuth
// @Produce json
// @Success 200 {object} EnrollAuthenticatorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/mfa/enroll-authenticator [post]
func (h *MfaHandler) EnrollAuthenticator(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	qrCode, err := h.service.EnrollAuthenticator(r.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, EnrollAuthenticatorResponse{
		QRCode:  qrCode,
		Message: "Scan the QR code with your authenticator app, then confirm with a code.",
	})
}

// ConfirmAuthenticator verifies the first TOTP code and activates the factor
// @Summary Confirm authenticator enrollment
// @Accept json
// @Security BearerAuth
// @Param request body ConfirmAuthenticatorRequest true "Confirm request"
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/mfa/confirm-authenticator [post]
func (h *MfaHandler) ConfirmAuthenticator(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ConfirmAuthenticatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConfirmAuthenticator(r.Context(), session.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrMfaInvalidCode):
			pkghttp.WriteError(w, http.StatusBadRequest, "mfa_invalid_code", "Incorrect code.")
		case errors.Is(err, models.ErrMfaNotConfigured):
			pkghttp.WriteBadRequest(w, "No pending authenticator enrollment")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Authenticator enabled. It will be required on future logins.",
	})
}
