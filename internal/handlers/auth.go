package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/harborbank/gatekeeper/internal/services"
	pkghttp "github.com/harborbank/gatekeeper/pkg/http"
)

// LoginServiceInterface defines the interface for the login orchestration logic
type LoginServiceInterface interface {
	Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
}

// AuthHandler handles login HTTP requests
type AuthHandler struct {
	service  LoginServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required"`
	RememberDevice bool   `json:"rememberDevice"`
}

// LoginResponse represents the response body for a handled login
type LoginResponse struct {
	UserID         string     `json:"userId,omitempty"`
	FullName       string     `json:"fullName,omitempty"`
	Email          string     `json:"email,omitempty"`
	Token          string     `json:"token,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
	RequiresMfa    bool       `json:"requiresMfa"`
	MfaMethod      string     `json:"mfaMethod,omitempty"`
	MfaSessionID   string     `json:"mfaSessionId,omitempty"`
	MfaExpiresAt   *time.Time `json:"mfaExpiresAt,omitempty"`
	Message        string     `json:"message"`
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:          req.Email,
		Password:       req.Password,
		RememberDevice: req.RememberDevice,
		IPAddress:      pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:      r.Header.Get("User-Agent"),
	})
	if err != nil {
		writeLoginError(w, err)
		return
	}

	resp := LoginResponse{
		UserID:      result.UserID,
		FullName:    result.FullName,
		Email:       result.Email,
		RequiresMfa: result.RequiresMfa,
	}
	if result.RequiresMfa {
		resp.MfaMethod = result.MfaMethod
		resp.MfaSessionID = result.MfaSessionID
		resp.MfaExpiresAt = &result.MfaExpiresAt
		resp.Message = "Verification required. A code has been sent via " + result.MfaMethod + "."
	} else {
		resp.Token = result.Token
		resp.TokenExpiresAt = &result.TokenExpiresAt
		resp.Message = "Login successful."
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeLoginError maps login outcomes onto the HTTP surface. Invalid
// credentials and risk blocks share one 401 so responses leak nothing about
// which accounts exist or how they are scored.
func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteError(w, http.StatusBadRequest, "rate_limited",
			"Too many attempts. Please try again later.")
	case errors.Is(err, models.ErrAccountLockedPermanently):
		pkghttp.WriteError(w, http.StatusBadRequest, "account_locked",
			"Account is locked. Please contact support.")
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteError(w, http.StatusBadRequest, "account_locked",
			"Account is temporarily locked. Please try again later.")
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteError(w, http.StatusBadRequest, "account_inactive",
			"Account is not active.")
	case errors.Is(err, models.ErrMfaResendTooSoon):
		pkghttp.WriteError(w, http.StatusBadRequest, "resend_too_soon",
			"A code was sent recently. Please wait before requesting another.")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
