package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/harborbank/gatekeeper/internal/models"
	pkghttp "github.com/harborbank/gatekeeper/pkg/http"
)

// AdminRateLimitService defines the rate-limit operations exposed to admins
type AdminRateLimitService interface {
	ResetRateLimit(ctx context.Context, clientID, attemptType string) error
}

// AdminAccountService defines the account operations exposed to admins
type AdminAccountService interface {
	UnlockAccount(ctx context.Context, userID string) error
	RecentAttempts(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

// AdminAnomalyService defines the anomaly review operations exposed to admins
type AdminAnomalyService interface {
	ListPending(ctx context.Context, limit int) ([]*models.AnomalyDetection, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]*models.AnomalyDetection, error)
	ResolveDetection(ctx context.Context, id, status, resolvedBy, notes string) error
}

// AdminHandler handles the operator escalation surface: manual unlocks,
// rate-limit resets, and anomaly review.
type AdminHandler struct {
	rateLimits AdminRateLimitService
	accounts   AdminAccountService
	anomalies  AdminAnomalyService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(rateLimits AdminRateLimitService, accounts AdminAccountService, anomalies AdminAnomalyService) *AdminHandler {
	return &AdminHandler{
		rateLimits: rateLimits,
		accounts:   accounts,
		anomalies:  anomalies,
	}
}

// ResetRateLimitRequest identifies the rate-limit entry to clear
type ResetRateLimitRequest struct {
	ClientIdentifier string `json:"clientIdentifier" validate:"required"`
	AttemptType      string `json:"attemptType" validate:"required,oneof=LOGIN MFA_VERIFY MFA_RESEND"`
}

// ResolveAnomalyRequest records a manual review decision
type ResolveAnomalyRequest struct {
	Status     string `json:"status" validate:"required,oneof=resolved ignored escalated"`
	ResolvedBy string `json:"resolvedBy" validate:"required"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// ResetRateLimit handles POST /admin/rate-limits/reset
func (h *AdminHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	var req ResetRateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.rateLimits.ResetRateLimit(r.Context(), req.ClientIdentifier, req.AttemptType); err != nil {
		pkghttp.WriteInternalError(w, "Failed to reset rate limit")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnlockAccount handles POST /admin/users/{id}/unlock
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user id is required")
		return
	}

	if err := h.accounts.UnlockAccount(r.Context(), userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to unlock account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Account unlocked."})
}

// ListLoginAttempts handles GET /admin/users/{id}/attempts
// Accepts optional query param ?limit=N (1-100, default 50).
func (h *AdminHandler) ListLoginAttempts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user id is required")
		return
	}

	attempts, err := h.accounts.RecentAttempts(r.Context(), userID, queryLimit(r, 50, 100))
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list login attempts")
		return
	}

	writeJSON(w, http.StatusOK, attempts)
}

// ListPendingAnomalies handles GET /admin/anomalies
// Accepts optional query params ?userId=... and ?limit=N (1-100, default 50).
func (h *AdminHandler) ListPendingAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 100)

	var (
		detections []*models.AnomalyDetection
		err        error
	)
	if userID := r.URL.Query().Get("userId"); userID != "" {
		detections, err = h.anomalies.ListForUser(r.Context(), userID, limit)
	} else {
		detections, err = h.anomalies.ListPending(r.Context(), limit)
	}
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list anomalies")
		return
	}

	writeJSON(w, http.StatusOK, detections)
}

// ResolveAnomaly handles POST /admin/anomalies/{id}/resolve
func (h *AdminHandler) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		pkghttp.WriteBadRequest(w, "anomaly id is required")
		return
	}

	var req ResolveAnomalyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.anomalies.ResolveDetection(r.Context(), id, req.Status, req.ResolvedBy, req.Notes); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Anomaly not found or already resolved")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to resolve anomaly")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Anomaly " + req.Status + "."})
}

func queryLimit(r *http.Request, def, max int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}
