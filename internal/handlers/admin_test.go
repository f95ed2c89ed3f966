package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/harborbank/gatekeeper/internal/handlers"
	"github.com/harborbank/gatekeeper/internal/models"
)

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestResetRateLimit_Success(t *testing.T) {
	var gotClient, gotType string
	handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{
		ResetRateLimitFunc: func(ctx context.Context, clientID, attemptType string) error {
			gotClient, gotType = clientID, attemptType
			return nil
		},
	}, &handlers.MockAdminAccountService{}, &handlers.MockAdminAnomalyService{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/admin/rate-limits/reset", handlers.ResetRateLimitRequest{
		ClientIdentifier: "198.51.100.7",
		AttemptType:      models.AttemptTypeLogin,
	})
	w := httptest.NewRecorder()

	handler.ResetRateLimit(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "198.51.100.7", gotClient)
	assert.Equal(t, models.AttemptTypeLogin, gotType)
}

func TestResetRateLimit_RejectsUnknownAttemptType(t *testing.T) {
	handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{},
		&handlers.MockAdminAccountService{}, &handlers.MockAdminAnomalyService{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/admin/rate-limits/reset", handlers.ResetRateLimitRequest{
		ClientIdentifier: "198.51.100.7",
		AttemptType:      "PASSWORD_RESET",
	})
	w := httptest.NewRecorder()

	handler.ResetRateLimit(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestUnlockAccount_Success(t *testing.T) {
	unlocked := false
	handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{},
		&handlers.MockAdminAccountService{
			UnlockAccountFunc: func(ctx context.Context, userID string) error {
				unlocked = true
				assert.Equal(t, "user-1", userID)
				return nil
			},
		}, &handlers.MockAdminAnomalyService{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/admin/users/user-1/unlock", nil)
	req = withURLParam(req, "id", "user-1")
	w := httptest.NewRecorder()

	handler.UnlockAccount(w, req)

	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.True(t, unlocked)
}

func TestUnlockAccount_NotFound(t *testing.T) {
	handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{},
		&handlers.MockAdminAccountService{
			UnlockAccountFunc: func(ctx context.Context, userID string) error {
				return models.ErrNotFound
			},
		}, &handlers.MockAdminAnomalyService{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/admin/users/ghost/unlock", nil)
	req = withURLParam(req, "id", "ghost")
	w := httptest.NewRecorder()

	handler.UnlockAccount(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestListLoginAttempts_DefaultsAndClampsLimit(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLimit int
	}{
		{"default", "", 50},
		{"explicit", "?limit=10", 10},
		{"over max", "?limit=500", 50},
		{"not a number", "?limit=abc", 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotLimit int
			handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{},
				&handlers.MockAdminAccountService{
					RecentAttemptsFunc: func(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
						gotLimit = limit
						return []*models.LoginAttempt{}, nil
					},
				}, &handlers.MockAdminAnomalyService{})

			req := httptest.NewRequest(http.MethodGet, "/admin/users/user-1/attempts"+tt.query, nil)
			req = withURLParam(req, "id", "user-1")
			w := httptest.NewRecorder()

			handler.ListLoginAttempts(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantLimit, gotLimit)
		})
	}
}

func TestListPendingAnomalies(t *testing.T) {
	detections := []*models.AnomalyDetection{
		{ID: "anom-1", UserID: "user-1", AnomalyType: models.AnomalyNewDevice, RiskScore: 85, CreatedAt: time.Now()},
	}

	handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{},
		&handlers.MockAdminAccountService{}, &handlers.MockAdminAnomalyService{
			ListPendingFunc: func(ctx context.Context, limit int) ([]*models.AnomalyDetection, error) {
				return detections, nil
			},
		})

	req := httptest.NewRequest(http.MethodGet, "/admin/anomalies", nil)
	w := httptest.NewRecorder()

	handler.ListPendingAnomalies(w, req)

	var resp []*models.AnomalyDetection
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Len(t, resp, 1)
	assert.Equal(t, "anom-1", resp[0].ID)
}

func TestListPendingAnomalies_FiltersByUser(t *testing.T) {
	var gotUserID string
	handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{},
		&handlers.MockAdminAccountService{}, &handlers.MockAdminAnomalyService{
			ListForUserFunc: func(ctx context.Context, userID string, limit int) ([]*models.AnomalyDetection, error) {
				gotUserID = userID
				return nil, nil
			},
		})

	req := httptest.NewRequest(http.MethodGet, "/admin/anomalies?userId=user-7", nil)
	w := httptest.NewRecorder()

	handler.ListPendingAnomalies(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-7", gotUserID)
}

func TestResolveAnomaly_Success(t *testing.T) {
	var gotStatus, gotBy string
	handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{},
		&handlers.MockAdminAccountService{}, &handlers.MockAdminAnomalyService{
			ResolveDetectionFunc: func(ctx context.Context, id, status, resolvedBy, notes string) error {
				assert.Equal(t, "anom-1", id)
				gotStatus, gotBy = status, resolvedBy
				return nil
			},
		})

	req := handlers.NewTestRequest(t, http.MethodPost, "/admin/anomalies/anom-1/resolve", handlers.ResolveAnomalyRequest{
		Status:     models.AnomalyStatusResolved,
		ResolvedBy: "ops@harborbank.example",
		Notes:      "Customer confirmed travel.",
	})
	req = withURLParam(req, "id", "anom-1")
	w := httptest.NewRecorder()

	handler.ResolveAnomaly(w, req)

	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.Equal(t, models.AnomalyStatusResolved, gotStatus)
	assert.Equal(t, "ops@harborbank.example", gotBy)
}

func TestResolveAnomaly_RejectsUnknownStatus(t *testing.T) {
	handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{},
		&handlers.MockAdminAccountService{}, &handlers.MockAdminAnomalyService{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/admin/anomalies/anom-1/resolve", handlers.ResolveAnomalyRequest{
		Status:     "shredded",
		ResolvedBy: "ops@harborbank.example",
	})
	req = withURLParam(req, "id", "anom-1")
	w := httptest.NewRecorder()

	handler.ResolveAnomaly(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestResolveAnomaly_NotFound(t *testing.T) {
	handler := handlers.NewAdminHandler(&handlers.MockAdminRateLimitService{},
		&handlers.MockAdminAccountService{}, &handlers.MockAdminAnomalyService{
			ResolveDetectionFunc: func(ctx context.Context, id, status, resolvedBy, notes string) error {
				return models.ErrNotFound
			},
		})

	req := handlers.NewTestRequest(t, http.MethodPost, "/admin/anomalies/ghost/resolve", handlers.ResolveAnomalyRequest{
		Status:     models.AnomalyStatusIgnored,
		ResolvedBy: "ops@harborbank.example",
	})
	req = withURLParam(req, "id", "ghost")
	w := httptest.NewRecorder()

	handler.ResolveAnomaly(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}
