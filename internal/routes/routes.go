package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/harborbank/gatekeeper/internal/auth"
	"github.com/harborbank/gatekeeper/internal/handlers"
	"github.com/harborbank/gatekeeper/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MfaHandler,
	sessionHandler *handlers.SessionHandler,
	adminHandler *handlers.AdminHandler,
	sessionValidator auth.SessionValidator,
	adminToken string,
) {
	// Coarse per-IP limits in front of the domain rate limiter.
	authRateLimit := middleware.DefaultAuthRateLimit()
	mfaRateLimit := middleware.DefaultMfaRateLimit()

	// Public routes - no session required
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(mfaRateLimit)).Post("/auth/mfa/send-code", mfaHandler.SendCode)
	router.With(middleware.RateLimitByIP(mfaRateLimit)).Post("/auth/mfa/verify-code", mfaHandler.VerifyCode)

	// Token-presenting but self-reporting: answers 200 with the state.
	router.Get("/auth/session/validate", sessionHandler.Validate)

	// Protected routes - live session required
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(sessionValidator))

		r.Post("/auth/session/heartbeat", sessionHandler.Heartbeat)
		r.Post("/auth/logout", sessionHandler.Logout)
		r.Post("/auth/logout-all", sessionHandler.LogoutAll)
		r.Get("/auth/sessions", sessionHandler.ListSessions)

		r.Post("/auth/mfa/enroll-authenticator", mfaHandler.EnrollAuthenticator)
		r.Post("/auth/mfa/confirm-authenticator", mfaHandler.ConfirmAuthenticator)
	})

	// Admin routes - operator token required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(adminToken))

		r.Post("/admin/rate-limits/reset", adminHandler.ResetRateLimit)
		r.Post("/admin/users/{id}/unlock", adminHandler.UnlockAccount)
		r.Get("/admin/users/{id}/attempts", adminHandler.ListLoginAttempts)
		r.Get("/admin/anomalies", adminHandler.ListPendingAnomalies)
		r.Post("/admin/anomalies/{id}/resolve", adminHandler.ResolveAnomaly)
	})
}
