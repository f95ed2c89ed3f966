package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harborbank/gatekeeper/internal/auth"
	"github.com/harborbank/gatekeeper/internal/background"
	"github.com/harborbank/gatekeeper/internal/config"
	"github.com/harborbank/gatekeeper/internal/database"
	"github.com/harborbank/gatekeeper/internal/handlers"
	middlewareCustom "github.com/harborbank/gatekeeper/internal/middleware"
	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/harborbank/gatekeeper/internal/repositories"
	"github.com/harborbank/gatekeeper/internal/routes"
	"github.com/harborbank/gatekeeper/internal/services"
	pkghttp "github.com/harborbank/gatekeeper/pkg/http"
	pkglogger "github.com/harborbank/gatekeeper/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Run migrations before opening the pool
	if cfg.Database.RunMigrations {
		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := database.Migrate(migrateCtx, cfg.Database.DSN()); err != nil {
			migrateCancel()
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
		migrateCancel()
		logger.Info("migrations applied")
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	rateLimitRepo := repositories.NewRateLimitRepository(db)
	patternRepo := repositories.NewLoginPatternRepository(db)
	anomalyRepo := repositories.NewAnomalyRepository(db)
	mfaRepo := repositories.NewMfaSessionRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Security notifier: SES when email delivery is enabled, logs otherwise
	var notifier services.SecurityNotifier
	if cfg.Email.Enabled {
		sesNotifier, err := services.NewAWSSESNotifier(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize SES notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	} else {
		notifier = services.NewLogOnlyNotifier(logger)
	}

	// Geo lookup: external provider when configured
	var geo services.GeoLookup = services.NoopGeoLookup{}
	if cfg.Geo.BaseURL != "" {
		geo = services.NewHTTPGeoLookup(cfg.Geo.BaseURL, cfg.Geo.Timeout)
	}

	// TOTP manager for the authenticator factor
	totpManager, err := auth.NewTOTPManager([]byte(cfg.Auth.TotpEncryptionKey), "HarborBank")
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Session.TokenTTL)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		JitterDelayMs: cfg.Auth.TimingDelayJitterMs,
	})

	// Initialize services
	rateLimitService := services.NewRateLimitService(rateLimitRepo, services.RateLimitPolicy{
		Window: cfg.RateLimit.Window,
		MaxAttempts: map[string]int{
			models.AttemptTypeLogin:     cfg.Auth.LoginMaxPerIP,
			models.AttemptTypeMfaVerify: cfg.Auth.LoginMaxPerIP,
			models.AttemptTypeMfaResend: cfg.Auth.LoginMaxPerIP / 2,
		},
		BaseBlockDuration: cfg.RateLimit.BaseBlockDuration,
		BlockMultiplier:   cfg.RateLimit.BlockMultiplier,
		MaxBlockDuration:  cfg.RateLimit.MaxBlockDuration,
	}, logger)

	patternService := services.NewPatternService(patternRepo, services.PatternLimits{
		MaxIPs:       cfg.Risk.MaxTrackedIPs,
		MaxLocations: cfg.Risk.MaxTrackedPlaces,
		MaxDevices:   cfg.Risk.MaxTrackedDevices,
	}, logger)

	anomalyService := services.NewAnomalyService(anomalyRepo, notifier, services.RiskPolicy{
		FlagThreshold:     cfg.Risk.FlagThreshold,
		StepUpThreshold:   cfg.Risk.StepUpThreshold,
		BlockThreshold:    cfg.Risk.BlockThreshold,
		LockThreshold:     cfg.Risk.LockThreshold,
		NearDistanceKm:    cfg.Risk.NearDistanceKm,
		FarDistanceKm:     cfg.Risk.FarDistanceKm,
		MaxTravelSpeedKmh: cfg.Risk.MaxTravelSpeedKmh,
		UnknownGeoScore:   cfg.Risk.UnknownGeoScore,
		LocationWeight:    cfg.Risk.LocationWeight,
		DeviceWeight:      cfg.Risk.DeviceWeight,
		TimeWeight:        cfg.Risk.TimeWeight,
	}, logger, auditLogger)

	otpService := services.NewOtpService(mfaRepo, userRepo, totpManager, notifier, services.OtpPolicy{
		CodeLength:     cfg.Otp.CodeLength,
		TTL:            cfg.Otp.TTL,
		MaxAttempts:    cfg.Otp.MaxAttempts,
		ResendCooldown: cfg.Otp.ResendCooldown,
	}, logger, auditLogger)

	sessionService := services.NewSessionService(sessionRepo, tokenManager, services.SessionPolicy{
		TokenTTL:          cfg.Session.TokenTTL,
		InactivityTimeout: cfg.Session.InactivityTimeout,
		SuspiciousFanOut:  cfg.Session.SuspiciousFanOut,
		SuspiciousWindow:  cfg.Session.SuspiciousWindow,
	}, logger, auditLogger)

	authService := services.NewAuthService(
		userRepo, attemptRepo, rateLimitService, patternService, anomalyService,
		otpService, sessionService, geo, totpManager, timingDelay, notifier,
		services.LockoutPolicy{
			MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
			LockoutDuration:   cfg.Auth.LockoutDuration,
			AttemptRetention:  cfg.Auth.AttemptRetention,
		},
		logger, auditLogger,
	)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(attemptRepo, mfaRepo, rateLimitRepo, sessionService, logger, cfg.Auth.CleanupInterval)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	mfaHandler := handlers.NewMfaHandler(&mfaFacade{auth: authService, otp: otpService}, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	adminHandler := handlers.NewAdminHandler(rateLimitService, authService, anomalyService)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, mfaHandler, sessionHandler, adminHandler, sessionService, cfg.Auth.AdminAPIToken)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// mfaFacade satisfies the MFA handler contract by composing the
// orchestrator's step-up operations with the OTP manager's resend query.
type mfaFacade struct {
	auth *services.AuthService
	otp  *services.OtpService
}

func (f *mfaFacade) SendMfaCode(ctx context.Context, email, method, ipAddress string) (*models.MfaSession, error) {
	return f.auth.SendMfaCode(ctx, email, method, ipAddress)
}

func (f *mfaFacade) CompleteMfaLogin(ctx context.Context, sessionID, code, ipAddress, userAgent string, rememberDevice bool) (*services.LoginResult, *services.VerifyResult, error) {
	return f.auth.CompleteMfaLogin(ctx, sessionID, code, ipAddress, userAgent, rememberDevice)
}

func (f *mfaFacade) CanResend(ctx context.Context, sessionID string) (bool, time.Time, error) {
	return f.otp.CanResend(ctx, sessionID)
}

func (f *mfaFacade) EnrollAuthenticator(ctx context.Context, userID string) (string, error) {
	return f.auth.EnrollAuthenticator(ctx, userID)
}

func (f *mfaFacade) ConfirmAuthenticator(ctx context.Context, userID, code string) error {
	return f.auth.ConfirmAuthenticator(ctx, userID, code)
}
