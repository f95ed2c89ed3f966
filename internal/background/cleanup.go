package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/harborbank/gatekeeper/internal/repositories"
	"github.com/harborbank/gatekeeper/internal/services"
)

// CleanupManager periodically sweeps rows the request path only expires
// lazily: finished sessions, terminal MFA challenges, stale rate-limit
// entries, and login attempts past their retention. Every sweep is
// idempotent; correctness never depends on it running.
type CleanupManager struct {
	attemptRepo   *repositories.LoginAttemptRepository
	mfaRepo       *repositories.MfaSessionRepository
	rateLimitRepo *repositories.RateLimitRepository
	sessions      *services.SessionService

	logger   *slog.Logger
	interval time.Duration

	// rows older than these horizons are deleted
	rateLimitRetention time.Duration
	revokedRetention   time.Duration

	stopCh chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	attemptRepo *repositories.LoginAttemptRepository,
	mfaRepo *repositories.MfaSessionRepository,
	rateLimitRepo *repositories.RateLimitRepository,
	sessions *services.SessionService,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		attemptRepo:        attemptRepo,
		mfaRepo:            mfaRepo,
		rateLimitRepo:      rateLimitRepo,
		sessions:           sessions,
		logger:             logger,
		interval:           interval,
		rateLimitRetention: 7 * 24 * time.Hour,
		revokedRetention:   30 * 24 * time.Hour,
		stopCh:             make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cm.sweep(cleanupCtx, "login_attempts", func(c context.Context) (int64, error) {
		return cm.attemptRepo.DeleteExpired(c)
	})
	cm.sweep(cleanupCtx, "mfa_sessions", func(c context.Context) (int64, error) {
		return cm.mfaRepo.DeleteExpired(c)
	})
	cm.sweep(cleanupCtx, "rate_limit_entries", func(c context.Context) (int64, error) {
		return cm.rateLimitRepo.DeleteStale(c, time.Now().Add(-cm.rateLimitRetention))
	})
	cm.sweep(cleanupCtx, "user_sessions", func(c context.Context) (int64, error) {
		return cm.sessions.Cleanup(c, cm.revokedRetention)
	})
}

func (cm *CleanupManager) sweep(ctx context.Context, table string, fn func(context.Context) (int64, error)) {
	rowsDeleted, err := fn(ctx)
	if err != nil {
		cm.logger.Error("cleanup sweep failed",
			slog.String("table", table),
			slog.Any("error", err))
		return
	}
	if rowsDeleted > 0 {
		cm.logger.Info("cleanup sweep completed",
			slog.String("table", table),
			slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
