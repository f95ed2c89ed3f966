package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/harborbank/gatekeeper/internal/models"
)

// RateLimitStore is the persistence surface the rate limiter needs. Apply
// must run its mutation under a row lock so concurrent attempts for the same
// (client, type) pair serialize.
type RateLimitStore interface {
	Apply(ctx context.Context, clientID, attemptType string, mutate func(*models.RateLimitEntry) error) (*models.RateLimitEntry, error)
	Get(ctx context.Context, clientID, attemptType string) (*models.RateLimitEntry, error)
	Reset(ctx context.Context, clientID, attemptType string) error
}

// RateLimitPolicy configures the rolling-window limiter and its escalating
// block backoff.
type RateLimitPolicy struct {
	Window            time.Duration
	MaxAttempts       map[string]int
	BaseBlockDuration time.Duration
	BlockMultiplier   float64
	MaxBlockDuration  time.Duration
}

// MaxFor returns the per-window attempt budget for an attempt type.
func (p RateLimitPolicy) MaxFor(attemptType string) int {
	if max, ok := p.MaxAttempts[attemptType]; ok {
		return max
	}
	return 10
}

// BlockDurationFor computes the escalating block length for the given number
// of completed prior violations: base * multiplier^violations, capped.
func (p RateLimitPolicy) BlockDurationFor(violations int) time.Duration {
	d := time.Duration(float64(p.BaseBlockDuration) * math.Pow(p.BlockMultiplier, float64(violations)))
	if d > p.MaxBlockDuration || d <= 0 {
		return p.MaxBlockDuration
	}
	return d
}

// RateLimitService enforces per-client attempt budgets over a rolling window.
// Counters are persistent, so limits survive restarts and apply across
// instances.
type RateLimitService struct {
	store  RateLimitStore
	policy RateLimitPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(store RateLimitStore, policy RateLimitPolicy, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// CanAttempt reports whether the client has budget for another attempt.
// When denied, retryAfter holds the time until the block lifts. Read-only:
// checking never consumes budget.
func (s *RateLimitService) CanAttempt(ctx context.Context, clientID, attemptType string) (bool, *time.Duration, error) {
	entry, err := s.store.Get(ctx, clientID, attemptType)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return true, nil, nil
		}
		return false, nil, err
	}

	now := s.now()
	if entry.BlockActive(now) {
		retryAfter := entry.BlockedUntil.Sub(now)
		return false, &retryAfter, nil
	}

	if entry.IsBlocked {
		// Lapsed block: the next RecordAttempt lifts it and restarts the
		// window, so the stale counters must not deny here.
		return true, nil, nil
	}

	if entry.WindowExpired(now, s.policy.Window) {
		return true, nil, nil
	}

	if entry.AttemptCount >= s.policy.MaxFor(attemptType) {
		// Budget spent but no block recorded yet; the next RecordAttempt
		// will start one. Report the would-be block length.
		retryAfter := s.policy.BlockDurationFor(entry.ViolationCount)
		return false, &retryAfter, nil
	}

	return true, nil, nil
}

// RecordAttempt consumes one unit of budget and records the outcome. It
// returns models.ErrRateLimited when the attempt lands inside an active
// block or pushes the window over its budget; the attempt is still counted.
func (s *RateLimitService) RecordAttempt(ctx context.Context, clientID, attemptType string, success bool) error {
	now := s.now()
	max := s.policy.MaxFor(attemptType)

	var limited bool
	_, err := s.store.Apply(ctx, clientID, attemptType, func(entry *models.RateLimitEntry) error {
		if entry.BlockActive(now) {
			limited = true
			return nil
		}

		if entry.IsBlocked && !entry.BlockActive(now) {
			// Block has lapsed; lift it but keep the violation count so
			// the next block escalates.
			entry.IsBlocked = false
			entry.BlockedUntil = nil
			entry.BlockReason = nil
			entry.AttemptCount = 0
			entry.SuccessCount = 0
			entry.FailureCount = 0
			entry.FirstAttemptAt = now
		}

		if entry.WindowExpired(now, s.policy.Window) {
			entry.AttemptCount = 0
			entry.SuccessCount = 0
			entry.FailureCount = 0
			entry.FirstAttemptAt = now
		}

		entry.AttemptCount++
		if success {
			entry.SuccessCount++
		} else {
			entry.FailureCount++
		}
		entry.LastAttemptAt = now

		if entry.AttemptCount > max {
			duration := s.policy.BlockDurationFor(entry.ViolationCount)
			until := now.Add(duration)
			reason := "attempt budget exceeded"
			entry.IsBlocked = true
			entry.BlockedUntil = &until
			entry.BlockReason = &reason
			entry.ViolationCount++
			limited = true
		}

		return nil
	})
	if err != nil {
		return err
	}

	if limited {
		s.logger.Warn("client rate limited",
			slog.String("client_id", clientID),
			slog.String("attempt_type", attemptType))
		return models.ErrRateLimited
	}
	return nil
}

// GetRemainingAttempts returns how many attempts are left in the current
// window. A missing entry or an expired window means the full budget.
func (s *RateLimitService) GetRemainingAttempts(ctx context.Context, clientID, attemptType string) (int, error) {
	max := s.policy.MaxFor(attemptType)

	entry, err := s.store.Get(ctx, clientID, attemptType)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return max, nil
		}
		return 0, err
	}

	now := s.now()
	if entry.BlockActive(now) {
		return 0, nil
	}
	if entry.WindowExpired(now, s.policy.Window) {
		return max, nil
	}
	return entry.Remaining(max), nil
}

// GetTimeUntilReset returns when the current window or block clears. Zero
// means the client is unrestricted right now.
func (s *RateLimitService) GetTimeUntilReset(ctx context.Context, clientID, attemptType string) (time.Duration, error) {
	entry, err := s.store.Get(ctx, clientID, attemptType)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	now := s.now()
	if entry.BlockActive(now) {
		return entry.BlockedUntil.Sub(now), nil
	}

	remaining := s.policy.Window - now.Sub(entry.FirstAttemptAt)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// ResetRateLimit clears all counters and any block for the client. Admin
// escalation path.
func (s *RateLimitService) ResetRateLimit(ctx context.Context, clientID, attemptType string) error {
	if err := s.store.Reset(ctx, clientID, attemptType); err != nil {
		return err
	}
	s.logger.Info("rate limit reset",
		slog.String("client_id", clientID),
		slog.String("attempt_type", attemptType))
	return nil
}
