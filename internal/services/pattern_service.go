package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/harborbank/gatekeeper/internal/models"
)

// PatternStore is the persistence surface for per-user login patterns.
type PatternStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.UserLoginPattern, error)
	Upsert(ctx context.Context, p *models.UserLoginPattern) error
	IncrementFailures(ctx context.Context, userID string) error
}

// PatternLimits caps the size of each typical-* set.
type PatternLimits struct {
	MaxIPs       int
	MaxLocations int
	MaxDevices   int
}

// Hour and day sets cover a bounded domain; cap generously so eviction only
// trims genuinely stale buckets.
const (
	maxTrackedHours = 24
	maxTrackedDays  = 7
)

// PatternService maintains each user's behavioral fingerprint. Update runs
// only after fully successful authentication so that attackers cannot
// poison a pattern with failed or blocked attempts.
type PatternService struct {
	store  PatternStore
	limits PatternLimits
	logger *slog.Logger
}

// NewPatternService creates a new PatternService
func NewPatternService(store PatternStore, limits PatternLimits, logger *slog.Logger) *PatternService {
	return &PatternService{
		store:  store,
		limits: limits,
		logger: logger,
	}
}

// Get returns the user's pattern, or nil when none exists yet.
func (s *PatternService) Get(ctx context.Context, userID string) (*models.UserLoginPattern, error) {
	pattern, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return pattern, nil
}

// Update folds one successful login into the user's pattern, creating it on
// the first success. Each set is bounded with oldest-seen eviction.
func (s *PatternService) Update(ctx context.Context, userID string, login LoginContext) error {
	pattern, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	now := login.At
	if pattern == nil {
		pattern = &models.UserLoginPattern{
			UserID:       userID,
			FirstLoginAt: now,
		}
	}

	pattern.TypicalIPs = models.AppendBounded(pattern.TypicalIPs, login.IPAddress, s.limits.MaxIPs)
	if login.Geo.Known {
		pattern.TypicalLocations = models.AppendBounded(pattern.TypicalLocations, login.Geo.Point(), s.limits.MaxLocations)
	}
	if login.Device.Fingerprint != "" {
		pattern.TypicalDevices = models.AppendBounded(pattern.TypicalDevices, login.Device.Fingerprint, s.limits.MaxDevices)
	}

	at := now.UTC()
	pattern.TypicalHours = models.AppendBounded(pattern.TypicalHours, at.Hour(), maxTrackedHours)
	pattern.TypicalDays = models.AppendBounded(pattern.TypicalDays, at.Weekday(), maxTrackedDays)

	pattern.TotalSuccessfulLogins++
	pattern.LastLoginAt = now

	if err := s.store.Upsert(ctx, pattern); err != nil {
		return err
	}

	s.logger.Debug("login pattern updated",
		slog.String("user_id", userID),
		slog.Int("total_logins", pattern.TotalSuccessfulLogins))
	return nil
}

// RecordFailure bumps the failure counter for users that already have a
// pattern. Failures never enter the typical sets.
func (s *PatternService) RecordFailure(ctx context.Context, userID string) {
	if err := s.store.IncrementFailures(ctx, userID); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to record pattern failure",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}
