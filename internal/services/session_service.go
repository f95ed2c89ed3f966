package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/gatekeeper/internal/auth"
	"github.com/harborbank/gatekeeper/internal/models"
	pkglogger "github.com/harborbank/gatekeeper/pkg/logger"
)

// SessionStore is the persistence surface for device sessions.
type SessionStore interface {
	Create(ctx context.Context, s *models.UserSession) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.UserSession, error)
	UpdateActivity(ctx context.Context, tokenHash string) (bool, error)
	Revoke(ctx context.Context, tokenHash, reason string) error
	RevokeAllExcept(ctx context.Context, userID, keepID, reason string) (int64, error)
	ListActive(ctx context.Context, userID string) ([]*models.UserSession, error)
	DeleteExpired(ctx context.Context, revokedBefore time.Time) (int64, error)
}

// SessionPolicy configures session lifetimes and the suspicious-session
// heuristic.
type SessionPolicy struct {
	TokenTTL          time.Duration
	InactivityTimeout time.Duration
	SuspiciousFanOut  int
	SuspiciousWindow  time.Duration
}

// SessionService issues and validates bearer sessions. The JWT's jti is the
// session ID; the database row, keyed by the SHA-256 of that ID, is the
// authority for revocation and inactivity, so a structurally valid token is
// worthless once its row is revoked.
type SessionService struct {
	store       SessionStore
	tm          *auth.TokenManager
	policy      SessionPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(store SessionStore, tm *auth.TokenManager, policy SessionPolicy, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *SessionService {
	return &SessionService{
		store:       store,
		tm:          tm,
		policy:      policy,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// CreateSession mints a bearer token and persists the backing session row.
func (s *SessionService) CreateSession(ctx context.Context, user *models.User, login LoginContext, trustedDevice bool) (string, *models.UserSession, error) {
	sessionID := uuid.New().String()

	token, expiresAt, err := s.tm.GenerateSessionToken(sessionID, user.ID, user.Email)
	if err != nil {
		return "", nil, fmt.Errorf("generate session token: %w", err)
	}

	var location *string
	if login.Geo.Known {
		label := login.Geo.Point().Label()
		location = &label
	}

	session := &models.UserSession{
		ID:                       sessionID,
		UserID:                   user.ID,
		TokenHash:                auth.HashSessionID(sessionID),
		IPAddress:                login.IPAddress,
		UserAgent:                login.UserAgent,
		DeviceFingerprint:        login.Device.Fingerprint,
		Location:                 location,
		CreatedAt:                login.At,
		ExpiresAt:                expiresAt,
		LastActivityAt:           login.At,
		IsTrustedDevice:          trustedDevice,
		InactivityTimeoutMinutes: int(s.policy.InactivityTimeout / time.Minute),
	}

	if err := s.store.Create(ctx, session); err != nil {
		return "", nil, fmt.Errorf("persist session: %w", err)
	}

	s.auditLogger.LogSessionEvent("session_created", user.ID, sessionID, map[string]string{"ip_address": login.IPAddress})
	return token, session, nil
}

// Validate resolves a bearer token to its live session. Inactivity is
// enforced lazily: a timed-out session is revoked here with reason
// "inactivity" and reported as expired.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.UserSession, error) {
	claims, err := s.tm.ValidateToken(token)
	if err != nil {
		return nil, models.ErrSessionNotFound
	}

	session, err := s.store.GetByTokenHash(ctx, auth.HashSessionID(claims.ID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}

	now := s.now()
	switch {
	case session.IsRevoked:
		return session, models.ErrSessionRevoked
	case now.After(session.ExpiresAt):
		return session, models.ErrSessionExpired
	case session.InactiveAt(now):
		if err := s.store.Revoke(ctx, session.TokenHash, models.RevokeReasonInactivity); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to revoke inactive session",
				slog.String("session_id", session.ID),
				slog.Any("error", err))
		}
		s.auditLogger.LogSessionEvent("session_inactivity_timeout", session.UserID, session.ID, nil)
		return session, models.ErrSessionExpired
	}

	return session, nil
}

// UpdateActivity is the heartbeat: it validates the token and refreshes
// last_activity_at. Returns false when the session is no longer live.
func (s *SessionService) UpdateActivity(ctx context.Context, token string) (bool, error) {
	session, err := s.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) ||
			errors.Is(err, models.ErrSessionExpired) ||
			errors.Is(err, models.ErrSessionRevoked) {
			return false, nil
		}
		return false, err
	}

	return s.store.UpdateActivity(ctx, session.TokenHash)
}

// Revoke terminates the session behind the token.
func (s *SessionService) Revoke(ctx context.Context, token, reason string) error {
	claims, err := s.tm.ValidateToken(token)
	if err != nil {
		return models.ErrSessionNotFound
	}

	tokenHash := auth.HashSessionID(claims.ID)
	if err := s.store.Revoke(ctx, tokenHash, reason); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionNotFound
		}
		return err
	}

	s.auditLogger.LogSessionEvent("session_revoked", claims.UserID, claims.ID, map[string]string{"reason": reason})
	return nil
}

// RevokeAllOthers terminates every live session for the user except the one
// behind keepToken, returning how many were revoked. An empty keepToken
// revokes everything.
func (s *SessionService) RevokeAllOthers(ctx context.Context, userID, keepToken string) (int64, error) {
	keepID := ""
	if keepToken != "" {
		claims, err := s.tm.ValidateToken(keepToken)
		if err != nil {
			return 0, models.ErrSessionNotFound
		}
		keepID = claims.ID
	}

	count, err := s.store.RevokeAllExcept(ctx, userID, keepID, models.RevokeReasonLogoutAll)
	if err != nil {
		return 0, err
	}

	s.logger.Info("sessions revoked",
		slog.String("user_id", userID),
		slog.Int64("count", count))
	s.auditLogger.LogSessionEvent("sessions_revoked_all", userID, keepID, nil)
	return count, nil
}

// ListActive returns the user's live sessions, filtering out any that have
// gone inactive since their last heartbeat.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]*models.UserSession, error) {
	sessions, err := s.store.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	live := make([]*models.UserSession, 0, len(sessions))
	for _, session := range sessions {
		if session.ActiveAt(now) {
			live = append(live, session)
		}
	}
	return live, nil
}

// DetectSuspicious reports whether the user's recently active sessions span
// more distinct devices or locations than the fan-out threshold. Advisory
// only; it never revokes anything.
func (s *SessionService) DetectSuspicious(ctx context.Context, userID string) (bool, error) {
	sessions, err := s.store.ListActive(ctx, userID)
	if err != nil {
		return false, err
	}

	now := s.now()
	cutoff := now.Add(-s.policy.SuspiciousWindow)
	devices := make(map[string]struct{})
	locations := make(map[string]struct{})

	for _, session := range sessions {
		if !session.ActiveAt(now) || session.LastActivityAt.Before(cutoff) {
			continue
		}
		if session.DeviceFingerprint != "" {
			devices[session.DeviceFingerprint] = struct{}{}
		}
		if session.Location != nil {
			locations[*session.Location] = struct{}{}
		}
	}

	suspicious := len(devices) > s.policy.SuspiciousFanOut || len(locations) > s.policy.SuspiciousFanOut
	if suspicious {
		s.logger.Warn("suspicious concurrent sessions",
			slog.String("user_id", userID),
			slog.Int("distinct_devices", len(devices)),
			slog.Int("distinct_locations", len(locations)))
	}
	return suspicious, nil
}

// Cleanup sweeps expired and long-revoked sessions. Correctness does not
// depend on it; Validate enforces expiry lazily.
func (s *SessionService) Cleanup(ctx context.Context, revokedRetention time.Duration) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now().Add(-revokedRetention))
}
