package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/harborbank/gatekeeper/internal/auth"
	"github.com/harborbank/gatekeeper/internal/models"
	pkglogger "github.com/harborbank/gatekeeper/pkg/logger"
)

// MfaSessionStore is the persistence surface for step-up sessions.
type MfaSessionStore interface {
	Create(ctx context.Context, s *models.MfaSession) error
	GetByID(ctx context.Context, id string) (*models.MfaSession, error)
	GetLatestForUser(ctx context.Context, userID, email string) (*models.MfaSession, error)
	InvalidatePending(ctx context.Context, userID, email string) (int64, error)
	IncrementAttempts(ctx context.Context, id string) (attemptCount int, blocked bool, err error)
	MarkUsed(ctx context.Context, id string) error
}

// OtpUserReader loads the user data the authenticator path needs.
type OtpUserReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// OtpPolicy configures code generation and per-session limits.
type OtpPolicy struct {
	CodeLength     int
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

// VerifyResult reports the outcome of one verification attempt.
type VerifyResult struct {
	Success           bool
	RemainingAttempts int
	Blocked           bool
}

// OtpService manages step-up verification: short-lived one-time codes for
// sms/email delivery and TOTP validation for enrolled authenticators. Only
// bcrypt hashes of delivered codes are stored.
type OtpService struct {
	store       MfaSessionStore
	users       OtpUserReader
	totp        *auth.TOTPManager
	notifier    SecurityNotifier
	policy      OtpPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewOtpService creates a new OtpService
func NewOtpService(store MfaSessionStore, users OtpUserReader, totp *auth.TOTPManager, notifier SecurityNotifier, policy OtpPolicy, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *OtpService {
	return &OtpService{
		store:       store,
		users:       users,
		totp:        totp,
		notifier:    notifier,
		policy:      policy,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// IssueCode starts a step-up session for the user. Any prior pending session
// is invalidated, so exactly one session can succeed at a time. For the
// authenticator method no code is generated or delivered; the session only
// tracks attempts against the enrolled TOTP secret.
func (s *OtpService) IssueCode(ctx context.Context, user *models.User, method string) (*models.MfaSession, error) {
	switch method {
	case models.MfaOptionSms, models.MfaOptionEmail:
	case models.MfaOptionAuthenticator:
		if !user.HasAuthenticator() {
			return nil, models.ErrMfaNotConfigured
		}
	default:
		return nil, models.ErrMfaNotConfigured
	}

	if err := s.enforceResendCooldown(ctx, user); err != nil {
		return nil, err
	}

	if _, err := s.store.InvalidatePending(ctx, user.ID, user.Email); err != nil {
		return nil, fmt.Errorf("invalidate pending mfa sessions: %w", err)
	}

	now := s.now()
	session := &models.MfaSession{
		UserID:      user.ID,
		Email:       user.Email,
		Method:      method,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.policy.TTL),
		LastSentAt:  now,
		MaxAttempts: s.policy.MaxAttempts,
	}

	var code string
	if method != models.MfaOptionAuthenticator {
		var err error
		code, err = generateNumericCode(s.policy.CodeLength)
		if err != nil {
			return nil, fmt.Errorf("generate verification code: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash verification code: %w", err)
		}
		session.CodeHash = string(hash)
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create mfa session: %w", err)
	}

	if code != "" {
		go s.deliverCode(user.Email, code)
	}

	s.logger.Info("step-up session issued",
		slog.String("user_id", user.ID),
		slog.String("method", method),
		slog.String("session_id", session.ID))

	return session, nil
}

func (s *OtpService) enforceResendCooldown(ctx context.Context, user *models.User) error {
	latest, err := s.store.GetLatestForUser(ctx, user.ID, user.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if s.now().Sub(latest.LastSentAt) < s.policy.ResendCooldown {
		return models.ErrMfaResendTooSoon
	}
	return nil
}

// CanResend reports whether the cooldown since the session's last dispatch
// has elapsed, and when the next resend becomes possible.
func (s *OtpService) CanResend(ctx context.Context, sessionID string) (bool, time.Time, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, time.Time{}, models.ErrMfaSessionNotFound
		}
		return false, time.Time{}, err
	}

	nextAt := session.LastSentAt.Add(s.policy.ResendCooldown)
	return !s.now().Before(nextAt), nextAt, nil
}

// VerifyCode checks one code against the session. Terminal states win over
// code correctness: an expired, used, or blocked session fails even when the
// supplied code is right. A wrong code consumes one attempt and blocks the
// session at the limit.
func (s *OtpService) VerifyCode(ctx context.Context, sessionID, code string) (*VerifyResult, *models.MfaSession, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrMfaSessionNotFound
		}
		return nil, nil, err
	}

	if session.IsExpired(s.now()) {
		return nil, session, models.ErrMfaExpired
	}
	if session.IsUsed {
		return nil, session, models.ErrMfaSessionUsed
	}
	if session.IsBlocked {
		return nil, session, models.ErrMfaBlocked
	}

	match, err := s.codeMatches(ctx, session, code)
	if err != nil {
		return nil, session, err
	}

	if !match {
		attempts, blocked, err := s.store.IncrementAttempts(ctx, sessionID)
		if err != nil {
			return nil, session, err
		}
		session.AttemptCount = attempts
		session.IsBlocked = blocked

		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_verify_failed",
			UserID:        session.UserID,
			Email:         session.Email,
			Success:       false,
			FailureReason: "invalid_code",
		})

		return &VerifyResult{
			Success:           false,
			RemainingAttempts: session.RemainingAttempts(),
			Blocked:           blocked,
		}, session, nil
	}

	if err := s.store.MarkUsed(ctx, sessionID); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, session, models.ErrMfaSessionUsed
		}
		return nil, session, err
	}
	session.IsUsed = true

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "mfa_verify_success",
		UserID:    session.UserID,
		Email:     session.Email,
		Success:   true,
	})

	return &VerifyResult{
		Success:           true,
		RemainingAttempts: session.RemainingAttempts(),
	}, session, nil
}

func (s *OtpService) codeMatches(ctx context.Context, session *models.MfaSession, code string) (bool, error) {
	if session.Method == models.MfaOptionAuthenticator {
		user, err := s.users.GetByID(ctx, session.UserID)
		if err != nil {
			return false, err
		}
		if !user.HasAuthenticator() {
			return false, models.ErrMfaNotConfigured
		}
		secret, err := s.totp.DecryptSecret(user.TotpSecretEncrypted, user.TotpSecretNonce)
		if err != nil {
			return false, fmt.Errorf("decrypt totp secret: %w", err)
		}
		return s.totp.ValidateCode(secret, code)
	}

	err := bcrypt.CompareHashAndPassword([]byte(session.CodeHash), []byte(code))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *OtpService) deliverCode(email, code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ttlMinutes := int(s.policy.TTL / time.Minute)
	if err := s.notifier.SendVerificationCode(ctx, email, code, ttlMinutes); err != nil {
		s.logger.Error("failed to deliver verification code", slog.Any("error", err))
	}
}

// generateNumericCode returns a uniformly random numeric code of the given
// length from crypto/rand.
func generateNumericCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits), nil
}
