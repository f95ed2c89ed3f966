package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harborbank/gatekeeper/internal/auth"
	"github.com/harborbank/gatekeeper/internal/models"
	pkgauth "github.com/harborbank/gatekeeper/pkg/auth"
	pkglogger "github.com/harborbank/gatekeeper/pkg/logger"
)

// UserStore is the persistence surface for account security state.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	RecordLoginFailure(ctx context.Context, id string, maxFailed int, lockout time.Duration) (failedCount int, lockedUntil *time.Time, err error)
	RecordLoginSuccess(ctx context.Context, id string) error
	LockPermanently(ctx context.Context, id, reason string) error
	Unlock(ctx context.Context, id string) error
	SetMfaOption(ctx context.Context, id, option string) error
	SetTotpSecret(ctx context.Context, id string, encrypted, nonce []byte) error
}

// AttemptStore records the immutable login audit trail.
type AttemptStore interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	GetLastSuccessful(ctx context.Context, userID string) (*models.LoginAttempt, error)
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

// LockoutPolicy configures the escalating account lockout.
type LockoutPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	AttemptRetention  time.Duration
}

// LoginInput is one login request plus its client context.
type LoginInput struct {
	Email          string
	Password       string
	RememberDevice bool
	IPAddress      string
	UserAgent      string
}

// LoginResult is the successful outcome of Login or CompleteMfaLogin.
// RequiresMfa=true means no session was issued yet; the caller must finish
// the step-up flow with the embedded MFA session.
type LoginResult struct {
	UserID         string
	Email          string
	FullName       string
	Token          string
	TokenExpiresAt time.Time
	RequiresMfa    bool
	MfaMethod      string
	MfaSessionID   string
	MfaExpiresAt   time.Time
	RiskScore      int
}

// AuthService orchestrates the login protocol: rate limiting, credential
// verification, risk scoring, step-up MFA, and session issuance.
type AuthService struct {
	users       UserStore
	attempts    AttemptStore
	rateLimiter *RateLimitService
	patterns    *PatternService
	anomalies   *AnomalyService
	otp         *OtpService
	sessions    *SessionService
	geo         GeoLookup
	totp        *auth.TOTPManager
	timing      *auth.TimingDelay
	notifier    SecurityNotifier
	lockout     LockoutPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserStore,
	attempts AttemptStore,
	rateLimiter *RateLimitService,
	patterns *PatternService,
	anomalies *AnomalyService,
	otp *OtpService,
	sessions *SessionService,
	geo GeoLookup,
	totp *auth.TOTPManager,
	timing *auth.TimingDelay,
	notifier SecurityNotifier,
	lockout LockoutPolicy,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		attempts:    attempts,
		rateLimiter: rateLimiter,
		patterns:    patterns,
		anomalies:   anomalies,
		otp:         otp,
		sessions:    sessions,
		geo:         geo,
		totp:        totp,
		timing:      timing,
		notifier:    notifier,
		lockout:     lockout,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Login runs the end-to-end login protocol. Every branch, including
// failures, lands in the rate limiter and the login_attempts audit trail.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	defer s.timing.Wait()

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, models.ErrInvalidCredentials
	}

	login := s.buildLoginContext(ctx, input.IPAddress, input.UserAgent)

	// Rate limit first so a blocked client learns nothing about the account.
	allowed, _, err := s.rateLimiter.CanAttempt(ctx, input.IPAddress, models.AttemptTypeLogin)
	if err != nil {
		s.logger.Error("rate limit check failed", slog.Any("error", err))
	} else if !allowed {
		s.finishAttempt(ctx, nil, email, login, false, models.FailureRateLimited, nil)
		return nil, models.ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.finishAttempt(ctx, nil, email, login, false, models.FailureInvalidCredentials, nil)
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.IsActive {
		s.finishAttempt(ctx, user, email, login, false, models.FailureAccountInactive, nil)
		return nil, models.ErrAccountInactive
	}

	if user.IsLocked(s.now()) {
		s.finishAttempt(ctx, user, email, login, false, models.FailureAccountLocked, nil)
		if user.LockedPermanently {
			return nil, models.ErrAccountLockedPermanently
		}
		return nil, models.ErrAccountLocked
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, input.Password); err != nil {
		return nil, s.handleBadPassword(ctx, user, email, login)
	}

	// Credential check passed: reset failure state before risk scoring so a
	// step-up that never completes still clears the counter.
	if err := s.users.RecordLoginSuccess(ctx, user.ID); err != nil {
		s.logger.Error("failed to record login success",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	pattern, err := s.patterns.Get(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to load login pattern",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	assessment := s.anomalies.Analyze(login, pattern)

	switch assessment.Action {
	case models.ActionLock:
		return nil, s.handleRiskLock(ctx, user, email, login, assessment)
	case models.ActionBlock:
		return nil, s.handleRiskBlock(ctx, user, email, login, assessment)
	}

	if assessment.Action == models.ActionStepUp || user.MfaOption != models.MfaOptionNone {
		return s.startStepUp(ctx, user, email, login, assessment)
	}

	return s.completeLogin(ctx, user, email, login, assessment, input.RememberDevice)
}

func (s *AuthService) handleBadPassword(ctx context.Context, user *models.User, email string, login LoginContext) error {
	failedCount, lockedUntil, err := s.users.RecordLoginFailure(ctx, user.ID, s.lockout.MaxFailedAttempts, s.lockout.LockoutDuration)
	if err != nil {
		s.logger.Error("failed to record login failure",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	s.patterns.RecordFailure(ctx, user.ID)

	if lockedUntil != nil {
		s.auditLogger.LogAccountLockout(user.ID, "failed login attempts exceeded", false)
		s.logger.Warn("account locked",
			slog.String("user_id", user.ID),
			slog.Int("failed_attempts", failedCount),
			slog.Time("locked_until", *lockedUntil))
	}

	s.finishAttempt(ctx, user, email, login, false, models.FailureInvalidCredentials, nil)
	return models.ErrInvalidCredentials
}

func (s *AuthService) handleRiskLock(ctx context.Context, user *models.User, email string, login LoginContext, assessment RiskAssessment) error {
	reason := describeAssessment(assessment)
	if err := s.users.LockPermanently(ctx, user.ID, reason); err != nil {
		s.logger.Error("failed to lock account",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}
	s.auditLogger.LogAccountLockout(user.ID, reason, true)

	attempt := s.finishAttempt(ctx, user, email, login, false, models.FailureRiskLocked, &assessment)
	s.flagAnomaly(ctx, attempt, user.ID, assessment)
	return models.ErrAccountLockedPermanently
}

func (s *AuthService) handleRiskBlock(ctx context.Context, user *models.User, email string, login LoginContext, assessment RiskAssessment) error {
	attempt := s.finishAttempt(ctx, user, email, login, false, models.FailureRiskBlocked, &assessment)
	s.flagAnomaly(ctx, attempt, user.ID, assessment)
	// Indistinguishable from a bad password so the caller cannot use the
	// block as a password oracle.
	return models.ErrInvalidCredentials
}

func (s *AuthService) startStepUp(ctx context.Context, user *models.User, email string, login LoginContext, assessment RiskAssessment) (*LoginResult, error) {
	method := user.MfaOption
	if method == models.MfaOptionNone {
		// Risk-triggered step-up for a user with no configured factor
		// falls back to email delivery.
		method = models.MfaOptionEmail
	}

	mfaSession, err := s.otp.IssueCode(ctx, user, method)
	if err != nil {
		if errors.Is(err, models.ErrMfaResendTooSoon) {
			return nil, err
		}
		s.logger.Error("failed to issue step-up code",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	attempt := s.recordAttempt(ctx, user, email, login, false, nil, &assessment, models.ActionStepUp)
	if assessment.IsAnomalous {
		s.flagAnomaly(ctx, attempt, user.ID, assessment)
	}
	s.recordRateLimit(ctx, login.IPAddress, models.AttemptTypeLogin, true)

	return &LoginResult{
		UserID:       user.ID,
		Email:        user.Email,
		FullName:     user.FullName,
		RequiresMfa:  true,
		MfaMethod:    method,
		MfaSessionID: mfaSession.ID,
		MfaExpiresAt: mfaSession.ExpiresAt,
		RiskScore:    assessment.RiskScore,
	}, nil
}

func (s *AuthService) completeLogin(ctx context.Context, user *models.User, email string, login LoginContext, assessment RiskAssessment, rememberDevice bool) (*LoginResult, error) {
	token, session, err := s.sessions.CreateSession(ctx, user, login, rememberDevice)
	if err != nil {
		s.logger.Error("failed to create session",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.warnConcurrentSessions(ctx, user, session.ID, login)

	if err := s.patterns.Update(ctx, user.ID, login); err != nil {
		s.logger.Error("failed to update login pattern",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	attempt := s.recordAttempt(ctx, user, email, login, true, nil, &assessment, models.ActionAllow)
	if assessment.IsAnomalous {
		s.flagAnomaly(ctx, attempt, user.ID, assessment)
	}
	s.recordRateLimit(ctx, login.IPAddress, models.AttemptTypeLogin, true)

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		Email:     email,
		IPAddress: login.IPAddress,
		Success:   true,
		RiskScore: assessment.RiskScore,
	})

	return &LoginResult{
		UserID:         user.ID,
		Email:          user.Email,
		FullName:       user.FullName,
		Token:          token,
		TokenExpiresAt: session.ExpiresAt,
		RiskScore:      assessment.RiskScore,
	}, nil
}

// SendMfaCode issues (or reissues) a step-up code for an in-progress login.
func (s *AuthService) SendMfaCode(ctx context.Context, email, method, ipAddress string) (*models.MfaSession, error) {
	defer s.timing.Wait()

	email = strings.ToLower(strings.TrimSpace(email))

	if err := s.recordRateLimit(ctx, ipAddress, models.AttemptTypeMfaResend, true); err != nil {
		return nil, models.ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMfaSessionNotFound
		}
		return nil, models.ErrInternalServer
	}
	if !user.IsActive || user.IsLocked(s.now()) {
		return nil, models.ErrMfaSessionNotFound
	}

	if method == "" {
		method = user.MfaOption
	}
	return s.otp.IssueCode(ctx, user, method)
}

// CompleteMfaLogin verifies a step-up code and, on success, issues the full
// session the original Login deferred.
func (s *AuthService) CompleteMfaLogin(ctx context.Context, sessionID, code, ipAddress, userAgent string, rememberDevice bool) (*LoginResult, *VerifyResult, error) {
	defer s.timing.Wait()

	if err := s.recordRateLimit(ctx, ipAddress, models.AttemptTypeMfaVerify, true); err != nil {
		return nil, nil, models.ErrRateLimited
	}

	verify, mfaSession, err := s.otp.VerifyCode(ctx, sessionID, code)
	if err != nil {
		return nil, nil, err
	}
	if !verify.Success {
		return nil, verify, nil
	}

	user, err := s.users.GetByID(ctx, mfaSession.UserID)
	if err != nil {
		return nil, verify, models.ErrInternalServer
	}

	login := s.buildLoginContext(ctx, ipAddress, userAgent)
	result, err := s.completeLogin(ctx, user, user.Email, login, RiskAssessment{}, rememberDevice)
	if err != nil {
		return nil, verify, err
	}
	return result, verify, nil
}

// EnrollAuthenticator generates and stores a TOTP secret for the user and
// returns the QR provisioning image as a data URL. The factor only becomes
// the login method after ConfirmAuthenticator proves possession.
func (s *AuthService) EnrollAuthenticator(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}

	encrypted, nonce, qrDataURL, err := s.totp.GenerateSecretWithQR(user.Email)
	if err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}

	if err := s.users.SetTotpSecret(ctx, userID, encrypted, nonce); err != nil {
		return "", err
	}

	s.logger.Info("authenticator enrollment started", slog.String("user_id", userID))
	return qrDataURL, nil
}

// ConfirmAuthenticator validates a first TOTP code and switches the user's
// MFA method to the authenticator.
func (s *AuthService) ConfirmAuthenticator(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasAuthenticator() {
		return models.ErrMfaNotConfigured
	}

	secret, err := s.totp.DecryptSecret(user.TotpSecretEncrypted, user.TotpSecretNonce)
	if err != nil {
		return fmt.Errorf("decrypt totp secret: %w", err)
	}

	valid, err := s.totp.ValidateCode(secret, code)
	if err != nil {
		return err
	}
	if !valid {
		return models.ErrMfaInvalidCode
	}

	if err := s.users.SetMfaOption(ctx, userID, models.MfaOptionAuthenticator); err != nil {
		return err
	}

	s.logger.Info("authenticator enrolled", slog.String("user_id", userID))
	return nil
}

// UnlockAccount clears a temporary or permanent lock and resets the failure
// counter. Admin escalation path.
func (s *AuthService) UnlockAccount(ctx context.Context, userID string) error {
	if err := s.users.Unlock(ctx, userID); err != nil {
		return err
	}
	s.auditLogger.LogSessionEvent("account_unlocked", userID, "", nil)
	return nil
}

// RecentAttempts returns the user's recent login audit trail.
func (s *AuthService) RecentAttempts(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	return s.attempts.ListRecentByUser(ctx, userID, limit)
}

// buildLoginContext assembles the observable facts of the attempt. Geo
// lookup failure degrades to an unknown location, never an error.
func (s *AuthService) buildLoginContext(ctx context.Context, ipAddress, userAgent string) LoginContext {
	login := LoginContext{
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Device:    ClassifyDevice(userAgent),
		At:        s.now(),
	}

	geo, err := s.geo.Lookup(ctx, ipAddress)
	if err != nil {
		s.logger.Warn("geo lookup failed", slog.Any("error", err))
		return login
	}
	login.Geo = geo
	return login
}

// finishAttempt records a terminal failed branch: the audit row plus the
// rate limiter debit.
func (s *AuthService) finishAttempt(ctx context.Context, user *models.User, email string, login LoginContext, success bool, failureReason string, assessment *RiskAssessment) *models.LoginAttempt {
	action := models.ActionAllow
	if assessment != nil {
		action = assessment.Action
	}
	attempt := s.recordAttempt(ctx, user, email, login, success, &failureReason, assessment, action)
	s.recordRateLimit(ctx, login.IPAddress, models.AttemptTypeLogin, success)

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        attemptUserID(user),
		Email:         email,
		IPAddress:     login.IPAddress,
		Success:       success,
		FailureReason: failureReason,
	})
	return attempt
}

func (s *AuthService) recordAttempt(ctx context.Context, user *models.User, email string, login LoginContext, success bool, failureReason *string, assessment *RiskAssessment, action models.ResponseAction) *models.LoginAttempt {
	attempt := &models.LoginAttempt{
		Email:             email,
		IPAddress:         login.IPAddress,
		UserAgent:         login.UserAgent,
		DeviceFingerprint: login.Device.Fingerprint,
		DeviceType:        login.Device.Type,
		DeviceOS:          login.Device.OS,
		DeviceBrowser:     login.Device.Browser,
		AttemptedAt:       login.At,
		Success:           success,
		FailureReason:     failureReason,
		ResponseAction:    action,
		ExpiresAt:         login.At.Add(s.lockout.AttemptRetention),
	}
	if user != nil {
		attempt.UserID = &user.ID
	}
	if login.Geo.Known {
		attempt.Country = &login.Geo.Country
		attempt.Region = &login.Geo.Region
		attempt.City = &login.Geo.City
		attempt.Latitude = &login.Geo.Latitude
		attempt.Longitude = &login.Geo.Longitude
	}
	if assessment != nil {
		attempt.IsAnomalous = assessment.IsAnomalous
		attempt.AnomalyReasons = assessment.Reasons
		attempt.RiskScore = assessment.RiskScore
	}

	if err := s.attempts.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}
	return attempt
}

func (s *AuthService) recordRateLimit(ctx context.Context, clientID, attemptType string, success bool) error {
	err := s.rateLimiter.RecordAttempt(ctx, clientID, attemptType, success)
	if err != nil && !errors.Is(err, models.ErrRateLimited) {
		s.logger.Error("failed to record rate limit attempt", slog.Any("error", err))
		return nil
	}
	return err
}

// warnConcurrentSessions runs the advisory fan-out check once the new session
// exists. It never affects the login outcome; alert delivery is async and
// best-effort. Runs before the attempt row is written so the last successful
// attempt still refers to the previous login.
func (s *AuthService) warnConcurrentSessions(ctx context.Context, user *models.User, sessionID string, login LoginContext) {
	suspicious, err := s.sessions.DetectSuspicious(ctx, user.ID)
	if err != nil {
		s.logger.Error("concurrent session check failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return
	}
	if !suspicious {
		return
	}

	details := map[string]string{"ip_address": login.IPAddress}
	if last, lastErr := s.attempts.GetLastSuccessful(ctx, user.ID); lastErr == nil && last.IPAddress != login.IPAddress {
		details["previous_ip"] = last.IPAddress
	}
	s.auditLogger.LogSessionEvent("concurrent_sessions_flagged", user.ID, sessionID, details)

	go s.dispatchSessionAlert(user.Email, login)
}

func (s *AuthService) dispatchSessionAlert(email string, login LoginContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	from := login.IPAddress
	if login.Geo.Known {
		from = login.Geo.Point().Label()
	}
	message := fmt.Sprintf("A new sign-in from %s joined several other active sessions on your account.", from)
	if err := s.notifier.SendSecurityAlert(ctx, email, "Multiple active sessions on your account", message); err != nil {
		s.logger.Error("failed to dispatch session alert", slog.Any("error", err))
	}
}

func (s *AuthService) flagAnomaly(ctx context.Context, attempt *models.LoginAttempt, userID string, assessment RiskAssessment) {
	if err := s.anomalies.Flag(ctx, attempt, userID, assessment); err != nil {
		s.logger.Error("failed to flag anomaly",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}

func attemptUserID(user *models.User) string {
	if user == nil {
		return ""
	}
	return user.ID
}
