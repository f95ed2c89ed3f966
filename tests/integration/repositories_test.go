package integration

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborbank/gatekeeper/internal/models"
	"github.com/harborbank/gatekeeper/internal/repositories"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		// Container-backed tests need a Docker daemon.
		os.Exit(0)
	}

	ctx := context.Background()
	db, err := SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration setup failed: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func resetTables(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))
	return ctx
}

func TestUserRepository_LockoutLifecycle(t *testing.T) {
	ctx := resetTables(t)
	repo := repositories.NewUserRepository(testDB.DB)

	email, password := TestUser("lockout")
	user, err := SeedUser(ctx, testDB.DB, email, password, models.MfaOptionNone)
	require.NoError(t, err)

	// Failures below the threshold count but do not lock.
	for i := 1; i <= 4; i++ {
		count, lockedUntil, err := repo.RecordLoginFailure(ctx, user.ID, 5, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.Nil(t, lockedUntil)
	}

	count, lockedUntil, err := repo.RecordLoginFailure(ctx, user.ID, 5, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	require.NotNil(t, lockedUntil)
	assert.True(t, lockedUntil.After(time.Now()))

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.True(t, got.IsLocked(time.Now()))

	// A successful login clears the counters and the lock.
	require.NoError(t, repo.RecordLoginSuccess(ctx, user.ID))
	got, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLoginAttempts)
	assert.Nil(t, got.AccountLockedUntil)
	assert.NotNil(t, got.LastLoginAt)

	require.NoError(t, repo.LockPermanently(ctx, user.ID, "impossible travel"))
	got, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.LockedPermanently)
	require.NotNil(t, got.LockReason)

	require.NoError(t, repo.Unlock(ctx, user.ID))
	got, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.LockedPermanently)
	assert.False(t, got.IsLocked(time.Now()))
}

func TestUserRepository_UnknownEmail(t *testing.T) {
	ctx := resetTables(t)
	repo := repositories.NewUserRepository(testDB.DB)

	_, err := repo.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRateLimitRepository_ApplyAndReset(t *testing.T) {
	ctx := resetTables(t)
	repo := repositories.NewRateLimitRepository(testDB.DB)

	for i := 0; i < 3; i++ {
		_, err := repo.Apply(ctx, "198.51.100.7", models.AttemptTypeLogin, func(e *models.RateLimitEntry) error {
			e.AttemptCount++
			e.FailureCount++
			return nil
		})
		require.NoError(t, err)
	}

	entry, err := repo.Get(ctx, "198.51.100.7", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.Equal(t, 3, entry.AttemptCount)
	assert.Equal(t, 3, entry.FailureCount)

	// Different attempt types keep independent counters.
	_, err = repo.Get(ctx, "198.51.100.7", models.AttemptTypeMfaVerify)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, repo.Reset(ctx, "198.51.100.7", models.AttemptTypeLogin))
	_, err = repo.Get(ctx, "198.51.100.7", models.AttemptTypeLogin)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	ctx := resetTables(t)
	repo := repositories.NewSessionRepository(testDB.DB)

	email, password := TestUser("sessions")
	user, err := SeedUser(ctx, testDB.DB, email, password, models.MfaOptionNone)
	require.NoError(t, err)

	mkSession := func(tokenHash string) *models.UserSession {
		return &models.UserSession{
			ID:                       uuid.New().String(),
			UserID:                   user.ID,
			TokenHash:                tokenHash,
			IPAddress:                "198.51.100.7",
			UserAgent:                "integration-agent",
			ExpiresAt:                time.Now().Add(12 * time.Hour),
			InactivityTimeoutMinutes: 30,
		}
	}

	current := mkSession("hash-current")
	other := mkSession("hash-other")
	require.NoError(t, repo.Create(ctx, current))
	require.NoError(t, repo.Create(ctx, other))

	got, err := repo.GetByTokenHash(ctx, "hash-current")
	require.NoError(t, err)
	assert.Equal(t, current.ID, got.ID)
	assert.False(t, got.IsRevoked)

	alive, err := repo.UpdateActivity(ctx, "hash-current")
	require.NoError(t, err)
	assert.True(t, alive)

	active, err := repo.ListActive(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	revoked, err := repo.RevokeAllExcept(ctx, user.ID, current.ID, models.RevokeReasonLogoutAll)
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)

	got, err = repo.GetByTokenHash(ctx, "hash-other")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)
	require.NotNil(t, got.RevokeReason)
	assert.Equal(t, models.RevokeReasonLogoutAll, *got.RevokeReason)

	// Revoked sessions no longer accept activity updates.
	alive, err = repo.UpdateActivity(ctx, "hash-other")
	require.NoError(t, err)
	assert.False(t, alive)

	require.NoError(t, repo.Revoke(ctx, "hash-current", models.RevokeReasonLogout))
	assert.ErrorIs(t, repo.Revoke(ctx, "hash-current", models.RevokeReasonLogout), models.ErrNotFound)

	active, err = repo.ListActive(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMfaSessionRepository_AttemptExhaustion(t *testing.T) {
	ctx := resetTables(t)
	repo := repositories.NewMfaSessionRepository(testDB.DB)

	email, password := TestUser("mfa")
	user, err := SeedUser(ctx, testDB.DB, email, password, models.MfaOptionEmail)
	require.NoError(t, err)

	session := &models.MfaSession{
		UserID:      user.ID,
		Email:       user.Email,
		CodeHash:    "bcrypt-hash",
		Method:      models.MfaOptionEmail,
		ExpiresAt:   time.Now().Add(5 * time.Minute),
		MaxAttempts: 3,
	}
	require.NoError(t, repo.Create(ctx, session))
	require.NotEmpty(t, session.ID)

	for i := 1; i <= 2; i++ {
		count, blocked, err := repo.IncrementAttempts(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.False(t, blocked)
	}

	count, blocked, err := repo.IncrementAttempts(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.True(t, blocked)

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBlocked)
	assert.Equal(t, 0, got.RemainingAttempts())
}

func TestMfaSessionRepository_ReissueInvalidatesPending(t *testing.T) {
	ctx := resetTables(t)
	repo := repositories.NewMfaSessionRepository(testDB.DB)

	email, password := TestUser("reissue")
	user, err := SeedUser(ctx, testDB.DB, email, password, models.MfaOptionEmail)
	require.NoError(t, err)

	first := &models.MfaSession{
		UserID:      user.ID,
		Email:       user.Email,
		CodeHash:    "hash-1",
		Method:      models.MfaOptionEmail,
		ExpiresAt:   time.Now().Add(5 * time.Minute),
		MaxAttempts: 3,
	}
	require.NoError(t, repo.Create(ctx, first))

	invalidated, err := repo.InvalidatePending(ctx, user.ID, user.Email)
	require.NoError(t, err)
	assert.Equal(t, int64(1), invalidated)

	second := &models.MfaSession{
		UserID:      user.ID,
		Email:       user.Email,
		CodeHash:    "hash-2",
		Method:      models.MfaOptionEmail,
		ExpiresAt:   time.Now().Add(5 * time.Minute),
		MaxAttempts: 3,
	}
	require.NoError(t, repo.Create(ctx, second))

	latest, err := repo.GetLatestForUser(ctx, user.ID, user.Email)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	require.NoError(t, repo.MarkUsed(ctx, second.ID))
	assert.ErrorIs(t, repo.MarkUsed(ctx, second.ID), models.ErrNotFound)
}

func TestAnomalyRepository_ReviewFlow(t *testing.T) {
	ctx := resetTables(t)
	attempts := repositories.NewLoginAttemptRepository(testDB.DB)
	anomalies := repositories.NewAnomalyRepository(testDB.DB)

	email, password := TestUser("anomaly")
	user, err := SeedUser(ctx, testDB.DB, email, password, models.MfaOptionNone)
	require.NoError(t, err)

	reason := models.FailureRiskLocked
	attempt := &models.LoginAttempt{
		UserID:         &user.ID,
		Email:          user.Email,
		IPAddress:      "203.0.113.9",
		UserAgent:      "integration-agent",
		Success:        false,
		FailureReason:  &reason,
		IsAnomalous:    true,
		AnomalyReasons: []string{models.AnomalyImpossibleTravel},
		RiskScore:      100,
		ResponseAction: models.ActionLock,
		ExpiresAt:      time.Now().Add(90 * 24 * time.Hour),
	}
	require.NoError(t, attempts.Record(ctx, attempt))

	detection := &models.AnomalyDetection{
		LoginAttemptID: attempt.ID,
		UserID:         user.ID,
		AnomalyType:    models.AnomalyImpossibleTravel,
		Severity:       models.SeverityForScore(100),
		RiskScore:      100,
		Description:    "Travel speed exceeds plausible threshold",
		Details:        map[string]any{"speedKmh": 4100.0},
		ResponseAction: models.ActionLock,
	}
	require.NoError(t, anomalies.Create(ctx, detection))

	pending, err := anomalies.ListByStatus(ctx, models.AnomalyStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 5, pending[0].Severity)

	require.NoError(t, anomalies.Resolve(ctx, detection.ID, models.AnomalyStatusResolved, "ops@harborbank.example", "Customer confirmed travel."))

	got, err := anomalies.GetByID(ctx, detection.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedBy)
	assert.NotNil(t, got.ResolvedAt)

	// Resolution is one-shot.
	err = anomalies.Resolve(ctx, detection.ID, models.AnomalyStatusIgnored, "ops@harborbank.example", "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	byUser, err := anomalies.ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}

func TestLoginPatternRepository_UpsertRoundTrip(t *testing.T) {
	ctx := resetTables(t)
	repo := repositories.NewLoginPatternRepository(testDB.DB)

	email, password := TestUser("pattern")
	user, err := SeedUser(ctx, testDB.DB, email, password, models.MfaOptionNone)
	require.NoError(t, err)

	_, err = repo.GetByUserID(ctx, user.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	now := time.Now().Truncate(time.Second)
	pattern := &models.UserLoginPattern{
		UserID:                user.ID,
		TypicalIPs:            []string{"198.51.100.7"},
		TypicalHours:          []int{9, 10, 11},
		TypicalDays:           []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		TotalSuccessfulLogins: 1,
		FirstLoginAt:          now,
		LastLoginAt:           now,
	}
	require.NoError(t, repo.Upsert(ctx, pattern))

	got, err := repo.GetByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"198.51.100.7"}, got.TypicalIPs)
	assert.Equal(t, []int{9, 10, 11}, got.TypicalHours)
	assert.Equal(t, 1, got.TotalSuccessfulLogins)

	got.TypicalIPs = append(got.TypicalIPs, "203.0.113.9")
	got.TotalSuccessfulLogins = 2
	got.LastLoginAt = now.Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, got))

	updated, err := repo.GetByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, updated.TypicalIPs, 2)
	assert.Equal(t, 2, updated.TotalSuccessfulLogins)

	require.NoError(t, repo.IncrementFailures(ctx, user.ID))
	updated, err = repo.GetByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.TotalFailedLogins)
}
