package services

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborbank/gatekeeper/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		Window: 15 * time.Minute,
		MaxAttempts: map[string]int{
			models.AttemptTypeLogin:     3,
			models.AttemptTypeMfaVerify: 5,
		},
		BaseBlockDuration: 15 * time.Minute,
		BlockMultiplier:   2.0,
		MaxBlockDuration:  24 * time.Hour,
	}
}

func TestRateLimitService_ExceedingBudgetBlocks(t *testing.T) {
	store := NewMemoryRateLimitStore()
	svc := NewRateLimitService(store, testRateLimitPolicy(), testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := svc.RecordAttempt(ctx, "10.0.0.1", models.AttemptTypeLogin, false)
		require.NoError(t, err, "attempt %d should be within budget", i+1)
	}

	err := svc.RecordAttempt(ctx, "10.0.0.1", models.AttemptTypeLogin, false)
	assert.ErrorIs(t, err, models.ErrRateLimited)

	allowed, retryAfter, err := svc.CanAttempt(ctx, "10.0.0.1", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.False(t, allowed)
	require.NotNil(t, retryAfter)
	assert.Greater(t, *retryAfter, time.Duration(0))

	remaining, err := svc.GetRemainingAttempts(ctx, "10.0.0.1", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestRateLimitService_KeysAreIndependent(t *testing.T) {
	store := NewMemoryRateLimitStore()
	svc := NewRateLimitService(store, testRateLimitPolicy(), testLogger())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = svc.RecordAttempt(ctx, "10.0.0.1", models.AttemptTypeLogin, false)
	}

	allowed, _, err := svc.CanAttempt(ctx, "10.0.0.2", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.True(t, allowed, "a different client must not inherit the block")

	allowed, _, err = svc.CanAttempt(ctx, "10.0.0.1", models.AttemptTypeMfaVerify)
	require.NoError(t, err)
	assert.True(t, allowed, "a different attempt type must not inherit the block")
}

func TestRateLimitService_WindowExpiryResetsCounters(t *testing.T) {
	store := NewMemoryRateLimitStore()
	svc := NewRateLimitService(store, testRateLimitPolicy(), testLogger())
	ctx := context.Background()

	now := time.Now()
	svc.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordAttempt(ctx, "client", models.AttemptTypeLogin, false))
	}

	allowed, _, _ := svc.CanAttempt(ctx, "client", models.AttemptTypeLogin)
	assert.False(t, allowed)

	now = now.Add(16 * time.Minute)

	allowed, _, err := svc.CanAttempt(ctx, "client", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, svc.RecordAttempt(ctx, "client", models.AttemptTypeLogin, false))
	remaining, err := svc.GetRemainingAttempts(ctx, "client", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining, "counters should reset with the fresh window")
}

func TestRateLimitService_LapsedBlockClearsOnRead(t *testing.T) {
	store := NewMemoryRateLimitStore()
	policy := testRateLimitPolicy()
	policy.BaseBlockDuration = 5 * time.Minute
	svc := NewRateLimitService(store, policy, testLogger())
	ctx := context.Background()

	now := time.Now()
	svc.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		_ = svc.RecordAttempt(ctx, "client", models.AttemptTypeLogin, false)
	}
	allowed, _, _ := svc.CanAttempt(ctx, "client", models.AttemptTypeLogin)
	require.False(t, allowed)

	// Six minutes on, the block has lapsed but the 15 minute window has
	// not. The stale counters must not keep denying.
	now = now.Add(6 * time.Minute)
	allowed, retryAfter, err := svc.CanAttempt(ctx, "client", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Nil(t, retryAfter)

	require.NoError(t, svc.RecordAttempt(ctx, "client", models.AttemptTypeLogin, false))
}

func TestRateLimitService_BackoffEscalatesAcrossViolations(t *testing.T) {
	store := NewMemoryRateLimitStore()
	policy := testRateLimitPolicy()
	svc := NewRateLimitService(store, policy, testLogger())
	ctx := context.Background()

	now := time.Now()
	svc.now = func() time.Time { return now }

	trip := func() *models.RateLimitEntry {
		for i := 0; i < 4; i++ {
			_ = svc.RecordAttempt(ctx, "client", models.AttemptTypeLogin, false)
		}
		entry, err := store.Get(ctx, "client", models.AttemptTypeLogin)
		require.NoError(t, err)
		return entry
	}

	first := trip()
	require.NotNil(t, first.BlockedUntil)
	assert.Equal(t, 1, first.ViolationCount)
	assert.WithinDuration(t, now.Add(15*time.Minute), *first.BlockedUntil, time.Second)

	// Wait out the first block, then violate again.
	now = now.Add(20 * time.Minute)
	second := trip()
	require.NotNil(t, second.BlockedUntil)
	assert.Equal(t, 2, second.ViolationCount)
	assert.WithinDuration(t, now.Add(30*time.Minute), *second.BlockedUntil, time.Second)
}

func TestRateLimitService_BackoffIsCapped(t *testing.T) {
	policy := testRateLimitPolicy()
	assert.Equal(t, 24*time.Hour, policy.BlockDurationFor(100))
	assert.Equal(t, 15*time.Minute, policy.BlockDurationFor(0))
	assert.Equal(t, 30*time.Minute, policy.BlockDurationFor(1))
}

func TestRateLimitService_ResetClearsBlock(t *testing.T) {
	store := NewMemoryRateLimitStore()
	svc := NewRateLimitService(store, testRateLimitPolicy(), testLogger())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = svc.RecordAttempt(ctx, "client", models.AttemptTypeLogin, false)
	}
	allowed, _, _ := svc.CanAttempt(ctx, "client", models.AttemptTypeLogin)
	require.False(t, allowed)

	require.NoError(t, svc.ResetRateLimit(ctx, "client", models.AttemptTypeLogin))

	allowed, _, err := svc.CanAttempt(ctx, "client", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.True(t, allowed)

	reset, err := svc.GetTimeUntilReset(ctx, "client", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), reset)
}

func TestRateLimitService_ConcurrentAttemptsAllCounted(t *testing.T) {
	store := NewMemoryRateLimitStore()
	policy := testRateLimitPolicy()
	policy.MaxAttempts[models.AttemptTypeLogin] = 1000
	svc := NewRateLimitService(store, policy, testLogger())
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = svc.RecordAttempt(ctx, "client", models.AttemptTypeLogin, false)
		}()
	}
	wg.Wait()

	entry, err := store.Get(ctx, "client", models.AttemptTypeLogin)
	require.NoError(t, err)
	assert.Equal(t, workers, entry.AttemptCount, "no increment may be lost under concurrency")
	assert.Equal(t, workers, entry.FailureCount)
}
