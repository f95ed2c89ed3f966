package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborbank/gatekeeper/internal/models"
	pkglogger "github.com/harborbank/gatekeeper/pkg/logger"
)

func testRiskPolicy() RiskPolicy {
	return RiskPolicy{
		FlagThreshold:     30,
		StepUpThreshold:   30,
		BlockThreshold:    70,
		LockThreshold:     90,
		NearDistanceKm:    100,
		FarDistanceKm:     3000,
		MaxTravelSpeedKmh: 1000,
		UnknownGeoScore:   50,
		LocationWeight:    1.0,
		DeviceWeight:      1.0,
		TimeWeight:        1.0,
	}
}

func newTestAnomalyService(store AnomalyStore) *AnomalyService {
	logger := testLogger()
	return NewAnomalyService(store, &RecordingNotifier{}, testRiskPolicy(), logger, pkglogger.NewAuditLogger(logger))
}

// Coordinates used across the anomaly tests.
var (
	londonLat, londonLon = 51.5074, -0.1278
	parisLat, parisLon   = 48.8566, 2.3522   // ~340 km from London
	sydneyLat, sydneyLon = -33.8688, 151.2093 // ~17,000 km from London
)

func knownPattern(at time.Time) *models.UserLoginPattern {
	return &models.UserLoginPattern{
		UserID: "user-1",
		TypicalLocations: []models.GeoPoint{
			{Country: "United Kingdom", City: "London", Latitude: londonLat, Longitude: londonLon},
		},
		TypicalDevices:        []string{FingerprintDevice("known-agent")},
		TypicalIPs:            []string{"198.51.100.7"},
		TypicalHours:          []int{at.UTC().Hour()},
		TypicalDays:           []time.Weekday{at.UTC().Weekday()},
		TotalSuccessfulLogins: 20,
		LastLoginAt:           at.Add(-24 * time.Hour),
	}
}

func familiarLogin(at time.Time) LoginContext {
	return LoginContext{
		IPAddress: "198.51.100.7",
		UserAgent: "known-agent",
		Device:    DeviceInfo{Fingerprint: FingerprintDevice("known-agent"), Type: "desktop", OS: "linux", Browser: "firefox"},
		Geo: GeoResult{
			Known: true, Country: "United Kingdom", City: "London",
			Latitude: londonLat, Longitude: londonLon,
		},
		At: at,
	}
}

func TestAnomalyService_ColdStartIsNotFlagged(t *testing.T) {
	svc := newTestAnomalyService(NewMemoryAnomalyStore())

	login := LoginContext{
		IPAddress: "203.0.113.9",
		Device:    DeviceInfo{Fingerprint: "never-seen"},
		Geo:       GeoResult{Known: true, Country: "Japan", Latitude: 35.68, Longitude: 139.69},
		At:        time.Now(),
	}

	for _, pattern := range []*models.UserLoginPattern{nil, {UserID: "u", TotalSuccessfulLogins: 0}} {
		a := svc.Analyze(login, pattern)
		assert.Equal(t, 0, a.RiskScore)
		assert.False(t, a.IsAnomalous)
		assert.Equal(t, models.ActionAllow, a.Action)
	}
}

func TestAnomalyService_FamiliarLoginScoresZero(t *testing.T) {
	svc := newTestAnomalyService(NewMemoryAnomalyStore())
	at := time.Now()

	a := svc.Analyze(familiarLogin(at), knownPattern(at))
	assert.Equal(t, 0, a.RiskScore)
	assert.False(t, a.IsAnomalous)
	assert.Equal(t, models.ActionAllow, a.Action)
	assert.Empty(t, a.Reasons)
}

func TestAnomalyService_ScoreIsMonotonicInDistance(t *testing.T) {
	svc := newTestAnomalyService(NewMemoryAnomalyStore())
	at := time.Now()
	pattern := knownPattern(at)

	near := familiarLogin(at)
	near.Geo.Latitude, near.Geo.Longitude = parisLat, parisLon

	far := familiarLogin(at)
	far.Geo.Latitude, far.Geo.Longitude = sydneyLat, sydneyLon
	// Keep the far case out of the velocity override so only distance differs.
	pattern.LastLoginAt = at.Add(-30 * 24 * time.Hour)

	nearScore := svc.Analyze(near, pattern).RiskScore
	farScore := svc.Analyze(far, pattern).RiskScore
	assert.GreaterOrEqual(t, farScore, nearScore)
	assert.Greater(t, farScore, 0)
}

func TestAnomalyService_DistanceBands(t *testing.T) {
	svc := newTestAnomalyService(NewMemoryAnomalyStore())

	assert.Equal(t, 0, svc.distanceScore(50))
	assert.Equal(t, 100, svc.distanceScore(5000))

	mid := svc.distanceScore(1550) // halfway between 100 and 3000
	assert.InDelta(t, 50, mid, 1)
}

func TestAnomalyService_UnknownGeoUsesModerateDefault(t *testing.T) {
	svc := newTestAnomalyService(NewMemoryAnomalyStore())
	at := time.Now()

	login := familiarLogin(at)
	login.Geo = GeoResult{Known: false}

	a := svc.Analyze(login, knownPattern(at))
	assert.Equal(t, 50, a.LocationScore)
	assert.NotEmpty(t, a.Reasons)
}

func TestAnomalyService_NewDeviceRaisesScore(t *testing.T) {
	svc := newTestAnomalyService(NewMemoryAnomalyStore())
	at := time.Now()

	login := familiarLogin(at)
	login.UserAgent = "unknown-agent"
	login.Device = DeviceInfo{Fingerprint: FingerprintDevice("unknown-agent"), Type: "mobile", OS: "android", Browser: "chrome"}

	a := svc.Analyze(login, knownPattern(at))
	assert.Equal(t, newDeviceScore, a.DeviceScore)
	assert.Greater(t, a.RiskScore, 0)
}

func TestAnomalyService_ImpossibleTravelForcesLock(t *testing.T) {
	svc := newTestAnomalyService(NewMemoryAnomalyStore())
	at := time.Now()

	pattern := knownPattern(at)
	pattern.LastLoginAt = at.Add(-5 * time.Minute)

	login := familiarLogin(at)
	login.Geo.Latitude, login.Geo.Longitude = sydneyLat, sydneyLon

	a := svc.Analyze(login, pattern)
	assert.Equal(t, 100, a.RiskScore)
	assert.Equal(t, models.ActionLock, a.Action)
	assert.Equal(t, models.AnomalyImpossibleTravel, a.AnomalyType)
	assert.Contains(t, a.Reasons, "impossible travel between consecutive logins")
}

func TestAnomalyService_ShortHopIsNotImpossibleTravel(t *testing.T) {
	svc := newTestAnomalyService(NewMemoryAnomalyStore())
	at := time.Now()

	pattern := knownPattern(at)
	pattern.LastLoginAt = at.Add(-1 * time.Minute)

	// Same city, minutes apart: inside the near band, never a velocity hit.
	a := svc.Analyze(familiarLogin(at), pattern)
	assert.NotEqual(t, models.AnomalyImpossibleTravel, a.AnomalyType)
	assert.Equal(t, 0, a.RiskScore)
}

func TestRiskPolicy_ActionThresholds(t *testing.T) {
	policy := testRiskPolicy()

	assert.Equal(t, models.ActionAllow, policy.ActionForScore(0))
	assert.Equal(t, models.ActionAllow, policy.ActionForScore(29))
	assert.Equal(t, models.ActionStepUp, policy.ActionForScore(30))
	assert.Equal(t, models.ActionStepUp, policy.ActionForScore(69))
	assert.Equal(t, models.ActionBlock, policy.ActionForScore(70))
	assert.Equal(t, models.ActionBlock, policy.ActionForScore(89))
	assert.Equal(t, models.ActionLock, policy.ActionForScore(90))
	assert.Equal(t, models.ActionLock, policy.ActionForScore(100))
}

func TestAnomalyService_FlagPersistsDetection(t *testing.T) {
	store := NewMemoryAnomalyStore()
	svc := newTestAnomalyService(store)
	ctx := context.Background()

	attempt := &models.LoginAttempt{
		ID:        "attempt-1",
		Email:     "user@example.com",
		IPAddress: "203.0.113.9",
	}
	assessment := RiskAssessment{
		RiskScore:   95,
		IsAnomalous: true,
		AnomalyType: models.AnomalyImpossibleTravel,
		Action:      models.ActionLock,
		Reasons:     []string{"impossible travel between consecutive logins"},
	}

	require.NoError(t, svc.Flag(ctx, attempt, "user-1", assessment))

	require.Len(t, store.Detections, 1)
	d := store.Detections[0]
	assert.Equal(t, "attempt-1", d.LoginAttemptID)
	assert.Equal(t, models.AnomalyImpossibleTravel, d.AnomalyType)
	assert.Equal(t, 5, d.Severity)
	assert.Equal(t, models.AnomalyStatusPending, d.Status)
	assert.Equal(t, models.ActionLock, d.ResponseAction)
}

func TestAnomalyService_ResolveDetection(t *testing.T) {
	store := NewMemoryAnomalyStore()
	svc := newTestAnomalyService(store)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.AnomalyDetection{
		ID:     "d-1",
		UserID: "user-1",
		Status: models.AnomalyStatusPending,
	}))

	assert.ErrorIs(t, svc.ResolveDetection(ctx, "d-1", "nonsense", "admin", ""), models.ErrBadRequest)

	require.NoError(t, svc.ResolveDetection(ctx, "d-1", models.AnomalyStatusResolved, "admin", "confirmed travel"))

	d, err := store.GetByID(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyStatusResolved, d.Status)
	require.NotNil(t, d.ResolvedBy)
	assert.Equal(t, "admin", *d.ResolvedBy)

	// Second resolution of a non-pending detection fails.
	assert.Error(t, svc.ResolveDetection(ctx, "d-1", models.AnomalyStatusIgnored, "admin", ""))
}
