package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/harborbank/gatekeeper/internal/models"
	pkglogger "github.com/harborbank/gatekeeper/pkg/logger"
)

// AnomalyStore persists flagged detections for manual review.
type AnomalyStore interface {
	Create(ctx context.Context, a *models.AnomalyDetection) error
	GetByID(ctx context.Context, id string) (*models.AnomalyDetection, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.AnomalyDetection, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.AnomalyDetection, error)
	Resolve(ctx context.Context, id, status, resolvedBy, notes string) error
}

// RiskPolicy configures scoring weights, distance bands, and the action
// thresholds that map a 0-100 score to an outcome.
type RiskPolicy struct {
	FlagThreshold   int
	StepUpThreshold int
	BlockThreshold  int
	LockThreshold   int

	NearDistanceKm    float64
	FarDistanceKm     float64
	MaxTravelSpeedKmh float64
	UnknownGeoScore   int

	LocationWeight float64
	DeviceWeight   float64
	TimeWeight     float64
}

// ActionForScore maps a risk score onto the response action ladder.
func (p RiskPolicy) ActionForScore(score int) models.ResponseAction {
	switch {
	case score >= p.LockThreshold:
		return models.ActionLock
	case score >= p.BlockThreshold:
		return models.ActionBlock
	case score >= p.StepUpThreshold:
		return models.ActionStepUp
	default:
		return models.ActionAllow
	}
}

// LoginContext carries the observable facts of one login attempt into the
// scorer.
type LoginContext struct {
	IPAddress string
	UserAgent string
	Device    DeviceInfo
	Geo       GeoResult
	At        time.Time
}

// RiskAssessment is the scorer's verdict on a single attempt.
type RiskAssessment struct {
	RiskScore     int
	IsAnomalous   bool
	Reasons       []string
	AnomalyType   string // dominant anomaly type, empty when not anomalous
	Action        models.ResponseAction
	LocationScore int
	DeviceScore   int
	TimeScore     int
}

// Per-dimension sub-scores for signals that are binary rather than
// distance-derived.
const (
	newDeviceScore   = 85
	unusualHourScore = 60
	unusualDayScore  = 40
)

// AnomalyService scores login attempts against the user's behavioral
// pattern and manages the review queue of flagged detections.
type AnomalyService struct {
	store       AnomalyStore
	notifier    SecurityNotifier
	policy      RiskPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger

	// notifyTimeout bounds the async alert dispatch.
	notifyTimeout time.Duration
}

// NewAnomalyService creates a new AnomalyService
func NewAnomalyService(store AnomalyStore, notifier SecurityNotifier, policy RiskPolicy, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AnomalyService {
	return &AnomalyService{
		store:         store,
		notifier:      notifier,
		policy:        policy,
		logger:        logger,
		auditLogger:   auditLogger,
		notifyTimeout: 10 * time.Second,
	}
}

// Analyze scores one attempt against the user's pattern. A nil or empty
// pattern is a cold start: the attempt seeds the pattern instead of being
// penalized for novelty.
func (s *AnomalyService) Analyze(login LoginContext, pattern *models.UserLoginPattern) RiskAssessment {
	if pattern == nil || pattern.TotalSuccessfulLogins == 0 {
		return RiskAssessment{Action: models.ActionAllow}
	}

	assessment := RiskAssessment{}

	assessment.LocationScore = s.scoreLocation(login, pattern, &assessment)
	assessment.DeviceScore = s.scoreDevice(login, pattern, &assessment)
	assessment.TimeScore = s.scoreTime(login, pattern, &assessment)

	totalWeight := s.policy.LocationWeight + s.policy.DeviceWeight + s.policy.TimeWeight
	if totalWeight <= 0 {
		totalWeight = 3
	}
	weighted := (float64(assessment.LocationScore)*s.policy.LocationWeight +
		float64(assessment.DeviceScore)*s.policy.DeviceWeight +
		float64(assessment.TimeScore)*s.policy.TimeWeight) / totalWeight
	assessment.RiskScore = clampScore(int(math.Round(weighted)))

	// Velocity overrides everything: no legitimate client moves faster
	// than the configured speed ceiling between two logins.
	if s.impossibleTravel(login, pattern) {
		assessment.RiskScore = 100
		assessment.Reasons = append(assessment.Reasons, "impossible travel between consecutive logins")
		assessment.AnomalyType = models.AnomalyImpossibleTravel
	}

	assessment.IsAnomalous = assessment.RiskScore >= s.policy.FlagThreshold
	assessment.Action = s.policy.ActionForScore(assessment.RiskScore)
	if !assessment.IsAnomalous {
		assessment.AnomalyType = ""
	} else if assessment.AnomalyType == "" {
		assessment.AnomalyType = s.dominantType(assessment)
	}

	return assessment
}

func (s *AnomalyService) scoreLocation(login LoginContext, pattern *models.UserLoginPattern, assessment *RiskAssessment) int {
	if !login.Geo.Known {
		assessment.Reasons = append(assessment.Reasons, "login location could not be resolved")
		return s.policy.UnknownGeoScore
	}
	if len(pattern.TypicalLocations) == 0 {
		return 0
	}

	minDistance := math.MaxFloat64
	for _, p := range pattern.TypicalLocations {
		d := haversineKm(login.Geo.Latitude, login.Geo.Longitude, p.Latitude, p.Longitude)
		if d < minDistance {
			minDistance = d
		}
	}

	score := s.distanceScore(minDistance)
	if score > 0 {
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("login from %s, %.0f km from any usual location", login.Geo.Point().Label(), minDistance))
	}
	return score
}

// distanceScore maps distance to a 0-100 sub-score: 0 up to the near band,
// 100 beyond the far band, linear in between.
func (s *AnomalyService) distanceScore(distanceKm float64) int {
	switch {
	case distanceKm <= s.policy.NearDistanceKm:
		return 0
	case distanceKm >= s.policy.FarDistanceKm:
		return 100
	default:
		span := s.policy.FarDistanceKm - s.policy.NearDistanceKm
		return clampScore(int(math.Round((distanceKm - s.policy.NearDistanceKm) / span * 100)))
	}
}

func (s *AnomalyService) scoreDevice(login LoginContext, pattern *models.UserLoginPattern, assessment *RiskAssessment) int {
	if pattern.HasDevice(login.Device.Fingerprint) {
		return 0
	}
	assessment.Reasons = append(assessment.Reasons,
		fmt.Sprintf("unrecognized %s device (%s, %s)", login.Device.Type, login.Device.OS, login.Device.Browser))
	return newDeviceScore
}

func (s *AnomalyService) scoreTime(login LoginContext, pattern *models.UserLoginPattern, assessment *RiskAssessment) int {
	at := login.At.UTC()
	score := 0
	if !pattern.HasHour(at.Hour()) {
		score += unusualHourScore
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("login at %02d:00 UTC, outside usual hours", at.Hour()))
	}
	if !pattern.HasDay(at.Weekday()) {
		score += unusualDayScore
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("login on %s, outside usual days", at.Weekday()))
	}
	return clampScore(score)
}

// impossibleTravel checks whether reaching the current location from the
// previous login's location within the elapsed time would require exceeding
// the speed ceiling. Short hops inside the near band never trigger it.
func (s *AnomalyService) impossibleTravel(login LoginContext, pattern *models.UserLoginPattern) bool {
	if !login.Geo.Known || pattern.LastLoginAt.IsZero() {
		return false
	}
	last := pattern.LastLocation()
	if last == nil {
		return false
	}

	distanceKm := haversineKm(login.Geo.Latitude, login.Geo.Longitude, last.Latitude, last.Longitude)
	if distanceKm <= s.policy.NearDistanceKm {
		return false
	}

	elapsedHours := login.At.Sub(pattern.LastLoginAt).Hours()
	if elapsedHours <= 0 {
		return true
	}
	return distanceKm/elapsedHours > s.policy.MaxTravelSpeedKmh
}

func (s *AnomalyService) dominantType(assessment RiskAssessment) string {
	switch {
	case assessment.LocationScore >= assessment.DeviceScore && assessment.LocationScore >= assessment.TimeScore:
		return models.AnomalyUnusualLocation
	case assessment.DeviceScore >= assessment.TimeScore:
		return models.AnomalyNewDevice
	default:
		return models.AnomalyUnusualTime
	}
}

// Flag persists a detection for the attempt and dispatches a security alert
// asynchronously. Alert failures are logged and swallowed; the login
// decision is already final by the time Flag runs.
func (s *AnomalyService) Flag(ctx context.Context, attempt *models.LoginAttempt, userID string, assessment RiskAssessment) error {
	detection := &models.AnomalyDetection{
		LoginAttemptID: attempt.ID,
		UserID:         userID,
		AnomalyType:    assessment.AnomalyType,
		Severity:       models.SeverityForScore(assessment.RiskScore),
		RiskScore:      assessment.RiskScore,
		Description:    describeAssessment(assessment),
		Details: map[string]any{
			"ip_address":     attempt.IPAddress,
			"reasons":        assessment.Reasons,
			"location_score": assessment.LocationScore,
			"device_score":   assessment.DeviceScore,
			"time_score":     assessment.TimeScore,
		},
		Status:         models.AnomalyStatusPending,
		ResponseAction: assessment.Action,
	}

	if err := s.store.Create(ctx, detection); err != nil {
		return fmt.Errorf("persist anomaly detection: %w", err)
	}

	s.auditLogger.LogAnomaly(userID, detection.AnomalyType, assessment.RiskScore, string(assessment.Action))

	go s.dispatchAlert(attempt.Email, detection)

	return nil
}

func (s *AnomalyService) dispatchAlert(email string, detection *models.AnomalyDetection) {
	ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
	defer cancel()

	subject := "Unusual sign-in activity on your account"
	if err := s.notifier.SendSecurityAlert(ctx, email, subject, detection.Description); err != nil {
		s.logger.Error("failed to dispatch security alert",
			slog.String("anomaly_id", detection.ID),
			slog.Any("error", err))
	}
}

// ResolveDetection applies a manual review decision to a pending detection.
func (s *AnomalyService) ResolveDetection(ctx context.Context, id, status, resolvedBy, notes string) error {
	switch status {
	case models.AnomalyStatusResolved, models.AnomalyStatusIgnored, models.AnomalyStatusEscalated:
	default:
		return models.ErrBadRequest
	}
	return s.store.Resolve(ctx, id, status, resolvedBy, notes)
}

// ListPending returns detections awaiting review.
func (s *AnomalyService) ListPending(ctx context.Context, limit int) ([]*models.AnomalyDetection, error) {
	return s.store.ListByStatus(ctx, models.AnomalyStatusPending, limit)
}

// ListForUser returns a user's detection history.
func (s *AnomalyService) ListForUser(ctx context.Context, userID string, limit int) ([]*models.AnomalyDetection, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

func describeAssessment(assessment RiskAssessment) string {
	if len(assessment.Reasons) == 0 {
		return fmt.Sprintf("login risk score %d", assessment.RiskScore)
	}
	out := assessment.Reasons[0]
	for _, r := range assessment.Reasons[1:] {
		out += "; " + r
	}
	return out
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// haversineKm returns the great-circle distance between two points in km.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
