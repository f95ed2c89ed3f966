package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/gatekeeper/internal/models"
)

// MockUserStore implements UserStore for testing
type MockUserStore struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc         func(ctx context.Context, email string) (*models.User, error)
	RecordLoginFailureFunc func(ctx context.Context, id string, maxFailed int, lockout time.Duration) (int, *time.Time, error)
	RecordLoginSuccessFunc func(ctx context.Context, id string) error
	LockPermanentlyFunc    func(ctx context.Context, id, reason string) error
	UnlockFunc             func(ctx context.Context, id string) error
	SetMfaOptionFunc       func(ctx context.Context, id, option string) error
	SetTotpSecretFunc      func(ctx context.Context, id string, encrypted, nonce []byte) error
}

func (m *MockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) RecordLoginFailure(ctx context.Context, id string, maxFailed int, lockout time.Duration) (int, *time.Time, error) {
	if m.RecordLoginFailureFunc != nil {
		return m.RecordLoginFailureFunc(ctx, id, maxFailed, lockout)
	}
	return 1, nil, nil
}

func (m *MockUserStore) RecordLoginSuccess(ctx context.Context, id string) error {
	if m.RecordLoginSuccessFunc != nil {
		return m.RecordLoginSuccessFunc(ctx, id)
	}
	return nil
}

func (m *MockUserStore) LockPermanently(ctx context.Context, id, reason string) error {
	if m.LockPermanentlyFunc != nil {
		return m.LockPermanentlyFunc(ctx, id, reason)
	}
	return nil
}

func (m *MockUserStore) Unlock(ctx context.Context, id string) error {
	if m.UnlockFunc != nil {
		return m.UnlockFunc(ctx, id)
	}
	return nil
}

func (m *MockUserStore) SetMfaOption(ctx context.Context, id, option string) error {
	if m.SetMfaOptionFunc != nil {
		return m.SetMfaOptionFunc(ctx, id, option)
	}
	return nil
}

func (m *MockUserStore) SetTotpSecret(ctx context.Context, id string, encrypted, nonce []byte) error {
	if m.SetTotpSecretFunc != nil {
		return m.SetTotpSecretFunc(ctx, id, encrypted, nonce)
	}
	return nil
}

// MemoryAttemptStore implements AttemptStore with in-memory state
type MemoryAttemptStore struct {
	mu       sync.Mutex
	Attempts []*models.LoginAttempt
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{}
}

func (m *MemoryAttemptStore) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	m.Attempts = append(m.Attempts, attempt)
	return nil
}

func (m *MemoryAttemptStore) GetLastSuccessful(ctx context.Context, userID string) (*models.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Attempts) - 1; i >= 0; i-- {
		a := m.Attempts[i]
		if a.Success && a.UserID != nil && *a.UserID == userID {
			return a, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryAttemptStore) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.LoginAttempt, 0)
	for i := len(m.Attempts) - 1; i >= 0 && len(out) < limit; i-- {
		a := m.Attempts[i]
		if a.UserID != nil && *a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// MemoryRateLimitStore implements RateLimitStore with mutex-serialized
// mutations, mirroring the row-lock semantics of the real store.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	Entries map[string]*models.RateLimitEntry
}

func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{Entries: make(map[string]*models.RateLimitEntry)}
}

func rateLimitKey(clientID, attemptType string) string {
	return clientID + "|" + attemptType
}

func (m *MemoryRateLimitStore) Apply(ctx context.Context, clientID, attemptType string, mutate func(*models.RateLimitEntry) error) (*models.RateLimitEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rateLimitKey(clientID, attemptType)
	entry, ok := m.Entries[key]
	if !ok {
		now := time.Now()
		entry = &models.RateLimitEntry{
			ID:               uuid.New().String(),
			ClientIdentifier: clientID,
			AttemptType:      attemptType,
			FirstAttemptAt:   now,
			LastAttemptAt:    now,
		}
		m.Entries[key] = entry
	}

	if err := mutate(entry); err != nil {
		return nil, err
	}
	copied := *entry
	return &copied, nil
}

func (m *MemoryRateLimitStore) Get(ctx context.Context, clientID, attemptType string) (*models.RateLimitEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.Entries[rateLimitKey(clientID, attemptType)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (m *MemoryRateLimitStore) Reset(ctx context.Context, clientID, attemptType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Entries, rateLimitKey(clientID, attemptType))
	return nil
}

// MemoryPatternStore implements PatternStore with in-memory state
type MemoryPatternStore struct {
	mu       sync.Mutex
	Patterns map[string]*models.UserLoginPattern
}

func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{Patterns: make(map[string]*models.UserLoginPattern)}
}

func (m *MemoryPatternStore) GetByUserID(ctx context.Context, userID string) (*models.UserLoginPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Patterns[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *MemoryPatternStore) Upsert(ctx context.Context, p *models.UserLoginPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	copied := *p
	m.Patterns[p.UserID] = &copied
	return nil
}

func (m *MemoryPatternStore) IncrementFailures(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Patterns[userID]
	if !ok {
		return models.ErrNotFound
	}
	p.TotalFailedLogins++
	return nil
}

// MemoryAnomalyStore implements AnomalyStore with in-memory state
type MemoryAnomalyStore struct {
	mu         sync.Mutex
	Detections []*models.AnomalyDetection
}

func NewMemoryAnomalyStore() *MemoryAnomalyStore {
	return &MemoryAnomalyStore{}
}

func (m *MemoryAnomalyStore) Create(ctx context.Context, a *models.AnomalyDetection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.Detections = append(m.Detections, a)
	return nil
}

func (m *MemoryAnomalyStore) GetByID(ctx context.Context, id string) (*models.AnomalyDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Detections {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryAnomalyStore) ListByStatus(ctx context.Context, status string, limit int) ([]*models.AnomalyDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AnomalyDetection, 0)
	for _, d := range m.Detections {
		if d.Status == status && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryAnomalyStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AnomalyDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AnomalyDetection, 0)
	for _, d := range m.Detections {
		if d.UserID == userID && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryAnomalyStore) Resolve(ctx context.Context, id, status, resolvedBy, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Detections {
		if d.ID == id && d.Status == models.AnomalyStatusPending {
			now := time.Now()
			d.Status = status
			d.ResolvedBy = &resolvedBy
			d.ResolutionNotes = &notes
			d.ResolvedAt = &now
			return nil
		}
	}
	return models.ErrNotFound
}

// MemoryMfaStore implements MfaSessionStore with mutex-serialized attempt
// increments.
type MemoryMfaStore struct {
	mu       sync.Mutex
	Sessions map[string]*models.MfaSession
}

func NewMemoryMfaStore() *MemoryMfaStore {
	return &MemoryMfaStore{Sessions: make(map[string]*models.MfaSession)}
}

func (m *MemoryMfaStore) Create(ctx context.Context, s *models.MfaSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	copied := *s
	m.Sessions[s.ID] = &copied
	return nil
}

func (m *MemoryMfaStore) GetByID(ctx context.Context, id string) (*models.MfaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *MemoryMfaStore) GetLatestForUser(ctx context.Context, userID, email string) (*models.MfaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.MfaSession
	for _, s := range m.Sessions {
		if s.UserID != userID || s.Email != email {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (m *MemoryMfaStore) InvalidatePending(ctx context.Context, userID, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, s := range m.Sessions {
		if s.UserID == userID && s.Email == email && !s.IsUsed && !s.IsBlocked {
			s.IsBlocked = true
			count++
		}
	}
	return count, nil
}

func (m *MemoryMfaStore) IncrementAttempts(ctx context.Context, id string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok {
		return 0, false, models.ErrNotFound
	}
	s.AttemptCount++
	if s.AttemptCount >= s.MaxAttempts {
		s.IsBlocked = true
	}
	return s.AttemptCount, s.IsBlocked, nil
}

func (m *MemoryMfaStore) MarkUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok || s.IsUsed || s.IsBlocked {
		return models.ErrConflict
	}
	now := time.Now()
	s.IsUsed = true
	s.UsedAt = &now
	return nil
}

// MemorySessionStore implements SessionStore with in-memory state. Now is
// overridable so tests can steer the activity clock.
type MemorySessionStore struct {
	mu       sync.Mutex
	Sessions map[string]*models.UserSession // keyed by token hash
	Now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		Sessions: make(map[string]*models.UserSession),
		Now:      time.Now,
	}
}

func (m *MemorySessionStore) Create(ctx context.Context, s *models.UserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.Sessions[s.TokenHash] = &copied
	return nil
}

func (m *MemorySessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[tokenHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *MemorySessionStore) UpdateActivity(ctx context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[tokenHash]
	if !ok || s.IsRevoked {
		return false, nil
	}
	s.LastActivityAt = m.Now()
	return true, nil
}

func (m *MemorySessionStore) Revoke(ctx context.Context, tokenHash, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[tokenHash]
	if !ok || s.IsRevoked {
		return models.ErrNotFound
	}
	now := time.Now()
	s.IsRevoked = true
	s.RevokedAt = &now
	s.RevokeReason = &reason
	return nil
}

func (m *MemorySessionStore) RevokeAllExcept(ctx context.Context, userID, keepID, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	now := time.Now()
	for _, s := range m.Sessions {
		if s.UserID == userID && s.ID != keepID && !s.IsRevoked && s.ExpiresAt.After(now) {
			s.IsRevoked = true
			s.RevokedAt = &now
			s.RevokeReason = &reason
			count++
		}
	}
	return count, nil
}

func (m *MemorySessionStore) ListActive(ctx context.Context, userID string) ([]*models.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]*models.UserSession, 0)
	for _, s := range m.Sessions {
		if s.UserID == userID && !s.IsRevoked && s.ExpiresAt.After(now) {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MemorySessionStore) DeleteExpired(ctx context.Context, revokedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	now := time.Now()
	for k, s := range m.Sessions {
		if s.ExpiresAt.Before(now) || (s.IsRevoked && s.RevokedAt != nil && s.RevokedAt.Before(revokedBefore)) {
			delete(m.Sessions, k)
			count++
		}
	}
	return count, nil
}

// StubGeoLookup implements GeoLookup returning a fixed result
type StubGeoLookup struct {
	Result GeoResult
	Err    error
}

func (g *StubGeoLookup) Lookup(ctx context.Context, ipAddress string) (GeoResult, error) {
	if g.Err != nil {
		return GeoResult{}, g.Err
	}
	return g.Result, nil
}

// RecordingNotifier implements SecurityNotifier and records what was sent
type RecordingNotifier struct {
	mu     sync.Mutex
	Codes  []string
	Alerts []string
}

func (n *RecordingNotifier) SendVerificationCode(ctx context.Context, email, code string, ttlMinutes int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Codes = append(n.Codes, code)
	return nil
}

func (n *RecordingNotifier) SendSecurityAlert(ctx context.Context, email, subject, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Alerts = append(n.Alerts, subject)
	return nil
}
