package services

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/repositories"
	"github.com/kestrelsec/keyprint/internal/store"
)

// MockProfileRepository implements ProfileRepository for testing
type MockProfileRepository struct {
	SaveFunc func(ctx context.Context, p *store.Profile, appended models.FeatureVector, position int) error

	mu    sync.Mutex
	Saves []int // positions passed to Save, in order
}

func (m *MockProfileRepository) Save(ctx context.Context, p *store.Profile, appended models.FeatureVector, position int) error {
	m.mu.Lock()
	m.Saves = append(m.Saves, position)
	m.mu.Unlock()
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, p, appended, position)
	}
	return nil
}

// MockSessionAuditor implements SessionAuditor for testing
type MockSessionAuditor struct {
	mu      sync.Mutex
	Records []*models.SessionRecord
}

func (m *MockSessionAuditor) Record(ctx context.Context, rec *models.SessionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
}

func (m *MockSessionAuditor) Recorded() []*models.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.SessionRecord, len(m.Records))
	copy(out, m.Records)
	return out
}

// MockAnomalyNotifier implements AnomalyNotifier for testing
type MockAnomalyNotifier struct {
	mu     sync.Mutex
	Alerts []string // user ids notified
}

func (m *MockAnomalyNotifier) NotifyAnomaly(ctx context.Context, userID string, score float64, method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, userID)
}

func (m *MockAnomalyNotifier) Notified() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Alerts))
	copy(out, m.Alerts)
	return out
}

// MockSessionRecordRepository implements SessionRecordRepository for testing
type MockSessionRecordRepository struct {
	CreateFunc     func(ctx context.Context, rec *models.SessionRecord) error
	ListRecentFunc func(ctx context.Context, userID string, limit int) ([]*models.SessionRecord, error)
}

func (m *MockSessionRecordRepository) Create(ctx context.Context, rec *models.SessionRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	rec.CreatedAt = time.Now()
	return nil
}

func (m *MockSessionRecordRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*models.SessionRecord, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, userID, limit)
	}
	return []*models.SessionRecord{}, nil
}

// MockChallengeRepository implements ChallengeRepository for testing
type MockChallengeRepository struct {
	UpsertFunc      func(ctx context.Context, secret *repositories.ChallengeSecret) error
	GetByUserIDFunc func(ctx context.Context, userID string) (*repositories.ChallengeSecret, error)
	MarkUsedFunc    func(ctx context.Context, userID string, usedAt time.Time) error
}

func (m *MockChallengeRepository) Upsert(ctx context.Context, secret *repositories.ChallengeSecret) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, secret)
	}
	return nil
}

func (m *MockChallengeRepository) GetByUserID(ctx context.Context, userID string) (*repositories.ChallengeSecret, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockChallengeRepository) MarkUsed(ctx context.Context, userID string, usedAt time.Time) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, userID, usedAt)
	}
	return nil
}
