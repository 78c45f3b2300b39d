package services

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/kestrelsec/keyprint/internal/detector"
	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enrollmentSessions() []models.FeatureVector {
	return []models.FeatureVector{
		{AvgInterval: 118, AvgHoldTime: 82, TypingSpeed: 4.3, BackspaceCount: 2, TotalKeys: 48, MouseSpeed: 305},
		{AvgInterval: 122, AvgHoldTime: 86, TypingSpeed: 4.1, BackspaceCount: 1, TotalKeys: 52, MouseSpeed: 295},
		{AvgInterval: 120, AvgHoldTime: 84, TypingSpeed: 4.2, BackspaceCount: 3, TotalKeys: 50, MouseSpeed: 310},
	}
}

func impostorSession() models.FeatureVector {
	return models.FeatureVector{
		AvgInterval:    400,
		AvgHoldTime:    200,
		TypingSpeed:    1.1,
		BackspaceCount: 15,
		TotalKeys:      20,
		MouseSpeed:     40,
	}
}

func newTestService() (*DecisionService, *MockProfileRepository, *MockSessionAuditor, *MockAnomalyNotifier) {
	repo := &MockProfileRepository{}
	auditor := &MockSessionAuditor{}
	notifier := &MockAnomalyNotifier{}
	svc := NewDecisionService(
		store.NewProfileStore(), repo, auditor, notifier,
		detector.DefaultConfig(), slog.Default())
	return svc, repo, auditor, notifier
}

func TestDecisionService_Authenticate_NoProfile(t *testing.T) {
	svc, _, auditor, _ := newTestService()

	_, err := svc.Authenticate(context.Background(), "bob", enrollmentSessions()[0])
	assert.ErrorIs(t, err, models.ErrNoProfile)
	assert.Empty(t, auditor.Recorded())
}

func TestDecisionService_Enroll_InvalidVector(t *testing.T) {
	svc, repo, auditor, _ := newTestService()

	bad := enrollmentSessions()[0]
	bad.AvgInterval = math.NaN()

	_, err := svc.Enroll(context.Background(), "alice", bad)
	assert.ErrorIs(t, err, models.ErrInvalidVector)
	assert.Empty(t, repo.Saves)
	assert.Empty(t, auditor.Recorded())
}

func TestDecisionService_Enroll_GrowsHistoryByOne(t *testing.T) {
	svc, repo, _, _ := newTestService()

	for i, v := range enrollmentSessions() {
		result, err := svc.Enroll(context.Background(), "alice", v)
		require.NoError(t, err)
		assert.Equal(t, i+1, result.HistoryLen)
	}

	assert.Equal(t, []int{0, 1, 2}, repo.Saves)
	assert.Equal(t, map[string]int{"alice": 3}, svc.ProfileCounts())
}

func TestDecisionService_Enroll_TrainedAtMinimum(t *testing.T) {
	svc, _, _, _ := newTestService()

	sessions := enrollmentSessions()
	for i, v := range sessions {
		result, err := svc.Enroll(context.Background(), "alice", v)
		require.NoError(t, err)

		trained := i+1 >= detector.DefaultConfig().MinTrainSamples
		assert.Equal(t, trained, result.Trained)
	}
}

func TestDecisionService_Authenticate_SingleEnrollmentUsesBaseline(t *testing.T) {
	svc, _, _, _ := newTestService()

	v := enrollmentSessions()[0]
	_, err := svc.Enroll(context.Background(), "carol", v)
	require.NoError(t, err)

	result, err := svc.Authenticate(context.Background(), "carol", v)
	require.NoError(t, err)

	assert.Equal(t, models.VerdictNormal, result.Verdict)
	assert.Equal(t, models.MethodBaseline, result.Method)
	assert.Equal(t, 0.0, result.Score)
}

func TestDecisionService_Authenticate_TrainedImpostorIsAnomaly(t *testing.T) {
	svc, _, _, notifier := newTestService()

	for _, v := range enrollmentSessions() {
		_, err := svc.Enroll(context.Background(), "alice", v)
		require.NoError(t, err)
	}

	result, err := svc.Authenticate(context.Background(), "alice", impostorSession())
	require.NoError(t, err)

	assert.Equal(t, models.VerdictAnomaly, result.Verdict)
	assert.Equal(t, models.MethodModel, result.Method)
	assert.GreaterOrEqual(t, result.Score, detector.DefaultConfig().Threshold)
	assert.Equal(t, []string{"alice"}, notifier.Notified())
}

func TestDecisionService_Authenticate_TrainedGenuineIsNormal(t *testing.T) {
	svc, _, _, notifier := newTestService()

	sessions := enrollmentSessions()
	for _, v := range sessions {
		_, err := svc.Enroll(context.Background(), "alice", v)
		require.NoError(t, err)
	}

	result, err := svc.Authenticate(context.Background(), "alice", sessions[0])
	require.NoError(t, err)

	assert.Equal(t, models.VerdictNormal, result.Verdict)
	assert.Equal(t, models.MethodModel, result.Method)
	assert.Empty(t, notifier.Notified())
}

func TestDecisionService_Authenticate_Idempotent(t *testing.T) {
	svc, _, _, _ := newTestService()

	for _, v := range enrollmentSessions() {
		_, err := svc.Enroll(context.Background(), "alice", v)
		require.NoError(t, err)
	}

	probe := impostorSession()
	first, err := svc.Authenticate(context.Background(), "alice", probe)
	require.NoError(t, err)
	second, err := svc.Authenticate(context.Background(), "alice", probe)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Verdict, second.Verdict)
	// Logins never grow the history
	assert.Equal(t, map[string]int{"alice": 3}, svc.ProfileCounts())
}

func TestDecisionService_Enroll_IdenticalVectorsFallBackToBaseline(t *testing.T) {
	svc, _, _, _ := newTestService()

	v := enrollmentSessions()[0]
	for i := 0; i < 3; i++ {
		result, err := svc.Enroll(context.Background(), "dave", v)
		require.NoError(t, err)
		// Zero-variance history cannot fit a forest
		assert.False(t, result.Trained)
	}

	result, err := svc.Authenticate(context.Background(), "dave", v)
	require.NoError(t, err)
	assert.Equal(t, models.MethodBaseline, result.Method)
	assert.Equal(t, models.VerdictNormal, result.Verdict)
}

func TestDecisionService_Enroll_SaveFailureLeavesMemoryUntouched(t *testing.T) {
	svc, repo, _, _ := newTestService()

	repo.SaveFunc = func(ctx context.Context, p *store.Profile, appended models.FeatureVector, position int) error {
		return models.ErrInternalServer
	}

	_, err := svc.Enroll(context.Background(), "alice", enrollmentSessions()[0])
	assert.ErrorIs(t, err, models.ErrInternalServer)

	// The failed enrollment must not be visible to logins
	_, err = svc.Authenticate(context.Background(), "alice", enrollmentSessions()[0])
	assert.ErrorIs(t, err, models.ErrNoProfile)
}

func TestDecisionService_SessionRecords(t *testing.T) {
	svc, _, auditor, _ := newTestService()

	v := enrollmentSessions()[0]
	_, err := svc.Enroll(context.Background(), "alice", v)
	require.NoError(t, err)
	_, err = svc.Authenticate(context.Background(), "alice", v)
	require.NoError(t, err)

	records := auditor.Recorded()
	require.Len(t, records, 2)
	assert.Equal(t, models.SessionKindEnroll, records[0].Kind)
	assert.Equal(t, models.SessionKindLogin, records[1].Kind)
	assert.Equal(t, models.VerdictNormal, records[1].Verdict)
	assert.Equal(t, v, records[1].Vector)
}
