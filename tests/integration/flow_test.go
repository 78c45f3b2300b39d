package integration

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrelsec/keyprint/internal/detector"
	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/repositories"
	"github.com/kestrelsec/keyprint/internal/services"
	"github.com/kestrelsec/keyprint/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopNotifier struct{}

func (noopNotifier) NotifyAnomaly(context.Context, string, float64, string) {}

func newEngine(testDB *TestDB, cfg detector.Config) (*services.DecisionService, *services.SessionLogService, error) {
	logger := slog.Default()
	profileRepo := repositories.NewProfileRepository(testDB.DB, cfg, logger)
	sessionRepo := repositories.NewSessionRecordRepository(testDB.DB)
	sessionLog := services.NewSessionLogService(sessionRepo, logger)

	profileStore := store.NewProfileStore()
	persisted, err := profileRepo.LoadAll(context.Background())
	if err != nil {
		return nil, nil, err
	}
	profileStore.Hydrate(persisted)

	engine := services.NewDecisionService(
		profileStore, profileRepo, sessionLog, noopNotifier{}, cfg, logger)
	return engine, sessionLog, nil
}

func TestEnrollAuthenticateFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	cfg := detector.DefaultConfig()
	engine, sessionLog, err := newEngine(testDB, cfg)
	require.NoError(t, err)

	// Enroll three genuine sessions
	for i, v := range GenuineSessions() {
		result, err := engine.Enroll(ctx, "alice", v)
		require.NoError(t, err)
		assert.Equal(t, i+1, result.HistoryLen)
	}

	// Impostor probe flags as an anomaly via the trained model
	result, err := engine.Authenticate(ctx, "alice", ImpostorSession())
	require.NoError(t, err)
	assert.Equal(t, models.VerdictAnomaly, result.Verdict)
	assert.Equal(t, models.MethodModel, result.Method)
	assert.GreaterOrEqual(t, result.Score, cfg.Threshold)

	// Genuine probe passes
	result, err = engine.Authenticate(ctx, "alice", GenuineSessions()[0])
	require.NoError(t, err)
	assert.Equal(t, models.VerdictNormal, result.Verdict)

	// Unknown user has no profile
	_, err = engine.Authenticate(ctx, "bob", GenuineSessions()[0])
	assert.ErrorIs(t, err, models.ErrNoProfile)

	// Every attempt landed on the audit surface
	records, err := sessionLog.ListRecent(ctx, "alice", 50)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestHydrationSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	cfg := detector.DefaultConfig()
	engine, _, err := newEngine(testDB, cfg)
	require.NoError(t, err)

	for _, v := range GenuineSessions() {
		_, err := engine.Enroll(ctx, "alice", v)
		require.NoError(t, err)
	}

	probe := ImpostorSession()
	before, err := engine.Authenticate(ctx, "alice", probe)
	require.NoError(t, err)

	// A fresh engine hydrated from the database must reproduce the
	// verdict exactly, including the restored model snapshot
	restarted, _, err := newEngine(testDB, cfg)
	require.NoError(t, err)

	after, err := restarted.Authenticate(ctx, "alice", probe)
	require.NoError(t, err)

	assert.Equal(t, before.Verdict, after.Verdict)
	assert.Equal(t, before.Method, after.Method)
	assert.InDelta(t, before.Score, after.Score, 1e-12)
	assert.Equal(t, map[string]int{"alice": 3}, restarted.ProfileCounts())
}

func TestSessionRecordRetention(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	sessionRepo := repositories.NewSessionRecordRepository(testDB.DB)

	rec := &models.SessionRecord{
		UserID:  "alice",
		Kind:    models.SessionKindLogin,
		Vector:  GenuineSessions()[0],
		Method:  models.MethodBaseline,
		Score:   0.1,
		Verdict: models.VerdictNormal,
	}
	require.NoError(t, sessionRepo.Create(ctx, rec))

	// Backdate the record past the retention window
	_, err = testDB.Pool.Exec(ctx,
		`UPDATE session_records SET created_at = NOW() - INTERVAL '100 days' WHERE id = $1`, rec.ID)
	require.NoError(t, err)

	deleted, err := sessionRepo.DeleteOlderThan(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	records, err := sessionRepo.ListRecent(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
