package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kestrelsec/keyprint/internal/auth"
	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	EnrollFunc       func(ctx context.Context, userID string, v models.FeatureVector) (*services.EnrollResult, error)
	AuthenticateFunc func(ctx context.Context, userID string, v models.FeatureVector) (*services.AuthResult, error)
	Counts           map[string]int
}

func (m *mockEngine) Enroll(ctx context.Context, userID string, v models.FeatureVector) (*services.EnrollResult, error) {
	if m.EnrollFunc != nil {
		return m.EnrollFunc(ctx, userID, v)
	}
	return &services.EnrollResult{UserID: userID, HistoryLen: 1}, nil
}

func (m *mockEngine) Authenticate(ctx context.Context, userID string, v models.FeatureVector) (*services.AuthResult, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, userID, v)
	}
	return nil, models.ErrNoProfile
}

func (m *mockEngine) ProfileCounts() map[string]int {
	if m.Counts != nil {
		return m.Counts
	}
	return map[string]int{}
}

type mockSessionLister struct {
	ListRecentFunc func(ctx context.Context, userID string, limit int) ([]*models.SessionRecord, error)
}

func (m *mockSessionLister) ListRecent(ctx context.Context, userID string, limit int) ([]*models.SessionRecord, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, userID, limit)
	}
	return []*models.SessionRecord{}, nil
}

type mockDeviceChecker struct {
	HasDeviceFunc func(ctx context.Context, userID string) bool
}

func (m *mockDeviceChecker) HasDevice(ctx context.Context, userID string) bool {
	if m.HasDeviceFunc != nil {
		return m.HasDeviceFunc(ctx, userID)
	}
	return false
}

func newTestHandler(engine *mockEngine, sessions *mockSessionLister, devices DeviceChecker) *BehaviorHandler {
	tm := auth.NewTokenManager("test-secret-that-is-long-enough", 5*time.Minute)
	return NewBehaviorHandler(engine, sessions, tm, devices, slog.Default())
}

func enrollBody(userID string) string {
	return fmt.Sprintf(`{
		"user_id": %q,
		"features": {
			"avg_interval": 120.5,
			"avg_hold_time": 85.2,
			"typing_speed": 4.1,
			"backspace_count": 2,
			"total_keys": 48,
			"mouse_speed": 310.7
		}
	}`, userID)
}

func TestBehaviorHandler_Enroll_Success(t *testing.T) {
	engine := &mockEngine{
		EnrollFunc: func(ctx context.Context, userID string, v models.FeatureVector) (*services.EnrollResult, error) {
			assert.Equal(t, "alice", userID)
			assert.Equal(t, 48, v.TotalKeys)
			return &services.EnrollResult{UserID: userID, HistoryLen: 3, Trained: true}, nil
		},
	}
	h := newTestHandler(engine, &mockSessionLister{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/behavior/enroll", bytes.NewBufferString(enrollBody("alice")))
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp EnrollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "saved", resp.Status)
	assert.Equal(t, 3, resp.HistoryLen)
	assert.True(t, resp.Trained)
}

func TestBehaviorHandler_Enroll_NormalizesUserID(t *testing.T) {
	var got string
	engine := &mockEngine{
		EnrollFunc: func(ctx context.Context, userID string, v models.FeatureVector) (*services.EnrollResult, error) {
			got = userID
			return &services.EnrollResult{UserID: userID, HistoryLen: 1}, nil
		},
	}
	h := newTestHandler(engine, &mockSessionLister{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/behavior/enroll", bytes.NewBufferString(enrollBody("  Alice ")))
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", got)
}

func TestBehaviorHandler_Enroll_MissingFeatureField(t *testing.T) {
	h := newTestHandler(&mockEngine{}, &mockSessionLister{}, nil)

	body := `{"user_id":"alice","features":{"avg_interval":120,"typing_speed":4,"backspace_count":2,"total_keys":48,"mouse_speed":300}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/behavior/enroll", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "AvgHoldTime")
}

func TestBehaviorHandler_Enroll_MalformedJSON(t *testing.T) {
	h := newTestHandler(&mockEngine{}, &mockSessionLister{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/behavior/enroll", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBehaviorHandler_Enroll_InvalidVector(t *testing.T) {
	engine := &mockEngine{
		EnrollFunc: func(ctx context.Context, userID string, v models.FeatureVector) (*services.EnrollResult, error) {
			return nil, fmt.Errorf("%w: typing_speed is negative", models.ErrInvalidVector)
		},
	}
	h := newTestHandler(engine, &mockSessionLister{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/behavior/enroll", bytes.NewBufferString(enrollBody("alice")))
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "typing_speed")
}

func TestBehaviorHandler_Authenticate_NoProfile(t *testing.T) {
	h := newTestHandler(&mockEngine{}, &mockSessionLister{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/behavior/authenticate", bytes.NewBufferString(enrollBody("bob")))
	rec := httptest.NewRecorder()
	h.Authenticate(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBehaviorHandler_Authenticate_NormalMintsAttestation(t *testing.T) {
	engine := &mockEngine{
		AuthenticateFunc: func(ctx context.Context, userID string, v models.FeatureVector) (*services.AuthResult, error) {
			return &services.AuthResult{UserID: userID, Verdict: models.VerdictNormal, Score: 0.12, Method: models.MethodModel}, nil
		},
	}
	h := newTestHandler(engine, &mockSessionLister{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/behavior/authenticate", bytes.NewBufferString(enrollBody("alice")))
	rec := httptest.NewRecorder()
	h.Authenticate(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp AuthenticateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "normal", resp.Status)
	assert.Equal(t, 0.12, resp.Score)
	assert.Equal(t, "model", resp.Method)
	assert.NotEmpty(t, resp.AttestationToken)
	assert.False(t, resp.ChallengeRequired)
}

func TestBehaviorHandler_Authenticate_AnomalyWithDevice(t *testing.T) {
	engine := &mockEngine{
		AuthenticateFunc: func(ctx context.Context, userID string, v models.FeatureVector) (*services.AuthResult, error) {
			return &services.AuthResult{UserID: userID, Verdict: models.VerdictAnomaly, Score: 0.91, Method: models.MethodModel}, nil
		},
	}
	devices := &mockDeviceChecker{
		HasDeviceFunc: func(ctx context.Context, userID string) bool { return true },
	}
	h := newTestHandler(engine, &mockSessionLister{}, devices)

	req := httptest.NewRequest(http.MethodPost, "/v1/behavior/authenticate", bytes.NewBufferString(enrollBody("alice")))
	rec := httptest.NewRecorder()
	h.Authenticate(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp AuthenticateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "anomaly", resp.Status)
	assert.Empty(t, resp.AttestationToken)
	assert.True(t, resp.ChallengeRequired)
}

func TestBehaviorHandler_Profiles(t *testing.T) {
	engine := &mockEngine{Counts: map[string]int{"alice": 3, "bob": 1}}
	h := newTestHandler(engine, &mockSessionLister{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/behavior/profiles", nil)
	rec := httptest.NewRecorder()
	h.Profiles(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ProfilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 3, resp.Profiles["alice"])
}

func TestBehaviorHandler_Sessions(t *testing.T) {
	sessions := &mockSessionLister{
		ListRecentFunc: func(ctx context.Context, userID string, limit int) ([]*models.SessionRecord, error) {
			assert.Equal(t, "alice", userID)
			assert.Equal(t, 10, limit)
			return []*models.SessionRecord{
				{ID: uuid.New(), UserID: "alice", Kind: models.SessionKindLogin, Method: models.MethodModel, Score: 0.2, Verdict: models.VerdictNormal, CreatedAt: time.Now()},
			}, nil
		},
	}
	h := newTestHandler(&mockEngine{}, sessions, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/behavior/sessions?user_id=alice&limit=10", nil)
	rec := httptest.NewRecorder()
	h.Sessions(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp SessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "alice", resp.Sessions[0].UserID)
}

func TestBehaviorHandler_Sessions_BadLimit(t *testing.T) {
	h := newTestHandler(&mockEngine{}, &mockSessionLister{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/behavior/sessions?limit=ten", nil)
	rec := httptest.NewRecorder()
	h.Sessions(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
