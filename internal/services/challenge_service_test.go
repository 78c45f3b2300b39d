package services

import (
	"context"
	"crypto/rand"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrelsec/keyprint/internal/auth"
	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/repositories"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *auth.TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := auth.NewTOTPManager(key, "keyprint")
	require.NoError(t, err)
	return tm
}

func TestChallengeService_Setup_Success(t *testing.T) {
	tm := newTestTOTPManager(t)

	var stored *repositories.ChallengeSecret
	repo := &MockChallengeRepository{
		UpsertFunc: func(ctx context.Context, secret *repositories.ChallengeSecret) error {
			stored = secret
			return nil
		},
	}

	svc := NewChallengeService(repo, tm, slog.Default())

	setup, err := svc.Setup(context.Background(), "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.QRDataURL, "data:image/png;base64,")
	require.NotNil(t, stored)
	assert.Equal(t, "alice", stored.UserID)
	assert.NotEmpty(t, stored.EncryptedSecret)
	assert.NotEmpty(t, stored.Nonce)

	// The stored ciphertext must decrypt back to the issued secret
	plain, err := tm.DecryptSecret(stored.EncryptedSecret, stored.Nonce)
	require.NoError(t, err)
	assert.Equal(t, setup.Secret, string(plain))
}

func TestChallengeService_Verify_Success(t *testing.T) {
	tm := newTestTOTPManager(t)

	var stored *repositories.ChallengeSecret
	marked := false
	repo := &MockChallengeRepository{
		UpsertFunc: func(ctx context.Context, secret *repositories.ChallengeSecret) error {
			stored = secret
			return nil
		},
		GetByUserIDFunc: func(ctx context.Context, userID string) (*repositories.ChallengeSecret, error) {
			return stored, nil
		},
		MarkUsedFunc: func(ctx context.Context, userID string, usedAt time.Time) error {
			marked = true
			return nil
		},
	}

	svc := NewChallengeService(repo, tm, slog.Default())

	setup, err := svc.Setup(context.Background(), "alice")
	require.NoError(t, err)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.Verify(context.Background(), "alice", code))
	assert.True(t, marked)
}

func TestChallengeService_Verify_NoDevice(t *testing.T) {
	svc := NewChallengeService(&MockChallengeRepository{}, newTestTOTPManager(t), slog.Default())

	err := svc.Verify(context.Background(), "bob", "123456")
	assert.ErrorIs(t, err, models.ErrChallengeNotSetUp)
}

func TestChallengeService_Verify_WrongCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	var stored *repositories.ChallengeSecret
	repo := &MockChallengeRepository{
		UpsertFunc: func(ctx context.Context, secret *repositories.ChallengeSecret) error {
			stored = secret
			return nil
		},
		GetByUserIDFunc: func(ctx context.Context, userID string) (*repositories.ChallengeSecret, error) {
			return stored, nil
		},
	}

	svc := NewChallengeService(repo, tm, slog.Default())
	_, err := svc.Setup(context.Background(), "alice")
	require.NoError(t, err)

	err = svc.Verify(context.Background(), "alice", "000000")
	assert.ErrorIs(t, err, models.ErrChallengeFailed)
}

func TestChallengeService_Verify_Replay(t *testing.T) {
	tm := newTestTOTPManager(t)

	var stored *repositories.ChallengeSecret
	repo := &MockChallengeRepository{
		UpsertFunc: func(ctx context.Context, secret *repositories.ChallengeSecret) error {
			stored = secret
			return nil
		},
		GetByUserIDFunc: func(ctx context.Context, userID string) (*repositories.ChallengeSecret, error) {
			return stored, nil
		},
		MarkUsedFunc: func(ctx context.Context, userID string, usedAt time.Time) error {
			stored.LastUsedAt = &usedAt
			return nil
		},
	}

	svc := NewChallengeService(repo, tm, slog.Default())
	setup, err := svc.Setup(context.Background(), "alice")
	require.NoError(t, err)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.Verify(context.Background(), "alice", code))

	err = svc.Verify(context.Background(), "alice", code)
	assert.ErrorIs(t, err, models.ErrChallengeReplay)
}

func TestChallengeService_HasDevice(t *testing.T) {
	repo := &MockChallengeRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*repositories.ChallengeSecret, error) {
			if userID == "alice" {
				return &repositories.ChallengeSecret{UserID: "alice"}, nil
			}
			return nil, models.ErrNotFound
		},
	}

	svc := NewChallengeService(repo, newTestTOTPManager(t), slog.Default())
	assert.True(t, svc.HasDevice(context.Background(), "alice"))
	assert.False(t, svc.HasDevice(context.Background(), "bob"))
}
