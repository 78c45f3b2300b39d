package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kestrelsec/keyprint/internal/auth"
	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/repositories"
)

// ChallengeRepository is the persistence surface for challenge devices.
type ChallengeRepository interface {
	Upsert(ctx context.Context, secret *repositories.ChallengeSecret) error
	GetByUserID(ctx context.Context, userID string) (*repositories.ChallengeSecret, error)
	MarkUsed(ctx context.Context, userID string, usedAt time.Time) error
}

// ChallengeSetup is returned once at device enrollment. The plain secret
// and QR code are never retrievable again.
type ChallengeSetup struct {
	Secret    string
	QRDataURL string
}

// ChallengeService manages TOTP step-up challenges issued after anomaly
// verdicts. Secrets are stored AES-GCM encrypted.
type ChallengeService struct {
	repo   ChallengeRepository
	totp   *auth.TOTPManager
	logger *slog.Logger
}

// NewChallengeService creates a new ChallengeService.
func NewChallengeService(repo ChallengeRepository, totp *auth.TOTPManager, logger *slog.Logger) *ChallengeService {
	return &ChallengeService{
		repo:   repo,
		totp:   totp,
		logger: logger,
	}
}

// Setup enrolls (or replaces) a user's challenge device.
func (s *ChallengeService) Setup(ctx context.Context, userID string) (*ChallengeSetup, error) {
	encrypted, nonce, secret, qrDataURL, err := s.totp.GenerateSecretWithQR(userID)
	if err != nil {
		s.logger.Error("failed to generate challenge secret",
			slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	err = s.repo.Upsert(ctx, &repositories.ChallengeSecret{
		UserID:          userID,
		EncryptedSecret: encrypted,
		Nonce:           nonce,
	})
	if err != nil {
		s.logger.Error("failed to store challenge secret",
			slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("challenge device enrolled", slog.String("user_id", userID))

	return &ChallengeSetup{
		Secret:    secret,
		QRDataURL: qrDataURL,
	}, nil
}

// Verify checks a submitted TOTP code against the user's device and
// marks it used for replay prevention.
func (s *ChallengeService) Verify(ctx context.Context, userID, code string) error {
	stored, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrChallengeNotSetUp
		}
		return fmt.Errorf("failed to load challenge secret: %w", err)
	}

	secretBytes, err := s.totp.DecryptSecret(stored.EncryptedSecret, stored.Nonce)
	if err != nil {
		s.logger.Error("failed to decrypt challenge secret",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	valid, err := s.totp.ValidateTOTP(secretBytes, code, stored.LastUsedAt)
	if err != nil {
		if strings.Contains(err.Error(), "replay") {
			return models.ErrChallengeReplay
		}
		return fmt.Errorf("failed to validate challenge code: %w", err)
	}
	if !valid {
		return models.ErrChallengeFailed
	}

	if err := s.repo.MarkUsed(ctx, userID, time.Now().UTC()); err != nil {
		s.logger.Error("failed to mark challenge secret used",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("challenge passed", slog.String("user_id", userID))

	return nil
}

// HasDevice reports whether the user has a challenge device enrolled.
func (s *ChallengeService) HasDevice(ctx context.Context, userID string) bool {
	_, err := s.repo.GetByUserID(ctx, userID)
	return err == nil
}
