package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrelsec/keyprint/internal/models"
)

// SessionRecordRepository is the persistence surface for session records.
type SessionRecordRepository interface {
	Create(ctx context.Context, rec *models.SessionRecord) error
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.SessionRecord, error)
}

// SessionLogService handles session auditing with a dual-write pattern
// (slog + database). Persistence is best-effort: a failed insert is
// logged and swallowed so scoring requests never fail on audit writes.
type SessionLogService struct {
	repo   SessionRecordRepository
	logger *slog.Logger
}

// NewSessionLogService creates a new SessionLogService.
func NewSessionLogService(repo SessionRecordRepository, logger *slog.Logger) *SessionLogService {
	return &SessionLogService{
		repo:   repo,
		logger: logger,
	}
}

// Record writes one session record.
func (s *SessionLogService) Record(ctx context.Context, rec *models.SessionRecord) {
	// Dual-write: immediate slog output
	if rec.Verdict == models.VerdictAnomaly {
		s.logger.WarnContext(ctx, "session record",
			slog.String("user_id", rec.UserID),
			slog.String("kind", rec.Kind),
			slog.String("method", rec.Method),
			slog.Float64("score", rec.Score),
			slog.String("verdict", rec.Verdict),
		)
	} else {
		s.logger.InfoContext(ctx, "session record",
			slog.String("user_id", rec.UserID),
			slog.String("kind", rec.Kind),
			slog.String("verdict", rec.Verdict),
		)
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist session record",
			slog.String("user_id", rec.UserID),
			slog.String("kind", rec.Kind),
			slog.Any("error", err),
		)
	}
}

// ListRecent returns the most recent session records, optionally filtered
// by user id. Limits outside (0, 100] fall back to 50.
func (s *SessionLogService) ListRecent(ctx context.Context, userID string, limit int) ([]*models.SessionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	records, err := s.repo.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}

	return records, nil
}
