package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelsec/keyprint/internal/repositories"
)

// CleanupManager periodically purges session records past the retention window
type CleanupManager struct {
	sessionRepo *repositories.SessionRecordRepository
	logger      *slog.Logger
	ttl         time.Duration
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sessionRepo *repositories.SessionRecordRepository,
	logger *slog.Logger,
	ttl time.Duration,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessionRepo: sessionRepo,
		logger:      logger,
		ttl:         ttl,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup removes session records older than the retention window
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.sessionRepo.DeleteOlderThan(cleanupCtx, cm.ttl)
	if err != nil {
		cm.logger.Error("failed to purge expired session records", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("session record retention purge completed",
			slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
