package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kestrelsec/keyprint/internal/database"
	"github.com/kestrelsec/keyprint/internal/models"
)

// SessionRecordRepository handles the append-only session audit surface.
type SessionRecordRepository struct {
	db *database.DB
}

// NewSessionRecordRepository creates a new SessionRecordRepository.
func NewSessionRecordRepository(db *database.DB) *SessionRecordRepository {
	return &SessionRecordRepository{db: db}
}

// Create appends one session record. Records are immutable once written.
func (r *SessionRecordRepository) Create(ctx context.Context, rec *models.SessionRecord) error {
	query := `
		INSERT INTO session_records (
			user_id, kind, method, score, verdict,
			avg_interval, avg_hold_time, typing_speed,
			backspace_count, total_keys, mouse_speed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.UserID, rec.Kind, rec.Method, rec.Score, rec.Verdict,
		rec.Vector.AvgInterval, rec.Vector.AvgHoldTime, rec.Vector.TypingSpeed,
		rec.Vector.BackspaceCount, rec.Vector.TotalKeys, rec.Vector.MouseSpeed,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", database.MapPostgresError(err))
	}

	return nil
}

// ListRecent returns the most recent records, optionally filtered by user.
func (r *SessionRecordRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*models.SessionRecord, error) {
	query := `
		SELECT id, user_id, kind, method, score, verdict,
		       avg_interval, avg_hold_time, typing_speed,
		       backspace_count, total_keys, mouse_speed, created_at
		FROM session_records
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session records: %w", err)
	}

	return scanSessionRecordRows(rows)
}

// DeleteOlderThan removes records past the retention window and returns
// the number of rows deleted.
func (r *SessionRecordRepository) DeleteOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	query := `DELETE FROM session_records WHERE created_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired session records: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanSessionRecordRows(rows pgx.Rows) ([]*models.SessionRecord, error) {
	defer rows.Close()

	records := make([]*models.SessionRecord, 0)
	for rows.Next() {
		var rec models.SessionRecord
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Kind, &rec.Method, &rec.Score, &rec.Verdict,
			&rec.Vector.AvgInterval, &rec.Vector.AvgHoldTime, &rec.Vector.TypingSpeed,
			&rec.Vector.BackspaceCount, &rec.Vector.TotalKeys, &rec.Vector.MouseSpeed,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session record rows: %w", err)
	}

	return records, nil
}
