package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kestrelsec/keyprint/internal/database"
	"github.com/kestrelsec/keyprint/internal/detector"
	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/store"
)

// ProfileRepository persists profiles: one row per user plus the ordered
// enrollment history, with the fitted forest stored as a JSONB snapshot
// so process restarts do not refit from scratch.
type ProfileRepository struct {
	db     *database.DB
	cfg    detector.Config
	logger *slog.Logger
}

// NewProfileRepository creates a new ProfileRepository. The detector
// config is needed to rebuild baselines when hydrating.
func NewProfileRepository(db *database.DB, cfg detector.Config, logger *slog.Logger) *ProfileRepository {
	return &ProfileRepository{db: db, cfg: cfg, logger: logger}
}

// Save writes through one enrollment: the appended vector at its history
// position and the (possibly refit) model snapshot, in one transaction.
// position is zero-based and must equal len(history)-1 at call time.
func (r *ProfileRepository) Save(ctx context.Context, p *store.Profile, appended models.FeatureVector, position int) error {
	var modelState []byte
	var fitLen *int
	if p.Forest != nil {
		b, err := json.Marshal(p.Forest)
		if err != nil {
			return fmt.Errorf("failed to serialize model state: %w", err)
		}
		modelState = b
		fitLen = &p.Forest.FitLen
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO profiles (user_id, model_state, model_fit_len, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO UPDATE
			SET model_state = EXCLUDED.model_state,
			    model_fit_len = EXCLUDED.model_fit_len,
			    updated_at = EXCLUDED.updated_at
		`, p.UserID, modelState, fitLen, p.CreatedAt, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert profile: %w", database.MapPostgresError(err))
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO enrollment_vectors (
				user_id, position, avg_interval, avg_hold_time, typing_speed,
				backspace_count, total_keys, mouse_speed
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.UserID, position, appended.AvgInterval, appended.AvgHoldTime,
			appended.TypingSpeed, appended.BackspaceCount, appended.TotalKeys, appended.MouseSpeed)
		if err != nil {
			return fmt.Errorf("failed to insert enrollment vector: %w", database.MapPostgresError(err))
		}

		return nil
	})
}

// LoadAll hydrates every persisted profile. Baselines are refit from the
// history (cheap and deterministic); forests are restored from the JSONB
// snapshot when present and fresh, otherwise left absent so the next
// enrollment refits.
func (r *ProfileRepository) LoadAll(ctx context.Context) ([]*store.Profile, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT user_id, model_state, model_fit_len, created_at, updated_at
		FROM profiles
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}

	type rawProfile struct {
		modelState []byte
		fitLen     *int
	}
	raw := make(map[string]*rawProfile)
	profiles := make(map[string]*store.Profile)

	for rows.Next() {
		var p store.Profile
		var rp rawProfile
		if err := rows.Scan(&p.UserID, &rp.modelState, &rp.fitLen, &p.CreatedAt, &p.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles[p.UserID] = &p
		raw[p.UserID] = &rp
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	rows.Close()

	vectorRows, err := r.db.Pool.Query(ctx, `
		SELECT user_id, avg_interval, avg_hold_time, typing_speed,
		       backspace_count, total_keys, mouse_speed
		FROM enrollment_vectors
		ORDER BY user_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollment vectors: %w", err)
	}
	defer vectorRows.Close()

	for vectorRows.Next() {
		var userID string
		var v models.FeatureVector
		if err := vectorRows.Scan(&userID, &v.AvgInterval, &v.AvgHoldTime,
			&v.TypingSpeed, &v.BackspaceCount, &v.TotalKeys, &v.MouseSpeed); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment vector: %w", err)
		}
		if p, ok := profiles[userID]; ok {
			p.History = append(p.History, v)
		}
	}
	if err := vectorRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollment vectors: %w", err)
	}

	out := make([]*store.Profile, 0, len(profiles))
	for userID, p := range profiles {
		if len(p.History) > 0 {
			baseline, err := detector.FitBaseline(p.History, r.cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to refit baseline for %s: %w", userID, err)
			}
			p.Baseline = baseline
		}

		rp := raw[userID]
		if rp.modelState != nil && rp.fitLen != nil && *rp.fitLen == len(p.History) {
			var forest detector.Forest
			if err := json.Unmarshal(rp.modelState, &forest); err != nil {
				// A bad snapshot is not fatal: the next enrollment refits.
				r.logger.Warn("discarding unreadable model snapshot",
					slog.String("user_id", userID), slog.Any("error", err))
			} else {
				p.Forest = &forest
			}
		}

		out = append(out, p)
	}

	return out, nil
}
