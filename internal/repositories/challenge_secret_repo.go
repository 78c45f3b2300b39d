package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kestrelsec/keyprint/internal/database"
	"github.com/kestrelsec/keyprint/internal/models"
)

// ChallengeSecret is a stored step-up challenge device: the AES-GCM
// encrypted TOTP secret plus replay-prevention state.
type ChallengeSecret struct {
	UserID          string     `db:"user_id"`
	EncryptedSecret []byte     `db:"encrypted_secret"`
	Nonce           []byte     `db:"nonce"`
	LastUsedAt      *time.Time `db:"last_used_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

// ChallengeSecretRepository handles challenge device persistence.
type ChallengeSecretRepository struct {
	db *database.DB
}

// NewChallengeSecretRepository creates a new ChallengeSecretRepository.
func NewChallengeSecretRepository(db *database.DB) *ChallengeSecretRepository {
	return &ChallengeSecretRepository{db: db}
}

// Upsert stores or replaces a user's challenge device.
func (r *ChallengeSecretRepository) Upsert(ctx context.Context, secret *ChallengeSecret) error {
	query := `
		INSERT INTO challenge_secrets (user_id, encrypted_secret, nonce)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET encrypted_secret = EXCLUDED.encrypted_secret,
		    nonce = EXCLUDED.nonce,
		    last_used_at = NULL
	`

	_, err := r.db.Pool.Exec(ctx, query, secret.UserID, secret.EncryptedSecret, secret.Nonce)
	if err != nil {
		return fmt.Errorf("failed to upsert challenge secret: %w", database.MapPostgresError(err))
	}

	return nil
}

// GetByUserID returns the user's challenge device, or ErrNotFound.
func (r *ChallengeSecretRepository) GetByUserID(ctx context.Context, userID string) (*ChallengeSecret, error) {
	query := `
		SELECT user_id, encrypted_secret, nonce, last_used_at, created_at
		FROM challenge_secrets
		WHERE user_id = $1
	`

	var secret ChallengeSecret
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&secret.UserID, &secret.EncryptedSecret, &secret.Nonce,
		&secret.LastUsedAt, &secret.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge secret: %w", err)
	}

	return &secret, nil
}

// MarkUsed records the time a code was accepted, for replay rejection.
func (r *ChallengeSecretRepository) MarkUsed(ctx context.Context, userID string, usedAt time.Time) error {
	query := `UPDATE challenge_secrets SET last_used_at = $2 WHERE user_id = $1`

	_, err := r.db.Pool.Exec(ctx, query, userID, usedAt)
	if err != nil {
		return fmt.Errorf("failed to mark challenge secret used: %w", err)
	}

	return nil
}
