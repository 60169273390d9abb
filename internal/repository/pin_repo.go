package repository

import (
	"context"
	"errors"
	"fmt"

	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PinRepository stores the salted transaction-PIN hash per user. Failed
// attempt counters live in redis with the lockout TTL, not here.
type PinRepository interface {
	GetHash(ctx context.Context, userID string) (string, error)
	SetHash(ctx context.Context, userID, hash string) error
}

type pinRepo struct {
	db *pgxpool.Pool
}

func NewPinRepo(db *pgxpool.Pool) PinRepository {
	return &pinRepo{db: db}
}

func (r *pinRepo) GetHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := r.db.QueryRow(ctx, `SELECT pin_hash FROM user_pins WHERE user_id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", xerrors.ErrPinNotSet
		}
		return "", fmt.Errorf("failed to get pin hash: %w", err)
	}
	return hash, nil
}

func (r *pinRepo) SetHash(ctx context.Context, userID, hash string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_pins (user_id, pin_hash, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET pin_hash = EXCLUDED.pin_hash, updated_at = NOW()
	`, userID, hash)
	if err != nil {
		return fmt.Errorf("failed to set pin hash: %w", err)
	}
	return nil
}
