package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepository collapses client retries: the first caller for a
// (user_id, key) pair claims it, later callers within the TTL get the
// stored transaction reference back.
type IdempotencyRepository interface {
	// Claim returns (reference, false) when a fresh record already holds
	// the key, or (proposed, true) when this caller won the claim.
	Claim(ctx context.Context, userID, key, proposedRef string, ttl time.Duration) (string, bool, error)
	// Release drops a claim that never produced a transaction so the
	// client can retry with the same key.
	Release(ctx context.Context, userID, key string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type idempotencyRepo struct {
	db *pgxpool.Pool
}

func NewIdempotencyRepo(db *pgxpool.Pool) IdempotencyRepository {
	return &idempotencyRepo{db: db}
}

func (r *idempotencyRepo) Claim(ctx context.Context, userID, key, proposedRef string, ttl time.Duration) (string, bool, error) {
	// CAS insert: take the key if absent, or steal it if the previous
	// record expired. No row back means someone else holds a fresh claim.
	query := `
		INSERT INTO idempotency_records (user_id, key, reference, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, key) DO UPDATE
			SET reference = EXCLUDED.reference, expires_at = EXCLUDED.expires_at
			WHERE idempotency_records.expires_at <= NOW()
		RETURNING reference
	`
	var ref string
	err := r.db.QueryRow(ctx, query, userID, key, proposedRef, time.Now().Add(ttl)).Scan(&ref)
	if err == nil {
		return ref, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT reference FROM idempotency_records WHERE user_id = $1 AND key = $2`,
		userID, key,
	).Scan(&ref)
	if err != nil {
		return "", false, fmt.Errorf("failed to read idempotency record: %w", err)
	}
	return ref, false, nil
}

func (r *idempotencyRepo) Release(ctx context.Context, userID, key string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM idempotency_records WHERE user_id = $1 AND key = $2`,
		userID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to release idempotency record: %w", err)
	}
	return nil
}

func (r *idempotencyRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
