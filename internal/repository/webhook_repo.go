package repository

import (
	"context"
	"fmt"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookRepository persists every inbound provider notification. A
// partial unique index on (provider, external_event_id) WHERE
// outcome = 'applied' guarantees at most one applied row per event while
// still recording every duplicate delivery.
type WebhookRepository interface {
	// InsertApplied claims the event inside the caller's transaction. A
	// unique violation surfaces as ErrDuplicateEvent; rolling back the tx
	// releases the claim.
	InsertApplied(ctx context.Context, tx pgx.Tx, e *domain.WebhookEvent) error
	// Record persists an event with a non-applied outcome (duplicate,
	// ignored, rejected) outside any transaction.
	Record(ctx context.Context, e *domain.WebhookEvent) error
	WasApplied(ctx context.Context, provider, externalEventID string) (bool, error)
}

type webhookRepo struct {
	db *pgxpool.Pool
}

func NewWebhookRepo(db *pgxpool.Pool) WebhookRepository {
	return &webhookRepo{db: db}
}

const insertWebhookSQL = `
	INSERT INTO webhook_events
	(provider, external_event_id, payload_digest, outcome, transaction_ref, processed_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	RETURNING id, received_at
`

func (r *webhookRepo) InsertApplied(ctx context.Context, tx pgx.Tx, e *domain.WebhookEvent) error {
	e.Outcome = domain.WebhookApplied
	err := tx.QueryRow(ctx, insertWebhookSQL,
		e.Provider, e.ExternalEventID, e.PayloadDigest, e.Outcome, e.TransactionRef,
	).Scan(&e.ID, &e.ReceivedAt)
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return xerrors.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert webhook event: %w", err)
	}
	return nil
}

func (r *webhookRepo) Record(ctx context.Context, e *domain.WebhookEvent) error {
	err := r.db.QueryRow(ctx, insertWebhookSQL,
		e.Provider, e.ExternalEventID, e.PayloadDigest, e.Outcome, e.TransactionRef,
	).Scan(&e.ID, &e.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

func (r *webhookRepo) WasApplied(ctx context.Context, provider, externalEventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM webhook_events
			WHERE provider = $1 AND external_event_id = $2 AND outcome = 'applied'
		)
	`, provider, externalEventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return exists, nil
}
