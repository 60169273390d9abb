package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TransitionUpdate carries the optional fields a status transition sets
// alongside the new status, in the same atomic scope.
type TransitionUpdate struct {
	ProviderReference *string
	BalanceBefore     *decimal.Decimal
	BalanceAfter      *decimal.Decimal
	FailureReason     *string
	NextRetryAt       *time.Time
	IncrementAttempt  bool
}

type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error
	Get(ctx context.Context, reference string) (*domain.Transaction, error)
	GetByProviderRef(ctx context.Context, provider, providerRef string) (*domain.Transaction, error)
	Transition(ctx context.Context, tx pgx.Tx, reference, from, to string, update *TransitionUpdate) error
	// Reschedule bumps next_retry_at and the attempt counter without a
	// status change, conditional on the status still matching.
	Reschedule(ctx context.Context, reference, status string, next time.Time) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int64, error)
	ListPendingWebhook(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error)
	ListStaleReserved(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepo(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const txnColumns = `
	reference, user_id, direction, category,
	amount::text, fee::text, total_amount::text, currency,
	status, description, recipient_details, sender_details,
	provider, provider_reference,
	balance_before::text, balance_after::text,
	parent_reference, idempotency_key, failure_reason,
	attempt_count, next_retry_at,
	created_at, processed_at, completed_at, failed_at`

func (r *transactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	recipient, err := marshalParty(t.Recipient)
	if err != nil {
		return err
	}
	sender, err := marshalParty(t.Sender)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions
		(reference, user_id, direction, category, amount, fee, total_amount, currency,
		 status, description, recipient_details, sender_details, provider,
		 parent_reference, idempotency_key)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8,
		        $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at
	`
	row := tx.QueryRow(ctx, query,
		t.Reference, t.UserID, t.Direction, t.Category,
		t.Amount.StringFixed(2), t.Fee.StringFixed(2), t.TotalAmount.StringFixed(2), t.Currency,
		t.Status, t.Description, recipient, sender, nullIfEmpty(t.Provider),
		t.ParentReference, t.IdempotencyKey,
	)
	if err := row.Scan(&t.CreatedAt); err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) Get(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE reference = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, reference))
}

func (r *transactionRepo) GetByProviderRef(ctx context.Context, provider, providerRef string) (*domain.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE provider = $1 AND provider_reference = $2`
	return scanTransaction(r.db.QueryRow(ctx, query, provider, providerRef))
}

// Transition moves a transaction from one status to another with a
// conditional UPDATE. Zero rows affected means another writer already
// moved the row; the caller re-reads and decides.
func (r *transactionRepo) Transition(ctx context.Context, tx pgx.Tx, reference, from, to string, update *TransitionUpdate) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, xerrors.ErrInvalidTransition)
	}
	if update == nil {
		update = &TransitionUpdate{}
	}

	query := `
		UPDATE transactions
		SET status = $3,
		    provider_reference = COALESCE($4, provider_reference),
		    balance_before = COALESCE($5::numeric, balance_before),
		    balance_after = COALESCE($6::numeric, balance_after),
		    failure_reason = COALESCE($7, failure_reason),
		    next_retry_at = $8,
		    attempt_count = attempt_count + $9,
		    processed_at = CASE WHEN $3 IN ('dispatched', 'pending_webhook', 'pending_settlement') THEN NOW() ELSE processed_at END,
		    completed_at = CASE WHEN $3 = 'completed' THEN NOW() ELSE completed_at END,
		    failed_at = CASE WHEN $3 IN ('failed', 'abandoned') THEN NOW() ELSE failed_at END
		WHERE reference = $1 AND status = $2
	`
	attemptInc := 0
	if update.IncrementAttempt {
		attemptInc = 1
	}
	tag, err := tx.Exec(ctx, query,
		reference, from, to,
		update.ProviderReference,
		decimalPtrString(update.BalanceBefore), decimalPtrString(update.BalanceAfter),
		update.FailureReason, update.NextRetryAt, attemptInc,
	)
	if err != nil {
		return fmt.Errorf("failed to transition transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrConcurrentUpdate
	}
	return nil
}

func (r *transactionRepo) Reschedule(ctx context.Context, reference, status string, next time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET next_retry_at = $3, attempt_count = attempt_count + 1
		WHERE reference = $1 AND status = $2
	`, reference, status, next)
	if err != nil {
		return fmt.Errorf("failed to reschedule transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrConcurrentUpdate
	}
	return nil
}

func (r *transactionRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `SELECT ` + txnColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	list, err := collectTransactions(rows)
	return list, total, err
}

func (r *transactionRepo) ListPendingWebhook(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + txnColumns + `
		FROM transactions
		WHERE status = 'pending_webhook' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *transactionRepo) ListStaleReserved(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + txnColumns + `
		FROM transactions
		WHERE status = 'reserved' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale reserved transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t                           domain.Transaction
		amount, fee, total          string
		balanceBefore, balanceAfter *string
		recipient, sender           []byte
		provider                    *string
	)
	err := row.Scan(
		&t.Reference, &t.UserID, &t.Direction, &t.Category,
		&amount, &fee, &total, &t.Currency,
		&t.Status, &t.Description, &recipient, &sender,
		&provider, &t.ProviderReference,
		&balanceBefore, &balanceAfter,
		&t.ParentReference, &t.IdempotencyKey, &t.FailureReason,
		&t.AttemptCount, &t.NextRetryAt,
		&t.CreatedAt, &t.ProcessedAt, &t.CompletedAt, &t.FailedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	if t.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("failed to parse fee: %w", err)
	}
	if t.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to parse total amount: %w", err)
	}
	if balanceBefore != nil {
		d, err := decimal.NewFromString(*balanceBefore)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance before: %w", err)
		}
		t.BalanceBefore = &d
	}
	if balanceAfter != nil {
		d, err := decimal.NewFromString(*balanceAfter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance after: %w", err)
		}
		t.BalanceAfter = &d
	}
	if provider != nil {
		t.Provider = *provider
	}
	if len(recipient) > 0 {
		var rec domain.Recipient
		if err := json.Unmarshal(recipient, &rec); err == nil {
			t.Recipient = &rec
		}
	}
	if len(sender) > 0 {
		var snd domain.Recipient
		if err := json.Unmarshal(sender, &snd); err == nil {
			t.Sender = &snd
		}
	}
	return &t, nil
}

func marshalParty(p *domain.Recipient) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal party details: %w", err)
	}
	return b, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
