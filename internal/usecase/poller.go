package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pub"
	"github.com/DesignerDev23/MiiMii-sub000/internal/repository"
)

const (
	pollBatchSize      = 100
	circuitOpenAlertAt = 10 * time.Minute
)

// Poller chases transactions stuck in pending_webhook: when the webhook
// never arrives it asks the provider directly, on the schedule in
// config.PollSchedule, until the settlement timeout caps the wait.
type Poller struct {
	store    Store
	wallets  repository.WalletRepository
	txns     repository.TransactionRepository
	registry ProviderRegistry
	notifier *pub.Notifier
	alerter  *pub.Alerter
	logger   *zap.Logger

	schedule          []time.Duration
	settlementTimeout time.Duration
	interval          time.Duration
}

func NewPoller(
	store Store,
	wallets repository.WalletRepository,
	txns repository.TransactionRepository,
	registry ProviderRegistry,
	notifier *pub.Notifier,
	alerter *pub.Alerter,
	cfg config.AppConfig,
	logger *zap.Logger,
) *Poller {
	return &Poller{
		store:             store,
		wallets:           wallets,
		txns:              txns,
		registry:          registry,
		notifier:          notifier,
		alerter:           alerter,
		logger:            logger,
		schedule:          cfg.PollSchedule,
		settlementTimeout: cfg.SettlementTimeout,
		interval:          30 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				p.logger.Error("poll pass failed", zap.Error(err))
			}
			p.checkBreakers(ctx)
		}
	}
}

// RunOnce processes one batch of due transactions.
func (p *Poller) RunOnce(ctx context.Context) error {
	due, err := p.txns.ListPendingWebhook(ctx, time.Now(), pollBatchSize)
	if err != nil {
		return err
	}
	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.pollOne(ctx, &due[i])
	}
	return nil
}

func (p *Poller) pollOne(ctx context.Context, txn *domain.Transaction) {
	if time.Since(txn.CreatedAt) >= p.settlementTimeout {
		p.timeOut(ctx, txn)
		return
	}

	adapter, err := p.registry.Get(txn.Provider)
	if err != nil {
		p.logger.Error("poll: unknown provider",
			zap.String("reference", txn.Reference), zap.String("provider", txn.Provider))
		return
	}
	querier, ok := adapter.(domain.StatusQuerier)
	if !ok {
		p.logger.Error("poll: provider cannot be queried", zap.String("provider", txn.Provider))
		return
	}

	breaker := p.registry.Breaker(txn.Provider)
	if err := breaker.Allow(); err != nil {
		// Circuit open; the schedule will bring this transaction back.
		p.reschedule(ctx, txn)
		return
	}

	result, err := querier.QueryStatus(ctx, txn.Reference)
	breaker.Record(err == nil || errors.Is(err, xerrors.ErrTransactionNotFound))
	if err != nil {
		if errors.Is(err, xerrors.ErrTransactionNotFound) {
			// The provider never saw this reference: the send never
			// landed. Safe to fail and refund.
			reason := "provider has no record of transaction"
			p.settle(ctx, txn, domain.StatusFailed, &reason)
			return
		}
		p.logger.Warn("poll: status query failed",
			zap.String("reference", txn.Reference), zap.Error(err))
		p.reschedule(ctx, txn)
		return
	}

	switch result.Status {
	case domain.SyncCompleted:
		p.settle(ctx, txn, domain.StatusCompleted, nil)
	case domain.SyncFailed:
		if result.FailureReason != nil {
			p.logger.Warn("poll: provider reported failure",
				zap.String("reference", txn.Reference),
				zap.String("provider_message", *result.FailureReason))
		}
		reason := reasonProviderDeclined
		p.settle(ctx, txn, domain.StatusFailed, &reason)
	default:
		p.reschedule(ctx, txn)
	}
}

// settle applies a polled terminal status with the same atomicity the
// reconciler uses. Losing the race to a concurrent webhook is fine; the
// conditional transition keeps the ledger single-writer.
func (p *Poller) settle(ctx context.Context, txn *domain.Transaction, target string, reason *string) {
	err := p.store.WithTx(ctx, func(tx pgx.Tx) error {
		update := &repository.TransitionUpdate{FailureReason: reason}

		switch target {
		case domain.StatusCompleted:
			change, err := p.wallets.ApplyDebit(ctx, tx, txn.Reference)
			if err != nil {
				return err
			}
			update.BalanceBefore = &change.Before
			update.BalanceAfter = &change.After
		case domain.StatusFailed:
			if _, err := p.wallets.ReleaseHold(ctx, tx, txn.Reference); err != nil &&
				!errors.Is(err, xerrors.ErrHoldNotFound) {
				return err
			}
		}
		return p.txns.Transition(ctx, tx, txn.Reference, txn.Status, target, update)
	})
	if err != nil {
		if errors.Is(err, xerrors.ErrConcurrentUpdate) || errors.Is(err, xerrors.ErrHoldNotFound) {
			p.logger.Info("poll: lost settle race to webhook", zap.String("reference", txn.Reference))
			return
		}
		p.logger.Error("poll: settle failed", zap.String("reference", txn.Reference), zap.Error(err))
		return
	}

	p.logger.Info("poll settled transaction",
		zap.String("reference", txn.Reference), zap.String("status", target))

	if fresh, err := p.txns.Get(ctx, txn.Reference); err == nil {
		p.notifier.TransactionChanged(ctx, fresh)
	}
}

// reschedule pushes next_retry_at out along the poll schedule. The
// attempt counter indexes the schedule; past the end the last interval
// repeats.
func (p *Poller) reschedule(ctx context.Context, txn *domain.Transaction) {
	idx := txn.AttemptCount
	if idx >= len(p.schedule) {
		idx = len(p.schedule) - 1
	}
	next := time.Now().Add(p.schedule[idx])

	err := p.txns.Reschedule(ctx, txn.Reference, txn.Status, next)
	if err != nil && !errors.Is(err, xerrors.ErrConcurrentUpdate) {
		p.logger.Error("poll: reschedule failed", zap.String("reference", txn.Reference), zap.Error(err))
	}
}

// timeOut fails a transaction that outlived the settlement window. The
// hold is released so the user regains the funds, and ops is alerted to
// reconcile against the provider's records manually.
func (p *Poller) timeOut(ctx context.Context, txn *domain.Transaction) {
	reason := xerrors.ErrSettlementTimeout.Error()
	p.settle(ctx, txn, domain.StatusFailed, &reason)

	p.alerter.Raise(ctx, pub.AlertSettlementTimeout, txn.Reference, txn.Provider,
		"no settlement within window, hold released", map[string]string{
			"amount":     txn.TotalAmount.StringFixed(2),
			"created_at": txn.CreatedAt.UTC().Format(time.RFC3339),
		})
	p.logger.Error("settlement timeout",
		zap.String("reference", txn.Reference),
		zap.String("provider", txn.Provider))
}

// checkBreakers raises an alert for any circuit open longer than the
// alert threshold.
func (p *Poller) checkBreakers(ctx context.Context) {
	for _, name := range p.registry.Names() {
		b := p.registry.Breaker(name)
		since := b.OpenSince()
		if !since.IsZero() && time.Since(since) >= circuitOpenAlertAt {
			p.alerter.Raise(ctx, pub.AlertCircuitOpen, "", name,
				"circuit open beyond alert threshold", map[string]string{
					"open_since": since.UTC().Format(time.RFC3339),
				})
		}
	}
}
