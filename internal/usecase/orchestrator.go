// Package usecase holds the payment flows: the orchestrator drives
// outbound payments end to end, the reconciler applies provider
// webhooks, the poller chases transactions whose webhook never arrived
// and the sweeper cleans up abandoned work.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/fees"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pkg/id"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pub"
	"github.com/DesignerDev23/MiiMii-sub000/internal/repository"
	"github.com/DesignerDev23/MiiMii-sub000/internal/retry"
)

// Minimum KYC tier allowed to move money out of the system.
const minTierForOutbound = 1

// Failure reasons stored on transactions form a closed, user-facing
// set. Raw provider text never leaves the logs.
const (
	reasonProviderDeclined = "declined by provider"
	reasonProviderReversed = "reversed by provider"
	reasonRequestRejected  = "request rejected by provider"
)

// A replayed idempotency key can land while the winning call is still
// mid-commit; the loser re-reads briefly before handing back a
// provisional view.
const (
	replayReadAttempts = 3
	replayReadDelay    = 50 * time.Millisecond
)

// dispatchFailureReason maps a permanent dispatch error onto the stored
// reason set.
func dispatchFailureReason(err error) string {
	switch {
	case errors.Is(err, xerrors.ErrInvalidAccount):
		return xerrors.ErrInvalidAccount.Error()
	case errors.Is(err, xerrors.ErrInvalidMsisdn):
		return xerrors.ErrInvalidMsisdn.Error()
	case errors.Is(err, xerrors.ErrPlanUnavailable):
		return xerrors.ErrPlanUnavailable.Error()
	case errors.Is(err, xerrors.ErrProviderError):
		return reasonProviderDeclined
	default:
		return reasonRequestRejected
	}
}

type Orchestrator struct {
	store    Store
	wallets  repository.WalletRepository
	txns     repository.TransactionRepository
	idem     repository.IdempotencyRepository
	pins     PinVerifier
	fees     *fees.Table
	registry ProviderRegistry
	notifier *pub.Notifier
	alerter  *pub.Alerter
	logger   *zap.Logger

	singleTxnLimit decimal.Decimal
	firstPollDelay time.Duration
	holdExpiry     time.Duration
	idemTTL        time.Duration
}

func NewOrchestrator(
	store Store,
	wallets repository.WalletRepository,
	txns repository.TransactionRepository,
	idem repository.IdempotencyRepository,
	pins PinVerifier,
	feeTable *fees.Table,
	registry ProviderRegistry,
	notifier *pub.Notifier,
	alerter *pub.Alerter,
	cfg config.AppConfig,
	logger *zap.Logger,
) (*Orchestrator, error) {
	singleLimit, err := decimal.NewFromString(cfg.Limits.SingleTxn)
	if err != nil {
		return nil, fmt.Errorf("parse single txn limit: %w", err)
	}
	return &Orchestrator{
		store:          store,
		wallets:        wallets,
		txns:           txns,
		idem:           idem,
		pins:           pins,
		fees:           feeTable,
		registry:       registry,
		notifier:       notifier,
		alerter:        alerter,
		logger:         logger,
		singleTxnLimit: singleLimit,
		firstPollDelay: cfg.FirstPollDelay,
		holdExpiry:     cfg.HoldAbandonTimeout,
		idemTTL:        cfg.IdempotencyTTL,
	}, nil
}

// preflight runs the checks shared by every outbound flow: idempotency
// claim, PIN, wallet state, limits and KYC tier. It returns the claimed
// reference and whether this call owns the claim; when owned is false
// the caller returns the transaction the earlier call produced.
func (o *Orchestrator) preflight(ctx context.Context, userID, pin, idemKey string, total decimal.Decimal, requireTier int) (ref string, owned bool, err error) {
	if idemKey == "" {
		// The key is optional; without one every call is its own
		// transaction.
		ref, owned = id.TransactionRef(), true
	} else {
		ref, owned, err = o.idem.Claim(ctx, userID, idemKey, id.TransactionRef(), o.idemTTL)
		if err != nil {
			return "", false, err
		}
		if !owned {
			return ref, false, nil
		}
	}

	fail := func(e error) (string, bool, error) {
		// The claim never produced a transaction; free the key so the
		// client can retry after fixing the problem.
		o.releaseClaim(ctx, userID, idemKey)
		return "", false, e
	}

	if err := o.pins.Verify(ctx, userID, pin); err != nil {
		return fail(err)
	}

	wallet, err := o.wallets.Get(ctx, userID)
	if err != nil {
		return fail(err)
	}
	if !wallet.IsActive {
		return fail(xerrors.ErrWalletInactive)
	}
	if wallet.IsFrozen {
		return fail(xerrors.ErrWalletFrozen)
	}
	if wallet.KycTier < requireTier {
		return fail(xerrors.ErrKycRestricted)
	}
	if total.GreaterThan(o.singleTxnLimit) {
		return fail(xerrors.ErrSingleTxnLimit)
	}
	if wallet.DailySpent.Add(total).GreaterThan(wallet.DailyLimit) {
		return fail(xerrors.ErrDailyLimit)
	}
	if wallet.MonthlySpent.Add(total).GreaterThan(wallet.MonthlyLimit) {
		return fail(xerrors.ErrMonthlyLimit)
	}
	return ref, true, nil
}

// reserve persists the transaction and places the hold in one atomic
// scope: initiated -> reserved plus the hold row commit together.
func (o *Orchestrator) reserve(ctx context.Context, txn *domain.Transaction) error {
	err := o.store.WithTx(ctx, func(tx pgx.Tx) error {
		txn.Status = domain.StatusInitiated
		if err := o.txns.Create(ctx, tx, txn); err != nil {
			return err
		}
		if _, err := o.wallets.Reserve(ctx, tx, txn.UserID, txn.Reference,
			txn.TotalAmount, txn.Category, time.Now().Add(o.holdExpiry)); err != nil {
			return err
		}
		if err := o.txns.Transition(ctx, tx, txn.Reference,
			domain.StatusInitiated, domain.StatusReserved, nil); err != nil {
			return err
		}
		txn.Status = domain.StatusReserved
		return nil
	})
	if err != nil {
		// Nothing persisted; release the claim so the key can be reused.
		if txn.IdempotencyKey != nil {
			if relErr := o.idem.Release(ctx, txn.UserID, *txn.IdempotencyKey); relErr != nil {
				o.logger.Warn("release idempotency claim", zap.Error(relErr))
			}
		}
		return err
	}
	return nil
}

// dispatch sends the reserved transaction upstream and settles the
// synchronous outcome. Every path out of here leaves the transaction in
// a consistent status with the hold either consumed, released or kept
// for the webhook.
func (o *Orchestrator) dispatch(ctx context.Context, txn *domain.Transaction, send func(context.Context) (*domain.TransferResult, error)) (*domain.Transaction, error) {
	providerName := txn.Provider
	breaker := o.registry.Breaker(providerName)
	policy := o.registry.Policy(providerName)

	var result *domain.TransferResult
	err := retry.Do(ctx, breaker, policy, func(ctx context.Context) error {
		var sendErr error
		result, sendErr = send(ctx)
		return sendErr
	})

	switch {
	case err == nil:
		return o.settleSync(ctx, txn, result)

	case errors.Is(err, xerrors.ErrDuplicateReference):
		// The provider saw this reference before: an earlier attempt
		// reached them. Treat as in flight and wait for the webhook.
		o.logger.Warn("duplicate reference upstream, holding for webhook",
			zap.String("reference", txn.Reference))
		return o.parkForWebhook(ctx, txn, nil)

	case errors.Is(err, xerrors.ErrCircuitOpen):
		return o.failBeforeSend(ctx, txn, "provider circuit open")

	case errors.Is(err, xerrors.ErrProviderTimeout):
		// Ambiguous: the request may have reached the provider. Never
		// release the hold here; the poller resolves it.
		o.logger.Warn("provider timeout after send, holding for webhook",
			zap.String("reference", txn.Reference), zap.Error(err))
		return o.parkForWebhook(ctx, txn, nil)

	default:
		var statusErr *retry.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.Status >= 500 {
			// 5xx after the request went out is just as ambiguous as a
			// timeout.
			return o.parkForWebhook(ctx, txn, nil)
		}
		o.logger.Warn("dispatch rejected upstream",
			zap.String("reference", txn.Reference), zap.Error(err))
		return o.failAndRelease(ctx, txn, dispatchFailureReason(err))
	}
}

func (o *Orchestrator) settleSync(ctx context.Context, txn *domain.Transaction, result *domain.TransferResult) (*domain.Transaction, error) {
	switch result.Status {
	case domain.SyncCompleted:
		err := o.store.WithTx(ctx, func(tx pgx.Tx) error {
			change, err := o.wallets.ApplyDebit(ctx, tx, txn.Reference)
			if err != nil {
				return err
			}
			update := &repository.TransitionUpdate{
				BalanceBefore:    &change.Before,
				BalanceAfter:     &change.After,
				IncrementAttempt: true,
			}
			if result.ProviderReference != "" {
				update.ProviderReference = &result.ProviderReference
			}
			return o.txns.Transition(ctx, tx, txn.Reference, txn.Status, domain.StatusCompleted, update)
		})
		if err != nil {
			return nil, err
		}
		return o.finish(ctx, txn.Reference)

	case domain.SyncAccepted, domain.SyncPending:
		var providerRef *string
		if result.ProviderReference != "" {
			providerRef = &result.ProviderReference
		}
		return o.parkForWebhook(ctx, txn, providerRef)

	default:
		if result.FailureReason != "" {
			o.logger.Warn("provider declined transaction",
				zap.String("reference", txn.Reference),
				zap.String("provider_message", result.FailureReason))
		}
		return o.failAndRelease(ctx, txn, reasonProviderDeclined)
	}
}

// parkForWebhook moves the transaction to pending_webhook with the hold
// kept. next_retry_at schedules the first status poll.
func (o *Orchestrator) parkForWebhook(ctx context.Context, txn *domain.Transaction, providerRef *string) (*domain.Transaction, error) {
	nextPoll := time.Now().Add(o.firstPollDelay)
	err := o.store.WithTx(ctx, func(tx pgx.Tx) error {
		return o.txns.Transition(ctx, tx, txn.Reference, txn.Status, domain.StatusPendingWebhook,
			&repository.TransitionUpdate{
				ProviderReference: providerRef,
				NextRetryAt:       &nextPoll,
				IncrementAttempt:  true,
			})
	})
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, txn.Reference)
}

func (o *Orchestrator) failAndRelease(ctx context.Context, txn *domain.Transaction, reason string) (*domain.Transaction, error) {
	err := o.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := o.wallets.ReleaseHold(ctx, tx, txn.Reference); err != nil &&
			!errors.Is(err, xerrors.ErrHoldNotFound) {
			return err
		}
		return o.txns.Transition(ctx, tx, txn.Reference, txn.Status, domain.StatusFailed,
			&repository.TransitionUpdate{FailureReason: &reason, IncrementAttempt: true})
	})
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, txn.Reference)
}

// failBeforeSend is failAndRelease for requests that never left the
// process; the attempt counter stays put.
func (o *Orchestrator) failBeforeSend(ctx context.Context, txn *domain.Transaction, reason string) (*domain.Transaction, error) {
	err := o.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := o.wallets.ReleaseHold(ctx, tx, txn.Reference); err != nil &&
			!errors.Is(err, xerrors.ErrHoldNotFound) {
			return err
		}
		return o.txns.Transition(ctx, tx, txn.Reference, txn.Status, domain.StatusFailed,
			&repository.TransitionUpdate{FailureReason: &reason})
	})
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, txn.Reference)
}

// replay resolves a transaction for a replayed idempotency key. The
// winning call may still be mid-commit, so a missing row is re-read
// briefly; if it still has not landed, the caller gets a provisional
// view of the claimed reference instead of a not-found.
func (o *Orchestrator) replay(ctx context.Context, userID, ref string) (*domain.Transaction, error) {
	for i := 0; i < replayReadAttempts; i++ {
		txn, err := o.txns.Get(ctx, ref)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, xerrors.ErrTransactionNotFound) {
			return nil, err
		}
		select {
		case <-time.After(replayReadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.logger.Info("idempotent replay before winner committed",
		zap.String("user_id", userID), zap.String("reference", ref))
	return &domain.Transaction{
		Reference: ref,
		UserID:    userID,
		Status:    domain.StatusInitiated,
		CreatedAt: time.Now(),
	}, nil
}

// finish reloads the transaction and fires the change notification.
func (o *Orchestrator) finish(ctx context.Context, reference string) (*domain.Transaction, error) {
	txn, err := o.txns.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	o.notifier.TransactionChanged(ctx, txn)
	return txn, nil
}

// GetTransaction returns one transaction by reference.
func (o *Orchestrator) GetTransaction(ctx context.Context, reference string) (*domain.Transaction, error) {
	return o.txns.Get(ctx, reference)
}

// History pages a user's transactions, newest first.
func (o *Orchestrator) History(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return o.txns.ListByUser(ctx, userID, limit, offset)
}
