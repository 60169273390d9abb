package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pkg/id"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pub"
	"github.com/DesignerDev23/MiiMii-sub000/internal/repository"
)

// Reconciler turns provider webhooks into ledger writes. Every event is
// persisted exactly once; the database transaction that applies the
// ledger effect also records the event, so replays after a crash are
// deduplicated by the (provider, external_event_id) constraint.
type Reconciler struct {
	store    Store
	wallets  repository.WalletRepository
	txns     repository.TransactionRepository
	webhooks repository.WebhookRepository
	registry ProviderRegistry
	notifier *pub.Notifier
	alerter  *pub.Alerter
	logger   *zap.Logger
}

func NewReconciler(
	store Store,
	wallets repository.WalletRepository,
	txns repository.TransactionRepository,
	webhooks repository.WebhookRepository,
	registry ProviderRegistry,
	notifier *pub.Notifier,
	alerter *pub.Alerter,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:    store,
		wallets:  wallets,
		txns:     txns,
		webhooks: webhooks,
		registry: registry,
		notifier: notifier,
		alerter:  alerter,
		logger:   logger,
	}
}

func payloadDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// HandleWebhook verifies, parses, deduplicates and applies one inbound
// provider notification. Only ErrInvalidSignature maps to a non-2xx
// response; every other outcome is recorded and acknowledged so the
// provider stops redelivering.
func (r *Reconciler) HandleWebhook(ctx context.Context, providerName string, body []byte, headers http.Header) error {
	source, ok := r.registry.WebhookSource(providerName)
	if !ok {
		return fmt.Errorf("no webhook source for provider %q: %w", providerName, xerrors.ErrNotFound)
	}

	digest := payloadDigest(body)
	if !source.VerifyWebhook(body, headers) {
		r.logger.Warn("webhook signature rejected", zap.String("provider", providerName))
		r.alerter.Raise(ctx, pub.AlertBadSignature, "", providerName, "signature verification failed",
			map[string]string{"digest": digest})
		return xerrors.ErrInvalidSignature
	}

	ev, err := source.ParseWebhook(body)
	if err != nil {
		r.record(ctx, &domain.WebhookEvent{
			Provider:        providerName,
			ExternalEventID: "unparsed_" + digest[:16],
			PayloadDigest:   digest,
			Outcome:         domain.WebhookRejected,
		})
		r.logger.Warn("webhook unparseable", zap.String("provider", providerName), zap.Error(err))
		return nil
	}

	applied, err := r.webhooks.WasApplied(ctx, providerName, ev.ExternalEventID)
	if err != nil {
		return err
	}
	if applied {
		r.record(ctx, &domain.WebhookEvent{
			Provider:        providerName,
			ExternalEventID: ev.ExternalEventID,
			PayloadDigest:   digest,
			Outcome:         domain.WebhookDuplicate,
		})
		return nil
	}

	if ev.Kind == domain.EventCredit {
		return r.applyCredit(ctx, ev, digest)
	}
	return r.applySettlement(ctx, ev, digest)
}

// applyCredit handles an inbound bank transfer into a virtual account:
// credit the wallet, write the funding transaction and record the event
// in one atomic scope.
func (r *Reconciler) applyCredit(ctx context.Context, ev *domain.ProviderEvent, digest string) error {
	wallet, err := r.wallets.GetByAccountNumber(ctx, ev.AccountNumber)
	if err != nil {
		if errors.Is(err, xerrors.ErrWalletNotFound) {
			r.record(ctx, &domain.WebhookEvent{
				Provider:        ev.Provider,
				ExternalEventID: ev.ExternalEventID,
				PayloadDigest:   digest,
				Outcome:         domain.WebhookIgnored,
			})
			r.logger.Warn("credit for unknown virtual account",
				zap.String("provider", ev.Provider),
				zap.String("account", ev.AccountNumber))
			return nil
		}
		return err
	}
	if !ev.Amount.IsPositive() {
		r.record(ctx, &domain.WebhookEvent{
			Provider:        ev.Provider,
			ExternalEventID: ev.ExternalEventID,
			PayloadDigest:   digest,
			Outcome:         domain.WebhookRejected,
		})
		return nil
	}

	ref := id.TransactionRef()
	err = r.store.WithTx(ctx, func(tx pgx.Tx) error {
		txn := &domain.Transaction{
			Reference:   ref,
			UserID:      wallet.UserID,
			Direction:   domain.DirectionCredit,
			Category:    domain.CategoryWalletFunding,
			Amount:      ev.Amount,
			TotalAmount: ev.Amount,
			Currency:    "NGN",
			Status:      domain.StatusInitiated,
			Description: "inbound bank transfer",
			Sender:      ev.Counterparty,
			Provider:    ev.Provider,
		}
		if err := r.txns.Create(ctx, tx, txn); err != nil {
			return err
		}

		change, err := r.wallets.Credit(ctx, tx, wallet.UserID, ev.Amount)
		if err != nil {
			return err
		}
		if err := r.txns.Transition(ctx, tx, ref, domain.StatusInitiated, domain.StatusReserved, nil); err != nil {
			return err
		}
		if err := r.txns.Transition(ctx, tx, ref, domain.StatusReserved, domain.StatusCompleted,
			&repository.TransitionUpdate{
				ProviderReference: nullable(ev.ProviderReference),
				BalanceBefore:     &change.Before,
				BalanceAfter:      &change.After,
			}); err != nil {
			return err
		}
		return r.webhooks.InsertApplied(ctx, tx, &domain.WebhookEvent{
			Provider:        ev.Provider,
			ExternalEventID: ev.ExternalEventID,
			PayloadDigest:   digest,
			Outcome:         domain.WebhookApplied,
			TransactionRef:  &ref,
		})
	})
	if err != nil {
		if errors.Is(err, xerrors.ErrDuplicateEvent) {
			// Lost the race with a concurrent delivery of the same event.
			r.record(ctx, &domain.WebhookEvent{
				Provider:        ev.Provider,
				ExternalEventID: ev.ExternalEventID,
				PayloadDigest:   digest,
				Outcome:         domain.WebhookDuplicate,
			})
			return nil
		}
		return err
	}

	r.logger.Info("inbound credit applied",
		zap.String("reference", ref),
		zap.String("user_id", wallet.UserID),
		zap.String("amount", ev.Amount.StringFixed(2)))

	if txn, err := r.txns.Get(ctx, ref); err == nil {
		r.notifier.TransactionChanged(ctx, txn)
	}
	return nil
}

// applySettlement resolves an in-flight outbound transaction from a
// transfer.completed / transfer.failed / transfer.reversed event.
func (r *Reconciler) applySettlement(ctx context.Context, ev *domain.ProviderEvent, digest string) error {
	txn, err := r.matchTransaction(ctx, ev)
	if err != nil {
		if errors.Is(err, xerrors.ErrTransactionNotFound) {
			r.record(ctx, &domain.WebhookEvent{
				Provider:        ev.Provider,
				ExternalEventID: ev.ExternalEventID,
				PayloadDigest:   digest,
				Outcome:         domain.WebhookIgnored,
			})
			r.logger.Warn("webhook for unknown transaction",
				zap.String("provider", ev.Provider),
				zap.String("provider_reference", ev.ProviderReference))
			return nil
		}
		return err
	}

	target := targetStatus(ev.Kind)
	if txn.Status == domain.StatusCompleted && ev.Kind == domain.EventTransferReversed {
		return r.applyReversal(ctx, txn, ev, digest)
	}
	if domain.IsTerminal(txn.Status) {
		outcome := domain.WebhookDuplicate
		if txn.Status != target {
			// The provider now claims a different outcome than the one
			// we settled. The ledger does not move on say-so; ops decides.
			outcome = domain.WebhookIgnored
			r.alerter.Raise(ctx, pub.AlertConflictingEvent, txn.Reference, ev.Provider,
				fmt.Sprintf("settled %s, provider reports %s", txn.Status, target), nil)
			r.logger.Error("conflicting settlement event",
				zap.String("reference", txn.Reference),
				zap.String("settled", txn.Status),
				zap.String("reported", target))
		}
		r.record(ctx, &domain.WebhookEvent{
			Provider:        ev.Provider,
			ExternalEventID: ev.ExternalEventID,
			PayloadDigest:   digest,
			Outcome:         outcome,
			TransactionRef:  &txn.Reference,
		})
		return nil
	}

	err = r.store.WithTx(ctx, func(tx pgx.Tx) error {
		update := &repository.TransitionUpdate{ProviderReference: nullable(ev.ProviderReference)}

		switch ev.Kind {
		case domain.EventTransferCompleted:
			change, err := r.wallets.ApplyDebit(ctx, tx, txn.Reference)
			if err != nil {
				return err
			}
			update.BalanceBefore = &change.Before
			update.BalanceAfter = &change.After

		case domain.EventTransferFailed, domain.EventTransferReversed:
			if _, err := r.wallets.ReleaseHold(ctx, tx, txn.Reference); err != nil &&
				!errors.Is(err, xerrors.ErrHoldNotFound) {
				return err
			}
			if ev.FailureReason != "" {
				r.logger.Warn("provider reported failure",
					zap.String("reference", txn.Reference),
					zap.String("provider_message", ev.FailureReason))
			}
			reason := reasonProviderDeclined
			if ev.Kind == domain.EventTransferReversed {
				reason = reasonProviderReversed
			}
			update.FailureReason = &reason
		}

		if err := r.txns.Transition(ctx, tx, txn.Reference, txn.Status, target, update); err != nil {
			return err
		}
		return r.webhooks.InsertApplied(ctx, tx, &domain.WebhookEvent{
			Provider:        ev.Provider,
			ExternalEventID: ev.ExternalEventID,
			PayloadDigest:   digest,
			Outcome:         domain.WebhookApplied,
			TransactionRef:  &txn.Reference,
		})
	})
	if err != nil {
		if errors.Is(err, xerrors.ErrDuplicateEvent) || errors.Is(err, xerrors.ErrConcurrentUpdate) {
			r.record(ctx, &domain.WebhookEvent{
				Provider:        ev.Provider,
				ExternalEventID: ev.ExternalEventID,
				PayloadDigest:   digest,
				Outcome:         domain.WebhookDuplicate,
				TransactionRef:  &txn.Reference,
			})
			return nil
		}
		return err
	}

	r.logger.Info("settlement applied",
		zap.String("reference", txn.Reference),
		zap.String("status", target))

	if fresh, err := r.txns.Get(ctx, txn.Reference); err == nil {
		r.notifier.TransactionChanged(ctx, fresh)
	}
	return nil
}

// applyReversal credits a settled debit back: the provider unwound a
// transfer we already completed. The wallet regains the full debited
// amount (fee included) and a refund transaction records it.
func (r *Reconciler) applyReversal(ctx context.Context, txn *domain.Transaction, ev *domain.ProviderEvent, digest string) error {
	if ev.FailureReason != "" {
		r.logger.Warn("provider reported reversal",
			zap.String("reference", txn.Reference),
			zap.String("provider_message", ev.FailureReason))
	}
	refundRef := id.RefundRef()
	reversalReason := reasonProviderReversed
	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := r.txns.Transition(ctx, tx, txn.Reference, domain.StatusCompleted, domain.StatusReversed,
			&repository.TransitionUpdate{FailureReason: &reversalReason}); err != nil {
			return err
		}

		change, err := r.wallets.Credit(ctx, tx, txn.UserID, txn.TotalAmount)
		if err != nil {
			return err
		}

		refund := &domain.Transaction{
			Reference:       refundRef,
			UserID:          txn.UserID,
			Direction:       domain.DirectionCredit,
			Category:        domain.CategoryRefund,
			Amount:          txn.TotalAmount,
			TotalAmount:     txn.TotalAmount,
			Currency:        txn.Currency,
			Status:          domain.StatusInitiated,
			Description:     "reversal of " + txn.Reference,
			Provider:        ev.Provider,
			ParentReference: &txn.Reference,
		}
		if err := r.txns.Create(ctx, tx, refund); err != nil {
			return err
		}
		if err := r.txns.Transition(ctx, tx, refundRef, domain.StatusInitiated, domain.StatusReserved, nil); err != nil {
			return err
		}
		if err := r.txns.Transition(ctx, tx, refundRef, domain.StatusReserved, domain.StatusCompleted,
			&repository.TransitionUpdate{BalanceBefore: &change.Before, BalanceAfter: &change.After}); err != nil {
			return err
		}

		return r.webhooks.InsertApplied(ctx, tx, &domain.WebhookEvent{
			Provider:        ev.Provider,
			ExternalEventID: ev.ExternalEventID,
			PayloadDigest:   digest,
			Outcome:         domain.WebhookApplied,
			TransactionRef:  &txn.Reference,
		})
	})
	if err != nil {
		if errors.Is(err, xerrors.ErrDuplicateEvent) || errors.Is(err, xerrors.ErrConcurrentUpdate) {
			r.record(ctx, &domain.WebhookEvent{
				Provider:        ev.Provider,
				ExternalEventID: ev.ExternalEventID,
				PayloadDigest:   digest,
				Outcome:         domain.WebhookDuplicate,
				TransactionRef:  &txn.Reference,
			})
			return nil
		}
		return err
	}

	r.logger.Info("transfer reversed, wallet refunded",
		zap.String("reference", txn.Reference),
		zap.String("refund_reference", refundRef),
		zap.String("amount", txn.TotalAmount.StringFixed(2)))

	if fresh, err := r.txns.Get(ctx, txn.Reference); err == nil {
		r.notifier.TransactionChanged(ctx, fresh)
	}
	return nil
}

func (r *Reconciler) matchTransaction(ctx context.Context, ev *domain.ProviderEvent) (*domain.Transaction, error) {
	if ev.Reference != "" {
		txn, err := r.txns.Get(ctx, ev.Reference)
		switch {
		case err == nil && txn.Provider == ev.Provider:
			return txn, nil
		case err == nil:
			// Only the provider that dispatched the transaction may
			// settle it. A validly-signed event quoting another rail's
			// reference does not move the ledger.
			r.logger.Warn("webhook reference belongs to another provider",
				zap.String("reference", ev.Reference),
				zap.String("event_provider", ev.Provider),
				zap.String("transaction_provider", txn.Provider))
		case !errors.Is(err, xerrors.ErrTransactionNotFound):
			return nil, err
		}
	}
	if ev.ProviderReference == "" {
		return nil, xerrors.ErrTransactionNotFound
	}
	return r.txns.GetByProviderRef(ctx, ev.Provider, ev.ProviderReference)
}

func (r *Reconciler) record(ctx context.Context, e *domain.WebhookEvent) {
	if err := r.webhooks.Record(ctx, e); err != nil {
		r.logger.Error("record webhook event",
			zap.String("provider", e.Provider),
			zap.String("event_id", e.ExternalEventID),
			zap.Error(err))
	}
}

func targetStatus(kind string) string {
	switch kind {
	case domain.EventTransferCompleted:
		return domain.StatusCompleted
	case domain.EventTransferReversed:
		return domain.StatusReversed
	default:
		return domain.StatusFailed
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
