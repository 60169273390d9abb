package usecase

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pkg/id"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/repository"
)

type BankTransferInput struct {
	UserID         string          `json:"-"`
	Pin            string          `json:"pin"`
	Amount         decimal.Decimal `json:"amount"`
	AccountNumber  string          `json:"account_number"`
	Bank           string          `json:"bank"` // name or institution code
	Narration      string          `json:"narration"`
	SenderName     string          `json:"sender_name"`
	IdempotencyKey string          `json:"-"`
}

// InitiateBankTransfer sends money to an external bank account through
// the default BaaS rail. The destination is resolved and name-checked
// before any funds move.
func (o *Orchestrator) InitiateBankTransfer(ctx context.Context, in BankTransferInput) (*domain.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", xerrors.ErrInvalidInput)
	}

	fee := o.fees.Calculate(domain.CategoryBankTransfer, in.Amount)
	total := in.Amount.Add(fee.Fee)

	ref, owned, err := o.preflight(ctx, in.UserID, in.Pin, in.IdempotencyKey, total, minTierForOutbound)
	if err != nil {
		return nil, err
	}
	if !owned {
		return o.replay(ctx, in.UserID, ref)
	}

	adapter := o.registry.DefaultBaas()
	resolver, ok := adapter.(domain.BankResolver)
	if !ok {
		return nil, fmt.Errorf("adapter %s cannot resolve banks: %w", adapter.Name(), xerrors.ErrInternalServer)
	}
	enquirer, ok := adapter.(domain.NameEnquirer)
	if !ok {
		return nil, fmt.Errorf("adapter %s cannot run name enquiry: %w", adapter.Name(), xerrors.ErrInternalServer)
	}
	transferrer, ok := adapter.(domain.Transferrer)
	if !ok {
		return nil, fmt.Errorf("adapter %s cannot transfer: %w", adapter.Name(), xerrors.ErrInternalServer)
	}

	institution, err := resolver.ResolveInstitution(ctx, in.Bank)
	if err != nil {
		o.releaseClaim(ctx, in.UserID, in.IdempotencyKey)
		return nil, err
	}
	enquiry, err := enquirer.NameEnquiry(ctx, in.AccountNumber, institution)
	if err != nil {
		o.releaseClaim(ctx, in.UserID, in.IdempotencyKey)
		return nil, err
	}

	txn := &domain.Transaction{
		Reference:   ref,
		UserID:      in.UserID,
		Direction:   domain.DirectionDebit,
		Category:    domain.CategoryBankTransfer,
		Amount:      in.Amount,
		Fee:         fee.Fee,
		TotalAmount: total,
		Currency:    "NGN",
		Description: in.Narration,
		Provider:    adapter.Name(),
		Recipient: &domain.Recipient{
			Name:            enquiry.AccountName,
			AccountNumber:   in.AccountNumber,
			InstitutionCode: institution,
		},
		IdempotencyKey: nullable(in.IdempotencyKey),
	}
	if err := o.reserve(ctx, txn); err != nil {
		return nil, err
	}

	o.logger.Info("bank transfer dispatched",
		zap.String("reference", ref),
		zap.String("provider", adapter.Name()),
		zap.String("amount", in.Amount.StringFixed(2)))

	return o.dispatch(ctx, txn, func(ctx context.Context) (*domain.TransferResult, error) {
		return transferrer.Transfer(ctx, domain.TransferRequest{
			Reference:      ref,
			Amount:         in.Amount,
			DstAccount:     in.AccountNumber,
			DstInstitution: institution,
			Narration:      in.Narration,
			SenderName:     in.SenderName,
		})
	})
}

type WalletTransferInput struct {
	UserID          string          `json:"-"`
	Pin             string          `json:"pin"`
	Amount          decimal.Decimal `json:"amount"`
	RecipientUserID string          `json:"recipient_user_id"`
	Narration       string          `json:"narration"`
	IdempotencyKey  string          `json:"-"`
}

// InitiateWalletTransfer moves funds between two internal wallets. Both
// ledger legs and both transaction rows commit in one atomic scope; the
// flow never leaves the process, so there is no hold and no provider.
func (o *Orchestrator) InitiateWalletTransfer(ctx context.Context, in WalletTransferInput) (*domain.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", xerrors.ErrInvalidInput)
	}
	if in.RecipientUserID == in.UserID {
		return nil, fmt.Errorf("cannot transfer to own wallet: %w", xerrors.ErrInvalidInput)
	}

	// Wallet transfers are free.
	total := in.Amount

	ref, owned, err := o.preflight(ctx, in.UserID, in.Pin, in.IdempotencyKey, total, 0)
	if err != nil {
		return nil, err
	}
	if !owned {
		return o.replay(ctx, in.UserID, ref)
	}

	if _, err := o.wallets.Get(ctx, in.RecipientUserID); err != nil {
		o.releaseClaim(ctx, in.UserID, in.IdempotencyKey)
		return nil, err
	}

	creditRef := id.CreditRef(ref)
	err = o.store.WithTx(ctx, func(tx pgx.Tx) error {
		debit := &domain.Transaction{
			Reference:      ref,
			UserID:         in.UserID,
			Direction:      domain.DirectionDebit,
			Category:       domain.CategoryWalletTransfer,
			Amount:         in.Amount,
			Fee:            decimal.Zero,
			TotalAmount:    total,
			Currency:       "NGN",
			Status:         domain.StatusInitiated,
			Description:    in.Narration,
			Recipient:      &domain.Recipient{UserID: in.RecipientUserID},
			IdempotencyKey: nullable(in.IdempotencyKey),
		}
		if err := o.txns.Create(ctx, tx, debit); err != nil {
			return err
		}

		credit := &domain.Transaction{
			Reference:       creditRef,
			UserID:          in.RecipientUserID,
			Direction:       domain.DirectionCredit,
			Category:        domain.CategoryWalletTransfer,
			Amount:          in.Amount,
			Fee:             decimal.Zero,
			TotalAmount:     in.Amount,
			Currency:        "NGN",
			Status:          domain.StatusInitiated,
			Description:     in.Narration,
			Sender:          &domain.Recipient{UserID: in.UserID},
			ParentReference: &ref,
		}
		if err := o.txns.Create(ctx, tx, credit); err != nil {
			return err
		}

		srcChange, dstChange, err := o.wallets.TransferInternal(ctx, tx, in.UserID, in.RecipientUserID, in.Amount)
		if err != nil {
			return err
		}

		if err := o.txns.Transition(ctx, tx, ref, domain.StatusInitiated, domain.StatusReserved, nil); err != nil {
			return err
		}
		if err := o.txns.Transition(ctx, tx, ref, domain.StatusReserved, domain.StatusCompleted,
			&repository.TransitionUpdate{BalanceBefore: &srcChange.Before, BalanceAfter: &srcChange.After}); err != nil {
			return err
		}
		if err := o.txns.Transition(ctx, tx, creditRef, domain.StatusInitiated, domain.StatusReserved, nil); err != nil {
			return err
		}
		return o.txns.Transition(ctx, tx, creditRef, domain.StatusReserved, domain.StatusCompleted,
			&repository.TransitionUpdate{BalanceBefore: &dstChange.Before, BalanceAfter: &dstChange.After})
	})
	if err != nil {
		o.releaseClaim(ctx, in.UserID, in.IdempotencyKey)
		return nil, err
	}

	o.logger.Info("wallet transfer completed",
		zap.String("reference", ref),
		zap.String("recipient", in.RecipientUserID),
		zap.String("amount", in.Amount.StringFixed(2)))

	if credit, err := o.txns.Get(ctx, creditRef); err == nil {
		o.notifier.TransactionChanged(ctx, credit)
	}
	return o.finish(ctx, ref)
}

func (o *Orchestrator) releaseClaim(ctx context.Context, userID, key string) {
	if key == "" {
		return
	}
	if err := o.idem.Release(ctx, userID, key); err != nil {
		o.logger.Warn("release idempotency claim", zap.String("user_id", userID), zap.Error(err))
	}
}
