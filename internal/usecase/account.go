package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/retry"
)

type OpenWalletInput struct {
	UserID       string `json:"user_id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone"`
	Bvn          string `json:"bvn,omitempty"`
	DateOfBirth  string `json:"date_of_birth,omitempty"`
	DailyLimit   string `json:"-"`
	MonthlyLimit string `json:"-"`
}

// OpenWallet creates a wallet and asks the default BaaS provider for a
// dedicated virtual account so the user can receive bank transfers.
// Virtual account issuance failing does not fail wallet creation; the
// account can be attached later.
func (o *Orchestrator) OpenWallet(ctx context.Context, in OpenWalletInput) (*domain.Wallet, error) {
	daily, err := decimal.NewFromString(in.DailyLimit)
	if err != nil {
		return nil, fmt.Errorf("parse daily limit: %w", err)
	}
	monthly, err := decimal.NewFromString(in.MonthlyLimit)
	if err != nil {
		return nil, fmt.Errorf("parse monthly limit: %w", err)
	}

	tier := 0
	if in.Bvn != "" {
		tier = 1
	}
	wallet := &domain.Wallet{
		UserID:       in.UserID,
		Balance:      decimal.Zero,
		Currency:     "NGN",
		DailyLimit:   daily,
		MonthlyLimit: monthly,
		KycTier:      tier,
	}
	if err := o.wallets.Create(ctx, wallet); err != nil {
		return nil, err
	}

	adapter := o.registry.DefaultBaas()
	issuer, ok := adapter.(domain.VirtualAccountIssuer)
	if !ok {
		o.logger.Warn("default baas cannot issue virtual accounts", zap.String("provider", adapter.Name()))
		return wallet, nil
	}

	va, err := issuer.CreateVirtualAccount(ctx, domain.KycPayload{
		UserID:      in.UserID,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Phone:       in.Phone,
		Bvn:         in.Bvn,
		DateOfBirth: in.DateOfBirth,
	})
	if err != nil {
		o.logger.Warn("virtual account issuance failed",
			zap.String("user_id", in.UserID), zap.Error(err))
		return wallet, nil
	}

	attached := domain.VirtualAccount{
		AccountNumber: va.AccountNumber,
		BankCode:      va.BankCode,
		BankName:      va.BankName,
		Provider:      adapter.Name(),
	}
	if err := o.wallets.AttachVirtualAccount(ctx, in.UserID, attached); err != nil {
		return nil, err
	}
	wallet.VirtualAccount = &attached

	o.logger.Info("wallet opened",
		zap.String("user_id", in.UserID),
		zap.String("virtual_account", va.AccountNumber))
	return wallet, nil
}

// GetWallet returns the wallet with computed available and ledger balances.
func (o *Orchestrator) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return o.wallets.Get(ctx, userID)
}

// VerifyBvn runs the identity provider's BVN lookup. A clean, matching
// result is what KYC tier upgrades hang off.
func (o *Orchestrator) VerifyBvn(ctx context.Context, payload domain.BvnPayload) (*domain.BvnResult, error) {
	adapter, err := o.registry.Get("dojah")
	if err != nil {
		return nil, err
	}
	verifier, ok := adapter.(domain.BvnVerifier)
	if !ok {
		return nil, fmt.Errorf("adapter %s cannot verify bvn: %w", adapter.Name(), xerrors.ErrInternalServer)
	}

	breaker := o.registry.Breaker(adapter.Name())
	policy := o.registry.Policy(adapter.Name())

	var result *domain.BvnResult
	err = retry.Do(ctx, breaker, policy, func(ctx context.Context) error {
		var vErr error
		result, vErr = verifier.VerifyBvn(ctx, payload)
		return vErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
