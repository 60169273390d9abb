package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/fees"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testEnv struct {
	orch     *Orchestrator
	wallets  *fakeWallets
	txns     *fakeTxns
	idem     *fakeIdem
	webhooks *fakeWebhooks
	adapter  *fakeAdapter
	registry *fakeRegistry
	pins     *fakePins
	cfg      config.AppConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		wallets:  newFakeWallets(),
		txns:     newFakeTxns(),
		idem:     newFakeIdem(),
		webhooks: newFakeWebhooks(),
		adapter:  &fakeAdapter{name: "bellbank", kind: "baas", verifyOK: true},
		pins:     &fakePins{},
	}
	env.registry = newFakeRegistry("bellbank", env.adapter)
	env.cfg = config.AppConfig{
		Limits:             config.WalletLimits{SingleTxn: "500000"},
		PollSchedule:       []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		FirstPollDelay:     time.Minute,
		SettlementTimeout:  24 * time.Hour,
		HoldAbandonTimeout: 5 * time.Minute,
		IdempotencyTTL:     24 * time.Hour,
	}
	orch, err := NewOrchestrator(fakeStore{}, env.wallets, env.txns, env.idem, env.pins,
		fees.DefaultTable(), env.registry, nil, nil, env.cfg, zap.NewNop())
	require.NoError(t, err)
	env.orch = orch
	return env
}

func (env *testEnv) seedWallet(userID, balance string) {
	env.wallets.add(&domain.Wallet{
		UserID:       userID,
		Balance:      dec(balance),
		Currency:     "NGN",
		IsActive:     true,
		KycTier:      2,
		DailyLimit:   dec("1000000"),
		MonthlyLimit: dec("5000000"),
	})
}

func bankInput(userID string) BankTransferInput {
	return BankTransferInput{
		UserID:         userID,
		Pin:            "1234",
		Amount:         dec("5000"),
		AccountNumber:  "0123456789",
		Bank:           "gtbank",
		Narration:      "rent",
		SenderName:     "CHIKE EZE",
		IdempotencyKey: "key-1",
	}
}

func TestBankTransferSyncCompleted(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")

	txn, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.Equal(t, 1, txn.AttemptCount)
	require.NotNil(t, txn.ProviderReference)
	assert.Equal(t, "SESSION1", *txn.ProviderReference)
	// 5000 + 15 tier fee
	assert.True(t, txn.TotalAmount.Equal(dec("5015")), "total %s", txn.TotalAmount)

	w, err := env.wallets.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("4985")), "balance %s", w.Balance)
	assert.True(t, w.AvailableBalance.Equal(w.Balance), "hold must be consumed")
	assert.Equal(t, 1, env.adapter.transferCalls)
}

func TestBankTransferSyncFailedReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	env.adapter.transferFn = func(domain.TransferRequest) (*domain.TransferResult, error) {
		return &domain.TransferResult{Status: domain.SyncFailed, FailureReason: "account blocked"}, nil
	}

	txn, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, txn.Status)
	require.NotNil(t, txn.FailureReason)
	// Raw provider text stays in the logs; clients see the normalized
	// reason only.
	assert.Equal(t, "declined by provider", *txn.FailureReason)
	assert.NotContains(t, *txn.FailureReason, "account blocked")

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.Balance.Equal(dec("10000")), "balance untouched")
	assert.True(t, w.AvailableBalance.Equal(dec("10000")), "hold released")
}

func TestBankTransferAcceptedParksForWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	env.adapter.transferFn = func(domain.TransferRequest) (*domain.TransferResult, error) {
		return &domain.TransferResult{ProviderReference: "SESSION9", Status: domain.SyncAccepted}, nil
	}

	txn, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingWebhook, txn.Status)
	require.NotNil(t, txn.NextRetryAt, "first poll must be scheduled")
	require.NotNil(t, txn.ProviderReference)
	assert.Equal(t, "SESSION9", *txn.ProviderReference)

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.Balance.Equal(dec("10000")), "balance moves only on settlement")
	assert.True(t, w.AvailableBalance.Equal(dec("4985")), "hold stays until settlement")
}

func TestBankTransferTimeoutKeepsHold(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	env.adapter.transferFn = func(domain.TransferRequest) (*domain.TransferResult, error) {
		return nil, xerrors.ErrProviderTimeout
	}

	txn, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingWebhook, txn.Status)
	// Timeouts are retried before the transaction is parked.
	assert.Equal(t, 2, env.adapter.transferCalls)

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.AvailableBalance.Equal(dec("4985")), "ambiguous outcome never releases the hold")
}

func TestBankTransferDuplicateReferenceParksForWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	env.adapter.transferFn = func(domain.TransferRequest) (*domain.TransferResult, error) {
		return nil, xerrors.ErrDuplicateReference
	}

	txn, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingWebhook, txn.Status)
	// Duplicate reference is permanent; no second attempt.
	assert.Equal(t, 1, env.adapter.transferCalls)
}

func TestBankTransferCircuitOpenFailsBeforeSend(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	b := env.registry.Breaker("bellbank")
	for i := 0; i < 3; i++ {
		b.Record(false)
	}

	txn, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, txn.Status)
	assert.Equal(t, 0, txn.AttemptCount, "request never left the process")
	assert.Equal(t, 0, env.adapter.transferCalls)

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.AvailableBalance.Equal(dec("10000")), "hold released")
}

func TestBankTransferCircuitOpeningMidRetryParksForWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	// Two prior failures: the first timeout trips the breaker, so the
	// retry is rejected after attempt one already reached the provider.
	b := env.registry.Breaker("bellbank")
	b.Record(false)
	b.Record(false)
	env.adapter.transferFn = func(domain.TransferRequest) (*domain.TransferResult, error) {
		return nil, xerrors.ErrProviderTimeout
	}

	txn, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingWebhook, txn.Status,
		"a send already went out; the circuit rejection must not fail the transaction")
	assert.Equal(t, 1, env.adapter.transferCalls)

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.AvailableBalance.Equal(dec("4985")), "hold stays for the webhook")
}

func TestBankTransferReplayBeforeWinnerCommits(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	// A concurrent call holds the claim but has not committed its
	// transaction row yet.
	env.idem.claims["u1/key-1"] = "TXN_WINNER"

	txn, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err, "a replayed key is never a not-found")

	assert.Equal(t, "TXN_WINNER", txn.Reference)
	assert.Equal(t, domain.StatusInitiated, txn.Status)
	assert.Equal(t, 0, env.adapter.transferCalls, "loser never dispatches")
}

func TestBankTransferWithoutIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "20000")

	in := bankInput("u1")
	in.IdempotencyKey = ""

	first, err := env.orch.InitiateBankTransfer(context.Background(), in)
	require.NoError(t, err)
	second, err := env.orch.InitiateBankTransfer(context.Background(), in)
	require.NoError(t, err)

	assert.NotEqual(t, first.Reference, second.Reference, "each keyless call is its own transaction")
	assert.Equal(t, domain.StatusCompleted, first.Status)
	assert.Equal(t, domain.StatusCompleted, second.Status)
	assert.Empty(t, env.idem.claims, "no claim is stored for keyless calls")

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.Balance.Equal(dec("9970")), "debited twice, got %s", w.Balance)
}

func TestBankTransferInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "100")

	_, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.ErrorIs(t, err, xerrors.ErrInsufficientFunds)

	// The claim is released so the client can retry the same key.
	assert.Empty(t, env.idem.claims)
	assert.Equal(t, 0, env.adapter.transferCalls)
}

func TestBankTransferInvalidPinReleasesClaim(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	env.pins.err = xerrors.ErrInvalidPin

	_, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.ErrorIs(t, err, xerrors.ErrInvalidPin)
	assert.Empty(t, env.idem.claims)

	// Fixing the PIN lets the same key go through.
	env.pins.err = nil
	txn, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, txn.Status)
}

func TestBankTransferSingleTxnLimit(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "900000")

	in := bankInput("u1")
	in.Amount = dec("600000")
	_, err := env.orch.InitiateBankTransfer(context.Background(), in)
	require.ErrorIs(t, err, xerrors.ErrSingleTxnLimit)
}

func TestBankTransferDailyLimit(t *testing.T) {
	env := newTestEnv(t)
	env.wallets.add(&domain.Wallet{
		UserID:       "u1",
		Balance:      dec("100000"),
		IsActive:     true,
		KycTier:      2,
		DailySpent:   dec("98000"),
		DailyLimit:   dec("100000"),
		MonthlyLimit: dec("5000000"),
	})

	_, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.ErrorIs(t, err, xerrors.ErrDailyLimit)
}

func TestBankTransferFrozenWallet(t *testing.T) {
	env := newTestEnv(t)
	env.wallets.add(&domain.Wallet{
		UserID:       "u1",
		Balance:      dec("10000"),
		IsActive:     true,
		IsFrozen:     true,
		KycTier:      2,
		DailyLimit:   dec("1000000"),
		MonthlyLimit: dec("5000000"),
	})

	_, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.ErrorIs(t, err, xerrors.ErrWalletFrozen)
}

func TestBankTransferKycTierTooLow(t *testing.T) {
	env := newTestEnv(t)
	env.wallets.add(&domain.Wallet{
		UserID:       "u1",
		Balance:      dec("10000"),
		IsActive:     true,
		KycTier:      0,
		DailyLimit:   dec("1000000"),
		MonthlyLimit: dec("5000000"),
	})

	_, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.ErrorIs(t, err, xerrors.ErrKycRestricted)
}

func TestBankTransferIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")

	first, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)

	second, err := env.orch.InitiateBankTransfer(context.Background(), bankInput("u1"))
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, 1, env.adapter.transferCalls, "replay must not dispatch again")

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.Balance.Equal(dec("4985")), "debited exactly once")
}

func TestWalletTransfer(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	env.seedWallet("u2", "500")

	txn, err := env.orch.InitiateWalletTransfer(context.Background(), WalletTransferInput{
		UserID:          "u1",
		Pin:             "1234",
		Amount:          dec("2500"),
		RecipientUserID: "u2",
		Narration:       "lunch",
		IdempotencyKey:  "wt-1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.True(t, txn.Fee.IsZero(), "wallet transfers are free")

	src, _ := env.wallets.Get(context.Background(), "u1")
	dst, _ := env.wallets.Get(context.Background(), "u2")
	assert.True(t, src.Balance.Equal(dec("7500")))
	assert.True(t, dst.Balance.Equal(dec("3000")))

	credit, err := env.txns.Get(context.Background(), txn.Reference+"_CR")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, credit.Status)
	assert.Equal(t, domain.DirectionCredit, credit.Direction)
	assert.Equal(t, "u2", credit.UserID)
	require.NotNil(t, credit.ParentReference)
	assert.Equal(t, txn.Reference, *credit.ParentReference)
}

func TestWalletTransferToSelfRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")

	_, err := env.orch.InitiateWalletTransfer(context.Background(), WalletTransferInput{
		UserID:          "u1",
		Pin:             "1234",
		Amount:          dec("100"),
		RecipientUserID: "u1",
		IdempotencyKey:  "wt-2",
	})
	require.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestWalletTransferUnknownRecipient(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")

	_, err := env.orch.InitiateWalletTransfer(context.Background(), WalletTransferInput{
		UserID:          "u1",
		Pin:             "1234",
		Amount:          dec("100"),
		RecipientUserID: "ghost",
		IdempotencyKey:  "wt-3",
	})
	require.ErrorIs(t, err, xerrors.ErrWalletNotFound)
	assert.Empty(t, env.idem.claims)
}

func TestHistoryClampsLimit(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")

	_, _, err := env.orch.History(context.Background(), "u1", -5, 0)
	require.NoError(t, err)
}
