package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/retry"
)

func openInput() OpenWalletInput {
	return OpenWalletInput{
		UserID:       "u9",
		FirstName:    "Ada",
		LastName:     "Obi",
		Phone:        "08012345678",
		Bvn:          "12345678901",
		DailyLimit:   "100000",
		MonthlyLimit: "1000000",
	}
}

func TestOpenWalletAttachesVirtualAccount(t *testing.T) {
	env := newTestEnv(t)

	w, err := env.orch.OpenWallet(context.Background(), openInput())
	require.NoError(t, err)

	assert.Equal(t, 1, w.KycTier, "BVN present starts at tier 1")
	require.NotNil(t, w.VirtualAccount)
	assert.Equal(t, "9012345678", w.VirtualAccount.AccountNumber)
	assert.Equal(t, "bellbank", w.VirtualAccount.Provider)

	stored, err := env.wallets.Get(context.Background(), "u9")
	require.NoError(t, err)
	require.NotNil(t, stored.VirtualAccount)
}

func TestOpenWalletWithoutBvnStartsTierZero(t *testing.T) {
	env := newTestEnv(t)

	in := openInput()
	in.Bvn = ""
	w, err := env.orch.OpenWallet(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0, w.KycTier)
}

func TestOpenWalletSurvivesIssuanceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.vaFn = func(domain.KycPayload) (*domain.VirtualAccountResult, error) {
		return nil, xerrors.ErrProviderError
	}

	w, err := env.orch.OpenWallet(context.Background(), openInput())
	require.NoError(t, err, "wallet creation must not depend on the provider")
	assert.Nil(t, w.VirtualAccount)

	_, err = env.wallets.Get(context.Background(), "u9")
	require.NoError(t, err, "wallet persisted despite issuance failure")
}

func TestVerifyBvn(t *testing.T) {
	env := newTestEnv(t)
	dojah := &fakeAdapter{name: "dojah", kind: "identity"}
	env.registry.adapters["dojah"] = dojah
	env.registry.breakers["dojah"] = retry.NewBreaker("dojah", config.CircuitConfig{})

	res, err := env.orch.VerifyBvn(context.Background(), domain.BvnPayload{
		Bvn:       "12345678901",
		FirstName: "Ada",
		LastName:  "Obi",
	})
	require.NoError(t, err)
	assert.False(t, res.Mismatch)
	assert.Equal(t, "Ada", res.FirstName)
}

func TestVerifyBvnInvalid(t *testing.T) {
	env := newTestEnv(t)
	dojah := &fakeAdapter{name: "dojah", kind: "identity"}
	dojah.bvnFn = func(domain.BvnPayload) (*domain.BvnResult, error) {
		return nil, xerrors.ErrInvalidBvn
	}
	env.registry.adapters["dojah"] = dojah
	env.registry.breakers["dojah"] = retry.NewBreaker("dojah", config.CircuitConfig{})

	_, err := env.orch.VerifyBvn(context.Background(), domain.BvnPayload{Bvn: "00000000000"})
	require.ErrorIs(t, err, xerrors.ErrInvalidBvn)
}
