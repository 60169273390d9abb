package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/fees"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pkg/id"
)

func newSweeperEnv(t *testing.T) (*Sweeper, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	// The current day and month have already been processed; tests that
	// target the period work use a fresh claim store instead.
	env.markSweepPeriodsDone()
	s := NewSweeper(fakeStore{}, env.wallets, env.txns, env.idem,
		fees.DefaultTable(), nil, env.cfg, zap.NewNop())
	return s, env
}

func (env *testEnv) markSweepPeriodsDone() {
	now := time.Now()
	env.idem.claims[sweepClaimUser+"/daily_reset:"+now.Format("2006-01-02")] = "done"
	env.idem.claims[sweepClaimUser+"/monthly_reset:"+now.Format("2006-01")] = "done"
}

func (env *testEnv) seedReserved(ref string, age time.Duration) {
	env.txns.txn[ref] = &domain.Transaction{
		Reference:   ref,
		UserID:      "u1",
		Direction:   domain.DirectionDebit,
		Category:    domain.CategoryBankTransfer,
		Amount:      dec("5000"),
		TotalAmount: dec("5015"),
		Currency:    "NGN",
		Status:      domain.StatusReserved,
		Provider:    "bellbank",
		CreatedAt:   time.Now().Add(-age),
	}
	env.wallets.holds[ref] = &domain.Hold{
		TransactionRef: ref,
		UserID:         "u1",
		Amount:         dec("5015"),
	}
}

func TestSweeperAbandonsStaleReservation(t *testing.T) {
	s, env := newSweeperEnv(t)
	env.seedWallet("u1", "10000")
	env.seedReserved("TXN_S1", 10*time.Minute) // past the 5m abandon window

	s.RunOnce(context.Background())

	txn, err := env.txns.Get(context.Background(), "TXN_S1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, txn.Status)
	require.NotNil(t, txn.FailureReason)

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.AvailableBalance.Equal(dec("10000")), "hold returned to the wallet")
}

func TestSweeperLeavesFreshReservationAlone(t *testing.T) {
	s, env := newSweeperEnv(t)
	env.seedWallet("u1", "10000")
	env.seedReserved("TXN_S2", time.Minute)

	s.RunOnce(context.Background())

	txn, _ := env.txns.Get(context.Background(), "TXN_S2")
	assert.Equal(t, domain.StatusReserved, txn.Status)

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.AvailableBalance.Equal(dec("4985")), "hold still in place")
}

func TestSweeperSkipsReservationSettledMeanwhile(t *testing.T) {
	s, env := newSweeperEnv(t)
	env.seedWallet("u1", "10000")
	env.seedReserved("TXN_S3", 10*time.Minute)
	// A concurrent webhook settled it between the list and the sweep.
	env.txns.txn["TXN_S3"].Status = domain.StatusCompleted
	delete(env.wallets.holds, "TXN_S3")

	s.RunOnce(context.Background())

	txn, _ := env.txns.Get(context.Background(), "TXN_S3")
	assert.Equal(t, domain.StatusCompleted, txn.Status)
}

func TestSweeperPeriodWorkRunsOncePerMonthAcrossReplicas(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")
	env.wallets.wallets["u1"].MonthlySpent = dec("7000")

	// Two replicas share the claim store and the ledger.
	s1 := NewSweeper(fakeStore{}, env.wallets, env.txns, env.idem,
		fees.DefaultTable(), nil, env.cfg, zap.NewNop())
	s2 := NewSweeper(fakeStore{}, env.wallets, env.txns, env.idem,
		fees.DefaultTable(), nil, env.cfg, zap.NewNop())

	s1.RunOnce(context.Background())
	s2.RunOnce(context.Background())
	s1.RunOnce(context.Background()) // a restart within the same period

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.MonthlySpent.Equal(dec("50")), "counters reset once, then one fee debit, got %s", w.MonthlySpent)
	assert.True(t, w.Balance.Equal(dec("9950")), "maintenance fee charged exactly once, got %s", w.Balance)

	ref := id.MaintenanceRef("u1", time.Now().Format("2006-01"))
	txn, err := env.txns.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.Equal(t, domain.CategoryMaintenance, txn.Category)
}

func TestMaintenanceChargeIdempotentByReference(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "10000")

	period := time.Now().Format("2006-01")
	// A replica that raced past the period claim already charged.
	env.txns.txn[id.MaintenanceRef("u1", period)] = &domain.Transaction{
		Reference:   id.MaintenanceRef("u1", period),
		UserID:      "u1",
		Category:    domain.CategoryMaintenance,
		Status:      domain.StatusCompleted,
		Amount:      dec("50"),
		TotalAmount: dec("50"),
	}

	s := NewSweeper(fakeStore{}, env.wallets, env.txns, env.idem,
		fees.DefaultTable(), nil, env.cfg, zap.NewNop())
	require.NoError(t, s.chargeMaintenance(context.Background(), period))

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.Balance.Equal(dec("10000")), "duplicate reference blocks a second charge, got %s", w.Balance)
	assert.Empty(t, env.wallets.holds, "no hold left behind")
}

func TestSweeperSkipsWalletsThatCannotCoverMaintenance(t *testing.T) {
	env := newTestEnv(t)
	env.seedWallet("u1", "20") // below the 50 fee

	s := NewSweeper(fakeStore{}, env.wallets, env.txns, env.idem,
		fees.DefaultTable(), nil, env.cfg, zap.NewNop())
	s.RunOnce(context.Background())

	w, _ := env.wallets.Get(context.Background(), "u1")
	assert.True(t, w.Balance.Equal(dec("20")), "wallet not overdrawn")
}
