package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/fees"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pkg/id"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pub"
	"github.com/DesignerDev23/MiiMii-sub000/internal/repository"
)

const sweepBatchSize = 100

// sweepClaimUser namespaces the sweeper's own period claims inside the
// idempotency store; it can never collide with a gateway user id.
const sweepClaimUser = "__sweeper__"

// Sweeper handles the housekeeping no request path owns: abandoning
// reserved transactions whose dispatch never happened, reaping expired
// idempotency records, resetting spend counters and charging the
// monthly maintenance fee.
type Sweeper struct {
	store    Store
	wallets  repository.WalletRepository
	txns     repository.TransactionRepository
	idem     repository.IdempotencyRepository
	fees     *fees.Table
	notifier *pub.Notifier
	logger   *zap.Logger

	holdAbandonAfter time.Duration
	interval         time.Duration
}

func NewSweeper(
	store Store,
	wallets repository.WalletRepository,
	txns repository.TransactionRepository,
	idem repository.IdempotencyRepository,
	feeTable *fees.Table,
	notifier *pub.Notifier,
	cfg config.AppConfig,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		store:            store,
		wallets:          wallets,
		txns:             txns,
		idem:             idem,
		fees:             feeTable,
		notifier:         notifier,
		logger:           logger,
		holdAbandonAfter: cfg.HoldAbandonTimeout,
		interval:         time.Minute,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) {
	if err := s.abandonStale(ctx); err != nil {
		s.logger.Error("abandon stale reservations", zap.Error(err))
	}
	if n, err := s.idem.DeleteExpired(ctx); err != nil {
		s.logger.Error("reap idempotency records", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("reaped idempotency records", zap.Int64("count", n))
	}
	s.maybeResetCounters(ctx, time.Now())
}

// abandonStale releases holds for transactions stuck in reserved: the
// process died between reserving and dispatching. The hold comes back to
// the wallet and the row moves to abandoned.
func (s *Sweeper) abandonStale(ctx context.Context) error {
	cutoff := time.Now().Add(-s.holdAbandonAfter)
	stale, err := s.txns.ListStaleReserved(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return err
	}

	for i := range stale {
		txn := &stale[i]
		err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := s.wallets.ReleaseHold(ctx, tx, txn.Reference); err != nil &&
				!errors.Is(err, xerrors.ErrHoldNotFound) {
				return err
			}
			reason := "reservation abandoned, dispatch never completed"
			return s.txns.Transition(ctx, tx, txn.Reference, domain.StatusReserved, domain.StatusAbandoned,
				&repository.TransitionUpdate{FailureReason: &reason})
		})
		if err != nil {
			if errors.Is(err, xerrors.ErrConcurrentUpdate) {
				continue
			}
			s.logger.Error("abandon reservation",
				zap.String("reference", txn.Reference), zap.Error(err))
			continue
		}
		s.logger.Warn("abandoned stale reservation",
			zap.String("reference", txn.Reference),
			zap.String("user_id", txn.UserID))
		if fresh, err := s.txns.Get(ctx, txn.Reference); err == nil {
			s.notifier.TransactionChanged(ctx, fresh)
		}
	}
	return nil
}

// maybeResetCounters runs the daily and monthly period work at most
// once per period across all replicas. The guard is a persisted claim
// in the idempotency store, so neither a restart straddling the
// boundary nor concurrent sweepers repeat or skip a period.
func (s *Sweeper) maybeResetCounters(ctx context.Context, now time.Time) {
	day := now.Format("2006-01-02")
	if _, owned, err := s.idem.Claim(ctx, sweepClaimUser, "daily_reset:"+day, day, 48*time.Hour); err != nil {
		s.logger.Error("claim daily reset period", zap.Error(err))
	} else if owned {
		if err := s.wallets.ResetDailySpent(ctx); err != nil {
			s.logger.Error("reset daily spend counters", zap.Error(err))
			// Free the claim so a later pass retries the reset.
			if relErr := s.idem.Release(ctx, sweepClaimUser, "daily_reset:"+day); relErr != nil {
				s.logger.Error("release daily reset claim", zap.Error(relErr))
			}
		} else {
			s.logger.Info("daily spend counters reset", zap.String("day", day))
		}
	}

	month := now.Format("2006-01")
	if _, owned, err := s.idem.Claim(ctx, sweepClaimUser, "monthly_reset:"+month, month, 35*24*time.Hour); err != nil {
		s.logger.Error("claim monthly reset period", zap.Error(err))
	} else if owned {
		if err := s.wallets.ResetMonthlySpent(ctx); err != nil {
			s.logger.Error("reset monthly spend counters", zap.Error(err))
		} else {
			s.logger.Info("monthly spend counters reset", zap.String("month", month))
		}
		// Deterministic references make the charge safe even if another
		// replica raced past the claim.
		if err := s.chargeMaintenance(ctx, month); err != nil {
			s.logger.Error("charge maintenance fees", zap.Error(err))
		}
	}
}

// chargeMaintenance debits the flat monthly fee from every active wallet
// whose balance covers it. The reference is deterministic per wallet and
// period, so a wallet can be charged at most once per month regardless
// of how many replicas or passes attempt it.
func (s *Sweeper) chargeMaintenance(ctx context.Context, period string) error {
	fee := s.fees.MaintenanceFee
	userIDs, err := s.wallets.ListMaintenanceDue(ctx, fee)
	if err != nil {
		return err
	}

	charged := 0
	for _, userID := range userIDs {
		ref := id.MaintenanceRef(userID, period)
		err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
			txn := &domain.Transaction{
				Reference:   ref,
				UserID:      userID,
				Direction:   domain.DirectionDebit,
				Category:    domain.CategoryMaintenance,
				Amount:      fee,
				TotalAmount: fee,
				Currency:    "NGN",
				Status:      domain.StatusInitiated,
				Description: "monthly account maintenance",
			}
			if err := s.txns.Create(ctx, tx, txn); err != nil {
				return err
			}
			if _, err := s.wallets.Reserve(ctx, tx, userID, ref, fee,
				domain.CategoryMaintenance, time.Now().Add(time.Hour)); err != nil {
				return err
			}
			if err := s.txns.Transition(ctx, tx, ref, domain.StatusInitiated, domain.StatusReserved, nil); err != nil {
				return err
			}
			change, err := s.wallets.ApplyDebit(ctx, tx, ref)
			if err != nil {
				return err
			}
			return s.txns.Transition(ctx, tx, ref, domain.StatusReserved, domain.StatusCompleted,
				&repository.TransitionUpdate{BalanceBefore: &change.Before, BalanceAfter: &change.After})
		})
		if err != nil {
			// Another pass already charged this period.
			if errors.Is(err, xerrors.ErrDuplicateReference) {
				continue
			}
			// Balance raced below the fee between the scan and the debit.
			if errors.Is(err, xerrors.ErrInsufficientFunds) {
				continue
			}
			s.logger.Error("maintenance charge failed",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		charged++
	}
	s.logger.Info("maintenance charges applied",
		zap.String("period", period), zap.Int("wallets", charged))
	return nil
}
