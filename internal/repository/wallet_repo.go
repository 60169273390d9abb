package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// WalletRepository is the ledger store. All writes against a given wallet
// are serialized by a SELECT ... FOR UPDATE row lock; callers compose the
// ledger write and the transaction-row transition in one pgx.Tx.
type WalletRepository interface {
	Get(ctx context.Context, userID string) (*domain.Wallet, error)
	GetByAccountNumber(ctx context.Context, accountNumber string) (*domain.Wallet, error)
	Create(ctx context.Context, w *domain.Wallet) error
	AttachVirtualAccount(ctx context.Context, userID string, va domain.VirtualAccount) error

	Reserve(ctx context.Context, tx pgx.Tx, userID, transactionRef string, amount decimal.Decimal, reason string, expiresAt time.Time) (*domain.Hold, error)
	ApplyDebit(ctx context.Context, tx pgx.Tx, transactionRef string) (*domain.BalanceChange, error)
	ReleaseHold(ctx context.Context, tx pgx.Tx, transactionRef string) (decimal.Decimal, error)
	Credit(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal) (*domain.BalanceChange, error)
	TransferInternal(ctx context.Context, tx pgx.Tx, srcUserID, dstUserID string, amount decimal.Decimal) (src, dst *domain.BalanceChange, err error)

	ResetDailySpent(ctx context.Context) error
	ResetMonthlySpent(ctx context.Context) error
	ListMaintenanceDue(ctx context.Context, fee decimal.Decimal) ([]string, error)
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepo(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

const walletColumns = `
	user_id,
	balance::text,
	(balance - pending_debit)::text AS available_balance,
	(balance + pending_credit)::text AS ledger_balance,
	currency,
	is_active,
	is_frozen,
	daily_spent::text,
	monthly_spent::text,
	daily_limit::text,
	monthly_limit::text,
	kyc_tier,
	va_account_number,
	va_bank_code,
	va_bank_name,
	va_provider,
	version,
	created_at,
	updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var (
		w                                        domain.Wallet
		balance, available, ledger               string
		dailySpent, monthlySpent, dLimit, mLimit string
		vaNumber, vaBank, vaBankName, vaProvider *string
	)
	err := row.Scan(
		&w.UserID, &balance, &available, &ledger, &w.Currency,
		&w.IsActive, &w.IsFrozen,
		&dailySpent, &monthlySpent, &dLimit, &mLimit,
		&w.KycTier,
		&vaNumber, &vaBank, &vaBankName, &vaProvider,
		&w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}

	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	if w.AvailableBalance, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("failed to parse available balance: %w", err)
	}
	if w.LedgerBalance, err = decimal.NewFromString(ledger); err != nil {
		return nil, fmt.Errorf("failed to parse ledger balance: %w", err)
	}
	w.DailySpent, _ = decimal.NewFromString(dailySpent)
	w.MonthlySpent, _ = decimal.NewFromString(monthlySpent)
	w.DailyLimit, _ = decimal.NewFromString(dLimit)
	w.MonthlyLimit, _ = decimal.NewFromString(mLimit)

	if vaNumber != nil {
		w.VirtualAccount = &domain.VirtualAccount{
			AccountNumber: *vaNumber,
			BankCode:      strOrEmpty(vaBank),
			BankName:      strOrEmpty(vaBankName),
			Provider:      strOrEmpty(vaProvider),
		}
	}
	return &w, nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *walletRepo) Get(ctx context.Context, userID string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, userID))
}

func (r *walletRepo) GetByAccountNumber(ctx context.Context, accountNumber string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE va_account_number = $1`
	return scanWallet(r.db.QueryRow(ctx, query, accountNumber))
}

func (r *walletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `
		INSERT INTO wallets
		(user_id, balance, pending_debit, pending_credit, currency, is_active, is_frozen,
		 daily_spent, monthly_spent, daily_limit, monthly_limit, kyc_tier)
		VALUES ($1, $2::numeric, 0, 0, $3, true, false, 0, 0, $4::numeric, $5::numeric, $6)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		w.UserID, w.Balance.StringFixed(2), w.Currency,
		w.DailyLimit.StringFixed(2), w.MonthlyLimit.StringFixed(2), w.KycTier,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	w.IsActive = true
	w.AvailableBalance = w.Balance
	return nil
}

func (r *walletRepo) AttachVirtualAccount(ctx context.Context, userID string, va domain.VirtualAccount) error {
	query := `
		UPDATE wallets
		SET va_account_number = $1, va_bank_code = $2, va_bank_name = $3, va_provider = $4,
		    updated_at = NOW()
		WHERE user_id = $5
	`
	tag, err := r.db.Exec(ctx, query, va.AccountNumber, va.BankCode, va.BankName, va.Provider, userID)
	if err != nil {
		return fmt.Errorf("failed to attach virtual account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrWalletNotFound
	}
	return nil
}

// lockWallet fetches a wallet's mutable columns under FOR UPDATE.
func lockWallet(ctx context.Context, tx pgx.Tx, userID string) (balance, pendingDebit decimal.Decimal, active, frozen bool, err error) {
	var balStr, pdStr string
	query := `
		SELECT balance::text, pending_debit::text, is_active, is_frozen
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`
	err = tx.QueryRow(ctx, query, userID).Scan(&balStr, &pdStr, &active, &frozen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = xerrors.ErrWalletNotFound
		} else {
			err = fmt.Errorf("failed to lock wallet: %w", err)
		}
		return
	}
	if balance, err = decimal.NewFromString(balStr); err != nil {
		err = fmt.Errorf("failed to parse balance: %w", err)
		return
	}
	if pendingDebit, err = decimal.NewFromString(pdStr); err != nil {
		err = fmt.Errorf("failed to parse pending debit: %w", err)
	}
	return
}

// Reserve creates a hold: available balance drops by amount, balance is
// untouched. Idempotent against the transaction reference; a second call
// for the same reference returns the existing hold.
func (r *walletRepo) Reserve(ctx context.Context, tx pgx.Tx, userID, transactionRef string, amount decimal.Decimal, reason string, expiresAt time.Time) (*domain.Hold, error) {
	if existing, err := getHoldTx(ctx, tx, transactionRef); err == nil {
		return existing, nil
	} else if !errors.Is(err, xerrors.ErrHoldNotFound) {
		return nil, err
	}

	balance, pendingDebit, active, frozen, err := lockWallet(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, xerrors.ErrWalletInactive
	}
	if frozen {
		return nil, xerrors.ErrWalletFrozen
	}
	available := balance.Sub(pendingDebit)
	if available.LessThan(amount) {
		return nil, xerrors.ErrInsufficientFunds
	}

	hold := &domain.Hold{
		TransactionRef: transactionRef,
		UserID:         userID,
		Amount:         amount,
		Reason:         reason,
		ExpiresAt:      expiresAt,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO holds (transaction_ref, user_id, amount, reason, expires_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
		RETURNING created_at
	`, transactionRef, userID, amount.StringFixed(2), reason, expiresAt).Scan(&hold.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create hold: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets
		SET pending_debit = pending_debit + $1::numeric, version = version + 1, updated_at = NOW()
		WHERE user_id = $2
	`, amount.StringFixed(2), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve funds: %w", err)
	}
	return hold, nil
}

// ApplyDebit consumes the hold and decreases balance by the hold amount.
// The hold must exist; a consumed or missing hold returns ErrHoldNotFound,
// which is what makes the debit at-most-once.
func (r *walletRepo) ApplyDebit(ctx context.Context, tx pgx.Tx, transactionRef string) (*domain.BalanceChange, error) {
	hold, err := getHoldTxLocked(ctx, tx, transactionRef)
	if err != nil {
		return nil, err
	}

	balance, _, _, _, err := lockWallet(ctx, tx, hold.UserID)
	if err != nil {
		return nil, err
	}

	newBalance := balance.Sub(hold.Amount)
	if newBalance.IsNegative() {
		// A hold always fits inside balance; a negative result means the
		// ledger drifted and must not commit.
		return nil, fmt.Errorf("debit would overdraw wallet %s: %w", hold.UserID, xerrors.ErrInsufficientFunds)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM holds WHERE transaction_ref = $1`, transactionRef)
	if err != nil {
		return nil, fmt.Errorf("failed to consume hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, xerrors.ErrHoldNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance - $1::numeric,
		    pending_debit = pending_debit - $1::numeric,
		    daily_spent = daily_spent + $1::numeric,
		    monthly_spent = monthly_spent + $1::numeric,
		    version = version + 1,
		    updated_at = NOW()
		WHERE user_id = $2
	`, hold.Amount.StringFixed(2), hold.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to apply debit: %w", err)
	}

	return &domain.BalanceChange{Before: balance, After: newBalance}, nil
}

// ReleaseHold removes the hold without touching balance; available
// balance rises by the hold amount. Returns the released amount.
func (r *walletRepo) ReleaseHold(ctx context.Context, tx pgx.Tx, transactionRef string) (decimal.Decimal, error) {
	hold, err := getHoldTxLocked(ctx, tx, transactionRef)
	if err != nil {
		return decimal.Zero, err
	}

	if _, _, _, _, err := lockWallet(ctx, tx, hold.UserID); err != nil {
		return decimal.Zero, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM holds WHERE transaction_ref = $1`, transactionRef)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to release hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return decimal.Zero, xerrors.ErrHoldNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets
		SET pending_debit = pending_debit - $1::numeric, version = version + 1, updated_at = NOW()
		WHERE user_id = $2
	`, hold.Amount.StringFixed(2), hold.UserID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to release funds: %w", err)
	}
	return hold.Amount, nil
}

// Credit atomically increases balance and available balance.
func (r *walletRepo) Credit(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal) (*domain.BalanceChange, error) {
	balance, _, active, _, err := lockWallet(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, xerrors.ErrWalletInactive
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance + $1::numeric, version = version + 1, updated_at = NOW()
		WHERE user_id = $2
	`, amount.StringFixed(2), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}
	return &domain.BalanceChange{Before: balance, After: balance.Add(amount)}, nil
}

// TransferInternal moves funds between two wallets in one atomic scope.
// Rows are locked in user-id order so two opposite transfers cannot
// deadlock.
func (r *walletRepo) TransferInternal(ctx context.Context, tx pgx.Tx, srcUserID, dstUserID string, amount decimal.Decimal) (*domain.BalanceChange, *domain.BalanceChange, error) {
	first, second := srcUserID, dstUserID
	if second < first {
		first, second = second, first
	}
	if _, _, _, _, err := lockWallet(ctx, tx, first); err != nil {
		return nil, nil, err
	}
	if _, _, _, _, err := lockWallet(ctx, tx, second); err != nil {
		return nil, nil, err
	}

	srcBal, srcPending, srcActive, srcFrozen, err := lockWallet(ctx, tx, srcUserID)
	if err != nil {
		return nil, nil, err
	}
	if !srcActive {
		return nil, nil, xerrors.ErrWalletInactive
	}
	if srcFrozen {
		return nil, nil, xerrors.ErrWalletFrozen
	}
	if srcBal.Sub(srcPending).LessThan(amount) {
		return nil, nil, xerrors.ErrInsufficientFunds
	}

	dstBal, _, dstActive, _, err := lockWallet(ctx, tx, dstUserID)
	if err != nil {
		return nil, nil, err
	}
	if !dstActive {
		return nil, nil, xerrors.ErrWalletInactive
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance - $1::numeric,
		    daily_spent = daily_spent + $1::numeric,
		    monthly_spent = monthly_spent + $1::numeric,
		    version = version + 1, updated_at = NOW()
		WHERE user_id = $2
	`, amount.StringFixed(2), srcUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to debit source wallet: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance + $1::numeric, version = version + 1, updated_at = NOW()
		WHERE user_id = $2
	`, amount.StringFixed(2), dstUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to credit destination wallet: %w", err)
	}

	return &domain.BalanceChange{Before: srcBal, After: srcBal.Sub(amount)},
		&domain.BalanceChange{Before: dstBal, After: dstBal.Add(amount)},
		nil
}

func (r *walletRepo) ResetDailySpent(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `UPDATE wallets SET daily_spent = 0, updated_at = NOW()`)
	return err
}

func (r *walletRepo) ResetMonthlySpent(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `UPDATE wallets SET monthly_spent = 0, updated_at = NOW()`)
	return err
}

// ListMaintenanceDue returns wallets whose available balance covers the
// monthly maintenance fee. Wallets that cannot pay are skipped, not
// overdrawn.
func (r *walletRepo) ListMaintenanceDue(ctx context.Context, fee decimal.Decimal) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id FROM wallets
		WHERE is_active AND NOT is_frozen AND (balance - pending_debit) >= $1::numeric
	`, fee.StringFixed(2))
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets due maintenance: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

const holdQuery = `
	SELECT transaction_ref, user_id, amount::text, reason, created_at, expires_at
	FROM holds`

func scanHold(row pgx.Row) (*domain.Hold, error) {
	var (
		h      domain.Hold
		amount string
	)
	err := row.Scan(&h.TransactionRef, &h.UserID, &amount, &h.Reason, &h.CreatedAt, &h.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrHoldNotFound
		}
		return nil, fmt.Errorf("failed to scan hold: %w", err)
	}
	if h.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse hold amount: %w", err)
	}
	return &h, nil
}

func getHoldTx(ctx context.Context, tx pgx.Tx, transactionRef string) (*domain.Hold, error) {
	return scanHold(tx.QueryRow(ctx, holdQuery+` WHERE transaction_ref = $1`, transactionRef))
}

func getHoldTxLocked(ctx context.Context, tx pgx.Tx, transactionRef string) (*domain.Hold, error) {
	return scanHold(tx.QueryRow(ctx, holdQuery+` WHERE transaction_ref = $1 FOR UPDATE`, transactionRef))
}
