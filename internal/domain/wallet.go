package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VirtualAccount holds the external account coordinates a BaaS provider
// assigned to a wallet for inbound transfers.
type VirtualAccount struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
	Provider      string `json:"provider"`
}

type Wallet struct {
	UserID           string          `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	LedgerBalance    decimal.Decimal `json:"ledger_balance"`
	Currency         string          `json:"currency"`
	IsActive         bool            `json:"is_active"`
	IsFrozen         bool            `json:"is_frozen"`
	DailySpent       decimal.Decimal `json:"daily_spent"`
	MonthlySpent     decimal.Decimal `json:"monthly_spent"`
	DailyLimit       decimal.Decimal `json:"daily_limit"`
	MonthlyLimit     decimal.Decimal `json:"monthly_limit"`
	KycTier          int             `json:"kyc_tier"`
	VirtualAccount   *VirtualAccount `json:"virtual_account,omitempty"`
	Version          int64           `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Hold reserves funds against a wallet. A hold lowers available_balance
// but not balance until it is consumed by a debit or released.
type Hold struct {
	TransactionRef string          `json:"transaction_ref"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// BalanceChange reports the wallet balance around a ledger write.
type BalanceChange struct {
	Before decimal.Decimal `json:"balance_before"`
	After  decimal.Decimal `json:"balance_after"`
}
