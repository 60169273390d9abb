package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses
const (
	StatusInitiated         = "initiated"
	StatusReserved          = "reserved"
	StatusDispatched        = "dispatched"
	StatusPendingWebhook    = "pending_webhook"
	StatusPendingSettlement = "pending_settlement"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusReversed          = "reversed"
	StatusAbandoned         = "abandoned"
)

// Transaction directions
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Transaction categories
const (
	CategoryWalletFunding  = "wallet_funding"
	CategoryWalletTransfer = "wallet_transfer"
	CategoryBankTransfer   = "bank_transfer"
	CategoryAirtime        = "airtime"
	CategoryData           = "data"
	CategoryBill           = "bill"
	CategoryFee            = "fee"
	CategoryRefund         = "refund"
	CategoryMaintenance    = "maintenance"
)

type Recipient struct {
	Name            string `json:"name,omitempty"`
	AccountNumber   string `json:"account_number,omitempty"`
	InstitutionCode string `json:"institution_code,omitempty"`
	BankName        string `json:"bank_name,omitempty"`
	Msisdn          string `json:"msisdn,omitempty"`
	PlanCode        string `json:"plan_code,omitempty"`
	CustomerRef     string `json:"customer_ref,omitempty"`
	UserID          string `json:"user_id,omitempty"`
}

type Transaction struct {
	Reference         string           `json:"reference"`
	UserID            string           `json:"user_id"`
	Direction         string           `json:"direction"`
	Category          string           `json:"category"`
	Amount            decimal.Decimal  `json:"amount"`
	Fee               decimal.Decimal  `json:"fee"`
	TotalAmount       decimal.Decimal  `json:"total_amount"`
	Currency          string           `json:"currency"`
	Status            string           `json:"status"`
	Description       string           `json:"description,omitempty"`
	Recipient         *Recipient       `json:"recipient_details,omitempty"`
	Sender            *Recipient       `json:"sender_details,omitempty"`
	Provider          string           `json:"provider,omitempty"`
	ProviderReference *string          `json:"provider_reference,omitempty"`
	BalanceBefore     *decimal.Decimal `json:"balance_before,omitempty"`
	BalanceAfter      *decimal.Decimal `json:"balance_after,omitempty"`
	ParentReference   *string          `json:"parent_transaction_id,omitempty"`
	IdempotencyKey    *string          `json:"idempotency_key,omitempty"`
	FailureReason     *string          `json:"failure_reason,omitempty"`
	AttemptCount      int              `json:"attempt_count"`
	NextRetryAt       *time.Time       `json:"next_retry_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	FailedAt          *time.Time       `json:"failed_at,omitempty"`
}

// IsTerminal reports whether status permits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusReversed, StatusAbandoned:
		return true
	}
	return false
}

// transitions is the permitted state graph. The transaction row's status
// is the single source of truth; writers must observe-then-transition
// atomically (conditional UPDATE on the current status).
var transitions = map[string][]string{
	StatusInitiated:         {StatusReserved, StatusAbandoned},
	StatusReserved:          {StatusDispatched, StatusCompleted, StatusFailed, StatusPendingWebhook, StatusPendingSettlement, StatusAbandoned},
	StatusDispatched:        {StatusCompleted, StatusFailed, StatusPendingWebhook, StatusPendingSettlement},
	StatusPendingWebhook:    {StatusCompleted, StatusFailed, StatusReversed},
	StatusPendingSettlement: {StatusCompleted, StatusFailed},
	StatusFailed:            {StatusReversed},
	StatusCompleted:         {StatusReversed},
}

// CanTransition reports whether moving from one status to another is permitted.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FeeBreakdown is the result of a fee calculation. Fee calculation never
// fails; unknown services carry a zero fee with the reason set.
type FeeBreakdown struct {
	Fee       decimal.Decimal `json:"fee"`
	Reason    string          `json:"reason"`
	Breakdown string          `json:"breakdown,omitempty"`
}
