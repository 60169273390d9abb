package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ParsePGErrorCode extracts the Postgres error code from a pgx error,
// e.g. 23505 for unique_violation.
func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return "unknown"
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == "23505"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input provided")
)

// Ledger / wallet
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletFrozen      = errors.New("wallet is frozen")
	ErrWalletInactive    = errors.New("wallet is inactive")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrConcurrentUpdate  = errors.New("concurrent update, retry")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrDailyLimit        = errors.New("daily spend limit exceeded")
	ErrMonthlyLimit      = errors.New("monthly spend limit exceeded")
	ErrSingleTxnLimit    = errors.New("single transaction limit exceeded")
)

// PIN / authorization
var (
	ErrInvalidPin    = errors.New("invalid transaction pin")
	ErrPinLocked     = errors.New("transaction pin locked")
	ErrPinNotSet     = errors.New("transaction pin not set")
	ErrKycRestricted = errors.New("kyc level does not permit this operation")
)

// Provider
var (
	ErrUnresolvedBank     = errors.New("bank could not be resolved")
	ErrInvalidAccount     = errors.New("invalid destination account")
	ErrInvalidMsisdn      = errors.New("invalid phone number")
	ErrPlanUnavailable    = errors.New("plan unavailable")
	ErrProviderError      = errors.New("provider error")
	ErrProviderTimeout    = errors.New("provider timeout")
	ErrDuplicateReference = errors.New("duplicate reference")
	ErrKycRejected        = errors.New("kyc rejected by provider")
	ErrInvalidBvn         = errors.New("invalid bvn")
	ErrCircuitOpen        = errors.New("circuit open")
)

// Transactions
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrTerminalStatus      = errors.New("transaction already in terminal status")
	ErrSettlementTimeout   = errors.New("settlement timeout")
)

// Webhooks
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnparseable      = errors.New("unparseable webhook payload")
	ErrDuplicateEvent   = errors.New("duplicate webhook event")
)
