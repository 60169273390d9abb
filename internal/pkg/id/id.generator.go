package id

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generate creates a prefixed, lexicographically sortable reference,
// e.g. TXN_01J8FZK3QW9RZ6X2B4N8P0M1T5.
func Generate(prefix string) string {
	u := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	return prefix + "_" + u.String()
}

// TransactionRef generates a new transaction reference.
func TransactionRef() string { return Generate("TXN") }

// RefundRef generates a reference for a refund transaction.
func RefundRef() string { return Generate("RFD") }

// CreditRef derives the reference for the credit leg of an internal
// transfer from its debit leg.
func CreditRef(debitRef string) string { return debitRef + "_CR" }

// MaintenanceRef is deterministic per wallet and period ("2006-01") so
// the monthly maintenance charge can exist at most once per month no
// matter how many workers attempt it.
func MaintenanceRef(userID, period string) string {
	return "TXN_MNT_" + strings.ReplaceAll(period, "-", "") + "_" + userID
}
