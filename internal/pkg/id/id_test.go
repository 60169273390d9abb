package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	ref := TransactionRef()
	assert.True(t, strings.HasPrefix(ref, "TXN_"))
	assert.Len(t, ref, len("TXN_")+26)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		r := TransactionRef()
		assert.False(t, seen[r], "duplicate reference %s", r)
		seen[r] = true
	}
}

func TestRefundRef(t *testing.T) {
	assert.True(t, strings.HasPrefix(RefundRef(), "RFD_"))
}

func TestCreditRef(t *testing.T) {
	assert.Equal(t, "TXN_ABC_CR", CreditRef("TXN_ABC"))
}

func TestMaintenanceRefDeterministic(t *testing.T) {
	assert.Equal(t, "TXN_MNT_202609_u1", MaintenanceRef("u1", "2026-09"))
	assert.Equal(t, MaintenanceRef("u1", "2026-09"), MaintenanceRef("u1", "2026-09"))
}
