package fees

import (
	"testing"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBankTransferTiers(t *testing.T) {
	table := DefaultTable()

	cases := []struct {
		amount string
		fee    string
	}{
		{"500", "15"},
		{"10000", "15"},
		{"10000.01", "25"},
		{"25000", "25"},
		{"50000", "25"},
		{"50000.01", "50"},
		{"1000000", "50"},
	}
	for _, c := range cases {
		fb := table.Calculate(domain.CategoryBankTransfer, decimal.RequireFromString(c.amount))
		assert.True(t, fb.Fee.Equal(decimal.RequireFromString(c.fee)),
			"amount %s: expected fee %s, got %s", c.amount, c.fee, fb.Fee)
	}
}

func TestWalletTransfersAreFree(t *testing.T) {
	table := DefaultTable()

	fb := table.Calculate(domain.CategoryWalletTransfer, decimal.RequireFromString("25000"))
	assert.True(t, fb.Fee.IsZero())

	fb = table.Calculate(domain.CategoryWalletFunding, decimal.RequireFromString("25000"))
	assert.True(t, fb.Fee.IsZero())
}

func TestAirtimeAndDataFlatFee(t *testing.T) {
	table := DefaultTable()

	fb := table.Calculate(domain.CategoryAirtime, decimal.RequireFromString("1000"))
	assert.True(t, fb.Fee.Equal(decimal.RequireFromString("10")))

	fb = table.Calculate(domain.CategoryData, decimal.RequireFromString("2500"))
	assert.True(t, fb.Fee.Equal(decimal.RequireFromString("10")))
}

func TestElectricityPercentageClamped(t *testing.T) {
	table := DefaultTable()

	// 1.5% of 1,000 = 15, clamped up to the 25 minimum.
	fb := table.Calculate("electricity", decimal.RequireFromString("1000"))
	assert.True(t, fb.Fee.Equal(decimal.RequireFromString("25")), "got %s", fb.Fee)

	// 1.5% of 10,000 = 150, inside the clamp.
	fb = table.Calculate("electricity", decimal.RequireFromString("10000"))
	assert.True(t, fb.Fee.Equal(decimal.RequireFromString("150")), "got %s", fb.Fee)

	// 1.5% of 100,000 = 1,500, clamped down to 500.
	fb = table.Calculate("electricity", decimal.RequireFromString("100000"))
	assert.True(t, fb.Fee.Equal(decimal.RequireFromString("500")), "got %s", fb.Fee)
}

func TestCablePercentage(t *testing.T) {
	table := DefaultTable()

	// 2% of 5,000 = 100.
	fb := table.Calculate("cable", decimal.RequireFromString("5000"))
	assert.True(t, fb.Fee.Equal(decimal.RequireFromString("100")), "got %s", fb.Fee)
}

func TestUnknownServiceNeverErrors(t *testing.T) {
	table := DefaultTable()

	fb := table.Calculate("something_else", decimal.RequireFromString("9999"))
	assert.True(t, fb.Fee.IsZero())
	assert.Equal(t, "no matching rule", fb.Reason)
}

func TestMaintenanceFee(t *testing.T) {
	table := DefaultTable()
	assert.True(t, table.MaintenanceFee.Equal(decimal.RequireFromString("50")))
}
