// Package fees computes the fee charged on top of a transaction amount.
// Calculation is pure: the table is fixed at construction and lookups
// never fail, an unknown service simply carries no fee.
package fees

import (
	"fmt"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// Calculation methods
const (
	methodFixed      = "fixed"
	methodTiered     = "tiered"
	methodPercentage = "percentage"
)

type tier struct {
	MinAmount decimal.Decimal
	MaxAmount *decimal.Decimal // nil = open-ended
	Fee       decimal.Decimal
}

type rule struct {
	Method string
	Fixed  decimal.Decimal
	Tiers  []tier
	Rate   decimal.Decimal // fraction, e.g. 0.015
	MinFee decimal.Decimal
	MaxFee decimal.Decimal
}

// Table maps a service name to its fee rule.
type Table struct {
	rules map[string]rule

	// MaintenanceFee is the flat monthly account maintenance charge,
	// applied on day 1 of each month when balance covers it.
	MaintenanceFee decimal.Decimal
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// DefaultTable returns the production fee table.
func DefaultTable() *Table {
	return &Table{
		MaintenanceFee: dec("50"),
		rules: map[string]rule{
			domain.CategoryWalletFunding:  {Method: methodFixed, Fixed: decimal.Zero},
			domain.CategoryWalletTransfer: {Method: methodFixed, Fixed: decimal.Zero},
			domain.CategoryBankTransfer: {Method: methodTiered, Tiers: []tier{
				{MinAmount: decimal.Zero, MaxAmount: decPtr("10000"), Fee: dec("15")},
				{MinAmount: dec("10000.01"), MaxAmount: decPtr("50000"), Fee: dec("25")},
				{MinAmount: dec("50000.01"), Fee: dec("50")},
			}},
			domain.CategoryAirtime: {Method: methodFixed, Fixed: dec("10")},
			domain.CategoryData:    {Method: methodFixed, Fixed: dec("10")},
			"electricity":          {Method: methodPercentage, Rate: dec("0.015"), MinFee: dec("25"), MaxFee: dec("500")},
			"cable":                {Method: methodPercentage, Rate: dec("0.02"), MinFee: dec("25"), MaxFee: dec("500")},
			"water":                {Method: methodPercentage, Rate: dec("0.02"), MinFee: dec("25"), MaxFee: dec("500")},
			"internet":             {Method: methodPercentage, Rate: dec("0.02"), MinFee: dec("25"), MaxFee: dec("500")},
			domain.CategoryMaintenance: {Method: methodFixed, Fixed: dec("50")},
		},
	}
}

// Calculate returns the fee for a service and amount. Credits and unknown
// services are free.
func (t *Table) Calculate(service string, amount decimal.Decimal) domain.FeeBreakdown {
	r, ok := t.rules[service]
	if !ok {
		return domain.FeeBreakdown{Fee: decimal.Zero, Reason: "no matching rule"}
	}

	switch r.Method {
	case methodFixed:
		return domain.FeeBreakdown{
			Fee:       r.Fixed,
			Reason:    service,
			Breakdown: fmt.Sprintf("fixed fee: %s", r.Fixed.StringFixed(2)),
		}

	case methodTiered:
		for _, tr := range r.Tiers {
			if amount.LessThan(tr.MinAmount) {
				continue
			}
			if tr.MaxAmount != nil && amount.GreaterThan(*tr.MaxAmount) {
				continue
			}
			maxStr := "∞"
			if tr.MaxAmount != nil {
				maxStr = tr.MaxAmount.StringFixed(2)
			}
			return domain.FeeBreakdown{
				Fee:    tr.Fee,
				Reason: service,
				Breakdown: fmt.Sprintf("tiered: %s for range %s-%s",
					tr.Fee.StringFixed(2), tr.MinAmount.StringFixed(2), maxStr),
			}
		}
		// No tier matched (negative amount); charge nothing rather than fail.
		return domain.FeeBreakdown{Fee: decimal.Zero, Reason: service, Breakdown: "no tier matched"}

	case methodPercentage:
		fee := amount.Mul(r.Rate).Round(2)
		breakdown := fmt.Sprintf("percentage: %s%%", r.Rate.Mul(dec("100")).StringFixed(2))
		if fee.LessThan(r.MinFee) {
			breakdown += fmt.Sprintf(" → min %s applied (was %s)", r.MinFee.StringFixed(2), fee.StringFixed(2))
			fee = r.MinFee
		}
		if fee.GreaterThan(r.MaxFee) {
			breakdown += fmt.Sprintf(" → max %s applied (was %s)", r.MaxFee.StringFixed(2), fee.StringFixed(2))
			fee = r.MaxFee
		}
		return domain.FeeBreakdown{Fee: fee, Reason: service, Breakdown: breakdown}
	}

	return domain.FeeBreakdown{Fee: decimal.Zero, Reason: "no matching rule"}
}
