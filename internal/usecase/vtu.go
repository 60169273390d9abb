package usecase

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
)

// Nigerian mobile numbers: 0 + 10 digits, or 234 + 10 digits.
var msisdnPattern = regexp.MustCompile(`^(0\d{10}|234\d{10})$`)

type VtuInput struct {
	UserID         string          `json:"-"`
	Pin            string          `json:"pin"`
	Kind           string          `json:"kind"` // airtime or data
	Msisdn         string          `json:"msisdn"`
	PlanCode       string          `json:"plan_code,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"-"`
}

// InitiateVtuPurchase buys airtime or a data bundle for a phone number.
func (o *Orchestrator) InitiateVtuPurchase(ctx context.Context, in VtuInput) (*domain.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", xerrors.ErrInvalidInput)
	}
	if !msisdnPattern.MatchString(in.Msisdn) {
		return nil, xerrors.ErrInvalidMsisdn
	}

	var category string
	switch in.Kind {
	case domain.VtuKindAirtime:
		category = domain.CategoryAirtime
	case domain.VtuKindData:
		category = domain.CategoryData
		if in.PlanCode == "" {
			return nil, fmt.Errorf("plan code required for data: %w", xerrors.ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("unknown vtu kind %q: %w", in.Kind, xerrors.ErrInvalidInput)
	}

	fee := o.fees.Calculate(category, in.Amount)
	total := in.Amount.Add(fee.Fee)

	ref, owned, err := o.preflight(ctx, in.UserID, in.Pin, in.IdempotencyKey, total, 0)
	if err != nil {
		return nil, err
	}
	if !owned {
		return o.replay(ctx, in.UserID, ref)
	}

	adapter, vendor, err := o.vtuVendor()
	if err != nil {
		o.releaseClaim(ctx, in.UserID, in.IdempotencyKey)
		return nil, err
	}

	txn := &domain.Transaction{
		Reference:   ref,
		UserID:      in.UserID,
		Direction:   domain.DirectionDebit,
		Category:    category,
		Amount:      in.Amount,
		Fee:         fee.Fee,
		TotalAmount: total,
		Currency:    "NGN",
		Description: fmt.Sprintf("%s purchase for %s", category, in.Msisdn),
		Provider:    adapter.Name(),
		Recipient: &domain.Recipient{
			Msisdn:   in.Msisdn,
			PlanCode: in.PlanCode,
		},
		IdempotencyKey: nullable(in.IdempotencyKey),
	}
	if err := o.reserve(ctx, txn); err != nil {
		return nil, err
	}

	o.logger.Info("vtu purchase dispatched",
		zap.String("reference", ref),
		zap.String("kind", in.Kind),
		zap.String("msisdn", in.Msisdn))

	return o.dispatch(ctx, txn, func(ctx context.Context) (*domain.TransferResult, error) {
		return vendor.PurchaseVtu(ctx, domain.VtuRequest{
			Kind:      in.Kind,
			Msisdn:    in.Msisdn,
			PlanCode:  in.PlanCode,
			Amount:    in.Amount,
			Reference: ref,
		})
	})
}

type BillInput struct {
	UserID         string          `json:"-"`
	Pin            string          `json:"pin"`
	Service        string          `json:"service"` // electricity, cable, water, internet
	BillerCode     string          `json:"biller_code"`
	CustomerRef    string          `json:"customer_ref"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"-"`
}

// InitiateBillPayment pays a utility bill (electricity, cable, water,
// internet) through the VTU provider.
func (o *Orchestrator) InitiateBillPayment(ctx context.Context, in BillInput) (*domain.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", xerrors.ErrInvalidInput)
	}
	if in.BillerCode == "" || in.CustomerRef == "" {
		return nil, fmt.Errorf("biller code and customer reference required: %w", xerrors.ErrInvalidInput)
	}

	fee := o.fees.Calculate(in.Service, in.Amount)
	total := in.Amount.Add(fee.Fee)

	ref, owned, err := o.preflight(ctx, in.UserID, in.Pin, in.IdempotencyKey, total, 0)
	if err != nil {
		return nil, err
	}
	if !owned {
		return o.replay(ctx, in.UserID, ref)
	}

	adapter, vendor, err := o.vtuVendor()
	if err != nil {
		o.releaseClaim(ctx, in.UserID, in.IdempotencyKey)
		return nil, err
	}

	txn := &domain.Transaction{
		Reference:   ref,
		UserID:      in.UserID,
		Direction:   domain.DirectionDebit,
		Category:    domain.CategoryBill,
		Amount:      in.Amount,
		Fee:         fee.Fee,
		TotalAmount: total,
		Currency:    "NGN",
		Description: fmt.Sprintf("%s bill for %s", in.Service, in.CustomerRef),
		Provider:    adapter.Name(),
		Recipient: &domain.Recipient{
			CustomerRef: in.CustomerRef,
		},
		IdempotencyKey: nullable(in.IdempotencyKey),
	}
	if err := o.reserve(ctx, txn); err != nil {
		return nil, err
	}

	o.logger.Info("bill payment dispatched",
		zap.String("reference", ref),
		zap.String("service", in.Service),
		zap.String("biller", in.BillerCode))

	return o.dispatch(ctx, txn, func(ctx context.Context) (*domain.TransferResult, error) {
		return vendor.PurchaseVtu(ctx, domain.VtuRequest{
			Kind:        domain.VtuKindBill,
			BillerCode:  in.BillerCode,
			CustomerRef: in.CustomerRef,
			Amount:      in.Amount,
			Reference:   ref,
		})
	})
}

func (o *Orchestrator) vtuVendor() (domain.Adapter, domain.VtuVendor, error) {
	adapter, err := o.registry.Get("bilal")
	if err != nil {
		return nil, nil, err
	}
	vendor, ok := adapter.(domain.VtuVendor)
	if !ok {
		return nil, nil, fmt.Errorf("adapter %s cannot vend vtu: %w", adapter.Name(), xerrors.ErrInternalServer)
	}
	return adapter, vendor, nil
}
