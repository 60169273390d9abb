package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Provider kinds
const (
	ProviderKindBaas     = "baas"
	ProviderKindVtu      = "vtu"
	ProviderKindBiller   = "biller"
	ProviderKindIdentity = "identity"
)

// Normalized synchronous provider statuses. No component outside the
// adapters may inspect raw provider payloads.
const (
	SyncAccepted  = "accepted"
	SyncPending   = "pending"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

type TransferRequest struct {
	Reference      string          `json:"reference"`
	Amount         decimal.Decimal `json:"amount"`
	DstAccount     string          `json:"dst_account"`
	DstInstitution string          `json:"dst_institution"`
	Narration      string          `json:"narration"`
	SenderName     string          `json:"sender_name"`
}

type TransferResult struct {
	ProviderReference string `json:"provider_reference"`
	Status            string `json:"status"` // one of the Sync* constants
	FailureReason     string `json:"failure_reason,omitempty"`
}

type NameEnquiryResult struct {
	AccountName     string `json:"account_name"`
	InstitutionCode string `json:"institution_code"`
}

type StatusResult struct {
	Status        string  `json:"status"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

type KycPayload struct {
	UserID      string `json:"user_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Bvn         string `json:"bvn,omitempty"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

type VirtualAccountResult struct {
	AccountNumber     string `json:"account_number"`
	AccountName       string `json:"account_name"`
	BankCode          string `json:"bank_code"`
	BankName          string `json:"bank_name"`
	ExternalReference string `json:"external_reference"`
}

type BvnPayload struct {
	Bvn       string `json:"bvn"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Dob       string `json:"dob,omitempty"`
}

type BvnResult struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Phone       string `json:"phone,omitempty"`
	Mismatch    bool   `json:"mismatch"`
}

// VTU kinds
const (
	VtuKindAirtime = "airtime"
	VtuKindData    = "data"
	VtuKindBill    = "bill"
)

type VtuRequest struct {
	Kind         string          `json:"kind"`
	Msisdn       string          `json:"msisdn,omitempty"`
	PlanCode     string          `json:"plan_code,omitempty"`
	BillerCode   string          `json:"biller_code,omitempty"`
	CustomerRef  string          `json:"customer_ref,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Reference    string          `json:"reference"`
}

// Normalized webhook event kinds.
const (
	EventCredit            = "credit"
	EventTransferCompleted = "transfer.completed"
	EventTransferFailed    = "transfer.failed"
	EventTransferReversed  = "transfer.reversed"
)

// ProviderEvent is a provider webhook normalized by an adapter's ParseWebhook.
type ProviderEvent struct {
	Provider          string          `json:"provider"`
	Kind              string          `json:"kind"`
	ExternalEventID   string          `json:"external_event_id"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	Reference         string          `json:"reference,omitempty"` // our reference, when echoed in remarks
	Amount            decimal.Decimal `json:"amount"`
	Status            string          `json:"status,omitempty"`
	AccountNumber     string          `json:"account_number,omitempty"` // destination virtual account for credits
	Counterparty      *Recipient      `json:"counterparty,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
}

// Adapter is implemented by every upstream provider. Capabilities beyond
// the base contract are declared by implementing the optional interfaces
// below; the registry discovers them with type assertions.
type Adapter interface {
	Name() string
	Kind() string
}

type BankResolver interface {
	ResolveInstitution(ctx context.Context, nameOrCode string) (string, error)
}

type NameEnquirer interface {
	NameEnquiry(ctx context.Context, account, institutionCode string) (*NameEnquiryResult, error)
}

type Transferrer interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type StatusQuerier interface {
	QueryStatus(ctx context.Context, reference string) (*StatusResult, error)
}

type VirtualAccountIssuer interface {
	CreateVirtualAccount(ctx context.Context, payload KycPayload) (*VirtualAccountResult, error)
}

type BvnVerifier interface {
	VerifyBvn(ctx context.Context, payload BvnPayload) (*BvnResult, error)
}

type VtuVendor interface {
	PurchaseVtu(ctx context.Context, req VtuRequest) (*TransferResult, error)
}

type WebhookSource interface {
	VerifyWebhook(body []byte, headers http.Header) bool
	ParseWebhook(body []byte) (*ProviderEvent, error)
}

// RegistryEntry is the static configuration for one adapter.
type RegistryEntry struct {
	Name                   string        `json:"name"`
	Kind                   string        `json:"kind"`
	Timeout                time.Duration `json:"timeout"`
	TransferTimeout        time.Duration `json:"transfer_timeout"`
	WebhookSecret          string        `json:"-"`
	WebhookSignatureHeader string        `json:"webhook_signature_header"`
}
