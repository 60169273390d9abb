package bellbank

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
)

const Name = "bellbank"

// Adapter owns its HTTP client, token state and the cached institution
// list; nothing here is process-global.
type Adapter struct {
	client        *Client
	webhookSecret string
	sigHeader     string

	bankMu        sync.RWMutex
	banks         map[string]string // lowercased bank name -> 6-digit institution code
	banksLoadedAt time.Time
}

func New(cfg config.ProviderConfig) *Adapter {
	return &Adapter{
		client:        NewClient(cfg),
		webhookSecret: cfg.WebhookSecret,
		sigHeader:     cfg.SignatureHeader,
	}
}

func (a *Adapter) Name() string { return Name }
func (a *Adapter) Kind() string { return domain.ProviderKindBaas }

// ResolveInstitution maps a free-form bank name or code to the 6-digit
// institution code used by the transfer rail.
func (a *Adapter) ResolveInstitution(ctx context.Context, nameOrCode string) (string, error) {
	needle := strings.ToLower(strings.TrimSpace(nameOrCode))
	if needle == "" {
		return "", xerrors.ErrUnresolvedBank
	}
	// Already a 6-digit code.
	if len(needle) == 6 && isDigits(needle) {
		return needle, nil
	}

	banks, err := a.institutionList(ctx)
	if err != nil {
		return "", err
	}
	if code, ok := banks[needle]; ok {
		return code, nil
	}
	for name, code := range banks {
		if strings.Contains(name, needle) {
			return code, nil
		}
	}
	return "", xerrors.ErrUnresolvedBank
}

func (a *Adapter) institutionList(ctx context.Context) (map[string]string, error) {
	a.bankMu.RLock()
	if a.banks != nil && time.Since(a.banksLoadedAt) < 24*time.Hour {
		defer a.bankMu.RUnlock()
		return a.banks, nil
	}
	a.bankMu.RUnlock()

	var res struct {
		ResponseCode string `json:"responseCode"`
		Data         []struct {
			BankName        string `json:"bankName"`
			InstitutionCode string `json:"institutionCode"`
		} `json:"data"`
	}
	if err := a.client.postJSON(ctx, "/v1/transfer/banks", map[string]any{}, &res); err != nil {
		return nil, err
	}
	if res.ResponseCode != "00" {
		return nil, fmt.Errorf("bank list response %s: %w", res.ResponseCode, xerrors.ErrProviderError)
	}

	banks := make(map[string]string, len(res.Data))
	for _, b := range res.Data {
		banks[strings.ToLower(b.BankName)] = b.InstitutionCode
	}

	a.bankMu.Lock()
	a.banks = banks
	a.banksLoadedAt = time.Now()
	a.bankMu.Unlock()
	return banks, nil
}

func (a *Adapter) NameEnquiry(ctx context.Context, account, institutionCode string) (*domain.NameEnquiryResult, error) {
	var res struct {
		ResponseCode string `json:"responseCode"`
		Message      string `json:"message"`
		Data         struct {
			AccountName string `json:"accountName"`
		} `json:"data"`
	}
	err := a.client.postJSON(ctx, "/v1/transfer/name-enquiry", map[string]any{
		"accountNumber":   account,
		"institutionCode": institutionCode,
	}, &res)
	if err != nil {
		return nil, err
	}

	switch res.ResponseCode {
	case "00":
		return &domain.NameEnquiryResult{
			AccountName:     res.Data.AccountName,
			InstitutionCode: institutionCode,
		}, nil
	case "07", "08":
		return nil, xerrors.ErrInvalidAccount
	default:
		return nil, fmt.Errorf("name enquiry response %s: %w", res.ResponseCode, xerrors.ErrProviderError)
	}
}

func (a *Adapter) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	var res struct {
		ResponseCode string `json:"responseCode"`
		Message      string `json:"message"`
		Data         struct {
			SessionID string `json:"sessionId"`
			Status    string `json:"status"`
		} `json:"data"`
	}
	err := a.client.postJSON(ctx, "/v1/transfer/interbank", map[string]any{
		"reference":          req.Reference,
		"amount":             req.Amount.StringFixed(2),
		"creditAccount":      req.DstAccount,
		"creditInstitution":  req.DstInstitution,
		"narration":          req.Narration,
		"senderName":         req.SenderName,
	}, &res)
	if err != nil {
		return nil, err
	}

	switch res.ResponseCode {
	case "00":
		return &domain.TransferResult{ProviderReference: res.Data.SessionID, Status: domain.SyncCompleted}, nil
	case "01", "09":
		// Accepted for processing; settlement confirmed by webhook.
		return &domain.TransferResult{ProviderReference: res.Data.SessionID, Status: domain.SyncAccepted}, nil
	case "94":
		return nil, xerrors.ErrDuplicateReference
	case "51":
		return nil, fmt.Errorf("bellbank settlement account: %w", xerrors.ErrProviderError)
	default:
		return &domain.TransferResult{
			ProviderReference: res.Data.SessionID,
			Status:            domain.SyncFailed,
			FailureReason:     res.Message,
		}, nil
	}
}

func (a *Adapter) QueryStatus(ctx context.Context, reference string) (*domain.StatusResult, error) {
	var res struct {
		ResponseCode string `json:"responseCode"`
		Data         struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"data"`
	}
	err := a.client.postJSON(ctx, "/v1/transfer/status", map[string]any{
		"reference": reference,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.ResponseCode == "25" {
		return nil, xerrors.ErrTransactionNotFound
	}
	if res.ResponseCode != "00" {
		return nil, fmt.Errorf("status query response %s: %w", res.ResponseCode, xerrors.ErrProviderError)
	}

	out := &domain.StatusResult{Status: normalizeStatus(res.Data.Status)}
	if out.Status == domain.SyncFailed && res.Data.Message != "" {
		out.FailureReason = &res.Data.Message
	}
	return out, nil
}

func (a *Adapter) CreateVirtualAccount(ctx context.Context, payload domain.KycPayload) (*domain.VirtualAccountResult, error) {
	var res struct {
		ResponseCode string `json:"responseCode"`
		Message      string `json:"message"`
		Data         struct {
			AccountNumber string `json:"accountNumber"`
			AccountName   string `json:"accountName"`
			BankCode      string `json:"bankCode"`
			BankName      string `json:"bankName"`
			Reference     string `json:"reference"`
		} `json:"data"`
	}
	err := a.client.postJSON(ctx, "/v1/accounts/virtual", map[string]any{
		"firstName":   payload.FirstName,
		"lastName":    payload.LastName,
		"phoneNumber": payload.Phone,
		"bvn":         payload.Bvn,
		"dateOfBirth": payload.DateOfBirth,
		"externalRef": payload.UserID,
	}, &res)
	if err != nil {
		return nil, err
	}

	switch res.ResponseCode {
	case "00":
		return &domain.VirtualAccountResult{
			AccountNumber:     res.Data.AccountNumber,
			AccountName:       res.Data.AccountName,
			BankCode:          res.Data.BankCode,
			BankName:          res.Data.BankName,
			ExternalReference: res.Data.Reference,
		}, nil
	case "61":
		return nil, xerrors.ErrKycRejected
	default:
		return nil, fmt.Errorf("virtual account response %s: %w", res.ResponseCode, xerrors.ErrProviderError)
	}
}

// normalizeStatus folds provider transfer statuses into the closed sync
// enum. Anything ambiguous stays pending; the reconciler or poller
// finishes it.
func normalizeStatus(s string) string {
	switch strings.ToUpper(s) {
	case "SUCCESSFUL", "SUCCESS", "COMPLETED":
		return domain.SyncCompleted
	case "FAILED", "REVERSED_FAILED":
		return domain.SyncFailed
	default:
		return domain.SyncPending
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
