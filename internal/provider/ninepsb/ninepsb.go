// Package ninepsb implements the 9PSB WAAS adapter. It is the fallback
// bank-transfer rail and carries a smaller surface than bellbank: no
// virtual account issuance, transfers and enquiries only.
package ninepsb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pkg/sig"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/retry"
	"github.com/shopspring/decimal"
)

const Name = "ninepsb"

type Adapter struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	sigHeader     string
	httpClient    *http.Client
}

func New(cfg config.ProviderConfig) *Adapter {
	return &Adapter{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		sigHeader:     cfg.SignatureHeader,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *Adapter) Name() string { return Name }
func (a *Adapter) Kind() string { return domain.ProviderKindBaas }

// envelope is the common 9PSB response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *Adapter) post(ctx context.Context, path string, payload any) (*envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ninepsb marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("ninepsb request: %w", xerrors.ErrProviderTimeout)
		}
		var te interface{ Timeout() bool }
		if errors.As(err, &te) && te.Timeout() {
			return nil, fmt.Errorf("ninepsb request: %w", xerrors.ErrProviderTimeout)
		}
		return nil, fmt.Errorf("ninepsb request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ninepsb read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &retry.HTTPStatusError{Status: resp.StatusCode,
			Err: fmt.Errorf("ninepsb %s: %w", path, xerrors.ErrProviderError)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("ninepsb decode %s: %w", path, err)
	}
	return &env, nil
}

func (a *Adapter) NameEnquiry(ctx context.Context, account, institutionCode string) (*domain.NameEnquiryResult, error) {
	env, err := a.post(ctx, "/waas/api/v1/other_banks_enquiry", map[string]any{
		"customer": map[string]any{
			"account": map[string]string{"number": account, "bank": institutionCode},
		},
	})
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(env.Status, "SUCCESS") {
		if strings.Contains(strings.ToLower(env.Message), "account") {
			return nil, xerrors.ErrInvalidAccount
		}
		return nil, fmt.Errorf("ninepsb enquiry: %s: %w", env.Message, xerrors.ErrProviderError)
	}

	var data struct {
		Customer struct {
			Account struct {
				Name string `json:"name"`
			} `json:"account"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("ninepsb enquiry decode: %w", err)
	}
	return &domain.NameEnquiryResult{
		AccountName:     data.Customer.Account.Name,
		InstitutionCode: institutionCode,
	}, nil
}

func (a *Adapter) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	env, err := a.post(ctx, "/waas/api/v1/wallet_other_banks", map[string]any{
		"transaction": map[string]string{"reference": req.Reference},
		"order": map[string]any{
			"amount":      req.Amount.StringFixed(2),
			"description": req.Narration,
		},
		"customer": map[string]any{
			"account": map[string]string{
				"number":     req.DstAccount,
				"bank":       req.DstInstitution,
				"sendername": req.SenderName,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	var data struct {
		Transaction struct {
			SessionID string `json:"sessionid"`
		} `json:"transaction"`
	}
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &data)
	}

	switch strings.ToUpper(env.Status) {
	case "SUCCESS":
		return &domain.TransferResult{ProviderReference: data.Transaction.SessionID, Status: domain.SyncCompleted}, nil
	case "PENDING", "PROCESSING":
		return &domain.TransferResult{ProviderReference: data.Transaction.SessionID, Status: domain.SyncAccepted}, nil
	default:
		if strings.Contains(strings.ToLower(env.Message), "duplicate") {
			return nil, xerrors.ErrDuplicateReference
		}
		return &domain.TransferResult{Status: domain.SyncFailed, FailureReason: env.Message}, nil
	}
}

func (a *Adapter) QueryStatus(ctx context.Context, reference string) (*domain.StatusResult, error) {
	env, err := a.post(ctx, "/waas/api/v1/wallet_requery", map[string]any{
		"transaction": map[string]string{"reference": reference},
	})
	if err != nil {
		return nil, err
	}

	switch strings.ToUpper(env.Status) {
	case "SUCCESS":
		return &domain.StatusResult{Status: domain.SyncCompleted}, nil
	case "PENDING", "PROCESSING":
		return &domain.StatusResult{Status: domain.SyncPending}, nil
	case "NOT_FOUND":
		return nil, xerrors.ErrTransactionNotFound
	default:
		reason := env.Message
		return &domain.StatusResult{Status: domain.SyncFailed, FailureReason: &reason}, nil
	}
}

func (a *Adapter) VerifyWebhook(body []byte, headers http.Header) bool {
	return sig.ValidHMAC(a.webhookSecret, body, headers.Get(a.sigHeader))
}

func (a *Adapter) ParseWebhook(body []byte) (*domain.ProviderEvent, error) {
	var p struct {
		EventID     string `json:"event_id"`
		Event       string `json:"event"`
		SessionID   string `json:"sessionid"`
		Reference   string `json:"reference"`
		Amount      string `json:"amount"`
		Status      string `json:"status"`
		Account     string `json:"accountnumber"`
		Narration   string `json:"narration"`
		SenderName  string `json:"sendername"`
		SenderBank  string `json:"senderbank"`
		SenderAccnt string `json:"senderaccountnumber"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrUnparseable, err)
	}
	if p.EventID == "" {
		return nil, fmt.Errorf("%w: missing event id", xerrors.ErrUnparseable)
	}

	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount %q", xerrors.ErrUnparseable, p.Amount)
	}

	ev := &domain.ProviderEvent{
		Provider:          Name,
		ExternalEventID:   p.EventID,
		ProviderReference: p.SessionID,
		Reference:         p.Reference,
		Amount:            amount,
		Status:            p.Status,
	}
	switch strings.ToLower(p.Event) {
	case "wallet_credit", "credit":
		ev.Kind = domain.EventCredit
		ev.AccountNumber = p.Account
		ev.Counterparty = &domain.Recipient{
			Name:          p.SenderName,
			AccountNumber: p.SenderAccnt,
			BankName:      p.SenderBank,
		}
	case "transfer_status", "transfer":
		switch strings.ToUpper(p.Status) {
		case "SUCCESS", "SUCCESSFUL":
			ev.Kind = domain.EventTransferCompleted
		case "REVERSED":
			ev.Kind = domain.EventTransferReversed
			ev.FailureReason = p.Narration
		default:
			ev.Kind = domain.EventTransferFailed
			ev.FailureReason = p.Narration
		}
	default:
		return nil, fmt.Errorf("%w: unknown event %q", xerrors.ErrUnparseable, p.Event)
	}
	return ev, nil
}
