// Package bilal implements the BilalSadaSub VTU adapter: airtime, data
// bundles and bill payments (electricity, cable, internet).
package bilal

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

const Name = "bilal"

type Adapter struct {
	baseURL       string
	apiToken      string
	webhookSecret string
	sigHeader     string
	httpClient    *http.Client
}

func New(cfg config.ProviderConfig) *Adapter {
	return &Adapter{
		baseURL:       cfg.BaseURL,
		apiToken:      cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		sigHeader:     cfg.SignatureHeader,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *Adapter) Name() string { return Name }
func (a *Adapter) Kind() string { return domain.ProviderKindVtu }

type vtuResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	TxnID     string `json:"transaction_id"`
}

func (a *Adapter) post(ctx context.Context, path string, payload any) (*vtuResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bilal marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+a.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("bilal request: %w", xerrors.ErrProviderTimeout)
		}
		var te interface{ Timeout() bool }
		if errors.As(err, &te) && te.Timeout() {
			return nil, fmt.Errorf("bilal request: %w", xerrors.ErrProviderTimeout)
		}
		return nil, fmt.Errorf("bilal request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bilal read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &retry.HTTPStatusError{Status: resp.StatusCode,
			Err: fmt.Errorf("bilal %s: %w", path, xerrors.ErrProviderError)}
	}

	var res vtuResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("bilal decode %s: %w", path, err)
	}
	return &res, nil
}

func (a *Adapter) PurchaseVtu(ctx context.Context, req domain.VtuRequest) (*domain.TransferResult, error) {
	var path string
	payload := map[string]any{"reference": req.Reference}

	switch req.Kind {
	case domain.VtuKindAirtime:
		path = "/api/topup/"
		payload["phone"] = req.Msisdn
		payload["amount"] = req.Amount.StringFixed(2)
	case domain.VtuKindData:
		path = "/api/data/"
		payload["phone"] = req.Msisdn
		payload["plan"] = req.PlanCode
	case domain.VtuKindBill:
		path = "/api/billpayment/"
		payload["biller"] = req.BillerCode
		payload["customer"] = req.CustomerRef
		payload["amount"] = req.Amount.StringFixed(2)
	default:
		return nil, fmt.Errorf("bilal: unsupported vtu kind %q", req.Kind)
	}

	res, err := a.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(res.Status) {
	case "successful", "success":
		return &domain.TransferResult{ProviderReference: res.TxnID, Status: domain.SyncCompleted}, nil
	case "processing", "pending":
		return &domain.TransferResult{ProviderReference: res.TxnID, Status: domain.SyncAccepted}, nil
	default:
		msg := strings.ToLower(res.Message)
		switch {
		case strings.Contains(msg, "duplicate"):
			return nil, xerrors.ErrDuplicateReference
		case strings.Contains(msg, "phone") || strings.Contains(msg, "number"):
			return nil, xerrors.ErrInvalidMsisdn
		case strings.Contains(msg, "plan") || strings.Contains(msg, "unavailable"):
			return nil, xerrors.ErrPlanUnavailable
		}
		return &domain.TransferResult{Status: domain.SyncFailed, FailureReason: res.Message}, nil
	}
}

func (a *Adapter) QueryStatus(ctx context.Context, reference string) (*domain.StatusResult, error) {
	res, err := a.post(ctx, "/api/requery/", map[string]string{"reference": reference})
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(res.Status) {
	case "successful", "success":
		return &domain.StatusResult{Status: domain.SyncCompleted}, nil
	case "processing", "pending":
		return &domain.StatusResult{Status: domain.SyncPending}, nil
	case "not_found":
		return nil, xerrors.ErrTransactionNotFound
	default:
		reason := res.Message
		return &domain.StatusResult{Status: domain.SyncFailed, FailureReason: &reason}, nil
	}
}

func (a *Adapter) VerifyWebhook(body []byte, headers http.Header) bool {
	return sig.ValidHMAC(a.webhookSecret, body, headers.Get(a.sigHeader))
}

func (a *Adapter) ParseWebhook(body []byte) (*domain.ProviderEvent, error) {
	var p struct {
		EventID   string `json:"event_id"`
		Reference string `json:"reference"`
		TxnID     string `json:"transaction_id"`
		Amount    string `json:"amount"`
		Status    string `json:"status"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrUnparseable, err)
	}
	if p.EventID == "" {
		return nil, fmt.Errorf("%w: missing event id", xerrors.ErrUnparseable)
	}

	amount := decimal.Zero
	if p.Amount != "" {
		var err error
		if amount, err = decimal.NewFromString(p.Amount); err != nil {
			return nil, fmt.Errorf("%w: bad amount %q", xerrors.ErrUnparseable, p.Amount)
		}
	}

	ev := &domain.ProviderEvent{
		Provider:          Name,
		ExternalEventID:   p.EventID,
		ProviderReference: p.TxnID,
		Reference:         p.Reference,
		Amount:            amount,
		Status:            p.Status,
	}
	switch strings.ToLower(p.Status) {
	case "successful", "success":
		ev.Kind = domain.EventTransferCompleted
	default:
		ev.Kind = domain.EventTransferFailed
		ev.FailureReason = p.Message
	}
	return ev, nil
}
