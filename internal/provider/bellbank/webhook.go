package bellbank

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pkg/sig"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/shopspring/decimal"
)

func (a *Adapter) VerifyWebhook(body []byte, headers http.Header) bool {
	return sig.ValidHMAC(a.webhookSecret, body, headers.Get(a.sigHeader))
}

// webhookPayload covers both inbound credit notifications and transfer
// settlement callbacks; the event type field discriminates.
type webhookPayload struct {
	EventType     string `json:"eventType"`
	EventID       string `json:"eventId"`
	SessionID     string `json:"sessionId"`
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	AccountNumber string `json:"accountNumber"`
	Narration     string `json:"narration"`
	Sender        struct {
		AccountName   string `json:"accountName"`
		AccountNumber string `json:"accountNumber"`
		BankName      string `json:"bankName"`
	} `json:"sender"`
}

func (a *Adapter) ParseWebhook(body []byte) (*domain.ProviderEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrUnparseable, err)
	}
	if p.EventID == "" || p.EventType == "" {
		return nil, fmt.Errorf("%w: missing event id or type", xerrors.ErrUnparseable)
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

	switch strings.ToLower(p.EventType) {
	case "collection", "credit", "virtual_account.credit":
		ev.Kind = domain.EventCredit
		ev.AccountNumber = p.AccountNumber
		ev.Counterparty = &domain.Recipient{
			Name:          p.Sender.AccountName,
			AccountNumber: p.Sender.AccountNumber,
			BankName:      p.Sender.BankName,
		}
	case "transfer", "transfer.settlement":
		switch strings.ToUpper(p.Status) {
		case "SUCCESSFUL", "SUCCESS", "COMPLETED":
			ev.Kind = domain.EventTransferCompleted
		case "REVERSED":
			ev.Kind = domain.EventTransferReversed
			ev.FailureReason = p.Narration
		default:
			ev.Kind = domain.EventTransferFailed
			ev.FailureReason = p.Narration
		}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", xerrors.ErrUnparseable, p.EventType)
	}
	return ev, nil
}
