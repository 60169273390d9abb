package pub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Alert kinds that page or land in the ops review queue.
const (
	AlertSplitBrain        = "split_brain"
	AlertSettlementTimeout = "settlement_timeout"
	AlertCircuitOpen       = "circuit_open"
	AlertBadSignature      = "webhook_bad_signature"
	AlertConflictingEvent  = "webhook_conflicting_event"
)

type Alerter struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewAlerter(brokers []string, topic string, logger *zap.Logger) *Alerter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &Alerter{writer: w, logger: logger}
}

type alertEvent struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Reference string            `json:"reference,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	At        time.Time         `json:"at"`
}

func (a *Alerter) Raise(ctx context.Context, kind, reference, provider, detail string, fields map[string]string) {
	if a == nil || a.writer == nil {
		return
	}
	payload, err := json.Marshal(alertEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Reference: reference,
		Provider:  provider,
		Detail:    detail,
		Fields:    fields,
		At:        time.Now().UTC(),
	})
	if err != nil {
		a.logger.Error("marshal alert", zap.Error(err))
		return
	}
	err = a.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(kind),
		Value: payload,
	})
	if err != nil {
		a.logger.Warn("publish alert", zap.String("kind", kind), zap.Error(err))
	}
}

func (a *Alerter) Close() error {
	if a == nil || a.writer == nil {
		return nil
	}
	return a.writer.Close()
}
