// Package pub publishes transaction notifications over redis and
// operational alerts over kafka. Both paths are fire-and-forget:
// a publish failure is logged, never surfaced to the payment flow.
package pub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
)

const transactionChannel = "transaction_events"

type Notifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewNotifier(rdb *redis.Client, logger *zap.Logger) *Notifier {
	return &Notifier{rdb: rdb, logger: logger}
}

type transactionEvent struct {
	Reference string    `json:"reference"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Category  string    `json:"category"`
	Amount    string    `json:"amount"`
	At        time.Time `json:"at"`
}

// TransactionChanged announces a status change so downstream consumers
// (messaging service, receipts) can react.
func (n *Notifier) TransactionChanged(ctx context.Context, txn *domain.Transaction) {
	if n == nil || n.rdb == nil {
		return
	}
	payload, err := json.Marshal(transactionEvent{
		Reference: txn.Reference,
		UserID:    txn.UserID,
		Status:    txn.Status,
		Category:  txn.Category,
		Amount:    txn.Amount.StringFixed(2),
		At:        time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("marshal transaction event", zap.Error(err))
		return
	}
	if err := n.rdb.Publish(ctx, transactionChannel, payload).Err(); err != nil {
		n.logger.Warn("publish transaction event",
			zap.String("reference", txn.Reference), zap.Error(err))
	}
}
