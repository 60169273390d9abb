package usecase

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/retry"
)

// Store is the transactional scope the flows compose ledger writes in.
// *repository.Store satisfies it.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Pool() *pgxpool.Pool
}

// PinVerifier authorizes a payment with the user's transaction PIN.
type PinVerifier interface {
	Verify(ctx context.Context, userID, pin string) error
}

// ProviderRegistry resolves adapters and their protection state.
// *provider.Registry satisfies it.
type ProviderRegistry interface {
	Get(name string) (domain.Adapter, error)
	DefaultBaas() domain.Adapter
	Breaker(name string) *retry.Breaker
	Policy(name string) retry.Policy
	WebhookSource(name string) (domain.WebhookSource, bool)
	Names() []string
}
