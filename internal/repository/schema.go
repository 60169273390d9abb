package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the persisted-state contract. cmd/setup applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS wallets (
	user_id           TEXT PRIMARY KEY,
	balance           NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	pending_debit     NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (pending_debit >= 0),
	pending_credit    NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (pending_credit >= 0),
	currency          TEXT NOT NULL DEFAULT 'NGN',
	is_active         BOOLEAN NOT NULL DEFAULT TRUE,
	is_frozen         BOOLEAN NOT NULL DEFAULT FALSE,
	daily_spent       NUMERIC(18,2) NOT NULL DEFAULT 0,
	monthly_spent     NUMERIC(18,2) NOT NULL DEFAULT 0,
	daily_limit       NUMERIC(18,2) NOT NULL DEFAULT 500000,
	monthly_limit     NUMERIC(18,2) NOT NULL DEFAULT 5000000,
	kyc_tier          INT NOT NULL DEFAULT 1,
	va_account_number TEXT,
	va_bank_code      TEXT,
	va_bank_name      TEXT,
	va_provider       TEXT,
	version           BIGINT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_va_account
	ON wallets (va_account_number) WHERE va_account_number IS NOT NULL;

CREATE TABLE IF NOT EXISTS transactions (
	reference          TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	direction          TEXT NOT NULL CHECK (direction IN ('credit', 'debit')),
	category           TEXT NOT NULL,
	amount             NUMERIC(18,2) NOT NULL,
	fee                NUMERIC(18,2) NOT NULL DEFAULT 0,
	total_amount       NUMERIC(18,2) NOT NULL,
	currency           TEXT NOT NULL DEFAULT 'NGN',
	status             TEXT NOT NULL DEFAULT 'initiated',
	description        TEXT NOT NULL DEFAULT '',
	recipient_details  JSONB,
	sender_details     JSONB,
	provider           TEXT,
	provider_reference TEXT,
	balance_before     NUMERIC(18,2),
	balance_after      NUMERIC(18,2),
	parent_reference   TEXT REFERENCES transactions (reference),
	idempotency_key    TEXT,
	failure_reason     TEXT,
	attempt_count      INT NOT NULL DEFAULT 0,
	next_retry_at      TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at       TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	failed_at          TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_created
	ON transactions (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_provider_ref
	ON transactions (provider_reference);
CREATE INDEX IF NOT EXISTS idx_transactions_status_retry
	ON transactions (status, next_retry_at);

CREATE TABLE IF NOT EXISTS holds (
	transaction_ref TEXT PRIMARY KEY REFERENCES transactions (reference),
	user_id         TEXT NOT NULL REFERENCES wallets (user_id),
	amount          NUMERIC(18,2) NOT NULL CHECK (amount > 0),
	reason          TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_holds_user ON holds (user_id);

CREATE TABLE IF NOT EXISTS webhook_events (
	id               BIGSERIAL PRIMARY KEY,
	provider         TEXT NOT NULL,
	external_event_id TEXT NOT NULL,
	payload_digest   TEXT NOT NULL,
	outcome          TEXT NOT NULL CHECK (outcome IN ('applied', 'duplicate', 'ignored', 'rejected')),
	transaction_ref  TEXT,
	received_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at     TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_applied
	ON webhook_events (provider, external_event_id) WHERE outcome = 'applied';
CREATE INDEX IF NOT EXISTS idx_webhook_events_provider
	ON webhook_events (provider, external_event_id);

CREATE TABLE IF NOT EXISTS idempotency_records (
	user_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	reference  TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, key)
);

CREATE TABLE IF NOT EXISTS user_pins (
	user_id    TEXT PRIMARY KEY,
	pin_hash   TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// ApplySchema creates all tables and indexes if missing.
func ApplySchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
