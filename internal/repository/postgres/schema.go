// internal/repository/postgres/schema.go
package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS wallet_accounts (
    account_id          BIGINT PRIMARY KEY,
    balance_minor_units BIGINT NOT NULL DEFAULT 0 CHECK (balance_minor_units >= 0),
    loyalty_points      BIGINT NOT NULL DEFAULT 0 CHECK (loyalty_points >= 0),
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wallet_transactions (
    id                 BIGSERIAL PRIMARY KEY,
    transaction_id     UUID NOT NULL UNIQUE,
    account_id         BIGINT NOT NULL REFERENCES wallet_accounts (account_id),
    type               VARCHAR(16) NOT NULL,
    amount_minor_units BIGINT NOT NULL,
    points_delta       BIGINT NOT NULL DEFAULT 0,
    balance_after      BIGINT NOT NULL,
    points_after       BIGINT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    external_reference VARCHAR(128),
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT wallet_transactions_external_reference_key UNIQUE (external_reference)
);

CREATE INDEX IF NOT EXISTS wallet_transactions_account_id_idx
    ON wallet_transactions (account_id, id DESC);

CREATE TABLE IF NOT EXISTS topup_intents (
    intent_id                    VARCHAR(32) PRIMARY KEY,
    account_id                   BIGINT NOT NULL REFERENCES wallet_accounts (account_id),
    requested_amount_minor_units BIGINT NOT NULL CHECK (requested_amount_minor_units > 0),
    payment_method               VARCHAR(16) NOT NULL,
    status                       VARCHAR(16) NOT NULL,
    gateway_reference            VARCHAR(128),
    failure_reason               TEXT,
    client_ip                    VARCHAR(64) NOT NULL DEFAULT '',
    created_at                   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    settled_at                   TIMESTAMPTZ,
    updated_at                   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT topup_intents_gateway_reference_key UNIQUE (gateway_reference)
);

CREATE INDEX IF NOT EXISTS topup_intents_pending_idx
    ON topup_intents (created_at) WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS vouchers (
    id                  BIGSERIAL PRIMARY KEY,
    code                VARCHAR(64) NOT NULL UNIQUE,
    title               TEXT NOT NULL DEFAULT '',
    description         TEXT NOT NULL DEFAULT '',
    discount_type       VARCHAR(16) NOT NULL,
    discount_value      BIGINT NOT NULL,
    points_required     BIGINT NOT NULL CHECK (points_required > 0),
    applicable_services TEXT[] NOT NULL DEFAULT '{}',
    active              BOOLEAN NOT NULL DEFAULT TRUE,
    expires_at          TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS voucher_redemptions (
    id             BIGSERIAL PRIMARY KEY,
    account_id     BIGINT NOT NULL REFERENCES wallet_accounts (account_id),
    voucher_id     BIGINT NOT NULL REFERENCES vouchers (id),
    transaction_id UUID NOT NULL REFERENCES wallet_transactions (transaction_id),
    points_spent   BIGINT NOT NULL,
    redeemed_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    used_at        TIMESTAMPTZ,
    CONSTRAINT voucher_redemptions_account_id_voucher_id_key UNIQUE (account_id, voucher_id)
);
`

// Migrate creates the wallet tables. It is safe to run repeatedly.
func (s *WalletStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
