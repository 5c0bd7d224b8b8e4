package app

// SQL migrations are embedded so a single binary can bring up an empty
// database. Applied versions are tracked in schema_migrations.

var migration001Games = `
CREATE TABLE IF NOT EXISTS games (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    locations TEXT[] NOT NULL DEFAULT '{}',
    token_packages JSONB NOT NULL DEFAULT '[]',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migration002Payments = `
CREATE TABLE IF NOT EXISTS payment_records (
    id TEXT PRIMARY KEY,
    external_ref TEXT UNIQUE NOT NULL,
    provider VARCHAR(32) NOT NULL,
    correlation_id TEXT NOT NULL,
    client_handle TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL,
    game_id BIGINT NOT NULL REFERENCES games(id),
    location TEXT NOT NULL,
    package_index INTEGER NOT NULL,
    token_quantity BIGINT NOT NULL CHECK (token_quantity > 0),
    unit_price_cents BIGINT NOT NULL CHECK (unit_price_cents > 0),
    currency VARCHAR(3) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    provider_status TEXT NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL CHECK (status IN
        ('created', 'processing', 'succeeded', 'failed', 'canceled', 'expired', 'refunded')),
    payment_method TEXT NOT NULL DEFAULT '',
    payer_ref TEXT NOT NULL DEFAULT '',
    receipt_ref TEXT NOT NULL DEFAULT '',
    failure JSONB,
    metadata JSONB NOT NULL DEFAULT '{}',
    tokens_added BOOLEAN NOT NULL DEFAULT FALSE,
    tokens_scheduled_for TIMESTAMPTZ,
    credited_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payment_records_user ON payment_records(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_payment_records_purchase_key
    ON payment_records(user_id, provider, game_id, package_index, location, created_at DESC)
    WHERE status IN ('created', 'processing');
CREATE INDEX IF NOT EXISTS idx_payment_records_open ON payment_records(updated_at)
    WHERE status IN ('created', 'processing') OR (status = 'succeeded' AND tokens_added = FALSE);
CREATE INDEX IF NOT EXISTS idx_payment_records_release ON payment_records(tokens_scheduled_for)
    WHERE tokens_added = FALSE AND tokens_scheduled_for IS NOT NULL;
`

var migration003Tokens = `
CREATE TABLE IF NOT EXISTS token_balances (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    game_id BIGINT NOT NULL REFERENCES games(id),
    location TEXT NOT NULL,
    tokens BIGINT NOT NULL DEFAULT 0 CHECK (tokens >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, game_id, location)
);

CREATE TABLE IF NOT EXISTS token_transactions (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    game_id BIGINT NOT NULL REFERENCES games(id),
    location TEXT NOT NULL,
    delta BIGINT NOT NULL,
    tx_type VARCHAR(32) NOT NULL,
    payment_record_id TEXT UNIQUE REFERENCES payment_records(id),
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_token_transactions_user ON token_transactions(user_id, created_at DESC);
`

var migration004Admin = `
CREATE TABLE IF NOT EXISTS admin_key_attempts (
    id BIGSERIAL PRIMARY KEY,
    client TEXT NOT NULL,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    attempt_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_admin_key_attempts_client ON admin_key_attempts(client, attempt_time);
`

var migration005UserStatusIndex = `
DROP INDEX IF EXISTS idx_payment_records_user;
CREATE INDEX IF NOT EXISTS idx_payment_records_user_status
    ON payment_records(user_id, status, created_at DESC);
`
