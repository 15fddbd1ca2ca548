package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bridge_deposits (
	deposit_key BYTEA PRIMARY KEY,
	seq BIGINT NOT NULL UNIQUE,
	dest_chain_key BIGINT NOT NULL,
	dest_asset BYTEA NOT NULL,
	dest_account BYTEA NOT NULL,
	payer BYTEA NOT NULL,
	asset BYTEA NOT NULL,
	amount NUMERIC(78,0) NOT NULL,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT deposit_key_len CHECK (octet_length(deposit_key) = 32),
	CONSTRAINT payer_len CHECK (octet_length(payer) = 20),
	CONSTRAINT asset_len CHECK (octet_length(asset) = 20),
	CONSTRAINT dest_account_nonempty CHECK (octet_length(dest_account) > 0),
	CONSTRAINT seq_nonneg CHECK (seq >= 0),
	CONSTRAINT amount_pos CHECK (amount > 0)
);

CREATE TABLE IF NOT EXISTS bridge_withdrawals (
	withdraw_key BYTEA PRIMARY KEY,
	ord BIGSERIAL NOT NULL,
	src_chain_key BIGINT NOT NULL,
	asset BYTEA NOT NULL,
	recipient BYTEA NOT NULL,
	amount NUMERIC(78,0) NOT NULL,
	nonce BIGINT NOT NULL,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT withdraw_key_len CHECK (octet_length(withdraw_key) = 32),
	CONSTRAINT w_asset_len CHECK (octet_length(asset) = 20),
	CONSTRAINT recipient_len CHECK (octet_length(recipient) = 20),
	CONSTRAINT w_amount_pos CHECK (amount > 0)
);

CREATE TABLE IF NOT EXISTS bridge_approvals (
	withdraw_key BYTEA PRIMARY KEY,
	fee NUMERIC(78,0) NOT NULL,
	fee_recipient BYTEA NOT NULL,
	approved BOOLEAN NOT NULL,
	deduct_from_amount BOOLEAN NOT NULL,
	cancelled BOOLEAN NOT NULL,
	executed BOOLEAN NOT NULL,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT a_withdraw_key_len CHECK (octet_length(withdraw_key) = 32),
	CONSTRAINT fee_recipient_len CHECK (octet_length(fee_recipient) = 20),
	CONSTRAINT fee_nonneg CHECK (fee >= 0)
);

CREATE TABLE IF NOT EXISTS bridge_nonces (
	src_chain_key BIGINT NOT NULL,
	nonce BIGINT NOT NULL,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	PRIMARY KEY (src_chain_key, nonce)
);

CREATE TABLE IF NOT EXISTS bridge_meta (
	id SMALLINT PRIMARY KEY,
	next_seq BIGINT NOT NULL,
	paused BOOLEAN NOT NULL,

	CONSTRAINT meta_singleton CHECK (id = 1)
);

INSERT INTO bridge_meta (id, next_seq, paused)
VALUES (1, 0, FALSE)
ON CONFLICT (id) DO NOTHING;
`
