package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS asset_configs (
	asset BYTEA PRIMARY KEY,
	mode SMALLINT NOT NULL,
	transfer_cap NUMERIC(78,0),

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT asset_len CHECK (octet_length(asset) = 20),
	CONSTRAINT mode_range CHECK (mode >= 1 AND mode <= 2),
	CONSTRAINT transfer_cap_nonneg CHECK (transfer_cap IS NULL OR transfer_cap >= 0)
);

CREATE TABLE IF NOT EXISTS asset_remotes (
	asset BYTEA NOT NULL REFERENCES asset_configs (asset) ON DELETE CASCADE,
	chain_key BIGINT NOT NULL,
	remote_asset BYTEA NOT NULL,
	decimals SMALLINT NOT NULL,

	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	PRIMARY KEY (asset, chain_key),

	CONSTRAINT remote_asset_nonempty CHECK (octet_length(remote_asset) > 0),
	CONSTRAINT chain_key_nonneg CHECK (chain_key >= 0),
	CONSTRAINT decimals_range CHECK (decimals >= 0 AND decimals <= 255)
);
`
