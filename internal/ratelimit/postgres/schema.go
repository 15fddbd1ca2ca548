package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rate_windows (
	asset BYTEA PRIMARY KEY,
	accumulated NUMERIC(78,0) NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,

	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT asset_len CHECK (octet_length(asset) = 20),
	CONSTRAINT accumulated_nonneg CHECK (accumulated >= 0)
);
`
