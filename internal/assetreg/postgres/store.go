package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spanbridge/spanbridge/internal/assetreg"
)

var ErrInvalidConfig = errors.New("assetreg/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("assetreg/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) PutConfig(ctx context.Context, asset common.Address, cfg assetreg.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("assetreg/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var capText *string
	if cfg.TransferCap != nil {
		v := cfg.TransferCap.String()
		capText = &v
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO asset_configs (asset, mode, transfer_cap)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (asset) DO UPDATE
		SET mode = EXCLUDED.mode,
		    transfer_cap = EXCLUDED.transfer_cap,
		    updated_at = now()
	`, asset.Bytes(), int16(cfg.Mode), capText)
	if err != nil {
		return fmt.Errorf("assetreg/postgres: upsert config: %w", err)
	}

	for chainKey, r := range cfg.Remotes {
		_, err = tx.Exec(ctx, `
			INSERT INTO asset_remotes (asset, chain_key, remote_asset, decimals)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (asset, chain_key) DO UPDATE
			SET remote_asset = EXCLUDED.remote_asset,
			    decimals = EXCLUDED.decimals,
			    updated_at = now()
		`, asset.Bytes(), int64(chainKey), r.Asset, int16(r.Decimals))
		if err != nil {
			return fmt.Errorf("assetreg/postgres: upsert remote: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("assetreg/postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) GetConfig(ctx context.Context, asset common.Address) (assetreg.Config, error) {
	var (
		mode    int16
		capText *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT mode, transfer_cap::text
		FROM asset_configs
		WHERE asset = $1
	`, asset.Bytes()).Scan(&mode, &capText)
	if errors.Is(err, pgx.ErrNoRows) {
		return assetreg.Config{}, fmt.Errorf("%w: %s", assetreg.ErrAssetNotRegistered, asset.Hex())
	}
	if err != nil {
		return assetreg.Config{}, fmt.Errorf("assetreg/postgres: get config: %w", err)
	}

	cfg := assetreg.Config{Mode: assetreg.Mode(mode)}
	if capText != nil {
		v, ok := new(big.Int).SetString(*capText, 10)
		if !ok {
			return assetreg.Config{}, fmt.Errorf("assetreg/postgres: corrupt transfer cap %q", *capText)
		}
		cfg.TransferCap = v
	}

	rows, err := s.pool.Query(ctx, `
		SELECT chain_key, remote_asset, decimals
		FROM asset_remotes
		WHERE asset = $1
	`, asset.Bytes())
	if err != nil {
		return assetreg.Config{}, fmt.Errorf("assetreg/postgres: list remotes: %w", err)
	}
	defer rows.Close()

	cfg.Remotes = make(map[uint64]assetreg.Remote)
	for rows.Next() {
		var (
			chainKey    int64
			remoteAsset []byte
			decimals    int16
		)
		if err := rows.Scan(&chainKey, &remoteAsset, &decimals); err != nil {
			return assetreg.Config{}, fmt.Errorf("assetreg/postgres: scan remote: %w", err)
		}
		cfg.Remotes[uint64(chainKey)] = assetreg.Remote{
			Asset:    append([]byte(nil), remoteAsset...),
			Decimals: uint8(decimals),
		}
	}
	if err := rows.Err(); err != nil {
		return assetreg.Config{}, fmt.Errorf("assetreg/postgres: iterate remotes: %w", err)
	}
	return cfg, nil
}

func (s *Store) SetRemote(ctx context.Context, asset common.Address, chainKey uint64, r assetreg.Remote) error {
	if len(r.Asset) == 0 {
		return fmt.Errorf("%w: empty remote asset", assetreg.ErrInvalidConfig)
	}
	if err := s.requireAsset(ctx, asset); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO asset_remotes (asset, chain_key, remote_asset, decimals)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset, chain_key) DO UPDATE
		SET remote_asset = EXCLUDED.remote_asset,
		    decimals = EXCLUDED.decimals,
		    updated_at = now()
	`, asset.Bytes(), int64(chainKey), r.Asset, int16(r.Decimals))
	if err != nil {
		return fmt.Errorf("assetreg/postgres: set remote: %w", err)
	}
	return nil
}

func (s *Store) Remote(ctx context.Context, asset common.Address, chainKey uint64) (assetreg.Remote, error) {
	if err := s.requireAsset(ctx, asset); err != nil {
		return assetreg.Remote{}, err
	}

	var (
		remoteAsset []byte
		decimals    int16
	)
	err := s.pool.QueryRow(ctx, `
		SELECT remote_asset, decimals
		FROM asset_remotes
		WHERE asset = $1 AND chain_key = $2
	`, asset.Bytes(), int64(chainKey)).Scan(&remoteAsset, &decimals)
	if errors.Is(err, pgx.ErrNoRows) {
		return assetreg.Remote{}, fmt.Errorf("%w: asset %s chain %d", assetreg.ErrDestinationNotRegistered, asset.Hex(), chainKey)
	}
	if err != nil {
		return assetreg.Remote{}, fmt.Errorf("assetreg/postgres: get remote: %w", err)
	}
	return assetreg.Remote{Asset: append([]byte(nil), remoteAsset...), Decimals: uint8(decimals)}, nil
}

func (s *Store) SetMode(ctx context.Context, asset common.Address, mode assetreg.Mode) error {
	if mode != assetreg.ModeMintBurn && mode != assetreg.ModeLockRelease {
		return fmt.Errorf("%w: bad mode %v", assetreg.ErrInvalidConfig, mode)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE asset_configs SET mode = $2, updated_at = now() WHERE asset = $1
	`, asset.Bytes(), int16(mode))
	if err != nil {
		return fmt.Errorf("assetreg/postgres: set mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", assetreg.ErrAssetNotRegistered, asset.Hex())
	}
	return nil
}

func (s *Store) SetCap(ctx context.Context, asset common.Address, cap *big.Int) error {
	if cap != nil && cap.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer cap", assetreg.ErrInvalidConfig)
	}
	var capText *string
	if cap != nil {
		v := cap.String()
		capText = &v
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE asset_configs SET transfer_cap = $2::numeric, updated_at = now() WHERE asset = $1
	`, asset.Bytes(), capText)
	if err != nil {
		return fmt.Errorf("assetreg/postgres: set cap: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", assetreg.ErrAssetNotRegistered, asset.Hex())
	}
	return nil
}

func (s *Store) ListAssets(ctx context.Context) ([]common.Address, error) {
	rows, err := s.pool.Query(ctx, `SELECT asset FROM asset_configs ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("assetreg/postgres: list assets: %w", err)
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("assetreg/postgres: scan asset: %w", err)
		}
		out = append(out, common.BytesToAddress(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assetreg/postgres: iterate assets: %w", err)
	}
	return out, nil
}

func (s *Store) requireAsset(ctx context.Context, asset common.Address) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM asset_configs WHERE asset = $1`, asset.Bytes()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", assetreg.ErrAssetNotRegistered, asset.Hex())
	}
	if err != nil {
		return fmt.Errorf("assetreg/postgres: require asset: %w", err)
	}
	return nil
}
