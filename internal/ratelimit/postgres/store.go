package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spanbridge/spanbridge/internal/ratelimit"
)

var ErrInvalidConfig = errors.New("ratelimit/postgres: invalid config")

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
		return fmt.Errorf("ratelimit/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, asset [20]byte) (ratelimit.State, error) {
	if s == nil || s.pool == nil {
		return ratelimit.State{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var (
		accumulated string
		windowStart time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT accumulated::text, window_start
		FROM rate_windows
		WHERE asset = $1
	`, asset[:]).Scan(&accumulated, &windowStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return ratelimit.State{}, nil
	}
	if err != nil {
		return ratelimit.State{}, fmt.Errorf("ratelimit/postgres: get: %w", err)
	}

	acc, ok := new(big.Int).SetString(accumulated, 10)
	if !ok {
		return ratelimit.State{}, fmt.Errorf("ratelimit/postgres: corrupt accumulated %q", accumulated)
	}
	return ratelimit.State{Accumulated: acc, WindowStart: windowStart.UTC()}, nil
}

func (s *Store) Put(ctx context.Context, asset [20]byte, st ratelimit.State) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	acc := st.Accumulated
	if acc == nil {
		acc = new(big.Int)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO rate_windows (asset, accumulated, window_start, updated_at)
		VALUES ($1, $2::numeric, $3, now())
		ON CONFLICT (asset) DO UPDATE
		SET accumulated = EXCLUDED.accumulated,
		    window_start = EXCLUDED.window_start,
		    updated_at = now()
	`, asset[:], acc.String(), st.WindowStart.UTC())
	if err != nil {
		return fmt.Errorf("ratelimit/postgres: put: %w", err)
	}
	return nil
}
