// Package ratelimit caps per-asset transferred value inside a rolling time
// window. It is the bridge's main defense against catastrophic loss from a
// compromised operator key: even a fully authorized stream of withdrawals
// cannot move more than the configured cap per window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const DefaultWindow = 24 * time.Hour

var (
	ErrInvalidConfig = errors.New("ratelimit: invalid config")
	ErrInvalidAmount = errors.New("ratelimit: invalid amount")
	ErrCapExceeded   = errors.New("ratelimit: cap exceeded")
)

// CapExceededError carries the full arithmetic context so off-chain monitoring
// can alert on near-miss volumes, not just on the boolean outcome.
type CapExceededError struct {
	Asset       [20]byte
	Amount      *big.Int
	Accumulated *big.Int
	Cap         *big.Int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("ratelimit: cap exceeded: asset=%x amount=%v accumulated=%v cap=%v",
		e.Asset, e.Amount, e.Accumulated, e.Cap)
}

func (e *CapExceededError) Is(target error) bool { return target == ErrCapExceeded }

// State is the per-asset accumulator snapshot.
type State struct {
	Accumulated *big.Int
	WindowStart time.Time
}

// Store persists accumulator state per asset. Get must return a zero State
// (nil Accumulated, zero WindowStart) for assets it has never seen.
type Store interface {
	Get(ctx context.Context, asset [20]byte) (State, error)
	Put(ctx context.Context, asset [20]byte, st State) error
}

type Limiter struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

func New(store Store, window time.Duration, now func() time.Time) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, window: window, now: now}, nil
}

// CheckAndUpdate adds amount to the asset's window accumulator, resetting the
// window first when at least one full window has elapsed since WindowStart.
// A nil cap means unlimited; the accumulator is still maintained so a cap can
// be introduced later without losing the current window's history.
//
// The reset condition is elapsed >= window, not strictly greater: a deposit
// arriving exactly one window after the previous window opened starts a fresh
// window.
func (l *Limiter) CheckAndUpdate(ctx context.Context, asset [20]byte, amount, cap *big.Int) error {
	st, err := l.advance(ctx, asset, amount)
	if err != nil {
		return err
	}
	if cap != nil && st.Accumulated.Cmp(cap) > 0 {
		return &CapExceededError{
			Asset:       asset,
			Amount:      new(big.Int).Set(amount),
			Accumulated: st.Accumulated,
			Cap:         new(big.Int).Set(cap),
		}
	}
	if err := l.store.Put(ctx, asset, st); err != nil {
		return fmt.Errorf("ratelimit: persist accumulator: %w", err)
	}
	return nil
}

// Rollback subtracts amount from the current window's accumulator. Callers use
// it when the settlement that reserved the headroom failed, so the failed
// transfer does not count against the window. If the window has since expired
// there is nothing to return; the subtraction floors at zero.
func (l *Limiter) Rollback(ctx context.Context, asset [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: amount must be >= 0", ErrInvalidAmount)
	}

	st, err := l.store.Get(ctx, asset)
	if err != nil {
		return fmt.Errorf("ratelimit: load accumulator: %w", err)
	}
	if st.WindowStart.IsZero() || st.Accumulated == nil {
		return nil
	}
	if now := l.now().UTC(); now.Sub(st.WindowStart) >= l.window {
		return nil
	}

	acc := new(big.Int).Sub(st.Accumulated, amount)
	if acc.Sign() < 0 {
		acc = new(big.Int)
	}
	st.Accumulated = acc
	if err := l.store.Put(ctx, asset, st); err != nil {
		return fmt.Errorf("ratelimit: persist accumulator: %w", err)
	}
	return nil
}

// WouldExceed performs the same arithmetic as CheckAndUpdate without
// persisting anything, for pre-flight checks.
func (l *Limiter) WouldExceed(ctx context.Context, asset [20]byte, amount, cap *big.Int) (bool, error) {
	st, err := l.advance(ctx, asset, amount)
	if err != nil {
		return false, err
	}
	if cap == nil {
		return false, nil
	}
	return st.Accumulated.Cmp(cap) > 0, nil
}

func (l *Limiter) advance(ctx context.Context, asset [20]byte, amount *big.Int) (State, error) {
	if amount == nil || amount.Sign() < 0 {
		return State{}, fmt.Errorf("%w: amount must be >= 0", ErrInvalidAmount)
	}

	st, err := l.store.Get(ctx, asset)
	if err != nil {
		return State{}, fmt.Errorf("ratelimit: load accumulator: %w", err)
	}

	now := l.now().UTC()
	if st.WindowStart.IsZero() || now.Sub(st.WindowStart) >= l.window {
		st.WindowStart = now
		st.Accumulated = new(big.Int)
	} else if st.Accumulated == nil {
		st.Accumulated = new(big.Int)
	} else {
		st.Accumulated = new(big.Int).Set(st.Accumulated)
	}

	st.Accumulated.Add(st.Accumulated, amount)
	return st, nil
}
