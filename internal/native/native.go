// Package native models the chain's native currency as an account ledger.
// The bridge uses it to settle attached payments, fees, and refunds; the
// production integration replaces MemoryLedger with the platform's own
// balance transfer primitive.
package native

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount       = errors.New("native: invalid amount")
	ErrInsufficientBalance = errors.New("native: insufficient balance")
)

type Ledger interface {
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, acct common.Address) (*big.Int, error)
}

type MemoryLedger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[common.Address]*big.Int)}
}

// Credit creates balance out of thin air. Test/genesis helper only.
func (l *MemoryLedger) Credit(acct common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(acct, amount)
}

func (l *MemoryLedger) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if amount.Sign() == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %v, needs %v", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	l.add(to, amount)
	return nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, acct common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[acct]
	if bal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

func (l *MemoryLedger) add(acct common.Address, amount *big.Int) {
	bal := l.balances[acct]
	if bal == nil {
		bal = new(big.Int)
		l.balances[acct] = bal
	}
	bal.Add(bal, amount)
}
