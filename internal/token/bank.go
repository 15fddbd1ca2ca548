// Package token is the bridge's view of token mechanics: a balance book with
// mint, burn, and transfer. ERC20-style details (allowances, metadata) live
// outside the bridge; settlement only needs these four operations.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount       = errors.New("token: invalid amount")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

type Bank interface {
	Mint(ctx context.Context, asset, to common.Address, amount *big.Int) error
	Burn(ctx context.Context, asset, from common.Address, amount *big.Int) error
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, asset, acct common.Address) (*big.Int, error)
}

type MemoryBank struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int
	supply   map[common.Address]*big.Int
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[common.Address]map[common.Address]*big.Int),
		supply:   make(map[common.Address]*big.Int),
	}
}

func (b *MemoryBank) Mint(_ context.Context, asset, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.add(asset, to, amount)
	b.addSupply(asset, amount)
	return nil
}

func (b *MemoryBank) Burn(_ context.Context, asset, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.sub(asset, from, amount); err != nil {
		return err
	}
	b.supply[asset].Sub(b.supply[asset], amount)
	return nil
}

func (b *MemoryBank) Transfer(_ context.Context, asset, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.sub(asset, from, amount); err != nil {
		return err
	}
	b.add(asset, to, amount)
	return nil
}

func (b *MemoryBank) BalanceOf(_ context.Context, asset, acct common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if book, ok := b.balances[asset]; ok {
		if bal := book[acct]; bal != nil {
			return new(big.Int).Set(bal), nil
		}
	}
	return new(big.Int), nil
}

// TotalSupply reports minted-minus-burned for an asset. Test helper.
func (b *MemoryBank) TotalSupply(asset common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s := b.supply[asset]; s != nil {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

func (b *MemoryBank) add(asset, acct common.Address, amount *big.Int) {
	book, ok := b.balances[asset]
	if !ok {
		book = make(map[common.Address]*big.Int)
		b.balances[asset] = book
	}
	bal := book[acct]
	if bal == nil {
		bal = new(big.Int)
		book[acct] = bal
	}
	bal.Add(bal, amount)
}

func (b *MemoryBank) sub(asset, acct common.Address, amount *big.Int) error {
	book := b.balances[asset]
	var bal *big.Int
	if book != nil {
		bal = book[acct]
	}
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %s acct %s has %v, needs %v",
			ErrInsufficientBalance, asset.Hex(), acct.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	return nil
}

func (b *MemoryBank) addSupply(asset common.Address, amount *big.Int) {
	s := b.supply[asset]
	if s == nil {
		s = new(big.Int)
		b.supply[asset] = s
	}
	s.Add(s, amount)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}
