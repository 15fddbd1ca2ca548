package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spanbridge/spanbridge/internal/native"
)

var ErrInvalidWrappedNative = errors.New("token: invalid wrapped native config")

// WrappedNative converts between native currency and its canonical token
// representation. Wrapping custodies native funds and mints the token 1:1;
// unwrapping burns the token and releases custody.
type WrappedNative struct {
	asset   common.Address
	custody common.Address
	bank    Bank
	ledger  native.Ledger
}

func NewWrappedNative(asset, custody common.Address, bank Bank, ledger native.Ledger) (*WrappedNative, error) {
	if asset == (common.Address{}) || custody == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero asset or custody account", ErrInvalidWrappedNative)
	}
	if bank == nil || ledger == nil {
		return nil, fmt.Errorf("%w: nil bank or ledger", ErrInvalidWrappedNative)
	}
	return &WrappedNative{asset: asset, custody: custody, bank: bank, ledger: ledger}, nil
}

func (w *WrappedNative) Asset() common.Address { return w.asset }

func (w *WrappedNative) Wrap(ctx context.Context, acct common.Address, amount *big.Int) error {
	if err := w.ledger.Transfer(ctx, acct, w.custody, amount); err != nil {
		return fmt.Errorf("token: wrap custody transfer: %w", err)
	}
	if err := w.bank.Mint(ctx, w.asset, acct, amount); err != nil {
		return fmt.Errorf("token: wrap mint: %w", err)
	}
	return nil
}

func (w *WrappedNative) Unwrap(ctx context.Context, acct common.Address, amount *big.Int) error {
	// Burn before releasing custody so a failed burn cannot leave both the
	// token and the native funds in circulation.
	if err := w.bank.Burn(ctx, w.asset, acct, amount); err != nil {
		return fmt.Errorf("token: unwrap burn: %w", err)
	}
	if err := w.ledger.Transfer(ctx, w.custody, acct, amount); err != nil {
		return fmt.Errorf("token: unwrap custody release: %w", err)
	}
	return nil
}
