// Package settlement provides the two interchangeable vault implementations
// behind the bridge ledger: MintBurn destroys and creates representation
// tokens, LockRelease custodies and releases an existing token. Which one a
// given asset uses is an assetreg.Mode decision, switchable at any time.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spanbridge/spanbridge/internal/authz"
	"github.com/spanbridge/spanbridge/internal/token"
)

var ErrInvalidConfig = errors.New("settlement: invalid config")

// Vault is the settlement capability. Debit removes amount from the
// depositor's spendable balance; Credit makes amount spendable by the
// withdrawer. Both require the caller to hold authz.CapSettle, so only the
// bridge ledger can move funds through a vault.
type Vault interface {
	Debit(ctx context.Context, caller, from, asset common.Address, amount *big.Int) error
	Credit(ctx context.Context, caller, to, asset common.Address, amount *big.Int) error
}

// MintBurn settles by varying total supply.
type MintBurn struct {
	auth authz.Authority
	bank token.Bank
}

func NewMintBurn(auth authz.Authority, bank token.Bank) (*MintBurn, error) {
	if auth == nil || bank == nil {
		return nil, fmt.Errorf("%w: nil authority or bank", ErrInvalidConfig)
	}
	return &MintBurn{auth: auth, bank: bank}, nil
}

func (v *MintBurn) Debit(ctx context.Context, caller, from, asset common.Address, amount *big.Int) error {
	if err := v.auth.Require(caller, authz.CapSettle); err != nil {
		return err
	}
	if err := v.bank.Burn(ctx, asset, from, amount); err != nil {
		return fmt.Errorf("settlement: burn: %w", err)
	}
	return nil
}

func (v *MintBurn) Credit(ctx context.Context, caller, to, asset common.Address, amount *big.Int) error {
	if err := v.auth.Require(caller, authz.CapSettle); err != nil {
		return err
	}
	if err := v.bank.Mint(ctx, asset, to, amount); err != nil {
		return fmt.Errorf("settlement: mint: %w", err)
	}
	return nil
}

// LockRelease settles against a custody account; total supply is untouched.
type LockRelease struct {
	auth    authz.Authority
	bank    token.Bank
	custody common.Address
}

func NewLockRelease(auth authz.Authority, bank token.Bank, custody common.Address) (*LockRelease, error) {
	if auth == nil || bank == nil {
		return nil, fmt.Errorf("%w: nil authority or bank", ErrInvalidConfig)
	}
	if custody == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero custody account", ErrInvalidConfig)
	}
	return &LockRelease{auth: auth, bank: bank, custody: custody}, nil
}

func (v *LockRelease) Debit(ctx context.Context, caller, from, asset common.Address, amount *big.Int) error {
	if err := v.auth.Require(caller, authz.CapSettle); err != nil {
		return err
	}
	if err := v.bank.Transfer(ctx, asset, from, v.custody, amount); err != nil {
		return fmt.Errorf("settlement: lock: %w", err)
	}
	return nil
}

func (v *LockRelease) Credit(ctx context.Context, caller, to, asset common.Address, amount *big.Int) error {
	if err := v.auth.Require(caller, authz.CapSettle); err != nil {
		return err
	}
	if err := v.bank.Transfer(ctx, asset, v.custody, to, amount); err != nil {
		return fmt.Errorf("settlement: release: %w", err)
	}
	return nil
}
