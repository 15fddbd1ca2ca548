// Package assetreg holds per-asset bridge configuration: how an asset settles
// (mint/burn vs lock/release), which remote asset it maps to on each
// destination chain, and the per-window transfer cap consumed by ratelimit.
package assetreg

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrAssetNotRegistered       = errors.New("assetreg: asset not registered")
	ErrDestinationNotRegistered = errors.New("assetreg: destination not registered")
	ErrInvalidConfig            = errors.New("assetreg: invalid config")
)

type Mode uint8

const (
	ModeUnknown Mode = iota
	// ModeMintBurn settles by creating and destroying representation tokens;
	// total supply varies with bridge flow.
	ModeMintBurn
	// ModeLockRelease settles by custodying and releasing an existing token;
	// total supply is constant.
	ModeLockRelease
)

func (m Mode) String() string {
	switch m {
	case ModeMintBurn:
		return "mint_burn"
	case ModeLockRelease:
		return "lock_release"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Remote identifies an asset's representation on a destination chain.
type Remote struct {
	// Asset is the destination-chain asset identifier in that chain's native
	// format; opaque to this bridge.
	Asset []byte
	// Decimals is the remote representation's decimal count, carried so
	// off-chain relayers can rescale amounts.
	Decimals uint8
}

// Config is the per-asset registry entry.
type Config struct {
	Mode Mode
	// TransferCap bounds per-window flow; nil means unlimited.
	TransferCap *big.Int
	// Remotes maps destination chain key to the remote representation.
	Remotes map[uint64]Remote
}

func (c Config) Validate() error {
	if c.Mode != ModeMintBurn && c.Mode != ModeLockRelease {
		return fmt.Errorf("%w: bad mode %v", ErrInvalidConfig, c.Mode)
	}
	if c.TransferCap != nil && c.TransferCap.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer cap", ErrInvalidConfig)
	}
	for chainKey, r := range c.Remotes {
		if len(r.Asset) == 0 {
			return fmt.Errorf("%w: empty remote asset for chain %d", ErrInvalidConfig, chainKey)
		}
	}
	return nil
}

// Store persists asset configuration. Implementations must treat Config values
// as immutable snapshots.
type Store interface {
	PutConfig(ctx context.Context, asset common.Address, cfg Config) error
	GetConfig(ctx context.Context, asset common.Address) (Config, error)

	SetRemote(ctx context.Context, asset common.Address, chainKey uint64, r Remote) error
	Remote(ctx context.Context, asset common.Address, chainKey uint64) (Remote, error)

	SetMode(ctx context.Context, asset common.Address, mode Mode) error
	SetCap(ctx context.Context, asset common.Address, cap *big.Int) error

	ListAssets(ctx context.Context) ([]common.Address, error)
}
