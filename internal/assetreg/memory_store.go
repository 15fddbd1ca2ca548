package assetreg

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type MemoryStore struct {
	mu      sync.Mutex
	configs map[common.Address]Config
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[common.Address]Config)}
}

func (s *MemoryStore) PutConfig(_ context.Context, asset common.Address, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[asset] = cloneConfig(cfg)
	return nil
}

func (s *MemoryStore) GetConfig(_ context.Context, asset common.Address) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[asset]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrAssetNotRegistered, asset.Hex())
	}
	return cloneConfig(cfg), nil
}

func (s *MemoryStore) SetRemote(_ context.Context, asset common.Address, chainKey uint64, r Remote) error {
	if len(r.Asset) == 0 {
		return fmt.Errorf("%w: empty remote asset", ErrInvalidConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotRegistered, asset.Hex())
	}
	if cfg.Remotes == nil {
		cfg.Remotes = make(map[uint64]Remote)
	}
	cfg.Remotes[chainKey] = Remote{Asset: append([]byte(nil), r.Asset...), Decimals: r.Decimals}
	s.configs[asset] = cfg
	return nil
}

func (s *MemoryStore) Remote(_ context.Context, asset common.Address, chainKey uint64) (Remote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[asset]
	if !ok {
		return Remote{}, fmt.Errorf("%w: %s", ErrAssetNotRegistered, asset.Hex())
	}
	r, ok := cfg.Remotes[chainKey]
	if !ok {
		return Remote{}, fmt.Errorf("%w: asset %s chain %d", ErrDestinationNotRegistered, asset.Hex(), chainKey)
	}
	return Remote{Asset: append([]byte(nil), r.Asset...), Decimals: r.Decimals}, nil
}

func (s *MemoryStore) SetMode(_ context.Context, asset common.Address, mode Mode) error {
	if mode != ModeMintBurn && mode != ModeLockRelease {
		return fmt.Errorf("%w: bad mode %v", ErrInvalidConfig, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotRegistered, asset.Hex())
	}
	cfg.Mode = mode
	s.configs[asset] = cfg
	return nil
}

func (s *MemoryStore) SetCap(_ context.Context, asset common.Address, cap *big.Int) error {
	if cap != nil && cap.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer cap", ErrInvalidConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotRegistered, asset.Hex())
	}
	if cap == nil {
		cfg.TransferCap = nil
	} else {
		cfg.TransferCap = new(big.Int).Set(cap)
	}
	s.configs[asset] = cfg
	return nil
}

func (s *MemoryStore) ListAssets(_ context.Context) ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]common.Address, 0, len(s.configs))
	for a := range s.configs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out, nil
}

func cloneConfig(cfg Config) Config {
	out := Config{Mode: cfg.Mode}
	if cfg.TransferCap != nil {
		out.TransferCap = new(big.Int).Set(cfg.TransferCap)
	}
	if cfg.Remotes != nil {
		out.Remotes = make(map[uint64]Remote, len(cfg.Remotes))
		for k, r := range cfg.Remotes {
			out.Remotes[k] = Remote{Asset: append([]byte(nil), r.Asset...), Decimals: r.Decimals}
		}
	}
	return out
}
