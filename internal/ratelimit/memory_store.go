package ratelimit

import (
	"context"
	"math/big"
	"sync"
)

type MemoryStore struct {
	mu     sync.Mutex
	states map[[20]byte]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[[20]byte]State)}
}

func (s *MemoryStore) Get(_ context.Context, asset [20]byte) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[asset]
	if !ok {
		return State{}, nil
	}
	// Defensive copy so callers cannot mutate stored state.
	if st.Accumulated != nil {
		st.Accumulated = new(big.Int).Set(st.Accumulated)
	}
	return st, nil
}

func (s *MemoryStore) Put(_ context.Context, asset [20]byte, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.Accumulated != nil {
		st.Accumulated = new(big.Int).Set(st.Accumulated)
	}
	s.states[asset] = st
	return nil
}
