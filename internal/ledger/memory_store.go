package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

type nonceKey struct {
	srcChainKey uint64
	nonce       uint64
}

type MemoryStore struct {
	mu sync.Mutex

	deposits     map[[32]byte]DepositRecord
	depositOrder [][32]byte
	nextSeq      uint64

	withdrawals   map[[32]byte]WithdrawRecord
	withdrawOrder [][32]byte

	approvals map[[32]byte]Approval
	nonces    map[nonceKey]struct{}

	paused bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deposits:    make(map[[32]byte]DepositRecord),
		withdrawals: make(map[[32]byte]WithdrawRecord),
		approvals:   make(map[[32]byte]Approval),
		nonces:      make(map[nonceKey]struct{}),
	}
}

func (s *MemoryStore) InsertDeposit(_ context.Context, r DepositRecord) (DepositRecord, [32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r = cloneDeposit(r)
	r.Seq = s.nextSeq
	key := r.Key()
	if _, ok := s.deposits[key]; ok {
		return DepositRecord{}, [32]byte{}, fmt.Errorf("%w: deposit %x", ErrDuplicateRecord, key)
	}
	s.nextSeq++
	s.deposits[key] = r
	s.depositOrder = append(s.depositOrder, key)
	return cloneDeposit(r), key, nil
}

func (s *MemoryStore) DepositByKey(_ context.Context, key [32]byte) (DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.deposits[key]
	if !ok {
		return DepositRecord{}, fmt.Errorf("%w: deposit %x", ErrNotFound, key)
	}
	return cloneDeposit(r), nil
}

func (s *MemoryStore) DepositKeys(_ context.Context, from, count uint64) ([][32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pageKeys(s.depositOrder, from, count), nil
}

func (s *MemoryStore) DepositCount(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.depositOrder)), nil
}

func (s *MemoryStore) InsertWithdraw(_ context.Context, r WithdrawRecord) ([32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r = cloneWithdraw(r)
	key := r.Key()
	if _, ok := s.withdrawals[key]; ok {
		return [32]byte{}, fmt.Errorf("%w: withdrawal %x", ErrDuplicateRecord, key)
	}
	s.withdrawals[key] = r
	s.withdrawOrder = append(s.withdrawOrder, key)
	return key, nil
}

func (s *MemoryStore) WithdrawByKey(_ context.Context, key [32]byte) (WithdrawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.withdrawals[key]
	if !ok {
		return WithdrawRecord{}, fmt.Errorf("%w: withdrawal %x", ErrNotFound, key)
	}
	return cloneWithdraw(r), nil
}

func (s *MemoryStore) WithdrawKeys(_ context.Context, from, count uint64) ([][32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pageKeys(s.withdrawOrder, from, count), nil
}

func (s *MemoryStore) WithdrawCount(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.withdrawOrder)), nil
}

func (s *MemoryStore) PutApproval(_ context.Context, key [32]byte, ap Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ap.Fee != nil {
		ap.Fee = new(big.Int).Set(ap.Fee)
	}
	s.approvals[key] = ap
	return nil
}

func (s *MemoryStore) Approval(_ context.Context, key [32]byte) (Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ap, ok := s.approvals[key]
	if !ok {
		return Approval{}, fmt.Errorf("%w: %x", ErrApprovalNotFound, key)
	}
	if ap.Fee != nil {
		ap.Fee = new(big.Int).Set(ap.Fee)
	}
	return ap, nil
}

func (s *MemoryStore) MarkNonceUsed(_ context.Context, srcChainKey, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := nonceKey{srcChainKey: srcChainKey, nonce: nonce}
	if _, ok := s.nonces[k]; ok {
		return fmt.Errorf("%w: chain %d nonce %d", ErrNonceAlreadyApproved, srcChainKey, nonce)
	}
	s.nonces[k] = struct{}{}
	return nil
}

func (s *MemoryStore) NonceUsed(_ context.Context, srcChainKey, nonce uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.nonces[nonceKey{srcChainKey: srcChainKey, nonce: nonce}]
	return ok, nil
}

func (s *MemoryStore) Paused(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, nil
}

func (s *MemoryStore) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

func pageKeys(order [][32]byte, from, count uint64) [][32]byte {
	total := uint64(len(order))
	if from >= total || count == 0 {
		return [][32]byte{}
	}
	if remaining := total - from; count > remaining {
		count = remaining
	}
	out := make([][32]byte, count)
	copy(out, order[from:from+count])
	return out
}

func cloneDeposit(r DepositRecord) DepositRecord {
	if r.DestAsset != nil {
		r.DestAsset = append([]byte(nil), r.DestAsset...)
	}
	if r.DestAccount != nil {
		r.DestAccount = append([]byte(nil), r.DestAccount...)
	}
	if r.Amount != nil {
		r.Amount = new(big.Int).Set(r.Amount)
	}
	return r
}

func cloneWithdraw(r WithdrawRecord) WithdrawRecord {
	if r.Amount != nil {
		r.Amount = new(big.Int).Set(r.Amount)
	}
	return r
}
