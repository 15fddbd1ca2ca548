package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestMemoryStore_DepositSeqStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec, key, err := s.InsertDeposit(ctx, DepositRecord{
			DestChainKey: 7,
			DestAsset:    []byte{0x01},
			DestAccount:  []byte{byte(i + 1)},
			Payer:        common.HexToAddress("0x0000000000000000000000000000000000000001"),
			Asset:        common.HexToAddress("0x00000000000000000000000000000000000000a1"),
			Amount:       big.NewInt(int64(100 + i)),
		})
		if err != nil {
			t.Fatalf("InsertDeposit #%d: %v", i, err)
		}
		if rec.Seq != uint64(i) {
			t.Fatalf("seq: got %d want %d", rec.Seq, i)
		}
		got, err := s.DepositByKey(ctx, key)
		if err != nil {
			t.Fatalf("DepositByKey: %v", err)
		}
		if got.Seq != uint64(i) || got.Amount.Cmp(rec.Amount) != 0 {
			t.Fatalf("round trip mismatch: %+v", got)
		}
	}

	n, err := s.DepositCount(ctx)
	if err != nil || n != 5 {
		t.Fatalf("DepositCount: n=%d err=%v", n, err)
	}
}

func TestMemoryStore_PaginationClamps(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	var keys [][32]byte
	for i := 0; i < 3; i++ {
		_, key, err := s.InsertDeposit(ctx, DepositRecord{
			DestChainKey: 1,
			DestAsset:    []byte{0x01},
			DestAccount:  []byte{byte(i + 1)},
			Payer:        common.HexToAddress("0x0000000000000000000000000000000000000001"),
			Asset:        common.HexToAddress("0x00000000000000000000000000000000000000a1"),
			Amount:       big.NewInt(1),
		})
		if err != nil {
			t.Fatalf("InsertDeposit: %v", err)
		}
		keys = append(keys, key)
	}

	got, err := s.DepositKeys(ctx, 1, 10)
	if err != nil {
		t.Fatalf("DepositKeys: %v", err)
	}
	if len(got) != 2 || got[0] != keys[1] || got[1] != keys[2] {
		t.Fatalf("clamped page wrong: %d items", len(got))
	}

	// Out-of-range start index returns empty, never an error.
	got, err = s.DepositKeys(ctx, 3, 1)
	if err != nil || len(got) != 0 {
		t.Fatalf("past-end page: got %d items err=%v", len(got), err)
	}
	got, err = s.DepositKeys(ctx, 1000, 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("far-past-end page: got %d items err=%v", len(got), err)
	}

	// Zero count returns empty.
	got, err = s.DepositKeys(ctx, 0, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("zero count: got %d items err=%v", len(got), err)
	}
}

func TestMemoryStore_NonceUniqueness(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.MarkNonceUsed(ctx, 7, 42); err != nil {
		t.Fatalf("MarkNonceUsed #1: %v", err)
	}
	if err := s.MarkNonceUsed(ctx, 7, 42); !errors.Is(err, ErrNonceAlreadyApproved) {
		t.Fatalf("reuse: got %v", err)
	}
	// Same nonce on another chain is a different pair.
	if err := s.MarkNonceUsed(ctx, 8, 42); err != nil {
		t.Fatalf("other chain: %v", err)
	}

	used, err := s.NonceUsed(ctx, 7, 42)
	if err != nil || !used {
		t.Fatalf("NonceUsed(7,42): used=%v err=%v", used, err)
	}
	used, err = s.NonceUsed(ctx, 7, 43)
	if err != nil || used {
		t.Fatalf("NonceUsed(7,43): used=%v err=%v", used, err)
	}
}

func TestMemoryStore_ApprovalRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	var key [32]byte
	key[0] = 0xab

	if _, err := s.Approval(ctx, key); !errors.Is(err, ErrApprovalNotFound) {
		t.Fatalf("missing approval: got %v", err)
	}

	ap := Approval{
		Fee:          big.NewInt(100),
		FeeRecipient: common.HexToAddress("0x00000000000000000000000000000000000000fe"),
		Approved:     true,
	}
	if err := s.PutApproval(ctx, key, ap); err != nil {
		t.Fatalf("PutApproval: %v", err)
	}

	got, err := s.Approval(ctx, key)
	if err != nil {
		t.Fatalf("Approval: %v", err)
	}
	// Mutating the returned fee must not touch the stored approval.
	got.Fee.SetInt64(1)
	again, _ := s.Approval(ctx, key)
	if again.Fee.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("stored fee mutated: %v", again.Fee)
	}
}

func TestMemoryStore_DuplicateWithdrawRejected(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	r := WithdrawRecord{
		SrcChainKey: 7,
		Asset:       common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		To:          common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Amount:      big.NewInt(10),
		Nonce:       1,
	}
	if _, err := s.InsertWithdraw(ctx, r); err != nil {
		t.Fatalf("InsertWithdraw #1: %v", err)
	}
	if _, err := s.InsertWithdraw(ctx, r); !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("duplicate: got %v", err)
	}
}

func TestMemoryStore_PauseFlag(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	paused, err := s.Paused(ctx)
	if err != nil || paused {
		t.Fatalf("initial: paused=%v err=%v", paused, err)
	}
	if err := s.SetPaused(ctx, true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	paused, _ = s.Paused(ctx)
	if !paused {
		t.Fatalf("pause flag not set")
	}
}
