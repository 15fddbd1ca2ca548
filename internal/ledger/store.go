package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("ledger: record not found")
	ErrApprovalNotFound = errors.New("ledger: approval not found")
	ErrDuplicateRecord  = errors.New("ledger: duplicate record")
)

// Store persists the ledger's protocol state. Pagination accessors clamp:
// a start index at or past the end returns an empty slice, and count is
// reduced to the remaining length; neither case is an error.
type Store interface {
	// InsertDeposit assigns the next deposit sequence number, computes the
	// record digest, and persists the record. Sequence assignment is atomic:
	// two concurrent inserts can never observe the same number.
	InsertDeposit(ctx context.Context, r DepositRecord) (DepositRecord, [32]byte, error)
	DepositByKey(ctx context.Context, key [32]byte) (DepositRecord, error)
	DepositKeys(ctx context.Context, from, count uint64) ([][32]byte, error)
	DepositCount(ctx context.Context) (uint64, error)

	InsertWithdraw(ctx context.Context, r WithdrawRecord) ([32]byte, error)
	WithdrawByKey(ctx context.Context, key [32]byte) (WithdrawRecord, error)
	WithdrawKeys(ctx context.Context, from, count uint64) ([][32]byte, error)
	WithdrawCount(ctx context.Context) (uint64, error)

	PutApproval(ctx context.Context, key [32]byte, ap Approval) error
	Approval(ctx context.Context, key [32]byte) (Approval, error)

	// MarkNonceUsed records that (srcChainKey, nonce) has been approved.
	// It fails with ErrNonceAlreadyApproved on reuse, independent of the
	// withdraw key, so a cancelled approval's nonce cannot be recycled with
	// different parameters.
	MarkNonceUsed(ctx context.Context, srcChainKey, nonce uint64) error
	NonceUsed(ctx context.Context, srcChainKey, nonce uint64) (bool, error)

	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
}
