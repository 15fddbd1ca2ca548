package ledger

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spanbridge/spanbridge/internal/bridgekey"
)

var (
	ErrInvalidConfig = errors.New("ledger: invalid config")
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	ErrPaused        = errors.New("ledger: bridge is paused")

	// Approval lifecycle.
	ErrWithdrawNotApproved  = errors.New("ledger: withdraw not approved")
	ErrApprovalCancelled    = errors.New("ledger: approval cancelled")
	ErrApprovalExecuted     = errors.New("ledger: approval already executed")
	ErrNotCancelled         = errors.New("ledger: approval not cancelled")
	ErrNonceAlreadyApproved = errors.New("ledger: nonce already approved")

	// Fee handling.
	ErrIncorrectFeeValue       = errors.New("ledger: incorrect fee value")
	ErrFeeRecipientZero        = errors.New("ledger: fee recipient is zero")
	ErrFeeTransferFailed       = errors.New("ledger: fee transfer failed")
	ErrNoFeeViaValueWhenDeduct = errors.New("ledger: no attached value allowed when fee is deducted from amount")

	// Deduct-mode typing guard: a deduct-from-amount approval is only valid
	// for the wrapped-native asset with the router as recipient.
	ErrDeductRequiresNativeAsset     = errors.New("ledger: deduct-from-amount requires the wrapped-native asset")
	ErrDeductRequiresRouterRecipient = errors.New("ledger: deduct-from-amount requires the router as recipient")
)

// DepositRecord is created exactly once per deposit, never mutated or
// deleted, and retained forever for off-chain auditing.
type DepositRecord struct {
	DestChainKey uint64
	// DestAsset is the remote representation resolved from the asset registry
	// at deposit time, in the destination chain's identifier format.
	DestAsset   []byte
	DestAccount []byte
	Payer       common.Address
	Asset       common.Address
	Amount      *big.Int
	// Seq is the globally unique, strictly increasing deposit sequence number,
	// assigned by the store.
	Seq uint64
}

func (r DepositRecord) Key() [32]byte {
	return bridgekey.DepositKeyV1(r.DestChainKey, r.DestAsset, r.DestAccount, r.Payer, r.Asset, r.Amount, r.Seq)
}

// WithdrawRecord identifies a completed withdrawal. The digest of its fields
// is the withdraw key, shared with the approval that authorized it.
type WithdrawRecord struct {
	SrcChainKey uint64
	Asset       common.Address
	To          common.Address
	Amount      *big.Int
	Nonce       uint64
}

func (r WithdrawRecord) Key() [32]byte {
	return bridgekey.WithdrawKeyV1(r.SrcChainKey, r.Asset, r.To, r.Amount, r.Nonce)
}

// Approval is the operator's pre-authorization of a withdrawal, carrying the
// fee quote. One exists per withdraw key; it is mutated by the lifecycle
// transitions and never deleted.
type Approval struct {
	Fee          *big.Int
	FeeRecipient common.Address
	Approved     bool
	// DeductFromAmount selects the fee accounting mode: false means the
	// executor pays the fee as attached native value, true means the router
	// subtracts the fee from the unwrapped proceeds.
	DeductFromAmount bool
	Cancelled        bool
	Executed         bool
}
