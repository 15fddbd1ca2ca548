// Package router is the user-facing entry point of the bridge. It adapts
// between native currency and the wrapped-native token around the ledger's
// deposit and withdraw operations, and implements exact-fee collection with
// refund of any overpayment.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spanbridge/spanbridge/internal/ledger"
	"github.com/spanbridge/spanbridge/internal/native"
	"github.com/spanbridge/spanbridge/internal/token"
)

var (
	ErrInvalidConfig = errors.New("router: invalid config")
	ErrInvalidAmount = errors.New("router: invalid amount")

	// ErrUseWithdrawNative rejects deduct-from-amount approvals on the token
	// withdrawal path; they are only executable through WithdrawNative.
	ErrUseWithdrawNative = errors.New("router: approval is native-path, use WithdrawNative")
	// ErrNotNativeApproval rejects separate-payment approvals on the native
	// withdrawal path.
	ErrNotNativeApproval = errors.New("router: approval is not native-path")

	ErrFeeExceedsAmount     = errors.New("router: fee exceeds withdrawal amount")
	ErrRefundFailed         = errors.New("router: refund of excess value failed")
	ErrNativeTransferFailed = errors.New("router: native payout failed")
)

// Router fronts the ledger. It holds the bridge.deposit capability, acts as
// the payer for wrapped-native deposits, and is the recipient the ledger
// credits on the native withdrawal path before unwrapping.
type Router struct {
	ledger  *ledger.Ledger
	bank    token.Bank
	native  native.Ledger
	wnative *token.WrappedNative
	account common.Address
	log     *slog.Logger
}

func New(l *ledger.Ledger, bank token.Bank, nat native.Ledger, wnative *token.WrappedNative,
	account common.Address, log *slog.Logger) (*Router, error) {

	if l == nil || bank == nil || nat == nil || wnative == nil {
		return nil, fmt.Errorf("%w: nil collaborator", ErrInvalidConfig)
	}
	if account == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero router account", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Router{ledger: l, bank: bank, native: nat, wnative: wnative, account: account, log: log}, nil
}

func (r *Router) Account() common.Address { return r.account }

// Deposit bridges an ERC20-style token out. The ledger's vault settles
// directly against the caller's balance.
func (r *Router) Deposit(ctx context.Context, caller common.Address, destChainKey uint64,
	destAccount []byte, asset common.Address, amount *big.Int) (ledger.DepositRecord, [32]byte, error) {

	return r.ledger.Deposit(ctx, r.account, caller, destChainKey, destAccount, asset, amount)
}

// DepositNative bridges attached native currency out: the value is pulled
// from the caller, wrapped into the wrapped-native token, and deposited with
// the router as payer.
func (r *Router) DepositNative(ctx context.Context, caller common.Address, destChainKey uint64,
	destAccount []byte, value *big.Int) (ledger.DepositRecord, [32]byte, error) {

	if value == nil || value.Sign() <= 0 {
		return ledger.DepositRecord{}, [32]byte{}, fmt.Errorf("%w: attached value must be > 0", ErrInvalidAmount)
	}
	if err := r.native.Transfer(ctx, caller, r.account, value); err != nil {
		return ledger.DepositRecord{}, [32]byte{}, err
	}
	if err := r.wnative.Wrap(ctx, r.account, value); err != nil {
		return ledger.DepositRecord{}, [32]byte{}, err
	}
	return r.ledger.Deposit(ctx, r.account, r.account, destChainKey, destAccount, r.wnative.Asset(), value)
}

// Withdraw executes a separate-payment approval. The caller attaches at
// least the quoted fee; the router forwards exactly the fee to the ledger
// and refunds the rest.
func (r *Router) Withdraw(ctx context.Context, caller common.Address, p ledger.WithdrawParams, value *big.Int) error {
	ap, err := r.approval(ctx, p)
	if err != nil {
		return err
	}
	if ap.DeductFromAmount {
		return ErrUseWithdrawNative
	}

	fee := ap.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Cmp(fee) < 0 {
		return fmt.Errorf("%w: attached %v, fee is %v", ledger.ErrIncorrectFeeValue, value, fee)
	}

	if err := r.native.Transfer(ctx, caller, r.account, value); err != nil {
		return err
	}
	if err := r.ledger.Withdraw(ctx, r.account, p, fee); err != nil {
		// Hand the collected value back before surfacing the failure.
		if rerr := r.native.Transfer(ctx, r.account, caller, value); rerr != nil {
			return fmt.Errorf("%w: %v (after %v)", ErrRefundFailed, rerr, err)
		}
		return err
	}

	if excess := new(big.Int).Sub(value, fee); excess.Sign() > 0 {
		if err := r.native.Transfer(ctx, r.account, caller, excess); err != nil {
			return fmt.Errorf("%w: %v", ErrRefundFailed, err)
		}
	}
	return nil
}

// WithdrawNative executes a deduct-from-amount approval. The ledger credits
// the wrapped-native token to the router, which unwraps it and pays the fee
// to the approval's fee recipient and the remainder to recipient.
func (r *Router) WithdrawNative(ctx context.Context, caller, recipient common.Address, p ledger.WithdrawParams) error {
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: zero recipient", ErrInvalidConfig)
	}

	ap, err := r.approval(ctx, p)
	if err != nil {
		return err
	}
	if !ap.DeductFromAmount {
		return ErrNotNativeApproval
	}

	fee := ap.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	if p.Amount == nil || fee.Cmp(p.Amount) > 0 {
		return ErrFeeExceedsAmount
	}

	if err := r.ledger.Withdraw(ctx, r.account, p, nil); err != nil {
		return err
	}
	if err := r.wnative.Unwrap(ctx, r.account, p.Amount); err != nil {
		return err
	}

	if fee.Sign() > 0 {
		if err := r.native.Transfer(ctx, r.account, ap.FeeRecipient, fee); err != nil {
			return fmt.Errorf("%w: fee: %v", ErrNativeTransferFailed, err)
		}
	}
	payout := new(big.Int).Sub(p.Amount, fee)
	if err := r.native.Transfer(ctx, r.account, recipient, payout); err != nil {
		return fmt.Errorf("%w: payout: %v", ErrNativeTransferFailed, err)
	}

	r.log.Info("native withdrawal paid out", "recipient", recipient.Hex(), "amount", payout.String(), "fee", fee.String())
	return nil
}

func (r *Router) approval(ctx context.Context, p ledger.WithdrawParams) (ledger.Approval, error) {
	key := ledger.WithdrawRecord{
		SrcChainKey: p.SrcChainKey,
		Asset:       p.Asset,
		To:          p.To,
		Amount:      p.Amount,
		Nonce:       p.Nonce,
	}.Key()
	ap, err := r.ledger.ApprovalByKey(ctx, key)
	if err != nil {
		return ledger.Approval{}, ledger.ErrWithdrawNotApproved
	}
	return ap, nil
}
