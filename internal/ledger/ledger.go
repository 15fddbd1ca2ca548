// Package ledger is the bridge's settlement core. It records deposits,
// owns the withdrawal approval state machine, enforces the per-asset rate
// limit, and dispatches to the settlement vault selected by the asset
// registry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spanbridge/spanbridge/internal/assetreg"
	"github.com/spanbridge/spanbridge/internal/authz"
	"github.com/spanbridge/spanbridge/internal/bridgekey"
	"github.com/spanbridge/spanbridge/internal/events"
	"github.com/spanbridge/spanbridge/internal/native"
	"github.com/spanbridge/spanbridge/internal/ratelimit"
	"github.com/spanbridge/spanbridge/internal/settlement"
)

// Vaults holds one settlement module per mode.
type Vaults struct {
	MintBurn    settlement.Vault
	LockRelease settlement.Vault
}

func (v Vaults) forMode(mode assetreg.Mode) (settlement.Vault, error) {
	switch mode {
	case assetreg.ModeMintBurn:
		if v.MintBurn == nil {
			return nil, fmt.Errorf("%w: no mint/burn vault", ErrInvalidConfig)
		}
		return v.MintBurn, nil
	case assetreg.ModeLockRelease:
		if v.LockRelease == nil {
			return nil, fmt.Errorf("%w: no lock/release vault", ErrInvalidConfig)
		}
		return v.LockRelease, nil
	default:
		return nil, fmt.Errorf("%w: asset has no settlement mode", ErrInvalidConfig)
	}
}

type Config struct {
	// Self is the ledger's own account: the caller identity it presents to
	// the settlement vaults.
	Self common.Address
	// Router is the only permitted recipient of deduct-from-amount approvals.
	Router common.Address
	// WrappedNative is the only permitted asset of deduct-from-amount approvals.
	WrappedNative common.Address
}

type Ledger struct {
	cfg      Config
	store    Store
	registry assetreg.Store
	limiter  *ratelimit.Limiter
	vaults   Vaults
	native   native.Ledger
	emitter  events.Emitter
	auth     authz.Authority
	log      *slog.Logger
}

func New(cfg Config, store Store, registry assetreg.Store, limiter *ratelimit.Limiter,
	vaults Vaults, nat native.Ledger, emitter events.Emitter, auth authz.Authority,
	log *slog.Logger) (*Ledger, error) {

	if cfg.Self == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero self account", ErrInvalidConfig)
	}
	if cfg.Router == (common.Address{}) || cfg.WrappedNative == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero router or wrapped-native address", ErrInvalidConfig)
	}
	if store == nil || registry == nil || limiter == nil || nat == nil || emitter == nil || auth == nil {
		return nil, fmt.Errorf("%w: nil collaborator", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Ledger{
		cfg:      cfg,
		store:    store,
		registry: registry,
		limiter:  limiter,
		vaults:   vaults,
		native:   nat,
		emitter:  emitter,
		auth:     auth,
		log:      log,
	}, nil
}

// Deposit records value leaving this chain and settles it from payer's
// balance. Capability-gated: only the router (or an equivalent integrator)
// may call.
func (l *Ledger) Deposit(ctx context.Context, caller, payer common.Address,
	destChainKey uint64, destAccount []byte, asset common.Address, amount *big.Int) (DepositRecord, [32]byte, error) {

	if err := l.requireActive(ctx); err != nil {
		return DepositRecord{}, [32]byte{}, err
	}
	if err := l.auth.Require(caller, authz.CapDeposit); err != nil {
		return DepositRecord{}, [32]byte{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return DepositRecord{}, [32]byte{}, fmt.Errorf("%w: deposit amount must be > 0", ErrInvalidAmount)
	}
	if len(destAccount) == 0 {
		return DepositRecord{}, [32]byte{}, fmt.Errorf("%w: empty destination account", ErrInvalidAmount)
	}

	cfg, err := l.registry.GetConfig(ctx, asset)
	if err != nil {
		return DepositRecord{}, [32]byte{}, err
	}
	remote, err := l.registry.Remote(ctx, asset, destChainKey)
	if err != nil {
		return DepositRecord{}, [32]byte{}, err
	}
	vault, err := l.vaults.forMode(cfg.Mode)
	if err != nil {
		return DepositRecord{}, [32]byte{}, err
	}

	// The cap check precedes any state change so a rejected deposit leaves
	// nothing behind. Headroom consumed here is returned on every later
	// failure: a deposit that did not settle must not count against the
	// window.
	if err := l.limiter.CheckAndUpdate(ctx, [20]byte(asset), amount, cfg.TransferCap); err != nil {
		return DepositRecord{}, [32]byte{}, err
	}

	if err := vault.Debit(ctx, l.cfg.Self, payer, asset, amount); err != nil {
		if rbErr := l.limiter.Rollback(ctx, [20]byte(asset), amount); rbErr != nil {
			l.log.Error("rate window rollback after failed debit", "asset", asset.Hex(), "err", rbErr)
		}
		return DepositRecord{}, [32]byte{}, err
	}

	rec, key, err := l.store.InsertDeposit(ctx, DepositRecord{
		DestChainKey: destChainKey,
		DestAsset:    remote.Asset,
		DestAccount:  destAccount,
		Payer:        payer,
		Asset:        asset,
		Amount:       amount,
	})
	if err != nil {
		// Return the debited funds; without a record the deposit never
		// happened.
		if crErr := vault.Credit(ctx, l.cfg.Self, payer, asset, amount); crErr != nil {
			l.log.Error("debit compensation after failed insert", "asset", asset.Hex(), "payer", payer.Hex(), "err", crErr)
			return DepositRecord{}, [32]byte{}, err
		}
		if rbErr := l.limiter.Rollback(ctx, [20]byte(asset), amount); rbErr != nil {
			l.log.Error("rate window rollback after failed insert", "asset", asset.Hex(), "err", rbErr)
		}
		return DepositRecord{}, [32]byte{}, err
	}

	// The record is durable; notification failures must not make a settled
	// deposit look failed, or a retry would double-settle.
	if err := l.emitter.Emit(ctx, events.DepositEvent{
		Version:      events.TopicDeposit,
		DepositKey:   events.HexKey(key),
		DestChainKey: rec.DestChainKey,
		DestAsset:    events.HexBytes(rec.DestAsset),
		DestAccount:  events.HexBytes(rec.DestAccount),
		Asset:        rec.Asset.Hex(),
		Payer:        rec.Payer.Hex(),
		Amount:       rec.Amount.String(),
		Seq:          rec.Seq,
	}); err != nil {
		l.log.Error("deposit event emit failed", "key", events.HexKey(key), "err", err)
	}

	l.log.Info("deposit recorded", "seq", rec.Seq, "asset", rec.Asset.Hex(), "amount", rec.Amount.String(), "destChain", destChainKey)
	return rec, key, nil
}

// ApproveParams describe an operator's withdrawal pre-authorization.
type ApproveParams struct {
	SrcChainKey      uint64
	Asset            common.Address
	To               common.Address
	Amount           *big.Int
	Nonce            uint64
	Fee              *big.Int
	FeeRecipient     common.Address
	DeductFromAmount bool
}

// ApproveWithdraw pre-authorizes a payout with its fee terms. A given
// (srcChainKey, nonce) pair can be approved at most once, ever.
func (l *Ledger) ApproveWithdraw(ctx context.Context, caller common.Address, p ApproveParams) ([32]byte, error) {
	if err := l.requireActive(ctx); err != nil {
		return [32]byte{}, err
	}
	if err := l.auth.Require(caller, authz.CapApprove); err != nil {
		return [32]byte{}, err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return [32]byte{}, fmt.Errorf("%w: withdraw amount must be > 0", ErrInvalidAmount)
	}
	fee := p.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	if fee.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("%w: negative fee", ErrInvalidAmount)
	}
	if fee.Sign() > 0 && p.FeeRecipient == (common.Address{}) {
		return [32]byte{}, ErrFeeRecipientZero
	}
	if p.DeductFromAmount {
		if p.Asset != l.cfg.WrappedNative {
			return [32]byte{}, ErrDeductRequiresNativeAsset
		}
		if p.To != l.cfg.Router {
			return [32]byte{}, ErrDeductRequiresRouterRecipient
		}
	}

	key := bridgekey.WithdrawKeyV1(p.SrcChainKey, p.Asset, p.To, p.Amount, p.Nonce)
	existing, err := l.store.Approval(ctx, key)
	switch {
	case err == nil:
		switch {
		case existing.Executed:
			return [32]byte{}, ErrApprovalExecuted
		case existing.Cancelled:
			// Re-approval goes through ReenableWithdrawApproval.
			return [32]byte{}, ErrApprovalCancelled
		}
	case !errors.Is(err, ErrApprovalNotFound):
		return [32]byte{}, fmt.Errorf("ledger: load approval: %w", err)
	}

	if err := l.store.MarkNonceUsed(ctx, p.SrcChainKey, p.Nonce); err != nil {
		return [32]byte{}, err
	}
	if err := l.store.PutApproval(ctx, key, Approval{
		Fee:              fee,
		FeeRecipient:     p.FeeRecipient,
		Approved:         true,
		DeductFromAmount: p.DeductFromAmount,
	}); err != nil {
		return [32]byte{}, err
	}

	if err := l.emitApproval(ctx, events.TopicWithdrawApproved, key, p, fee); err != nil {
		l.log.Error("approval event emit failed", "key", events.HexKey(key), "err", err)
	}
	l.log.Info("withdrawal approved", "key", events.HexKey(key), "srcChain", p.SrcChainKey, "nonce", p.Nonce, "fee", fee.String())
	return key, nil
}

// WithdrawParams identify an approved withdrawal.
type WithdrawParams struct {
	SrcChainKey uint64
	Asset       common.Address
	To          common.Address
	Amount      *big.Int
	Nonce       uint64
}

func (p WithdrawParams) key() [32]byte {
	return bridgekey.WithdrawKeyV1(p.SrcChainKey, p.Asset, p.To, p.Amount, p.Nonce)
}

// CancelWithdrawApproval suspends an approval. The nonce stays consumed.
func (l *Ledger) CancelWithdrawApproval(ctx context.Context, caller common.Address, p WithdrawParams) error {
	if err := l.requireActive(ctx); err != nil {
		return err
	}
	if err := l.auth.Require(caller, authz.CapCancel); err != nil {
		return err
	}

	key := p.key()
	ap, err := l.loadApproval(ctx, key)
	if err != nil {
		return err
	}
	if ap.Executed {
		return ErrApprovalExecuted
	}
	if ap.Cancelled {
		return ErrApprovalCancelled
	}

	ap.Cancelled = true
	if err := l.store.PutApproval(ctx, key, ap); err != nil {
		return err
	}
	if err := l.emitApprovalTransition(ctx, events.TopicWithdrawCancelled, key, p, ap); err != nil {
		l.log.Error("cancel event emit failed", "key", events.HexKey(key), "err", err)
	}
	l.log.Info("withdrawal approval cancelled", "key", events.HexKey(key))
	return nil
}

// ReenableWithdrawApproval lifts a cancellation; the original fee terms apply.
func (l *Ledger) ReenableWithdrawApproval(ctx context.Context, caller common.Address, p WithdrawParams) error {
	if err := l.requireActive(ctx); err != nil {
		return err
	}
	if err := l.auth.Require(caller, authz.CapReenable); err != nil {
		return err
	}

	key := p.key()
	ap, err := l.loadApproval(ctx, key)
	if err != nil {
		return err
	}
	if ap.Executed {
		return ErrApprovalExecuted
	}
	if !ap.Cancelled {
		return ErrNotCancelled
	}

	ap.Cancelled = false
	if err := l.store.PutApproval(ctx, key, ap); err != nil {
		return err
	}
	if err := l.emitApprovalTransition(ctx, events.TopicWithdrawReenabled, key, p, ap); err != nil {
		l.log.Error("reenable event emit failed", "key", events.HexKey(key), "err", err)
	}
	l.log.Info("withdrawal approval reenabled", "key", events.HexKey(key))
	return nil
}

// Withdraw executes an approved withdrawal. Anyone willing to satisfy the fee
// terms may call; value is the attached native payment, drawn from caller.
//
// The approval is marked executed before the settlement vault or the native
// ledger is invoked, so a re-entrant call on the same key observes
// ErrApprovalExecuted.
func (l *Ledger) Withdraw(ctx context.Context, caller common.Address, p WithdrawParams, value *big.Int) error {
	if err := l.requireActive(ctx); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdraw amount must be > 0", ErrInvalidAmount)
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("%w: negative attached value", ErrInvalidAmount)
	}

	cfg, err := l.registry.GetConfig(ctx, p.Asset)
	if err != nil {
		return err
	}
	if _, err := l.registry.Remote(ctx, p.Asset, p.SrcChainKey); err != nil {
		return err
	}
	vault, err := l.vaults.forMode(cfg.Mode)
	if err != nil {
		return err
	}

	key := p.key()
	ap, err := l.loadApproval(ctx, key)
	if err != nil {
		return err
	}
	switch {
	case ap.Cancelled:
		return ErrApprovalCancelled
	case ap.Executed:
		return ErrApprovalExecuted
	}

	fee := ap.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	if ap.DeductFromAmount {
		if value.Sign() != 0 {
			return ErrNoFeeViaValueWhenDeduct
		}
	} else {
		if fee.Sign() == 0 && value.Sign() != 0 {
			return fmt.Errorf("%w: attached %v, fee is zero", ErrIncorrectFeeValue, value)
		}
		if value.Cmp(fee) < 0 {
			return fmt.Errorf("%w: attached %v, fee is %v", ErrIncorrectFeeValue, value, fee)
		}
		if value.Sign() > 0 && ap.FeeRecipient == (common.Address{}) {
			return ErrFeeRecipientZero
		}
	}

	if err := l.limiter.CheckAndUpdate(ctx, [20]byte(p.Asset), p.Amount, cfg.TransferCap); err != nil {
		return err
	}

	ap.Executed = true
	if err := l.store.PutApproval(ctx, key, ap); err != nil {
		if rbErr := l.limiter.Rollback(ctx, [20]byte(p.Asset), p.Amount); rbErr != nil {
			l.log.Error("rate window rollback after failed mark", "key", events.HexKey(key), "err", rbErr)
		}
		return err
	}

	if err := vault.Credit(ctx, l.cfg.Self, p.To, p.Asset, p.Amount); err != nil {
		// No value moved. Unwind the mark so the approval stays claimable;
		// the re-entrancy guard already did its job, the credit has returned.
		ap.Executed = false
		if putErr := l.store.PutApproval(ctx, key, ap); putErr != nil {
			l.log.Error("approval unwind after failed credit", "key", events.HexKey(key), "err", putErr)
			return err
		}
		if rbErr := l.limiter.Rollback(ctx, [20]byte(p.Asset), p.Amount); rbErr != nil {
			l.log.Error("rate window rollback after failed credit", "key", events.HexKey(key), "err", rbErr)
		}
		return err
	}
	if _, err := l.store.InsertWithdraw(ctx, WithdrawRecord{
		SrcChainKey: p.SrcChainKey,
		Asset:       p.Asset,
		To:          p.To,
		Amount:      p.Amount,
		Nonce:       p.Nonce,
	}); err != nil {
		// Value has moved; Executed stays set so the payout cannot repeat.
		l.log.Error("withdraw record insert failed after settlement", "key", events.HexKey(key), "err", err)
		return err
	}

	// Separate-payment path: the entire attached value goes to the fee
	// recipient. Callers wanting exact-fee-plus-refund semantics go through
	// the router.
	settledFee := fee
	if !ap.DeductFromAmount && value.Sign() > 0 {
		if err := l.native.Transfer(ctx, caller, ap.FeeRecipient, value); err != nil {
			return fmt.Errorf("%w: %v", ErrFeeTransferFailed, err)
		}
		settledFee = value
	}

	// Settlement is complete; a non-nil return past this point would make the
	// caller treat a paid-out withdrawal as failed.
	if err := l.emitter.Emit(ctx, events.WithdrawEvent{
		Version:     events.TopicWithdraw,
		WithdrawKey: events.HexKey(key),
		SrcChainKey: p.SrcChainKey,
		Asset:       p.Asset.Hex(),
		Recipient:   p.To.Hex(),
		Amount:      p.Amount.String(),
		Nonce:       p.Nonce,
	}); err != nil {
		l.log.Error("withdraw event emit failed", "key", events.HexKey(key), "err", err)
	}
	if err := l.emitter.Emit(ctx, events.FeeSettledEvent{
		Version:            events.TopicFeeSettled,
		WithdrawKey:        events.HexKey(key),
		FeeRecipient:       ap.FeeRecipient.Hex(),
		Fee:                settledFee.String(),
		DeductedFromAmount: ap.DeductFromAmount,
	}); err != nil {
		l.log.Error("fee event emit failed", "key", events.HexKey(key), "err", err)
	}

	l.log.Info("withdrawal executed", "key", events.HexKey(key), "asset", p.Asset.Hex(), "amount", p.Amount.String())
	return nil
}

// SetPaused gates every value-moving entry point. Admin capability required.
func (l *Ledger) SetPaused(ctx context.Context, caller common.Address, paused bool) error {
	if err := l.auth.Require(caller, authz.CapAdmin); err != nil {
		return err
	}
	if err := l.store.SetPaused(ctx, paused); err != nil {
		return err
	}
	l.log.Info("pause flag changed", "paused", paused)
	return nil
}

func (l *Ledger) Paused(ctx context.Context) (bool, error) { return l.store.Paused(ctx) }

// Registry administration. Admin capability required for every mutation;
// Config.Validate runs before anything is stored.

func (l *Ledger) RegisterAsset(ctx context.Context, caller, asset common.Address, cfg assetreg.Config) error {
	if err := l.auth.Require(caller, authz.CapAdmin); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := l.registry.PutConfig(ctx, asset, cfg); err != nil {
		return err
	}
	l.log.Info("asset registered", "asset", asset.Hex(), "mode", cfg.Mode.String())
	return nil
}

func (l *Ledger) SetAssetRemote(ctx context.Context, caller, asset common.Address, chainKey uint64, r assetreg.Remote) error {
	if err := l.auth.Require(caller, authz.CapAdmin); err != nil {
		return err
	}
	if len(r.Asset) == 0 {
		return fmt.Errorf("%w: empty remote asset", assetreg.ErrInvalidConfig)
	}
	return l.registry.SetRemote(ctx, asset, chainKey, r)
}

func (l *Ledger) SetAssetMode(ctx context.Context, caller, asset common.Address, mode assetreg.Mode) error {
	if err := l.auth.Require(caller, authz.CapAdmin); err != nil {
		return err
	}
	if mode != assetreg.ModeMintBurn && mode != assetreg.ModeLockRelease {
		return fmt.Errorf("%w: bad mode %v", assetreg.ErrInvalidConfig, mode)
	}
	return l.registry.SetMode(ctx, asset, mode)
}

func (l *Ledger) SetAssetCap(ctx context.Context, caller, asset common.Address, cap *big.Int) error {
	if err := l.auth.Require(caller, authz.CapAdmin); err != nil {
		return err
	}
	if cap != nil && cap.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer cap", assetreg.ErrInvalidConfig)
	}
	return l.registry.SetCap(ctx, asset, cap)
}

func (l *Ledger) AssetConfig(ctx context.Context, asset common.Address) (assetreg.Config, error) {
	return l.registry.GetConfig(ctx, asset)
}

func (l *Ledger) ListAssets(ctx context.Context) ([]common.Address, error) {
	return l.registry.ListAssets(ctx)
}

// Read accessors. Pagination clamps instead of failing on out-of-range input.

func (l *Ledger) DepositKeys(ctx context.Context, from, count uint64) ([][32]byte, error) {
	return l.store.DepositKeys(ctx, from, count)
}

func (l *Ledger) WithdrawKeys(ctx context.Context, from, count uint64) ([][32]byte, error) {
	return l.store.WithdrawKeys(ctx, from, count)
}

func (l *Ledger) DepositByKey(ctx context.Context, key [32]byte) (DepositRecord, error) {
	return l.store.DepositByKey(ctx, key)
}

func (l *Ledger) WithdrawByKey(ctx context.Context, key [32]byte) (WithdrawRecord, error) {
	return l.store.WithdrawByKey(ctx, key)
}

func (l *Ledger) ApprovalByKey(ctx context.Context, key [32]byte) (Approval, error) {
	return l.store.Approval(ctx, key)
}

// loadApproval maps absence to ErrWithdrawNotApproved while keeping store
// failures distinguishable, so a transient read error never looks like a
// missing approval.
func (l *Ledger) loadApproval(ctx context.Context, key [32]byte) (Approval, error) {
	ap, err := l.store.Approval(ctx, key)
	if err != nil {
		if errors.Is(err, ErrApprovalNotFound) {
			return Approval{}, ErrWithdrawNotApproved
		}
		return Approval{}, fmt.Errorf("ledger: load approval: %w", err)
	}
	return ap, nil
}

func (l *Ledger) requireActive(ctx context.Context) error {
	paused, err := l.store.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

func (l *Ledger) emitApproval(ctx context.Context, topic string, key [32]byte, p ApproveParams, fee *big.Int) error {
	return l.emitter.Emit(ctx, events.ApprovalEvent{
		Version:          topic,
		WithdrawKey:      events.HexKey(key),
		SrcChainKey:      p.SrcChainKey,
		Asset:            p.Asset.Hex(),
		Recipient:        p.To.Hex(),
		Amount:           p.Amount.String(),
		Nonce:            p.Nonce,
		Fee:              fee.String(),
		FeeRecipient:     p.FeeRecipient.Hex(),
		DeductFromAmount: p.DeductFromAmount,
	})
}

func (l *Ledger) emitApprovalTransition(ctx context.Context, topic string, key [32]byte, p WithdrawParams, ap Approval) error {
	fee := ap.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	return l.emitter.Emit(ctx, events.ApprovalEvent{
		Version:          topic,
		WithdrawKey:      events.HexKey(key),
		SrcChainKey:      p.SrcChainKey,
		Asset:            p.Asset.Hex(),
		Recipient:        p.To.Hex(),
		Amount:           p.Amount.String(),
		Nonce:            p.Nonce,
		Fee:              fee.String(),
		FeeRecipient:     ap.FeeRecipient.Hex(),
		DeductFromAmount: ap.DeductFromAmount,
	})
}
