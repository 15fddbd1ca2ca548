package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spanbridge/spanbridge/internal/ledger"
)

var ErrInvalidConfig = errors.New("ledger/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("ledger/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) InsertDeposit(ctx context.Context, r ledger.DepositRecord) (ledger.DepositRecord, [32]byte, error) {
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return ledger.DepositRecord{}, [32]byte{}, fmt.Errorf("%w: amount must be > 0", ledger.ErrInvalidAmount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.DepositRecord{}, [32]byte{}, fmt.Errorf("ledger/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The singleton meta row serializes sequence assignment.
	var seq int64
	err = tx.QueryRow(ctx, `
		UPDATE bridge_meta SET next_seq = next_seq + 1 WHERE id = 1
		RETURNING next_seq - 1
	`).Scan(&seq)
	if err != nil {
		return ledger.DepositRecord{}, [32]byte{}, fmt.Errorf("ledger/postgres: next seq: %w", err)
	}
	if seq < 0 || uint64(seq) > math.MaxInt64 {
		return ledger.DepositRecord{}, [32]byte{}, fmt.Errorf("ledger/postgres: sequence overflow")
	}
	r.Seq = uint64(seq)
	key := r.Key()

	_, err = tx.Exec(ctx, `
		INSERT INTO bridge_deposits (
			deposit_key, seq, dest_chain_key, dest_asset, dest_account, payer, asset, amount
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric)
	`, key[:], seq, int64(r.DestChainKey), r.DestAsset, r.DestAccount, r.Payer.Bytes(), r.Asset.Bytes(), r.Amount.String())
	if err != nil {
		return ledger.DepositRecord{}, [32]byte{}, fmt.Errorf("ledger/postgres: insert deposit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.DepositRecord{}, [32]byte{}, fmt.Errorf("ledger/postgres: commit: %w", err)
	}
	return r, key, nil
}

func (s *Store) DepositByKey(ctx context.Context, key [32]byte) (ledger.DepositRecord, error) {
	var (
		seq          int64
		destChainKey int64
		destAsset    []byte
		destAccount  []byte
		payer        []byte
		asset        []byte
		amount       string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT seq, dest_chain_key, dest_asset, dest_account, payer, asset, amount::text
		FROM bridge_deposits
		WHERE deposit_key = $1
	`, key[:]).Scan(&seq, &destChainKey, &destAsset, &destAccount, &payer, &asset, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.DepositRecord{}, fmt.Errorf("%w: deposit %x", ledger.ErrNotFound, key)
	}
	if err != nil {
		return ledger.DepositRecord{}, fmt.Errorf("ledger/postgres: get deposit: %w", err)
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return ledger.DepositRecord{}, fmt.Errorf("ledger/postgres: corrupt amount %q", amount)
	}
	return ledger.DepositRecord{
		DestChainKey: uint64(destChainKey),
		DestAsset:    append([]byte(nil), destAsset...),
		DestAccount:  append([]byte(nil), destAccount...),
		Payer:        common.BytesToAddress(payer),
		Asset:        common.BytesToAddress(asset),
		Amount:       amt,
		Seq:          uint64(seq),
	}, nil
}

func (s *Store) DepositKeys(ctx context.Context, from, count uint64) ([][32]byte, error) {
	return s.pageKeys(ctx, `
		SELECT deposit_key FROM bridge_deposits ORDER BY seq OFFSET $1 LIMIT $2
	`, from, count)
}

func (s *Store) DepositCount(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT count(*) FROM bridge_deposits`)
}

func (s *Store) InsertWithdraw(ctx context.Context, r ledger.WithdrawRecord) ([32]byte, error) {
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return [32]byte{}, fmt.Errorf("%w: amount must be > 0", ledger.ErrInvalidAmount)
	}
	key := r.Key()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_withdrawals (withdraw_key, src_chain_key, asset, recipient, amount, nonce)
		VALUES ($1,$2,$3,$4,$5::numeric,$6)
		ON CONFLICT (withdraw_key) DO NOTHING
	`, key[:], int64(r.SrcChainKey), r.Asset.Bytes(), r.To.Bytes(), r.Amount.String(), int64(r.Nonce))
	if err != nil {
		return [32]byte{}, fmt.Errorf("ledger/postgres: insert withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return [32]byte{}, fmt.Errorf("%w: withdrawal %x", ledger.ErrDuplicateRecord, key)
	}
	return key, nil
}

func (s *Store) WithdrawByKey(ctx context.Context, key [32]byte) (ledger.WithdrawRecord, error) {
	var (
		srcChainKey int64
		asset       []byte
		recipient   []byte
		amount      string
		nonce       int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT src_chain_key, asset, recipient, amount::text, nonce
		FROM bridge_withdrawals
		WHERE withdraw_key = $1
	`, key[:]).Scan(&srcChainKey, &asset, &recipient, &amount, &nonce)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.WithdrawRecord{}, fmt.Errorf("%w: withdrawal %x", ledger.ErrNotFound, key)
	}
	if err != nil {
		return ledger.WithdrawRecord{}, fmt.Errorf("ledger/postgres: get withdrawal: %w", err)
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return ledger.WithdrawRecord{}, fmt.Errorf("ledger/postgres: corrupt amount %q", amount)
	}
	return ledger.WithdrawRecord{
		SrcChainKey: uint64(srcChainKey),
		Asset:       common.BytesToAddress(asset),
		To:          common.BytesToAddress(recipient),
		Amount:      amt,
		Nonce:       uint64(nonce),
	}, nil
}

func (s *Store) WithdrawKeys(ctx context.Context, from, count uint64) ([][32]byte, error) {
	return s.pageKeys(ctx, `
		SELECT withdraw_key FROM bridge_withdrawals ORDER BY ord OFFSET $1 LIMIT $2
	`, from, count)
}

func (s *Store) WithdrawCount(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT count(*) FROM bridge_withdrawals`)
}

func (s *Store) PutApproval(ctx context.Context, key [32]byte, ap ledger.Approval) error {
	fee := ap.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_approvals (
			withdraw_key, fee, fee_recipient, approved, deduct_from_amount, cancelled, executed
		) VALUES ($1,$2::numeric,$3,$4,$5,$6,$7)
		ON CONFLICT (withdraw_key) DO UPDATE
		SET fee = EXCLUDED.fee,
		    fee_recipient = EXCLUDED.fee_recipient,
		    approved = EXCLUDED.approved,
		    deduct_from_amount = EXCLUDED.deduct_from_amount,
		    cancelled = EXCLUDED.cancelled,
		    executed = EXCLUDED.executed,
		    updated_at = now()
	`, key[:], fee.String(), ap.FeeRecipient.Bytes(), ap.Approved, ap.DeductFromAmount, ap.Cancelled, ap.Executed)
	if err != nil {
		return fmt.Errorf("ledger/postgres: put approval: %w", err)
	}
	return nil
}

func (s *Store) Approval(ctx context.Context, key [32]byte) (ledger.Approval, error) {
	var (
		fee          string
		feeRecipient []byte
		approved     bool
		deduct       bool
		cancelled    bool
		executed     bool
	)
	err := s.pool.QueryRow(ctx, `
		SELECT fee::text, fee_recipient, approved, deduct_from_amount, cancelled, executed
		FROM bridge_approvals
		WHERE withdraw_key = $1
	`, key[:]).Scan(&fee, &feeRecipient, &approved, &deduct, &cancelled, &executed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Approval{}, fmt.Errorf("%w: %x", ledger.ErrApprovalNotFound, key)
	}
	if err != nil {
		return ledger.Approval{}, fmt.Errorf("ledger/postgres: get approval: %w", err)
	}

	feeInt, ok := new(big.Int).SetString(fee, 10)
	if !ok {
		return ledger.Approval{}, fmt.Errorf("ledger/postgres: corrupt fee %q", fee)
	}
	return ledger.Approval{
		Fee:              feeInt,
		FeeRecipient:     common.BytesToAddress(feeRecipient),
		Approved:         approved,
		DeductFromAmount: deduct,
		Cancelled:        cancelled,
		Executed:         executed,
	}, nil
}

func (s *Store) MarkNonceUsed(ctx context.Context, srcChainKey, nonce uint64) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_nonces (src_chain_key, nonce)
		VALUES ($1, $2)
		ON CONFLICT (src_chain_key, nonce) DO NOTHING
	`, int64(srcChainKey), int64(nonce))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: chain %d nonce %d", ledger.ErrNonceAlreadyApproved, srcChainKey, nonce)
		}
		return fmt.Errorf("ledger/postgres: mark nonce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: chain %d nonce %d", ledger.ErrNonceAlreadyApproved, srcChainKey, nonce)
	}
	return nil
}

func (s *Store) NonceUsed(ctx context.Context, srcChainKey, nonce uint64) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `
		SELECT 1 FROM bridge_nonces WHERE src_chain_key = $1 AND nonce = $2
	`, int64(srcChainKey), int64(nonce)).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger/postgres: nonce used: %w", err)
	}
	return true, nil
}

func (s *Store) Paused(ctx context.Context) (bool, error) {
	var paused bool
	err := s.pool.QueryRow(ctx, `SELECT paused FROM bridge_meta WHERE id = 1`).Scan(&paused)
	if err != nil {
		return false, fmt.Errorf("ledger/postgres: paused: %w", err)
	}
	return paused, nil
}

func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE bridge_meta SET paused = $1 WHERE id = 1`, paused)
	if err != nil {
		return fmt.Errorf("ledger/postgres: set paused: %w", err)
	}
	return nil
}

func (s *Store) pageKeys(ctx context.Context, query string, from, count uint64) ([][32]byte, error) {
	if count == 0 || from > math.MaxInt64 {
		return [][32]byte{}, nil
	}
	if count > math.MaxInt64 {
		count = math.MaxInt64
	}

	rows, err := s.pool.Query(ctx, query, int64(from), int64(count))
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: page keys: %w", err)
	}
	defer rows.Close()

	out := [][32]byte{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("ledger/postgres: scan key: %w", err)
		}
		var k [32]byte
		copy(k[:], raw)
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger/postgres: iterate keys: %w", err)
	}
	return out, nil
}

func (s *Store) count(ctx context.Context, query string) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger/postgres: count: %w", err)
	}
	return uint64(n), nil
}
