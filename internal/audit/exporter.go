// Package audit exports bridge records to durable off-chain retention. The
// exporter pages through the ledger's digests, skips snapshots that already
// exist, and is therefore safe to run repeatedly or resume after a crash.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spanbridge/spanbridge/internal/auditstore"
	"github.com/spanbridge/spanbridge/internal/events"
	"github.com/spanbridge/spanbridge/internal/ledger"
)

const defaultPageSize = 256

// Source is the read side of the ledger the exporter walks.
type Source interface {
	DepositKeys(ctx context.Context, from, count uint64) ([][32]byte, error)
	DepositByKey(ctx context.Context, key [32]byte) (ledger.DepositRecord, error)
	WithdrawKeys(ctx context.Context, from, count uint64) ([][32]byte, error)
	WithdrawByKey(ctx context.Context, key [32]byte) (ledger.WithdrawRecord, error)
}

type Exporter struct {
	source   Source
	store    auditstore.Store
	pageSize uint64
	log      *slog.Logger
}

func NewExporter(source Source, store auditstore.Store, pageSize uint64, log *slog.Logger) (*Exporter, error) {
	if source == nil || store == nil {
		return nil, fmt.Errorf("audit: nil source or store")
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Exporter{source: source, store: store, pageSize: pageSize, log: log}, nil
}

// Stats counts one export run.
type Stats struct {
	Deposits    int
	Withdrawals int
	Skipped     int
}

// Run exports every record not yet retained. Records already present keep
// their original snapshot; deposits and withdrawals are immutable so there is
// never anything to overwrite.
func (e *Exporter) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	err := e.walk(ctx, e.source.DepositKeys, func(ctx context.Context, key [32]byte) error {
		written, err := e.exportDeposit(ctx, key)
		if err != nil {
			return err
		}
		if written {
			stats.Deposits++
		} else {
			stats.Skipped++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	err = e.walk(ctx, e.source.WithdrawKeys, func(ctx context.Context, key [32]byte) error {
		written, err := e.exportWithdraw(ctx, key)
		if err != nil {
			return err
		}
		if written {
			stats.Withdrawals++
		} else {
			stats.Skipped++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	e.log.Info("export finished", "deposits", stats.Deposits, "withdrawals", stats.Withdrawals, "skipped", stats.Skipped)
	return stats, nil
}

func (e *Exporter) walk(ctx context.Context,
	page func(ctx context.Context, from, count uint64) ([][32]byte, error),
	visit func(ctx context.Context, key [32]byte) error) error {

	for from := uint64(0); ; from += e.pageSize {
		keys, err := page(ctx, from, e.pageSize)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := visit(ctx, key); err != nil {
				return err
			}
		}
	}
}

// depositSnapshot is the retained JSON form of a deposit record.
type depositSnapshot struct {
	DepositKey   string `json:"depositKey"`
	DestChainKey uint64 `json:"destChainKey"`
	DestAsset    string `json:"destAsset"`
	DestAccount  string `json:"destAccount"`
	Payer        string `json:"payer"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	Seq          uint64 `json:"seq"`
}

type withdrawSnapshot struct {
	WithdrawKey string `json:"withdrawKey"`
	SrcChainKey uint64 `json:"srcChainKey"`
	Asset       string `json:"asset"`
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	Nonce       uint64 `json:"nonce"`
}

func (e *Exporter) exportDeposit(ctx context.Context, key [32]byte) (bool, error) {
	storeKey := DepositKey(key)
	ok, err := e.store.Exists(ctx, storeKey)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	rec, err := e.source.DepositByKey(ctx, key)
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(depositSnapshot{
		DepositKey:   events.HexKey(key),
		DestChainKey: rec.DestChainKey,
		DestAsset:    events.HexBytes(rec.DestAsset),
		DestAccount:  events.HexBytes(rec.DestAccount),
		Payer:        rec.Payer.Hex(),
		Asset:        rec.Asset.Hex(),
		Amount:       rec.Amount.String(),
		Seq:          rec.Seq,
	})
	if err != nil {
		return false, fmt.Errorf("audit: marshal deposit %x: %w", key, err)
	}
	if err := e.store.Put(ctx, storeKey, payload); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Exporter) exportWithdraw(ctx context.Context, key [32]byte) (bool, error) {
	storeKey := WithdrawKey(key)
	ok, err := e.store.Exists(ctx, storeKey)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	rec, err := e.source.WithdrawByKey(ctx, key)
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(withdrawSnapshot{
		WithdrawKey: events.HexKey(key),
		SrcChainKey: rec.SrcChainKey,
		Asset:       rec.Asset.Hex(),
		Recipient:   rec.To.Hex(),
		Amount:      rec.Amount.String(),
		Nonce:       rec.Nonce,
	})
	if err != nil {
		return false, fmt.Errorf("audit: marshal withdrawal %x: %w", key, err)
	}
	if err := e.store.Put(ctx, storeKey, payload); err != nil {
		return false, err
	}
	return true, nil
}

// DepositKey is the retention key for a deposit digest.
func DepositKey(key [32]byte) string { return "deposits/" + events.HexKey(key) + ".json" }

// WithdrawKey is the retention key for a withdrawal digest.
func WithdrawKey(key [32]byte) string { return "withdrawals/" + events.HexKey(key) + ".json" }
