// Package events defines the bridge's outbound notifications. Payloads are
// versioned JSON records; the queue emitter publishes each one to the topic
// named by its version string, keyed by the record digest so downstream
// consumers get per-record ordering.
package events

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
)

const (
	TopicDeposit           = "bridge.deposit.v1"
	TopicWithdrawApproved  = "bridge.withdraw-approved.v1"
	TopicWithdrawCancelled = "bridge.withdraw-cancelled.v1"
	TopicWithdrawReenabled = "bridge.withdraw-reenabled.v1"
	TopicWithdraw          = "bridge.withdraw.v1"
	TopicFeeSettled        = "bridge.fee-settled.v1"
)

// Event is any payload the bridge can emit.
type Event interface {
	EventTopic() string
	EventKey() string
}

// DepositEvent notifies that value left this chain. DestAsset is the resolved
// remote representation from the asset registry.
type DepositEvent struct {
	Version      string `json:"version"`
	DepositKey   string `json:"depositKey"`
	DestChainKey uint64 `json:"destChainKey"`
	DestAsset    string `json:"destAsset"`
	DestAccount  string `json:"destAccount"`
	Asset        string `json:"asset"`
	Payer        string `json:"payer"`
	Amount       string `json:"amount"`
	Seq          uint64 `json:"seq"`
}

func (e DepositEvent) EventTopic() string { return TopicDeposit }
func (e DepositEvent) EventKey() string   { return e.DepositKey }

// ApprovalEvent covers approve, cancel, and reenable; the topic in Version
// distinguishes them.
type ApprovalEvent struct {
	Version          string `json:"version"`
	WithdrawKey      string `json:"withdrawKey"`
	SrcChainKey      uint64 `json:"srcChainKey"`
	Asset            string `json:"asset"`
	Recipient        string `json:"recipient"`
	Amount           string `json:"amount"`
	Nonce            uint64 `json:"nonce"`
	Fee              string `json:"fee"`
	FeeRecipient     string `json:"feeRecipient"`
	DeductFromAmount bool   `json:"deductFromAmount"`
}

func (e ApprovalEvent) EventTopic() string { return e.Version }
func (e ApprovalEvent) EventKey() string   { return e.WithdrawKey }

// WithdrawEvent notifies that an approved withdrawal executed.
type WithdrawEvent struct {
	Version     string `json:"version"`
	WithdrawKey string `json:"withdrawKey"`
	SrcChainKey uint64 `json:"srcChainKey"`
	Asset       string `json:"asset"`
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	Nonce       uint64 `json:"nonce"`
}

func (e WithdrawEvent) EventTopic() string { return TopicWithdraw }
func (e WithdrawEvent) EventKey() string   { return e.WithdrawKey }

// FeeSettledEvent records where the fee for an executed withdrawal went.
type FeeSettledEvent struct {
	Version      string `json:"version"`
	WithdrawKey  string `json:"withdrawKey"`
	FeeRecipient string `json:"feeRecipient"`
	Fee          string `json:"fee"`
	// DeductedFromAmount is true when the fee was taken out of the withdrawn
	// proceeds by the router rather than paid alongside the call.
	DeductedFromAmount bool `json:"deductedFromAmount"`
}

func (e FeeSettledEvent) EventTopic() string { return TopicFeeSettled }
func (e FeeSettledEvent) EventKey() string   { return e.WithdrawKey }

// Emitter delivers bridge notifications.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// MemoryEmitter records events for tests and for deployments without a queue.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEmitter() *MemoryEmitter { return &MemoryEmitter{} }

func (m *MemoryEmitter) Emit(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryEmitter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// ByTopic filters recorded events.
func (m *MemoryEmitter) ByTopic(topic string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.EventTopic() == topic {
			out = append(out, ev)
		}
	}
	return out
}

// HexKey renders a 32-byte digest the way every payload field carries it.
func HexKey(key [32]byte) string { return "0x" + hex.EncodeToString(key[:]) }

// HexBytes renders an opaque byte field.
func HexBytes(b []byte) string { return "0x" + hex.EncodeToString(b) }

func checkTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("events: empty topic")
	}
	return nil
}
