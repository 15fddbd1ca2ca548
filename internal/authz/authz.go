// Package authz provides the capability policy gating privileged bridge
// operations. Components hold an Authority and check the calling account
// against a named capability before acting; there are no ambient roles.
package authz

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNotAuthorized = errors.New("authz: not authorized")

type Capability string

const (
	CapDeposit  Capability = "bridge.deposit"
	CapApprove  Capability = "bridge.approve"
	CapCancel   Capability = "bridge.cancel"
	CapReenable Capability = "bridge.reenable"
	CapAdmin    Capability = "bridge.admin"
	CapSettle   Capability = "settlement.invoke"
)

// Authority answers whether a caller holds a capability.
type Authority interface {
	Require(caller common.Address, cap Capability) error
}

// Policy is an in-memory grant table. The zero value is unusable; use NewPolicy.
type Policy struct {
	mu     sync.RWMutex
	grants map[common.Address]map[Capability]struct{}
}

func NewPolicy() *Policy {
	return &Policy{grants: make(map[common.Address]map[Capability]struct{})}
}

func (p *Policy) Grant(caller common.Address, caps ...Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.grants[caller]
	if !ok {
		set = make(map[Capability]struct{}, len(caps))
		p.grants[caller] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
}

func (p *Policy) Revoke(caller common.Address, caps ...Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.grants[caller]
	if !ok {
		return
	}
	for _, c := range caps {
		delete(set, c)
	}
	if len(set) == 0 {
		delete(p.grants, caller)
	}
}

func (p *Policy) Require(caller common.Address, cap Capability) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if set, ok := p.grants[caller]; ok {
		if _, ok := set[cap]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks %s", ErrNotAuthorized, caller.Hex(), cap)
}
