// Package authz models the caller of a core operation. Capabilities are
// granted per call through a Principal rather than held in global role state.
package authz

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/javajoker/imi-market/internal/apperr"
)

type Capability string

const (
	CapAdmin      Capability = "admin"
	CapArbitrator Capability = "arbitrator"
)

func (c Capability) Valid() bool {
	return c == CapAdmin || c == CapArbitrator
}

type Principal struct {
	Address      common.Address `json:"address"`
	Capabilities []Capability   `json:"capabilities,omitempty"`
}

func NewPrincipal(addr common.Address, caps ...Capability) Principal {
	return Principal{Address: addr, Capabilities: caps}
}

func (p Principal) Has(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Require returns an authorization error for op unless p holds c.
func (p Principal) Require(op string, c Capability) error {
	if !p.Has(c) {
		return apperr.Authorization(op, "%s lacks the %s capability", p.Address.Hex(), c)
	}
	return nil
}

// IsZero reports whether the principal carries no identity.
func (p Principal) IsZero() bool {
	return p.Address == (common.Address{})
}
