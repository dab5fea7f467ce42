// internal/config/marketplace.go
package config

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/javajoker/imi-market/internal/engine"
	"github.com/javajoker/imi-market/internal/ledger"
)

// EngineConfig converts the validated marketplace settings into the engine's
// configuration. The ledger address defaults to the treasury.
func (m MarketplaceConfig) EngineConfig() engine.Config {
	treasury := common.HexToAddress(m.TreasuryAddress)
	addr := treasury
	if m.LedgerAddress != "" {
		addr = common.HexToAddress(m.LedgerAddress)
	}
	return engine.Config{
		Ledger: ledger.Config{
			Address:           addr,
			Treasury:          treasury,
			PlatformFeeBps:    uint32(m.PlatformFeeBps),
			DefaultRoyaltyBps: uint32(m.DefaultRoyaltyBps),
		},
		DisputeAutoExecute: m.DisputeAutoExecute,
	}
}
