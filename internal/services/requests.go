// internal/services/requests.go
package services

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/javajoker/imi-market/internal/amount"
	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/marketplace"
)

// ParseID reads a positive numeric path parameter.
func ParseID(op, raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation(op, "invalid id %q", raw)
	}
	return id, nil
}

func ParseAddress(op, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, apperr.Validation(op, "invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func ParseHash(op, raw string) (common.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, apperr.Validation(op, "invalid listing id %q", raw)
	}
	return common.BytesToHash(b), nil
}

func parseAmount(op, raw string) (decimal.Decimal, error) {
	v, err := amount.Parse(raw)
	if err != nil {
		return decimal.Zero, apperr.Validation(op, "%v", err)
	}
	return v, nil
}

func parseAddresses(op string, raw []string) ([]common.Address, error) {
	out := make([]common.Address, len(raw))
	for i, r := range raw {
		a, err := ParseAddress(op, r)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// AssetRequest names the item being listed or bid on.
type AssetRequest struct {
	AssetKind string `json:"asset_kind" form:"asset_kind" validate:"required,oneof=unique license_units"`
	AssetID   uint64 `json:"asset_id" form:"asset_id" validate:"gt=0"`
	Units     uint64 `json:"units,omitempty" form:"units"`
}

func (r AssetRequest) Ref() marketplace.AssetRef {
	return marketplace.AssetRef{Kind: marketplace.AssetKind(r.AssetKind), ID: r.AssetID, Units: r.Units}
}
