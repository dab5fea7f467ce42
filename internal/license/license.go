// Package license owns license records and their lifecycle. A license starts
// Active and can become Expired, Revoked, or both. Revocation is permanent.
package license

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/javajoker/imi-market/internal/store"
)

const (
	DefaultMaxMissedPayments = 3
	DefaultPenaltyRateBps    = 500
)

const (
	EventMinted         = "license.minted"
	EventExpired        = "license.expired"
	EventRevoked        = "license.revoked"
	EventPenaltyRateSet = "license.penalty_rate_set"
)

type RevokeCause string

const (
	CauseAdmin          RevokeCause = "admin"
	CauseDispute        RevokeCause = "dispute"
	CauseMissedPayments RevokeCause = "missed_payments"
)

type License struct {
	ID                uint64          `json:"id"`
	ParentAssetID     uint64          `json:"parent_asset_id"`
	Licensor          common.Address  `json:"licensor"`
	Supply            uint64          `json:"supply"`
	Price             decimal.Decimal `json:"price"`
	ExpiryTime        time.Time       `json:"expiry_time"`
	IsExclusive       bool            `json:"is_exclusive"`
	IsRevoked         bool            `json:"is_revoked"`
	IsExpired         bool            `json:"is_expired"`
	PaymentInterval   time.Duration   `json:"payment_interval"`
	MaxMissedPayments uint32          `json:"max_missed_payments"`
	PenaltyRateBps    uint32          `json:"penalty_rate_bps"`
	TermsURI          string          `json:"terms_uri,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	RevokedAt         time.Time       `json:"revoked_at,omitempty"`
	RevokeCause       RevokeCause     `json:"revoke_cause,omitempty"`
	ExpiredAt         time.Time       `json:"expired_at,omitempty"`
}

func (l License) Active() bool {
	return !l.IsRevoked && !l.IsExpired
}

func (l License) Perpetual() bool {
	return l.ExpiryTime.IsZero()
}

func (l License) Recurring() bool {
	return l.PaymentInterval > 0
}

// PastExpiry reports whether now is strictly after a finite expiry time.
func (l License) PastExpiry(now time.Time) bool {
	return !l.Perpetual() && now.After(l.ExpiryTime)
}

// MintParams are the terms chosen by the licensor at mint time. Zero
// MaxMissedPayments and PenaltyRateBps select the defaults.
type MintParams struct {
	ParentAssetID     uint64
	Supply            uint64
	Price             decimal.Decimal
	ExpiryTime        time.Time
	IsExclusive       bool
	PaymentInterval   time.Duration
	MaxMissedPayments uint32
	PenaltyRateBps    uint32
	TermsURI          string
}

func key(id uint64) string {
	return "license:" + strconv.FormatUint(id, 10)
}

type transition struct {
	LicenseID     uint64      `json:"license_id"`
	ParentAssetID uint64      `json:"parent_asset_id"`
	Cause         RevokeCause `json:"cause,omitempty"`
	At            time.Time   `json:"at"`
}

func emit(tx *store.Tx, typ string, l License, cause RevokeCause, at time.Time) {
	tx.Emit(store.Event{
		Type:       typ,
		Key:        key(l.ID),
		Payload:    transition{LicenseID: l.ID, ParentAssetID: l.ParentAssetID, Cause: cause, At: at},
		OccurredAt: at,
	})
}
