package marketplace

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/javajoker/imi-market/internal/ledger"
)

type AssetKind string

const (
	// KindUnique is a parent IP asset with a single owner.
	KindUnique AssetKind = "unique"
	// KindUnits is a quantity of fungible units of one license.
	KindUnits AssetKind = "license_units"
)

// AssetRef names what is being traded. For KindUnique, ID is the asset id and
// Units is 1. For KindUnits, ID is the license id.
type AssetRef struct {
	Kind  AssetKind `json:"kind"`
	ID    uint64    `json:"id"`
	Units uint64    `json:"units"`
}

type assetKey struct {
	Kind AssetKind `json:"kind"`
	ID   uint64    `json:"id"`
}

func (r AssetRef) key() assetKey {
	return assetKey{Kind: r.Kind, ID: r.ID}
}

type SaleKind string

const (
	SalePrimary   SaleKind = "primary"
	SaleSecondary SaleKind = "secondary"
)

type Source string

const (
	SourceListing   Source = "listing"
	SourceOffer     Source = "offer"
	SourceRecurring Source = "recurring"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusSold      Status = "sold"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
)

type Listing struct {
	ID        common.Hash     `json:"id"`
	Seller    common.Address  `json:"seller"`
	Asset     AssetRef        `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
	Status    Status          `json:"status"`
	Buyer     common.Address  `json:"buyer,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ClosedAt  time.Time       `json:"closed_at,omitempty"`
}

type Offer struct {
	ID         uint64          `json:"id"`
	Buyer      common.Address  `json:"buyer"`
	Asset      AssetRef        `json:"asset"`
	Escrowed   decimal.Decimal `json:"escrowed"`
	ExpiryTime time.Time       `json:"expiry_time"`
	Active     bool            `json:"active"`
	Status     Status          `json:"status"`
	Seller     common.Address  `json:"seller,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ClosedAt   time.Time       `json:"closed_at,omitempty"`
}

func (o Offer) Expired(now time.Time) bool {
	return now.After(o.ExpiryTime)
}

// Settlement is the auditable record of one payment that reached the ledger.
// Kind is decided by the orchestrator and stored, never inferred later.
type Settlement struct {
	Source               Source              `json:"source"`
	ListingID            common.Hash         `json:"listing_id,omitempty"`
	OfferID              uint64              `json:"offer_id,omitempty"`
	LicenseID            uint64              `json:"license_id,omitempty"`
	Asset                AssetRef            `json:"asset"`
	RoyaltyAssetID       uint64              `json:"royalty_asset_id"`
	Seller               common.Address      `json:"seller"`
	Buyer                common.Address      `json:"buyer"`
	Price                decimal.Decimal     `json:"price"`
	Kind                 SaleKind            `json:"kind"`
	ClassificationReason string              `json:"classification_reason"`
	Distribution         ledger.Distribution `json:"distribution"`
	SettledAt            time.Time           `json:"settled_at"`
}
