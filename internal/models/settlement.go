// internal/models/settlement.go
package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type SettlementRecord struct {
	BaseModel
	Source               string          `json:"source" gorm:"type:varchar(20);not null;index"`
	ListingID            string          `json:"listing_id,omitempty" gorm:"size:66;index"`
	OfferID              uint64          `json:"offer_id,omitempty" gorm:"index"`
	LicenseID            uint64          `json:"license_id,omitempty" gorm:"index"`
	AssetKind            string          `json:"asset_kind" gorm:"type:varchar(20);not null"`
	AssetID              uint64          `json:"asset_id" gorm:"not null"`
	Units                uint64          `json:"units"`
	RoyaltyAssetID       uint64          `json:"royalty_asset_id" gorm:"not null;index"`
	Seller               string          `json:"seller" gorm:"size:42;not null;index"`
	Buyer                string          `json:"buyer" gorm:"size:42;not null;index"`
	Price                decimal.Decimal `json:"price" gorm:"type:numeric(78,0);not null"`
	PlatformFee          decimal.Decimal `json:"platform_fee" gorm:"type:numeric(78,0);not null"`
	Royalty              decimal.Decimal `json:"royalty" gorm:"type:numeric(78,0);not null"`
	SellerProceeds       decimal.Decimal `json:"seller_proceeds" gorm:"type:numeric(78,0);not null"`
	SaleKind             string          `json:"sale_kind" gorm:"type:varchar(20);not null;index"`
	ClassificationReason string          `json:"classification_reason" gorm:"type:text"`
	RoyaltyRecipients    pq.StringArray  `json:"royalty_recipients" gorm:"type:text[]"`
	RoyaltyAmounts       pq.StringArray  `json:"royalty_amounts" gorm:"type:text[]"`
	SettledAt            time.Time       `json:"settled_at" gorm:"not null;index"`
}
