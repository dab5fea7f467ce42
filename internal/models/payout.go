// internal/models/payout.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutAccount maps a ledger address to its external payout destination.
type PayoutAccount struct {
	BaseModel
	Address         string `json:"address" gorm:"size:42;not null;uniqueIndex"`
	StripeAccountID string `json:"stripe_account_id" gorm:"size:255;not null"`
}

type Payout struct {
	BaseModel
	Address       string          `json:"address" gorm:"size:42;not null;index"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(78,0);not null"`
	Executor      string          `json:"executor" gorm:"size:20;not null"`
	Destination   string          `json:"destination,omitempty" gorm:"size:255"`
	ExternalRef   string          `json:"external_ref,omitempty" gorm:"size:255"`
	Status        PayoutStatus    `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	FailureReason string          `json:"failure_reason,omitempty" gorm:"type:text"`
	CompletedAt   *time.Time      `json:"completed_at"`
}
