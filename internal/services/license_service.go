// internal/services/license_service.go
package services

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/engine"
	"github.com/javajoker/imi-market/internal/license"
	"github.com/javajoker/imi-market/internal/marketplace"
	"github.com/javajoker/imi-market/internal/scheduler"
	"github.com/javajoker/imi-market/internal/store"
	"github.com/javajoker/imi-market/internal/utils"
)

type LicenseService struct {
	eng *engine.Engine
}

type MintLicenseRequest struct {
	ParentAssetID          uint64     `json:"parent_asset_id" validate:"gt=0"`
	Supply                 uint64     `json:"supply" validate:"gt=0"`
	Price                  string     `json:"price" validate:"required,amount"`
	ExpiryTime             *time.Time `json:"expiry_time,omitempty"`
	IsExclusive            bool       `json:"is_exclusive"`
	PaymentIntervalSeconds int64      `json:"payment_interval_seconds" validate:"min=0"`
	MaxMissedPayments      uint32     `json:"max_missed_payments"`
	PenaltyRateBps         uint32     `json:"penalty_rate_bps" validate:"max=10000"`
	TermsURI               string     `json:"terms_uri,omitempty" validate:"max=2048"`
}

type BatchExpireRequest struct {
	IDs []uint64 `json:"ids" validate:"required,min=1,max=500"`
}

type RevokeMissedRequest struct {
	Observed uint64 `json:"observed_missed_payments" validate:"gt=0"`
}

type PenaltyRateRequest struct {
	Bps uint32 `json:"bps" validate:"max=10000"`
}

type PaymentRequest struct {
	Amount string `json:"amount" validate:"required,amount"`
}

// LicenseView is a license with its live status and payment schedule.
type LicenseView struct {
	license.License
	IsActive bool             `json:"is_active"`
	Schedule *scheduler.State `json:"schedule,omitempty"`
	Quote    *scheduler.Quote `json:"quote,omitempty"`
}

func NewLicenseService(eng *engine.Engine) *LicenseService {
	return &LicenseService{eng: eng}
}

func (s *LicenseService) Mint(p authz.Principal, req *MintLicenseRequest) (license.License, error) {
	const op = "license.mint"
	if err := utils.ValidateStruct(req); err != nil {
		return license.License{}, err
	}
	price, err := parseAmount(op, req.Price)
	if err != nil {
		return license.License{}, err
	}
	params := license.MintParams{
		ParentAssetID:     req.ParentAssetID,
		Supply:            req.Supply,
		Price:             price,
		IsExclusive:       req.IsExclusive,
		PaymentInterval:   time.Duration(req.PaymentIntervalSeconds) * time.Second,
		MaxMissedPayments: req.MaxMissedPayments,
		PenaltyRateBps:    req.PenaltyRateBps,
		TermsURI:          req.TermsURI,
	}
	if req.ExpiryTime != nil {
		params.ExpiryTime = req.ExpiryTime.UTC()
	}

	var lic license.License
	_, err = s.eng.Update(op, func(tx *store.Tx, now time.Time) error {
		var err error
		lic, err = s.eng.Licenses.Mint(tx, p.Address, params, now)
		return err
	})
	return lic, err
}

func (s *LicenseService) Get(id uint64) (*LicenseView, error) {
	var view *LicenseView
	err := s.eng.View(func(now time.Time) error {
		lic, err := s.eng.Licenses.Get(id)
		if err != nil {
			return err
		}
		view = &LicenseView{License: lic, IsActive: s.eng.Licenses.IsActiveAt(id, now)}
		if !lic.Recurring() {
			return nil
		}
		if st, err := s.eng.Scheduler.Get(id); err == nil {
			view.Schedule = &st
			if q, err := s.eng.Scheduler.Quote(id, now); err == nil {
				view.Quote = &q
			}
		}
		return nil
	})
	return view, err
}

func (s *LicenseService) MarkExpired(id uint64) error {
	_, err := s.eng.Update("license.mark_expired", func(tx *store.Tx, now time.Time) error {
		return s.eng.Licenses.MarkExpired(tx, id, now)
	})
	return err
}

// BatchMarkExpired returns the ids that were actually marked.
func (s *LicenseService) BatchMarkExpired(req *BatchExpireRequest) ([]uint64, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	var marked []uint64
	_, err := s.eng.Update("license.batch_mark_expired", func(tx *store.Tx, now time.Time) error {
		marked = s.eng.Licenses.BatchMarkExpired(tx, req.IDs, now)
		return nil
	})
	return marked, err
}

func (s *LicenseService) Revoke(p authz.Principal, id uint64) error {
	_, err := s.eng.Update("license.revoke", func(tx *store.Tx, now time.Time) error {
		return s.eng.Licenses.Revoke(tx, p, id, now)
	})
	return err
}

func (s *LicenseService) RevokeForMissedPayments(id uint64, req *RevokeMissedRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return err
	}
	_, err := s.eng.Update("license.revoke_for_missed_payments", func(tx *store.Tx, now time.Time) error {
		return s.eng.Licenses.RevokeForMissedPayments(tx, id, req.Observed, now)
	})
	return err
}

func (s *LicenseService) SetPenaltyRate(p authz.Principal, id uint64, req *PenaltyRateRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return err
	}
	_, err := s.eng.Update("license.set_penalty_rate", func(tx *store.Tx, now time.Time) error {
		return s.eng.Licenses.SetPenaltyRate(tx, p.Address, id, req.Bps, now)
	})
	return err
}

// PaymentQuote reports whether a payment is due and what it would cost now.
func (s *LicenseService) PaymentQuote(id uint64) (scheduler.Quote, error) {
	var q scheduler.Quote
	err := s.eng.View(func(now time.Time) error {
		var err error
		q, err = s.eng.Scheduler.Quote(id, now)
		return err
	})
	return q, err
}

func (s *LicenseService) MakeRecurringPayment(p authz.Principal, id uint64, req *PaymentRequest) (marketplace.Settlement, error) {
	const op = "market.make_recurring_payment"
	if err := utils.ValidateStruct(req); err != nil {
		return marketplace.Settlement{}, err
	}
	amt, err := parseAmount(op, req.Amount)
	if err != nil {
		return marketplace.Settlement{}, err
	}
	var settlement marketplace.Settlement
	_, err = s.eng.Update(op, func(tx *store.Tx, now time.Time) error {
		var err error
		settlement, err = s.eng.Market.MakeRecurringPayment(tx, p.Address, id, amt, now)
		return err
	})
	return settlement, err
}

// RecordMissedPayments persists the live missed count and returns it.
func (s *LicenseService) RecordMissedPayments(id uint64) (uint64, error) {
	var missed uint64
	_, err := s.eng.Update("scheduler.record_missed_payments", func(tx *store.Tx, now time.Time) error {
		var err error
		missed, err = s.eng.Scheduler.RecordMissedPayments(tx, id, now)
		return err
	})
	return missed, err
}

func (s *LicenseService) UnitsHeld(id uint64, holder common.Address) (uint64, error) {
	var units uint64
	err := s.eng.View(func(time.Time) error {
		if _, err := s.eng.Licenses.Get(id); err != nil {
			return apperr.Wrap("license.units_held", err)
		}
		units = s.eng.Assets.HolderBalance(id, holder)
		return nil
	})
	return units, err
}
