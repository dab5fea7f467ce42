// internal/services/market_service.go
package services

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/engine"
	"github.com/javajoker/imi-market/internal/marketplace"
	"github.com/javajoker/imi-market/internal/store"
	"github.com/javajoker/imi-market/internal/utils"
)

type MarketService struct {
	eng *engine.Engine
}

type CreateListingRequest struct {
	AssetRequest
	Price string `json:"price" validate:"required,amount"`
}

type BuyListingRequest struct {
	Payment string `json:"payment" validate:"required,amount"`
}

type CreateOfferRequest struct {
	AssetRequest
	Amount    string    `json:"amount" validate:"required,amount"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

type MarketStatus struct {
	Paused   bool            `json:"paused"`
	Escrowed decimal.Decimal `json:"escrowed"`
}

func NewMarketService(eng *engine.Engine) *MarketService {
	return &MarketService{eng: eng}
}

func (s *MarketService) CreateListing(p authz.Principal, req *CreateListingRequest) (marketplace.Listing, error) {
	const op = "market.create_listing"
	if err := utils.ValidateStruct(req); err != nil {
		return marketplace.Listing{}, err
	}
	price, err := parseAmount(op, req.Price)
	if err != nil {
		return marketplace.Listing{}, err
	}
	var listing marketplace.Listing
	_, err = s.eng.Update(op, func(tx *store.Tx, now time.Time) error {
		var err error
		listing, err = s.eng.Market.CreateListing(tx, p.Address, req.Ref(), price, now)
		return err
	})
	return listing, err
}

func (s *MarketService) GetListing(id common.Hash) (marketplace.Listing, error) {
	var listing marketplace.Listing
	err := s.eng.View(func(time.Time) error {
		var err error
		listing, err = s.eng.Market.GetListing(id)
		return err
	})
	return listing, err
}

func (s *MarketService) CancelListing(p authz.Principal, id common.Hash) error {
	_, err := s.eng.Update("market.cancel_listing", func(tx *store.Tx, now time.Time) error {
		return s.eng.Market.CancelListing(tx, p.Address, id, now)
	})
	return err
}

func (s *MarketService) BuyListing(p authz.Principal, id common.Hash, req *BuyListingRequest) (marketplace.Settlement, error) {
	const op = "market.buy_listing"
	if err := utils.ValidateStruct(req); err != nil {
		return marketplace.Settlement{}, err
	}
	payment, err := parseAmount(op, req.Payment)
	if err != nil {
		return marketplace.Settlement{}, err
	}
	var settlement marketplace.Settlement
	_, err = s.eng.Update(op, func(tx *store.Tx, now time.Time) error {
		var err error
		settlement, err = s.eng.Market.BuyListing(tx, p.Address, id, payment, now)
		return err
	})
	return settlement, err
}

// CreateOffer escrows the offered amount until the offer is accepted or
// cancelled.
func (s *MarketService) CreateOffer(p authz.Principal, req *CreateOfferRequest) (marketplace.Offer, error) {
	const op = "market.create_offer"
	if err := utils.ValidateStruct(req); err != nil {
		return marketplace.Offer{}, err
	}
	amt, err := parseAmount(op, req.Amount)
	if err != nil {
		return marketplace.Offer{}, err
	}
	var offer marketplace.Offer
	_, err = s.eng.Update(op, func(tx *store.Tx, now time.Time) error {
		var err error
		offer, err = s.eng.Market.CreateOffer(tx, p.Address, req.Ref(), amt, req.ExpiresAt.UTC(), now)
		return err
	})
	return offer, err
}

func (s *MarketService) GetOffer(id uint64) (marketplace.Offer, error) {
	var offer marketplace.Offer
	err := s.eng.View(func(time.Time) error {
		var err error
		offer, err = s.eng.Market.GetOffer(id)
		return err
	})
	return offer, err
}

func (s *MarketService) OffersFor(req *AssetRequest) ([]marketplace.Offer, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	var offers []marketplace.Offer
	s.eng.View(func(time.Time) error {
		offers = s.eng.Market.OffersFor(req.Ref())
		return nil
	})
	return offers, nil
}

func (s *MarketService) CancelOffer(p authz.Principal, id uint64) (marketplace.Offer, error) {
	var offer marketplace.Offer
	_, err := s.eng.Update("market.cancel_offer", func(tx *store.Tx, now time.Time) error {
		var err error
		offer, err = s.eng.Market.CancelOffer(tx, p.Address, id, now)
		return err
	})
	return offer, err
}

func (s *MarketService) AcceptOffer(p authz.Principal, id uint64) (marketplace.Settlement, error) {
	var settlement marketplace.Settlement
	_, err := s.eng.Update("market.accept_offer", func(tx *store.Tx, now time.Time) error {
		var err error
		settlement, err = s.eng.Market.AcceptOffer(tx, p.Address, id, now)
		return err
	})
	return settlement, err
}

func (s *MarketService) Pause(p authz.Principal) error {
	_, err := s.eng.Update("market.pause", func(tx *store.Tx, now time.Time) error {
		return s.eng.Market.Pause(tx, p, now)
	})
	return err
}

func (s *MarketService) Unpause(p authz.Principal) error {
	_, err := s.eng.Update("market.unpause", func(tx *store.Tx, now time.Time) error {
		return s.eng.Market.Unpause(tx, p, now)
	})
	return err
}

func (s *MarketService) Status() MarketStatus {
	var st MarketStatus
	s.eng.View(func(time.Time) error {
		st = MarketStatus{Paused: s.eng.Market.Paused(), Escrowed: s.eng.Market.Escrowed()}
		return nil
	})
	return st
}
