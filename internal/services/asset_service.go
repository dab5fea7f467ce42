// internal/services/asset_service.go
package services

import (
	"time"

	"github.com/javajoker/imi-market/internal/assets"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/engine"
	"github.com/javajoker/imi-market/internal/ledger"
	"github.com/javajoker/imi-market/internal/license"
	"github.com/javajoker/imi-market/internal/store"
	"github.com/javajoker/imi-market/internal/utils"
)

type AssetService struct {
	eng *engine.Engine
}

type RegisterAssetRequest struct {
	MetadataURI string `json:"metadata_uri" validate:"max=2048"`
}

// AssetView is a parent asset with its licensing and revenue configuration.
type AssetView struct {
	assets.Asset
	ActiveLicenses   uint64            `json:"active_licenses"`
	RoyaltyBps       uint32            `json:"royalty_bps"`
	Split            *ledger.Split     `json:"split,omitempty"`
	HasActiveDispute bool              `json:"has_active_dispute"`
	Licenses         []license.License `json:"licenses"`
}

func NewAssetService(eng *engine.Engine) *AssetService {
	return &AssetService{eng: eng}
}

// Register records a new parent asset created and owned by the caller.
func (s *AssetService) Register(p authz.Principal, req *RegisterAssetRequest) (assets.Asset, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return assets.Asset{}, err
	}

	var asset assets.Asset
	_, err := s.eng.Update("asset.register", func(tx *store.Tx, now time.Time) error {
		var err error
		asset, err = s.eng.Assets.Register(tx, p.Address, req.MetadataURI, now)
		return err
	})
	return asset, err
}

func (s *AssetService) Get(id uint64) (*AssetView, error) {
	var view *AssetView
	err := s.eng.View(func(time.Time) error {
		asset, err := s.eng.Assets.Get(id)
		if err != nil {
			return err
		}
		view = &AssetView{
			Asset:            asset,
			ActiveLicenses:   s.eng.Licenses.ActiveLicenseCount(id),
			RoyaltyBps:       s.eng.Ledger.RoyaltyBps(id),
			HasActiveDispute: s.eng.Disputes.HasActiveDispute(id),
			Licenses:         s.eng.Licenses.Licenses(id),
		}
		if split, ok := s.eng.Ledger.GetSplit(id); ok {
			view.Split = &split
		}
		return nil
	})
	return view, err
}
