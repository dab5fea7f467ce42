// Package assets is the in-process custody collaborator: it records who owns
// each parent IP asset and how many units of each license an address holds,
// and moves them between addresses.
package assets

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/store"
)

const (
	EventAssetRegistered  = "asset.registered"
	EventAssetTransferred = "asset.transferred"
	EventUnitsMinted      = "units.minted"
	EventUnitsTransferred = "units.transferred"
)

type Asset struct {
	ID          uint64         `json:"id"`
	Creator     common.Address `json:"creator"`
	Owner       common.Address `json:"owner"`
	MetadataURI string         `json:"metadata_uri,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type holding struct {
	LicenseID uint64         `json:"license_id"`
	Holder    common.Address `json:"holder"`
}

type Transfer struct {
	ID    uint64         `json:"id"`
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Units uint64         `json:"units,omitempty"`
}

type Custody struct {
	assets   *store.Table[uint64, Asset]
	ids      store.Sequence
	holdings *store.Table[holding, uint64]
	minted   *store.Table[uint64, uint64]
}

func NewCustody() *Custody {
	return &Custody{
		assets:   store.NewTable[uint64, Asset](),
		holdings: store.NewTable[holding, uint64](),
		minted:   store.NewTable[uint64, uint64](),
	}
}

func assetKey(id uint64) string {
	return "asset:" + strconv.FormatUint(id, 10)
}

// Register creates a parent asset owned by its creator.
func (c *Custody) Register(tx *store.Tx, creator common.Address, metadataURI string, now time.Time) (Asset, error) {
	if creator == (common.Address{}) {
		return Asset{}, apperr.Validation("assets.register", "creator is the zero address")
	}
	a := Asset{
		ID:          c.ids.Next(tx),
		Creator:     creator,
		Owner:       creator,
		MetadataURI: metadataURI,
		CreatedAt:   now,
	}
	c.assets.Put(tx, a.ID, a)
	tx.Emit(store.Event{Type: EventAssetRegistered, Key: assetKey(a.ID), Payload: a, OccurredAt: now})
	return a, nil
}

func (c *Custody) Get(id uint64) (Asset, error) {
	a, ok := c.assets.Get(id)
	if !ok {
		return Asset{}, apperr.NotFound("assets.get", "asset %d does not exist", id)
	}
	return a, nil
}

func (c *Custody) AssetExists(id uint64) bool {
	return c.assets.Has(id)
}

func (c *Custody) OwnerOf(id uint64) (common.Address, error) {
	a, err := c.Get(id)
	if err != nil {
		return common.Address{}, err
	}
	return a.Owner, nil
}

func (c *Custody) CreatorOf(id uint64) (common.Address, error) {
	a, err := c.Get(id)
	if err != nil {
		return common.Address{}, err
	}
	return a.Creator, nil
}

func (c *Custody) TransferAsset(tx *store.Tx, from, to common.Address, id uint64) error {
	const op = "assets.transfer"
	a, err := c.Get(id)
	if err != nil {
		return err
	}
	if a.Owner != from {
		return apperr.Authorization(op, "%s does not own asset %d", from.Hex(), id)
	}
	if to == (common.Address{}) {
		return apperr.Validation(op, "recipient is the zero address")
	}
	a.Owner = to
	c.assets.Put(tx, id, a)
	tx.Emit(store.Event{Type: EventAssetTransferred, Key: assetKey(id), Payload: Transfer{ID: id, From: from, To: to}})
	return nil
}

// MintUnits issues the full supply of a new license. A license is minted once.
func (c *Custody) MintUnits(tx *store.Tx, licenseID uint64, to common.Address, units uint64) error {
	const op = "assets.mint_units"
	if c.minted.Has(licenseID) {
		return apperr.State(op, "license %d units are already minted", licenseID)
	}
	if to == (common.Address{}) || units == 0 {
		return apperr.Validation(op, "mint needs a recipient and a positive amount")
	}
	c.minted.Put(tx, licenseID, units)
	c.holdings.Put(tx, holding{licenseID, to}, units)
	tx.Emit(store.Event{
		Type:    EventUnitsMinted,
		Key:     "license:" + strconv.FormatUint(licenseID, 10),
		Payload: Transfer{ID: licenseID, To: to, Units: units},
	})
	return nil
}

func (c *Custody) HolderBalance(licenseID uint64, holder common.Address) uint64 {
	n, _ := c.holdings.Get(holding{licenseID, holder})
	return n
}

func (c *Custody) TransferUnits(tx *store.Tx, licenseID uint64, from, to common.Address, units uint64) error {
	const op = "assets.transfer_units"
	if units == 0 {
		return apperr.Validation(op, "transfer of zero units")
	}
	if to == (common.Address{}) {
		return apperr.Validation(op, "recipient is the zero address")
	}
	have := c.HolderBalance(licenseID, from)
	if have < units {
		return apperr.InsufficientFunds(op, "%s holds %d units of license %d, needs %d", from.Hex(), have, licenseID, units)
	}
	c.holdings.Put(tx, holding{licenseID, from}, have-units)
	c.holdings.Put(tx, holding{licenseID, to}, c.HolderBalance(licenseID, to)+units)
	tx.Emit(store.Event{
		Type:    EventUnitsTransferred,
		Key:     "license:" + strconv.FormatUint(licenseID, 10),
		Payload: Transfer{ID: licenseID, From: from, To: to, Units: units},
	})
	return nil
}

type State struct {
	Assets   []store.Entry[uint64, Asset]   `json:"assets"`
	LastID   uint64                         `json:"last_id"`
	Holdings []store.Entry[holding, uint64] `json:"holdings"`
	Minted   []store.Entry[uint64, uint64]  `json:"minted"`
}

func (c *Custody) Export() State {
	return State{
		Assets:   c.assets.Entries(),
		LastID:   c.ids.Last(),
		Holdings: c.holdings.Entries(),
		Minted:   c.minted.Entries(),
	}
}

func (c *Custody) Import(s State) {
	c.assets.Load(s.Assets)
	c.ids.Load(s.LastID)
	c.holdings.Load(s.Holdings)
	c.minted.Load(s.Minted)
}
