// Package marketplace turns listings, offers and recurring license payments
// into settled sales. Each settlement makes exactly one ledger distribution and
// moves the traded asset only after every internal state change is done.
package marketplace

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"github.com/javajoker/imi-market/internal/amount"
	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/ledger"
	"github.com/javajoker/imi-market/internal/license"
	"github.com/javajoker/imi-market/internal/scheduler"
	"github.com/javajoker/imi-market/internal/store"
)

const (
	EventListingCreated   = "listing.created"
	EventListingCancelled = "listing.cancelled"
	EventListingSold      = "listing.sold"
	EventOfferCreated     = "offer.created"
	EventOfferCancelled   = "offer.cancelled"
	EventOfferAccepted    = "offer.accepted"
	EventRecurringSettled = "payment.settled"
	EventPaused           = "market.paused"
	EventUnpaused         = "market.unpaused"
)

type Custody interface {
	AssetExists(assetID uint64) bool
	OwnerOf(assetID uint64) (common.Address, error)
	CreatorOf(assetID uint64) (common.Address, error)
	HolderBalance(licenseID uint64, holder common.Address) uint64
	TransferAsset(tx *store.Tx, from, to common.Address, assetID uint64) error
	TransferUnits(tx *store.Tx, licenseID uint64, from, to common.Address, units uint64) error
}

type Licenses interface {
	Get(id uint64) (license.License, error)
}

type Ledger interface {
	Distribute(tx *store.Tx, p ledger.Payment) (ledger.Distribution, error)
	Credit(tx *store.Tx, account common.Address, amt decimal.Decimal, reason string) error
	Debit(tx *store.Tx, account common.Address, amt decimal.Decimal, reason string) error
}

type Schedule interface {
	Enroll(tx *store.Tx, licenseID uint64, holder common.Address, now time.Time) (scheduler.State, error)
	MakePayment(tx *store.Tx, payer common.Address, licenseID uint64, amountSent decimal.Decimal, now time.Time) (scheduler.Charge, error)
}

type Orchestrator struct {
	listings     *store.Table[common.Hash, Listing]
	offers       *store.Table[uint64, Offer]
	offerIDs     store.Sequence
	offersByItem *store.Table[assetKey, []uint64]
	escrow       *store.Value[decimal.Decimal]
	paused       *store.Value[bool]

	custody  Custody
	licenses Licenses
	ledger   Ledger
	schedule Schedule
}

func New(custody Custody, licenses Licenses, l Ledger, schedule Schedule) *Orchestrator {
	return &Orchestrator{
		listings:     store.NewTable[common.Hash, Listing](),
		offers:       store.NewTable[uint64, Offer](),
		offersByItem: store.NewTable[assetKey, []uint64](),
		escrow:       store.NewValue(decimal.Zero),
		paused:       store.NewValue(false),
		custody:      custody,
		licenses:     licenses,
		ledger:       l,
		schedule:     schedule,
	}
}

// ListingID derives the id of a listing from its seller, asset and creation
// time.
func ListingID(seller common.Address, ref AssetRef, at time.Time) common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	h.Write(seller.Bytes())
	h.Write([]byte(ref.Kind))
	binary.BigEndian.PutUint64(buf[:], ref.ID)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], ref.Units)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(at.UnixNano()))
	h.Write(buf[:])
	return common.BytesToHash(h.Sum(nil))
}

func offerKey(id uint64) string {
	return "offer:" + strconv.FormatUint(id, 10)
}

func (o *Orchestrator) Paused() bool {
	return o.paused.Get()
}

func (o *Orchestrator) notPaused(op string) error {
	if o.paused.Get() {
		return apperr.State(op, "marketplace is paused")
	}
	return nil
}

func (o *Orchestrator) Pause(tx *store.Tx, p authz.Principal, now time.Time) error {
	return o.setPaused(tx, p, true, now)
}

func (o *Orchestrator) Unpause(tx *store.Tx, p authz.Principal, now time.Time) error {
	return o.setPaused(tx, p, false, now)
}

func (o *Orchestrator) setPaused(tx *store.Tx, p authz.Principal, paused bool, now time.Time) error {
	const op = "market.pause"
	if err := p.Require(op, authz.CapAdmin); err != nil {
		return err
	}
	if o.paused.Get() == paused {
		return apperr.State(op, "marketplace pause is already %t", paused)
	}
	o.paused.Set(tx, paused)
	typ := EventUnpaused
	if paused {
		typ = EventPaused
	}
	tx.Emit(store.Event{Type: typ, Key: "market", Payload: p.Address, OccurredAt: now})
	return nil
}

// normalize validates ref and confirms the thing it names exists.
func (o *Orchestrator) normalize(op string, ref AssetRef) (AssetRef, error) {
	switch ref.Kind {
	case KindUnique:
		if ref.Units > 1 {
			return ref, apperr.Validation(op, "a unique asset trades as a single unit")
		}
		ref.Units = 1
		if !o.custody.AssetExists(ref.ID) {
			return ref, apperr.NotFound(op, "asset %d does not exist", ref.ID)
		}
	case KindUnits:
		if ref.Units == 0 {
			return ref, apperr.Validation(op, "units must be positive")
		}
		if _, err := o.licenses.Get(ref.ID); err != nil {
			return ref, err
		}
	default:
		return ref, apperr.Validation(op, "unknown asset kind %q", ref.Kind)
	}
	return ref, nil
}

// holds reports whether who can deliver ref right now.
func (o *Orchestrator) holds(who common.Address, ref AssetRef) bool {
	if ref.Kind == KindUnique {
		owner, err := o.custody.OwnerOf(ref.ID)
		return err == nil && owner == who
	}
	return o.custody.HolderBalance(ref.ID, who) >= ref.Units
}

func (o *Orchestrator) CreateListing(tx *store.Tx, seller common.Address, ref AssetRef, price decimal.Decimal, now time.Time) (Listing, error) {
	const op = "market.create_listing"
	if err := o.notPaused(op); err != nil {
		return Listing{}, err
	}
	if !amount.IsWhole(price) {
		return Listing{}, apperr.Validation(op, "price %s is not a whole non-negative amount", price)
	}
	ref, err := o.normalize(op, ref)
	if err != nil {
		return Listing{}, err
	}
	if !o.holds(seller, ref) {
		return Listing{}, apperr.Authorization(op, "%s cannot deliver the listed asset", seller.Hex())
	}
	if ref.Kind == KindUnits {
		if lic, _ := o.licenses.Get(ref.ID); !lic.Active() || lic.PastExpiry(now) {
			return Listing{}, apperr.State(op, "license %d is not active", ref.ID)
		}
	}

	id := ListingID(seller, ref, now)
	if o.listings.Has(id) {
		return Listing{}, apperr.State(op, "listing %s already exists", id.Hex())
	}
	l := Listing{ID: id, Seller: seller, Asset: ref, Price: price, Active: true, Status: StatusOpen, CreatedAt: now}
	o.listings.Put(tx, id, l)
	tx.Emit(store.Event{Type: EventListingCreated, Key: id.Hex(), Payload: l, OccurredAt: now})
	return l, nil
}

func (o *Orchestrator) GetListing(id common.Hash) (Listing, error) {
	l, ok := o.listings.Get(id)
	if !ok {
		return Listing{}, apperr.NotFound("market.get_listing", "listing %s does not exist", id.Hex())
	}
	return l, nil
}

func (o *Orchestrator) CancelListing(tx *store.Tx, caller common.Address, id common.Hash, now time.Time) error {
	const op = "market.cancel_listing"
	l, err := o.GetListing(id)
	if err != nil {
		return err
	}
	if l.Seller != caller {
		return apperr.Authorization(op, "only the seller may cancel listing %s", id.Hex())
	}
	if !l.Active {
		return apperr.State(op, "listing %s is %s", id.Hex(), l.Status)
	}
	l.Active = false
	l.Status = StatusCancelled
	l.ClosedAt = now
	o.listings.Put(tx, id, l)
	tx.Emit(store.Event{Type: EventListingCancelled, Key: id.Hex(), Payload: l, OccurredAt: now})
	return nil
}

// BuyListing settles an active listing. payment must equal the price, the
// buyer's ledger balance must cover it and the seller must still hold the
// asset.
func (o *Orchestrator) BuyListing(tx *store.Tx, buyer common.Address, id common.Hash, payment decimal.Decimal, now time.Time) (Settlement, error) {
	const op = "market.buy_listing"
	if err := o.notPaused(op); err != nil {
		return Settlement{}, err
	}
	l, err := o.GetListing(id)
	if err != nil {
		return Settlement{}, err
	}
	if !l.Active {
		return Settlement{}, apperr.State(op, "listing %s is %s", id.Hex(), l.Status)
	}
	if buyer == l.Seller {
		return Settlement{}, apperr.Validation(op, "seller cannot buy their own listing")
	}
	if !payment.Equal(l.Price) {
		return Settlement{}, apperr.InsufficientFunds(op, "sent %s, price is %s", payment, l.Price)
	}
	if !o.holds(l.Seller, l.Asset) {
		return Settlement{}, apperr.State(op, "seller no longer holds the asset of listing %s", id.Hex())
	}
	if err := o.ledger.Debit(tx, buyer, payment, "listing_purchase"); err != nil {
		return Settlement{}, err
	}

	l.Active = false
	l.Status = StatusSold
	l.Buyer = buyer
	l.ClosedAt = now
	o.listings.Put(tx, id, l)

	s, err := o.settle(tx, l.Seller, buyer, l.Asset, l.Price, now)
	if err != nil {
		return Settlement{}, err
	}
	s.Source = SourceListing
	s.ListingID = id
	tx.Emit(store.Event{Type: EventListingSold, Key: id.Hex(), Payload: s, OccurredAt: now})
	return s, nil
}

// CreateOffer moves amt from the buyer's ledger balance into escrow until the
// offer is accepted or cancelled.
func (o *Orchestrator) CreateOffer(tx *store.Tx, buyer common.Address, ref AssetRef, amt decimal.Decimal, expiry, now time.Time) (Offer, error) {
	const op = "market.create_offer"
	if err := o.notPaused(op); err != nil {
		return Offer{}, err
	}
	if buyer == (common.Address{}) {
		return Offer{}, apperr.Validation(op, "buyer is the zero address")
	}
	if !amount.IsWhole(amt) || amt.IsZero() {
		return Offer{}, apperr.Validation(op, "offer amount %s must be a positive whole amount", amt)
	}
	if !expiry.After(now) {
		return Offer{}, apperr.Validation(op, "offer expiry is not in the future")
	}
	ref, err := o.normalize(op, ref)
	if err != nil {
		return Offer{}, err
	}
	if err := o.ledger.Debit(tx, buyer, amt, "offer_escrow"); err != nil {
		return Offer{}, err
	}

	off := Offer{
		ID:         o.offerIDs.Next(tx),
		Buyer:      buyer,
		Asset:      ref,
		Escrowed:   amt,
		ExpiryTime: expiry,
		Active:     true,
		Status:     StatusOpen,
		CreatedAt:  now,
	}
	o.offers.Put(tx, off.ID, off)
	ids, _ := o.offersByItem.Get(ref.key())
	o.offersByItem.Put(tx, ref.key(), append(append([]uint64(nil), ids...), off.ID))
	o.escrow.Set(tx, o.escrow.Get().Add(amt))
	tx.Emit(store.Event{Type: EventOfferCreated, Key: offerKey(off.ID), Payload: off, OccurredAt: now})
	return off, nil
}

func (o *Orchestrator) GetOffer(id uint64) (Offer, error) {
	off, ok := o.offers.Get(id)
	if !ok {
		return Offer{}, apperr.NotFound("market.get_offer", "offer %d does not exist", id)
	}
	return off, nil
}

// OffersFor returns every offer made on the asset or license ref names.
func (o *Orchestrator) OffersFor(ref AssetRef) []Offer {
	ids, _ := o.offersByItem.Get(ref.key())
	out := make([]Offer, 0, len(ids))
	for _, id := range ids {
		off, _ := o.offers.Get(id)
		out = append(out, off)
	}
	return out
}

// CancelOffer refunds the escrow to the buyer's ledger balance. It works after
// expiry and while the marketplace is paused.
func (o *Orchestrator) CancelOffer(tx *store.Tx, caller common.Address, id uint64, now time.Time) (Offer, error) {
	const op = "market.cancel_offer"
	off, err := o.GetOffer(id)
	if err != nil {
		return Offer{}, err
	}
	if off.Buyer != caller {
		return Offer{}, apperr.Authorization(op, "only the buyer may cancel offer %d", id)
	}
	if !off.Active {
		return Offer{}, apperr.State(op, "offer %d is %s", id, off.Status)
	}
	off.Active = false
	off.Status = StatusCancelled
	off.ClosedAt = now
	o.offers.Put(tx, id, off)
	o.escrow.Set(tx, o.escrow.Get().Sub(off.Escrowed))
	if err := o.ledger.Credit(tx, off.Buyer, off.Escrowed, "offer_refund"); err != nil {
		return Offer{}, err
	}
	tx.Emit(store.Event{Type: EventOfferCancelled, Key: offerKey(id), Payload: off, OccurredAt: now})
	return off, nil
}

// AcceptOffer settles an unexpired offer at its escrowed amount. Only the
// current holder of the asset may accept. Other offers on the same asset are
// left open.
func (o *Orchestrator) AcceptOffer(tx *store.Tx, caller common.Address, id uint64, now time.Time) (Settlement, error) {
	const op = "market.accept_offer"
	if err := o.notPaused(op); err != nil {
		return Settlement{}, err
	}
	off, err := o.GetOffer(id)
	if err != nil {
		return Settlement{}, err
	}
	if !off.Active {
		return Settlement{}, apperr.State(op, "offer %d is %s", id, off.Status)
	}
	if off.Expired(now) {
		return Settlement{}, apperr.State(op, "offer %d expired at %s", id, off.ExpiryTime.Format(time.RFC3339))
	}
	if !o.holds(caller, off.Asset) {
		return Settlement{}, apperr.Authorization(op, "%s does not hold the asset of offer %d", caller.Hex(), id)
	}
	if caller == off.Buyer {
		return Settlement{}, apperr.Validation(op, "buyer cannot accept their own offer")
	}

	off.Active = false
	off.Status = StatusAccepted
	off.Seller = caller
	off.ClosedAt = now
	o.offers.Put(tx, id, off)
	o.escrow.Set(tx, o.escrow.Get().Sub(off.Escrowed))

	s, err := o.settle(tx, caller, off.Buyer, off.Asset, off.Escrowed, now)
	if err != nil {
		return Settlement{}, err
	}
	s.Source = SourceOffer
	s.OfferID = id
	tx.Emit(store.Event{Type: EventOfferAccepted, Key: offerKey(id), Payload: s, OccurredAt: now})
	return s, nil
}

// MakeRecurringPayment pays the current period of a recurring license from
// the payer's ledger balance. The payment is always royalty-eligible and is
// credited to the parent asset's current owner.
func (o *Orchestrator) MakeRecurringPayment(tx *store.Tx, payer common.Address, licenseID uint64, amountSent decimal.Decimal, now time.Time) (Settlement, error) {
	const op = "market.make_recurring_payment"
	charge, err := o.schedule.MakePayment(tx, payer, licenseID, amountSent, now)
	if err != nil {
		return Settlement{}, err
	}
	seller, err := o.custody.OwnerOf(charge.ParentAssetID)
	if err != nil {
		return Settlement{}, apperr.Wrap(op, err)
	}
	if err := o.ledger.Debit(tx, payer, charge.Total, "recurring_payment"); err != nil {
		return Settlement{}, err
	}
	dist, err := o.ledger.Distribute(tx, ledger.Payment{
		AssetID:   charge.ParentAssetID,
		Gross:     charge.Total,
		Seller:    seller,
		Secondary: true,
		At:        now,
	})
	if err != nil {
		return Settlement{}, err
	}
	s := Settlement{
		Source:               SourceRecurring,
		LicenseID:            licenseID,
		Asset:                AssetRef{Kind: KindUnits, ID: licenseID},
		RoyaltyAssetID:       charge.ParentAssetID,
		Seller:               seller,
		Buyer:                payer,
		Price:                charge.Total,
		Kind:                 SaleSecondary,
		ClassificationReason: "recurring license payments are royalty-eligible",
		Distribution:         dist,
		SettledAt:            now,
	}
	tx.Emit(store.Event{Type: EventRecurringSettled, Key: "license:" + strconv.FormatUint(licenseID, 10), Payload: s, OccurredAt: now})
	return s, nil
}

// settle classifies the sale, distributes price, hands over any recurring
// schedule and finally moves the asset.
func (o *Orchestrator) settle(tx *store.Tx, seller, buyer common.Address, ref AssetRef, price decimal.Decimal, now time.Time) (Settlement, error) {
	const op = "market.settle"
	s := Settlement{Asset: ref, Seller: seller, Buyer: buyer, Price: price, SettledAt: now}

	var recurring bool
	switch ref.Kind {
	case KindUnique:
		creator, err := o.custody.CreatorOf(ref.ID)
		if err != nil {
			return Settlement{}, apperr.Wrap(op, err)
		}
		s.RoyaltyAssetID = ref.ID
		s.Kind, s.ClassificationReason = SaleSecondary, "seller is not the asset's creator"
		if seller == creator {
			s.Kind, s.ClassificationReason = SalePrimary, "seller is the asset's creator"
		}
	case KindUnits:
		lic, err := o.licenses.Get(ref.ID)
		if err != nil {
			return Settlement{}, err
		}
		if !lic.Active() || lic.PastExpiry(now) {
			return Settlement{}, apperr.State(op, "license %d is not active", lic.ID)
		}
		s.LicenseID = lic.ID
		s.RoyaltyAssetID = lic.ParentAssetID
		s.Kind, s.ClassificationReason = SaleSecondary, "seller is not the licensor"
		if seller == lic.Licensor {
			s.Kind, s.ClassificationReason = SalePrimary, "seller is the licensor"
		}
		recurring = lic.Recurring()
	}

	dist, err := o.ledger.Distribute(tx, ledger.Payment{
		AssetID:   s.RoyaltyAssetID,
		Gross:     price,
		Seller:    seller,
		Secondary: s.Kind == SaleSecondary,
		At:        now,
	})
	if err != nil {
		return Settlement{}, err
	}
	s.Distribution = dist

	if recurring {
		if _, err := o.schedule.Enroll(tx, ref.ID, buyer, now); err != nil {
			return Settlement{}, err
		}
	}

	if ref.Kind == KindUnique {
		err = o.custody.TransferAsset(tx, seller, buyer, ref.ID)
	} else {
		err = o.custody.TransferUnits(tx, ref.ID, seller, buyer, ref.Units)
	}
	if err != nil {
		return Settlement{}, apperr.Wrap(op, err)
	}
	return s, nil
}

// Escrowed is the total held for open offers.
func (o *Orchestrator) Escrowed() decimal.Decimal {
	return o.escrow.Get()
}

type State struct {
	Listings     []store.Entry[common.Hash, Listing] `json:"listings"`
	Offers       []store.Entry[uint64, Offer]        `json:"offers"`
	LastOfferID  uint64                              `json:"last_offer_id"`
	OffersByItem []store.Entry[assetKey, []uint64]   `json:"offers_by_item"`
	Escrow       decimal.Decimal                     `json:"escrow"`
	Paused       bool                                `json:"paused"`
}

func (o *Orchestrator) Export() State {
	return State{
		Listings:     o.listings.Entries(),
		Offers:       o.offers.Entries(),
		LastOfferID:  o.offerIDs.Last(),
		OffersByItem: o.offersByItem.Entries(),
		Escrow:       o.escrow.Get(),
		Paused:       o.paused.Get(),
	}
}

func (o *Orchestrator) Import(s State) {
	o.listings.Load(s.Listings)
	o.offers.Load(s.Offers)
	o.offerIDs.Load(s.LastOfferID)
	o.offersByItem.Load(s.OffersByItem)
	o.escrow.Load(s.Escrow)
	o.paused.Load(s.Paused)
}
