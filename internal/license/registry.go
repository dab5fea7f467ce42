package license

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/javajoker/imi-market/internal/amount"
	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/store"
)

// Custody resolves parent assets and mints license units to holders.
type Custody interface {
	AssetExists(assetID uint64) bool
	OwnerOf(assetID uint64) (common.Address, error)
	MintUnits(tx *store.Tx, licenseID uint64, to common.Address, units uint64) error
}

// MissedPaymentSource recomputes the live consecutive missed-payment count of
// a recurring license.
type MissedPaymentSource interface {
	MissedPayments(licenseID uint64, now time.Time) (uint64, error)
}

type Registry struct {
	licenses *store.Table[uint64, License]
	ids      store.Sequence
	// exclusive maps a parent asset to the live exclusive license holding its
	// slot. Zero means the slot is free.
	exclusive *store.Table[uint64, uint64]
	active    *store.Table[uint64, uint64]

	custody Custody
	missed  MissedPaymentSource
}

func NewRegistry(custody Custody) *Registry {
	return &Registry{
		licenses:  store.NewTable[uint64, License](),
		exclusive: store.NewTable[uint64, uint64](),
		active:    store.NewTable[uint64, uint64](),
		custody:   custody,
	}
}

// SetMissedPaymentSource wires the scheduler consulted by
// RevokeForMissedPayments.
func (r *Registry) SetMissedPaymentSource(src MissedPaymentSource) {
	r.missed = src
}

// Mint creates a license over a parent asset the licensor owns and mints its
// supply of units to the licensor.
func (r *Registry) Mint(tx *store.Tx, licensor common.Address, p MintParams, now time.Time) (License, error) {
	const op = "license.mint"
	if !r.custody.AssetExists(p.ParentAssetID) {
		return License{}, apperr.NotFound(op, "parent asset %d does not exist", p.ParentAssetID)
	}
	owner, err := r.custody.OwnerOf(p.ParentAssetID)
	if err != nil {
		return License{}, apperr.Wrap(op, err)
	}
	if owner != licensor {
		return License{}, apperr.Authorization(op, "%s does not own asset %d", licensor.Hex(), p.ParentAssetID)
	}
	if p.Supply == 0 {
		return License{}, apperr.Validation(op, "supply must be at least 1")
	}
	if !amount.IsWhole(p.Price) {
		return License{}, apperr.Validation(op, "price %s is not a whole non-negative amount", p.Price)
	}
	if !p.ExpiryTime.IsZero() && !p.ExpiryTime.After(now) {
		return License{}, apperr.Validation(op, "expiry time is not in the future")
	}
	if p.PaymentInterval < 0 {
		return License{}, apperr.Validation(op, "payment interval is negative")
	}
	if p.PaymentInterval > 0 && !p.Price.IsPositive() {
		return License{}, apperr.Validation(op, "recurring license needs a positive price per period")
	}
	if !amount.ValidBps(p.PenaltyRateBps) {
		return License{}, apperr.Validation(op, "penalty rate %d bps exceeds 10000", p.PenaltyRateBps)
	}
	if p.IsExclusive {
		if p.Supply != 1 {
			return License{}, apperr.Validation(op, "exclusive license must have supply 1, got %d", p.Supply)
		}
		if holder, _ := r.exclusive.Get(p.ParentAssetID); holder != 0 {
			return License{}, apperr.State(op, "asset %d already has live exclusive license %d", p.ParentAssetID, holder)
		}
	}

	lic := License{
		ID:                r.ids.Next(tx),
		ParentAssetID:     p.ParentAssetID,
		Licensor:          licensor,
		Supply:            p.Supply,
		Price:             p.Price,
		ExpiryTime:        p.ExpiryTime,
		IsExclusive:       p.IsExclusive,
		PaymentInterval:   p.PaymentInterval,
		MaxMissedPayments: p.MaxMissedPayments,
		PenaltyRateBps:    p.PenaltyRateBps,
		TermsURI:          p.TermsURI,
		CreatedAt:         now,
	}
	if lic.MaxMissedPayments == 0 {
		lic.MaxMissedPayments = DefaultMaxMissedPayments
	}
	if lic.PenaltyRateBps == 0 {
		lic.PenaltyRateBps = DefaultPenaltyRateBps
	}

	r.licenses.Put(tx, lic.ID, lic)
	if lic.IsExclusive {
		r.exclusive.Put(tx, lic.ParentAssetID, lic.ID)
	}
	r.active.Put(tx, lic.ParentAssetID, r.ActiveLicenseCount(lic.ParentAssetID)+1)
	tx.Emit(store.Event{Type: EventMinted, Key: key(lic.ID), Payload: lic, OccurredAt: now})

	if err := r.custody.MintUnits(tx, lic.ID, licensor, lic.Supply); err != nil {
		return License{}, apperr.Wrap(op, err)
	}
	return lic, nil
}

func (r *Registry) Get(id uint64) (License, error) {
	lic, ok := r.licenses.Get(id)
	if !ok {
		return License{}, apperr.NotFound("license.get", "license %d does not exist", id)
	}
	return lic, nil
}

// IsActive reports whether id names a license that is neither revoked nor
// marked expired. Unknown ids are inactive.
func (r *Registry) IsActive(id uint64) bool {
	lic, ok := r.licenses.Get(id)
	return ok && lic.Active()
}

// IsActiveAt additionally treats a license past its expiry as inactive even
// before anyone has marked it.
func (r *Registry) IsActiveAt(id uint64, now time.Time) bool {
	lic, ok := r.licenses.Get(id)
	return ok && lic.Active() && !lic.PastExpiry(now)
}

func (r *Registry) ActiveLicenseCount(parentAssetID uint64) uint64 {
	n, _ := r.active.Get(parentAssetID)
	return n
}

// MarkExpired flips a license past its expiry to Expired. Marking twice
// fails.
func (r *Registry) MarkExpired(tx *store.Tx, id uint64, now time.Time) error {
	const op = "license.mark_expired"
	lic, err := r.Get(id)
	if err != nil {
		return err
	}
	if lic.IsExpired {
		return apperr.State(op, "license %d is already expired", id)
	}
	if lic.Perpetual() {
		return apperr.State(op, "license %d is perpetual", id)
	}
	if !lic.PastExpiry(now) {
		return apperr.State(op, "license %d expires at %s", id, lic.ExpiryTime.Format(time.RFC3339))
	}

	wasActive := lic.Active()
	lic.IsExpired = true
	lic.ExpiredAt = now
	r.licenses.Put(tx, id, lic)
	if wasActive {
		r.retire(tx, lic)
	}
	emit(tx, EventExpired, lic, "", now)
	return nil
}

// BatchMarkExpired marks each id it can and skips the rest. It returns the
// ids that were marked.
func (r *Registry) BatchMarkExpired(tx *store.Tx, ids []uint64, now time.Time) []uint64 {
	marked := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if err := r.MarkExpired(tx, id, now); err != nil {
			continue
		}
		marked = append(marked, id)
	}
	return marked
}

// Revoke is the administrative revocation path.
func (r *Registry) Revoke(tx *store.Tx, p authz.Principal, id uint64, now time.Time) error {
	if err := p.Require("license.revoke", authz.CapAdmin); err != nil {
		return err
	}
	return r.RevokeByAuthority(tx, id, CauseAdmin, now)
}

// RevokeByAuthority revokes on behalf of an in-process component that has
// already established its right to do so, such as an approved dispute.
func (r *Registry) RevokeByAuthority(tx *store.Tx, id uint64, cause RevokeCause, now time.Time) error {
	lic, err := r.Get(id)
	if err != nil {
		return err
	}
	if lic.IsRevoked {
		return apperr.State("license.revoke", "license %d is already revoked", id)
	}

	wasActive := lic.Active()
	lic.IsRevoked = true
	lic.RevokedAt = now
	lic.RevokeCause = cause
	r.licenses.Put(tx, id, lic)
	if lic.IsExclusive {
		if holder, _ := r.exclusive.Get(lic.ParentAssetID); holder == lic.ID {
			r.exclusive.Put(tx, lic.ParentAssetID, 0)
		}
	}
	if wasActive {
		r.retire(tx, lic)
	}
	emit(tx, EventRevoked, lic, cause, now)
	return nil
}

// RevokeForMissedPayments revokes a recurring license whose holder has missed
// MaxMissedPayments consecutive due dates. observed is the count the caller
// saw. The live count is recomputed and must agree.
func (r *Registry) RevokeForMissedPayments(tx *store.Tx, id uint64, observed uint64, now time.Time) error {
	const op = "license.revoke_for_missed_payments"
	lic, err := r.Get(id)
	if err != nil {
		return err
	}
	if !lic.Recurring() {
		return apperr.Validation(op, "license %d has no recurring payments", id)
	}
	if lic.IsRevoked {
		return apperr.State(op, "license %d is already revoked", id)
	}
	if r.missed == nil {
		return apperr.State(op, "no payment schedule is available")
	}
	threshold := uint64(lic.MaxMissedPayments)
	if observed < threshold {
		return apperr.State(op, "observed %d missed payments, threshold is %d", observed, threshold)
	}
	live, err := r.missed.MissedPayments(id, now)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if live < threshold {
		return apperr.State(op, "license %d has %d consecutive missed payments, threshold is %d", id, live, threshold)
	}
	if observed > live {
		return apperr.State(op, "observed count %d is ahead of the live count %d", observed, live)
	}
	return r.RevokeByAuthority(tx, id, CauseMissedPayments, now)
}

// SetPenaltyRate changes the late-payment penalty. Only the licensor may do
// so.
func (r *Registry) SetPenaltyRate(tx *store.Tx, caller common.Address, id uint64, bps uint32, now time.Time) error {
	const op = "license.set_penalty_rate"
	lic, err := r.Get(id)
	if err != nil {
		return err
	}
	if caller != lic.Licensor {
		return apperr.Authorization(op, "%s is not the licensor of license %d", caller.Hex(), id)
	}
	if !amount.ValidBps(bps) {
		return apperr.Validation(op, "penalty rate %d bps exceeds 10000", bps)
	}
	if !lic.Active() {
		return apperr.State(op, "license %d is not active", id)
	}
	lic.PenaltyRateBps = bps
	r.licenses.Put(tx, id, lic)
	tx.Emit(store.Event{Type: EventPenaltyRateSet, Key: key(id), Payload: lic, OccurredAt: now})
	return nil
}

// retire decrements the active count the first time a license leaves Active.
func (r *Registry) retire(tx *store.Tx, lic License) {
	if n := r.ActiveLicenseCount(lic.ParentAssetID); n > 0 {
		r.active.Put(tx, lic.ParentAssetID, n-1)
	}
}

// Licenses returns every license over parentAssetID in id order.
func (r *Registry) Licenses(parentAssetID uint64) []License {
	var out []License
	r.licenses.Range(func(_ uint64, l License) bool {
		if l.ParentAssetID == parentAssetID {
			out = append(out, l)
		}
		return true
	})
	return out
}

type State struct {
	Licenses  []store.Entry[uint64, License] `json:"licenses"`
	LastID    uint64                         `json:"last_id"`
	Exclusive []store.Entry[uint64, uint64]  `json:"exclusive"`
	Active    []store.Entry[uint64, uint64]  `json:"active"`
}

func (r *Registry) Export() State {
	return State{
		Licenses:  r.licenses.Entries(),
		LastID:    r.ids.Last(),
		Exclusive: r.exclusive.Entries(),
		Active:    r.active.Entries(),
	}
}

func (r *Registry) Import(s State) {
	r.licenses.Load(s.Licenses)
	r.ids.Load(s.LastID)
	r.exclusive.Load(s.Exclusive)
	r.active.Load(s.Active)
}
