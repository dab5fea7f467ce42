// Package dispute runs the dispute state machine. A dispute is Pending until
// an arbitrator resolves it once as Approved or Rejected. Approval revokes the
// disputed license, after which the dispute is marked Executed.
package dispute

import (
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/license"
	"github.com/javajoker/imi-market/internal/store"
)

// ResolutionWindow is the advisory deadline for resolving a dispute. It is
// reported by IsOverdue and TimeRemaining and never blocks resolution.
const ResolutionWindow = 30 * 24 * time.Hour

const (
	EventSubmitted = "dispute.submitted"
	EventResolved  = "dispute.resolved"
	EventExecuted  = "dispute.executed"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
)

type Dispute struct {
	ID                  uint64         `json:"id"`
	LicenseID           uint64         `json:"license_id"`
	ParentAssetID       uint64         `json:"parent_asset_id"`
	Submitter           common.Address `json:"submitter"`
	IPOwnerAtSubmission common.Address `json:"ip_owner_at_submission"`
	Reason              string         `json:"reason"`
	ProofRef            string         `json:"proof_ref,omitempty"`
	Status              Status         `json:"status"`
	SubmittedAt         time.Time      `json:"submitted_at"`
	ResolvedAt          time.Time      `json:"resolved_at,omitempty"`
	Resolver            common.Address `json:"resolver,omitempty"`
	ResolutionReason    string         `json:"resolution_reason,omitempty"`
	ExecutedAt          time.Time      `json:"executed_at,omitempty"`
}

func (d Dispute) Deadline() time.Time {
	return d.SubmittedAt.Add(ResolutionWindow)
}

// OverdueAt reports whether d is still pending past its deadline.
func (d Dispute) OverdueAt(now time.Time) bool {
	return d.Status == StatusPending && now.After(d.Deadline())
}

// RemainingAt is the time left before the deadline of a pending dispute, or
// zero once resolved or overdue.
func (d Dispute) RemainingAt(now time.Time) time.Duration {
	if d.Status != StatusPending || !now.Before(d.Deadline()) {
		return 0
	}
	return d.Deadline().Sub(now)
}

// Licenses is the part of the license registry the arbitrator depends on.
type Licenses interface {
	Get(id uint64) (license.License, error)
	RevokeByAuthority(tx *store.Tx, id uint64, cause license.RevokeCause, now time.Time) error
}

// Holders resolves the parties allowed to raise a dispute.
type Holders interface {
	OwnerOf(assetID uint64) (common.Address, error)
	HolderBalance(licenseID uint64, holder common.Address) uint64
}

type Arbitrator struct {
	disputes  *store.Table[uint64, Dispute]
	ids       store.Sequence
	byLicense *store.Table[uint64, []uint64]
	byAsset   *store.Table[uint64, []uint64]
	flagged   *store.Table[uint64, bool]

	licenses    Licenses
	holders     Holders
	autoExecute bool
}

// New builds an arbitrator. With autoExecute, approval revokes the license in
// the same call; otherwise approved disputes wait for ExecuteRevocation.
func New(licenses Licenses, holders Holders, autoExecute bool) *Arbitrator {
	return &Arbitrator{
		disputes:    store.NewTable[uint64, Dispute](),
		byLicense:   store.NewTable[uint64, []uint64](),
		byAsset:     store.NewTable[uint64, []uint64](),
		flagged:     store.NewTable[uint64, bool](),
		licenses:    licenses,
		holders:     holders,
		autoExecute: autoExecute,
	}
}

func key(id uint64) string {
	return "dispute:" + strconv.FormatUint(id, 10)
}

func appendID(tx *store.Tx, t *store.Table[uint64, []uint64], k, id uint64) {
	prev, _ := t.Get(k)
	next := make([]uint64, len(prev), len(prev)+1)
	copy(next, prev)
	t.Put(tx, k, append(next, id))
}

// Submit opens a dispute against an active license. The caller must own the
// parent asset or hold units of the license.
func (a *Arbitrator) Submit(tx *store.Tx, caller common.Address, licenseID uint64, reason, proofRef string, now time.Time) (Dispute, error) {
	const op = "dispute.submit"
	if strings.TrimSpace(reason) == "" {
		return Dispute{}, apperr.Validation(op, "reason is required")
	}
	lic, err := a.licenses.Get(licenseID)
	if err != nil {
		return Dispute{}, err
	}
	owner, err := a.holders.OwnerOf(lic.ParentAssetID)
	if err != nil {
		return Dispute{}, apperr.Wrap(op, err)
	}
	if caller != owner && a.holders.HolderBalance(licenseID, caller) == 0 {
		return Dispute{}, apperr.Authorization(op, "%s neither owns asset %d nor holds license %d", caller.Hex(), lic.ParentAssetID, licenseID)
	}
	if !lic.Active() || lic.PastExpiry(now) {
		return Dispute{}, apperr.State(op, "license %d is not active", licenseID)
	}

	d := Dispute{
		ID:                  a.ids.Next(tx),
		LicenseID:           licenseID,
		ParentAssetID:       lic.ParentAssetID,
		Submitter:           caller,
		IPOwnerAtSubmission: owner,
		Reason:              reason,
		ProofRef:            proofRef,
		Status:              StatusPending,
		SubmittedAt:         now,
	}
	a.disputes.Put(tx, d.ID, d)
	appendID(tx, a.byLicense, licenseID, d.ID)
	appendID(tx, a.byAsset, lic.ParentAssetID, d.ID)
	if flagged, _ := a.flagged.Get(lic.ParentAssetID); !flagged {
		a.flagged.Put(tx, lic.ParentAssetID, true)
	}
	tx.Emit(store.Event{Type: EventSubmitted, Key: key(d.ID), Payload: d, OccurredAt: now})
	return d, nil
}

// Resolve records the arbitrator's decision. A dispute is resolved once.
func (a *Arbitrator) Resolve(tx *store.Tx, p authz.Principal, id uint64, approve bool, reason string, now time.Time) (Dispute, error) {
	const op = "dispute.resolve"
	if err := p.Require(op, authz.CapArbitrator); err != nil {
		return Dispute{}, err
	}
	d, err := a.Get(id)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status != StatusPending {
		return Dispute{}, apperr.State(op, "dispute %d is already %s", id, d.Status)
	}

	d.Status = StatusRejected
	if approve {
		d.Status = StatusApproved
	}
	d.ResolvedAt = now
	d.Resolver = p.Address
	d.ResolutionReason = reason
	a.disputes.Put(tx, id, d)
	a.refreshFlag(tx, d.ParentAssetID)
	tx.Emit(store.Event{Type: EventResolved, Key: key(id), Payload: d, OccurredAt: now})

	if approve && a.autoExecute {
		return a.execute(tx, d, now)
	}
	return d, nil
}

// ExecuteRevocation revokes the license of an approved dispute whose
// revocation has not taken effect yet.
func (a *Arbitrator) ExecuteRevocation(tx *store.Tx, p authz.Principal, id uint64, now time.Time) (Dispute, error) {
	const op = "dispute.execute_revocation"
	if err := p.Require(op, authz.CapArbitrator); err != nil {
		return Dispute{}, err
	}
	d, err := a.Get(id)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status != StatusApproved {
		return Dispute{}, apperr.State(op, "dispute %d is %s, not approved", id, d.Status)
	}
	return a.execute(tx, d, now)
}

// execute revokes the license unless something else already did, then marks
// the dispute Executed.
func (a *Arbitrator) execute(tx *store.Tx, d Dispute, now time.Time) (Dispute, error) {
	lic, err := a.licenses.Get(d.LicenseID)
	if err != nil {
		return Dispute{}, err
	}
	if !lic.IsRevoked {
		if err := a.licenses.RevokeByAuthority(tx, d.LicenseID, license.CauseDispute, now); err != nil {
			return Dispute{}, err
		}
	}
	d.Status = StatusExecuted
	d.ExecutedAt = now
	a.disputes.Put(tx, d.ID, d)
	tx.Emit(store.Event{Type: EventExecuted, Key: key(d.ID), Payload: d, OccurredAt: now})
	return d, nil
}

// refreshFlag clears the asset's active-dispute flag only when no dispute on
// any of its licenses is still pending.
func (a *Arbitrator) refreshFlag(tx *store.Tx, assetID uint64) {
	ids, _ := a.byAsset.Get(assetID)
	for _, id := range ids {
		if d, _ := a.disputes.Get(id); d.Status == StatusPending {
			return
		}
	}
	if flagged, _ := a.flagged.Get(assetID); flagged {
		a.flagged.Put(tx, assetID, false)
	}
}

func (a *Arbitrator) Get(id uint64) (Dispute, error) {
	d, ok := a.disputes.Get(id)
	if !ok {
		return Dispute{}, apperr.NotFound("dispute.get", "dispute %d does not exist", id)
	}
	return d, nil
}

// ForLicense returns every dispute ever raised against licenseID in
// submission order.
func (a *Arbitrator) ForLicense(licenseID uint64) []Dispute {
	ids, _ := a.byLicense.Get(licenseID)
	out := make([]Dispute, 0, len(ids))
	for _, id := range ids {
		d, _ := a.disputes.Get(id)
		out = append(out, d)
	}
	return out
}

func (a *Arbitrator) HasActiveDispute(assetID uint64) bool {
	flagged, _ := a.flagged.Get(assetID)
	return flagged
}

// IsOverdue reports whether a pending dispute is past its deadline.
func (a *Arbitrator) IsOverdue(id uint64, now time.Time) (bool, error) {
	d, err := a.Get(id)
	if err != nil {
		return false, err
	}
	return d.OverdueAt(now), nil
}

func (a *Arbitrator) TimeRemaining(id uint64, now time.Time) (time.Duration, error) {
	d, err := a.Get(id)
	if err != nil {
		return 0, err
	}
	return d.RemainingAt(now), nil
}

type State struct {
	Disputes  []store.Entry[uint64, Dispute]  `json:"disputes"`
	LastID    uint64                          `json:"last_id"`
	ByLicense []store.Entry[uint64, []uint64] `json:"by_license"`
	ByAsset   []store.Entry[uint64, []uint64] `json:"by_asset"`
	Flagged   []store.Entry[uint64, bool]     `json:"flagged"`
}

func (a *Arbitrator) Export() State {
	return State{
		Disputes:  a.disputes.Entries(),
		LastID:    a.ids.Last(),
		ByLicense: a.byLicense.Entries(),
		ByAsset:   a.byAsset.Entries(),
		Flagged:   a.flagged.Entries(),
	}
}

func (a *Arbitrator) Import(s State) {
	a.disputes.Load(s.Disputes)
	a.ids.Load(s.LastID)
	a.byLicense.Load(s.ByLicense)
	a.byAsset.Load(s.ByAsset)
	a.flagged.Load(s.Flagged)
}
