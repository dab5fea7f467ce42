// Package scheduler tracks recurring license payments: when the next period
// is due, how many due dates have been missed beyond the grace period, and the
// late penalty owed on top of the base price.
package scheduler

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/javajoker/imi-market/internal/amount"
	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/license"
	"github.com/javajoker/imi-market/internal/store"
)

// GracePeriod follows each due date before a payment counts as missed.
const GracePeriod = 3 * 24 * time.Hour

const (
	day             = 24 * time.Hour
	daysPerYear     = 365
	EventEnrolled   = "payment.enrolled"
	EventPaid       = "payment.made"
	EventMissedSync = "payment.missed_recorded"
	EventHandover   = "payment.responsibility_transferred"
)

// Licenses is the read side of the license registry.
type Licenses interface {
	Get(id uint64) (license.License, error)
}

// State is the per-license schedule. LastPaymentTime is the start of the
// current unpaid period. LastPaidAt is when a payment last succeeded, or the
// enrollment time before the first payment.
type State struct {
	LicenseID         uint64         `json:"license_id"`
	LastPaymentTime   time.Time      `json:"last_payment_time"`
	LastPaidAt        time.Time      `json:"last_paid_at"`
	ConsecutiveMissed uint64         `json:"consecutive_missed"`
	Holder            common.Address `json:"current_responsible_holder"`
	PaymentsMade      uint64         `json:"payments_made"`
}

// NextDue is the due date of the current period.
func (s State) NextDue(interval time.Duration) time.Time {
	return s.LastPaymentTime.Add(interval)
}

// Charge is the outcome of a successful payment.
type Charge struct {
	LicenseID     uint64          `json:"license_id"`
	ParentAssetID uint64          `json:"parent_asset_id"`
	Payer         common.Address  `json:"payer"`
	Base          decimal.Decimal `json:"base"`
	Penalty       decimal.Decimal `json:"penalty"`
	Total         decimal.Decimal `json:"total"`
	PeriodStart   time.Time       `json:"period_start"`
	NextDue       time.Time       `json:"next_due"`
	PaidAt        time.Time       `json:"paid_at"`
}

// Quote is a read-only view of what a holder owes at a point in time.
type Quote struct {
	LicenseID      uint64          `json:"license_id"`
	Due            bool            `json:"due"`
	NextDue        time.Time       `json:"next_due"`
	MissedPayments uint64          `json:"missed_payments"`
	Base           decimal.Decimal `json:"base"`
	Penalty        decimal.Decimal `json:"penalty"`
	Total          decimal.Decimal `json:"total"`
}

type Scheduler struct {
	states   *store.Table[uint64, State]
	licenses Licenses
}

func New(licenses Licenses) *Scheduler {
	return &Scheduler{
		states:   store.NewTable[uint64, State](),
		licenses: licenses,
	}
}

func key(id uint64) string {
	return "license:" + strconv.FormatUint(id, 10)
}

// missedPeriods counts due dates more than GracePeriod in the past, measured
// from a schedule anchored at last.
func missedPeriods(last time.Time, interval time.Duration, now time.Time) uint64 {
	graceEnd := last.Add(interval).Add(GracePeriod)
	if !now.After(graceEnd) {
		return 0
	}
	return uint64(now.Sub(graceEnd)/interval) + 1
}

// penalty is simple annualized interest on base for whole days late past
// the grace period.
func penalty(base decimal.Decimal, rateBps uint32, last time.Time, interval time.Duration, now time.Time) decimal.Decimal {
	graceEnd := last.Add(interval).Add(GracePeriod)
	if !now.After(graceEnd) {
		return decimal.Zero
	}
	daysLate := int64(now.Sub(graceEnd) / day)
	num := base.Mul(decimal.NewFromInt(int64(rateBps))).Mul(decimal.NewFromInt(daysLate))
	return amount.FloorDiv(num, decimal.NewFromInt(amount.BpsDenominator*daysPerYear))
}

func (s *Scheduler) recurring(op string, id uint64) (license.License, error) {
	lic, err := s.licenses.Get(id)
	if err != nil {
		return license.License{}, err
	}
	if !lic.Recurring() {
		return license.License{}, apperr.Validation(op, "license %d has no recurring payments", id)
	}
	return lic, nil
}

func (s *Scheduler) state(op string, id uint64) (State, error) {
	st, ok := s.states.Get(id)
	if !ok {
		return State{}, apperr.NotFound(op, "license %d has no payment schedule", id)
	}
	return st, nil
}

// Enroll starts the schedule for a recurring license on its first acquisition,
// or hands responsibility to holder when a schedule already exists. A handover
// keeps the schedule and missed count as they are.
func (s *Scheduler) Enroll(tx *store.Tx, licenseID uint64, holder common.Address, now time.Time) (State, error) {
	const op = "scheduler.enroll"
	if _, err := s.recurring(op, licenseID); err != nil {
		return State{}, err
	}
	if holder == (common.Address{}) {
		return State{}, apperr.Validation(op, "holder is the zero address")
	}

	if st, ok := s.states.Get(licenseID); ok {
		if st.Holder == holder {
			return st, nil
		}
		from := st.Holder
		st.Holder = holder
		s.states.Put(tx, licenseID, st)
		tx.Emit(store.Event{
			Type:       EventHandover,
			Key:        key(licenseID),
			Payload:    map[string]interface{}{"license_id": licenseID, "from": from, "to": holder},
			OccurredAt: now,
		})
		return st, nil
	}

	st := State{LicenseID: licenseID, LastPaymentTime: now, LastPaidAt: now, Holder: holder}
	s.states.Put(tx, licenseID, st)
	tx.Emit(store.Event{Type: EventEnrolled, Key: key(licenseID), Payload: st, OccurredAt: now})
	return st, nil
}

func (s *Scheduler) Get(licenseID uint64) (State, error) {
	return s.state("scheduler.get", licenseID)
}

// IsDue reports whether the current period's due date has arrived.
func (s *Scheduler) IsDue(licenseID uint64, now time.Time) (bool, error) {
	const op = "scheduler.is_due"
	lic, err := s.recurring(op, licenseID)
	if err != nil {
		return false, err
	}
	st, err := s.state(op, licenseID)
	if err != nil {
		return false, err
	}
	return !now.Before(st.NextDue(lic.PaymentInterval)), nil
}

// MissedPayments is the live consecutive missed count: due dates overdue
// beyond grace now, less those already overdue when the last payment
// succeeded.
func (s *Scheduler) MissedPayments(licenseID uint64, now time.Time) (uint64, error) {
	const op = "scheduler.missed_payments"
	lic, err := s.recurring(op, licenseID)
	if err != nil {
		return 0, err
	}
	st, err := s.state(op, licenseID)
	if err != nil {
		return 0, err
	}
	return liveMissed(st, lic.PaymentInterval, now), nil
}

func liveMissed(st State, interval time.Duration, now time.Time) uint64 {
	total := missedPeriods(st.LastPaymentTime, interval, now)
	settled := missedPeriods(st.LastPaymentTime, interval, st.LastPaidAt)
	if total <= settled {
		return 0
	}
	return total - settled
}

func (s *Scheduler) Penalty(licenseID uint64, now time.Time) (decimal.Decimal, error) {
	q, err := s.Quote(licenseID, now)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Penalty, nil
}

// TotalDue is the base price plus the current penalty.
func (s *Scheduler) TotalDue(licenseID uint64, now time.Time) (decimal.Decimal, error) {
	q, err := s.Quote(licenseID, now)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Total, nil
}

func (s *Scheduler) Quote(licenseID uint64, now time.Time) (Quote, error) {
	const op = "scheduler.quote"
	lic, err := s.recurring(op, licenseID)
	if err != nil {
		return Quote{}, err
	}
	st, err := s.state(op, licenseID)
	if err != nil {
		return Quote{}, err
	}
	pen := penalty(lic.Price, lic.PenaltyRateBps, st.LastPaymentTime, lic.PaymentInterval, now)
	next := st.NextDue(lic.PaymentInterval)
	return Quote{
		LicenseID:      licenseID,
		Due:            !now.Before(next),
		NextDue:        next,
		MissedPayments: liveMissed(st, lic.PaymentInterval, now),
		Base:           lic.Price,
		Penalty:        pen,
		Total:          lic.Price.Add(pen),
	}, nil
}

// MakePayment settles the current period. amountSent must equal the total
// due exactly. The schedule advances by one interval from the previous
// period start, not to now, and the missed count resets.
func (s *Scheduler) MakePayment(tx *store.Tx, payer common.Address, licenseID uint64, amountSent decimal.Decimal, now time.Time) (Charge, error) {
	const op = "scheduler.make_payment"
	lic, err := s.recurring(op, licenseID)
	if err != nil {
		return Charge{}, err
	}
	st, err := s.state(op, licenseID)
	if err != nil {
		return Charge{}, err
	}
	if payer != st.Holder {
		return Charge{}, apperr.Authorization(op, "%s is not the responsible holder of license %d", payer.Hex(), licenseID)
	}
	if !lic.Active() || lic.PastExpiry(now) {
		return Charge{}, apperr.State(op, "license %d is not active", licenseID)
	}
	next := st.NextDue(lic.PaymentInterval)
	if now.Before(next) {
		return Charge{}, apperr.State(op, "license %d is not due until %s", licenseID, next.Format(time.RFC3339))
	}

	pen := penalty(lic.Price, lic.PenaltyRateBps, st.LastPaymentTime, lic.PaymentInterval, now)
	total := lic.Price.Add(pen)
	if !amountSent.Equal(total) {
		return Charge{}, apperr.InsufficientFunds(op, "sent %s, due %s", amountSent, total)
	}

	charge := Charge{
		LicenseID:     licenseID,
		ParentAssetID: lic.ParentAssetID,
		Payer:         payer,
		Base:          lic.Price,
		Penalty:       pen,
		Total:         total,
		PeriodStart:   st.LastPaymentTime,
		NextDue:       next.Add(lic.PaymentInterval),
		PaidAt:        now,
	}

	st.LastPaymentTime = next
	st.LastPaidAt = now
	st.ConsecutiveMissed = 0
	st.PaymentsMade++
	s.states.Put(tx, licenseID, st)
	tx.Emit(store.Event{Type: EventPaid, Key: key(licenseID), Payload: charge, OccurredAt: now})
	return charge, nil
}

// RecordMissedPayments checkpoints the live missed count into the stored
// state and returns it.
func (s *Scheduler) RecordMissedPayments(tx *store.Tx, licenseID uint64, now time.Time) (uint64, error) {
	const op = "scheduler.record_missed_payments"
	lic, err := s.recurring(op, licenseID)
	if err != nil {
		return 0, err
	}
	st, err := s.state(op, licenseID)
	if err != nil {
		return 0, err
	}
	live := liveMissed(st, lic.PaymentInterval, now)
	if live == st.ConsecutiveMissed {
		return live, nil
	}
	st.ConsecutiveMissed = live
	s.states.Put(tx, licenseID, st)
	tx.Emit(store.Event{Type: EventMissedSync, Key: key(licenseID), Payload: st, OccurredAt: now})
	return live, nil
}

type Snapshot struct {
	States []store.Entry[uint64, State] `json:"states"`
}

func (s *Scheduler) Export() Snapshot {
	return Snapshot{States: s.states.Entries()}
}

func (s *Scheduler) Import(snap Snapshot) {
	s.states.Load(snap.States)
}
