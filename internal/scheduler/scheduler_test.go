package scheduler

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/license"
	"github.com/javajoker/imi-market/internal/store"
)

var (
	holder = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	t0     = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	oneEth = decimal.New(1, 18)
)

const interval = 30 * day

type fakeLicenses map[uint64]license.License

func (f fakeLicenses) Get(id uint64) (license.License, error) {
	l, ok := f[id]
	if !ok {
		return license.License{}, apperr.NotFound("license.get", "license %d", id)
	}
	return l, nil
}

func at(days int) time.Time {
	return t0.Add(time.Duration(days) * day)
}

func run(fn func(tx *store.Tx) error) error {
	tx := store.NewTx()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

func setup(t *testing.T) (*Scheduler, fakeLicenses) {
	t.Helper()
	lics := fakeLicenses{
		1: {ID: 1, ParentAssetID: 10, Supply: 1, Price: oneEth, PaymentInterval: interval, MaxMissedPayments: 3, PenaltyRateBps: 500},
		2: {ID: 2, ParentAssetID: 10, Supply: 1, Price: oneEth},
	}
	s := New(lics)
	require.NoError(t, run(func(tx *store.Tx) error {
		_, err := s.Enroll(tx, 1, holder, t0)
		return err
	}))
	return s, lics
}

func pay(s *Scheduler, payer common.Address, amt decimal.Decimal, now time.Time) (Charge, error) {
	var c Charge
	err := run(func(tx *store.Tx) (err error) {
		c, err = s.MakePayment(tx, payer, 1, amt, now)
		return err
	})
	return c, err
}

func TestMissedPeriodsFormula(t *testing.T) {
	tests := []struct {
		now  time.Time
		want uint64
	}{
		{at(29), 0},
		{at(30), 0},
		{at(33), 0},
		{at(33).Add(time.Second), 1},
		{at(62), 1},
		{at(64), 2},
		{at(94), 3},
		{at(124), 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, missedPeriods(t0, interval, tt.now), "at %s", tt.now)
	}
}

func TestPenaltyAccruesAfterGrace(t *testing.T) {
	s, _ := setup(t)

	within, err := s.Penalty(1, at(32))
	require.NoError(t, err)
	assert.True(t, within.IsZero())

	oneDay, err := s.Penalty(1, at(34))
	require.NoError(t, err)
	assert.Equal(t, "136986301369863", oneDay.String())

	month, err := s.Penalty(1, at(64))
	require.NoError(t, err)
	assert.Equal(t, "4246575342465753", month.String())
	assert.True(t, month.GreaterThan(oneDay))

	total, err := s.TotalDue(1, at(34))
	require.NoError(t, err)
	assert.True(t, total.Equal(oneEth.Add(oneDay)))
}

func TestMakePaymentAdvancesOneInterval(t *testing.T) {
	s, _ := setup(t)

	due, err := s.IsDue(1, at(29))
	require.NoError(t, err)
	assert.False(t, due)
	_, err = pay(s, holder, oneEth, at(29))
	assert.True(t, apperr.Is(err, apperr.KindState))

	charge, err := pay(s, holder, oneEth.Add(decimal.NewFromInt(136986301369863)), at(34))
	require.NoError(t, err)
	assert.Equal(t, at(30), charge.PeriodStart)
	assert.Equal(t, at(60), charge.NextDue)

	st, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, at(30), st.LastPaymentTime, "schedule keeps its original cadence")
	assert.Equal(t, uint64(0), st.ConsecutiveMissed)
	assert.Equal(t, uint64(1), st.PaymentsMade)
}

func TestExactAmountRequired(t *testing.T) {
	s, _ := setup(t)
	_, err := pay(s, holder, oneEth.Add(decimal.NewFromInt(1)), at(31))
	assert.True(t, apperr.Is(err, apperr.KindInsufficientFunds))
	_, err = pay(s, holder, oneEth.Sub(decimal.NewFromInt(1)), at(31))
	assert.True(t, apperr.Is(err, apperr.KindInsufficientFunds))

	st, _ := s.Get(1)
	assert.Equal(t, t0, st.LastPaymentTime)
}

func TestOnlyResponsibleHolderPays(t *testing.T) {
	s, _ := setup(t)
	_, err := pay(s, buyer, oneEth, at(31))
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestInactiveLicenseFailsClosed(t *testing.T) {
	s, lics := setup(t)
	lic := lics[1]
	lic.IsRevoked = true
	lics[1] = lic
	_, err := pay(s, holder, oneEth, at(31))
	assert.True(t, apperr.Is(err, apperr.KindState))
}

func TestLatePaymentResetsMissedCount(t *testing.T) {
	s, _ := setup(t)

	missed, err := s.MissedPayments(1, at(94))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), missed)

	recorded := uint64(0)
	require.NoError(t, run(func(tx *store.Tx) (err error) {
		recorded, err = s.RecordMissedPayments(tx, 1, at(94))
		return err
	}))
	assert.Equal(t, uint64(3), recorded)

	total, err := s.TotalDue(1, at(94))
	require.NoError(t, err)
	_, err = pay(s, holder, total, at(94))
	require.NoError(t, err)

	missed, err = s.MissedPayments(1, at(94))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), missed)
	st, _ := s.Get(1)
	assert.Equal(t, uint64(0), st.ConsecutiveMissed)

	// a new due date missed after the payment counts again from one
	missed, err = s.MissedPayments(1, at(125))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), missed)
}

func TestPayingWithinGraceKeepsCountAtZero(t *testing.T) {
	s, _ := setup(t)
	for period := 1; period <= 4; period++ {
		now := at(period*30 + 2)
		total, err := s.TotalDue(1, now)
		require.NoError(t, err)
		assert.True(t, total.Equal(oneEth))
		_, err = pay(s, holder, total, now)
		require.NoError(t, err)

		missed, err := s.MissedPayments(1, now)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), missed)
	}
}

func TestHandoverCarriesState(t *testing.T) {
	s, _ := setup(t)
	require.NoError(t, run(func(tx *store.Tx) (err error) {
		_, err = s.RecordMissedPayments(tx, 1, at(64))
		return err
	}))

	var st State
	require.NoError(t, run(func(tx *store.Tx) (err error) {
		st, err = s.Enroll(tx, 1, buyer, at(65))
		return err
	}))
	assert.Equal(t, buyer, st.Holder)
	assert.Equal(t, t0, st.LastPaymentTime)
	assert.Equal(t, uint64(2), st.ConsecutiveMissed)

	_, err := pay(s, holder, oneEth, at(65))
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestOneTimeLicenseRejected(t *testing.T) {
	s, _ := setup(t)
	err := run(func(tx *store.Tx) error {
		_, err := s.Enroll(tx, 2, holder, t0)
		return err
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = s.IsDue(404, t0)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestQuote(t *testing.T) {
	s, _ := setup(t)
	q, err := s.Quote(1, at(64))
	require.NoError(t, err)
	assert.True(t, q.Due)
	assert.Equal(t, at(30), q.NextDue)
	assert.Equal(t, uint64(2), q.MissedPayments)
	assert.True(t, q.Total.Equal(q.Base.Add(q.Penalty)))
}
