package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/assets"
	"github.com/javajoker/imi-market/internal/ledger"
	"github.com/javajoker/imi-market/internal/license"
	"github.com/javajoker/imi-market/internal/marketplace"
	"github.com/javajoker/imi-market/internal/store"
)

var (
	treasury = common.HexToAddress("0x0000000000000000000000000000000000000f01")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	t0       = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	var tick int64
	clock := func() time.Time {
		return t0.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
	}
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	e, err := New(Config{
		Ledger:             ledger.Config{Treasury: treasury, PlatformFeeBps: 250, DefaultRoyaltyBps: 1000},
		DisputeAutoExecute: true,
	}, WithClock(clock), WithLogger(log))
	require.NoError(t, err)
	return e
}

func account(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

func totalBalances(e *Engine) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range e.Ledger.Export().Balances {
		sum = sum.Add(b.Value)
	}
	return sum
}

func TestNewRejectsInvalidLedgerConfig(t *testing.T) {
	_, err := New(Config{Ledger: ledger.Config{PlatformFeeBps: 250}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	e := newEngine(t)
	var hookCalls int
	e.OnCommit(func(string, []store.Event) { hookCalls++ })

	boom := errors.New("boom")
	_, err := e.Update("test.fail", func(tx *store.Tx, now time.Time) error {
		if _, err := e.Assets.Register(tx, creator, "ipfs://a", now); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, e.Assets.AssetExists(1))
	assert.Zero(t, hookCalls)

	events, err := e.Update("asset.register", func(tx *store.Tx, now time.Time) error {
		_, err := e.Assets.Register(tx, creator, "ipfs://a", now)
		return err
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.False(t, events[0].OccurredAt.IsZero())
	assert.Equal(t, 1, hookCalls)

	a, err := e.Assets.Get(1)
	require.NoError(t, err)
	assert.Equal(t, creator, a.Creator)
}

func TestUpdateRecoversPanics(t *testing.T) {
	e := newEngine(t)
	_, err := e.Update("test.panic", func(tx *store.Tx, now time.Time) error {
		if _, err := e.Assets.Register(tx, creator, "ipfs://a", now); err != nil {
			return err
		}
		panic("unreachable state")
	})
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.False(t, e.Assets.AssetExists(1))

	// the writer lock was released
	_, err = e.Update("asset.register", func(tx *store.Tx, now time.Time) error {
		_, err := e.Assets.Register(tx, creator, "ipfs://a", now)
		return err
	})
	assert.NoError(t, err)
}

func TestHookPanicAfterCommitIsNotAnError(t *testing.T) {
	e := newEngine(t)
	var after int
	e.OnCommit(func(string, []store.Event) { panic("hook failed") })
	e.OnCommit(func(string, []store.Event) { after++ })

	events, err := e.Update("asset.register", func(tx *store.Tx, now time.Time) error {
		_, err := e.Assets.Register(tx, creator, "ipfs://a", now)
		return err
	})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
	assert.True(t, e.Assets.AssetExists(1))
	assert.Equal(t, 1, after)

	// both locks were released
	_, err = e.Update("asset.register", func(tx *store.Tx, now time.Time) error {
		_, err := e.Assets.Register(tx, creator, "ipfs://b", now)
		return err
	})
	require.NoError(t, err)
	assert.True(t, e.Assets.AssetExists(2))
	assert.Equal(t, 2, after)
}

func TestUnfundedOfferCannotMintWithdrawableBalance(t *testing.T) {
	e := newEngine(t)
	attacker := account(99)
	huge := decimal.RequireFromString("1000000000000000000000000")
	_, err := e.Update("asset.register", func(tx *store.Tx, now time.Time) error {
		_, err := e.Assets.Register(tx, creator, "ipfs://work", now)
		return err
	})
	require.NoError(t, err)

	_, err = e.Update("market.create_offer", func(tx *store.Tx, now time.Time) error {
		_, err := e.Market.CreateOffer(tx, attacker, marketplace.AssetRef{Kind: marketplace.KindUnique, ID: 1}, huge, now.Add(time.Hour), now)
		return err
	})
	assert.True(t, apperr.Is(err, apperr.KindInsufficientFunds))
	assert.True(t, e.Market.Escrowed().IsZero())

	_, err = e.Update("ledger.withdraw", func(tx *store.Tx, _ time.Time) error {
		_, err := e.Ledger.Withdraw(tx, attacker)
		return err
	})
	assert.True(t, apperr.Is(err, apperr.KindInsufficientFunds))
	assert.True(t, totalBalances(e).IsZero())
}

func fund(tx *store.Tx, e *Engine, who common.Address, v decimal.Decimal, ref string, now time.Time) error {
	_, err := e.Ledger.Deposit(tx, who, v, ref, now)
	return err
}

// Concurrent buyers and bidders never create or destroy value: the ledger
// plus open escrow always equals what was deposited.
func TestConcurrentTradingConservesValue(t *testing.T) {
	e := newEngine(t)
	const buyers = 24
	price := decimal.NewFromInt(1003)

	var lic license.License
	var listings []marketplace.Listing
	deposited := decimal.Zero
	_, err := e.Update("setup", func(tx *store.Tx, now time.Time) error {
		a, err := e.Assets.Register(tx, creator, "ipfs://work", now)
		if err != nil {
			return err
		}
		if err := e.Ledger.ConfigureSplit(tx, a.ID, []common.Address{creator}, []uint32{10000}); err != nil {
			return err
		}
		if lic, err = e.Licenses.Mint(tx, creator, license.MintParams{ParentAssetID: a.ID, Supply: buyers, Price: price}, now); err != nil {
			return err
		}
		for i := 0; i < buyers; i++ {
			ref := marketplace.AssetRef{Kind: marketplace.KindUnits, ID: lic.ID, Units: 1}
			l, err := e.Market.CreateListing(tx, creator, ref, price, now.Add(time.Duration(i)))
			if err != nil {
				return err
			}
			listings = append(listings, l)

			v := price.Add(decimal.NewFromInt(int64(100 + i)))
			if err := fund(tx, e, account(i), v, fmt.Sprintf("setup:%d", i), now); err != nil {
				return err
			}
			deposited = deposited.Add(v)
		}
		return nil
	})
	require.NoError(t, err)

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < buyers; i++ {
		i := i
		buyer := account(i)
		g.Go(func() error {
			_, err := e.Update("market.buy_listing", func(tx *store.Tx, now time.Time) error {
				_, err := e.Market.BuyListing(tx, buyer, listings[i].ID, price, now)
				return err
			})
			if err != nil {
				return fmt.Errorf("buyer %d: %w", i, err)
			}
			return nil
		})
		g.Go(func() error {
			bid := decimal.NewFromInt(int64(100 + i))
			var off marketplace.Offer
			_, err := e.Update("market.create_offer", func(tx *store.Tx, now time.Time) (err error) {
				ref := marketplace.AssetRef{Kind: marketplace.KindUnits, ID: lic.ID, Units: 1}
				off, err = e.Market.CreateOffer(tx, buyer, ref, bid, now.Add(time.Hour), now)
				return err
			})
			if err != nil {
				return err
			}
			if i%2 == 0 {
				return nil
			}
			_, err = e.Update("market.cancel_offer", func(tx *store.Tx, now time.Time) error {
				_, err := e.Market.CancelOffer(tx, buyer, off.ID, now)
				return err
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	err = e.View(func(time.Time) error {
		assert.True(t, totalBalances(e).Add(e.Market.Escrowed()).Equal(deposited))
		assert.EqualValues(t, 0, e.Assets.HolderBalance(lic.ID, creator))
		for i := 0; i < buyers; i++ {
			assert.EqualValues(t, 1, e.Assets.HolderBalance(lic.ID, account(i)))
		}
		assert.Len(t, e.Market.OffersFor(marketplace.AssetRef{Kind: marketplace.KindUnits, ID: lic.ID}), buyers)
		return nil
	})
	require.NoError(t, err)
}

func TestHooksSeeCommitsInOrder(t *testing.T) {
	e := newEngine(t)
	var mu sync.Mutex
	var ids []string
	e.OnCommit(func(op string, events []store.Event) {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if ev.Type == assets.EventAssetRegistered {
				ids = append(ids, ev.Key)
			}
		}
	})

	g := new(errgroup.Group)
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			_, err := e.Update("asset.register", func(tx *store.Tx, now time.Time) error {
				_, err := e.Assets.Register(tx, creator, "ipfs://x", now)
				return err
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, ids, 32)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("asset:%d", i+1), id)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := newEngine(t)
	var l marketplace.Listing
	_, err := e.Update("setup", func(tx *store.Tx, now time.Time) error {
		a, err := e.Assets.Register(tx, creator, "ipfs://work", now)
		if err != nil {
			return err
		}
		lic, err := e.Licenses.Mint(tx, creator, license.MintParams{ParentAssetID: a.ID, Supply: 3, Price: decimal.NewFromInt(50), PaymentInterval: 30 * 24 * time.Hour}, now)
		if err != nil {
			return err
		}
		l, err = e.Market.CreateListing(tx, creator, marketplace.AssetRef{Kind: marketplace.KindUnits, ID: lic.ID, Units: 1}, decimal.NewFromInt(50), now)
		if err != nil {
			return err
		}
		if err := fund(tx, e, account(1), decimal.NewFromInt(50), "manual:wire-1", now); err != nil {
			return err
		}
		_, err = e.Market.BuyListing(tx, account(1), l.ID, decimal.NewFromInt(50), now)
		return err
	})
	require.NoError(t, err)

	data, err := e.Snapshot().Marshal()
	require.NoError(t, err)
	snap, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	restored := newEngine(t)
	require.NoError(t, restored.Restore(snap))

	assert.True(t, restored.Ledger.Balance(creator).Equal(e.Ledger.Balance(creator)))
	assert.EqualValues(t, 1, restored.Assets.HolderBalance(1, account(1)))
	st, err := restored.Scheduler.Get(1)
	require.NoError(t, err)
	assert.Equal(t, account(1), st.Holder)
	got, err := restored.Market.GetListing(l.ID)
	require.NoError(t, err)
	assert.Equal(t, marketplace.StatusSold, got.Status)
	_, ok := restored.Ledger.GetDeposit("manual:wire-1")
	assert.True(t, ok)

	// sequences continue after the restored ids
	_, err = restored.Update("asset.register", func(tx *store.Tx, now time.Time) error {
		a, err := restored.Assets.Register(tx, creator, "ipfs://next", now)
		if err == nil && a.ID != 2 {
			return fmt.Errorf("got asset id %d", a.ID)
		}
		return err
	})
	assert.NoError(t, err)

	snap.Version = 99
	assert.True(t, apperr.Is(restored.Restore(snap), apperr.KindValidation))
}
