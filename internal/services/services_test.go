package services

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v74"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/config"
	"github.com/javajoker/imi-market/internal/database"
	"github.com/javajoker/imi-market/internal/dispute"
	"github.com/javajoker/imi-market/internal/engine"
	"github.com/javajoker/imi-market/internal/ledger"
	"github.com/javajoker/imi-market/internal/marketplace"
	"github.com/javajoker/imi-market/internal/models"
	"github.com/javajoker/imi-market/internal/payout"
	"github.com/javajoker/imi-market/internal/utils"
)

var (
	treasury   = common.HexToAddress("0x0000000000000000000000000000000000000f01")
	creator    = authz.NewPrincipal(common.HexToAddress("0x00000000000000000000000000000000000000a1"))
	collab     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	buyer      = authz.NewPrincipal(common.HexToAddress("0x00000000000000000000000000000000000000b1"))
	admin      = authz.NewPrincipal(common.HexToAddress("0x00000000000000000000000000000000000000d1"), authz.CapAdmin)
	arbitrator = authz.NewPrincipal(common.HexToAddress("0x00000000000000000000000000000000000000e1"), authz.CapArbitrator)
	t0         = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakePayouts struct {
	accounts  map[string]*models.PayoutAccount
	payouts   []*models.Payout
	createErr error
}

func newFakePayouts() *fakePayouts {
	return &fakePayouts{accounts: make(map[string]*models.PayoutAccount)}
}

func (f *fakePayouts) UpsertAccount(_ context.Context, address, stripeAccountID string) (*models.PayoutAccount, error) {
	a := &models.PayoutAccount{Address: address, StripeAccountID: stripeAccountID}
	f.accounts[address] = a
	return a, nil
}

func (f *fakePayouts) Account(_ context.Context, address string) (*models.PayoutAccount, error) {
	return f.accounts[address], nil
}

func (f *fakePayouts) Create(_ context.Context, p *models.Payout) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.payouts = append(f.payouts, p)
	return nil
}

func (f *fakePayouts) Update(context.Context, *models.Payout) error { return nil }

func (f *fakePayouts) ForAddress(_ context.Context, address string, offset, limit int) ([]models.Payout, int64, error) {
	var out []models.Payout
	for _, p := range f.payouts {
		if p.Address == address {
			out = append(out, *p)
		}
	}
	return out, int64(len(out)), nil
}

type failingExecutor struct{ calls int }

func (*failingExecutor) Name() string { return "stripe" }

func (f *failingExecutor) Execute(context.Context, payout.Request) (payout.Result, error) {
	f.calls++
	return payout.Result{}, errors.New("account restricted")
}

// fakeFunding settles intents the test marks as paid.
type fakeFunding struct {
	paid map[string]payout.Funded
}

func (f *fakeFunding) CreateFundingIntent(_ context.Context, addr common.Address, amt decimal.Decimal) (payout.Intent, error) {
	id := fmt.Sprintf("pi_%d", len(f.paid)+1)
	f.paid[id] = payout.Funded{Reference: "stripe:" + id, Address: addr, Amount: amt}
	return payout.Intent{ID: id, ClientSecret: id + "_secret", Amount: amt, Status: string(stripe.PaymentIntentStatusRequiresPaymentMethod)}, nil
}

func (f *fakeFunding) ConfirmFunding(_ context.Context, id string) (payout.Funded, error) {
	funded, ok := f.paid[id]
	if !ok {
		return payout.Funded{}, fmt.Errorf("%w: %s is requires_payment_method", payout.ErrNotSettled, id)
	}
	return funded, nil
}

type payoutCounter map[string]int

func (c payoutCounter) ObservePayout(executor, status string) { c[executor+"/"+status]++ }

type fakeJournal struct {
	events      []models.JournalEvent
	settlements []models.SettlementRecord
}

func (f *fakeJournal) Append(_ context.Context, events []models.JournalEvent, settlements []models.SettlementRecord) error {
	f.events = append(f.events, events...)
	f.settlements = append(f.settlements, settlements...)
	return nil
}

func (f *fakeJournal) Events(context.Context, database.JournalFilter) ([]models.JournalEvent, int64, error) {
	return f.events, int64(len(f.events)), nil
}

func (f *fakeJournal) Settlements(context.Context, uint64, int, int) ([]models.SettlementRecord, int64, error) {
	return f.settlements, int64(len(f.settlements)), nil
}

type fakeSnapshots struct {
	saved []models.EngineSnapshot
}

func (f *fakeSnapshots) Save(_ context.Context, version int, takenAt time.Time, data []byte) error {
	f.saved = append(f.saved, models.EngineSnapshot{Version: version, TakenAt: takenAt, Data: data})
	return nil
}

func (f *fakeSnapshots) Latest(context.Context) (*models.EngineSnapshot, error) {
	if len(f.saved) == 0 {
		return nil, database.ErrNoSnapshot
	}
	return &f.saved[len(f.saved)-1], nil
}

func (f *fakeSnapshots) Prune(context.Context, int) error { return nil }

type ServicesTestSuite struct {
	suite.Suite
	now      time.Time
	eng      *engine.Engine
	payouts  *fakePayouts
	funding  *fakeFunding
	journal  *fakeJournal
	observed payoutCounter
	log      *logrus.Logger

	assets   *AssetService
	ledger   *LedgerService
	licenses *LicenseService
	market   *MarketService
	disputes *DisputeService
	assetID  uint64
	wires    int
}

func (s *ServicesTestSuite) newEngine() *engine.Engine {
	eng, err := engine.New(engine.Config{
		Ledger:             ledger.Config{Treasury: treasury, Address: treasury, PlatformFeeBps: 250, DefaultRoyaltyBps: 1000},
		DisputeAutoExecute: true,
	}, engine.WithClock(func() time.Time { return s.now }), engine.WithLogger(s.log))
	s.Require().NoError(err)
	return eng
}

func (s *ServicesTestSuite) SetupTest() {
	s.now = t0
	s.log, _ = test.NewNullLogger()
	s.eng = s.newEngine()
	s.payouts = newFakePayouts()
	s.funding = &fakeFunding{paid: make(map[string]payout.Funded)}
	s.journal = &fakeJournal{}
	s.observed = payoutCounter{}
	s.eng.OnCommit(NewJournalService(s.journal, s.log).Record)

	s.assets = NewAssetService(s.eng)
	s.ledger = NewLedgerService(s.eng, s.payouts, nil, s.funding, s.observed)
	s.licenses = NewLicenseService(s.eng)
	s.market = NewMarketService(s.eng)
	s.disputes = NewDisputeService(s.eng, &StorageService{localDir: s.T().TempDir()})

	asset, err := s.assets.Register(creator, &RegisterAssetRequest{MetadataURI: "ipfs://work"})
	s.Require().NoError(err)
	s.assetID = asset.ID
	_, err = s.ledger.ConfigureSplit(creator, s.assetID, &ConfigureSplitRequest{
		Recipients: []string{creator.Address.Hex(), collab.Hex()},
		Shares:     []uint32{7000, 3000},
	})
	s.Require().NoError(err)
}

// fund credits who through an admin deposit of an off-platform wire.
func (s *ServicesTestSuite) fund(who common.Address, v string) {
	s.wires++
	_, err := s.ledger.ManualDeposit(admin, &ManualDepositRequest{
		Address:   who.Hex(),
		Amount:    v,
		Reference: fmt.Sprintf("wire-%d", s.wires),
	})
	s.Require().NoError(err)
}

func (s *ServicesTestSuite) sellUnique(price string) marketplace.Settlement {
	s.fund(buyer.Address, price)
	listing, err := s.market.CreateListing(creator, &CreateListingRequest{
		AssetRequest: AssetRequest{AssetKind: string(marketplace.KindUnique), AssetID: s.assetID},
		Price:        price,
	})
	s.Require().NoError(err)
	st, err := s.market.BuyListing(buyer, listing.ID, &BuyListingRequest{Payment: price})
	s.Require().NoError(err)
	return st
}

func TestServicesTestSuite(t *testing.T) {
	suite.Run(t, new(ServicesTestSuite))
}

func (s *ServicesTestSuite) TestAssetView() {
	lic, err := s.licenses.Mint(creator, &MintLicenseRequest{ParentAssetID: s.assetID, Supply: 10, Price: "100"})
	s.Require().NoError(err)

	view, err := s.assets.Get(s.assetID)
	s.Require().NoError(err)
	s.Equal(creator.Address, view.Owner)
	s.EqualValues(1, view.ActiveLicenses)
	s.EqualValues(1000, view.RoyaltyBps)
	s.Require().NotNil(view.Split)
	s.Equal([]uint32{7000, 3000}, view.Split.Shares)
	s.Require().Len(view.Licenses, 1)
	s.Equal(lic.ID, view.Licenses[0].ID)

	_, err = s.assets.Get(999)
	s.True(apperr.Is(err, apperr.KindNotFound))
}

func (s *ServicesTestSuite) TestSplitAndRoyaltyAuthorization() {
	_, err := s.ledger.ConfigureSplit(buyer, s.assetID, &ConfigureSplitRequest{
		Recipients: []string{buyer.Address.Hex()},
		Shares:     []uint32{10000},
	})
	s.True(apperr.Is(err, apperr.KindAuthorization))

	_, err = s.ledger.ConfigureSplit(creator, s.assetID, &ConfigureSplitRequest{
		Recipients: []string{"not-an-address"},
		Shares:     []uint32{10000},
	})
	s.Error(err)
	s.NotEmpty(utils.GetValidationErrors(err))

	s.True(apperr.Is(s.ledger.SetDefaultRoyalty(creator, &SetRoyaltyRequest{Bps: 500}), apperr.KindAuthorization))
	s.NoError(s.ledger.SetDefaultRoyalty(admin, &SetRoyaltyRequest{Bps: 500}))
	s.True(apperr.Is(s.ledger.SetAssetRoyalty(buyer, s.assetID, &SetRoyaltyRequest{Bps: 200}), apperr.KindAuthorization))
	s.NoError(s.ledger.SetAssetRoyalty(creator, s.assetID, &SetRoyaltyRequest{Bps: 200}))
	s.NoError(s.ledger.SetPlatformFee(admin, &SetRoyaltyRequest{Bps: 100}))

	info, err := s.ledger.RoyaltyInfo(s.assetID, "10000")
	s.Require().NoError(err)
	s.Equal(treasury, info.Receiver)
	s.True(decimal.NewFromInt(200).Equal(info.Amount))

	_, err = s.ledger.RoyaltyInfo(42, "10000")
	s.True(apperr.Is(err, apperr.KindNotFound))
	_, err = s.ledger.RoyaltyInfo(s.assetID, "1.5")
	s.True(apperr.Is(err, apperr.KindValidation))
}

func (s *ServicesTestSuite) TestWithdrawManual() {
	s.sellUnique("10000")
	s.True(decimal.NewFromInt(9750).Equal(s.ledger.Balance(creator.Address).Balance))

	rec, err := s.ledger.Withdraw(context.Background(), creator)
	s.Require().NoError(err)
	s.Equal(models.PayoutStatusCompleted, rec.Status)
	s.Equal("manual", rec.Executor)
	s.True(decimal.NewFromInt(9750).Equal(rec.Amount))
	s.True(strings.HasPrefix(rec.ExternalRef, "manual:"))
	s.True(s.ledger.Balance(creator.Address).Balance.IsZero())
	s.True(decimal.NewFromInt(9750).Equal(s.ledger.Balance(creator.Address).TotalEarned))
	s.Equal(1, s.observed["manual/completed"])

	_, err = s.ledger.Withdraw(context.Background(), creator)
	s.True(apperr.Is(err, apperr.KindInsufficientFunds))
}

func (s *ServicesTestSuite) TestWithdrawFailureIsReversed() {
	exec := &failingExecutor{}
	s.ledger = NewLedgerService(s.eng, s.payouts, exec, s.funding, s.observed)
	_, err := s.ledger.SetPayoutAccount(context.Background(), creator, &SetPayoutAccountRequest{StripeAccountID: "acct_123"})
	s.Require().NoError(err)
	s.sellUnique("10000")

	_, err = s.ledger.Withdraw(context.Background(), creator)
	s.True(apperr.Is(err, apperr.KindState))
	s.Equal(1, exec.calls)
	s.True(decimal.NewFromInt(9750).Equal(s.ledger.Balance(creator.Address).Balance))
	s.Require().Len(s.payouts.payouts, 1)
	s.Equal(models.PayoutStatusFailed, s.payouts.payouts[0].Status)
	s.Equal("acct_123", s.payouts.payouts[0].Destination)
	s.Equal(1, s.observed["stripe/failed"])

	// A payout that cannot be recorded is reversed before execution.
	s.payouts.createErr = errors.New("db down")
	_, err = s.ledger.Withdraw(context.Background(), creator)
	s.True(apperr.Is(err, apperr.KindInternal))
	s.Equal(1, exec.calls)
	s.True(decimal.NewFromInt(9750).Equal(s.ledger.Balance(creator.Address).Balance))
}

func (s *ServicesTestSuite) TestJournalRecordsSettlements() {
	st := s.sellUnique("10000")
	s.Equal(marketplace.SalePrimary, st.Kind)

	s.Require().Len(s.journal.settlements, 1)
	rec := s.journal.settlements[0]
	s.Equal("listing", rec.Source)
	s.Equal(st.ListingID.Hex(), rec.ListingID)
	s.Equal(buyer.Address.Hex(), rec.Buyer)
	s.True(decimal.NewFromInt(250).Equal(rec.PlatformFee))
	s.Empty(rec.RoyaltyRecipients)

	var types []string
	for _, ev := range s.journal.events {
		types = append(types, ev.Type)
	}
	s.Contains(types, marketplace.EventListingSold)
	s.Contains(types, ledger.EventPaymentDistributed)

	// The resale is secondary and pays royalties to the split.
	listing, err := s.market.CreateListing(buyer, &CreateListingRequest{
		AssetRequest: AssetRequest{AssetKind: string(marketplace.KindUnique), AssetID: s.assetID},
		Price:        "20000",
	})
	s.Require().NoError(err)
	s.fund(creator.Address, "20000")
	_, err = s.market.BuyListing(creator, listing.ID, &BuyListingRequest{Payment: "20000"})
	s.Require().NoError(err)
	s.Require().Len(s.journal.settlements, 2)
	resale := s.journal.settlements[1]
	s.Equal(string(marketplace.SaleSecondary), resale.SaleKind)
	s.Equal([]string{creator.Address.Hex(), collab.Hex()}, []string(resale.RoyaltyRecipients))
	s.Equal([]string{"1400", "600"}, []string(resale.RoyaltyAmounts))
}

func (s *ServicesTestSuite) TestRecurringLicenseThroughServices() {
	lic, err := s.licenses.Mint(creator, &MintLicenseRequest{
		ParentAssetID:          s.assetID,
		Supply:                 1,
		Price:                  "1000",
		PaymentIntervalSeconds: int64((30 * 24 * time.Hour).Seconds()),
		MaxMissedPayments:      2,
	})
	s.Require().NoError(err)

	listing, err := s.market.CreateListing(creator, &CreateListingRequest{
		AssetRequest: AssetRequest{AssetKind: string(marketplace.KindUnits), AssetID: lic.ID, Units: 1},
		Price:        "1000",
	})
	s.Require().NoError(err)
	s.fund(buyer.Address, "1000")
	_, err = s.market.BuyListing(buyer, listing.ID, &BuyListingRequest{Payment: "1000"})
	s.Require().NoError(err)

	view, err := s.licenses.Get(lic.ID)
	s.Require().NoError(err)
	s.True(view.IsActive)
	s.Require().NotNil(view.Schedule)
	s.Equal(buyer.Address, view.Schedule.Holder)
	units, err := s.licenses.UnitsHeld(lic.ID, buyer.Address)
	s.Require().NoError(err)
	s.EqualValues(1, units)

	s.now = t0.Add(30 * 24 * time.Hour)
	q, err := s.licenses.PaymentQuote(lic.ID)
	s.Require().NoError(err)
	s.True(q.Due)
	_, err = s.licenses.MakeRecurringPayment(buyer, lic.ID, &PaymentRequest{Amount: q.Total.String()})
	s.True(apperr.Is(err, apperr.KindInsufficientFunds))
	s.fund(buyer.Address, q.Total.String())
	st, err := s.licenses.MakeRecurringPayment(buyer, lic.ID, &PaymentRequest{Amount: q.Total.String()})
	s.Require().NoError(err)
	s.Equal(marketplace.SaleSecondary, st.Kind)

	s.now = s.now.Add(100 * 24 * time.Hour)
	missed, err := s.licenses.RecordMissedPayments(lic.ID)
	s.Require().NoError(err)
	s.GreaterOrEqual(missed, uint64(2))
	s.Require().NoError(s.licenses.RevokeForMissedPayments(lic.ID, &RevokeMissedRequest{Observed: 2}))

	view, err = s.licenses.Get(lic.ID)
	s.Require().NoError(err)
	s.False(view.IsActive)
	s.True(view.IsRevoked)
}

func (s *ServicesTestSuite) TestExpiryAndRevocation() {
	expiry := t0.Add(time.Hour)
	lic, err := s.licenses.Mint(creator, &MintLicenseRequest{ParentAssetID: s.assetID, Supply: 5, Price: "10", ExpiryTime: &expiry})
	s.Require().NoError(err)
	perpetual, err := s.licenses.Mint(creator, &MintLicenseRequest{ParentAssetID: s.assetID, Supply: 5, Price: "10"})
	s.Require().NoError(err)

	s.True(apperr.Is(s.licenses.MarkExpired(lic.ID), apperr.KindState))
	s.now = t0.Add(2 * time.Hour)
	marked, err := s.licenses.BatchMarkExpired(&BatchExpireRequest{IDs: []uint64{lic.ID, perpetual.ID, 999}})
	s.Require().NoError(err)
	s.Equal([]uint64{lic.ID}, marked)

	s.True(apperr.Is(s.licenses.Revoke(creator, perpetual.ID), apperr.KindAuthorization))
	s.NoError(s.licenses.Revoke(admin, perpetual.ID))
	s.True(apperr.Is(s.licenses.SetPenaltyRate(creator, perpetual.ID, &PenaltyRateRequest{Bps: 100}), apperr.KindState))
}

func (s *ServicesTestSuite) TestOffersAndPause() {
	s.fund(buyer.Address, "5000")
	offer, err := s.market.CreateOffer(buyer, &CreateOfferRequest{
		AssetRequest: AssetRequest{AssetKind: string(marketplace.KindUnique), AssetID: s.assetID},
		Amount:       "5000",
		ExpiresAt:    t0.Add(24 * time.Hour),
	})
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(5000).Equal(s.market.Status().Escrowed))

	offers, err := s.market.OffersFor(&AssetRequest{AssetKind: string(marketplace.KindUnique), AssetID: s.assetID})
	s.Require().NoError(err)
	s.Len(offers, 1)

	s.True(apperr.Is(s.market.Pause(creator), apperr.KindAuthorization))
	s.Require().NoError(s.market.Pause(admin))
	s.True(s.market.Status().Paused)
	_, err = s.market.AcceptOffer(creator, offer.ID)
	s.True(apperr.Is(err, apperr.KindState))
	s.Require().NoError(s.market.Unpause(admin))

	st, err := s.market.AcceptOffer(creator, offer.ID)
	s.Require().NoError(err)
	s.Equal(marketplace.SourceOffer, st.Source)
	s.True(s.market.Status().Escrowed.IsZero())

	got, err := s.market.GetOffer(offer.ID)
	s.Require().NoError(err)
	s.False(got.Active)
}

func (s *ServicesTestSuite) TestUnfundedBuyAndOfferAreRejected() {
	listing, err := s.market.CreateListing(creator, &CreateListingRequest{
		AssetRequest: AssetRequest{AssetKind: string(marketplace.KindUnique), AssetID: s.assetID},
		Price:        "10000",
	})
	s.Require().NoError(err)

	_, err = s.market.BuyListing(buyer, listing.ID, &BuyListingRequest{Payment: "10000"})
	s.True(apperr.Is(err, apperr.KindInsufficientFunds))
	got, err := s.market.GetListing(listing.ID)
	s.Require().NoError(err)
	s.True(got.Active)
	s.True(s.ledger.Balance(creator.Address).Balance.IsZero())

	offerReq := &CreateOfferRequest{
		AssetRequest: AssetRequest{AssetKind: string(marketplace.KindUnique), AssetID: s.assetID},
		Amount:       "5000",
		ExpiresAt:    t0.Add(24 * time.Hour),
	}
	_, err = s.market.CreateOffer(buyer, offerReq)
	s.True(apperr.Is(err, apperr.KindInsufficientFunds))
	s.True(s.market.Status().Escrowed.IsZero())

	// a refunded offer returns exactly what was deposited, nothing more
	s.fund(buyer.Address, "5000")
	offer, err := s.market.CreateOffer(buyer, offerReq)
	s.Require().NoError(err)
	s.True(s.ledger.Balance(buyer.Address).Balance.IsZero())
	_, err = s.market.CancelOffer(buyer, offer.ID)
	s.Require().NoError(err)
	rec, err := s.ledger.Withdraw(context.Background(), buyer)
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(5000).Equal(rec.Amount))
	_, err = s.ledger.Withdraw(context.Background(), buyer)
	s.True(apperr.Is(err, apperr.KindInsufficientFunds))
}

func (s *ServicesTestSuite) TestCardDeposits() {
	ctx := context.Background()
	in, err := s.ledger.CreateDepositIntent(ctx, buyer, &DepositIntentRequest{Amount: "10000"})
	s.Require().NoError(err)

	_, err = s.ledger.ConfirmDeposit(ctx, creator, &ConfirmDepositRequest{PaymentIntentID: in.ID})
	s.True(apperr.Is(err, apperr.KindAuthorization), "intent belongs to the buyer")
	_, err = s.ledger.ConfirmDeposit(ctx, buyer, &ConfirmDepositRequest{PaymentIntentID: "pi_unpaid"})
	s.True(apperr.Is(err, apperr.KindState))
	_, err = s.ledger.ConfirmDeposit(ctx, buyer, &ConfirmDepositRequest{PaymentIntentID: "ch_123"})
	s.Error(err)
	s.NotEmpty(utils.GetValidationErrors(err))

	d, err := s.ledger.ConfirmDeposit(ctx, buyer, &ConfirmDepositRequest{PaymentIntentID: in.ID})
	s.Require().NoError(err)
	s.Equal("stripe:"+in.ID, d.Reference)
	s.True(decimal.NewFromInt(10000).Equal(s.ledger.Balance(buyer.Address).Balance))
	s.True(s.ledger.Balance(buyer.Address).TotalEarned.IsZero())

	_, err = s.ledger.ConfirmDeposit(ctx, buyer, &ConfirmDepositRequest{PaymentIntentID: in.ID})
	s.True(apperr.Is(err, apperr.KindState), "an intent funds the ledger once")
	s.True(decimal.NewFromInt(10000).Equal(s.ledger.Balance(buyer.Address).Balance))

	_, err = s.ledger.ManualDeposit(creator, &ManualDepositRequest{Address: creator.Address.Hex(), Amount: "1", Reference: "x"})
	s.True(apperr.Is(err, apperr.KindAuthorization))
	s.fund(collab, "1")
	_, err = s.ledger.ManualDeposit(admin, &ManualDepositRequest{Address: collab.Hex(), Amount: "1", Reference: "wire-1"})
	s.True(apperr.Is(err, apperr.KindState))

	unconfigured := NewLedgerService(s.eng, s.payouts, nil, nil, s.observed)
	_, err = unconfigured.ConfirmDeposit(ctx, buyer, &ConfirmDepositRequest{PaymentIntentID: in.ID})
	s.True(apperr.Is(err, apperr.KindState))
	_, err = unconfigured.CreateDepositIntent(ctx, buyer, &DepositIntentRequest{Amount: "1"})
	s.True(apperr.Is(err, apperr.KindState))
}

func (s *ServicesTestSuite) TestDisputeLifecycle() {
	lic, err := s.licenses.Mint(creator, &MintLicenseRequest{ParentAssetID: s.assetID, Supply: 1, Price: "10"})
	s.Require().NoError(err)

	_, err = s.disputes.Submit(buyer, &SubmitDisputeRequest{LicenseID: lic.ID, Reason: "copied"})
	s.True(apperr.Is(err, apperr.KindAuthorization))

	d, err := s.disputes.Submit(creator, &SubmitDisputeRequest{LicenseID: lic.ID, Reason: "copied", ProofRef: "s3://bucket/evidence/x.pdf"})
	s.Require().NoError(err)
	s.Equal(dispute.StatusPending, d.Status)
	s.False(d.Overdue)
	s.Equal(t0.Add(dispute.ResolutionWindow), d.Deadline)

	s.now = t0.Add(dispute.ResolutionWindow + time.Hour)
	d, err = s.disputes.Get(d.ID)
	s.Require().NoError(err)
	s.True(d.Overdue)
	s.Equal("0s", d.TimeRemaining)

	approve := true
	_, err = s.disputes.Resolve(creator, d.ID, &ResolveDisputeRequest{Approve: &approve})
	s.True(apperr.Is(err, apperr.KindAuthorization))
	d, err = s.disputes.Resolve(arbitrator, d.ID, &ResolveDisputeRequest{Approve: &approve, Reason: "confirmed"})
	s.Require().NoError(err)
	s.Equal(dispute.StatusExecuted, d.Status)

	list, err := s.disputes.ForLicense(lic.ID)
	s.Require().NoError(err)
	s.Len(list, 1)
	view, err := s.licenses.Get(lic.ID)
	s.Require().NoError(err)
	s.True(view.IsRevoked)

	_, err = s.disputes.ForLicense(999)
	s.True(apperr.Is(err, apperr.KindNotFound))

	_, err = s.disputes.EvidenceURL(buyer, d.ID)
	s.True(apperr.Is(err, apperr.KindAuthorization))
	_, err = s.disputes.EvidenceURL(creator, d.ID)
	s.True(apperr.Is(err, apperr.KindState))
}

func (s *ServicesTestSuite) TestSnapshotRoundTrip() {
	s.sellUnique("10000")
	store := &fakeSnapshots{}

	fresh := NewSnapshotService(s.newEngine(), store, s.log)
	s.Require().NoError(fresh.Restore(context.Background()))

	s.Require().NoError(NewSnapshotService(s.eng, store, s.log).Save(context.Background()))
	restored := s.newEngine()
	s.Require().NoError(NewSnapshotService(restored, store, s.log).Restore(context.Background()))
	s.True(decimal.NewFromInt(9750).Equal(restored.Ledger.Balance(creator.Address)))
	owner, err := restored.Assets.OwnerOf(s.assetID)
	s.Require().NoError(err)
	s.Equal(buyer.Address, owner)
}

func TestWalletLogin(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	utils.SetJWTSecret("test-secret")
	auth := NewAuthService(config.JWTConfig{
		AccessTokenTTL: 1,
		ChallengeTTL:   60,
		AdminAddresses: []string{addr.Hex()},
	})

	sign := func(message string) string {
		sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
		require.NoError(t, err)
		sig[crypto.RecoveryIDOffset] += 27
		return hexutil.Encode(sig)
	}

	ch, err := auth.Challenge(&ChallengeRequest{Address: addr.Hex()})
	require.NoError(t, err)
	assert.Contains(t, ch.Message, addr.Hex())

	res, err := auth.Login(&LoginRequest{Address: addr.Hex(), Signature: sign(ch.Message)})
	require.NoError(t, err)
	assert.Equal(t, []authz.Capability{authz.CapAdmin}, res.Capabilities)
	claims, err := utils.ValidateJWT(res.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.Principal().Has(authz.CapAdmin))

	// Challenges are single use.
	_, err = auth.Login(&LoginRequest{Address: addr.Hex(), Signature: sign(ch.Message)})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	ch, err = auth.Challenge(&ChallengeRequest{Address: addr.Hex()})
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(ch.Message)), other)
	require.NoError(t, err)
	_, err = auth.Login(&LoginRequest{Address: addr.Hex(), Signature: hexutil.Encode(sig)})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	auth.clock = func() time.Time { return time.Now().Add(time.Hour) }
	ch, err = auth.Challenge(&ChallengeRequest{Address: addr.Hex()})
	require.NoError(t, err)
	auth.clock = func() time.Time { return time.Now().Add(3 * time.Hour) }
	_, err = auth.Login(&LoginRequest{Address: addr.Hex(), Signature: sign(ch.Message)})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func evidenceFile(t *testing.T, name, body string) (multipart.File, *multipart.FileHeader) {
	f, err := os.CreateTemp(t.TempDir(), "upload")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(body); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f, &multipart.FileHeader{Filename: name, Size: int64(len(body)), Header: textproto.MIMEHeader{}}
}

func TestStorageLocalEvidence(t *testing.T) {
	dir := t.TempDir()
	storage := &StorageService{localDir: dir}

	f, h := evidenceFile(t, "proof.txt", "original sketch")
	res, err := storage.UploadEvidence(f, h)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ProofRef, "file://"))
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(res.Key)))
	require.NoError(t, err)
	assert.Equal(t, "original sketch", string(data))
	assert.Len(t, res.SHA256, 64)

	f, h = evidenceFile(t, "payload.exe", "MZ")
	_, err = storage.UploadEvidence(f, h)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = storage.PresignedURL(res.Key, time.Minute)
	assert.True(t, apperr.Is(err, apperr.KindState))
}

type fakeS3 struct {
	s3iface.S3API
	puts []*s3.PutObjectInput
}

func (f *fakeS3) PutObject(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestStorageS3Evidence(t *testing.T) {
	client := &fakeS3{}
	storage := NewStorageServiceWithClient(client, "evidence-bucket")

	f, h := evidenceFile(t, "Proof.PDF", "%PDF-1.7")
	res, err := storage.UploadEvidence(f, h)
	require.NoError(t, err)
	require.Len(t, client.puts, 1)
	assert.Equal(t, "evidence-bucket", aws.StringValue(client.puts[0].Bucket))
	assert.Equal(t, fmt.Sprintf("s3://evidence-bucket/%s", res.Key), res.ProofRef)
	assert.True(t, strings.HasSuffix(res.Key, ".pdf"))

	key, ok := storage.objectKey(res.ProofRef)
	assert.True(t, ok)
	assert.Equal(t, res.Key, key)
	_, ok = storage.objectKey("s3://other-bucket/" + res.Key)
	assert.False(t, ok)
}
