// internal/services/ledger_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/engine"
	"github.com/javajoker/imi-market/internal/ledger"
	"github.com/javajoker/imi-market/internal/models"
	"github.com/javajoker/imi-market/internal/payout"
	"github.com/javajoker/imi-market/internal/store"
	"github.com/javajoker/imi-market/internal/utils"
)

// PayoutStore persists payout accounts and payout attempts.
type PayoutStore interface {
	UpsertAccount(ctx context.Context, address, stripeAccountID string) (*models.PayoutAccount, error)
	Account(ctx context.Context, address string) (*models.PayoutAccount, error)
	Create(ctx context.Context, p *models.Payout) error
	Update(ctx context.Context, p *models.Payout) error
	ForAddress(ctx context.Context, address string, offset, limit int) ([]models.Payout, int64, error)
}

type PayoutObserver interface {
	ObservePayout(executor, status string)
}

// Funding confirms card payments before they are deposited into the ledger.
type Funding interface {
	CreateFundingIntent(ctx context.Context, addr common.Address, amt decimal.Decimal) (payout.Intent, error)
	ConfirmFunding(ctx context.Context, intentID string) (payout.Funded, error)
}

type LedgerService struct {
	eng      *engine.Engine
	payouts  PayoutStore
	stripe   payout.Executor
	funding  Funding
	observer PayoutObserver
}

type ConfigureSplitRequest struct {
	Recipients []string `json:"recipients" validate:"required,min=1,max=50,dive,eth_addr"`
	Shares     []uint32 `json:"shares" validate:"required,min=1,max=50,dive,max=10000"`
}

type SetRoyaltyRequest struct {
	Bps uint32 `json:"bps" validate:"max=10000"`
}

type SetPayoutAccountRequest struct {
	StripeAccountID string `json:"stripe_account_id" validate:"required,startswith=acct_,max=255"`
}

type DepositIntentRequest struct {
	Amount string `json:"amount" validate:"required,amount"`
}

type ConfirmDepositRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required,startswith=pi_,max=255"`
}

type ManualDepositRequest struct {
	Address   string `json:"address" validate:"required,eth_addr"`
	Amount    string `json:"amount" validate:"required,amount"`
	Reference string `json:"reference" validate:"required,max=128"`
}

type RoyaltyInfo struct {
	Receiver common.Address  `json:"receiver"`
	Amount   decimal.Decimal `json:"amount"`
}

type BalanceView struct {
	Address     common.Address  `json:"address"`
	Balance     decimal.Decimal `json:"balance"`
	TotalEarned decimal.Decimal `json:"total_earned"`
}

// NewLedgerService wires withdrawals to stripe when it is non-nil; callers
// without a payout account are always paid out manually. Card deposits are
// refused while funding is nil.
func NewLedgerService(eng *engine.Engine, payouts PayoutStore, stripe payout.Executor, funding Funding, observer PayoutObserver) *LedgerService {
	return &LedgerService{
		eng:      eng,
		payouts:  payouts,
		stripe:   stripe,
		funding:  funding,
		observer: observer,
	}
}

func (s *LedgerService) requireOwner(op string, p authz.Principal, assetID uint64) error {
	owner, err := s.eng.Assets.OwnerOf(assetID)
	if err != nil {
		return err
	}
	if owner != p.Address {
		return apperr.Authorization(op, "%s does not own asset %d", p.Address.Hex(), assetID)
	}
	return nil
}

// ConfigureSplit replaces the royalty split of an asset the caller owns.
func (s *LedgerService) ConfigureSplit(p authz.Principal, assetID uint64, req *ConfigureSplitRequest) (ledger.Split, error) {
	const op = "ledger.configure_split"
	if err := utils.ValidateStruct(req); err != nil {
		return ledger.Split{}, err
	}
	recipients, err := parseAddresses(op, req.Recipients)
	if err != nil {
		return ledger.Split{}, err
	}

	_, err = s.eng.Update(op, func(tx *store.Tx, _ time.Time) error {
		if err := s.requireOwner(op, p, assetID); err != nil {
			return err
		}
		return s.eng.Ledger.ConfigureSplit(tx, assetID, recipients, req.Shares)
	})
	if err != nil {
		return ledger.Split{}, err
	}
	return s.GetSplit(assetID)
}

func (s *LedgerService) GetSplit(assetID uint64) (ledger.Split, error) {
	var split ledger.Split
	err := s.eng.View(func(time.Time) error {
		var ok bool
		if split, ok = s.eng.Ledger.GetSplit(assetID); !ok {
			return apperr.NotFound("ledger.get_split", "asset %d has no split", assetID)
		}
		return nil
	})
	return split, err
}

func (s *LedgerService) SetDefaultRoyalty(p authz.Principal, req *SetRoyaltyRequest) error {
	const op = "ledger.set_default_royalty"
	if err := utils.ValidateStruct(req); err != nil {
		return err
	}
	_, err := s.eng.Update(op, func(tx *store.Tx, _ time.Time) error {
		if err := p.Require(op, authz.CapAdmin); err != nil {
			return err
		}
		return s.eng.Ledger.SetDefaultRoyalty(tx, req.Bps)
	})
	return err
}

func (s *LedgerService) SetAssetRoyalty(p authz.Principal, assetID uint64, req *SetRoyaltyRequest) error {
	const op = "ledger.set_asset_royalty"
	if err := utils.ValidateStruct(req); err != nil {
		return err
	}
	_, err := s.eng.Update(op, func(tx *store.Tx, _ time.Time) error {
		if err := s.requireOwner(op, p, assetID); err != nil {
			return err
		}
		return s.eng.Ledger.SetAssetRoyalty(tx, assetID, req.Bps)
	})
	return err
}

func (s *LedgerService) SetPlatformFee(p authz.Principal, req *SetRoyaltyRequest) error {
	const op = "ledger.set_platform_fee"
	if err := utils.ValidateStruct(req); err != nil {
		return err
	}
	_, err := s.eng.Update(op, func(tx *store.Tx, _ time.Time) error {
		if err := p.Require(op, authz.CapAdmin); err != nil {
			return err
		}
		return s.eng.Ledger.SetPlatformFee(tx, req.Bps)
	})
	return err
}

func (s *LedgerService) RoyaltyInfo(assetID uint64, salePrice string) (RoyaltyInfo, error) {
	const op = "ledger.royalty_info"
	price, err := parseAmount(op, salePrice)
	if err != nil {
		return RoyaltyInfo{}, err
	}
	var info RoyaltyInfo
	err = s.eng.View(func(time.Time) error {
		if !s.eng.Assets.AssetExists(assetID) {
			return apperr.NotFound(op, "asset %d does not exist", assetID)
		}
		info.Receiver, info.Amount = s.eng.Ledger.RoyaltyInfo(assetID, price)
		return nil
	})
	return info, err
}

func (s *LedgerService) Balance(addr common.Address) BalanceView {
	view := BalanceView{Address: addr}
	s.eng.View(func(time.Time) error {
		view.Balance = s.eng.Ledger.Balance(addr)
		view.TotalEarned = s.eng.Ledger.TotalEarned(addr)
		return nil
	})
	return view
}

// CreateDepositIntent opens a card payment that funds the caller's balance
// once it succeeds and is confirmed.
func (s *LedgerService) CreateDepositIntent(ctx context.Context, p authz.Principal, req *DepositIntentRequest) (payout.Intent, error) {
	const op = "ledger.deposit_intent"
	if err := utils.ValidateStruct(req); err != nil {
		return payout.Intent{}, err
	}
	if s.funding == nil {
		return payout.Intent{}, apperr.State(op, "card deposits are not configured")
	}
	amt, err := parseAmount(op, req.Amount)
	if err != nil {
		return payout.Intent{}, err
	}
	in, err := s.funding.CreateFundingIntent(ctx, p.Address, amt)
	if errors.Is(err, payout.ErrUnrepresentable) {
		return payout.Intent{}, apperr.Validation(op, "%v", err)
	}
	if err != nil {
		return payout.Intent{}, apperr.Wrap(op, err)
	}
	return in, nil
}

// ConfirmDeposit credits the caller with a succeeded PaymentIntent. Each
// intent funds the ledger at most once.
func (s *LedgerService) ConfirmDeposit(ctx context.Context, p authz.Principal, req *ConfirmDepositRequest) (ledger.Deposit, error) {
	const op = "ledger.deposit"
	if err := utils.ValidateStruct(req); err != nil {
		return ledger.Deposit{}, err
	}
	if s.funding == nil {
		return ledger.Deposit{}, apperr.State(op, "card deposits are not configured")
	}
	funded, err := s.funding.ConfirmFunding(ctx, req.PaymentIntentID)
	switch {
	case errors.Is(err, payout.ErrNotSettled), errors.Is(err, payout.ErrWrongCurrency), errors.Is(err, payout.ErrUnattributed):
		return ledger.Deposit{}, apperr.State(op, "%v", err)
	case err != nil:
		return ledger.Deposit{}, apperr.Wrap(op, err)
	}
	if funded.Address != p.Address {
		return ledger.Deposit{}, apperr.Authorization(op, "payment %s funds %s", req.PaymentIntentID, funded.Address.Hex())
	}
	return s.deposit(op, funded.Address, funded.Amount, funded.Reference)
}

// ManualDeposit lets an admin fund an account from an off-platform transfer.
func (s *LedgerService) ManualDeposit(p authz.Principal, req *ManualDepositRequest) (ledger.Deposit, error) {
	const op = "ledger.manual_deposit"
	if err := p.Require(op, authz.CapAdmin); err != nil {
		return ledger.Deposit{}, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return ledger.Deposit{}, err
	}
	amt, err := parseAmount(op, req.Amount)
	if err != nil {
		return ledger.Deposit{}, err
	}
	return s.deposit(op, common.HexToAddress(req.Address), amt, "manual:"+req.Reference)
}

func (s *LedgerService) deposit(op string, addr common.Address, amt decimal.Decimal, reference string) (ledger.Deposit, error) {
	var d ledger.Deposit
	_, err := s.eng.Update(op, func(tx *store.Tx, now time.Time) (err error) {
		d, err = s.eng.Ledger.Deposit(tx, addr, amt, reference, now)
		return err
	})
	return d, err
}

func (s *LedgerService) SetPayoutAccount(ctx context.Context, p authz.Principal, req *SetPayoutAccountRequest) (*models.PayoutAccount, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	account, err := s.payouts.UpsertAccount(ctx, p.Address.Hex(), req.StripeAccountID)
	if err != nil {
		return nil, apperr.Wrap("ledger.set_payout_account", err)
	}
	return account, nil
}

func (s *LedgerService) Payouts(ctx context.Context, p authz.Principal, params utils.PaginationParams) (utils.PaginationResult, error) {
	payouts, total, err := s.payouts.ForAddress(ctx, p.Address.Hex(), params.Offset(), params.Limit)
	if err != nil {
		return utils.PaginationResult{}, apperr.Wrap("ledger.payouts", err)
	}
	return utils.CreatePaginationResult(payouts, total, params), nil
}

func (s *LedgerService) executorFor(ctx context.Context, addr common.Address) (payout.Executor, string) {
	if s.stripe == nil {
		return payout.Manual{}, ""
	}
	account, err := s.payouts.Account(ctx, addr.Hex())
	if err != nil {
		logrus.WithError(err).WithField("address", addr.Hex()).Warn("Payout account lookup failed, paying out manually")
		return payout.Manual{}, ""
	}
	if account == nil {
		return payout.Manual{}, ""
	}
	return s.stripe, account.StripeAccountID
}

// Withdraw zeroes the caller's ledger balance and pays it out. If the payout
// cannot be recorded or executed, the amount is credited back.
func (s *LedgerService) Withdraw(ctx context.Context, p authz.Principal) (*models.Payout, error) {
	const op = "ledger.withdraw"
	var amt decimal.Decimal
	_, err := s.eng.Update(op, func(tx *store.Tx, _ time.Time) error {
		var err error
		amt, err = s.eng.Ledger.Withdraw(tx, p.Address)
		return err
	})
	if err != nil {
		return nil, err
	}

	exec, dest := s.executorFor(ctx, p.Address)
	rec := &models.Payout{
		Address:     p.Address.Hex(),
		Amount:      amt,
		Executor:    exec.Name(),
		Destination: dest,
		Status:      models.PayoutStatusPending,
	}
	rec.ID = uuid.New()
	if err := s.payouts.Create(ctx, rec); err != nil {
		s.reverse(p.Address, amt)
		return nil, apperr.Wrap(op, err)
	}

	res, err := exec.Execute(ctx, payout.Request{ID: rec.ID, Address: p.Address, Amount: amt, Destination: dest})
	if err != nil {
		rec.Status = models.PayoutStatusFailed
		rec.FailureReason = err.Error()
		if uerr := s.payouts.Update(ctx, rec); uerr != nil {
			logrus.WithError(uerr).WithField("payout_id", rec.ID).Error("Failed to record payout failure")
		}
		s.reverse(p.Address, amt)
		s.observe(exec.Name(), rec.Status)
		return nil, apperr.State(op, "payout via %s failed: %v", exec.Name(), err)
	}

	completed := time.Now().UTC()
	rec.Status = models.PayoutStatusCompleted
	rec.ExternalRef = res.ExternalRef
	rec.CompletedAt = &completed
	if err := s.payouts.Update(ctx, rec); err != nil {
		logrus.WithError(err).WithField("payout_id", rec.ID).Error("Failed to record completed payout")
	}
	s.observe(exec.Name(), rec.Status)
	return rec, nil
}

func (s *LedgerService) reverse(addr common.Address, amt decimal.Decimal) {
	_, err := s.eng.Update("ledger.payout_reversal", func(tx *store.Tx, _ time.Time) error {
		return s.eng.Ledger.Credit(tx, addr, amt, "payout_reversal")
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"address": addr.Hex(),
			"amount":  amt.String(),
		}).Error("Failed to reverse payout")
	}
}

func (s *LedgerService) observe(executor string, status models.PayoutStatus) {
	if s.observer != nil {
		s.observer.ObservePayout(executor, string(status))
	}
}
