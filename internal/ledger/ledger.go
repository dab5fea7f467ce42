// Package ledger keeps the pull-based revenue ledger: per-address balances,
// per-asset revenue splits and royalty rates, and the platform fee.
//
// Every distribution conserves value exactly: the treasury fee, the seller's
// proceeds and the royalty credits always add up to the gross amount.
package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/javajoker/imi-market/internal/amount"
	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/store"
)

const (
	EventSplitConfigured    = "split.configured"
	EventPaymentDistributed = "payment.distributed"
	EventRoyaltyConfigured  = "royalty.configured"
	EventFeeConfigured      = "fee.configured"
	EventBalanceWithdrawn   = "balance.withdrawn"
	EventBalanceCredited    = "balance.credited"
	EventBalanceDeposited   = "balance.deposited"
	EventBalanceDebited     = "balance.debited"
)

// Credit roles.
const (
	RolePlatformFee = "platform_fee"
	RoleSeller      = "seller"
	RoleRoyalty     = "royalty"
)

type Config struct {
	// Address is reported by RoyaltyInfo as the royalty receiver.
	Address           common.Address
	Treasury          common.Address
	PlatformFeeBps    uint32
	DefaultRoyaltyBps uint32
}

func (c Config) Validate() error {
	if c.Treasury == (common.Address{}) {
		return apperr.Validation("ledger.config", "treasury address is required")
	}
	if !amount.ValidBps(c.PlatformFeeBps) {
		return apperr.Validation("ledger.config", "platform fee %d bps exceeds 10000", c.PlatformFeeBps)
	}
	if !amount.ValidBps(c.DefaultRoyaltyBps) {
		return apperr.Validation("ledger.config", "default royalty %d bps exceeds 10000", c.DefaultRoyaltyBps)
	}
	return nil
}

type Split struct {
	Recipients []common.Address `json:"recipients"`
	Shares     []uint32         `json:"shares"`
}

// Deposit records money that entered the ledger from outside, keyed by the
// external payment reference that funded it.
type Deposit struct {
	Reference string          `json:"reference"`
	Account   common.Address  `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	At        time.Time       `json:"at"`
}

type Credit struct {
	Account common.Address  `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	Role    string          `json:"role"`
}

// Payment describes one settlement handed to Distribute.
type Payment struct {
	AssetID   uint64
	Gross     decimal.Decimal
	Seller    common.Address
	Secondary bool
	At        time.Time
}

// Distribution is the breakdown of a single Distribute call.
type Distribution struct {
	AssetID        uint64          `json:"asset_id"`
	Gross          decimal.Decimal `json:"gross"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	Royalty        decimal.Decimal `json:"royalty"`
	SellerProceeds decimal.Decimal `json:"seller_proceeds"`
	Secondary      bool            `json:"secondary"`
	Treasury       common.Address  `json:"treasury"`
	Seller         common.Address  `json:"seller"`
	RoyaltyCredits []Credit        `json:"royalty_credits,omitempty"`
}

// Total returns the sum of every credit the distribution made.
func (d Distribution) Total() decimal.Decimal {
	total := d.PlatformFee.Add(d.SellerProceeds)
	for _, c := range d.RoyaltyCredits {
		total = total.Add(c.Amount)
	}
	return total
}

type Ledger struct {
	cfg            Config
	balances       *store.Table[common.Address, decimal.Decimal]
	earned         *store.Table[common.Address, decimal.Decimal]
	deposits       *store.Table[string, Deposit]
	splits         *store.Table[uint64, Split]
	royalties      *store.Table[uint64, uint32]
	platformFee    *store.Value[uint32]
	defaultRoyalty *store.Value[uint32]
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		cfg:            cfg,
		balances:       store.NewTable[common.Address, decimal.Decimal](),
		earned:         store.NewTable[common.Address, decimal.Decimal](),
		deposits:       store.NewTable[string, Deposit](),
		splits:         store.NewTable[uint64, Split](),
		royalties:      store.NewTable[uint64, uint32](),
		platformFee:    store.NewValue(cfg.PlatformFeeBps),
		defaultRoyalty: store.NewValue(cfg.DefaultRoyaltyBps),
	}, nil
}

func (l *Ledger) Treasury() common.Address {
	return l.cfg.Treasury
}

// ConfigureSplit replaces the split for assetID. Whoever calls it must already
// have checked that the caller controls the asset.
func (l *Ledger) ConfigureSplit(tx *store.Tx, assetID uint64, recipients []common.Address, shares []uint32) error {
	const op = "ledger.configure_split"
	if len(recipients) == 0 {
		return apperr.Validation(op, "split needs at least one recipient")
	}
	if len(recipients) != len(shares) {
		return apperr.Validation(op, "%d recipients but %d shares", len(recipients), len(shares))
	}

	seen := make(map[common.Address]struct{}, len(recipients))
	var sum uint64
	for i, r := range recipients {
		if r == (common.Address{}) {
			return apperr.Validation(op, "recipient %d is the zero address", i)
		}
		if _, dup := seen[r]; dup {
			return apperr.Validation(op, "recipient %s appears more than once", r.Hex())
		}
		seen[r] = struct{}{}
		sum += uint64(shares[i])
	}
	if sum != amount.BpsDenominator {
		return apperr.Validation(op, "shares sum to %d, want %d", sum, amount.BpsDenominator)
	}

	split := Split{
		Recipients: append([]common.Address(nil), recipients...),
		Shares:     append([]uint32(nil), shares...),
	}
	l.splits.Put(tx, assetID, split)
	tx.Emit(store.Event{Type: EventSplitConfigured, Key: assetKey(assetID), Payload: split})
	return nil
}

func (l *Ledger) GetSplit(assetID uint64) (Split, bool) {
	return l.splits.Get(assetID)
}

// Distribute credits fee, royalty and seller proceeds for one payment.
func (l *Ledger) Distribute(tx *store.Tx, p Payment) (Distribution, error) {
	const op = "ledger.distribute"
	if !amount.IsWhole(p.Gross) {
		return Distribution{}, apperr.Validation(op, "gross amount %s is not a whole non-negative amount", p.Gross)
	}
	if p.Seller == (common.Address{}) {
		return Distribution{}, apperr.Validation(op, "seller is the zero address")
	}

	fee := amount.MulBps(p.Gross, l.platformFee.Get())
	remaining := p.Gross.Sub(fee)

	d := Distribution{
		AssetID:     p.AssetID,
		Gross:       p.Gross,
		PlatformFee: fee,
		Royalty:     decimal.Zero,
		Secondary:   p.Secondary,
		Treasury:    l.cfg.Treasury,
		Seller:      p.Seller,
	}

	split, hasSplit := l.splits.Get(p.AssetID)
	if p.Secondary && hasSplit {
		royalty := amount.MulBps(p.Gross, l.RoyaltyBps(p.AssetID))
		if royalty.GreaterThan(remaining) {
			royalty = remaining
		}
		d.Royalty = royalty
		d.RoyaltyCredits = splitRoyalty(royalty, split)
	}
	d.SellerProceeds = remaining.Sub(d.Royalty)

	l.credit(tx, l.cfg.Treasury, fee)
	l.credit(tx, p.Seller, d.SellerProceeds)
	for _, c := range d.RoyaltyCredits {
		l.credit(tx, c.Account, c.Amount)
	}

	tx.Emit(store.Event{Type: EventPaymentDistributed, Key: assetKey(p.AssetID), Payload: d, OccurredAt: p.At})
	return d, nil
}

// splitRoyalty floors each share and gives the remainder to the last
// recipient in split order.
func splitRoyalty(royalty decimal.Decimal, split Split) []Credit {
	credits := make([]Credit, len(split.Recipients))
	allocated := decimal.Zero
	for i, r := range split.Recipients {
		part := amount.MulBps(royalty, split.Shares[i])
		credits[i] = Credit{Account: r, Amount: part, Role: RoleRoyalty}
		allocated = allocated.Add(part)
	}
	last := len(credits) - 1
	credits[last].Amount = credits[last].Amount.Add(royalty.Sub(allocated))
	return credits
}

func (l *Ledger) credit(tx *store.Tx, account common.Address, amt decimal.Decimal) {
	if amt.IsZero() {
		return
	}
	l.balances.Put(tx, account, l.Balance(account).Add(amt))
	l.earned.Put(tx, account, l.TotalEarned(account).Add(amt))
}

// Credit adds amt to account outside of a sale, for refunds of escrowed
// offers and reversed payouts. It does not count towards earnings.
func (l *Ledger) Credit(tx *store.Tx, account common.Address, amt decimal.Decimal, reason string) error {
	const op = "ledger.credit"
	if account == (common.Address{}) {
		return apperr.Validation(op, "account is the zero address")
	}
	if !amount.IsWhole(amt) || amt.IsZero() {
		return apperr.Validation(op, "credit amount %s must be a positive whole amount", amt)
	}
	l.balances.Put(tx, account, l.Balance(account).Add(amt))
	tx.Emit(store.Event{
		Type:    EventBalanceCredited,
		Key:     account.Hex(),
		Payload: Credit{Account: account, Amount: amt, Role: reason},
	})
	return nil
}

// Deposit credits amt to account for an external payment. Each reference
// funds the ledger at most once.
func (l *Ledger) Deposit(tx *store.Tx, account common.Address, amt decimal.Decimal, reference string, at time.Time) (Deposit, error) {
	const op = "ledger.deposit"
	if account == (common.Address{}) {
		return Deposit{}, apperr.Validation(op, "account is the zero address")
	}
	if reference == "" {
		return Deposit{}, apperr.Validation(op, "deposit reference is required")
	}
	if !amount.IsWhole(amt) || amt.IsZero() {
		return Deposit{}, apperr.Validation(op, "deposit amount %s must be a positive whole amount", amt)
	}
	if prev, ok := l.deposits.Get(reference); ok {
		return Deposit{}, apperr.State(op, "reference %s already funded %s", reference, prev.Account.Hex())
	}
	d := Deposit{Reference: reference, Account: account, Amount: amt, At: at}
	l.deposits.Put(tx, reference, d)
	l.balances.Put(tx, account, l.Balance(account).Add(amt))
	tx.Emit(store.Event{Type: EventBalanceDeposited, Key: account.Hex(), Payload: d, OccurredAt: at})
	return d, nil
}

func (l *Ledger) GetDeposit(reference string) (Deposit, bool) {
	return l.deposits.Get(reference)
}

// Debit takes amt from account's balance to fund a purchase, an offer escrow
// or a recurring payment.
func (l *Ledger) Debit(tx *store.Tx, account common.Address, amt decimal.Decimal, reason string) error {
	const op = "ledger.debit"
	if !amount.IsWhole(amt) {
		return apperr.Validation(op, "debit amount %s is not a whole non-negative amount", amt)
	}
	if amt.IsZero() {
		return nil
	}
	bal := l.Balance(account)
	if bal.LessThan(amt) {
		return apperr.InsufficientFunds(op, "%s holds %s, needs %s", account.Hex(), bal, amt)
	}
	l.balances.Put(tx, account, bal.Sub(amt))
	tx.Emit(store.Event{
		Type:    EventBalanceDebited,
		Key:     account.Hex(),
		Payload: Credit{Account: account, Amount: amt, Role: reason},
	})
	return nil
}

// Withdraw zeroes the caller's balance and returns what it held.
func (l *Ledger) Withdraw(tx *store.Tx, caller common.Address) (decimal.Decimal, error) {
	bal := l.Balance(caller)
	if !bal.IsPositive() {
		return decimal.Zero, apperr.InsufficientFunds("ledger.withdraw", "no balance for %s", caller.Hex())
	}
	l.balances.Put(tx, caller, decimal.Zero)
	tx.Emit(store.Event{
		Type:    EventBalanceWithdrawn,
		Key:     caller.Hex(),
		Payload: Credit{Account: caller, Amount: bal},
	})
	return bal, nil
}

func (l *Ledger) Balance(account common.Address) decimal.Decimal {
	if v, ok := l.balances.Get(account); ok {
		return v
	}
	return decimal.Zero
}

// TotalEarned is the lifetime sum of distribution credits for account.
func (l *Ledger) TotalEarned(account common.Address) decimal.Decimal {
	if v, ok := l.earned.Get(account); ok {
		return v
	}
	return decimal.Zero
}

// RoyaltyBps returns the asset's own rate, or the default when none is set.
func (l *Ledger) RoyaltyBps(assetID uint64) uint32 {
	if bps, ok := l.royalties.Get(assetID); ok {
		return bps
	}
	return l.defaultRoyalty.Get()
}

// RoyaltyInfo reports the receiver and amount owed on a sale at salePrice.
func (l *Ledger) RoyaltyInfo(assetID uint64, salePrice decimal.Decimal) (common.Address, decimal.Decimal) {
	return l.cfg.Address, amount.MulBps(salePrice, l.RoyaltyBps(assetID))
}

func (l *Ledger) SetDefaultRoyalty(tx *store.Tx, bps uint32) error {
	if !amount.ValidBps(bps) {
		return apperr.Validation("ledger.set_default_royalty", "royalty %d bps exceeds 10000", bps)
	}
	l.defaultRoyalty.Set(tx, bps)
	tx.Emit(store.Event{Type: EventRoyaltyConfigured, Key: "default", Payload: bps})
	return nil
}

func (l *Ledger) SetAssetRoyalty(tx *store.Tx, assetID uint64, bps uint32) error {
	if !amount.ValidBps(bps) {
		return apperr.Validation("ledger.set_asset_royalty", "royalty %d bps exceeds 10000", bps)
	}
	l.royalties.Put(tx, assetID, bps)
	tx.Emit(store.Event{Type: EventRoyaltyConfigured, Key: assetKey(assetID), Payload: bps})
	return nil
}

func (l *Ledger) SetPlatformFee(tx *store.Tx, bps uint32) error {
	if !amount.ValidBps(bps) {
		return apperr.Validation("ledger.set_platform_fee", "fee %d bps exceeds 10000", bps)
	}
	l.platformFee.Set(tx, bps)
	tx.Emit(store.Event{Type: EventFeeConfigured, Key: "platform", Payload: bps})
	return nil
}

func (l *Ledger) PlatformFeeBps() uint32 {
	return l.platformFee.Get()
}

func (l *Ledger) DefaultRoyaltyBps() uint32 {
	return l.defaultRoyalty.Get()
}

func assetKey(id uint64) string {
	return "asset:" + strconv.FormatUint(id, 10)
}

// State is the exported ledger contents used by snapshots.
type State struct {
	Balances       []store.Entry[common.Address, decimal.Decimal] `json:"balances"`
	Earned         []store.Entry[common.Address, decimal.Decimal] `json:"earned"`
	Deposits       []store.Entry[string, Deposit]                 `json:"deposits"`
	Splits         []store.Entry[uint64, Split]                   `json:"splits"`
	Royalties      []store.Entry[uint64, uint32]                  `json:"royalties"`
	PlatformFee    uint32                                         `json:"platform_fee_bps"`
	DefaultRoyalty uint32                                         `json:"default_royalty_bps"`
}

func (l *Ledger) Export() State {
	return State{
		Balances:       l.balances.Entries(),
		Earned:         l.earned.Entries(),
		Deposits:       l.deposits.Entries(),
		Splits:         l.splits.Entries(),
		Royalties:      l.royalties.Entries(),
		PlatformFee:    l.platformFee.Get(),
		DefaultRoyalty: l.defaultRoyalty.Get(),
	}
}

func (l *Ledger) Import(s State) error {
	for _, e := range s.Balances {
		if e.Value.IsNegative() {
			return fmt.Errorf("negative balance for %s in snapshot", e.Key.Hex())
		}
	}
	l.balances.Load(s.Balances)
	l.earned.Load(s.Earned)
	l.deposits.Load(s.Deposits)
	l.splits.Load(s.Splits)
	l.royalties.Load(s.Royalties)
	l.platformFee.Load(s.PlatformFee)
	l.defaultRoyalty.Load(s.DefaultRoyalty)
	return nil
}
