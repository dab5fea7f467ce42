// Package payout moves money across the ledger boundary. Executors pay
// withdrawn balances out and run outside the engine lock; a failed execution
// is reported to the caller, which re-credits the ledger. Card deposits are
// confirmed here before the ledger is funded.
package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/transfer"

	"github.com/javajoker/imi-market/internal/config"
)

var (
	ErrNoDestination   = errors.New("payout destination is not configured")
	ErrUnrepresentable = errors.New("amount is not representable in the payout currency")
)

type Request struct {
	ID          uuid.UUID
	Address     common.Address
	Amount      decimal.Decimal
	Destination string
}

type Result struct {
	ExternalRef string
}

type Executor interface {
	Name() string
	Execute(ctx context.Context, req Request) (Result, error)
}

// Manual records the payout for off-platform settlement by an operator.
type Manual struct{}

func (Manual) Name() string { return "manual" }

func (Manual) Execute(_ context.Context, req Request) (Result, error) {
	return Result{ExternalRef: "manual:" + req.ID.String()}, nil
}

// Stripe pays out through a Connect transfer to the destination account and
// takes card deposits through PaymentIntents.
type Stripe struct {
	currency  string
	scale     decimal.Decimal
	newIntent func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getIntent func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func NewStripe(cfg config.PaymentConfig) *Stripe {
	stripe.Key = cfg.StripeSecretKey
	return &Stripe{
		currency:  cfg.PayoutCurrency,
		scale:     decimal.NewFromInt(cfg.AmountScale),
		newIntent: paymentintent.New,
		getIntent: paymentintent.Get,
	}
}

func (s *Stripe) Name() string { return "stripe" }

// MinorUnits converts a ledger amount into the currency's smallest unit. The
// amount must be an exact multiple of the configured scale.
func (s *Stripe) MinorUnits(amt decimal.Decimal) (int64, error) {
	q, r := amt.QuoRem(s.scale, 0)
	if !r.IsZero() || !q.IsPositive() || q.Cmp(decimal.NewFromInt(int64(^uint64(0)>>1))) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnrepresentable, amt)
	}
	return q.IntPart(), nil
}

func (s *Stripe) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Destination == "" {
		return Result{}, ErrNoDestination
	}
	minor, err := s.MinorUnits(req.Amount)
	if err != nil {
		return Result{}, err
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(minor),
		Currency:      stripe.String(s.currency),
		Destination:   stripe.String(req.Destination),
		TransferGroup: stripe.String(req.Address.Hex()),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.ID.String())
	params.AddMetadata("payout_id", req.ID.String())
	params.AddMetadata("address", req.Address.Hex())

	t, err := transfer.New(params)
	if err != nil {
		return Result{}, fmt.Errorf("stripe transfer failed: %w", err)
	}
	return Result{ExternalRef: t.ID}, nil
}
