package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
)

var (
	ErrNotSettled    = errors.New("payment has not succeeded")
	ErrWrongCurrency = errors.New("payment currency does not match")
	ErrUnattributed  = errors.New("payment carries no ledger address")
)

// Intent is a card payment the caller completes client-side before
// confirming it.
type Intent struct {
	ID           string          `json:"payment_intent_id"`
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
}

// Funded is a settled payment that may be deposited into the ledger once,
// under Reference.
type Funded struct {
	Reference string
	Address   common.Address
	Amount    decimal.Decimal
}

// CreateFundingIntent opens a PaymentIntent for amt, tagged with the address
// whose ledger balance it funds.
func (s *Stripe) CreateFundingIntent(ctx context.Context, addr common.Address, amt decimal.Decimal) (Intent, error) {
	minor, err := s.MinorUnits(amt)
	if err != nil {
		return Intent{}, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(s.currency),
	}
	params.Context = ctx
	params.AddMetadata("address", addr.Hex())

	pi, err := s.newIntent(params)
	if err != nil {
		return Intent{}, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Amount: amt, Status: string(pi.Status)}, nil
}

// ConfirmFunding looks the intent up and accepts it only once it succeeded.
// The credited amount is what Stripe actually received.
func (s *Stripe) ConfirmFunding(ctx context.Context, intentID string) (Funded, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.getIntent(intentID, params)
	if err != nil {
		return Funded{}, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return s.funded(pi)
}

func (s *Stripe) funded(pi *stripe.PaymentIntent) (Funded, error) {
	if pi.Status != stripe.PaymentIntentStatusSucceeded || pi.AmountReceived <= 0 {
		return Funded{}, fmt.Errorf("%w: %s is %s", ErrNotSettled, pi.ID, pi.Status)
	}
	if !strings.EqualFold(string(pi.Currency), s.currency) {
		return Funded{}, fmt.Errorf("%w: got %s, want %s", ErrWrongCurrency, pi.Currency, s.currency)
	}
	addr := pi.Metadata["address"]
	if !common.IsHexAddress(addr) {
		return Funded{}, fmt.Errorf("%w: %s", ErrUnattributed, pi.ID)
	}
	return Funded{
		Reference: "stripe:" + pi.ID,
		Address:   common.HexToAddress(addr),
		Amount:    decimal.NewFromInt(pi.AmountReceived).Mul(s.scale),
	}, nil
}
