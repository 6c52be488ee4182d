package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/payout"
)

const (
	// payoutLookupWindow bounds how far back LookupWithdrawal searches.
	payoutLookupWindow = 72 * time.Hour
	maxLookupPayouts   = 1000
)

// zeroDecimal lists currencies Stripe bills in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

type paymentIntents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type payouts interface {
	New(params *stripe.PayoutParams) (*stripe.Payout, error)
	List(params *stripe.PayoutListParams) ([]*stripe.Payout, error)
}

// payoutAPI drains the payout client's list iterator.
type payoutAPI struct {
	client *payout.Client
}

func (a payoutAPI) New(params *stripe.PayoutParams) (*stripe.Payout, error) {
	return a.client.New(params)
}

func (a payoutAPI) List(params *stripe.PayoutListParams) ([]*stripe.Payout, error) {
	it := a.client.List(params)
	var out []*stripe.Payout
	for it.Next() {
		out = append(out, it.Payout())
		if len(out) >= maxLookupPayouts {
			break
		}
	}
	return out, it.Err()
}

// Stripe settles deposits as confirmed PaymentIntents and withdrawals as
// Payouts. Payouts carry the ledger reference as metadata so expired
// reservations can be matched back to them.
type Stripe struct {
	intents       paymentIntents
	payouts       payouts
	paymentMethod string
	now           func() time.Time
}

var _ WithdrawalLookup = (*Stripe)(nil)

// NewStripe builds a Stripe gateway for the given secret key. Deposits are
// charged to paymentMethod, e.g. "pm_card_visa" in test mode.
func NewStripe(secretKey, paymentMethod string) (*Stripe, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if paymentMethod == "" {
		paymentMethod = "pm_card_visa"
	}
	api := client.New(secretKey, nil)
	return &Stripe{
		intents:       api.PaymentIntents,
		payouts:       payoutAPI{client: api.Payouts},
		paymentMethod: paymentMethod,
		now:           time.Now,
	}, nil
}

func (s *Stripe) InitiateDeposit(ctx context.Context, req Request) (Result, error) {
	minor, currency, err := toMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return Result{}, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minor),
		Currency:           stripe.String(currency),
		Confirm:            stripe.Bool(true),
		PaymentMethod:      stripe.String(s.paymentMethod),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("reference", req.IdempotencyKey)

	pi, err := s.intents.New(params)
	if err != nil {
		return Result{}, mapStripeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return Result{}, &DeclineError{Reason: "payment intent " + string(pi.Status)}
	}
	return Result{ExternalID: pi.ID, Status: StatusApproved}, nil
}

func (s *Stripe) InitiateWithdrawal(ctx context.Context, req Request) (Result, error) {
	minor, currency, err := toMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return Result{}, err
	}
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("reference", req.IdempotencyKey)

	po, err := s.payouts.New(params)
	if err != nil {
		return Result{}, mapStripeError(err)
	}
	if po.Status == stripe.PayoutStatusFailed || po.Status == stripe.PayoutStatusCanceled {
		reason := po.FailureMessage
		if reason == "" {
			reason = "payout " + string(po.Status)
		}
		return Result{}, &DeclineError{Reason: reason}
	}
	return Result{ExternalID: po.ID, Status: StatusApproved}, nil
}

// LookupWithdrawal searches recent payouts for the one tagged with key.
// Failed and canceled payouts are reported as declines.
func (s *Stripe) LookupWithdrawal(ctx context.Context, key string) (Result, bool, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	params := &stripe.PayoutListParams{
		CreatedRange: &stripe.RangeQueryParams{GreaterThanOrEqual: now().Add(-payoutLookupWindow).Unix()},
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	list, err := s.payouts.List(params)
	if err != nil {
		return Result{}, false, mapStripeError(err)
	}
	for _, po := range list {
		if po == nil || po.Metadata["reference"] != key {
			continue
		}
		if po.Status == stripe.PayoutStatusFailed || po.Status == stripe.PayoutStatusCanceled {
			reason := po.FailureMessage
			if reason == "" {
				reason = "payout " + string(po.Status)
			}
			return Result{}, true, &DeclineError{Reason: reason}
		}
		return Result{ExternalID: po.ID, Status: StatusApproved}, true, nil
	}
	return Result{}, false, nil
}

// toMinorUnits converts an amount into Stripe's integer representation.
func toMinorUnits(amount decimal.Decimal, currency string) (int64, string, error) {
	currency = strings.ToLower(currency)
	scaled := amount
	if !zeroDecimal[currency] {
		scaled = amount.Shift(2)
	}
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, "", &DeclineError{Reason: fmt.Sprintf("amount %s is not representable in %s", amount, strings.ToUpper(currency))}
	}
	return scaled.IntPart(), currency, nil
}

// mapStripeError turns client-side refusals into declines. Provider faults
// (5xx) stay plain errors.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("stripe: %w", err)
		}
		reason := stripeErr.Msg
		if reason == "" {
			reason = string(stripeErr.Code)
		}
		return &DeclineError{Reason: reason}
	}
	return fmt.Errorf("stripe: %w", err)
}
