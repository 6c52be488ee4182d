package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// StatusApproved is reported by gateways for accepted movements.
const StatusApproved = "approved"

var (
	// ErrUnavailable means the request was not sent to the provider at all.
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrLookupUnsupported is returned when the provider cannot report the
	// outcome of an earlier request.
	ErrLookupUnsupported = errors.New("withdrawal lookup unsupported")
)

// Request is a single deposit or withdrawal sent to the provider.
type Request struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Result is the provider's acknowledgement of an accepted request.
type Result struct {
	ExternalID string
	Status     string
}

// DeclineError is a definite refusal by the provider.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string {
	return "payment declined: " + e.Reason
}

// Gateway moves money between the outside world and a wallet.
type Gateway interface {
	InitiateDeposit(ctx context.Context, req Request) (Result, error)
	InitiateWithdrawal(ctx context.Context, req Request) (Result, error)
}

// WithdrawalLookup is implemented by gateways that can report what happened
// to an earlier withdrawal. found is false when the provider never saw the
// idempotency key.
type WithdrawalLookup interface {
	LookupWithdrawal(ctx context.Context, idempotencyKey string) (result Result, found bool, err error)
}

// Reason extracts a human readable failure reason from a gateway error.
func Reason(err error) string {
	var decline *DeclineError
	if errors.As(err, &decline) {
		return decline.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
