package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures the circuit breaker around a provider.
type BreakerSettings struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings trips after five consecutive provider faults.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:                name,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker fails fast with ErrUnavailable while the provider is unhealthy.
// Declines are business outcomes and do not trip it.
type Breaker struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Gateway, settings BreakerSettings, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var decline *DeclineError
			return err == nil || errors.As(err, &decline) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway circuit breaker state changed",
				slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return &Breaker{next: next, breaker: cb}
}

func (b *Breaker) InitiateDeposit(ctx context.Context, req Request) (Result, error) {
	return b.execute(func() (Result, error) { return b.next.InitiateDeposit(ctx, req) })
}

func (b *Breaker) InitiateWithdrawal(ctx context.Context, req Request) (Result, error) {
	return b.execute(func() (Result, error) { return b.next.InitiateWithdrawal(ctx, req) })
}

// LookupWithdrawal delegates to the wrapped provider without tripping the
// breaker.
func (b *Breaker) LookupWithdrawal(ctx context.Context, idempotencyKey string) (Result, bool, error) {
	lookup, ok := b.next.(WithdrawalLookup)
	if !ok {
		return Result{}, false, ErrLookupUnsupported
	}
	return lookup.LookupWithdrawal(ctx, idempotencyKey)
}

// State reports the breaker state, e.g. for health output.
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

func (b *Breaker) execute(call func() (Result, error)) (Result, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return call()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}
