package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimulatedConfig tunes the simulated provider.
type SimulatedConfig struct {
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
	Seed        int64
}

// DefaultSimulatedConfig mirrors a slow, occasionally failing provider.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		FailureRate: 0.1,
		MinLatency:  500 * time.Millisecond,
		MaxLatency:  1500 * time.Millisecond,
		Seed:        time.Now().UnixNano(),
	}
}

type outcome struct {
	result Result
	err    error
}

// Simulated is an in-process provider with random latency and failures.
// Outcomes are remembered per idempotency key, so replays are stable and
// withdrawals can be looked up afterwards.
type Simulated struct {
	cfg SimulatedConfig

	mu          sync.Mutex
	rng         *rand.Rand
	deposits    map[string]outcome
	withdrawals map[string]outcome
}

// NewSimulated builds a simulated provider.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	return &Simulated{
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		deposits:    make(map[string]outcome),
		withdrawals: make(map[string]outcome),
	}
}

func (s *Simulated) InitiateDeposit(ctx context.Context, req Request) (Result, error) {
	return s.process(ctx, s.deposits, "dep_", req)
}

func (s *Simulated) InitiateWithdrawal(ctx context.Context, req Request) (Result, error) {
	return s.process(ctx, s.withdrawals, "wd_", req)
}

func (s *Simulated) LookupWithdrawal(_ context.Context, idempotencyKey string) (Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.withdrawals[idempotencyKey]
	if !ok {
		return Result{}, false, nil
	}
	return o.result, true, o.err
}

func (s *Simulated) process(ctx context.Context, seen map[string]outcome, prefix string, req Request) (Result, error) {
	s.mu.Lock()
	if o, ok := seen[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		s.mu.Unlock()
		return o.result, o.err
	}
	delay := s.cfg.MinLatency
	if spread := s.cfg.MaxLatency - s.cfg.MinLatency; spread > 0 {
		delay += time.Duration(s.rng.Int63n(int64(spread)))
	}
	fail := s.rng.Float64() < s.cfg.FailureRate
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	var o outcome
	if fail {
		o.err = &DeclineError{Reason: "simulated provider declined the request"}
	} else {
		o.result = Result{ExternalID: prefix + uuid.NewString(), Status: StatusApproved}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.IdempotencyKey != "" {
		// a concurrent replay may have finished first
		if prev, ok := seen[req.IdempotencyKey]; ok {
			return prev.result, prev.err
		}
		seen[req.IdempotencyKey] = o
	}
	return o.result, o.err
}
