package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instant(failureRate float64) *Simulated {
	return NewSimulated(SimulatedConfig{FailureRate: failureRate, Seed: 1})
}

func TestSimulatedApprovesAndReplays(t *testing.T) {
	g := instant(0)
	ctx := context.Background()
	req := Request{Amount: decimal.NewFromInt(10), Currency: "USD", IdempotencyKey: "k1"}

	first, err := g.InitiateWithdrawal(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, first.Status)
	assert.NotEmpty(t, first.ExternalID)

	again, err := g.InitiateWithdrawal(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	found, ok, err := g.LookupWithdrawal(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, found)

	_, ok, err = g.LookupWithdrawal(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSimulatedDeclines(t *testing.T) {
	g := instant(1)
	_, err := g.InitiateDeposit(context.Background(), Request{Amount: decimal.NewFromInt(1), IdempotencyKey: "k2"})
	var decline *DeclineError
	require.True(t, errors.As(err, &decline))
	assert.NotEmpty(t, Reason(err))

	_, err = g.InitiateWithdrawal(context.Background(), Request{Amount: decimal.NewFromInt(1), IdempotencyKey: "k3"})
	require.Error(t, err)
	_, ok, lookupErr := g.LookupWithdrawal(context.Background(), "k3")
	assert.True(t, ok)
	assert.True(t, errors.As(lookupErr, &decline))
}

func TestSimulatedHonoursCancellation(t *testing.T) {
	g := NewSimulated(SimulatedConfig{MinLatency: time.Second, MaxLatency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.InitiateWithdrawal(ctx, Request{Amount: decimal.NewFromInt(1), IdempotencyKey: "slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok, _ := g.LookupWithdrawal(context.Background(), "slow")
	assert.False(t, ok, "an abandoned request never reached the provider")
}

func TestStaticApproves(t *testing.T) {
	res, err := Static{}.InitiateDeposit(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, res.Status)
}
