package funding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/balancecache"
	"github.com/congo-pay/walletledger/internal/gateway"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
)

type fakeGateway struct {
	mu          sync.Mutex
	depositErr  error
	withdrawErr error
	// hang makes withdrawals wait for the caller's context.
	hang     bool
	requests []gateway.Request
}

func (g *fakeGateway) InitiateDeposit(_ context.Context, req gateway.Request) (gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.depositErr != nil {
		return gateway.Result{}, g.depositErr
	}
	return gateway.Result{ExternalID: "dep-" + req.IdempotencyKey, Status: gateway.StatusApproved}, nil
}

func (g *fakeGateway) InitiateWithdrawal(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	hang, err := g.hang, g.withdrawErr
	g.mu.Unlock()
	if hang {
		<-ctx.Done()
		return gateway.Result{}, ctx.Err()
	}
	if err != nil {
		return gateway.Result{}, err
	}
	return gateway.Result{ExternalID: "wd-" + req.IdempotencyKey, Status: gateway.StatusApproved}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type lookupGateway struct {
	fakeGateway
	outcomes map[string]gateway.Result
}

func (g *lookupGateway) LookupWithdrawal(_ context.Context, key string) (gateway.Result, bool, error) {
	res, ok := g.outcomes[key]
	return res, ok, nil
}

type alertCall struct {
	accountID string
	balance   decimal.Decimal
	currency  string
}

type recordingAlerter struct {
	mu    sync.Mutex
	calls []alertCall
	err   error
}

func (a *recordingAlerter) CheckForLowBalance(_ context.Context, accountID string, balance decimal.Decimal, currency string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, alertCall{accountID, balance, currency})
	return a.err
}

// failingCompensation breaks the refund step of an otherwise working store.
type failingCompensation struct {
	ledger.Store
}

func (failingCompensation) Compensate(context.Context, string, string) (ledger.Entry, ledger.Entry, ledger.Wallet, error) {
	return ledger.Entry{}, ledger.Entry{}, ledger.Wallet{}, errors.New("database connection lost")
}

type harness struct {
	store   *ledger.MemoryStore
	gw      *fakeGateway
	alerter *recordingAlerter
	svc     *Service
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   ledger.NewInMemory(),
		gw:      &fakeGateway{},
		alerter: &recordingAlerter{},
		now:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(Deps{
		Store:           h.store,
		Cache:           balancecache.New(nil, 0, logging.Discard()),
		Gateway:         h.gw,
		Alerter:         h.alerter,
		Logger:          logging.Discard(),
		DefaultCurrency: "USD",
		ReservationTTL:  time.Minute,
		Clock:           func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) seed(t *testing.T, accountID, amount string) ledger.Wallet {
	t.Helper()
	w, err := ledger.SeedWallet(context.Background(), h.store, accountID, "USD", decimal.RequireFromString(amount))
	require.NoError(t, err)
	return w
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
