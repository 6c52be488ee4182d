package funding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/congo-pay/walletledger/internal/balancecache"
	"github.com/congo-pay/walletledger/internal/gateway"
	"github.com/congo-pay/walletledger/internal/ledger"
)

const (
	defaultReconcileInterval = time.Minute
	defaultReconcileBatch    = 100
)

// ReconcilerDeps are the collaborators of the reconciler.
type ReconcilerDeps struct {
	Store     ledger.Store
	Cache     *balancecache.Cache
	Gateway   gateway.Gateway
	Logger    *slog.Logger
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
}

// Reconciler resolves cash-out reservations whose deadline passed without
// a settled outcome.
type Reconciler struct {
	store    ledger.Store
	cache    *balancecache.Cache
	gateway  gateway.Gateway
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

// NewReconciler builds a reconciler; zero values fall back to defaults.
func NewReconciler(d ReconcilerDeps) *Reconciler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Interval <= 0 {
		d.Interval = defaultReconcileInterval
	}
	if d.BatchSize <= 0 {
		d.BatchSize = defaultReconcileBatch
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		store:    d.Store,
		cache:    d.Cache,
		gateway:  d.Gateway,
		logger:   d.Logger,
		interval: d.Interval,
		batch:    d.BatchSize,
		now:      d.Clock,
	}
}

// Run sweeps on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconcile sweep failed", slog.Any("error", err))
			} else if n > 0 {
				r.logger.Info("reconcile sweep resolved entries", slog.Int("resolved", n))
			}
		}
	}
}

// Sweep resolves one batch of expired reservations and returns how many it
// settled or refunded.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	expired, err := r.store.ListExpiredPending(ctx, r.now(), r.batch)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, entry := range expired {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if r.resolve(ctx, entry) {
			resolved++
		}
	}
	return resolved, nil
}

func (r *Reconciler) resolve(ctx context.Context, entry ledger.Entry) bool {
	logger := r.logger.With(slog.String("reference", entry.Reference), slog.String("wallet_id", entry.WalletID))

	if !entry.Kind.DebitLike() {
		// only withdrawals reserve funds
		return false
	}

	if lookup, ok := r.gateway.(gateway.WithdrawalLookup); ok {
		res, found, err := lookup.LookupWithdrawal(ctx, entry.Reference)
		var decline *gateway.DeclineError
		switch {
		case errors.Is(err, gateway.ErrLookupUnsupported), errors.As(err, &decline), err == nil && !found:
			// refused or never seen: refund below
		case err != nil:
			logger.Warn("withdrawal lookup failed, retrying next sweep", slog.Any("error", err))
			return false
		default:
			if _, err := r.store.UpdateEntryStatus(ctx, entry.Reference, ledger.StatusCompleted, res.ExternalID); err != nil {
				if !errors.Is(err, ledger.ErrInvalidTransition) {
					logger.Error("could not settle expired reservation", slog.Any("error", err))
				}
				return false
			}
			logger.Info("expired reservation settled", slog.String("external_id", res.ExternalID))
			return true
		}
	}

	refund, _, refunded, err := r.store.Compensate(ctx, entry.Reference, ledger.CompensationDescription(entry.Reference))
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			return false
		}
		logger.Error("refund of expired reservation failed",
			slog.Bool("manual_reconciliation", true), slog.Any("error", err))
		return false
	}
	r.cache.Put(ctx, refunded)
	logger.Warn("expired reservation refunded", slog.String("refund_reference", refund.Reference), slog.String("amount", entry.Amount.String()))
	return true
}
