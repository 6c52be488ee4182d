package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/alerts"
	"github.com/congo-pay/walletledger/internal/balancecache"
	"github.com/congo-pay/walletledger/internal/gateway"
	"github.com/congo-pay/walletledger/internal/ledger"
)

const (
	defaultReservationTTL  = 15 * time.Minute
	defaultFinalizeTimeout = 10 * time.Second
)

// Deps are the collaborators of the funding service.
type Deps struct {
	Store   ledger.Store
	Cache   *balancecache.Cache
	Gateway gateway.Gateway
	// Alerter is optional.
	Alerter alerts.Alerter
	Logger  *slog.Logger

	DefaultCurrency string
	// ReservationTTL is how long a cash-out may stay pending before the
	// reconciler resolves it.
	ReservationTTL time.Duration
	// GatewayTimeout bounds each provider call; zero leaves it to the caller.
	GatewayTimeout time.Duration
	// FinalizeTimeout bounds ledger writes made after the provider answered.
	FinalizeTimeout time.Duration
	Clock           func() time.Time
}

// Service runs the cash-in and cash-out sagas.
type Service struct {
	store           ledger.Store
	cache           *balancecache.Cache
	gateway         gateway.Gateway
	alerter         alerts.Alerter
	logger          *slog.Logger
	currency        string
	reservationTTL  time.Duration
	gatewayTimeout  time.Duration
	finalizeTimeout time.Duration
	now             func() time.Time
}

// NewService validates the collaborators and builds the service.
func NewService(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if d.Gateway == nil {
		return nil, fmt.Errorf("payment gateway is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ReservationTTL <= 0 {
		d.ReservationTTL = defaultReservationTTL
	}
	if d.FinalizeTimeout <= 0 {
		d.FinalizeTimeout = defaultFinalizeTimeout
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	if d.DefaultCurrency == "" {
		d.DefaultCurrency = "XAF"
	}
	return &Service{
		store:           d.Store,
		cache:           d.Cache,
		gateway:         d.Gateway,
		alerter:         d.Alerter,
		logger:          d.Logger,
		currency:        d.DefaultCurrency,
		reservationTTL:  d.ReservationTTL,
		gatewayTimeout:  d.GatewayTimeout,
		finalizeTimeout: d.FinalizeTimeout,
		now:             d.Clock,
	}, nil
}

// CashInInput captures a deposit request for an account. Reference is
// optional; when set, a retry with the same reference replays the recorded
// outcome instead of moving money twice.
type CashInInput struct {
	AccountID   string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Reference   string
}

// CashOutInput captures a withdrawal request for an account. Reference
// behaves as in CashInInput.
type CashOutInput struct {
	AccountID   string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Reference   string
}

// CashInResult is the recorded deposit and the wallet after it.
type CashInResult struct {
	Entry  ledger.Entry
	Wallet ledger.Wallet
}

// CashOutResult describes a withdrawal. Entry is the settled entry, Pending
// the reservation as first recorded, and Refund the compensating credit when
// the provider refused the withdrawal.
type CashOutResult struct {
	Entry   ledger.Entry
	Pending ledger.Entry
	Refund  ledger.Entry
	Wallet  ledger.Wallet
}

// CashIn asks the provider for the funds first and only records the deposit
// once it is confirmed.
func (s *Service) CashIn(ctx context.Context, input CashInInput) (CashInResult, error) {
	if err := ledger.ValidateAmount(input.Amount); err != nil {
		return CashInResult{}, err
	}
	ref, err := s.reference(input.Reference)
	if err != nil {
		return CashInResult{}, err
	}
	w, currency, err := s.resolveWallet(ctx, input.AccountID, input.Currency)
	if err != nil {
		return CashInResult{}, err
	}
	logger := s.logger.With(slog.String("reference", ref), slog.String("wallet_id", w.ID))

	if prior, ok, err := s.priorEntry(ctx, input.Reference, w.ID, ledger.KindCashIn, input.Amount); err != nil || ok {
		if err != nil {
			return CashInResult{}, err
		}
		logger.Info("cash-in replayed", slog.String("status", string(prior.Status)))
		return s.replayCashIn(ctx, prior)
	}

	res, err := s.callGateway(ctx, func(gctx context.Context) (gateway.Result, error) {
		return s.gateway.InitiateDeposit(gctx, gateway.Request{Amount: input.Amount, Currency: currency, IdempotencyKey: ref})
	})
	if err != nil {
		logger.Warn("deposit refused by provider", slog.Any("error", err))
		return CashInResult{}, &SagaError{Kind: ErrPaymentProviderFailed, Reference: ref, Reason: gateway.Reason(err), Err: err}
	}

	walletID := w.ID
	fctx, cancel := s.finalizeContext(ctx)
	defer cancel()
	entry, w, err := s.store.MutateBalance(fctx, ledger.Mutation{
		WalletID:    walletID,
		Kind:        ledger.KindCashIn,
		Amount:      input.Amount,
		Currency:    currency,
		Description: describe(input.Description, "Cash-in"),
		Status:      ledger.StatusCompleted,
		Reference:   ref,
		ExternalID:  res.ExternalID,
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		// a concurrent retry with the same reference recorded it first
		if prior, ok, lookupErr := s.priorEntry(fctx, input.Reference, walletID, ledger.KindCashIn, input.Amount); lookupErr == nil && ok {
			logger.Info("cash-in replayed", slog.String("status", string(prior.Status)))
			return s.replayCashIn(fctx, prior)
		}
	}
	if err != nil {
		logger.Error("deposit confirmed by provider but not recorded",
			slog.String("external_id", res.ExternalID),
			slog.Bool("manual_reconciliation", true),
			slog.Any("error", err))
		return CashInResult{}, &SagaError{Kind: ErrReconciliationRequired, Reference: ref, Reason: err.Error(), Err: err}
	}
	s.cache.Put(fctx, w)

	logger.Info("cash-in completed", slog.String("amount", entry.Amount.String()), slog.String("external_id", res.ExternalID))
	return CashInResult{Entry: entry, Wallet: w}, nil
}

// CashOut reserves the funds, notifies the alerter, then settles with the
// provider. A refused withdrawal is compensated with a refund credit.
func (s *Service) CashOut(ctx context.Context, input CashOutInput) (CashOutResult, error) {
	if err := ledger.ValidateAmount(input.Amount); err != nil {
		return CashOutResult{}, err
	}
	ref, err := s.reference(input.Reference)
	if err != nil {
		return CashOutResult{}, err
	}
	w, currency, err := s.resolveWallet(ctx, input.AccountID, input.Currency)
	if err != nil {
		return CashOutResult{}, err
	}
	logger := s.logger.With(slog.String("reference", ref), slog.String("wallet_id", w.ID))

	if prior, ok, err := s.priorEntry(ctx, input.Reference, w.ID, ledger.KindCashOut, input.Amount); err != nil || ok {
		if err != nil {
			return CashOutResult{}, err
		}
		logger.Info("cash-out replayed", slog.String("status", string(prior.Status)))
		return s.replayCashOut(ctx, prior)
	}

	walletID := w.ID
	expires := s.now().Add(s.reservationTTL)
	pending, w, err := s.store.MutateBalance(ctx, ledger.Mutation{
		WalletID:    walletID,
		Kind:        ledger.KindCashOut,
		Amount:      input.Amount,
		Currency:    currency,
		Description: describe(input.Description, "Cash-out"),
		Status:      ledger.StatusPending,
		Reference:   ref,
		ExpiresAt:   &expires,
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		if prior, ok, lookupErr := s.priorEntry(ctx, input.Reference, walletID, ledger.KindCashOut, input.Amount); lookupErr == nil && ok {
			logger.Info("cash-out replayed", slog.String("status", string(prior.Status)))
			return s.replayCashOut(ctx, prior)
		}
	}
	if err != nil {
		return CashOutResult{}, err
	}
	s.cache.Put(ctx, w)
	s.checkLowBalance(ctx, w, logger)

	res, gwErr := s.callGateway(ctx, func(gctx context.Context) (gateway.Result, error) {
		return s.gateway.InitiateWithdrawal(gctx, gateway.Request{Amount: input.Amount, Currency: currency, IdempotencyKey: ref})
	})

	fctx, cancel := s.finalizeContext(ctx)
	defer cancel()

	if gwErr == nil {
		completed, err := s.store.UpdateEntryStatus(fctx, ref, ledger.StatusCompleted, res.ExternalID)
		if err != nil {
			logger.Error("withdrawal accepted by provider but not settled in ledger",
				slog.String("external_id", res.ExternalID),
				slog.Bool("manual_reconciliation", true),
				slog.Any("error", err))
			return CashOutResult{Pending: pending, Wallet: w}, &SagaError{Kind: ErrReconciliationRequired, Reference: ref, Reason: err.Error(), Err: err}
		}
		logger.Info("cash-out completed", slog.String("amount", completed.Amount.String()), slog.String("external_id", res.ExternalID))
		return CashOutResult{Entry: completed, Pending: pending, Wallet: w}, nil
	}

	if outcomeUnknown(gwErr) {
		logger.Warn("withdrawal outcome unknown, reservation left pending",
			slog.Time("expires_at", expires), slog.Any("error", gwErr))
		return CashOutResult{Entry: pending, Pending: pending, Wallet: w},
			&SagaError{Kind: ErrSettlementPending, Reference: ref, Reason: gateway.Reason(gwErr), Err: gwErr}
	}

	reason := gateway.Reason(gwErr)
	refund, failed, refunded, err := s.store.Compensate(fctx, ref, ledger.CompensationDescription(ref))
	if err != nil {
		if current, lookupErr := s.store.FindByReference(fctx, ref); lookupErr == nil && current.Status == ledger.StatusFailed {
			// already compensated by a concurrent sweep
			s.refreshCache(fctx, w.ID)
			return CashOutResult{Entry: current, Pending: pending, Wallet: w},
				&SagaError{Kind: ErrWithdrawalFailedAndRefunded, Reference: ref, Reason: reason, Err: gwErr}
		}
		logger.Error("refund of failed withdrawal not recorded",
			slog.String("amount", pending.Amount.String()),
			slog.String("provider_reason", reason),
			slog.Bool("manual_reconciliation", true),
			slog.Any("error", err))
		return CashOutResult{Entry: pending, Pending: pending, Wallet: w},
			&SagaError{Kind: ErrCompensationFailed, Reference: ref, Reason: reason, Err: errors.Join(gwErr, err)}
	}
	s.cache.Put(fctx, refunded)

	logger.Warn("withdrawal refused, funds refunded", slog.String("provider_reason", reason), slog.String("refund_reference", refund.Reference))
	return CashOutResult{Entry: failed, Pending: pending, Refund: refund, Wallet: refunded},
		&SagaError{Kind: ErrWithdrawalFailedAndRefunded, Reference: ref, Reason: reason, Err: gwErr}
}

// GetReceipt returns the ledger entry recorded under reference.
func (s *Service) GetReceipt(ctx context.Context, reference string) (ledger.Entry, error) {
	entry, err := s.store.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Entry{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
		}
		return ledger.Entry{}, err
	}
	return entry, nil
}

// reference validates a caller supplied reference or generates one.
func (s *Service) reference(supplied string) (string, error) {
	if supplied == "" {
		return ledger.NewReference(), nil
	}
	if err := ledger.ValidateReference(supplied); err != nil {
		return "", err
	}
	return supplied, nil
}

// priorEntry returns the entry already recorded under a caller supplied
// reference. A reference reused for another wallet, kind or amount is
// rejected with ledger.ErrDuplicateReference.
func (s *Service) priorEntry(ctx context.Context, reference, walletID string, kind ledger.Kind, amount decimal.Decimal) (ledger.Entry, bool, error) {
	if reference == "" {
		return ledger.Entry{}, false, nil
	}
	entry, err := s.store.FindByReference(ctx, reference)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	if entry.WalletID != walletID || entry.Kind != kind || !entry.Amount.Equal(amount) {
		return ledger.Entry{}, false, fmt.Errorf("reference %s already used by another movement: %w", reference, ledger.ErrDuplicateReference)
	}
	return entry, true, nil
}

func (s *Service) replayCashIn(ctx context.Context, prior ledger.Entry) (CashInResult, error) {
	w, err := s.store.FindWalletByID(ctx, prior.WalletID)
	if err != nil {
		return CashInResult{}, err
	}
	return CashInResult{Entry: prior, Wallet: w}, nil
}

// replayCashOut reports the recorded outcome of an earlier withdrawal with
// the same reference.
func (s *Service) replayCashOut(ctx context.Context, prior ledger.Entry) (CashOutResult, error) {
	w, err := s.store.FindWalletByID(ctx, prior.WalletID)
	if err != nil {
		return CashOutResult{}, err
	}
	result := CashOutResult{Entry: prior, Pending: prior, Wallet: w}
	switch prior.Status {
	case ledger.StatusPending:
		return result, &SagaError{Kind: ErrSettlementPending, Reference: prior.Reference, Reason: "withdrawal still awaiting settlement"}
	case ledger.StatusFailed:
		return result, &SagaError{Kind: ErrWithdrawalFailedAndRefunded, Reference: prior.Reference, Reason: "withdrawal previously refused and refunded"}
	default:
		return result, nil
	}
}

func (s *Service) resolveWallet(ctx context.Context, accountID, currency string) (ledger.Wallet, string, error) {
	if accountID == "" {
		return ledger.Wallet{}, "", fmt.Errorf("account id is required")
	}
	if currency == "" {
		currency = s.currency
	}
	w, err := s.store.FindOrCreateWallet(ctx, accountID, currency)
	if err != nil {
		return ledger.Wallet{}, "", err
	}
	if w.Currency != currency {
		return ledger.Wallet{}, "", fmt.Errorf("wallet holds %s, request is %s: %w", w.Currency, currency, ledger.ErrCurrencyMismatch)
	}
	return w, currency, nil
}

// refreshCache rereads the wallet and writes it through, dropping the cached
// balance when the read fails.
func (s *Service) refreshCache(ctx context.Context, walletID string) {
	w, err := s.store.FindWalletByID(ctx, walletID)
	if err != nil {
		s.cache.Invalidate(ctx, walletID)
		return
	}
	s.cache.Put(ctx, w)
}

func (s *Service) callGateway(ctx context.Context, call func(context.Context) (gateway.Result, error)) (gateway.Result, error) {
	if s.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
	}
	return call(ctx)
}

// finalizeContext detaches ledger writes that follow a provider answer from
// the caller's cancellation.
func (s *Service) finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout)
}

func (s *Service) checkLowBalance(ctx context.Context, w ledger.Wallet, logger *slog.Logger) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.CheckForLowBalance(ctx, w.AccountID, w.Balance, w.Currency); err != nil {
		logger.Warn("low balance check failed", slog.String("account_id", w.AccountID), slog.Any("error", err))
	}
}

// outcomeUnknown reports whether the request may have reached the provider
// without an answer coming back.
func outcomeUnknown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func describe(description, fallback string) string {
	if description == "" {
		return fallback
	}
	return description
}
