package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/alerts"
	"github.com/congo-pay/walletledger/internal/balancecache"
	"github.com/congo-pay/walletledger/internal/ledger"
)

// Deps are the collaborators of the wallet service.
type Deps struct {
	Store ledger.Store
	Cache *balancecache.Cache
	// Alerter is optional.
	Alerter         alerts.Alerter
	Logger          *slog.Logger
	DefaultCurrency string
}

// Service exposes wallet reads and direct credit/debit mutations.
type Service struct {
	store    ledger.Store
	cache    *balancecache.Cache
	alerter  alerts.Alerter
	logger   *slog.Logger
	currency string
}

// NewService builds a wallet service instance.
func NewService(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.DefaultCurrency == "" {
		d.DefaultCurrency = "XAF"
	}
	return &Service{store: d.Store, cache: d.Cache, alerter: d.Alerter, logger: d.Logger, currency: d.DefaultCurrency}, nil
}

// Balance serves the cached balance when present and otherwise reads the
// store and repopulates the cache. The fill carries the wallet version so it
// never replaces a balance cached by a later mutation.
func (s *Service) Balance(ctx context.Context, walletID string) (Balance, error) {
	if cached, ok := s.cache.Get(ctx, walletID); ok {
		return Balance{
			WalletID: walletID,
			Amount:   cached.Balance,
			Currency: cached.Currency,
			Source:   SourceCache,
			AsOf:     time.Now().UTC(),
		}, nil
	}

	w, err := s.store.FindWalletByID(ctx, walletID)
	if err != nil {
		return Balance{}, err
	}
	s.cache.Set(ctx, w.ID, balancecache.EntryFor(w))
	return Balance{
		WalletID: w.ID,
		Amount:   w.Balance,
		Currency: w.Currency,
		Source:   SourceDB,
		AsOf:     time.Now().UTC(),
	}, nil
}

// BalanceForAccount resolves the account's wallet, creating it on first
// access, and returns its balance.
func (s *Service) BalanceForAccount(ctx context.Context, accountID string) (Balance, error) {
	w, err := s.store.FindOrCreateWallet(ctx, accountID, s.currency)
	if err != nil {
		return Balance{}, err
	}
	return s.Balance(ctx, w.ID)
}

// WalletForAccount resolves the account's wallet, creating it on first access.
func (s *Service) WalletForAccount(ctx context.Context, accountID string) (ledger.Wallet, error) {
	return s.store.FindOrCreateWallet(ctx, accountID, s.currency)
}

// Credit adds funds to a wallet.
func (s *Service) Credit(ctx context.Context, walletID string, amount decimal.Decimal, description string) (ledger.Entry, ledger.Wallet, error) {
	return s.mutate(ctx, walletID, ledger.KindCredit, amount, description)
}

// Debit removes funds from a wallet and runs the low balance check.
func (s *Service) Debit(ctx context.Context, walletID string, amount decimal.Decimal, description string) (ledger.Entry, ledger.Wallet, error) {
	entry, w, err := s.mutate(ctx, walletID, ledger.KindDebit, amount, description)
	if err != nil {
		return entry, w, err
	}
	if s.alerter != nil {
		if err := s.alerter.CheckForLowBalance(ctx, w.AccountID, w.Balance, w.Currency); err != nil {
			s.logger.Warn("low balance check failed", slog.String("wallet_id", w.ID), slog.Any("error", err))
		}
	}
	return entry, w, nil
}

// History lists the wallet's latest entries, newest first.
func (s *Service) History(ctx context.Context, walletID string, limit int) ([]ledger.Entry, error) {
	if _, err := s.store.FindWalletByID(ctx, walletID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListRecentEntries(ctx, walletID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return entries, nil
}

func (s *Service) mutate(ctx context.Context, walletID string, kind ledger.Kind, amount decimal.Decimal, description string) (ledger.Entry, ledger.Wallet, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return ledger.Entry{}, ledger.Wallet{}, err
	}
	entry, w, err := s.store.MutateBalance(ctx, ledger.Mutation{
		WalletID:    walletID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
	})
	if err != nil {
		return ledger.Entry{}, ledger.Wallet{}, err
	}
	s.cache.Put(ctx, w)
	return entry, w, nil
}
