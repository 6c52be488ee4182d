package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is a concurrency-safe Store for tests and local development.
// Each wallet has its own mutex standing in for the row lock, so mutations on
// different wallets do not block each other.
type MemoryStore struct {
	mu        sync.RWMutex
	wallets   map[string]Wallet
	byAccount map[string]string
	entries   map[string]Entry // keyed by reference
	locks     map[string]*sync.Mutex
	now       func() time.Time
	last      time.Time
}

// NewInMemory creates an empty in-memory ledger store.
func NewInMemory() *MemoryStore {
	return &MemoryStore{
		wallets:   make(map[string]Wallet),
		byAccount: make(map[string]string),
		entries:   make(map[string]Entry),
		locks:     make(map[string]*sync.Mutex),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) FindOrCreateWallet(_ context.Context, accountID, currency string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byAccount[accountID]; ok {
		return s.wallets[id], nil
	}
	now := s.now()
	w := Wallet{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Balance:   decimal.Zero,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.wallets[w.ID] = w
	s.byAccount[accountID] = w.ID
	s.locks[w.ID] = &sync.Mutex{}
	return w, nil
}

func (s *MemoryStore) FindWalletByID(_ context.Context, walletID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	return w, nil
}

func (s *MemoryStore) FindWalletByAccount(_ context.Context, accountID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAccount[accountID]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet for account %s: %w", accountID, ErrNotFound)
	}
	return s.wallets[id], nil
}

// lockWallet acquires the per-wallet lock. The caller must unlock it.
func (s *MemoryStore) lockWallet(walletID string) (*sync.Mutex, error) {
	s.mu.RLock()
	lock, ok := s.locks[walletID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	lock.Lock()
	return lock, nil
}

func (s *MemoryStore) MutateBalance(ctx context.Context, m Mutation) (Entry, Wallet, error) {
	lock, err := s.lockWallet(m.WalletID)
	if err != nil {
		return Entry{}, Wallet{}, err
	}
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return Entry{}, Wallet{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(m)
}

// applyLocked runs with both the wallet lock and s.mu held.
func (s *MemoryStore) applyLocked(m Mutation) (Entry, Wallet, error) {
	w := s.wallets[m.WalletID]
	m, err := prepareMutation(m, w)
	if err != nil {
		return Entry{}, Wallet{}, err
	}
	if _, taken := s.entries[m.Reference]; taken {
		return Entry{}, Wallet{}, fmt.Errorf("reference %s: %w", m.Reference, ErrDuplicateReference)
	}
	balance, err := nextBalance(w.Balance, m.Kind, m.Amount)
	if err != nil {
		return Entry{}, Wallet{}, err
	}

	now := s.tick()
	w.Balance = balance
	w.Version++
	w.UpdatedAt = now
	entry := Entry{
		ID:          uuid.NewString(),
		Reference:   m.Reference,
		WalletID:    w.ID,
		Kind:        m.Kind,
		Status:      m.Status,
		Amount:      m.Amount,
		Currency:    m.Currency,
		Description: m.Description,
		ExternalID:  m.ExternalID,
		ExpiresAt:   m.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.wallets[w.ID] = w
	s.entries[entry.Reference] = entry
	return entry, w, nil
}

func (s *MemoryStore) UpdateEntryStatus(_ context.Context, reference string, status Status, externalID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[reference]
	if !ok {
		return Entry{}, fmt.Errorf("entry %s: %w", reference, ErrNotFound)
	}
	if err := checkTransition(entry, status); err != nil {
		return entry, err
	}
	entry.Status = status
	if externalID != "" {
		entry.ExternalID = externalID
	}
	entry.UpdatedAt = s.now()
	s.entries[reference] = entry
	return entry, nil
}

func (s *MemoryStore) Compensate(ctx context.Context, reference, description string) (Entry, Entry, Wallet, error) {
	s.mu.RLock()
	original, ok := s.entries[reference]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, Entry{}, Wallet{}, fmt.Errorf("entry %s: %w", reference, ErrNotFound)
	}

	lock, err := s.lockWallet(original.WalletID)
	if err != nil {
		return Entry{}, Entry{}, Wallet{}, err
	}
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return Entry{}, Entry{}, Wallet{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// re-read under the wallet lock; a concurrent sweep may have won
	original = s.entries[reference]
	if original.Status != StatusPending || !original.Kind.DebitLike() {
		return Entry{}, original, Wallet{}, fmt.Errorf("entry %s is %s %s: %w", reference, original.Status, original.Kind, ErrInvalidTransition)
	}

	refund, w, err := s.applyLocked(Mutation{
		WalletID:    original.WalletID,
		Kind:        KindCredit,
		Amount:      original.Amount,
		Currency:    original.Currency,
		Description: description,
		Status:      StatusCompleted,
	})
	if err != nil {
		return Entry{}, Entry{}, Wallet{}, err
	}
	original.Status = StatusFailed
	original.UpdatedAt = s.now()
	s.entries[reference] = original
	return refund, original, w, nil
}

func (s *MemoryStore) FindByReference(_ context.Context, reference string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[reference]
	if !ok {
		return Entry{}, fmt.Errorf("entry %s: %w", reference, ErrNotFound)
	}
	return entry, nil
}

func (s *MemoryStore) ListRecentEntries(_ context.Context, walletID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	if n := normalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Status == StatusPending && e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tick returns a strictly increasing timestamp so history order is stable.
// Callers hold s.mu.
func (s *MemoryStore) tick() time.Time {
	now := s.now()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// sortNewestFirst orders by creation time, breaking ties by ID so the
// result is deterministic.
func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
