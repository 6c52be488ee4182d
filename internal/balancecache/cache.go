package balancecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/ledger"
)

// DefaultTTL bounds how long a cached balance may be served.
const DefaultTTL = 300 * time.Second

// Entry is the cached view of a wallet balance. Version is the wallet
// version the balance was read at.
type Entry struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	Version  int64           `json:"version"`
}

// EntryFor builds the cache entry describing w.
func EntryFor(w ledger.Wallet) Entry {
	return Entry{Balance: w.Balance, Currency: w.Currency, Version: w.Version}
}

// Cache is a best-effort balance cache. Store failures are logged and
// reported as misses; they never reach the caller.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// New builds a cache over store. A nil store disables caching.
func New(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, ttl: ttl, logger: logger}
}

// Key returns the cache key for a wallet.
func Key(walletID string) string {
	return fmt.Sprintf("wallet:%s:balance", walletID)
}

func (c *Cache) enabled() bool {
	return c != nil && c.store != nil
}

// Get returns the cached balance, if any.
func (c *Cache) Get(ctx context.Context, walletID string) (Entry, bool) {
	if !c.enabled() {
		return Entry{}, false
	}
	raw, ok, err := c.store.Get(ctx, Key(walletID))
	if err != nil {
		c.logger.Warn("balance cache read failed", slog.String("wallet_id", walletID), slog.Any("error", err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("balance cache entry undecodable", slog.String("wallet_id", walletID), slog.Any("error", err))
		return Entry{}, false
	}
	return entry, true
}

// Set stores the balance under the wallet key with the configured TTL. On a
// VersionedStore the write is dropped when the key already holds a newer
// version, so a slow reader cannot overwrite a fresher balance. A failed
// write removes the key instead.
func (c *Cache) Set(ctx context.Context, walletID string, entry Entry) {
	if !c.enabled() {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("balance cache encode failed", slog.String("wallet_id", walletID), slog.Any("error", err))
		c.Invalidate(ctx, walletID)
		return
	}
	key := Key(walletID)
	if vs, ok := c.store.(VersionedStore); ok {
		stored, err := vs.SetIfNewer(ctx, key, string(payload), entry.Version, c.ttl)
		if err != nil {
			c.logger.Warn("balance cache write failed", slog.String("wallet_id", walletID), slog.Any("error", err))
			c.Invalidate(ctx, walletID)
			return
		}
		if !stored {
			c.logger.Debug("balance cache write skipped, newer version cached",
				slog.String("wallet_id", walletID), slog.Int64("version", entry.Version))
		}
		return
	}
	if err := c.store.Set(ctx, key, string(payload), c.ttl); err != nil {
		c.logger.Warn("balance cache write failed", slog.String("wallet_id", walletID), slog.Any("error", err))
		c.Invalidate(ctx, walletID)
	}
}

// Put writes the wallet's current balance through to the cache.
func (c *Cache) Put(ctx context.Context, w ledger.Wallet) {
	c.Set(ctx, w.ID, EntryFor(w))
}

// Invalidate drops the wallet's cached balance.
func (c *Cache) Invalidate(ctx context.Context, walletID string) {
	if !c.enabled() {
		return
	}
	if err := c.store.Del(ctx, Key(walletID)); err != nil {
		c.logger.Warn("balance cache invalidation failed", slog.String("wallet_id", walletID), slog.Any("error", err))
	}
}
