package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("find or create is idempotent under concurrency", func(t *testing.T) {
		s := newStore(t)
		account := uuid.NewString()

		const callers = 8
		ids := make([]string, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				w, err := s.FindOrCreateWallet(ctx, account, "USD")
				if err != nil {
					t.Errorf("find or create %d: %v", i, err)
					return
				}
				ids[i] = w.ID
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
		w, err := s.FindWalletByAccount(ctx, account)
		require.NoError(t, err)
		assert.True(t, w.Balance.IsZero())
		assert.Equal(t, "USD", w.Currency)
	})

	t.Run("unknown wallet is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindWalletByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.FindWalletByID(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, ErrNotFound)
		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: uuid.NewString(), Kind: KindCredit, Amount: dec("1")})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("balance never goes negative", func(t *testing.T) {
		s := newStore(t)
		w, err := s.FindOrCreateWallet(ctx, uuid.NewString(), "USD")
		require.NoError(t, err)

		steps := []struct {
			kind    Kind
			amount  string
			wantErr error
			balance string
		}{
			{KindCredit, "50", nil, "50"},
			{KindDebit, "20.5", nil, "29.5"},
			{KindDebit, "30", ErrInsufficientFunds, "29.5"},
			{KindCashIn, "0.5", nil, "30"},
			{KindCashOut, "30", nil, "0"},
			{KindDebit, "0.0001", ErrInsufficientFunds, "0"},
		}
		for _, step := range steps {
			_, updated, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: step.kind, Amount: dec(step.amount)})
			if step.wantErr != nil {
				require.ErrorIs(t, err, step.wantErr)
			} else {
				require.NoError(t, err)
				assert.True(t, updated.Balance.Equal(dec(step.balance)), "after %s %s got %s", step.kind, step.amount, updated.Balance)
			}
			current, err := s.FindWalletByID(ctx, w.ID)
			require.NoError(t, err)
			assert.True(t, current.Balance.Equal(dec(step.balance)))
			assert.False(t, current.Balance.IsNegative())
		}

		entries, err := s.ListRecentEntries(ctx, w.ID, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 4, "rejected debits must not leave entries behind")
		assertBalanceMatchesEntries(t, s, w.ID)
	})

	t.Run("concurrent debits never overspend", func(t *testing.T) {
		s := newStore(t)
		w, err := SeedWallet(ctx, s, uuid.NewString(), "USD", dec("100"))
		require.NoError(t, err)

		var (
			wg           sync.WaitGroup
			mu           sync.Mutex
			successes    int
			insufficient int
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindDebit, Amount: dec("60")})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrInsufficientFunds):
					insufficient++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, insufficient)
		final, err := s.FindWalletByID(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, final.Balance.Equal(dec("40")), "final balance %s", final.Balance)
	})

	t.Run("mutation validation", func(t *testing.T) {
		s := newStore(t)
		w, err := SeedWallet(ctx, s, uuid.NewString(), "USD", dec("10"))
		require.NoError(t, err)

		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: dec("0")})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: dec("-3")})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: dec("1"), Currency: "EUR"})
		assert.ErrorIs(t, err, ErrCurrencyMismatch)

		entry, _, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: dec("1"), Reference: "dup-" + w.ID})
		require.NoError(t, err)
		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: dec("1"), Reference: entry.Reference})
		assert.ErrorIs(t, err, ErrDuplicateReference)

		current, err := s.FindWalletByID(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, current.Balance.Equal(dec("11")))
	})

	t.Run("status transitions leave pending only once", func(t *testing.T) {
		s := newStore(t)
		w, err := SeedWallet(ctx, s, uuid.NewString(), "USD", dec("100"))
		require.NoError(t, err)

		pending, _, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCashOut, Amount: dec("25"), Status: StatusPending})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, pending.Status)
		assert.NotEmpty(t, pending.Reference)

		done, err := s.UpdateEntryStatus(ctx, pending.Reference, StatusCompleted, "ext-1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, done.Status)
		assert.Equal(t, "ext-1", done.ExternalID)

		_, err = s.UpdateEntryStatus(ctx, pending.Reference, StatusFailed, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = s.UpdateEntryStatus(ctx, uuid.NewString(), StatusCompleted, "")
		assert.ErrorIs(t, err, ErrNotFound)

		found, err := s.FindByReference(ctx, pending.Reference)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, found.Status)
		assert.True(t, found.Amount.Equal(dec("25")))
		assert.Equal(t, KindCashOut, found.Kind)
	})

	t.Run("status updates reject illegal targets", func(t *testing.T) {
		s := newStore(t)
		w, err := SeedWallet(ctx, s, uuid.NewString(), "USD", dec("50"))
		require.NoError(t, err)
		pending, _, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCashOut, Amount: dec("10"), Status: StatusPending})
		require.NoError(t, err)

		for _, target := range []Status{"bogus", StatusPending, StatusFailed} {
			_, err = s.UpdateEntryStatus(ctx, pending.Reference, target, "")
			assert.ErrorIs(t, err, ErrInvalidTransition, "target %q", target)
		}

		found, err := s.FindByReference(ctx, pending.Reference)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, found.Status)
		wallet, err := s.FindWalletByID(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, wallet.Balance.Equal(dec("40")))
		assertBalanceMatchesEntries(t, s, w.ID)

		// only reservations may be recorded as pending
		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: dec("5"), Status: StatusPending})
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindDebit, Amount: dec("5"), Status: StatusFailed})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("wallet version increases with every balance change", func(t *testing.T) {
		s := newStore(t)
		w, err := s.FindOrCreateWallet(ctx, uuid.NewString(), "USD")
		require.NoError(t, err)
		assert.Zero(t, w.Version)

		_, w1, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: dec("10")})
		require.NoError(t, err)
		_, w2, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindDebit, Amount: dec("3")})
		require.NoError(t, err)
		assert.Equal(t, int64(1), w1.Version)
		assert.Equal(t, int64(2), w2.Version)

		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindDebit, Amount: dec("100")})
		require.ErrorIs(t, err, ErrInsufficientFunds)
		current, err := s.FindWalletByID(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), current.Version)
	})

	t.Run("caller supplied references are validated", func(t *testing.T) {
		s := newStore(t)
		w, err := SeedWallet(ctx, s, uuid.NewString(), "USD", dec("10"))
		require.NoError(t, err)

		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: dec("1"), Reference: "has space"})
		assert.ErrorIs(t, err, ErrInvalidReference)
		ref := "client-" + uuid.NewString()[:8]
		e, _, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: dec("1"), Reference: ref})
		require.NoError(t, err)
		assert.Equal(t, ref, e.Reference)
	})

	t.Run("compensation refunds exactly once", func(t *testing.T) {
		s := newStore(t)
		w, err := SeedWallet(ctx, s, uuid.NewString(), "USD", dec("100"))
		require.NoError(t, err)

		pending, reserved, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCashOut, Amount: dec("40"), Status: StatusPending})
		require.NoError(t, err)
		assert.True(t, reserved.Balance.Equal(dec("60")))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			refunded int
		)
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, _, err := s.Compensate(ctx, pending.Reference, CompensationDescription(pending.Reference))
				if err == nil {
					mu.Lock()
					refunded++
					mu.Unlock()
				} else if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, refunded)

		final, err := s.FindWalletByID(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, final.Balance.Equal(dec("100")))

		original, err := s.FindByReference(ctx, pending.Reference)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, original.Status)

		entries, err := s.ListRecentEntries(ctx, w.ID, 0)
		require.NoError(t, err)
		var credits int
		for _, e := range entries {
			if e.Kind == KindCredit && e.Description == CompensationDescription(pending.Reference) {
				credits++
				assert.Equal(t, StatusCompleted, e.Status)
				assert.True(t, e.Amount.Equal(dec("40")))
			}
		}
		assert.Equal(t, 1, credits)
		assertBalanceMatchesEntries(t, s, w.ID)

		_, _, _, err = s.Compensate(ctx, uuid.NewString(), "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("history is newest first and capped", func(t *testing.T) {
		s := newStore(t)
		w, err := s.FindOrCreateWallet(ctx, uuid.NewString(), "USD")
		require.NoError(t, err)
		for i := 1; i <= 55; i++ {
			_, _, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCredit, Amount: decimal.NewFromInt(int64(i))})
			require.NoError(t, err)
		}

		entries, err := s.ListRecentEntries(ctx, w.ID, 0)
		require.NoError(t, err)
		require.Len(t, entries, DefaultHistoryLimit)
		assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(55)))
		for i := 1; i < len(entries); i++ {
			assert.False(t, entries[i].CreatedAt.After(entries[i-1].CreatedAt))
		}

		few, err := s.ListRecentEntries(ctx, w.ID, 3)
		require.NoError(t, err)
		assert.Len(t, few, 3)
	})

	t.Run("expired pending entries are listed", func(t *testing.T) {
		s := newStore(t)
		w, err := SeedWallet(ctx, s, uuid.NewString(), "USD", dec("100"))
		require.NoError(t, err)

		past := time.Now().UTC().Add(-time.Minute)
		future := time.Now().UTC().Add(time.Hour)
		expired, _, err := s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCashOut, Amount: dec("10"), Status: StatusPending, ExpiresAt: &past})
		require.NoError(t, err)
		_, _, err = s.MutateBalance(ctx, Mutation{WalletID: w.ID, Kind: KindCashOut, Amount: dec("10"), Status: StatusPending, ExpiresAt: &future})
		require.NoError(t, err)

		listed, err := s.ListExpiredPending(ctx, time.Now().UTC(), 1000)
		require.NoError(t, err)
		var refs []string
		for _, e := range listed {
			if e.WalletID == w.ID {
				refs = append(refs, e.Reference)
			}
		}
		assert.Equal(t, []string{expired.Reference}, refs)
	})
}

// assertBalanceMatchesEntries checks the ledger invariant: the balance equals
// the signed sum of completed entries plus reserved (pending) debits.
func assertBalanceMatchesEntries(t *testing.T, s Store, walletID string) {
	t.Helper()
	ctx := context.Background()
	w, err := s.FindWalletByID(ctx, walletID)
	require.NoError(t, err)
	entries, err := s.ListRecentEntries(ctx, walletID, DefaultHistoryLimit)
	require.NoError(t, err)
	require.Less(t, len(entries), DefaultHistoryLimit, "invariant check needs the full history")

	sum := decimal.Zero
	for _, e := range entries {
		counts := e.Status == StatusCompleted || (e.Status == StatusPending && e.Kind.DebitLike())
		if e.Status == StatusFailed && e.Kind.DebitLike() {
			// the debit was applied at reservation time and reversed by a refund entry
			counts = true
		}
		if !counts {
			continue
		}
		if e.Kind.DebitLike() {
			sum = sum.Sub(e.Amount)
		} else {
			sum = sum.Add(e.Amount)
		}
	}
	assert.True(t, w.Balance.Equal(sum), "balance %s, entries sum %s", w.Balance, sum)
}
