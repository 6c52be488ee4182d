package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a wallet or ledger entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds occurs when a debit-like mutation would drive the
	// wallet balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount rejects non-numeric, non-positive or over-precise amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDuplicateReference indicates the reference token is already taken by
	// another entry.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrInvalidTransition is returned when an entry is asked to leave a
	// terminal status, to move to a non-terminal one, or to fail a debit-like
	// entry without its refund.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCurrencyMismatch rejects mutations in a currency other than the wallet's.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidReference rejects caller-supplied reference tokens that are
	// empty, too long or contain whitespace.
	ErrInvalidReference = errors.New("invalid reference")
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindCredit  Kind = "credit"
	KindDebit   Kind = "debit"
	KindCashIn  Kind = "cash_in"
	KindCashOut Kind = "cash_out"
)

// DebitLike reports whether entries of this kind reduce the balance.
func (k Kind) DebitLike() bool {
	return k == KindDebit || k == KindCashOut
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCredit, KindDebit, KindCashIn, KindCashOut:
		return true
	}
	return false
}

// Status is the lifecycle state of a ledger entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	// DefaultHistoryLimit caps ListRecentEntries.
	DefaultHistoryLimit = 50
	// AmountScale is the number of fractional digits persisted for amounts.
	AmountScale = 4
)

// Wallet holds the current balance of one account. Version increases by one
// with every balance change.
type Wallet struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Entry is the audit record of one attempted money movement. Only Status,
// ExternalID and UpdatedAt change after creation.
type Entry struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference"`
	WalletID    string          `json:"wallet_id"`
	Kind        Kind            `json:"kind"`
	Status      Status          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	ExternalID  string          `json:"external_id,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Mutation describes a single balance change and the entry that records it.
type Mutation struct {
	WalletID    string
	Kind        Kind
	Amount      decimal.Decimal
	Currency    string // empty means the wallet currency
	Description string
	Status      Status // empty means completed
	Reference   string // empty means a fresh token is generated
	ExternalID  string
	ExpiresAt   *time.Time
}

// Store is the only path through which wallet balances change. Implementations
// serialize mutations per wallet and apply each one atomically.
type Store interface {
	FindOrCreateWallet(ctx context.Context, accountID, currency string) (Wallet, error)
	FindWalletByID(ctx context.Context, walletID string) (Wallet, error)
	FindWalletByAccount(ctx context.Context, accountID string) (Wallet, error)

	MutateBalance(ctx context.Context, m Mutation) (Entry, Wallet, error)
	// UpdateEntryStatus settles a pending entry as completed. Any other
	// target is ErrInvalidTransition; entries fail only through Compensate.
	UpdateEntryStatus(ctx context.Context, reference string, status Status, externalID string) (Entry, error)
	// Compensate refunds a pending debit-like entry and marks it failed in one
	// transaction. It returns the refund entry, the failed original and the
	// wallet after the refund.
	Compensate(ctx context.Context, reference, description string) (Entry, Entry, Wallet, error)

	FindByReference(ctx context.Context, reference string) (Entry, error)
	ListRecentEntries(ctx context.Context, walletID string, limit int) ([]Entry, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Entry, error)
}

// CompensationDescription is the description recorded on refund entries.
func CompensationDescription(reference string) string {
	return "Refund for failed cash-out ref: " + reference
}

// checkTarget rejects targets UpdateEntryStatus can never reach. Pending
// entries are always debit-like reservations, so completion is the only
// transition; failing one goes through Compensate with its refund.
func checkTarget(reference string, target Status) error {
	switch target {
	case StatusCompleted:
		return nil
	case StatusFailed:
		return fmt.Errorf("entry %s must be compensated to fail: %w", reference, ErrInvalidTransition)
	default:
		return fmt.Errorf("entry %s cannot move to %q: %w", reference, target, ErrInvalidTransition)
	}
}

// checkTransition validates moving entry to target.
func checkTransition(entry Entry, target Status) error {
	if err := checkTarget(entry.Reference, target); err != nil {
		return err
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("entry %s is %s: %w", entry.Reference, entry.Status, ErrInvalidTransition)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultHistoryLimit {
		return DefaultHistoryLimit
	}
	return limit
}

// nextBalance applies the mutation to the current balance.
func nextBalance(current decimal.Decimal, kind Kind, amount decimal.Decimal) (decimal.Decimal, error) {
	if kind.DebitLike() {
		if current.LessThan(amount) {
			return current, ErrInsufficientFunds
		}
		return current.Sub(amount), nil
	}
	return current.Add(amount), nil
}

func prepareMutation(m Mutation, w Wallet) (Mutation, error) {
	if !m.Kind.Valid() {
		return m, errors.New("unknown entry kind " + string(m.Kind))
	}
	if err := ValidateAmount(m.Amount); err != nil {
		return m, err
	}
	if m.Currency == "" {
		m.Currency = w.Currency
	} else if m.Currency != w.Currency {
		return m, ErrCurrencyMismatch
	}
	switch m.Status {
	case "":
		m.Status = StatusCompleted
	case StatusCompleted:
	case StatusPending:
		if !m.Kind.DebitLike() {
			return m, fmt.Errorf("only debit-like entries may be pending, got %s: %w", m.Kind, ErrInvalidTransition)
		}
	default:
		return m, fmt.Errorf("entries cannot be recorded as %q: %w", m.Status, ErrInvalidTransition)
	}
	if m.Reference == "" {
		m.Reference = NewReference()
	} else if err := ValidateReference(m.Reference); err != nil {
		return m, err
	}
	return m, nil
}
