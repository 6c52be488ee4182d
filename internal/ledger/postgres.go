package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const entryColumns = `id, reference, wallet_id, kind, status, amount, currency,
        COALESCE(description, ''), COALESCE(external_id, ''), expires_at, created_at, updated_at`

const walletColumns = `id, account_id, balance, currency, version, created_at, updated_at`

// PostgresStore persists wallets and ledger entries in PostgreSQL. Balance
// changes take a row lock on the wallet (SELECT ... FOR UPDATE) so concurrent
// mutations of the same wallet are serialized by the database.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindOrCreateWallet returns the account's wallet, creating an empty one on
// first access. The unique account_id constraint keeps concurrent callers
// from creating duplicates.
func (s *PostgresStore) FindOrCreateWallet(ctx context.Context, accountID, currency string) (Wallet, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (id, account_id, balance, currency, created_at, updated_at)
        VALUES ($1, $2, 0, $3, $4, $4)
        ON CONFLICT (account_id) DO NOTHING`, uuid.New(), accountID, currency, now)
	if err != nil {
		return Wallet{}, fmt.Errorf("ensure wallet: %w", err)
	}
	return s.FindWalletByAccount(ctx, accountID)
}

// FindWalletByID fetches a wallet by identifier.
func (s *PostgresStore) FindWalletByID(ctx context.Context, walletID string) (Wallet, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	return scanWallet(row, walletID)
}

// FindWalletByAccount fetches the wallet owned by accountID.
func (s *PostgresStore) FindWalletByAccount(ctx context.Context, accountID string) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_id = $1`, accountID)
	return scanWallet(row, "for account "+accountID)
}

// MutateBalance locks the wallet row, applies the change and appends the
// ledger entry in a single transaction.
func (s *PostgresStore) MutateBalance(ctx context.Context, m Mutation) (Entry, Wallet, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, Wallet{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	entry, w, err := applyMutation(ctx, tx, m)
	if err != nil {
		return Entry{}, Wallet{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, Wallet{}, fmt.Errorf("commit mutation: %w", err)
	}
	return entry, w, nil
}

// UpdateEntryStatus moves a pending entry to its next status.
func (s *PostgresStore) UpdateEntryStatus(ctx context.Context, reference string, status Status, externalID string) (Entry, error) {
	if err := checkTarget(reference, status); err != nil {
		return Entry{}, err
	}
	row := s.db.QueryRow(ctx, `UPDATE ledger_entries
        SET status = $2, external_id = COALESCE(NULLIF($3, ''), external_id), updated_at = $4
        WHERE reference = $1 AND status = 'pending'
        RETURNING `+entryColumns, reference, string(status), externalID, time.Now().UTC())
	entry, err := scanEntry(row)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, err
	}
	// nothing updated: either unknown or already terminal
	existing, findErr := s.FindByReference(ctx, reference)
	if findErr != nil {
		return Entry{}, findErr
	}
	if err := checkTransition(existing, status); err != nil {
		return existing, err
	}
	return existing, fmt.Errorf("entry %s changed concurrently: %w", reference, ErrInvalidTransition)
}

// Compensate refunds a pending debit-like entry and marks it failed.
func (s *PostgresStore) Compensate(ctx context.Context, reference, description string) (Entry, Entry, Wallet, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, Entry{}, Wallet{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE reference = $1 FOR UPDATE`, reference)
	original, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, Entry{}, Wallet{}, fmt.Errorf("entry %s: %w", reference, ErrNotFound)
		}
		return Entry{}, Entry{}, Wallet{}, err
	}
	if original.Status != StatusPending || !original.Kind.DebitLike() {
		return Entry{}, original, Wallet{}, fmt.Errorf("entry %s is %s %s: %w", reference, original.Status, original.Kind, ErrInvalidTransition)
	}

	refund, w, err := applyMutation(ctx, tx, Mutation{
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

	row = tx.QueryRow(ctx, `UPDATE ledger_entries SET status = 'failed', updated_at = $2
        WHERE reference = $1 RETURNING `+entryColumns, reference, time.Now().UTC())
	failed, err := scanEntry(row)
	if err != nil {
		return Entry{}, Entry{}, Wallet{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, Entry{}, Wallet{}, fmt.Errorf("commit compensation: %w", err)
	}
	return refund, failed, w, nil
}

// FindByReference looks up an entry by its reference token.
func (s *PostgresStore) FindByReference(ctx context.Context, reference string) (Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE reference = $1`, reference)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, fmt.Errorf("entry %s: %w", reference, ErrNotFound)
		}
		return Entry{}, err
	}
	return entry, nil
}

// ListRecentEntries returns the wallet's latest entries, newest first.
func (s *PostgresStore) ListRecentEntries(ctx context.Context, walletID string, limit int) ([]Entry, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE wallet_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, id, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListExpiredPending returns pending entries whose reservation deadline has passed.
func (s *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
        ORDER BY expires_at LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func applyMutation(ctx context.Context, tx pgx.Tx, m Mutation) (Entry, Wallet, error) {
	walletID, err := uuid.Parse(m.WalletID)
	if err != nil {
		return Entry{}, Wallet{}, fmt.Errorf("wallet %s: %w", m.WalletID, ErrNotFound)
	}

	row := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
	w, err := scanWallet(row, m.WalletID)
	if err != nil {
		return Entry{}, Wallet{}, err
	}

	m, err = prepareMutation(m, w)
	if err != nil {
		return Entry{}, Wallet{}, err
	}
	balance, err := nextBalance(w.Balance, m.Kind, m.Amount)
	if err != nil {
		return Entry{}, Wallet{}, err
	}

	now := time.Now().UTC()
	err = tx.QueryRow(ctx, `UPDATE wallets SET balance = $2, updated_at = $3, version = version + 1
        WHERE id = $1 RETURNING version`, walletID, balance, now).Scan(&w.Version)
	if err != nil {
		return Entry{}, Wallet{}, fmt.Errorf("update balance: %w", err)
	}
	w.Balance = balance
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
	_, err = tx.Exec(ctx, `INSERT INTO ledger_entries
        (id, reference, wallet_id, kind, status, amount, currency, description, external_id, expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $11)`,
		entry.ID, entry.Reference, walletID, string(entry.Kind), string(entry.Status), entry.Amount,
		entry.Currency, entry.Description, entry.ExternalID, entry.ExpiresAt, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Entry{}, Wallet{}, fmt.Errorf("reference %s: %w", entry.Reference, ErrDuplicateReference)
		}
		return Entry{}, Wallet{}, fmt.Errorf("insert entry: %w", err)
	}
	return entry, w, nil
}

func scanWallet(row pgx.Row, label string) (Wallet, error) {
	var (
		w  Wallet
		id uuid.UUID
	)
	if err := row.Scan(&id, &w.AccountID, &w.Balance, &w.Currency, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, fmt.Errorf("wallet %s: %w", label, ErrNotFound)
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e        Entry
		id       uuid.UUID
		walletID uuid.UUID
		kind     string
		status   string
	)
	err := row.Scan(&id, &e.Reference, &walletID, &kind, &status, &e.Amount, &e.Currency,
		&e.Description, &e.ExternalID, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.ID = id.String()
	e.WalletID = walletID.String()
	e.Kind = Kind(kind)
	e.Status = Status(status)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
