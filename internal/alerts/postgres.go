package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresRepository stores alerts and thresholds in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository constructs the repository. It implements both
// Repository and ThresholdStore.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, alert Alert) (Alert, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO alerts (id, account_id, level, title, message, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		alert.ID, alert.AccountID, alert.Level, alert.Title, alert.Message, alert.IsRead, alert.CreatedAt)
	if err != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return alert, nil
}

func (r *PostgresRepository) ListUnread(ctx context.Context, accountID string, limit int) ([]Alert, error) {
	if limit <= 0 || limit > MaxActive {
		limit = MaxActive
	}
	rows, err := r.db.Query(ctx, `SELECT id, account_id, level, title, message, is_read, created_at
        FROM alerts WHERE account_id = $1 AND NOT is_read
        ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Alert{}
	for rows.Next() {
		var (
			a  Alert
			id uuid.UUID
		)
		if err := rows.Scan(&id, &a.AccountID, &a.Level, &a.Title, &a.Message, &a.IsRead, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ID = id.String()
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkRead(ctx context.Context, accountID string, ids []string) (int, error) {
	parsed := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		parsed = append(parsed, id)
	}
	if len(parsed) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `UPDATE alerts SET is_read = TRUE
        WHERE account_id = $1 AND id = ANY($2::uuid[]) AND NOT is_read`, accountID, parsed)
	if err != nil {
		return 0, fmt.Errorf("mark alerts read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) GetThreshold(ctx context.Context, accountID string) (decimal.Decimal, bool, error) {
	var threshold decimal.Decimal
	err := r.db.QueryRow(ctx, `SELECT threshold FROM alert_thresholds WHERE account_id = $1`, accountID).Scan(&threshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return threshold, true, nil
}

func (r *PostgresRepository) SetThreshold(ctx context.Context, accountID string, threshold decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `INSERT INTO alert_thresholds (account_id, threshold, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_id) DO UPDATE SET threshold = EXCLUDED.threshold, updated_at = EXCLUDED.updated_at`,
		accountID, threshold, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set threshold: %w", err)
	}
	return nil
}
