package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"

	// LowBalanceTitle is the title of every low balance alert.
	LowBalanceTitle = "low balance alert"

	// MaxActive caps how many unread alerts are returned.
	MaxActive = 50
)

// ErrInvalidThreshold rejects negative thresholds.
var ErrInvalidThreshold = errors.New("invalid alert threshold")

// Source tells whether alerts came from the cache or the database.
type Source string

const (
	SourceCache Source = "cache"
	SourceDB    Source = "db"
)

// Alert is a persisted notice for an account.
type Alert struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Level     string    `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Alerter is consumed by anything that lowers balances.
type Alerter interface {
	CheckForLowBalance(ctx context.Context, accountID string, balance decimal.Decimal, currency string) error
}

// Repository persists alerts.
type Repository interface {
	Create(ctx context.Context, alert Alert) (Alert, error)
	ListUnread(ctx context.Context, accountID string, limit int) ([]Alert, error)
	// MarkRead only touches alerts owned by accountID and returns how many changed.
	MarkRead(ctx context.Context, accountID string, ids []string) (int, error)
}

// ThresholdStore keeps the per-account low balance threshold.
type ThresholdStore interface {
	GetThreshold(ctx context.Context, accountID string) (decimal.Decimal, bool, error)
	SetThreshold(ctx context.Context, accountID string, threshold decimal.Decimal) error
}
