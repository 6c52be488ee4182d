package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/balancecache"
	"github.com/congo-pay/walletledger/internal/notification"
)

// DefaultCacheTTL bounds how long the active alert list is cached.
const DefaultCacheTTL = 300 * time.Second

// Deps wires the alert service.
type Deps struct {
	Repository Repository
	Thresholds ThresholdStore
	// Cache is optional; nil disables caching of active alerts.
	Cache    balancecache.Store
	CacheTTL time.Duration
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Service raises low balance alerts and serves them back to the account.
type Service struct {
	repo       Repository
	thresholds ThresholdStore
	cache      balancecache.Store
	ttl        time.Duration
	notifier   notification.Notifier
	logger     *slog.Logger
}

// NewService validates deps and builds the service.
func NewService(d Deps) (*Service, error) {
	if d.Repository == nil || d.Thresholds == nil {
		return nil, fmt.Errorf("alerts: repository and threshold store are required")
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = DefaultCacheTTL
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}
	return &Service{
		repo:       d.Repository,
		thresholds: d.Thresholds,
		cache:      d.Cache,
		ttl:        d.CacheTTL,
		notifier:   d.Notifier,
		logger:     d.Logger,
	}, nil
}

// CacheKey returns the key under which an account's active alerts are cached.
func CacheKey(accountID string) string {
	return "alerts:account:" + accountID
}

// CheckForLowBalance records an alert when balance is strictly below the
// account's threshold. Accounts without a threshold are ignored.
func (s *Service) CheckForLowBalance(ctx context.Context, accountID string, balance decimal.Decimal, currency string) error {
	threshold, ok, err := s.thresholds.GetThreshold(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load threshold: %w", err)
	}
	if !ok || !balance.LessThan(threshold) {
		return nil
	}

	message := fmt.Sprintf("Account balance is low: %s. Threshold is %s.",
		formatAmount(balance, currency), formatAmount(threshold, currency))
	alert, err := s.repo.Create(ctx, Alert{
		AccountID: accountID,
		Level:     LevelWarning,
		Title:     LowBalanceTitle,
		Message:   message,
	})
	if err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	s.invalidate(ctx, accountID)

	if err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindLowBalance,
		Destination: accountID,
		Level:       alert.Level,
		Body:        message,
		SentAt:      alert.CreatedAt,
	}); err != nil {
		s.logger.Warn("low balance notification failed", slog.String("alert_id", alert.ID), slog.Any("error", err))
	}
	return nil
}

// ActiveAlerts returns up to MaxActive unread alerts, newest first.
func (s *Service) ActiveAlerts(ctx context.Context, accountID string) ([]Alert, Source, error) {
	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, CacheKey(accountID))
		switch {
		case err != nil:
			s.logger.Warn("alerts cache read failed", slog.String("account_id", accountID), slog.Any("error", err))
		case ok:
			var cached []Alert
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, SourceCache, nil
			}
		}
	}

	list, err := s.repo.ListUnread(ctx, accountID, MaxActive)
	if err != nil {
		return nil, "", err
	}
	if s.cache != nil {
		if payload, err := json.Marshal(list); err == nil {
			if err := s.cache.Set(ctx, CacheKey(accountID), string(payload), s.ttl); err != nil {
				s.logger.Warn("alerts cache write failed", slog.String("account_id", accountID), slog.Any("error", err))
			}
		}
	}
	return list, SourceDB, nil
}

// MarkRead marks the account's alerts as read. IDs owned by other accounts
// are ignored.
func (s *Service) MarkRead(ctx context.Context, accountID string, ids []string) (int, error) {
	n, err := s.repo.MarkRead(ctx, accountID, ids)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, accountID)
	return n, nil
}

// SetThreshold stores the account's low balance threshold.
func (s *Service) SetThreshold(ctx context.Context, accountID string, threshold decimal.Decimal) error {
	if threshold.IsNegative() {
		return ErrInvalidThreshold
	}
	return s.thresholds.SetThreshold(ctx, accountID, threshold)
}

// Threshold returns the account's threshold, if one is set.
func (s *Service) Threshold(ctx context.Context, accountID string) (decimal.Decimal, bool, error) {
	return s.thresholds.GetThreshold(ctx, accountID)
}

func (s *Service) invalidate(ctx context.Context, accountID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, CacheKey(accountID)); err != nil {
		s.logger.Warn("alerts cache invalidation failed", slog.String("account_id", accountID), slog.Any("error", err))
	}
}

func formatAmount(amount decimal.Decimal, currency string) string {
	return strings.TrimSpace(amount.StringFixed(2) + " " + currency)
}
