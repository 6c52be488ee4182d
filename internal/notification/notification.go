package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// KindLowBalance is sent when a wallet balance drops below the account's threshold.
	KindLowBalance = "low_balance"
)

// Message describes a notification payload. Destination is the account ID.
type Message struct {
	Kind        string    `json:"kind"`
	Destination string    `json:"destination"`
	Level       string    `json:"level,omitempty"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("level", message.Level),
		slog.String("body", message.Body),
	)
	return nil
}

// Fanout delivers every message to all notifiers, joining their errors.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
