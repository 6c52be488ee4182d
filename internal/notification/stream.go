package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream downstream delivery workers consume.
const DefaultStream = "notifications"

// defaultMaxLen approximately caps the stream so unconsumed messages do not
// grow without bound.
const defaultMaxLen = 10000

// StreamNotifier publishes notifications onto a Redis stream.
type StreamNotifier struct {
	client *redis.Client
	stream string
	now    func() time.Time
}

// NewStreamNotifier builds a notifier publishing to stream, or DefaultStream
// when empty.
func NewStreamNotifier(client *redis.Client, stream string) *StreamNotifier {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamNotifier{client: client, stream: stream, now: func() time.Time { return time.Now().UTC() }}
}

// Send appends the message as a JSON "event" field.
func (n *StreamNotifier) Send(ctx context.Context, message Message) error {
	if message.SentAt.IsZero() {
		message.SentAt = n.now()
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: defaultMaxLen,
		Approx: true,
		Values: map[string]any{
			"kind":  message.Kind,
			"event": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
