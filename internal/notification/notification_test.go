package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct{ err error }

func (f failingNotifier) Send(context.Context, Message) error { return f.err }

func TestStreamNotifierPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	n := NewStreamNotifier(client, "")
	require.NoError(t, n.Send(context.Background(), Message{
		Kind:        KindLowBalance,
		Destination: "acc-1",
		Level:       "warning",
		Body:        "Account balance is low",
	}))

	msgs, err := client.XRange(context.Background(), DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, KindLowBalance, msgs[0].Values["kind"])

	var got Message
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["event"].(string)), &got))
	assert.Equal(t, "acc-1", got.Destination)
	assert.False(t, got.SentAt.IsZero())
}

func TestFanoutJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	boom := errors.New("boom")

	err := Fanout{NewLoggerNotifier(logger), nil, failingNotifier{err: boom}}.Send(context.Background(), Message{Kind: KindLowBalance, Destination: "acc-1"})

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), `"destination":"acc-1"`)
}

func TestLoggerNotifierNilSafe(t *testing.T) {
	var n *LoggerNotifier
	assert.NoError(t, n.Send(context.Background(), Message{}))
}
