package bus

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhvt/candlecast/model/candle"
)

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscriber channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return Message{}
	}
}

func TestMemoryPublishFanout(t *testing.T) {
	m := NewMemory()

	a, cancelA := m.Listen()
	b, cancelB := m.Listen()
	defer cancelA()
	defer cancelB()

	require.NoError(t, m.Publish(context.Background(), "candle:BTCUSDT:1m", []byte("x")))

	for _, ch := range []<-chan Message{a, b} {
		msg := recv(t, ch)
		assert.Equal(t, "candle:BTCUSDT:1m", msg.Topic)
		assert.Equal(t, []byte("x"), msg.Payload)
	}
}

func TestMemoryListenCancel(t *testing.T) {
	m := NewMemory()
	ch, cancel := m.Listen()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")

	// Publishing after cancel must not panic or deliver.
	require.NoError(t, m.Publish(context.Background(), "t", []byte("y")))
}

func TestMemoryDropsLaggingSubscriber(t *testing.T) {
	m := NewMemory()
	ch, cancel := m.Listen()
	defer cancel()

	// Overfill the subscriber buffer; the subscriber is dropped instead
	// of blocking the publisher.
	for i := 0; i < 200; i++ {
		require.NoError(t, m.Publish(context.Background(), "t", []byte("z")))
	}

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, 128, n)
}

func TestMemoryLogAppendOrder(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "BTCUSDT", candle.Interval1m, []byte("a")))
	require.NoError(t, l.Append(ctx, "BTCUSDT", candle.Interval1m, []byte("b")))
	require.NoError(t, l.Append(ctx, "ETHUSDT", candle.Interval1m, []byte("c")))

	got := l.Entries("BTCUSDT", candle.Interval1m)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("a"), got[0])
	assert.Equal(t, []byte("b"), got[1])
	assert.Len(t, l.Entries("ETHUSDT", candle.Interval1m), 1)
	assert.Empty(t, l.Entries("ETHUSDT", candle.Interval5m))
}

func TestPublishCandleWirePayload(t *testing.T) {
	m := NewMemory()
	ch, cancel := m.Listen()
	defer cancel()

	c := &candle.Candle{
		Symbol:   "BTCUSDT",
		Interval: candle.Interval1m,
		OpenTime: 1_700_000_040_000,
		Close:    decimal.RequireFromString("42000.5"),
	}
	require.NoError(t, PublishCandle(context.Background(), m, c))

	msg := recv(t, ch)
	assert.Equal(t, "candle:BTCUSDT:1m", msg.Topic)
	assert.Contains(t, string(msg.Payload), `"close":"42000.5"`)
	assert.Contains(t, string(msg.Payload), `"openTime":1700000040000`)
}
