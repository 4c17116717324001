// Package bus provides the two downstream sinks of the candle pipeline:
// the ephemeral broadcast channel carrying every tick to connected
// clients, and the durable append-only log of closed candles.
package bus

import (
	"context"
	"encoding/json"

	"github.com/minhvt/candlecast/model/candle"
)

// Message is one broadcast-bus delivery.
type Message struct {
	Topic   string
	Payload []byte
}

// Broadcast publishes a payload under a topic key. Delivery is
// best-effort and fire-and-forget.
type Broadcast interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// DurableLog appends the canonical wire form of a closed candle to the
// log stream keyed by (symbol, interval).
type DurableLog interface {
	Append(ctx context.Context, symbol string, iv candle.Interval, payload []byte) error
}

// PublishCandle marshals a candle to its wire representation and
// publishes it under the candle's topic. Used on the live path, where
// open ticks bypass the distributor.
func PublishCandle(ctx context.Context, b Broadcast, c *candle.Candle) error {
	payload, err := marshalCandle(c)
	if err != nil {
		return err
	}
	return b.Publish(ctx, c.Topic(), payload)
}

func marshalCandle(c *candle.Candle) ([]byte, error) {
	return json.Marshal(c)
}
