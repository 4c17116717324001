// Package distributor is the single sink the reconciler and the live
// ingestor feed finalized candles into. It is the only path by which
// closed candles leave the pipeline.
package distributor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/minhvt/candlecast/bus"
	"github.com/minhvt/candlecast/model/candle"
)

// Distributor publishes each closed candle once to the durable log and
// once to the broadcast bus. A per-pair open-time watermark guards
// against double-publishing the same candle identity when the backfill
// window and the live stream overlap.
type Distributor struct {
	durable   bus.DurableLog
	broadcast bus.Broadcast

	mu        sync.Mutex
	published map[string]int64 // pair key -> highest published open time
}

func New(durable bus.DurableLog, broadcast bus.Broadcast) *Distributor {
	return &Distributor{
		durable:   durable,
		broadcast: broadcast,
		published: make(map[string]int64),
	}
}

// PublishClosed serializes the candle to its canonical wire form
// exactly once and emits it to both sinks. Candles at or below the
// pair's watermark are skipped. The durable append must succeed before
// the watermark advances; a broadcast failure is logged but does not
// fail the publish, since bus delivery is best-effort by contract.
func (d *Distributor) PublishClosed(ctx context.Context, c *candle.Candle) error {
	if !c.IsClosed {
		return fmt.Errorf("refusing to distribute open candle %s %s @ %d", c.Symbol, c.Interval, c.OpenTime)
	}

	key := c.Symbol + ":" + string(c.Interval)
	d.mu.Lock()
	last, seen := d.published[key]
	d.mu.Unlock()
	if seen && c.OpenTime <= last {
		log.Debugf("skipping already-published candle %s @ %d", key, c.OpenTime)
		return nil
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("serialize candle %s @ %d: %w", key, c.OpenTime, err)
	}

	if err := d.durable.Append(ctx, c.Symbol, c.Interval, payload); err != nil {
		return fmt.Errorf("append candle %s @ %d: %w", key, c.OpenTime, err)
	}

	d.mu.Lock()
	if cur, ok := d.published[key]; !ok || c.OpenTime > cur {
		d.published[key] = c.OpenTime
	}
	d.mu.Unlock()

	if err := d.broadcast.Publish(ctx, c.Topic(), payload); err != nil {
		log.WithError(err).Warnf("broadcast of closed candle %s @ %d failed", key, c.OpenTime)
	}
	return nil
}
