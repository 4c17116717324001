// Package backfill closes the gap between the last persisted candle
// and the present, once, at process start.
package backfill

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/minhvt/candlecast/model/candle"
)

// History is the exchange's request/response klines access.
type History interface {
	RecentClosed(ctx context.Context, symbol string, iv candle.Interval, limit int) ([]*candle.Candle, error)
	ClosedFrom(ctx context.Context, symbol string, iv candle.Interval, startMs int64, limit int) ([]*candle.Candle, error)
}

// Store answers "when was the last closed candle persisted" per pair.
type Store interface {
	LastOpenTime(ctx context.Context, symbol string, iv candle.Interval) (int64, bool, error)
}

// Sink receives every backfilled candle, oldest first.
type Sink interface {
	PublishClosed(ctx context.Context, c *candle.Candle) error
}

// Config bounds the reconciler's work.
type Config struct {
	// Limit is the provider's maximum page size; gaps wider than this
	// are clipped and the older candles stay permanently missing.
	Limit int
	// Workers caps how many pairs reconcile concurrently.
	Workers int
	// CallTimeout bounds every outbound network call.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	return c
}

// Reconciler fills per-pair gaps against the store and hands every
// fetched candle to the sink.
type Reconciler struct {
	history History
	store   Store
	sink    Sink
	cfg     Config
	now     func() time.Time
}

func New(history History, store Store, sink Sink, cfg Config) *Reconciler {
	return &Reconciler{
		history: history,
		store:   store,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// Run reconciles every pair on a bounded worker pool. A pair's failure
// is logged and never aborts its siblings; Run returns once all pairs
// have been attempted. Candles closing between this snapshot and the
// live stream's first message are a known, accepted gap.
func (r *Reconciler) Run(ctx context.Context, pairs []candle.Pair) {
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)

	for _, p := range pairs {
		p := p
		g.Go(func() error {
			if err := r.reconcilePair(ctx, p); err != nil {
				log.WithError(err).Errorf("backfill %s failed", p)
			}
			return nil
		})
	}
	g.Wait()
	log.Infof("backfill complete for %d pairs", len(pairs))
}

func (r *Reconciler) reconcilePair(ctx context.Context, p candle.Pair) error {
	ivMs := p.Interval.Millis()
	if ivMs == 0 {
		// Code/config mismatch, not a runtime condition.
		return fmt.Errorf("unsupported interval %q", p.Interval)
	}

	lastOpen, ok, err := r.lastOpenTime(ctx, p)
	if err != nil {
		// The store being unreachable is handled like a first run so the
		// pair still catches up, but it is logged as a failure, not
		// silently conflated with "no record".
		log.WithError(err).Warnf("backfill %s: store unreachable, fetching recent history", p)
		ok = false
	}

	nowAligned := candle.AlignToInterval(r.now().UnixMilli(), p.Interval)

	var fetched []*candle.Candle
	if !ok {
		fetched, err = r.fetchRecent(ctx, p)
		if err != nil {
			return fmt.Errorf("fetch recent: %w", err)
		}
		log.Infof("backfill %s: first run, fetched %d candles", p, len(fetched))
	} else {
		missing := (nowAligned - lastOpen) / ivMs
		if missing <= 0 {
			log.Debugf("backfill %s: up to date", p)
			return nil
		}
		limit := missing
		if limit > int64(r.cfg.Limit) {
			limit = int64(r.cfg.Limit)
			log.Warnf("backfill %s: %d candles missing, fetching only the %d most recent; older candles stay permanently missing",
				p, missing, limit)
		}
		start := nowAligned - limit*ivMs
		fetched, err = r.fetchFrom(ctx, p, start, int(limit))
		if err != nil {
			return fmt.Errorf("fetch %d candles from %d: %w", limit, start, err)
		}
		log.Infof("backfill %s: %d candles missing, fetched %d", p, missing, len(fetched))
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].OpenTime < fetched[j].OpenTime })
	for _, c := range fetched {
		c.IsClosed = true // historical candles are by definition closed
		if err := r.sink.PublishClosed(ctx, c); err != nil {
			return fmt.Errorf("publish candle @ %d: %w", c.OpenTime, err)
		}
	}
	return nil
}

func (r *Reconciler) lastOpenTime(ctx context.Context, p candle.Pair) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.store.LastOpenTime(ctx, p.Symbol, p.Interval)
}

func (r *Reconciler) fetchRecent(ctx context.Context, p candle.Pair) ([]*candle.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.history.RecentClosed(ctx, p.Symbol, p.Interval, r.cfg.Limit)
}

func (r *Reconciler) fetchFrom(ctx context.Context, p candle.Pair, startMs int64, limit int) ([]*candle.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.history.ClosedFrom(ctx, p.Symbol, p.Interval, startMs, limit)
}
