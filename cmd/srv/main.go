package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/minhvt/candlecast/backfill"
	"github.com/minhvt/candlecast/bus"
	"github.com/minhvt/candlecast/config"
	"github.com/minhvt/candlecast/distributor"
	"github.com/minhvt/candlecast/exchange/binance"
	"github.com/minhvt/candlecast/hub"
	"github.com/minhvt/candlecast/model/candle"
	"github.com/minhvt/candlecast/server"
	"github.com/minhvt/candlecast/storage"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "candlecast",
	Short: "Ingest live candles, reconcile gaps, and fan out to clients",
	RunE:  run,

	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml or ./configs/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	pairs := cfg.Pairs()
	log.Infof("tracking %d pairs", len(pairs))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sinks: redis in production, the in-process bus in dev mode.
	var (
		broadcast bus.Broadcast
		durable   bus.DurableLog
		recent    server.RecentSource
		msgs      <-chan bus.Message
	)
	if cfg.Redis.Enabled {
		rdb, err := bus.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		listen, err := rdb.Listen(ctx, "candle:*")
		if err != nil {
			return err
		}
		broadcast, durable, recent, msgs = rdb, rdb, rdb, listen
	} else {
		log.Warn("redis disabled, running on the in-process bus")
		mem := bus.NewMemory()
		ch, cancel := mem.Listen()
		defer cancel()
		broadcast, durable, msgs = mem, bus.NewMemoryLog(), ch
	}

	dist := distributor.New(durable, broadcast)

	// Backfill runs to completion before the live socket opens; candles
	// closing in between are a known, accepted gap.
	history := binance.NewHistoryClient(cfg.Binance.RESTBaseURL, cfg.HTTPTimeout)
	store := storage.NewClient(cfg.Storage.BaseURL, cfg.HTTPTimeout)
	reconciler := backfill.New(history, store, dist, backfill.Config{
		Limit:       cfg.Backfill.Limit,
		Workers:     cfg.Backfill.Workers,
		CallTimeout: cfg.HTTPTimeout,
	})
	reconciler.Run(ctx, pairs)

	stream, err := binance.NewStream(binance.StreamConfig{
		BaseURL: cfg.Binance.StreamBaseURL,
		Pairs:   pairs,
	}, func(c *candle.Candle) {
		if c.IsClosed {
			if err := dist.PublishClosed(ctx, c); err != nil {
				log.WithError(err).Errorf("distribute %s %s failed", c.Symbol, c.Interval)
			}
			return
		}
		if err := bus.PublishCandle(ctx, broadcast, c); err != nil {
			log.WithError(err).Warnf("broadcast live tick %s %s failed", c.Symbol, c.Interval)
		}
	})
	if err != nil {
		return err
	}
	stream.Start(ctx)
	defer stream.Close()

	h := hub.New()
	go hub.Feed(ctx, msgs, h)

	srv := server.New(h, recent, func() string { return stream.State().String() })
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
