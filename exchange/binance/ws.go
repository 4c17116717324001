// Package binance connects the pipeline to Binance market data: a
// multiplexed kline websocket stream for live ticks and the REST klines
// endpoint for historical backfill.
package binance

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/minhvt/candlecast/model/candle"
)

// DefaultStreamBaseURL is the Binance combined-stream endpoint.
const DefaultStreamBaseURL = "wss://stream.binance.com:9443/stream"

const (
	initialBackoff    = time.Second
	maxBackoff        = 30 * time.Second
	backoffResetAfter = time.Minute
	frameBufferSize   = 256
)

// State is the connection lifecycle of the stream.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StreamConfig configures one multiplexed stream connection.
type StreamConfig struct {
	// BaseURL is the combined-stream endpoint; DefaultStreamBaseURL if empty.
	BaseURL string
	// Pairs is the set of (symbol, interval) subscriptions.
	Pairs []candle.Pair
}

// Stream owns the live connection. Frames are read by a transport
// goroutine and handed over a channel to a single processing loop, so
// no two frames from the same connection are ever handled concurrently.
// On transport failure the stream re-enters the connecting state with
// jittered exponential backoff.
type Stream struct {
	url     string
	handler func(*candle.Candle)

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream builds a stream over cfg delivering every parsed tick to
// handler, in arrival order.
func NewStream(cfg StreamConfig, handler func(*candle.Candle)) (*Stream, error) {
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("stream requires at least one pair")
	}
	if handler == nil {
		return nil, fmt.Errorf("stream requires a handler")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultStreamBaseURL
	}
	return &Stream{
		url:     streamURL(base, cfg.Pairs),
		handler: handler,
		done:    make(chan struct{}),
	}, nil
}

// streamURL builds the multiplexed subscription URL: one stream name
// per pair, lower-cased symbol, joined by "/" under ?streams=.
func streamURL(base string, pairs []candle.Pair) string {
	names := make([]string, 0, len(pairs))
	for _, p := range pairs {
		names = append(names, strings.ToLower(p.Symbol)+"@kline_"+string(p.Interval))
	}
	return base + "?streams=" + strings.Join(names, "/")
}

// Start opens the connection loop. It returns immediately; the stream
// runs until ctx is cancelled or Close is called.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// State reports the current connection state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Close stops the stream and waits for the connection loop to exit.
// Closing a stream that was never started is a no-op.
func (s *Stream) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateDisconnected)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)

		started := time.Now()
		err := s.connectAndRead(ctx)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > backoffResetAfter {
			backoff = initialBackoff
		}

		delay := jitter(backoff)
		log.WithError(err).Warnf("stream disconnected, reconnecting in %v", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// jitter spreads a backoff delay over [d/2, d] so a fleet of ingestors
// does not reconnect in lockstep.
func jitter(d time.Duration) time.Duration {
	half := int64(d / 2)
	return time.Duration(half + rand.Int63n(half+1))
}

// connectAndRead maintains a single websocket session until the context
// is cancelled or the transport fails.
func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	s.setState(StateConnected)
	log.Infof("stream connected to %s", s.url)

	frames := make(chan []byte, frameBufferSize)
	var readErr error
	go func() {
		defer close(frames)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr = err
				return
			}
			select {
			case frames <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case msg, ok := <-frames:
			if !ok {
				return fmt.Errorf("read: %w", readErr)
			}
			s.process(msg)
		}
	}
}

// process parses one frame and hands the tick to the handler. Frames
// that fail to parse are dropped and logged, never fatal.
func (s *Stream) process(msg []byte) {
	c, err := parseFrame(msg)
	if err != nil {
		log.WithError(err).Debug("dropping stream frame")
		return
	}
	s.handler(c)
}

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
}
