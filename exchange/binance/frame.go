package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/minhvt/candlecast/model/candle"
)

// streamFrame is the combined-stream envelope: the stream name the
// payload arrived on, plus the raw event.
type streamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// klineEvent carries the kline sub-object of a market-data event.
// Kline stays raw so a missing node is distinguishable from a present
// but empty one.
type klineEvent struct {
	Kline json.RawMessage `json:"k"`
}

type klinePayload struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	IsClosed  bool   `json:"x"`
}

// parseFrame converts one combined-stream text frame into a Candle.
// Any error means the frame is dropped by the caller; parsing never
// takes the connection down.
func parseFrame(msg []byte) (*candle.Candle, error) {
	var f streamFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if len(f.Data) == 0 {
		return nil, errors.New("frame has no data payload")
	}

	symbol, iv, err := splitStreamName(f.Stream)
	if err != nil {
		return nil, err
	}

	var evt klineEvent
	if err := json.Unmarshal(f.Data, &evt); err != nil {
		return nil, fmt.Errorf("decode data payload: %w", err)
	}
	if len(evt.Kline) == 0 || string(evt.Kline) == "null" {
		return nil, errors.New("frame has no kline payload")
	}

	var k klinePayload
	if err := json.Unmarshal(evt.Kline, &k); err != nil {
		return nil, fmt.Errorf("decode kline payload: %w", err)
	}

	c := &candle.Candle{
		Symbol:    symbol,
		Interval:  iv,
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		IsClosed:  k.IsClosed,
	}
	for _, field := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"open", k.Open, &c.Open},
		{"high", k.High, &c.High},
		{"low", k.Low, &c.Low},
		{"close", k.Close, &c.Close},
		{"volume", k.Volume, &c.Volume},
	} {
		d, err := parseDecimal(field.src)
		if err != nil {
			return nil, fmt.Errorf("parse %s %q: %w", field.name, field.src, err)
		}
		*field.dst = d
	}
	return c, nil
}

// splitStreamName recovers the pair from a stream name like
// "btcusdt@kline_1m".
func splitStreamName(stream string) (string, candle.Interval, error) {
	sym, rest, ok := strings.Cut(stream, "@")
	if !ok || sym == "" {
		return "", "", fmt.Errorf("malformed stream name %q", stream)
	}
	code := strings.TrimPrefix(rest, "kline_")
	if code == rest {
		return "", "", fmt.Errorf("stream %q is not a kline stream", stream)
	}
	iv, err := candle.ParseInterval(code)
	if err != nil {
		return "", "", fmt.Errorf("stream %q: %w", stream, err)
	}
	return strings.ToUpper(sym), iv, nil
}

// parseDecimal parses an exchange numeric string. An absent field
// defaults to zero; a malformed one is an error and drops the frame —
// a zero must never be silently substituted for a bad value.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, nil
	}
	return decimal.NewFromString(s)
}
