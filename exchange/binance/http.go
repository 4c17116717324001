package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhvt/candlecast/model/candle"
)

const (
	// DefaultRESTBaseURL is the Binance REST API endpoint.
	DefaultRESTBaseURL = "https://api.binance.com"

	// MaxKlineLimit is the provider's maximum page size for klines.
	MaxKlineLimit = 1000

	klinePath = "/api/v3/klines"
)

// HistoryClient fetches closed candles from the REST klines endpoint.
type HistoryClient struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewHistoryClient builds a client against baseURL (DefaultRESTBaseURL
// if empty). Every request is bounded by timeout.
func NewHistoryClient(baseURL string, timeout time.Duration) *HistoryClient {
	if baseURL == "" {
		baseURL = DefaultRESTBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HistoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// RecentClosed fetches the most recent limit closed candles for a pair.
// The request window ends just before the open of the in-progress
// bucket so the response never contains an unfinished candle.
func (h *HistoryClient) RecentClosed(ctx context.Context, symbol string, iv candle.Interval, limit int) ([]*candle.Candle, error) {
	endMs := candle.AlignToInterval(h.now().UnixMilli(), iv) - 1
	return h.fetch(ctx, symbol, iv, 0, endMs, limit)
}

// ClosedFrom fetches up to limit closed candles opening at or after
// startMs, in ascending time order.
func (h *HistoryClient) ClosedFrom(ctx context.Context, symbol string, iv candle.Interval, startMs int64, limit int) ([]*candle.Candle, error) {
	endMs := candle.AlignToInterval(h.now().UnixMilli(), iv) - 1
	return h.fetch(ctx, symbol, iv, startMs, endMs, limit)
}

func (h *HistoryClient) fetch(ctx context.Context, symbol string, iv candle.Interval, startMs, endMs int64, limit int) ([]*candle.Candle, error) {
	if limit <= 0 || limit > MaxKlineLimit {
		limit = MaxKlineLimit
	}

	u, err := url.Parse(h.baseURL + klinePath)
	if err != nil {
		return nil, fmt.Errorf("binance: parse url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", string(iv))
	q.Set("limit", strconv.Itoa(limit))
	if startMs > 0 {
		q.Set("startTime", strconv.FormatInt(startMs, 10))
	}
	if endMs > 0 {
		q.Set("endTime", strconv.FormatInt(endMs, 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: unexpected status %s", resp.Status)
	}

	// Each kline is a JSON array; the response is an array of them.
	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("binance: decode response: %w", err)
	}
	return parseKlines(strings.ToUpper(symbol), iv, raw)
}

// parseKlines converts the raw kline arrays into Candles.
//
// Kline array layout:
//
//	[0] open time (ms)   [1] open    [2] high   [3] low
//	[4] close            [5] volume  [6] close time (ms)
//	[7..11] quote volume, trade count, taker stats — unused
func parseKlines(symbol string, iv candle.Interval, raw [][]json.RawMessage) ([]*candle.Candle, error) {
	out := make([]*candle.Candle, 0, len(raw))
	for i, r := range raw {
		if len(r) < 7 {
			return nil, fmt.Errorf("binance: kline[%d] has %d fields, want at least 7", i, len(r))
		}

		openTime, err := rawInt64(r[0])
		if err != nil {
			return nil, fmt.Errorf("binance: kline[%d] open time: %w", i, err)
		}
		closeTime, err := rawInt64(r[6])
		if err != nil {
			return nil, fmt.Errorf("binance: kline[%d] close time: %w", i, err)
		}

		c := &candle.Candle{
			Symbol:    symbol,
			Interval:  iv,
			OpenTime:  openTime,
			CloseTime: closeTime,
			IsClosed:  true, // historical candles are by definition closed
		}
		for j, dst := range []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
			d, err := rawDecimal(r[j+1])
			if err != nil {
				return nil, fmt.Errorf("binance: kline[%d] field %d: %w", i, j+1, err)
			}
			*dst = d
		}
		out = append(out, c)
	}
	return out, nil
}

func rawInt64(raw json.RawMessage) (int64, error) {
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func rawDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Decimal{}, err
	}
	return parseDecimal(s)
}
