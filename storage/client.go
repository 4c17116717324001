// Package storage consumes the persistence service's read contract:
// the open time of the most recently stored closed candle per pair.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minhvt/candlecast/model/candle"
)

const lastOpenTimePath = "/candles/last-open-time"

// Client queries the storage service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// apiResponse is the storage service's envelope. Data is a pointer so
// a JSON null ("no candle stored yet") is distinguishable from zero.
type apiResponse struct {
	Data    *int64 `json:"data"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// LastOpenTime returns the open time of the last stored closed candle
// for a pair. The outcome is three-way so "no record" and "store
// unreachable" never conflate: (ms, true, nil) for a stored value,
// (0, false, nil) for a first run, and (0, false, err) when the store
// could not answer.
func (c *Client) LastOpenTime(ctx context.Context, symbol string, iv candle.Interval) (int64, bool, error) {
	u, err := url.Parse(c.baseURL + lastOpenTimePath)
	if err != nil {
		return 0, false, fmt.Errorf("storage: parse url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", string(iv))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, false, fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("storage: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("storage: unexpected status %s", resp.Status)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false, fmt.Errorf("storage: decode response: %w", err)
	}
	if body.Data == nil {
		return 0, false, nil
	}
	return *body.Data, true, nil
}
