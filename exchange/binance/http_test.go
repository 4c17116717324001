package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhvt/candlecast/model/candle"
)

const klinesBody = `[
	[1700000040000,"42000.10","42100.5","41999.9","42050","12.34",1700000099999,"0","0","0","0","0"],
	[1700000100000,"42050","42200","42000","42150.25","8.5",1700000159999,"0","0","0","0","0"]
]`

func newTestHistory(t *testing.T, handler http.HandlerFunc) (*HistoryClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	h := NewHistoryClient(srv.URL, 5*time.Second)
	h.now = func() time.Time { return time.UnixMilli(1_700_000_125_000) }
	return h, srv
}

func TestRecentClosedQueryAndParse(t *testing.T) {
	var gotQuery map[string]string
	h, _ := newTestHistory(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte(klinesBody))
	})

	out, err := h.RecentClosed(context.Background(), "btcusdt", candle.Interval1m, 500)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", gotQuery["symbol"])
	assert.Equal(t, "1m", gotQuery["interval"])
	assert.Equal(t, "500", gotQuery["limit"])
	// The window ends one ms before the in-progress bucket's open time,
	// so the unfinished candle is never returned.
	assert.Equal(t, "1700000099999", gotQuery["endTime"])
	assert.NotContains(t, gotQuery, "startTime")

	require.Len(t, out, 2)
	assert.Equal(t, "BTCUSDT", out[0].Symbol)
	assert.Equal(t, candle.Interval1m, out[0].Interval)
	assert.Equal(t, int64(1700000040000), out[0].OpenTime)
	assert.True(t, out[0].Open.Equal(decimal.RequireFromString("42000.10")))
	assert.Equal(t, "42150.25", out[1].Close.String())
	assert.True(t, out[0].IsClosed)
	assert.True(t, out[1].IsClosed)
}

func TestClosedFromSetsStartTime(t *testing.T) {
	var start string
	h, _ := newTestHistory(t, func(w http.ResponseWriter, r *http.Request) {
		start = r.URL.Query().Get("startTime")
		w.Write([]byte(`[]`))
	})

	out, err := h.ClosedFrom(context.Background(), "ETHUSDT", candle.Interval5m, 1_699_999_800_000, 5)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "1699999800000", start)
}

func TestFetchClipsLimit(t *testing.T) {
	var limit string
	h, _ := newTestHistory(t, func(w http.ResponseWriter, r *http.Request) {
		limit = r.URL.Query().Get("limit")
		w.Write([]byte(`[]`))
	})

	_, err := h.RecentClosed(context.Background(), "BTCUSDT", candle.Interval1m, 5000)
	require.NoError(t, err)
	assert.Equal(t, "1000", limit)
}

func TestFetchErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		h, _ := newTestHistory(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "teapot", http.StatusTeapot)
		})
		_, err := h.RecentClosed(context.Background(), "BTCUSDT", candle.Interval1m, 10)
		assert.ErrorContains(t, err, "unexpected status")
	})

	t.Run("malformed kline row", func(t *testing.T) {
		h, _ := newTestHistory(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[[1700000040000,"x?","1","1","1","1",1700000099999]]`))
		})
		_, err := h.RecentClosed(context.Background(), "BTCUSDT", candle.Interval1m, 10)
		assert.Error(t, err)
	})

	t.Run("short kline row", func(t *testing.T) {
		h, _ := newTestHistory(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[[1700000040000,"1"]]`))
		})
		_, err := h.RecentClosed(context.Background(), "BTCUSDT", candle.Interval1m, 10)
		assert.ErrorContains(t, err, "want at least 7")
	})
}
