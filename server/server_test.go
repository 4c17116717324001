package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhvt/candlecast/hub"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRecent struct {
	payloads [][]byte
	err      error
}

func (f *fakeRecent) Recent(_ context.Context, symbol, interval string, limit int) ([][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payloads, nil
}

func newTestServer(t *testing.T, recent RecentSource) (*Server, *httptest.Server, *hub.Hub) {
	t.Helper()
	h := hub.New()
	s := New(h, recent, func() string { return "connected" })
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts, h
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Data struct {
			Stream   string `json:"stream"`
			Sessions int    `json:"sessions"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "connected", body.Data.Stream)
	assert.Zero(t, body.Data.Sessions)
}

func TestRecent(t *testing.T) {
	recent := &fakeRecent{payloads: [][]byte{[]byte(`{"symbol":"BTCUSDT"}`)}}
	_, ts, _ := newTestServer(t, recent)

	resp, err := http.Get(ts.URL + "/api/candles/recent?symbol=BTCUSDT&interval=1m")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.JSONEq(t, `{"symbol":"BTCUSDT"}`, string(body.Data[0]))
}

func TestRecentValidation(t *testing.T) {
	_, ts, _ := newTestServer(t, &fakeRecent{})

	resp, err := http.Get(ts.URL + "/api/candles/recent?symbol=BTCUSDT")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecentErrors(t *testing.T) {
	t.Run("no cache configured", func(t *testing.T) {
		_, ts, _ := newTestServer(t, nil)
		resp, err := http.Get(ts.URL + "/api/candles/recent?symbol=BTCUSDT&interval=1m")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("cache failure", func(t *testing.T) {
		_, ts, _ := newTestServer(t, &fakeRecent{err: errors.New("redis down")})
		resp, err := http.Get(ts.URL + "/api/candles/recent?symbol=BTCUSDT&interval=1m")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestWebsocketSubscribeAndForward(t *testing.T) {
	_, ts, h := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Sessions() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"SUBSCRIBE","symbol":"BTCUSDT","interval":"1m"}`)))

	// The subscribe message is processed by the server's read loop;
	// wait for the subscription to register before forwarding. A read
	// deadline would poison the client connection on expiry, so the
	// single read below gets one generous deadline instead.
	require.Eventually(t, func() bool {
		return h.Subscribers("candle:BTCUSDT:1m") == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.Forward("candle:BTCUSDT:1m", []byte(`{"openTime":1}`))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"openTime":1`)

	conn.Close()
	require.Eventually(t, func() bool { return h.Sessions() == 0 }, time.Second, 10*time.Millisecond)
}
