package candle

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	for _, code := range []string{"1m", "2m", "5m", "15m", "1h", "4h", "1d"} {
		iv, err := ParseInterval(code)
		require.NoError(t, err)
		assert.Equal(t, code, string(iv))
		assert.Positive(t, iv.Millis())
	}

	_, err := ParseInterval("3m")
	assert.Error(t, err)
	_, err = ParseInterval("")
	assert.Error(t, err)
}

func TestIntervalMillis(t *testing.T) {
	want := map[Interval]int64{
		Interval1m:  60_000,
		Interval2m:  120_000,
		Interval5m:  300_000,
		Interval15m: 900_000,
		Interval1h:  3_600_000,
		Interval4h:  14_400_000,
		Interval1d:  86_400_000,
	}
	for iv, ms := range want {
		assert.Equal(t, ms, iv.Millis(), string(iv))
	}
}

func TestAlignToInterval(t *testing.T) {
	// An already-aligned timestamp is a fixed point.
	assert.Equal(t, int64(1_700_000_040_000), AlignToInterval(1_700_000_040_000, Interval1m))

	// Alignment truncates, never rounds up.
	for iv := range intervalMillis {
		for _, ts := range []int64{0, 1, 59_999, 1_700_000_123_456} {
			aligned := AlignToInterval(ts, iv)
			assert.LessOrEqual(t, aligned, ts)
			assert.Zero(t, aligned%iv.Millis())
			assert.Less(t, ts-aligned, iv.Millis())
		}
	}
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "candle:BTCUSDT:1m", Topic("BTCUSDT", Interval1m))
	assert.Equal(t, "candle:ETHUSDT:4h", Topic("ethusdt", Interval4h))
	assert.Equal(t, "candle:BTCUSDT:1m", Pair{Symbol: "BTCUSDT", Interval: Interval1m}.Topic())
}

func TestCandleWireFormat(t *testing.T) {
	c := Candle{
		Symbol:    "BTCUSDT",
		Interval:  Interval1m,
		OpenTime:  1_700_000_040_000,
		CloseTime: 1_700_000_099_999,
		Open:      decimal.RequireFromString("42000.10"),
		High:      decimal.RequireFromString("42100.00000001"),
		Low:       decimal.RequireFromString("41999.9"),
		Close:     decimal.RequireFromString("42050"),
		Volume:    decimal.RequireFromString("12.3456789"),
		IsClosed:  true,
	}

	raw, err := json.Marshal(&c)
	require.NoError(t, err)

	// Times are numbers, decimals marshal as strings carrying the exact
	// value. Insignificant trailing zeros are not preserved.
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "BTCUSDT", m["symbol"])
	assert.Equal(t, "1m", m["interval"])
	assert.Equal(t, float64(1_700_000_040_000), m["openTime"])
	assert.Equal(t, float64(1_700_000_099_999), m["closeTime"])
	assert.Equal(t, "42000.1", m["open"])
	assert.Equal(t, "42100.00000001", m["high"])
	assert.Equal(t, true, m["isClosed"])

	var back Candle
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.High.Equal(c.High))
	assert.True(t, back.Volume.Equal(c.Volume))
}
