package candle

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bucket for a symbol over a fixed interval.
// Price and volume fields are arbitrary-precision decimals so that
// exchange numeric strings survive round-trips without float drift.
// The JSON tags produce the canonical wire representation: decimals
// marshal as strings, open/close times as epoch milliseconds.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Interval  Interval        `json:"interval"`
	OpenTime  int64           `json:"openTime"`
	CloseTime int64           `json:"closeTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	IsClosed  bool            `json:"isClosed"`
}

// Topic returns the broadcast routing key for this candle's pair.
func (c *Candle) Topic() string {
	return Topic(c.Symbol, c.Interval)
}

// Topic builds the broadcast routing key "candle:<SYMBOL>:<interval>".
func Topic(symbol string, iv Interval) string {
	return "candle:" + strings.ToUpper(symbol) + ":" + string(iv)
}

// Pair identifies one tracked (symbol, interval) combination.
type Pair struct {
	Symbol   string
	Interval Interval
}

func (p Pair) String() string {
	return p.Symbol + " " + string(p.Interval)
}

// Topic returns the broadcast routing key for this pair.
func (p Pair) Topic() string {
	return Topic(p.Symbol, p.Interval)
}
