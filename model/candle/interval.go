package candle

import (
	"fmt"
	"time"
)

// Interval is the enumerated width of a candle bucket.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval2m  Interval = "2m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

var intervalMillis = map[Interval]int64{
	Interval1m:  60_000,
	Interval2m:  120_000,
	Interval5m:  300_000,
	Interval15m: 900_000,
	Interval1h:  3_600_000,
	Interval4h:  14_400_000,
	Interval1d:  86_400_000,
}

// ParseInterval validates an interval code. An unknown code is a
// configuration error, not a runtime condition.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalMillis[iv]; !ok {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return iv, nil
}

// Millis returns the exact bucket width in milliseconds, or 0 for an
// interval that was never validated through ParseInterval.
func (i Interval) Millis() int64 {
	return intervalMillis[i]
}

// Duration returns the bucket width as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Millis()) * time.Millisecond
}

// AlignToInterval truncates a millisecond timestamp to the open time of
// the bucket it falls in.
func AlignToInterval(ms int64, iv Interval) int64 {
	return ms - ms%iv.Millis()
}
