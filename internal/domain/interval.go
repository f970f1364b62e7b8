package domain

import "time"

// Interval identifies a kline sampling interval using the data API's
// notation ("1m", "1h", "1d", ...).
type Interval string

// All intervals the data API accepts.
const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// intervalMinutes maps each interval to its length in minutes. A month is
// approximated as 30 days, matching the provider's own accounting.
var intervalMinutes = map[Interval]int64{
	Interval1m:  1,
	Interval3m:  3,
	Interval5m:  5,
	Interval15m: 15,
	Interval30m: 30,
	Interval1h:  60,
	Interval2h:  120,
	Interval4h:  240,
	Interval6h:  360,
	Interval8h:  480,
	Interval12h: 720,
	Interval1d:  1440,
	Interval3d:  4320,
	Interval1w:  10080,
	Interval1M:  43200,
}

// intervalOrder lists all intervals shortest first, for help text and
// deterministic iteration.
var intervalOrder = []Interval{
	Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
	Interval1h, Interval2h, Interval4h, Interval6h, Interval8h, Interval12h,
	Interval1d, Interval3d, Interval1w, Interval1M,
}

// Valid reports whether the interval is one the data API accepts.
func (i Interval) Valid() bool {
	_, ok := intervalMinutes[i]
	return ok
}

// Minutes returns the interval length in minutes, or 0 for an unknown
// interval.
func (i Interval) Minutes() int64 {
	return intervalMinutes[i]
}

// Millis returns the interval length in milliseconds, or 0 for an unknown
// interval.
func (i Interval) Millis() int64 {
	return intervalMinutes[i] * 60_000
}

// Duration returns the interval length as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Millis()) * time.Millisecond
}

// Intervals returns all valid intervals, shortest first.
func Intervals() []Interval {
	out := make([]Interval, len(intervalOrder))
	copy(out, intervalOrder)
	return out
}
