// Package domain defines the core market-data types shared across the
// pipeline: kline bars, bar series, and sampling intervals.
package domain

import "sort"

// Bar is one fixed-interval OHLCV sample (a kline). Times are Unix
// milliseconds. The JSON field names form the on-disk cache schema.
type Bar struct {
	OpenTime      int64   `json:"open_time"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	CloseTime     int64   `json:"close_time"`
	QuoteVolume   float64 `json:"quote_volume"`
	Trades        int64   `json:"trades"`
	TakerBuyBase  float64 `json:"taker_buy_base"`
	TakerBuyQuote float64 `json:"taker_buy_quote"`
}

// Series is an ordered run of bars for one symbol at one interval. Bars are
// sorted ascending by OpenTime with no duplicates; constructors and MergeBars
// maintain that invariant.
type Series struct {
	Symbol   string
	Interval Interval
	Bars     []Bar
}

// NewSeries builds a Series from bars, deduplicating by open time and
// sorting ascending.
func NewSeries(symbol string, interval Interval, bars []Bar) *Series {
	return &Series{
		Symbol:   symbol,
		Interval: interval,
		Bars:     MergeBars(nil, bars),
	}
}

// RangeStart returns the open time of the first bar, or 0 when empty.
func (s *Series) RangeStart() int64 {
	if len(s.Bars) == 0 {
		return 0
	}
	return s.Bars[0].OpenTime
}

// RangeEnd returns the close time of the last bar, or 0 when empty.
func (s *Series) RangeEnd() int64 {
	if len(s.Bars) == 0 {
		return 0
	}
	return s.Bars[len(s.Bars)-1].CloseTime
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Bars) }

// Slice returns the bars whose open time falls within [start, end).
func (s *Series) Slice(start, end int64) []Bar {
	out := make([]Bar, 0, len(s.Bars))
	for _, b := range s.Bars {
		if b.OpenTime >= start && b.OpenTime < end {
			out = append(out, b)
		}
	}
	return out
}

// MergeBars deduplicates bars by open time, preferring incoming over
// existing, and returns the result sorted ascending.
func MergeBars(existing, incoming []Bar) []Bar {
	seen := make(map[int64]Bar, len(existing)+len(incoming))
	for _, b := range existing {
		seen[b.OpenTime] = b
	}
	for _, b := range incoming {
		seen[b.OpenTime] = b
	}

	merged := make([]Bar, 0, len(seen))
	for _, b := range seen {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].OpenTime < merged[j].OpenTime
	})
	return merged
}
