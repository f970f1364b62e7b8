// Package lean converts kline series into the zip/CSV data layout the LEAN
// engine reads. The layout branches on resolution tier: minute data is
// archived per calendar day under a symbol directory, hour and daily data
// are consolidated into one archive per symbol directly under the tier
// directory. Both branches are contracts with the engine, not choices.
package lean

import (
	"path/filepath"
	"strings"

	"callisto/internal/domain"
)

// Resolution tiers recognised by the engine.
const (
	TierMinute = "minute"
	TierHour   = "hour"
	TierDaily  = "daily"
)

// Data kinds an archive member can carry.
const (
	KindTrade = "trade"
	KindQuote = "quote"
)

// ResolutionFor maps an interval onto the engine's resolution tier:
// sub-hour intervals are minute tier, sub-day intervals hour tier,
// everything else daily tier.
func ResolutionFor(interval domain.Interval) string {
	minutes := interval.Minutes()
	switch {
	case minutes < 60:
		return TierMinute
	case minutes < 1440:
		return TierHour
	default:
		return TierDaily
	}
}

// tierDir returns the directory artifacts of the tier live in:
// {root}/crypto/{provider}/{tier} plus the symbol subdirectory for minute
// tier.
func tierDir(root, provider, tier, symbol string) string {
	dir := filepath.Join(root, "crypto", provider, tier)
	if tier == TierMinute {
		dir = filepath.Join(dir, strings.ToLower(symbol))
	}
	return dir
}
