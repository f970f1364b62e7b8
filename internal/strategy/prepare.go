// Package strategy patches run parameters into algorithm source text. The
// substitution is a documented injection contract, not a parse: it matches a
// small fixed set of call shapes (symbol declaration, date range, starting
// cash, warm-up, indicator resolutions) and fails loudly when a required
// shape is missing.
package strategy

import (
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"callisto/internal/domain"
)

//go:embed default_rsi.py
var defaultRSI string

// DefaultStrategyName names the built-in strategy used when the caller
// supplies none.
const DefaultStrategyName = "default_rsi"

// DefaultStrategy returns the built-in RSI reference strategy. Every
// injection point is present in it.
func DefaultStrategy() string { return defaultRSI }

// supportedIntervals maps the intervals the engine can run onto its
// resolution names. Other intervals have no engine resolution and would
// silently corrupt indicator math, so they are rejected outright.
var supportedIntervals = map[domain.Interval]string{
	domain.Interval1m: "Minute",
	domain.Interval1h: "Hour",
	domain.Interval1d: "Daily",
}

// Resolution returns the engine resolution name for the interval, or an
// error for intervals outside the supported set.
func Resolution(interval domain.Interval) (string, error) {
	res, ok := supportedIntervals[interval]
	if !ok {
		return "", fmt.Errorf(
			"interval %q is not supported: only 1m, 1h and 1d map to engine resolutions; "+
				"other intervals would produce incorrect indicator calculations", interval)
	}
	return res, nil
}

// Params are the values injected into the strategy source.
type Params struct {
	Symbol         string
	Interval       domain.Interval
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital float64
}

// InjectionError reports a required injection point that the strategy
// source does not contain.
type InjectionError struct {
	Point string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("injection point not found in strategy source: %s", e.Point)
}

// Injection point patterns. Both PascalCase and snake_case spellings of the
// engine API are recognised; replacements are written in PascalCase, which
// the engine accepts for either.
var (
	symbolPattern     = regexp.MustCompile(`[Aa]dd_?[Cc]rypto\(["']([A-Z]+USDT)["'],\s*Resolution\.\w+\)`)
	startDatePattern  = regexp.MustCompile(`[Ss]et_?[Ss]tart_?[Dd]ate\(\d+,\s*\d+,\s*\d+\)`)
	endDatePattern    = regexp.MustCompile(`[Ss]et_?[Ee]nd_?[Dd]ate\(\d+,\s*\d+,\s*\d+\)`)
	cashPattern       = regexp.MustCompile(`[Ss]et_?[Cc]ash\(["']USDT["'],\s*\d+`)
	warmUpPattern     = regexp.MustCompile(`[Ss]et_?[Ww]arm_?[Uu]p\(([^,]+),\s*Resolution\.\w+\)`)
	rsiPattern        = regexp.MustCompile(`\.RSI\(([^,]+),\s*([^,]+),\s*[^,]+,\s*Resolution\.\w+\)`)
	resolutionPattern = regexp.MustCompile(`Resolution\.(Hour|Minute|Daily|Second)`)
)

// required lists the injection points a runnable strategy must contain.
// Warm-up and indicator resolutions are optional: strategies without them
// are legitimate and pass through unchanged.
var required = []struct {
	pattern *regexp.Regexp
	point   string
}{
	{symbolPattern, `add_crypto("<SYMBOL>USDT", Resolution.<tier>)`},
	{startDatePattern, "set_start_date(year, month, day)"},
	{endDatePattern, "set_end_date(year, month, day)"},
	{cashPattern, `set_cash("USDT", <amount>)`},
}

// Preparer rewrites strategy source with run parameters.
type Preparer struct {
	logger *slog.Logger
}

// NewPreparer creates a Preparer.
func NewPreparer(logger *slog.Logger) *Preparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preparer{logger: logger.With("component", "strategy")}
}

// Prepare validates the interval, checks every required injection point is
// present, and returns the source with all points rewritten to the given
// parameters.
func (p *Preparer) Prepare(source string, params Params) (string, error) {
	resolution, err := Resolution(params.Interval)
	if err != nil {
		return "", err
	}

	for _, req := range required {
		if !req.pattern.MatchString(source) {
			return "", &InjectionError{Point: req.point}
		}
	}

	symbol := strings.ToUpper(params.Symbol)
	patched := source

	patched = symbolPattern.ReplaceAllString(patched,
		fmt.Sprintf(`AddCrypto("%s", Resolution.%s)`, symbol, resolution))
	patched = startDatePattern.ReplaceAllString(patched,
		fmt.Sprintf("SetStartDate(%d, %d, %d)",
			params.StartDate.Year(), params.StartDate.Month(), params.StartDate.Day()))
	patched = endDatePattern.ReplaceAllString(patched,
		fmt.Sprintf("SetEndDate(%d, %d, %d)",
			params.EndDate.Year(), params.EndDate.Month(), params.EndDate.Day()))
	patched = cashPattern.ReplaceAllString(patched,
		fmt.Sprintf(`SetCash("USDT", %d`, int64(params.InitialCapital)))
	patched = warmUpPattern.ReplaceAllString(patched,
		fmt.Sprintf("SetWarmUp(${1}, Resolution.%s)", resolution))
	patched = rsiPattern.ReplaceAllString(patched,
		fmt.Sprintf(".RSI(${1}, ${2}, MovingAverageType.Wilders, Resolution.%s)", resolution))
	patched = resolutionPattern.ReplaceAllString(patched,
		"Resolution."+resolution)

	p.logger.Debug("patched strategy",
		"symbol", symbol, "resolution", resolution,
		"start", params.StartDate.Format("2006-01-02"),
		"end", params.EndDate.Format("2006-01-02"))
	return patched, nil
}
