package lean

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"callisto/internal/domain"
)

const dayFormat = "20060102"

// consolidatedTimeFormat is the row timestamp layout for hour and daily
// tiers. Minute tier rows instead carry integer milliseconds since midnight
// UTC.
const consolidatedTimeFormat = "20060102 15:04"

// Config holds converter settings. Zero fields are filled with defaults.
type Config struct {
	Root        string   // engine data root
	Provider    string   // default "binance"
	MinuteKinds []string // member kinds for minute archives, default trade only
	QuoteSpread float64  // synthetic half-spread, default 0.0001
}

// DefaultConfig returns the engine's expected provider layout and quote
// synthesis parameters.
func DefaultConfig(root string) Config {
	return Config{
		Root:        root,
		Provider:    "binance",
		MinuteKinds: []string{KindTrade},
		QuoteSpread: 0.0001,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Root)
	if c.Provider == "" {
		c.Provider = def.Provider
	}
	if len(c.MinuteKinds) == 0 {
		c.MinuteKinds = def.MinuteKinds
	}
	if c.QuoteSpread <= 0 {
		c.QuoteSpread = def.QuoteSpread
	}
	return c
}

// Artifact describes one archive written by Convert.
type Artifact struct {
	Path    string
	Tier    string
	Symbol  string
	Members []string
	Bars    int
}

// Converter writes kline series into the engine's data layout.
type Converter struct {
	cfg    Config
	logger *slog.Logger
}

// NewConverter creates a Converter rooted at cfg.Root.
func NewConverter(cfg Config, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{cfg: cfg.withDefaults(), logger: logger.With("component", "lean")}
}

// Root returns the engine data root directory.
func (c *Converter) Root() string { return c.cfg.Root }

// Convert writes the series into the engine layout and returns the
// artifacts produced: one per covered calendar day for minute tier, exactly
// one consolidated archive for hour and daily tiers.
func (c *Converter) Convert(series *domain.Series) ([]Artifact, error) {
	if series == nil || series.Len() == 0 {
		return nil, fmt.Errorf("nothing to convert: empty series")
	}
	if !series.Interval.Valid() {
		return nil, fmt.Errorf("invalid interval %q", series.Interval)
	}

	tier := ResolutionFor(series.Interval)
	var artifacts []Artifact
	var err error
	switch tier {
	case TierMinute:
		artifacts, err = c.convertMinute(series)
	default:
		artifacts, err = c.convertConsolidated(series, tier)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("converted series",
		"symbol", series.Symbol, "interval", series.Interval,
		"tier", tier, "bars", series.Len(), "artifacts", len(artifacts))
	return artifacts, nil
}

// ---------------------------------------------------------------------------
// Minute tier: one archive per calendar day under the symbol directory
// ---------------------------------------------------------------------------

func (c *Converter) convertMinute(series *domain.Series) ([]Artifact, error) {
	symbol := strings.ToLower(series.Symbol)
	dir := tierDir(c.cfg.Root, c.cfg.Provider, TierMinute, symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	// Group bars by UTC calendar day of their own timestamps.
	byDay := make(map[string][]domain.Bar)
	for _, b := range series.Bars {
		day := time.UnixMilli(b.OpenTime).UTC().Format(dayFormat)
		byDay[day] = append(byDay[day], b)
	}
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	artifacts := make([]Artifact, 0, len(days))
	for _, day := range days {
		bars := byDay[day]
		midnight, err := time.ParseInLocation(dayFormat, day, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing day key %q: %w", day, err)
		}
		dayStartMs := midnight.UnixMilli()

		members := make([]zipMember, 0, len(c.cfg.MinuteKinds))
		names := make([]string, 0, len(c.cfg.MinuteKinds))
		for _, kind := range c.cfg.MinuteKinds {
			rows, err := c.rows(bars, kind, func(b domain.Bar) string {
				return strconv.FormatInt(b.OpenTime-dayStartMs, 10)
			})
			if err != nil {
				return nil, err
			}
			name := fmt.Sprintf("%s_%s.csv", day, kind)
			members = append(members, zipMember{name: name, rows: rows})
			names = append(names, name)
		}

		path := filepath.Join(dir, day+".zip")
		if err := writeZip(path, members); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, Artifact{
			Path:    path,
			Tier:    TierMinute,
			Symbol:  symbol,
			Members: names,
			Bars:    len(bars),
		})
	}
	return artifacts, nil
}

// ---------------------------------------------------------------------------
// Hour/daily tier: one consolidated archive per symbol, no subdirectory
// ---------------------------------------------------------------------------

func (c *Converter) convertConsolidated(series *domain.Series, tier string) ([]Artifact, error) {
	symbol := strings.ToLower(series.Symbol)
	dir := tierDir(c.cfg.Root, c.cfg.Provider, tier, symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	rowTime := func(b domain.Bar) string {
		return time.UnixMilli(b.OpenTime).UTC().Format(consolidatedTimeFormat)
	}

	// The engine wants both trade and quote members at these resolutions.
	var members []zipMember
	var names []string
	for _, kind := range []string{KindTrade, KindQuote} {
		rows, err := c.rows(series.Bars, kind, rowTime)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("%s_%s.csv", symbol, kind)
		members = append(members, zipMember{name: name, rows: rows})
		names = append(names, name)
	}

	path := filepath.Join(dir, symbol+".zip")
	if err := writeZip(path, members); err != nil {
		return nil, err
	}

	return []Artifact{{
		Path:    path,
		Tier:    tier,
		Symbol:  symbol,
		Members: names,
		Bars:    series.Len(),
	}}, nil
}

// ---------------------------------------------------------------------------
// Row encoding
// ---------------------------------------------------------------------------

// rows renders bars as CSV fields for the given data kind, using rowTime for
// the first column.
func (c *Converter) rows(bars []domain.Bar, kind string, rowTime func(domain.Bar) string) ([][]string, error) {
	rows := make([][]string, 0, len(bars))
	switch kind {
	case KindTrade:
		for _, b := range bars {
			rows = append(rows, []string{
				rowTime(b),
				fmtPrice(b.Open), fmtPrice(b.High), fmtPrice(b.Low), fmtPrice(b.Close),
				fmtPrice(b.Volume),
			})
		}
	case KindQuote:
		for _, b := range bars {
			rows = append(rows, c.quoteRow(rowTime(b), b))
		}
	default:
		return nil, fmt.Errorf("unknown data kind %q", kind)
	}
	return rows, nil
}

// quoteRow synthesizes a quote bar from a trade bar: bid and ask straddle
// the traded prices by the configured spread, and volume is split evenly
// between the two sides.
func (c *Converter) quoteRow(rowTime string, b domain.Bar) []string {
	bid := 1 - c.cfg.QuoteSpread
	ask := 1 + c.cfg.QuoteSpread
	size := b.Volume / 2

	return []string{
		rowTime,
		fmt2(b.Open * bid), fmt2(b.High * bid), fmt2(b.Low * bid), fmt2(b.Close * bid), fmt2(size),
		fmt2(b.Open * ask), fmt2(b.High * ask), fmt2(b.Low * ask), fmt2(b.Close * ask), fmt2(size),
	}
}

func fmtPrice(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func fmt2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// ---------------------------------------------------------------------------
// Zip writing
// ---------------------------------------------------------------------------

type zipMember struct {
	name string
	rows [][]string
}

func writeZip(path string, members []zipMember) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, m := range members {
		entry, err := zw.Create(m.name)
		if err != nil {
			return fmt.Errorf("creating member %s: %w", m.name, err)
		}
		cw := csv.NewWriter(entry)
		if err := cw.WriteAll(m.rows); err != nil {
			return fmt.Errorf("writing member %s: %w", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing %s: %w", path, err)
	}
	return f.Close()
}
