package lean

import (
	"archive/zip"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"callisto/internal/domain"
)

func testConverter(t *testing.T, cfg Config) *Converter {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	return NewConverter(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func barsAt(interval domain.Interval, times ...time.Time) []domain.Bar {
	bars := make([]domain.Bar, len(times))
	for i, ts := range times {
		open := ts.UnixMilli()
		bars[i] = domain.Bar{
			OpenTime:  open,
			Open:      100.1,
			High:      101.2,
			Low:       99.3,
			Close:     100.5,
			Volume:    12.5,
			CloseTime: open + interval.Millis() - 1,
		}
	}
	return bars
}

func readMember(t *testing.T, path, member string) [][]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != member {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening member %s: %v", member, err)
		}
		defer rc.Close()
		rows, err := csv.NewReader(rc).ReadAll()
		if err != nil {
			t.Fatalf("reading member %s: %v", member, err)
		}
		return rows
	}
	t.Fatalf("member %s not found in %s", member, path)
	return nil
}

func memberNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestResolutionFor(t *testing.T) {
	tests := []struct {
		interval domain.Interval
		tier     string
	}{
		{domain.Interval1m, TierMinute},
		{domain.Interval30m, TierMinute},
		{domain.Interval1h, TierHour},
		{domain.Interval4h, TierHour},
		{domain.Interval12h, TierHour},
		{domain.Interval1d, TierDaily},
		{domain.Interval1w, TierDaily},
		{domain.Interval1M, TierDaily},
	}
	for _, tt := range tests {
		if got := ResolutionFor(tt.interval); got != tt.tier {
			t.Errorf("ResolutionFor(%s) = %s, want %s", tt.interval, got, tt.tier)
		}
	}
}

func TestConvertMinuteOneArtifactPerDay(t *testing.T) {
	c := testConverter(t, Config{})

	// Five bars straddling three UTC calendar days.
	d1 := time.Date(2024, 1, 1, 23, 58, 0, 0, time.UTC)
	series := domain.NewSeries("BTCUSDT", domain.Interval1m, barsAt(domain.Interval1m,
		d1, d1.Add(time.Minute), // 2024-01-01
		d1.Add(2*time.Minute), d1.Add(3*time.Minute), // 2024-01-02
		d1.Add(24*time.Hour+2*time.Minute), // 2024-01-03
	))

	artifacts, err := c.Convert(series)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if len(artifacts) != 3 {
		t.Fatalf("len(artifacts) = %d, want 3 (one per day)", len(artifacts))
	}

	symbolDir := filepath.Join(c.Root(), "crypto", "binance", "minute", "btcusdt")
	for i, day := range []string{"20240101", "20240102", "20240103"} {
		want := filepath.Join(symbolDir, day+".zip")
		if artifacts[i].Path != want {
			t.Errorf("artifacts[%d].Path = %s, want %s", i, artifacts[i].Path, want)
		}
		if artifacts[i].Tier != TierMinute {
			t.Errorf("artifacts[%d].Tier = %s", i, artifacts[i].Tier)
		}
	}

	// Day one: two bars at 23:58 and 23:59, encoded as ms since midnight.
	rows := readMember(t, artifacts[0].Path, "20240101_trade.csv")
	if len(rows) != 2 {
		t.Fatalf("day one rows = %d, want 2", len(rows))
	}
	if rows[0][0] != "86280000" || rows[1][0] != "86340000" {
		t.Errorf("minute times = %s, %s; want 86280000, 86340000", rows[0][0], rows[1][0])
	}
	if rows[0][1] != "100.1" || rows[0][4] != "100.5" || rows[0][5] != "12.5" {
		t.Errorf("trade row = %v", rows[0])
	}

	// Day two starts back at zero ms.
	rows = readMember(t, artifacts[1].Path, "20240102_trade.csv")
	if rows[0][0] != "0" {
		t.Errorf("first bar of day two at %s ms, want 0", rows[0][0])
	}
}

func TestConvertMinuteWithQuoteKind(t *testing.T) {
	c := testConverter(t, Config{MinuteKinds: []string{KindTrade, KindQuote}})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := domain.NewSeries("BTCUSDT", domain.Interval1m, barsAt(domain.Interval1m, start))

	artifacts, err := c.Convert(series)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("len(artifacts) = %d, want 1", len(artifacts))
	}

	names := memberNames(t, artifacts[0].Path)
	if len(names) != 2 || names[0] != "20240101_trade.csv" || names[1] != "20240101_quote.csv" {
		t.Fatalf("members = %v", names)
	}

	rows := readMember(t, artifacts[0].Path, "20240101_quote.csv")
	if len(rows[0]) != 11 {
		t.Fatalf("quote row has %d fields, want 11", len(rows[0]))
	}
	// bid close = 100.5 * (1 - 0.0001), ask close = 100.5 * (1 + 0.0001),
	// sizes are half the volume, all at two decimals.
	if rows[0][4] != "100.49" || rows[0][9] != "100.51" {
		t.Errorf("bid/ask close = %s, %s; want 100.49, 100.51", rows[0][4], rows[0][9])
	}
	if rows[0][5] != "6.25" || rows[0][10] != "6.25" {
		t.Errorf("bid/ask size = %s, %s; want 6.25", rows[0][5], rows[0][10])
	}
}

func TestConvertHourlyConsolidated(t *testing.T) {
	c := testConverter(t, Config{})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := domain.NewSeries("ETHUSDT", domain.Interval1h, barsAt(domain.Interval1h,
		start, start.Add(time.Hour), start.Add(25*time.Hour), // spans two days
	))

	artifacts, err := c.Convert(series)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	// Exactly one consolidated archive even across multiple days.
	if len(artifacts) != 1 {
		t.Fatalf("len(artifacts) = %d, want 1", len(artifacts))
	}

	want := filepath.Join(c.Root(), "crypto", "binance", "hour", "ethusdt.zip")
	if artifacts[0].Path != want {
		t.Errorf("path = %s, want %s (no symbol subdirectory)", artifacts[0].Path, want)
	}

	names := memberNames(t, artifacts[0].Path)
	if len(names) != 2 || names[0] != "ethusdt_trade.csv" || names[1] != "ethusdt_quote.csv" {
		t.Fatalf("members = %v", names)
	}

	rows := readMember(t, artifacts[0].Path, "ethusdt_trade.csv")
	if len(rows) != 3 {
		t.Fatalf("trade rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "20240101 00:00" || rows[2][0] != "20240102 01:00" {
		t.Errorf("row times = %s, %s", rows[0][0], rows[2][0])
	}

	quotes := readMember(t, artifacts[0].Path, "ethusdt_quote.csv")
	if quotes[0][1] != "100.09" || quotes[0][6] != "100.11" {
		t.Errorf("quote bid/ask open = %s, %s; want 100.09, 100.11", quotes[0][1], quotes[0][6])
	}
}

func TestConvertDailyTier(t *testing.T) {
	c := testConverter(t, Config{})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := domain.NewSeries("BTCUSDT", domain.Interval1d, barsAt(domain.Interval1d,
		start, start.AddDate(0, 0, 1),
	))

	artifacts, err := c.Convert(series)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	want := filepath.Join(c.Root(), "crypto", "binance", "daily", "btcusdt.zip")
	if len(artifacts) != 1 || artifacts[0].Path != want {
		t.Fatalf("artifacts = %+v, want single %s", artifacts, want)
	}
}

func TestConvertRejectsEmptyAndInvalid(t *testing.T) {
	c := testConverter(t, Config{})

	if _, err := c.Convert(&domain.Series{Symbol: "BTCUSDT", Interval: domain.Interval1m}); err == nil {
		t.Error("Convert accepted an empty series")
	}

	bad := domain.NewSeries("BTCUSDT", domain.Interval("7m"), barsAt(domain.Interval1m, time.Unix(0, 0)))
	if _, err := c.Convert(bad); err == nil {
		t.Error("Convert accepted an invalid interval")
	}
}

func TestListConvertedAndClean(t *testing.T) {
	c := testConverter(t, Config{})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	minuteSeries := domain.NewSeries("BTCUSDT", domain.Interval1m, barsAt(domain.Interval1m,
		start, start.AddDate(0, 0, 1),
	))
	hourSeries := domain.NewSeries("ETHUSDT", domain.Interval1h, barsAt(domain.Interval1h, start))

	if _, err := c.Convert(minuteSeries); err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if _, err := c.Convert(hourSeries); err != nil {
		t.Fatalf("Convert error: %v", err)
	}

	sets, err := c.ListConverted()
	if err != nil {
		t.Fatalf("ListConverted error: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("len(sets) = %d, want 2: %+v", len(sets), sets)
	}
	if sets[0].Tier != TierHour || sets[0].Symbol != "ethusdt" || sets[0].Files != 1 {
		t.Errorf("sets[0] = %+v", sets[0])
	}
	if sets[1].Tier != TierMinute || sets[1].Symbol != "btcusdt" || sets[1].Files != 2 {
		t.Errorf("sets[1] = %+v", sets[1])
	}

	n, err := c.Clean("btcusdt", TierMinute)
	if err != nil {
		t.Fatalf("Clean error: %v", err)
	}
	if n != 2 {
		t.Errorf("Clean removed %d files, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(c.Root(), "crypto", "binance", "minute", "btcusdt")); !os.IsNotExist(err) {
		t.Error("minute symbol directory still exists after Clean")
	}

	n, _ = c.Clean("", "")
	if n != 1 {
		t.Errorf("Clean removed %d files, want the remaining 1", n)
	}
	sets, _ = c.ListConverted()
	if len(sets) != 0 {
		t.Errorf("sets after full clean = %+v", sets)
	}
}
