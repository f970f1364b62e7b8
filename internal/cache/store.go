// Package cache persists fetched kline series as one JSON record per fetch
// and answers range-coverage queries, including partial-superset lookups
// projected down to the requested sub-range at read time.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"callisto/internal/domain"
)

const dateFormat = "20060102"

// Record is the on-disk cache document. Start and end describe the range
// that was requested, not the first and last bar, so an identical repeated
// request maps to the same record.
type Record struct {
	Symbol    string          `json:"symbol"`
	Interval  domain.Interval `json:"interval"`
	StartTime int64           `json:"start_time"`
	EndTime   int64           `json:"end_time"`
	BarCount  int             `json:"bar_count"`
	Bars      []domain.Bar    `json:"bars"`
}

// Entry describes one cache file, for listing and eviction tooling.
type Entry struct {
	Path      string
	Symbol    string
	Interval  domain.Interval
	StartDate string
	EndDate   string
	SizeBytes int64
	ModTime   time.Time
}

// Stats summarises the cache directory.
type Stats struct {
	FileCount  int
	TotalBytes int64
	Symbols    []string
	Intervals  []string
}

// Store reads and writes cache records under one directory. Records are
// immutable once written; overlapping fetches create new, possibly
// redundant records, and eviction is manual.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger.With("component", "cache")}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// ---------------------------------------------------------------------------
// Save and find
// ---------------------------------------------------------------------------

// Save writes the series as a new record covering the requested [start, end)
// range and returns the file path. An empty series is an error.
func (s *Store) Save(series *domain.Series, start, end time.Time) (string, error) {
	if series == nil {
		return "", fmt.Errorf("refusing to cache nil series")
	}
	if series.Len() == 0 {
		return "", fmt.Errorf("refusing to cache empty series for %s %s", series.Symbol, series.Interval)
	}

	rec := Record{
		Symbol:    strings.ToUpper(series.Symbol),
		Interval:  series.Interval,
		StartTime: start.UnixMilli(),
		EndTime:   end.UnixMilli(),
		BarCount:  series.Len(),
		Bars:      series.Bars,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding cache record: %w", err)
	}

	path := s.recordPath(rec.Symbol, rec.Interval, rec.StartTime, rec.EndTime)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing cache record: %w", err)
	}

	s.logger.Info("cached series", "symbol", rec.Symbol, "interval", rec.Interval,
		"bars", rec.BarCount, "path", filepath.Base(path))
	return path, nil
}

// Find returns the cached bars covering [start, end), or (nil, false) on a
// miss. It tries the exact record for the range first, then scans records
// for the same symbol and interval whose stored range is a superset, and in
// both cases projects the stored bars down to the requested sub-range.
func (s *Store) Find(symbol string, interval domain.Interval, start, end time.Time) (*domain.Series, bool) {
	symbol = strings.ToUpper(symbol)
	startMs, endMs := start.UnixMilli(), end.UnixMilli()

	exact := s.recordPath(symbol, interval, startMs, endMs)
	if rec, err := s.load(exact); err == nil && rec.StartTime <= startMs && rec.EndTime >= endMs {
		s.logger.Debug("cache hit", "symbol", symbol, "interval", interval, "record", filepath.Base(exact))
		return s.project(rec, startMs, endMs), true
	}

	pattern := filepath.Join(s.dir, fmt.Sprintf("%s_%s_*.json", symbol, interval))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, false
	}

	for _, path := range matches {
		rec, err := s.load(path)
		if err != nil {
			s.logger.Warn("unreadable cache record", "path", path, "err", err)
			continue
		}
		if rec.StartTime <= startMs && rec.EndTime >= endMs {
			s.logger.Debug("cache hit via superset record",
				"symbol", symbol, "interval", interval, "record", filepath.Base(path))
			return s.project(rec, startMs, endMs), true
		}
	}

	s.logger.Debug("cache miss", "symbol", symbol, "interval", interval)
	return nil, false
}

// project builds a series from the record's bars restricted to
// [startMs, endMs).
func (s *Store) project(rec *Record, startMs, endMs int64) *domain.Series {
	full := domain.Series{Symbol: rec.Symbol, Interval: rec.Interval, Bars: rec.Bars}
	return &domain.Series{
		Symbol:   rec.Symbol,
		Interval: rec.Interval,
		Bars:     full.Slice(startMs, endMs),
	}
}

func (s *Store) load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

// recordPath builds the canonical record filename:
// {SYMBOL}_{interval}_{YYYYMMDD}_{YYYYMMDD}.json.
func (s *Store) recordPath(symbol string, interval domain.Interval, startMs, endMs int64) string {
	name := fmt.Sprintf("%s_%s_%s_%s.json",
		strings.ToUpper(symbol), interval,
		time.UnixMilli(startMs).UTC().Format(dateFormat),
		time.UnixMilli(endMs).UTC().Format(dateFormat))
	return filepath.Join(s.dir, name)
}

// ---------------------------------------------------------------------------
// Introspection and eviction
// ---------------------------------------------------------------------------

// List returns the cache entries matching the optional symbol and interval
// filters (empty string matches everything), sorted by filename.
func (s *Store) List(symbol string, interval domain.Interval) ([]Entry, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	symbol = strings.ToUpper(symbol)
	var entries []Entry
	for _, path := range paths {
		entry, ok := parseEntry(path)
		if !ok {
			continue
		}
		if symbol != "" && entry.Symbol != symbol {
			continue
		}
		if interval != "" && entry.Interval != interval {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		entry.SizeBytes = info.Size()
		entry.ModTime = info.ModTime()
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stats summarises every record in the cache directory.
func (s *Store) Stats() (Stats, error) {
	entries, err := s.List("", "")
	if err != nil {
		return Stats{}, err
	}

	symbols := map[string]bool{}
	intervals := map[string]bool{}
	stats := Stats{FileCount: len(entries)}
	for _, e := range entries {
		stats.TotalBytes += e.SizeBytes
		symbols[e.Symbol] = true
		intervals[string(e.Interval)] = true
	}
	for sym := range symbols {
		stats.Symbols = append(stats.Symbols, sym)
	}
	for iv := range intervals {
		stats.Intervals = append(stats.Intervals, iv)
	}
	sort.Strings(stats.Symbols)
	sort.Strings(stats.Intervals)
	return stats, nil
}

// Delete removes the records matching the filters and returns how many were
// deleted. olderThanDays > 0 restricts deletion to records whose file
// modification time is older than that many days.
func (s *Store) Delete(symbol string, interval domain.Interval, olderThanDays int) (int, error) {
	entries, err := s.List(symbol, interval)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	deleted := 0
	for _, e := range entries {
		if olderThanDays > 0 && !e.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			return deleted, fmt.Errorf("deleting %s: %w", filepath.Base(e.Path), err)
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("evicted cache records", "deleted", deleted,
			"symbol", symbol, "interval", interval, "older_than_days", olderThanDays)
	}
	return deleted, nil
}

// parseEntry extracts the record key from a cache filename.
func parseEntry(path string) (Entry, bool) {
	base := strings.TrimSuffix(filepath.Base(path), ".json")
	parts := strings.Split(base, "_")
	if len(parts) != 4 {
		return Entry{}, false
	}
	return Entry{
		Path:      path,
		Symbol:    parts[0],
		Interval:  domain.Interval(parts[1]),
		StartDate: parts[2],
		EndDate:   parts[3],
	}, true
}
