// Package export writes a cached bar series to a single flat file (CSV,
// JSON, or Parquet) for analysis outside the pipeline.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"callisto/internal/domain"
)

// Format selects the on-disk encoding for an export.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// ParseFormat maps a command-line format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatParquet:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv, json, or parquet)", s)
	}
}

// Saver writes a bar series to one output file.
type Saver interface {
	// Save writes series to path, creating parent directories as needed.
	Save(series *domain.Series, path string) error

	// Ext returns the file extension for this saver, with leading dot.
	Ext() string
}

// Compile-time interface checks.
var _ Saver = (*CSVSaver)(nil)
var _ Saver = (*JSONSaver)(nil)
var _ Saver = (*ParquetSaver)(nil)

// NewSaver returns the Saver for the given format.
func NewSaver(format Format) (Saver, error) {
	switch format {
	case FormatCSV:
		return &CSVSaver{}, nil
	case FormatJSON:
		return &JSONSaver{}, nil
	case FormatParquet:
		return &ParquetSaver{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// DefaultFilename names an export file after the series identity and range:
// SYMBOL_interval_YYYYMMDD_YYYYMMDD.ext.
func DefaultFilename(series *domain.Series, format Format) string {
	start := time.UnixMilli(series.RangeStart()).UTC().Format("20060102")
	end := time.UnixMilli(series.RangeEnd()).UTC().Format("20060102")
	saver, err := NewSaver(format)
	if err != nil {
		saver = &CSVSaver{}
	}
	return fmt.Sprintf("%s_%s_%s_%s%s", series.Symbol, series.Interval, start, end, saver.Ext())
}

func checkSeries(series *domain.Series) error {
	if series == nil || series.Len() == 0 {
		return errors.New("nothing to export: series is empty")
	}
	return nil
}

func ensureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

// csvHeader mirrors the bar cache schema, one column per field.
var csvHeader = []string{
	"open_time", "open", "high", "low", "close", "volume",
	"close_time", "quote_volume", "trades", "taker_buy_base", "taker_buy_quote",
}

// CSVSaver writes one CSV row per bar with millisecond timestamps.
type CSVSaver struct{}

func (s *CSVSaver) Ext() string { return ".csv" }

func (s *CSVSaver) Save(series *domain.Series, path string) error {
	if err := checkSeries(series); err != nil {
		return err
	}
	if err := ensureParent(path); err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, b := range series.Bars {
		row := []string{
			strconv.FormatInt(b.OpenTime, 10),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
			strconv.FormatInt(b.CloseTime, 10),
			formatFloat(b.QuoteVolume),
			strconv.FormatInt(b.Trades, 10),
			formatFloat(b.TakerBuyBase),
			formatFloat(b.TakerBuyQuote),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

// jsonDocument is the standalone export envelope. Bar fields reuse the cache
// schema tags.
type jsonDocument struct {
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Bars     []domain.Bar `json:"bars"`
}

// JSONSaver writes the whole series as a single indented JSON document.
type JSONSaver struct{}

func (s *JSONSaver) Ext() string { return ".json" }

func (s *JSONSaver) Save(series *domain.Series, path string) error {
	if err := checkSeries(series); err != nil {
		return err
	}
	if err := ensureParent(path); err != nil {
		return err
	}

	doc := jsonDocument{
		Symbol:   series.Symbol,
		Interval: string(series.Interval),
		Bars:     series.Bars,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Parquet
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for exported bars. Symbol and interval are
// repeated per row so a file is self-describing when loaded elsewhere.
type BarRecord struct {
	Symbol        string  `parquet:"symbol"`
	Interval      string  `parquet:"interval"`
	OpenTime      int64   `parquet:"open_time,timestamp(millisecond)"`
	Open          float64 `parquet:"open"`
	High          float64 `parquet:"high"`
	Low           float64 `parquet:"low"`
	Close         float64 `parquet:"close"`
	Volume        float64 `parquet:"volume"`
	CloseTime     int64   `parquet:"close_time,timestamp(millisecond)"`
	QuoteVolume   float64 `parquet:"quote_volume"`
	Trades        int64   `parquet:"trades"`
	TakerBuyBase  float64 `parquet:"taker_buy_base"`
	TakerBuyQuote float64 `parquet:"taker_buy_quote"`
}

// ParquetSaver writes the series as a single Parquet file.
type ParquetSaver struct{}

func (s *ParquetSaver) Ext() string { return ".parquet" }

func (s *ParquetSaver) Save(series *domain.Series, path string) error {
	if err := checkSeries(series); err != nil {
		return err
	}
	if err := ensureParent(path); err != nil {
		return err
	}

	records := make([]BarRecord, 0, series.Len())
	for _, b := range series.Bars {
		records = append(records, BarRecord{
			Symbol:        series.Symbol,
			Interval:      string(series.Interval),
			OpenTime:      b.OpenTime,
			Open:          b.Open,
			High:          b.High,
			Low:           b.Low,
			Close:         b.Close,
			Volume:        b.Volume,
			CloseTime:     b.CloseTime,
			QuoteVolume:   b.QuoteVolume,
			Trades:        b.Trades,
			TakerBuyBase:  b.TakerBuyBase,
			TakerBuyQuote: b.TakerBuyQuote,
		})
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
