package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"callisto/internal/domain"
)

func sampleSeries() *domain.Series {
	return domain.NewSeries("BTCUSDT", domain.Interval1h, []domain.Bar{
		{
			OpenTime: 1704067200000, // 2024-01-01T00:00:00Z
			Open:     42000.5, High: 42100, Low: 41900.25, Close: 42050,
			Volume:    123.456,
			CloseTime: 1704070799999,
			QuoteVolume: 5190000.12, Trades: 9876,
			TakerBuyBase: 60.5, TakerBuyQuote: 2540000,
		},
		{
			OpenTime: 1704070800000,
			Open:     42050, High: 42200, Low: 42000, Close: 42150,
			Volume:    98.7,
			CloseTime: 1704074399999,
			QuoteVolume: 4160000, Trades: 8765,
			TakerBuyBase: 50.1, TakerBuyQuote: 2110000,
		},
	})
}

func TestCSVSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := (&CSVSaver{}).Save(sampleSeries(), path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("csv has %d rows, want header + 2 bars", len(rows))
	}
	if rows[0][0] != "open_time" || rows[0][10] != "taker_buy_quote" {
		t.Errorf("header = %v, want cache schema columns", rows[0])
	}
	first := rows[1]
	if first[0] != "1704067200000" {
		t.Errorf("open_time = %q, want millisecond timestamp", first[0])
	}
	if first[1] != "42000.5" || first[3] != "41900.25" {
		t.Errorf("prices = %q/%q, want shortest float form", first[1], first[3])
	}
	if first[8] != "9876" {
		t.Errorf("trades = %q, want 9876", first[8])
	}
}

func TestJSONSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := (&JSONSaver{}).Save(sampleSeries(), path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if doc.Symbol != "BTCUSDT" || doc.Interval != "1h" {
		t.Errorf("identity = %s/%s, want BTCUSDT/1h", doc.Symbol, doc.Interval)
	}
	if len(doc.Bars) != 2 {
		t.Fatalf("exported %d bars, want 2", len(doc.Bars))
	}
	if doc.Bars[0].Open != 42000.5 || doc.Bars[1].Close != 42150 {
		t.Errorf("bars = %+v, want original values", doc.Bars)
	}
}

func TestParquetSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	if err := (&ParquetSaver{}).Save(sampleSeries(), path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("parquet has %d records, want 2", len(records))
	}
	got := records[0]
	if got.Symbol != "BTCUSDT" || got.Interval != "1h" {
		t.Errorf("identity = %s/%s, want BTCUSDT/1h", got.Symbol, got.Interval)
	}
	if got.OpenTime != 1704067200000 || got.Open != 42000.5 || got.Trades != 9876 {
		t.Errorf("record = %+v, want original bar values", got)
	}
}

func TestSaveRejectsEmptySeries(t *testing.T) {
	empty := domain.NewSeries("BTCUSDT", domain.Interval1h, nil)
	for _, format := range []Format{FormatCSV, FormatJSON, FormatParquet} {
		saver, err := NewSaver(format)
		if err != nil {
			t.Fatalf("NewSaver(%s): %v", format, err)
		}
		path := filepath.Join(t.TempDir(), "out"+saver.Ext())
		if err := saver.Save(empty, path); err == nil {
			t.Errorf("%s: empty series accepted", format)
		}
	}
}

func TestSaveCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "out.csv")
	if err := (&CSVSaver{}).Save(sampleSeries(), path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export not written: %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"csv", "json", "parquet"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat accepted unknown format")
	}
}

func TestDefaultFilename(t *testing.T) {
	got := DefaultFilename(sampleSeries(), FormatParquet)
	want := "BTCUSDT_1h_20240101_20240101.parquet"
	if got != want {
		t.Errorf("DefaultFilename = %q, want %q", got, want)
	}
}
