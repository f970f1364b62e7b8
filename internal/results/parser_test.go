package results

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDecode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return data
}

func TestParseUnitFormattedStatistics(t *testing.T) {
	doc := `{
		"statistics": {
			"Net Profit": "12.34%",
			"Total Fees": "$1,234.56",
			"Total Trades": "42"
		}
	}`

	report := NewParser(testLogger()).Parse(mustDecode(t, doc), "golden")

	if got := report.Metrics.TotalReturnPercent; got != 12.34 {
		t.Errorf("TotalReturnPercent = %v, want 12.34", got)
	}
	if got := report.Metrics.TotalFees; got != 1234.56 {
		t.Errorf("TotalFees = %v, want 1234.56", got)
	}
	if got := report.Metrics.TotalTrades; got != 42 {
		t.Errorf("TotalTrades = %v, want 42", got)
	}
	if report.RawStatistics["Net Profit"] != "12.34%" {
		t.Error("raw statistics must pass through unchanged")
	}
}

func TestParseCountsRoundTripsFromFills(t *testing.T) {
	doc := `{
		"statistics": {"Total Trades": "42"},
		"profitLoss": {"BTCUSDT": 150.25},
		"orders": {
			"1": {"status": 3, "direction": 0, "symbol": {"value": "BTCUSDT"},
			      "price": 42000.5, "quantity": -0.5, "time": "2024-01-02T03:04:05",
			      "orderFee": {"value": {"amount": 1.25}}},
			"2": {"status": 3, "direction": 0},
			"3": {"status": 3, "direction": 0},
			"4": {"status": 3, "direction": 1},
			"5": {"status": 3, "direction": 1},
			"6": {"status": 1, "direction": 0},
			"7": "garbage"
		}
	}`

	report := NewParser(testLogger()).Parse(mustDecode(t, doc), "fills")

	// 3 filled buys and 2 filled sells make 2 completed round trips,
	// regardless of the engine's self-reported 42.
	if got := report.Metrics.TotalTrades; got != 2 {
		t.Errorf("TotalTrades = %d, want 2", got)
	}

	if len(report.Trades) != 6 {
		t.Fatalf("len(Trades) = %d, want 6 (malformed record skipped)", len(report.Trades))
	}
	first := report.Trades[0]
	if first.ID != "1" {
		t.Errorf("Trades[0].ID = %q, want sorted order ids", first.ID)
	}
	if first.Direction != DirectionLong {
		t.Errorf("Trades[0].Direction = %q, want long", first.Direction)
	}
	if first.Symbol != "BTCUSDT" {
		t.Errorf("Trades[0].Symbol = %q, want BTCUSDT", first.Symbol)
	}
	if first.Quantity != 0.5 {
		t.Errorf("Trades[0].Quantity = %v, want 0.5 (absolute)", first.Quantity)
	}
	if first.Fee != 1.25 {
		t.Errorf("Trades[0].Fee = %v, want 1.25", first.Fee)
	}
	if first.PNL != 150.25 {
		t.Errorf("Trades[0].PNL = %v, want 150.25", first.PNL)
	}
	if first.Time.Year() != 2024 {
		t.Errorf("Trades[0].Time = %v, want parsed order time", first.Time)
	}
	if got := report.Trades[1].Symbol; got != "UNKNOWN" {
		t.Errorf("symbol-less order parsed as %q, want UNKNOWN", got)
	}
}

func TestParseFallsBackToTradeStatistics(t *testing.T) {
	doc := `{
		"statistics": {"Total Trades": "7"},
		"totalPerformance": {"tradeStatistics": {
			"totalNumberOfTrades": 5,
			"numberOfWinningTrades": 3,
			"numberOfLosingTrades": 2
		}}
	}`

	report := NewParser(testLogger()).Parse(mustDecode(t, doc), "fallback")

	if got := report.Metrics.TotalTrades; got != 5 {
		t.Errorf("TotalTrades = %d, want tradeStatistics fallback 5", got)
	}
	if report.Metrics.WinningTrades != 3 || report.Metrics.LosingTrades != 2 {
		t.Errorf("win/loss = %d/%d, want 3/2",
			report.Metrics.WinningTrades, report.Metrics.LosingTrades)
	}
}

func TestParseEquityCurveDrawdown(t *testing.T) {
	// Points deliberately out of order; the curve must be computed in
	// timestamp order.
	doc := `{"charts": {"Strategy Equity": {"series": {"Equity": {"values": [
		{"x": 1704240000, "y": 99000},
		{"x": 1704067200, "y": 100000},
		{"x": 1704326400, "y": 120000},
		{"x": 1704153600, "y": 110000}
	]}}}}}`

	report := NewParser(testLogger()).Parse(mustDecode(t, doc), "equity")

	curve := report.EquityCurve
	if len(curve) != 4 {
		t.Fatalf("len(EquityCurve) = %d, want 4", len(curve))
	}
	for i := 1; i < len(curve); i++ {
		if curve[i].Timestamp.Before(curve[i-1].Timestamp) {
			t.Fatal("equity curve not sorted by timestamp")
		}
	}
	if curve[0].Equity != 100000 || curve[0].Drawdown != 0 {
		t.Errorf("first point = %+v, want equity 100000 at zero drawdown", curve[0])
	}
	dip := curve[2]
	if dip.Equity != 99000 || dip.Drawdown != 11000 {
		t.Errorf("dip = %+v, want drawdown 11000 from peak 110000", dip)
	}
	if math.Abs(dip.DrawdownPercent-10.0) > 1e-9 {
		t.Errorf("dip.DrawdownPercent = %v, want 10.0", dip.DrawdownPercent)
	}
	if last := curve[3]; last.Drawdown != 0 {
		t.Errorf("new peak should reset drawdown, got %+v", last)
	}
}

func TestParsePascalCaseDocument(t *testing.T) {
	doc := `{
		"Statistics": {
			"Net Profit": "5.00%",
			"Start Equity": "$50,000.00",
			"End Equity": "$52,500.00"
		},
		"RuntimeStatistics": {"Equity": "$52,500.00"},
		"Orders": {
			"1": {"Status": 3, "Direction": "Buy", "Symbol": {"Value": "ETHUSDT"}},
			"2": {"Status": 3, "Direction": "Sell"}
		},
		"Charts": {"Strategy Equity": {"Series": {"Equity": {"Values": [
			{"x": 1704067200000, "y": 50000}
		]}}}},
		"AlgorithmConfiguration": {"StartDate": "2024-01-01T00:00:00Z", "EndDate": "2024-02-01 00:00:00"}
	}`

	report := NewParser(testLogger()).Parse(mustDecode(t, doc), "pascal")

	if got := report.Metrics.TotalReturnPercent; got != 5.0 {
		t.Errorf("TotalReturnPercent = %v, want 5.0", got)
	}
	if report.InitialCapital != 50000 || report.FinalEquity != 52500 {
		t.Errorf("capital = %v -> %v, want 50000 -> 52500",
			report.InitialCapital, report.FinalEquity)
	}
	if got := report.Metrics.TotalTrades; got != 1 {
		t.Errorf("TotalTrades = %d, want 1", got)
	}
	if len(report.Trades) != 2 || report.Trades[0].Direction != DirectionLong {
		t.Errorf("Trades = %+v, want Buy mapped to long", report.Trades)
	}
	if report.Trades[0].Symbol != "ETHUSDT" {
		t.Errorf("Trades[0].Symbol = %q, want ETHUSDT", report.Trades[0].Symbol)
	}
	if len(report.EquityCurve) != 1 {
		t.Fatalf("len(EquityCurve) = %d, want 1", len(report.EquityCurve))
	}
	if got := report.EquityCurve[0].Timestamp; got.Year() != 2024 {
		t.Errorf("equity timestamp = %v, want millisecond epoch decoded", got)
	}
	if report.StartDate != time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("StartDate = %v", report.StartDate)
	}
	if report.EndDate != time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("EndDate = %v", report.EndDate)
	}
}

func TestParseCapitalDefaults(t *testing.T) {
	doc := `{
		"statistics": {"Net Profit": "1.00%"},
		"runtimeStatistics": {"Equity": "$105,250.75"}
	}`

	report := NewParser(testLogger()).Parse(mustDecode(t, doc), "capital")

	if report.InitialCapital != 100_000 {
		t.Errorf("InitialCapital = %v, want default 100000", report.InitialCapital)
	}
	if report.FinalEquity != 105250.75 {
		t.Errorf("FinalEquity = %v, want runtime Equity fallback", report.FinalEquity)
	}
}

func TestParseWarningsInsteadOfFailures(t *testing.T) {
	report := NewParser(testLogger()).Parse(map[string]any{}, "empty")
	if len(report.Warnings) == 0 {
		t.Error("empty document should warn about missing statistics")
	}

	doc := `{"statistics": {"Net Profit": "garbage"}}`
	report = NewParser(testLogger()).Parse(mustDecode(t, doc), "garbled")
	if report.Metrics.TotalReturnPercent != 0 {
		t.Errorf("TotalReturnPercent = %v, want 0 for a garbled value",
			report.Metrics.TotalReturnPercent)
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "Net Profit") {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, want one naming the garbled key", report.Warnings)
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rsi_backtest.json")
	doc := `{"statistics": {"Net Profit": "3.21%"}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := NewParser(testLogger()).ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile error: %v", err)
	}
	if report.StrategyName != "rsi_backtest" {
		t.Errorf("StrategyName = %q, want file stem", report.StrategyName)
	}
	if report.Metrics.TotalReturnPercent != 3.21 {
		t.Errorf("TotalReturnPercent = %v, want 3.21", report.Metrics.TotalReturnPercent)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewParser(testLogger()).ParseFile(bad); err == nil {
		t.Error("ParseFile accepted a corrupt document")
	}
	if _, err := NewParser(testLogger()).ParseFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("ParseFile accepted a missing file")
	}
}

func TestTimestampUnits(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := fromTimestamp(1704067200); !got.Equal(want) {
		t.Errorf("fromTimestamp(seconds) = %v, want %v", got, want)
	}
	if got := fromTimestamp(1704067200000); !got.Equal(want) {
		t.Errorf("fromTimestamp(millis) = %v, want %v", got, want)
	}
}

func TestSummaryRendering(t *testing.T) {
	report := &Report{
		StrategyName:   "demo_rsi",
		InitialCapital: 100000,
		FinalEquity:    112340,
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Metrics: Metrics{
			TotalReturnPercent: 12.34,
			TotalTrades:        8,
			WinRatePercent:     62.5,
		},
	}

	text := report.Summary()
	for _, want := range []string{"demo_rsi", "+12.34%", "2024-01-01 to 2024-03-01", "Total Trades:      8"} {
		if !strings.Contains(text, want) {
			t.Errorf("Summary missing %q:\n%s", want, text)
		}
	}
}
