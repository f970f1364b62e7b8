package results

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Enum values the engine uses inside order records.
const (
	orderStatusFilled  = 3
	orderDirectionBuy  = 0
	orderDirectionSell = 1
)

// The chart and series carrying the equity curve.
const (
	equityChartName  = "Strategy Equity"
	equitySeriesName = "Equity"
)

// Parser normalizes decoded results documents into Reports.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger.With("component", "results")}
}

// ParseFile reads and parses one results artifact. A missing or undecodable
// file is an error; anything missing inside the document degrades to zero
// values plus a warning on the report.
func (p *Parser) ParseFile(path string) (*Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode results %s: %w", filepath.Base(path), err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return p.Parse(data, name), nil
}

// Parse normalizes a decoded results document. The engine's key casing
// drifts between camelCase and PascalCase across versions and between the
// full and summary document shapes, so every lookup goes through pick,
// which tries both.
func (p *Parser) Parse(data map[string]any, strategyName string) *Report {
	report := &Report{StrategyName: strategyName}

	stats := stringMap(pickMap(data, "statistics"))
	runtime := stringMap(pickMap(data, "runtimeStatistics"))
	orders := pickMap(data, "orders")
	profitLoss := pickMap(data, "profitLoss")

	if len(stats) == 0 {
		report.warnf("results contain no statistics section")
	}

	statsReader := statReader{values: stats, warnf: report.warnf}
	runtimeReader := statReader{values: runtime, warnf: report.warnf}

	report.Metrics = parseMetrics(statsReader)
	report.RawStatistics = stats
	report.RawRuntimeStatistics = runtime

	report.InitialCapital = 100_000
	if _, ok := stats["Start Equity"]; ok {
		report.InitialCapital = statsReader.currency("Start Equity")
	}
	if _, ok := stats["End Equity"]; ok {
		report.FinalEquity = statsReader.currency("End Equity")
	} else {
		report.FinalEquity = runtimeReader.currency("Equity")
	}

	// Completed round trips are counted from raw fills when present. The
	// engine's own trade count treats dust positions left by fee
	// deductions as extra trades, so it is only a fallback.
	tradeStats := pickMap(pickMap(data, "totalPerformance"), "tradeStatistics")
	if len(orders) > 0 {
		buys, sells := countFills(orders)
		report.Metrics.TotalTrades = min(buys, sells)
	} else if n, ok := pickInt(tradeStats, "totalNumberOfTrades"); ok && n > 0 {
		report.Metrics.TotalTrades = n
	}
	if n, ok := pickInt(tradeStats, "numberOfWinningTrades"); ok {
		report.Metrics.WinningTrades = n
	}
	if n, ok := pickInt(tradeStats, "numberOfLosingTrades"); ok {
		report.Metrics.LosingTrades = n
	}

	algoConfig := pickMap(data, "algorithmConfiguration")
	start, _ := pickString(algoConfig, "startDate")
	if start == "" {
		start, _ = pickString(tradeStats, "startDateTime")
	}
	end, _ := pickString(algoConfig, "endDate")
	if end == "" {
		end, _ = pickString(tradeStats, "endDateTime")
	}
	report.StartDate = parseDateTime(start)
	report.EndDate = parseDateTime(end)

	report.Trades = p.parseTrades(orders, profitLoss)
	report.EquityCurve = parseEquityCurve(pickMap(data, "charts"))

	return report
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func parseMetrics(s statReader) Metrics {
	netProfit := s.percent("Net Profit")
	annual := s.percent("Compounding Annual Return")

	m := Metrics{
		TotalReturnPercent:  netProfit,
		AnnualReturnPercent: annual,
		NetProfitPercent:    netProfit,

		TotalTrades:    s.integer("Total Trades"),
		WinRatePercent: s.percent("Win Rate"),

		AverageWinPercent:  s.percent("Average Win"),
		AverageLossPercent: math.Abs(s.percent("Average Loss")),
		ProfitFactor:       s.number("Profit-Loss Ratio"),
		Expectancy:         s.number("Expectancy"),
		TotalFees:          s.currency("Total Fees"),

		Risk: RiskMetrics{
			AnnualVolatilityPercent: s.percent("Annual Standard Deviation"),
			MaxDrawdownPercent:      s.percent("Drawdown"),
			SharpeRatio:             s.number("Sharpe Ratio"),
			SortinoRatio:            s.number("Sortino Ratio"),
			Alpha:                   s.number("Alpha"),
			Beta:                    s.number("Beta"),
			InformationRatio:        s.number("Information Ratio"),
			TrackingErrorPercent:    s.percent("Tracking Error"),
			TreynorRatio:            s.number("Treynor Ratio"),
		},
	}

	if m.TotalTrades > 0 {
		m.WinningTrades = int(float64(m.TotalTrades) * m.WinRatePercent / 100)
		m.LosingTrades = m.TotalTrades - m.WinningTrades
	}
	if m.Risk.MaxDrawdownPercent > 0 {
		m.Risk.CalmarRatio = annual / m.Risk.MaxDrawdownPercent
	}
	return m
}

// statReader pulls unit-formatted values out of a string-valued metric map,
// recording a warning for values that are present but unparsable. Missing
// keys read as zero without a warning; the summary document legitimately
// carries fewer keys than the full one.
type statReader struct {
	values map[string]string
	warnf  func(string, ...any)
}

func (s statReader) read(key string, parse func(string) (float64, error)) float64 {
	raw, ok := s.values[key]
	if !ok {
		return 0
	}
	v, err := parse(raw)
	if err != nil {
		s.warnf("statistic %q: unparsable value %q", key, raw)
		return 0
	}
	return v
}

func (s statReader) percent(key string) float64  { return s.read(key, parsePercent) }
func (s statReader) currency(key string) float64 { return s.read(key, parseCurrency) }
func (s statReader) number(key string) float64   { return s.read(key, parseNumber) }
func (s statReader) integer(key string) int      { return int(s.read(key, parseNumber)) }

// parsePercent reads strings like "12.34%" or "-1,234.5 %".
func parsePercent(value string) (float64, error) {
	clean := strings.ReplaceAll(value, "%", "")
	clean = strings.ReplaceAll(clean, ",", "")
	return strconv.ParseFloat(strings.TrimSpace(clean), 64)
}

var currencyJunk = regexp.MustCompile(`[^0-9.\-]`)

// parseCurrency reads strings like "$1,234.56" or "₮-20.05" by dropping
// everything except digits, '.' and '-'.
func parseCurrency(value string) (float64, error) {
	clean := currencyJunk.ReplaceAllString(value, "")
	if clean == "" {
		return 0, fmt.Errorf("no digits in %q", value)
	}
	return strconv.ParseFloat(clean, 64)
}

func parseNumber(value string) (float64, error) {
	clean := strings.ReplaceAll(value, ",", "")
	return strconv.ParseFloat(strings.TrimSpace(clean), 64)
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// countFills tallies filled buy and sell orders.
func countFills(orders map[string]any) (buys, sells int) {
	for _, v := range orders {
		order, ok := v.(map[string]any)
		if !ok || !orderFilled(order) {
			continue
		}
		side, ok := orderSide(order)
		if !ok {
			continue
		}
		switch side {
		case orderDirectionBuy:
			buys++
		case orderDirectionSell:
			sells++
		}
	}
	return buys, sells
}

func (p *Parser) parseTrades(orders, profitLoss map[string]any) []TradeRecord {
	if len(orders) == 0 {
		return nil
	}

	trades := make([]TradeRecord, 0, len(orders))
	for id, v := range orders {
		order, ok := v.(map[string]any)
		if !ok {
			p.logger.Warn("skipping malformed order record", "id", id)
			continue
		}

		symbol := orderSymbol(order)
		timeStr, _ := pickString(order, "time")
		price, _ := pickFloat(order, "price")
		quantity, _ := pickFloat(order, "quantity")

		record := TradeRecord{
			ID:        id,
			Symbol:    symbol,
			Direction: DirectionShort,
			Time:      parseDateTime(timeStr),
			Price:     price,
			Quantity:  math.Abs(quantity),
			Fee:       orderFee(order),
		}
		if side, ok := orderSide(order); ok && side == orderDirectionBuy {
			record.Direction = DirectionLong
		}
		if pnl, ok := pickFloat(profitLoss, symbol); ok {
			record.PNL = pnl
		}
		trades = append(trades, record)
	}

	// Map iteration order is random; order ids are numeric strings.
	sort.Slice(trades, func(i, j int) bool { return orderIDLess(trades[i].ID, trades[j].ID) })
	return trades
}

func orderIDLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

func orderFilled(order map[string]any) bool {
	v, ok := pick(order, "status")
	if !ok {
		return false
	}
	switch s := v.(type) {
	case float64:
		return int(s) == orderStatusFilled
	case string:
		return strings.EqualFold(s, "filled")
	}
	return false
}

// orderSide reads an order's direction, which the engine emits either as a
// numeric enum or as "Buy"/"Sell".
func orderSide(order map[string]any) (int, bool) {
	v, ok := pick(order, "direction")
	if !ok {
		return 0, false
	}
	switch d := v.(type) {
	case float64:
		return int(d), true
	case string:
		switch strings.ToLower(d) {
		case "buy":
			return orderDirectionBuy, true
		case "sell":
			return orderDirectionSell, true
		}
	}
	return 0, false
}

func orderSymbol(order map[string]any) string {
	v, ok := pick(order, "symbol")
	if !ok {
		return "UNKNOWN"
	}
	switch s := v.(type) {
	case string:
		return s
	case map[string]any:
		if value, ok := pickString(s, "value"); ok {
			return value
		}
	}
	return "UNKNOWN"
}

func orderFee(order map[string]any) float64 {
	value := pickMap(pickMap(order, "orderFee"), "value")
	amount, _ := pickFloat(value, "amount")
	return amount
}

// ---------------------------------------------------------------------------
// Equity curve
// ---------------------------------------------------------------------------

func parseEquityCurve(charts map[string]any) []EquityPoint {
	series := pickMap(pickMap(pickMap(charts, equityChartName), "series"), equitySeriesName)
	raw, ok := pick(series, "values")
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	type sample struct {
		ts     time.Time
		equity float64
	}
	samples := make([]sample, 0, len(list))
	for _, v := range list {
		point, ok := v.(map[string]any)
		if !ok {
			continue
		}
		x, okX := pickFloat(point, "x")
		y, okY := pickFloat(point, "y")
		if !okX || !okY {
			continue
		}
		samples = append(samples, sample{ts: fromTimestamp(x), equity: y})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].ts.Before(samples[j].ts) })

	curve := make([]EquityPoint, 0, len(samples))
	peak := 0.0
	for _, s := range samples {
		if s.equity > peak {
			peak = s.equity
		}
		drawdown := peak - s.equity
		percent := 0.0
		if peak > 0 {
			percent = drawdown / peak * 100
		}
		curve = append(curve, EquityPoint{
			Timestamp:       s.ts,
			Equity:          s.equity,
			Drawdown:        drawdown,
			DrawdownPercent: percent,
		})
	}
	return curve
}

// fromTimestamp accepts unix seconds or milliseconds; the engine has used
// both across versions.
func fromTimestamp(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if len(value) > 19 {
		value = value[:19]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ---------------------------------------------------------------------------
// Casing-tolerant lookups
// ---------------------------------------------------------------------------

// pick returns the value under key, trying the spelling as given and then
// its PascalCase variant.
func pick(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	if key != "" {
		pascal := strings.ToUpper(key[:1]) + key[1:]
		if v, ok := m[pascal]; ok {
			return v, true
		}
	}
	return nil, false
}

func pickMap(m map[string]any, key string) map[string]any {
	if v, ok := pick(m, key); ok {
		if mm, ok := v.(map[string]any); ok {
			return mm
		}
	}
	return nil
}

func pickString(m map[string]any, key string) (string, bool) {
	v, ok := pick(m, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func pickFloat(m map[string]any, key string) (float64, bool) {
	v, ok := pick(m, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func pickInt(m map[string]any, key string) (int, bool) {
	f, ok := pickFloat(m, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// stringMap coerces a decoded JSON object into the string-valued metric map
// the engine documents. Non-string values are formatted rather than dropped.
func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
