// Package results normalizes the engine's heterogeneous JSON output into a
// single report model. Unit-tagged metric strings become numbers, fill
// records are reconciled into round-trip trades, and anything not
// explicitly modeled survives in raw pass-through maps.
package results

import (
	"fmt"
	"strings"
	"time"
)

// Direction of a trade record.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// TradeRecord is one fill extracted from the engine's order map.
type TradeRecord struct {
	ID        string
	Symbol    string
	Direction Direction
	Time      time.Time
	Price     float64
	Quantity  float64
	Fee       float64
	PNL       float64
}

// EquityPoint is one sample of the equity curve with running drawdown
// relative to the peak seen so far.
type EquityPoint struct {
	Timestamp       time.Time
	Equity          float64
	Drawdown        float64
	DrawdownPercent float64
}

// RiskMetrics groups the risk statistics the engine reports.
type RiskMetrics struct {
	AnnualVolatilityPercent float64
	MaxDrawdownPercent      float64
	SharpeRatio             float64
	SortinoRatio            float64
	CalmarRatio             float64
	Alpha                   float64
	Beta                    float64
	InformationRatio        float64
	TrackingErrorPercent    float64
	TreynorRatio            float64
}

// Metrics groups performance statistics. Percentages keep the engine's
// percent scale (12.34 means 12.34%).
type Metrics struct {
	TotalReturnPercent  float64
	AnnualReturnPercent float64
	NetProfitPercent    float64

	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRatePercent float64

	AverageWinPercent  float64
	AverageLossPercent float64
	ProfitFactor       float64
	Expectancy         float64
	TotalFees          float64

	Risk RiskMetrics
}

// Report is the normalized output of one backtest run. It is built once by
// the parser and not mutated afterwards. Warnings list parse anomalies that
// were degraded to zero values instead of failing the run.
type Report struct {
	StrategyName   string
	InitialCapital float64
	FinalEquity    float64
	StartDate      time.Time
	EndDate        time.Time

	Metrics     Metrics
	Trades      []TradeRecord
	EquityCurve []EquityPoint

	RawStatistics        map[string]string
	RawRuntimeStatistics map[string]string

	Warnings []string
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Summary renders a fixed-width text block for terminal display.
func (r *Report) Summary() string {
	line := strings.Repeat("=", 60)

	period := "n/a"
	if !r.StartDate.IsZero() && !r.EndDate.IsZero() {
		period = r.StartDate.Format("2006-01-02") + " to " + r.EndDate.Format("2006-01-02")
	}

	rows := []string{
		line,
		"  BACKTEST RESULTS: " + r.StrategyName,
		line,
		"",
		"  Period:            " + period,
		fmt.Sprintf("  Initial Capital:   %.2f", r.InitialCapital),
		fmt.Sprintf("  Final Equity:      %.2f", r.FinalEquity),
		"",
		fmt.Sprintf("  Total Return:      %+.2f%%", r.Metrics.TotalReturnPercent),
		fmt.Sprintf("  Sharpe Ratio:      %.2f", r.Metrics.Risk.SharpeRatio),
		fmt.Sprintf("  Max Drawdown:      %.2f%%", r.Metrics.Risk.MaxDrawdownPercent),
		"",
		fmt.Sprintf("  Total Trades:      %d", r.Metrics.TotalTrades),
		fmt.Sprintf("  Win Rate:          %.1f%%", r.Metrics.WinRatePercent),
		fmt.Sprintf("  Profit Factor:     %.2f", r.Metrics.ProfitFactor),
		line,
	}
	return strings.Join(rows, "\n")
}
