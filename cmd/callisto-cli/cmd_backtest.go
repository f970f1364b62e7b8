package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"

	"callisto/internal/domain"
	"callisto/internal/pipeline"
	"callisto/internal/registry"
)

// backtestCmd runs the whole pipeline for one request and prints the
// parsed report.
type backtestCmd struct {
	symbol   string
	interval string
	start    string
	end      string
	capital  float64
	strategy string
	name     string
	refresh  bool
}

func (*backtestCmd) Name() string     { return "backtest" }
func (*backtestCmd) Synopsis() string { return "run a backtest end to end" }
func (*backtestCmd) Usage() string {
	return `backtest -symbol ETHUSDT -interval 1d -start 2024-01-01 -end 2024-06-01 [-strategy my.py] [-capital 100000] [-name run1] [-refresh]:
  Fetch data, convert it, execute the strategy in the containerized engine,
  and print the parsed report. Without -strategy the embedded RSI reference
  strategy runs.
`
}

func (c *backtestCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "symbol", "BTCUSDT", "trading pair")
	f.StringVar(&c.interval, "interval", "1h", "kline interval (1m, 1h, 1d)")
	f.StringVar(&c.start, "start", "", "range start (YYYY-MM-DD)")
	f.StringVar(&c.end, "end", "", "range end, exclusive (default: today)")
	f.Float64Var(&c.capital, "capital", 0, "initial capital (default from config)")
	f.StringVar(&c.strategy, "strategy", "", "path to a strategy file (default: embedded RSI strategy)")
	f.StringVar(&c.name, "name", "", "strategy name used in output paths")
	f.BoolVar(&c.refresh, "refresh", false, "refetch data even when cached")
}

func (c *backtestCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	start, end, err := parseRange(c.start, c.end)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	a, err := initializeApp(configFile())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	req := pipeline.Request{
		StrategyName:   c.name,
		Symbol:         strings.ToUpper(c.symbol),
		Interval:       domain.Interval(c.interval),
		StartDate:      start,
		EndDate:        end,
		InitialCapital: c.capital,
		ForceRefresh:   c.refresh,
		Timeout:        a.cfg.Engine.Timeout(),
	}
	if req.InitialCapital == 0 {
		req.InitialCapital = a.cfg.Engine.DefaultCapital
	}
	if c.strategy != "" {
		code, err := os.ReadFile(c.strategy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read strategy: %v\n", err)
			return subcommands.ExitFailure
		}
		req.StrategyCode = string(code)
		if req.StrategyName == "" {
			base := filepath.Base(c.strategy)
			req.StrategyName = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}

	resp := a.orchestrator.Run(ctx, req)

	if err := a.registry.Record(ctx, registry.FromPipeline(req, resp)); err != nil {
		a.logger.Warn("run not recorded", "error", err)
	}

	if !resp.Success {
		fmt.Fprintf(os.Stderr, "backtest failed in %s: %s\n", resp.ErrorStage, resp.ErrorMessage)
		return subcommands.ExitFailure
	}

	fmt.Println(resp.Report.Summary())
	fmt.Printf("data:     %d bars from %s\n", resp.BarsFetched, resp.DataSource)
	fmt.Printf("timings:  fetch %.1fs  convert %.1fs  run %.1fs  total %.1fs\n",
		resp.DataFetchSeconds, resp.ConversionSeconds, resp.ExecutionSeconds, resp.TotalSeconds)
	fmt.Printf("results:  %s\n", resp.ResultsDir)
	return subcommands.ExitSuccess
}
