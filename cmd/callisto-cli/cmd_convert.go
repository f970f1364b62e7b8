package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"callisto/internal/domain"
)

// convertCmd converts an already-cached range to the engine data layout
// without touching the network.
type convertCmd struct {
	symbol   string
	interval string
	start    string
	end      string
}

func (*convertCmd) Name() string     { return "convert" }
func (*convertCmd) Synopsis() string { return "convert cached klines to the engine data layout" }
func (*convertCmd) Usage() string {
	return `convert -symbol BTCUSDT -interval 1h -start 2024-01-01 -end 2024-03-01:
  Write a cached series into the zipped CSV layout the engine reads. The
  range must already be in the cache; run fetch first.
`
}

func (c *convertCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "symbol", "BTCUSDT", "trading pair")
	f.StringVar(&c.interval, "interval", "1h", "kline interval")
	f.StringVar(&c.start, "start", "", "range start (YYYY-MM-DD)")
	f.StringVar(&c.end, "end", "", "range end, exclusive (default: today)")
}

func (c *convertCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	start, end, err := parseRange(c.start, c.end)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	interval := domain.Interval(c.interval)
	if !interval.Valid() {
		fmt.Fprintf(os.Stderr, "unknown interval %q\n", c.interval)
		return subcommands.ExitUsageError
	}

	a, err := initializeApp(configFile())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	symbol := strings.ToUpper(c.symbol)
	series, ok := a.cache.Find(symbol, interval, start, end)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s %s %s..%s is not cached; run fetch first\n",
			symbol, interval, start.Format("2006-01-02"), end.Format("2006-01-02"))
		return subcommands.ExitFailure
	}

	artifacts, err := a.converter.Convert(series)
	if err != nil {
		fmt.Fprintf(os.Stderr, "conversion failed: %v\n", err)
		return subcommands.ExitFailure
	}
	for _, art := range artifacts {
		fmt.Printf("%s (%d bars)\n", art.Path, art.Bars)
	}
	return subcommands.ExitSuccess
}
