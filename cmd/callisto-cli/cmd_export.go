package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"callisto/internal/domain"
	"callisto/internal/export"
)

// exportCmd writes a cached series to a single flat file for analysis
// outside the pipeline.
type exportCmd struct {
	symbol   string
	interval string
	start    string
	end      string
	format   string
	out      string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export a cached series to CSV, JSON, or Parquet" }
func (*exportCmd) Usage() string {
	return `export -symbol BTCUSDT -interval 1h -start 2024-01-01 -end 2024-03-01 [-format csv] [-out bars.csv]:
  Write a cached series to one file. The range must already be in the
  cache; run fetch first. Without -out the file is named after the series.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "symbol", "BTCUSDT", "trading pair")
	f.StringVar(&c.interval, "interval", "1h", "kline interval")
	f.StringVar(&c.start, "start", "", "range start (YYYY-MM-DD)")
	f.StringVar(&c.end, "end", "", "range end, exclusive (default: today)")
	f.StringVar(&c.format, "format", "csv", "output format: csv, json, or parquet")
	f.StringVar(&c.out, "out", "", "output path (default: derived from the series)")
}

func (c *exportCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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
	format, err := export.ParseFormat(c.format)
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

	symbol := strings.ToUpper(c.symbol)
	series, ok := a.cache.Find(symbol, interval, start, end)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s %s %s..%s is not cached; run fetch first\n",
			symbol, interval, start.Format("2006-01-02"), end.Format("2006-01-02"))
		return subcommands.ExitFailure
	}

	saver, err := export.NewSaver(format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	out := c.out
	if out == "" {
		out = export.DefaultFilename(series, format)
	}
	if err := saver.Save(series, out); err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("exported %d bars to %s\n", series.Len(), out)
	return subcommands.ExitSuccess
}
