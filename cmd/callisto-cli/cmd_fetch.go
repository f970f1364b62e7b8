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

// fetchCmd downloads klines into the local cache, optionally converting
// them to the engine layout in the same invocation.
type fetchCmd struct {
	symbol   string
	interval string
	start    string
	end      string
	refresh  bool
	convert  bool
}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "download klines into the local cache" }
func (*fetchCmd) Usage() string {
	return `fetch -symbol BTCUSDT -interval 1h -start 2024-01-01 [-end 2024-03-01] [-refresh] [-convert]:
  Fetch historical klines through the rate-limited provider client and cache
  them as JSON. With -convert the series is also written to the engine's
  data layout.
`
}

func (c *fetchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "symbol", "BTCUSDT", "trading pair, e.g. BTCUSDT")
	f.StringVar(&c.interval, "interval", "1h", "kline interval, e.g. 1m, 1h, 1d")
	f.StringVar(&c.start, "start", "", "range start (YYYY-MM-DD)")
	f.StringVar(&c.end, "end", "", "range end, exclusive (default: today)")
	f.BoolVar(&c.refresh, "refresh", false, "refetch even when the range is cached")
	f.BoolVar(&c.convert, "convert", false, "also convert the series to the engine layout")
}

func (c *fetchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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

	var series *domain.Series
	cached := false
	if !c.refresh {
		series, cached = a.cache.Find(symbol, interval, start, end)
	}
	if !cached {
		series, err = a.fetcher.FetchKlines(ctx, symbol, interval, start, end)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch failed: %v\n", err)
			return subcommands.ExitFailure
		}
		if _, err := a.cache.Save(series, start, end); err != nil {
			fmt.Fprintf(os.Stderr, "cache save failed: %v\n", err)
			return subcommands.ExitFailure
		}
	}

	source := "api"
	if cached {
		source = "cache"
	}
	fmt.Printf("%s %s: %d bars (%s)\n", symbol, interval, series.Len(), source)

	if c.convert {
		artifacts, err := a.converter.Convert(series)
		if err != nil {
			fmt.Fprintf(os.Stderr, "conversion failed: %v\n", err)
			return subcommands.ExitFailure
		}
		for _, art := range artifacts {
			fmt.Printf("  %s (%d bars)\n", art.Path, art.Bars)
		}
	}
	return subcommands.ExitSuccess
}
