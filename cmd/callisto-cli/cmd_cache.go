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

// cacheCmd inspects and prunes the JSON kline cache.
type cacheCmd struct {
	list      bool
	stats     bool
	clear     bool
	symbol    string
	interval  string
	olderDays int
}

func (*cacheCmd) Name() string     { return "cache" }
func (*cacheCmd) Synopsis() string { return "list, summarise, or clear cached klines" }
func (*cacheCmd) Usage() string {
	return `cache -list|-stats|-clear [-symbol BTCUSDT] [-interval 1h] [-older-days 30]:
  Inspect the JSON kline cache. -clear removes the records matching the
  filters; with -older-days only records older than N days go.
`
}

func (c *cacheCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.list, "list", false, "list cache records")
	f.BoolVar(&c.stats, "stats", false, "print cache totals")
	f.BoolVar(&c.clear, "clear", false, "delete matching cache records")
	f.StringVar(&c.symbol, "symbol", "", "filter by trading pair")
	f.StringVar(&c.interval, "interval", "", "filter by interval")
	f.IntVar(&c.olderDays, "older-days", 0, "with -clear: only records older than this many days")
}

func (c *cacheCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	modes := 0
	for _, on := range []bool{c.list, c.stats, c.clear} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "pick exactly one of -list, -stats, -clear")
		return subcommands.ExitUsageError
	}

	a, err := initializeApp(configFile())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	symbol := strings.ToUpper(c.symbol)
	interval := domain.Interval(c.interval)

	switch {
	case c.list:
		entries, err := a.cache.List(symbol, interval)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
			return subcommands.ExitFailure
		}
		if len(entries) == 0 {
			fmt.Println("cache is empty")
			return subcommands.ExitSuccess
		}
		for _, e := range entries {
			fmt.Printf("%-10s %-4s %s..%s  %8s  %s\n",
				e.Symbol, e.Interval, e.StartDate, e.EndDate, fmtBytes(e.SizeBytes), e.Path)
		}

	case c.stats:
		s, err := a.cache.Stats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "stats failed: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Printf("directory: %s\n", a.cache.Dir())
		fmt.Printf("files:     %d (%s)\n", s.FileCount, fmtBytes(s.TotalBytes))
		if len(s.Symbols) > 0 {
			fmt.Printf("symbols:   %s\n", strings.Join(s.Symbols, ", "))
		}
		if len(s.Intervals) > 0 {
			fmt.Printf("intervals: %s\n", strings.Join(s.Intervals, ", "))
		}

	case c.clear:
		n, err := a.cache.Delete(symbol, interval, c.olderDays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Printf("removed %d cache records\n", n)
	}
	return subcommands.ExitSuccess
}
