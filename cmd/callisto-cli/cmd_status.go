package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
)

// statusCmd reports engine runtime availability, cache totals, converted
// data, and the most recent runs.
type statusCmd struct {
	runs int
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show pipeline health and recent runs" }
func (*statusCmd) Usage() string {
	return `status [-runs 5]:
  Probe the container runtime, summarise cached and converted data, and
  list the most recent backtest runs from the registry.
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.runs, "runs", 5, "number of recent runs to show")
}

func (c *statusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := initializeApp(configFile())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	fmt.Println("callisto status")
	fmt.Println(strings.Repeat("-", 60))

	if err := a.runner.CheckRuntime(ctx); err != nil {
		fmt.Printf("engine:    unavailable: %v\n", err)
	} else {
		fmt.Printf("engine:    ok (%s, image %s)\n", a.cfg.Engine.Binary, a.cfg.Engine.DockerImage)
	}

	if stats, err := a.cache.Stats(); err != nil {
		fmt.Printf("cache:     error: %v\n", err)
	} else {
		fmt.Printf("cache:     %d files, %s (%s)\n", stats.FileCount, fmtBytes(stats.TotalBytes), a.cache.Dir())
		if len(stats.Symbols) > 0 {
			fmt.Printf("           symbols: %s\n", strings.Join(stats.Symbols, ", "))
		}
	}

	if sets, err := a.converter.ListConverted(); err != nil {
		fmt.Printf("converted: error: %v\n", err)
	} else if len(sets) == 0 {
		fmt.Println("converted: none")
	} else {
		for _, set := range sets {
			fmt.Printf("converted: %s/%s  %d files, %s\n",
				set.Tier, set.Symbol, set.Files, fmtBytes(set.SizeBytes))
		}
	}

	runs, err := a.registry.Recent(ctx, c.runs)
	if err != nil {
		fmt.Printf("runs:      error: %v\n", err)
		return subcommands.ExitFailure
	}
	if len(runs) == 0 {
		fmt.Println("runs:      none recorded")
		return subcommands.ExitSuccess
	}
	fmt.Println("recent runs:")
	for _, r := range runs {
		outcome := fmt.Sprintf("%+.2f%%  %d trades", r.ReturnPercent, r.TotalTrades)
		if !r.Success {
			outcome = fmt.Sprintf("failed in %s: %s", r.ErrorStage, r.ErrorMessage)
		}
		fmt.Printf("  %s  %s  %-10s %-3s  %s\n",
			r.CreatedAt.Format("2006-01-02 15:04"), r.ID, r.Symbol, r.Interval, outcome)
	}
	return subcommands.ExitSuccess
}
