// Command callisto-cli drives the backtesting pipeline from the command
// line: fetching klines into the cache, converting them to the engine data
// layout, running containerized backtests, and inspecting past runs.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
)

// configPath is shared by every subcommand; resolution falls back to
// $CALLISTO_CONFIG and then the conventional file location.
var configPath = flag.String("config", "", "path to the YAML configuration file")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&fetchCmd{}, "data")
	subcommands.Register(&convertCmd{}, "data")
	subcommands.Register(&cacheCmd{}, "data")
	subcommands.Register(&exportCmd{}, "data")

	subcommands.Register(&backtestCmd{}, "backtest")
	subcommands.Register(&statusCmd{}, "backtest")

	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(int(subcommands.Execute(ctx)))
}
