package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"callisto/internal/binance"
	"callisto/internal/cache"
	"callisto/internal/config"
	"callisto/internal/engine"
	"callisto/internal/lean"
	"callisto/internal/pipeline"
	"callisto/internal/ratelimit"
	"callisto/internal/registry"
	"callisto/internal/results"
	"callisto/internal/strategy"
	"callisto/internal/util"
)

// defaultConfigPath is probed when neither -config nor $CALLISTO_CONFIG
// names a file.
const defaultConfigPath = "config/callisto.yaml"

// app bundles the constructed components the subcommands share.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	fetcher      *binance.Client
	cache        *cache.Store
	converter    *lean.Converter
	runner       *engine.Runner
	orchestrator *pipeline.Orchestrator
	registry     *registry.Registry
}

// Close releases everything the app holds open.
func (a *app) Close() error {
	return a.registry.Close()
}

// configFile resolves the configuration path: the -config flag, then
// $CALLISTO_CONFIG, then the conventional location when it exists. An empty
// result means built-in defaults.
func configFile() string {
	if *configPath != "" {
		return *configPath
	}
	if p := os.Getenv("CALLISTO_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// parseRange parses the -start/-end flags. Start is required; end defaults
// to the current day when empty.
func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	if startStr == "" {
		return time.Time{}, time.Time{}, errors.New("missing -start (YYYY-MM-DD)")
	}
	start, err := util.ParseDate(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if endStr != "" {
		if end, err = util.ParseDate(endStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is not after start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return start, end, nil
}

// fmtBytes renders a byte count in the largest sensible unit.
func fmtBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// ---------------------------------------------------------------------------
// Wire providers
// ---------------------------------------------------------------------------

func provideLogger(cfg *config.Config) *slog.Logger {
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	return logger
}

func provideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Provider.RequestsPerMin, cfg.Provider.WeightPerMin, time.Minute)
}

func provideFetcher(cfg *config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) *binance.Client {
	return binance.NewClient(binance.Config{
		BaseURL:        cfg.Provider.BaseURL,
		KlinesEndpoint: cfg.Provider.KlinesEndpoint,
		MaxLimit:       cfg.Provider.MaxLimit,
		DefaultLimit:   cfg.Provider.DefaultLimit,
	}, limiter, logger)
}

func provideCache(cfg *config.Config, logger *slog.Logger) (*cache.Store, error) {
	return cache.NewStore(cfg.Storage.DataDir, logger)
}

func provideConverter(cfg *config.Config, logger *slog.Logger) *lean.Converter {
	return lean.NewConverter(lean.DefaultConfig(cfg.Storage.LeanDataDir), logger)
}

func providePreparer(logger *slog.Logger) *strategy.Preparer {
	return strategy.NewPreparer(logger)
}

func provideRunner(cfg *config.Config, logger *slog.Logger) *engine.Runner {
	return engine.NewRunner(engine.Config{
		Binary:  cfg.Engine.Binary,
		Image:   cfg.Engine.DockerImage,
		Timeout: cfg.Engine.Timeout(),
	}, logger)
}

func provideParser(logger *slog.Logger) *results.Parser {
	return results.NewParser(logger)
}

func provideOrchestrator(
	cfg *config.Config,
	fetcher *binance.Client,
	store *cache.Store,
	converter *lean.Converter,
	preparer *strategy.Preparer,
	runner *engine.Runner,
	parser *results.Parser,
	logger *slog.Logger,
) *pipeline.Orchestrator {
	return pipeline.New(pipeline.Config{
		StrategiesDir: cfg.Storage.StrategiesDir,
		ResultsDir:    cfg.Storage.ResultsDir,
	}, fetcher, store, converter, preparer, runner, parser, logger)
}

func provideRegistry(cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	return registry.Open(cfg.Storage.RegistryPath, logger)
}
