// Package pipeline sequences a backtest run: load cached data or fetch it,
// convert it into the engine layout, prepare the strategy, execute the
// engine, and parse its output. Each stage is timed and any failure stops
// the run with the stage attributed on the response.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"callisto/internal/domain"
	"callisto/internal/engine"
	"callisto/internal/lean"
	"callisto/internal/results"
	"callisto/internal/strategy"
)

// The orchestrator consumes its stages through interfaces sized to what it
// actually calls, so tests can substitute individual stages.
type (
	// Fetcher produces a bar series for a date range.
	Fetcher interface {
		FetchKlines(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) (*domain.Series, error)
	}

	// Cache answers range-coverage queries and persists fetched series.
	Cache interface {
		Find(symbol string, interval domain.Interval, start, end time.Time) (*domain.Series, bool)
		Save(series *domain.Series, start, end time.Time) (string, error)
	}

	// Converter writes a series into the engine's data layout rooted at
	// Root.
	Converter interface {
		Convert(series *domain.Series) ([]lean.Artifact, error)
		Root() string
	}

	// Preparer patches strategy source with run parameters.
	Preparer interface {
		Prepare(source string, params strategy.Params) (string, error)
	}

	// Runner executes the engine against prepared inputs.
	Runner interface {
		Run(ctx context.Context, req engine.Request) (*engine.Result, error)
	}

	// Parser normalizes the engine's results artifact.
	Parser interface {
		ParseFile(path string) (*results.Report, error)
	}
)

// Config holds the orchestrator's working paths.
type Config struct {
	StrategiesDir string // patched strategy files are materialized here
	ResultsDir    string // per-run engine output directories are created here
}

func (c Config) withDefaults() Config {
	if c.StrategiesDir == "" {
		c.StrategiesDir = "strategies"
	}
	if c.ResultsDir == "" {
		c.ResultsDir = "results"
	}
	return c
}

// Orchestrator runs the backtest pipeline. It owns no retry logic; retries
// live inside the fetcher.
type Orchestrator struct {
	cfg       Config
	fetcher   Fetcher
	cache     Cache
	converter Converter
	preparer  Preparer
	runner    Runner
	parser    Parser
	logger    *slog.Logger
}

// New creates an Orchestrator wired with the given stage implementations.
func New(
	cfg Config,
	fetcher Fetcher,
	cache Cache,
	converter Converter,
	preparer Preparer,
	runner Runner,
	parser Parser,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		fetcher:   fetcher,
		cache:     cache,
		converter: converter,
		preparer:  preparer,
		runner:    runner,
		parser:    parser,
		logger:    logger.With("component", "pipeline"),
	}
}

// Run executes the full pipeline for one request. The response always comes
// back non-nil; on failure it carries the failed stage and error message
// and the stages after the failure never run.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Response {
	started := time.Now()
	req = req.withDefaults()

	resp := &Response{RequestID: req.ID, StrategyName: req.StrategyName}
	defer func() {
		resp.TotalSeconds = time.Since(started).Seconds()
		o.logger.Info("backtest finished",
			"request_id", req.ID,
			"success", resp.Success,
			"total_seconds", resp.TotalSeconds)
	}()

	if err := req.validateRequest(); err != nil {
		return o.fail(resp, StageUnknown, err)
	}

	o.logger.Info("starting backtest",
		"request_id", req.ID,
		"symbol", req.Symbol,
		"interval", req.Interval,
		"start", req.StartDate.Format("2006-01-02"),
		"end", req.EndDate.Format("2006-01-02"))

	fetchStart := time.Now()
	series, usedCache, err := o.fetchData(ctx, req)
	resp.DataFetchSeconds = time.Since(fetchStart).Seconds()
	if err != nil {
		return o.fail(resp, StageDataFetch, err)
	}
	resp.BarsFetched = series.Len()
	resp.UsedCache = usedCache
	resp.DataSource = SourceAPI
	if usedCache {
		resp.DataSource = SourceCache
	}
	o.logger.Info("data ready", "bars", series.Len(), "source", resp.DataSource)

	convertStart := time.Now()
	artifacts, err := o.converter.Convert(series)
	resp.ConversionSeconds = time.Since(convertStart).Seconds()
	if err != nil {
		return o.fail(resp, StageConversion, err)
	}
	o.logger.Info("data converted", "artifacts", len(artifacts), "root", o.converter.Root())

	// Strategy preparation is the front half of execution: a failure here
	// means the engine had nothing valid to run.
	strategyPath, err := o.prepareStrategy(req)
	if err != nil {
		return o.fail(resp, StageExecution, err)
	}

	runDir := filepath.Join(o.cfg.ResultsDir, fmt.Sprintf("%s_%s", req.StrategyName, req.ID))
	resp.ResultsDir = runDir

	execStart := time.Now()
	engineResult, err := o.runner.Run(ctx, engine.Request{
		StrategyPath: strategyPath,
		DataDir:      o.converter.Root(),
		ResultsDir:   runDir,
		Capital:      req.InitialCapital,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Timeout:      req.Timeout,
	})
	resp.ExecutionSeconds = time.Since(execStart).Seconds()
	if err != nil {
		return o.fail(resp, StageExecution, err)
	}

	report, err := o.parser.ParseFile(engineResult.Primary())
	if err != nil {
		return o.fail(resp, StageParsing, err)
	}
	report.StrategyName = req.StrategyName

	resp.Report = report
	resp.Success = true
	return resp
}

// fetchData returns cached bars when a saved record covers the range, and
// otherwise fetches and caches. A failed cache write is logged, not fatal.
func (o *Orchestrator) fetchData(ctx context.Context, req Request) (*domain.Series, bool, error) {
	if !req.ForceRefresh {
		if series, ok := o.cache.Find(req.Symbol, req.Interval, req.StartDate, req.EndDate); ok {
			return series, true, nil
		}
	}

	series, err := o.fetcher.FetchKlines(ctx, req.Symbol, req.Interval, req.StartDate, req.EndDate)
	if err != nil {
		return nil, false, err
	}

	if _, err := o.cache.Save(series, req.StartDate, req.EndDate); err != nil {
		o.logger.Warn("could not cache fetched series", "error", err)
	}
	return series, false, nil
}

// prepareStrategy patches the request's strategy source and materializes it
// under the strategies directory as {name}_{id}.py.
func (o *Orchestrator) prepareStrategy(req Request) (string, error) {
	patched, err := o.preparer.Prepare(req.StrategyCode, strategy.Params{
		Symbol:         req.Symbol,
		Interval:       req.Interval,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		InitialCapital: req.InitialCapital,
	})
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(o.cfg.StrategiesDir, 0o755); err != nil {
		return "", fmt.Errorf("create strategies dir: %w", err)
	}
	path := filepath.Join(o.cfg.StrategiesDir, fmt.Sprintf("%s_%s.py", req.StrategyName, req.ID))
	if err := os.WriteFile(path, []byte(patched), 0o644); err != nil {
		return "", fmt.Errorf("write strategy: %w", err)
	}
	return path, nil
}

func (o *Orchestrator) fail(resp *Response, stage Stage, err error) *Response {
	resp.ErrorStage = stage
	resp.ErrorMessage = err.Error()
	o.logger.Error("backtest stage failed",
		"request_id", resp.RequestID,
		"stage", string(stage),
		"error", err)
	return resp
}
