// Package callisto is a small programmatic entry point to the backtest
// pipeline, for embedding in other tools without going through the CLI. It
// wires the same component graph the CLI uses and exposes a flattened
// request/summary pair so importers never touch internal types.
package callisto

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"callisto/internal/binance"
	"callisto/internal/cache"
	"callisto/internal/config"
	"callisto/internal/domain"
	"callisto/internal/engine"
	"callisto/internal/lean"
	"callisto/internal/pipeline"
	"callisto/internal/ratelimit"
	"callisto/internal/results"
	"callisto/internal/strategy"
	"callisto/internal/util"
)

// Client runs backtests through the full fetch/convert/execute/parse
// pipeline. Construct it once and reuse it; the underlying rate limiter is
// shared across all calls.
type Client struct {
	cfg          *config.Config
	logger       *slog.Logger
	cache        *cache.Store
	fetcher      *binance.Client
	orchestrator *pipeline.Orchestrator
}

// NewClient builds a Client from the YAML configuration file at configPath.
// An empty path uses the built-in defaults.
func NewClient(configPath string) (*Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(cfg, nil)
}

// NewClientWithConfig builds a Client from an already-loaded configuration.
// A nil logger gets one built from the configured level and format.
func NewClientWithConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	}

	limiter := ratelimit.New(cfg.Provider.RequestsPerMin, cfg.Provider.WeightPerMin, time.Minute)
	fetcher := binance.NewClient(binance.Config{
		BaseURL:        cfg.Provider.BaseURL,
		KlinesEndpoint: cfg.Provider.KlinesEndpoint,
		MaxLimit:       cfg.Provider.MaxLimit,
		DefaultLimit:   cfg.Provider.DefaultLimit,
	}, limiter, logger)

	store, err := cache.NewStore(cfg.Storage.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	orchestrator := pipeline.New(pipeline.Config{
		StrategiesDir: cfg.Storage.StrategiesDir,
		ResultsDir:    cfg.Storage.ResultsDir,
	},
		fetcher,
		store,
		lean.NewConverter(lean.DefaultConfig(cfg.Storage.LeanDataDir), logger),
		strategy.NewPreparer(logger),
		engine.NewRunner(engine.Config{
			Binary:  cfg.Engine.Binary,
			Image:   cfg.Engine.DockerImage,
			Timeout: cfg.Engine.Timeout(),
		}, logger),
		results.NewParser(logger),
		logger,
	)

	return &Client{
		cfg:          cfg,
		logger:       logger,
		cache:        store,
		fetcher:      fetcher,
		orchestrator: orchestrator,
	}, nil
}

// BacktestRequest describes one run. Symbol, Interval, Start and End are
// required; everything else falls back to the same defaults the CLI uses.
type BacktestRequest struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time

	StrategyName   string
	StrategyCode   string // empty selects the embedded default strategy
	InitialCapital float64

	ForceRefresh bool
	Timeout      time.Duration
}

// BacktestSummary is the flattened outcome of one run. When Success is
// false, ErrorStage names the pipeline stage that failed.
type BacktestSummary struct {
	RequestID    string
	Success      bool
	ErrorStage   string
	ErrorMessage string

	BarsFetched  int
	UsedCache    bool
	TotalSeconds float64

	FinalEquity        float64
	TotalReturnPercent float64
	SharpeRatio        float64
	MaxDrawdownPercent float64
	TotalTrades        int
	WinRatePercent     float64

	// Text is the rendered report digest, empty on failure.
	Text string
}

// Backtest runs the pipeline for one request. Pipeline-stage failures come
// back inside the summary, not as an error; the error return covers only
// request construction problems.
func (c *Client) Backtest(ctx context.Context, req BacktestRequest) (*BacktestSummary, error) {
	interval := domain.Interval(req.Interval)
	if !interval.Valid() {
		return nil, fmt.Errorf("unknown interval %q", req.Interval)
	}
	resp := c.orchestrator.Run(ctx, pipeline.Request{
		Symbol:         req.Symbol,
		Interval:       interval,
		StartDate:      req.Start,
		EndDate:        req.End,
		StrategyName:   req.StrategyName,
		StrategyCode:   req.StrategyCode,
		InitialCapital: req.InitialCapital,
		ForceRefresh:   req.ForceRefresh,
		Timeout:        req.Timeout,
	})
	return summarize(resp), nil
}

// FetchBars fetches and caches klines for the range, returning the number
// of bars now held for it. A range already covered by the cache issues no
// network calls.
func (c *Client) FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) (int, error) {
	iv := domain.Interval(interval)
	if !iv.Valid() {
		return 0, fmt.Errorf("unknown interval %q", interval)
	}
	if series, ok := c.cache.Find(symbol, iv, start, end); ok {
		return series.Len(), nil
	}
	series, err := c.fetcher.FetchKlines(ctx, symbol, iv, start, end)
	if err != nil {
		return 0, err
	}
	if _, err := c.cache.Save(series, start, end); err != nil {
		return 0, fmt.Errorf("cache fetched series: %w", err)
	}
	return series.Len(), nil
}

func summarize(resp *pipeline.Response) *BacktestSummary {
	s := &BacktestSummary{
		RequestID:    resp.RequestID,
		Success:      resp.Success,
		ErrorStage:   string(resp.ErrorStage),
		ErrorMessage: resp.ErrorMessage,
		BarsFetched:  resp.BarsFetched,
		UsedCache:    resp.UsedCache,
		TotalSeconds: resp.TotalSeconds,
	}
	if r := resp.Report; r != nil {
		s.FinalEquity = r.FinalEquity
		s.TotalReturnPercent = r.Metrics.TotalReturnPercent
		s.SharpeRatio = r.Metrics.Risk.SharpeRatio
		s.MaxDrawdownPercent = r.Metrics.Risk.MaxDrawdownPercent
		s.TotalTrades = r.Metrics.TotalTrades
		s.WinRatePercent = r.Metrics.WinRatePercent
		s.Text = r.Summary()
	}
	return s
}
