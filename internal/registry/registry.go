// Package registry persists one row per orchestrated backtest run so past
// runs can be inspected without re-reading result artifacts from disk.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callisto/internal/pipeline"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const defaultRecentLimit = 10

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	created_at       TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	interval         TEXT NOT NULL,
	start_date       TEXT NOT NULL,
	end_date         TEXT NOT NULL,
	success          INTEGER NOT NULL,
	error_stage      TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	bars_fetched     INTEGER NOT NULL DEFAULT 0,
	used_cache       INTEGER NOT NULL DEFAULT 0,
	fetch_seconds    REAL NOT NULL DEFAULT 0,
	convert_seconds  REAL NOT NULL DEFAULT 0,
	run_seconds      REAL NOT NULL DEFAULT 0,
	total_seconds    REAL NOT NULL DEFAULT 0,
	final_equity     REAL NOT NULL DEFAULT 0,
	return_pct       REAL NOT NULL DEFAULT 0,
	sharpe           REAL NOT NULL DEFAULT 0,
	max_drawdown_pct REAL NOT NULL DEFAULT 0,
	total_trades     INTEGER NOT NULL DEFAULT 0,
	results_dir      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_symbol ON runs(symbol, interval);
`

const insertRun = `
INSERT INTO runs (
	id, created_at, strategy, symbol, interval, start_date, end_date,
	success, error_stage, error_message,
	bars_fetched, used_cache,
	fetch_seconds, convert_seconds, run_seconds, total_seconds,
	final_equity, return_pct, sharpe, max_drawdown_pct, total_trades,
	results_dir
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecent = `
SELECT id, created_at, strategy, symbol, interval, start_date, end_date,
       success, error_stage, error_message,
       bars_fetched, used_cache,
       fetch_seconds, convert_seconds, run_seconds, total_seconds,
       final_equity, return_pct, sharpe, max_drawdown_pct, total_trades,
       results_dir
FROM runs
ORDER BY created_at DESC, rowid DESC
LIMIT ?`

// Run is one registry row: the identity, outcome, and headline numbers of a
// single orchestrated backtest.
type Run struct {
	ID        string
	CreatedAt time.Time
	Strategy  string
	Symbol    string
	Interval  string
	StartDate time.Time
	EndDate   time.Time

	Success      bool
	ErrorStage   string
	ErrorMessage string

	BarsFetched int
	UsedCache   bool

	FetchSeconds   float64
	ConvertSeconds float64
	RunSeconds     float64
	TotalSeconds   float64

	FinalEquity        float64
	ReturnPercent      float64
	SharpeRatio        float64
	MaxDrawdownPercent float64
	TotalTrades        int

	ResultsDir string
}

// FromPipeline flattens an orchestrated request/response pair into a Run
// row. Headline metrics are taken from the report when one was produced.
func FromPipeline(req pipeline.Request, resp *pipeline.Response) Run {
	run := Run{
		ID:             resp.RequestID,
		Strategy:       resp.StrategyName,
		Symbol:         strings.ToUpper(req.Symbol),
		Interval:       string(req.Interval),
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Success:        resp.Success,
		ErrorStage:     string(resp.ErrorStage),
		ErrorMessage:   resp.ErrorMessage,
		BarsFetched:    resp.BarsFetched,
		UsedCache:      resp.UsedCache,
		FetchSeconds:   resp.DataFetchSeconds,
		ConvertSeconds: resp.ConversionSeconds,
		RunSeconds:     resp.ExecutionSeconds,
		TotalSeconds:   resp.TotalSeconds,
		ResultsDir:     resp.ResultsDir,
	}
	if resp.Report != nil {
		run.FinalEquity = resp.Report.FinalEquity
		run.ReturnPercent = resp.Report.Metrics.TotalReturnPercent
		run.SharpeRatio = resp.Report.Metrics.Risk.SharpeRatio
		run.MaxDrawdownPercent = resp.Report.Metrics.Risk.MaxDrawdownPercent
		run.TotalTrades = resp.Report.Metrics.TotalTrades
	}
	return run
}

// Registry is a SQLite-backed run history.
type Registry struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the registry database at dbPath and ensures the
// runs table exists.
func Open(dbPath string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", dbPath, err)
	}
	// SQLite permits a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &Registry{
		db:     db,
		logger: logger.With("component", "registry"),
	}, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record inserts one row for a finished run. Failed runs are recorded with
// their stage and message so the history shows what broke.
func (r *Registry) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is empty")
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, insertRun,
		run.ID,
		createdAt.UTC().Format(time.RFC3339),
		run.Strategy,
		run.Symbol,
		run.Interval,
		run.StartDate.UTC().Format(time.RFC3339),
		run.EndDate.UTC().Format(time.RFC3339),
		run.Success,
		run.ErrorStage,
		run.ErrorMessage,
		run.BarsFetched,
		run.UsedCache,
		run.FetchSeconds,
		run.ConvertSeconds,
		run.RunSeconds,
		run.TotalSeconds,
		run.FinalEquity,
		run.ReturnPercent,
		run.SharpeRatio,
		run.MaxDrawdownPercent,
		run.TotalTrades,
		run.ResultsDir,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	r.logger.Debug("run recorded", "run_id", run.ID, "success", run.Success)
	return nil
}

// Recent returns the newest runs, up to limit. A non-positive limit applies
// the default.
func (r *Registry) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := r.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run                          Run
		createdAt, startDate, endDate string
	)
	err := rows.Scan(
		&run.ID, &createdAt, &run.Strategy, &run.Symbol, &run.Interval, &startDate, &endDate,
		&run.Success, &run.ErrorStage, &run.ErrorMessage,
		&run.BarsFetched, &run.UsedCache,
		&run.FetchSeconds, &run.ConvertSeconds, &run.RunSeconds, &run.TotalSeconds,
		&run.FinalEquity, &run.ReturnPercent, &run.SharpeRatio, &run.MaxDrawdownPercent, &run.TotalTrades,
		&run.ResultsDir,
	)
	if err != nil {
		return Run{}, fmt.Errorf("scan run row: %w", err)
	}
	run.CreatedAt = parseStoredTime(createdAt)
	run.StartDate = parseStoredTime(startDate)
	run.EndDate = parseStoredTime(endDate)
	return run, nil
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
