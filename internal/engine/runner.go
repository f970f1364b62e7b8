// Package engine launches the external backtesting engine as an isolated
// container subprocess: bind-mounted algorithm, data and results paths, a
// hard deadline, and outcome classification from exit state and artifacts.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrRuntimeUnavailable means the container runtime is missing or its
	// daemon is not answering.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")

	// ErrTimeout means the engine exceeded the configured deadline and was
	// killed.
	ErrTimeout = errors.New("backtest timed out")

	// ErrNoResults means the engine exited cleanly but left no primary
	// artifact in the results directory.
	ErrNoResults = errors.New("no results artifact produced")
)

const (
	versionProbeTimeout = 5 * time.Second
	infoProbeTimeout    = 10 * time.Second

	// killGracePeriod bounds how long Wait may block on inherited pipes
	// after the process has been killed.
	killGracePeriod = 5 * time.Second
)

// auxiliaryPatterns mark JSON artifacts that are not the primary results
// file. The engine writes these alongside the main document.
var auxiliaryPatterns = []string{"summary", "order-events", "data-monitor"}

// Config holds runner settings. Zero fields are filled by withDefaults.
type Config struct {
	Binary  string        // container runtime executable
	Image   string        // engine image reference
	Timeout time.Duration // hard deadline per run
}

// DefaultConfig returns the stock engine image and a five minute deadline.
func DefaultConfig() Config {
	return Config{
		Binary:  "docker",
		Image:   "quantconnect/lean:latest",
		Timeout: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Binary == "" {
		c.Binary = def.Binary
	}
	if c.Image == "" {
		c.Image = def.Image
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// Request describes one engine invocation. The strategy file must already
// carry its run parameters; Capital and the date range are informational
// here and drive nothing inside the container.
type Request struct {
	StrategyPath string
	DataDir      string
	ResultsDir   string
	Capital      float64
	StartDate    time.Time
	EndDate      time.Time
	Timeout      time.Duration // overrides Config.Timeout when set
}

// Result reports one engine invocation. ResultFiles lists candidate result
// artifacts, primary first; auxiliary files (summaries, order events,
// diagnostics) are excluded unless nothing else was produced.
type Result struct {
	Succeeded   bool
	Duration    time.Duration
	ResultFiles []string
	LogFile     string
	Stdout      string
	Stderr      string
	Error       string
}

// Primary returns the path of the primary results artifact, or "" when the
// run produced none.
func (r *Result) Primary() string {
	if len(r.ResultFiles) == 0 {
		return ""
	}
	return r.ResultFiles[0]
}

// Runner executes backtests in the engine container.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "engine"),
	}
}

// CheckRuntime verifies the container runtime binary exists and its daemon
// answers. Run calls this before every invocation; callers may also probe
// it directly for pre-flight diagnostics.
func (r *Runner) CheckRuntime(ctx context.Context) error {
	if err := r.probe(ctx, versionProbeTimeout, "--version"); err != nil {
		return fmt.Errorf("%w: %s not found or not executable", ErrRuntimeUnavailable, r.cfg.Binary)
	}
	if err := r.probe(ctx, infoProbeTimeout, "info"); err != nil {
		return fmt.Errorf("%w: daemon is not running", ErrRuntimeUnavailable)
	}
	return nil
}

func (r *Runner) probe(ctx context.Context, timeout time.Duration, args ...string) error {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return exec.CommandContext(pctx, r.cfg.Binary, args...).Run()
}

// Run checks the runtime, stages the strategy into a scratch directory,
// launches the engine with the algorithm, data and results mounts, and
// waits for completion under the deadline. The scratch directory is removed
// on every exit path; removal errors are logged, not raised, because the
// container may leave files owned by another user.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := r.CheckRuntime(ctx); err != nil {
		return nil, err
	}

	if req.StrategyPath == "" {
		return nil, fmt.Errorf("strategy path not set")
	}
	if _, err := os.Stat(req.StrategyPath); err != nil {
		return nil, fmt.Errorf("strategy file: %w", err)
	}
	if req.DataDir == "" || req.ResultsDir == "" {
		return nil, fmt.Errorf("data dir and results dir must be set")
	}

	dataDir, err := filepath.Abs(req.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	resultsDir, err := filepath.Abs(req.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("results dir: %w", err)
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}

	workDir, err := os.MkdirTemp("", "callisto-algo-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer r.removeWorkDir(workDir)

	name := filepath.Base(req.StrategyPath)
	source, err := os.ReadFile(req.StrategyPath)
	if err != nil {
		return nil, fmt.Errorf("read strategy: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, name), source, 0o644); err != nil {
		return nil, fmt.Errorf("stage strategy: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	args := []string{
		"run", "--rm",
		"-v", workDir + ":/Algorithm",
		"-v", dataDir + ":/Data",
		"-v", resultsDir + ":/Results",
		r.cfg.Image,
		"--algorithm-location", "/Algorithm/" + name,
		"--algorithm-language", "Python",
		"--data-folder", "/Data",
		"--results-destination-folder", "/Results",
		"--close-automatically", "true",
	}

	r.logger.Info("running backtest",
		"strategy", name,
		"image", r.cfg.Image,
		"capital", req.Capital,
		"start", req.StartDate.Format("2006-01-02"),
		"end", req.EndDate.Format("2006-01-02"),
		"timeout", timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.cfg.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGracePeriod

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Duration: duration,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Error = fmt.Sprintf("backtest timed out after %s", timeout)
		return result, fmt.Errorf("backtest timed out after %s: %w", timeout, ErrTimeout)

	case ctx.Err() != nil:
		result.Error = ctx.Err().Error()
		return result, fmt.Errorf("backtest canceled: %w", ctx.Err())

	case runErr != nil:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		result.Error = msg
		return result, fmt.Errorf("engine exited abnormally: %s", msg)
	}

	files, logFile := discoverArtifacts(resultsDir)
	result.ResultFiles = files
	result.LogFile = logFile

	if len(files) == 0 {
		result.Error = "engine exited cleanly but wrote no results"
		return result, fmt.Errorf("%w in %s", ErrNoResults, resultsDir)
	}

	result.Succeeded = true
	r.logger.Info("backtest finished",
		"duration", duration,
		"results", result.Primary())
	return result, nil
}

func (r *Runner) removeWorkDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Debug("could not remove work dir", "dir", dir, "error", err)
	}
}

// discoverArtifacts locates result files by exclusion: every JSON file not
// matching an auxiliary pattern is a candidate, and the summary document is
// used only when nothing else exists. Glob results come back sorted, which
// keeps the primary choice stable.
func discoverArtifacts(dir string) (results []string, logFile string) {
	all, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	for _, path := range all {
		if isAuxiliary(filepath.Base(path)) {
			continue
		}
		results = append(results, path)
	}
	if len(results) == 0 {
		results, _ = filepath.Glob(filepath.Join(dir, "*-summary.json"))
	}

	logs, _ := filepath.Glob(filepath.Join(dir, "*.log"))
	if len(logs) > 0 {
		logFile = logs[0]
	}
	return results, logFile
}

func isAuxiliary(name string) bool {
	for _, pattern := range auxiliaryPatterns {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}
