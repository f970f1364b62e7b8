package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callisto/internal/domain"
	"callisto/internal/engine"
	"callisto/internal/lean"
	"callisto/internal/results"
	"callisto/internal/strategy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hourlySeries(n int) *domain.Series {
	bars := make([]domain.Bar, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	for i := range bars {
		open := base + int64(i)*3_600_000
		bars[i] = domain.Bar{
			OpenTime:  open,
			Open:      100, High: 101, Low: 99, Close: 100.5,
			Volume:    10,
			CloseTime: open + 3_599_999,
		}
	}
	return domain.NewSeries("BTCUSDT", domain.Interval1h, bars)
}

type fakeFetcher struct {
	series *domain.Series
	err    error
	calls  int
	symbol string
}

func (f *fakeFetcher) FetchKlines(_ context.Context, symbol string, _ domain.Interval, _, _ time.Time) (*domain.Series, error) {
	f.calls++
	f.symbol = symbol
	if f.err != nil {
		return nil, f.err
	}
	return f.series, nil
}

type memoryCache struct {
	records map[string]*domain.Series
	saves   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{records: map[string]*domain.Series{}}
}

func cacheKey(symbol string, interval domain.Interval, start, end time.Time) string {
	return fmt.Sprintf("%s|%s|%d|%d", symbol, interval, start.UnixMilli(), end.UnixMilli())
}

func (m *memoryCache) Find(symbol string, interval domain.Interval, start, end time.Time) (*domain.Series, bool) {
	s, ok := m.records[cacheKey(symbol, interval, start, end)]
	return s, ok
}

func (m *memoryCache) Save(series *domain.Series, start, end time.Time) (string, error) {
	m.saves++
	m.records[cacheKey(series.Symbol, series.Interval, start, end)] = series
	return "memory", nil
}

type fakeConverter struct {
	root  string
	err   error
	calls int
}

func (f *fakeConverter) Convert(*domain.Series) ([]lean.Artifact, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []lean.Artifact{{Path: "btcusdt.zip"}}, nil
}

func (f *fakeConverter) Root() string { return f.root }

type fakeRunner struct {
	result *engine.Result
	err    error
	calls  int
	got    engine.Request
}

func (f *fakeRunner) Run(_ context.Context, req engine.Request) (*engine.Result, error) {
	f.calls++
	f.got = req
	return f.result, f.err
}

type fakeParser struct {
	report *results.Report
	err    error
	calls  int
	got    string
}

func (f *fakeParser) ParseFile(path string) (*results.Report, error) {
	f.calls++
	f.got = path
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fixture struct {
	fetcher   *fakeFetcher
	cache     *memoryCache
	converter *fakeConverter
	runner    *fakeRunner
	parser    *fakeParser
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fetcher:   &fakeFetcher{series: hourlySeries(48)},
		cache:     newMemoryCache(),
		converter: &fakeConverter{root: t.TempDir()},
		runner:    &fakeRunner{result: &engine.Result{Succeeded: true, ResultFiles: []string{"r.json"}}},
		parser:    &fakeParser{report: &results.Report{}},
	}
	f.orch = New(
		Config{StrategiesDir: t.TempDir(), ResultsDir: t.TempDir()},
		f.fetcher,
		f.cache,
		f.converter,
		strategy.NewPreparer(testLogger()),
		f.runner,
		f.parser,
		testLogger(),
	)
	return f
}

func testRequest() Request {
	return Request{
		Symbol:    "BTCUSDT",
		Interval:  domain.Interval1h,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t)

	resp := f.orch.Run(context.Background(), testRequest())
	if !resp.Success {
		t.Fatalf("Run failed: stage=%s msg=%s", resp.ErrorStage, resp.ErrorMessage)
	}
	if resp.BarsFetched != 48 {
		t.Errorf("BarsFetched = %d, want 48", resp.BarsFetched)
	}
	if resp.UsedCache || resp.DataSource != SourceAPI {
		t.Errorf("source = %q cache=%v, want fresh api fetch", resp.DataSource, resp.UsedCache)
	}
	if len(resp.RequestID) != 8 {
		t.Errorf("RequestID = %q, want generated 8-char id", resp.RequestID)
	}
	if resp.StrategyName != "custom_strategy" {
		t.Errorf("StrategyName = %q, want default applied", resp.StrategyName)
	}
	if resp.Report == nil || resp.Report.StrategyName != "custom_strategy" {
		t.Errorf("Report = %+v, want default strategy name attached", resp.Report)
	}
	if f.cache.saves != 1 {
		t.Errorf("cache saves = %d, want 1", f.cache.saves)
	}

	if f.runner.got.DataDir != f.converter.root {
		t.Errorf("runner DataDir = %q, want converter root %q", f.runner.got.DataDir, f.converter.root)
	}
	if f.runner.got.Capital != 100_000 {
		t.Errorf("runner Capital = %v, want default 100000", f.runner.got.Capital)
	}
	wantDir := filepath.Join(f.orch.cfg.ResultsDir, "custom_strategy_"+resp.RequestID)
	if resp.ResultsDir != wantDir {
		t.Errorf("ResultsDir = %q, want %q", resp.ResultsDir, wantDir)
	}
	if f.parser.got != "r.json" {
		t.Errorf("parser got %q, want the runner's primary artifact", f.parser.got)
	}

	patched, err := os.ReadFile(f.runner.got.StrategyPath)
	if err != nil {
		t.Fatalf("materialized strategy missing: %v", err)
	}
	if !strings.Contains(string(patched), `AddCrypto("BTCUSDT", Resolution.Hour)`) {
		t.Error("materialized strategy was not patched with run parameters")
	}
}

func TestRunCacheMissThenHit(t *testing.T) {
	f := newFixture(t)
	req := testRequest()

	first := f.orch.Run(context.Background(), req)
	second := f.orch.Run(context.Background(), req)

	if !first.Success || !second.Success {
		t.Fatal("both runs should succeed")
	}
	if f.fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1 (second run served from cache)", f.fetcher.calls)
	}
	if first.UsedCache {
		t.Error("first run should miss the cache")
	}
	if !second.UsedCache || second.DataSource != SourceCache {
		t.Errorf("second run source = %q cache=%v, want cache hit", second.DataSource, second.UsedCache)
	}
	if f.cache.saves != 1 {
		t.Errorf("cache saves = %d, want 1", f.cache.saves)
	}
}

func TestRunForceRefreshSkipsCache(t *testing.T) {
	f := newFixture(t)
	req := testRequest()

	f.orch.Run(context.Background(), req)
	req.ForceRefresh = true
	resp := f.orch.Run(context.Background(), req)

	if f.fetcher.calls != 2 {
		t.Errorf("fetcher calls = %d, want 2", f.fetcher.calls)
	}
	if resp.UsedCache {
		t.Error("forced refresh must not report a cache hit")
	}
}

func TestRunRejectsUnsupportedIntervalBeforeAnyStage(t *testing.T) {
	f := newFixture(t)
	req := testRequest()
	req.Interval = domain.Interval4h

	resp := f.orch.Run(context.Background(), req)

	if resp.Success {
		t.Fatal("unsupported interval accepted")
	}
	if resp.ErrorStage != StageUnknown {
		t.Errorf("ErrorStage = %q, want %q", resp.ErrorStage, StageUnknown)
	}
	if !strings.Contains(resp.ErrorMessage, "not supported") {
		t.Errorf("ErrorMessage = %q, want unsupported-interval text", resp.ErrorMessage)
	}
	if f.fetcher.calls != 0 || f.converter.calls != 0 || f.runner.calls != 0 {
		t.Error("no stage may run after a pre-flight rejection")
	}
}

func TestRunValidatesRequest(t *testing.T) {
	f := newFixture(t)

	req := testRequest()
	req.Symbol = ""
	if resp := f.orch.Run(context.Background(), req); resp.Success || resp.ErrorStage != StageUnknown {
		t.Errorf("missing symbol: stage = %q, want unknown failure", resp.ErrorStage)
	}

	req = testRequest()
	req.StartDate, req.EndDate = req.EndDate, req.StartDate
	if resp := f.orch.Run(context.Background(), req); resp.Success || resp.ErrorStage != StageUnknown {
		t.Errorf("inverted range: stage = %q, want unknown failure", resp.ErrorStage)
	}
}

func TestRunStageAttribution(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*fixture)
		wantStage Stage
		check     func(*testing.T, *fixture)
	}{
		{
			name:      "fetch failure",
			mutate:    func(f *fixture) { f.fetcher.err = errors.New("connection reset") },
			wantStage: StageDataFetch,
			check: func(t *testing.T, f *fixture) {
				if f.converter.calls != 0 {
					t.Error("conversion ran after a fetch failure")
				}
			},
		},
		{
			name:      "conversion failure",
			mutate:    func(f *fixture) { f.converter.err = errors.New("cannot write archive") },
			wantStage: StageConversion,
			check: func(t *testing.T, f *fixture) {
				if f.runner.calls != 0 {
					t.Error("execution ran after a conversion failure")
				}
			},
		},
		{
			name: "execution failure",
			mutate: func(f *fixture) {
				f.runner.result = &engine.Result{}
				f.runner.err = errors.New("engine exited abnormally: boom")
			},
			wantStage: StageExecution,
			check: func(t *testing.T, f *fixture) {
				if f.parser.calls != 0 {
					t.Error("parsing ran after an execution failure")
				}
			},
		},
		{
			name:      "parsing failure",
			mutate:    func(f *fixture) { f.parser.err = errors.New("corrupt artifact") },
			wantStage: StageParsing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(f)

			resp := f.orch.Run(context.Background(), testRequest())

			if resp.Success {
				t.Fatal("failed stage reported as success")
			}
			if resp.ErrorStage != tt.wantStage {
				t.Errorf("ErrorStage = %q, want %q", resp.ErrorStage, tt.wantStage)
			}
			if resp.ErrorMessage == "" {
				t.Error("ErrorMessage empty")
			}
			if resp.Report != nil {
				t.Error("partial success must not attach a report")
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestRunPrepareFailureTagsExecution(t *testing.T) {
	f := newFixture(t)
	req := testRequest()
	req.StrategyCode = "class Empty:\n    pass\n"

	resp := f.orch.Run(context.Background(), req)

	if resp.Success {
		t.Fatal("strategy without injection points accepted")
	}
	if resp.ErrorStage != StageExecution {
		t.Errorf("ErrorStage = %q, want %q", resp.ErrorStage, StageExecution)
	}
	if !strings.Contains(resp.ErrorMessage, "injection point") {
		t.Errorf("ErrorMessage = %q, want injection contract error", resp.ErrorMessage)
	}
	if f.runner.calls != 0 {
		t.Error("engine ran with an unpatched strategy")
	}
}

func TestRunNormalizesSymbol(t *testing.T) {
	f := newFixture(t)
	req := testRequest()
	req.Symbol = "ethusdt"

	resp := f.orch.Run(context.Background(), req)
	if !resp.Success {
		t.Fatalf("Run failed: %s", resp.ErrorMessage)
	}
	if f.fetcher.symbol != "ETHUSDT" {
		t.Errorf("fetcher symbol = %q, want normalized ETHUSDT", f.fetcher.symbol)
	}
}
