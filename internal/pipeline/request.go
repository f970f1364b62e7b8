package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"callisto/internal/domain"
	"callisto/internal/results"
	"callisto/internal/strategy"
)

// Stage identifies where in the pipeline a run failed. Pre-flight
// validation failures carry StageUnknown: no stage was entered.
type Stage string

const (
	StageDataFetch  Stage = "data_fetch"
	StageConversion Stage = "conversion"
	StageExecution  Stage = "execution"
	StageParsing    Stage = "parsing"
	StageUnknown    Stage = "unknown"
)

// Data sources recorded on the response.
const (
	SourceCache = "cache"
	SourceAPI   = "api"
)

// Request holds everything one backtest run needs. StrategyCode is
// optional: the embedded default strategy is used when it is empty. The
// zero ID, name and capital are filled with defaults before validation.
type Request struct {
	ID           string
	StrategyName string
	StrategyCode string

	Symbol   string          `validate:"required"`
	Interval domain.Interval `validate:"required"`

	StartDate time.Time `validate:"required"`
	EndDate   time.Time `validate:"required,gtfield=StartDate"`

	InitialCapital float64 `validate:"gt=0"`

	// ForceRefresh skips the cache lookup and always hits the API. The
	// fetched series is still saved.
	ForceRefresh bool

	// Timeout overrides the runner's configured deadline when set.
	Timeout time.Duration
}

func (r Request) withDefaults() Request {
	if r.ID == "" {
		r.ID = uuid.NewString()[:8]
	}
	if r.StrategyName == "" {
		r.StrategyName = "custom_strategy"
	}
	if r.StrategyCode == "" {
		r.StrategyCode = strategy.DefaultStrategy()
	}
	if r.InitialCapital == 0 {
		r.InitialCapital = 100_000
	}
	r.Symbol = strings.ToUpper(r.Symbol)
	return r
}

var validate = validator.New()

// validateRequest runs struct validation plus the supported-interval gate,
// so an interval the engine cannot run is rejected before any fetch or
// conversion work happens.
func (r Request) validateRequest() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if !r.Interval.Valid() {
		return fmt.Errorf("unknown interval %q", r.Interval)
	}
	if _, err := strategy.Resolution(r.Interval); err != nil {
		return err
	}
	return nil
}

// Response reports one run. Stage timings are in seconds to line up with
// the run registry's columns. Partial success is never reported as
// success: any stage failure leaves Success false with the stage tagged.
type Response struct {
	RequestID    string
	StrategyName string
	Success      bool

	Report     *results.Report
	ResultsDir string

	DataFetchSeconds  float64
	ConversionSeconds float64
	ExecutionSeconds  float64
	TotalSeconds      float64

	BarsFetched int
	DataSource  string
	UsedCache   bool

	ErrorStage   Stage
	ErrorMessage string
}
