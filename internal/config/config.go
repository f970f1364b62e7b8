// Package config loads the application configuration from YAML and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the callisto pipeline.
type Config struct {
	Provider Provider `yaml:"provider"`
	Engine   Engine   `yaml:"engine"`
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
}

// Provider configures the kline data source and its rate limits.
type Provider struct {
	BaseURL        string `yaml:"base_url" validate:"required,url"`
	KlinesEndpoint string `yaml:"klines_endpoint" validate:"required"`
	MaxLimit       int    `yaml:"max_limit" validate:"gt=0"`
	DefaultLimit   int    `yaml:"default_limit" validate:"gt=0,ltefield=MaxLimit"`
	RequestsPerMin int    `yaml:"requests_per_min" validate:"gt=0"`
	WeightPerMin   int    `yaml:"weight_per_min" validate:"gt=0"`
}

// Engine configures the containerized backtest engine.
type Engine struct {
	Binary           string  `yaml:"binary" validate:"required"`
	DockerImage      string  `yaml:"docker_image" validate:"required"`
	ExecutionTimeout int     `yaml:"execution_timeout" validate:"gt=0"` // seconds
	DefaultCapital   float64 `yaml:"default_capital" validate:"gt=0"`
}

// Timeout returns the execution timeout as a duration.
func (e Engine) Timeout() time.Duration {
	return time.Duration(e.ExecutionTimeout) * time.Second
}

// Storage holds the directory layout for cached, converted, and produced
// files.
type Storage struct {
	DataDir       string `yaml:"data_dir" validate:"required"`       // raw JSON kline cache
	LeanDataDir   string `yaml:"lean_data_dir" validate:"required"`  // converted engine data
	StrategiesDir string `yaml:"strategies_dir" validate:"required"` // materialized strategies
	ResultsDir    string `yaml:"results_dir" validate:"required"`    // per-run engine output
	RegistryPath  string `yaml:"registry_path" validate:"required"`  // SQLite run history
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

var validate = validator.New()

// Default returns the built-in configuration: production provider endpoints
// and a flat directory layout under the working directory.
func Default() *Config {
	return &Config{
		Provider: Provider{
			BaseURL:        "https://api.binance.com",
			KlinesEndpoint: "/api/v3/klines",
			MaxLimit:       1500,
			DefaultLimit:   1000,
			RequestsPerMin: 1200,
			WeightPerMin:   6000,
		},
		Engine: Engine{
			Binary:           "docker",
			DockerImage:      "quantconnect/lean:latest",
			ExecutionTimeout: 300,
			DefaultCapital:   100_000,
		},
		Storage: Storage{
			DataDir:       "data_storage/raw",
			LeanDataDir:   "data_storage/lean",
			StrategiesDir: "strategies",
			ResultsDir:    "results",
			RegistryPath:  "callisto.db",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML configuration file at path, fills unset fields with
// defaults, and applies environment variable overrides. An empty path skips
// the file and yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.applyDefaults()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first constraint the configuration violates.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyDefaults fills zero-valued fields so a sparse YAML file only has to
// name what it changes.
func (c *Config) applyDefaults() {
	def := Default()

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = def.Provider.BaseURL
	}
	if c.Provider.KlinesEndpoint == "" {
		c.Provider.KlinesEndpoint = def.Provider.KlinesEndpoint
	}
	if c.Provider.MaxLimit <= 0 {
		c.Provider.MaxLimit = def.Provider.MaxLimit
	}
	if c.Provider.DefaultLimit <= 0 {
		c.Provider.DefaultLimit = def.Provider.DefaultLimit
	}
	if c.Provider.RequestsPerMin <= 0 {
		c.Provider.RequestsPerMin = def.Provider.RequestsPerMin
	}
	if c.Provider.WeightPerMin <= 0 {
		c.Provider.WeightPerMin = def.Provider.WeightPerMin
	}

	if c.Engine.Binary == "" {
		c.Engine.Binary = def.Engine.Binary
	}
	if c.Engine.DockerImage == "" {
		c.Engine.DockerImage = def.Engine.DockerImage
	}
	if c.Engine.ExecutionTimeout <= 0 {
		c.Engine.ExecutionTimeout = def.Engine.ExecutionTimeout
	}
	if c.Engine.DefaultCapital <= 0 {
		c.Engine.DefaultCapital = def.Engine.DefaultCapital
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = def.Storage.DataDir
	}
	if c.Storage.LeanDataDir == "" {
		c.Storage.LeanDataDir = def.Storage.LeanDataDir
	}
	if c.Storage.StrategiesDir == "" {
		c.Storage.StrategiesDir = def.Storage.StrategiesDir
	}
	if c.Storage.ResultsDir == "" {
		c.Storage.ResultsDir = def.Storage.ResultsDir
	}
	if c.Storage.RegistryPath == "" {
		c.Storage.RegistryPath = def.Storage.RegistryPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}

	if v := os.Getenv("LEAN_DOCKER_IMAGE"); v != "" {
		cfg.Engine.DockerImage = v
	}
	if v := os.Getenv("LEAN_EXECUTION_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Engine.ExecutionTimeout = secs
		}
	}
	if v := os.Getenv("LEAN_DEFAULT_CAPITAL"); v != "" {
		if capital, err := strconv.ParseFloat(v, 64); err == nil && capital > 0 {
			cfg.Engine.DefaultCapital = capital
		}
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("REGISTRY_PATH"); v != "" {
		cfg.Storage.RegistryPath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "true", "1", "yes":
		cfg.Logging.Level = "debug"
	}
}
