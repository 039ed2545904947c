package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/trialgate/trialgate/internal/catalyst"
	"github.com/trialgate/trialgate/internal/docs"
	"github.com/trialgate/trialgate/internal/registry"
	"github.com/trialgate/trialgate/internal/resolver"
)

// Environment variable names. The database DSN is the only hard requirement;
// everything else has a default or degrades a feature.
const (
	EnvDatabaseDSN  = "TRIALGATE_DATABASE_DSN"
	EnvRegistryURL  = "TRIALGATE_REGISTRY_URL"
	EnvExtractorKey = "TRIALGATE_EXTRACTOR_KEY"
	EnvLLMKey       = "TRIALGATE_LLM_KEY"
	EnvRedisAddr    = "TRIALGATE_REDIS_ADDR"
)

// Config is the application configuration loaded from YAML plus environment.
type Config struct {
	Registry registry.Config     `yaml:"registry"`
	Resolver resolver.Config     `yaml:"resolver"`
	Catalyst CatalystConfig      `yaml:"catalyst"`
	Linker   docs.LinkerConfig   `yaml:"linker"`
	Promoter docs.PromoterConfig `yaml:"promoter"`
	Storage  StorageConfig       `yaml:"storage"`
	Pipeline PipelineConfig      `yaml:"pipeline"`
	Monitor  MonitorConfig       `yaml:"monitor"`

	// From environment only, never YAML.
	DatabaseDSN  string `yaml:"-"`
	ExtractorKey string `yaml:"-"`
	LLMKey       string `yaml:"-"`
	RedisAddr    string `yaml:"-"`
}

// CatalystConfig carries the conference calendar and slip model knobs.
type CatalystConfig struct {
	Conferences map[string]catalyst.ConferenceWindow `yaml:"conferences"`
}

// StorageConfig locates the document blob store. Document commands refuse
// to run with an empty root.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// PipelineConfig bounds batch runs.
type PipelineConfig struct {
	IngestPageSize  int           `yaml:"ingest_page_size"`
	ResolveBatch    int           `yaml:"resolve_batch"`
	ScoreBatch      int           `yaml:"score_batch"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MonitorConfig is the ops HTTP listener.
type MonitorConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Registry: registry.DefaultConfig(),
		Resolver: resolver.DefaultConfig(),
		Catalyst: CatalystConfig{Conferences: catalyst.DefaultConferences()},
		Linker:   docs.DefaultLinkerConfig(),
		Promoter: docs.DefaultPromoterConfig(),
		Pipeline: PipelineConfig{
			IngestPageSize:  100,
			ResolveBatch:    200,
			ScoreBatch:      50,
			ShutdownTimeout: 30 * time.Second,
		},
		Monitor: MonitorConfig{Addr: ":9187"},
	}
}

// Load reads the YAML file over defaults, then overlays environment. A .env
// file next to the binary is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg.DatabaseDSN = os.Getenv(EnvDatabaseDSN)
	cfg.ExtractorKey = os.Getenv(EnvExtractorKey)
	cfg.LLMKey = os.Getenv(EnvLLMKey)
	cfg.RedisAddr = os.Getenv(EnvRedisAddr)
	if u := os.Getenv(EnvRegistryURL); u != "" {
		cfg.Registry.BaseURL = u
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("%s is required", EnvDatabaseDSN)
	}
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver config: %w", err)
	}
	if c.Pipeline.IngestPageSize <= 0 || c.Pipeline.IngestPageSize > 1000 {
		return fmt.Errorf("ingest_page_size %d outside (0, 1000]", c.Pipeline.IngestPageSize)
	}
	if c.Promoter.MinPrecision <= 0 || c.Promoter.MinPrecision > 1 {
		return fmt.Errorf("promoter min_precision %.2f outside (0, 1]", c.Promoter.MinPrecision)
	}
	return nil
}
