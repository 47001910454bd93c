// Package config loads the converter's settings from the environment.
//
// Every setting has a default, so the converter runs without any
// configuration. Variables use the SEGPORT_ prefix (SEGPORT_MODEL_ID,
// SEGPORT_OUTPUT_PATH, ...). The Hub token and endpoint also honor the
// standard HF_TOKEN and HF_ENDPOINT variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/born-ml/segport/internal/hub"
	"github.com/born-ml/segport/internal/report"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SEGPORT"

// Defaults.
const (
	DefaultModelID      = "leftattention/segformer-b4-wall"
	DefaultOutputPath   = "segformer-b4-wall.onnx"
	DefaultFetchTimeout = 10 * time.Minute
	DefaultSeed         = 0
	DefaultLanguage     = "en"
	DefaultLogLevel     = "info"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all settings of a run.
type Config struct {
	ModelID      string
	Revision     string
	OutputPath   string
	Hub          HubConfig
	FetchTimeout time.Duration
	Seed         uint64
	Language     string
	Log          LogConfig
}

// HubConfig configures access to the model repository.
type HubConfig struct {
	Endpoint string
	Token    string
	CacheDir string
}

// LogConfig configures logging.
type LogConfig struct {
	Level string
	File  string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)

	// Defaults
	v.SetDefault("MODEL_ID", DefaultModelID)
	v.SetDefault("REVISION", hub.DefaultRevision)
	v.SetDefault("OUTPUT_PATH", DefaultOutputPath)
	v.SetDefault("HUB_ENDPOINT", hub.DefaultEndpoint)
	v.SetDefault("HUB_TOKEN", "")
	v.SetDefault("CACHE_DIR", defaultCacheDir())
	v.SetDefault("FETCH_TIMEOUT", DefaultFetchTimeout.String())
	v.SetDefault("SEED", DefaultSeed)
	v.SetDefault("LANGUAGE", DefaultLanguage)
	v.SetDefault("LOG_LEVEL", DefaultLogLevel)
	v.SetDefault("LOG_FILE", "")

	// Env
	v.AutomaticEnv()
	if err := v.BindEnv("HUB_TOKEN", EnvPrefix+"_HUB_TOKEN", "HF_TOKEN"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("HUB_ENDPOINT", EnvPrefix+"_HUB_ENDPOINT", "HF_ENDPOINT"); err != nil {
		return nil, err
	}

	timeout, err := time.ParseDuration(v.GetString("FETCH_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s_FETCH_TIMEOUT: %w", ErrInvalidConfig, EnvPrefix, err)
	}

	cfg := &Config{
		ModelID:    v.GetString("MODEL_ID"),
		Revision:   v.GetString("REVISION"),
		OutputPath: v.GetString("OUTPUT_PATH"),
		Hub: HubConfig{
			Endpoint: v.GetString("HUB_ENDPOINT"),
			Token:    v.GetString("HUB_TOKEN"),
			CacheDir: v.GetString("CACHE_DIR"),
		},
		FetchTimeout: timeout,
		Seed:         v.GetUint64("SEED"),
		Language:     v.GetString("LANGUAGE"),
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		ModelID:      DefaultModelID,
		Revision:     hub.DefaultRevision,
		OutputPath:   DefaultOutputPath,
		Hub:          HubConfig{Endpoint: hub.DefaultEndpoint, CacheDir: defaultCacheDir()},
		FetchTimeout: DefaultFetchTimeout,
		Seed:         DefaultSeed,
		Language:     DefaultLanguage,
		Log:          LogConfig{Level: DefaultLogLevel},
	}
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	if err := hub.ValidateRepoID(c.ModelID); err != nil {
		return fmt.Errorf("%w: model id: %w", ErrInvalidConfig, err)
	}
	if c.Revision == "" {
		return fmt.Errorf("%w: revision is empty", ErrInvalidConfig)
	}
	if c.OutputPath == "" {
		return fmt.Errorf("%w: output path is empty", ErrInvalidConfig)
	}
	if c.Hub.Endpoint == "" {
		return fmt.Errorf("%w: hub endpoint is empty", ErrInvalidConfig)
	}
	if c.Hub.CacheDir == "" {
		return fmt.Errorf("%w: cache directory is empty", ErrInvalidConfig)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%w: fetch timeout must be positive, got %s", ErrInvalidConfig, c.FetchTimeout)
	}
	if _, err := report.ParseLanguage(c.Language); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return level, nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "segport", "hub")
	}
	return filepath.Join(".cache", "segport", "hub")
}
