// Package config loads the daemon's environment configuration and the
// layer configuration file (spec §6).
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// DaemonConfig holds every knob the daemon reads from its environment.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type DaemonConfig struct {
	Socket      string `env:"BUXTON_SOCKET" envDefault:"/run/buxton/socket"`
	RootCheck   bool   `env:"BUXTON_ROOT_CHECK" envDefault:"true"`
	StorageRoot string `env:"BUXTON_STORAGE_ROOT" envDefault:"/var/lib/buxton"`
	LayerConfig string `env:"BUXTON_LAYER_CONFIG" envDefault:"/etc/buxton/layers.conf"`

	MetricsAddr string `env:"BUXTON_METRICS_ADDR" envDefault:":9090"`

	// MaxRSSBytes caps the daemon's resident set size for the admission
	// guard (spec §1 ADD). Zero disables the check.
	MaxRSSBytes uint64 `env:"BUXTON_MAX_RSS_BYTES" envDefault:"0"`

	LogLevel  string `env:"BUXTON_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BUXTON_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: ENV vars > .env file > defaults, matching the
// teacher's LoadConfig.
func Load(logger *zerolog.Logger) (*DaemonConfig, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &DaemonConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func (c *DaemonConfig) Validate() error {
	if c.Socket == "" {
		return fmt.Errorf("BUXTON_SOCKET is required")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("BUXTON_STORAGE_ROOT is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("BUXTON_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("BUXTON_LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}
	return nil
}

// LogFields logs the loaded configuration using structured logging, the
// way the teacher's LogConfig does.
func (c *DaemonConfig) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("socket", c.Socket).
		Bool("root_check", c.RootCheck).
		Str("storage_root", c.StorageRoot).
		Str("layer_config", c.LayerConfig).
		Str("metrics_addr", c.MetricsAddr).
		Uint64("max_rss_bytes", c.MaxRSSBytes).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("daemon configuration loaded")
}
