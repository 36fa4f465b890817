package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"minwage/internal/errors"
)

// EnvPrefix prefixes every environment variable, e.g. MINWAGE_STUDY
const EnvPrefix = "MINWAGE"

// Config represents the process configuration read from the environment
type Config struct {
	Study    string         `envconfig:"STUDY" default:"study.yaml"`
	Workers  int            `envconfig:"WORKERS" default:"4"`
	Database DatabaseConfig `envconfig:"DATABASE"`
	Logging  LoggingConfig  `envconfig:"LOG"`
	Output   OutputConfig   `envconfig:"OUTPUT"`
}

// DatabaseConfig holds result repository settings; an empty URL disables
// persistence
type DatabaseConfig struct {
	URL     string `envconfig:"URL"`
	Migrate bool   `envconfig:"MIGRATE" default:"true"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"console"`
}

// OutputConfig holds export settings
type OutputConfig struct {
	Dir    string `envconfig:"DIR" default:"out"`
	Format string `envconfig:"FORMAT" default:"xlsx"`
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), "failed to load config from env")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("%s_WORKERS must be positive, got %d", EnvPrefix, c.Workers))
	}
	switch strings.ToLower(c.Output.Format) {
	case "xlsx", "csv", "none":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown output format %q", c.Output.Format))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}
	return nil
}
