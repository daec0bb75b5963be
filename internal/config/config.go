package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New loads configuration from defaults, an optional config.yaml and TRIAGE_* environment variables.
// A non-empty path loads that file instead of searching the default locations.
func New(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/email-triage/")
		v.AddConfigPath("$HOME/.email-triage")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper wraps an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a Viper instance holding only the defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.analyzer_budget", "5s")
	v.SetDefault("engine.simulated_latency", "0s")
	v.SetDefault("engine.persist_timeout", "3s")

	// Scoring defaults: illustrative, not calibrated against threat data
	v.SetDefault("scoring.weights.attachment", 35)
	v.SetDefault("scoring.weights.domain", 30)
	v.SetDefault("scoring.weights.url", 20)
	v.SetDefault("scoring.weights.social_engineering", 15)
	v.SetDefault("scoring.thresholds.suspicious", 30)
	v.SetDefault("scoring.thresholds.malicious", 70)
	v.SetDefault("scoring.thresholds.alert", 60)
	v.SetDefault("scoring.thresholds.critical", 85)

	// Detection reference lists; empty lists fall back to the built-in defaults
	v.SetDefault("detection.internal_domains", []string{"company.com"})
	v.SetDefault("detection.brand_domains", []string{})
	v.SetDefault("detection.blocked_domains", []string{})
	v.SetDefault("detection.free_mail_domains", []string{})

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "file:email_triage.db?_pragma=busy_timeout(5000)")

	// Server defaults
	v.SetDefault("server.listen_address", "0.0.0.0:8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_body_bytes", 10<<20)

	// Tracing defaults: spans are recorded, export is opt-in
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "email-triage")
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Set overrides a key, e.g. from a command-line flag
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetFloat64 gets a float value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []error

	engine, err := c.GetEngine()
	if err != nil {
		errs = append(errs, err)
	} else {
		if engine.AnalyzerBudget <= 0 {
			errs = append(errs, errors.New("engine.analyzer_budget must be positive"))
		}
		if engine.PersistTimeout <= 0 {
			errs = append(errs, errors.New("engine.persist_timeout must be positive"))
		}
		if engine.SimulatedLatency < 0 {
			errs = append(errs, errors.New("engine.simulated_latency must not be negative"))
		}
	}

	if _, err := c.GetServer(); err != nil {
		errs = append(errs, err)
	}

	storage := c.GetStorage()
	switch storage.Driver {
	case "memory", "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be one of memory, sqlite, postgres, mysql", storage.Driver))
	}
	if storage.Driver != "memory" && storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required"))
	}

	switch c.GetLogging().Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.GetLogging().Format))
	}

	tc := c.GetTracing()
	if tc.SampleRatio < 0 || tc.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %v must be between 0 and 1", tc.SampleRatio))
	}
	if tc.Enabled && tc.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}

	// Weight and threshold invariants are checked by scoring.NewScorer
	return errors.Join(errs...)
}
