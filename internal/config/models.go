package config

import (
	"time"

	"github.com/stoik/email-triage/internal/domain/detection"
	"github.com/stoik/email-triage/internal/domain/scoring"
	"github.com/stoik/email-triage/internal/tracing"
)

// EngineConfig represents the orchestration settings
type EngineConfig struct {
	AnalyzerBudget   time.Duration
	SimulatedLatency time.Duration
	PersistTimeout   time.Duration
}

// ScoringConfig represents the aggregation weights and classification thresholds
type ScoringConfig struct {
	Weights    scoring.Weights
	Thresholds scoring.Thresholds
}

// StorageConfig represents the verdict store settings
type StorageConfig struct {
	Driver string
	DSN    string
}

// ServerConfig represents the HTTP server settings
type ServerConfig struct {
	ListenAddress   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// LoggingConfig represents the logger settings
type LoggingConfig struct {
	Level  string
	Format string
}

// GetEngine returns the engine configuration
func (c *Config) GetEngine() (EngineConfig, error) {
	var cfg EngineConfig
	var err error
	if cfg.AnalyzerBudget, err = c.GetDuration("engine.analyzer_budget"); err != nil {
		return EngineConfig{}, err
	}
	if cfg.SimulatedLatency, err = c.GetDuration("engine.simulated_latency"); err != nil {
		return EngineConfig{}, err
	}
	if cfg.PersistTimeout, err = c.GetDuration("engine.persist_timeout"); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// GetScoring returns the scoring configuration
func (c *Config) GetScoring() ScoringConfig {
	return ScoringConfig{
		Weights: scoring.Weights{
			Attachment:        c.GetInt("scoring.weights.attachment"),
			Domain:            c.GetInt("scoring.weights.domain"),
			URL:               c.GetInt("scoring.weights.url"),
			SocialEngineering: c.GetInt("scoring.weights.social_engineering"),
		},
		Thresholds: scoring.Thresholds{
			Suspicious: c.GetInt("scoring.thresholds.suspicious"),
			Malicious:  c.GetInt("scoring.thresholds.malicious"),
			Alert:      c.GetInt("scoring.thresholds.alert"),
			Critical:   c.GetInt("scoring.thresholds.critical"),
		},
	}
}

// GetDetection returns the analyzer reference lists. Lists left empty keep the built-in defaults.
func (c *Config) GetDetection() *detection.DetectionContext {
	dctx := detection.DefaultDetectionContext()
	if v := c.GetStringSlice("detection.internal_domains"); len(v) > 0 {
		dctx.InternalDomains = v
	}
	if v := c.GetStringSlice("detection.brand_domains"); len(v) > 0 {
		dctx.BrandDomains = v
	}
	if v := c.GetStringSlice("detection.blocked_domains"); len(v) > 0 {
		dctx.BlockedDomains = v
	}
	if v := c.GetStringSlice("detection.free_mail_domains"); len(v) > 0 {
		dctx.FreeMailDomains = v
	}
	return dctx
}

// GetStorage returns the storage configuration
func (c *Config) GetStorage() StorageConfig {
	return StorageConfig{
		Driver: c.GetString("storage.driver"),
		DSN:    c.GetString("storage.dsn"),
	}
}

// GetServer returns the HTTP server configuration
func (c *Config) GetServer() (ServerConfig, error) {
	cfg := ServerConfig{
		ListenAddress: c.GetString("server.listen_address"),
		MaxBodyBytes:  int64(c.GetInt("server.max_body_bytes")),
	}
	var err error
	if cfg.ReadTimeout, err = c.GetDuration("server.read_timeout"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.WriteTimeout, err = c.GetDuration("server.write_timeout"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.ShutdownTimeout, err = c.GetDuration("server.shutdown_timeout"); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// GetLogging returns the logging configuration
func (c *Config) GetLogging() LoggingConfig {
	return LoggingConfig{
		Level:  c.GetString("logging.level"),
		Format: c.GetString("logging.format"),
	}
}

// GetTracing returns the span export configuration
func (c *Config) GetTracing() tracing.Config {
	return tracing.Config{
		Enabled:     c.GetBool("tracing.enabled"),
		Endpoint:    c.GetString("tracing.endpoint"),
		Insecure:    c.GetBool("tracing.insecure"),
		ServiceName: c.GetString("tracing.service_name"),
		SampleRatio: c.GetFloat64("tracing.sample_ratio"),
	}
}
