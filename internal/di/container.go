package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/stoik/email-triage/internal/adapters/storage"
	"github.com/stoik/email-triage/internal/application"
	"github.com/stoik/email-triage/internal/config"
	"github.com/stoik/email-triage/internal/domain/detection"
	"github.com/stoik/email-triage/internal/domain/scoring"
	"github.com/stoik/email-triage/internal/logging"
	"github.com/stoik/email-triage/internal/ports"
	"github.com/stoik/email-triage/internal/tracing"
)

const storeOpenTimeout = 10 * time.Second

// BuildContainer creates and configures a dependency injection container.
// Overrides are applied to the loaded configuration before validation.
func BuildContainer(configPath string, overrides map[string]any) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		cfg, err := config.New(configPath)
		if err != nil {
			return nil, err
		}
		for k, v := range overrides {
			cfg.Set(k, v)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(cfg *config.Config) (*zap.Logger, error) {
		lc := cfg.GetLogging()
		return logging.New(lc.Level, lc.Format)
	}); err != nil {
		return nil, err
	}

	// Register the tracer provider; it becomes the global provider so every span in the engine is recorded
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
		tc := cfg.GetTracing()
		tp, err := tracing.NewProvider(context.Background(), tc)
		if err != nil {
			return nil, err
		}
		tracing.Install(tp)
		logger.Info("Tracing configured",
			zap.Bool("export", tc.Enabled),
			zap.String("endpoint", tc.Endpoint),
			zap.Float64("sample_ratio", tc.SampleRatio),
		)
		return tp, nil
	}); err != nil {
		return nil, err
	}

	// Register metrics
	if err := container.Provide(func() *prometheus.Registry {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		return reg
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(reg *prometheus.Registry) *application.Metrics {
		return application.NewMetrics(reg)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(m *application.Metrics) application.Hooks {
		return m.Hooks()
	}); err != nil {
		return nil, err
	}

	// Register analyzers and the orchestrator that fans out to them.
	// The orchestrator depends on the tracer provider so it is installed before the first span.
	if err := container.Provide(func(cfg *config.Config) (*detection.Registry, error) {
		engine, err := cfg.GetEngine()
		if err != nil {
			return nil, err
		}
		return detection.NewDefaultRegistry(cfg.GetDetection(), engine.SimulatedLatency), nil
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(
		cfg *config.Config,
		reg *detection.Registry,
		logger *zap.Logger,
		hooks application.Hooks,
		_ *sdktrace.TracerProvider,
	) (*application.Orchestrator, error) {
		engine, err := cfg.GetEngine()
		if err != nil {
			return nil, err
		}
		return application.NewOrchestrator(reg, engine.AnalyzerBudget, logger, hooks), nil
	}); err != nil {
		return nil, err
	}

	// Register scorer
	if err := container.Provide(func(cfg *config.Config) (*scoring.Scorer, error) {
		sc := cfg.GetScoring()
		return scoring.NewScorer(sc.Weights, sc.Thresholds)
	}); err != nil {
		return nil, err
	}

	// Register verdict store
	if err := container.Provide(newVerdictStore); err != nil {
		return nil, err
	}

	// Register triage service
	if err := container.Provide(func(
		cfg *config.Config,
		orch *application.Orchestrator,
		scorer *scoring.Scorer,
		store ports.VerdictStore,
		logger *zap.Logger,
		hooks application.Hooks,
	) (*application.TriageService, error) {
		engine, err := cfg.GetEngine()
		if err != nil {
			return nil, err
		}
		return application.NewTriageService(orch, scorer, store, logger, hooks, engine.PersistTimeout), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}

func newVerdictStore(cfg *config.Config, logger *zap.Logger) (ports.VerdictStore, error) {
	sc := cfg.GetStorage()
	if sc.Driver == "memory" {
		logger.Info("Using in-memory verdict store")
		return storage.NewMemoryStore(), nil
	}

	dialect, err := storage.DialectFor(sc.Driver)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	defer cancel()

	store, err := storage.NewSQLStore(ctx, dialect, sc.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("Connected to verdict store", zap.String("dialect", dialect.Name))
	return store, nil
}
