package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/stoik/email-triage/internal/adapters/httpapi"
	"github.com/stoik/email-triage/internal/application"
	"github.com/stoik/email-triage/internal/config"
	"github.com/stoik/email-triage/internal/di"
	"github.com/stoik/email-triage/internal/ports"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to config.yaml in the standard locations)")
	flag.Parse()

	// Build the dependency injection container
	container, err := di.BuildContainer(*configPath, nil)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	reg *prometheus.Registry,
	svc *application.TriageService,
	store ports.VerdictStore,
	tp *sdktrace.TracerProvider,
) error {
	defer logger.Sync()

	serverCfg, err := cfg.GetServer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	httpapi.New(logger, svc, serverCfg.MaxBodyBytes).RegisterRoutes(r)

	var h http.Handler = r
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// health and scrape traffic are not traced
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	srv := &http.Server{
		Addr:         serverCfg.ListenAddress,
		Handler:      h,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting triage server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}

	// Wait for in-flight verdict writes before closing the store
	svc.Drain()
	if err := store.Close(); err != nil {
		logger.Error("Failed to close verdict store", zap.Error(err))
	}

	// Flush spans still buffered by the batch exporter
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down tracer provider", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
