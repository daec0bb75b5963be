package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/stoik/email-triage/internal/adapters/sources"
	"github.com/stoik/email-triage/internal/application"
	"github.com/stoik/email-triage/internal/di"
	"github.com/stoik/email-triage/internal/domain"
	"github.com/stoik/email-triage/internal/ports"
)

type options struct {
	file    string
	dir     string
	asJSON  bool
	persist bool
}

func main() {
	configPath := flag.String("config", "", "path to a config file")
	var opts options
	flag.StringVar(&opts.file, "file", "", "triage a single RFC 5322 message")
	flag.StringVar(&opts.dir, "dir", "", "triage every .eml file in a directory")
	demo := flag.Bool("demo", false, "triage the built-in demo mailbox (default when no -file or -dir is given)")
	flag.BoolVar(&opts.asJSON, "json", false, "print verdicts as JSON lines")
	flag.BoolVar(&opts.persist, "persist", false, "write verdicts to the configured store instead of memory")
	flag.Parse()

	if opts.file != "" && opts.dir != "" {
		fmt.Fprintln(os.Stderr, "-file and -dir are mutually exclusive")
		os.Exit(2)
	}
	if *demo && (opts.file != "" || opts.dir != "") {
		fmt.Fprintln(os.Stderr, "-demo cannot be combined with -file or -dir")
		os.Exit(2)
	}

	overrides := map[string]any{"logging.format": "console", "logging.level": "warn"}
	if !opts.persist {
		overrides["storage.driver"] = "memory"
	}

	container, err := di.BuildContainer(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(func(logger *zap.Logger, svc *application.TriageService, store ports.VerdictStore,
		tp *sdktrace.TracerProvider) error {
		defer logger.Sync()
		defer tp.Shutdown(context.Background())
		defer store.Close()
		return run(logger, svc, opts)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Triage failed: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *zap.Logger, svc *application.TriageService, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		verdicts []domain.Verdict
		err      error
	)
	switch {
	case opts.file != "":
		sub, perr := sources.ParseFile(opts.file)
		if perr != nil {
			return perr
		}
		var v domain.Verdict
		v, err = svc.Triage(ctx, &sub)
		verdicts = []domain.Verdict{v}
	case opts.dir != "":
		verdicts, err = svc.TriageSource(ctx, sources.NewEMLDirectory(opts.dir, logger))
	default:
		verdicts, err = svc.TriageSource(ctx, sources.NewDemoMailbox(logger))
	}
	if err != nil {
		return err
	}
	svc.Drain()

	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, v := range verdicts {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	}

	for i, v := range verdicts {
		printVerdict(i+1, v)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n=== %d scanned | %d safe | %d suspicious | %d malicious ===\n",
		stats.TotalScans, stats.Safe, stats.Suspicious, stats.Malicious)

	if len(verdicts) == 0 {
		return errors.New("no messages were triaged")
	}
	return nil
}

func printVerdict(n int, v domain.Verdict) {
	fmt.Printf("\n%d. %s | %q\n", n, v.EmailMetadata.SenderEmail, v.EmailMetadata.Subject)
	fmt.Printf("   Verdict: %s -> %s | Risk: %d | Confidence: %d%%\n",
		v.Classification, v.RecommendedAction, v.FinalRiskScore, v.ConfidencePercentage)
	for _, e := range v.ToolExecutionTrace.Entries() {
		fmt.Printf("   - %-26s %3d  %s\n", e.ToolName, e.RiskSubscore, e.FindingSummary)
	}
	fmt.Printf("   %s\n", v.ReasoningSummary)
	if actions := v.ResponseActions(); len(actions) > 0 {
		fmt.Printf("   Response: %v\n", actions)
	}
}
