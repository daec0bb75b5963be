package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stoik/email-triage/internal/domain"
	"github.com/stoik/email-triage/internal/domain/detection"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/stoik/email-triage/internal/application"

// tracer is looked up on every use so spans follow the currently installed provider
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Orchestrator runs every registered analyzer concurrently against one submission
// under a single batch deadline and returns one result per analyzer, in dispatch order.
//
// Analyzers that fail, panic or miss the deadline get their documented fallback
// sub-score and a failed/timed_out status. Abandoned analyzer goroutines are never
// joined: they report into a buffered channel nobody reads once the batch is sealed,
// so they cannot block or touch the returned results.
type Orchestrator struct {
	registry *detection.Registry
	budget   time.Duration
	logger   *zap.Logger
	hooks    Hooks
}

// NewOrchestrator creates an orchestrator with the given batch budget
func NewOrchestrator(registry *detection.Registry, budget time.Duration, logger *zap.Logger, hooks Hooks) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		budget:   budget,
		logger:   logger,
		hooks:    hooks,
	}
}

// Budget returns the batch deadline applied to each run
func (o *Orchestrator) Budget() time.Duration {
	return o.budget
}

type settled struct {
	index  int
	result domain.AnalyzerResult
}

// Run dispatches the submission and blocks until every analyzer settles or the batch deadline passes
func (o *Orchestrator) Run(ctx context.Context, sub *domain.EmailSubmission) []domain.AnalyzerResult {
	ctx, span := tracer().Start(ctx, "triage.orchestrate", trace.WithAttributes(
		attribute.Int64("triage.budget_ms", o.budget.Milliseconds()),
		attribute.Int("triage.analyzers", o.registry.Len()),
	))
	defer span.End()

	batchCtx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	analyzers := o.registry.Analyzers()
	results := make([]domain.AnalyzerResult, len(analyzers))
	filled := make([]bool, len(analyzers))
	done := make(chan settled, len(analyzers))

	dispatchedAt := time.Now()
	for i, a := range analyzers {
		results[i] = domain.AnalyzerResult{
			ToolName:    a.Tool(),
			StartedAt:   dispatchedAt.UTC(),
			InputParams: safeInputs(a, sub),
		}
		go o.invoke(batchCtx, i, a, sub, results[i], done)
	}

	remaining := len(analyzers)
collect:
	for remaining > 0 {
		select {
		case s := <-done:
			results[s.index] = s.result
			filled[s.index] = true
			remaining--
		case <-batchCtx.Done():
			break collect
		}
	}

	// Results that raced the deadline into the channel still count
	for remaining > 0 {
		select {
		case s := <-done:
			results[s.index] = s.result
			filled[s.index] = true
			remaining--
			continue
		default:
		}
		break
	}

	elapsed := time.Since(dispatchedAt)
	for i, ok := range filled {
		if ok {
			o.hooks.analyzer(results[i].ToolName, results[i].Status, time.Duration(results[i].ElapsedMs)*time.Millisecond)
			continue
		}
		results[i] = o.degrade(results[i], domain.StatusTimedOut)
		results[i].ElapsedMs = elapsed.Milliseconds()

		o.logger.Warn("analyzer timed out",
			zap.String("tool", string(results[i].ToolName)),
			zap.Duration("budget", o.budget),
			zap.String("fallback", string(detection.PolicyFor(results[i].ToolName).Mode)),
		)
		o.hooks.analyzer(results[i].ToolName, domain.StatusTimedOut, elapsed)
	}

	span.SetAttributes(attribute.Int("triage.degraded", len(domain.NewTrace(results).Degraded())))
	return results
}

// invoke runs one analyzer and always reports exactly one result on done
func (o *Orchestrator) invoke(ctx context.Context, index int, a detection.Analyzer, sub *domain.EmailSubmission,
	result domain.AnalyzerResult, done chan<- settled) {
	ctx, span := tracer().Start(ctx, "analyzer."+string(a.Tool()), trace.WithAttributes(
		attribute.String("analyzer.tool", string(a.Tool())),
		attribute.String("analyzer.name", a.Name()),
	))

	started := time.Now()
	result.StartedAt = started.UTC()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("analyzer panicked",
				zap.String("tool", string(a.Tool())),
				zap.Any("panic", r),
			)
			span.SetStatus(codes.Error, "panic")
			result = o.degrade(result, domain.StatusFailed)
		}
		result.ElapsedMs = time.Since(started).Milliseconds()
		span.SetAttributes(
			attribute.String("analyzer.status", string(result.Status)),
			attribute.Int("analyzer.score", result.RiskSubscore),
		)
		// the span ends before the result is handed over so it is complete once Run returns
		span.End()
		done <- settled{index: index, result: result}
	}()

	finding, err := a.Analyze(ctx, sub)
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		// The batch loop records the timeout once the deadline fires
		result = o.degrade(result, domain.StatusTimedOut)
	case err != nil:
		o.logger.Warn("analyzer failed",
			zap.String("tool", string(a.Tool())),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result = o.degrade(result, domain.StatusFailed)
	default:
		result.Status = domain.StatusOK
		result.RiskSubscore = domain.ClampScore(finding.Score)
		result.FindingSummary = finding.Summary
		if result.FindingSummary == "" {
			result.FindingSummary = "no findings"
		}
	}
}

// degrade substitutes the fallback sub-score. Failure details stay in the logs;
// the trace carries a generic finding.
func (o *Orchestrator) degrade(result domain.AnalyzerResult, status domain.AnalyzerStatus) domain.AnalyzerResult {
	policy := detection.PolicyFor(result.ToolName)
	result.Status = status
	result.RiskSubscore = policy.Score
	if status == domain.StatusTimedOut {
		result.FindingSummary = fmt.Sprintf("analysis timed out after %s", o.budget)
	} else {
		result.FindingSummary = fmt.Sprintf("analysis failed: %s raised an internal error", result.ToolName)
	}
	return result
}

func safeInputs(a detection.Analyzer, sub *domain.EmailSubmission) (inputs map[string]string) {
	defer func() {
		if recover() != nil {
			inputs = nil
		}
	}()
	return a.Inputs(sub)
}
