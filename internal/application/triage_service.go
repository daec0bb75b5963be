package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/email-triage/internal/domain"
	"github.com/stoik/email-triage/internal/domain/scoring"
	"github.com/stoik/email-triage/internal/ports"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TriageService turns one submission into one verdict and keeps the verdict history
type TriageService struct {
	orchestrator *Orchestrator
	scorer       *scoring.Scorer
	store        ports.VerdictStore
	logger       *zap.Logger
	hooks        Hooks

	// Persistence runs after the verdict is returned; pending tracks in-flight writes for Drain
	persistTimeout time.Duration
	pending        sync.WaitGroup
}

// NewTriageService creates a triage service with dependency injection.
// A nil store disables history.
func NewTriageService(
	orchestrator *Orchestrator,
	scorer *scoring.Scorer,
	store ports.VerdictStore,
	logger *zap.Logger,
	hooks Hooks,
	persistTimeout time.Duration,
) *TriageService {
	return &TriageService{
		orchestrator:   orchestrator,
		scorer:         scorer,
		store:          store,
		logger:         logger,
		hooks:          hooks,
		persistTimeout: persistTimeout,
	}
}

// Triage runs every analyzer against the submission and aggregates the results into a verdict.
//
// Analyzer failures and timeouts never surface as errors: they degrade the matching trace entry.
// A submission missing its required fields is rejected with a *domain.ValidationError before any
// analyzer runs; the only other error is an internal inconsistency in the collected results.
// Persisting the verdict is best-effort and never delays or fails the response.
func (s *TriageService) Triage(ctx context.Context, sub *domain.EmailSubmission) (domain.Verdict, error) {
	if err := sub.Validate(); err != nil {
		return domain.Verdict{}, err
	}

	ctx, span := tracer().Start(ctx, "triage.verdict")
	defer span.End()

	started := time.Now()
	scanID := uuid.New()

	results := s.orchestrator.Run(ctx, sub)
	scores, err := domain.ScoresFromResults(results)
	if err != nil {
		span.RecordError(err)
		return domain.Verdict{}, fmt.Errorf("aggregate scan %s: %w", scanID, err)
	}

	assessment := s.scorer.Evaluate(scores)
	verdict := domain.Verdict{
		ScanID:               scanID,
		EmailMetadata:        sub.Metadata(),
		ToolExecutionTrace:   domain.NewTrace(results),
		AggregatedScores:     assessment.Scores,
		FinalRiskScore:       assessment.FinalRiskScore,
		Classification:       assessment.Classification,
		RecommendedAction:    assessment.Action,
		ReasoningSummary:     assessment.Reasoning,
		ConfidencePercentage: assessment.Confidence,
		Escalated:            assessment.Escalated,
		AnalyzedAt:           time.Now().UTC(),
	}

	span.SetAttributes(
		attribute.String("triage.scan_id", scanID.String()),
		attribute.String("triage.classification", string(verdict.Classification)),
		attribute.Int("triage.final_risk_score", verdict.FinalRiskScore),
		attribute.Int("triage.confidence", verdict.ConfidencePercentage),
		attribute.Bool("triage.escalated", verdict.Escalated),
	)

	fields := []zap.Field{
		zap.String("scan_id", scanID.String()),
		zap.String("sender", sub.SenderEmail()),
		zap.String("classification", string(verdict.Classification)),
		zap.Int("final_risk_score", verdict.FinalRiskScore),
		zap.Int("confidence", verdict.ConfidencePercentage),
		zap.Duration("elapsed", time.Since(started)),
	}
	if degraded := verdict.ToolExecutionTrace.Degraded(); len(degraded) > 0 {
		fields = append(fields, zap.Any("degraded", degraded))
	}
	if verdict.Classification == domain.ClassificationSafe {
		s.logger.Info("triage completed", fields...)
	} else {
		s.logger.Warn("threat detected", append(fields,
			zap.String("action", string(verdict.RecommendedAction)),
			zap.Any("response_actions", verdict.ResponseActions()),
		)...)
	}
	s.hooks.verdict(verdict.Classification, verdict.Degraded(), time.Since(started))

	s.persist(ctx, verdict)
	return verdict, nil
}

// persist writes the verdict in the background. The write outlives the request context
// but is bounded by persistTimeout.
func (s *TriageService) persist(ctx context.Context, verdict domain.Verdict) {
	if s.store == nil {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
		defer cancel()

		if err := s.store.SaveVerdict(writeCtx, &verdict); err != nil {
			s.logger.Error("failed to persist verdict",
				zap.String("scan_id", verdict.ScanID.String()),
				zap.Error(err),
			)
			s.hooks.persistError()
		}
	}()
}

// Drain blocks until in-flight verdict writes finish
func (s *TriageService) Drain() {
	s.pending.Wait()
}

// TriageSource fetches every submission from a source and triages them in order.
// A message whose Message-ID already has a verdict in the history, or appeared earlier in the
// same batch, is skipped. A failing submission is logged and skipped so the rest of the batch still runs.
func (s *TriageService) TriageSource(ctx context.Context, source ports.SubmissionSource) ([]domain.Verdict, error) {
	subs, err := source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions from %s: %w", source.Name(), err)
	}

	s.logger.Info("triaging submissions",
		zap.String("source", source.Name()),
		zap.Int("count", len(subs)),
	)

	seen := make(map[string]struct{})
	verdicts := make([]domain.Verdict, 0, len(subs))
	for i := range subs {
		if err := ctx.Err(); err != nil {
			return verdicts, err
		}
		if s.alreadyTriaged(ctx, &subs[i], seen) {
			continue
		}
		verdict, err := s.Triage(ctx, &subs[i])
		if err != nil {
			s.logger.Error("triage failed",
				zap.String("source", source.Name()),
				zap.String("sender", subs[i].SenderEmail()),
				zap.Error(err),
			)
			continue
		}
		verdicts = append(verdicts, verdict)
	}
	return verdicts, nil
}

// alreadyTriaged reports whether the submission's Message-ID was triaged before.
// Messages without a Message-ID are always triaged. A history lookup error is logged
// and the message is triaged again.
func (s *TriageService) alreadyTriaged(ctx context.Context, sub *domain.EmailSubmission, seen map[string]struct{}) bool {
	id := sub.MessageID()
	if id == "" {
		return false
	}
	if _, ok := seen[id]; ok {
		s.logger.Info("skipping duplicate message", zap.String("message_id", id))
		return true
	}
	seen[id] = struct{}{}

	if s.store == nil {
		return false
	}
	existing, err := s.store.FindByMessageID(ctx, id)
	if err != nil {
		s.logger.Warn("failed to look up message history", zap.String("message_id", id), zap.Error(err))
		return false
	}
	if existing != nil {
		s.logger.Info("skipping already triaged message",
			zap.String("message_id", id),
			zap.String("scan_id", existing.ScanID.String()),
		)
		return true
	}
	return false
}

// Get returns a stored verdict, or nil if the scan ID is unknown
func (s *TriageService) Get(ctx context.Context, scanID uuid.UUID) (*domain.Verdict, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.GetVerdict(ctx, scanID)
}

// Recent returns the latest verdicts, most recent first
func (s *TriageService) Recent(ctx context.Context, limit int) ([]domain.Verdict, error) {
	if s.store == nil {
		return []domain.Verdict{}, nil
	}
	return s.store.ListRecent(ctx, limit)
}

// HighRisk returns the latest suspicious and malicious verdicts
func (s *TriageService) HighRisk(ctx context.Context, limit int) ([]domain.Verdict, error) {
	if s.store == nil {
		return []domain.Verdict{}, nil
	}
	return s.store.ListHighRisk(ctx, limit)
}

// Stats returns dashboard counts derived from the stored history
func (s *TriageService) Stats(ctx context.Context) (domain.ScanStats, error) {
	if s.store == nil {
		return domain.ScanStats{}, nil
	}
	return s.store.Stats(ctx)
}
