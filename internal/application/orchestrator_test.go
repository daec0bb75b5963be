package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stoik/email-triage/internal/domain"
	"github.com/stoik/email-triage/internal/domain/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAnalyzer returns a fixed score after an optional delay, or fails on demand
type fakeAnalyzer struct {
	tool    domain.ToolName
	score   int
	delay   time.Duration
	err     error
	panics  bool
	release <-chan struct{} // when set, blocks until closed and ignores ctx
}

func (f *fakeAnalyzer) Tool() domain.ToolName { return f.tool }
func (f *fakeAnalyzer) Name() string          { return "fake " + string(f.tool) }

func (f *fakeAnalyzer) Inputs(sub *domain.EmailSubmission) map[string]string {
	return map[string]string{"sender_email": sub.SenderEmail()}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, _ *domain.EmailSubmission) (detection.Finding, error) {
	if f.release != nil {
		<-f.release
		return detection.Finding{Score: 99, Summary: "too late"}, nil
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return detection.Finding{}, ctx.Err()
		}
	}
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return detection.Finding{}, f.err
	}
	return detection.Finding{Score: f.score, Summary: "fake finding"}, nil
}

func fakeRegistry(t *testing.T, analyzers ...*fakeAnalyzer) *detection.Registry {
	t.Helper()
	list := make([]detection.Analyzer, len(analyzers))
	for i, a := range analyzers {
		list[i] = a
	}
	reg, err := detection.NewRegistry(list...)
	require.NoError(t, err)
	return reg
}

func testSubmission(t *testing.T, sender, subject, body string, attachments ...domain.Attachment) *domain.EmailSubmission {
	t.Helper()
	sub, err := domain.NewEmailSubmission(sender, subject, body, attachments)
	require.NoError(t, err)
	return &sub
}

func TestOrchestrator_AllSucceed(t *testing.T) {
	reg := fakeRegistry(t,
		&fakeAnalyzer{tool: domain.ToolDomainReputation, score: 10, delay: 30 * time.Millisecond},
		&fakeAnalyzer{tool: domain.ToolURLForensics, score: 20, delay: 20 * time.Millisecond},
		&fakeAnalyzer{tool: domain.ToolAttachments, score: 30, delay: 10 * time.Millisecond},
		&fakeAnalyzer{tool: domain.ToolSocialEngineering, score: 40},
	)
	orch := NewOrchestrator(reg, time.Second, zap.NewNop(), Hooks{})

	results := orch.Run(context.Background(), testSubmission(t, "a@example.com", "s", "b"))

	require.Len(t, results, 4)
	// Completion order is the reverse of dispatch order; the trace keeps dispatch order
	assert.Equal(t, domain.AllTools(), []domain.ToolName{
		results[0].ToolName, results[1].ToolName, results[2].ToolName, results[3].ToolName,
	})
	for i, want := range []int{10, 20, 30, 40} {
		assert.Equal(t, domain.StatusOK, results[i].Status)
		assert.Equal(t, want, results[i].RiskSubscore)
		assert.Equal(t, "a@example.com", results[i].InputParams["sender_email"])
		assert.False(t, results[i].StartedAt.IsZero())
	}
	assert.GreaterOrEqual(t, results[0].ElapsedMs, int64(30))
}

func TestOrchestrator_FailuresAreContained(t *testing.T) {
	reg := fakeRegistry(t,
		&fakeAnalyzer{tool: domain.ToolDomainReputation, err: errors.New("whois unreachable")},
		&fakeAnalyzer{tool: domain.ToolURLForensics, score: 35},
		&fakeAnalyzer{tool: domain.ToolAttachments, panics: true},
		&fakeAnalyzer{tool: domain.ToolSocialEngineering, score: 60},
	)
	orch := NewOrchestrator(reg, time.Second, zap.NewNop(), Hooks{})

	results := orch.Run(context.Background(), testSubmission(t, "a@example.com", "s", "b"))
	require.Len(t, results, 4)

	domainResult := results[0]
	assert.Equal(t, domain.StatusFailed, domainResult.Status)
	assert.Equal(t, 0, domainResult.RiskSubscore, "domain reputation fails open")
	assert.Contains(t, domainResult.FindingSummary, "analysis failed")
	assert.NotContains(t, domainResult.FindingSummary, "whois", "internal error details stay out of the trace")

	attachmentResult := results[2]
	assert.Equal(t, domain.StatusFailed, attachmentResult.Status)
	assert.Equal(t, 50, attachmentResult.RiskSubscore, "attachment inspection fails closed")

	assert.Equal(t, domain.StatusOK, results[1].Status)
	assert.Equal(t, 35, results[1].RiskSubscore)
	assert.Equal(t, domain.StatusOK, results[3].Status)
	assert.Equal(t, 60, results[3].RiskSubscore)

	_, err := domain.ScoresFromResults(results)
	assert.NoError(t, err)
}

func TestOrchestrator_BatchDeadline(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	reg := fakeRegistry(t,
		&fakeAnalyzer{tool: domain.ToolDomainReputation, score: 80},
		&fakeAnalyzer{tool: domain.ToolURLForensics, delay: 5 * time.Second},
		&fakeAnalyzer{tool: domain.ToolAttachments, release: release},
		&fakeAnalyzer{tool: domain.ToolSocialEngineering, score: 15},
	)
	budget := 50 * time.Millisecond
	orch := NewOrchestrator(reg, budget, zap.NewNop(), Hooks{})

	start := time.Now()
	results := orch.Run(context.Background(), testSubmission(t, "a@example.com", "s", "b"))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "an analyzer ignoring cancellation must not hold the batch")
	require.Len(t, results, 4)

	assert.Equal(t, domain.StatusOK, results[0].Status)
	assert.Equal(t, 80, results[0].RiskSubscore)

	assert.Equal(t, domain.StatusTimedOut, results[1].Status)
	assert.Equal(t, 0, results[1].RiskSubscore)
	assert.Contains(t, results[1].FindingSummary, "timed out")

	assert.Equal(t, domain.StatusTimedOut, results[2].Status)
	assert.Equal(t, 50, results[2].RiskSubscore)
	assert.False(t, results[2].StartedAt.IsZero())

	assert.Equal(t, domain.StatusOK, results[3].Status)
}

func TestOrchestrator_HooksSeeEveryAnalyzer(t *testing.T) {
	var mu sync.Mutex
	seen := map[domain.ToolName]domain.AnalyzerStatus{}
	hooks := Hooks{OnAnalyzer: func(tool domain.ToolName, status domain.AnalyzerStatus, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		seen[tool] = status
	}}

	reg := fakeRegistry(t,
		&fakeAnalyzer{tool: domain.ToolDomainReputation},
		&fakeAnalyzer{tool: domain.ToolURLForensics, delay: time.Second},
		&fakeAnalyzer{tool: domain.ToolAttachments, err: errors.New("x")},
		&fakeAnalyzer{tool: domain.ToolSocialEngineering},
	)
	orch := NewOrchestrator(reg, 30*time.Millisecond, zap.NewNop(), hooks)
	orch.Run(context.Background(), testSubmission(t, "a@example.com", "s", "b"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[domain.ToolName]domain.AnalyzerStatus{
		domain.ToolDomainReputation:  domain.StatusOK,
		domain.ToolURLForensics:      domain.StatusTimedOut,
		domain.ToolAttachments:       domain.StatusFailed,
		domain.ToolSocialEngineering: domain.StatusOK,
	}, seen)
}

func TestOrchestrator_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := NewOrchestrator(detection.NewDefaultRegistry(detection.DefaultDetectionContext(), 0), time.Second, zap.NewNop(), Hooks{})
	results := orch.Run(ctx, testSubmission(t, "a@example.com", "s", "b"))

	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, domain.StatusTimedOut, r.Status, r.ToolName)
		assert.Equal(t, detection.PolicyFor(r.ToolName).Score, r.RiskSubscore)
	}
}
