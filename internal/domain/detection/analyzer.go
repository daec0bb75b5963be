package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/stoik/email-triage/internal/domain"
)

// Analyzer inspects one facet of a submission and produces a bounded risk sub-score.
//
// Implementations must treat the submission as read-only and must honor ctx:
// the orchestrator abandons an analyzer once the batch deadline passes.
// Returned errors and panics are converted to a failed trace entry by the orchestrator.
type Analyzer interface {
	// Tool returns the analyzer kind, which fixes its slot in the aggregated scores
	Tool() domain.ToolName

	// Name returns the human-readable name of this analyzer
	Name() string

	// Inputs returns the parameters recorded in the execution trace for this invocation
	Inputs(sub *domain.EmailSubmission) map[string]string

	// Analyze computes the sub-score and a short finding
	Analyze(ctx context.Context, sub *domain.EmailSubmission) (Finding, error)
}

// Finding is what an analyzer reports on success
type Finding struct {
	Score   int
	Summary string
}

// FailureMode tells whether an analyzer that cannot complete biases toward risk or not
type FailureMode string

const (
	FailOpen   FailureMode = "fail-open"
	FailClosed FailureMode = "fail-closed"
)

// FallbackPolicy is the sub-score substituted when an analyzer fails or times out
type FallbackPolicy struct {
	Mode  FailureMode
	Score int
}

// PolicyFor returns the documented fallback for an analyzer kind.
// Attachment inspection fails closed at a moderate score; the other analyzers fail open at 0.
// The trace status keeps a fallback distinguishable from a real finding.
func PolicyFor(tool domain.ToolName) FallbackPolicy {
	if tool == domain.ToolAttachments {
		return FallbackPolicy{Mode: FailClosed, Score: 50}
	}
	return FallbackPolicy{Mode: FailOpen, Score: 0}
}

// Registry is the fixed, ordered set of analyzers run for every submission.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	analyzers []Analyzer
}

// NewRegistry builds a registry in the given dispatch order.
// Every analyzer kind must be present exactly once.
func NewRegistry(analyzers ...Analyzer) (*Registry, error) {
	seen := make(map[domain.ToolName]bool, len(analyzers))
	for _, a := range analyzers {
		tool := a.Tool()
		if !tool.Valid() {
			return nil, fmt.Errorf("analyzer %q has unknown kind %q", a.Name(), tool)
		}
		if seen[tool] {
			return nil, fmt.Errorf("analyzer kind %q registered twice", tool)
		}
		seen[tool] = true
	}
	for _, tool := range domain.AllTools() {
		if !seen[tool] {
			return nil, fmt.Errorf("no analyzer registered for %q", tool)
		}
	}
	return &Registry{analyzers: append([]Analyzer(nil), analyzers...)}, nil
}

// NewDefaultRegistry wires the four standard analyzers in dispatch order.
// A non-zero latency delays each analyzer to simulate external lookups.
func NewDefaultRegistry(dctx *DetectionContext, latency time.Duration) *Registry {
	analyzers := []Analyzer{
		NewDomainReputationAnalyzer(dctx),
		NewURLForensicsAnalyzer(),
		NewAttachmentInspector(),
		NewSocialEngineeringDetector(),
	}
	if latency > 0 {
		for i, a := range analyzers {
			analyzers[i] = WithLatency(a, latency)
		}
	}
	return &Registry{analyzers: analyzers}
}

// Analyzers returns the analyzers in dispatch order
func (r *Registry) Analyzers() []Analyzer {
	return append([]Analyzer(nil), r.analyzers...)
}

// Len returns the number of registered analyzers
func (r *Registry) Len() int {
	return len(r.analyzers)
}

// DetectionContext provides the reference lists analyzers match senders against
type DetectionContext struct {
	// InternalDomains are the organization's own domains (e.g., "company.com")
	InternalDomains []string

	// BrandDomains are frequently impersonated external domains, used for typosquatting detection
	BrandDomains []string

	// BlockedDomains are known-bad sender domains
	BlockedDomains []string

	// FreeMailDomains are consumer webmail providers
	FreeMailDomains []string
}

// DefaultDetectionContext returns the built-in reference lists
func DefaultDetectionContext() *DetectionContext {
	return &DetectionContext{
		InternalDomains: []string{"company.com"},
		BrandDomains: []string{
			"google.com", "microsoft.com", "paypal.com", "apple.com", "amazon.com",
			"facebook.com", "linkedin.com", "netflix.com", "dropbox.com", "adobe.com",
			"salesforce.com", "docusign.com",
		},
		BlockedDomains: []string{
			"evilcorp.com", "phishing-test.tk", "malware-download.ml", "scam-alert.buzz",
		},
		FreeMailDomains: []string{
			"gmail.com", "yahoo.com", "hotmail.com", "outlook.com", "aol.com",
			"icloud.com", "proton.me", "protonmail.com", "gmx.com", "mail.com",
		},
	}
}

type delayedAnalyzer struct {
	Analyzer
	latency time.Duration
}

// WithLatency wraps an analyzer so each call waits for latency first, as a remote lookup would.
// The wait is abandoned when ctx is done.
func WithLatency(a Analyzer, latency time.Duration) Analyzer {
	return &delayedAnalyzer{Analyzer: a, latency: latency}
}

func (d *delayedAnalyzer) Analyze(ctx context.Context, sub *domain.EmailSubmission) (Finding, error) {
	timer := time.NewTimer(d.latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Finding{}, ctx.Err()
	case <-timer.C:
	}
	return d.Analyzer.Analyze(ctx, sub)
}
