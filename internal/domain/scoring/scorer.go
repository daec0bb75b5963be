package scoring

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stoik/email-triage/internal/domain"
)

// Weights are the per-category weights in percentage points. They must sum to exactly 100,
// which keeps aggregation in integer arithmetic.
type Weights struct {
	Attachment        int
	Domain            int
	URL               int
	SocialEngineering int
}

// DefaultWeights returns 0.35 / 0.30 / 0.20 / 0.15
func DefaultWeights() Weights {
	return Weights{Attachment: 35, Domain: 30, URL: 20, SocialEngineering: 15}
}

func (w Weights) get(tool domain.ToolName) int {
	switch tool {
	case domain.ToolAttachments:
		return w.Attachment
	case domain.ToolDomainReputation:
		return w.Domain
	case domain.ToolURLForensics:
		return w.URL
	case domain.ToolSocialEngineering:
		return w.SocialEngineering
	}
	return 0
}

// Thresholds configure classification.
//
// Suspicious and Malicious are the lower (inclusive) bounds of their buckets.
// A sub-score strictly above Alert is called out in the reasoning summary.
// A sub-score at or above Critical escalates the classification on its own.
type Thresholds struct {
	Suspicious int
	Malicious  int
	Alert      int
	Critical   int
}

// DefaultThresholds returns the 30/70 cutoffs with alert at 60 and critical at 85
func DefaultThresholds() Thresholds {
	return Thresholds{Suspicious: 30, Malicious: 70, Alert: 60, Critical: 85}
}

// Assessment is everything the scorer derives from one AggregatedScores
type Assessment struct {
	Scores         domain.AggregatedScores
	FinalRiskScore int
	Classification domain.Classification
	Action         domain.Action
	Reasoning      string
	Confidence     int
	Escalated      bool
}

// Scorer is the single authoritative aggregation and classification implementation.
// It holds no mutable state; every method is a pure function of its arguments.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewScorer validates the configuration. Any violation wraps domain.ErrInvalidScoringConfig.
func NewScorer(w Weights, t Thresholds) (*Scorer, error) {
	if err := validate(w, t); err != nil {
		return nil, err
	}
	return &Scorer{weights: w, thresholds: t}, nil
}

// MustDefault returns a scorer with the default configuration
func MustDefault() *Scorer {
	s, err := NewScorer(DefaultWeights(), DefaultThresholds())
	if err != nil {
		panic(err)
	}
	return s
}

func validate(w Weights, t Thresholds) error {
	var errs []error
	sum := 0
	for _, tool := range domain.AllTools() {
		v := w.get(tool)
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%w: weight for %s is %d, want 0..100", domain.ErrInvalidScoringConfig, tool, v))
		}
		sum += v
	}
	if sum != 100 {
		errs = append(errs, fmt.Errorf("%w: weights sum to %d%%, want exactly 100%%", domain.ErrInvalidScoringConfig, sum))
	}
	if t.Suspicious <= 0 || t.Malicious <= t.Suspicious || t.Malicious > 100 {
		errs = append(errs, fmt.Errorf("%w: thresholds must satisfy 0 < suspicious (%d) < malicious (%d) <= 100",
			domain.ErrInvalidScoringConfig, t.Suspicious, t.Malicious))
	}
	if t.Alert < 0 || t.Alert >= 100 {
		errs = append(errs, fmt.Errorf("%w: alert threshold %d out of range", domain.ErrInvalidScoringConfig, t.Alert))
	}
	if t.Critical <= t.Alert || t.Critical > 100 {
		errs = append(errs, fmt.Errorf("%w: critical threshold %d must be above alert (%d) and at most 100",
			domain.ErrInvalidScoringConfig, t.Critical, t.Alert))
	}
	return errors.Join(errs...)
}

// Weights returns the configured weights
func (s *Scorer) Weights() Weights { return s.weights }

// Thresholds returns the configured thresholds
func (s *Scorer) Thresholds() Thresholds { return s.thresholds }

// FinalRiskScore is the weighted sum of the clamped sub-scores, rounded half up and clamped to [0,100]
func (s *Scorer) FinalRiskScore(scores domain.AggregatedScores) int {
	c := scores.Clamped()
	weighted := s.weights.Attachment*c.Attachment +
		s.weights.Domain*c.Domain +
		s.weights.URL*c.URL +
		s.weights.SocialEngineering*c.SocialEngineering
	return domain.ClampScore((weighted + 50) / 100)
}

// Classify maps a final score to its bucket. Boundary values go to the higher bucket.
func (s *Scorer) Classify(score int) domain.Classification {
	switch {
	case score >= s.thresholds.Malicious:
		return domain.ClassificationMalicious
	case score >= s.thresholds.Suspicious:
		return domain.ClassificationSuspicious
	default:
		return domain.ClassificationSafe
	}
}

// EscalationFloor returns the minimum classification implied by critical single-category indicators:
// suspicious for a sub-score at or above Critical, malicious when another category also exceeds Alert.
func (s *Scorer) EscalationFloor(scores domain.AggregatedScores) domain.Classification {
	c := scores.Clamped()
	floor := domain.ClassificationSafe
	for _, tool := range domain.AllTools() {
		if c.Get(tool) < s.thresholds.Critical {
			continue
		}
		floor = domain.ClassificationSuspicious
		for _, other := range domain.AllTools() {
			if other != tool && c.Get(other) > s.thresholds.Alert {
				return domain.ClassificationMalicious
			}
		}
	}
	return floor
}

// Confidence grows with the distance between the final score and the nearest threshold, clamped to [50,99]
func (s *Scorer) Confidence(score int) int {
	d := min(abs(score-s.thresholds.Suspicious), abs(score-s.thresholds.Malicious))
	return max(50, min(99, 50+2*d))
}

// Evaluate runs the whole aggregation over one set of sub-scores
func (s *Scorer) Evaluate(scores domain.AggregatedScores) Assessment {
	clamped := scores.Clamped()
	final := s.FinalRiskScore(clamped)

	class := s.Classify(final)
	escalated := false
	if floor := s.EscalationFloor(clamped); floor.Severity() > class.Severity() {
		class = floor
		escalated = true
	}

	// An escalated class was not reached by the final score, so its distance to a threshold says nothing.
	confidence := s.Confidence(final)
	if escalated {
		confidence = 50
	}

	return Assessment{
		Scores:         clamped,
		FinalRiskScore: final,
		Classification: class,
		Action:         class.Action(),
		Reasoning:      s.Reasoning(clamped, class, escalated),
		Confidence:     confidence,
		Escalated:      escalated,
	}
}

type contribution struct {
	tool     domain.ToolName
	score    int
	weighted int
}

// contributions returns every category ordered by weighted contribution, ties kept in dispatch order
func (s *Scorer) contributions(scores domain.AggregatedScores) []contribution {
	out := make([]contribution, 0, 4)
	for _, tool := range domain.AllTools() {
		v := scores.Get(tool)
		out = append(out, contribution{tool: tool, score: v, weighted: v * s.weights.get(tool)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].weighted > out[j].weighted
	})
	return out
}

// Reasoning names the categories that drove the classification
func (s *Scorer) Reasoning(scores domain.AggregatedScores, class domain.Classification, escalated bool) string {
	ranked := s.contributions(scores)

	var alerts []string
	for _, c := range ranked {
		if c.score > s.thresholds.Alert {
			alerts = append(alerts, fmt.Sprintf("%s (%d)", c.tool.Category(), c.score))
		}
	}
	if len(alerts) == 0 && ranked[0].weighted > 0 {
		alerts = append(alerts, fmt.Sprintf("%s (%d)", ranked[0].tool.Category(), ranked[0].score))
	}
	named := strings.Join(alerts, ", ")

	var b strings.Builder
	switch class {
	case domain.ClassificationMalicious:
		fmt.Fprintf(&b, "Critical threat indicators: %s. Quarantine immediately.", named)
	case domain.ClassificationSuspicious:
		fmt.Fprintf(&b, "Suspicious indicators: %s. Route to human review.", named)
	default:
		b.WriteString("No significant threat indicators detected.")
	}

	if escalated {
		for _, c := range ranked {
			if c.score >= s.thresholds.Critical {
				fmt.Fprintf(&b, " Escalated: %s sub-score %d is at or above the critical level.", c.tool.Category(), c.score)
				break
			}
		}
	}
	return b.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
