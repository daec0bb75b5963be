package scoring

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stoik/email-triage/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScorer_Validation(t *testing.T) {
	tests := []struct {
		name       string
		weights    Weights
		thresholds Thresholds
		expectErr  bool
	}{
		{
			name:       "Defaults are valid",
			weights:    DefaultWeights(),
			thresholds: DefaultThresholds(),
		},
		{
			name:       "Weights summing to 95",
			weights:    Weights{Attachment: 35, Domain: 30, URL: 20, SocialEngineering: 10},
			thresholds: DefaultThresholds(),
			expectErr:  true,
		},
		{
			name:       "Negative weight",
			weights:    Weights{Attachment: 55, Domain: 30, URL: 20, SocialEngineering: -5},
			thresholds: DefaultThresholds(),
			expectErr:  true,
		},
		{
			name:       "Inverted thresholds",
			weights:    DefaultWeights(),
			thresholds: Thresholds{Suspicious: 70, Malicious: 30, Alert: 60, Critical: 85},
			expectErr:  true,
		},
		{
			name:       "Critical below alert",
			weights:    DefaultWeights(),
			thresholds: Thresholds{Suspicious: 30, Malicious: 70, Alert: 60, Critical: 50},
			expectErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer, err := NewScorer(tt.weights, tt.thresholds)
			if tt.expectErr {
				assert.ErrorIs(t, err, domain.ErrInvalidScoringConfig)
				assert.Nil(t, scorer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, scorer)
			}
		})
	}
}

func TestFinalRiskScore_MatchesWeightedSum(t *testing.T) {
	scorer := MustDefault()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		scores := domain.AggregatedScores{
			Attachment:        rng.Intn(101),
			Domain:            rng.Intn(101),
			URL:               rng.Intn(101),
			SocialEngineering: rng.Intn(101),
		}
		weighted := 35*scores.Attachment + 30*scores.Domain + 20*scores.URL + 15*scores.SocialEngineering
		expected := int(math.Round(float64(weighted) / 100))

		got := scorer.FinalRiskScore(scores)
		require.Equal(t, expected, got, "scores %+v", scores)
		require.Equal(t, got, scorer.FinalRiskScore(scores), "recomputation must be identical")
		require.Equal(t, scorer.Evaluate(scores), scorer.Evaluate(scores))
	}
}

func TestFinalRiskScore_ClampsSubScores(t *testing.T) {
	scorer := MustDefault()

	assert.Equal(t, 100, scorer.FinalRiskScore(domain.AggregatedScores{Attachment: 250, Domain: 140, URL: 101, SocialEngineering: 999}))
	assert.Equal(t, 0, scorer.FinalRiskScore(domain.AggregatedScores{Attachment: -10, Domain: -1, URL: -50, SocialEngineering: -3}))
	assert.Equal(t, 35, scorer.FinalRiskScore(domain.AggregatedScores{Attachment: 200}))
}

func TestFinalRiskScore_RoundsHalfUp(t *testing.T) {
	scorer := MustDefault()

	// 0.35*10 + 0.15*10 = 5.0, 0.20*10 + 0.15*10 = 3.5
	assert.Equal(t, 5, scorer.FinalRiskScore(domain.AggregatedScores{Attachment: 10, SocialEngineering: 10}))
	assert.Equal(t, 4, scorer.FinalRiskScore(domain.AggregatedScores{URL: 10, SocialEngineering: 10}))
}

func TestClassify(t *testing.T) {
	scorer := MustDefault()

	tests := []struct {
		score  int
		class  domain.Classification
		action domain.Action
	}{
		{0, domain.ClassificationSafe, domain.ActionDeliver},
		{29, domain.ClassificationSafe, domain.ActionDeliver},
		{30, domain.ClassificationSuspicious, domain.ActionHold},
		{69, domain.ClassificationSuspicious, domain.ActionHold},
		{70, domain.ClassificationMalicious, domain.ActionQuarantine},
		{100, domain.ClassificationMalicious, domain.ActionQuarantine},
	}

	for _, tt := range tests {
		class := scorer.Classify(tt.score)
		assert.Equal(t, tt.class, class, "score %d", tt.score)
		assert.Equal(t, tt.action, class.Action(), "score %d", tt.score)
	}

	for score := 0; score <= 100; score++ {
		class := scorer.Classify(score)
		switch {
		case score < 30:
			assert.Equal(t, domain.ClassificationSafe, class)
		case score < 70:
			assert.Equal(t, domain.ClassificationSuspicious, class)
		default:
			assert.Equal(t, domain.ClassificationMalicious, class)
		}
	}
}

func TestConfidence(t *testing.T) {
	scorer := MustDefault()

	tests := []struct {
		score    int
		expected int
	}{
		{30, 50},
		{70, 50},
		{50, 90},
		{15, 80},
		{0, 99},
		{100, 99},
		{33, 56},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, scorer.Confidence(tt.score), "score %d", tt.score)
	}

	for score := 0; score <= 100; score++ {
		c := scorer.Confidence(score)
		assert.GreaterOrEqual(t, c, 50)
		assert.LessOrEqual(t, c, 99)
	}
}

func TestEvaluate_CriticalIndicatorEscalation(t *testing.T) {
	scorer := MustDefault()

	tests := []struct {
		name      string
		scores     domain.AggregatedScores
		class      domain.Classification
		escalated  bool
		confidence int
	}{
		{
			name:       "Raw IP URL alone is at least suspicious",
			scores:     domain.AggregatedScores{URL: 90},
			class:      domain.ClassificationSuspicious,
			escalated:  true,
			confidence: 50, // final 18 would otherwise give 74
		},
		{
			name:       "Macro attachment with lookalike domain is malicious",
			scores:     domain.AggregatedScores{Attachment: 90, Domain: 70, SocialEngineering: 45},
			class:      domain.ClassificationMalicious,
			escalated:  true,
			confidence: 50,
		},
		{
			name:       "Weighted sum already malicious is not escalated",
			scores:     domain.AggregatedScores{Attachment: 100, Domain: 100, URL: 50, SocialEngineering: 50},
			class:      domain.ClassificationMalicious,
			escalated:  false,
			confidence: 76,
		},
		{
			name:       "High but not critical sub-score does not escalate",
			scores:     domain.AggregatedScores{Domain: 80},
			class:      domain.ClassificationSafe,
			escalated:  false,
			confidence: 62,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := scorer.Evaluate(tt.scores)
			assert.Equal(t, tt.class, a.Classification)
			assert.Equal(t, tt.escalated, a.Escalated)
			assert.Equal(t, scorer.FinalRiskScore(tt.scores), a.FinalRiskScore)
			assert.Equal(t, tt.confidence, a.Confidence)
			if tt.escalated {
				assert.Contains(t, a.Reasoning, "Escalated")
			}
		})
	}
}

func TestEvaluate_RawIPURLNeverSafe(t *testing.T) {
	scorer := MustDefault()

	for _, other := range []int{0, 10, 35, 60, 80, 100} {
		for _, url := range []int{90, 95, 100} {
			a := scorer.Evaluate(domain.AggregatedScores{Attachment: other, Domain: other / 2, URL: url, SocialEngineering: 100 - other})
			assert.GreaterOrEqual(t, a.Classification.Severity(), domain.ClassificationSuspicious.Severity(),
				"url=%d other=%d", url, other)
		}
	}
}

func TestReasoning(t *testing.T) {
	scorer := MustDefault()

	tests := []struct {
		name     string
		scores    domain.AggregatedScores
		contains  []string
		reasoning string
	}{
		{
			name:     "Safe",
			scores:   domain.AggregatedScores{Attachment: 5},
			contains: []string{"No significant threat indicators detected."},
		},
		{
			name:      "Safe with an isolated alert category",
			scores:    domain.AggregatedScores{Domain: 80},
			reasoning: "No significant threat indicators detected.",
		},
		{
			name:     "Suspicious lists alert categories by contribution",
			scores:   domain.AggregatedScores{Domain: 80, URL: 65, SocialEngineering: 45},
			contains: []string{"Suspicious indicators: sender domain reputation (80), malicious links (65)."},
		},
		{
			name:     "Suspicious without alerts names top contributor",
			scores:   domain.AggregatedScores{Attachment: 50, Domain: 50, URL: 40, SocialEngineering: 40},
			contains: []string{"Suspicious indicators: dangerous attachments (50)."},
		},
		{
			name:     "Malicious",
			scores:   domain.AggregatedScores{Attachment: 100, Domain: 100, URL: 80, SocialEngineering: 70},
			contains: []string{"Critical threat indicators:", "dangerous attachments (100)", "Quarantine immediately."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := scorer.Evaluate(tt.scores)
			if tt.reasoning != "" {
				assert.Equal(t, tt.reasoning, a.Reasoning)
			}
			for _, want := range tt.contains {
				assert.Contains(t, a.Reasoning, want)
			}
		})
	}
}
