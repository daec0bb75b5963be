package detection

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocialEngineeringDetector_Analyze(t *testing.T) {
	detector := NewSocialEngineeringDetector()

	tests := []struct {
		name     string
		subject  string
		body     string
		expected int
		contains string
	}{
		{
			name:     "Ordinary meeting email",
			subject:  "Q4 Budget Review Meeting",
			body:     "Hi team, the Q4 budget deck is attached for Thursday's review.",
			expected: 0,
			contains: "No social engineering language detected",
		},
		{
			name:     "Phishing urgency with credential request",
			subject:  "URGENT: verify your account",
			body:     "Your account has been suspended. Verify now at https://bit.ly/3xYz9Qa to restore access.",
			expected: 55,
			contains: "credential harvesting: verify your account",
		},
		{
			name:     "Salary lure",
			subject:  "Updated Salary Information",
			body:     "Please review the attached salary adjustment and confirm your bank account details by end of day.",
			expected: 45,
			contains: "financial coercion: bank account, salary",
		},
		{
			name:     "French BEC request",
			subject:  "Virement urgent",
			body:     "Merci d'effectuer ce virement immédiatement. C'est confidentiel.",
			expected: 55,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finding, err := detector.Analyze(context.Background(), newSubmission(t, "a@b.com", tt.subject, tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, finding.Score)
			if tt.contains != "" {
				assert.Contains(t, finding.Summary, tt.contains)
			}
		})
	}
}

func TestSocialEngineeringDetector_RepetitionDoesNotInflate(t *testing.T) {
	detector := NewSocialEngineeringDetector()

	once, err := detector.Analyze(context.Background(), newSubmission(t, "a@b.com", "urgent", "pay the invoice"))
	require.NoError(t, err)

	body := strings.Repeat("urgent urgent pay the invoice now ", 200)
	many, err := detector.Analyze(context.Background(), newSubmission(t, "a@b.com", "urgent", body))
	require.NoError(t, err)

	assert.Equal(t, once.Score, many.Score)
}

func TestSocialEngineeringDetector_CapsPerCategory(t *testing.T) {
	body := "urgent immediately asap right away end of day final notice suspended time sensitive"
	finding, err := NewSocialEngineeringDetector().Analyze(context.Background(), newSubmission(t, "a@b.com", "hello", body))
	require.NoError(t, err)
	assert.Equal(t, 35, finding.Score)
}
