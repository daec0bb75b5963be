package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/stoik/email-triage/internal/domain"
)

// dictionary is one keyword category. The first distinct match contributes base,
// each further distinct match adds step, and the category never contributes more than limit.
type dictionary struct {
	category string
	base     int
	step     int
	limit    int
	keywords keywordSet
}

func (d dictionary) score(matches int) int {
	if matches == 0 {
		return 0
	}
	return min(d.limit, d.base+d.step*(matches-1))
}

var socialDictionaries = []dictionary{
	{
		category: "urgency",
		base:     20, step: 5, limit: 35,
		keywords: newKeywordSet(
			"urgent", "immediately", "immediate action", "action required", "asap", "as soon as possible",
			"right away", "within 24 hours", "end of day", "final notice", "suspended", "expires today",
			"verify now", "time sensitive",
			"urgence", "immédiatement", "dès que possible",
		),
	},
	{
		category: "financial coercion",
		base:     20, step: 5, limit: 35,
		keywords: newKeywordSet(
			"wire transfer", "bank transfer", "payments?", "invoices?", "overdue", "bank account", "bank details",
			"routing number", "iban", "bitcoin", "gift cards?", "salary", "payroll", "refund",
			"virement", "factures?", "paiement", "coordonnées bancaires",
		),
	},
	{
		category: "credential harvesting",
		base:     25, step: 5, limit: 40,
		keywords: newKeywordSet(
			"verify your account", "confirm your identity", "update your password", "reset your password",
			"login here", "log in here", "sign in to", "enter your credentials", "validate your account",
			"vérifier votre compte", "mot de passe",
		),
	},
	{
		category: "authority and secrecy",
		base:     10, step: 5, limit: 20,
		keywords: newKeywordSet(
			"ceo", "cfo", "confidential", "do not discuss", "between us", "keep this private", "confidentiel",
		),
	},
}

// SocialEngineeringDetector scans subject and body for pressure language
type SocialEngineeringDetector struct{}

// NewSocialEngineeringDetector creates a new social engineering detector
func NewSocialEngineeringDetector() *SocialEngineeringDetector {
	return &SocialEngineeringDetector{}
}

func (d *SocialEngineeringDetector) Tool() domain.ToolName { return domain.ToolSocialEngineering }

// Name returns the analyzer name
func (d *SocialEngineeringDetector) Name() string {
	return "Social-Engineering Detector"
}

func (d *SocialEngineeringDetector) Inputs(sub *domain.EmailSubmission) map[string]string {
	return map[string]string{
		"subject":     sub.Subject(),
		"body_length": fmt.Sprint(len(sub.Body())),
	}
}

// Analyze sums the capped per-category contributions
func (d *SocialEngineeringDetector) Analyze(ctx context.Context, sub *domain.EmailSubmission) (Finding, error) {
	if err := ctx.Err(); err != nil {
		return Finding{}, err
	}

	text := normalizeText(sub.Subject() + "\n" + sub.Body())

	score := 0
	var parts []string
	for _, dict := range socialDictionaries {
		found := dict.keywords.matches(text)
		if len(found) == 0 {
			continue
		}
		score += dict.score(len(found))
		parts = append(parts, fmt.Sprintf("%s: %s", dict.category, strings.Join(found, ", ")))
	}

	if len(parts) == 0 {
		return Finding{Score: 0, Summary: "No social engineering language detected"}, nil
	}
	return Finding{Score: domain.ClampScore(score), Summary: strings.Join(parts, "; ")}, nil
}
