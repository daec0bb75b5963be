package detection

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/stoik/email-triage/internal/domain"
)

// newDomainAgeDays is the registration age under which a domain counts as newly registered
const newDomainAgeDays = 90

// urgentSubjectKeywords mark subjects typical of BEC requests sent from free webmail
var urgentSubjectKeywords = []string{
	"urgent", "immediate", "asap", "action required", "wire", "payment", "invoice", "gift card",
	"urgence", "virement",
}

// executiveTitles in a display name suggest executive impersonation when the sender is external
var executiveTitles = []string{"ceo", "cfo", "coo", "president", "director", "chief", "pdg", "directeur"}

// DomainReputationAnalyzer scores the sender's domain: typosquatting, lookalikes of internal
// domains, blocklist, TLD and registration age heuristics, free-webmail BEC patterns and,
// when headers are present, authentication failures and Reply-To redirection.
type DomainReputationAnalyzer struct {
	dctx *DetectionContext
}

// NewDomainReputationAnalyzer creates a new domain reputation analyzer
func NewDomainReputationAnalyzer(dctx *DetectionContext) *DomainReputationAnalyzer {
	return &DomainReputationAnalyzer{dctx: dctx}
}

func (a *DomainReputationAnalyzer) Tool() domain.ToolName { return domain.ToolDomainReputation }

// Name returns the analyzer name
func (a *DomainReputationAnalyzer) Name() string {
	return "Domain Reputation"
}

func (a *DomainReputationAnalyzer) Inputs(sub *domain.EmailSubmission) map[string]string {
	return map[string]string{"sender_email": sub.SenderEmail()}
}

// Analyze sums the triggered heuristics, clamped to [0,100]
func (a *DomainReputationAnalyzer) Analyze(ctx context.Context, sub *domain.EmailSubmission) (Finding, error) {
	if err := ctx.Err(); err != nil {
		return Finding{}, err
	}

	host := extractDomain(sub.SenderEmail())
	if host == "" {
		return Finding{Score: 40, Summary: "Sender address has no parseable domain"}, nil
	}
	registrable := registrableDomain(host)
	label := registrableLabel(registrable)
	internal := inList(registrable, a.dctx.InternalDomains) || inList(host, a.dctx.InternalDomains)

	score := 0
	var factors []string
	add := func(points int, format string, args ...any) {
		score += points
		factors = append(factors, fmt.Sprintf(format, args...))
	}

	if !internal {
		if brand, points, reason := a.impersonatedBrand(registrable, label); points > 0 {
			add(points, "%s %s", reason, brand)
		}
		if target, points, reason := a.impersonatedInternal(registrable, label); points > 0 {
			add(points, "%s %s", reason, target)
		}
		for _, tok := range labelTokens(label) {
			if hasDigitSubstitution(tok) {
				add(15, "digit-for-letter substitution in %q", tok)
				break
			}
		}
		if inList(registrable, a.dctx.BlockedDomains) || inList(host, a.dctx.BlockedDomains) {
			add(50, "domain is on the blocklist")
		}
		if hasSuspiciousTLD(host) {
			add(25, "high-risk TLD .%s", topLevelDomain(host))
		}
	}

	age := simulatedDomainAge(registrable, score > 0)
	if !internal && age < newDomainAgeDays {
		add(20, "newly registered (%d days)", age)
	}

	if inList(registrable, a.dctx.FreeMailDomains) && containsAny(normalizeText(sub.Subject()), urgentSubjectKeywords) {
		add(30, "free webmail sender with urgent subject (BEC indicator)")
	}

	if failures := authFailures(sub); len(failures) >= 2 {
		add(30, "authentication failures: %s", strings.Join(failures, ", "))
	} else if len(failures) == 1 {
		add(10, "authentication failure: %s", failures[0])
	}

	if replyTo := extractDomain(sub.Header("Reply-To")); replyTo != "" && registrableDomain(replyTo) != registrable &&
		inList(registrableDomain(replyTo), a.dctx.FreeMailDomains) {
		add(25, "Reply-To redirects to free webmail %s", replyTo)
	}

	if !internal && containsAny(normalizeText(sub.SenderName()), executiveTitles) {
		add(20, "executive display name %q from external domain", sub.SenderName())
	}

	summary := fmt.Sprintf("Domain: %s | Age: %d days | ", registrable, age)
	if len(factors) == 0 {
		summary += "no risk factors"
	} else {
		summary += strings.Join(factors, "; ")
	}
	return Finding{Score: domain.ClampScore(score), Summary: summary}, nil
}

// impersonatedBrand checks the registrable domain against the brand allow-list:
// one edit away from a brand domain, a token one edit away from a brand name, or a brand name
// embedded in an unrelated domain.
func (a *DomainReputationAnalyzer) impersonatedBrand(registrable, label string) (string, int, string) {
	for _, brand := range a.dctx.BrandDomains {
		if registrable == brand {
			return "", 0, ""
		}
	}

	tokens := labelTokens(label)
	for _, brand := range a.dctx.BrandDomains {
		if levenshteinDistance(registrable, brand) == 1 {
			return brand, 60, "possible typosquat of"
		}
		brandLabel := registrableLabel(brand)
		for _, tok := range tokens {
			if len(tok) >= 5 && levenshteinDistance(tok, brandLabel) == 1 {
				return brand, 60, "possible typosquat of"
			}
		}
	}
	for _, brand := range a.dctx.BrandDomains {
		brandLabel := registrableLabel(brand)
		for _, tok := range tokens {
			if tok == brandLabel {
				return brand, 35, "brand name used in unrelated domain, impersonating"
			}
		}
	}
	return "", 0, ""
}

// impersonatedInternal looks for domains built to pass as one of the organization's own
func (a *DomainReputationAnalyzer) impersonatedInternal(registrable, label string) (string, int, string) {
	tokens := labelTokens(label)
	for _, internal := range a.dctx.InternalDomains {
		if levenshteinDistance(registrable, internal) == 1 {
			return internal, 60, "typosquat of internal domain"
		}
		internalLabel := registrableLabel(internal)
		for _, tok := range tokens {
			if len(internalLabel) >= 4 && tok == internalLabel {
				return internal, 35, "lookalike of internal domain"
			}
			if len(tok) >= 5 && levenshteinDistance(tok, internalLabel) == 1 {
				return internal, 35, "lookalike of internal domain"
			}
		}
	}
	return "", 0, ""
}

// simulatedDomainAge stands in for a WHOIS lookup. It is deterministic per domain:
// domains that already show risk factors land under the new-domain threshold, others
// between one and ten years.
func simulatedDomainAge(registrable string, flagged bool) int {
	h := fnv.New32a()
	h.Write([]byte(registrable))
	seed := int(h.Sum32() % 3286)
	if flagged {
		return 1 + seed%(newDomainAgeDays-1)
	}
	return 365 + seed
}

// authFailures reads SPF, DKIM and DMARC outcomes from the submission headers
func authFailures(sub *domain.EmailSubmission) []string {
	var failures []string
	authResults := strings.ToLower(sub.Header("Authentication-Results"))
	spf := strings.ToLower(sub.Header("Received-SPF"))

	if strings.HasPrefix(strings.TrimSpace(spf), "fail") || strings.Contains(authResults, "spf=fail") {
		failures = append(failures, "SPF_FAIL")
	}
	if strings.Contains(authResults, "dkim=fail") {
		failures = append(failures, "DKIM_FAIL")
	}
	if strings.Contains(authResults, "dmarc=fail") {
		failures = append(failures, "DMARC_FAIL")
	}
	return failures
}
