package detection

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/stoik/email-triage/internal/domain"
)

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"'(){}]+`)

var urlShorteners = []string{
	"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "is.gd", "buff.ly", "rebrand.ly", "cutt.ly", "shorturl.at",
}

var credentialURLKeywords = []string{
	"login", "signin", "sign-in", "verify", "account", "secure", "update", "password", "confirm", "wallet", "banking",
}

var redirectParams = map[string]bool{
	"url": true, "redirect": true, "redirect_uri": true, "redirect_url": true, "next": true,
	"target": true, "dest": true, "destination": true, "continue": true, "goto": true, "return": true,
}

// URLForensicsAnalyzer extracts links from the body and scores the riskiest one
type URLForensicsAnalyzer struct{}

// NewURLForensicsAnalyzer creates a new URL forensics analyzer
func NewURLForensicsAnalyzer() *URLForensicsAnalyzer {
	return &URLForensicsAnalyzer{}
}

func (a *URLForensicsAnalyzer) Tool() domain.ToolName { return domain.ToolURLForensics }

// Name returns the analyzer name
func (a *URLForensicsAnalyzer) Name() string {
	return "URL Forensics"
}

func (a *URLForensicsAnalyzer) Inputs(sub *domain.EmailSubmission) map[string]string {
	return map[string]string{"body_preview": preview(sub.Body(), 50)}
}

type urlVerdict struct {
	host    string
	score   int
	reasons []string
}

// Analyze scores every extracted URL. The sub-score is the highest per-URL score plus 5 for each
// additional flagged URL. A body with only clean URLs scores 5, a body without URLs scores 0.
func (a *URLForensicsAnalyzer) Analyze(ctx context.Context, sub *domain.EmailSubmission) (Finding, error) {
	if err := ctx.Err(); err != nil {
		return Finding{}, err
	}

	urls := extractURLs(sub.Body())
	if len(urls) == 0 {
		return Finding{Score: 0, Summary: "No URLs found"}, nil
	}

	var flagged []urlVerdict
	for _, raw := range urls {
		if v := inspectURL(raw); v.score > 0 {
			flagged = append(flagged, v)
		}
	}
	if len(flagged) == 0 {
		return Finding{Score: 5, Summary: fmt.Sprintf("Scanned %d URL(s), none suspicious", len(urls))}, nil
	}

	top := 0
	details := make([]string, 0, len(flagged))
	for _, v := range flagged {
		top = max(top, v.score)
		if len(details) < 3 {
			details = append(details, fmt.Sprintf("%s (%s)", v.host, strings.Join(v.reasons, ", ")))
		}
	}
	score := domain.ClampScore(top + 5*(len(flagged)-1))

	return Finding{
		Score:   score,
		Summary: fmt.Sprintf("Scanned %d URL(s), flagged %d: %s", len(urls), len(flagged), strings.Join(details, "; ")),
	}, nil
}

// extractURLs returns distinct http(s) URLs in order of appearance
func extractURLs(body string) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, m := range urlPattern.FindAllString(body, -1) {
		m = strings.TrimRight(m, ".,;:!?")
		if !seen[m] {
			seen[m] = true
			urls = append(urls, m)
		}
	}
	return urls
}

func inspectURL(raw string) urlVerdict {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return urlVerdict{host: raw, score: 15, reasons: []string{"malformed URL"}}
	}

	v := urlVerdict{host: strings.ToLower(u.Hostname())}
	flag := func(points int, reason string) {
		v.score += points
		v.reasons = append(v.reasons, reason)
	}

	if net.ParseIP(v.host) != nil {
		flag(90, "raw IP host")
	}
	if inList(v.host, urlShorteners) || inList(strings.TrimPrefix(v.host, "www."), urlShorteners) {
		flag(30, "URL shortener")
	}
	if containsAny(strings.ToLower(v.host+u.EscapedPath()), credentialURLKeywords) {
		flag(20, "credential keyword")
	}
	if hasRedirectIndicator(u, raw) {
		flag(25, "redirect chain")
	}
	if hasSuspiciousTLD(v.host) {
		flag(25, "high-risk TLD")
	}
	if strings.Contains(v.host, "xn--") {
		flag(20, "punycode host")
	}
	if strings.Count(v.host, ".") > 3 {
		flag(10, "excessive subdomains")
	}
	v.score = domain.ClampScore(v.score)
	return v
}

// hasRedirectIndicator detects URLs that bounce the reader elsewhere: redirect parameters,
// an embedded second URL, or userinfo hiding the real host ("https://paypal.com@evil.tk/")
func hasRedirectIndicator(u *url.URL, raw string) bool {
	if u.User != nil {
		return true
	}
	lower := strings.ToLower(raw)
	if strings.Count(lower, "http://")+strings.Count(lower, "https://") > 1 || strings.Contains(lower, "%2f%2f") {
		return true
	}
	for key, values := range u.Query() {
		if !redirectParams[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			if strings.Contains(value, "://") || strings.HasPrefix(value, "//") {
				return true
			}
		}
	}
	return false
}
