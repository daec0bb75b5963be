package detection

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

// suspiciousTLDs are top-level domains heavily used by throwaway phishing registrations
var suspiciousTLDs = []string{"tk", "ml", "ga", "cf", "gq", "buzz", "work", "click", "xyz", "top"}

// inList reports whether value is one of list
func inList(value string, list []string) bool {
	for _, d := range list {
		if value == d {
			return true
		}
	}
	return false
}

// extractDomain extracts the normalized domain from a sender, which may be a bare
// address or a "Name <addr>" form. Returns "" when no domain can be found.
func extractDomain(sender string) string {
	if addr, err := mail.ParseAddress(sender); err == nil {
		sender = addr.Address
	}
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return ""
	}
	domain := strings.Trim(sender[at+1:], " <>.")
	return strings.ToLower(norm.NFKC.String(domain))
}

// registrableDomain reduces a host to its registrable part (eTLD+1), e.g. "mail.paypal.co.uk" -> "paypal.co.uk"
func registrableDomain(host string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

// registrableLabel strips the public suffix, e.g. "paypa1-verify.com" -> "paypa1-verify"
func registrableLabel(registrable string) string {
	suffix, _ := publicsuffix.PublicSuffix(registrable)
	if label := strings.TrimSuffix(registrable, "."+suffix); label != registrable {
		return label
	}
	if i := strings.Index(registrable, "."); i > 0 {
		return registrable[:i]
	}
	return registrable
}

// labelTokens splits a label on separators commonly used to pad lookalike domains
func labelTokens(label string) []string {
	return strings.FieldsFunc(label, func(r rune) bool {
		return r == '-' || r == '.' || r == '_'
	})
}

// topLevelDomain returns the last label of a host
func topLevelDomain(host string) string {
	if i := strings.LastIndex(host, "."); i >= 0 {
		return host[i+1:]
	}
	return host
}

func hasSuspiciousTLD(host string) bool {
	tld := topLevelDomain(host)
	for _, s := range suspiciousTLDs {
		if tld == s {
			return true
		}
	}
	return false
}

// digitLookalikes maps digits to the letters they are used to imitate
var digitLookalikes = map[rune]rune{'0': 'o', '1': 'l', '3': 'e', '4': 'a', '5': 's', '7': 't', '8': 'b'}

// hasDigitSubstitution reports whether a token mixes letters with digits that all imitate letters,
// as in "paypa1" or "micros0ft"
func hasDigitSubstitution(token string) bool {
	letters, digits := 0, 0
	for _, r := range token {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			if _, ok := digitLookalikes[r]; !ok {
				return false
			}
			digits++
		}
	}
	return letters > 0 && digits > 0
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	// matrix[i][j] = distance between s1[0:i] and s2[0:j]
	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
	}
	for i := 0; i <= len(s1); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(s2); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(s1)][len(s2)]
}

// normalizeText folds compatibility characters (full-width letters, ligatures) before keyword matching
func normalizeText(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// containsAny checks if text contains any of the keywords
func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// keywordSet matches whole-word keyword patterns and reports each distinct match once
type keywordSet struct {
	keywords []string
	patterns []*regexp.Regexp
}

func newKeywordSet(keywords ...string) keywordSet {
	ks := keywordSet{keywords: keywords}
	for _, kw := range keywords {
		ks.patterns = append(ks.patterns, regexp.MustCompile(`(?i)\b`+kw+`\b`))
	}
	return ks
}

// matches returns the distinct keywords found in text, in dictionary order
func (ks keywordSet) matches(text string) []string {
	var found []string
	for i, p := range ks.patterns {
		if p.MatchString(text) {
			found = append(found, strings.TrimSuffix(ks.keywords[i], "s?"))
		}
	}
	return found
}

// preview truncates s to n runes for trace input params
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
