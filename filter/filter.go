// Package filter holds the content-policy checks applied to generated
// answers: a disallowed-content gate and pattern-based PII redaction.
package filter

import (
	"regexp"
	"strings"
)

// RedactionToken replaces every matched sensitive substring.
const RedactionToken = "[REDACTED]"

// disallowedKeywords gate the generated answer, not the retrieved passages.
var disallowedKeywords = []string{
	"password",
	"ssn",
	"social security",
	"credit card cvv",
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// redactionPatterns are applied in fixed order, most specific first, so a
// substring consumed by an earlier pattern is not re-consumed by a looser
// one (the token itself contains no digits or '@' and never re-matches).
var redactionPatterns = []pattern{
	{name: "credit_card", re: regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)},
	{name: "email", re: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{name: "phone", re: regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?(?:\d{6,12})\b`)},
}

// IsDisallowed reports whether text contains content the service must not
// return, by case-insensitive substring match against the blocklist.
func IsDisallowed(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range disallowedKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Redact replaces every sensitive match with the redaction token and
// reports whether any pattern fired.
func Redact(text string) (string, bool) {
	had := false
	out := text
	for _, p := range redactionPatterns {
		if p.re.MatchString(out) {
			had = true
			out = p.re.ReplaceAllString(out, RedactionToken)
		}
	}
	return out, had
}
