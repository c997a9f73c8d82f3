package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Korean resident registration number: YYMMDD-SNNNNNN.
	residentIDPattern = regexp.MustCompile(`\b\d{6}-[1-8]\d{6}\b`)
	cardPattern       = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern      = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: longer numeric identifiers go before phone numbers so they
// are not half-matched as one.
var rules = []rule{
	{emailPattern, "[REDACTED_EMAIL]"},
	{residentIDPattern, "[REDACTED_ID]"},
	{cardPattern, "[REDACTED_CARD]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns before a turn is persisted.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.replacement)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
