// Package detect is the local, regex-based tier of sensitive-content
// detection. It is pure and synchronous; the remote tier lives in classify.
package detect

import "regexp"

// Verdict is the outcome of one detection pass over one message.
// Reason is non-empty iff HasSensitiveData is true.
type Verdict struct {
	HasSensitiveData bool   `json:"hasSensitiveData"`
	Reason           string `json:"reason,omitempty"`
}

type rule struct {
	re     *regexp.Regexp
	reason string
}

// Rule order encodes priority: the first matching rule wins, so a text
// containing both an email and a phone number reports the email.
var rules = []rule{
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "Email address detected"},
	{regexp.MustCompile(`\b(?:\+?1[-.]?)?\(?[0-9]{3}\)?[-.]?[0-9]{3}[-.]?[0-9]{4}\b`), "Phone number detected"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "SSN-like number detected"},
	{regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`), "Credit card number detected"},
	{regexp.MustCompile(`(?i)\b\d{1,5}\s+\w+\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Circle|Cir)\b`), "Physical address detected"},
	{regexp.MustCompile(`\b(?:19|20)\d{2}[-/](?:0[1-9]|1[0-2])[-/](?:0[1-9]|[12]\d|3[01])\b`), "Full date detected (potential DOB)"},
	{regexp.MustCompile(`\b[A-Z]{2}\d{6,9}\b`), "Passport-like number detected"},
}

// Detect classifies a single message text against the ordered pattern rules.
func Detect(text string) Verdict {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return Verdict{HasSensitiveData: true, Reason: r.reason}
		}
	}
	return Verdict{}
}
