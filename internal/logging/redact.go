package logging

import (
	"regexp"
	"strings"
)

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._~+/=-]+)`),
	regexp.MustCompile(`(?i)((?:access[_-]?|auth[_-]?)?token["']?\s*[=:]\s*["']?)([^\s"'&,}]+)`),
	regexp.MustCompile(`()(eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*)`), // JWTs
}

// MaskCredential keeps the first and last four characters of a secret.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// RedactSecrets masks bearer tokens, token fields and JWTs inside free text
// such as server error bodies.
func RedactSecrets(input string) string {
	for _, p := range secretPatterns {
		input = p.ReplaceAllStringFunc(input, func(match string) string {
			m := p.FindStringSubmatch(match)
			return m[1] + MaskCredential(m[2])
		})
	}
	return input
}
