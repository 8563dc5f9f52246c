package thread

import (
	"regexp"
	"strings"
)

var (
	prefixRE     = regexp.MustCompile(`(?i)^(re|fwd|fw)\s*:\s*`)
	externalTagRE = regexp.MustCompile(`(?i)\[external\]`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// NormalizeSubject computes the canonical form of a subject line used
// for fallback thread matching: lowercase, strip repeated leading
// re:/fwd:/fw: prefixes, strip the literal "[external]" tag, collapse
// whitespace, trim. Idempotent, and "Re: X" / "Fwd: X" normalize to the
// same value as "X" by construction.
func NormalizeSubject(subject string) string {
	s := strings.ToLower(subject)
	for {
		trimmed := strings.TrimSpace(externalTagRE.ReplaceAllString(s, ""))
		trimmed = strings.TrimSpace(prefixRE.ReplaceAllString(trimmed, ""))
		if trimmed == s {
			break
		}
		s = trimmed
	}
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
