// Package bounce parses bounce notification messages: recipient
// extraction with an address-validity predicate, SMTP error-code
// extraction, diagnostic-text extraction and cleaning, and hard/soft/
// unknown classification. Only invoked when the Classifier has already
// assigned category = BOUNCE.
package bounce

import (
	"regexp"
	"strings"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
)

const addrPattern = `[A-Za-z0-9._+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`

var (
	addrRE = regexp.MustCompile(addrPattern)

	recipientPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:failed|undelivered).*?(?:to|for|recipient)[:\s]+<?(` + addrPattern + `)>?`),
		regexp.MustCompile(`(?i)final-recipient:\s*rfc822;\s*(` + addrPattern + `)`),
		regexp.MustCompile(`(?i)original-recipient:\s*(` + addrPattern + `)`),
		regexp.MustCompile(`<(` + addrPattern + `)>`),
		regexp.MustCompile(`(?i)(?:to|for|recipient|user):\s*(` + addrPattern + `)`),
		regexp.MustCompile(`\b(` + addrPattern + `)\b`),
	}

	hexLocalRE     = regexp.MustCompile(`(?i)^[0-9a-f]{8,}`)
	uuidLocalRE    = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	mxHostRE       = regexp.MustCompile(`(?i)@mx\.(google|yahoo|outlook)\.com$`)
	numericSubTLD  = regexp.MustCompile(`^\d+$`)
	binaryExtRE    = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|gif|svg|mp4|pdf|doc|zip)$`)
	systemPrefixes = []string{"mailer-daemon@", "postmaster@", "noreply@", "no-reply@"}

	errorCodeRE = regexp.MustCompile(`[245]\d{2}`)

	diagnosticPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)status:\s*[45]\.\d\.\d\s*\(([^)]+)\)`),
		regexp.MustCompile(`(?i)diagnostic-code:\s*smtp;\s*(.+)`),
		regexp.MustCompile(`(?i)address not found[^.\n]*because[^.\n]*\.?`),
		regexp.MustCompile(`(?i)did not reach the following recipient[^.\n]*\.?`),
		regexp.MustCompile(`(?i)\b[245]\d{2}[- ][0-9.]*\s*[^\n]{10,150}`),
	}

	urlStripRE       = regexp.MustCompile(`(?i)https?://\S+`)
	htmlTagRE        = regexp.MustCompile(`<[^>]+>`)
	htmlEntityRE     = regexp.MustCompile(`&[a-zA-Z#0-9]+;`)
	decorativeRunRE  = regexp.MustCompile(`[*=_-]{3,}`)
	whitespaceBounceRE = regexp.MustCompile(`\s+`)
	leadTrailPunctRE = regexp.MustCompile(`^[\s.,;:!\-]+|[\s.,;:!\-]+$`)
	nonAlnumRE       = regexp.MustCompile(`[^a-zA-Z0-9]`)

	disclaimerPhrases = []string{
		"this email and any attachments",
		"confidential",
		"unsubscribe from this list",
		"gdpr",
		"privacy policy",
		"view this email in your browser",
	}

	marketingPhrases = []string{
		"limited time offer",
		"click here to shop",
		"unsubscribe here",
	}

	meaningfulTerms = []string{
		"deliver", "bounce", "fail", "reject", "error", "invalid",
		"exist", "quota", "full", "unknown", "temporary", "permanent",
	}
	recipientTerms = []string{"recipient", "mailbox", "user", "address"}

	hardCodes    = map[string]bool{"550": true, "551": true, "552": true, "553": true, "554": true}
	softCodes    = map[string]bool{"450": true, "451": true, "452": true, "453": true}
	userNotFound = regexp.MustCompile(`(?i)(user|mailbox).*not.*found|account.*disabled`)
	mailboxFull  = regexp.MustCompile(`(?i)mailbox.*full|quota.*exceeded|temporarily`)
)

// Parse extracts the failed recipient, SMTP error code, diagnostic
// text, and hard/soft/unknown classification from a bounce message.
func Parse(msg model.RawMessage) model.BounceParseResult {
	haystack := msg.Body + "\n" + msg.HTMLBody + "\n" + msg.Subject

	recipient := extractRecipient(haystack)
	code := extractErrorCode(haystack)
	diagnostic := extractDiagnostic(haystack)
	bounceType := classifyType(code, haystack)

	return model.BounceParseResult{
		FailedRecipient: recipient,
		ErrorCode:       code,
		Diagnostic:      diagnostic,
		Type:            bounceType,
	}
}

func extractRecipient(haystack string) string {
	seen := map[string]bool{}
	for _, pat := range recipientPatterns {
		for _, m := range pat.FindAllStringSubmatch(haystack, -1) {
			if len(m) < 2 {
				continue
			}
			addr := strings.ToLower(strings.TrimSpace(m[1]))
			if seen[addr] {
				continue
			}
			seen[addr] = true
			if validAddress(addr) {
				return addr
			}
		}
	}
	return ""
}

// validAddress implements the address validity predicate V(addr).
func validAddress(addr string) bool {
	if len(addr) < 5 || len(addr) > 254 {
		return false
	}
	if !addrRE.MatchString(addr) || addrRE.FindString(addr) != addr {
		return false
	}
	if strings.ContainsAny(addr, "<>\"'") || strings.Contains(addr, "..") || strings.Contains(addr, " ") {
		return false
	}
	if strings.Contains(addr, "http://") {
		return false
	}

	at := strings.IndexByte(addr, '@')
	if at < 0 {
		return false
	}
	local, domain := addr[:at], addr[at+1:]

	if len(local) > 64 {
		return false
	}
	if hexLocalRE.MatchString(local) {
		return false
	}
	if uuidLocalRE.MatchString(addr[:strings.LastIndex(addr, "@")]) {
		return false
	}

	if len(domain) < 3 || len(domain) > 253 {
		return false
	}
	dotIdx := strings.LastIndex(domain, ".")
	if dotIdx < 0 {
		return false
	}
	tld := domain[dotIdx+1:]
	if len(tld) < 2 || !isAlpha(tld) {
		return false
	}
	subDomain := domain[:dotIdx]
	lastLabel := subDomain
	if idx := strings.LastIndex(subDomain, "."); idx >= 0 {
		lastLabel = subDomain[idx+1:]
	}
	if numericSubTLD.MatchString(lastLabel) {
		return false
	}

	if binaryExtRE.MatchString(addr) {
		return false
	}
	if mxHostRE.MatchString(addr) {
		return false
	}
	for _, p := range systemPrefixes {
		if strings.HasPrefix(addr, p) {
			return false
		}
	}

	return true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return len(s) > 0
}

func extractErrorCode(haystack string) string {
	if m := errorCodeRE.FindString(haystack); m != "" {
		return m
	}
	return "UNKNOWN"
}

func extractDiagnostic(haystack string) string {
	for _, pat := range diagnosticPatterns {
		m := pat.FindStringSubmatch(haystack)
		if m == nil {
			continue
		}
		candidate := m[0]
		if len(m) > 1 && m[1] != "" {
			candidate = m[1]
		}
		cleaned := cleanDiagnostic(candidate)
		if isValidDiagnostic(cleaned) {
			return truncate(cleaned, 300)
		}
	}
	return "No diagnostic information available"
}

func cleanDiagnostic(s string) string {
	s = urlStripRE.ReplaceAllString(s, "")
	s = htmlTagRE.ReplaceAllString(s, " ")
	s = htmlEntityRE.ReplaceAllString(s, " ")
	s = decorativeRunRE.ReplaceAllString(s, " ")
	s = whitespaceBounceRE.ReplaceAllString(s, " ")
	s = leadTrailPunctRE.ReplaceAllString(s, "")
	for _, phrase := range disclaimerPhrases {
		s = removeCaseInsensitive(s, phrase)
	}
	return strings.TrimSpace(s)
}

// removeCaseInsensitive deletes every occurrence of phrase from s without
// otherwise altering s's case, unlike a strings.ToLower round trip.
func removeCaseInsensitive(s, phrase string) string {
	lower := strings.ToLower(s)
	phrase = strings.ToLower(phrase)
	var b strings.Builder
	b.Grow(len(s))
	for {
		i := strings.Index(lower, phrase)
		if i < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		s = s[i+len(phrase):]
		lower = lower[i+len(phrase):]
	}
	return b.String()
}

func isValidDiagnostic(s string) bool {
	if len(s) < 10 {
		return false
	}
	hasLetter := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return false
	}

	nonAlnum := len(nonAlnumRE.FindAllString(s, -1))
	if float64(nonAlnum)/float64(len(s)) > 0.4 {
		return false
	}

	lower := strings.ToLower(s)
	for _, p := range marketingPhrases {
		if strings.Contains(lower, p) {
			return false
		}
	}

	hasMeaning := false
	for _, term := range meaningfulTerms {
		if strings.Contains(lower, term) {
			hasMeaning = true
			break
		}
	}
	if !hasMeaning {
		for _, term := range recipientTerms {
			if strings.Contains(lower, term) {
				hasMeaning = true
				break
			}
		}
	}
	if !hasMeaning && errorCodeRE.MatchString(s) {
		hasMeaning = true
	}

	return hasMeaning
}

func classifyType(code, haystack string) model.BounceType {
	if hardCodes[code] {
		return model.BounceHard
	}
	if softCodes[code] {
		return model.BounceSoft
	}
	if code != "UNKNOWN" {
		switch code[0] {
		case '5':
			return model.BounceHard
		case '4':
			return model.BounceSoft
		}
	}

	if userNotFound.MatchString(haystack) {
		return model.BounceHard
	}
	if mailboxFull.MatchString(haystack) {
		return model.BounceSoft
	}
	return model.BounceUnknown
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
