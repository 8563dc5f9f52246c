// Package classify implements the pure classify(RawMessage) -> (Category,
// Confidence) function. It performs no I/O and depends on nothing but
// its input, so the same message always yields the same category.
package classify

import (
	"regexp"
	"strings"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
)

var (
	bounceFromRE = regexp.MustCompile(`(?i)(mailer-daemon|postmaster|mail-daemon)`)
	bounceSubjRE = regexp.MustCompile(`(?i)(undelivered|failure notice|returned mail|delivery status notification|mail delivery failed|undeliverable|bounce|permanent error|delivery failure)`)

	transactionalFromRE = regexp.MustCompile(`(?i)(noreply@|no-reply@|notifications?@|notify@|support@|security@|billing@|invoices?@|receipts?@|orders?@|accounts?@|team@)`)
	transactionalSubjRE = regexp.MustCompile(`(?i)(password reset|reset your password|verify your email|confirm your email|email verification|order confirmation|order #\d+|receipt|invoice|payment received|subscription|welcome to|account created|security alert|suspicious activity)`)

	notificationFromRE = regexp.MustCompile(`(?i)(notifications?@|alerts?@|updates?@|activity@|digest@)`)
	notificationSubjRE = regexp.MustCompile(`(?i)(activity on|you have \d+ new|new (comment|reply|message|mention)|reminder:|upcoming|(daily|weekly|monthly) (summary|digest|report)|someone (liked|commented|shared)|\d+ new notification)`)

	newsletterSubjRE = regexp.MustCompile(`(?i)(newsletter|weekly roundup|this week in|edition #\d+|volume \d+)`)

	marketingSubjRE = regexp.MustCompile(`(?i)(sale|\d+% off|discount|limited time|exclusive offer|deal of the day|free shipping|(buy|shop) now|don't miss|last chance|special offer|promotion)`)
	urlRE           = regexp.MustCompile(`(?i)https?://\S+`)

	humanExcludeFromRE = regexp.MustCompile(`(?i)(noreply|no-reply|notifications|alert|updates|newsletter|marketing|info|support)`)
)

// Classify evaluates rules in priority order; the first match wins.
func Classify(msg model.RawMessage) (model.Category, float64) {
	from := msg.From.Addr
	subject := msg.Subject
	hasListUnsubscribe := headerPresent(msg, "List-Unsubscribe")
	hasListPost := headerPresent(msg, "List-Post")
	hasListID := headerPresent(msg, "List-Id")

	if bounceFromRE.MatchString(from) || bounceSubjRE.MatchString(subject) {
		return model.CategoryBounce, 1.00
	}

	if (transactionalFromRE.MatchString(from) || transactionalSubjRE.MatchString(subject)) && !hasListUnsubscribe {
		return model.CategoryTransactional, 0.90
	}

	if notificationFromRE.MatchString(from) || notificationSubjRE.MatchString(subject) {
		return model.CategoryNotification, 0.85
	}

	if (hasListUnsubscribe && hasListPost) || newsletterSubjRE.MatchString(subject) {
		return model.CategoryNewsletter, 0.75
	}

	if hasListUnsubscribe || (marketingSubjRE.MatchString(subject) && countURLs(msg.Body) > 5) {
		return model.CategoryMarketing, 0.80
	}

	recipientCount := len(msg.To) + len(msg.CC) + len(msg.BCC)
	hasPersonalReplyTo := headerPresent(msg, "Reply-To") && !humanExcludeFromRE.MatchString(replyToValue(msg))
	if !humanExcludeFromRE.MatchString(from) &&
		(hasPersonalReplyTo || recipientCount == 1) &&
		!hasListUnsubscribe && !hasListID {
		return model.CategoryHuman, 0.70
	}

	return model.CategoryUnknown, 0.00
}

func headerPresent(msg model.RawMessage, name string) bool {
	v, ok := msg.Header(name)
	return ok && strings.TrimSpace(v) != ""
}

func replyToValue(msg model.RawMessage) string {
	v, _ := msg.Header("Reply-To")
	return v
}

func countURLs(body string) int {
	return len(urlRE.FindAllString(body, -1))
}
