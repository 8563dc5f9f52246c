// Package persist writes one Email row, updates the containing Thread's
// aggregate, and for bounces upserts a BounceAggregate plus appends a
// BounceEvent — idempotent on (mailbox_id, uid).
package persist

import (
	"context"
	"errors"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/common"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/store"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/thread"
)

// Persister writes classified, threaded messages to the store.
type Persister struct {
	store    store.Store
	resolver *thread.Resolver
	now      func() time.Time
}

// New constructs a Persister. now defaults to time.Now if nil, and is
// overridable in tests that need deterministic timestamps.
func New(st store.Store, resolver *thread.Resolver, now func() time.Time) *Persister {
	if now == nil {
		now = time.Now
	}
	return &Persister{store: st, resolver: resolver, now: now}
}

// Input bundles what the Coordinator has already computed for a message
// before calling Persist.
type Input struct {
	Mailbox    *model.Mailbox
	Raw        model.RawMessage
	Category   model.Category
	Confidence float64
	ThreadID   string
	Bounce     *model.BounceParseResult // nil unless Category == BOUNCE
}

var htmlTagRE = regexp.MustCompile(`<[^>]+>`)
var whitespaceRE = regexp.MustCompile(`\s+`)

// Persist deduplicates, inserts the email, refreshes the thread
// aggregate, and (for bounces) upserts the bounce aggregate and event.
func (p *Persister) Persist(ctx context.Context, in Input) error {
	mailboxID := in.Mailbox.ID

	// Step 1: dedup guard.
	existing, err := p.store.FindEmail(ctx, mailboxID, in.Raw.UID)
	if err != nil {
		return &model.TransientError{MailboxID: mailboxID, Reason: "dedup lookup", Err: err}
	}
	if existing != nil {
		return nil
	}

	email := buildEmail(in)

	// Step 2: insert, treating a unique-violation on message_id as a
	// dedup (same message re-appearing under a different UID after a
	// folder move).
	if err := p.store.InsertEmail(ctx, email); err != nil {
		var uv *store.UniqueViolation
		if errors.As(err, &uv) {
			return nil
		}
		return model.ClassifyStoreError(mailboxID, in.Raw.UID, "insert email", err)
	}

	// Step 3: recompute thread aggregate.
	if err := p.resolver.RecomputeAggregate(ctx, in.ThreadID); err != nil {
		return err
	}

	// Step 4: bounce branch.
	if in.Category == model.CategoryBounce && in.Bounce != nil && in.Bounce.FailedRecipient != "" {
		if err := p.persistBounce(ctx, in); err != nil {
			return err
		}
	}

	return nil
}

func (p *Persister) persistBounce(ctx context.Context, in Input) error {
	now := p.now()
	agg, err := p.store.FindBounce(ctx, in.Mailbox.UserID, in.Mailbox.ID, in.Bounce.FailedRecipient)
	if err != nil {
		return &model.TransientError{MailboxID: in.Mailbox.ID, Reason: "find bounce aggregate", Err: err}
	}

	var bounceID string
	if agg != nil {
		if err := p.store.IncrementBounceFailure(ctx, agg.ID, now); err != nil {
			return model.ClassifyStoreError(in.Mailbox.ID, in.Raw.UID, "increment bounce failure", err)
		}
		bounceID = agg.ID
	} else {
		newAgg := &model.BounceAggregate{
			ID:            common.NewID(),
			UserID:        in.Mailbox.UserID,
			MailboxID:     in.Mailbox.ID,
			Email:         in.Bounce.FailedRecipient,
			BounceType:    in.Bounce.Type,
			ErrorCode:     in.Bounce.ErrorCode,
			Reason:        in.Bounce.Diagnostic,
			FailureCount:  1,
			FirstFailedAt: now,
			LastFailedAt:  now,
		}
		if err := p.store.InsertBounce(ctx, newAgg); err != nil {
			return model.ClassifyStoreError(in.Mailbox.ID, in.Raw.UID, "insert bounce aggregate", err)
		}
		bounceID = newAgg.ID
	}

	event := &model.BounceEvent{
		ID:         common.NewID(),
		BounceID:   bounceID,
		UserID:     in.Mailbox.UserID,
		MessageUID: in.Raw.UID,
		ErrorCode:  in.Bounce.ErrorCode,
		Diagnostic: in.Bounce.Diagnostic,
		OccurredAt: now,
	}
	if err := p.store.InsertBounceEvent(ctx, event); err != nil {
		return model.ClassifyStoreError(in.Mailbox.ID, in.Raw.UID, "insert bounce event", err)
	}
	return nil
}

func buildEmail(in Input) *model.Email {
	raw := in.Raw
	fromAddr := strings.ToLower(strings.TrimSpace(raw.From.Addr))
	fromName := raw.From.Name
	if fromName == "" {
		if at := strings.IndexByte(fromAddr, '@'); at > 0 {
			fromName = fromAddr[:at]
		}
	}

	return &model.Email{
		ID:                 common.NewID(),
		MailboxID:          in.Mailbox.ID,
		UserID:             in.Mailbox.UserID,
		UID:                raw.UID,
		MessageID:          raw.MessageID,
		Subject:            raw.Subject,
		FromAddress:        fromAddr,
		FromName:           fromName,
		ToAddresses:        dedupeLowerAddrs(raw.To),
		CCAddresses:        dedupeLowerAddrs(raw.CC),
		BCCAddresses:       dedupeLowerAddrs(raw.BCC),
		Category:           in.Category,
		CategoryConfidence: in.Confidence,
		ThreadID:           in.ThreadID,
		InReplyTo:          raw.InReplyTo,
		References:         raw.References,
		BodyPreview:        bodyPreview(raw),
		HasAttachments:     raw.HasAttach,
		ReceivedAt:         raw.ReceivedAt,
		SizeBytes:          raw.SizeBytes,
		Headers:            raw.Headers,
	}
}

func bodyPreview(raw model.RawMessage) string {
	body := raw.Body
	if body == "" {
		body = raw.HTMLBody
	}
	body = html.UnescapeString(htmlTagRE.ReplaceAllString(body, " "))
	body = whitespaceRE.ReplaceAllString(body, " ")
	body = strings.TrimSpace(body)
	if len(body) > 300 {
		body = body[:300]
	}
	return body
}

func dedupeLowerAddrs(list []model.Address) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, a := range list {
		addr := strings.ToLower(strings.TrimSpace(a.Addr))
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
