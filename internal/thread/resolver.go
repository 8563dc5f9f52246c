// Package thread implements the Thread Resolver: header-chain lookup
// first, then normalized-subject fallback within a 7-day window,
// grounded on pkg/email/threading.go's DetermineThread algorithm.
// Subject-based fallback threading is reinstated here (gated by
// subject_fallback_threading), unlike that algorithm, since disabling it
// would silently split legitimate reply chains that arrive without
// In-Reply-To/References headers.
package thread

import (
	"context"
	"strings"
	"time"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/common"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/store"
)

const fallbackWindow = 7 * 24 * time.Hour
const minNormalizedSubjectLen = 5

// Resolver resolves messages to threads and recomputes a thread's
// aggregate fields after a new email is inserted into it.
type Resolver struct {
	store                    store.Store
	subjectFallbackThreading bool
}

// New constructs a Resolver. subjectFallbackThreading corresponds to the
// config knob of the same name; when false, the subject-based fallback
// is skipped and messages with no header-chain match always start a new
// thread.
func New(st store.Store, subjectFallbackThreading bool) *Resolver {
	return &Resolver{store: st, subjectFallbackThreading: subjectFallbackThreading}
}

// Resolve returns the thread id the message belongs to, creating a new
// Thread if nothing matches.
func (r *Resolver) Resolve(ctx context.Context, mailboxID, userID string, msg model.RawMessage) (string, error) {
	if msg.InReplyTo != "" {
		if e, err := r.store.FindEmailByMessageID(ctx, mailboxID, msg.InReplyTo); err != nil {
			return "", &model.TransientError{MailboxID: mailboxID, Reason: "looking up in_reply_to", Err: err}
		} else if e != nil && e.ThreadID != "" {
			return e.ThreadID, nil
		}
	}

	if len(msg.References) > 0 {
		emails, err := r.store.FindEmailsByMessageIDs(ctx, mailboxID, msg.References)
		if err != nil {
			return "", &model.TransientError{MailboxID: mailboxID, Reason: "looking up references", Err: err}
		}
		for _, e := range emails {
			if e.ThreadID != "" {
				return e.ThreadID, nil
			}
		}
	}

	normalized := NormalizeSubject(msg.Subject)
	if r.subjectFallbackThreading && len(normalized) > minNormalizedSubjectLen {
		since := msg.ReceivedAt.Add(-fallbackWindow)
		t, err := r.store.FindThreadByNormalizedSubject(ctx, mailboxID, normalized, since)
		if err != nil {
			return "", &model.TransientError{MailboxID: mailboxID, Reason: "looking up subject fallback", Err: err}
		}
		if t != nil {
			return t.ID, nil
		}
	}

	subject := msg.Subject
	if strings.TrimSpace(subject) == "" {
		subject = "(No Subject)"
	}

	participants := dedupeLower(append(append([]string{msg.From.Addr}, addrs(msg.To)...), addrs(msg.CC)...))

	t := &model.Thread{
		ID:                common.NewID(),
		UserID:            userID,
		MailboxID:         mailboxID,
		Subject:           subject,
		NormalizedSubject: normalized,
		Participants:      participants,
		MessageCount:      1,
		FirstMessageAt:    msg.ReceivedAt,
		LastMessageAt:     msg.ReceivedAt,
		IsUnread:          true,
	}
	if err := r.store.InsertThread(ctx, t); err != nil {
		return "", model.ClassifyStoreError(mailboxID, msg.UID, "inserting thread", err)
	}
	return t.ID, nil
}

// RecomputeAggregate recomputes message_count, last_message_at,
// participants, and is_unread for threadID from its full member set.
// Call after an Email has been inserted into the thread.
func (r *Resolver) RecomputeAggregate(ctx context.Context, threadID string) error {
	emails, err := r.store.ListEmailsInThread(ctx, threadID)
	if err != nil {
		return &model.TransientError{Reason: "listing thread emails", Err: err}
	}
	if len(emails) == 0 {
		return nil
	}

	var last time.Time
	isUnread := false
	participantSet := map[string]struct{}{}
	for _, e := range emails {
		if e.ReceivedAt.After(last) {
			last = e.ReceivedAt
		}
		if !e.IsRead {
			isUnread = true
		}
		if e.FromAddress != "" {
			participantSet[strings.ToLower(e.FromAddress)] = struct{}{}
		}
		for _, a := range e.ToAddresses {
			participantSet[strings.ToLower(a)] = struct{}{}
		}
		for _, a := range e.CCAddresses {
			participantSet[strings.ToLower(a)] = struct{}{}
		}
	}

	participants := make([]string, 0, len(participantSet))
	for p := range participantSet {
		participants = append(participants, p)
	}

	if err := r.store.UpdateThread(ctx, threadID, model.ThreadUpdate{
		MessageCount:  len(emails),
		LastMessageAt: last,
		Participants:  participants,
		IsUnread:      isUnread,
	}); err != nil {
		// Scoped to the whole thread, not one message's UID, so this
		// always aborts the cycle rather than being downgraded to a
		// PerMessageError.
		return &model.TransientError{Reason: "updating thread aggregate", Err: err}
	}
	return nil
}

func addrs(list []model.Address) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Addr
	}
	return out
}

func dedupeLower(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
