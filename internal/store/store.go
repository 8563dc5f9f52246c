// Package store defines the persistence contract the engine consumes
// and an in-memory reference implementation used by tests. The
// SQLite-backed implementation lives in the sqlite subpackage.
package store

import (
	"context"
	"time"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
)

// Store is the abstract collaborator the Persister and Coordinator
// depend on. Lookup methods return (nil, nil) on a miss; a non-nil error means the
// store itself failed (network, disk, corruption), which the caller
// treats as a TransientError or PerMessageError depending on context.
type Store interface {
	GetMailbox(ctx context.Context, id string) (*model.Mailbox, error)
	UpdateMailbox(ctx context.Context, id string, upd model.MailboxUpdate) error
	ListActiveMailboxIDs(ctx context.Context) ([]string, error)

	FindEmail(ctx context.Context, mailboxID string, uid uint32) (*model.Email, error)
	FindEmailByMessageID(ctx context.Context, mailboxID, messageID string) (*model.Email, error)
	FindEmailsByMessageIDs(ctx context.Context, mailboxID string, ids []string) ([]*model.Email, error)
	InsertEmail(ctx context.Context, e *model.Email) error

	FindThreadByNormalizedSubject(ctx context.Context, mailboxID, normalized string, since time.Time) (*model.Thread, error)
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	InsertThread(ctx context.Context, t *model.Thread) error
	ListEmailsInThread(ctx context.Context, threadID string) ([]*model.Email, error)
	UpdateThread(ctx context.Context, id string, upd model.ThreadUpdate) error

	FindBounce(ctx context.Context, userID, mailboxID, email string) (*model.BounceAggregate, error)
	InsertBounce(ctx context.Context, b *model.BounceAggregate) error
	IncrementBounceFailure(ctx context.Context, bounceID string, at time.Time) error
	InsertBounceEvent(ctx context.Context, ev *model.BounceEvent) error
}
