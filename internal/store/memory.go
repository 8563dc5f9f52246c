package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
)

// MemoryStore is an in-process Store used by tests to exercise the
// Persister and Coordinator without a live database.
type MemoryStore struct {
	mu        sync.Mutex
	mailboxes map[string]*model.Mailbox
	emails    map[string]*model.Email // keyed by ID
	threads   map[string]*model.Thread
	bounces   map[string]*model.BounceAggregate
	events    []*model.BounceEvent
	nextID    int
}

// NewMemoryStore returns an empty store; call PutMailbox to seed it.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mailboxes: make(map[string]*model.Mailbox),
		emails:    make(map[string]*model.Email),
		threads:   make(map[string]*model.Thread),
		bounces:   make(map[string]*model.BounceAggregate),
	}
}

func (s *MemoryStore) genID(prefix string) string {
	s.nextID++
	return prefix + "-" + itoa(s.nextID)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

// PutMailbox seeds a mailbox for tests to sync against.
func (s *MemoryStore) PutMailbox(m *model.Mailbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.mailboxes[m.ID] = &cp
}

func (s *MemoryStore) GetMailbox(_ context.Context, id string) (*model.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mailboxes[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) UpdateMailbox(_ context.Context, id string, upd model.MailboxUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mailboxes[id]
	if !ok {
		return nil
	}
	if upd.LastSyncedUID != nil {
		m.LastSyncedUID = *upd.LastSyncedUID
	}
	if upd.LastSyncedAt != nil {
		m.LastSyncedAt = upd.LastSyncedAt
	}
	if upd.Status != nil {
		m.Status = *upd.Status
	}
	if upd.LastError != nil {
		m.LastError = *upd.LastError
	}
	return nil
}

func (s *MemoryStore) ListActiveMailboxIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, m := range s.mailboxes {
		if m.Status == model.MailboxActive {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) FindEmail(_ context.Context, mailboxID string, uid uint32) (*model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.emails {
		if e.MailboxID == mailboxID && e.UID == uid {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindEmailByMessageID(_ context.Context, mailboxID, messageID string) (*model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.emails {
		if e.MailboxID == mailboxID && e.MessageID == messageID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindEmailsByMessageIDs(_ context.Context, mailboxID string, ids []string) ([]*model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*model.Email
	for _, e := range s.emails {
		if e.MailboxID == mailboxID && want[e.MessageID] {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertEmail(_ context.Context, e *model.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.emails {
		if existing.MailboxID == e.MailboxID && existing.UID == e.UID {
			return &UniqueViolation{Field: "uid"}
		}
		if existing.MailboxID == e.MailboxID && existing.MessageID == e.MessageID {
			return &UniqueViolation{Field: "message_id"}
		}
	}
	if e.ID == "" {
		e.ID = s.genID("email")
	}
	cp := *e
	s.emails[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) FindThreadByNormalizedSubject(_ context.Context, mailboxID, normalized string, since time.Time) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.Thread
	for _, t := range s.threads {
		if t.MailboxID != mailboxID || t.NormalizedSubject != normalized {
			continue
		}
		if t.LastMessageAt.Before(since) {
			continue
		}
		if best == nil || t.LastMessageAt.After(best.LastMessageAt) {
			cp := *t
			best = &cp
		}
	}
	return best, nil
}

func (s *MemoryStore) GetThread(_ context.Context, id string) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) InsertThread(_ context.Context, t *model.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = s.genID("thread")
	}
	cp := *t
	s.threads[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) ListEmailsInThread(_ context.Context, threadID string) ([]*model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Email
	for _, e := range s.emails {
		if e.ThreadID == threadID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateThread(_ context.Context, id string, upd model.ThreadUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil
	}
	t.MessageCount = upd.MessageCount
	t.LastMessageAt = upd.LastMessageAt
	t.Participants = upd.Participants
	t.IsUnread = upd.IsUnread
	return nil
}

func (s *MemoryStore) FindBounce(_ context.Context, userID, mailboxID, email string) (*model.BounceAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bounces {
		if b.UserID == userID && b.MailboxID == mailboxID && b.Email == email {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) InsertBounce(_ context.Context, b *model.BounceAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = s.genID("bounce")
	}
	cp := *b
	s.bounces[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) IncrementBounceFailure(_ context.Context, bounceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bounces[bounceID]
	if !ok {
		return nil
	}
	b.FailureCount++
	b.LastFailedAt = at
	return nil
}

func (s *MemoryStore) InsertBounceEvent(_ context.Context, ev *model.BounceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = s.genID("bounceevent")
	}
	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

// Events returns a snapshot of all inserted bounce events, for test
// assertions.
func (s *MemoryStore) Events() []*model.BounceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.BounceEvent, len(s.events))
	copy(out, s.events)
	return out
}

// UniqueViolation mirrors a SQL unique-constraint failure so the
// Persister's dedup-on-conflict path has something to detect against
// both this fake and the SQLite store.
type UniqueViolation struct{ Field string }

func (e *UniqueViolation) Error() string { return "unique violation on " + e.Field }
