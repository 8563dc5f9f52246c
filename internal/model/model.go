// Package model defines the closed set of domain records the sync engine
// reads and writes, and the fixed enumerations (Category, MailboxStatus,
// BounceType) that drive classification and persistence.
package model

import "time"

// Category is the fixed, priority-ordered set of message classifications.
type Category string

const (
	CategoryBounce        Category = "BOUNCE"
	CategoryTransactional Category = "TRANSACTIONAL"
	CategoryNotification  Category = "NOTIFICATION"
	CategoryNewsletter    Category = "NEWSLETTER"
	CategoryMarketing     Category = "MARKETING"
	CategoryHuman         Category = "HUMAN"
	CategoryUnknown       Category = "UNKNOWN"
)

// MailboxStatus is the lifecycle state of a Mailbox.
type MailboxStatus string

const (
	MailboxActive   MailboxStatus = "ACTIVE"
	MailboxError    MailboxStatus = "ERROR"
	MailboxDisabled MailboxStatus = "DISABLED"
)

// BounceType classifies a delivery failure as permanent, transient, or
// undetermined.
type BounceType string

const (
	BounceHard    BounceType = "HARD"
	BounceSoft    BounceType = "SOFT"
	BounceUnknown BounceType = "UNKNOWN"
)

// Mailbox is an IMAP account the engine syncs on behalf of a user. The
// engine only ever reads its config and writes checkpoint/status fields;
// everything else is owned by whatever created the row.
type Mailbox struct {
	ID                string
	UserID            string
	Host              string
	Port              int
	Username          string
	EncryptedPassword string
	Status            MailboxStatus
	LastSyncedUID     uint32
	LastSyncedAt      *time.Time
	LastError         string
}

// RawMessage is the normalized shape the IMAP Fetcher emits for every
// message before classification, threading, or persistence happens.
type RawMessage struct {
	UID         uint32
	MessageID   string
	Subject     string
	From        Address
	To          []Address
	CC          []Address
	BCC         []Address
	Body        string
	HTMLBody    string
	Headers     map[string][]string
	ReceivedAt  time.Time
	InReplyTo   string
	References  []string
	SizeBytes   int64
	HasAttach   bool
	BatchBound  bool // true if the fetch stopped early due to batch_size
}

// Address is a parsed "Name <addr>" pair; Name may be empty.
type Address struct {
	Name string
	Addr string
}

// Header looks up a header case-insensitively, returning the first value.
func (m RawMessage) Header(name string) (string, bool) {
	vals, ok := m.HeaderValues(name)
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// HeaderValues looks up all values for a header case-insensitively.
func (m RawMessage) HeaderValues(name string) ([]string, bool) {
	for k, v := range m.Headers {
		if equalFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Email is one persisted, classified message.
type Email struct {
	ID                string
	MailboxID         string
	UserID            string
	UID               uint32
	MessageID         string
	Subject           string
	FromAddress       string
	FromName          string
	ToAddresses       []string
	CCAddresses       []string
	BCCAddresses      []string
	Category          Category
	CategoryConfidence float64
	ThreadID          string
	InReplyTo         string
	References        []string
	BodyPreview       string
	HasAttachments    bool
	IsRead            bool
	IsStarred         bool
	IsArchived        bool
	ReceivedAt        time.Time
	SizeBytes         int64
	Headers           map[string][]string
}

// Thread is a conversation grouping of Emails within one mailbox.
type Thread struct {
	ID                string
	UserID            string
	MailboxID         string
	Subject           string
	NormalizedSubject string
	Participants      []string
	MessageCount      int
	FirstMessageAt    time.Time
	LastMessageAt     time.Time
	IsUnread          bool
	IsArchived        bool
}

// BounceAggregate is the per-(user, mailbox, recipient) rollup of bounce
// events for that address.
type BounceAggregate struct {
	ID            string
	UserID        string
	MailboxID     string
	Email         string
	BounceType    BounceType
	ErrorCode     string
	Reason        string
	FailureCount  int
	FirstFailedAt time.Time
	LastFailedAt  time.Time
}

// BounceEvent is one append-only record of a single bounce message being
// successfully processed.
type BounceEvent struct {
	ID          string
	BounceID    string
	UserID      string
	MessageUID  uint32
	ErrorCode   string
	Diagnostic  string
	OccurredAt  time.Time
}

// MailboxUpdate is a partial update to a Mailbox's mutable fields; nil
// pointers mean "leave unchanged."
type MailboxUpdate struct {
	LastSyncedUID *uint32
	LastSyncedAt  *time.Time
	Status        *MailboxStatus
	LastError     *string
}

// ThreadUpdate is a partial update to a Thread's recomputed aggregate
// fields.
type ThreadUpdate struct {
	MessageCount  int
	LastMessageAt time.Time
	Participants  []string
	IsUnread      bool
}

// BounceParseResult is what the Bounce Parser returns for a BOUNCE-category
// message.
type BounceParseResult struct {
	FailedRecipient string // "" if none passed validation
	ErrorCode       string // numeric string, or "UNKNOWN"
	Diagnostic      string
	Type            BounceType
}
