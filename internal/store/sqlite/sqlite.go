// Package sqlite is the reference implementation of internal/store.Store
// on top of database/sql, github.com/mattn/go-sqlite3, and
// github.com/jmoiron/sqlx, grounded on the sqlite-backed
// pkg/connector/database.go. Uniqueness on (mailbox_id, uid) and
// (mailbox_id, message_id) is enforced with SQL UNIQUE constraints and
// bounce failure counts are incremented with a single atomic UPDATE.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/store"
)

// SQLiteStore implements store.Store.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) a SQLite database at path and
// ensures the schema exists. Use ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers anyway; avoid SQLITE_BUSY churn

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mailboxes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			username TEXT NOT NULL,
			encrypted_password TEXT NOT NULL,
			status TEXT NOT NULL,
			last_synced_uid INTEGER NOT NULL DEFAULT 0,
			last_synced_at TIMESTAMP,
			last_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			mailbox_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			uid INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			subject TEXT,
			from_address TEXT,
			from_name TEXT,
			to_addresses TEXT,
			cc_addresses TEXT,
			bcc_addresses TEXT,
			category TEXT,
			category_confidence REAL,
			thread_id TEXT,
			in_reply_to TEXT,
			"references" TEXT,
			body_preview TEXT,
			has_attachments BOOLEAN,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			is_starred BOOLEAN NOT NULL DEFAULT 0,
			is_archived BOOLEAN NOT NULL DEFAULT 0,
			received_at TIMESTAMP,
			size_bytes INTEGER,
			headers TEXT,
			UNIQUE (mailbox_id, uid),
			UNIQUE (mailbox_id, message_id)
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			mailbox_id TEXT NOT NULL,
			subject TEXT,
			normalized_subject TEXT,
			participants TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			first_message_at TIMESTAMP,
			last_message_at TIMESTAMP,
			is_unread BOOLEAN NOT NULL DEFAULT 1,
			is_archived BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_subject ON threads (mailbox_id, normalized_subject)`,
		`CREATE TABLE IF NOT EXISTS bounce_aggregates (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			mailbox_id TEXT NOT NULL,
			email TEXT NOT NULL,
			bounce_type TEXT,
			error_code TEXT,
			reason TEXT,
			failure_count INTEGER NOT NULL DEFAULT 0,
			first_failed_at TIMESTAMP,
			last_failed_at TIMESTAMP,
			UNIQUE (user_id, mailbox_id, email)
		)`,
		`CREATE TABLE IF NOT EXISTS bounce_events (
			id TEXT PRIMARY KEY,
			bounce_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			message_uid INTEGER NOT NULL,
			error_code TEXT,
			diagnostic TEXT,
			occurred_at TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

func joinCSV(vals []string) string { return strings.Join(vals, ",") }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func marshalHeaders(h map[string][]string) string {
	if h == nil {
		return "{}"
	}
	b, _ := json.Marshal(h)
	return string(b)
}

func unmarshalHeaders(s string) map[string][]string {
	if s == "" {
		return nil
	}
	var h map[string][]string
	_ = json.Unmarshal([]byte(s), &h)
	return h
}

func (s *SQLiteStore) GetMailbox(ctx context.Context, id string) (*model.Mailbox, error) {
	var row struct {
		ID                string         `db:"id"`
		UserID            string         `db:"user_id"`
		Host              string         `db:"host"`
		Port              int            `db:"port"`
		Username          string         `db:"username"`
		EncryptedPassword string         `db:"encrypted_password"`
		Status            string         `db:"status"`
		LastSyncedUID     uint32         `db:"last_synced_uid"`
		LastSyncedAt      sql.NullTime   `db:"last_synced_at"`
		LastError         sql.NullString `db:"last_error"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM mailboxes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_mailbox: %w", err)
	}
	m := &model.Mailbox{
		ID:                row.ID,
		UserID:            row.UserID,
		Host:              row.Host,
		Port:              row.Port,
		Username:          row.Username,
		EncryptedPassword: row.EncryptedPassword,
		Status:            model.MailboxStatus(row.Status),
		LastSyncedUID:     row.LastSyncedUID,
		LastError:         row.LastError.String,
	}
	if row.LastSyncedAt.Valid {
		m.LastSyncedAt = &row.LastSyncedAt.Time
	}
	return m, nil
}

func (s *SQLiteStore) UpdateMailbox(ctx context.Context, id string, upd model.MailboxUpdate) error {
	sets := []string{}
	args := []interface{}{}
	if upd.LastSyncedUID != nil {
		sets = append(sets, "last_synced_uid = ?")
		args = append(args, *upd.LastSyncedUID)
	}
	if upd.LastSyncedAt != nil {
		sets = append(sets, "last_synced_at = ?")
		args = append(args, *upd.LastSyncedAt)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *upd.LastError)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE mailboxes SET %s WHERE id = ?`, strings.Join(sets, ", "))
	_, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update_mailbox: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveMailboxIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM mailboxes WHERE status = ? ORDER BY id`, string(model.MailboxActive))
	if err != nil {
		return nil, fmt.Errorf("list_active_mailbox_ids: %w", err)
	}
	return ids, nil
}

type emailRow struct {
	ID                 string         `db:"id"`
	MailboxID          string         `db:"mailbox_id"`
	UserID             string         `db:"user_id"`
	UID                uint32         `db:"uid"`
	MessageID          string         `db:"message_id"`
	Subject            sql.NullString `db:"subject"`
	FromAddress        sql.NullString `db:"from_address"`
	FromName           sql.NullString `db:"from_name"`
	ToAddresses        sql.NullString `db:"to_addresses"`
	CCAddresses        sql.NullString `db:"cc_addresses"`
	BCCAddresses       sql.NullString `db:"bcc_addresses"`
	Category           sql.NullString `db:"category"`
	CategoryConfidence sql.NullFloat64 `db:"category_confidence"`
	ThreadID           sql.NullString `db:"thread_id"`
	InReplyTo          sql.NullString `db:"in_reply_to"`
	References         sql.NullString `db:"references"`
	BodyPreview        sql.NullString `db:"body_preview"`
	HasAttachments     bool           `db:"has_attachments"`
	IsRead             bool           `db:"is_read"`
	IsStarred          bool           `db:"is_starred"`
	IsArchived         bool           `db:"is_archived"`
	ReceivedAt         sql.NullTime   `db:"received_at"`
	SizeBytes          sql.NullInt64  `db:"size_bytes"`
	Headers            sql.NullString `db:"headers"`
}

func (r emailRow) toModel() *model.Email {
	e := &model.Email{
		ID:                 r.ID,
		MailboxID:          r.MailboxID,
		UserID:             r.UserID,
		UID:                r.UID,
		MessageID:          r.MessageID,
		Subject:            r.Subject.String,
		FromAddress:        r.FromAddress.String,
		FromName:           r.FromName.String,
		ToAddresses:        splitCSV(r.ToAddresses.String),
		CCAddresses:        splitCSV(r.CCAddresses.String),
		BCCAddresses:       splitCSV(r.BCCAddresses.String),
		Category:           model.Category(r.Category.String),
		CategoryConfidence: r.CategoryConfidence.Float64,
		ThreadID:           r.ThreadID.String,
		InReplyTo:          r.InReplyTo.String,
		References:         splitCSV(r.References.String),
		BodyPreview:        r.BodyPreview.String,
		HasAttachments:     r.HasAttachments,
		IsRead:             r.IsRead,
		IsStarred:          r.IsStarred,
		IsArchived:         r.IsArchived,
		SizeBytes:          r.SizeBytes.Int64,
		Headers:            unmarshalHeaders(r.Headers.String),
	}
	if r.ReceivedAt.Valid {
		e.ReceivedAt = r.ReceivedAt.Time
	}
	return e
}

func (s *SQLiteStore) FindEmail(ctx context.Context, mailboxID string, uid uint32) (*model.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM emails WHERE mailbox_id = ? AND uid = ?`, mailboxID, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find_email: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) FindEmailByMessageID(ctx context.Context, mailboxID, messageID string) (*model.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM emails WHERE mailbox_id = ? AND message_id = ?`, mailboxID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find_email_by_message_id: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) FindEmailsByMessageIDs(ctx context.Context, mailboxID string, ids []string) ([]*model.Email, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM emails WHERE mailbox_id = ? AND message_id IN (?)`, mailboxID, ids)
	if err != nil {
		return nil, fmt.Errorf("find_emails_by_message_ids: %w", err)
	}
	query = s.db.Rebind(query)
	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find_emails_by_message_ids: %w", err)
	}
	out := make([]*model.Email, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *SQLiteStore) InsertEmail(ctx context.Context, e *model.Email) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (
			id, mailbox_id, user_id, uid, message_id, subject, from_address, from_name,
			to_addresses, cc_addresses, bcc_addresses, category, category_confidence,
			thread_id, in_reply_to, "references", body_preview, has_attachments,
			is_read, is_starred, is_archived, received_at, size_bytes, headers
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.MailboxID, e.UserID, e.UID, e.MessageID, e.Subject, e.FromAddress, e.FromName,
		joinCSV(e.ToAddresses), joinCSV(e.CCAddresses), joinCSV(e.BCCAddresses),
		string(e.Category), e.CategoryConfidence, e.ThreadID, e.InReplyTo,
		joinCSV(e.References), e.BodyPreview, e.HasAttachments,
		e.IsRead, e.IsStarred, e.IsArchived, e.ReceivedAt, e.SizeBytes, marshalHeaders(e.Headers),
	)
	if err != nil {
		if isUniqueViolation(err) {
			field := "uid"
			if strings.Contains(err.Error(), "message_id") {
				field = "message_id"
			}
			return &store.UniqueViolation{Field: field}
		}
		return fmt.Errorf("insert_email: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

type threadRow struct {
	ID                string       `db:"id"`
	UserID            string       `db:"user_id"`
	MailboxID         string       `db:"mailbox_id"`
	Subject           string       `db:"subject"`
	NormalizedSubject string       `db:"normalized_subject"`
	Participants      string       `db:"participants"`
	MessageCount      int          `db:"message_count"`
	FirstMessageAt    sql.NullTime `db:"first_message_at"`
	LastMessageAt     sql.NullTime `db:"last_message_at"`
	IsUnread          bool         `db:"is_unread"`
	IsArchived        bool         `db:"is_archived"`
}

func (r threadRow) toModel() *model.Thread {
	t := &model.Thread{
		ID:                r.ID,
		UserID:            r.UserID,
		MailboxID:         r.MailboxID,
		Subject:           r.Subject,
		NormalizedSubject: r.NormalizedSubject,
		Participants:      splitCSV(r.Participants),
		MessageCount:      r.MessageCount,
		IsUnread:          r.IsUnread,
		IsArchived:        r.IsArchived,
	}
	if r.FirstMessageAt.Valid {
		t.FirstMessageAt = r.FirstMessageAt.Time
	}
	if r.LastMessageAt.Valid {
		t.LastMessageAt = r.LastMessageAt.Time
	}
	return t
}

func (s *SQLiteStore) FindThreadByNormalizedSubject(ctx context.Context, mailboxID, normalized string, since time.Time) (*model.Thread, error) {
	var row threadRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM threads
		WHERE mailbox_id = ? AND normalized_subject = ? AND last_message_at >= ?
		ORDER BY last_message_at DESC LIMIT 1
	`, mailboxID, normalized, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find_thread_by_normalized_subject: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	var row threadRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM threads WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_thread: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) InsertThread(ctx context.Context, t *model.Thread) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (
			id, user_id, mailbox_id, subject, normalized_subject, participants,
			message_count, first_message_at, last_message_at, is_unread, is_archived
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.MailboxID, t.Subject, t.NormalizedSubject, joinCSV(t.Participants),
		t.MessageCount, t.FirstMessageAt, t.LastMessageAt, t.IsUnread, t.IsArchived)
	if err != nil {
		return fmt.Errorf("insert_thread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEmailsInThread(ctx context.Context, threadID string) ([]*model.Email, error) {
	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM emails WHERE thread_id = ? ORDER BY received_at ASC`, threadID); err != nil {
		return nil, fmt.Errorf("list_emails_in_thread: %w", err)
	}
	out := make([]*model.Email, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *SQLiteStore) UpdateThread(ctx context.Context, id string, upd model.ThreadUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET message_count = ?, last_message_at = ?, participants = ?, is_unread = ?
		WHERE id = ?
	`, upd.MessageCount, upd.LastMessageAt, joinCSV(upd.Participants), upd.IsUnread, id)
	if err != nil {
		return fmt.Errorf("update_thread: %w", err)
	}
	return nil
}

type bounceRow struct {
	ID            string       `db:"id"`
	UserID        string       `db:"user_id"`
	MailboxID     string       `db:"mailbox_id"`
	Email         string       `db:"email"`
	BounceType    string       `db:"bounce_type"`
	ErrorCode     string       `db:"error_code"`
	Reason        string       `db:"reason"`
	FailureCount  int          `db:"failure_count"`
	FirstFailedAt sql.NullTime `db:"first_failed_at"`
	LastFailedAt  sql.NullTime `db:"last_failed_at"`
}

func (r bounceRow) toModel() *model.BounceAggregate {
	b := &model.BounceAggregate{
		ID:           r.ID,
		UserID:       r.UserID,
		MailboxID:    r.MailboxID,
		Email:        r.Email,
		BounceType:   model.BounceType(r.BounceType),
		ErrorCode:    r.ErrorCode,
		Reason:       r.Reason,
		FailureCount: r.FailureCount,
	}
	if r.FirstFailedAt.Valid {
		b.FirstFailedAt = r.FirstFailedAt.Time
	}
	if r.LastFailedAt.Valid {
		b.LastFailedAt = r.LastFailedAt.Time
	}
	return b
}

func (s *SQLiteStore) FindBounce(ctx context.Context, userID, mailboxID, email string) (*model.BounceAggregate, error) {
	var row bounceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM bounce_aggregates WHERE user_id = ? AND mailbox_id = ? AND email = ?
	`, userID, mailboxID, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find_bounce: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) InsertBounce(ctx context.Context, b *model.BounceAggregate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bounce_aggregates (
			id, user_id, mailbox_id, email, bounce_type, error_code, reason,
			failure_count, first_failed_at, last_failed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.UserID, b.MailboxID, b.Email, string(b.BounceType), b.ErrorCode, b.Reason,
		b.FailureCount, b.FirstFailedAt, b.LastFailedAt)
	if err != nil {
		return fmt.Errorf("insert_bounce: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IncrementBounceFailure(ctx context.Context, bounceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bounce_aggregates SET failure_count = failure_count + 1, last_failed_at = ? WHERE id = ?
	`, at, bounceID)
	if err != nil {
		return fmt.Errorf("increment_bounce_failure: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertBounceEvent(ctx context.Context, ev *model.BounceEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bounce_events (id, bounce_id, user_id, message_uid, error_code, diagnostic, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.BounceID, ev.UserID, ev.MessageUID, ev.ErrorCode, ev.Diagnostic, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert_bounce_event: %w", err)
	}
	return nil
}

var _ store.Store = (*SQLiteStore)(nil)
