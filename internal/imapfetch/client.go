// Package imapfetch is the IMAP Fetcher: it opens one authenticated
// connection per sync, selects INBOX, issues a UID SEARCH bounded by the
// mailbox's checkpoint and the since-days window, and streams parsed
// messages back in UID-ascending order. The connect/search/fetch shape
// is grounded on pkg/imap/client.go; the MIME parsing uses
// github.com/emersion/go-message/mail the way
// nam-hle-task-management's internal/source/email/client.go does,
// instead of hand-rolled parsing.
package imapfetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/reliability"
)

// breakers holds one CircuitBreaker per IMAP host, so a run of connect
// failures against one mailbox's server doesn't retry-storm it while
// other mailboxes keep syncing normally.
var breakers sync.Map // host -> *reliability.CircuitBreaker

func breakerFor(host string) *reliability.CircuitBreaker {
	if v, ok := breakers.Load(host); ok {
		return v.(*reliability.CircuitBreaker)
	}
	cb, _ := reliability.NewCircuitBreaker(5, 2*time.Minute)
	actual, _ := breakers.LoadOrStore(host, cb)
	return actual.(*reliability.CircuitBreaker)
}

// Options bundles the per-call knobs the coordinator supplies.
type Options struct {
	BatchSize int
	SinceDays int
	Timeouts  reliability.TimeoutConfig
}

// Target is the connection info for one mailbox, with credentials
// already decrypted by the caller.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
}

// AuthError means the IMAP server rejected the given credentials. It is
// fatal for the mailbox: the coordinator marks status=ERROR and does not
// retry until an operator rotates the credentials.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap auth failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Result is what Fetch returns: the ordered messages plus whether the
// stream was cut short by batch_size.
type Result struct {
	Messages []model.RawMessage
	Bounded  bool
}

// Fetch implements the algorithm: connect, login, select INBOX, search,
// stream-fetch, parse, stop at BatchSize, always close the connection.
func Fetch(ctx context.Context, target Target, lastUID uint32, opts Options) (Result, error) {
	client, conn, err := dial(ctx, target, opts.Timeouts)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		_ = client.Logout().Wait()
		_ = client.Close()
	}()

	if err := resetSocketDeadline(conn, opts.Timeouts.Socket); err != nil {
		return Result{}, &model.TransientError{Reason: "resetting socket deadline", Err: err}
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return Result{}, &model.TransientError{Reason: "selecting INBOX", Err: err}
	}

	criteria := searchCriteria(lastUID, opts.SinceDays, time.Now())

	if err := resetSocketDeadline(conn, opts.Timeouts.Socket); err != nil {
		return Result{}, &model.TransientError{Reason: "resetting socket deadline", Err: err}
	}
	searchData, err := client.UIDSearch(&criteria, nil).Wait()
	if err != nil {
		return Result{}, &model.TransientError{Reason: "UID SEARCH", Err: err}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return Result{}, nil
	}

	bounded := false
	if opts.BatchSize > 0 && len(uids) > opts.BatchSize {
		uids = uids[:opts.BatchSize]
		bounded = true
	}

	fetchOpts := &imap.FetchOptions{
		UID:           true,
		Envelope:      true,
		BodyStructure: &imap.FetchItemBodyStructure{},
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierNone, Peek: true},
		},
	}

	if err := resetSocketDeadline(conn, opts.Timeouts.Socket); err != nil {
		return Result{}, &model.TransientError{Reason: "resetting socket deadline", Err: err}
	}
	uidSet := imap.UIDSetNum(uids...)
	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	var messages []model.RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue // per-message parse failures never abort the whole batch
		}
		raw, err := parseMessage(buf, target.Host)
		if err != nil {
			continue
		}
		raw.BatchBound = bounded
		messages = append(messages, raw)
	}
	if err := resetSocketDeadline(conn, opts.Timeouts.Socket); err != nil {
		return Result{Messages: messages, Bounded: bounded}, &model.TransientError{Reason: "resetting socket deadline", Err: err}
	}
	if err := fetchCmd.Close(); err != nil {
		return Result{Messages: messages, Bounded: bounded}, &model.TransientError{Reason: "UID FETCH", Err: err}
	}

	return Result{Messages: messages, Bounded: bounded}, nil
}

// resetSocketDeadline re-arms conn's read/write deadline ahead of the next
// blocking IMAP command, so opts.Timeouts.Socket bounds each command
// individually rather than the whole session.
func resetSocketDeadline(conn net.Conn, timeout time.Duration) error {
	if timeout <= 0 {
		return conn.SetDeadline(time.Time{})
	}
	return conn.SetDeadline(time.Now().Add(timeout))
}

// dial opens the TLS connection, bounds the wait for the server's initial
// greeting with timeouts.Greeting, then logs in under timeouts.Socket. It
// returns the raw net.Conn alongside the client so callers can keep
// re-arming the socket deadline around later commands (imapclient doesn't
// expose one itself).
func dial(ctx context.Context, target Target, timeouts reliability.TimeoutConfig) (*imapclient.Client, net.Conn, error) {
	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", target.Port))
	cb := breakerFor(target.Host)

	var conn net.Conn
	err := cb.Execute(func() error {
		return reliability.RetryWithBackoff(ctx, reliability.IMAPConnectRetryConfig(), func() error {
			return reliability.WithTimeout(timeouts.Connect, func(_ context.Context) error {
				d := &net.Dialer{Timeout: timeouts.Connect}
				c, dialErr := tls.DialWithDialer(d, "tcp", addr, &tls.Config{ServerName: target.Host})
				if dialErr == nil {
					conn = c
				}
				return dialErr
			})
		})
	})
	if err != nil {
		return nil, nil, &model.TransientError{Reason: fmt.Sprintf("dialing %s", addr), Err: err}
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeouts.Greeting)); err != nil {
		_ = conn.Close()
		return nil, nil, &model.TransientError{Reason: "arming greeting deadline", Err: err}
	}

	client := imapclient.New(conn, &imapclient.Options{})

	if err := resetSocketDeadline(conn, timeouts.Socket); err != nil {
		_ = client.Close()
		return nil, nil, &model.TransientError{Reason: "resetting socket deadline", Err: err}
	}
	if err := client.Login(target.Username, target.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, &model.FatalMailboxError{Reason: "login", Err: &AuthError{Username: target.Username, Err: err}}
	}

	return client, conn, nil
}

// searchCriteria builds the UID SEARCH criteria: first sync (lastUID ==
// 0) uses SINCE only, never a UID range starting at 0.
func searchCriteria(lastUID uint32, sinceDays int, now time.Time) imap.SearchCriteria {
	since := now.AddDate(0, 0, -sinceDays)
	criteria := imap.SearchCriteria{Since: since}
	if lastUID > 0 {
		uidSet := imap.UIDSet{}
		uidSet.AddRange(imap.UID(lastUID+1), 0) // 0 means "*" (no upper bound)
		criteria.UID = []imap.UIDSet{uidSet}
	}
	return criteria
}
