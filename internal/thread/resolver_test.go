package thread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/store"
)

func TestResolve_NewThreadWhenNothingMatches(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, true)

	msg := model.RawMessage{
		Subject:    "Hello there",
		From:       model.Address{Addr: "a@example.com"},
		ReceivedAt: time.Now(),
	}
	threadID, err := r.Resolve(context.Background(), "mbox-1", "user-1", msg)
	require.NoError(t, err)
	require.NotEmpty(t, threadID)

	got, err := st.GetThread(context.Background(), threadID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "hello there", got.NormalizedSubject)
}

func TestResolve_HeaderChainWins(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, true)
	ctx := context.Background()

	require.NoError(t, st.InsertEmail(ctx, &model.Email{
		ID:        "e1",
		MailboxID: "mbox-1",
		UID:       1,
		MessageID: "root@example.com",
		ThreadID:  "thread-root",
	}))

	reply := model.RawMessage{
		Subject:    "Re: Kickoff",
		From:       model.Address{Addr: "b@example.com"},
		InReplyTo:  "root@example.com",
		ReceivedAt: time.Now(),
	}
	threadID, err := r.Resolve(ctx, "mbox-1", "user-1", reply)
	require.NoError(t, err)
	require.Equal(t, "thread-root", threadID)
}

func TestResolve_SubjectFallbackWithinWindow(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, true)
	ctx := context.Background()

	existing := &model.Thread{
		ID:                "thread-existing",
		MailboxID:         "mbox-1",
		NormalizedSubject: "quarterly report",
		LastMessageAt:     time.Now().Add(-2 * 24 * time.Hour),
	}
	require.NoError(t, st.InsertThread(ctx, existing))

	msg := model.RawMessage{
		Subject:    "Re: Quarterly Report",
		From:       model.Address{Addr: "c@example.com"},
		ReceivedAt: time.Now(),
	}
	threadID, err := r.Resolve(ctx, "mbox-1", "user-1", msg)
	require.NoError(t, err)
	require.Equal(t, "thread-existing", threadID)
}

func TestResolve_SubjectFallbackDisabled(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, false)
	ctx := context.Background()

	existing := &model.Thread{
		ID:                "thread-existing",
		MailboxID:         "mbox-1",
		NormalizedSubject: "quarterly report",
		LastMessageAt:     time.Now(),
	}
	require.NoError(t, st.InsertThread(ctx, existing))

	msg := model.RawMessage{
		Subject:    "Re: Quarterly Report",
		From:       model.Address{Addr: "c@example.com"},
		ReceivedAt: time.Now(),
	}
	threadID, err := r.Resolve(ctx, "mbox-1", "user-1", msg)
	require.NoError(t, err)
	require.NotEqual(t, "thread-existing", threadID)
}

func TestResolve_SubjectFallbackOutsideWindowStartsNewThread(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, true)
	ctx := context.Background()

	existing := &model.Thread{
		ID:                "thread-old",
		MailboxID:         "mbox-1",
		NormalizedSubject: "quarterly report",
		LastMessageAt:     time.Now().Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, st.InsertThread(ctx, existing))

	msg := model.RawMessage{
		Subject:    "Re: Quarterly Report",
		From:       model.Address{Addr: "c@example.com"},
		ReceivedAt: time.Now(),
	}
	threadID, err := r.Resolve(ctx, "mbox-1", "user-1", msg)
	require.NoError(t, err)
	require.NotEqual(t, "thread-old", threadID)
}

func TestRecomputeAggregate(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, true)
	ctx := context.Background()

	require.NoError(t, st.InsertThread(ctx, &model.Thread{ID: "t1", MailboxID: "mbox-1"}))
	require.NoError(t, st.InsertEmail(ctx, &model.Email{
		ID: "e1", MailboxID: "mbox-1", UID: 1, MessageID: "m1", ThreadID: "t1",
		FromAddress: "a@example.com", ReceivedAt: time.Now().Add(-time.Hour), IsRead: true,
	}))
	require.NoError(t, st.InsertEmail(ctx, &model.Email{
		ID: "e2", MailboxID: "mbox-1", UID: 2, MessageID: "m2", ThreadID: "t1",
		FromAddress: "b@example.com", ToAddresses: []string{"a@example.com"},
		ReceivedAt: time.Now(), IsRead: false,
	}))

	require.NoError(t, r.RecomputeAggregate(ctx, "t1"))

	got, err := st.GetThread(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2, got.MessageCount)
	require.True(t, got.IsUnread)
	require.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, got.Participants)
}
