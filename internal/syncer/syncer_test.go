package syncer

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/devserver"
	"github.com/sahyam2023/dashboard-sub001/internal/directory"
	"github.com/sahyam2023/dashboard-sub001/internal/events"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
	"github.com/sahyam2023/dashboard-sub001/internal/rest"
	"github.com/sahyam2023/dashboard-sub001/internal/session"
)

type env struct {
	srv *devserver.Server
	ts  *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv, err := devserver.New(devserver.Options{Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &env{srv: srv, ts: ts}
}

func (e *env) user(t *testing.T, name string) (int64, *rest.Client) {
	t.Helper()
	u, err := e.srv.CreateUser(name)
	require.NoError(t, err)
	tok, err := e.srv.TokenFor(u.ID)
	require.NoError(t, err)
	log := zap.NewNop().Sugar()
	sess, err := session.New(events.NewBus(log), tok)
	require.NoError(t, err)
	return u.ID, rest.New(rest.Options{
		BaseURL: e.ts.URL,
		Timeout: 5 * time.Second,
		Session: sess,
		Logger:  log,
	})
}

func newSyncer(rc *rest.Client, self int64, snaps Snapshots, pageSize int) *Syncer {
	return New(Options{
		REST:      rc,
		SelfID:    self,
		Snapshots: snaps,
		PageSize:  pageSize,
		Logger:    zap.NewNop().Sugar(),
	})
}

func seedConversation(t *testing.T, e *env, aliceREST *rest.Client, bobREST *rest.Client, bobID int64, n int) int64 {
	t.Helper()
	ctx := context.Background()
	conv, err := aliceREST.ResolveConversation(ctx, bobID)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		// alternate senders so both directions appear in history
		rc := aliceREST
		if i%2 == 1 {
			rc = bobREST
		}
		_, err := rc.SendMessage(ctx, conv.ID, "m", nil)
		require.NoError(t, err)
	}
	return conv.ID
}

func TestLoadPagesNoDuplicatesNoGaps(t *testing.T) {
	e := newEnv(t)
	aliceID, aliceREST := e.user(t, "alice")
	bobID, bobREST := e.user(t, "bob")
	convID := seedConversation(t, e, aliceREST, bobREST, bobID, 23)

	s := newSyncer(aliceREST, aliceID, nil, 10)
	ctx := context.Background()
	for offset := 0; ; {
		page, err := s.LoadPage(ctx, convID, 10, offset)
		require.NoError(t, err)
		offset += len(page)
		if len(page) < 10 {
			break
		}
	}

	msgs := s.Messages(convID)
	require.Len(t, msgs, 23)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i-1].Before(msgs[i]), "strictly ordered by (created_at, id)")
	}

	// re-loading a page merges idempotently
	_, err := s.LoadPage(ctx, convID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, s.Messages(convID), 23)
}

func TestPushAndHistoryReconcileByID(t *testing.T) {
	e := newEnv(t)
	aliceID, aliceREST := e.user(t, "alice")
	bobID, bobREST := e.user(t, "bob")
	convID := seedConversation(t, e, aliceREST, bobREST, bobID, 5)

	s := newSyncer(aliceREST, aliceID, nil, 50)
	ctx := context.Background()
	page, err := s.LoadPage(ctx, convID, 50, 0)
	require.NoError(t, err)
	require.Len(t, page, 5)

	// the same message arriving over the channel is a no-op
	s.HandleMessage(page[2])
	assert.Len(t, s.Messages(convID), 5)
}

func TestOptimisticSendCommitsInComposeOrder(t *testing.T) {
	e := newEnv(t)
	aliceID, aliceREST := e.user(t, "alice")
	bobID, _ := e.user(t, "bob")
	ctx := context.Background()
	conv, err := aliceREST.ResolveConversation(ctx, bobID)
	require.NoError(t, err)

	s := newSyncer(aliceREST, aliceID, nil, 50)
	s.SetOnline(true)

	p1 := s.Send(conv.ID, "first", nil)
	p2 := s.Send(conv.ID, "second", nil)
	p3 := s.Send(conv.ID, "third", nil)
	assert.Less(t, p1.ComposeOrder, p2.ComposeOrder)
	assert.Less(t, p2.ComposeOrder, p3.ComposeOrder)

	require.Eventually(t, func() bool {
		return len(s.Messages(conv.ID)) == 3
	}, 5*time.Second, 10*time.Millisecond)

	msgs := s.Messages(conv.ID)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{msgs[0].Content, msgs[1].Content, msgs[2].Content})

	// no pending entries remain
	for _, e := range s.Entries(conv.ID) {
		assert.Nil(t, e.Pending)
	}
}

func TestOfflineComposeFlushesOnceOnReconnect(t *testing.T) {
	e := newEnv(t)
	aliceID, aliceREST := e.user(t, "alice")
	bobID, _ := e.user(t, "bob")
	ctx := context.Background()
	conv, err := aliceREST.ResolveConversation(ctx, bobID)
	require.NoError(t, err)

	s := newSyncer(aliceREST, aliceID, nil, 50)
	// offline: sends stay queued
	s.Send(conv.ID, "queued-1", nil)
	s.Send(conv.ID, "queued-2", nil)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.Messages(conv.ID))

	entries := s.Entries(conv.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, models.PendingQueued, entries[0].Pending.State)

	// reconnect: flushed exactly once, compose order preserved
	s.SetOnline(true)
	require.Eventually(t, func() bool {
		return len(s.Messages(conv.ID)) == 2
	}, 5*time.Second, 10*time.Millisecond)

	msgs := s.Messages(conv.ID)
	assert.Equal(t, "queued-1", msgs[0].Content)
	assert.Equal(t, "queued-2", msgs[1].Content)
	assert.Len(t, s.Entries(conv.ID), 2, "pending entries were promoted, not duplicated")
}

func TestBackfillClosesGap(t *testing.T) {
	e := newEnv(t)
	aliceID, aliceREST := e.user(t, "alice")
	bobID, bobREST := e.user(t, "bob")
	convID := seedConversation(t, e, aliceREST, bobREST, bobID, 4)

	dir := directory.New(aliceREST, aliceID, zap.NewNop().Sugar())
	s := newSyncer(aliceREST, aliceID, dir, 50)
	ctx := context.Background()
	_, err := s.LoadPage(ctx, convID, 50, 0)
	require.NoError(t, err)
	require.Len(t, s.Messages(convID), 4)

	// messages land while "disconnected"
	for i := 0; i < 3; i++ {
		_, err := bobREST.SendMessage(ctx, convID, "missed", nil)
		require.NoError(t, err)
	}

	s.Backfill(ctx)
	msgs := s.Messages(convID)
	require.Len(t, msgs, 7)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i-1].Before(msgs[i]))
	}
}

func TestFailedSendIsKeptForRetry(t *testing.T) {
	e := newEnv(t)
	aliceID, aliceREST := e.user(t, "alice")
	_, _ = e.user(t, "bob")

	s := newSyncer(aliceREST, aliceID, nil, 50)
	s.SetOnline(true)

	// conversation 999 does not exist: the server rejects the send
	p := s.Send(999, "doomed", nil)
	require.Eventually(t, func() bool {
		entries := s.Entries(999)
		return len(entries) == 1 && entries[0].Pending != nil &&
			entries[0].Pending.State == models.PendingFailed
	}, 5*time.Second, 10*time.Millisecond)

	entries := s.Entries(999)
	assert.NotEmpty(t, entries[0].Pending.LastError, "failure is surfaced, not silently dropped")

	assert.True(t, s.Discard(999, p.ClientID))
	assert.Empty(t, s.Entries(999))
}

func TestMarkReadUpdatesUnread(t *testing.T) {
	e := newEnv(t)
	aliceID, aliceREST := e.user(t, "alice")
	bobID, bobREST := e.user(t, "bob")
	ctx := context.Background()
	conv, err := aliceREST.ResolveConversation(ctx, bobID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := bobREST.SendMessage(ctx, conv.ID, "to alice", nil)
		require.NoError(t, err)
	}

	dir := directory.New(aliceREST, aliceID, zap.NewNop().Sugar())
	require.NoError(t, dir.Refresh(ctx))
	require.Equal(t, 3, dir.UnreadTotal())

	s := newSyncer(aliceREST, aliceID, dir, 50)
	_, err = s.LoadPage(ctx, conv.ID, 50, 0)
	require.NoError(t, err)
	require.Equal(t, 3, s.UnreadCount(conv.ID))

	msgs := s.Messages(conv.ID)
	require.NoError(t, s.MarkRead(ctx, conv.ID, []int64{msgs[0].ID}))

	assert.Equal(t, 2, s.UnreadCount(conv.ID))
	assert.Equal(t, 2, dir.UnreadTotal(), "count decreases by exactly one per message read")
}

func TestAbortedPageLoadIsDiscarded(t *testing.T) {
	e := newEnv(t)
	aliceID, aliceREST := e.user(t, "alice")
	bobID, bobREST := e.user(t, "bob")
	convID := seedConversation(t, e, aliceREST, bobREST, bobID, 3)

	s := newSyncer(aliceREST, aliceID, nil, 50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.LoadPage(ctx, convID, 50, 0)
	assert.Error(t, err)
	assert.Empty(t, s.Messages(convID), "late result never applied to a closed view")
}
