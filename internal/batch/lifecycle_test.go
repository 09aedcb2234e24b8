package batch

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/chaterr"
	"github.com/sahyam2023/dashboard-sub001/internal/devserver"
	"github.com/sahyam2023/dashboard-sub001/internal/events"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
	"github.com/sahyam2023/dashboard-sub001/internal/rest"
	"github.com/sahyam2023/dashboard-sub001/internal/session"
)

type clearedRecorder struct {
	ids []int64
}

func (r *clearedRecorder) ApplyCleared(ids []int64) { r.ids = append(r.ids, ids...) }

func setup(t *testing.T) (*devserver.Server, *rest.Client, int64, int64) {
	t.Helper()
	log := zap.NewNop().Sugar()
	srv, err := devserver.New(devserver.Options{Logger: log})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	alice, err := srv.CreateUser("alice")
	require.NoError(t, err)
	bob, err := srv.CreateUser("bob")
	require.NoError(t, err)
	tok, err := srv.TokenFor(alice.ID)
	require.NoError(t, err)
	sess, err := session.New(events.NewBus(log), tok)
	require.NoError(t, err)
	rc := rest.New(rest.Options{BaseURL: ts.URL, Timeout: 5 * time.Second, Session: sess, Logger: log})
	return srv, rc, alice.ID, bob.ID
}

func TestPartialFailureReportsPerConversation(t *testing.T) {
	srv, rc, _, bobID := setup(t)
	ctx := context.Background()

	convA, err := rc.ResolveConversation(ctx, bobID)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := rc.SendMessage(ctx, convA.ID, "a", nil)
		require.NoError(t, err)
	}

	carol, err := srv.CreateUser("carol")
	require.NoError(t, err)
	convB, err := rc.ResolveConversation(ctx, carol.ID)
	require.NoError(t, err)
	_, err = rc.SendMessage(ctx, convB.ID, "b", nil)
	require.NoError(t, err)

	// B's underlying file deletion errors
	srv.FailFileDeletion = func(id int64) error {
		if id == convB.ID {
			return errors.New("disk gone")
		}
		return nil
	}

	rec := &clearedRecorder{}
	mgr := New(rc, nil, zap.NewNop().Sugar(), rec)
	outcomes, err := mgr.Clear(ctx, []int64{convA.ID, convB.ID})
	require.NoError(t, err, "the call itself dispatched fine")
	require.Len(t, outcomes, 2)

	byID := map[int64]models.ClearOutcome{}
	for _, o := range outcomes {
		byID[o.ConversationID] = o
	}
	assert.Equal(t, models.ClearStatusCleared, byID[convA.ID].Status)
	assert.Equal(t, 2, byID[convA.ID].MessagesDeleted)
	assert.Equal(t, models.ClearStatusError, byID[convB.ID].Status)
	assert.NotEmpty(t, byID[convB.ID].Error)

	// only the cleared id was flushed from local caches
	assert.Equal(t, []int64{convA.ID}, rec.ids)

	// A really is empty, B untouched
	msgs, err := rc.ListMessages(ctx, convA.ID, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	msgs, err = rc.ListMessages(ctx, convB.ID, 50, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestDispatchFailureIsTopLevel(t *testing.T) {
	log := zap.NewNop().Sugar()
	tok, err := devserver.NewToken("s", 1, time.Hour)
	require.NoError(t, err)
	sess, err := session.New(events.NewBus(log), tok)
	require.NoError(t, err)
	// nothing listens on this port
	rc := rest.New(rest.Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, Session: sess, Logger: log})

	mgr := New(rc, nil, log, &clearedRecorder{})
	_, err = mgr.Clear(context.Background(), []int64{1, 2})
	assert.ErrorIs(t, err, chaterr.ErrNetworkUnavailable)
}

func TestEmptyClearIsNoop(t *testing.T) {
	mgr := New(nil, nil, zap.NewNop().Sugar())
	outcomes, err := mgr.Clear(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, outcomes)
}
