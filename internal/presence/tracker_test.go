package presence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/devserver"
	"github.com/sahyam2023/dashboard-sub001/internal/events"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
	"github.com/sahyam2023/dashboard-sub001/internal/rest"
	"github.com/sahyam2023/dashboard-sub001/internal/session"
)

func newREST(t *testing.T, baseURL string, timeout time.Duration) *rest.Client {
	t.Helper()
	log := zap.NewNop().Sugar()
	tok, err := devserver.NewToken("secret", 1, time.Hour)
	require.NoError(t, err)
	sess, err := session.New(events.NewBus(log), tok)
	require.NoError(t, err)
	return rest.New(rest.Options{BaseURL: baseURL, Timeout: timeout, Session: sess, Logger: log})
}

func TestGetServesPushedCache(t *testing.T) {
	// no server: a cache hit must not touch the network
	tr := New(newREST(t, "http://127.0.0.1:0", time.Second), 1, time.Second, zap.NewNop().Sugar())

	seen := time.Now().Add(-time.Minute)
	tr.HandlePresence(events.PresenceChanged{UserID: 2, Status: models.StatusOnline, LastSeen: &seen})

	rec := tr.Get(context.Background(), 2)
	assert.Equal(t, models.StatusOnline, rec.Status)
	require.NotNil(t, rec.LastSeen)
}

func TestGetFallsBackToQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_id":2,"status":"offline","last_seen":"2026-03-01T10:00:00Z"}`))
	}))
	defer ts.Close()

	tr := New(newREST(t, ts.URL, time.Second), 1, time.Second, zap.NewNop().Sugar())
	rec := tr.Get(context.Background(), 2)
	assert.Equal(t, models.StatusOffline, rec.Status)
	require.NotNil(t, rec.LastSeen)

	// the answer is cached for the next call
	ts.Close()
	rec = tr.Get(context.Background(), 2)
	assert.Equal(t, models.StatusOffline, rec.Status)
}

func TestSlowQueryDegradesToUnknown(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer ts.Close()

	tr := New(newREST(t, ts.URL, 5*time.Second), 1, 50*time.Millisecond, zap.NewNop().Sugar())

	start := time.Now()
	rec := tr.Get(context.Background(), 2)
	assert.Equal(t, models.StatusUnknown, rec.Status, "timeout degrades, never errors")
	assert.Less(t, time.Since(start), 400*time.Millisecond, "bounded by the presence timeout")
}

func TestSelfPresenceFollowsConnectionState(t *testing.T) {
	tr := New(newREST(t, "http://127.0.0.1:0", time.Second), 1, time.Second, zap.NewNop().Sugar())

	assert.Equal(t, models.StatusOffline, tr.Get(context.Background(), 1).Status)
	tr.HandleState(events.StateActive)
	assert.Equal(t, models.StatusOnline, tr.Get(context.Background(), 1).Status)
	tr.HandleState(events.StateDisconnected)
	assert.Equal(t, models.StatusOffline, tr.Get(context.Background(), 1).Status)
}
