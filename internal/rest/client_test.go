package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/chaterr"
	"github.com/sahyam2023/dashboard-sub001/internal/devserver"
	"github.com/sahyam2023/dashboard-sub001/internal/events"
	"github.com/sahyam2023/dashboard-sub001/internal/session"
)

func newClient(t *testing.T, baseURL, token string, timeout time.Duration) (*Client, *events.Bus) {
	t.Helper()
	log := zap.NewNop().Sugar()
	bus := events.NewBus(log)
	sess, err := session.New(bus, token)
	require.NoError(t, err)
	return New(Options{
		BaseURL: baseURL,
		Timeout: timeout,
		Session: sess,
		Logger:  log,
	}), bus
}

func testToken(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := devserver.NewToken("irrelevant", userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		code int
		want error
	}{
		{"unauthorized", http.StatusUnauthorized, chaterr.ErrSessionInvalid},
		{"not found", http.StatusNotFound, chaterr.ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, chaterr.ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer ts.Close()

			c, _ := newClient(t, ts.URL, testToken(t, 1), time.Second)
			_, err := c.ListConversations(context.Background())
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTimeoutIsNetworkUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer ts.Close()

	c, _ := newClient(t, ts.URL, testToken(t, 1), 50*time.Millisecond)
	_, err := c.ListConversations(context.Background())
	assert.ErrorIs(t, err, chaterr.ErrNetworkUnavailable)
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"conversations":[]}`))
	}))
	defer ts.Close()

	log := zap.NewNop().Sugar()
	bus := events.NewBus(log)
	sess, err := session.New(bus, testToken(t, 1))
	require.NoError(t, err)
	c := New(Options{
		BaseURL:         ts.URL,
		Timeout:         time.Second,
		RetryMaxElapsed: 5 * time.Second,
		Session:         sess,
		Logger:          log,
	})

	_, err = c.ListConversations(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestUnauthorizedInvalidatesSessionOnce(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c, bus := newClient(t, ts.URL, testToken(t, 1), time.Second)
	sub, cancel := bus.Subscribe(8)
	defer cancel()

	_, err := c.ListConversations(context.Background())
	assert.ErrorIs(t, err, chaterr.ErrSessionInvalid)
	_, err = c.ListConversations(context.Background())
	assert.ErrorIs(t, err, chaterr.ErrSessionInvalid)

	var signals int
	for done := false; !done; {
		select {
		case ev := <-sub:
			if _, ok := ev.(events.SessionInvalid); ok {
				signals++
			}
		case <-time.After(100 * time.Millisecond):
			done = true
		}
	}
	assert.Equal(t, 1, signals, "invalidation is announced exactly once")
}

func TestBearerHeaderSent(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"conversations":[]}`))
	}))
	defer ts.Close()

	tok := testToken(t, 7)
	c, _ := newClient(t, ts.URL, tok, time.Second)
	_, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+tok, got)
}
