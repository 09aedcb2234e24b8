// Package presence maintains online/offline/last-seen per user from channel
// push events, with an on-demand REST fallback that degrades to "unknown"
// instead of blocking the caller.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/events"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
	"github.com/sahyam2023/dashboard-sub001/internal/rest"
)

// cacheTTL bounds how long a pushed record is trusted without refresh.
const cacheTTL = 2 * time.Minute

type entry struct {
	record    models.PresenceRecord
	updatedAt time.Time
}

type Tracker struct {
	rest    *rest.Client
	log     *zap.SugaredLogger
	self    int64
	timeout time.Duration

	mu         sync.Mutex
	cache      map[int64]entry
	selfOnline bool
}

func New(rc *rest.Client, selfID int64, queryTimeout time.Duration, log *zap.SugaredLogger) *Tracker {
	if queryTimeout == 0 {
		queryTimeout = 3 * time.Second
	}
	return &Tracker{
		rest:    rc,
		log:     log,
		self:    selfID,
		timeout: queryTimeout,
		cache:   make(map[int64]entry),
	}
}

// Get returns presence for a user. Self-presence derives from the channel
// state; peers are served from the push-updated cache, then an on-demand
// query with a bounded timeout, then "unknown".
func (t *Tracker) Get(ctx context.Context, userID int64) models.PresenceRecord {
	if userID == t.self {
		t.mu.Lock()
		online := t.selfOnline
		t.mu.Unlock()
		status := models.StatusOffline
		if online {
			status = models.StatusOnline
		}
		return models.PresenceRecord{UserID: userID, Status: status}
	}

	t.mu.Lock()
	if e, ok := t.cache[userID]; ok && time.Since(e.updatedAt) < cacheTTL {
		rec := e.record
		t.mu.Unlock()
		return rec
	}
	t.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	rec, err := t.rest.UserStatus(qctx, userID)
	if err != nil {
		t.log.Debugw("presence query degraded to unknown", "user", userID, "err", err)
		return models.PresenceRecord{UserID: userID, Status: models.StatusUnknown}
	}
	rec.UserID = userID
	if rec.Status == "" {
		rec.Status = models.StatusOffline
	}
	t.store(rec)
	return rec
}

// HandlePresence applies a pushed presence change.
func (t *Tracker) HandlePresence(ev events.PresenceChanged) {
	t.store(models.PresenceRecord{UserID: ev.UserID, Status: ev.Status, LastSeen: ev.LastSeen})
}

// HandleState derives self-presence from the connection state machine.
func (t *Tracker) HandleState(state events.ConnState) {
	t.mu.Lock()
	t.selfOnline = state == events.StateActive
	t.mu.Unlock()
}

func (t *Tracker) store(rec models.PresenceRecord) {
	t.mu.Lock()
	t.cache[rec.UserID] = entry{record: rec, updatedAt: time.Now()}
	t.mu.Unlock()
}
