// Package events is the typed in-process bus connecting the channel layer to
// the caches. It replaces stringly-typed global broadcast: every signal is a
// concrete Go type, and consumers switch on it.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/models"
)

// ConnState mirrors the connection manager's state machine for consumers that
// only care about the announcement, not the machine itself.
type ConnState string

const (
	StateDisconnected  ConnState = "disconnected"
	StateConnecting    ConnState = "connecting"
	StateAuthenticated ConnState = "authenticated"
	StateJoined        ConnState = "joined"
	StateActive        ConnState = "active"
)

type Event any

// StateChanged announces a connection state transition.
type StateChanged struct {
	Old ConnState
	New ConnState
}

// MessageReceived carries a server-pushed message.
type MessageReceived struct {
	Message models.Message
}

// PresenceChanged carries a server-pushed presence update for a peer.
type PresenceChanged struct {
	UserID   int64
	Status   models.PresenceStatus
	LastSeen *time.Time
}

// MessagesRead announces that the peer read some of our messages.
type MessagesRead struct {
	ConversationID int64
	MessageIDs     []int64
	ReaderID       int64
}

// SessionInvalid announces credential rejection. The owning application must
// re-authenticate; nothing below it retries.
type SessionInvalid struct{}

// ConversationsCleared announces a completed batch clear for the given ids.
type ConversationsCleared struct {
	IDs []int64
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber that
// cannot keep up has the event dropped, same policy as a slow websocket
// client.
type Bus struct {
	log *zap.SugaredLogger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus(log *zap.SugaredLogger) *Bus {
	return &Bus{
		log:  log,
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// function removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warnw("dropped event for slow subscriber", "subscriber", id, "event", ev)
		}
	}
}

// Close removes all subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
