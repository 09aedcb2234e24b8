// Package connection owns the one long-lived duplex channel per session:
// handshake, channel join, keepalive and reconnect with capped backoff.
// Everything the server pushes is decoded here and published on the bus.
package connection

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/events"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
	"github.com/sahyam2023/dashboard-sub001/internal/session"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 65536

	initialBackoff = time.Second
)

type State int

const (
	Disconnected State = iota
	Connecting
	Authenticated
	Joined
	Active
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Joined:
		return "joined"
	case Active:
		return "active"
	default:
		return "disconnected"
	}
}

func (s State) announce() events.ConnState { return events.ConnState(s.String()) }

type Options struct {
	WSURL            string
	HandshakeTimeout time.Duration
	ReconnectCap     time.Duration
	Session          *session.Session
	Bus              *events.Bus
	Logger           *zap.SugaredLogger
}

type Manager struct {
	wsURL        string
	reconnectCap time.Duration
	sess         *session.Session
	bus          *events.Bus
	log          *zap.SugaredLogger
	dialer       *websocket.Dialer

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	wmu     sync.Mutex // serializes writes (join frame vs pings)
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(opts Options) *Manager {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReconnectCap == 0 {
		opts.ReconnectCap = 30 * time.Second
	}
	return &Manager{
		wsURL:        opts.WSURL,
		reconnectCap: opts.ReconnectCap,
		sess:         opts.Session,
		bus:          opts.Bus,
		log:          opts.Logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Start launches the connect/serve loop. Without a credential the manager
// stays Disconnected and Start is a no-op until the session gains one.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Close cancels any backoff wait, tears the channel down and waits for the
// loop to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	done := m.done
	started := m.started
	m.mu.Unlock()

	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	m.mu.Unlock()
	if old == s {
		return
	}
	m.log.Infow("connection state", "from", old.String(), "to", s.String())
	m.bus.Publish(events.StateChanged{Old: old.announce(), New: s.announce()})
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.setState(Disconnected)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = m.reconnectCap
	b.MaxElapsedTime = 0 // retry until cancelled

	for ctx.Err() == nil {
		if !m.sess.Valid() {
			return
		}
		m.setState(Connecting)

		conn, fatal, err := m.dial(ctx)
		if err != nil {
			if fatal {
				// Handshake rejection: the credential is dead. Do not retry.
				m.log.Warnw("handshake rejected, forcing re-authentication")
				m.sess.Invalidate()
				return
			}
			m.setState(Disconnected)
			select {
			case <-time.After(b.NextBackOff()):
				continue
			case <-ctx.Done():
				return
			}
		}

		b.Reset()
		m.setState(Authenticated)

		if err := m.join(conn); err != nil {
			m.log.Warnw("channel join failed", "err", err)
			conn.Close()
			m.setState(Disconnected)
			continue
		}
		m.setState(Joined)

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(Active)

		m.serve(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		m.setState(Disconnected)
	}
}

// dial opens the channel with the bearer credential in the handshake, never
// in-band after connect. fatal is true when the server rejected the
// credential itself.
func (m *Manager) dial(ctx context.Context) (conn *websocket.Conn, fatal bool, err error) {
	u := m.wsURL + "?token=" + url.QueryEscape(m.sess.Token())
	conn, resp, err := m.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil &&
			(resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, true, err
		}
		return nil, false, err
	}
	return conn, false, nil
}

// join scopes server pushes to the current user. Re-executed on every
// reconnect.
func (m *Manager) join(conn *websocket.Conn) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(models.Envelope{Type: models.EventJoin, UserID: m.sess.UserID()})
}

func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go m.keepalive(ctx, conn, stop)

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() == nil {
				m.log.Infow("channel closed", "err", err)
			}
			return
		}
		m.dispatch(env)
	}
}

func (m *Manager) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.wmu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.wmu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// dispatch converts a wire frame into a typed bus event. Unknown types are
// logged and dropped so newer servers stay compatible.
func (m *Manager) dispatch(env models.Envelope) {
	switch env.Type {
	case models.EventNewMessage:
		if env.Message == nil {
			return
		}
		m.bus.Publish(events.MessageReceived{Message: *env.Message})
	case models.EventPresence:
		var lastSeen *time.Time
		if env.LastSeen != "" {
			if t, err := time.Parse(time.RFC3339, env.LastSeen); err == nil {
				lastSeen = &t
			}
		}
		m.bus.Publish(events.PresenceChanged{
			UserID:   env.UserID,
			Status:   models.PresenceStatus(env.Status),
			LastSeen: lastSeen,
		})
	case models.EventRead:
		m.bus.Publish(events.MessagesRead{
			ConversationID: env.ConversationID,
			MessageIDs:     env.MessageIDs,
			ReaderID:       env.ReaderID,
		})
	default:
		m.log.Debugw("unknown channel event", "type", env.Type)
	}
}
