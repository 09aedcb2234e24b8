package devserver

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/models"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 65536
)

type wsClient struct {
	hub    *hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64
}

type outbound struct {
	userID  int64
	payload []byte
}

// hub tracks one active channel per user and pushes new_message, presence and
// read events. A second connect for the same user replaces the first.
type hub struct {
	store *Store
	log   *zap.SugaredLogger

	register   chan *wsClient
	unregister chan *wsClient
	out        chan outbound
	quit       chan struct{}

	clients map[int64]*wsClient
}

func newHub(store *Store, log *zap.SugaredLogger) *hub {
	return &hub{
		store:      store,
		log:        log,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		out:        make(chan outbound, 64),
		quit:       make(chan struct{}),
		clients:    make(map[int64]*wsClient),
	}
}

func (h *hub) run() {
	for {
		select {
		case cl := <-h.register:
			if prev, ok := h.clients[cl.userID]; ok {
				close(prev.send)
			}
			h.clients[cl.userID] = cl
			if err := h.store.SetOnline(cl.userID, true); err != nil {
				h.log.Warnw("mark online failed", "user", cl.userID, "err", err)
			}
			h.broadcastPresence(cl.userID, models.StatusOnline)

		case cl := <-h.unregister:
			if cur, ok := h.clients[cl.userID]; ok && cur == cl {
				delete(h.clients, cl.userID)
				close(cl.send)
				if err := h.store.SetOnline(cl.userID, false); err != nil {
					h.log.Warnw("mark offline failed", "user", cl.userID, "err", err)
				}
				h.broadcastPresence(cl.userID, models.StatusOffline)
			}

		case msg := <-h.out:
			h.deliver(msg.userID, msg.payload)

		case <-h.quit:
			for id, cl := range h.clients {
				delete(h.clients, id)
				close(cl.send)
			}
			return
		}
	}
}

func (h *hub) stop() { close(h.quit) }

func (h *hub) deliver(userID int64, payload []byte) {
	cl, ok := h.clients[userID]
	if !ok {
		return
	}
	select {
	case cl.send <- payload:
	default:
		// slow client: drop the connection, the reconnect backfill covers it
		delete(h.clients, userID)
		close(cl.send)
		h.log.Warnw("dropped slow channel client", "user", userID)
	}
}

// pushTo queues an envelope for one user. Safe from any goroutine.
func (h *hub) pushTo(userID int64, env models.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Errorw("marshal envelope", "err", err)
		return
	}
	select {
	case h.out <- outbound{userID: userID, payload: payload}:
	case <-h.quit:
	}
}

// broadcastPresence notifies every other connected user. Runs on the hub
// loop.
func (h *hub) broadcastPresence(userID int64, status models.PresenceStatus) {
	env := models.Envelope{Type: models.EventPresence, UserID: userID, Status: string(status)}
	if rec, err := h.store.UserStatus(userID); err == nil && rec.LastSeen != nil {
		env.LastSeen = rec.LastSeen.Format(time.RFC3339Nano)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	for id := range h.clients {
		if id != userID {
			h.deliver(id, payload)
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		if env.Type == models.EventJoin {
			c.hub.log.Debugw("channel joined", "user", c.userID)
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
