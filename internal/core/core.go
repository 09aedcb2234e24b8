// Package core composes the messaging components behind one injectable
// service. The owning application constructs a Client from configuration and
// a bearer credential, starts it, and depends on the component interfaces
// rather than any global state.
package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/attachments"
	"github.com/sahyam2023/dashboard-sub001/internal/batch"
	"github.com/sahyam2023/dashboard-sub001/internal/config"
	"github.com/sahyam2023/dashboard-sub001/internal/connection"
	"github.com/sahyam2023/dashboard-sub001/internal/directory"
	"github.com/sahyam2023/dashboard-sub001/internal/events"
	"github.com/sahyam2023/dashboard-sub001/internal/presence"
	"github.com/sahyam2023/dashboard-sub001/internal/rest"
	"github.com/sahyam2023/dashboard-sub001/internal/session"
	"github.com/sahyam2023/dashboard-sub001/internal/syncer"
)

type Client struct {
	Bus         *events.Bus
	Session     *session.Session
	REST        *rest.Client
	Conn        *connection.Manager
	Directory   *directory.Directory
	Syncer      *syncer.Syncer
	Presence    *presence.Tracker
	Attachments *attachments.Ingestor
	Batch       *batch.Manager

	log    *zap.SugaredLogger
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg *config.Config, token string, log *zap.SugaredLogger) (*Client, error) {
	bus := events.NewBus(log)
	sess, err := session.New(bus, token)
	if err != nil {
		return nil, err
	}

	rc := rest.New(rest.Options{
		BaseURL:         cfg.BaseURL,
		Timeout:         cfg.RequestTimeout,
		RetryMaxElapsed: cfg.RequestTimeout,
		Session:         sess,
		Logger:          log,
	})

	dir := directory.New(rc, sess.UserID(), log)
	sync := syncer.New(syncer.Options{
		REST:      rc,
		SelfID:    sess.UserID(),
		Snapshots: dir,
		PageSize:  cfg.PageSize,
		Logger:    log,
	})
	conn := connection.New(connection.Options{
		WSURL:            cfg.WSURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReconnectCap:     cfg.ReconnectCap,
		Session:          sess,
		Bus:              bus,
		Logger:           log,
	})

	return &Client{
		Bus:         bus,
		Session:     sess,
		REST:        rc,
		Conn:        conn,
		Directory:   dir,
		Syncer:      sync,
		Presence:    presence.New(rc, sess.UserID(), cfg.PresenceTimeout, log),
		Attachments: attachments.New(rc, cfg.MaxAttachmentBytes, log),
		Batch:       batch.New(rc, bus, log, dir, sync),
		log:         log,
	}, nil
}

// Start opens the channel and begins routing bus events into the caches. All
// cache mutation driven by the channel happens on this one dispatch loop.
func (c *Client) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	sub, unsub := c.Bus.Subscribe(256)
	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				c.route(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	c.Conn.Start()
}

func (c *Client) route(ctx context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.MessageReceived:
		c.Syncer.HandleMessage(e.Message)
	case events.PresenceChanged:
		c.Presence.HandlePresence(e)
	case events.MessagesRead:
		c.Syncer.HandleRead(e.ConversationID, e.MessageIDs)
	case events.StateChanged:
		c.Presence.HandleState(e.New)
		c.Syncer.SetOnline(e.New == events.StateActive)
		if e.New == events.StateActive {
			// Cover anything missed while disconnected.
			c.Syncer.Backfill(ctx)
		}
	case events.SessionInvalid:
		// Fatal for the connection. Re-authentication happens upstream; a
		// fresh credential means a fresh Client.
		c.log.Warnw("session invalidated, tearing down channel")
		go c.Conn.Close()
	}
}

// Close tears down the channel and the dispatch loop.
func (c *Client) Close() {
	c.Conn.Close()
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.Bus.Close()
}
