// Package directory is the single authority for pair->conversation identity
// on this client. Pair canonicalization lives here and nowhere else.
package directory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sahyam2023/dashboard-sub001/internal/models"
	"github.com/sahyam2023/dashboard-sub001/internal/rest"
)

type Directory struct {
	rest *rest.Client
	log  *zap.SugaredLogger
	self int64

	// flight collapses concurrent resolves for the same peer into one
	// outstanding creation request.
	flight singleflight.Group

	mu     sync.Mutex
	byPair map[models.Pair]int64
	byID   map[int64]*models.Conversation
}

func New(rc *rest.Client, selfID int64, log *zap.SugaredLogger) *Directory {
	return &Directory{
		rest:   rc,
		log:    log,
		self:   selfID,
		byPair: make(map[models.Pair]int64),
		byID:   make(map[int64]*models.Conversation),
	}
}

// Resolve returns the one conversation for the unordered pair (self, other),
// creating it if absent. Concurrent calls for the same peer share a single
// in-flight request; calls from both participants converge on the same id.
func (d *Directory) Resolve(ctx context.Context, otherUserID int64) (models.Conversation, error) {
	pair := models.MakePair(d.self, otherUserID)

	d.mu.Lock()
	if id, ok := d.byPair[pair]; ok {
		conv := *d.byID[id]
		d.mu.Unlock()
		return conv, nil
	}
	d.mu.Unlock()

	key := strconv.FormatInt(otherUserID, 10)
	v, err, _ := d.flight.Do(key, func() (any, error) {
		conv, err := d.rest.ResolveConversation(ctx, otherUserID)
		if err != nil {
			return nil, err
		}
		d.store(conv)
		return conv, nil
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return v.(models.Conversation), nil
}

// Refresh replaces the cache with the server's conversation list.
func (d *Directory) Refresh(ctx context.Context) error {
	convs, err := d.rest.ListConversations(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.byPair = make(map[models.Pair]int64, len(convs))
	d.byID = make(map[int64]*models.Conversation, len(convs))
	d.mu.Unlock()
	for _, conv := range convs {
		d.store(conv)
	}
	return nil
}

// List returns the cached conversations ordered by last-message time,
// descending. Empty conversations order by creation time.
func (d *Directory) List() []models.Conversation {
	d.mu.Lock()
	out := make([]models.Conversation, 0, len(d.byID))
	for _, c := range d.byID {
		out = append(out, *c)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].ActivityTime(), out[j].ActivityTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Get returns the cached conversation by id.
func (d *Directory) Get(id int64) (models.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byID[id]
	if !ok {
		return models.Conversation{}, false
	}
	return *c, true
}

func (d *Directory) store(conv models.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := conv
	d.byPair[conv.Pair] = conv.ID
	d.byID[conv.ID] = &cp
}

// ApplyMessage updates the last-message snapshot (and unread count for
// inbound messages) when the synchronizer reports a new message.
func (d *Directory) ApplyMessage(msg models.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byID[msg.ConversationID]
	if !ok {
		// First sign of a conversation created by the peer; synthesize the
		// shell until the next Refresh fills in created_at.
		c = &models.Conversation{
			ID:   msg.ConversationID,
			Pair: models.MakePair(msg.SenderID, msg.RecipientID),
		}
		d.byPair[c.Pair] = c.ID
		d.byID[c.ID] = c
	}
	if c.LastMessage == nil || c.LastMessage.Before(msg) {
		cp := msg
		c.LastMessage = &cp
	}
	if msg.RecipientID == d.self && !msg.IsRead {
		c.UnreadCount++
	}
}

// ApplyRead decrements the unread count after messages were marked read.
func (d *Directory) ApplyRead(conversationID int64, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.byID[conversationID]; ok {
		c.UnreadCount -= count
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
	}
}

// ApplyCleared zeroes cleared conversations. The shell record stays listed.
func (d *Directory) ApplyCleared(ids []int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if c, ok := d.byID[id]; ok {
			c.LastMessage = nil
			c.UnreadCount = 0
		}
	}
}

// UnreadTotal sums unread counts across all conversations.
func (d *Directory) UnreadTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.byID {
		n += c.UnreadCount
	}
	return n
}
