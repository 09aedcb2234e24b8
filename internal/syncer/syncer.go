// Package syncer keeps per-conversation timelines consistent: paginated
// history, live push, optimistic sends with reconciliation, and gap backfill
// after a reconnect. Merging is always idempotent by server message id, so a
// history page and a concurrently arriving push never produce duplicates.
package syncer

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/chaterr"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
	"github.com/sahyam2023/dashboard-sub001/internal/rest"
)

// Snapshots receives conversation-level rollups (last message, unread
// counts). The directory implements it.
type Snapshots interface {
	ApplyMessage(models.Message)
	ApplyRead(conversationID int64, count int)
}

type timeline struct {
	msgs    []models.Message
	known   map[int64]struct{}
	pending []*models.PendingSend
	// dispatching guards the one sender goroutine per conversation, so
	// compose order is preserved even when acks arrive out of order.
	dispatching bool
}

type Syncer struct {
	rest     *rest.Client
	log      *zap.SugaredLogger
	self     int64
	snaps    Snapshots
	pageSize int

	online     atomic.Bool
	composeSeq atomic.Int64

	mu    sync.Mutex
	convs map[int64]*timeline
}

type Options struct {
	REST      *rest.Client
	SelfID    int64
	Snapshots Snapshots
	PageSize  int
	Logger    *zap.SugaredLogger
}

func New(opts Options) *Syncer {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Syncer{
		rest:     opts.REST,
		log:      opts.Logger,
		self:     opts.SelfID,
		snaps:    opts.Snapshots,
		pageSize: opts.PageSize,
		convs:    make(map[int64]*timeline),
	}
}

func (s *Syncer) timelineLocked(conversationID int64) *timeline {
	t, ok := s.convs[conversationID]
	if !ok {
		t = &timeline{known: make(map[int64]struct{})}
		s.convs[conversationID] = t
	}
	return t
}

// insertLocked merges one committed message, keeping (created_at, id) order.
// Returns false when the id is already known.
func (t *timeline) insertLocked(msg models.Message) bool {
	if _, dup := t.known[msg.ID]; dup {
		return false
	}
	t.known[msg.ID] = struct{}{}
	i := sort.Search(len(t.msgs), func(i int) bool { return msg.Before(t.msgs[i]) })
	t.msgs = append(t.msgs, models.Message{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = msg
	return true
}

// LoadPage fetches one ascending history page and merges it. A page whose
// context was cancelled before the merge is discarded, never applied to a
// closed view.
func (s *Syncer) LoadPage(ctx context.Context, conversationID int64, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	page, err := s.rest.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	t := s.timelineLocked(conversationID)
	for _, msg := range page {
		t.insertLocked(msg)
	}
	s.mu.Unlock()
	return page, nil
}

// Send inserts an optimistic entry immediately and dispatches it when the
// connection allows. The returned copy reflects state at insertion time.
func (s *Syncer) Send(conversationID int64, content string, att *models.AttachmentRef) models.PendingSend {
	p := &models.PendingSend{
		ClientID:       uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Attachment:     att,
		ComposeOrder:   s.composeSeq.Add(1),
		State:          models.PendingQueued,
		ComposedAt:     time.Now(),
	}

	s.mu.Lock()
	t := s.timelineLocked(conversationID)
	t.pending = append(t.pending, p)
	s.mu.Unlock()

	s.kick(conversationID)
	return *p
}

// kick starts the per-conversation dispatch loop if it is not running and the
// channel is up.
func (s *Syncer) kick(conversationID int64) {
	s.mu.Lock()
	t := s.timelineLocked(conversationID)
	if t.dispatching || !s.online.Load() {
		s.mu.Unlock()
		return
	}
	t.dispatching = true
	s.mu.Unlock()
	go s.dispatch(conversationID)
}

func (s *Syncer) dispatch(conversationID int64) {
	for {
		s.mu.Lock()
		t := s.timelineLocked(conversationID)
		var p *models.PendingSend
		for _, q := range t.pending {
			if q.State == models.PendingQueued {
				p = q
				break
			}
		}
		if p == nil || !s.online.Load() {
			t.dispatching = false
			s.mu.Unlock()
			return
		}
		p.State = models.PendingInFlight
		content, att := p.Content, p.Attachment
		s.mu.Unlock()

		msg, err := s.rest.SendMessage(context.Background(), conversationID, content, att)
		if err != nil {
			s.mu.Lock()
			if chaterr.Retryable(err) && !s.online.Load() {
				// Connection dropped under us: keep it queued for the
				// post-reconnect flush.
				p.State = models.PendingQueued
			} else {
				p.State = models.PendingFailed
				p.LastError = err.Error()
				s.log.Warnw("send failed", "conversation", conversationID, "client_id", p.ClientID, "err", err)
			}
			// Stop here either way; sending the next pending first would
			// break compose order.
			t.dispatching = false
			s.mu.Unlock()
			return
		}
		s.commit(p.ClientID, msg)
	}
}

// commit replaces a pending entry with the acknowledged message.
func (s *Syncer) commit(clientID string, msg models.Message) {
	s.mu.Lock()
	t := s.timelineLocked(msg.ConversationID)
	for i, q := range t.pending {
		if q.ClientID == clientID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	added := t.insertLocked(msg)
	s.mu.Unlock()

	if added && s.snaps != nil {
		s.snaps.ApplyMessage(msg)
	}
}

// HandleMessage applies a live-pushed or backfilled message. Re-applying a
// known id is a no-op.
func (s *Syncer) HandleMessage(msg models.Message) {
	s.mu.Lock()
	t := s.timelineLocked(msg.ConversationID)
	added := t.insertLocked(msg)
	s.mu.Unlock()

	if added && s.snaps != nil {
		s.snaps.ApplyMessage(msg)
	}
}

// HandleRead flips is_read on our own sent messages after the peer read them.
func (s *Syncer) HandleRead(conversationID int64, messageIDs []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.convs[conversationID]
	if !ok {
		return
	}
	ids := make(map[int64]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	for i := range t.msgs {
		if _, hit := ids[t.msgs[i].ID]; hit {
			t.msgs[i].IsRead = true
		}
	}
}

// SetOnline tracks the channel state. Going online flushes every queued
// pending send, each conversation in compose order.
func (s *Syncer) SetOnline(online bool) {
	was := s.online.Swap(online)
	if online && !was {
		s.Flush()
	}
}

// Flush dispatches queued pending sends for all conversations.
func (s *Syncer) Flush() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.kick(id)
	}
}

// Backfill fetches messages newer than the last known one for every loaded
// conversation, closing the gap from missed pushes while disconnected. The
// offset contract holds because history is immutable and append-only.
func (s *Syncer) Backfill(ctx context.Context) {
	s.mu.Lock()
	offsets := make(map[int64]int, len(s.convs))
	for id, t := range s.convs {
		offsets[id] = len(t.msgs)
	}
	s.mu.Unlock()

	for id, offset := range offsets {
		for {
			page, err := s.rest.ListMessages(ctx, id, s.pageSize, offset)
			if err != nil {
				s.log.Warnw("backfill failed", "conversation", id, "err", err)
				break
			}
			s.mu.Lock()
			t := s.timelineLocked(id)
			var added []models.Message
			for _, msg := range page {
				if t.insertLocked(msg) {
					added = append(added, msg)
				}
			}
			s.mu.Unlock()
			if s.snaps != nil {
				for _, msg := range added {
					s.snaps.ApplyMessage(msg)
				}
			}
			offset += len(page)
			if len(page) < s.pageSize {
				break
			}
		}
	}
}

// Retry requeues a failed optimistic send.
func (s *Syncer) Retry(conversationID int64, clientID string) bool {
	s.mu.Lock()
	t, ok := s.convs[conversationID]
	found := false
	if ok {
		for _, p := range t.pending {
			if p.ClientID == clientID && p.State == models.PendingFailed {
				p.State = models.PendingQueued
				p.LastError = ""
				found = true
				break
			}
		}
	}
	s.mu.Unlock()
	if found {
		s.kick(conversationID)
	}
	return found
}

// Discard drops a failed optimistic send.
func (s *Syncer) Discard(conversationID int64, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.convs[conversationID]
	if !ok {
		return false
	}
	for i, p := range t.pending {
		if p.ClientID == clientID && p.State != models.PendingInFlight {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return true
		}
	}
	return false
}

// MarkRead flips is_read on inbound messages, server first, then locally.
func (s *Syncer) MarkRead(ctx context.Context, conversationID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := s.rest.MarkRead(ctx, messageIDs); err != nil {
		return err
	}

	ids := make(map[int64]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	flipped := 0
	s.mu.Lock()
	if t, ok := s.convs[conversationID]; ok {
		for i := range t.msgs {
			if _, hit := ids[t.msgs[i].ID]; hit && !t.msgs[i].IsRead && t.msgs[i].RecipientID == s.self {
				t.msgs[i].IsRead = true
				flipped++
			}
		}
	}
	s.mu.Unlock()

	if flipped > 0 && s.snaps != nil {
		s.snaps.ApplyRead(conversationID, flipped)
	}
	return nil
}

// Entries renders the timeline: committed messages in (created_at, id) order,
// then pending sends in compose order.
func (s *Syncer) Entries(conversationID int64) []models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]models.Entry, 0, len(t.msgs)+len(t.pending))
	for i := range t.msgs {
		cp := t.msgs[i]
		out = append(out, models.Entry{Committed: &cp})
	}
	pend := make([]*models.PendingSend, len(t.pending))
	copy(pend, t.pending)
	sort.Slice(pend, func(i, j int) bool { return pend[i].ComposeOrder < pend[j].ComposeOrder })
	for _, p := range pend {
		cp := *p
		out = append(out, models.Entry{Pending: &cp})
	}
	return out
}

// Messages returns a copy of the committed timeline.
func (s *Syncer) Messages(conversationID int64) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// ApplyCleared drops local timelines for cleared conversations.
func (s *Syncer) ApplyCleared(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if t, ok := s.convs[id]; ok {
			t.msgs = nil
			t.known = make(map[int64]struct{})
		}
	}
}

// UnreadCount counts loaded inbound messages still unread in one conversation.
func (s *Syncer) UnreadCount(conversationID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.convs[conversationID]
	if !ok {
		return 0
	}
	n := 0
	for i := range t.msgs {
		if t.msgs[i].RecipientID == s.self && !t.msgs[i].IsRead {
			n++
		}
	}
	return n
}
