package models

import (
	"time"
)

// Pair is the canonical identity of a two-party conversation: the two
// participant ids in ascending order. Exactly one conversation exists per Pair.
type Pair struct {
	Low  int64 `json:"participant_low_id"`
	High int64 `json:"participant_high_id"`
}

// MakePair canonicalizes an unordered participant pair so that creation
// requests from either side map to the same identity.
func MakePair(a, b int64) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{Low: a, High: b}
}

// Other returns the participant that is not self.
func (p Pair) Other(self int64) int64 {
	if p.Low == self {
		return p.High
	}
	return p.Low
}

type User struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	Role     string     `json:"role"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// AttachmentRef is the opaque tuple returned by upload and embedded verbatim
// into a message.
type AttachmentRef struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

type Message struct {
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id"`
	SenderID       int64          `json:"sender_id"`
	RecipientID    int64          `json:"recipient_id"`
	Content        string         `json:"content"`
	Attachment     *AttachmentRef `json:"attachment,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	IsRead         bool           `json:"is_read"`
}

// Before reports whether m sorts ahead of o under the conversation ordering
// key (created_at, id).
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

type Conversation struct {
	ID          int64     `json:"id"`
	Pair        Pair      `json:"pair"`
	CreatedAt   time.Time `json:"created_at"`
	LastMessage *Message  `json:"last_message,omitempty"`
	UnreadCount int       `json:"unread_count"`
}

// ActivityTime is the sort key for conversation lists: last message time,
// falling back to creation time for empty conversations.
func (c Conversation) ActivityTime() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
	StatusUnknown PresenceStatus = "unknown"
)

type PresenceRecord struct {
	UserID   int64          `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen *time.Time     `json:"last_seen,omitempty"`
}

func (r PresenceRecord) IsOnline() bool { return r.Status == StatusOnline }

// PendingState tracks an optimistic send between compose and reconciliation.
type PendingState string

const (
	// PendingQueued means the send has not been dispatched yet, either because
	// dispatch is busy with an earlier message or because the channel is down.
	PendingQueued PendingState = "queued"
	// PendingInFlight means a send request is outstanding.
	PendingInFlight PendingState = "in_flight"
	// PendingFailed means the send was attempted and rejected; the composer
	// decides whether to retry or discard.
	PendingFailed PendingState = "failed"
)

// PendingSend is an optimistic message entry. It exists from compose-submit
// until it is replaced by the server-acknowledged Message or discarded.
type PendingSend struct {
	ClientID       string         `json:"client_id"`
	ConversationID int64          `json:"conversation_id"`
	Content        string         `json:"content"`
	Attachment     *AttachmentRef `json:"attachment,omitempty"`
	ComposeOrder   int64          `json:"compose_order"`
	State          PendingState   `json:"state"`
	ComposedAt     time.Time      `json:"composed_at"`
	LastError      string         `json:"last_error,omitempty"`
}

// Entry is one rendered slot in a conversation timeline: either a committed
// message (server id authoritative) or a pending optimistic send.
type Entry struct {
	Committed *Message     `json:"committed,omitempty"`
	Pending   *PendingSend `json:"pending,omitempty"`
}

// ClearStatus values for a single conversation inside a batch clear.
const (
	ClearStatusCleared = "cleared"
	ClearStatusError   = "error"
)

// ClearOutcome is the per-conversation result of a batch clear. Errors are
// reported inline; one conversation failing never rolls back another.
type ClearOutcome struct {
	ConversationID  int64  `json:"conversation_id"`
	Status          string `json:"status"`
	MessagesDeleted int    `json:"messages_deleted"`
	FilesDeleted    int    `json:"files_deleted"`
	Error           string `json:"error,omitempty"`
}
