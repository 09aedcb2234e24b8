package models

// Channel event types. The server pushes new_message, presence and read;
// the client emits join once per connect.
const (
	EventJoin       = "join"
	EventNewMessage = "new_message"
	EventPresence   = "presence"
	EventRead       = "read"
)

// Envelope is the JSON frame exchanged over the websocket channel. The Type
// field discriminates; re-applying a frame is always idempotent on the
// receiving side.
type Envelope struct {
	Type           string   `json:"type"`
	UserID         int64    `json:"user_id,omitempty"`
	ConversationID int64    `json:"conversation_id,omitempty"`
	Message        *Message `json:"message,omitempty"`
	MessageIDs     []int64  `json:"message_ids,omitempty"`
	ReaderID       int64    `json:"reader_id,omitempty"`
	Status         string   `json:"status,omitempty"`
	LastSeen       string   `json:"last_seen,omitempty"`
}
