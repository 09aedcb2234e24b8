package devserver

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sahyam2023/dashboard-sub001/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT 'user',
	is_online INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT
);
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_low_id INTEGER NOT NULL REFERENCES users(id),
	user_high_id INTEGER NOT NULL REFERENCES users(id),
	created_at TEXT NOT NULL,
	UNIQUE(user_low_id, user_high_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	sender_id INTEGER NOT NULL REFERENCES users(id),
	recipient_id INTEGER NOT NULL REFERENCES users(id),
	content TEXT NOT NULL,
	file_url TEXT,
	file_name TEXT,
	file_type TEXT,
	created_at TEXT NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at, id);
`

type Store struct {
	db *sql.DB
}

// OpenStore opens the SQLite backing store. An empty dsn uses a private
// in-memory database, which is what tests and the demo setup want.
func OpenStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Single connection: SQLite, and for in-memory DSNs each connection
	// would otherwise see its own database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, err
	}
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000;`)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range strings.Split(schema, ";\n") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err := s.db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// timeLayout keeps trailing zeros so TEXT comparison in ORDER BY matches
// chronological order (RFC3339Nano trims them and breaks lexical sorting).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string { return time.Now().UTC().Format(timeLayout) }

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func (s *Store) CreateUser(username, role string) (models.User, error) {
	if role == "" {
		role = "user"
	}
	res, err := s.db.Exec(`INSERT INTO users (username, role) VALUES (?, ?)`, username, role)
	if err != nil {
		return models.User{}, err
	}
	id, _ := res.LastInsertId()
	return models.User{ID: id, Username: username, Role: role}, nil
}

func (s *Store) GetUser(id int64) (models.User, error) {
	var u models.User
	var online int
	var lastSeen sql.NullString
	err := s.db.QueryRow(`SELECT id, username, role, is_online, last_seen FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Username, &u.Role, &online, &lastSeen)
	if err != nil {
		return models.User{}, err
	}
	u.IsOnline = online != 0
	if lastSeen.Valid {
		t := parseTime(lastSeen.String)
		u.LastSeen = &t
	}
	return u, nil
}

// ListUsers pages users available for starting a chat, excluding the caller.
func (s *Store) ListUsers(selfID int64, page, perPage int, search string) ([]models.User, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	like := "%" + search + "%"

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM users WHERE id<>? AND username LIKE ?`, selfID, like).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`SELECT id, username, role, is_online, last_seen FROM users
		WHERE id<>? AND username LIKE ? ORDER BY username LIMIT ? OFFSET ?`,
		selfID, like, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var online int
		var lastSeen sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &online, &lastSeen); err != nil {
			return nil, 0, err
		}
		u.IsOnline = online != 0
		if lastSeen.Valid {
			t := parseTime(lastSeen.String)
			u.LastSeen = &t
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// ResolveConversation returns the one conversation for the unordered pair,
// creating it if absent. The unique pair index plus DO NOTHING makes a second
// create a no-op returning the existing record, from either side.
func (s *Store) ResolveConversation(selfID, otherID int64) (models.Conversation, error) {
	pair := models.MakePair(selfID, otherID)
	_, err := s.db.Exec(`INSERT INTO conversations (user_low_id, user_high_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_low_id, user_high_id) DO NOTHING`, pair.Low, pair.High, now())
	if err != nil {
		return models.Conversation{}, err
	}
	return s.ConversationWithUser(selfID, otherID)
}

// ConversationWithUser looks the pair up without creating.
func (s *Store) ConversationWithUser(selfID, otherID int64) (models.Conversation, error) {
	pair := models.MakePair(selfID, otherID)
	var conv models.Conversation
	var created string
	err := s.db.QueryRow(`SELECT id, user_low_id, user_high_id, created_at FROM conversations
		WHERE user_low_id=? AND user_high_id=?`, pair.Low, pair.High).
		Scan(&conv.ID, &conv.Pair.Low, &conv.Pair.High, &created)
	if err != nil {
		return models.Conversation{}, err
	}
	conv.CreatedAt = parseTime(created)
	return s.decorate(conv, selfID)
}

func (s *Store) conversationByID(id int64) (models.Conversation, error) {
	var conv models.Conversation
	var created string
	err := s.db.QueryRow(`SELECT id, user_low_id, user_high_id, created_at FROM conversations WHERE id=?`, id).
		Scan(&conv.ID, &conv.Pair.Low, &conv.Pair.High, &created)
	if err != nil {
		return models.Conversation{}, err
	}
	conv.CreatedAt = parseTime(created)
	return conv, nil
}

// decorate fills the last-message snapshot and the unread count relative to
// selfID.
func (s *Store) decorate(conv models.Conversation, selfID int64) (models.Conversation, error) {
	msgs, err := s.listMessagesDesc(conv.ID, 1)
	if err != nil {
		return conv, err
	}
	if len(msgs) == 1 {
		conv.LastMessage = &msgs[0]
	}
	err = s.db.QueryRow(`SELECT COUNT(1) FROM messages WHERE conversation_id=? AND recipient_id=? AND is_read=0`,
		conv.ID, selfID).Scan(&conv.UnreadCount)
	return conv, err
}

// ListConversations returns the caller's conversations ordered by last
// activity, newest first.
func (s *Store) ListConversations(selfID int64) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT id, user_low_id, user_high_id, created_at FROM conversations
		WHERE user_low_id=? OR user_high_id=?`, selfID, selfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var created string
		if err := rows.Scan(&conv.ID, &conv.Pair.Low, &conv.Pair.High, &created); err != nil {
			return nil, err
		}
		conv.CreatedAt = parseTime(created)
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i], err = s.decorate(out[i], selfID); err != nil {
			return nil, err
		}
	}
	// Newest activity first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ActivityTime().After(out[i].ActivityTime()) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (s *Store) IsParticipant(conversationID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM conversations WHERE id=? AND (user_low_id=? OR user_high_id=?)`,
		conversationID, userID, userID).Scan(&n)
	return n > 0, err
}

func (s *Store) InsertMessage(conversationID, senderID, recipientID int64, content string, att *models.AttachmentRef) (models.Message, error) {
	created := now()
	var fileURL, fileName, fileType sql.NullString
	if att != nil {
		fileURL = sql.NullString{String: att.FileURL, Valid: true}
		fileName = sql.NullString{String: att.FileName, Valid: true}
		fileType = sql.NullString{String: att.FileType, Valid: true}
	}
	res, err := s.db.Exec(`INSERT INTO messages
		(conversation_id, sender_id, recipient_id, content, file_url, file_name, file_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, senderID, recipientID, content, fileURL, fileName, fileType, created)
	if err != nil {
		return models.Message{}, err
	}
	id, _ := res.LastInsertId()
	msg := models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		Attachment:     att,
		CreatedAt:      parseTime(created),
	}
	return msg, nil
}

func scanMessage(rows *sql.Rows) (models.Message, error) {
	var m models.Message
	var fileURL, fileName, fileType sql.NullString
	var created string
	var read int
	err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Content,
		&fileURL, &fileName, &fileType, &created, &read)
	if err != nil {
		return m, err
	}
	m.CreatedAt = parseTime(created)
	m.IsRead = read != 0
	if fileURL.Valid {
		m.Attachment = &models.AttachmentRef{FileURL: fileURL.String, FileName: fileName.String, FileType: fileType.String}
	}
	return m, nil
}

const messageCols = `id, conversation_id, sender_id, recipient_id, content, file_url, file_name, file_type, created_at, is_read`

// ListMessages returns one ascending page under the (created_at, id) order.
func (s *Store) ListMessages(conversationID int64, limit, offset int) ([]models.Message, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(`SELECT `+messageCols+` FROM messages
		WHERE conversation_id=? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) listMessagesDesc(conversationID int64, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT `+messageCols+` FROM messages
		WHERE conversation_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkRead flips is_read on messages addressed to readerID and reports the
// flipped ids grouped by conversation, so the hub can notify the senders.
func (s *Store) MarkRead(readerID int64, messageIDs []int64) (map[int64][]int64, error) {
	flipped := make(map[int64][]int64)
	for _, id := range messageIDs {
		var convID int64
		err := s.db.QueryRow(`SELECT conversation_id FROM messages WHERE id=? AND recipient_id=? AND is_read=0`,
			id, readerID).Scan(&convID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := s.db.Exec(`UPDATE messages SET is_read=1 WHERE id=?`, id); err != nil {
			return nil, err
		}
		flipped[convID] = append(flipped[convID], id)
	}
	return flipped, nil
}

// AttachmentFiles lists the stored file urls for a conversation.
func (s *Store) AttachmentFiles(conversationID int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT file_url FROM messages WHERE conversation_id=? AND file_url IS NOT NULL`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteMessages removes all messages of one conversation, returning the
// count. The conversation shell stays.
func (s *Store) DeleteMessages(conversationID int64) (int, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id=?`, conversationID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetOnline records channel lifecycle for presence queries.
func (s *Store) SetOnline(userID int64, online bool) error {
	if online {
		_, err := s.db.Exec(`UPDATE users SET is_online=1 WHERE id=?`, userID)
		return err
	}
	_, err := s.db.Exec(`UPDATE users SET is_online=0, last_seen=? WHERE id=?`, now(), userID)
	return err
}

func (s *Store) UserStatus(userID int64) (models.PresenceRecord, error) {
	var online int
	var lastSeen sql.NullString
	err := s.db.QueryRow(`SELECT is_online, last_seen FROM users WHERE id=?`, userID).Scan(&online, &lastSeen)
	if err != nil {
		return models.PresenceRecord{}, err
	}
	rec := models.PresenceRecord{UserID: userID, Status: models.StatusOffline}
	if online != 0 {
		rec.Status = models.StatusOnline
	}
	if lastSeen.Valid {
		t := parseTime(lastSeen.String)
		rec.LastSeen = &t
	}
	return rec, nil
}
