package rest

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sahyam2023/dashboard-sub001/internal/chaterr"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
)

type UsersPage struct {
	Users   []models.User `json:"users"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// ListUsers pages through users available for starting a chat.
func (c *Client) ListUsers(ctx context.Context, page, perPage int, search string) (UsersPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if search != "" {
		q.Set("search", search)
	}
	var out UsersPage
	err := c.do(ctx, http.MethodGet, "/chat/users", q, nil, &out)
	return out, err
}

type resolveReq struct {
	OtherUserID int64 `json:"other_user_id"`
}

// ResolveConversation returns the canonical conversation for the pair
// (self, otherUserID), creating it if absent. The server treats a second
// create for an existing pair as a no-op returning the existing record.
func (c *Client) ResolveConversation(ctx context.Context, otherUserID int64) (models.Conversation, error) {
	var out models.Conversation
	err := c.do(ctx, http.MethodPost, "/chat/conversations", nil, resolveReq{OtherUserID: otherUserID}, &out)
	return out, err
}

type conversationList struct {
	Conversations []models.Conversation `json:"conversations"`
}

func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out conversationList
	if err := c.do(ctx, http.MethodGet, "/chat/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// ConversationWithUser looks up the existing conversation with a specific
// user without creating one. Absence is chaterr.ErrNotFound.
func (c *Client) ConversationWithUser(ctx context.Context, userID int64) (models.Conversation, error) {
	var out models.Conversation
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chat/conversations/with_user/%d", userID), nil, nil, &out)
	return out, err
}

type startAndSendReq struct {
	RecipientID int64                 `json:"recipient_id"`
	Content     string                `json:"content"`
	Attachment  *models.AttachmentRef `json:"attachment,omitempty"`
}

// StartAndSend resolves the conversation with recipientID and sends the first
// message in one round trip. The returned conversation embeds the created
// message as its last-message snapshot.
func (c *Client) StartAndSend(ctx context.Context, recipientID int64, content string, att *models.AttachmentRef) (models.Conversation, error) {
	var out models.Conversation
	err := c.do(ctx, http.MethodPost, "/chat/conversations/start_and_send", nil,
		startAndSendReq{RecipientID: recipientID, Content: content, Attachment: att}, &out)
	return out, err
}

type messagePage struct {
	Messages []models.Message `json:"messages"`
}

// ListMessages returns one ascending history page. The offset contract is
// stable because messages are immutable and append-only.
func (c *Client) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out messagePage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chat/conversations/%d/messages", conversationID), q, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

type sendReq struct {
	Content    string                `json:"content"`
	Attachment *models.AttachmentRef `json:"attachment,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string, att *models.AttachmentRef) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chat/conversations/%d/messages", conversationID), nil,
		sendReq{Content: content, Attachment: att}, &out)
	return out, err
}

type readReq struct {
	MessageIDs []int64 `json:"message_ids"`
}

// MarkRead flips is_read on the given messages, which must be addressed to
// the current user.
func (c *Client) MarkRead(ctx context.Context, messageIDs []int64) error {
	return c.do(ctx, http.MethodPost, "/chat/messages/read", nil, readReq{MessageIDs: messageIDs}, nil)
}

// UserStatus queries a peer's presence on demand.
func (c *Client) UserStatus(ctx context.Context, userID int64) (models.PresenceRecord, error) {
	var out models.PresenceRecord
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chat/user_status/%d", userID), nil, nil, &out)
	return out, err
}

type clearReq struct {
	ConversationIDs []int64 `json:"conversation_ids"`
}

type clearResp struct {
	// Status reflects only that the call completed; per-id outcomes are the
	// sole source of truth for what actually happened.
	Status   string                `json:"status"`
	Outcomes []models.ClearOutcome `json:"outcomes"`
}

// ClearConversations dispatches a batch clear. A non-nil error means the call
// itself could not be dispatched; per-conversation failures are inline.
func (c *Client) ClearConversations(ctx context.Context, ids []int64) ([]models.ClearOutcome, error) {
	var out clearResp
	if err := c.do(ctx, http.MethodPost, "/chat/conversations/clear-batch", nil, clearReq{ConversationIDs: ids}, &out); err != nil {
		return nil, err
	}
	return out.Outcomes, nil
}

// UploadAttachment posts one bounded multipart request and returns the stable
// reference a subsequent send embeds. Not chunked, not resumable.
func (c *Client) UploadAttachment(ctx context.Context, conversationID int64, fileName string, contentType string, r io.Reader) (models.AttachmentRef, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("conversation_id", strconv.FormatInt(conversationID, 10)); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/upload_file", pr)
	if err != nil {
		return models.AttachmentRef{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if contentType != "" {
		req.Header.Set("X-File-Type", contentType)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.AttachmentRef{}, chaterr.FromTransport(err)
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return models.AttachmentRef{}, err
	}
	var out models.AttachmentRef
	if err := decodeJSON(resp.Body, &out); err != nil {
		return models.AttachmentRef{}, err
	}
	return out, nil
}
