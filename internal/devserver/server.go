// Package devserver is an in-process implementation of the chat REST and
// channel surface the messaging core consumes. It backs the demo CLI and the
// integration tests; the production portal backend replaces it in deployment.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Options struct {
	Secret    string
	DSN       string
	UploadDir string
	MaxUpload int64
	TokenTTL  time.Duration
	Logger    *zap.SugaredLogger
}

type Server struct {
	store  *Store
	hub    *hub
	log    *zap.SugaredLogger
	engine *gin.Engine

	secret    string
	uploadDir string
	maxUpload int64
	tokenTTL  time.Duration

	// FailFileDeletion, when set, is consulted before clearing a
	// conversation's files. Lets tests exercise per-conversation failure.
	FailFileDeletion func(conversationID int64) error
}

func New(opts Options) (*Server, error) {
	if opts.Secret == "" {
		opts.Secret = "chatstub-dev-secret"
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 16 << 20
	}
	if opts.TokenTTL == 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.UploadDir == "" {
		dir, err := os.MkdirTemp("", "chatstub-uploads-")
		if err != nil {
			return nil, err
		}
		opts.UploadDir = dir
	}
	store, err := OpenStore(opts.DSN)
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:     store,
		hub:       newHub(store, opts.Logger),
		log:       opts.Logger,
		secret:    opts.Secret,
		uploadDir: opts.UploadDir,
		maxUpload: opts.MaxUpload,
		tokenTTL:  opts.TokenTTL,
	}
	go s.hub.run()

	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/ws", s.serveWS)
	e.Static("/uploads", s.uploadDir)

	api := e.Group("/chat", authMiddleware(s.secret))
	api.GET("/users", s.listUsers)
	api.POST("/conversations", s.resolveConversation)
	api.GET("/conversations", s.listConversations)
	api.GET("/conversations/with_user/:id", s.conversationWithUser)
	api.POST("/conversations/start_and_send", s.startAndSend)
	api.GET("/conversations/:id/messages", s.listMessages)
	api.POST("/conversations/:id/messages", s.sendMessage)
	api.POST("/conversations/clear-batch", s.clearBatch)
	api.POST("/messages/read", s.markRead)
	api.POST("/upload_file", s.uploadFile)
	api.GET("/user_status/:id", s.userStatus)

	s.engine = e
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Close() {
	s.hub.stop()
	s.store.Close()
}

// Run serves until the context is cancelled. Used by cmd/chatstub.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// CreateUser seeds a dev user.
func (s *Server) CreateUser(username string) (models.User, error) {
	return s.store.CreateUser(username, "user")
}

// TokenFor mints a credential for a seeded user.
func (s *Server) TokenFor(userID int64) (string, error) {
	return NewToken(s.secret, userID, s.tokenTTL)
}

func errOut(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

func bindErr(c *gin.Context, err error) {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		errOut(c, http.StatusBadRequest, "invalid fields: "+strings.Join(fields, ", "))
		return
	}
	errOut(c, http.StatusBadRequest, err.Error())
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		errOut(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) listUsers(c *gin.Context) {
	uid := mustUserID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	users, total, err := s.store.ListUsers(uid, page, perPage, c.Query("search"))
	if err != nil {
		errOut(c, http.StatusInternalServerError, "failed to list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": total, "page": page, "per_page": perPage})
}

type resolveReq struct {
	OtherUserID int64 `json:"other_user_id" binding:"required"`
}

func (s *Server) resolveConversation(c *gin.Context) {
	uid := mustUserID(c)
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	if _, err := s.store.GetUser(req.OtherUserID); err != nil {
		errOut(c, http.StatusNotFound, "no such user")
		return
	}
	conv, err := s.store.ResolveConversation(uid, req.OtherUserID)
	if err != nil {
		errOut(c, http.StatusInternalServerError, "resolve failed")
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) listConversations(c *gin.Context) {
	uid := mustUserID(c)
	convs, err := s.store.ListConversations(uid)
	if err != nil {
		errOut(c, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) conversationWithUser(c *gin.Context) {
	uid := mustUserID(c)
	other, ok := pathID(c)
	if !ok {
		return
	}
	conv, err := s.store.ConversationWithUser(uid, other)
	if err != nil {
		errOut(c, http.StatusNotFound, "no conversation with this user")
		return
	}
	c.JSON(http.StatusOK, conv)
}

type startAndSendReq struct {
	RecipientID int64                 `json:"recipient_id" binding:"required"`
	Content     string                `json:"content"`
	Attachment  *models.AttachmentRef `json:"attachment"`
}

func (s *Server) startAndSend(c *gin.Context) {
	uid := mustUserID(c)
	var req startAndSendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	if _, err := s.store.GetUser(req.RecipientID); err != nil {
		errOut(c, http.StatusNotFound, "no such user")
		return
	}
	conv, err := s.store.ResolveConversation(uid, req.RecipientID)
	if err != nil {
		errOut(c, http.StatusInternalServerError, "resolve failed")
		return
	}
	msg, err := s.store.InsertMessage(conv.ID, uid, req.RecipientID, req.Content, req.Attachment)
	if err != nil {
		errOut(c, http.StatusInternalServerError, "send failed")
		return
	}
	s.hub.pushTo(req.RecipientID, models.Envelope{Type: models.EventNewMessage, Message: &msg})

	conv.LastMessage = &msg
	c.JSON(http.StatusOK, conv)
}

func (s *Server) listMessages(c *gin.Context) {
	uid := mustUserID(c)
	convID, ok := pathID(c)
	if !ok {
		return
	}
	if in, err := s.store.IsParticipant(convID, uid); err != nil || !in {
		errOut(c, http.StatusNotFound, "no such conversation")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	msgs, err := s.store.ListMessages(convID, limit, offset)
	if err != nil {
		errOut(c, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendReq struct {
	Content    string                `json:"content"`
	Attachment *models.AttachmentRef `json:"attachment"`
}

func (s *Server) sendMessage(c *gin.Context) {
	uid := mustUserID(c)
	convID, ok := pathID(c)
	if !ok {
		return
	}
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	if req.Content == "" && req.Attachment == nil {
		errOut(c, http.StatusBadRequest, "empty message")
		return
	}
	conv, err := s.store.conversationByID(convID)
	if err != nil {
		errOut(c, http.StatusNotFound, "no such conversation")
		return
	}
	if conv.Pair.Low != uid && conv.Pair.High != uid {
		errOut(c, http.StatusNotFound, "no such conversation")
		return
	}
	recipient := conv.Pair.Other(uid)
	msg, err := s.store.InsertMessage(convID, uid, recipient, req.Content, req.Attachment)
	if err != nil {
		errOut(c, http.StatusInternalServerError, "send failed")
		return
	}
	s.hub.pushTo(recipient, models.Envelope{Type: models.EventNewMessage, Message: &msg})
	c.JSON(http.StatusOK, msg)
}

type readReq struct {
	MessageIDs []int64 `json:"message_ids" binding:"required"`
}

func (s *Server) markRead(c *gin.Context) {
	uid := mustUserID(c)
	var req readReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	flipped, err := s.store.MarkRead(uid, req.MessageIDs)
	if err != nil {
		errOut(c, http.StatusInternalServerError, "mark read failed")
		return
	}
	// Tell the senders their messages were read.
	for convID, ids := range flipped {
		if conv, err := s.store.conversationByID(convID); err == nil {
			s.hub.pushTo(conv.Pair.Other(uid), models.Envelope{
				Type:           models.EventRead,
				ConversationID: convID,
				MessageIDs:     ids,
				ReaderID:       uid,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) uploadFile(c *gin.Context) {
	uid := mustUserID(c)
	file, err := c.FormFile("file")
	if err != nil {
		errOut(c, http.StatusBadRequest, "missing file")
		return
	}
	if file.Size > s.maxUpload {
		errOut(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	convID, err := strconv.ParseInt(c.PostForm("conversation_id"), 10, 64)
	if err != nil {
		errOut(c, http.StatusBadRequest, "invalid conversation_id")
		return
	}
	if in, err := s.store.IsParticipant(convID, uid); err != nil || !in {
		errOut(c, http.StatusNotFound, "no such conversation")
		return
	}

	stored := uuid.NewString() + "_" + filepath.Base(file.Filename)
	if err := c.SaveUploadedFile(file, filepath.Join(s.uploadDir, stored)); err != nil {
		errOut(c, http.StatusInternalServerError, "store failed")
		return
	}
	fileType := file.Header.Get("Content-Type")
	if ht := c.GetHeader("X-File-Type"); ht != "" {
		fileType = ht
	}
	c.JSON(http.StatusOK, models.AttachmentRef{
		FileURL:  "/uploads/" + stored,
		FileName: file.Filename,
		FileType: fileType,
	})
}

func (s *Server) userStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rec, err := s.store.UserStatus(id)
	if err != nil {
		errOut(c, http.StatusNotFound, "no such user")
		return
	}
	c.JSON(http.StatusOK, rec)
}

type clearReq struct {
	ConversationIDs []int64 `json:"conversation_ids" binding:"required"`
}

// clearBatch processes each conversation independently. The top-level status
// only says the call completed; per-id outcomes carry the real result.
func (s *Server) clearBatch(c *gin.Context) {
	uid := mustUserID(c)
	var req clearReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}

	outcomes := make([]models.ClearOutcome, 0, len(req.ConversationIDs))
	for _, id := range req.ConversationIDs {
		outcomes = append(outcomes, s.clearOne(id, uid))
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "outcomes": outcomes})
}

func (s *Server) clearOne(conversationID, uid int64) models.ClearOutcome {
	out := models.ClearOutcome{ConversationID: conversationID}
	if in, err := s.store.IsParticipant(conversationID, uid); err != nil || !in {
		out.Status = models.ClearStatusError
		out.Error = "no such conversation"
		return out
	}
	files, err := s.store.AttachmentFiles(conversationID)
	if err != nil {
		out.Status = models.ClearStatusError
		out.Error = err.Error()
		return out
	}
	if s.FailFileDeletion != nil {
		if err := s.FailFileDeletion(conversationID); err != nil {
			out.Status = models.ClearStatusError
			out.Error = fmt.Sprintf("file deletion: %v", err)
			return out
		}
	}
	for _, u := range files {
		name := strings.TrimPrefix(u, "/uploads/")
		if err := os.Remove(filepath.Join(s.uploadDir, name)); err == nil {
			out.FilesDeleted++
		}
	}
	n, err := s.store.DeleteMessages(conversationID)
	if err != nil {
		out.Status = models.ClearStatusError
		out.Error = err.Error()
		return out
	}
	out.Status = models.ClearStatusCleared
	out.MessagesDeleted = n
	return out
}

// serveWS authenticates via the handshake (query token or bearer header) and
// attaches the channel to the hub.
func (s *Server) serveWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := parseToken(s.secret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cl := &wsClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: claims.UserID,
	}
	s.hub.register <- cl
	go cl.writePump()
	go cl.readPump()
}
