package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/pushdb"
	"github.com/hireme/chatsync/internal/realtime"
)

const maxBodyBytes = 64 << 10

// Options configures a Server.
type Options struct {
	Repo     Repository
	Push     pushdb.Store
	Verifier Verifier
	Logger   *zap.Logger
	// Now overrides the clock used for message timestamps.
	Now func() time.Time
}

// Server serves the resource API and the realtime socket.
type Server struct {
	repo   Repository
	push   pushdb.Store
	verify Verifier
	logger *zap.Logger
	now    func() time.Time
	hub    *Hub

	mu     sync.Mutex
	lastTS map[string]int64
}

// New returns a Server and starts its socket hub. Close stops it.
func New(opts Options) *Server {
	s := &Server{
		repo:   opts.Repo,
		push:   opts.Push,
		verify: opts.Verifier,
		logger: opts.Logger,
		now:    opts.Now,
		lastTS: make(map[string]int64),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.hub = newHub(s.verify, s.logger.Named("hub"), s.socketPresence)
	go s.hub.run()
	return s
}

// Close disconnects every socket.
func (s *Server) Close() {
	s.hub.close()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	// The socket authenticates with its handshake frame.
	r.Get("/ws", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(s.verify))
		r.Get("/chats", s.listConversations)
		r.Post("/chats/send", s.sendMessage)
		r.Post("/chats/{id}/read", s.markRead)
		r.Post("/chats/{id}/typing", s.setTyping)
		r.Get("/conversations/{id}/messages", s.listMessages)
		r.Post("/users/me", s.syncUser)
		r.Post("/users/me/presence", s.setPresence)
	})
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) caller(r *http.Request) identity.Principal {
	p, _ := principalFrom(r.Context())
	return p
}

// memberConversation loads the conversation in the {id} route parameter
// and checks that uid belongs to it. It writes the error response itself.
func (s *Server) memberConversation(w http.ResponseWriter, r *http.Request, uid string) (Conversation, bool) {
	conv, err := s.repo.Conversation(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return Conversation{}, false
	}
	if err != nil {
		s.internalError(w, "load conversation", err)
		return Conversation{}, false
	}
	if !conv.Has(uid) {
		writeError(w, http.StatusForbidden, "Not a participant of this conversation")
		return Conversation{}, false
	}
	return conv, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := s.caller(r).UserID

	convs, err := s.repo.Conversations(ctx, uid)
	if err != nil {
		s.internalError(w, "list conversations", err)
		return
	}
	unread, err := s.push.Get(ctx, pushdb.UnreadPath(uid))
	if err != nil {
		s.logger.Warn("read unread counts", zap.Error(err))
	}

	out := make([]chat.Conversation, 0, len(convs))
	for _, c := range convs {
		other := c.Other(uid)
		item := chat.Conversation{
			ID:          c.ID,
			OtherUserID: other,
			LastMessage: c.LastMessage,
		}
		if u, err := s.repo.User(ctx, other); err == nil {
			item.OtherUserName = u.DisplayName
			item.OtherUserImage = u.Image
		}
		var n int
		if ok, err := unread.Decode(c.ID, &n); ok && err == nil {
			item.UnreadCount = n
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	uid := s.caller(r).UserID
	conv, ok := s.memberConversation(w, r, uid)
	if !ok {
		return
	}
	msgs, err := s.repo.Messages(r.Context(), conv.ID)
	if err != nil {
		s.internalError(w, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// pushEntry is a message as written under messages/{conversationId}.
type pushEntry struct {
	SenderUID string `json:"senderUid"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	Timestamp int64  `json:"timestamp"`
}

// nextTimestamp returns a per-conversation strictly increasing ordering
// timestamp no earlier than nowMs.
func (s *Server) nextTimestamp(conversationID string, nowMs int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := nowMs
	if last := s.lastTS[conversationID]; ts <= last {
		ts = last + 1
	}
	s.lastTS[conversationID] = ts
	return ts
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := s.caller(r)

	var req chat.SendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}

	var conv Conversation
	switch {
	case req.ConversationID != "":
		c, err := s.repo.Conversation(ctx, req.ConversationID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		if err != nil {
			s.internalError(w, "load conversation", err)
			return
		}
		if !c.Has(p.UserID) {
			writeError(w, http.StatusForbidden, "Not a participant of this conversation")
			return
		}
		conv = c
	case req.ReceiverID != "":
		if req.ReceiverID == p.UserID {
			writeError(w, http.StatusBadRequest, "Cannot message yourself")
			return
		}
		c, err := s.repo.FindOrCreateConversation(ctx, p.UserID, req.ReceiverID)
		if err != nil {
			s.internalError(w, "create conversation", err)
			return
		}
		conv = c
	default:
		writeError(w, http.StatusBadRequest, "conversationId or receiverUid is required")
		return
	}
	receiver := conv.Other(p.UserID)

	id, err := uuid.NewV7()
	if err != nil {
		s.internalError(w, "new message id", err)
		return
	}
	now := s.now()
	ts := s.nextTimestamp(conv.ID, now.UnixMilli())
	msg := chat.Message{
		ID:             id.String(),
		ConversationID: conv.ID,
		SenderID:       p.UserID,
		Content:        content,
		CreatedAt:      now.UTC(),
		Timestamp:      ts,
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		s.internalError(w, "append message", err)
		return
	}
	entry := pushEntry{SenderUID: p.UserID, Content: content, CreatedAt: now.UnixMilli(), Timestamp: ts}
	if err := s.push.Set(ctx, pushdb.MessagesPath(conv.ID), msg.ID, entry); err != nil {
		s.internalError(w, "push message", err)
		return
	}

	// Fan-out failures past this point do not fail the send.
	if _, err := s.push.Incr(ctx, pushdb.UnreadPath(receiver), conv.ID, 1); err != nil {
		s.logger.Warn("bump unread", zap.String("user", receiver), zap.Error(err))
	}
	note := chat.Notification{
		Type:           chat.NotificationNewMessage,
		Title:          s.displayName(ctx, p),
		Body:           content,
		ConversationID: conv.ID,
		CreatedAt:      now.UnixMilli(),
	}
	if _, err := s.push.Push(ctx, pushdb.NotificationsPath(receiver), note); err != nil {
		s.logger.Warn("push notification", zap.String("user", receiver), zap.Error(err))
	}
	s.hub.SendTo(realtime.EventNewMessage, msg, p.UserID, receiver)
	s.hub.SendTo(realtime.EventNotification, note, receiver)

	writeJSON(w, http.StatusOK, chat.SendResult{ID: msg.ID, ConversationID: conv.ID})
}

func (s *Server) displayName(ctx context.Context, p identity.Principal) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if u, err := s.repo.User(ctx, p.UserID); err == nil && u.DisplayName != "" {
		return u.DisplayName
	}
	return p.UserID
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	uid := s.caller(r).UserID
	conv, ok := s.memberConversation(w, r, uid)
	if !ok {
		return
	}
	if err := s.push.Delete(r.Context(), pushdb.UnreadPath(uid), conv.ID); err != nil {
		s.internalError(w, "clear unread", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setTyping(w http.ResponseWriter, r *http.Request) {
	uid := s.caller(r).UserID
	conv, ok := s.memberConversation(w, r, uid)
	if !ok {
		return
	}
	var body struct {
		IsTyping bool `json:"isTyping"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	t := chat.Typing{IsTyping: body.IsTyping, Timestamp: s.now().UnixMilli()}
	if err := s.push.Set(r.Context(), pushdb.TypingPath(conv.ID), uid, t); err != nil {
		s.internalError(w, "set typing", err)
		return
	}
	s.hub.SendTo(realtime.EventUserTyping, map[string]any{
		"conversationId": conv.ID,
		"userId":         uid,
		"isTyping":       body.IsTyping,
	}, conv.Other(uid))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) syncUser(w http.ResponseWriter, r *http.Request) {
	p := s.caller(r)
	var body struct {
		UID         string `json:"uid"`
		DisplayName string `json:"displayName"`
		Image       string `json:"image"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.UID != "" && body.UID != p.UserID {
		writeError(w, http.StatusForbidden, "Cannot update another user")
		return
	}
	name := body.DisplayName
	if name == "" {
		name = p.DisplayName
	}
	if err := s.repo.UpsertUser(r.Context(), User{ID: p.UserID, DisplayName: name, Image: body.Image}); err != nil {
		s.internalError(w, "upsert user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setPresence(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online bool `json:"online"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.announce(r.Context(), s.caller(r).UserID, body.Online); err != nil {
		s.internalError(w, "set presence", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// announce records uid's presence and tells every socket.
func (s *Server) announce(ctx context.Context, uid string, online bool) error {
	p := chat.Presence{Online: online, LastSeen: s.now().UnixMilli()}
	if err := s.push.Set(ctx, pushdb.PresencePath, uid, p); err != nil {
		return err
	}
	event := realtime.EventUserOffline
	if online {
		event = realtime.EventUserOnline
	}
	s.hub.Broadcast(event, map[string]string{"userId": uid})
	return nil
}

func (s *Server) socketPresence(uid string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := s.announce(ctx, uid, online); err != nil {
		s.logger.Warn("socket presence", zap.String("user", uid), zap.Bool("online", online), zap.Error(err))
	}
}
