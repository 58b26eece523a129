package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/composer"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/realtime"
	"github.com/hireme/chatsync/internal/rest"
	"github.com/hireme/chatsync/internal/status"
)

// Core is the messaging page the service drives.
type Core interface {
	Self() identity.Principal
	Conversations() []chat.Summary
	ListError() error
	Refresh(ctx context.Context) error
	Open(ctx context.Context, conversationID string) error
	Active() (string, bool)
	History(ctx context.Context, conversationID string, limit int) ([]chat.Message, error)
	Typing() []string
	Keystroke(text string)
	Draft() string
	Send(ctx context.Context) (chat.SendResult, error)
	Notifications() []chat.Notification
	Dismiss(ctx context.Context, key string) error
	Presence() map[string]chat.Presence
	SocketError() error
}

// Searcher searches cached messages.
type Searcher interface {
	SearchMessages(ctx context.Context, query, conversationID string, limit int) ([]chat.Message, error)
}

// RealtimeInfo reports the realtime manager state.
type RealtimeInfo interface {
	Info() realtime.Info
}

// Service implements ControlServer.
type Service struct {
	profile   string
	core      Core
	search    Searcher
	realtime  RealtimeInfo
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
	startedAt time.Time
}

// NewService returns the control service of one profile. search and rt
// may be nil.
func NewService(profile string, core Core, search Searcher, rt RealtimeInfo, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profile:   profile,
		core:      core,
		search:    search,
		realtime:  rt,
		machine:   machine,
		bus:       b,
		logger:    logger,
		startedAt: time.Now(),
	}
}

var _ ControlServer = (*Service)(nil)

func (s *Service) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	self := s.core.Self()
	info := StatusInfo{
		Profile:      s.profile,
		UserID:       self.UserID,
		DisplayName:  self.DisplayName,
		State:        string(s.machine.Current()),
		StateSinceMs: s.machine.Since().UnixMilli(),
		Draft:        s.core.Draft(),
		UptimeMs:     time.Since(s.startedAt).Milliseconds(),
	}
	if s.realtime != nil {
		rt := s.realtime.Info()
		info.Failures = rt.Failures
		info.ChannelID = rt.ChannelID
	}
	if err := s.core.SocketError(); err != nil {
		info.RealtimeError = err.Error()
	}
	if id, ok := s.core.Active(); ok {
		info.ActiveConversation = id
	}
	return reply(info)
}

func (s *Service) ListConversations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListRequest
	if err := decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if req.Refresh {
		// A failed load is reported in the reply, not as an RPC error.
		_ = s.core.Refresh(ctx)
	}
	out := ConversationList{Conversations: s.core.Conversations()}
	if out.Conversations == nil {
		out.Conversations = []chat.Summary{}
	}
	if err := s.core.ListError(); err != nil {
		out.Error = rest.UserMessage(err, "Failed to load conversations")
	}
	return reply(out)
}

func (s *Service) OpenConversation(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req ConversationRequest
	if err := decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation_id is required")
	}
	if err := s.core.Open(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MessagesRequest
	if err := decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if req.ConversationID == "" {
		id, ok := s.core.Active()
		if !ok {
			return nil, grpcstatus.Error(codes.FailedPrecondition, "no conversation is open")
		}
		req.ConversationID = id
	}
	msgs, err := s.core.History(ctx, req.ConversationID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	out := MessageList{Messages: nonNil(msgs)}
	if id, ok := s.core.Active(); ok && id == req.ConversationID {
		out.Typing = s.core.Typing()
	}
	return reply(out)
}

func (s *Service) SearchMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.search == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "message cache is not configured")
	}
	var req SearchRequest
	if err := decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	msgs, err := s.search.SearchMessages(ctx, req.Query, req.ConversationID, req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return reply(MessageList{Messages: nonNil(msgs)})
}

func (s *Service) Keystroke(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req KeystrokeRequest
	if err := decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	s.core.Keystroke(req.Text)
	return &emptypb.Empty{}, nil
}

func (s *Service) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendRequest
	if err := decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if req.ConversationID != "" {
		if id, ok := s.core.Active(); !ok || id != req.ConversationID {
			if err := s.core.Open(ctx, req.ConversationID); err != nil {
				return nil, toStatus(err)
			}
		}
	}
	if req.Text != "" {
		s.core.Keystroke(req.Text)
	}
	res, err := s.core.Send(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(res)
}

func (s *Service) ListNotifications(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return reply(NotificationList{Notifications: s.core.Notifications()})
}

func (s *Service) DismissNotification(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req DismissRequest
	if err := decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if req.Key == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "key is required")
	}
	if err := s.core.Dismiss(ctx, req.Key); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) ListPresence(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p := s.core.Presence()
	if p == nil {
		p = map[string]chat.Presence{}
	}
	return reply(PresenceMap{Presence: p})
}

func (s *Service) WatchEvents(in *structpb.Struct, stream Control_WatchEventsServer) error {
	var req WatchRequest
	if err := decode(in, &req); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.logger.Debug("event payload not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				payload = nil
			}
			m, err := encode(Event{
				ID:           uuid.NewString(),
				Kind:         evt.Kind,
				OccurredAtMs: evt.Timestamp.UnixMilli(),
				Payload:      payload,
			})
			if err != nil {
				return grpcstatus.Errorf(codes.Internal, "%v", err)
			}
			if err := stream.Send(m); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func reply(v any) (*structpb.Struct, error) {
	s, err := encode(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return s, nil
}

func nonNil(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return []chat.Message{}
	}
	return msgs
}

// toStatus maps domain errors to gRPC codes.
func toStatus(err error) error {
	var apiErr *rest.APIError
	var sendErr *composer.SendError
	switch {
	case errors.Is(err, identity.ErrNotAuthenticated), errors.Is(err, identity.ErrTokenExpired):
		return grpcstatus.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, composer.ErrEmpty):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, composer.ErrNoConversation):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, composer.ErrInFlight):
		return grpcstatus.Error(codes.Aborted, err.Error())
	case errors.As(err, &sendErr):
		return grpcstatus.Error(codes.Unavailable, sendErr.Text)
	case errors.As(err, &apiErr):
		return grpcstatus.Error(httpCode(apiErr.StatusCode), rest.UserMessage(err, apiErr.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func httpCode(code int) codes.Code {
	switch code {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Unavailable
	}
}
