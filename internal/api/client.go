package api

import (
	"context"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hireme/chatsync/internal/chat"
)

func (c *ControlClient) call(ctx context.Context, method string, req any, out any) error {
	var in proto.Message = new(emptypb.Empty)
	if req != nil {
		s, err := encode(req)
		if err != nil {
			return err
		}
		in = s
	}
	if out == nil {
		return c.invoke(ctx, method, in, new(emptypb.Empty))
	}
	reply := new(structpb.Struct)
	if err := c.invoke(ctx, method, in, reply); err != nil {
		return err
	}
	return decode(reply, out)
}

// Status returns the daemon status.
func (c *ControlClient) Status(ctx context.Context) (StatusInfo, error) {
	var info StatusInfo
	err := c.call(ctx, "Status", nil, &info)
	return info, err
}

// ListConversations returns the conversation list, optionally reloaded.
func (c *ControlClient) ListConversations(ctx context.Context, refresh bool) (ConversationList, error) {
	var out ConversationList
	err := c.call(ctx, "ListConversations", ListRequest{Refresh: refresh}, &out)
	return out, err
}

// OpenConversation makes conversationID the active conversation.
func (c *ControlClient) OpenConversation(ctx context.Context, conversationID string) error {
	return c.call(ctx, "OpenConversation", ConversationRequest{ConversationID: conversationID}, nil)
}

// ListMessages returns the latest messages of a conversation.
func (c *ControlClient) ListMessages(ctx context.Context, conversationID string, limit int) (MessageList, error) {
	var out MessageList
	err := c.call(ctx, "ListMessages", MessagesRequest{ConversationID: conversationID, Limit: limit}, &out)
	return out, err
}

// SearchMessages searches the local cache.
func (c *ControlClient) SearchMessages(ctx context.Context, req SearchRequest) ([]chat.Message, error) {
	var out MessageList
	err := c.call(ctx, "SearchMessages", req, &out)
	return out.Messages, err
}

// Keystroke replaces the composer input.
func (c *ControlClient) Keystroke(ctx context.Context, text string) error {
	return c.call(ctx, "Keystroke", KeystrokeRequest{Text: text}, nil)
}

// SendMessage submits the composer input.
func (c *ControlClient) SendMessage(ctx context.Context, req SendRequest) (chat.SendResult, error) {
	var out chat.SendResult
	err := c.call(ctx, "SendMessage", req, &out)
	return out, err
}

// ListNotifications returns the notification feed.
func (c *ControlClient) ListNotifications(ctx context.Context) ([]chat.Notification, error) {
	var out NotificationList
	err := c.call(ctx, "ListNotifications", nil, &out)
	return out.Notifications, err
}

// DismissNotification deletes one notification.
func (c *ControlClient) DismissNotification(ctx context.Context, key string) error {
	return c.call(ctx, "DismissNotification", DismissRequest{Key: key}, nil)
}

// ListPresence returns the presence map.
func (c *ControlClient) ListPresence(ctx context.Context) (map[string]chat.Presence, error) {
	var out PresenceMap
	err := c.call(ctx, "ListPresence", nil, &out)
	return out.Presence, err
}

// EventStream yields streamed events.
type EventStream struct {
	stream Control_WatchEventsClient
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (Event, error) {
	m, err := s.stream.Recv()
	if err != nil {
		return Event{}, err
	}
	var evt Event
	err = decode(m, &evt)
	return evt, err
}

// WatchEvents streams bus events whose kind starts with namespace until
// ctx ends.
func (c *ControlClient) WatchEvents(ctx context.Context, namespace string) (*EventStream, error) {
	in, err := encode(WatchRequest{Namespace: namespace})
	if err != nil {
		return nil, err
	}
	stream, err := c.watchEvents(ctx, in)
	if err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
