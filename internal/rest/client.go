// Package rest is the client of the relational resource API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/identity"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// Client calls the resource API. The bearer token is attached only when
// a principal is signed in.
type Client struct {
	baseURL    string
	httpClient *http.Client
	identity   identity.Source
	logger     *zap.Logger
}

// New returns a client for baseURL.
func New(baseURL string, timeout time.Duration, src identity.Source, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		identity:   src,
		logger:     logger,
	}
}

// ListConversations fetches the conversation summaries of the signed-in user.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages fetches a conversation's messages from the fallback endpoint.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var out []chat.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage creates a message. The result is informational; delivery to
// the thread happens through the push database.
func (c *Client) SendMessage(ctx context.Context, req chat.SendRequest) (chat.SendResult, error) {
	var out chat.SendResult
	err := c.do(ctx, http.MethodPost, "/chats/send", req, &out)
	return out, err
}

// MarkRead clears the unread count of a conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

// SetTyping publishes the typing flag for a conversation.
func (c *Client) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	body := map[string]bool{"isTyping": isTyping}
	return c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(conversationID)+"/typing", body, nil)
}

// SetPresence announces the signed-in user's online flag.
func (c *Client) SetPresence(ctx context.Context, online bool) error {
	return c.do(ctx, http.MethodPost, "/users/me/presence", map[string]bool{"online": online}, nil)
}

// SyncUser upserts the signed-in user's profile on the backend.
func (c *Client) SyncUser(ctx context.Context, p identity.Principal) error {
	body := map[string]string{"uid": p.UserID, "displayName": p.DisplayName}
	return c.do(ctx, http.MethodPost, "/users/me", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("rest: read %s response: %w", path, err)
	}
	c.logger.Debug("rest call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Message = eb.text()
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("rest: decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.identity == nil {
		return nil
	}
	if _, ok := c.identity.Current(); !ok {
		return nil
	}
	token, err := c.identity.Token(ctx, false)
	if err != nil {
		return fmt.Errorf("rest: get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
