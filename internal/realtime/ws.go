package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// WSDialer opens channels over WebSocket.
type WSDialer struct {
	URL    string
	Logger *zap.Logger
	// ReconnectAttempts is how many times a dropped channel redials with
	// its original token before staying disconnected.
	ReconnectAttempts int
	// ReconnectBackoff is multiplied by the attempt number.
	ReconnectBackoff time.Duration
	// PingPeriod overrides the keepalive interval.
	PingPeriod time.Duration

	Dialer *websocket.Dialer
}

func (d *WSDialer) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Dial connects and performs the handshake.
func (d *WSDialer) Dial(ctx context.Context, token string) (Channel, error) {
	conn, id, err := d.open(ctx, token)
	if err != nil {
		return nil, err
	}
	c := &wsChannel{
		dialer:    d,
		token:     token,
		logger:    d.logger(),
		conn:      conn,
		id:        id,
		connected: true,
		handlers:  make(map[string]map[int]Handler),
		done:      make(chan struct{}),
	}
	go c.readLoop(conn)
	go c.pingLoop()
	return c, nil
}

func (d *WSDialer) open(ctx context.Context, token string) (*websocket.Conn, string, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("realtime: dial %s: %w", d.URL, err)
	}

	// Abort a handshake read that outlives ctx.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(Handshake{Auth: HandshakeAuth{Token: token}}); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("realtime: send handshake: %w", err)
	}

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			_ = conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", fmt.Errorf("realtime: handshake: %w", ctxErr)
			}
			return nil, "", fmt.Errorf("realtime: read handshake reply: %w", err)
		}
		switch f.Event {
		case EventConnect:
			if !stop() {
				return nil, "", fmt.Errorf("realtime: handshake: %w", ctx.Err())
			}
			var ack ConnectAck
			_ = json.Unmarshal(f.Data, &ack)
			_ = conn.SetWriteDeadline(time.Time{})
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return conn, ack.ID, nil
		case EventConnectError:
			ce := &ConnectError{}
			if err := json.Unmarshal(f.Data, ce); err != nil || ce.Message == "" {
				ce.Message = "unknown error"
			}
			_ = conn.Close()
			return nil, "", ce
		}
	}
}

type wsChannel struct {
	dialer *WSDialer
	token  string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	id        string
	connected bool
	closed    bool

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]map[int]Handler
	nextID     int

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsChannel) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *wsChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *wsChannel) On(event string, h Handler) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	id := c.nextID
	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = h
	return func() {
		c.handlersMu.Lock()
		delete(c.handlers[event], id)
		c.handlersMu.Unlock()
	}
}

func (c *wsChannel) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event, err)
	}

	c.mu.Lock()
	conn, ok := c.conn, c.connected && !c.closed
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("realtime: emit %s: %w", event, err)
	}
	return nil
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()
		close(c.done)

		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (c *wsChannel) dispatch(event string, data json.RawMessage) {
	c.handlersMu.RLock()
	hs := make([]Handler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.handlersMu.RUnlock()
	for _, h := range hs {
		h(data)
	}
}

func (c *wsChannel) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.lost(conn, err)
			return
		}
		if f.Event == "" {
			continue
		}
		c.dispatch(f.Event, f.Data)
	}
}

func (c *wsChannel) lost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()
	_ = conn.Close()

	reason := "transport error"
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		reason = fmt.Sprintf("closed %d", ce.Code)
	}
	c.logger.Debug("realtime read failed", zap.Error(err))
	data, _ := json.Marshal(map[string]string{"reason": reason})
	c.dispatch(EventDisconnect, data)

	if c.dialer.ReconnectAttempts > 0 {
		go c.reconnect()
	}
}

func (c *wsChannel) reconnect() {
	backoff := c.dialer.ReconnectBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	for attempt := 1; attempt <= c.dialer.ReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(time.Duration(attempt) * backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		conn, id, err := c.dialer.open(ctx, c.token)
		cancel()
		if err != nil {
			c.logger.Debug("realtime reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn, c.id, c.connected = conn, id, true
		c.mu.Unlock()

		go c.readLoop(conn)
		data, _ := json.Marshal(map[string]int{"attempt": attempt})
		c.dispatch(EventReconnect, data)
		return
	}
}

func (c *wsChannel) pingLoop() {
	period := c.dialer.PingPeriod
	if period <= 0 {
		period = pingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		conn, ok := c.conn, c.connected && !c.closed
		c.mu.Unlock()
		if !ok {
			continue
		}
		c.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug("realtime ping failed", zap.Error(err))
		}
	}
}
