package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/realtime"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	handshakeTimeout = 10 * time.Second
	maxFrameSize     = 64 << 10
	sendBuffer       = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// delivery is one encoded frame for a set of users; nil to means everyone.
type delivery struct {
	to    []string
	frame []byte
}

// Hub fans realtime frames out to connected sockets. Only run touches the
// client registry.
type Hub struct {
	verifier Verifier
	logger   *zap.Logger
	// onPresence is called, off the run loop, when a user's first socket
	// connects or last socket disconnects. Calls are made one at a time in
	// the order the changes happened.
	onPresence func(uid string, online bool)
	presence   presenceQueue

	register   chan *client
	unregister chan *client
	deliver    chan delivery
	done       chan struct{}
	stopped    chan struct{}

	clients map[string]map[*client]struct{}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	userID string
}

func newHub(v Verifier, logger *zap.Logger, onPresence func(string, bool)) *Hub {
	return &Hub{
		verifier:   v,
		logger:     logger,
		onPresence: onPresence,
		presence:   presenceQueue{wake: make(chan struct{}, 1)},
		register:   make(chan *client),
		unregister: make(chan *client),
		deliver:    make(chan delivery, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		clients:    make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) run() {
	defer close(h.stopped)
	if h.onPresence != nil {
		go h.announce()
	}
	for {
		select {
		case <-h.done:
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = nil
			return

		case c := <-h.register:
			set := h.clients[c.userID]
			if set == nil {
				set = make(map[*client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			if len(set) == 1 && h.onPresence != nil {
				h.presence.push(c.userID, true)
			}

		case c := <-h.unregister:
			set := h.clients[c.userID]
			if _, ok := set[c]; !ok {
				continue
			}
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, c.userID)
				if h.onPresence != nil {
					h.presence.push(c.userID, false)
				}
			}

		case d := <-h.deliver:
			if d.to == nil {
				for _, set := range h.clients {
					h.fanout(set, d.frame)
				}
				continue
			}
			for _, uid := range d.to {
				h.fanout(h.clients[uid], d.frame)
			}
		}
	}
}

// announce runs onPresence for queued changes until the hub closes. A
// state already announced for the user is skipped.
func (h *Hub) announce() {
	announced := make(map[string]bool)
	for {
		for ch, ok := h.presence.pop(); ok; ch, ok = h.presence.pop() {
			if prev, seen := announced[ch.uid]; seen && prev == ch.online {
				continue
			}
			announced[ch.uid] = ch.online
			h.onPresence(ch.uid, ch.online)
		}
		select {
		case <-h.presence.wake:
		case <-h.done:
			return
		}
	}
}

type presenceChange struct {
	uid    string
	online bool
}

// presenceQueue holds unannounced presence changes. A user has at most one
// entry, carrying the latest state.
type presenceQueue struct {
	mu      sync.Mutex
	pending []presenceChange
	wake    chan struct{}
}

func (q *presenceQueue) push(uid string, online bool) {
	q.mu.Lock()
	found := false
	for i := range q.pending {
		if q.pending[i].uid == uid {
			q.pending[i].online = online
			found = true
			break
		}
	}
	if !found {
		q.pending = append(q.pending, presenceChange{uid: uid, online: online})
	}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *presenceQueue) pop() (presenceChange, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return presenceChange{}, false
	}
	ch := q.pending[0]
	q.pending = q.pending[1:]
	return ch, true
}

// fanout disconnects clients whose send buffer is full; their read pump
// then unregisters them.
func (h *Hub) fanout(set map[*client]struct{}, frame []byte) {
	for c := range set {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping slow socket", zap.String("socket", c.id), zap.String("user", c.userID))
			go func() { _ = c.conn.Close() }()
		}
	}
}

func (h *Hub) close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	<-h.stopped
}

func (h *Hub) enqueue(to []string, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	frame, _ := json.Marshal(realtime.Frame{Event: event, Data: raw})
	select {
	case h.deliver <- delivery{to: to, frame: frame}:
	case <-h.done:
	}
}

// SendTo delivers event to every socket of the given users.
func (h *Hub) SendTo(event string, data any, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	h.enqueue(userIDs, event, data)
}

// Broadcast delivers event to every socket.
func (h *Hub) Broadcast(event string, data any) {
	h.enqueue(nil, event, data)
}

// ServeWS upgrades the request and runs the handshake. The socket's user
// is taken from the handshake token and nothing else.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var hs realtime.Handshake
	if err := conn.ReadJSON(&hs); err != nil {
		_ = conn.Close()
		return
	}
	p, err := h.verifier.Verify(hs.Auth.Token)
	if err != nil {
		h.reject(conn, err)
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		id:     uuid.NewString(),
		userID: p.UserID,
	}
	ack, _ := json.Marshal(realtime.ConnectAck{ID: c.id})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(realtime.Frame{Event: realtime.EventConnect, Data: ack}); err != nil {
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	h.logger.Debug("socket connected", zap.String("socket", c.id), zap.String("user", c.userID))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) reject(conn *websocket.Conn, err error) {
	msg := "invalid token"
	if errors.Is(err, identity.ErrTokenExpired) {
		msg = "token expired"
	}
	data, _ := json.Marshal(realtime.ConnectError{Message: msg})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(realtime.Frame{Event: realtime.EventConnectError, Data: data})
	_ = conn.Close()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f realtime.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("socket read failed", zap.String("socket", c.id), zap.Error(err))
			}
			return
		}
		switch f.Event {
		case realtime.EventJoinConversation, realtime.EventLeaveConversation:
			var ref realtime.ConversationRef
			_ = json.Unmarshal(f.Data, &ref)
			c.hub.logger.Debug("socket room change",
				zap.String("socket", c.id),
				zap.String("event", f.Event),
				zap.String("conversation", ref.ConversationID),
			)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
