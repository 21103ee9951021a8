package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	authTimeout    = 10 * time.Second
	maxMessageSize = 1 << 20 // 1 MiB, matching the hook body cap in spirit
)

// Close codes the wire protocol assigns meaning to.
const (
	closeAuthTimeout = 4001
	closeAuthFailed  = 4002
)

// client is one authenticated-or-not WebSocket connection. Its
// subscription state and send buffer are owned by the client itself; the
// Hub only ever touches a snapshot of clients under its own lock.
type client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	log  *logger.Logger
	send chan []byte

	mu            sync.Mutex
	closed        bool
	authenticated bool
	userID        string

	subAll    bool
	subs      map[string]bool
	replaying map[string]bool
	pending   map[string][]protocol.Event
}

func newClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *client {
	return &client{
		id:        id,
		conn:      conn,
		hub:       hub,
		log:       log.WithFields(zap.String("client_id", id)),
		send:      make(chan []byte, 256),
		subs:      make(map[string]bool),
		replaying: make(map[string]bool),
		pending:   make(map[string][]protocol.Event),
	}
}

func (c *client) isSubscribed(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subAll || c.subs[sessionID]
}

// deliverOrBuffer is the single choke point broadcastACPEvent uses: if the
// session is mid-replay for this client the event is queued instead of
// sent, so the eventual flush preserves seq order relative to the history
// snapshot already in flight.
func (c *client) deliverOrBuffer(ev protocol.Event) {
	c.mu.Lock()
	if c.replaying[ev.SessionID] {
		c.pending[ev.SessionID] = append(c.pending[ev.SessionID], ev)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.sendEnvelope("acp_event", map[string]any{"event": ev})
}

func (c *client) beginReplay(sessionID string) {
	c.mu.Lock()
	c.replaying[sessionID] = true
	c.mu.Unlock()
}

// endReplay flushes anything buffered while history was being fetched, in
// arrival order, then clears replay state for the session.
func (c *client) endReplay(sessionID string) {
	c.mu.Lock()
	queued := c.pending[sessionID]
	delete(c.pending, sessionID)
	delete(c.replaying, sessionID)
	c.mu.Unlock()

	for _, ev := range queued {
		c.sendEnvelope("acp_event", map[string]any{"event": ev})
	}
}

func (c *client) subscribeAll() {
	c.mu.Lock()
	c.subAll = true
	c.mu.Unlock()
}

// subscribeNew unions newIDs into the client's subscription set and
// returns only the ones that weren't already present, for which history
// replay must run.
func (c *client) subscribeNew(newIDs []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var fresh []string
	for _, id := range newIDs {
		if !c.subs[id] {
			c.subs[id] = true
			fresh = append(fresh, id)
		}
	}
	return fresh
}

func (c *client) unsubscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.subs, id)
	}
}

func (c *client) sendEnvelope(typ string, fields map[string]any) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = typ
	data, err := json.Marshal(out)
	if err != nil {
		c.log.Error("failed to marshal outbound message", zap.Error(err))
		return
	}
	c.enqueue(data)
}

func (c *client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("client send buffer full, dropping message")
	}
}

func (c *client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump decodes inbound frames and dispatches them to the hub. Commands
// before auth other than "auth" itself are rejected with NOT_AUTHENTICATED.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	authTimer := time.AfterFunc(authTimeout, func() {
		c.mu.Lock()
		authed := c.authenticated
		c.mu.Unlock()
		if !authed {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeAuthTimeout, "authentication timeout"),
				time.Now().Add(writeWait))
			c.conn.Close()
		}
	})
	defer authTimer.Stop()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendEnvelope("error", map[string]any{"code": "INVALID_MESSAGE", "message": "malformed JSON"})
			continue
		}

		c.mu.Lock()
		authenticated := c.authenticated
		c.mu.Unlock()

		if !authenticated && msg.Type != "auth" {
			c.sendEnvelope("error", map[string]any{"code": "NOT_AUTHENTICATED", "message": "send auth first"})
			continue
		}

		switch msg.Type {
		case "auth":
			c.hub.handleAuth(ctx, c, msg.Token, authTimer)
		case "ping":
			c.sendEnvelope("pong", nil)
		case "subscribe":
			c.hub.handleSubscribe(ctx, c, raw, msg)
		case "unsubscribe":
			c.unsubscribe(msg.SessionIDs)
		case "command":
			c.hub.handleCommand(ctx, c, msg)
		case "start_session":
			c.hub.handleStartSession(ctx, c, msg)
		case "terminate_session":
			c.hub.handleTerminateSession(ctx, c, msg)
		default:
			// Unknown message types are ignored silently.
		}
	}
}

// writePump owns the physical socket writes: queued outbound frames and the
// periodic liveness ping both flow through here so there is exactly one
// writer goroutine per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
