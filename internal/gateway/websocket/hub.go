// Package websocket implements the WebSocket multiplexer: the
// authenticated wire protocol between many subscribed clients and many
// agent sessions, layered on gorilla/websocket and exposed as gin routes.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

// AuthResult is what the injected onAuth hook reports for a token.
type AuthResult struct {
	Valid  bool
	UserID string
}

// ApprovalHandler is the narrow surface the hub needs from the approval
// manager: a chance to consume approve_tool_call/deny_tool_call commands
// before they fall through to the session orchestrator.
type ApprovalHandler interface {
	HandleCommand(cmd protocol.Command) bool
}

// Hooks wires the hub to the session orchestrator without an import
// cycle: the orchestrator builds them (Orchestrator.Hooks) and
// cmd/agentbridged sets them on the Hub after both exist.
type Hooks struct {
	OnAuth                func(ctx context.Context, token string) AuthResult
	GetCapabilities       func() []protocol.Capabilities
	GetSessions           func() []protocol.SessionDescriptor
	GetSessionHistory     func(ctx context.Context, sessionID string) ([]protocol.Event, error)
	OnCommand             func(ctx context.Context, sessionID string, cmd protocol.Command) error
	OnStartSession        func(ctx context.Context, agentName, projectPath, prompt string) error
	OnTerminateSession    func(ctx context.Context, sessionID string) error
	OnClientAuthenticated func(userID string)
}

// Hub owns the client registry and is the only component that ever
// broadcasts an event or a sessions list to every connected client.
type Hub struct {
	log      *logger.Logger
	hooks    Hooks
	approval ApprovalHandler

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub builds an empty hub. SetHooks/SetApprovalHandler must be called
// before traffic arrives for subscribe/command/start_session to do
// anything beyond auth and ping.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:     log.WithFields(zap.String("component", "ws_hub")),
		clients: make(map[*client]bool),
	}
}

func (h *Hub) SetHooks(hooks Hooks)                 { h.hooks = hooks }
func (h *Hub) SetApprovalHandler(a ApprovalHandler) { h.approval = a }

// ClientCount implements approval.Broadcaster. Only authenticated clients
// count: a socket still inside the auth handshake can't receive an
// approval:requested broadcast, so routing to it would just burn the
// timeout.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		c.mu.Lock()
		if c.authenticated {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.markClosed()
	}
}

// snapshot copies the client set under lock so broadcast never holds the
// hub's mutex across a socket write.
func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// BroadcastEvent implements approval.Broadcaster and is also what the
// orchestrator calls for every adapter-sourced event. Per-session order is
// the emitting session's responsibility (a single send queue per session);
// the hub only has to preserve whatever order it's handed.
func (h *Hub) BroadcastEvent(event protocol.Event) {
	for _, c := range h.snapshot() {
		c.mu.Lock()
		authenticated := c.authenticated
		c.mu.Unlock()
		if !authenticated {
			continue
		}
		if !c.isSubscribed(event.SessionID) {
			continue
		}
		c.deliverOrBuffer(event)
	}
}

// BroadcastSessionsList pushes a fresh sessions_list to every authenticated
// client, used after discovery changes and after start_session succeeds.
func (h *Hub) BroadcastSessionsList(sessions []protocol.SessionDescriptor) {
	for _, c := range h.snapshot() {
		c.mu.Lock()
		authenticated := c.authenticated
		c.mu.Unlock()
		if authenticated {
			c.sendEnvelope("sessions_list", map[string]any{"sessions": sessions})
		}
	}
}

func (h *Hub) handleAuth(ctx context.Context, c *client, token string, authTimer *time.Timer) {
	c.mu.Lock()
	if c.authenticated {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	var result AuthResult
	if h.hooks.OnAuth != nil {
		result = h.hooks.OnAuth(ctx, token)
	}

	if !result.Valid {
		c.sendEnvelope("auth_error", map[string]any{"message": "invalid token"})
		closeWithCode(c, closeAuthFailed, "authentication failed")
		return
	}

	authTimer.Stop()
	c.mu.Lock()
	c.authenticated = true
	c.userID = result.UserID
	c.mu.Unlock()

	var caps []protocol.Capabilities
	if h.hooks.GetCapabilities != nil {
		caps = h.hooks.GetCapabilities()
	}
	c.sendEnvelope("auth_success", map[string]any{"capabilities": caps})

	if h.hooks.GetSessions != nil {
		c.sendEnvelope("sessions_list", map[string]any{"sessions": h.hooks.GetSessions()})
	}

	if h.hooks.OnClientAuthenticated != nil {
		h.hooks.OnClientAuthenticated(result.UserID)
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *client, raw []byte, msg inboundMessage) {
	if !msg.sessionIDsProvided(raw) {
		c.subscribeAll()
		return
	}

	fresh := c.subscribeNew(msg.SessionIDs)
	for _, sessionID := range fresh {
		c.beginReplay(sessionID)
		go h.replayHistory(ctx, c, sessionID)
	}
}

// replayHistory sends one session's history in order, then flushes
// whatever live events queued up while the fetch was in flight, then
// signals history_complete. It runs on its own goroutine per session so a
// slow history fetch for one subscription never blocks live delivery to
// another.
func (h *Hub) replayHistory(ctx context.Context, c *client, sessionID string) {
	defer func() {
		c.endReplay(sessionID)
		c.sendEnvelope("history_complete", map[string]any{"sessionId": sessionID})
	}()

	if h.hooks.GetSessionHistory == nil {
		return
	}
	history, err := h.hooks.GetSessionHistory(ctx, sessionID)
	if err != nil {
		h.log.Warn("history replay failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	for _, ev := range history {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		c.sendEnvelope("acp_event", map[string]any{"event": ev})
	}
}

func (h *Hub) handleCommand(ctx context.Context, c *client, msg inboundMessage) {
	if msg.SessionID == "" || len(msg.Command) == 0 {
		return
	}
	var cmd protocol.Command
	if err := json.Unmarshal(msg.Command, &cmd); err != nil {
		c.sendEnvelope("error", map[string]any{"code": "INVALID_MESSAGE", "message": "malformed command"})
		return
	}

	switch cmd.Command {
	case protocol.CommandApproveToolCall, protocol.CommandDenyToolCall:
		if h.approval != nil && h.approval.HandleCommand(cmd) {
			return
		}
	}

	if h.hooks.OnCommand == nil {
		return
	}
	if err := h.hooks.OnCommand(ctx, msg.SessionID, cmd); err != nil {
		h.log.Warn("command handler failed",
			zap.String("session_id", msg.SessionID),
			zap.String("command", string(cmd.Command)),
			zap.Error(err))
	}
}

func (h *Hub) handleStartSession(ctx context.Context, c *client, msg inboundMessage) {
	if h.hooks.OnStartSession == nil {
		return
	}
	if err := h.hooks.OnStartSession(ctx, msg.Agent, msg.ProjectPath, msg.Prompt); err != nil {
		c.sendEnvelope("error", map[string]any{"code": "START_SESSION_FAILED", "message": err.Error()})
		return
	}
	if h.hooks.GetSessions != nil {
		h.BroadcastSessionsList(h.hooks.GetSessions())
	}
}

func (h *Hub) handleTerminateSession(ctx context.Context, c *client, msg inboundMessage) {
	if h.hooks.OnTerminateSession == nil || msg.SessionID == "" {
		return
	}
	if err := h.hooks.OnTerminateSession(ctx, msg.SessionID); err != nil {
		c.sendEnvelope("error", map[string]any{"code": "TERMINATE_SESSION_FAILED", "message": err.Error()})
	}
}

// closeAllClients is invoked on gateway shutdown.
func (h *Hub) closeAllClients() {
	for _, c := range h.snapshot() {
		closeWithCode(c, 1001, "server shutting down")
	}
}

func closeWithCode(c *client, code int, reason string) {
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.conn.Close()
}

func newClientID() string { return uuid.NewString() }
