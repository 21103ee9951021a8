// Package approval implements the tool-call approval manager: the decision
// procedure a hook calls into, the pending-request table routed clients
// resolve, and the command handlers the WebSocket multiplexer offers
// approve/deny commands to first.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaywire/agentbridge/internal/config"
	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

// Decision is the three-way outcome a hook or a routed client can produce.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// ResolvedBy records who produced a Decision.
type ResolvedBy string

const (
	ResolvedByUser    ResolvedBy = "user"
	ResolvedByPolicy  ResolvedBy = "policy"
	ResolvedByTimeout ResolvedBy = "timeout"
)

// HookInput is the payload an external hook script posts over HTTP.
type HookInput struct {
	SessionID      string         `json:"session_id"`
	ToolName       string         `json:"tool_name"`
	ToolUseID      string         `json:"tool_use_id"`
	ToolInput      map[string]any `json:"tool_input"`
	Cwd            string         `json:"cwd"`
	PermissionMode string         `json:"permission_mode,omitempty"`
}

// Preview is a small structured hint the client can render without having
// to understand every tool's input shape.
type Preview struct {
	Type       string              `json:"type"`
	ActionType protocol.ActionType `json:"actionType"`
	Command    string              `json:"command,omitempty"`
	WorkingDir string              `json:"workingDir,omitempty"`
	Text       string              `json:"text,omitempty"`
}

// pending is one in-flight approval request, created by requestApproval and
// completed either by resolveApproval or by its own timeout.
type pending struct {
	requestID  string
	toolCallID string
	sessionID  string
	resolver   chan Decision
	timer      *time.Timer
}

// Broadcaster is the narrow surface the manager needs from the WebSocket
// multiplexer to route a request to clients. approval:requested and
// approval:resolved are ordinary canonical events, broadcast the same way
// as any adapter-sourced event.
type Broadcaster interface {
	BroadcastEvent(event protocol.Event)
	ClientCount() int
}

// Manager implements the requestApproval/resolveApproval/handleCommand/
// cleanup contract described for the approval manager.
type Manager struct {
	cfg     config.ApprovalConfig
	log     *logger.Logger
	bus     Broadcaster
	factory *protocol.Factory

	mu      sync.Mutex
	pending map[string]*pending
}

// New builds an approval manager. bus may be nil until the gateway wires
// itself in; requests made before that point fall through to "ask".
func New(cfg config.ApprovalConfig, log *logger.Logger, factory *protocol.Factory) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     log,
		factory: factory,
		pending: make(map[string]*pending),
	}
}

// SetBroadcaster wires the manager to the gateway after both are
// constructed, avoiding an import cycle between the two packages.
func (m *Manager) SetBroadcaster(bus Broadcaster) {
	m.bus = bus
}

// PendingCount reports how many approvals are currently awaiting
// resolution, used by the HTTP health endpoint.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

var writePermissiveTools = map[string]bool{"Write": true}
var acceptEditsTools = map[string]bool{"Write": true, "Edit": true, "NotebookEdit": true}

// RequestApproval runs the decision procedure for one hook call: permission-
// mode bypass, then below-threshold auto-approve, then fall-through when no
// clients are connected, finally routing to clients and blocking on the
// result (or the configured timeout).
func (m *Manager) RequestApproval(ctx context.Context, input HookInput) Decision {
	switch input.PermissionMode {
	case "bypassPermissions":
		return DecisionAllow
	case "plan":
		if writePermissiveTools[input.ToolName] {
			return DecisionAllow
		}
	case "acceptEdits":
		if acceptEditsTools[input.ToolName] {
			return DecisionAllow
		}
	}

	risk := protocol.AssessRisk(input.ToolName, input.ToolInput)
	threshold := protocol.RiskLevel(m.cfg.Threshold)
	if risk.Less(threshold) {
		return DecisionAllow
	}

	if m.bus == nil || (m.bus.ClientCount() == 0 && m.cfg.RequireClient) {
		return DecisionAsk
	}

	return m.routeToClients(ctx, input, risk)
}

func (m *Manager) routeToClients(ctx context.Context, input HookInput, risk protocol.RiskLevel) Decision {
	requestID := uuid.NewString()
	resolver := make(chan Decision, 1)
	timeout := m.cfg.Timeout()
	if timeout <= 0 {
		timeout = 290 * time.Second
	}

	p := &pending{requestID: requestID, toolCallID: input.ToolUseID, resolver: resolver, sessionID: input.SessionID}
	p.timer = time.AfterFunc(timeout, func() {
		m.resolveInternal(requestID, DecisionAsk, ResolvedByTimeout, "")
	})

	m.mu.Lock()
	m.pending[requestID] = p
	m.mu.Unlock()

	m.bus.BroadcastEvent(m.factory.CreateEvent(input.SessionID, protocol.EventApprovalRequested, map[string]any{
		"requestId":   requestID,
		"toolCallId":  input.ToolUseID,
		"toolName":    input.ToolName,
		"toolInput":   input.ToolInput,
		"riskLevel":   risk,
		"actionType":  protocol.ClassifyActionType(input.ToolName),
		"description": protocol.DescribeToolCall(input.ToolName, input.ToolInput),
		"expiresAt":   time.Now().UTC().Add(timeout).Format(time.RFC3339),
		"preview":     buildPreview(input),
	}))

	select {
	case decision := <-resolver:
		return decision
	case <-ctx.Done():
		// The hook gave up (request cancelled or daemon shutting down):
		// resolve the pending record now so a later timer fire doesn't
		// broadcast a second resolution for the same requestId.
		m.resolveInternal(requestID, DecisionAsk, ResolvedByTimeout, "hook request cancelled")
		return DecisionAsk
	}
}

func buildPreview(input HookInput) *Preview {
	actionType := protocol.ClassifyActionType(input.ToolName)
	switch input.ToolName {
	case "Bash":
		cmd, _ := input.ToolInput["command"].(string)
		return &Preview{Type: "command", ActionType: actionType, Command: cmd, WorkingDir: input.Cwd}
	case "Write", "Edit":
		path, _ := input.ToolInput["file_path"].(string)
		return &Preview{Type: "description", ActionType: actionType, Text: input.ToolName + " " + path}
	default:
		if actionType == protocol.ActionTypeOther {
			return nil
		}
		return &Preview{Type: "description", ActionType: actionType, Text: protocol.DescribeToolCall(input.ToolName, input.ToolInput)}
	}
}

// ResolveApproval completes a pending request. It returns false if the
// request is unknown or was already resolved (duplicate resolutions are a
// no-op).
func (m *Manager) ResolveApproval(requestID string, decision Decision, resolvedBy ResolvedBy, reason string) bool {
	return m.resolveInternal(requestID, decision, resolvedBy, reason)
}

func (m *Manager) resolveInternal(requestID string, decision Decision, resolvedBy ResolvedBy, reason string) bool {
	m.mu.Lock()
	p, ok := m.pending[requestID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, requestID)
	m.mu.Unlock()

	p.timer.Stop()
	select {
	case p.resolver <- decision:
	default:
	}

	if m.bus != nil {
		data := map[string]any{
			"requestId":  requestID,
			"approved":   decision == DecisionAllow,
			"resolvedBy": string(resolvedBy),
		}
		if reason != "" {
			data["reason"] = reason
		}
		m.bus.BroadcastEvent(m.factory.CreateEvent(p.sessionID, protocol.EventApprovalResolved, data))
	}
	return true
}

// HandleCommand maps approve_tool_call/deny_tool_call onto ResolveApproval.
// It returns true iff it recognised and applied the command, letting the
// caller stop routing it further when true.
func (m *Manager) HandleCommand(cmd protocol.Command) bool {
	switch cmd.Command {
	case protocol.CommandApproveToolCall:
		requestID := cmd.GetString("requestId")
		if requestID == "" {
			return false
		}
		return m.ResolveApproval(requestID, DecisionAllow, ResolvedByUser, "")
	case protocol.CommandDenyToolCall:
		requestID := cmd.GetString("requestId")
		if requestID == "" {
			return false
		}
		return m.ResolveApproval(requestID, DecisionDeny, ResolvedByUser, cmd.GetString("reason"))
	default:
		return false
	}
}

// Cleanup resolves every pending request with "ask" so no agent-side hook
// is left blocked on daemon shutdown.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.resolveInternal(id, DecisionAsk, ResolvedByTimeout, "daemon shutdown")
	}
}
