package acpadapter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/coder/acp-go-sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/adapter"
	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

// maxHistory mirrors the claudecode adapter's bound on the in-memory event
// buffer kept per session.
const maxHistory = 5000

// session is the acpadapter's implementation of adapter.Session. One
// session owns one agent subprocess and one ACP connection; unlike
// claudecode there is no underlying file to re-read, so every event
// originates from a SessionUpdate push.
type session struct {
	id   string
	log  *logger.Logger
	caps protocol.Capabilities

	factory *protocol.Factory
	conn    *acp.ClientSideConnection
	acpID   acp.SessionId
	cmd     *exec.Cmd

	mu      sync.Mutex
	history []protocol.Event
	subs    map[int]func(protocol.Event)
	nextSub int

	historyReadyOnce sync.Once
	historyReady     chan struct{}

	status       string
	projectPath  string
	modelEmitted bool

	// Accumulates one in-progress assistant turn across AgentMessageChunk
	// notifications, since ACP delivers a turn as a stream of chunks rather
	// than the claudecode adapter's single complete record.
	streamMessageID string
	streamText      strings.Builder
}

func newSession(id string, caps protocol.Capabilities, factory *protocol.Factory, log *logger.Logger) *session {
	return &session{
		id:           id,
		log:          log.WithFields(zap.String("sessionId", id)),
		caps:         caps,
		factory:      factory,
		subs:         make(map[int]func(protocol.Event)),
		status:       "idle",
		historyReady: make(chan struct{}),
	}
}

func (s *session) ID() string                          { return s.id }
func (s *session) Capabilities() protocol.Capabilities { return s.caps }

func (s *session) OnEvent(cb func(protocol.Event)) adapter.UnsubscribeFunc {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = cb
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// GetHistory waits for the session to have processed at least its initial
// handshake, then returns a snapshot of every event emitted so far. Unlike
// claudecode there is no backlog file to catch up on: "ready" just means
// the session has been created or loaded.
func (s *session) GetHistory(ctx context.Context) []protocol.Event {
	select {
	case <-s.historyReady:
	case <-ctx.Done():
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Event, len(s.history))
	copy(out, s.history)
	return out
}

func (s *session) Refresh(ctx context.Context) error { return nil }

// Execute maps a canonical Command onto the ACP RPCs Prompt/Cancel expose.
// Approve/deny commands are normally consumed by the hub's ApprovalHandler;
// one it does not recognise falls through to here and is rejected as
// unsupported.
func (s *session) Execute(ctx context.Context, cmd protocol.Command) error {
	switch cmd.Command {
	case protocol.CommandSendMessage:
		return s.prompt(ctx, cmd.GetString("text"))
	case protocol.CommandCancel:
		return s.conn.Cancel(ctx, acp.CancelNotification{SessionId: s.acpID})
	case protocol.CommandTerminate:
		return s.terminate()
	default:
		return fmt.Errorf("acpadapter: unsupported command %q", cmd.Command)
	}
}

func (s *session) prompt(ctx context.Context, text string) error {
	s.setStatus("running")
	_, err := s.conn.Prompt(ctx, acp.PromptRequest{
		SessionId: s.acpID,
		Prompt:    []acp.ContentBlock{acp.TextBlock(text)},
	})
	if err != nil {
		s.emit(protocol.EventSessionError, map[string]any{
			"code":        "PROMPT_FAILED",
			"message":     err.Error(),
			"recoverable": true,
		})
		return err
	}
	// Prompt blocks until the agent's turn ends (whatever its StopReason),
	// so that's the signal to close out whatever AgentMessageChunk stream
	// accumulated during the call.
	s.endTurn()
	s.emit(protocol.EventSessionCompleted, map[string]any{"reason": "turn_complete"})
	return nil
}

// endTurn closes out the in-progress assistant turn accumulated from
// AgentMessageChunk notifications, emitting one message:complete for the
// whole turn. Mirrors the claudecode adapter's non-fragment record handling
// in record.go/stream.go.
func (s *session) endTurn() {
	if s.streamMessageID == "" {
		return
	}
	text := s.streamText.String()
	s.emit(protocol.EventMessageComplete, map[string]any{
		"role":      "assistant",
		"messageId": s.streamMessageID,
		"content":   []map[string]any{{"type": "text", "text": text}},
	})
	s.streamMessageID = ""
	s.streamText.Reset()
}

// terminate kills the subprocess directly; ACP agents exit on stdin close,
// but an explicit kill guarantees termination even for a wedged agent.
func (s *session) terminate() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Detach clears subscribers without touching the subprocess; the adapter
// decides separately whether a terminate command should also kill it.
func (s *session) Detach() {
	s.mu.Lock()
	s.subs = make(map[int]func(protocol.Event))
	s.mu.Unlock()
}

func (s *session) emit(typ protocol.EventType, data map[string]any) {
	ev := s.factory.CreateEvent(s.id, typ, data)

	s.mu.Lock()
	s.history = append(s.history, ev)
	if len(s.history) > maxHistory {
		keep := maxHistory / 2
		trimmed := make([]protocol.Event, keep)
		copy(trimmed, s.history[len(s.history)-keep:])
		s.history = trimmed
	}
	subs := make([]func(protocol.Event), 0, len(s.subs))
	for _, cb := range s.subs {
		subs = append(subs, cb)
	}
	s.mu.Unlock()

	for _, cb := range subs {
		cb(ev)
	}
}

func (s *session) markHistoryReady() {
	s.historyReadyOnce.Do(func() { close(s.historyReady) })
}

func (s *session) setStatus(status string) {
	if s.status == status {
		return
	}
	from := s.status
	s.status = status
	s.emit(protocol.EventSessionStatusChanged, map[string]any{"from": from, "to": status})
}

// handleUpdate converts one ACP SessionNotification into the canonical
// event stream.
func (s *session) handleUpdate(n acp.SessionNotification) {
	u := n.Update
	switch {
	case u.AgentMessageChunk != nil:
		if u.AgentMessageChunk.Content.Text != nil {
			text := u.AgentMessageChunk.Content.Text.Text
			if s.streamMessageID == "" {
				s.streamMessageID = uuid.NewString()
				s.emit(protocol.EventMessageStart, map[string]any{
					"role":      "assistant",
					"messageId": s.streamMessageID,
				})
			}
			s.streamText.WriteString(text)
			s.emit(protocol.EventMessageDelta, map[string]any{
				"role":      "assistant",
				"messageId": s.streamMessageID,
				"textDelta": text,
			})
		}

	case u.AgentThoughtChunk != nil:
		if u.AgentThoughtChunk.Content.Text != nil {
			s.emit(protocol.EventThinkingDelta, map[string]any{
				"thinkingDelta": u.AgentThoughtChunk.Content.Text.Text,
			})
		}

	case u.ToolCall != nil:
		input := map[string]any{}
		if u.ToolCall.RawInput != nil {
			if m, ok := u.ToolCall.RawInput.(map[string]any); ok {
				input = m
			}
		}
		toolName := string(u.ToolCall.Kind)
		s.emit(protocol.EventToolStart, map[string]any{
			"toolCallId": string(u.ToolCall.ToolCallId),
			"toolName":   toolName,
			"input":      input,
		})
		s.emit(protocol.EventToolExecuting, map[string]any{
			"toolCallId":       string(u.ToolCall.ToolCallId),
			"riskLevel":        protocol.AssessRisk(toolName, input),
			"requiresApproval": false,
		})

	case u.ToolCallUpdate != nil:
		status := ""
		if u.ToolCallUpdate.Status != nil {
			status = string(*u.ToolCallUpdate.Status)
		}
		toolCallID := string(u.ToolCallUpdate.ToolCallId)
		switch status {
		case "completed", "complete":
			s.emit(protocol.EventToolResult, map[string]any{
				"toolCallId": toolCallID,
				"output":     u.ToolCallUpdate.RawOutput,
				"duration":   0,
			})
		case "failed", "error":
			s.emit(protocol.EventToolError, map[string]any{
				"toolCallId":  toolCallID,
				"error":       u.ToolCallUpdate.RawOutput,
				"code":        "TOOL_ERROR",
				"recoverable": true,
			})
		}

	case u.Plan != nil:
		entries := make([]map[string]any, len(u.Plan.Entries))
		for i, e := range u.Plan.Entries {
			entries[i] = map[string]any{
				"description": e.Content,
				"status":      string(e.Status),
				"priority":    string(e.Priority),
			}
		}
		s.emit(protocol.EventCustom, map[string]any{
			"kind":    "plan",
			"entries": entries,
		})

	case u.AvailableCommandsUpdate != nil:
		commands := make([]map[string]any, len(u.AvailableCommandsUpdate.AvailableCommands))
		for i, c := range u.AvailableCommandsUpdate.AvailableCommands {
			commands[i] = map[string]any{"name": c.Name, "description": c.Description}
		}
		s.emit(protocol.EventCustom, map[string]any{
			"kind":     "available_commands",
			"commands": commands,
		})
	}
}
