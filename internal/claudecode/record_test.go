package claudecode

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	factory := protocol.NewFactory()
	return newSession(context.Background(), "sess-test", protocol.Capabilities{}, factory, logger.Default())
}

func eventTypes(events []protocol.Event) []protocol.EventType {
	out := make([]protocol.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestHandleUserRecord_EmitsMessageAndToolResult(t *testing.T) {
	s := newTestSession(t)

	line := `{"type":"user","cwd":"/tmp/proj","uuid":"u1","message":{"content":[
		{"type":"text","text":"please run the tests"},
		{"type":"tool_result","tool_use_id":"tu1","content":"ok","is_error":false}
	]}}`
	rec, ok := parseRecord(line)
	require.True(t, ok)

	handleRecord(s, rec)

	types := eventTypes(s.history)
	require.Equal(t, []protocol.EventType{
		protocol.EventMessageStart,
		protocol.EventMessageComplete,
		protocol.EventToolResult,
		protocol.EventSessionStatusChanged,
	}, types)

	if s.projectPath != "/tmp/proj" {
		t.Errorf("expected projectPath to be populated from cwd, got %q", s.projectPath)
	}
	require.Equal(t, "thinking", s.status)
}

func TestHandleUserRecord_ToolResultError(t *testing.T) {
	s := newTestSession(t)
	line := `{"type":"user","message":{"content":[
		{"type":"tool_result","tool_use_id":"tu2","content":"boom","is_error":true}
	]}}`
	rec, ok := parseRecord(line)
	require.True(t, ok)

	handleRecord(s, rec)

	var found bool
	for _, e := range s.history {
		if e.Type == protocol.EventToolError {
			found = true
			require.Equal(t, "tu2", e.GetString("toolCallId"))
			require.Equal(t, "TOOL_ERROR", e.GetString("code"))
		}
	}
	require.True(t, found, "expected a tool:error event")
}

func TestHandleAssistantRecord_EmitsToolStartAndExecuting(t *testing.T) {
	s := newTestSession(t)
	line := `{"type":"assistant","message":{"model":"claude-x","content":[
		{"type":"text","text":"Sure"},
		{"type":"tool_use","id":"tc1","name":"Bash","input":{"command":"rm -rf /tmp/x"}}
	],"usage":{"input_tokens":10,"output_tokens":5}}}`
	rec, ok := parseRecord(line)
	require.True(t, ok)

	handleRecord(s, rec)

	types := eventTypes(s.history)
	require.Contains(t, types, protocol.EventToolStart)
	require.Contains(t, types, protocol.EventToolExecuting)
	require.Contains(t, types, protocol.EventEnvironmentInfo)
	require.Contains(t, types, protocol.EventResourceTokenUsage)

	for _, e := range s.history {
		if e.Type == protocol.EventToolExecuting {
			require.Equal(t, protocol.RiskHigh, e.Data["riskLevel"])
		}
	}
	require.True(t, s.modelEmitted)
}

func TestHandleAssistantRecord_ModelEmittedOnlyOnce(t *testing.T) {
	s := newTestSession(t)
	line := `{"type":"assistant","message":{"model":"claude-x","content":[{"type":"text","text":"hi"}]}}`
	rec, _ := parseRecord(line)

	handleRecord(s, rec)
	handleRecord(s, rec)

	count := 0
	for _, e := range s.history {
		if e.Type == protocol.EventEnvironmentInfo {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestHandleRecord_MalformedLineIgnored(t *testing.T) {
	_, ok := parseRecord("not json")
	require.False(t, ok)
}

func TestHandleAssistantRecord_ThinkingBlock(t *testing.T) {
	s := newTestSession(t)
	msg := map[string]any{
		"model": "claude-x",
		"content": []map[string]any{
			{"type": "thinking", "thinking": "considering options"},
		},
	}
	raw, err := json.Marshal(map[string]any{"type": "assistant", "message": msg})
	require.NoError(t, err)
	rec, ok := parseRecord(string(raw))
	require.True(t, ok)

	handleRecord(s, rec)

	types := eventTypes(s.history)
	require.Contains(t, types, protocol.EventThinkingStart)
	require.Contains(t, types, protocol.EventThinkingDelta)
	require.Contains(t, types, protocol.EventThinkingComplete)
}
