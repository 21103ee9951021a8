package claudecode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/agentbridge/internal/protocol"
)

func TestHandleStreamRecord_SystemInitEmitsEnvironmentInfo(t *testing.T) {
	s := newTestSession(t)
	handleStreamRecord(s, []byte(`{"type":"system","subtype":"init","session_id":"s1","claude_version":"1.2.3","model":"claude-x"}`))

	require.Len(t, s.history, 1)
	e := s.history[0]
	require.Equal(t, protocol.EventEnvironmentInfo, e.Type)
	require.Equal(t, "claude-x", e.GetString("model"))
	require.Equal(t, "s1", e.GetString("sessionId"))
}

func TestHandleStreamRecord_TopLevelToolUseAndResult(t *testing.T) {
	s := newTestSession(t)
	handleStreamRecord(s, []byte(`{"type":"tool_use","id":"tc1","name":"Write","input":{"file_path":"/tmp/a.go"}}`))
	handleStreamRecord(s, []byte(`{"type":"tool_result","tool_use_id":"tc1","content":"wrote file","is_error":false}`))

	types := eventTypes(s.history)
	require.Equal(t, []protocol.EventType{
		protocol.EventToolStart,
		protocol.EventToolExecuting,
		protocol.EventToolResult,
	}, types)
}

func TestHandleStreamRecord_FragmentDoesNotCompleteMessage(t *testing.T) {
	s := newTestSession(t)
	handleStreamRecord(s, []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"partial "}]},"stop_reason":null}`))

	types := eventTypes(s.history)
	require.Contains(t, types, protocol.EventMessageStart)
	require.Contains(t, types, protocol.EventMessageDelta)
	require.NotContains(t, types, protocol.EventMessageComplete)
	require.True(t, s.streamAssistantActive)
}

func TestHandleStreamRecord_FinalFragmentCompletesMessage(t *testing.T) {
	s := newTestSession(t)
	handleStreamRecord(s, []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"partial "}]},"stop_reason":null}`))
	handleStreamRecord(s, []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"done"}]},"stop_reason":"end_turn"}`))

	types := eventTypes(s.history)
	require.Contains(t, types, protocol.EventMessageComplete)
	require.False(t, s.streamAssistantActive)
}

func TestHandleStreamRecord_MalformedLineIgnored(t *testing.T) {
	s := newTestSession(t)
	handleStreamRecord(s, []byte(`not json`))
	require.Empty(t, s.history)
}
