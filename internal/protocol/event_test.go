package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_RoundTrip(t *testing.T) {
	f := NewFactory()
	original := f.CreateEvent("s1", EventToolStart, map[string]any{
		"toolCallId": "tc1",
		"toolName":   "Bash",
		"riskLevel":  "high",
	})

	b, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(b, &decoded))

	assert.Equal(t, original.Seq, decoded.Seq)
	assert.Equal(t, original.SessionID, decoded.SessionID)
	assert.Equal(t, original.Timestamp, decoded.Timestamp)
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, "tc1", decoded.GetString("toolCallId"))
	assert.Equal(t, "Bash", decoded.GetString("toolName"))
}

func TestEvent_UnknownTypePassesThroughOpaquely(t *testing.T) {
	raw := []byte(`{"seq":1,"sessionId":"s1","timestamp":"2026-01-01T00:00:00Z","type":"future:event","widget":"gizmo"}`)

	var e Event
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, EventType("future:event"), e.Type)
	assert.Equal(t, "gizmo", e.GetString("widget"))

	out, err := json.Marshal(e)
	require.NoError(t, err)

	var reDecoded Event
	require.NoError(t, json.Unmarshal(out, &reDecoded))
	assert.Equal(t, e, reDecoded)
}

func TestCommand_RoundTrip(t *testing.T) {
	c := Command{
		Command: CommandApproveToolCall,
		Data:    map[string]any{"requestId": "r1", "toolCallId": "tc1"},
	}
	b, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded Command
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, CommandApproveToolCall, decoded.Command)
	assert.Equal(t, "r1", decoded.GetString("requestId"))
}
