package acpadapter

import (
	"context"
	"testing"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

func newTestSession() *session {
	return newSession("s1", protocol.Capabilities{}, protocol.NewFactory(), logger.Default())
}

func TestHandleUpdate_AgentMessageChunkStartsThenDeltas(t *testing.T) {
	s := newTestSession()
	var got []protocol.Event
	s.OnEvent(func(ev protocol.Event) { got = append(got, ev) })

	s.handleUpdate(acp.SessionNotification{
		SessionId: "s1",
		Update: acp.SessionUpdate{
			AgentMessageChunk: &acp.SessionUpdateAgentMessageChunk{Content: acp.ContentBlock{Text: &acp.ContentBlockText{Text: "hi "}}},
		},
	})
	s.handleUpdate(acp.SessionNotification{
		SessionId: "s1",
		Update: acp.SessionUpdate{
			AgentMessageChunk: &acp.SessionUpdateAgentMessageChunk{Content: acp.ContentBlock{Text: &acp.ContentBlockText{Text: "there"}}},
		},
	})

	require.Len(t, got, 3)
	require.Equal(t, protocol.EventMessageStart, got[0].Type)
	require.Equal(t, "assistant", got[0].GetString("role"))
	messageID := got[0].GetString("messageId")
	require.NotEmpty(t, messageID)

	require.Equal(t, protocol.EventMessageDelta, got[1].Type)
	require.Equal(t, messageID, got[1].GetString("messageId"))
	require.Equal(t, "hi ", got[1].GetString("textDelta"))

	require.Equal(t, protocol.EventMessageDelta, got[2].Type)
	require.Equal(t, messageID, got[2].GetString("messageId"))
	require.Equal(t, "there", got[2].GetString("textDelta"))

	// message:complete only fires once the turn ends (endTurn, called from
	// prompt when the agent's Prompt RPC returns), not per chunk.
	s.endTurn()
	require.Len(t, got, 4)
	require.Equal(t, protocol.EventMessageComplete, got[3].Type)
	require.Equal(t, messageID, got[3].GetString("messageId"))
}

func TestHandleUpdate_ToolCallEmitsStartAndExecuting(t *testing.T) {
	s := newTestSession()
	var got []protocol.Event
	s.OnEvent(func(ev protocol.Event) { got = append(got, ev) })

	kind := acp.ToolKind("run_shell_command")
	s.handleUpdate(acp.SessionNotification{
		SessionId: "s1",
		Update: acp.SessionUpdate{
			ToolCall: &acp.SessionUpdateToolCall{
				ToolCallId: "tc1",
				Kind:       kind,
				RawInput:   map[string]any{"command": "rm -rf /tmp/x"},
			},
		},
	})

	require.Len(t, got, 2)
	require.Equal(t, protocol.EventToolStart, got[0].Type)
	require.Equal(t, protocol.EventToolExecuting, got[1].Type)
	risk, _ := got[1].Get("riskLevel")
	require.Equal(t, protocol.RiskHigh, risk)
}

func TestHandleUpdate_ToolCallUpdateCompletedEmitsResult(t *testing.T) {
	s := newTestSession()
	var got []protocol.Event
	s.OnEvent(func(ev protocol.Event) { got = append(got, ev) })

	status := acp.ToolCallStatus("completed")
	s.handleUpdate(acp.SessionNotification{
		SessionId: "s1",
		Update: acp.SessionUpdate{
			ToolCallUpdate: &acp.SessionToolCallUpdate{ToolCallId: "tc1", Status: &status},
		},
	})

	require.Len(t, got, 1)
	require.Equal(t, protocol.EventToolResult, got[0].Type)
}

func TestOnEvent_UnsubscribeStopsDelivery(t *testing.T) {
	s := newTestSession()
	count := 0
	unsub := s.OnEvent(func(ev protocol.Event) { count++ })
	unsub()

	s.emit(protocol.EventSessionStatusChanged, map[string]any{"from": "idle", "to": "running"})
	require.Equal(t, 0, count)
}

func TestGetHistory_WaitsForReady(t *testing.T) {
	s := newTestSession()
	s.emit(protocol.EventSessionStatusChanged, map[string]any{"from": "starting", "to": "idle"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Nil(t, s.GetHistory(ctx))

	s.markHistoryReady()
	history := s.GetHistory(context.Background())
	require.Len(t, history, 1)
}
