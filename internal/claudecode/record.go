package claudecode

import (
	"github.com/google/uuid"

	"github.com/relaywire/agentbridge/internal/protocol"
)

// handleRecord dispatches one decoded attach-mode JSONL record into the
// canonical event stream. Unknown record types are ignored; callers are
// expected to have already skipped lines that failed to parse as JSON.
func handleRecord(s *Session, rec record) {
	switch rec.Type {
	case "user":
		handleUserRecord(s, rec)
	case "assistant":
		handleAssistantRecord(s, rec)
	default:
		// System, summary, and any future record type carry nothing this
		// adapter projects into the event stream.
	}
}

func handleUserRecord(s *Session, rec record) {
	if rec.Cwd != "" && s.projectPath == "" {
		s.projectPath = rec.Cwd
	}
	if rec.Version != "" && s.version == "" {
		s.version = rec.Version
	}

	var blocks []contentBlock
	if rec.Message != nil {
		blocks = parseContentBlocks(rec.Message.Content)
	}

	if text := textOf(blocks); text != "" {
		messageID := rec.UUID
		if messageID == "" {
			messageID = uuid.NewString()
		}
		s.emit(protocol.EventMessageStart, map[string]any{
			"role":      "user",
			"messageId": messageID,
		})
		s.emit(protocol.EventMessageComplete, map[string]any{
			"role":      "user",
			"messageId": messageID,
			"content":   []map[string]any{{"type": "text", "text": text}},
		})
	}

	for _, b := range blocks {
		if b.Type != "tool_result" {
			continue
		}
		output := toolResultOutput(b.Content)
		if b.IsError {
			s.emit(protocol.EventToolError, map[string]any{
				"toolCallId":  b.ToolUseID,
				"error":       output,
				"code":        "TOOL_ERROR",
				"recoverable": true,
			})
		} else {
			s.emit(protocol.EventToolResult, map[string]any{
				"toolCallId": b.ToolUseID,
				"output":     output,
				"duration":   0,
			})
		}
	}

	s.setStatus("thinking")
}

func handleAssistantRecord(s *Session, rec record) {
	s.setStatus("running")

	var blocks []contentBlock
	if rec.Message != nil {
		blocks = parseContentBlocks(rec.Message.Content)
	}
	text := textOf(blocks)

	messageID := rec.UUID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	s.emit(protocol.EventMessageStart, map[string]any{
		"role":      "assistant",
		"messageId": messageID,
	})
	if text != "" {
		s.emit(protocol.EventMessageDelta, map[string]any{
			"role":      "assistant",
			"messageId": messageID,
			"textDelta": text,
		})
	}

	content := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			content = append(content, map[string]any{"type": "text", "text": b.Text})
		case "tool_use":
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    b.ID,
				"name":  b.Name,
				"input": b.Input,
			})
		}
	}
	s.emit(protocol.EventMessageComplete, map[string]any{
		"role":      "assistant",
		"messageId": messageID,
		"content":   content,
	})

	for _, b := range blocks {
		if b.Type != "thinking" && b.Type != "redacted_thinking" {
			continue
		}
		s.emit(protocol.EventThinkingStart, map[string]any{"messageId": messageID})
		if b.Thinking != "" {
			s.emit(protocol.EventThinkingDelta, map[string]any{
				"messageId":     messageID,
				"thinkingDelta": b.Thinking,
			})
		}
		s.emit(protocol.EventThinkingComplete, map[string]any{
			"messageId": messageID,
			"redacted":  b.Type == "redacted_thinking",
		})
	}

	if rec.Message != nil && rec.Message.Model != "" && !s.modelEmitted {
		s.modelEmitted = true
		s.emit(protocol.EventEnvironmentInfo, map[string]any{
			"agentName": "claude-code",
			"model":     rec.Message.Model,
		})
	}

	for _, b := range blocks {
		if b.Type != "tool_use" {
			continue
		}
		s.emit(protocol.EventToolStart, map[string]any{
			"toolCallId": b.ID,
			"toolName":   b.Name,
			"input":      b.Input,
		})
		risk := protocol.AssessRisk(b.Name, b.Input)
		s.emit(protocol.EventToolExecuting, map[string]any{
			"toolCallId":       b.ID,
			"riskLevel":        risk,
			"requiresApproval": false,
		})
	}

	if rec.Message != nil && rec.Message.Usage != nil {
		u := rec.Message.Usage
		s.emit(protocol.EventResourceTokenUsage, map[string]any{
			"inputTokens":              u.InputTokens,
			"outputTokens":             u.OutputTokens,
			"cacheCreationInputTokens": u.CacheCreationInputTokens,
			"cacheReadInputTokens":     u.CacheReadInputTokens,
			"cumulativeInputTokens":    u.InputTokens,
			"cumulativeOutputTokens":   u.OutputTokens,
		})
	}
}
