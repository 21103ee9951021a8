package claudecode

import "encoding/json"

// record mirrors one line of a Claude Code conversation .jsonl log. Only
// the fields this adapter needs are modeled; everything else is ignored on
// decode, which is what lets malformed or future-shaped lines be skipped
// rather than rejected wholesale.
type record struct {
	Type    string      `json:"type"`
	UUID    string      `json:"uuid"`
	Cwd     string      `json:"cwd"`
	Version string      `json:"version"`
	Message *rawMessage `json:"message"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *rawUsage       `json:"usage"`
}

type rawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// contentBlock is one element of message.content when it's an array, or
// the synthesized single block when content is a bare string.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
	Thinking  string          `json:"thinking"`
}

// parseContentBlocks normalizes message.content, which Claude Code encodes
// either as a bare string or as an array of typed blocks.
func parseContentBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []contentBlock{{Type: "text", Text: asString}}
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	return nil
}

// textOf concatenates every text block's content, in order.
func textOf(blocks []contentBlock) string {
	out := ""
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// toolResultOutput renders a tool_result block's content as a plain
// string, whether it was encoded as a bare string or a block array.
func toolResultOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	inner := parseContentBlocks(raw)
	return textOf(inner)
}
