// Package protocol defines the canonical event/command envelope shared by
// every adapter, the approval manager, and the WebSocket multiplexer. It is
// pure data plus the event factory; it has no knowledge of any particular
// agent's wire format.
package protocol

import "encoding/json"

// EventType is a colon-separated tag identifying the shape of an Event's
// type-specific fields. Unknown future event types MUST round-trip as
// opaque pass-through.
type EventType string

const (
	EventSessionStarted       EventType = "session:started"
	EventSessionStatusChanged EventType = "session:status_changed"
	EventSessionCompleted     EventType = "session:completed"
	EventSessionError         EventType = "session:error"

	EventMessageStart    EventType = "message:start"
	EventMessageDelta    EventType = "message:delta"
	EventMessageComplete EventType = "message:complete"

	EventToolStart     EventType = "tool:start"
	EventToolExecuting EventType = "tool:executing"
	EventToolResult    EventType = "tool:result"
	EventToolError     EventType = "tool:error"

	EventApprovalRequested EventType = "approval:requested"
	EventApprovalResolved  EventType = "approval:resolved"

	EventEnvironmentInfo    EventType = "environment:info"
	EventResourceTokenUsage EventType = "resource:token_usage"

	EventThinkingStart    EventType = "thinking:start"
	EventThinkingDelta    EventType = "thinking:delta"
	EventThinkingComplete EventType = "thinking:complete"

	EventFileChange EventType = "file:change"
	EventFileBatch  EventType = "file:batch"

	EventCustom EventType = "custom"
)

// Event is the canonical envelope every adapter emits. Fields beyond the
// envelope are type-specific and carried in Data; MarshalJSON flattens Data
// alongside the envelope so the wire shape is one flat object, not a
// nested "data" key, and UnmarshalJSON reverses that so unknown/future
// fields survive as opaque pass-through.
type Event struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"sessionId"`
	Timestamp string    `json:"timestamp"`
	Type      EventType `json:"type"`

	// Data holds every field besides seq/sessionId/timestamp/type. Using a
	// map keeps this module agnostic of each event type's specific shape
	// while still round-tripping unknown event types unchanged.
	Data map[string]any `json:"-"`
}

// envelopeFields lists the keys MarshalJSON/UnmarshalJSON treat specially;
// everything else lives in Data.
var envelopeFields = map[string]bool{
	"seq": true, "sessionId": true, "timestamp": true, "type": true,
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		out[k] = v
	}
	out["seq"] = e.Seq
	out["sessionId"] = e.SessionID
	out["timestamp"] = e.Timestamp
	out["type"] = e.Type
	return json.Marshal(out)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	if v, ok := raw["seq"]; ok {
		switch n := v.(type) {
		case float64:
			e.Seq = uint64(n)
		}
	}
	if v, ok := raw["sessionId"].(string); ok {
		e.SessionID = v
	}
	if v, ok := raw["timestamp"].(string); ok {
		e.Timestamp = v
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = EventType(v)
	}

	e.Data = make(map[string]any, len(raw))
	for k, v := range raw {
		if envelopeFields[k] {
			continue
		}
		e.Data[k] = v
	}
	return nil
}

// Get returns a type-specific field by name, mirroring struct-field access
// without forcing every adapter to depend on one giant Event struct.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.Data[key]
	return v, ok
}

// GetString is a convenience accessor for string-valued fields.
func (e Event) GetString(key string) string {
	v, _ := e.Data[key].(string)
	return v
}
