package websocket

import "encoding/json"

// inboundMessage is the envelope every client->server frame is decoded
// into first; which fields beyond "type" are meaningful depends on the
// message type.
type inboundMessage struct {
	Type        string          `json:"type"`
	Token       string          `json:"token"`
	SessionIDs  []string        `json:"sessionIds"`
	SessionID   string          `json:"sessionId"`
	Command     json.RawMessage `json:"command"`
	Agent       string          `json:"agent"`
	ProjectPath string          `json:"projectPath"`
	Prompt      string          `json:"prompt"`
}

// sessionIDsProvided reports whether the subscribe message carried an
// explicit (possibly empty) sessionIds array, distinguishing "subscribe to
// everything" (field omitted) from "subscribe to nothing in particular yet"
// (field present but empty).
func (m inboundMessage) sessionIDsProvided(raw []byte) bool {
	var probe struct {
		SessionIDs *[]string `json:"sessionIds"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.SessionIDs != nil
}
