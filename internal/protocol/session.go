package protocol

// SessionStatus is one of the nine states a session moves through, driven
// by session:status_changed events.
type SessionStatus string

const (
	SessionStarting           SessionStatus = "starting"
	SessionRunning            SessionStatus = "running"
	SessionThinking           SessionStatus = "thinking"
	SessionWaitingForInput    SessionStatus = "waiting_for_input"
	SessionWaitingForApproval SessionStatus = "waiting_for_approval"
	SessionPaused             SessionStatus = "paused"
	SessionIdle               SessionStatus = "idle"
	SessionCompleted          SessionStatus = "completed"
	SessionError              SessionStatus = "error"
)

// SessionDescriptor is what the orchestrator exposes to clients in a
// sessions_list message: enough to render a session picker without
// replaying its event history.
type SessionDescriptor struct {
	ID                    string        `json:"id"`
	Adapter               string        `json:"adapter"`
	ProjectPath           string        `json:"projectPath"`
	DisplayName           string        `json:"displayName,omitempty"`
	Status                SessionStatus `json:"status"`
	CreatedAt             string        `json:"createdAt"`
	LastActivity          string        `json:"lastActivity"`
	FirstUserMessage      string        `json:"firstUserMessage,omitempty"`
	LastAssistantMessage  string        `json:"lastAssistantMessage,omitempty"`
	ModelID               string        `json:"modelId,omitempty"`
	PermissionMode        string        `json:"permissionMode,omitempty"`
}
