package protocol

// IntegrationMethod describes how an adapter talks to its agent family.
type IntegrationMethod string

const (
	IntegrationSDK       IntegrationMethod = "sdk"
	IntegrationHTTP      IntegrationMethod = "http"
	IntegrationPTY       IntegrationMethod = "pty"
	IntegrationFileWatch IntegrationMethod = "file-watch"
	IntegrationMCP       IntegrationMethod = "mcp"
)

// Features is the nested feature bitmap every Capabilities descriptor
// carries.
type Features struct {
	Streaming       bool     `json:"streaming"`
	Approval        bool     `json:"approval"`
	SessionControl  bool     `json:"sessionControl"`
	Planning        bool     `json:"planning"`
	Resources       bool     `json:"resources"`
	FileOperations  bool     `json:"fileOperations"`
	Git             bool     `json:"git"`
	Web             bool     `json:"web"`
	Multimodal      bool     `json:"multimodal"`
	Interaction     bool     `json:"interaction"`
	Thinking        bool     `json:"thinking"`
	CustomNamespace []string `json:"customNamespaces,omitempty"`
}

// Capabilities is a descriptor advertised once per adapter and sent to
// clients on auth success.
type Capabilities struct {
	ProtocolVersion string            `json:"protocolVersion"`
	AgentName       string            `json:"agentName"`
	DisplayName     string            `json:"displayName"`
	Icon            string            `json:"icon,omitempty"`
	Version         string            `json:"version,omitempty"`
	Integration     IntegrationMethod `json:"integration"`
	Features        Features          `json:"features"`
}

// ProtocolVersion is the canonical wire protocol version this module
// implements.
const ProtocolVersion = "1.0"
