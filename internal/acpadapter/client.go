// Package acpadapter implements the Agent Client Protocol (ACP) adapter: a
// second adapter.Adapter alongside the reference claudecode one, for any
// agent that speaks JSON-RPC 2.0 over stdin/stdout via
// github.com/coder/acp-go-sdk. Unlike claudecode's JSONL tailing, every
// event here arrives as a live push from the agent subprocess; there is
// nothing to discover on disk.
package acpadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/approval"
	"github.com/relaywire/agentbridge/internal/logger"
)

// Approver is the narrow surface this package needs from the approval
// manager. It is satisfied by *approval.Manager without acpadapter needing
// to know about the gateway or the hook HTTP route.
type Approver interface {
	RequestApproval(ctx context.Context, input approval.HookInput) approval.Decision
}

// updateHandler receives every SessionNotification the agent pushes for one
// session.
type updateHandler func(acp.SessionNotification)

// client implements the acp.Client interface the SDK's ClientSideConnection
// calls back into: permission requests, session updates, and the editor/
// terminal operations the protocol grants the agent.
type client struct {
	log           *logger.Logger
	workspaceRoot string
	approver      Approver

	mu      sync.RWMutex
	onEvent updateHandler
}

func newClient(log *logger.Logger, workspaceRoot string, approver Approver) *client {
	return &client{log: log, workspaceRoot: workspaceRoot, approver: approver}
}

func (c *client) setUpdateHandler(h updateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = h
}

// RequestPermission routes a tool-call permission request through the
// shared approval manager, the same decision procedure the claudecode
// adapter's hook drives over HTTP. ACP delivers the request as a native RPC
// call instead, so it is wired in-process here rather than via HTTP.
func (c *client) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	if len(p.Options) == 0 {
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		}, nil
	}

	toolName, toolInput := describeToolCall(p)
	decision := c.approver.RequestApproval(ctx, approval.HookInput{
		SessionID: string(p.SessionId),
		ToolName:  toolName,
		ToolUseID: string(p.ToolCall.ToolCallId),
		ToolInput: toolInput,
	})

	if decision != approval.DecisionAllow {
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		}, nil
	}

	option := selectAllowOption(p.Options)
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: option.OptionId},
		},
	}, nil
}

// selectAllowOption picks the first allow-kind option, falling back to the
// first option of any kind.
func selectAllowOption(options []acp.PermissionOption) *acp.PermissionOption {
	for i := range options {
		if options[i].Kind == acp.PermissionOptionKindAllowOnce || options[i].Kind == acp.PermissionOptionKindAllowAlways {
			return &options[i]
		}
	}
	return &options[0]
}

// describeToolCall extracts a tool name and a best-effort input map from a
// permission request so protocol.AssessRisk can classify it the same way it
// classifies a claudecode tool call.
func describeToolCall(p acp.RequestPermissionRequest) (string, map[string]any) {
	name := ""
	if p.ToolCall.Kind != nil {
		name = string(*p.ToolCall.Kind)
	}
	input := map[string]any{}
	if p.ToolCall.RawInput != nil {
		if m, ok := p.ToolCall.RawInput.(map[string]any); ok {
			input = m
		}
	}
	if len(p.ToolCall.Locations) > 0 {
		input["file_path"] = p.ToolCall.Locations[0].Path
	}
	return name, input
}

// SessionUpdate forwards every notification to whichever session currently
// owns this client's update handler.
func (c *client) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	c.mu.RLock()
	h := c.onEvent
	c.mu.RUnlock()
	if h != nil {
		h(n)
	}
	return nil
}

// resolvePath guards against path traversal: relative paths resolve under
// the workspace root, and the result must stay within it.
func (c *client) resolvePath(reqPath string) (string, error) {
	var resolved string
	if filepath.IsAbs(reqPath) {
		resolved = filepath.Clean(reqPath)
	} else {
		resolved = filepath.Join(c.workspaceRoot, reqPath)
	}
	root := filepath.Clean(c.workspaceRoot) + string(filepath.Separator)
	if resolved != filepath.Clean(c.workspaceRoot) && !strings.HasPrefix(resolved, root) {
		return "", fmt.Errorf("path %q resolves outside workspace root %q", reqPath, c.workspaceRoot)
	}
	return resolved, nil
}

func (c *client) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	path, err := c.resolvePath(p.Path)
	if err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	content := string(b)
	if p.Line != nil || p.Limit != nil {
		lines := strings.Split(content, "\n")
		start := 0
		if p.Line != nil && *p.Line > 0 {
			start = *p.Line - 1
			if start > len(lines) {
				start = len(lines)
			}
		}
		end := len(lines)
		if p.Limit != nil && *p.Limit > 0 && start+*p.Limit < end {
			end = start + *p.Limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}

func (c *client) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	path, err := c.resolvePath(p.Path)
	if err != nil {
		return acp.WriteTextFileResponse{}, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return acp.WriteTextFileResponse{}, err
		}
	}
	if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
		return acp.WriteTextFileResponse{}, err
	}
	return acp.WriteTextFileResponse{}, nil
}

// Terminal operations are not surfaced to clients of this daemon yet; the
// agent is told a terminal exists so it degrades gracefully instead of
// failing the RPC outright.
func (c *client) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	c.log.Debug("acp: create terminal requested, terminals unsupported", zap.String("command", p.Command))
	return acp.CreateTerminalResponse{TerminalId: "unsupported"}, nil
}

func (c *client) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, nil
}

func (c *client) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{Output: "", Truncated: false}, nil
}

func (c *client) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, nil
}

func (c *client) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	exitCode := 0
	return acp.WaitForTerminalExitResponse{ExitCode: &exitCode}, nil
}

var _ acp.Client = (*client)(nil)
