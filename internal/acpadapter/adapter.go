package acpadapter

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/adapter"
	"github.com/relaywire/agentbridge/internal/config"
	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

// Adapter implements adapter.Adapter for any agent that speaks ACP over
// stdin/stdout. Every session owns its own subprocess; there is no shared
// discovery source the way claudecode's JSONL directory is one, so
// DiscoverSessions only ever reports sessions this adapter instance itself
// started and WatchSessions is a no-op.
type Adapter struct {
	cfg      config.ACPConfig
	approver Approver
	factory  *protocol.Factory
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds the ACP adapter. approver is wired to the daemon's shared
// approval.Manager so an agent's permission requests go through the same
// risk-based decision procedure as the claudecode adapter's HTTP hook.
func New(cfg config.ACPConfig, approver Approver, factory *protocol.Factory, log *logger.Logger) *Adapter {
	return &Adapter{
		cfg:      cfg,
		approver: approver,
		factory:  factory,
		log:      log.WithFields(zap.String("adapter", "acp")),
		sessions: make(map[string]*session),
	}
}

func (a *Adapter) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		ProtocolVersion: protocol.ProtocolVersion,
		AgentName:       "acp",
		DisplayName:     "ACP Agent",
		Integration:     protocol.IntegrationMCP,
		Features: protocol.Features{
			Streaming:      true,
			Approval:       true,
			SessionControl: true,
			Planning:       true,
			FileOperations: true,
			Thinking:       true,
		},
	}
}

func (a *Adapter) IsInstalled(ctx context.Context) bool {
	if a.cfg.BinaryPath == "" {
		return false
	}
	_, err := exec.LookPath(a.cfg.BinaryPath)
	return err == nil
}

// Version is not part of the ACP handshake itself; the agent reports its
// name/version only after a session's Initialize call, so there is nothing
// to report before one exists.
func (a *Adapter) Version(ctx context.Context) (string, bool) {
	return "", false
}

func (a *Adapter) DataPaths() adapter.DataPaths {
	return adapter.DataPaths{}
}

// DiscoverSessions reports only sessions this adapter instance currently
// has a live subprocess for; ACP has no persisted session log to scan.
func (a *Adapter) DiscoverSessions(ctx context.Context) ([]adapter.DiscoveredSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]adapter.DiscoveredSession, 0, len(a.sessions))
	for id, s := range a.sessions {
		out = append(out, adapter.DiscoveredSession{ID: id, ProjectPath: s.projectPath})
	}
	return out, nil
}

// WatchSessions is a no-op: every change to this adapter's session set
// originates from StartSession/terminate, which already notify the
// orchestrator directly rather than through a discovery watcher.
func (a *Adapter) WatchSessions(ctx context.Context, callback func(adapter.DiscoveryEvent)) (adapter.CancelFunc, error) {
	return func() {}, nil
}

func (a *Adapter) AttachToSession(ctx context.Context, id string) (adapter.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	return s, nil
}

func (a *Adapter) StartSession(ctx context.Context, opts adapter.StartOptions) (adapter.Session, error) {
	binary := a.cfg.BinaryPath
	if binary == "" {
		return nil, fmt.Errorf("acpadapter: no binary configured")
	}

	cmd := exec.CommandContext(context.Background(), binary)
	cmd.Dir = opts.ProjectPath

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("acpadapter: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("acpadapter: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("acpadapter: start agent: %w", err)
	}

	c := newClient(a.log, opts.ProjectPath, a.approver)
	conn := acp.NewClientSideConnection(c, stdin, stdout)

	initResp, err := conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientInfo:      &acp.Implementation{Name: "agentbridged", Version: "1.0.0"},
	})
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("acpadapter: initialize handshake: %w", err)
	}

	sessResp, err := conn.NewSession(ctx, acp.NewSessionRequest{Cwd: opts.ProjectPath})
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("acpadapter: new session: %w", err)
	}

	id := string(sessResp.SessionId)
	s := newSession(id, a.Capabilities(), a.factory, a.log)
	s.projectPath = opts.ProjectPath
	s.conn = conn
	s.acpID = sessResp.SessionId
	s.cmd = cmd
	c.setUpdateHandler(s.handleUpdate)

	if initResp.AgentInfo != nil && initResp.AgentInfo.Name != "" {
		s.emit(protocol.EventEnvironmentInfo, map[string]any{
			"agentName": initResp.AgentInfo.Name,
			"model":     initResp.AgentInfo.Version,
		})
	}
	s.markHistoryReady()
	s.setStatus("idle")

	a.mu.Lock()
	a.sessions[id] = s
	a.mu.Unlock()

	if opts.Prompt != "" {
		go func() {
			if err := s.prompt(context.Background(), opts.Prompt); err != nil {
				a.log.Warn("acpadapter: initial prompt failed", zap.String("session_id", id), zap.Error(err))
			}
		}()
	}

	return s, nil
}

var _ adapter.Adapter = (*Adapter)(nil)
