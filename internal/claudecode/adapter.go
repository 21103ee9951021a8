// Package claudecode is the reference adapter: it drives the Claude Code
// CLI either by tailing its JSONL conversation log (attach mode, no
// subprocess) or by spawning the CLI with streaming-JSON output (live
// mode). Both modes dispatch through the same Session type so a consumer
// cannot tell which one produced a given event stream.
package claudecode

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/relaywire/agentbridge/internal/adapter"
	"github.com/relaywire/agentbridge/internal/config"
	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

// defaultVersionCacheTTL bounds how long a detected binary version is
// trusted before Version shells out again, avoiding a fresh process spawn
// on every capability/health check.
const defaultVersionCacheTTL = 30 * time.Second

// Adapter implements adapter.Adapter for the Claude Code CLI.
type Adapter struct {
	cfg     config.ClaudeCodeConfig
	log     *logger.Logger
	factory *protocol.Factory

	mu       sync.Mutex
	sessions map[string]*Session

	sessionRoot string
	sandbox     *SandboxLauncher

	versionMu  sync.Mutex
	versionAt  time.Time
	versionStr string
	versionOK  bool
	versionTTL time.Duration
}

// New builds the reference adapter from its configuration section. A
// sandbox launcher is created here only when sandboxing is enabled, so a
// Docker daemon is never required for the common case.
func New(cfg config.ClaudeCodeConfig, factory *protocol.Factory, log *logger.Logger) *Adapter {
	a := &Adapter{
		cfg:         cfg,
		log:         log,
		factory:     factory,
		sessions:    make(map[string]*Session),
		sessionRoot: expandHome(cfg.SessionRoot),
		versionTTL:  defaultVersionCacheTTL,
	}

	if cfg.Sandbox.Enabled {
		sandbox, err := NewSandboxLauncher(cfg.Sandbox.Image, a.log)
		if err != nil {
			a.log.Warn("claudecode: sandbox requested but unavailable, falling back to bare subprocess")
		} else {
			a.sandbox = sandbox
		}
	}

	return a
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func (a *Adapter) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		ProtocolVersion: protocol.ProtocolVersion,
		AgentName:       "claude-code",
		DisplayName:     "Claude Code",
		Integration:     protocol.IntegrationFileWatch,
		Features: protocol.Features{
			Streaming:      true,
			Approval:       true,
			SessionControl: true,
			Resources:      true,
			FileOperations: true,
			Thinking:       true,
		},
	}
}

func (a *Adapter) IsInstalled(ctx context.Context) bool {
	_, ok := a.Version(ctx)
	return ok
}

// Version reports the installed CLI's version string, shelling out to
// `<binary> --version` at most once per versionTTL; repeated calls within
// the window (capability checks, health probes) reuse the cached result.
func (a *Adapter) Version(ctx context.Context) (string, bool) {
	a.versionMu.Lock()
	if !a.versionAt.IsZero() && time.Since(a.versionAt) < a.versionTTL {
		str, ok := a.versionStr, a.versionOK
		a.versionMu.Unlock()
		return str, ok
	}
	a.versionMu.Unlock()

	binary := a.cfg.BinaryPath
	if binary == "" {
		binary = "claude"
	}
	cmd := exec.CommandContext(ctx, binary, "--version")
	out, err := cmd.Output()
	str, ok := "", false
	if err == nil {
		str, ok = strings.TrimSpace(string(out)), true
	}

	a.versionMu.Lock()
	a.versionStr, a.versionOK, a.versionAt = str, ok, time.Now()
	a.versionMu.Unlock()

	return str, ok
}

func (a *Adapter) DataPaths() adapter.DataPaths {
	return adapter.DataPaths{Sessions: a.sessionRoot}
}

func (a *Adapter) DiscoverSessions(ctx context.Context) ([]adapter.DiscoveredSession, error) {
	return discoverSessions(a.sessionRoot)
}

func (a *Adapter) WatchSessions(ctx context.Context, callback func(adapter.DiscoveryEvent)) (adapter.CancelFunc, error) {
	return watchSessions(ctx, a.sessionRoot, a.log, callback)
}

func (a *Adapter) AttachToSession(ctx context.Context, id string) (adapter.Session, error) {
	a.mu.Lock()
	if s, ok := a.sessions[id]; ok {
		a.mu.Unlock()
		return s, nil
	}
	a.mu.Unlock()

	path, err := a.locateSessionFile(id)
	if err != nil {
		return nil, adapter.ErrNotFound
	}

	s := newSession(ctx, id, a.Capabilities(), a.factory, a.log)
	s.filePath = path
	s.binaryPath = a.cfg.BinaryPath
	s.workDir = filepathRoot(path, a.sessionRoot)
	s.sandbox = a.sandbox

	if err := a.startFileWatch(s); err != nil {
		a.log.Warn("claudecode: failed to start file watch for session")
	}
	go func() {
		if err := s.readAndDispatch(); err != nil {
			a.log.Warn("claudecode: initial read failed")
		}
	}()

	a.mu.Lock()
	a.sessions[id] = s
	a.mu.Unlock()
	return s, nil
}

// filepathRoot resolves the project directory for a session file by
// decoding its parent directory name, falling back to the file's actual
// parent if decoding fails.
func filepathRoot(sessionPath, sessionRoot string) string {
	parent := filepath.Dir(sessionPath)
	if decoded, ok := decodeProjectDir(filepath.Base(parent)); ok {
		if _, err := os.Stat(decoded); err == nil {
			return decoded
		}
	}
	return parent
}

func (a *Adapter) locateSessionFile(id string) (string, error) {
	entries, err := os.ReadDir(a.sessionRoot)
	if err != nil {
		return "", err
	}
	for _, projectDir := range entries {
		if !projectDir.IsDir() {
			continue
		}
		candidate := filepath.Join(a.sessionRoot, projectDir.Name(), id+".jsonl")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}

// startFileWatch watches a single attach-mode session's file and triggers a
// re-read on every change, unless suppressFileEvents is set during resume.
func (a *Adapter) startFileWatch(s *Session) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.filePath)); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	go func() {
		base := filepath.Base(s.filePath)
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if s.suppressFileEvents.Load() {
					continue
				}
				if err := s.readAndDispatch(); err != nil {
					a.log.Debug("claudecode: re-read failed")
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func (a *Adapter) StartSession(ctx context.Context, opts adapter.StartOptions) (adapter.Session, error) {
	id := newSessionPlaceholderID()
	s := newSession(ctx, id, a.Capabilities(), a.factory, a.log)
	s.projectPath = opts.ProjectPath
	s.workDir = opts.ProjectPath
	s.binaryPath = a.cfg.BinaryPath
	if s.binaryPath == "" {
		s.binaryPath = "claude"
	}
	s.sandbox = a.sandbox

	args := buildStartArgs(opts.ProjectPath, opts.Prompt, opts.Model)
	if err := s.spawnLive(ctx, s.binaryPath, args); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.sessions[id] = s
	a.mu.Unlock()
	return s, nil
}

// newSessionPlaceholderID mints a locally-unique id for a freshly started
// session before the CLI's system:init record reports its real session id.
func newSessionPlaceholderID() string {
	return "pending-" + time.Now().UTC().Format("20060102T150405.000000000")
}
