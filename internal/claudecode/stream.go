package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/protocol"
)

// processHandle abstracts over a plain OS subprocess and a sandboxed
// container so spawnLive/readStdout don't care which one is backing a
// session.
type processHandle interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() error
	Kill()
}

// cliRunner tracks one spawned agent CLI process backing a live-mode or
// resumed session.
type cliRunner struct {
	handle processHandle
	cancel context.CancelFunc
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }
func (p *execProcess) Kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// streamRecord is the union of every shape the CLI's stream-json stdout can
// emit. Unlike the attach-mode record, tool_use and tool_result arrive as
// top-level record types rather than embedded content blocks.
type streamRecord struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	SessionID     string `json:"session_id"`
	ClaudeVersion string `json:"claude_version"`
	Model         string `json:"model"`

	Message *rawMessage `json:"message"`

	// stop_reason is kept raw so an explicit JSON null (streaming
	// fragment) is distinguishable from the field being absent.
	StopReason json.RawMessage `json:"stop_reason"`

	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

func buildStartArgs(projectPath, prompt, model string) []string {
	args := []string{"--output-format", "stream-json", "--verbose"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if prompt != "" {
		args = append(args, "--print", prompt)
	}
	return args
}

func buildResumeArgs(sessionID, prompt string) []string {
	return []string{"--output-format", "stream-json", "--verbose", "--resume", sessionID, "--print", prompt}
}

// spawnLive starts binaryPath with args as this session's backing process,
// inside a sandbox container when one is configured. Spawn failure emits
// session:error{SPAWN_ERROR}; otherwise stdout/stderr readers run until the
// process exits.
func (s *Session) spawnLive(ctx context.Context, binaryPath string, args []string) error {
	cmdCtx, cancel := context.WithCancel(ctx)

	var handle processHandle
	var err error
	if s.sandbox != nil {
		handle, err = s.sandbox.Run(cmdCtx, s.workDir, append([]string{binaryPath}, args...))
	} else {
		handle, err = startExecProcess(cmdCtx, binaryPath, args, s.workDir)
	}
	if err != nil {
		cancel()
		s.emitSpawnError(err)
		return err
	}

	runner := &cliRunner{handle: handle, cancel: cancel}
	s.runnerMu.Lock()
	s.runner = runner
	s.runnerMu.Unlock()

	go s.drainStderr(handle.Stderr())
	go s.readStdout(handle, runner)
	return nil
}

func startExecProcess(ctx context.Context, binaryPath string, args []string, workDir string) (processHandle, error) {
	cmd := exec.CommandContext(ctx, binaryPath, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (s *Session) emitSpawnError(err error) {
	s.emit(protocol.EventSessionError, map[string]any{
		"code":        "SPAWN_ERROR",
		"message":     err.Error(),
		"recoverable": false,
	})
}

func (s *Session) drainStderr(r io.Reader) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		s.log.Debug("claudecode: subprocess stderr", zap.String("line", scanner.Text()))
	}
}

func (s *Session) readStdout(handle processHandle, runner *cliRunner) {
	scanner := bufio.NewScanner(handle.Stdout())
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		handleStreamRecord(s, []byte(line))
	}
	s.markHistoryReady()

	err := handle.Wait()

	s.runnerMu.Lock()
	if s.runner == runner {
		s.runner = nil
	}
	s.runnerMu.Unlock()

	if s.suppressFileEvents.CompareAndSwap(true, false) {
		s.resyncToTail()
	}

	switch {
	case err == nil:
		s.emit(protocol.EventSessionCompleted, map[string]any{
			"durationMs":   0,
			"inputTokens":  0,
			"outputTokens": 0,
			"filesChanged": 0,
		})
	default:
		s.emit(protocol.EventSessionError, map[string]any{
			"code":        "PROCESS_ERROR",
			"message":     err.Error(),
			"recoverable": true,
		})
	}
}

func handleStreamRecord(s *Session, raw []byte) {
	var rec streamRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return
	}

	switch rec.Type {
	case "system":
		if rec.Subtype == "init" {
			if !s.modelEmitted {
				s.modelEmitted = true
			}
			s.emit(protocol.EventEnvironmentInfo, map[string]any{
				"agentName":     "claude-code",
				"model":         rec.Model,
				"claudeVersion": rec.ClaudeVersion,
				"sessionId":     rec.SessionID,
			})
		}
	case "tool_use":
		s.emit(protocol.EventToolStart, map[string]any{
			"toolCallId": rec.ID,
			"toolName":   rec.Name,
			"input":      rec.Input,
		})
		risk := protocol.AssessRisk(rec.Name, rec.Input)
		s.emit(protocol.EventToolExecuting, map[string]any{
			"toolCallId":       rec.ID,
			"riskLevel":        risk,
			"requiresApproval": false,
		})
	case "tool_result":
		output := toolResultOutput(rec.Content)
		if rec.IsError {
			s.emit(protocol.EventToolError, map[string]any{
				"toolCallId":  rec.ToolUseID,
				"error":       output,
				"code":        "TOOL_ERROR",
				"recoverable": true,
			})
		} else {
			s.emit(protocol.EventToolResult, map[string]any{
				"toolCallId": rec.ToolUseID,
				"output":     output,
				"duration":   0,
			})
		}
	case "user":
		handleStreamUser(s, rec)
	case "assistant":
		handleStreamAssistant(s, rec)
	default:
		// "result" and any future top-level type carry nothing this
		// adapter projects individually; the terminal summary is derived
		// from the process exit code instead.
	}
}

func handleStreamUser(s *Session, rec streamRecord) {
	if rec.Message == nil {
		return
	}
	blocks := parseContentBlocks(rec.Message.Content)
	text := textOf(blocks)
	if text == "" {
		return
	}
	messageID := uuid.NewString()
	s.emit(protocol.EventMessageStart, map[string]any{"role": "user", "messageId": messageID})
	s.emit(protocol.EventMessageComplete, map[string]any{
		"role":      "user",
		"messageId": messageID,
		"content":   []map[string]any{{"type": "text", "text": text}},
	})
}

func handleStreamAssistant(s *Session, rec streamRecord) {
	if rec.Message == nil {
		return
	}
	blocks := parseContentBlocks(rec.Message.Content)
	text := textOf(blocks)
	isFragment := string(rec.StopReason) == "null"

	if !s.streamAssistantActive {
		s.streamAssistantActive = true
		s.streamMessageID = uuid.NewString()
		s.emit(protocol.EventMessageStart, map[string]any{"role": "assistant", "messageId": s.streamMessageID})
	}

	if text != "" {
		s.emit(protocol.EventMessageDelta, map[string]any{
			"role":      "assistant",
			"messageId": s.streamMessageID,
			"textDelta": text,
		})
	}

	if isFragment {
		return
	}

	content := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			content = append(content, map[string]any{"type": "text", "text": b.Text})
		case "tool_use":
			content = append(content, map[string]any{"type": "tool_use", "id": b.ID, "name": b.Name, "input": b.Input})
		}
	}
	s.emit(protocol.EventMessageComplete, map[string]any{
		"role":      "assistant",
		"messageId": s.streamMessageID,
		"content":   content,
	})

	if rec.Message.Usage != nil {
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

	s.streamAssistantActive = false
	s.streamMessageID = ""
}

// Execute applies one command's side effect to this session.
func (s *Session) Execute(ctx context.Context, cmd protocol.Command) error {
	switch cmd.Command {
	case protocol.CommandSendMessage:
		return s.handleSendMessage(ctx, cmd.GetString("text"))
	case protocol.CommandAnswerQuestion:
		return s.handleSendMessage(ctx, cmd.GetString("answer"))
	case protocol.CommandSetPermissionMode:
		s.permissionMode = cmd.GetString("mode")
		return nil
	case protocol.CommandCancel, protocol.CommandTerminate:
		return s.terminateRunner()
	case protocol.CommandPause:
		s.setStatus("paused")
		return nil
	case protocol.CommandResume:
		s.setStatus("running")
		return nil
	case protocol.CommandApproveToolCall, protocol.CommandDenyToolCall:
		// Resolved upstream by the approval manager; nothing for the
		// session itself to apply.
		return nil
	default:
		return nil
	}
}

// handleSendMessage implements the resume flow: emit a synthetic echo of
// the user's text immediately, then spawn the CLI with its resume flag
// while suppressing file-watcher events so stdout is the sole source until
// the process closes.
func (s *Session) handleSendMessage(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	s.runnerMu.Lock()
	running := s.runner != nil
	s.runnerMu.Unlock()
	if running {
		s.log.Warn("claudecode: send_message while a subprocess is already running is not supported")
		return nil
	}

	messageID := uuid.NewString()
	s.emit(protocol.EventMessageStart, map[string]any{"role": "user", "messageId": messageID})
	s.emit(protocol.EventMessageComplete, map[string]any{
		"role":      "user",
		"messageId": messageID,
		"content":   []map[string]any{{"type": "text", "text": text}},
	})

	if s.binaryPath == "" {
		return nil
	}

	s.suppressFileEvents.Store(true)
	args := buildResumeArgs(s.id, text)
	if err := s.spawnLive(ctx, s.binaryPath, args); err != nil {
		s.suppressFileEvents.Store(false)
		return err
	}
	return nil
}

func (s *Session) terminateRunner() error {
	s.runnerMu.Lock()
	r := s.runner
	s.runnerMu.Unlock()
	if r != nil {
		r.handle.Kill()
		r.cancel()
	}
	s.setStatus(string(protocol.SessionCompleted))
	return nil
}
