package claudecode

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/adapter"
	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

// maxHistory bounds the in-memory event buffer per session. Once exceeded,
// only the newest half is retained; the underlying .jsonl log remains the
// source of truth for clients that need full history.
const maxHistory = 5000

// Session is the claudecode adapter's implementation of adapter.Session. A
// Session is either attach-mode (tailing an existing .jsonl file, no
// subprocess) or live-mode (reading a spawned CLI's stdout); both funnel
// through emit so subscribers see one indistinguishable event stream.
type Session struct {
	id   string
	log  *logger.Logger
	caps protocol.Capabilities

	factory *protocol.Factory

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	history []protocol.Event
	subs    map[int]func(protocol.Event)
	nextSub int

	historyReadyOnce sync.Once
	historyReady     chan struct{}

	status         string
	projectPath    string
	version        string
	modelEmitted   bool
	permissionMode string

	// attach-mode state. readMu serialises every path that consumes the
	// file (initial read, watcher re-reads, Refresh, post-resume resync),
	// which both protects lastReadPosition and keeps dispatch order intact
	// when a change notification races the initial read.
	filePath         string
	readMu           sync.Mutex
	lastReadPosition int
	watcher          *fsnotify.Watcher

	// live-mode / resume state
	binaryPath         string
	workDir            string
	sandbox            *SandboxLauncher
	suppressFileEvents atomic.Bool
	runner             *cliRunner
	runnerMu           sync.Mutex

	streamAssistantActive bool
	streamMessageID       string
}

func newSession(ctx context.Context, id string, caps protocol.Capabilities, factory *protocol.Factory, log *logger.Logger) *Session {
	sctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:           id,
		log:          log.WithFields(zap.String("sessionId", id)),
		caps:         caps,
		factory:      factory,
		ctx:          sctx,
		cancel:       cancel,
		subs:         make(map[int]func(protocol.Event)),
		status:       "idle",
		historyReady: make(chan struct{}),
	}
}

func (s *Session) ID() string                          { return s.id }
func (s *Session) Capabilities() protocol.Capabilities { return s.caps }

// OnEvent registers cb for every event emitted from this point forward.
func (s *Session) OnEvent(cb func(protocol.Event)) adapter.UnsubscribeFunc {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = cb
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// GetHistory waits for the session's first read to complete, then returns a
// snapshot copy of every event emitted so far.
func (s *Session) GetHistory(ctx context.Context) []protocol.Event {
	select {
	case <-s.historyReady:
	case <-ctx.Done():
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Event, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Refresh(ctx context.Context) error {
	if s.filePath != "" {
		return s.readAndDispatch()
	}
	return nil
}

// Detach stops this session's own watchers and clears subscribers. It does
// not signal the underlying agent process.
func (s *Session) Detach() {
	s.cancel()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.mu.Lock()
	s.subs = make(map[int]func(protocol.Event))
	s.mu.Unlock()
}

func (s *Session) emit(typ protocol.EventType, data map[string]any) {
	ev := s.factory.CreateEvent(s.id, typ, data)

	s.mu.Lock()
	s.history = append(s.history, ev)
	if len(s.history) > maxHistory {
		keep := maxHistory / 2
		trimmed := make([]protocol.Event, keep)
		copy(trimmed, s.history[len(s.history)-keep:])
		s.history = trimmed
	}
	subs := make([]func(protocol.Event), 0, len(s.subs))
	for _, cb := range s.subs {
		subs = append(subs, cb)
	}
	s.mu.Unlock()

	for _, cb := range subs {
		cb(ev)
	}
}

func (s *Session) markHistoryReady() {
	s.historyReadyOnce.Do(func() { close(s.historyReady) })
}

func (s *Session) setStatus(status string) {
	if s.status == status {
		return
	}
	from := s.status
	s.status = status
	s.emit(protocol.EventSessionStatusChanged, map[string]any{"from": from, "to": status})
}

// splitRecordLines splits JSONL content on "\n"; a trailing empty element
// produced by a file ending in a newline does not count as a record.
func splitRecordLines(content string) []string {
	if content == "" {
		return nil
	}
	parts := strings.Split(content, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// readAndDispatch re-reads the attach-mode file in full and dispatches only
// lines beyond lastReadPosition. A missing file is treated as end-of-stream,
// not an error, tolerating the race between a change notification and the
// file being removed.
func (s *Session) readAndDispatch() error {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.markHistoryReady()
			return nil
		}
		return err
	}

	lines := splitRecordLines(string(data))
	if len(lines) > s.lastReadPosition {
		for _, line := range lines[s.lastReadPosition:] {
			rec, ok := parseRecord(line)
			if !ok {
				continue
			}
			handleRecord(s, rec)
		}
		s.lastReadPosition = len(lines)
	}
	s.markHistoryReady()
	return nil
}

// resyncToTail re-reads the file and advances lastReadPosition to its
// current end without dispatching anything, used after a resumed
// subprocess closes so the file watcher doesn't re-emit what stdout already
// delivered.
func (s *Session) resyncToTail() {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return
	}
	s.lastReadPosition = len(splitRecordLines(string(data)))
}
