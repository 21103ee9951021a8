package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/agentbridge/internal/adapter"
	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

// fakeSession is a minimal adapter.Session for exercising the orchestrator
// without a real agent process.
type fakeSession struct {
	id   string
	caps protocol.Capabilities

	mu   sync.Mutex
	subs map[int]func(protocol.Event)
	next int

	history   []protocol.Event
	executed  []protocol.Command
	detached  bool
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, subs: make(map[int]func(protocol.Event))}
}

func (s *fakeSession) ID() string                        { return s.id }
func (s *fakeSession) Capabilities() protocol.Capabilities { return s.caps }

func (s *fakeSession) OnEvent(cb func(protocol.Event)) adapter.UnsubscribeFunc {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeSession) emit(ev protocol.Event) {
	s.mu.Lock()
	s.history = append(s.history, ev)
	subs := make([]func(protocol.Event), 0, len(s.subs))
	for _, cb := range s.subs {
		subs = append(subs, cb)
	}
	s.mu.Unlock()
	for _, cb := range subs {
		cb(ev)
	}
}

func (s *fakeSession) Execute(ctx context.Context, cmd protocol.Command) error {
	s.mu.Lock()
	s.executed = append(s.executed, cmd)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) GetHistory(ctx context.Context) []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Event, len(s.history))
	copy(out, s.history)
	return out
}

func (s *fakeSession) Refresh(ctx context.Context) error { return nil }
func (s *fakeSession) Detach()                           { s.detached = true }

// fakeAdapter implements adapter.Adapter with sessions supplied by the test.
type fakeAdapter struct {
	caps     protocol.Capabilities
	sessions map[string]*fakeSession
	started  []adapter.StartOptions
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{sessions: make(map[string]*fakeSession)}
}

func (a *fakeAdapter) Capabilities() protocol.Capabilities { return a.caps }
func (a *fakeAdapter) IsInstalled(ctx context.Context) bool { return true }
func (a *fakeAdapter) Version(ctx context.Context) (string, bool) { return "1.0", true }
func (a *fakeAdapter) DataPaths() adapter.DataPaths { return adapter.DataPaths{} }

func (a *fakeAdapter) DiscoverSessions(ctx context.Context) ([]adapter.DiscoveredSession, error) {
	out := make([]adapter.DiscoveredSession, 0, len(a.sessions))
	for id := range a.sessions {
		out = append(out, adapter.DiscoveredSession{ID: id})
	}
	return out, nil
}

func (a *fakeAdapter) WatchSessions(ctx context.Context, callback func(adapter.DiscoveryEvent)) (adapter.CancelFunc, error) {
	return func() {}, nil
}

func (a *fakeAdapter) AttachToSession(ctx context.Context, id string) (adapter.Session, error) {
	s, ok := a.sessions[id]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	return s, nil
}

func (a *fakeAdapter) StartSession(ctx context.Context, opts adapter.StartOptions) (adapter.Session, error) {
	a.started = append(a.started, opts)
	s := newFakeSession("new-session")
	a.sessions[s.id] = s
	return s, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []protocol.Event
	lists  [][]protocol.SessionDescriptor
}

func (b *fakeBroadcaster) BroadcastEvent(ev protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *fakeBroadcaster) BroadcastSessionsList(s []protocol.SessionDescriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists = append(b.lists, s)
}

func (b *fakeBroadcaster) eventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func TestStartSession_TracksAndBroadcasts(t *testing.T) {
	a := newFakeAdapter()
	bus := &fakeBroadcaster{}
	o := New(logger.Default(), map[string]adapter.Adapter{"fake": a})
	o.SetBroadcaster(bus)

	require.NoError(t, o.startSession(context.Background(), "fake", "/proj", "hello"))

	sessions := o.GetSessions()
	require.Len(t, sessions, 1)
	require.Equal(t, "new-session", sessions[0].ID)
	require.Equal(t, protocol.SessionStarting, sessions[0].Status)
	require.NotEmpty(t, bus.lists)
}

func TestHandleSessionEvent_UpdatesDescriptorStatus(t *testing.T) {
	a := newFakeAdapter()
	fs := newFakeSession("s1")
	a.sessions["s1"] = fs
	bus := &fakeBroadcaster{}
	o := New(logger.Default(), map[string]adapter.Adapter{"fake": a})
	o.SetBroadcaster(bus)

	require.NoError(t, o.Start(context.Background()))
	_, err := o.attachToSession(context.Background(), "s1")
	require.NoError(t, err)

	fs.emit(protocol.Event{Type: protocol.EventSessionCompleted, SessionID: "s1", Timestamp: "t1"})

	require.Eventually(t, func() bool { return bus.eventCount() == 1 }, time.Second, time.Millisecond)

	sessions := o.GetSessions()
	require.Len(t, sessions, 1)
	require.Equal(t, protocol.SessionCompleted, sessions[0].Status)
}

func TestExecuteCommand_RoutesToAttachedSession(t *testing.T) {
	a := newFakeAdapter()
	fs := newFakeSession("s1")
	a.sessions["s1"] = fs
	o := New(logger.Default(), map[string]adapter.Adapter{"fake": a})

	require.NoError(t, o.executeCommand(context.Background(), "s1", protocol.Command{Command: protocol.CommandSendMessage}))
	require.Len(t, fs.executed, 1)
}

func TestTerminateSession_DetachesAndUntracks(t *testing.T) {
	a := newFakeAdapter()
	fs := newFakeSession("s1")
	a.sessions["s1"] = fs
	bus := &fakeBroadcaster{}
	o := New(logger.Default(), map[string]adapter.Adapter{"fake": a})
	o.SetBroadcaster(bus)
	require.NoError(t, o.Start(context.Background()))

	require.NoError(t, o.terminateSession(context.Background(), "s1"))
	require.True(t, fs.detached)
	require.Empty(t, o.GetSessions())
}

func TestGetHistory_UnknownSessionErrors(t *testing.T) {
	o := New(logger.Default(), map[string]adapter.Adapter{})
	_, err := o.getHistory(context.Background(), "missing")
	require.Error(t, err)
}

func TestAttachToSession_ProbesAdaptersForUndiscoveredSession(t *testing.T) {
	a := newFakeAdapter()
	fs := newFakeSession("fresh")
	a.sessions["fresh"] = fs
	o := New(logger.Default(), map[string]adapter.Adapter{"fake": a})

	// No Start, no discovery: the session is only known to the adapter.
	ts, err := o.attachToSession(context.Background(), "fresh")
	require.NoError(t, err)
	require.Equal(t, "fake", ts.adapterName)

	sessions := o.GetSessions()
	require.Len(t, sessions, 1)
	require.Equal(t, "fresh", sessions[0].ID)
}

func TestHandleRelayedEvent_DropsOwnPublishes(t *testing.T) {
	bus := &fakeBroadcaster{}
	o := New(logger.Default(), map[string]adapter.Adapter{})
	o.SetBroadcaster(bus)

	own, err := json.Marshal(relayEnvelope{
		Origin: o.instanceID,
		Event:  protocol.Event{Seq: 1, SessionID: "s1", Type: protocol.EventMessageComplete},
	})
	require.NoError(t, err)
	o.handleRelayedEvent(context.Background(), relaySubject, own)
	require.Equal(t, 0, bus.eventCount())

	sibling, err := json.Marshal(relayEnvelope{
		Origin: "some-other-instance",
		Event:  protocol.Event{Seq: 1, SessionID: "s1", Type: protocol.EventMessageComplete},
	})
	require.NoError(t, err)
	o.handleRelayedEvent(context.Background(), relaySubject, sibling)
	require.Equal(t, 1, bus.eventCount())
}
