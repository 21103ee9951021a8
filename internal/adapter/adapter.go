// Package adapter defines the contract every agent integration must
// satisfy: detection, session discovery, attach/start, a unified event
// stream, command execution, and history replay. Concrete adapters (the
// JSONL-tailing reference adapter in internal/claudecode, the ACP-based
// adapter in internal/acpadapter) implement this contract; nothing in this
// package knows about any specific agent's wire format.
package adapter

import (
	"context"
	"errors"

	"github.com/relaywire/agentbridge/internal/protocol"
)

// ErrNotFound is returned by AttachToSession when the session id is unknown
// to the adapter.
var ErrNotFound = errors.New("adapter: session not found")

// DataPaths are filesystem hints an adapter may expose for diagnostics.
// Every field is optional.
type DataPaths struct {
	Sessions string
	Config   string
	Logs     string
}

// DiscoveredSession is the metadata an adapter can produce for a session it
// finds without attaching to it.
type DiscoveredSession struct {
	ID             string
	ProjectPath    string
	DisplayName    string
	LastMessage    string
	ModelID        string
	ModifiedAt     int64 // unix nanos of the underlying source's mtime
}

// StartOptions parameters a new agent session.
type StartOptions struct {
	ProjectPath  string
	Prompt       string
	Model        string
	AgentOptions map[string]any
}

// DiscoveryEventKind is the kind of change watchSessions reports.
type DiscoveryEventKind string

const (
	DiscoveryCreated DiscoveryEventKind = "session_created"
	DiscoveryUpdated DiscoveryEventKind = "session_updated"
	DiscoveryRemoved DiscoveryEventKind = "session_removed"
)

// DiscoveryEvent is delivered to a watchSessions callback. The watcher
// contract is at-least-once: callers MUST tolerate spurious or duplicate
// events.
type DiscoveryEvent struct {
	Kind      DiscoveryEventKind
	SessionID string
}

// CancelFunc stops an observation started by watchSessions. It is
// idempotent.
type CancelFunc func()

// Adapter is the contract for one agent family integration.
type Adapter interface {
	// Capabilities is pure: it never touches the filesystem or a process.
	Capabilities() protocol.Capabilities

	// IsInstalled performs best-effort detection of the agent binary.
	IsInstalled(ctx context.Context) bool

	// Version returns the agent's version string if detectable.
	Version(ctx context.Context) (string, bool)

	// DataPaths returns filesystem hints; any field may be empty.
	DataPaths() DataPaths

	// DiscoverSessions is a read-only enumeration of sessions the adapter
	// can see without attaching to any of them.
	DiscoverSessions(ctx context.Context) ([]DiscoveredSession, error)

	// WatchSessions observes the adapter's session source and reports
	// discovery events at-least-once until the returned CancelFunc is
	// called.
	WatchSessions(ctx context.Context, callback func(DiscoveryEvent)) (CancelFunc, error)

	// AttachToSession opens an existing session for observation. Returns
	// ErrNotFound if id is unknown.
	AttachToSession(ctx context.Context, id string) (Session, error)

	// StartSession spawns a new agent session.
	StartSession(ctx context.Context, opts StartOptions) (Session, error)
}

// UnsubscribeFunc removes an event listener registered with OnEvent. It is
// idempotent and O(1).
type UnsubscribeFunc func()

// Session is a single live (or replayed) conversation with one agent in one
// project directory.
type Session interface {
	// ID is immutable for the lifetime of the session.
	ID() string

	// Capabilities mirrors the owning adapter's descriptor.
	Capabilities() protocol.Capabilities

	// OnEvent delivers every subsequently emitted event, in seq order, to
	// cb. The returned unsubscribe is idempotent.
	OnEvent(cb func(protocol.Event)) UnsubscribeFunc

	// Execute applies a command's side effect (write to stdin, send a
	// signal, spawn a resume). It returns an error only for failures in
	// applying the side effect itself, not for business-level rejections
	// (those surface as session:error events).
	Execute(ctx context.Context, cmd protocol.Command) error

	// GetHistory returns a snapshot copy of every event emitted so far, in
	// seq order. It waits for any in-flight initial read before returning.
	GetHistory(ctx context.Context) []protocol.Event

	// Refresh hints the session to re-read its underlying source. Optional:
	// adapters that have nothing to refresh may no-op.
	Refresh(ctx context.Context) error

	// Detach releases watchers and subscribers without signalling the
	// underlying agent.
	Detach()
}
