package orchestrator

import (
	"context"

	gwws "github.com/relaywire/agentbridge/internal/gateway/websocket"
	"github.com/relaywire/agentbridge/internal/protocol"
)

// AuthFunc validates a bearer token handed over during the WebSocket
// handshake. cmd/agentbridged supplies the concrete implementation, a
// static token comparison: one operator, one shared secret.
type AuthFunc func(ctx context.Context, token string) gwws.AuthResult

// Hooks builds the gateway Hooks struct wiring this orchestrator's
// bookkeeping into the WebSocket multiplexer. Passing the AuthFunc in here
// (rather than having the orchestrator own authentication) keeps session
// tracking and credential checking independently testable.
func (o *Orchestrator) Hooks(authenticate AuthFunc) gwws.Hooks {
	return gwws.Hooks{
		OnAuth:          func(ctx context.Context, token string) gwws.AuthResult { return authenticate(ctx, token) },
		GetCapabilities: o.GetCapabilities,
		GetSessions:     o.GetSessions,
		GetSessionHistory: func(ctx context.Context, sessionID string) ([]protocol.Event, error) {
			return o.getHistory(ctx, sessionID)
		},
		OnCommand: func(ctx context.Context, sessionID string, cmd protocol.Command) error {
			return o.executeCommand(ctx, sessionID, cmd)
		},
		OnStartSession: func(ctx context.Context, agentName, projectPath, prompt string) error {
			return o.startSession(ctx, agentName, projectPath, prompt)
		},
		OnTerminateSession: func(ctx context.Context, sessionID string) error {
			return o.terminateSession(ctx, sessionID)
		},
	}
}
