// Package relay is the cross-instance event bus: when multiple
// agentbridged instances share one catalogue (see internal/catalogue's
// Postgres backend), a client connected to instance B needs to receive
// events for a session whose adapter process is attached to instance A.
// The default backend is in-process only; a real deployment supplies a
// NATS URL to turn cross-instance delivery on.
package relay

import "context"

// Handler receives one relayed event's raw bytes. Bytes rather than
// protocol.Event keep this package decoupled from the protocol package's
// custom marshaling; callers decode with protocol.Event's own
// UnmarshalJSON.
type Handler func(ctx context.Context, subject string, data []byte)

// Subscription is an active subscription; Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe() error
}

// EventBus is the narrow pub/sub contract the orchestrator and gateway
// depend on. The orchestrator publishes every session's events under the
// single subject "agentbridge.session".
type EventBus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
