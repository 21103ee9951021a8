// Package orchestrator ties adapter.Adapter implementations to the
// WebSocket gateway: it tracks discovered sessions, lazily attaches to
// them on first client interest, forwards their events to every
// subscribed client, and routes commands back down to the owning
// adapter. It knows nothing about any one agent's wire format and
// nothing about gorilla/websocket; both sides are narrow interfaces so
// none of the three packages import each other in a cycle.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/adapter"
	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
	"github.com/relaywire/agentbridge/internal/relay"
)

// Broadcaster is the narrow surface the orchestrator needs from the
// WebSocket gateway. internal/gateway/websocket.Hub satisfies this.
type Broadcaster interface {
	BroadcastEvent(event protocol.Event)
	BroadcastSessionsList(sessions []protocol.SessionDescriptor)
}

// relaySubject is the one subject every session's events are published
// under for cross-instance relay (internal/relay), so a single exact-match
// subscription picks up every session.
const relaySubject = "agentbridge.session"

// Catalogue is the narrow surface the orchestrator needs from the session
// catalogue (internal/catalogue). A nil Catalogue disables persistence:
// the orchestrator still works entirely from in-memory discovery state.
type Catalogue interface {
	Upsert(ctx context.Context, d protocol.SessionDescriptor) error
	List(ctx context.Context) ([]protocol.SessionDescriptor, error)
	Delete(ctx context.Context, sessionID string) error
}

// trackedSession is everything the orchestrator keeps about one session,
// whether or not it has ever been attached to.
type trackedSession struct {
	adapterName string
	descriptor  protocol.SessionDescriptor

	mu          sync.Mutex
	session     adapter.Session // nil until attached
	unsubscribe adapter.UnsubscribeFunc
}

// Orchestrator is the glue between one or more adapters and the gateway.
type Orchestrator struct {
	log        *logger.Logger
	adapters   map[string]adapter.Adapter
	bus        Broadcaster
	catalog    Catalogue
	relay      relay.EventBus
	relaySub   relay.Subscription
	instanceID string

	mu       sync.Mutex
	sessions map[string]*trackedSession
	cancels  []adapter.CancelFunc
}

// New builds an Orchestrator over the given named adapters. bus and
// catalog may be set later via SetBroadcaster/SetCatalogue.
func New(log *logger.Logger, adapters map[string]adapter.Adapter) *Orchestrator {
	return &Orchestrator{
		log:        log.WithFields(zap.String("component", "orchestrator")),
		adapters:   adapters,
		instanceID: uuid.NewString(),
		sessions:   make(map[string]*trackedSession),
	}
}

func (o *Orchestrator) SetBroadcaster(bus Broadcaster) { o.bus = bus }
func (o *Orchestrator) SetCatalogue(catalog Catalogue) { o.catalog = catalog }

// SetRelay wires a cross-instance event bus. When set, every locally
// emitted session event is also published under relaySubject, and this
// instance subscribes to the same subject so events from sibling
// instances reach clients connected here too.
func (o *Orchestrator) SetRelay(bus relay.EventBus) { o.relay = bus }

// Start discovers every adapter's existing sessions, begins watching each
// for future changes, and (if a catalogue is configured) seeds tracked
// sessions from every persisted descriptor not already tracked, so a
// sessions_list sent right after startup still reflects history from a
// prior daemon run.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.relay != nil {
		sub, err := o.relay.Subscribe(relaySubject, o.handleRelayedEvent)
		if err != nil {
			o.log.Warn("failed to subscribe to relay", zap.Error(err))
		} else {
			o.relaySub = sub
		}
	}

	if o.catalog != nil {
		if persisted, err := o.catalog.List(ctx); err != nil {
			o.log.Warn("failed to load persisted sessions", zap.Error(err))
		} else {
			o.mu.Lock()
			for _, d := range persisted {
				if _, exists := o.sessions[d.ID]; !exists {
					o.sessions[d.ID] = &trackedSession{adapterName: d.Adapter, descriptor: d}
				}
			}
			o.mu.Unlock()
		}
	}

	for name, a := range o.adapters {
		name, a := name, a

		discovered, err := a.DiscoverSessions(ctx)
		if err != nil {
			o.log.Warn("initial discovery failed", zap.String("adapter", name), zap.Error(err))
		} else {
			for _, d := range discovered {
				o.upsertDiscovered(ctx, name, d)
			}
		}

		cancel, err := a.WatchSessions(ctx, func(ev adapter.DiscoveryEvent) {
			o.handleDiscoveryEvent(ctx, name, a, ev)
		})
		if err != nil {
			o.log.Warn("failed to watch adapter sessions", zap.String("adapter", name), zap.Error(err))
			continue
		}
		o.mu.Lock()
		o.cancels = append(o.cancels, cancel)
		o.mu.Unlock()
	}

	return nil
}

// Stop cancels every discovery watch and detaches every attached session.
// It does not terminate the underlying agent processes; StartSession's
// contract is that a session outlives the daemon unless explicitly
// terminated.
func (o *Orchestrator) Stop() {
	if o.relaySub != nil {
		_ = o.relaySub.Unsubscribe()
	}

	o.mu.Lock()
	cancels := o.cancels
	o.cancels = nil
	sessions := make([]*trackedSession, 0, len(o.sessions))
	for _, ts := range o.sessions {
		sessions = append(sessions, ts)
	}
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, ts := range sessions {
		ts.mu.Lock()
		if ts.session != nil {
			if ts.unsubscribe != nil {
				ts.unsubscribe()
			}
			ts.session.Detach()
		}
		ts.mu.Unlock()
	}
}

func (o *Orchestrator) handleDiscoveryEvent(ctx context.Context, adapterName string, a adapter.Adapter, ev adapter.DiscoveryEvent) {
	switch ev.Kind {
	case adapter.DiscoveryRemoved:
		o.mu.Lock()
		delete(o.sessions, ev.SessionID)
		o.mu.Unlock()
		if o.catalog != nil {
			if err := o.catalog.Delete(ctx, ev.SessionID); err != nil {
				o.log.Warn("failed to delete session from catalogue",
					zap.String("session_id", ev.SessionID), zap.Error(err))
			}
		}
		o.broadcastSessionsList()
		return
	}

	discovered, err := a.DiscoverSessions(ctx)
	if err != nil {
		o.log.Warn("re-discovery failed after change event",
			zap.String("adapter", adapterName), zap.Error(err))
		return
	}
	for _, d := range discovered {
		if d.ID == ev.SessionID {
			o.upsertDiscovered(ctx, adapterName, d)
			break
		}
	}
	o.broadcastSessionsList()
}

func (o *Orchestrator) upsertDiscovered(ctx context.Context, adapterName string, d adapter.DiscoveredSession) {
	descriptor := protocol.SessionDescriptor{
		ID:                   d.ID,
		Adapter:              adapterName,
		ProjectPath:          d.ProjectPath,
		DisplayName:          d.DisplayName,
		Status:               protocol.SessionIdle,
		LastAssistantMessage: d.LastMessage,
		ModelID:              d.ModelID,
		LastActivity:         time.Unix(0, d.ModifiedAt).UTC().Format(time.RFC3339),
	}

	o.mu.Lock()
	ts, exists := o.sessions[d.ID]
	if !exists {
		ts = &trackedSession{adapterName: adapterName}
		o.sessions[d.ID] = ts
	}
	if ts.descriptor.CreatedAt != "" {
		descriptor.CreatedAt = ts.descriptor.CreatedAt
	} else {
		descriptor.CreatedAt = descriptor.LastActivity
	}
	// Never regress a descriptor that an attached session has already
	// advanced past discovery's best-effort metadata.
	if ts.session != nil {
		descriptor.Status = ts.descriptor.Status
	}
	ts.descriptor = descriptor
	o.mu.Unlock()

	if o.catalog != nil {
		if err := o.catalog.Upsert(ctx, descriptor); err != nil {
			o.log.Warn("failed to persist session descriptor", zap.String("session_id", d.ID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) broadcastSessionsList() {
	if o.bus == nil {
		return
	}
	o.bus.BroadcastSessionsList(o.GetSessions())
}

// GetSessions returns a snapshot of every known session descriptor.
func (o *Orchestrator) GetSessions() []protocol.SessionDescriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]protocol.SessionDescriptor, 0, len(o.sessions))
	for _, ts := range o.sessions {
		out = append(out, ts.descriptor)
	}
	return out
}

// GetCapabilities reports the capabilities of every configured adapter, in
// no particular order.
func (o *Orchestrator) GetCapabilities() []protocol.Capabilities {
	out := make([]protocol.Capabilities, 0, len(o.adapters))
	for _, a := range o.adapters {
		out = append(out, a.Capabilities())
	}
	return out
}

// relayEnvelope wraps an event for cross-instance relay. Origin lets the
// subscriber drop its own publishes: the broker delivers to every
// subscription on the subject, including the publishing instance's.
type relayEnvelope struct {
	Origin string         `json:"origin"`
	Event  protocol.Event `json:"event"`
}

// publishToRelay serializes ev and publishes it for sibling instances.
// Failures are logged, not returned: relay is a best-effort fan-out, and a
// broker hiccup must never block local event delivery.
func (o *Orchestrator) publishToRelay(ev protocol.Event) {
	if o.relay == nil {
		return
	}
	data, err := json.Marshal(relayEnvelope{Origin: o.instanceID, Event: ev})
	if err != nil {
		o.log.Warn("failed to marshal event for relay", zap.Error(err))
		return
	}
	if err := o.relay.Publish(context.Background(), relaySubject, data); err != nil {
		o.log.Warn("failed to publish event to relay", zap.Error(err))
	}
}

// handleRelayedEvent decodes an event published by a sibling instance and
// hands it straight to the local gateway. Events this instance published
// itself are dropped (the local emit path already broadcast them), it does
// not re-run descriptor bookkeeping (the originating orchestrator already
// did), and it never republishes, so events don't loop between instances.
func (o *Orchestrator) handleRelayedEvent(_ context.Context, _ string, data []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		o.log.Warn("failed to decode relayed event", zap.Error(err))
		return
	}
	if env.Origin == o.instanceID {
		return
	}
	if o.bus != nil {
		o.bus.BroadcastEvent(env.Event)
	}
}

func (o *Orchestrator) adapterFor(name string) (adapter.Adapter, error) {
	a, ok := o.adapters[name]
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown adapter %q", name)
	}
	return a, nil
}
