package relay

import (
	"context"
	"sync"
)

// Memory is the default relay: events published on one instance are
// delivered to that same instance's subscribers only. It exists so
// single-instance deployments don't need a NATS dependency at all, and so
// tests can exercise the orchestrator/gateway wiring without a broker.
type Memory struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySub]Handler
}

// NewMemory builds an in-process, single-instance event bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySub]Handler)}
}

type memorySub struct {
	bus     *Memory
	subject string
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.subject], s)
	return nil
}

func (b *Memory) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go h(context.Background(), subject, data)
	}
	return nil
}

func (b *Memory) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySub]Handler)
	}
	sub := &memorySub{bus: b, subject: subject}
	b.subs[subject][sub] = handler
	return sub, nil
}

func (b *Memory) Close() {}

func (b *Memory) IsConnected() bool { return true }

var _ EventBus = (*Memory)(nil)
