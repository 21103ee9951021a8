package catalogue

import (
	"context"
	"sync"

	"github.com/relaywire/agentbridge/internal/protocol"
)

// Memory is the default catalogue backend: a mutex-guarded map with no
// durability across restarts, suitable for single-instance deployments
// where losing the sessions_list cache on restart is acceptable (the
// adapters themselves re-discover sessions from disk regardless).
type Memory struct {
	mu   sync.RWMutex
	data map[string]protocol.SessionDescriptor
}

// NewMemory builds an empty in-memory catalogue.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]protocol.SessionDescriptor)}
}

func (m *Memory) Upsert(_ context.Context, d protocol.SessionDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[d.ID] = d
	return nil
}

func (m *Memory) List(_ context.Context) ([]protocol.SessionDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.SessionDescriptor, 0, len(m.data))
	for _, d := range m.data {
		out = append(out, d)
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sessionID)
	return nil
}

func (m *Memory) Close() {}

var _ Catalogue = (*Memory)(nil)
