package protocol

import (
	"sync"
	"time"
)

// Factory owns the per-session sequence counters and stamps new events with
// a monotonically increasing seq and the current timestamp. Counters live
// as long as the Factory and are cleared only by ResetSequence or
// ResetAllSequences; creating a session does not reset its counter. Kept
// as a shared module rather than moved onto Session so every adapter gets
// the same correctness guarantee without reimplementing it.
type Factory struct {
	mu       sync.Mutex
	counters map[string]uint64
	now      func() time.Time
}

// NewFactory creates an event factory with independent per-session counters.
func NewFactory() *Factory {
	return &Factory{
		counters: make(map[string]uint64),
		now:      time.Now,
	}
}

// CreateEvent assigns the next seq for sessionID, stamps the timestamp, and
// merges typ/data into a full Event. The first assigned seq for any session
// is 1.
func (f *Factory) CreateEvent(sessionID string, typ EventType, data map[string]any) Event {
	f.mu.Lock()
	f.counters[sessionID]++
	seq := f.counters[sessionID]
	f.mu.Unlock()

	merged := make(map[string]any, len(data))
	for k, v := range data {
		merged[k] = v
	}

	return Event{
		Seq:       seq,
		SessionID: sessionID,
		Timestamp: f.now().UTC().Format(time.RFC3339Nano),
		Type:      typ,
		Data:      merged,
	}
}

// ResetSequence zeroes the counter for one session, e.g. when a session is
// reattached from scratch.
func (f *Factory) ResetSequence(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counters, sessionID)
}

// ResetAllSequences clears every counter. Used by tests.
func (f *Factory) ResetAllSequences() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = make(map[string]uint64)
}

// CurrentSeq returns the last seq assigned for sessionID, 0 if none yet.
func (f *Factory) CurrentSeq(sessionID string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[sessionID]
}
