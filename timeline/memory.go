package timeline

import (
	"context"
	"sync"
)

// MemoryRecorder keeps events in process, in emission order.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
	seen   map[string]struct{}
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{seen: make(map[string]struct{})}
}

// Record appends ev unless an event with the same ID was already recorded.
func (m *MemoryRecorder) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[ev.ID]; ok {
		return nil
	}
	m.seen[ev.ID] = struct{}{}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ListByPosition returns the events of one position in emission order.
func (m *MemoryRecorder) ListByPosition(_ context.Context, positionID uint64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, 8)
	for _, ev := range m.events {
		if ev.PositionID == positionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// OfType returns the recorded events with the given type.
func (m *MemoryRecorder) OfType(t EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
