package audit

import (
	"context"
	"sync"

	"github.com/PaulFidika/receiptkit/core"
)

// MemorySink keeps events in memory, bounded to the newest max entries.
type MemorySink struct {
	mu     sync.Mutex
	max    int
	events []core.AccessEvent
}

// NewMemorySink keeps at most max events; max <= 0 means unbounded.
func NewMemorySink(max int) *MemorySink {
	return &MemorySink{max: max}
}

func (m *MemorySink) LogAccessEvent(_ context.Context, ev core.AccessEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if m.max > 0 && len(m.events) > m.max {
		m.events = append([]core.AccessEvent(nil), m.events[len(m.events)-m.max:]...)
	}
	return nil
}

// Events returns a copy of the buffered events, oldest first.
func (m *MemorySink) Events() []core.AccessEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.AccessEvent(nil), m.events...)
}

// OfType returns buffered events of type t.
func (m *MemorySink) OfType(t core.EventType) []core.AccessEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.AccessEvent
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
