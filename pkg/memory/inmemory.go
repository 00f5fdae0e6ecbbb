package memory

import (
	"context"
	"slices"
	"sync"
)

// InMemory is a process-local Persistence. Data is lost on restart.
type InMemory struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewInMemory creates an empty in-memory persistence.
func NewInMemory() *InMemory {
	return &InMemory{events: make(map[string][]Event)}
}

// Append implements Persistence. Events are kept sorted by timestamp and seq.
func (m *InMemory) Append(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.events[e.Persona]
	i := len(list)
	for i > 0 && before(e, list[i-1]) {
		i--
	}
	m.events[e.Persona] = slices.Insert(list, i, e)
	return nil
}

// Latest implements Persistence.
func (m *InMemory) Latest(_ context.Context, persona string) (Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.events[persona]
	if len(list) == 0 {
		return Event{}, false, nil
	}
	return list[len(list)-1], true, nil
}

// List implements Persistence.
func (m *InMemory) List(_ context.Context, persona string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events[persona]), nil
}

// DeleteAll implements Persistence.
func (m *InMemory) DeleteAll(_ context.Context, persona string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, persona)
	return nil
}

// Replace implements Persistence.
func (m *InMemory) Replace(_ context.Context, persona string, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[persona] = []Event{e}
	return nil
}

// CountUnsummarized implements Persistence.
func (m *InMemory) CountUnsummarized(_ context.Context, persona string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.events[persona] {
		if e.Kind != KindSummary {
			n++
		}
	}
	return n, nil
}

// Close implements Persistence.
func (m *InMemory) Close() error { return nil }

var _ Persistence = (*InMemory)(nil)
