// Package cache implements the response cache keyed by persona and raw input.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache maps (persona, input) to a completed response.
type Cache interface {
	Get(persona, input string) (string, bool)
	Put(persona, input, text string)
	Len() int
}

type key struct {
	persona string
	input   string
}

// Memory is an unbounded cache. Entries live for the process lifetime.
type Memory struct {
	mu      sync.RWMutex
	entries map[key]string
}

// NewMemory returns an empty unbounded cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[key]string)}
}

// Get implements Cache.
func (m *Memory) Get(persona, input string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key{persona, input}]
	return v, ok
}

// Put implements Cache.
func (m *Memory) Put(persona, input, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key{persona, input}] = text
}

// Len implements Cache.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// LRU is a cache bounded to a fixed number of entries, evicting the least
// recently used.
type LRU struct {
	entries *lru.Cache[key, string]
}

// NewLRU returns a cache holding at most size entries.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[key, string](size)
	if err != nil {
		return nil, err
	}
	return &LRU{entries: c}, nil
}

// Get implements Cache.
func (l *LRU) Get(persona, input string) (string, bool) {
	return l.entries.Get(key{persona, input})
}

// Put implements Cache.
func (l *LRU) Put(persona, input, text string) {
	l.entries.Add(key{persona, input}, text)
}

// Len implements Cache.
func (l *LRU) Len() int {
	return l.entries.Len()
}

// New returns an LRU when maxEntries > 0 and an unbounded Memory otherwise.
func New(maxEntries int) (Cache, error) {
	if maxEntries > 0 {
		return NewLRU(maxEntries)
	}
	return NewMemory(), nil
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*LRU)(nil)
)
