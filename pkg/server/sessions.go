package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/chorus/pkg/orchestrator"
)

// Sessions holds server-side conversation state. Requests on one session are
// serialized; different sessions proceed in parallel.
type Sessions struct {
	mu   sync.Mutex
	byID map[string]*sessionEntry
	ttl  time.Duration
	now  func() time.Time
}

type sessionEntry struct {
	// run serializes requests; session belongs to whoever holds it.
	run     sync.Mutex
	session *orchestrator.Session
	// snapshot is what readers see while a request is running.
	snapshot atomic.Pointer[orchestrator.Session]

	// Guarded by Sessions.mu.
	lastUsed time.Time
	inFlight int
}

// publish makes the current session state visible to readers.
func (e *sessionEntry) publish() {
	cp := *e.session
	e.snapshot.Store(&cp)
}

// NewSessions returns an empty table. Sessions idle longer than ttl are
// removed by Expire; a zero ttl keeps them.
func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{byID: make(map[string]*sessionEntry), ttl: ttl, now: time.Now}
}

// create registers a new session on persona and acquires it.
func (t *Sessions) create(persona string) *sessionEntry {
	e := &sessionEntry{session: orchestrator.NewSession(persona)}
	e.publish()
	t.mu.Lock()
	defer t.mu.Unlock()
	e.lastUsed = t.now()
	e.inFlight = 1
	t.byID[e.session.ID] = e
	return e
}

// acquire marks the session busy so Expire leaves it alone until release.
func (t *Sessions) acquire(id string) (*sessionEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if ok {
		e.inFlight++
		e.lastUsed = t.now()
	}
	return e, ok
}

// release ends a request; the idle clock starts from here.
func (t *Sessions) release(e *sessionEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.inFlight--
	e.lastUsed = t.now()
}

// Get returns a copy of the session state without waiting for a running
// request.
func (t *Sessions) Get(id string) (orchestrator.Session, bool) {
	t.mu.Lock()
	e, ok := t.byID[id]
	if ok {
		e.lastUsed = t.now()
	}
	t.mu.Unlock()
	if !ok {
		return orchestrator.Session{}, false
	}
	return *e.snapshot.Load(), true
}

// Delete forgets a session.
func (t *Sessions) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byID[id]
	delete(t.byID, id)
	return ok
}

// Len reports the number of live sessions.
func (t *Sessions) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// Expire drops sessions idle for longer than the ttl. Sessions with a request
// in progress are never idle.
func (t *Sessions) Expire(_ context.Context) (int, error) {
	if t.ttl <= 0 {
		return 0, nil
	}
	cutoff := t.now().Add(-t.ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, e := range t.byID {
		if e.inFlight == 0 && e.lastUsed.Before(cutoff) {
			delete(t.byID, id)
			n++
		}
	}
	return n, nil
}
