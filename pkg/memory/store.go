// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DefaultThreshold is the number of unsummarized events a persona may hold
// before compaction.
const DefaultThreshold = 5

// Summarizer condenses a transcript into a short text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// SummarizerFunc adapts a function into a Summarizer.
type SummarizerFunc func(ctx context.Context, text string) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Option configures a Store.
type Option func(*Store)

// WithSummarizer enables compaction. Without one, history only grows.
func WithSummarizer(s Summarizer) Option {
	return func(st *Store) { st.summarizer = s }
}

// WithThreshold sets the compaction threshold. Values below 1 are ignored.
func WithThreshold(n int) Option {
	return func(st *Store) {
		if n > 0 {
			st.threshold = n
		}
	}
}

// WithLogger sets the logger used for swallowed persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(st *Store) {
		if l != nil {
			st.logger = l
		}
	}
}

// Store is the context store shared by every session. Writes are serialized
// per persona; reads share the persona lock. Failures never reach callers.
type Store struct {
	backend    Persistence
	summarizer Summarizer
	threshold  int
	logger     *slog.Logger
	now        func() time.Time

	seq   atomic.Int64
	group singleflight.Group

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewStore creates a Store on top of p. A nil p means in-memory.
func NewStore(p Persistence, opts ...Option) *Store {
	if p == nil {
		p = NewInMemory()
	}
	s := &Store{
		backend:   p,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
		now:       time.Now,
		locks:     make(map[string]*sync.RWMutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lock(persona string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[persona]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[persona] = l
	}
	return l
}

func (s *Store) newEvent(persona string, kind Kind, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Persona:   persona,
		Kind:      kind,
		Payload:   payload,
		Timestamp: s.now(),
		Seq:       s.seq.Add(1),
	}
}

// Record appends an event for persona. Persistence errors are logged and
// dropped. Recording a non-summary event may compact the persona history.
func (s *Store) Record(ctx context.Context, persona string, kind Kind, payload map[string]any) {
	l := s.lock(persona)
	l.Lock()
	err := s.backend.Append(ctx, s.newEvent(persona, kind, payload))
	l.Unlock()
	if err != nil {
		s.logger.WarnContext(ctx, "memory.record.error",
			slog.String("persona", persona),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	if kind == KindSummary || s.summarizer == nil {
		return
	}

	n, err := s.backend.CountUnsummarized(ctx, persona)
	if err != nil {
		s.logger.WarnContext(ctx, "memory.count.error", slog.String("persona", persona), slog.String("error", err.Error()))
		return
	}
	if n <= s.threshold {
		return
	}
	s.group.Do(persona, func() (any, error) {
		s.compact(ctx, persona)
		return nil, nil
	})
}

// compact replaces the whole history of persona by one summary event. The
// summary is inserted directly so it cannot trigger another compaction.
func (s *Store) compact(ctx context.Context, persona string) {
	l := s.lock(persona)
	l.Lock()
	defer l.Unlock()

	// Another caller may have compacted while we waited for the lock.
	n, err := s.backend.CountUnsummarized(ctx, persona)
	if err != nil || n <= s.threshold {
		return
	}
	events, err := s.backend.List(ctx, persona)
	if err != nil {
		s.logger.WarnContext(ctx, "memory.summarize.error", slog.String("persona", persona), slog.String("error", err.Error()))
		return
	}

	summary, err := s.summarizer.Summarize(ctx, Transcript(events))
	if err != nil {
		s.logger.WarnContext(ctx, "memory.summarize.error",
			slog.String("persona", persona),
			slog.Int("events", len(events)),
			slog.String("error", err.Error()),
		)
		return
	}

	ev := s.newEvent(persona, KindSummary, map[string]any{
		"summary":    summary,
		"summarized": len(events),
	})
	if err := s.backend.Replace(ctx, persona, ev); err != nil {
		s.logger.WarnContext(ctx, "memory.summarize.error",
			slog.String("persona", persona),
			slog.Int("events", len(events)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "memory.summarized", slog.String("persona", persona), slog.Int("events", len(events)))
}

// Latest returns the most recent event for persona, if any.
func (s *Store) Latest(ctx context.Context, persona string) (Event, bool) {
	l := s.lock(persona)
	l.RLock()
	defer l.RUnlock()

	e, ok, err := s.backend.Latest(ctx, persona)
	if err != nil {
		s.logger.WarnContext(ctx, "memory.latest.error", slog.String("persona", persona), slog.String("error", err.Error()))
		return Event{}, false
	}
	return e, ok
}

// Events returns the full history of persona in temporal order.
func (s *Store) Events(ctx context.Context, persona string) ([]Event, error) {
	l := s.lock(persona)
	l.RLock()
	defer l.RUnlock()
	return s.backend.List(ctx, persona)
}

// Close closes the underlying persistence.
func (s *Store) Close() error {
	return s.backend.Close()
}
