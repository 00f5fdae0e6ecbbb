// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func backends(t *testing.T) map[string]func() Persistence {
	t.Helper()
	return map[string]func() Persistence{
		"inmemory": func() Persistence { return NewInMemory() },
		"sqlite": func() Persistence {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "context.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func countingSummarizer(calls *atomic.Int32) Summarizer {
	return SummarizerFunc(func(_ context.Context, text string) (string, error) {
		calls.Add(1)
		return fmt.Sprintf("%d lines", strings.Count(text, "\n")), nil
	})
}

func TestStoreSummarizesPastThreshold(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var calls atomic.Int32
			store := NewStore(open(), WithSummarizer(countingSummarizer(&calls)), WithThreshold(5))

			for i := range 6 {
				store.Record(ctx, "generalist", KindResponseChunk, map[string]any{"chunk": fmt.Sprint(i)})
			}

			events, err := store.Events(ctx, "generalist")
			if err != nil {
				t.Fatalf("Events: %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("expected 1 event after compaction, got %d", len(events))
			}
			latest, ok := store.Latest(ctx, "generalist")
			if !ok || latest.Kind != KindSummary {
				t.Fatalf("Latest = %+v, %v; want summary", latest, ok)
			}
			if latest.Payload["summary"] != "6 lines" {
				t.Errorf("summary payload = %v", latest.Payload["summary"])
			}
			if calls.Load() != 1 {
				t.Errorf("summarizer calls = %d, want 1", calls.Load())
			}
		})
	}
}

func TestStoreBelowThresholdKeepsEvents(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var calls atomic.Int32
			store := NewStore(open(), WithSummarizer(countingSummarizer(&calls)))

			store.Record(ctx, "zen_monk", KindSwitch, map[string]any{"to": "zen_monk"})
			for i := range 4 {
				store.Record(ctx, "zen_monk", KindResponseChunk, map[string]any{"chunk": fmt.Sprint(i)})
			}

			events, _ := store.Events(ctx, "zen_monk")
			if len(events) != 5 {
				t.Fatalf("expected 5 events, got %d", len(events))
			}
			if events[0].Kind != KindSwitch || events[4].Payload["chunk"] != "3" {
				t.Errorf("events out of order: %+v", events)
			}
			if calls.Load() != 0 {
				t.Errorf("summarizer should not run, got %d calls", calls.Load())
			}
		})
	}
}

func TestStoreSummaryDoesNotRetrigger(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	store := NewStore(NewInMemory(), WithSummarizer(countingSummarizer(&calls)), WithThreshold(1))

	store.Record(ctx, "p", KindResponseChunk, map[string]any{"chunk": "a"})
	store.Record(ctx, "p", KindResponseChunk, map[string]any{"chunk": "b"})
	if calls.Load() != 1 {
		t.Fatalf("summarizer calls = %d, want 1", calls.Load())
	}
	// One more chunk leaves summary + 1 event, which is within threshold.
	store.Record(ctx, "p", KindResponseChunk, map[string]any{"chunk": "c"})
	events, _ := store.Events(ctx, "p")
	if len(events) != 2 || events[0].Kind != KindSummary {
		t.Fatalf("unexpected history %+v", events)
	}
	if calls.Load() != 1 {
		t.Errorf("summarizer calls = %d, want 1", calls.Load())
	}
}

func TestStoreSummarizerFailureKeepsEvents(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewInMemory(),
		WithThreshold(2),
		WithSummarizer(SummarizerFunc(func(context.Context, string) (string, error) {
			return "", stderrors.New("backend down")
		})),
	)
	for i := range 3 {
		store.Record(ctx, "p", KindResponseChunk, map[string]any{"chunk": fmt.Sprint(i)})
	}
	events, _ := store.Events(ctx, "p")
	if len(events) != 3 {
		t.Fatalf("expected events to survive a failed summary, got %d", len(events))
	}
}

type failingReplace struct{ *InMemory }

func (failingReplace) Replace(context.Context, string, Event) error { return stderrors.New("disk full") }

func TestStoreReplaceFailureKeepsEvents(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	store := NewStore(failingReplace{NewInMemory()}, WithThreshold(2), WithSummarizer(countingSummarizer(&calls)))
	for i := range 3 {
		store.Record(ctx, "p", KindResponseChunk, map[string]any{"chunk": fmt.Sprint(i)})
	}
	events, _ := store.Events(ctx, "p")
	if len(events) != 3 {
		t.Fatalf("expected history to survive a failed replace, got %d events", len(events))
	}
	if calls.Load() != 1 {
		t.Errorf("summarizer calls = %d, want 1", calls.Load())
	}
}

func TestSQLiteReplaceIsAtomic(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "context.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()
	s, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if _, err := db.Exec(`
		CREATE TRIGGER reject_summaries BEFORE INSERT ON context_events
		WHEN NEW.kind = 'summary'
		BEGIN SELECT RAISE(ABORT, 'summaries disabled'); END;
	`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	store := NewStore(s)
	for i := range 3 {
		store.Record(ctx, "p", KindResponseChunk, map[string]any{"chunk": fmt.Sprint(i)})
	}
	summary := Event{ID: "sum", Persona: "p", Kind: KindSummary, Timestamp: time.Now(), Seq: 99}
	if err := s.Replace(ctx, "p", summary); err == nil {
		t.Fatalf("expected Replace to fail")
	}
	events, err := s.List(ctx, "p")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 || events[0].Kind != KindResponseChunk {
		t.Fatalf("history not restored after failed replace: %+v", events)
	}

	if _, err := db.Exec(`DROP TRIGGER reject_summaries`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if err := s.Replace(ctx, "p", summary); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	events, _ = s.List(ctx, "p")
	if len(events) != 1 || events[0].ID != "sum" {
		t.Fatalf("List after Replace = %+v", events)
	}
	if err := s.DeleteAll(ctx, "p"); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n, _ := s.CountUnsummarized(ctx, "p"); n != 0 {
		t.Errorf("CountUnsummarized after DeleteAll = %d", n)
	}
}

func TestStorePersonasAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	store.Record(ctx, "a", KindToolCall, map[string]any{"tool": "note"})

	if _, ok := store.Latest(ctx, "b"); ok {
		t.Fatalf("persona b should have no history")
	}
	if e, ok := store.Latest(ctx, "a"); !ok || e.Payload["tool"] != "note" {
		t.Fatalf("Latest(a) = %+v, %v", e, ok)
	}
}

type brokenPersistence struct{ *InMemory }

func (brokenPersistence) Append(context.Context, Event) error { return stderrors.New("disk full") }

func TestStoreRecordSwallowsErrors(t *testing.T) {
	store := NewStore(brokenPersistence{NewInMemory()})
	store.Record(context.Background(), "p", KindSwitch, nil)
	if _, ok := store.Latest(context.Background(), "p"); ok {
		t.Fatalf("nothing should have been stored")
	}
}

func TestStoreConcurrentRecords(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	store := NewStore(NewInMemory(), WithSummarizer(countingSummarizer(&calls)), WithThreshold(5))

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				store.Record(ctx, "shared", KindResponseChunk, map[string]any{"w": w, "i": i})
				store.Latest(ctx, "shared")
			}
		}()
	}
	wg.Wait()
	// Settles any record that joined an in-flight compaction.
	store.Record(ctx, "shared", KindResponseChunk, map[string]any{"final": true})

	events, _ := store.Events(ctx, "shared")
	unsummarized := 0
	for _, e := range events {
		if e.Kind != KindSummary {
			unsummarized++
		}
	}
	if unsummarized > 5 {
		t.Errorf("history not compacted: %d unsummarized events", unsummarized)
	}
	if calls.Load() == 0 {
		t.Errorf("expected at least one compaction")
	}
}

func TestInMemoryOrdersByTimestampThenSeq(t *testing.T) {
	ctx := context.Background()
	m := NewInMemory()
	base := time.Unix(100, 0)
	_ = m.Append(ctx, Event{ID: "late", Persona: "p", Timestamp: base.Add(time.Second), Seq: 1})
	_ = m.Append(ctx, Event{ID: "tie-2", Persona: "p", Timestamp: base, Seq: 3})
	_ = m.Append(ctx, Event{ID: "tie-1", Persona: "p", Timestamp: base, Seq: 2})

	list, _ := m.List(ctx, "p")
	var ids []string
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	if got := strings.Join(ids, ","); got != "tie-1,tie-2,late" {
		t.Errorf("order = %s", got)
	}
}

func TestTranscriptIsStable(t *testing.T) {
	events := []Event{
		{Kind: KindToolCall, Payload: map[string]any{"tool": "note", "input": "x"}},
		{Kind: KindResponseChunk, Payload: map[string]any{"chunk": "hi"}},
	}
	want := "tool_call: {\"input\":\"x\",\"tool\":\"note\"}\nresponse_chunk: {\"chunk\":\"hi\"}\n"
	if got := Transcript(events); got != want {
		t.Errorf("Transcript = %q", got)
	}
}
