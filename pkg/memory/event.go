// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory implements the per-persona context store. Interaction events
// are appended per persona and periodically compacted into a single summary
// event once the unsummarized history grows past a threshold.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Kind classifies a context event.
type Kind string

const (
	KindSwitch        Kind = "switch"
	KindToolCall      Kind = "tool_call"
	KindResponseChunk Kind = "response_chunk"
	KindSummary       Kind = "summary"
)

// Event is one recorded fact about a persona's interaction history.
type Event struct {
	ID        string         `json:"id"`
	Persona   string         `json:"persona"`
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	// Seq breaks ties between events sharing a timestamp.
	Seq int64 `json:"seq"`
}

// Persistence is the storage layout behind a Store. Implementations need not
// lock per persona; Store serializes writers itself.
type Persistence interface {
	// Append stores an event.
	Append(ctx context.Context, e Event) error
	// Latest returns the most recent event for persona.
	Latest(ctx context.Context, persona string) (Event, bool, error)
	// List returns all events for persona in temporal order.
	List(ctx context.Context, persona string) ([]Event, error)
	// DeleteAll removes every event for persona.
	DeleteAll(ctx context.Context, persona string) error
	// Replace atomically swaps the whole history of persona for e. On error
	// the previous history is intact.
	Replace(ctx context.Context, persona string, e Event) error
	// CountUnsummarized returns the number of non-summary events for persona.
	CountUnsummarized(ctx context.Context, persona string) (int, error)
	// Close releases resources.
	Close() error
}

// Transcript renders events as stable text, one event per line, used as
// summarizer input.
func Transcript(events []Event) string {
	var b strings.Builder
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			payload = []byte("{}")
		}
		b.WriteString(string(e.Kind))
		b.WriteString(": ")
		b.Write(payload)
		b.WriteByte('\n')
	}
	return b.String()
}

func before(a, b Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}
