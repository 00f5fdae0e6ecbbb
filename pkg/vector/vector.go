// Package vector provides embedding-based recall used by the remember and
// recall tools.
package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/chorus/pkg/resilience"
)

// Store defines the interface for a vector database.
type Store interface {
	// Upsert adds or updates points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the nearest points whose payload matches every filter
	// entry exactly.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32, filter map[string]string) ([]SearchResult, error)
	// EnsureCollection creates the collection if it doesn't exist.
	EnsureCollection(ctx context.Context, name string, vectorSize uint64) error
}

// Point represents a data point in the vector store.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchResult represents a result from a vector search.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Point Point   `json:"point"`
}

// Embedder converts text to vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedFunc adapts a function to Embedder.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// Match is one recalled memory.
type Match struct {
	Text  string
	Score float32
}

// Memory stores persona-scoped snippets and retrieves them by similarity.
type Memory struct {
	store      Store
	embedder   Embedder
	collection string
	threshold  float32
	backoff    resilience.Backoff
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithBackoff sets how recoverable embedding failures are retried.
func WithBackoff(b resilience.Backoff) MemoryOption {
	return func(m *Memory) { m.backoff = b }
}

// NewMemory creates a Memory over store and embedder.
func NewMemory(store Store, embedder Embedder, collection string, opts ...MemoryOption) *Memory {
	m := &Memory{
		store:      store,
		embedder:   embedder,
		collection: collection,
		threshold:  0.5,
		backoff:    resilience.DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.Retry(ctx, m.backoff, func(ctx context.Context) ([]float32, error) {
		return m.embedder.Embed(ctx, text)
	})
}

// Initialize embeds a sample text to learn the vector size and makes sure the
// collection exists.
func (m *Memory) Initialize(ctx context.Context) error {
	vec, err := m.embed(ctx, "hello")
	if err != nil {
		return fmt.Errorf("failed to get embedding dimension: %w", err)
	}
	return m.store.EnsureCollection(ctx, m.collection, uint64(len(vec)))
}

// Remember stores text for persona and returns the point id.
func (m *Memory) Remember(ctx context.Context, persona, text string) (string, error) {
	vec, err := m.embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to embed text: %w", err)
	}
	id := uuid.NewString()
	point := Point{
		ID:     id,
		Vector: vec,
		Payload: map[string]any{
			"text":      text,
			"persona":   persona,
			"timestamp": time.Now().Unix(),
		},
	}
	if err := m.store.Upsert(ctx, m.collection, []Point{point}); err != nil {
		return "", fmt.Errorf("failed to store point: %w", err)
	}
	return id, nil
}

// Recall returns up to limit snippets for persona similar to query. An empty
// persona searches across all personas.
func (m *Memory) Recall(ctx context.Context, persona, query string, limit int) ([]Match, error) {
	vec, err := m.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	var filter map[string]string
	if persona != "" {
		filter = map[string]string{"persona": persona}
	}
	results, err := m.store.Search(ctx, m.collection, vec, limit, m.threshold, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if text, ok := r.Point.Payload["text"].(string); ok {
			matches = append(matches, Match{Text: text, Score: r.Score})
		}
	}
	return matches, nil
}
