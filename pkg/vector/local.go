package vector

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
)

// LocalStore is an in-process Store using brute-force cosine similarity. It
// backs recall when no qdrant endpoint is configured.
type LocalStore struct {
	mu          sync.RWMutex
	collections map[string][]Point
}

// NewLocalStore returns an empty LocalStore.
func NewLocalStore() *LocalStore {
	return &LocalStore{collections: make(map[string][]Point)}
}

// EnsureCollection implements Store.
func (s *LocalStore) EnsureCollection(_ context.Context, name string, _ uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = nil
	}
	return nil
}

// Upsert implements Store.
func (s *LocalStore) Upsert(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.collections[collection]
	for _, p := range points {
		i := slices.IndexFunc(existing, func(q Point) bool { return q.ID == p.ID })
		if i >= 0 {
			existing[i] = p
		} else {
			existing = append(existing, p)
		}
	}
	s.collections[collection] = existing
	return nil
}

// Search implements Store.
func (s *LocalStore) Search(_ context.Context, collection string, vector []float32, limit int, scoreThreshold float32, filter map[string]string) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SearchResult
	for _, p := range s.collections[collection] {
		if !matches(p.Payload, filter) {
			continue
		}
		score := cosine(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{ID: p.ID, Score: score, Point: p})
	}
	slices.SortStableFunc(results, func(a, b SearchResult) int { return cmp.Compare(b.Score, a.Score) })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func matches(payload map[string]any, filter map[string]string) bool {
	for k, v := range filter {
		if s, _ := payload[k].(string); s != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ Store = (*LocalStore)(nil)
