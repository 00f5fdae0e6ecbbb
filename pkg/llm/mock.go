package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockBackend is a testing implementation of Backend.
// Stream emits Chunks one by one; when FailAfter >= 0 and StreamErr is set the
// stream fails after that many chunks. OpenErr fails the call up front.
type MockBackend struct {
	Chunks    []string
	OpenErr   error
	StreamErr error
	FailAfter int
	Response  string
	// StreamFunc, when set, replaces the scripted behavior entirely.
	StreamFunc func(ctx context.Context, req Request) (<-chan StreamChunk, error)

	mu          sync.Mutex
	streamCalls int
	syncCalls   int
	requests    []Request
}

// NewMockBackend returns a mock streaming the given chunks.
func NewMockBackend(chunks ...string) *MockBackend {
	return &MockBackend{Chunks: chunks, FailAfter: -1}
}

// Stream implements Backend.
func (m *MockBackend) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	m.mu.Lock()
	m.streamCalls++
	m.requests = append(m.requests, req)
	fn, openErr := m.StreamFunc, m.OpenErr
	chunks := append([]string(nil), m.Chunks...)
	failAfter, streamErr := m.FailAfter, m.StreamErr
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if openErr != nil {
		return nil, openErr
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for i, c := range chunks {
			if streamErr != nil && i == failAfter {
				select {
				case out <- StreamChunk{Err: streamErr}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- StreamChunk{Content: c}:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil && failAfter >= len(chunks) {
			select {
			case out <- StreamChunk{Err: streamErr}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// Generate implements Backend. It returns Response when set, else the joined
// chunks.
func (m *MockBackend) Generate(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCalls++
	m.requests = append(m.requests, req)
	if m.OpenErr != nil {
		return "", m.OpenErr
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return strings.Join(m.Chunks, ""), nil
}

// StreamCalls returns how many times Stream was invoked.
func (m *MockBackend) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// GenerateCalls returns how many times Generate was invoked.
func (m *MockBackend) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncCalls
}

// Requests returns a copy of every request received.
func (m *MockBackend) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// EchoBackend answers "<model> says ok", streamed word by word, so callers
// can tell personas apart without a real model.
type EchoBackend struct{}

// Stream implements Backend.
func (EchoBackend) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk)
	words := strings.Fields(fmt.Sprintf("%s says ok", req.Model))
	go func() {
		defer close(out)
		for i, w := range words {
			if i > 0 {
				w = " " + w
			}
			select {
			case out <- StreamChunk{Content: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Generate implements Backend.
func (EchoBackend) Generate(_ context.Context, req Request) (string, error) {
	return req.Model + " says ok", nil
}
