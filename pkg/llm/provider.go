// Package llm defines the language-model backend consumed by the orchestrator.
package llm

import "context"

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single unit of communication.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request encapsulates a single generation call.
type Request struct {
	// Model is the backend model identifier (per persona).
	Model string `json:"model"`
	// System is the persona system prompt. Optional.
	System string `json:"system,omitempty"`
	// Prompt is the assembled user prompt.
	Prompt string `json:"prompt"`
	// Temperature is passed through when non-zero.
	Temperature float64 `json:"temperature,omitempty"`
}

// Messages renders the request as a chat transcript.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, 2)
	if r.System != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: r.System})
	}
	return append(msgs, Message{Role: RoleUser, Content: r.Prompt})
}

// StreamChunk is one element of a streamed generation. Exactly one of
// Content, Done or Err is meaningful; a chunk with Err terminates the stream.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Backend is the generation service.
type Backend interface {
	// Stream starts a streamed generation. The returned channel is closed when
	// the stream ends; failures after the stream started arrive as a chunk
	// with Err set. Canceling ctx abandons the stream.
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// Generate runs a non-streaming generation and returns the full text.
	Generate(ctx context.Context, req Request) (string, error)
}

// Collect drains a stream into a single string. It is the non-streaming
// equivalent of ranging over Stream.
func Collect(ctx context.Context, b Backend, req Request) (string, error) {
	ch, err := b.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var out []byte
	for chunk := range ch {
		if chunk.Err != nil {
			return string(out), chunk.Err
		}
		out = append(out, chunk.Content...)
	}
	return string(out), nil
}
