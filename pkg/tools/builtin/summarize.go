package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/chorus/pkg/llm"
	"github.com/jllopis/chorus/pkg/tools"
)

var summaryWords = map[string]int{
	"short":  50,
	"medium": 100,
	"long":   200,
}

// Summarizer condenses text with a synchronous backend call. It is both the
// "summarize" tool and the context store summarizer.
type Summarizer struct {
	backend llm.Backend
	model   string
	// Length is used by Summarize; the tool reads length= instead.
	Length string
}

// NewSummarizer uses backend with the given model.
func NewSummarizer(backend llm.Backend, model string) *Summarizer {
	return &Summarizer{backend: backend, model: model, Length: "short"}
}

// Name implements tools.Tool.
func (s *Summarizer) Name() string { return "summarize" }

// Description implements tools.Tool.
func (s *Summarizer) Description() string { return "summarize text (length=short|medium|long)" }

// Execute implements tools.Tool.
func (s *Summarizer) Execute(ctx context.Context, input string, params map[string]string) (string, error) {
	return s.summarize(ctx, input, params["length"])
}

// Summarize implements memory.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	return s.summarize(ctx, text, s.Length)
}

func (s *Summarizer) summarize(ctx context.Context, text, length string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", tools.Failure("summarize", "empty input text")
	}
	words, ok := summaryWords[strings.ToLower(strings.TrimSpace(length))]
	if !ok {
		words = summaryWords["medium"]
	}
	prompt := fmt.Sprintf("Summarize the following text in approximately %d words, preserving key points:\n\n%s", words, text)
	return s.backend.Generate(ctx, llm.Request{Model: s.model, Prompt: prompt})
}
