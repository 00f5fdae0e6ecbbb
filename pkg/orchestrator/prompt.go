// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/jllopis/chorus/pkg/persona"
)

// reasoningSteps is appended to every prompt.
var reasoningSteps = []string{
	"Step 1: Identify key components of the query.",
	"Step 2: Plan a response strategy.",
	"Step 3: Generate a concise, accurate response.",
}

// Classifier decides whether an input deserves a collaborative answer.
type Classifier struct {
	// WordThreshold: inputs with more whitespace separated words are complex.
	WordThreshold int
	// Keywords: inputs containing any of these (case-insensitive) are complex.
	Keywords []string
}

// DefaultClassifier flags inputs over ten words or mentioning analyze,
// complex or plan.
func DefaultClassifier() Classifier {
	return Classifier{
		WordThreshold: 10,
		Keywords:      []string{"analyze", "complex", "plan"},
	}
}

// IsComplex reports whether input should be answered by every persona.
func (c Classifier) IsComplex(input string) bool {
	if c.WordThreshold > 0 && len(strings.Fields(input)) > c.WordThreshold {
		return true
	}
	lower := strings.ToLower(input)
	for _, k := range c.Keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// BuildPrompt serializes the prompt for p. The same arguments always produce
// the same prompt; context is rendered as JSON with sorted keys.
func BuildPrompt(p persona.Persona, context map[string]any, toolOutput, input string) string {
	var b strings.Builder
	b.WriteString("Persona: " + p.Name + " (Tone: " + p.Tone + ")\n")
	if len(context) > 0 {
		if raw, err := json.Marshal(context); err == nil {
			b.WriteString("Previous context: ")
			b.Write(raw)
			b.WriteByte('\n')
		}
	}
	if toolOutput != "" {
		b.WriteString("Tool output: " + toolOutput + "\n")
	}
	b.WriteString("Input: " + input + "\n")
	for _, s := range reasoningSteps {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return b.String()
}

// newRequestID tags log lines of one Process call.
func newRequestID() string {
	return uuid.NewString()[:8]
}
