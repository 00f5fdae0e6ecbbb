// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator routes user input to personas and tools, streams
// backend output as chunks, and fans complex inputs out to every persona.
package orchestrator

import (
	"strings"

	"github.com/google/uuid"
)

// ChunkKind tells callers how to render a chunk.
type ChunkKind string

const (
	// KindText is generated (or cached) response text.
	KindText ChunkKind = "text"
	// KindNotice is a session-control confirmation.
	KindNotice ChunkKind = "notice"
	// KindTool is tool output.
	KindTool ChunkKind = "tool"
	// KindLabel introduces a collaborating persona.
	KindLabel ChunkKind = "label"
	// KindError is a terminal error. Nothing follows it.
	KindError ChunkKind = "error"
)

// Chunk is one element of a Process sequence.
type Chunk struct {
	Kind    ChunkKind `json:"kind"`
	Persona string    `json:"persona"`
	Text    string    `json:"text"`
}

// Session is the per-conversation state owned by the caller. Process may
// change CurrentPersona and nothing else.
type Session struct {
	ID             string `json:"id"`
	CurrentPersona string `json:"current_persona"`
}

// NewSession returns a session with a fresh id starting on persona.
func NewSession(persona string) *Session {
	return &Session{ID: uuid.NewString(), CurrentPersona: strings.ToLower(persona)}
}

// Text concatenates the text of chunks.
func Text(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}
