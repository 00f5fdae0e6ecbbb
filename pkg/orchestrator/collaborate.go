// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"iter"
	"log/slog"

	"github.com/jllopis/chorus/pkg/persona"
	"github.com/jllopis/chorus/pkg/telemetry"
)

// Collaborate asks every persona except the session's active one to answer
// input, in registration order. Each answer is introduced by a label chunk.
func (o *Orchestrator) Collaborate(ctx context.Context, input string, s *Session) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ctx, span := o.tracer.Start(ctx, "Orchestrator.Collaborate")
		defer span.End()
		ctx = telemetry.WithRequest(ctx, s.ID, newRequestID())
		o.collaborate(ctx, o.logger, o.resolve(s), input, yield)
	}
}

func (o *Orchestrator) collaborate(ctx context.Context, log *slog.Logger, active persona.Persona, input string, yield func(Chunk) bool) {
	o.metrics.Collaboration(ctx, active.ID())
	log.InfoContext(ctx, "orchestrator.collaborate", slog.String("persona", active.ID()), slog.Int("personas", o.personas.Len()-1))

	for _, name := range o.personas.Names() {
		if name == active.ID() {
			continue
		}
		p, _ := o.personas.Get(name)
		if !yield(Chunk{Kind: KindLabel, Persona: p.ID(), Text: "[" + p.Name + "]: "}) {
			return
		}
		if o.chat(ctx, log, p, input, "", 1, yield) == chatStopped {
			return
		}
	}
}
