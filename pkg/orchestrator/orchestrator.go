// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/chorus/pkg/cache"
	"github.com/jllopis/chorus/pkg/command"
	"github.com/jllopis/chorus/pkg/errors"
	"github.com/jllopis/chorus/pkg/llm"
	"github.com/jllopis/chorus/pkg/memory"
	"github.com/jllopis/chorus/pkg/persona"
	"github.com/jllopis/chorus/pkg/resilience"
	"github.com/jllopis/chorus/pkg/telemetry"
	"github.com/jllopis/chorus/pkg/tools"
)

// DefaultPersona is used when a session names no registered persona.
const DefaultPersona = "generalist"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDefaultPersona sets the fallback persona. It must be registered.
func WithDefaultPersona(name string) Option {
	return func(o *Orchestrator) { o.defaultPersona = strings.ToLower(strings.TrimSpace(name)) }
}

// WithClassifier replaces the complexity heuristic.
func WithClassifier(c Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithCache sets the response cache. Defaults to an unbounded cache.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithStore sets the context store. Defaults to an in-memory store without
// summarization.
func WithStore(s *memory.Store) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMetrics enables outcome counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithBackoff sets the retry policy for opening backend streams.
func WithBackoff(b resilience.Backoff) Option {
	return func(o *Orchestrator) { o.backoff = b }
}

// WithTemperature is passed to the backend on every chat request.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// Orchestrator coordinates personas, tools, context, cache and the backend.
// It is safe for concurrent use by multiple sessions.
type Orchestrator struct {
	personas *persona.Registry
	tools    *tools.Registry
	backend  llm.Backend

	cache          cache.Cache
	store          *memory.Store
	classifier     Classifier
	defaultPersona string
	temperature    float64
	backoff        resilience.Backoff

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

// New builds an Orchestrator. An unregistered default persona is a
// configuration error.
func New(personas *persona.Registry, toolReg *tools.Registry, backend llm.Backend, opts ...Option) (*Orchestrator, error) {
	if personas == nil || personas.Len() == 0 {
		return nil, errors.New(errors.CodeConfiguration, "at least one persona is required", nil)
	}
	if backend == nil {
		return nil, errors.New(errors.CodeConfiguration, "backend is required", nil)
	}
	if toolReg == nil {
		toolReg, _ = tools.NewRegistry()
	}

	o := &Orchestrator{
		personas:       personas,
		tools:          toolReg,
		backend:        backend,
		cache:          cache.NewMemory(),
		store:          memory.NewStore(nil),
		classifier:     DefaultClassifier(),
		defaultPersona: DefaultPersona,
		backoff:        resilience.DefaultBackoff(),
		logger:         slog.Default(),
		tracer:         otel.Tracer("chorus/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if !personas.Has(o.defaultPersona) {
		return nil, errors.New(errors.CodeConfiguration,
			fmt.Sprintf("default persona %q is not registered", o.defaultPersona), nil)
	}
	return o, nil
}

// Personas returns the persona registry.
func (o *Orchestrator) Personas() *persona.Registry { return o.personas }

// Tools returns the tool registry.
func (o *Orchestrator) Tools() *tools.Registry { return o.tools }

// Store returns the context store.
func (o *Orchestrator) Store() *memory.Store { return o.store }

// DefaultPersona returns the fallback persona id.
func (o *Orchestrator) DefaultPersona() string { return o.defaultPersona }

// NewSession starts a session on the default persona.
func (o *Orchestrator) NewSession() *Session { return NewSession(o.defaultPersona) }

// resolve returns the session persona, falling back to the default one.
func (o *Orchestrator) resolve(s *Session) persona.Persona {
	if p, ok := o.personas.Get(s.CurrentPersona); ok {
		return p
	}
	p, _ := o.personas.Get(o.defaultPersona)
	return p
}

// Process handles one input. The returned sequence is lazy and single pass:
// work happens while it is ranged over. Stopping early abandons the backend
// stream and leaves the cache untouched.
func (o *Orchestrator) Process(ctx context.Context, input string, s *Session) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ctx, span := o.tracer.Start(ctx, "Orchestrator.Process",
			trace.WithAttributes(telemetry.RequestAttributes(s.ID, s.CurrentPersona)...))
		defer span.End()
		ctx = telemetry.WithRequest(ctx, s.ID, newRequestID())
		log := o.logger

		if target, ok := command.ParseSwitch(input); ok {
			span.SetAttributes(attribute.String(telemetry.AttrPath, "switch"))
			o.metrics.Request(ctx, "switch")
			o.switchPersona(ctx, log, input, target, s, yield)
			return
		}

		p := o.resolve(s)
		s.CurrentPersona = p.ID()
		span.SetAttributes(attribute.String(telemetry.AttrPersona, p.ID()))

		cmd, err := command.Parse(input)
		if err != nil {
			o.fail(ctx, log, p, errors.New(errors.CodeMalformedCommand,
				"Malformed command: "+errors.As(err).Message, err), yield)
			return
		}

		var toolOutput string
		if cmd != nil {
			span.SetAttributes(attribute.String(telemetry.AttrPath, "tool"))
			o.metrics.Request(ctx, "tool")
			out, ok := o.runTool(ctx, log, p, cmd, yield)
			if !ok {
				return
			}
			toolOutput = out
		} else {
			span.SetAttributes(attribute.String(telemetry.AttrPath, "chat"))
			o.metrics.Request(ctx, "chat")
		}

		res := o.chat(ctx, log, p, input, toolOutput, 0, yield)
		if res != chatCompleted || cmd != nil || !o.classifier.IsComplex(input) {
			return
		}
		o.collaborate(ctx, log, p, input, yield)
	}
}

func (o *Orchestrator) switchPersona(ctx context.Context, log *slog.Logger, input, target string, s *Session, yield func(Chunk) bool) {
	p, ok := o.personas.Get(target)
	if !ok {
		log.WarnContext(ctx, "orchestrator.switch.unknown", slog.String("persona", target))
		err := errors.New(errors.CodeUnknownPersona, fmt.Sprintf("Persona '%s' not found", target), nil)
		o.metrics.Error(ctx, err)
		yield(Chunk{Kind: KindError, Persona: s.CurrentPersona, Text: err.Message})
		return
	}

	from := s.CurrentPersona
	s.CurrentPersona = p.ID()
	o.store.Record(ctx, p.ID(), memory.KindSwitch, map[string]any{
		"last_switch": strings.TrimSpace(input),
		"from":        from,
	})
	log.InfoContext(ctx, "orchestrator.switch", slog.String("from", from), slog.String("to", p.ID()))
	yield(Chunk{Kind: KindNotice, Persona: p.ID(), Text: fmt.Sprintf("Switched to persona '%s'", p.ID())})
}

// runTool executes cmd for p and emits its output. It reports false when the
// sequence must end.
func (o *Orchestrator) runTool(ctx context.Context, log *slog.Logger, p persona.Persona, cmd *command.Command, yield func(Chunk) bool) (string, bool) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.tool", trace.WithAttributes(
		attribute.String(telemetry.AttrToolName, cmd.Tool),
		attribute.String(telemetry.AttrPersona, p.ID()),
	))
	defer span.End()

	if _, ok := o.tools.Get(cmd.Tool); !ok || !p.Allows(cmd.Tool) {
		msg := fmt.Sprintf("Tool '%s' not recognized", cmd.Tool)
		if ok {
			msg = fmt.Sprintf("Tool '%s' not available for persona '%s'", cmd.Tool, p.ID())
		}
		o.fail(ctx, log, p, errors.New(errors.CodeUnknownTool, msg, nil).WithContext("tool", cmd.Tool), yield)
		return "", false
	}

	out, err := o.tools.Execute(tools.WithPersona(ctx, p.ID()), cmd.Tool, cmd.Argument, cmd.Params)
	o.metrics.ToolCall(ctx, cmd.Tool, err == nil)
	span.SetAttributes(attribute.Bool(telemetry.AttrToolSuccess, err == nil))
	if err != nil {
		reason := errors.As(err).Reason()
		log.WarnContext(ctx, "orchestrator.tool.error",
			slog.String("tool", cmd.Tool),
			slog.String("persona", p.ID()),
			slog.String("error", err.Error()),
		)
		o.fail(ctx, log, p, errors.New(errors.CodeToolFailure,
			fmt.Sprintf("Error executing tool '%s': %s", cmd.Tool, reason), err).WithContext("tool", cmd.Tool), yield)
		return "", false
	}

	o.store.Record(ctx, p.ID(), memory.KindToolCall, map[string]any{
		"tool":   cmd.Tool,
		"input":  cmd.Argument,
		"params": cmd.Params,
		"output": out,
	})
	log.DebugContext(ctx, "orchestrator.tool.ok", slog.String("tool", cmd.Tool), slog.String("persona", p.ID()))
	if !yield(Chunk{Kind: KindTool, Persona: p.ID(), Text: out}) {
		return "", false
	}
	return out, true
}

type chatResult int

const (
	chatStopped chatResult = iota
	chatCached
	chatCompleted
)

// chat runs the prompt, cache and streaming steps for p. depth is 0 for the
// active persona and 1 inside a collaboration.
func (o *Orchestrator) chat(ctx context.Context, log *slog.Logger, p persona.Persona, input, toolOutput string, depth int, yield func(Chunk) bool) chatResult {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.chat",
		trace.WithAttributes(telemetry.ChatAttributes(p.ID(), p.Model, depth)...))
	defer span.End()

	var previous map[string]any
	if e, ok := o.store.Latest(ctx, p.ID()); ok {
		previous = e.Payload
	}
	req := llm.Request{
		Model:       p.Model,
		System:      p.SystemPrompt,
		Prompt:      BuildPrompt(p, previous, toolOutput, input),
		Temperature: o.temperature,
	}

	if cached, ok := o.cache.Get(p.ID(), input); ok {
		o.metrics.CacheLookup(ctx, p.ID(), true)
		log.DebugContext(ctx, "orchestrator.cache.hit", slog.String("persona", p.ID()))
		if !yield(Chunk{Kind: KindText, Persona: p.ID(), Text: cached}) {
			return chatStopped
		}
		return chatCached
	}
	o.metrics.CacheLookup(ctx, p.ID(), false)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	backoff := o.backoff
	backoff.OnRetry = func(attempt int, err error) {
		log.WarnContext(ctx, "orchestrator.backend.retry",
			slog.String("persona", p.ID()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	stream, err := resilience.Retry(streamCtx, backoff, func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return o.backend.Stream(ctx, req)
	})
	if err != nil {
		o.backendFailed(ctx, log, span, p, err, yield)
		return chatStopped
	}

	var (
		acc    strings.Builder
		chunks int
	)
	for sc := range stream {
		if sc.Err != nil {
			o.backendFailed(ctx, log, span, p, sc.Err, yield)
			return chatStopped
		}
		if sc.Done {
			break
		}
		if sc.Content == "" {
			continue
		}
		chunks++
		acc.WriteString(sc.Content)
		o.metrics.Chunk(ctx, p.ID())
		if !yield(Chunk{Kind: KindText, Persona: p.ID(), Text: sc.Content}) {
			log.DebugContext(ctx, "orchestrator.stream.abandoned", slog.String("persona", p.ID()), slog.Int("chunks", chunks))
			return chatStopped
		}
		o.store.Record(ctx, p.ID(), memory.KindResponseChunk, map[string]any{"response_chunk": sc.Content})
	}
	span.SetAttributes(attribute.Int(telemetry.AttrChunks, chunks))

	// A stream closed by cancellation is incomplete even without an error.
	if err := ctx.Err(); err != nil {
		o.backendFailed(ctx, log, span, p, errors.New(errors.CodeContextLost, "request canceled", err), yield)
		return chatStopped
	}

	o.cache.Put(p.ID(), input, acc.String())
	return chatCompleted
}

func (o *Orchestrator) backendFailed(ctx context.Context, log *slog.Logger, span trace.Span, p persona.Persona, err error, yield func(Chunk) bool) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "backend failure")
	log.ErrorContext(ctx, "orchestrator.backend.error",
		slog.String("persona", p.ID()),
		slog.String("model", p.Model),
		slog.String("error", err.Error()),
	)
	code := errors.CodeLLMError
	if errors.HasCode(err, errors.CodeContextLost) {
		code = errors.CodeContextLost
	}
	o.fail(ctx, log, p, errors.New(code, "Error generating response: "+errors.As(err).Reason(), err), yield)
}

// fail emits err as the terminal chunk.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, p persona.Persona, err *errors.Error, yield func(Chunk) bool) {
	o.metrics.Error(ctx, err)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(telemetry.AttrErrorCode, string(err.Code)))
	log.DebugContext(ctx, "orchestrator.error", slog.String("code", string(err.Code)), slog.String("persona", p.ID()))
	yield(Chunk{Kind: KindError, Persona: p.ID(), Text: err.Message})
}
