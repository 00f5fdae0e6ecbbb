package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jllopis/chorus/pkg/cache"
	"github.com/jllopis/chorus/pkg/errors"
	"github.com/jllopis/chorus/pkg/llm"
	"github.com/jllopis/chorus/pkg/memory"
	"github.com/jllopis/chorus/pkg/persona"
	"github.com/jllopis/chorus/pkg/resilience"
	"github.com/jllopis/chorus/pkg/tools"
)

func fastBackoff() resilience.Backoff {
	return resilience.DefaultBackoff().WithInitial(time.Millisecond)
}

func newTestOrchestrator(t *testing.T, backend llm.Backend, opts ...Option) *Orchestrator {
	t.Helper()
	personas, err := persona.NewRegistry(persona.Defaults()...)
	if err != nil {
		t.Fatalf("persona registry: %v", err)
	}
	toolReg, err := tools.NewRegistry(
		tools.Func{ToolName: "echo", Fn: func(_ context.Context, in string, _ map[string]string) (string, error) {
			return in, nil
		}},
		tools.Func{ToolName: "broken", Fn: func(context.Context, string, map[string]string) (string, error) {
			return "", tools.Failure("broken", "disk full")
		}},
	)
	if err != nil {
		t.Fatalf("tool registry: %v", err)
	}
	opts = append([]Option{WithBackoff(fastBackoff())}, opts...)
	o, err := New(personas, toolReg, backend, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func collect(o *Orchestrator, input string, s *Session) []Chunk {
	var out []Chunk
	for c := range o.Process(context.Background(), input, s) {
		out = append(out, c)
	}
	return out
}

func kinds(chunks []Chunk) []ChunkKind {
	out := make([]ChunkKind, len(chunks))
	for i, c := range chunks {
		out[i] = c.Kind
	}
	return out
}

func countKind(chunks []Chunk, k ChunkKind) int {
	n := 0
	for _, c := range chunks {
		if c.Kind == k {
			n++
		}
	}
	return n
}

func TestNewRejectsUnknownDefaultPersona(t *testing.T) {
	personas, _ := persona.NewRegistry(persona.Defaults()...)
	_, err := New(personas, nil, llm.NewMockBackend(), WithDefaultPersona("pirate"))
	if !errors.HasCode(err, errors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := New(personas, nil, nil); !errors.HasCode(err, errors.CodeConfiguration) {
		t.Fatalf("nil backend should be rejected, got %v", err)
	}
}

func TestSwitchPersona(t *testing.T) {
	backend := llm.NewMockBackend("unused")
	o := newTestOrchestrator(t, backend)
	s := o.NewSession()

	got := collect(o, "@switch Zen_Monk", s)
	if len(got) != 1 || got[0].Kind != KindNotice || got[0].Text != "Switched to persona 'zen_monk'" {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	if s.CurrentPersona != "zen_monk" {
		t.Errorf("CurrentPersona = %q", s.CurrentPersona)
	}
	e, ok := o.Store().Latest(context.Background(), "zen_monk")
	if !ok || e.Kind != memory.KindSwitch || e.Payload["from"] != "generalist" {
		t.Errorf("switch not recorded: %+v", e)
	}

	got = collect(o, "@switch pirate", s)
	if len(got) != 1 || got[0].Kind != KindError || got[0].Text != "Persona 'pirate' not found" {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	if s.CurrentPersona != "zen_monk" {
		t.Errorf("unknown switch changed persona to %q", s.CurrentPersona)
	}
	if backend.StreamCalls() != 0 {
		t.Errorf("switches must not reach the backend")
	}
}

func TestUnknownSessionPersonaFallsBackToDefault(t *testing.T) {
	backend := llm.NewMockBackend("hello")
	o := newTestOrchestrator(t, backend)
	s := &Session{ID: "s1", CurrentPersona: "retired_pirate"}

	got := collect(o, "hi", s)
	if Text(got) != "hello" {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	if s.CurrentPersona != DefaultPersona {
		t.Errorf("CurrentPersona = %q, want %q", s.CurrentPersona, DefaultPersona)
	}
	reqs := backend.Requests()
	if len(reqs) != 1 || reqs[0].Model != "llama3.2" {
		t.Errorf("request should use the default persona model: %+v", reqs)
	}
}

func TestToolThenChat(t *testing.T) {
	backend := llm.NewMockBackend("fine", " thanks")
	o := newTestOrchestrator(t, backend)
	s := o.NewSession()

	got := collect(o, "@echo ping", s)
	if got[0].Kind != KindTool || got[0].Text != "ping" {
		t.Fatalf("first chunk = %+v", got[0])
	}
	if Text(got[1:]) != "fine thanks" {
		t.Errorf("chat text = %q", Text(got[1:]))
	}
	reqs := backend.Requests()
	if len(reqs) != 1 || !strings.Contains(reqs[0].Prompt, "Tool output: ping\n") {
		t.Errorf("prompt missing tool output: %+v", reqs)
	}
	events, _ := o.Store().Events(context.Background(), "generalist")
	if len(events) == 0 || events[0].Kind != memory.KindToolCall || events[0].Payload["output"] != "ping" {
		t.Errorf("tool call not recorded first: %+v", events)
	}
}

func TestUnknownToolSkipsBackend(t *testing.T) {
	backend := llm.NewMockBackend("x")
	o := newTestOrchestrator(t, backend)

	got := collect(o, "@teleport now", o.NewSession())
	if len(got) != 1 || got[0].Kind != KindError || got[0].Text != "Tool 'teleport' not recognized" {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	if backend.StreamCalls() != 0 {
		t.Errorf("backend called %d times", backend.StreamCalls())
	}
}

func TestToolFailure(t *testing.T) {
	backend := llm.NewMockBackend("x")
	o := newTestOrchestrator(t, backend)
	s := o.NewSession()

	got := collect(o, "@broken now", s)
	if len(got) != 1 || got[0].Kind != KindError {
		t.Fatalf("want exactly one error chunk, got %+v", got)
	}
	if got[0].Text != "Error executing tool 'broken': disk full" {
		t.Errorf("error text = %q", got[0].Text)
	}
	events, _ := o.Store().Events(context.Background(), "generalist")
	if len(events) != 0 {
		t.Errorf("failed tool recorded events: %+v", events)
	}
	if backend.StreamCalls() != 0 {
		t.Errorf("backend called after tool failure")
	}
}

func TestDisallowedTool(t *testing.T) {
	personas, _ := persona.NewRegistry(persona.Persona{Name: "generalist", Model: "m", Tools: []string{"broken"}})
	toolReg, _ := tools.NewRegistry(tools.Func{ToolName: "echo", Fn: func(_ context.Context, in string, _ map[string]string) (string, error) {
		return in, nil
	}})
	o, err := New(personas, toolReg, llm.NewMockBackend("x"))
	if err != nil {
		t.Fatal(err)
	}
	got := collect(o, "@echo hi", o.NewSession())
	if len(got) != 1 || got[0].Kind != KindError || !strings.Contains(got[0].Text, "not available") {
		t.Fatalf("unexpected chunks: %+v", got)
	}
}

func TestMalformedCommand(t *testing.T) {
	backend := llm.NewMockBackend("x")
	o := newTestOrchestrator(t, backend)

	got := collect(o, "@note priority=high Meeting at 3pm", o.NewSession())
	if len(got) != 1 || got[0].Kind != KindError || !strings.HasPrefix(got[0].Text, "Malformed command: ") {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	if backend.StreamCalls() != 0 {
		t.Errorf("backend called for malformed command")
	}
}

func TestCacheServesRepeatedInput(t *testing.T) {
	backend := llm.NewMockBackend("Hello", " there")
	c := cache.NewMemory()
	o := newTestOrchestrator(t, backend, WithCache(c))
	s := o.NewSession()

	first := collect(o, "hi", s)
	second := collect(o, "hi", s)
	if Text(first) != "Hello there" || Text(second) != "Hello there" {
		t.Fatalf("texts = %q, %q", Text(first), Text(second))
	}
	if len(second) != 1 {
		t.Errorf("cached answer should be one chunk, got %d", len(second))
	}
	if backend.StreamCalls() != 1 {
		t.Errorf("StreamCalls = %d, want 1", backend.StreamCalls())
	}

	collect(o, "@switch shakespeare", s)
	collect(o, "hi", s)
	if backend.StreamCalls() != 2 {
		t.Errorf("cache must be keyed by persona, StreamCalls = %d", backend.StreamCalls())
	}
}

func TestStreamMatchesGenerate(t *testing.T) {
	backend := llm.NewMockBackend("The", " quick", " fox")
	o := newTestOrchestrator(t, backend)
	s := o.NewSession()

	streamed := Text(collect(o, "tell me", s))
	reqs := backend.Requests()
	want, err := backend.Generate(context.Background(), reqs[0])
	if err != nil {
		t.Fatal(err)
	}
	if streamed != want {
		t.Errorf("streamed %q, generated %q", streamed, want)
	}
}

func TestPromptCarriesPreviousContext(t *testing.T) {
	backend := llm.NewMockBackend("ok")
	o := newTestOrchestrator(t, backend)
	s := o.NewSession()

	collect(o, "first", s)
	collect(o, "second", s)
	reqs := backend.Requests()
	if strings.Contains(reqs[0].Prompt, "Previous context") {
		t.Errorf("first prompt should have no context: %q", reqs[0].Prompt)
	}
	if !strings.Contains(reqs[1].Prompt, `Previous context: {"response_chunk":"ok"}`) {
		t.Errorf("second prompt = %q", reqs[1].Prompt)
	}
	if reqs[1].System != "You are a helpful assistant; answer clearly." || reqs[1].Model != "llama3.2" {
		t.Errorf("persona not applied: %+v", reqs[1])
	}
}

func TestResponseChunksAreSummarized(t *testing.T) {
	backend := llm.NewMockBackend("a", "b", "c", "d", "e", "f")
	store := memory.NewStore(nil,
		memory.WithThreshold(5),
		memory.WithSummarizer(memory.SummarizerFunc(func(_ context.Context, text string) (string, error) {
			return fmt.Sprintf("%d lines", strings.Count(text, "\n")), nil
		})),
	)
	o := newTestOrchestrator(t, backend, WithStore(store))

	collect(o, "go", o.NewSession())
	events, err := store.Events(context.Background(), "generalist")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != memory.KindSummary || events[0].Payload["summary"] != "6 lines" {
		t.Fatalf("events = %+v", events)
	}
}

func TestComplexInputCollaborates(t *testing.T) {
	o := newTestOrchestrator(t, llm.EchoBackend{})
	s := o.NewSession()

	got := collect(o, "one two three four five six seven eight nine ten eleven", s)
	labels := countKind(got, KindLabel)
	if labels != o.Personas().Len()-1 {
		t.Fatalf("labels = %d, want %d: %v", labels, o.Personas().Len()-1, kinds(got))
	}
	var order []string
	for _, c := range got {
		if c.Kind == KindLabel {
			order = append(order, c.Text)
		}
	}
	want := []string{"[zen_monk]: ", "[shakespeare]: ", "[quantum_mentor]: "}
	if strings.Join(order, "|") != strings.Join(want, "|") {
		t.Errorf("label order = %q", order)
	}
	if s.CurrentPersona != "generalist" {
		t.Errorf("collaboration changed persona to %q", s.CurrentPersona)
	}

	simple := collect(o, "how are you", o.NewSession())
	if countKind(simple, KindLabel) != 0 {
		t.Errorf("short input collaborated: %v", kinds(simple))
	}
	keyword := collect(o, "Plan it", o.NewSession())
	if countKind(keyword, KindLabel) != o.Personas().Len()-1 {
		t.Errorf("keyword input did not collaborate: %v", kinds(keyword))
	}
}

func TestCollaborate(t *testing.T) {
	o := newTestOrchestrator(t, llm.EchoBackend{})
	s := o.NewSession()
	s.CurrentPersona = "shakespeare"

	var got []Chunk
	for c := range o.Collaborate(context.Background(), "hi", s) {
		got = append(got, c)
	}
	for _, c := range got {
		if c.Persona == "shakespeare" {
			t.Errorf("active persona answered: %+v", c)
		}
	}
	if countKind(got, KindLabel) != 3 {
		t.Errorf("kinds = %v", kinds(got))
	}
}

func TestBackendErrorMidStream(t *testing.T) {
	backend := llm.NewMockBackend("par", "tial", "never")
	backend.FailAfter = 2
	backend.StreamErr = errors.New(errors.CodeLLMError, "model crashed", nil)
	c := cache.NewMemory()
	o := newTestOrchestrator(t, backend, WithCache(c))

	got := collect(o, "hi", o.NewSession())
	want := []ChunkKind{KindText, KindText, KindError}
	if fmt.Sprint(kinds(got)) != fmt.Sprint(want) {
		t.Fatalf("kinds = %v, want %v", kinds(got), want)
	}
	if got[2].Text != "Error generating response: model crashed" {
		t.Errorf("error text = %q", got[2].Text)
	}
	if c.Len() != 0 {
		t.Errorf("partial answer cached")
	}
}

func TestOpenFailureIsTerminal(t *testing.T) {
	backend := llm.NewMockBackend()
	backend.OpenErr = errors.New(errors.CodeLLMError, "model not found", nil)
	o := newTestOrchestrator(t, backend)

	got := collect(o, "hi", o.NewSession())
	if len(got) != 1 || got[0].Kind != KindError {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	if backend.StreamCalls() != 1 {
		t.Errorf("non-recoverable errors must not be retried, calls = %d", backend.StreamCalls())
	}
}

func TestOpenRetriesRecoverableErrors(t *testing.T) {
	backend := llm.NewMockBackend()
	calls := 0
	backend.StreamFunc = func(ctx context.Context, _ llm.Request) (<-chan llm.StreamChunk, error) {
		calls++
		if calls == 1 {
			return nil, errors.New(errors.CodeLLMError, "busy", nil).WithRecoverable(true)
		}
		out := make(chan llm.StreamChunk, 2)
		out <- llm.StreamChunk{Content: "ok"}
		out <- llm.StreamChunk{Done: true}
		close(out)
		return out, nil
	}
	o := newTestOrchestrator(t, backend)

	got := collect(o, "hi", o.NewSession())
	if Text(got) != "ok" || calls != 2 {
		t.Fatalf("text = %q after %d calls", Text(got), calls)
	}
}

func TestEarlyStopAbandonsStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := llm.NewMockBackend("one", " two", " three", " four")
	c := cache.NewMemory()
	o := newTestOrchestrator(t, backend, WithCache(c))
	s := o.NewSession()

	for chunk := range o.Process(context.Background(), "count", s) {
		if chunk.Text == "one" {
			break
		}
	}
	if c.Len() != 0 {
		t.Errorf("abandoned answer was cached")
	}

	got := collect(o, "count", s)
	if Text(got) != "one two three four" || backend.StreamCalls() != 2 {
		t.Errorf("text = %q, calls = %d", Text(got), backend.StreamCalls())
	}
}

func TestCanceledContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := llm.NewMockBackend()
	release := make(chan struct{})
	backend.StreamFunc = func(ctx context.Context, _ llm.Request) (<-chan llm.StreamChunk, error) {
		out := make(chan llm.StreamChunk)
		go func() {
			defer close(out)
			select {
			case out <- llm.StreamChunk{Content: "partial"}:
			case <-ctx.Done():
				return
			}
			<-release
		}()
		return out, nil
	}
	c := cache.NewMemory()
	o := newTestOrchestrator(t, backend, WithCache(c))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []Chunk
	for chunk := range o.Process(ctx, "hi", o.NewSession()) {
		got = append(got, chunk)
		if chunk.Kind == KindText {
			cancel()
			close(release)
		}
	}
	if len(got) != 2 || got[1].Kind != KindError {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	if c.Len() != 0 {
		t.Errorf("canceled answer was cached")
	}
}

func TestBuildPromptDeterministic(t *testing.T) {
	p := persona.Persona{Name: "zen_monk", Tone: "calm"}
	ctx := map[string]any{"b": 1, "a": "x"}
	first := BuildPrompt(p, ctx, "", "breathe")
	for range 5 {
		if BuildPrompt(p, ctx, "", "breathe") != first {
			t.Fatal("prompt is not deterministic")
		}
	}
	want := "Persona: zen_monk (Tone: calm)\n" +
		"Previous context: {\"a\":\"x\",\"b\":1}\n" +
		"Input: breathe\n" +
		"Step 1: Identify key components of the query.\n" +
		"Step 2: Plan a response strategy.\n" +
		"Step 3: Generate a concise, accurate response.\n"
	if first != want {
		t.Errorf("prompt =\n%s\nwant\n%s", first, want)
	}
}

func TestClassifier(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		input string
		want  bool
	}{
		{"hello", false},
		{"one two three four five six seven eight nine ten", false},
		{"one two three four five six seven eight nine ten eleven", true},
		{"ANALYZE this", true},
		{"a complexity", true},
		{"planet earth", true},
	}
	for _, tt := range tests {
		if got := c.IsComplex(tt.input); got != tt.want {
			t.Errorf("IsComplex(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
