// Package runtime assembles a ready orchestrator from configuration: persona
// and tool registries, context store, response cache, backend, vector memory,
// MCP servers and telemetry.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jllopis/chorus/pkg/cache"
	"github.com/jllopis/chorus/pkg/config"
	"github.com/jllopis/chorus/pkg/llm"
	"github.com/jllopis/chorus/pkg/memory"
	"github.com/jllopis/chorus/pkg/orchestrator"
	"github.com/jllopis/chorus/pkg/persona"
	"github.com/jllopis/chorus/pkg/resilience"
	"github.com/jllopis/chorus/pkg/telemetry"
	"github.com/jllopis/chorus/pkg/tools"
	"github.com/jllopis/chorus/pkg/tools/builtin"
	"github.com/jllopis/chorus/pkg/tools/mcptool"
	"github.com/jllopis/chorus/pkg/vector"
)

// Option customizes New.
type Option func(*settings)

type settings struct {
	logOutput io.Writer
	backend   llm.Backend
	version   string
}

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(s *settings) { s.logOutput = w }
}

// WithBackend replaces the configured backend.
func WithBackend(b llm.Backend) Option {
	return func(s *settings) { s.backend = b }
}

// WithVersion is reported as the telemetry service version.
func WithVersion(v string) Option {
	return func(s *settings) { s.version = v }
}

// Runtime owns every long-lived component built from a Config.
type Runtime struct {
	Config       *config.Config
	Logger       *slog.Logger
	Orchestrator *orchestrator.Orchestrator
	Metrics      *telemetry.Metrics

	level   *slog.LevelVar
	closers []func() error
	sweeper *Sweeper

	shutdownTelemetry telemetry.ShutdownFunc
}

// New builds a Runtime. On error every component opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	s := settings{logOutput: os.Stderr, version: "dev"}
	for _, opt := range opts {
		opt(&s)
	}

	level := new(slog.LevelVar)
	level.Set(telemetry.ParseLevel(cfg.Log.Level))
	logger := telemetry.NewLeveledLogger(s.logOutput, level, cfg.Log.Format)
	slog.SetDefault(logger)

	rt := &Runtime{Config: cfg, Logger: logger, level: level}
	ready := false
	defer func() {
		if !ready {
			_ = rt.Close(context.Background())
		}
	}()

	var err error
	rt.shutdownTelemetry, err = telemetry.Init(ctx, "chorus", s.version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	if rt.Metrics, err = telemetry.NewMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	ps, err := cfg.LoadPersonas()
	if err != nil {
		return nil, err
	}
	personas, err := persona.NewRegistry(ps...)
	if err != nil {
		return nil, err
	}
	defaultPersona, ok := personas.Get(cfg.Orchestrator.DefaultPersona)
	if !ok {
		defaultPersona = personas.All()[0]
	}

	// Chat and embedding requests share one client and its timeout.
	httpClient := &http.Client{Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second}
	backend := s.backend
	if backend == nil {
		backend = newBackend(cfg.LLM, httpClient)
	}
	backoff := resilience.DefaultBackoff().WithAttempts(cfg.LLM.RetryAttempts)

	summarizer := builtin.NewSummarizer(backend, defaultPersona.Model)
	summarizer.Length = cfg.Memory.SummaryLength

	store, err := rt.openStore(cfg.Memory, summarizer)
	if err != nil {
		return nil, err
	}

	respCache, err := cache.New(cfg.Cache.MaxEntries)
	if err != nil {
		return nil, err
	}

	var recall *vector.Memory
	if cfg.Vector.Enabled {
		embedder := llm.NewOllama(cfg.Vector.EmbedBaseURL, llm.WithHTTPClient(httpClient))
		if recall, err = rt.openVector(ctx, cfg.Vector, embedder, backoff); err != nil {
			return nil, err
		}
	}

	toolset := builtin.Tools(builtin.Options{
		DataDir:    cfg.Tools.DataDir,
		Enabled:    cfg.Tools.Enabled,
		Summarizer: summarizer,
		Memory:     recall,
	})
	toolset = append(toolset, rt.connectMCP(ctx, cfg.MCP)...)
	toolReg, err := tools.NewRegistry(toolset...)
	if err != nil {
		return nil, err
	}

	rt.Orchestrator, err = orchestrator.New(personas, toolReg, backend,
		orchestrator.WithDefaultPersona(cfg.Orchestrator.DefaultPersona),
		orchestrator.WithClassifier(orchestrator.Classifier{
			WordThreshold: cfg.Orchestrator.ComplexityWords,
			Keywords:      cfg.Orchestrator.ComplexityKeywords,
		}),
		orchestrator.WithCache(respCache),
		orchestrator.WithStore(store),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(rt.Metrics),
		orchestrator.WithBackoff(backoff),
		orchestrator.WithTemperature(cfg.LLM.Temperature),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("runtime.ready",
		slog.Int("personas", personas.Len()),
		slog.Int("tools", len(toolReg.Names())),
		slog.String("memory", cfg.Memory.Backend),
		slog.String("default_persona", rt.Orchestrator.DefaultPersona()),
	)
	ready = true
	return rt, nil
}

func newBackend(cfg config.LLMConfig, client *http.Client) llm.Backend {
	switch cfg.Provider {
	case "echo":
		return llm.EchoBackend{}
	default:
		return llm.NewOllama(cfg.BaseURL, llm.WithHTTPClient(client))
	}
}

func (r *Runtime) openStore(cfg config.MemoryConfig, summarizer memory.Summarizer) (*memory.Store, error) {
	var p memory.Persistence = memory.NewInMemory()
	if cfg.Backend == "sqlite" {
		db, err := memory.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open context store: %w", err)
		}
		p = db
	}
	store := memory.NewStore(p,
		memory.WithSummarizer(summarizer),
		memory.WithThreshold(cfg.SummarizeThreshold),
		memory.WithLogger(r.Logger),
	)
	r.closers = append(r.closers, store.Close)
	return store, nil
}

func (r *Runtime) openVector(ctx context.Context, cfg config.VectorConfig, ollama *llm.OllamaBackend, backoff resilience.Backoff) (*vector.Memory, error) {
	var store vector.Store = vector.NewLocalStore()
	if cfg.QdrantAddr != "" {
		q, err := vector.NewQdrant(cfg.QdrantAddr)
		if err != nil {
			return nil, fmt.Errorf("connect qdrant: %w", err)
		}
		r.closers = append(r.closers, q.Close)
		store = q
	}
	embed := vector.EmbedFunc(func(ctx context.Context, text string) ([]float32, error) {
		return ollama.Embed(ctx, cfg.EmbedModel, text)
	})
	mem := vector.NewMemory(store, embed, cfg.Collection, vector.WithBackoff(backoff))
	if err := mem.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("init vector memory: %w", err)
	}
	return mem, nil
}

// connectMCP starts every configured MCP server. A server that fails to start
// is logged and skipped.
func (r *Runtime) connectMCP(ctx context.Context, cfg config.MCPConfig) []tools.Tool {
	var out []tools.Tool
	for name, srv := range cfg.Servers {
		var opts []mcptool.ClientOption
		if srv.TimeoutSeconds > 0 {
			opts = append(opts, mcptool.WithTimeout(time.Duration(srv.TimeoutSeconds)*time.Second))
		}
		c, err := mcptool.Connect(ctx, name, srv.Command, srv.Args, srv.Env, opts...)
		if err != nil {
			r.Logger.Warn("runtime.mcp.connect.error", slog.String("server", name), slog.String("error", err.Error()))
			continue
		}
		r.closers = append(r.closers, c.Close)
		discovered, err := mcptool.Discover(ctx, c)
		if err != nil {
			r.Logger.Warn("runtime.mcp.discover.error", slog.String("server", name), slog.String("error", err.Error()))
			continue
		}
		r.Logger.Info("runtime.mcp.connected", slog.String("server", name), slog.Int("tools", len(discovered)))
		out = append(out, discovered...)
	}
	return out
}

// SetLogLevel changes the log level of every logger built by New.
func (r *Runtime) SetLogLevel(level string) {
	r.level.Set(telemetry.ParseLevel(level))
}

// Apply picks up the reloadable parts of cfg. Only the log level changes
// without a restart.
func (r *Runtime) Apply(cfg *config.Config) {
	if cfg.Log.Level != r.Config.Log.Level {
		r.Logger.Info("runtime.log_level", slog.String("from", r.Config.Log.Level), slog.String("to", cfg.Log.Level))
	}
	r.SetLogLevel(cfg.Log.Level)
}

// StartSweeper expires sessions through e every interval until Close.
func (r *Runtime) StartSweeper(e Expirer, interval, timeout time.Duration) {
	if r.sweeper != nil {
		r.sweeper.Stop()
	}
	r.sweeper = NewSweeper(interval, timeout, r.Logger)
	r.sweeper.Add(e)
	r.sweeper.Start()
}

// Close releases everything New opened, most recent first.
func (r *Runtime) Close(ctx context.Context) error {
	if r.sweeper != nil {
		r.sweeper.Stop()
		r.sweeper = nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	if r.shutdownTelemetry != nil {
		if err := r.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, err)
		}
		r.shutdownTelemetry = nil
	}
	return stderrors.Join(errs...)
}
