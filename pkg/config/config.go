// Package config loads chorus settings from defaults, a YAML file and
// CHORUS_ environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/chorus/pkg/errors"
	"github.com/jllopis/chorus/pkg/persona"
)

// EnvPrefix marks the environment variables read by Load.
const EnvPrefix = "CHORUS_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	LLM          LLMConfig          `koanf:"llm"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Memory       MemoryConfig       `koanf:"memory"`
	Cache        CacheConfig        `koanf:"cache"`
	Personas     []persona.Persona  `koanf:"personas"`
	PersonasFile string             `koanf:"personas_file"`
	Tools        ToolsConfig        `koanf:"tools"`
	MCP          MCPConfig          `koanf:"mcp"`
	Vector       VectorConfig       `koanf:"vector"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Server       ServerConfig       `koanf:"server"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider       string  `koanf:"provider"` // ollama, echo
	BaseURL        string  `koanf:"base_url"`
	TimeoutSeconds int     `koanf:"timeout_seconds"`
	RetryAttempts  int     `koanf:"retry_attempts"`
	Temperature    float64 `koanf:"temperature"`
}

type OrchestratorConfig struct {
	DefaultPersona     string   `koanf:"default_persona"`
	ComplexityWords    int      `koanf:"complexity_words"`
	ComplexityKeywords []string `koanf:"complexity_keywords"`
}

type MemoryConfig struct {
	Backend            string `koanf:"backend"` // inmemory, sqlite
	Path               string `koanf:"path"`
	SummarizeThreshold int    `koanf:"summarize_threshold"`
	SummaryLength      string `koanf:"summary_length"` // short, medium, long
}

type CacheConfig struct {
	// MaxEntries bounds the response cache; 0 keeps every answer.
	MaxEntries int `koanf:"max_entries"`
}

type ToolsConfig struct {
	DataDir string   `koanf:"data_dir"`
	Enabled []string `koanf:"enabled"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig launches one MCP server over stdio.
type MCPServerConfig struct {
	Command        string   `koanf:"command"`
	Args           []string `koanf:"args"`
	Env            []string `koanf:"env"`
	TimeoutSeconds int      `koanf:"timeout_seconds"`
}

type VectorConfig struct {
	Enabled bool `koanf:"enabled"`
	// QdrantAddr selects Qdrant over gRPC; empty keeps vectors in process.
	QdrantAddr   string `koanf:"qdrant_addr"`
	Collection   string `koanf:"collection"`
	EmbedModel   string `koanf:"embed_model"`
	EmbedBaseURL string `koanf:"embed_base_url"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	Mode string `koanf:"mode"` // debug, release, test
	// SessionTTLSeconds drops sessions idle for longer; 0 keeps them forever.
	SessionTTLSeconds    int `koanf:"session_ttl_seconds"`
	SweepIntervalSeconds int `koanf:"sweep_interval_seconds"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"llm.provider":        "ollama",
	"llm.base_url":        "http://localhost:11434",
	"llm.timeout_seconds": 120,
	"llm.retry_attempts":  3,
	"llm.temperature":     0.7,

	"orchestrator.default_persona":     "generalist",
	"orchestrator.complexity_words":    10,
	"orchestrator.complexity_keywords": []string{"analyze", "complex", "plan"},

	"memory.backend":             "inmemory",
	"memory.path":                "chorus.db",
	"memory.summarize_threshold": 5,
	"memory.summary_length":      "short",

	"cache.max_entries": 0,

	"tools.data_dir": "data",

	"vector.enabled":        false,
	"vector.collection":     "chorus",
	"vector.embed_model":    "nomic-embed-text",
	"vector.embed_base_url": "http://localhost:11434",

	"telemetry.exporter": "none",

	"server.addr": ":8080",
	"server.mode": "release",

	"server.session_ttl_seconds":    3600,
	"server.sweep_interval_seconds": 60,
}

// listKeys hold comma separated values when set from env or overrides.
var listKeys = []string{"orchestrator.complexity_keywords", "tools.enabled"}

// topLevelKeys contain an underscore but no section.
var topLevelKeys = []string{"personas_file"}

// Options selects the sources Load reads.
type Options struct {
	// Path is the YAML config file. Empty uses defaults and env only.
	Path string
	// Profile merges <name>.<profile>.yaml next to Path when it exists.
	Profile string
	// Overrides are key=value pairs applied last (e.g. "llm.base_url=...").
	Overrides []string
}

// Load reads the configuration from path and the environment.
func Load(path string) (*Config, error) {
	return LoadWith(Options{Path: path})
}

// LoadWith reads the configuration: defaults, file, profile file, env and
// overrides, later sources winning.
func LoadWith(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeConfiguration, "read "+opts.Path, err)
		}
		if p := profileConfigPath(opts.Path, opts.Profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, errors.New(errors.CodeConfiguration, "read "+p, err)
			}
		}
	}

	// CHORUS_LLM_BASE_URL -> llm.base_url
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for _, o := range opts.Overrides {
		key, value, ok := strings.Cut(o, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.New(errors.CodeConfiguration, fmt.Sprintf("override %q is not key=value", o), nil)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if err := k.Set(key, listValue(key, value)); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeConfiguration, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if !slices.Contains(topLevelKeys, key) {
		key = strings.Replace(key, "_", ".", 1)
	}
	return key, listValue(key, value)
}

func listValue(key, value string) any {
	if !slices.Contains(listKeys, key) {
		return value
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// profileConfigPath returns config.<profile>.yaml beside base when it exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// Validate rejects settings the runtime cannot honor.
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return errors.New(errors.CodeConfiguration, fmt.Sprintf(format, args...), nil)
	}
	switch c.LLM.Provider {
	case "ollama", "echo":
	default:
		return bad("unknown llm.provider %q", c.LLM.Provider)
	}
	switch c.Memory.Backend {
	case "inmemory", "sqlite":
	default:
		return bad("unknown memory.backend %q", c.Memory.Backend)
	}
	if c.Memory.Backend == "sqlite" && c.Memory.Path == "" {
		return bad("memory.path is required for the sqlite backend")
	}
	switch c.Memory.SummaryLength {
	case "short", "medium", "long":
	default:
		return bad("unknown memory.summary_length %q", c.Memory.SummaryLength)
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return bad("unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.Exporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return bad("telemetry.otlp_endpoint is required for the otlp exporter")
	}
	if c.Cache.MaxEntries < 0 {
		return bad("cache.max_entries must not be negative")
	}
	for name, s := range c.MCP.Servers {
		if s.Command == "" {
			return bad("mcp server %q has no command", name)
		}
	}
	return nil
}

// LoadPersonas returns the persona roster: the inline list, else the
// personas file, else the built-in defaults.
func (c *Config) LoadPersonas() ([]persona.Persona, error) {
	if len(c.Personas) > 0 {
		return c.Personas, nil
	}
	if c.PersonasFile != "" {
		ps, err := persona.LoadFile(c.PersonasFile)
		if err != nil {
			return nil, errors.New(errors.CodeConfiguration, "load personas", err)
		}
		return ps, nil
	}
	return persona.Defaults(), nil
}
