package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jllopis/chorus/pkg/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

// Caller abstracts MCP tool execution for adapters.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

var invalidName = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// Adapter wraps an MCP tool definition as a tools.Tool. The command argument
// becomes the "input" field (or the only required field), and command params
// become further string fields.
type Adapter struct {
	tool   mcp.Tool
	name   string
	caller Caller
}

// NewAdapter builds an Adapter. The exposed name is the MCP name with
// characters outside [A-Za-z0-9_] replaced by underscores.
func NewAdapter(tool mcp.Tool, caller Caller) (*Adapter, error) {
	if tool.Name == "" {
		return nil, errors.New("mcp tool name is required")
	}
	if caller == nil {
		return nil, errors.New("tool caller is required")
	}
	return &Adapter{
		tool:   tool,
		name:   strings.ToLower(invalidName.ReplaceAllString(tool.Name, "_")),
		caller: caller,
	}, nil
}

// Name implements tools.Tool.
func (a *Adapter) Name() string { return a.name }

// Description implements tools.Tool.
func (a *Adapter) Description() string { return a.tool.Description }

// Execute implements tools.Tool.
func (a *Adapter) Execute(ctx context.Context, input string, params map[string]string) (string, error) {
	args := a.arguments(input, params)
	for _, key := range a.tool.InputSchema.Required {
		if _, ok := args[key]; !ok {
			return "", tools.Failure(a.name, fmt.Sprintf("missing required field %q", key))
		}
	}

	result, err := a.caller.CallTool(ctx, a.tool.Name, args)
	if err != nil {
		return "", err
	}
	return resultText(a.name, result)
}

func (a *Adapter) arguments(input string, params map[string]string) map[string]any {
	args := make(map[string]any, len(params)+1)
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			args = decoded
			trimmed = ""
		}
	}
	for k, v := range params {
		args[k] = v
	}
	if trimmed != "" {
		field := "input"
		if req := a.tool.InputSchema.Required; len(req) == 1 {
			field = req[0]
		}
		if _, set := args[field]; !set {
			args[field] = trimmed
		}
	}
	return args
}

func resultText(tool string, result *mcp.CallToolResult) (string, error) {
	if result == nil {
		return "", tools.Failure(tool, "empty result")
	}
	text := extractText(result.Content)
	if result.IsError {
		return "", tools.Failure(tool, text)
	}
	if text != "" {
		return text, nil
	}
	if result.StructuredContent != nil {
		out, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return "", nil
}

func extractText(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Discover lists the tools of c and wraps each as a tools.Tool.
func Discover(ctx context.Context, c *Client) ([]tools.Tool, error) {
	defs, err := c.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: list tools: %w", c.Name(), err)
	}
	out := make([]tools.Tool, 0, len(defs))
	for _, def := range defs {
		a, err := NewAdapter(def, c)
		if err != nil {
			return nil, fmt.Errorf("mcp %s: %w", c.Name(), err)
		}
		out = append(out, a)
	}
	return out, nil
}

var _ tools.Tool = (*Adapter)(nil)
