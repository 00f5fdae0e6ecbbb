// Package mcptool exposes the tools of MCP servers as chorus tools.
package mcptool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jllopis/chorus/pkg/resilience"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const defaultTimeout = 10 * time.Second

// ClientOption customizes Client behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithBackoff sets the retry policy for list and call requests.
func WithBackoff(b resilience.Backoff) ClientOption {
	return func(c *Client) { c.backoff = b }
}

// Client wraps an mcp-go client with timeouts and retries.
type Client struct {
	name      string
	mcpClient client.MCPClient
	timeout   time.Duration
	backoff   resilience.Backoff
}

// NewClient wraps an initialized MCP client. name identifies the server in
// logs and errors.
func NewClient(name string, c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		name:      name,
		mcpClient: c,
		timeout:   defaultTimeout,
		backoff:   resilience.DefaultBackoff(),
	}
	cl.backoff.Retryable = retryable
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// Connect launches command as a stdio MCP server and initializes the session.
func Connect(ctx context.Context, name, command string, args []string, env []string, opts ...ClientOption) (*Client, error) {
	stdio, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: start: %w", name, err)
	}
	if err := stdio.Start(ctx); err != nil {
		stdio.Close()
		return nil, fmt.Errorf("mcp %s: start: %w", name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "chorus",
		Version: "0.1.0",
	}
	if _, err := stdio.Initialize(initCtx, initRequest); err != nil {
		stdio.Close()
		return nil, fmt.Errorf("mcp %s: initialize: %w", name, err)
	}
	return NewClient(name, stdio, opts...), nil
}

// Name returns the server name.
func (c *Client) Name() string { return c.name }

// ListTools retrieves the tools available on the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := resilience.Retry(ctx, c.backoff, func(ctx context.Context) (*mcp.ListToolsResult, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		return c.mcpClient.ListTools(reqCtx, mcp.ListToolsRequest{})
	})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	return resilience.Retry(ctx, c.backoff, func(ctx context.Context) (*mcp.CallToolResult, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		return c.mcpClient.CallTool(reqCtx, req)
	})
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
