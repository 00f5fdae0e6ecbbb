package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jllopis/chorus/pkg/errors"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaBackend implements Backend against the Ollama chat API.
type OllamaBackend struct {
	baseURL string
	client  *http.Client
}

// OllamaOption configures an OllamaBackend.
type OllamaOption func(*OllamaBackend)

// WithHTTPClient replaces the HTTP client. Its Timeout bounds every request,
// streams included.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(o *OllamaBackend) {
		if c != nil {
			o.client = c
		}
	}
}

// NewOllama creates a new OllamaBackend.
func NewOllama(baseURL string, opts ...OllamaOption) *OllamaBackend {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	o := &OllamaBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ollamaEvent is one NDJSON line (streaming) or the whole body (non-streaming).
type ollamaEvent struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

func (p *OllamaBackend) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	oReq := ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages(),
		Stream:   stream,
	}
	if req.Temperature != 0 {
		oReq.Options = map[string]interface{}{
			"temperature": req.Temperature,
		}
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (p *OllamaBackend) do(httpReq *http.Request) (*http.Response, error) {
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "ollama api call failed", err).WithRecoverable(true)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.CodeLLMError,
			fmt.Sprintf("ollama api returned status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody)), nil).
			WithContext("status", resp.StatusCode).
			WithRecoverable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}
	return resp, nil
}

// Generate sends a non-streaming chat request.
func (p *OllamaBackend) Generate(ctx context.Context, req Request) (string, error) {
	httpReq, err := p.newRequest(ctx, req, false)
	if err != nil {
		return "", err
	}
	resp, err := p.do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var event ollamaEvent
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return "", errors.New(errors.CodeLLMError, "failed to decode ollama response", err)
	}
	if event.Error != "" {
		return "", errors.New(errors.CodeLLMError, event.Error, nil)
	}
	return event.Message.Content, nil
}

// Stream sends a streaming chat request and decodes the NDJSON body.
func (p *OllamaBackend) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	httpReq, err := p.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	resp, err := p.do(httpReq)
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk, 16)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		send := func(c StreamChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				var event ollamaEvent
				if jerr := json.Unmarshal(line, &event); jerr == nil {
					switch {
					case event.Error != "":
						send(StreamChunk{Err: errors.New(errors.CodeLLMError, event.Error, nil)})
						return
					case event.Message.Content != "":
						if !send(StreamChunk{Content: event.Message.Content}) {
							return
						}
					}
					if event.Done {
						send(StreamChunk{Done: true})
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					send(StreamChunk{Err: errors.New(errors.CodeLLMError, "ollama stream ended before completion", io.ErrUnexpectedEOF)})
				} else if ctx.Err() == nil {
					send(StreamChunk{Err: errors.New(errors.CodeLLMError, "ollama stream read failed", err)})
				}
				return
			}
		}
	}()

	return chunks, nil
}

// Ensure OllamaBackend implements Backend.
var _ Backend = (*OllamaBackend)(nil)
