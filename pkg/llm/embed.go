package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jllopis/chorus/pkg/errors"
)

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed returns the embedding of text under model. It goes through the same
// client and error mapping as chat requests, so transport failures and 5xx
// answers come back as recoverable LLM_ERRORs.
func (p *OllamaBackend) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.do(httpReq)
	if err != nil {
		return nil, errors.As(err).WithContext("model", model)
	}
	defer resp.Body.Close()

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to decode ollama embedding", err)
	}
	if out.Error != "" {
		return nil, errors.New(errors.CodeLLMError, out.Error, nil).WithContext("model", model)
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New(errors.CodeLLMError, "ollama returned an empty embedding", nil).WithContext("model", model)
	}

	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
