package providers

import (
	"context"
	"strings"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

// GenerateRequest is one chat completion. Context entries are appended to
// the prompt; Query carries the raw user question for providers that need it.
type GenerateRequest struct {
	Operation   string   `json:"operation"`
	System      string   `json:"system,omitempty"`
	Prompt      string   `json:"prompt"`
	Context     []string `json:"context"`
	Query       string   `json:"query,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

// EmbeddingProvider produces vectors. EmbeddingModel names the vector space
// so stored and query vectors can be checked for compatibility.
type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
	EmbeddingModel() string
}

func composePrompt(req GenerateRequest) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	return req.Prompt + "\n\nContext:\n" + strings.Join(req.Context, "\n\n")
}
