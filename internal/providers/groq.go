package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GroqProvider supports LLM generation via Groq's OpenAI-compatible API.
type GroqProvider struct {
	keyName string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewGroqProvider(keyName string) *GroqProvider {
	return &GroqProvider{
		keyName: keyName,
		apiKey:  resolveKey("PAPERCHAT_GROQ_KEY_", "GROQ_API_KEY", keyName),
		baseURL: strings.TrimRight(getenvDefault("PAPERCHAT_GROQ_BASE_URL", "https://api.groq.com/openai/v1"), "/"),
		model:   getenvDefault("PAPERCHAT_GROQ_MODEL", "llama-3.1-8b-instant"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *GroqProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "groq", Key: g.keyName, Model: g.model}
	if g.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("groq key missing for alias %q", g.keyName)
	}
	text, err := chatCompletion(ctx, g.client, "groq", g.baseURL, g.apiKey, g.model, req)
	return GenerateResponse{Text: text}, info, err
}
