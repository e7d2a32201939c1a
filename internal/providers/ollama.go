package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// OllamaProvider talks to a local Ollama server for embeddings and chat.
// Example embedding model: nomic-embed-text.
type OllamaProvider struct {
	alias      string
	baseURL    string
	embedModel string
	chatModel  string
	client     *http.Client
}

func NewOllamaProvider(alias string) *OllamaProvider {
	return &OllamaProvider{
		alias:      alias,
		baseURL:    strings.TrimRight(getenvDefault("PAPERCHAT_OLLAMA_BASE_URL", "http://localhost:11434"), "/"),
		embedModel: resolveOllamaEmbedModel(alias),
		chatModel:  getenvDefault("PAPERCHAT_OLLAMA_CHAT_MODEL", "llama3.1"),
		client:     &http.Client{Timeout: 90 * time.Second},
	}
}

func (o *OllamaProvider) EmbeddingModel() string {
	return "ollama/" + o.embedModel
}

func (o *OllamaProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.embedModel, Key: o.alias}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	out := make([][]float32, 0, len(req.Inputs))
	for _, text := range req.Inputs {
		raw, err := postJSON(ctx, o.client, "ollama", o.baseURL+"/api/embeddings", "", map[string]any{
			"model":  o.embedModel,
			"prompt": text,
		})
		if err != nil {
			return nil, info, err
		}
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, info, fmt.Errorf("decode ollama embedding response: %w", err)
		}
		if len(parsed.Embedding) == 0 {
			return nil, info, fmt.Errorf("ollama returned empty embedding")
		}
		out = append(out, matchDimension(parsed.Embedding, req.Dimension))
	}
	return out, info, nil
}

func (o *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.chatModel, Key: o.alias}
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	system := req.System
	if system == "" {
		system = defaultSystemPrompt
	}
	raw, err := postJSON(ctx, o.client, "ollama", o.baseURL+"/api/generate", "", map[string]any{
		"model":   o.chatModel,
		"system":  system,
		"prompt":  composePrompt(req),
		"stream":  false,
		"options": options,
	})
	if err != nil {
		return GenerateResponse{}, info, err
	}
	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return GenerateResponse{}, info, fmt.Errorf("decode ollama generate response: %w", err)
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return GenerateResponse{}, info, fmt.Errorf("ollama returned empty response")
	}
	return GenerateResponse{Text: parsed.Response}, info, nil
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		if v := strings.TrimSpace(os.Getenv("PAPERCHAT_OLLAMA_EMBED_MODEL_" + sanitizeEnvToken(alias))); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		}
		// ollama:nomic-embed-text names the model directly
		if strings.ContainsAny(alias, "-/.") {
			return alias
		}
	}
	return getenvDefault("PAPERCHAT_OLLAMA_EMBED_MODEL", "nomic-embed-text")
}

func sanitizeEnvToken(s string) string {
	return strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(strings.ToUpper(s))
}

func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
