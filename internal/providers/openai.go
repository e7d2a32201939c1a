package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultSystemPrompt = "You answer questions about uploaded documents. Use only the supplied context and keep answers concise."

// OpenAIProvider uses the OpenAI REST API for chat and embeddings.
type OpenAIProvider struct {
	keyName    string
	apiKey     string
	baseURL    string
	chatModel  string
	embedModel string
	client     *http.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	return &OpenAIProvider{
		keyName:    keyName,
		apiKey:     resolveKey("PAPERCHAT_OPENAI_KEY_", "OPENAI_API_KEY", keyName),
		baseURL:    strings.TrimRight(getenvDefault("PAPERCHAT_OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		chatModel:  getenvDefault("PAPERCHAT_OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		embedModel: getenvDefault("PAPERCHAT_OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *OpenAIProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: "openai", Model: model, Key: o.keyName}
}

func (o *OpenAIProvider) EmbeddingModel() string {
	return "openai/" + o.embedModel
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := o.info(o.embedModel)
	if o.apiKey == "" {
		return nil, info, fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	body := map[string]any{"model": o.embedModel, "input": req.Inputs}
	if req.Dimension > 0 {
		body["dimensions"] = req.Dimension
	}
	raw, err := postJSON(ctx, o.client, "openai", o.baseURL+"/embeddings", o.apiKey, body)
	if err != nil {
		return nil, info, err
	}
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, info, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(req.Inputs) {
		return nil, info, fmt.Errorf("openai returned %d embeddings for %d inputs", len(parsed.Data), len(req.Inputs))
	}
	out := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, info, fmt.Errorf("openai embedding index %d out of range", d.Index)
		}
		out[d.Index] = matchDimension(d.Embedding, req.Dimension)
	}
	return out, info, nil
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := o.info(o.chatModel)
	if o.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	text, err := chatCompletion(ctx, o.client, "openai", o.baseURL, o.apiKey, o.chatModel, req)
	return GenerateResponse{Text: text}, info, err
}

// chatCompletion calls an OpenAI-compatible /chat/completions endpoint.
func chatCompletion(ctx context.Context, client *http.Client, provider, baseURL, apiKey, model string, req GenerateRequest) (string, error) {
	system := req.System
	if system == "" {
		system = defaultSystemPrompt
	}
	body := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": composePrompt(req)},
		},
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	raw, err := postJSON(ctx, client, provider, baseURL+"/chat/completions", apiKey, body)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode %s response: %w", provider, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s returned empty choices", provider)
	}
	return parsed.Choices[0].Message.Content, nil
}

func postJSON(ctx context.Context, client *http.Client, provider, url, apiKey string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", provider, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Provider: provider, Code: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func resolveKey(aliasPrefix, fallbackEnv, alias string) string {
	if alias != "" {
		if v := os.Getenv(aliasPrefix + sanitizeEnvToken(alias)); v != "" {
			return v
		}
	}
	return os.Getenv(fallbackEnv)
}

func getenvDefault(k, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return fallback
}
