package providers

import (
	"fmt"
	"strings"

	"paperchat/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

// Manager holds the configured chat providers, in failover order, and the
// single embedding provider that defines the index's vector space.
type Manager struct {
	llmProviders []NamedLLMProvider
	embedRef     ProviderRef
	embedder     EmbeddingProvider
}

func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{}
	for _, ref := range ParseProviderList(cfg.LLMProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: llm})
	}

	embedRefs := ParseProviderList(cfg.EmbedProvider)
	if len(embedRefs) == 0 {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	if len(embedRefs) > 1 {
		return nil, fmt.Errorf("exactly one embedding provider is supported, got %q", cfg.EmbedProvider)
	}
	p, err := buildProvider(embedRefs[0], cfg.EmbedDim)
	if err != nil {
		return nil, err
	}
	embed, ok := p.(EmbeddingProvider)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support embeddings", embedRefs[0].Raw)
	}
	m.embedRef, m.embedder = embedRefs[0], embed
	return m, nil
}

// NewStaticManager wires explicit providers, mainly for tests.
func NewStaticManager(embed EmbeddingProvider, llms ...NamedLLMProvider) *Manager {
	return &Manager{llmProviders: llms, embedRef: ProviderRef{Raw: "static", Name: "static"}, embedder: embed}
}

func (m *Manager) Embedder() (EmbeddingProvider, ProviderRef) {
	return m.embedder, m.embedRef
}

func (m *Manager) LLMProviderByIndex(i int) (LLMProvider, ProviderRef) {
	if i < 0 || i >= len(m.llmProviders) {
		i = 0
	}
	return m.llmProviders[i].Provider, m.llmProviders[i].Ref
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

// PreferredLLMOrder lists real providers before the mock fallback.
func (m *Manager) PreferredLLMOrder() []int {
	n := len(m.llmProviders)
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !strings.EqualFold(m.llmProviders[i].Ref.Name, "mock") {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if strings.EqualFold(m.llmProviders[i].Ref.Name, "mock") {
			out = append(out, i)
		}
	}
	return out
}

func (m *Manager) FindLLMProviderIndex(raw string) int {
	target := strings.ToLower(strings.TrimSpace(raw))
	if target == "" {
		return -1
	}
	for i, p := range m.llmProviders {
		if strings.ToLower(p.Ref.Raw) == target || strings.ToLower(p.Ref.Name) == target {
			return i
		}
	}
	return -1
}

func buildProvider(ref ProviderRef, dim int) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
