package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"

	"paperchat/internal/util"
)

const (
	OpAnswer  = "rag_answer"
	OpSummary = "summary"
)

// MockProvider runs offline. Embeddings are hashed bags of words, so texts
// sharing vocabulary land close together; answers are extractive.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) EmbeddingModel() string {
	return fmt.Sprintf("mock/bow-%d", m.dim)
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, bagOfWordsVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: m.EmbeddingModel(), Key: "mock"}, nil
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	_ = ctx
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	switch req.Operation {
	case OpAnswer:
		return GenerateResponse{Text: extractiveAnswer(req.Query, req.Context)}, info, nil
	case OpSummary:
		return GenerateResponse{Text: leadSentences(strings.Join(req.Context, " "), 3)}, info, nil
	default:
		return GenerateResponse{Text: "Mock response."}, info, nil
	}
}

// extractiveAnswer quotes the context entry sharing the most terms with the
// question and marks it with its [Cn] label.
func extractiveAnswer(query string, contexts []string) string {
	terms := util.QueryTerms(query)
	best, bestScore := -1, 0
	for i, c := range contexts {
		low := strings.ToLower(contextBody(c))
		score := 0
		for _, term := range terms {
			if strings.Contains(low, term) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return "The provided documents do not contain an answer to this question."
	}
	snippet := util.EvidenceSnippet(contextBody(contexts[best]), query, 300)
	return snippet + " [C" + strconv.Itoa(best+1) + "]"
}

// contextBody drops the "[Cn] source" header line the answerer prepends.
func contextBody(c string) string {
	if strings.HasPrefix(c, "[C") {
		if i := strings.IndexByte(c, '\n'); i >= 0 {
			return c[i+1:]
		}
	}
	return c
}

func leadSentences(text string, n int) string {
	sentences := util.SplitSentences(util.Snippet(text, 4000))
	if len(sentences) == 0 {
		return "The document has no summarizable text."
	}
	if len(sentences) > n {
		sentences = sentences[:n]
	}
	return strings.Join(sentences, " ")
}

func bagOfWordsVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	for _, term := range util.QueryTerms(input) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(dim)] += sign
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
