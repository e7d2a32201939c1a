package providers

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestMockEmbeddingIsNormalizedAndLexical(t *testing.T) {
	m := NewMockProvider(256)
	vecs, info, err := m.Embed(context.Background(), EmbedRequest{Inputs: []string{
		"The experiment used 40 participants.",
		"How many participants were in the study?",
		"Quarterly revenue grew in Europe.",
	}})
	require.NoError(t, err)
	require.Equal(t, "mock/bow-256", info.Model)
	require.InDelta(t, 1.0, math.Sqrt(dot(vecs[0], vecs[0])), 1e-5)
	require.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[2], vecs[1]))
}

func TestMockExtractiveAnswer(t *testing.T) {
	m := NewMockProvider(64)
	resp, _, err := m.Generate(context.Background(), GenerateRequest{
		Operation: OpAnswer,
		Query:     "How many participants were in the study?",
		Context: []string{
			"[C1] a.pdf page 2\nRevenue grew.",
			"[C2] b.pdf page 1\nThe experiment used 40 participants.",
		},
	})
	require.NoError(t, err)
	require.Contains(t, resp.Text, "40")
	require.Contains(t, resp.Text, "[C2]")
	require.NotContains(t, resp.Text, "[C1]")
}

func TestMockSummary(t *testing.T) {
	resp, _, err := NewMockProvider(8).Generate(context.Background(), GenerateRequest{
		Operation: OpSummary,
		Context:   []string{"One. Two. Three. Four."},
	})
	require.NoError(t, err)
	require.Equal(t, "One. Two. Three.", resp.Text)
}
