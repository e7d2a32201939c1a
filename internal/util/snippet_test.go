package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnippetCollapsesWhitespace(t *testing.T) {
	out := Snippet("Hello\x00   world \n\t again", 100)
	require.Equal(t, "Hello world again", out)
	require.True(t, strings.HasSuffix(Snippet(strings.Repeat("x", 50), 10), "..."))
}

func TestEvidenceSnippetPrefersMatchingSentence(t *testing.T) {
	text := "This paper studies edge computing in cloud schedulers. It evaluates latency reduction for edge workloads. Unrelated appendix text."
	out := EvidenceSnippet(text, "What are edge workload latency results?", 200)
	require.Contains(t, strings.ToLower(out), "latency")
	require.NotContains(t, out, "appendix")
}

func TestQueryTermsDropsStopWordsAndPlurals(t *testing.T) {
	require.Equal(t, []string{"participant"}, QueryTerms("How many participants were in the study?"))
}
