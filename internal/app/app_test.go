package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"paperchat/internal/config"
	"paperchat/internal/extract/pdftest"
	"paperchat/internal/rag"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.IndexBackend = backend
	cfg.UploadDir = t.TempDir()
	cfg.IndexDir = t.TempDir()
	cfg.EmbedDim = 256
	cfg.ProviderRPS = 0
	return cfg
}

func TestEndToEnd(t *testing.T) {
	for _, backend := range []string{"memory", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			a, err := New(ctx, testConfig(t, backend))
			require.NoError(t, err)
			defer a.Close()

			empty, err := a.Answerer.Ask(ctx, rag.AskRequest{Question: "How many participants were in the study?"})
			require.NoError(t, err)
			require.Equal(t, rag.NoResultsAnswer, empty.Answer)

			doc, err := a.Pipeline.Save(ctx, "study.pdf", bytes.NewReader(pdftest.Build("The experiment used 40 participants.")))
			require.NoError(t, err)
			_, err = a.Ingester.Process(ctx, doc.ID)
			require.NoError(t, err)

			ans, err := a.Answerer.Ask(ctx, rag.AskRequest{Question: "How many participants were in the study?"})
			require.NoError(t, err)
			require.True(t, strings.Contains(ans.Answer, "40"), ans.Answer)
			require.NotEmpty(t, ans.Citations)
			require.Equal(t, doc.ID, ans.Citations[0].DocumentID)
			require.Equal(t, 1, ans.Citations[0].Page)

			sum, err := a.Summarizer.Summarize(ctx, doc.ID)
			require.NoError(t, err)
			require.Contains(t, sum.Summary, "40 participants")
		})
	}
}

func TestBoltIndexSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "bolt")
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	doc, err := a.Pipeline.Save(ctx, "study.pdf", bytes.NewReader(pdftest.Build("The experiment used 40 participants.")))
	require.NoError(t, err)
	_, err = a.Ingester.Process(ctx, doc.ID)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()
	chunks, err := b.Index.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	docs, err := b.Pipeline.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
