package activities

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"paperchat/internal/chunker"
	"paperchat/internal/extract/pdftest"
	"paperchat/internal/ingest"
	"paperchat/internal/models"
	"paperchat/internal/providers"
	"paperchat/internal/storage"
	"paperchat/internal/util"
	"paperchat/internal/vector"
)

func newPipeline(t *testing.T) *ingest.Pipeline {
	t.Helper()
	dir := t.TempDir()
	gw := providers.NewGateway(providers.NewStaticManager(providers.NewMockProvider(64)),
		providers.GatewayOptions{Concurrency: 1, Timeout: time.Second, Dimension: 64})
	docs, err := storage.OpenFileRegistry(filepath.Join(dir, "documents.json"))
	require.NoError(t, err)
	return ingest.NewPipeline(docs, vector.NewIndex(gw, vector.NewMemoryStore()), ingest.Options{
		UploadDir: filepath.Join(dir, "uploads"),
		Chunking:  chunker.Options{Size: 100, Overlap: 20},
	})
}

func TestActivitiesRoundTrip(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	p := newPipeline(t)
	a := New(p)
	env.RegisterActivity(a)

	doc, err := p.Save(context.Background(), "study.pdf", bytes.NewReader(pdftest.Build("The experiment used 40 participants.")))
	require.NoError(t, err)

	val, err := env.ExecuteActivity(a.PrepareDocumentActivity, PrepareDocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	var prep PrepareDocumentOutput
	require.NoError(t, val.Get(&prep))
	require.Equal(t, 1, prep.PageCount)
	require.Len(t, prep.Chunks, 1)

	_, err = env.ExecuteActivity(a.IndexChunksActivity, IndexChunksInput{DocumentID: doc.ID, Chunks: prep.Chunks})
	require.NoError(t, err)
	_, err = env.ExecuteActivity(a.UpdateDocumentStatusActivity, UpdateDocumentStatusInput{
		DocumentID: doc.ID, Status: models.StatusProcessed, PageCount: 1, ChunkCount: 1,
	})
	require.NoError(t, err)

	got, err := p.Document(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessed, got.Status)

	val, err = env.ExecuteActivity(a.SnapshotDocumentsActivity, SnapshotDocumentsInput{})
	require.NoError(t, err)
	var snap SnapshotDocumentsOutput
	require.NoError(t, val.Get(&snap))
	require.Equal(t, []DocumentRef{{DocumentID: doc.ID, Filename: "study.pdf"}}, snap.Documents)
}

func TestPrepareExtractionErrorIsNonRetryable(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	p := newPipeline(t)
	a := New(p)
	env.RegisterActivity(a)

	doc, err := p.Save(context.Background(), "scan.pdf", bytes.NewReader(pdftest.Build("")))
	require.NoError(t, err)

	_, err = env.ExecuteActivity(a.PrepareDocumentActivity, PrepareDocumentInput{DocumentID: doc.ID})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, string(util.KindExtraction), appErr.Type())
	require.True(t, appErr.NonRetryable())
}
