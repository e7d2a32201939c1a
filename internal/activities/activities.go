package activities

import (
	"context"
	"errors"
	"log"

	"go.temporal.io/sdk/temporal"

	"paperchat/internal/ingest"
	"paperchat/internal/models"
	"paperchat/internal/util"
)

// NonRetryableTypes are the error kinds a retry can never fix.
var NonRetryableTypes = []string{string(util.KindExtraction), string(util.KindUnknownDocument)}

type Activities struct {
	pipeline *ingest.Pipeline
}

func New(p *ingest.Pipeline) *Activities {
	return &Activities{pipeline: p}
}

func (a *Activities) PrepareDocumentActivity(ctx context.Context, in PrepareDocumentInput) (PrepareDocumentOutput, error) {
	prep, err := a.pipeline.Prepare(ctx, in.DocumentID)
	if err != nil {
		return PrepareDocumentOutput{}, applicationError(err)
	}
	return PrepareDocumentOutput{PageCount: prep.PageCount, Chunks: prep.Chunks}, nil
}

func (a *Activities) IndexChunksActivity(ctx context.Context, in IndexChunksInput) error {
	if err := a.pipeline.Index(ctx, in.DocumentID, in.Chunks); err != nil {
		return applicationError(err)
	}
	return nil
}

func (a *Activities) UpdateDocumentStatusActivity(ctx context.Context, in UpdateDocumentStatusInput) error {
	if in.Status == models.StatusProcessed {
		return a.pipeline.MarkProcessed(ctx, in.DocumentID, in.PageCount, in.ChunkCount)
	}
	kind := in.Kind
	if kind == "" {
		kind = util.KindIndexWrite
	}
	cause := util.E(kind, "workflow", errors.New(in.FailReason))
	log.Printf("[activities] document %s failed: %v", in.DocumentID, cause)
	return a.pipeline.MarkFailed(ctx, in.DocumentID, cause)
}

func (a *Activities) SnapshotDocumentsActivity(ctx context.Context, _ SnapshotDocumentsInput) (SnapshotDocumentsOutput, error) {
	docs, err := a.pipeline.Snapshot(ctx)
	if err != nil {
		return SnapshotDocumentsOutput{}, err
	}
	out := SnapshotDocumentsOutput{Documents: make([]DocumentRef, 0, len(docs))}
	for _, d := range docs {
		out.Documents = append(out.Documents, DocumentRef{DocumentID: d.ID, Filename: d.Filename})
	}
	return out, nil
}

func (a *Activities) WriteBatchReportActivity(ctx context.Context, batch ingest.BatchResult) error {
	_ = ctx
	return a.pipeline.WriteReport(batch)
}

// applicationError carries the error kind across the Temporal boundary as the
// application error type.
func applicationError(err error) error {
	kind := util.KindOf(err)
	if kind == "" {
		return err
	}
	if !util.Retryable(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
	}
	return temporal.NewApplicationError(err.Error(), string(kind), err)
}
