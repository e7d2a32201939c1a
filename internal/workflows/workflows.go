package workflows

import (
	"errors"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"paperchat/internal/activities"
	"paperchat/internal/ingest"
	"paperchat/internal/models"
	"paperchat/internal/util"
)

const (
	QueryGetDocumentStatus = "GetDocumentStatus"
	QueryGetProgress       = "GetProgress"
)

// IngestWorkflowID is shared by every run for a document so that two
// ingestions of the same document never overlap.
func IngestWorkflowID(documentID string) string {
	return "ingest-" + documentID
}

// IngestDocumentWorkflow prepares, indexes and marks one stored document.
// Failures are reported in the result; the workflow itself only errors when
// the status cannot be recorded.
func IngestDocumentWorkflow(ctx workflow.Context, input IngestDocumentInput) (ingest.Result, error) {
	status := DocumentProgress{
		DocumentID:  input.DocumentID,
		CurrentStep: "init",
		Status:      models.StatusPending,
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetDocumentStatus, func() (DocumentProgress, error) {
		return status, nil
	}); err != nil {
		return ingest.Result{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        20 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: activities.NonRetryableTypes,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	res := ingest.Result{DocumentID: input.DocumentID, Filename: input.Filename}

	fail := func(err error) (ingest.Result, error) {
		kind := errorKind(err)
		status.Status = models.StatusFailed
		status.FailReason = err.Error()
		status.Steps[status.CurrentStep] = "failed"
		if uerr := workflow.ExecuteActivity(ctx, "UpdateDocumentStatusActivity", activities.UpdateDocumentStatusInput{
			DocumentID: input.DocumentID,
			Status:     models.StatusFailed,
			Kind:       kind,
			FailReason: status.FailReason,
		}).Get(ctx, nil); uerr != nil {
			return ingest.Result{}, uerr
		}
		res.Status = models.StatusFailed
		res.Kind = kind
		res.Error = status.FailReason
		return res, nil
	}

	status.CurrentStep = "prepare"
	status.Steps[status.CurrentStep] = "processing"
	var prep activities.PrepareDocumentOutput
	if err := workflow.ExecuteActivity(ctx, "PrepareDocumentActivity", activities.PrepareDocumentInput{DocumentID: input.DocumentID}).Get(ctx, &prep); err != nil {
		return fail(err)
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "index_chunks"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "IndexChunksActivity", activities.IndexChunksInput{DocumentID: input.DocumentID, Chunks: prep.Chunks}).Get(ctx, nil); err != nil {
		return fail(err)
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "mark_processed"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "UpdateDocumentStatusActivity", activities.UpdateDocumentStatusInput{
		DocumentID: input.DocumentID,
		Status:     models.StatusProcessed,
		PageCount:  prep.PageCount,
		ChunkCount: len(prep.Chunks),
	}).Get(ctx, nil); err != nil {
		return ingest.Result{}, err
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = models.StatusProcessed

	res.Status = models.StatusProcessed
	res.PageCount = prep.PageCount
	res.ChunkCount = len(prep.Chunks)
	return res, nil
}

// ReprocessWorkflow re-ingests a snapshot of all documents, running child
// workflows in bounded batches.
func ReprocessWorkflow(ctx workflow.Context, input ReprocessInput) (ingest.BatchResult, error) {
	runID := input.RunID
	if runID == "" {
		runID = workflow.GetInfo(ctx).WorkflowExecution.RunID
	}
	progress := ReprocessProgress{RunID: runID, PerDocument: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (ReprocessProgress, error) {
		return progress, nil
	}); err != nil {
		return ingest.BatchResult{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	batch := ingest.BatchResult{RunID: runID, StartedAt: workflow.Now(ctx).UTC()}

	var snap activities.SnapshotDocumentsOutput
	if err := workflow.ExecuteActivity(ctx, "SnapshotDocumentsActivity", activities.SnapshotDocumentsInput{}).Get(ctx, &snap); err != nil {
		return batch, err
	}
	docs := snap.Documents
	progress.Total = len(docs)
	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}

	batch.Results = make([]ingest.Result, 0, len(docs))
	for i := 0; i < len(docs); i += maxChildren {
		end := min(i+maxChildren, len(docs))
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		for _, d := range docs[i:end] {
			progress.PerDocument[d.DocumentID] = "processing"
			futures = append(futures, startIngestChild(ctx, d))
		}
		for idx, f := range futures {
			d := docs[i+idx]
			res, err := awaitIngestChild(ctx, d, f)
			if err != nil {
				res = ingest.Result{
					DocumentID: d.DocumentID,
					Filename:   d.Filename,
					Status:     models.StatusFailed,
					Kind:       errorKind(err),
					Error:      err.Error(),
				}
			}
			if res.Status != models.StatusProcessed {
				progress.Failed++
			}
			progress.Done++
			progress.PerDocument[d.DocumentID] = string(res.Status)
			batch.Results = append(batch.Results, res)
		}
	}
	batch.FinishedAt = workflow.Now(ctx).UTC()
	batch.Tally()
	if err := workflow.ExecuteActivity(ctx, "WriteBatchReportActivity", batch).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("write batch report failed", "run", runID, "error", err)
	}
	return batch, nil
}

const (
	childStartRetries = 10
	childStartBackoff = 15 * time.Second
)

func startIngestChild(ctx workflow.Context, d activities.DocumentRef) workflow.ChildWorkflowFuture {
	childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:            IngestWorkflowID(d.DocumentID),
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	})
	return workflow.ExecuteChildWorkflow(childCtx, IngestDocumentWorkflow, IngestDocumentInput{
		DocumentID: d.DocumentID,
		Filename:   d.Filename,
	})
}

// awaitIngestChild waits for a child ingestion. When an upload ingestion of
// the same document holds the workflow id, it waits for that run to finish
// and then starts its own, so the snapshot still gets reprocessed.
func awaitIngestChild(ctx workflow.Context, d activities.DocumentRef, f workflow.ChildWorkflowFuture) (ingest.Result, error) {
	var res ingest.Result
	err := f.Get(ctx, &res)
	for attempt := 0; alreadyRunning(err) && attempt < childStartRetries; attempt++ {
		workflow.GetLogger(ctx).Info("ingestion already running, waiting", "document", d.DocumentID, "attempt", attempt+1)
		if serr := workflow.Sleep(ctx, childStartBackoff); serr != nil {
			return res, serr
		}
		res = ingest.Result{}
		err = startIngestChild(ctx, d).Get(ctx, &res)
	}
	return res, err
}

func alreadyRunning(err error) bool {
	var started *temporal.ChildWorkflowExecutionAlreadyStartedError
	return errors.As(err, &started)
}

func errorKind(err error) util.Kind {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch k := util.Kind(appErr.Type()); k {
		case util.KindExtraction, util.KindIndexWrite, util.KindSynthesis, util.KindUnknownDocument:
			return k
		}
	}
	if k := util.KindOf(err); k != "" {
		return k
	}
	return util.KindIndexWrite
}
