package workflows

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"

	"paperchat/internal/ingest"
	"paperchat/internal/models"
	"paperchat/internal/util"
)

// Dispatcher runs ingestion on Temporal workers and waits for the outcome.
type Dispatcher struct {
	client      tclient.Client
	taskQueue   string
	parallelism int
}

var _ ingest.Ingester = (*Dispatcher)(nil)

func NewDispatcher(c tclient.Client, taskQueue string, parallelism int) *Dispatcher {
	return &Dispatcher{client: c, taskQueue: taskQueue, parallelism: parallelism}
}

// Process starts (or joins a running) ingestion of one document.
func (d *Dispatcher) Process(ctx context.Context, documentID string) (ingest.Result, error) {
	we, err := d.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                    IngestWorkflowID(documentID),
		TaskQueue:             d.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, IngestDocumentWorkflow, IngestDocumentInput{DocumentID: documentID})
	if err != nil {
		return ingest.Result{}, fmt.Errorf("start ingest workflow: %w", err)
	}
	var res ingest.Result
	if err := we.Get(ctx, &res); err != nil {
		return ingest.Result{}, fmt.Errorf("ingest workflow %s: %w", we.GetID(), err)
	}
	if res.Status != models.StatusProcessed {
		return res, util.E(res.Kind, "ingest workflow", errors.New(res.Error))
	}
	return res, nil
}

// Reprocess runs ReprocessWorkflow to completion. Progress is reported once
// the batch is done since results come back together.
func (d *Dispatcher) Reprocess(ctx context.Context, progress ingest.ProgressFunc) (ingest.BatchResult, error) {
	runID := ingest.NewRunID()
	we, err := d.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       "reprocess-" + runID,
		TaskQueue:                                d.taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, ReprocessWorkflow, ReprocessInput{RunID: runID, MaxConcurrentChildren: d.parallelism})
	if err != nil {
		return ingest.BatchResult{RunID: runID}, fmt.Errorf("start reprocess workflow: %w", err)
	}
	var batch ingest.BatchResult
	if err := we.Get(ctx, &batch); err != nil {
		return ingest.BatchResult{RunID: runID}, fmt.Errorf("reprocess workflow %s: %w", we.GetID(), err)
	}
	if progress != nil {
		for i, r := range batch.Results {
			progress(i+1, len(batch.Results), r)
		}
	}
	return batch, nil
}
