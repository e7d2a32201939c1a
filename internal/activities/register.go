package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.PrepareDocumentActivity)
	w.RegisterActivity(a.IndexChunksActivity)
	w.RegisterActivity(a.UpdateDocumentStatusActivity)
	w.RegisterActivity(a.SnapshotDocumentsActivity)
	w.RegisterActivity(a.WriteBatchReportActivity)
}
