package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"paperchat/internal/models"
)

var ErrDocumentNotFound = errors.New("document not found")

// StatusUpdate records the outcome of an ingestion attempt.
type StatusUpdate struct {
	Status     models.DocumentStatus
	PageCount  int
	ChunkCount int
	FailReason string
}

// DocumentStore is the registry of uploaded documents. It is the source of
// truth for what exists; the vector index is derived from it.
type DocumentStore interface {
	Put(ctx context.Context, doc models.Document) error
	Get(ctx context.Context, id string) (models.Document, error)
	List(ctx context.Context) ([]models.Document, error)
	SetStatus(ctx context.Context, id string, u StatusUpdate) error
	Delete(ctx context.Context, id string) error
}

func apply(doc *models.Document, u StatusUpdate, at time.Time) {
	doc.Status = u.Status
	doc.FailReason = u.FailReason
	doc.ChunkCount = u.ChunkCount
	if u.PageCount > 0 {
		doc.PageCount = u.PageCount
	}
	if u.Status == models.StatusProcessed {
		t := at.UTC()
		doc.ProcessedAt = &t
	}
}

func sortDocuments(docs []models.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].UploadedAt.Before(docs[j].UploadedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}
