package activities

import (
	"paperchat/internal/models"
	"paperchat/internal/util"
)

type PrepareDocumentInput struct {
	DocumentID string `json:"document_id"`
}

type PrepareDocumentOutput struct {
	PageCount int            `json:"page_count"`
	Chunks    []models.Chunk `json:"chunks"`
}

type IndexChunksInput struct {
	DocumentID string         `json:"document_id"`
	Chunks     []models.Chunk `json:"chunks"`
}

type UpdateDocumentStatusInput struct {
	DocumentID string                `json:"document_id"`
	Status     models.DocumentStatus `json:"status"`
	PageCount  int                   `json:"page_count"`
	ChunkCount int                   `json:"chunk_count"`
	Kind       util.Kind             `json:"kind,omitempty"`
	FailReason string                `json:"fail_reason,omitempty"`
}

type DocumentRef struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
}

type SnapshotDocumentsInput struct{}

type SnapshotDocumentsOutput struct {
	Documents []DocumentRef `json:"documents"`
}
