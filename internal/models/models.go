package models

import "time"

type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusProcessed DocumentStatus = "processed"
	StatusFailed    DocumentStatus = "failed"
)

type Document struct {
	ID          string         `json:"document_id"`
	Filename    string         `json:"filename"`
	UploadedAt  time.Time      `json:"uploaded_at"`
	Status      DocumentStatus `json:"status"`
	PageCount   int            `json:"page_count"`
	ChunkCount  int            `json:"chunk_count"`
	FailReason  string         `json:"fail_reason,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// Chunk offsets are rune offsets into the document's joined page text.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Page       int    `json:"page"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
}

type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
	Seq   uint64  `json:"-"`
}

// Citation points at a retrieved chunk. Ref is the [Cn] marker used in the answer.
type Citation struct {
	Ref        string `json:"ref"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename,omitempty"`
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// Page is the extracted text layer of one PDF page. Numbers start at 1.
type Page struct {
	Number int    `json:"page"`
	Text   string `json:"text"`
}
