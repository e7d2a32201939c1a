package workflows

import "paperchat/internal/models"

type IngestDocumentInput struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename,omitempty"`
}

type ReprocessInput struct {
	RunID                 string `json:"run_id"`
	MaxConcurrentChildren int    `json:"max_concurrent_children"`
}

type DocumentProgress struct {
	DocumentID  string                `json:"document_id"`
	CurrentStep string                `json:"current_step"`
	Status      models.DocumentStatus `json:"status"`
	Steps       map[string]string     `json:"steps"`
	FailReason  string                `json:"fail_reason,omitempty"`
}

type ReprocessProgress struct {
	RunID       string            `json:"run_id"`
	Total       int               `json:"total"`
	Done        int               `json:"done"`
	Failed      int               `json:"failed"`
	PerDocument map[string]string `json:"per_document"`
}
