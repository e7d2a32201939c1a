package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"paperchat/internal/models"
)

// DocumentRepo is the Postgres-backed document registry.
type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Migrate(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS documents (
  document_id TEXT PRIMARY KEY,
  filename TEXT NOT NULL,
  uploaded_at TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL,
  page_count INT NOT NULL DEFAULT 0,
  chunk_count INT NOT NULL DEFAULT 0,
  fail_reason TEXT,
  processed_at TIMESTAMPTZ
)`)
	if err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

func (r *DocumentRepo) Put(ctx context.Context, d models.Document) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO documents (document_id, filename, uploaded_at, status, page_count, chunk_count, fail_reason, processed_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), $8)
ON CONFLICT (document_id)
DO UPDATE SET
  filename = EXCLUDED.filename,
  uploaded_at = EXCLUDED.uploaded_at,
  status = EXCLUDED.status,
  page_count = EXCLUDED.page_count,
  chunk_count = EXCLUDED.chunk_count,
  fail_reason = EXCLUDED.fail_reason,
  processed_at = EXCLUDED.processed_at`,
		d.ID, d.Filename, d.UploadedAt, string(d.Status), d.PageCount, d.ChunkCount, d.FailReason, d.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

const documentColumns = `document_id, filename, uploaded_at, status, page_count, chunk_count, COALESCE(fail_reason,''), processed_at`

func scanDocument(row pgx.Row) (models.Document, error) {
	var (
		d      models.Document
		status string
	)
	if err := row.Scan(&d.ID, &d.Filename, &d.UploadedAt, &status, &d.PageCount, &d.ChunkCount, &d.FailReason, &d.ProcessedAt); err != nil {
		return models.Document{}, err
	}
	d.Status = models.DocumentStatus(status)
	return d, nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (models.Document, error) {
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE document_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) List(ctx context.Context) ([]models.Document, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY uploaded_at ASC, document_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	out := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepo) SetStatus(ctx context.Context, id string, u StatusUpdate) error {
	var processedAt *time.Time
	if u.Status == models.StatusProcessed {
		t := time.Now().UTC()
		processedAt = &t
	}
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE documents
SET status=$2,
    page_count=CASE WHEN $3 > 0 THEN $3 ELSE page_count END,
    chunk_count=$4,
    fail_reason=NULLIF($5,''),
    processed_at=COALESCE($6, processed_at)
WHERE document_id=$1`, id, string(u.Status), u.PageCount, u.ChunkCount, u.FailReason, processedAt)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return nil
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE document_id=$1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
