package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"paperchat/internal/models"
)

type pgConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore keeps entries in a pgvector table and lets Postgres rank them.
// The bigserial id doubles as the insertion sequence.
type PGStore struct {
	db  pgConn
	dim int
}

func NewPGStore(db pgConn, dim int) *PGStore {
	return &PGStore{db: db, dim: dim}
}

func (s *PGStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
  id BIGSERIAL PRIMARY KEY,
  document_id TEXT NOT NULL,
  chunk_index INT NOT NULL,
  page INT NOT NULL,
  start_offset INT NOT NULL,
  end_offset INT NOT NULL,
  text TEXT NOT NULL,
  model_id TEXT NOT NULL,
  embedding vector(%d) NOT NULL
)`, s.dim),
		`CREATE INDEX IF NOT EXISTS chunk_embeddings_document_idx ON chunk_embeddings (document_id, chunk_index)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate chunk_embeddings: %w", err)
		}
	}
	return nil
}

func (s *PGStore) Replace(ctx context.Context, documentID string, entries []Entry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx replace %s: %w", documentID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunk_embeddings WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete old entries for %s: %w", documentID, err)
	}
	for _, e := range entries {
		c := e.Chunk
		_, err := tx.Exec(ctx, `
INSERT INTO chunk_embeddings (document_id, chunk_index, page, start_offset, end_offset, text, model_id, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			documentID, c.Index, c.Page, c.Start, c.End, c.Text, e.ModelID, pgvector.NewVector(e.Vector),
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s/%d: %w", documentID, c.Index, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace %s: %w", documentID, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, documentID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chunk_embeddings WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete entries for %s: %w", documentID, err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, query []float32, modelID string, k int, filter Filter) ([]models.SearchResult, error) {
	args := []any{pgvector.NewVector(query), modelID, k}
	filterSQL := ""
	if len(filter.DocumentIDs) > 0 {
		filterSQL = " AND document_id = ANY($4)"
		args = append(args, filter.DocumentIDs)
	}
	rows, err := s.db.Query(ctx, `
SELECT id, document_id, chunk_index, page, start_offset, end_offset, text,
       1 - (embedding <=> $1) AS score
FROM chunk_embeddings
WHERE model_id = $2`+filterSQL+`
ORDER BY embedding <=> $1, id
LIMIT $3`, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.SearchResult, 0, k)
	for rows.Next() {
		var (
			r  models.SearchResult
			id int64
		)
		c := &r.Chunk
		if err := rows.Scan(&id, &c.DocumentID, &c.Index, &c.Page, &c.Start, &c.End, &c.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Seq = uint64(id)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

func (s *PGStore) List(ctx context.Context, documentID string) ([]models.Chunk, error) {
	rows, err := s.db.Query(ctx, `
SELECT document_id, chunk_index, page, start_offset, end_offset, text
FROM chunk_embeddings
WHERE document_id = $1
ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", documentID, err)
	}
	defer rows.Close()
	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.DocumentID, &c.Index, &c.Page, &c.Start, &c.End, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) Documents(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT document_id FROM chunk_embeddings ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("list indexed documents: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close is a no-op; the pool belongs to the caller.
func (s *PGStore) Close() error { return nil }
