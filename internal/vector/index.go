package vector

import (
	"context"
	"fmt"

	"paperchat/internal/models"
	"paperchat/internal/util"
)

// Embedder turns texts into vectors. ModelID identifies the vector space;
// queries only match entries written under the same ModelID.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

type Index struct {
	emb   Embedder
	store Store
	locks *util.KeyedMutex
}

func NewIndex(emb Embedder, store Store) *Index {
	return &Index{emb: emb, store: store, locks: util.NewKeyedMutex()}
}

// Upsert embeds every chunk first and only then swaps the document's entries,
// so a failed embedding leaves earlier entries untouched and visible.
func (x *Index) Upsert(ctx context.Context, documentID string, chunks []models.Chunk) error {
	const op = "index upsert"
	unlock := x.locks.Lock(documentID)
	defer unlock()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	var vecs [][]float32
	if len(texts) > 0 {
		var err error
		vecs, err = x.emb.Embed(ctx, texts)
		if err != nil {
			return util.E(util.KindIndexWrite, op, fmt.Errorf("embed %s: %w", documentID, err))
		}
	}
	if len(vecs) != len(chunks) {
		return util.E(util.KindIndexWrite, op, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks)))
	}

	model := x.emb.ModelID()
	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		if len(vecs[i]) == 0 {
			return util.E(util.KindIndexWrite, op, fmt.Errorf("empty vector for chunk %d", c.Index))
		}
		c.DocumentID = documentID
		entries[i] = Entry{Chunk: c, Vector: vecs[i], ModelID: model}
	}
	if err := x.store.Replace(ctx, documentID, entries); err != nil {
		return util.E(util.KindIndexWrite, op, err)
	}
	return nil
}

// Query returns up to k entries most similar to text. An empty index yields
// an empty result, not an error.
func (x *Index) Query(ctx context.Context, text string, k int, filter Filter) ([]models.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	vecs, err := x.emb.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	results, err := x.store.Search(ctx, vecs[0], x.emb.ModelID(), k, filter)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return results, nil
}

// Delete is idempotent.
func (x *Index) Delete(ctx context.Context, documentID string) error {
	unlock := x.locks.Lock(documentID)
	defer unlock()
	if err := x.store.Delete(ctx, documentID); err != nil {
		return util.E(util.KindIndexWrite, "index delete", err)
	}
	return nil
}

// Chunks returns a document's chunks in sequence order.
func (x *Index) Chunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	return x.store.List(ctx, documentID)
}

func (x *Index) Documents(ctx context.Context) ([]string, error) {
	return x.store.Documents(ctx)
}

func (x *Index) ModelID() string {
	return x.emb.ModelID()
}

func (x *Index) Close() error {
	return x.store.Close()
}
