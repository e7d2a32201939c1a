package vector

import (
	"context"
	"math"
	"sort"

	"paperchat/internal/models"
)

// Entry is one stored chunk with its embedding. Seq records insertion order
// and breaks score ties, earliest first.
type Entry struct {
	Chunk   models.Chunk `json:"chunk"`
	Vector  []float32    `json:"vector"`
	ModelID string       `json:"model_id"`
	Seq     uint64       `json:"seq"`
}

type Filter struct {
	DocumentIDs []string
}

func (f Filter) allows(documentID string) bool {
	if len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// Store persists entries per document. Replace swaps a document's entries
// in one step: readers see either the old set or the new one.
type Store interface {
	Replace(ctx context.Context, documentID string, entries []Entry) error
	Delete(ctx context.Context, documentID string) error
	Search(ctx context.Context, query []float32, modelID string, k int, filter Filter) ([]models.SearchResult, error)
	List(ctx context.Context, documentID string) ([]models.Chunk, error)
	Documents(ctx context.Context) ([]string, error)
	Close() error
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, true
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

// rank orders by score descending then Seq ascending and keeps k.
func rank(results []models.SearchResult, k int) []models.SearchResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Seq < results[j].Seq
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
