package vector

import (
	"context"
	"sort"
	"sync"

	"paperchat/internal/models"
)

// MemoryStore keeps every entry in process memory and searches by brute force.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]Entry
	seq  uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string][]Entry{}}
}

func (s *MemoryStore) Replace(ctx context.Context, documentID string, entries []Entry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Entry, len(entries))
	for i, e := range entries {
		s.seq++
		e.Seq = s.seq
		next[i] = e
	}
	s.putLocked(documentID, next)
	return nil
}

// load installs entries whose Seq was assigned elsewhere.
func (s *MemoryStore) load(documentID string, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.Seq > s.seq {
			s.seq = e.Seq
		}
	}
	s.putLocked(documentID, entries)
}

func (s *MemoryStore) putLocked(documentID string, entries []Entry) {
	if len(entries) == 0 {
		delete(s.docs, documentID)
		return
	}
	s.docs[documentID] = entries
}

func (s *MemoryStore) Delete(ctx context.Context, documentID string) error {
	_ = ctx
	s.mu.Lock()
	delete(s.docs, documentID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, query []float32, modelID string, k int, filter Filter) ([]models.SearchResult, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]models.SearchResult, 0, k)
	for id, entries := range s.docs {
		if !filter.allows(id) {
			continue
		}
		for _, e := range entries {
			if e.ModelID != modelID {
				continue
			}
			score, ok := cosine(query, e.Vector)
			if !ok {
				continue
			}
			results = append(results, models.SearchResult{Chunk: e.Chunk, Score: score, Seq: e.Seq})
		}
	}
	return rank(results, k), nil
}

func (s *MemoryStore) List(ctx context.Context, documentID string) ([]models.Chunk, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.docs[documentID]
	out := make([]models.Chunk, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Chunk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) Documents(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
