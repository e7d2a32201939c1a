package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"paperchat/internal/models"
	"paperchat/internal/util"
)

// FileRegistry keeps the document list in one JSON file, rewritten
// atomically on every change.
type FileRegistry struct {
	path string
	mu   sync.RWMutex
	docs map[string]models.Document
}

type registryFile struct {
	Documents []models.Document `json:"documents"`
}

func OpenFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path, docs: map[string]models.Document{}}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var f registryFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}
	for _, d := range f.Documents {
		r.docs[d.ID] = d
	}
	return r, nil
}

func (r *FileRegistry) Put(ctx context.Context, doc models.Document) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.docs[doc.ID]
	r.docs[doc.ID] = doc
	if err := r.flushLocked(); err != nil {
		if had {
			r.docs[doc.ID] = prev
		} else {
			delete(r.docs, doc.ID)
		}
		return err
	}
	return nil
}

func (r *FileRegistry) Get(ctx context.Context, id string) (models.Document, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return d, nil
}

func (r *FileRegistry) List(ctx context.Context) ([]models.Document, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), nil
}

func (r *FileRegistry) SetStatus(ctx context.Context, id string, u StatusUpdate) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	next := prev
	apply(&next, u, time.Now())
	r.docs[id] = next
	if err := r.flushLocked(); err != nil {
		r.docs[id] = prev
		return err
	}
	return nil
}

func (r *FileRegistry) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.docs[id]
	if !ok {
		return nil
	}
	delete(r.docs, id)
	if err := r.flushLocked(); err != nil {
		r.docs[id] = prev
		return err
	}
	return nil
}

func (r *FileRegistry) snapshotLocked() []models.Document {
	out := make([]models.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	sortDocuments(out)
	return out
}

func (r *FileRegistry) flushLocked() error {
	if err := util.WriteJSONAtomic(r.path, registryFile{Documents: r.snapshotLocked()}); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
