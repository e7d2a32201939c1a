package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"paperchat/internal/models"
)

var bucketEntries = []byte("entries")

// boltLockTimeout bounds the wait for the file lock held by another process.
var boltLockTimeout = 2 * time.Second

// BoltStore persists each document's entries as one bbolt value and serves
// searches from an in-memory copy loaded at open.
type BoltStore struct {
	db    *bbolt.DB
	cache *MemoryStore
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: boltLockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt index: %w", err)
	}
	s := &BoltStore{db: db, cache: NewMemoryStore()}
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketEntries, err)
		}
		return b.ForEach(func(k, v []byte) error {
			var entries []Entry
			if err := json.Unmarshal(v, &entries); err != nil {
				return fmt.Errorf("decode entries for %s: %w", k, err)
			}
			s.cache.load(string(k), entries)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) Replace(ctx context.Context, documentID string, entries []Entry) error {
	_ = ctx
	stored := make([]Entry, len(entries))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for i, e := range entries {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			e.Seq = seq
			stored[i] = e
		}
		if len(stored) == 0 {
			return b.Delete([]byte(documentID))
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return b.Put([]byte(documentID), data)
	})
	if err != nil {
		return fmt.Errorf("write bolt entries for %s: %w", documentID, err)
	}
	s.cache.load(documentID, stored)
	return nil
}

func (s *BoltStore) Delete(ctx context.Context, documentID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(documentID))
	})
	if err != nil {
		return fmt.Errorf("delete bolt entries for %s: %w", documentID, err)
	}
	return s.cache.Delete(ctx, documentID)
}

func (s *BoltStore) Search(ctx context.Context, query []float32, modelID string, k int, filter Filter) ([]models.SearchResult, error) {
	return s.cache.Search(ctx, query, modelID, k, filter)
}

func (s *BoltStore) List(ctx context.Context, documentID string) ([]models.Chunk, error) {
	return s.cache.List(ctx, documentID)
}

func (s *BoltStore) Documents(ctx context.Context) ([]string, error) {
	return s.cache.Documents(ctx)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
