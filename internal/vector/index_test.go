package vector

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"paperchat/internal/models"
	"paperchat/internal/util"
)

// keywordEmbedder maps each text onto fixed axes by keyword.
type keywordEmbedder struct {
	mu    sync.Mutex
	model string
	fail  error
	calls int
}

var axes = []string{"apple", "banana", "cherry", "durian"}

func (e *keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(axes))
		for j, a := range axes {
			v[j] = float32(strings.Count(strings.ToLower(t), a))
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEmbedder) ModelID() string {
	if e.model == "" {
		return "keyword@4"
	}
	return e.model
}

func chunks(doc string, texts ...string) []models.Chunk {
	out := make([]models.Chunk, len(texts))
	for i, t := range texts {
		out[i] = models.Chunk{DocumentID: doc, Index: i, Page: 1, Start: i * 100, End: i*100 + len(t), Text: t}
	}
	return out
}

type IndexSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	emb      *keywordEmbedder
	index    *Index
	ctx      context.Context
}

func (s *IndexSuite) SetupTest() {
	s.ctx = context.Background()
	s.emb = &keywordEmbedder{}
	s.index = NewIndex(s.emb, s.newStore(s.T()))
}

func (s *IndexSuite) TearDownTest() {
	s.NoError(s.index.Close())
}

func (s *IndexSuite) TestEmptyIndexReturnsNoResults() {
	res, err := s.index.Query(s.ctx, "apple", 4, Filter{})
	s.Require().NoError(err)
	s.Empty(res)
}

func (s *IndexSuite) TestQueryOrdersByScoreAndLimitsK() {
	s.Require().NoError(s.index.Upsert(s.ctx, "d1", chunks("d1", "apple apple", "banana", "apple banana")))
	res, err := s.index.Query(s.ctx, "apple", 2, Filter{})
	s.Require().NoError(err)
	s.Require().Len(res, 2)
	s.Equal("apple apple", res[0].Chunk.Text)
	s.Equal("apple banana", res[1].Chunk.Text)
	s.GreaterOrEqual(res[0].Score, res[1].Score)

	res, err = s.index.Query(s.ctx, "apple", 10, Filter{})
	s.Require().NoError(err)
	s.Len(res, 3)
}

func (s *IndexSuite) TestTiesBreakByInsertionOrder() {
	s.Require().NoError(s.index.Upsert(s.ctx, "zzz", chunks("zzz", "cherry")))
	s.Require().NoError(s.index.Upsert(s.ctx, "aaa", chunks("aaa", "cherry")))
	for i := 0; i < 5; i++ {
		res, err := s.index.Query(s.ctx, "cherry", 2, Filter{})
		s.Require().NoError(err)
		s.Require().Len(res, 2)
		s.Equal("zzz", res[0].Chunk.DocumentID)
		s.Equal("aaa", res[1].Chunk.DocumentID)
	}
}

func (s *IndexSuite) TestFailedUpsertKeepsPreviousEntries() {
	s.Require().NoError(s.index.Upsert(s.ctx, "d1", chunks("d1", "durian")))
	s.emb.fail = errors.New("embedding service timeout")
	err := s.index.Upsert(s.ctx, "d1", chunks("d1", "banana", "banana"))
	s.True(util.IsKind(err, util.KindIndexWrite))

	s.emb.fail = nil
	got, err := s.index.Chunks(s.ctx, "d1")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("durian", got[0].Text)
}

func (s *IndexSuite) TestReplaceSwapsDocumentEntries() {
	s.Require().NoError(s.index.Upsert(s.ctx, "d1", chunks("d1", "apple", "banana")))
	s.Require().NoError(s.index.Upsert(s.ctx, "d1", chunks("d1", "cherry")))
	got, err := s.index.Chunks(s.ctx, "d1")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("cherry", got[0].Text)
	res, err := s.index.Query(s.ctx, "apple", 4, Filter{})
	s.Require().NoError(err)
	for _, r := range res {
		s.NotEqual("apple", r.Chunk.Text)
	}
}

func (s *IndexSuite) TestFilterAndModelMismatch() {
	s.Require().NoError(s.index.Upsert(s.ctx, "d1", chunks("d1", "apple")))
	s.Require().NoError(s.index.Upsert(s.ctx, "d2", chunks("d2", "apple")))
	res, err := s.index.Query(s.ctx, "apple", 4, Filter{DocumentIDs: []string{"d2"}})
	s.Require().NoError(err)
	s.Require().Len(res, 1)
	s.Equal("d2", res[0].Chunk.DocumentID)

	s.emb.model = "other@4"
	res, err = s.index.Query(s.ctx, "apple", 4, Filter{})
	s.Require().NoError(err)
	s.Empty(res)
}

func (s *IndexSuite) TestDeleteIsIdempotent() {
	s.Require().NoError(s.index.Upsert(s.ctx, "d1", chunks("d1", "apple")))
	s.Require().NoError(s.index.Delete(s.ctx, "d1"))
	s.Require().NoError(s.index.Delete(s.ctx, "d1"))
	s.Require().NoError(s.index.Delete(s.ctx, "never-ingested"))
	docs, err := s.index.Documents(s.ctx)
	s.Require().NoError(err)
	s.Empty(docs)
}

func TestMemoryIndex(t *testing.T) {
	suite.Run(t, &IndexSuite{newStore: func(t *testing.T) Store { return NewMemoryStore() }})
}

func TestBoltIndex(t *testing.T) {
	suite.Run(t, &IndexSuite{newStore: func(t *testing.T) Store {
		s, err := OpenBoltStore(filepath.Join(t.TempDir(), "index.db"))
		require.NoError(t, err)
		return s
	}})
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	emb := &keywordEmbedder{}

	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	idx := NewIndex(emb, s)
	require.NoError(t, idx.Upsert(ctx, "first", chunks("first", "banana")))
	require.NoError(t, idx.Upsert(ctx, "second", chunks("second", "banana")))
	require.NoError(t, idx.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	idx = NewIndex(emb, s)
	defer idx.Close()
	res, err := idx.Query(ctx, "banana", 2, Filter{})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "first", res[0].Chunk.DocumentID)

	require.NoError(t, idx.Upsert(ctx, "third", chunks("third", "banana")))
	res, err = idx.Query(ctx, "banana", 3, Filter{})
	require.NoError(t, err)
	require.Equal(t, "third", res[2].Chunk.DocumentID)
}

func TestBoltStoreLockedFileTimesOut(t *testing.T) {
	prev := boltLockTimeout
	boltLockTimeout = 100 * time.Millisecond
	t.Cleanup(func() { boltLockTimeout = prev })

	path := filepath.Join(t.TempDir(), "index.db")
	held, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer held.Close()

	done := make(chan error, 1)
	go func() {
		s, err := OpenBoltStore(path)
		if err == nil {
			s.Close()
		}
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorContains(t, err, "open bolt index")
	case <-time.After(3 * time.Second):
		t.Fatal("second open of a held index did not return")
	}
}

func TestConcurrentQueriesDuringUpsert(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(&keywordEmbedder{}, NewMemoryStore())
	require.NoError(t, idx.Upsert(ctx, "d1", chunks("d1", "apple", "apple", "apple")))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = idx.Upsert(ctx, "d1", chunks("d1", "apple", "apple", "apple"))
		}()
		go func() {
			defer wg.Done()
			res, err := idx.Query(ctx, "apple", 10, Filter{})
			require.NoError(t, err)
			require.Len(t, res, 3)
		}()
	}
	wg.Wait()
}
