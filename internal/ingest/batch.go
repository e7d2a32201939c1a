package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"paperchat/internal/models"
	"paperchat/internal/util"
)

// Result is the outcome of ingesting one document.
type Result struct {
	DocumentID string                `json:"document_id"`
	Filename   string                `json:"filename"`
	Status     models.DocumentStatus `json:"status"`
	PageCount  int                   `json:"page_count"`
	ChunkCount int                   `json:"chunk_count"`
	Kind       util.Kind             `json:"kind,omitempty"`
	Error      string                `json:"error,omitempty"`
}

func (r Result) failed(err error) Result {
	r.Status = models.StatusFailed
	r.Kind = util.KindOf(err)
	r.Error = err.Error()
	return r
}

// BatchResult reports a reprocess run. Results follow the snapshot order.
type BatchResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Results    []Result  `json:"results"`
}

// Tally fills Succeeded and Failed from Results.
func (b *BatchResult) Tally() {
	b.Succeeded, b.Failed = 0, 0
	for _, r := range b.Results {
		if r.Status == models.StatusProcessed {
			b.Succeeded++
		} else {
			b.Failed++
		}
	}
}

// ProgressFunc is called once per finished document.
type ProgressFunc func(done, total int, r Result)

func NewRunID() string {
	return uuid.NewString()
}

// Snapshot returns the documents a reprocess run covers: everything in the
// registry plus PDFs found in the upload directory that are not tracked yet,
// which get registered on the way.
func (p *Pipeline) Snapshot(ctx context.Context) ([]models.Document, error) {
	docs, err := p.docs.List(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(docs))
	for _, d := range docs {
		known[d.ID] = true
	}
	found, err := p.untracked(known)
	if err != nil {
		return nil, err
	}
	for _, path := range found {
		doc, err := p.adopt(ctx, path)
		if err != nil {
			log.Printf("[ingest] skip untracked %s: %v", path, err)
			continue
		}
		if !known[doc.ID] {
			known[doc.ID] = true
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (p *Pipeline) untracked(known map[string]bool) ([]string, error) {
	if _, err := os.Stat(p.opts.UploadDir); os.IsNotExist(err) {
		return nil, nil
	}
	var out []string
	err := doublestar.GlobWalk(os.DirFS(p.opts.UploadDir), "**/*.{pdf,PDF}", func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if !strings.Contains(path, "/") && known[strings.TrimSuffix(base, filepath.Ext(base))] {
			return nil
		}
		out = append(out, filepath.Join(p.opts.UploadDir, filepath.FromSlash(path)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan upload dir: %w", err)
	}
	return out, nil
}

// adopt moves a PDF dropped into the upload directory under its content id.
func (p *Pipeline) adopt(ctx context.Context, path string) (models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Document{}, err
	}
	doc, err := p.Save(ctx, filepath.Base(path), f)
	_ = f.Close()
	if err != nil {
		return models.Document{}, err
	}
	if path != p.Path(doc.ID) {
		if err := os.Remove(path); err != nil {
			log.Printf("[ingest] remove adopted %s: %v", path, err)
		}
	}
	return doc, nil
}

// Reprocess re-runs ingestion for a snapshot of all documents with bounded
// parallelism. Each document is replaced atomically on its own; one failure
// never affects the others.
func (p *Pipeline) Reprocess(ctx context.Context, progress ProgressFunc) (BatchResult, error) {
	batch := BatchResult{RunID: NewRunID(), StartedAt: p.now().UTC()}
	docs, err := p.Snapshot(ctx)
	if err != nil {
		return batch, err
	}
	log.Printf("[ingest] reprocess run=%s documents=%d", batch.RunID, len(docs))

	batch.Results = make([]Result, len(docs))
	var (
		mu   sync.Mutex
		done int
	)
	g := new(errgroup.Group)
	g.SetLimit(p.opts.Parallelism)
	for i, d := range docs {
		g.Go(func() error {
			res, err := p.Process(ctx, d.ID)
			if res.Filename == "" {
				res.Filename = d.Filename
			}
			if err != nil && res.Error == "" {
				res = res.failed(err)
			}
			mu.Lock()
			batch.Results[i] = res
			done++
			if progress != nil {
				progress(done, len(docs), res)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	batch.FinishedAt = p.now().UTC()
	batch.Tally()
	if err := p.WriteReport(batch); err != nil {
		log.Printf("[ingest] write report run=%s: %v", batch.RunID, err)
	}
	log.Printf("[ingest] reprocess run=%s succeeded=%d failed=%d", batch.RunID, batch.Succeeded, batch.Failed)
	return batch, ctx.Err()
}

// WriteReport stores the batch outcome as runs/<run_id>.json under the report
// directory. It is a no-op when no report directory is configured.
func (p *Pipeline) WriteReport(batch BatchResult) error {
	if p.opts.ReportDir == "" {
		return nil
	}
	return util.WriteJSONAtomic(filepath.Join(p.opts.ReportDir, "runs", batch.RunID+".json"), batch)
}
