package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paperchat/internal/chunker"
	"paperchat/internal/extract"
	"paperchat/internal/models"
	"paperchat/internal/storage"
	"paperchat/internal/util"
	"paperchat/internal/vector"
)

var (
	ErrUnsupportedFile = errors.New("only .pdf files are accepted")
	ErrEmptyUpload     = errors.New("uploaded file is empty")
)

// Ingester runs ingestion for stored documents. The inline Pipeline and the
// Temporal dispatcher both implement it.
type Ingester interface {
	Process(ctx context.Context, documentID string) (Result, error)
	Reprocess(ctx context.Context, progress ProgressFunc) (BatchResult, error)
}

var _ Ingester = (*Pipeline)(nil)

type Options struct {
	UploadDir   string
	ReportDir   string
	Chunking    chunker.Options
	Parallelism int
}

type Pipeline struct {
	opts  Options
	docs  storage.DocumentStore
	index *vector.Index
	locks *util.KeyedMutex
	now   func() time.Time
}

// Prepared is the extracted and chunked form of one document.
type Prepared struct {
	DocumentID string         `json:"document_id"`
	PageCount  int            `json:"page_count"`
	Chunks     []models.Chunk `json:"chunks"`
}

func NewPipeline(docs storage.DocumentStore, index *vector.Index, opts Options) *Pipeline {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 2
	}
	return &Pipeline{opts: opts, docs: docs, index: index, locks: util.NewKeyedMutex(), now: time.Now}
}

// Path is where the content of a document lives in the upload directory.
func (p *Pipeline) Path(documentID string) string {
	return util.SafeJoin(p.opts.UploadDir, documentID+".pdf")
}

// Save stores an upload under its content hash and registers it as pending.
// Uploading identical bytes again maps to the same document.
func (p *Pipeline) Save(ctx context.Context, filename string, r io.Reader) (models.Document, error) {
	name := filepath.Base(filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return models.Document{}, fmt.Errorf("%s: %w", name, ErrUnsupportedFile)
	}
	if err := util.EnsureDir(p.opts.UploadDir); err != nil {
		return models.Document{}, err
	}
	tmp, err := os.CreateTemp(p.opts.UploadDir, "upload-*.tmp")
	if err != nil {
		return models.Document{}, fmt.Errorf("create upload temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	id, n, err := util.CopyContentID(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("write upload: %w", err)
	}
	if n == 0 {
		return models.Document{}, fmt.Errorf("%s: %w", name, ErrEmptyUpload)
	}

	unlock := p.locks.Lock(id)
	defer unlock()
	if err := os.Rename(tmp.Name(), p.Path(id)); err != nil {
		return models.Document{}, fmt.Errorf("store upload: %w", err)
	}
	doc := models.Document{ID: id, Filename: name, UploadedAt: p.now().UTC(), Status: models.StatusPending}
	if prev, err := p.docs.Get(ctx, id); err == nil {
		doc.UploadedAt = prev.UploadedAt
	}
	if err := p.docs.Put(ctx, doc); err != nil {
		return models.Document{}, err
	}
	log.Printf("[ingest] saved %s as %s", name, id)
	return doc, nil
}

// Prepare extracts and chunks a stored document. It has no side effects.
func (p *Pipeline) Prepare(ctx context.Context, documentID string) (Prepared, error) {
	if err := ctx.Err(); err != nil {
		return Prepared{}, err
	}
	pages, err := extract.ExtractFile(p.Path(documentID))
	if err != nil {
		return Prepared{}, err
	}
	chunks, err := chunker.Split(documentID, chunker.Join(pages), p.opts.Chunking)
	if err != nil {
		return Prepared{}, util.E(util.KindExtraction, "chunk", err)
	}
	return Prepared{DocumentID: documentID, PageCount: len(pages), Chunks: chunks}, nil
}

func (p *Pipeline) Index(ctx context.Context, documentID string, chunks []models.Chunk) error {
	return p.index.Upsert(ctx, documentID, chunks)
}

func (p *Pipeline) MarkProcessed(ctx context.Context, documentID string, pages, chunks int) error {
	return p.docs.SetStatus(ctx, documentID, storage.StatusUpdate{
		Status:     models.StatusProcessed,
		PageCount:  pages,
		ChunkCount: chunks,
	})
}

// MarkFailed records the failure. Extraction failures also drop any entries
// left from an earlier ingestion; other failures keep them visible.
func (p *Pipeline) MarkFailed(ctx context.Context, documentID string, cause error) error {
	if util.IsKind(cause, util.KindExtraction) {
		if err := p.index.Delete(ctx, documentID); err != nil {
			return err
		}
	}
	return p.docs.SetStatus(ctx, documentID, storage.StatusUpdate{
		Status:     models.StatusFailed,
		FailReason: cause.Error(),
	})
}

// Process runs the whole ingestion for one document inline. Runs for the
// same document are serialized.
func (p *Pipeline) Process(ctx context.Context, documentID string) (Result, error) {
	unlock := p.locks.Lock(documentID)
	defer unlock()

	doc, err := p.docs.Get(ctx, documentID)
	if err != nil {
		err = util.E(util.KindUnknownDocument, "process", err)
		return Result{DocumentID: documentID}.failed(err), err
	}
	res := Result{DocumentID: documentID, Filename: doc.Filename}

	prep, err := p.Prepare(ctx, documentID)
	if err == nil {
		err = p.Index(ctx, documentID, prep.Chunks)
	}
	if err != nil {
		log.Printf("[ingest] %s (%s) failed: %v", doc.Filename, documentID, err)
		if merr := p.MarkFailed(context.WithoutCancel(ctx), documentID, err); merr != nil {
			log.Printf("[ingest] mark failed %s: %v", documentID, merr)
		}
		return res.failed(err), err
	}
	if err := p.MarkProcessed(ctx, documentID, prep.PageCount, len(prep.Chunks)); err != nil {
		return res.failed(err), err
	}
	res.Status = models.StatusProcessed
	res.PageCount = prep.PageCount
	res.ChunkCount = len(prep.Chunks)
	log.Printf("[ingest] %s (%s) processed pages=%d chunks=%d", doc.Filename, documentID, res.PageCount, res.ChunkCount)
	return res, nil
}

// Delete removes a document from the index, the registry and the upload
// directory.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	unlock := p.locks.Lock(documentID)
	defer unlock()
	if _, err := p.docs.Get(ctx, documentID); err != nil {
		return util.E(util.KindUnknownDocument, "delete", err)
	}
	if err := p.index.Delete(ctx, documentID); err != nil {
		return err
	}
	if err := p.docs.Delete(ctx, documentID); err != nil {
		return err
	}
	if err := os.Remove(p.Path(documentID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	log.Printf("[ingest] deleted %s", documentID)
	return nil
}

func (p *Pipeline) Documents(ctx context.Context) ([]models.Document, error) {
	return p.docs.List(ctx)
}

func (p *Pipeline) Document(ctx context.Context, documentID string) (models.Document, error) {
	doc, err := p.docs.Get(ctx, documentID)
	if err != nil {
		return models.Document{}, util.E(util.KindUnknownDocument, "document", err)
	}
	return doc, nil
}
