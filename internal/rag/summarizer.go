package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"paperchat/internal/models"
	"paperchat/internal/providers"
	"paperchat/internal/telemetry"
	"paperchat/internal/util"
)

type ChunkReader interface {
	Chunks(ctx context.Context, documentID string) ([]models.Chunk, error)
}

type SummaryOptions struct {
	Budget      int
	MaxTokens   int
	Temperature float64
}

type Summary struct {
	DocumentID string `json:"document_id"`
	Summary    string `json:"summary"`
	Chunks     int    `json:"chunk_count"`
	Truncated  bool   `json:"truncated"`
}

// Summarizer condenses a whole document. It reads every chunk directly
// instead of searching, so coverage does not depend on a query.
type Summarizer struct {
	chunks ChunkReader
	llm    Generator
	opts   SummaryOptions
}

func NewSummarizer(chunks ChunkReader, llm Generator, opts SummaryOptions) *Summarizer {
	if opts.Budget <= 0 {
		opts.Budget = 12000
	}
	return &Summarizer{chunks: chunks, llm: llm, opts: opts}
}

func (s *Summarizer) Summarize(ctx context.Context, documentID string) (Summary, error) {
	ctx, span := telemetry.StartSpan(ctx, "rag.Summarize", attribute.String("document.id", documentID))
	defer span.End()

	chunks, err := s.chunks.Chunks(ctx, documentID)
	if err != nil {
		telemetry.AddSpanError(ctx, err)
		return Summary{}, fmt.Errorf("load chunks for %s: %w", documentID, err)
	}
	if len(chunks) == 0 {
		err := util.E(util.KindUnknownDocument, "summarize", fmt.Errorf("no indexed chunks for document %s", documentID))
		telemetry.AddSpanError(ctx, err)
		return Summary{}, err
	}

	text, truncated := truncateRunes(Stitch(chunks), s.opts.Budget)
	span.SetAttributes(attribute.Int("summary.input_runes", len([]rune(text))), attribute.Bool("summary.truncated", truncated))

	resp, _, err := s.llm.Generate(ctx, providers.GenerateRequest{
		Operation: providers.OpSummary,
		Prompt: "Write a concise summary of the document below in one to three paragraphs. " +
			"Cover its purpose, main findings and conclusions. Use only the supplied text.",
		Context:     []string{text},
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	})
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = fmt.Errorf("empty summary response")
	}
	if err != nil {
		err = util.E(util.KindSynthesis, "summarize", err)
		telemetry.AddSpanError(ctx, err)
		return Summary{}, err
	}
	return Summary{
		DocumentID: documentID,
		Summary:    strings.TrimSpace(resp.Text),
		Chunks:     len(chunks),
		Truncated:  truncated,
	}, nil
}

// Stitch rebuilds document text from chunks in sequence order, dropping the
// overlap each chunk shares with its predecessor.
func Stitch(chunks []models.Chunk) string {
	sorted := append([]models.Chunk(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	var b strings.Builder
	end := 0
	for i, c := range sorted {
		runes := []rune(c.Text)
		switch {
		case i == 0:
			b.WriteString(c.Text)
		case c.Start < end:
			skip := end - c.Start
			if skip < len(runes) {
				b.WriteString(string(runes[skip:]))
			}
		default:
			b.WriteString("\n\n")
			b.WriteString(c.Text)
		}
		if c.End > end {
			end = c.End
		}
	}
	return b.String()
}

func truncateRunes(s string, limit int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[:limit]), true
}
