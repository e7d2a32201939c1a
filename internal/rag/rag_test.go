package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperchat/internal/chunker"
	"paperchat/internal/conversation"
	"paperchat/internal/models"
	"paperchat/internal/providers"
	"paperchat/internal/util"
	"paperchat/internal/vector"
)

type fakeDocs map[string]models.Document

func (f fakeDocs) Get(ctx context.Context, id string) (models.Document, error) {
	d, ok := f[id]
	if !ok {
		return models.Document{}, errors.New("not found")
	}
	return d, nil
}

type recordingLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []providers.GenerateRequest
}

func (r *recordingLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return providers.GenerateResponse{}, providers.ProviderInfo{}, r.err
	}
	return providers.GenerateResponse{Text: r.reply}, providers.ProviderInfo{Name: "recording"}, nil
}

func (r *recordingLLM) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

type fixture struct {
	index    *vector.Index
	gateway  *providers.Gateway
	sessions *conversation.Store
	docs     fakeDocs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr := providers.NewStaticManager(providers.NewMockProvider(256),
		providers.NamedLLMProvider{Ref: providers.ProviderRef{Raw: "mock", Name: "mock"}, Provider: providers.NewMockProvider(256)})
	gw := providers.NewGateway(mgr, providers.GatewayOptions{Concurrency: 2, Timeout: time.Second, Dimension: 256})
	return &fixture{
		index:    vector.NewIndex(gw, vector.NewMemoryStore()),
		gateway:  gw,
		sessions: conversation.NewStore(5, time.Hour),
		docs:     fakeDocs{},
	}
}

func (f *fixture) ingest(t *testing.T, id, filename string, pages ...string) []models.Chunk {
	t.Helper()
	ps := make([]models.Page, len(pages))
	for i, p := range pages {
		ps[i] = models.Page{Number: i + 1, Text: p}
	}
	chunks, err := chunker.Split(id, chunker.Join(ps), chunker.Options{Size: 1000, Overlap: 200})
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(context.Background(), id, chunks))
	f.docs[id] = models.Document{ID: id, Filename: filename, Status: models.StatusProcessed}
	return chunks
}

func TestAskEndToEndWithCitation(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc-1", "study.pdf", "The experiment used 40 participants.")
	f.ingest(t, "doc-2", "finance.pdf", "Quarterly revenue grew eight percent in Europe.")

	a := NewAnswerer(f.index, f.gateway, f.sessions, f.docs, AnswerOptions{TopK: 4})
	ans, err := a.Ask(context.Background(), AskRequest{Question: "How many participants were in the study?"})
	require.NoError(t, err)
	require.Equal(t, StateAnswered, ans.State)
	require.Contains(t, ans.Answer, "40")
	require.NotEmpty(t, ans.SessionID)
	require.Len(t, ans.Citations, 1)
	require.Equal(t, "doc-1", ans.Citations[0].DocumentID)
	require.Equal(t, "study.pdf", ans.Citations[0].Filename)
	require.Equal(t, 1, ans.Citations[0].Page)
	require.Len(t, f.sessions.History(ans.SessionID), 1)
}

func TestAskEmptyIndexSkipsModel(t *testing.T) {
	f := newFixture(t)
	llm := &recordingLLM{reply: "should not be used"}
	a := NewAnswerer(f.index, llm, f.sessions, f.docs, AnswerOptions{})

	ans, err := a.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "anything?"})
	require.NoError(t, err)
	require.Equal(t, NoResultsAnswer, ans.Answer)
	require.Empty(t, ans.Citations)
	require.Equal(t, 0, llm.calls())
	require.Equal(t, StateAnswered, ans.State)
}

func TestAskSynthesisFailureRecordsNoTurn(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc-1", "a.pdf", "The experiment used 40 participants.")
	llm := &recordingLLM{err: errors.New("upstream 503")}
	a := NewAnswerer(f.index, llm, f.sessions, f.docs, AnswerOptions{})

	ans, err := a.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "participants?"})
	require.Error(t, err)
	require.True(t, util.IsKind(err, util.KindSynthesis))
	require.Equal(t, StateFailed, ans.State)
	require.Empty(t, f.sessions.History("s1"))

	// a later successful question in the same session is not blocked
	llm.err, llm.reply = nil, "Forty [C1]."
	_, err = a.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "participants?"})
	require.NoError(t, err)
	require.Len(t, f.sessions.History("s1"), 1)
}

func TestAskFilterOnUnknownDocument(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc-1", "a.pdf", "The experiment used 40 participants.")
	llm := &recordingLLM{reply: "Forty [C1]."}
	a := NewAnswerer(f.index, llm, f.sessions, f.docs, AnswerOptions{})

	ans, err := a.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "participants?", DocumentIDs: []string{"doc-1", "never-ingested"}})
	require.True(t, util.IsKind(err, util.KindUnknownDocument))
	require.Equal(t, StateFailed, ans.State)
	require.Equal(t, 0, llm.calls())
	require.Empty(t, f.sessions.History("s1"))

	ans, err = a.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "participants?", DocumentIDs: []string{"doc-1"}})
	require.NoError(t, err)
	require.Equal(t, "doc-1", ans.Citations[0].DocumentID)
}

type panickingLLM struct{}

func (panickingLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	panic("provider bug")
}

func TestAskPanicReleasesSessionTurn(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc-1", "a.pdf", "The experiment used 40 participants.")

	broken := NewAnswerer(f.index, panickingLLM{}, f.sessions, f.docs, AnswerOptions{})
	require.Panics(t, func() {
		_, _ = broken.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "participants?"})
	})

	a := NewAnswerer(f.index, &recordingLLM{reply: "Forty [C1]."}, f.sessions, f.docs, AnswerOptions{})
	_, err := a.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "participants?"})
	require.NoError(t, err)
	require.Len(t, f.sessions.History("s1"), 1)
}

func TestCitationsAreSubsetOfRetrieved(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		f.ingest(t, fmt.Sprintf("doc-%d", i), fmt.Sprintf("f%d.pdf", i), fmt.Sprintf("Participants cohort %d had measurements recorded.", i))
	}
	llm := &recordingLLM{reply: "See [C2] and [C2], also [C9] and [C0]."}
	a := NewAnswerer(f.index, llm, f.sessions, f.docs, AnswerOptions{TopK: 3})

	ans, err := a.Ask(context.Background(), AskRequest{Question: "participants measurements"})
	require.NoError(t, err)
	require.Equal(t, 3, ans.Retrieved)
	require.Len(t, ans.Citations, 1)
	require.Equal(t, "C2", ans.Citations[0].Ref)

	retrieved, err := f.index.Query(context.Background(), "participants measurements", 3, vector.Filter{})
	require.NoError(t, err)
	require.Equal(t, retrieved[1].Chunk.DocumentID, ans.Citations[0].DocumentID)
	require.Equal(t, retrieved[1].Chunk.Text, ans.Citations[0].Text)
}

func TestCitationsFallBackToAllRetrieved(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc-1", "a.pdf", "Participants were students.")
	f.ingest(t, "doc-2", "b.pdf", "Participants were paid.")
	llm := &recordingLLM{reply: "Participants were students who were paid."}
	a := NewAnswerer(f.index, llm, f.sessions, f.docs, AnswerOptions{TopK: 4})

	ans, err := a.Ask(context.Background(), AskRequest{Question: "Who were the participants?"})
	require.NoError(t, err)
	require.Len(t, ans.Citations, 2)
}

func TestFollowUpUsesHistory(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc-1", "a.pdf", "The transformer model uses attention layers.")
	llm := &recordingLLM{reply: "It uses attention [C1]."}
	a := NewAnswerer(f.index, llm, f.sessions, f.docs, AnswerOptions{HistoryQuestions: 2})

	_, err := a.Ask(context.Background(), AskRequest{SessionID: "s", Question: "What does the transformer model use?"})
	require.NoError(t, err)
	ans, err := a.Ask(context.Background(), AskRequest{SessionID: "s", Question: "What else about it?"})
	require.NoError(t, err)
	require.Equal(t, 1, ans.Retrieved)

	last := llm.reqs[len(llm.reqs)-1]
	require.Contains(t, last.Prompt, "Conversation so far")
	require.Contains(t, last.Prompt, "What does the transformer model use?")
	require.True(t, strings.HasPrefix(last.Context[0], "[C1] a.pdf, page 1\n"))
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	f := newFixture(t)
	a := NewAnswerer(f.index, &recordingLLM{}, f.sessions, f.docs, AnswerOptions{})
	_, err := a.Ask(context.Background(), AskRequest{Question: "   "})
	require.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestSummarizeUnknownDocument(t *testing.T) {
	f := newFixture(t)
	s := NewSummarizer(f.index, f.gateway, SummaryOptions{})
	_, err := s.Summarize(context.Background(), "missing")
	require.True(t, util.IsKind(err, util.KindUnknownDocument))
}

func TestSummarizeWholeDocumentWithinBudget(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("Section text about methods and results. ", 120)
	chunks := f.ingest(t, "doc-1", "a.pdf", long, "Final conclusions are drawn here.")
	require.Greater(t, len(chunks), 2)

	llm := &recordingLLM{reply: "A summary."}
	s := NewSummarizer(f.index, llm, SummaryOptions{Budget: 100000})
	sum, err := s.Summarize(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, "A summary.", sum.Summary)
	require.False(t, sum.Truncated)
	require.Equal(t, len(chunks), sum.Chunks)
	require.Equal(t, chunker.Join([]models.Page{{Number: 1, Text: long}, {Number: 2, Text: "Final conclusions are drawn here."}}).Text, llm.reqs[0].Context[0])

	s = NewSummarizer(f.index, llm, SummaryOptions{Budget: 50})
	sum, err = s.Summarize(context.Background(), "doc-1")
	require.NoError(t, err)
	require.True(t, sum.Truncated)
	require.Len(t, []rune(llm.reqs[1].Context[0]), 50)
}

func TestSummarizeSynthesisError(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc-1", "a.pdf", "Text.")
	s := NewSummarizer(f.index, &recordingLLM{err: errors.New("timeout")}, SummaryOptions{})
	_, err := s.Summarize(context.Background(), "doc-1")
	require.True(t, util.IsKind(err, util.KindSynthesis))
}
