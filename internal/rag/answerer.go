package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"paperchat/internal/conversation"
	"paperchat/internal/models"
	"paperchat/internal/providers"
	"paperchat/internal/telemetry"
	"paperchat/internal/util"
	"paperchat/internal/vector"
)

// NoResultsAnswer is returned without a model call when retrieval is empty.
const NoResultsAnswer = "No relevant documents found for this question."

const answerSystemPrompt = "You answer questions about a private collection of PDF documents. " +
	"Use only the numbered excerpts supplied in the context. Do not use outside knowledge."

var ErrEmptyQuestion = errors.New("question must not be empty")

type State string

const (
	StateReceived        State = "RECEIVED"
	StateHistoryResolved State = "HISTORY_RESOLVED"
	StateRetrieved       State = "RETRIEVED"
	StateSynthesized     State = "SYNTHESIZED"
	StateAnswered        State = "ANSWERED"
	StateFailed          State = "FAILED"
)

type Retriever interface {
	ChunkReader
	Query(ctx context.Context, text string, k int, filter vector.Filter) ([]models.SearchResult, error)
}

type Generator interface {
	Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error)
}

// DocumentLookup resolves display names for citations.
type DocumentLookup interface {
	Get(ctx context.Context, id string) (models.Document, error)
}

type AnswerOptions struct {
	TopK             int
	HistoryQuestions int
	MaxTokens        int
	Temperature      float64
}

type AskRequest struct {
	SessionID   string
	Question    string
	DocumentIDs []string
}

type Answer struct {
	SessionID string            `json:"session_id"`
	Answer    string            `json:"answer"`
	Citations []models.Citation `json:"citations"`
	State     State             `json:"-"`
	Retrieved int               `json:"retrieved_count"`
	Provider  string            `json:"llm_provider,omitempty"`
}

type Answerer struct {
	retriever Retriever
	llm       Generator
	sessions  *conversation.Store
	docs      DocumentLookup
	opts      AnswerOptions
}

func NewAnswerer(r Retriever, llm Generator, sessions *conversation.Store, docs DocumentLookup, opts AnswerOptions) *Answerer {
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	if opts.HistoryQuestions < 0 {
		opts.HistoryQuestions = 0
	}
	return &Answerer{retriever: r, llm: llm, sessions: sessions, docs: docs, opts: opts}
}

// Ask runs one question through RECEIVED, HISTORY_RESOLVED, RETRIEVED,
// SYNTHESIZED and ANSWERED. Any failure ends in FAILED and leaves the
// session history unchanged.
func (a *Answerer) Ask(ctx context.Context, req AskRequest) (ans Answer, err error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = conversation.NewSessionID()
	}
	ctx, span := telemetry.StartSpan(ctx, "rag.Ask", attribute.String("session.id", sessionID))
	defer span.End()

	ans = Answer{SessionID: sessionID}
	a.transition(ctx, &ans, StateReceived)

	if err := a.checkDocuments(ctx, req.DocumentIDs); err != nil {
		a.transition(ctx, &ans, StateFailed)
		telemetry.AddSpanError(ctx, err)
		return ans, err
	}

	ticket := a.sessions.Begin(sessionID)
	// no-op once committed
	defer ticket.Abort()
	defer func() {
		if err != nil {
			a.transition(ctx, &ans, StateFailed)
			telemetry.AddSpanError(ctx, err)
		}
	}()
	history := ticket.History()
	a.transition(ctx, &ans, StateHistoryResolved, attribute.Int("history.turns", len(history)))

	results, err := a.retriever.Query(ctx, a.retrievalQuery(history, question), a.opts.TopK, vector.Filter{DocumentIDs: req.DocumentIDs})
	if err != nil {
		return ans, util.E(util.KindSynthesis, "retrieve", err)
	}
	ans.Retrieved = len(results)
	a.transition(ctx, &ans, StateRetrieved, attribute.Int("retrieved", len(results)))

	if len(results) == 0 {
		ans.Answer = NoResultsAnswer
		ans.Citations = []models.Citation{}
		ticket.Commit(models.Turn{Question: question, Answer: ans.Answer, At: time.Now().UTC()})
		a.transition(ctx, &ans, StateAnswered)
		return ans, nil
	}

	names := a.filenames(ctx, results)
	resp, info, err := a.llm.Generate(ctx, providers.GenerateRequest{
		Operation:   providers.OpAnswer,
		System:      answerSystemPrompt,
		Prompt:      buildAnswerPrompt(history, question),
		Context:     buildContext(results, names),
		Query:       question,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
	})
	if err != nil {
		return ans, util.E(util.KindSynthesis, "generate answer", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return ans, util.E(util.KindSynthesis, "generate answer", fmt.Errorf("empty response from %s", info.Name))
	}
	ans.Provider = info.Name
	a.transition(ctx, &ans, StateSynthesized, attribute.String("llm.provider", info.Name))

	ans.Answer = text
	ans.Citations = citationsFor(text, results, names)
	ticket.Commit(models.Turn{Question: question, Answer: text, At: time.Now().UTC()})
	a.transition(ctx, &ans, StateAnswered, attribute.Int("citations", len(ans.Citations)))
	return ans, nil
}

// checkDocuments fails when a requested document has no indexed chunks.
func (a *Answerer) checkDocuments(ctx context.Context, ids []string) error {
	for _, id := range ids {
		chunks, err := a.retriever.Chunks(ctx, id)
		if err != nil {
			return util.E(util.KindSynthesis, "ask", fmt.Errorf("load chunks for %s: %w", id, err))
		}
		if len(chunks) == 0 {
			return util.E(util.KindUnknownDocument, "ask", fmt.Errorf("no indexed chunks for document %s", id))
		}
	}
	return nil
}

func (a *Answerer) transition(ctx context.Context, ans *Answer, s State, attrs ...attribute.KeyValue) {
	ans.State = s
	telemetry.AddSpanEvent(ctx, "state."+string(s), attrs...)
}

// retrievalQuery prefixes recent questions so follow-ups such as
// "what about its limitations?" retrieve against the earlier topic.
func (a *Answerer) retrievalQuery(history []models.Turn, question string) string {
	n := a.opts.HistoryQuestions
	if n > len(history) {
		n = len(history)
	}
	if n == 0 {
		return question
	}
	parts := make([]string, 0, n+1)
	for _, t := range history[len(history)-n:] {
		parts = append(parts, t.Question)
	}
	return strings.Join(append(parts, question), "\n")
}

func (a *Answerer) filenames(ctx context.Context, results []models.SearchResult) map[string]string {
	names := map[string]string{}
	if a.docs == nil {
		return names
	}
	for _, r := range results {
		id := r.Chunk.DocumentID
		if _, ok := names[id]; ok {
			continue
		}
		doc, err := a.docs.Get(ctx, id)
		if err != nil {
			log.Printf("[rag] lookup document %s: %v", id, err)
			names[id] = ""
			continue
		}
		names[id] = doc.Filename
	}
	return names
}

func buildAnswerPrompt(history []models.Turn, question string) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range history {
			b.WriteString("User: " + t.Question + "\n")
			b.WriteString("Assistant: " + util.Snippet(t.Answer, 600) + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: " + question + "\n\n")
	b.WriteString("Rules:\n" +
		"- Answer using ONLY the numbered excerpts below.\n" +
		"- After each claim, cite the excerpt it comes from as [C1], [C2], and so on.\n" +
		"- Use earlier conversation only to resolve references such as pronouns.\n" +
		"- If the excerpts do not contain the answer, say so plainly.\n\n" +
		"Excerpts:")
	return b.String()
}

func buildContext(results []models.SearchResult, names map[string]string) []string {
	out := make([]string, 0, len(results))
	for i, r := range results {
		source := names[r.Chunk.DocumentID]
		if source == "" {
			source = r.Chunk.DocumentID
		}
		out = append(out, fmt.Sprintf("[C%d] %s, page %d\n%s", i+1, source, r.Chunk.Page, r.Chunk.Text))
	}
	return out
}

var markerRe = regexp.MustCompile(`\[C(\d+)\]`)

// citationsFor lists each chunk the answer cites once, in retrieval rank
// order. Out-of-range markers are ignored; with no usable marker every
// retrieved chunk is cited.
func citationsFor(answer string, results []models.SearchResult, names map[string]string) []models.Citation {
	cited := make([]bool, len(results))
	found := false
	for _, m := range markerRe.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(results) {
			continue
		}
		cited[n-1] = true
		found = true
	}
	out := make([]models.Citation, 0, len(results))
	for i, r := range results {
		if found && !cited[i] {
			continue
		}
		out = append(out, models.Citation{
			Ref:        "C" + strconv.Itoa(i+1),
			DocumentID: r.Chunk.DocumentID,
			Filename:   names[r.Chunk.DocumentID],
			Page:       r.Chunk.Page,
			ChunkIndex: r.Chunk.Index,
			Text:       r.Chunk.Text,
		})
	}
	return out
}
