package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"paperchat/internal/app"
	"paperchat/internal/middleware"
	"paperchat/internal/models"
	"paperchat/internal/rag"
	"paperchat/internal/telemetry"
)

type Server struct {
	app    *app.App
	tokens middleware.Tokens
}

func NewServer(a *app.App) *Server {
	return &Server{app: a, tokens: middleware.Tokens{Admin: a.Config.AdminToken, Public: a.Config.PublicToken}}
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Tracing, middleware.Recovery, middleware.CORS(s.app.Config.AllowedOrigins))

	public := s.tokens.Require(middleware.RolePublic)
	admin := s.tokens.Require(middleware.RoleAdmin)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/upload", admin(http.HandlerFunc(s.handleUpload))).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/reprocess", admin(http.HandlerFunc(s.handleReprocess))).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/papers", public(http.HandlerFunc(s.handlePapers))).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/chat", public(http.HandlerFunc(s.handleChat))).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/paper/{id}/summary", public(http.HandlerFunc(s.handleSummary))).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/paper/{id}", public(http.HandlerFunc(s.handlePaperFile))).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/paper/{id}", admin(http.HandlerFunc(s.handleDeletePaper))).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotFound, errNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "embedding_model": s.app.Index.ModelID()})
}

type rejectedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

type uploadResponse struct {
	Accepted  []string          `json:"accepted"`
	Rejected  []rejectedFile    `json:"rejected"`
	Documents []models.Document `json:"documents"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.app.Config.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		writeErr(w, http.StatusBadRequest, errNoFiles)
		return
	}

	out := uploadResponse{Accepted: []string{}, Rejected: []rejectedFile{}, Documents: []models.Document{}}
	for _, fh := range files {
		doc, err := s.saveUpload(r, fh)
		if err != nil {
			out.Rejected = append(out.Rejected, rejectedFile{Filename: fh.Filename, Reason: err.Error()})
			continue
		}
		if _, err := s.app.Ingester.Process(r.Context(), doc.ID); err != nil {
			out.Rejected = append(out.Rejected, rejectedFile{Filename: fh.Filename, Reason: err.Error()})
		} else {
			out.Accepted = append(out.Accepted, doc.Filename)
		}
		if latest, err := s.app.Pipeline.Document(r.Context(), doc.ID); err == nil {
			doc = latest
		}
		out.Documents = append(out.Documents, doc)
	}
	log.Printf("[%s] upload accepted=%d rejected=%d", telemetry.RequestID(r.Context()), len(out.Accepted), len(out.Rejected))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) saveUpload(r *http.Request, fh *multipart.FileHeader) (models.Document, error) {
	src, err := fh.Open()
	if err != nil {
		return models.Document{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	return s.app.Pipeline.Save(r.Context(), fh.Filename, src)
}

type paperView struct {
	DocumentID string                `json:"document_id"`
	Filename   string                `json:"filename"`
	Status     models.DocumentStatus `json:"status"`
	PageCount  int                   `json:"page_count"`
	ChunkCount int                   `json:"chunk_count"`
	UploadedAt string                `json:"uploaded_at"`
	FailReason string                `json:"fail_reason,omitempty"`
}

func (s *Server) handlePapers(w http.ResponseWriter, r *http.Request) {
	docs, err := s.app.Pipeline.Documents(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]paperView, 0, len(docs))
	for _, d := range docs {
		out = append(out, paperView{
			DocumentID: d.ID,
			Filename:   d.Filename,
			Status:     d.Status,
			PageCount:  d.PageCount,
			ChunkCount: d.ChunkCount,
			UploadedAt: d.UploadedAt.Format(time.RFC3339),
			FailReason: d.FailReason,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type chatRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"session_id"`
	DocumentIDs []string `json:"document_ids"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	ans, err := s.app.Answerer.Ask(r.Context(), rag.AskRequest{
		SessionID:   strings.TrimSpace(req.SessionID),
		Question:    req.Message,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	batch, err := s.app.Ingester.Reprocess(r.Context(), nil)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sum, err := s.app.Summarizer.Summarize(r.Context(), id)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePaperFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, err := s.app.Pipeline.Document(r.Context(), id)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	f, err := os.Open(s.app.Pipeline.Path(doc.ID))
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("pdf for %s: %w", id, errNotFound))
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(doc.Filename))
	http.ServeContent(w, r, doc.Filename, st.ModTime(), f)
}

func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.app.Pipeline.Delete(r.Context(), id); err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var (
	errNotFound         = errors.New("not found")
	errMethodNotAllowed = errors.New("method not allowed")
	errNoFiles          = errors.New("no files provided")
)
