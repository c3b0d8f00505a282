package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/alexmurav/docsearch/internal/config"
	"github.com/alexmurav/docsearch/internal/logger"
	"github.com/alexmurav/docsearch/internal/models"
	"github.com/alexmurav/docsearch/internal/pipeline"
	"github.com/alexmurav/docsearch/internal/queue"
	"github.com/alexmurav/docsearch/internal/search"
	"github.com/alexmurav/docsearch/internal/store"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		log.Error("init store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Error("create upload dir", slog.Any("err", err))
		os.Exit(1)
	}

	extract := queue.NewPublisher(cfg.KafkaBrokers, cfg.ExtractTopic)
	defer extract.Close()

	srv := &server{
		log:     log,
		cfg:     cfg,
		store:   st,
		engine:  search.NewEngine(st),
		extract: extract,
		indexer: pipeline.NewIndexer(st, nil, log),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.handleHealth)
	r.Post("/documents", srv.handleSubmit)
	r.Post("/upload", srv.handleUpload)
	r.Get("/documents", srv.handleListDocuments)
	r.Get("/documents/{id}/status", srv.handleStatus)
	r.Put("/documents/{id}", srv.handleReindex)
	r.Get("/search", srv.handleSearch)
	r.Get("/raw/documents", srv.handleRawDocuments)
	r.Get("/raw/extracted_text", srv.handleRawExtractedText)
	r.Get("/raw/inverted_index", srv.handleRawIndex)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log     *slog.Logger
	cfg     *config.API
	store   *store.Store
	engine  *search.Engine
	extract *queue.Publisher
	indexer *pipeline.Indexer
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit queues a document whose content travels in the request
// body. Processing is asynchronous; the caller polls the status
// endpoint for progress.
func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(body.ID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id is required"})
		return
	}

	msg, err := json.Marshal(models.ExtractMessage{ID: body.ID, Title: body.Title, Content: body.Content})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.extract.Publish(ctx, body.ID, msg); err != nil {
		s.log.Error("publish extract message", slog.Any("err", err), slog.String("id", body.ID))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "queue unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "document queued for processing"})
}

// handleUpload stores the uploaded file, registers the document with its
// file path and queues extraction by reference.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file field is required"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	docID := filepath.Base(strings.TrimSpace(header.Filename))
	if docID == "" || docID == "." || docID == string(filepath.Separator) {
		docID = uuid.NewString()
	}

	path := filepath.Join(s.cfg.UploadDir, docID)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	doc := models.Document{ID: docID, Title: docID, Content: string(content), FilePath: path}
	if _, err := s.store.Register(ctx, doc); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	msg, err := json.Marshal(models.ExtractMessage{ID: docID})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if err := s.extract.Publish(ctx, docID, msg); err != nil {
		s.log.Error("publish extract message", slog.Any("err", err), slog.String("id", docID))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "queue unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "document uploaded and queued",
		"doc_id":  docID,
	})
}

// handleReindex is the synchronous bypass path: version bump, extraction
// and indexing inline, for callers that cannot wait on queue delivery.
func (s *server) handleReindex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	version, err := s.indexer.ReindexNow(ctx, id, body.Title, body.Content)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "document not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "version": version})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query parameter 'q' is required"})
		return
	}
	limit := clampInt(r.URL.Query().Get("limit"), s.cfg.DefaultLimit, s.cfg.MaxLimit)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results, err := s.engine.Search(ctx, query, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleListDocuments mirrors the search endpoint when q is present and
// lists all documents otherwise.
func (s *server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.URL.Query().Get("q")) != "" {
		s.handleSearch(w, r)
		return
	}

	limit := clampInt(r.URL.Query().Get("limit"), s.cfg.DefaultLimit, s.cfg.MaxLimit)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	docs, err := s.store.List(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": docs})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, err := s.store.Status(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "document not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleRawDocuments(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(r.URL.Query().Get("limit"), 100, 1000)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	docs, err := s.store.List(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": docs})
}

func (s *server) handleRawExtractedText(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(r.URL.Query().Get("limit"), 100, 1000)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rows, err := s.store.RawExtractedText(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (s *server) handleRawIndex(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(r.URL.Query().Get("limit"), 100, 1000)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rows, err := s.store.RawIndexEntries(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// nothing better to do
	}
}
