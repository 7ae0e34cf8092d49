// Package api exposes document upload, analysis runs and retrieval over HTTP
// and MCP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/dealscope/internal/ingest"
	"github.com/kalambet/dealscope/internal/pipeline"
	"github.com/kalambet/dealscope/internal/retrieval"
	"github.com/kalambet/dealscope/internal/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const maxRequestBodySize = 1 << 20 // 1MB

// DocumentService stores and indexes documents.
type DocumentService interface {
	Upload(ctx context.Context, entityID string, files []ingest.File, async bool) (ingest.Result, error)
	Add(ctx context.Context, entityID string, f ingest.File) (ingest.Result, error)
	Purge(ctx context.Context, entityID string) (docs, chunks int, err error)
	Entities(ctx context.Context) ([]string, error)
	Inventory(ctx context.Context, entityID string) (ingest.Inventory, error)
	Document(ctx context.Context, entityID, docID string) (storage.Document, error)
}

// Analyzer runs and tracks analyses.
type Analyzer interface {
	Start(ctx context.Context, entityID string) (pipeline.Run, error)
	Status(ctx context.Context, entityID string) (pipeline.Run, error)
	Results(ctx context.Context, entityID string) (pipeline.Run, error)
	Delete(ctx context.Context, entityID string) error
	List(ctx context.Context) ([]pipeline.Run, error)
}

// ChunkSearcher runs filtered similarity search over indexed chunks.
type ChunkSearcher interface {
	Search(ctx context.Context, question string, filter retrieval.Filter, topK int) ([]retrieval.ContextChunk, error)
}

// Deps holds the services behind the HTTP API.
type Deps struct {
	Documents DocumentService
	Analyses  Analyzer
	Chunks    ChunkSearcher
	Token     string
}

// NewRouter returns the HTTP handler. /health and /ping are public; every
// other route requires the bearer token.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/ping", handlePing)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents/upload", handleUpload(deps))
		r.Post("/documents", handleUploadText(deps))
		r.Get("/documents", handleListEntities(deps))
		r.Get("/documents/{id}", handleInventory(deps))
		r.Get("/documents/{id}/{doc}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocuments(deps))

		r.Post("/analysis/start", handleStartAnalysis(deps))
		r.Get("/analysis/status/{id}", handleAnalysisStatus(deps))
		r.Get("/analysis/results/{id}", handleAnalysisResults(deps))
		r.Get("/analysis/list", handleListAnalyses(deps))
		r.Delete("/analysis/{id}", handleDeleteAnalysis(deps))

		r.Get("/query", handleQuery(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}
