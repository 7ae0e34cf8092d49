package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kalambet/dealscope/internal/retrieval"
)

const (
	defaultQueryLimit = 5
	maxQueryLimit     = 50
)

// chunkResult is the wire form of a retrieved chunk.
type chunkResult struct {
	ID         string    `json:"id"`
	StartupID  string    `json:"startup_id"`
	Category   string    `json:"category"`
	Filename   string    `json:"filename"`
	DocIndex   int       `json:"doc_index"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Score      float32   `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
}

func toChunkResults(chunks []retrieval.ContextChunk) []chunkResult {
	out := make([]chunkResult, len(chunks))
	for i, c := range chunks {
		out[i] = chunkResult{
			ID:         c.ID,
			StartupID:  c.EntityID,
			Category:   c.Category,
			Filename:   c.Filename,
			DocIndex:   c.DocIndex,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
			Score:      c.Score,
			CreatedAt:  c.CreatedAt,
		}
	}
	return out
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		startupID := q.Get("startup_id")
		question := q.Get("q")
		if startupID == "" || question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "startup_id and q are required")
			return
		}
		limit := parseIntParam(r, "limit", defaultQueryLimit, maxQueryLimit)
		if limit == 0 {
			limit = defaultQueryLimit
		}

		chunks, err := deps.Chunks.Search(r.Context(), question, retrieval.EntityFilter(startupID, q.Get("category")), limit)
		if errors.Is(err, retrieval.ErrInvalidFilter) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}

		results := toChunkResults(chunks)
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "total": len(results)})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
