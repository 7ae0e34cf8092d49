package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dealscope/internal/analysis"
	"github.com/kalambet/dealscope/internal/pipeline"
	"github.com/kalambet/dealscope/internal/structured"
)

type startAnalysisRequest struct {
	StartupID string `json:"startup_id"`
}

// statusResponse is the run without its artifacts.
type statusResponse struct {
	StartupID string          `json:"startup_id"`
	Status    pipeline.Status `json:"status"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message"`
	Error     string          `json:"error,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

func toStatus(run pipeline.Run) statusResponse {
	resp := statusResponse{
		StartupID: run.EntityID,
		Status:    run.Status,
		Progress:  run.Progress,
		Message:   run.Message,
		Error:     run.Error,
	}
	if !run.CreatedAt.IsZero() {
		resp.CreatedAt = run.CreatedAt.Format(time.RFC3339)
		resp.UpdatedAt = run.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}

// resultsResponse is the artifact bundle with per-stage provenance.
type resultsResponse struct {
	*analysis.Artifacts
	Provenance map[string]structured.Provenance `json:"provenance,omitempty"`
}

func handleStartAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req startAnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.StartupID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "startup_id is required")
			return
		}

		run, err := deps.Analyses.Start(r.Context(), req.StartupID)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			httpError(w, http.StatusConflict, "conflict", "Analysis already in progress for this startup")
			return
		case errors.Is(err, pipeline.ErrClosed):
			httpError(w, http.StatusServiceUnavailable, "unavailable_error", "server is shutting down, retry later")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start analysis: %v", err)
			return
		}

		resp := toStatus(run)
		resp.Message = "Analysis started"
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleAnalysisStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Analyses.Status(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, pipeline.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "No analysis found for this startup")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get status: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toStatus(run))
	}
}

func handleAnalysisResults(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Analyses.Results(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, pipeline.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "No analysis found for this startup")
			return
		case errors.Is(err, pipeline.ErrNotCompleted):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Analysis not completed. Current status: %s", run.Status)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get results: %v", err)
			return
		}

		artifacts := run.Results
		if artifacts == nil {
			artifacts = &analysis.Artifacts{}
		}
		writeJSON(w, http.StatusOK, resultsResponse{Artifacts: artifacts, Provenance: run.Provenance})
	}
}

func handleDeleteAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Analyses.Delete(r.Context(), id)
		switch {
		case errors.Is(err, pipeline.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "Analysis not found")
			return
		case errors.Is(err, pipeline.ErrRunInProgress):
			httpError(w, http.StatusConflict, "conflict", "Analysis is still running for this startup")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete analysis: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Analysis deleted for startup %s", id)})
	}
}

func handleListAnalyses(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := deps.Analyses.List(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list analyses: %v", err)
			return
		}
		analyses := make([]statusResponse, len(runs))
		for i, run := range runs {
			analyses[i] = toStatus(run)
		}
		writeJSON(w, http.StatusOK, map[string]any{"analyses": analyses, "total": len(analyses)})
	}
}
