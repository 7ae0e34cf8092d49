package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dealscope/internal/ingest"
	"github.com/kalambet/dealscope/internal/storage"
)

const (
	maxUploadSize   = 64 << 20 // 64MB
	maxUploadMemory = 16 << 20
	maxTextBodySize = 10 << 20
)

// uploadFields maps multipart field names to document categories.
var uploadFields = []struct {
	field    string
	category string
}{
	{"pitch_deck", storage.CategoryPrimaryDeck},
	{"transcripts", storage.CategoryTranscript},
	{"emails", storage.CategoryCorrespondence},
	{"updates", storage.CategoryUpdate},
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		if len(r.MultipartForm.File["pitch_deck"]) != 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "exactly one pitch_deck file is required")
			return
		}

		var files []ingest.File
		for _, f := range uploadFields {
			for _, fh := range r.MultipartForm.File[f.field] {
				if fh.Filename == "" {
					continue
				}
				// Reject before reading so a bad file in a large form fails fast.
				if !ingest.SupportedExtension(fh.Filename) {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "%v: %s", ingest.ErrUnsupportedFormat, fh.Filename)
					return
				}
				data, err := readPart(fh)
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "reading %s: %v", fh.Filename, err)
					return
				}
				files = append(files, ingest.File{Category: f.category, Filename: fh.Filename, Data: data})
			}
		}

		entityID := r.FormValue("startup_id")
		async := queryBool(r, "async")
		res, err := deps.Documents.Upload(r.Context(), entityID, files, async)
		if err != nil {
			writeIngestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// TextUploadRequest is the JSON variant of the upload for text that was
// already extracted.
type TextUploadRequest struct {
	StartupID string         `json:"startup_id"`
	Async     bool           `json:"async"`
	Documents []TextDocument `json:"documents"`
}

type TextDocument struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

func handleUploadText(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxTextBodySize)
		defer r.Body.Close()

		var req TextUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Documents) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "documents is required")
			return
		}

		files := make([]ingest.File, 0, len(req.Documents))
		for i, d := range req.Documents {
			if d.Text == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "documents[%d].text is required", i)
				return
			}
			name := d.Filename
			if name == "" {
				name = fmt.Sprintf("%s-%d.txt", d.Category, i)
			}
			files = append(files, ingest.File{Category: d.Category, Filename: name, Text: d.Text})
		}

		res, err := deps.Documents.Upload(r.Context(), req.StartupID, files, req.Async || queryBool(r, "async"))
		if err != nil {
			writeIngestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleDeleteDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		docs, chunks, err := deps.Documents.Purge(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "Startup documents not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error deleting documents: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message":           fmt.Sprintf("Documents deleted for startup %s", id),
			"documents_deleted": docs,
			"chunks_deleted":    chunks,
		})
	}
}

func handleListEntities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := deps.Documents.Entities(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error listing startups: %v", err)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"startups": ids, "total": len(ids)})
	}
}

func handleInventory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv, err := deps.Documents.Inventory(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "Startup documents not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error listing documents: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Documents.Document(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "doc"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "Document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error reading document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         doc.ID,
			"startup_id": doc.EntityID,
			"category":   doc.Category,
			"filename":   doc.Filename,
			"doc_index":  doc.DocIndex,
			"content":    doc.Content,
			"created_at": doc.CreatedAt,
		})
	}
}

// writeIngestError maps upload failures onto status codes. Anything that is
// not a caller mistake is a 500.
func writeIngestError(w http.ResponseWriter, err error) {
	var invalid *ingest.InvalidInputError
	switch {
	case errors.Is(err, ingest.ErrMissingDeck), errors.Is(err, ingest.ErrUnsupportedFormat), errors.As(err, &invalid):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "Error processing documents: %v", err)
	}
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
