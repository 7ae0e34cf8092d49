package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/dealscope/internal/storage"
)

// JobIndexDocuments is the job type handled by Worker.
const JobIndexDocuments = "index_documents"

// ErrMissingDeck is returned when an upload carries no primary deck.
var ErrMissingDeck = errors.New("pitch deck is required")

// InvalidInputError reports an upload the caller has to correct.
type InvalidInputError struct {
	Err error
}

func (e *InvalidInputError) Error() string { return e.Err.Error() }

func (e *InvalidInputError) Unwrap() error { return e.Err }

func invalidf(format string, args ...any) error {
	return &InvalidInputError{Err: fmt.Errorf(format, args...)}
}

// DocumentStore persists documents and queues indexing jobs.
type DocumentStore interface {
	SaveDocument(doc storage.Document) error
	GetDocument(id string) (storage.Document, error)
	ListDocuments(entityID string) ([]storage.Document, error)
	ListEntities() ([]string, error)
	DeleteDocuments(entityID string) (int, error)
	EnqueueJob(job storage.Job) error
}

// File is one uploaded file. Text, when set, is used as-is and Data is
// ignored.
type File struct {
	Category string
	Filename string
	Data     []byte
	Text     string
}

// Result describes the outcome of an upload.
type Result struct {
	EntityID       string `json:"startup_id"`
	Message        string `json:"message"`
	FilesProcessed int    `json:"files_processed"`
	ChunksCreated  int    `json:"chunks_created"`
	Queued         bool   `json:"queued,omitempty"`
}

// Service stores uploaded documents and gets them indexed, either inline or
// through the job queue.
type Service struct {
	docs    DocumentStore
	indexer *Indexer
	now     func() time.Time
}

func NewService(docs DocumentStore, indexer *Indexer) *Service {
	return &Service{
		docs:    docs,
		indexer: indexer,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type indexPayload struct {
	EntityID string `json:"entity_id"`
}

// Upload extracts and stores files for entityID, generating an id when it is
// empty. Documents are numbered per category in upload order. With async
// set, indexing is left to the Worker and ChunksCreated is zero.
func (s *Service) Upload(ctx context.Context, entityID string, files []File, async bool) (Result, error) {
	hasDeck := false
	for _, f := range files {
		if !storage.ValidCategory(f.Category) {
			return Result{}, invalidf("invalid category %q", f.Category)
		}
		if f.Category == storage.CategoryPrimaryDeck {
			hasDeck = true
		}
	}
	if !hasDeck {
		return Result{}, ErrMissingDeck
	}
	if entityID == "" {
		entityID = uuid.New().String()
	}

	docs, err := s.prepare(entityID, files, map[string]int{})
	if err != nil {
		return Result{}, err
	}
	for _, d := range docs {
		if err := s.docs.SaveDocument(d); err != nil {
			return Result{}, fmt.Errorf("saving %s: %w", d.Filename, err)
		}
	}

	res := Result{EntityID: entityID, FilesProcessed: len(docs)}
	if async {
		if err := s.Enqueue(entityID); err != nil {
			return Result{}, err
		}
		res.Queued = true
		res.Message = "Documents stored and queued for indexing"
		return res, nil
	}

	n, err := s.indexer.Index(ctx, entityID, docs)
	if err != nil {
		return Result{}, fmt.Errorf("indexing documents: %w", err)
	}
	res.ChunksCreated = n
	res.Message = "Documents processed successfully"
	return res, nil
}

// Add stores and indexes one more document for an existing entity. Its index
// follows the entity's current documents of the same category.
func (s *Service) Add(ctx context.Context, entityID string, f File) (Result, error) {
	if entityID == "" {
		return Result{}, invalidf("startup id is required")
	}
	if !storage.ValidCategory(f.Category) {
		return Result{}, invalidf("invalid category %q", f.Category)
	}

	existing, err := s.docs.ListDocuments(entityID)
	if err != nil {
		return Result{}, fmt.Errorf("listing documents: %w", err)
	}
	next := map[string]int{}
	for _, d := range existing {
		if d.DocIndex+1 > next[d.Category] {
			next[d.Category] = d.DocIndex + 1
		}
	}

	docs, err := s.prepare(entityID, []File{f}, next)
	if err != nil {
		return Result{}, err
	}
	if err := s.docs.SaveDocument(docs[0]); err != nil {
		return Result{}, fmt.Errorf("saving %s: %w", docs[0].Filename, err)
	}
	n, err := s.indexer.Index(ctx, entityID, docs)
	if err != nil {
		return Result{}, fmt.Errorf("indexing document: %w", err)
	}
	return Result{
		EntityID:       entityID,
		Message:        "Document added successfully",
		FilesProcessed: 1,
		ChunksCreated:  n,
	}, nil
}

// Enqueue schedules a background reindex of every document of entityID.
func (s *Service) Enqueue(entityID string) error {
	payload, err := json.Marshal(indexPayload{EntityID: entityID})
	if err != nil {
		return err
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobIndexDocuments,
		PayloadJSON: string(payload),
	}
	if err := s.docs.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing index job: %w", err)
	}
	return nil
}

// Purge deletes the documents and indexed chunks of entityID. It returns
// storage.ErrNotFound when neither existed.
func (s *Service) Purge(ctx context.Context, entityID string) (docs, chunks int, err error) {
	chunks, err = s.indexer.Purge(ctx, entityID)
	if err != nil {
		return 0, 0, err
	}
	docs, err = s.docs.DeleteDocuments(entityID)
	if err != nil {
		return 0, chunks, fmt.Errorf("deleting documents: %w", err)
	}
	if docs == 0 && chunks == 0 {
		return 0, 0, storage.ErrNotFound
	}
	return docs, chunks, nil
}

// Inventory summarizes what is stored and indexed for one entity.
type Inventory struct {
	EntityID  string         `json:"startup_id"`
	Documents []DocumentInfo `json:"documents"`
	Chunks    int            `json:"chunks_indexed"`
}

// DocumentInfo is a stored document without its text.
type DocumentInfo struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Filename  string    `json:"filename"`
	DocIndex  int       `json:"doc_index"`
	Length    int       `json:"length"`
	CreatedAt time.Time `json:"created_at"`
}

// Entities returns the ids of every entity with stored documents.
func (s *Service) Entities(ctx context.Context) ([]string, error) {
	ids, err := s.docs.ListEntities()
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	return ids, nil
}

// Inventory lists the documents of entityID and counts its indexed chunks.
// It returns storage.ErrNotFound when neither exist.
func (s *Service) Inventory(ctx context.Context, entityID string) (Inventory, error) {
	docs, err := s.docs.ListDocuments(entityID)
	if err != nil {
		return Inventory{}, fmt.Errorf("listing documents: %w", err)
	}
	chunks, err := s.indexer.Count(ctx, entityID)
	if err != nil {
		return Inventory{}, err
	}
	if len(docs) == 0 && chunks == 0 {
		return Inventory{}, storage.ErrNotFound
	}

	inv := Inventory{EntityID: entityID, Documents: make([]DocumentInfo, 0, len(docs)), Chunks: chunks}
	for _, d := range docs {
		inv.Documents = append(inv.Documents, DocumentInfo{
			ID:        d.ID,
			Category:  d.Category,
			Filename:  d.Filename,
			DocIndex:  d.DocIndex,
			Length:    len(d.Content),
			CreatedAt: d.CreatedAt,
		})
	}
	return inv, nil
}

// Document returns one stored document of entityID with its text.
func (s *Service) Document(ctx context.Context, entityID, docID string) (storage.Document, error) {
	doc, err := s.docs.GetDocument(docID)
	if err != nil {
		return storage.Document{}, err
	}
	if doc.EntityID != entityID {
		return storage.Document{}, storage.ErrNotFound
	}
	return doc, nil
}

func (s *Service) prepare(entityID string, files []File, next map[string]int) ([]storage.Document, error) {
	docs := make([]storage.Document, 0, len(files))
	for _, f := range files {
		text := f.Text
		if text == "" {
			var err error
			if text, err = ExtractText(f.Filename, f.Data); err != nil {
				return nil, &InvalidInputError{Err: err}
			}
		}
		idx := next[f.Category]
		next[f.Category] = idx + 1
		docs = append(docs, storage.Document{
			ID:        storage.DocumentID(entityID, f.Category, idx),
			EntityID:  entityID,
			Category:  f.Category,
			Filename:  f.Filename,
			DocIndex:  idx,
			Content:   text,
			CreatedAt: s.now(),
		})
	}
	return docs, nil
}
