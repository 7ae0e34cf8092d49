package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/dealscope/internal/storage"
)

// JobStore abstracts the job queue and the documents a job refers to.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	ListDocuments(entityID string) ([]storage.Document, error)
}

// DocumentIndexer writes an entity's documents to the vector index.
type DocumentIndexer interface {
	Index(ctx context.Context, entityID string, docs []storage.Document) (int, error)
}

// Worker processes index_documents jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	indexer DocumentIndexer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, indexer DocumentIndexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		indexer: indexer,
		poll:    pollInterval,
		logger:  slog.Default().With("component", "ingest_worker"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index_documents job. It reports
// whether a job was claimed, regardless of its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobIndexDocuments})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload indexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.EntityID == "" {
		return errors.New("payload has no entity_id")
	}

	docs, err := w.store.ListDocuments(payload.EntityID)
	if err != nil {
		return fmt.Errorf("loading documents for %s: %w", payload.EntityID, err)
	}
	if len(docs) == 0 {
		w.logger.Info("no documents to index", "entity_id", payload.EntityID)
		return nil
	}

	n, err := w.indexer.Index(ctx, payload.EntityID, docs)
	if err != nil {
		return err
	}
	w.logger.Debug("index job done", "job_id", job.ID, "entity_id", payload.EntityID, "chunks", n)
	return nil
}
