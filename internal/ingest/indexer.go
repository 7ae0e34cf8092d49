package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/dealscope/internal/chunker"
	"github.com/kalambet/dealscope/internal/retrieval"
	"github.com/kalambet/dealscope/internal/storage"
)

// BatchEmbedder generates embeddings for many texts at once.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer chunks documents, embeds the chunks and writes them to a vector
// store.
type Indexer struct {
	chunker  *chunker.Chunker
	embedder BatchEmbedder
	vectors  retrieval.VectorStore
	logger   *slog.Logger
}

func NewIndexer(c *chunker.Chunker, embedder BatchEmbedder, vectors retrieval.VectorStore) *Indexer {
	if c == nil {
		c = chunker.New()
	}
	return &Indexer{
		chunker:  c,
		embedder: embedder,
		vectors:  vectors,
		logger:   slog.Default().With("component", "indexer"),
	}
}

// Index stores every chunk of docs under entityID and returns the number of
// chunks written. Chunk ids are deterministic, so indexing the same documents
// again overwrites rather than duplicates.
func (ix *Indexer) Index(ctx context.Context, entityID string, docs []storage.Document) (int, error) {
	now := time.Now().UTC()
	var records []retrieval.Record
	for _, doc := range docs {
		for i, text := range ix.chunker.Split(doc.Content) {
			records = append(records, retrieval.Record{
				ID:         retrieval.RecordID(entityID, doc.Category, doc.DocIndex, i),
				EntityID:   entityID,
				Category:   doc.Category,
				Filename:   doc.Filename,
				DocIndex:   doc.DocIndex,
				ChunkIndex: i,
				TextChunk:  text,
				CreatedAt:  now,
			})
		}
	}
	if len(records) == 0 {
		return 0, nil
	}

	texts := make([]string, len(records))
	for i := range records {
		texts[i] = records[i].TextChunk
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vecs) != len(records) {
		return 0, fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(vecs), len(records))
	}
	for i := range records {
		records[i].Embedding = vecs[i]
	}

	if err := ix.vectors.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("upserting chunks: %w", err)
	}
	ix.logger.Info("documents indexed", "entity_id", entityID, "documents", len(docs), "chunks", len(records))
	return len(records), nil
}

// Purge removes every indexed chunk of entityID.
func (ix *Indexer) Purge(ctx context.Context, entityID string) (int, error) {
	n, err := ix.vectors.DeleteByEntity(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks: %w", err)
	}
	return n, nil
}

// Count returns how many chunks are indexed for entityID.
func (ix *Indexer) Count(ctx context.Context, entityID string) (int, error) {
	n, err := ix.vectors.Count(ctx, retrieval.EntityFilter(entityID, ""))
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}
