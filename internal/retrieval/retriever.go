package retrieval

import (
	"context"
	"log/slog"
	"time"
)

// ContextChunk is a retrieved context fragment with its similarity score.
type ContextChunk struct {
	ID         string
	EntityID   string
	Category   string
	Filename   string
	DocIndex   int
	ChunkIndex int
	Text       string
	Score      float32
	CreatedAt  time.Time
}

// Retriever combines embedding and filtered vector search to find the
// chunks most relevant to a question.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	logger   *slog.Logger
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{
		embedder: embedder,
		store:    store,
		logger:   slog.Default().With("component", "retriever"),
	}
}

// Retrieve embeds the question and returns up to topK chunks matching filter.
// A retrieval miss is never fatal: embedding or backend failures are logged
// and yield an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, question string, filter Filter, topK int) []ContextChunk {
	chunks, err := r.Search(ctx, question, filter, topK)
	if err != nil {
		r.logger.Warn("retrieval failed, continuing without context",
			"error", err, "entity_id", filter[FilterEntityID], "category", filter[FilterCategory])
		return []ContextChunk{}
	}
	return chunks
}

// Search is Retrieve without degradation: errors are returned to the caller.
func (r *Retriever) Search(ctx context.Context, question string, filter Filter, topK int) ([]ContextChunk, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	scored, err := r.store.Query(ctx, vec, filter, topK)
	if err != nil {
		return nil, err
	}
	return scoredToChunks(scored), nil
}

func scoredToChunks(scored []ScoredRecord) []ContextChunk {
	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:         s.ID,
			EntityID:   s.EntityID,
			Category:   s.Category,
			Filename:   s.Filename,
			DocIndex:   s.DocIndex,
			ChunkIndex: s.ChunkIndex,
			Text:       s.TextChunk,
			Score:      s.Score,
			CreatedAt:  s.CreatedAt,
		}
	}
	return chunks
}
