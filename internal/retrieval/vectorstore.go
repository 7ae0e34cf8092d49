package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// VectorStore is the interface for chunk storage and filtered similarity
// search backends. SQLiteStore is the default; PostgresStore uses pgvector.
//
// Every backend must honour the same contract:
//   - Upsert overwrites by Record.ID, so re-ingesting a document set never
//     duplicates records.
//   - Query applies the Filter as an exact-match AND over metadata before
//     ranking, and returns at most topK records by cosine similarity.
//   - An empty result is not an error.
type VectorStore interface {
	// Upsert inserts records, replacing any existing record with the same ID.
	Upsert(ctx context.Context, records []Record) error

	// Query returns the topK records most similar to vector among those
	// matching filter, highest score first.
	Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]ScoredRecord, error)

	// DeleteByEntity removes every record for the entity and reports how many
	// were removed.
	DeleteByEntity(ctx context.Context, entityID string) (int, error)

	// Count returns the number of records matching filter.
	Count(ctx context.Context, filter Filter) (int, error)
}

// Record is one indexed chunk.
type Record struct {
	ID         string
	EntityID   string
	Category   string
	Filename   string
	DocIndex   int
	ChunkIndex int
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// RecordID returns the deterministic ID for a chunk. Re-ingesting the same
// document set produces the same IDs.
func RecordID(entityID, category string, docIndex, chunkIndex int) string {
	return fmt.Sprintf("%s_%s_%d_%d", entityID, category, docIndex, chunkIndex)
}

// Filter keys accepted by every backend.
const (
	FilterEntityID = "entity_id"
	FilterCategory = "category"
	FilterFilename = "filename"
)

// ErrInvalidFilter is returned when a Filter names an unsupported key.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter is an exact-match AND over metadata keys. Empty values are ignored.
type Filter map[string]string

// EntityFilter matches all records for an entity, optionally restricted to a
// category when category is non-empty.
func EntityFilter(entityID, category string) Filter {
	f := Filter{FilterEntityID: entityID}
	if category != "" {
		f[FilterCategory] = category
	}
	return f
}

// clauses validates the filter and returns its non-empty terms sorted by key.
func (f Filter) clauses() ([]filterTerm, error) {
	terms := make([]filterTerm, 0, len(f))
	for k, v := range f {
		switch k {
		case FilterEntityID, FilterCategory, FilterFilename:
		default:
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidFilter, k)
		}
		if v == "" {
			continue
		}
		terms = append(terms, filterTerm{column: k, value: v})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].column < terms[j].column })
	return terms, nil
}

type filterTerm struct {
	column string
	value  string
}
