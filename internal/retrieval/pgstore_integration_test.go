//go:build integration

package retrieval

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// Run with a pgvector-enabled database:
//
//	DEALSCOPE_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/retrieval/
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("DEALSCOPE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DEALSCOPE_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestPostgresStore_Contract(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	entity := fmt.Sprintf("it-%d", time.Now().UnixNano())
	other := entity + "-other"
	t.Cleanup(func() {
		s.DeleteByEntity(ctx, entity)
		s.DeleteByEntity(ctx, other)
	})

	recs := deckRecords(entity, 3)
	if err := s.Upsert(ctx, recs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, recs); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	n, err := s.Count(ctx, EntityFilter(entity, ""))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d after idempotent upsert, want 3", n)
	}

	got, err := s.Query(ctx, recs[2].Embedding, EntityFilter(entity, "primary-deck"), 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].ID != recs[2].ID {
		t.Errorf("Query = %+v, want %s first", got, recs[2].ID)
	}

	got, err = s.Query(ctx, recs[0].Embedding, EntityFilter(other, ""), 5)
	if err != nil {
		t.Fatalf("Query other entity: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("other entity returned %d records, want 0", len(got))
	}

	if _, err := s.Query(ctx, recs[0].Embedding, Filter{"doc_type": "x"}, 5); err == nil {
		t.Error("expected ErrInvalidFilter for unknown key")
	}

	deleted, err := s.DeleteByEntity(ctx, entity)
	if err != nil {
		t.Fatalf("DeleteByEntity: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
}
