package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/dealscope/internal/chunker"
	"github.com/kalambet/dealscope/internal/retrieval"
	"github.com/kalambet/dealscope/internal/storage"
)

type lengthEmbedder struct {
	calls int
	err   error
}

func (e *lengthEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{1, float32(len(t))}
	}
	return vecs, nil
}

func newTestService(t *testing.T, embedder BatchEmbedder) (*Service, *storage.Store, *retrieval.SQLiteStore) {
	t.Helper()
	store := openTestStore(t)
	vectors := retrieval.NewSQLiteStore(store.DB())
	ix := NewIndexer(chunker.New(chunker.WithSize(40), chunker.WithOverlap(10)), embedder, vectors)
	return NewService(store, ix), store, vectors
}

func TestService_UploadIndexesSynchronously(t *testing.T) {
	svc, store, vectors := newTestService(t, &lengthEmbedder{})
	ctx := context.Background()

	res, err := svc.Upload(ctx, "acme", []File{
		{Category: storage.CategoryPrimaryDeck, Filename: "deck.txt", Data: []byte(strings.Repeat("Acme sells payroll. ", 6))},
		{Category: storage.CategoryTranscript, Filename: "call-1.txt", Data: []byte("Founder call one.")},
		{Category: storage.CategoryTranscript, Filename: "call-2.md", Text: "Founder call two."},
	}, false)
	require.NoError(t, err)

	assert.Equal(t, "acme", res.EntityID)
	assert.Equal(t, 3, res.FilesProcessed)
	assert.False(t, res.Queued)
	assert.Greater(t, res.ChunksCreated, 3)

	docs, err := store.ListDocuments("acme")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "acme_primary-deck_0", docs[0].ID)
	assert.Equal(t, "acme_transcript_1", docs[2].ID)
	assert.Equal(t, "Founder call two.", docs[2].Content)

	n, err := vectors.Count(ctx, retrieval.EntityFilter("acme", ""))
	require.NoError(t, err)
	assert.Equal(t, res.ChunksCreated, n)

	n, err = vectors.Count(ctx, retrieval.EntityFilter("acme", storage.CategoryTranscript))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestService_UploadIsIdempotent(t *testing.T) {
	svc, _, vectors := newTestService(t, &lengthEmbedder{})
	ctx := context.Background()
	files := []File{{Category: storage.CategoryPrimaryDeck, Filename: "deck.txt", Text: strings.Repeat("word ", 50)}}

	first, err := svc.Upload(ctx, "acme", files, false)
	require.NoError(t, err)
	second, err := svc.Upload(ctx, "acme", files, false)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksCreated, second.ChunksCreated)

	n, err := vectors.Count(ctx, retrieval.EntityFilter("acme", ""))
	require.NoError(t, err)
	assert.Equal(t, first.ChunksCreated, n)
}

func TestService_UploadGeneratesEntityID(t *testing.T) {
	svc, _, _ := newTestService(t, &lengthEmbedder{})
	res, err := svc.Upload(context.Background(), "", []File{
		{Category: storage.CategoryPrimaryDeck, Filename: "deck.txt", Text: "deck"},
	}, false)
	require.NoError(t, err)
	assert.Len(t, res.EntityID, 36)
}

func TestService_UploadValidation(t *testing.T) {
	svc, store, _ := newTestService(t, &lengthEmbedder{})
	ctx := context.Background()

	_, err := svc.Upload(ctx, "acme", []File{{Category: storage.CategoryTranscript, Filename: "a.txt", Text: "x"}}, false)
	assert.True(t, errors.Is(err, ErrMissingDeck))

	_, err = svc.Upload(ctx, "acme", []File{{Category: "memo", Filename: "a.txt", Text: "x"}}, false)
	assert.ErrorContains(t, err, `invalid category "memo"`)

	_, err = svc.Upload(ctx, "acme", []File{{Category: storage.CategoryPrimaryDeck, Filename: "deck.key", Data: []byte("x")}}, false)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	docs, err := store.ListDocuments("acme")
	require.NoError(t, err)
	assert.Empty(t, docs, "a rejected upload stores nothing")
}

func TestService_UploadAsyncQueuesJob(t *testing.T) {
	embedder := &lengthEmbedder{}
	svc, store, vectors := newTestService(t, embedder)
	ctx := context.Background()

	res, err := svc.Upload(ctx, "acme", []File{
		{Category: storage.CategoryPrimaryDeck, Filename: "deck.txt", Text: "Acme deck"},
	}, true)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Zero(t, res.ChunksCreated)
	assert.Zero(t, embedder.calls)

	w := NewWorker(store, svc.indexer, 0)
	didWork, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, didWork)

	n, err := vectors.Count(ctx, retrieval.EntityFilter("acme", ""))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_UploadEmbeddingFailure(t *testing.T) {
	svc, _, _ := newTestService(t, &lengthEmbedder{err: errors.New("hf down")})
	_, err := svc.Upload(context.Background(), "acme", []File{
		{Category: storage.CategoryPrimaryDeck, Filename: "deck.txt", Text: "deck"},
	}, false)
	assert.ErrorContains(t, err, "hf down")
}

func TestService_AddAppendsIndex(t *testing.T) {
	svc, store, _ := newTestService(t, &lengthEmbedder{})
	ctx := context.Background()

	_, err := svc.Upload(ctx, "acme", []File{
		{Category: storage.CategoryPrimaryDeck, Filename: "deck.txt", Text: "deck"},
		{Category: storage.CategoryUpdate, Filename: "q1.txt", Text: "q1"},
	}, false)
	require.NoError(t, err)

	res, err := svc.Add(ctx, "acme", File{Category: storage.CategoryUpdate, Filename: "q2.txt", Text: "q2 update"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksCreated)

	doc, err := store.GetDocument("acme_update_1")
	require.NoError(t, err)
	assert.Equal(t, "q2 update", doc.Content)

	_, err = svc.Add(ctx, "", File{Category: storage.CategoryUpdate, Text: "x"})
	assert.Error(t, err)
}

func TestService_Purge(t *testing.T) {
	svc, store, vectors := newTestService(t, &lengthEmbedder{})
	ctx := context.Background()

	_, err := svc.Upload(ctx, "acme", []File{
		{Category: storage.CategoryPrimaryDeck, Filename: "deck.txt", Text: "deck"},
	}, false)
	require.NoError(t, err)

	docs, chunks, err := svc.Purge(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 1, chunks)

	remaining, _ := store.ListDocuments("acme")
	assert.Empty(t, remaining)
	n, _ := vectors.Count(ctx, retrieval.EntityFilter("acme", ""))
	assert.Zero(t, n)

	_, _, err = svc.Purge(ctx, "acme")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestIndexer_SkipsEmptyDocuments(t *testing.T) {
	embedder := &lengthEmbedder{}
	_, _, vectors := newTestService(t, embedder)
	ix := NewIndexer(nil, embedder, vectors)

	n, err := ix.Index(context.Background(), "acme", []storage.Document{{Category: storage.CategoryUpdate, Content: ""}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, embedder.calls)
}
