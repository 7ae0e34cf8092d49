package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/dealscope/internal/analysis"
	"github.com/kalambet/dealscope/internal/chunker"
	"github.com/kalambet/dealscope/internal/ingest"
	"github.com/kalambet/dealscope/internal/pipeline"
	"github.com/kalambet/dealscope/internal/retrieval"
	"github.com/kalambet/dealscope/internal/storage"
	"github.com/kalambet/dealscope/internal/structured"
)

const testToken = "test-token-12345"

// --- mocks ---

type constEmbedder struct{}

func (constEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0.5}
	}
	return vecs, nil
}

type mockSearcher struct {
	mu     sync.Mutex
	chunks []retrieval.ContextChunk
	err    error
	filter retrieval.Filter
	topK   int
}

func (m *mockSearcher) Search(_ context.Context, _ string, filter retrieval.Filter, topK int) ([]retrieval.ContextChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = filter
	m.topK = topK
	return m.chunks, m.err
}

type fakeStage struct {
	name  string
	runFn func(ctx context.Context, a *analysis.Artifacts) error
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Run(ctx context.Context, _ string, a *analysis.Artifacts) (structured.Provenance, error) {
	if f.runFn != nil {
		if err := f.runFn(ctx, a); err != nil {
			return "", err
		}
	}
	return structured.ProvenanceOK, nil
}

// --- helpers ---

type testEnv struct {
	handler  http.Handler
	deps     Deps
	store    *storage.Store
	vectors  *retrieval.SQLiteStore
	orch     *pipeline.Orchestrator
	searcher *mockSearcher
	gate     chan struct{}
}

// newTestEnv wires real storage, ingestion and an orchestrator whose stages
// block on gate until it is closed. The stages flag one critical risk and
// recommend INVEST.
func newTestEnv(t *testing.T, workers int) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	vectors := retrieval.NewSQLiteStore(store.DB())
	indexer := ingest.NewIndexer(chunker.New(), constEmbedder{}, vectors)
	docs := ingest.NewService(store, indexer)

	gate := make(chan struct{})
	stages := []analysis.Stage{
		&fakeStage{name: analysis.StageRisk, runFn: func(ctx context.Context, a *analysis.Artifacts) error {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
			risk := analysis.DefaultRiskAnalysis()
			risk.RedFlags = []analysis.RedFlag{{Severity: "CRITICAL", Title: "Fabricated revenue", Evidence: []string{}}}
			a.Risk = &risk
			return nil
		}},
		&fakeStage{name: analysis.StageRecommendation, runFn: func(_ context.Context, a *analysis.Artifacts) error {
			rec := analysis.DefaultRecommendation()
			rec.Decision = analysis.DecisionInvest
			rec.KeyConcerns = []string{"valuation"}
			a.Recommendation = &rec
			return nil
		}},
	}
	orch, err := pipeline.New(stages, pipeline.NewMemoryRunStore(), workers)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	env := &testEnv{store: store, vectors: vectors, orch: orch, searcher: &mockSearcher{}, gate: gate}
	t.Cleanup(func() {
		env.release()
		orch.Wait()
		orch.Close(time.Second)
	})

	env.deps = Deps{
		Documents: docs,
		Analyses:  orch,
		Chunks:    env.searcher,
		Token:     testToken,
	}
	env.handler = NewRouter(env.deps)
	return env
}

func (e *testEnv) release() {
	select {
	case <-e.gate:
	default:
		close(e.gate)
	}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding body %q: %v", rr.Body.String(), err)
	}
	return out
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rr)
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error envelope: %s", rr.Body.String())
	}
	msg, _ := e["message"].(string)
	return msg
}
