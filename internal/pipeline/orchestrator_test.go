package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/dealscope/internal/analysis"
	"github.com/kalambet/dealscope/internal/structured"
)

// --- fake stage ---

type fakeStage struct {
	name  string
	runFn func(ctx context.Context, entityID string, a *analysis.Artifacts) (structured.Provenance, error)
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Run(ctx context.Context, entityID string, a *analysis.Artifacts) (structured.Provenance, error) {
	if f.runFn != nil {
		return f.runFn(ctx, entityID, a)
	}
	return structured.ProvenanceOK, nil
}

// recordingStore wraps MemoryRunStore and remembers every update.
type recordingStore struct {
	*MemoryRunStore
	mu      sync.Mutex
	updates []Run
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryRunStore: NewMemoryRunStore()}
}

func (r *recordingStore) Update(ctx context.Context, run Run) error {
	r.mu.Lock()
	r.updates = append(r.updates, run)
	r.mu.Unlock()
	return r.MemoryRunStore.Update(ctx, run)
}

func (r *recordingStore) snapshot() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Run(nil), r.updates...)
}

func happyStages() []analysis.Stage {
	return []analysis.Stage{
		&fakeStage{name: analysis.StageExtraction, runFn: func(_ context.Context, _ string, a *analysis.Artifacts) (structured.Provenance, error) {
			ex := analysis.DefaultExtraction()
			a.Extraction = &ex
			return structured.ProvenanceOK, nil
		}},
		&fakeStage{name: analysis.StageBenchmarking},
		&fakeStage{name: analysis.StageRisk, runFn: func(_ context.Context, _ string, a *analysis.Artifacts) (structured.Provenance, error) {
			a.Risk = &analysis.RiskAnalysis{RedFlags: []analysis.RedFlag{{Severity: "CRITICAL", Title: "Fabricated revenue"}}}
			return structured.ProvenancePartial, nil
		}},
		&fakeStage{name: analysis.StageMarketResearch},
		&fakeStage{name: analysis.StageGrowth},
		&fakeStage{name: analysis.StageRecommendation, runFn: func(_ context.Context, _ string, a *analysis.Artifacts) (structured.Provenance, error) {
			a.Recommendation = &analysis.Recommendation{Decision: "INVEST", KeyConcerns: []string{"Valuation"}}
			return structured.ProvenanceOK, nil
		}},
	}
}

func newTestOrchestrator(t *testing.T, stages []analysis.Stage, store RunStore, workers int) *Orchestrator {
	t.Helper()
	o, err := New(stages, store, workers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { o.Close(time.Second) })
	return o
}

func waitForStatus(t *testing.T, o *Orchestrator, entityID string, want Status) Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := o.Status(context.Background(), entityID)
		if err == nil && run.Status == want {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("entity %s never reached status %s", entityID, want)
	return Run{}
}

func TestStart_CompletesWithOverrideAndProvenance(t *testing.T) {
	store := newRecordingStore()
	o := newTestOrchestrator(t, happyStages(), store, 2)

	run, err := o.Start(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Status != StatusPending || run.Progress != 0 || run.Message != MessageQueued {
		t.Errorf("Start returned %+v, want pending/0/%q", run, MessageQueued)
	}
	o.Wait()

	got, err := o.Results(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if got.Progress != 100 || got.Message != MessageCompleted {
		t.Errorf("progress=%d message=%q, want 100 %q", got.Progress, got.Message, MessageCompleted)
	}
	rec := got.Results.Recommendation
	if rec.Decision != analysis.DecisionPass {
		t.Errorf("decision = %q, want PASS", rec.Decision)
	}
	if len(rec.KeyConcerns) != 2 || rec.KeyConcerns[0] != "CRITICAL: 1 critical red flags detected" {
		t.Errorf("key_concerns = %v", rec.KeyConcerns)
	}
	if got.Provenance[analysis.StageRisk] != structured.ProvenancePartial {
		t.Errorf("risk provenance = %q, want partial", got.Provenance[analysis.StageRisk])
	}
	if len(got.Provenance) != 6 {
		t.Errorf("provenance has %d entries, want 6", len(got.Provenance))
	}
}

func TestStart_ProgressIsMonotonic(t *testing.T) {
	store := newRecordingStore()
	o := newTestOrchestrator(t, happyStages(), store, 1)

	if _, err := o.Start(context.Background(), "acme"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	o.Wait()

	updates := store.snapshot()
	if len(updates) != 7 {
		t.Fatalf("got %d updates, want 7", len(updates))
	}
	if updates[0].Status != StatusProcessing || updates[0].Progress != 10 || updates[0].Message != MessageStarting {
		t.Errorf("first update = %+v", updates[0])
	}
	prev := 0
	for i, u := range updates {
		if u.Progress < prev {
			t.Errorf("update %d progress %d < %d", i, u.Progress, prev)
		}
		prev = u.Progress
	}
	if last := updates[len(updates)-1]; last.Status != StatusCompleted || last.Progress != 100 {
		t.Errorf("last update = %+v", last)
	}
}

func TestStart_StageErrorFailsRun(t *testing.T) {
	boom := errors.New("risk: invoking model: missing API key")
	var ran []string
	var mu sync.Mutex
	record := func(name string) func(context.Context, string, *analysis.Artifacts) (structured.Provenance, error) {
		return func(context.Context, string, *analysis.Artifacts) (structured.Provenance, error) {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			if name == "risk" {
				return "", boom
			}
			return structured.ProvenanceOK, nil
		}
	}
	stages := []analysis.Stage{
		&fakeStage{name: "extraction", runFn: record("extraction")},
		&fakeStage{name: "benchmarking", runFn: record("benchmarking")},
		&fakeStage{name: "risk", runFn: record("risk")},
		&fakeStage{name: "market_research", runFn: record("market_research")},
	}
	o := newTestOrchestrator(t, stages, nil, 1)

	if _, err := o.Start(context.Background(), "acme"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	o.Wait()

	run, err := o.Status(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if run.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.Error != boom.Error() {
		t.Errorf("error = %q, want %q", run.Error, boom.Error())
	}
	if run.Message != "Analysis failed: "+boom.Error() {
		t.Errorf("message = %q", run.Message)
	}
	if run.Results != nil {
		t.Error("failed run kept artifacts")
	}
	if run.Progress < 10 {
		t.Errorf("progress regressed to %d", run.Progress)
	}
	if strings.Join(ran, ",") != "extraction,benchmarking,risk" {
		t.Errorf("stages run = %v", ran)
	}

	_, err = o.Results(context.Background(), "acme")
	if !errors.Is(err, ErrNotCompleted) {
		t.Errorf("Results error = %v, want ErrNotCompleted", err)
	}
	if !strings.Contains(err.Error(), "Current status: failed") {
		t.Errorf("Results error = %q", err.Error())
	}
}

func TestStart_PanicFailsRun(t *testing.T) {
	stages := []analysis.Stage{&fakeStage{name: "extraction", runFn: func(context.Context, string, *analysis.Artifacts) (structured.Provenance, error) {
		panic("nil map")
	}}}
	o := newTestOrchestrator(t, stages, nil, 1)

	if _, err := o.Start(context.Background(), "acme"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	o.Wait()

	run, _ := o.Status(context.Background(), "acme")
	if run.Status != StatusFailed || !strings.Contains(run.Error, "nil map") {
		t.Errorf("run = %+v, want failed with panic text", run)
	}
}

// Scenario: a start while processing is rejected; a start after completion
// or for an unknown entity is accepted.
func TestStart_RejectsConcurrentRunForSameEntity(t *testing.T) {
	release := make(chan struct{})
	stages := []analysis.Stage{&fakeStage{name: "extraction", runFn: func(ctx context.Context, _ string, _ *analysis.Artifacts) (structured.Provenance, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return structured.ProvenanceOK, nil
	}}}
	o := newTestOrchestrator(t, stages, nil, 4)
	ctx := context.Background()

	if _, err := o.Start(ctx, "e1"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	waitForStatus(t, o, "e1", StatusProcessing)

	if _, err := o.Start(ctx, "e1"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second Start error = %v, want ErrRunInProgress", err)
	}
	if err := o.Delete(ctx, "e1"); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Delete during run = %v, want ErrRunInProgress", err)
	}

	// Another entity is independent.
	if _, err := o.Start(ctx, "e2"); err != nil {
		t.Fatalf("Start e2: %v", err)
	}

	close(release)
	o.Wait()
	waitForStatus(t, o, "e1", StatusCompleted)

	run, err := o.Start(ctx, "e1")
	if err != nil {
		t.Fatalf("restart after completion: %v", err)
	}
	if run.Status != StatusPending {
		t.Errorf("restart status = %s, want pending", run.Status)
	}
	o.Wait()
}

// With every worker busy, runs for other entities are accepted and wait in
// pending until a worker frees up.
func TestStart_QueuesWhenWorkersBusy(t *testing.T) {
	release := make(chan struct{})
	stages := []analysis.Stage{&fakeStage{name: "extraction", runFn: func(_ context.Context, entityID string, _ *analysis.Artifacts) (structured.Provenance, error) {
		if entityID == "a" {
			<-release
		}
		return structured.ProvenanceOK, nil
	}}}
	o := newTestOrchestrator(t, stages, nil, 1)
	ctx := context.Background()

	if _, err := o.Start(ctx, "a"); err != nil {
		t.Fatalf("Start a: %v", err)
	}
	waitForStatus(t, o, "a", StatusProcessing)

	queued := []string{"b", "c", "d", "e"}
	for _, id := range queued {
		run, err := o.Start(ctx, id)
		if err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
		if run.Status != StatusPending {
			t.Errorf("Start %s status = %s, want pending", id, run.Status)
		}
	}

	time.Sleep(20 * time.Millisecond)
	for _, id := range queued {
		run, err := o.Status(ctx, id)
		if err != nil {
			t.Fatalf("Status %s: %v", id, err)
		}
		if run.Status != StatusPending || run.Message != MessageQueued {
			t.Errorf("%s = %s/%q while worker busy, want pending/%q", id, run.Status, run.Message, MessageQueued)
		}
	}
	if _, err := o.Start(ctx, "b"); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("restart of queued run error = %v, want ErrRunInProgress", err)
	}

	close(release)
	o.Wait()
	for _, id := range append([]string{"a"}, queued...) {
		waitForStatus(t, o, id, StatusCompleted)
	}
}

// Closing the orchestrator fails runs still waiting for a worker and rejects
// new starts.
func TestClose_FailsQueuedRuns(t *testing.T) {
	stages := []analysis.Stage{&fakeStage{name: "extraction", runFn: func(ctx context.Context, _ string, _ *analysis.Artifacts) (structured.Provenance, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}}
	o, err := New(stages, nil, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := o.Start(ctx, "running"); err != nil {
		t.Fatalf("Start running: %v", err)
	}
	waitForStatus(t, o, "running", StatusProcessing)
	if _, err := o.Start(ctx, "waiting"); err != nil {
		t.Fatalf("Start waiting: %v", err)
	}

	if err := o.Close(time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, id := range []string{"running", "waiting"} {
		run := waitForStatus(t, o, id, StatusFailed)
		if run.Error == "" {
			t.Errorf("%s failed without an error message", id)
		}
	}
	if _, err := o.Start(ctx, "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close error = %v, want ErrClosed", err)
	}
}

func TestStatusResultsDelete_Unknown(t *testing.T) {
	o := newTestOrchestrator(t, happyStages(), nil, 1)
	ctx := context.Background()

	if _, err := o.Status(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status = %v, want ErrNotFound", err)
	}
	if _, err := o.Results(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Results = %v, want ErrNotFound", err)
	}
	if err := o.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteAndList(t *testing.T) {
	o := newTestOrchestrator(t, happyStages(), nil, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := o.Start(ctx, id); err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
	}
	o.Wait()

	runs, err := o.List(ctx)
	if err != nil || len(runs) != 2 {
		t.Fatalf("List = %d runs, err %v", len(runs), err)
	}

	if err := o.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	runs, _ = o.List(ctx)
	if len(runs) != 1 || runs[0].EntityID != "b" {
		t.Errorf("List after delete = %+v", runs)
	}
}

func TestMemoryRunStore_TryStart(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()

	if err := s.TryStart(ctx, Run{EntityID: "e", Status: StatusPending}); err != nil {
		t.Fatalf("TryStart: %v", err)
	}
	if err := s.TryStart(ctx, Run{EntityID: "e", Status: StatusPending}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("TryStart on pending = %v, want ErrRunInProgress", err)
	}
	if err := s.Update(ctx, Run{EntityID: "e", Status: StatusFailed}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.TryStart(ctx, Run{EntityID: "e", Status: StatusPending}); err != nil {
		t.Errorf("TryStart after failure = %v", err)
	}
	if err := s.Update(ctx, Run{EntityID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update unknown = %v, want ErrNotFound", err)
	}
}
