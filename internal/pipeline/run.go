package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/dealscope/internal/analysis"
	"github.com/kalambet/dealscope/internal/structured"
)

var (
	// ErrNotFound is returned when no run exists for an entity.
	ErrNotFound = errors.New("analysis not found")
	// ErrNotCompleted is returned when results are requested before a run
	// has completed.
	ErrNotCompleted = errors.New("analysis not completed")
	// ErrRunInProgress is returned when an entity already has a pending or
	// processing run.
	ErrRunInProgress = errors.New("analysis already in progress for this startup")
	// ErrClosed is returned once the orchestrator has been shut down.
	ErrClosed = errors.New("analysis orchestrator is closed")
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Active reports whether a run in this state is still in flight.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// Run is one pipeline execution for one entity.
type Run struct {
	EntityID   string                           `json:"startup_id"`
	Status     Status                           `json:"status"`
	Progress   int                              `json:"progress"`
	Message    string                           `json:"message"`
	Error      string                           `json:"error,omitempty"`
	Results    *analysis.Artifacts              `json:"results,omitempty"`
	Provenance map[string]structured.Provenance `json:"provenance,omitempty"`
	CreatedAt  time.Time                        `json:"created_at"`
	UpdatedAt  time.Time                        `json:"updated_at"`
}

// RunStore keeps run state. Implementations must make TryStart atomic per
// entity id.
type RunStore interface {
	// TryStart stores run unless the entity has an active run, in which case
	// it returns ErrRunInProgress.
	TryStart(ctx context.Context, run Run) error
	// Update replaces the stored run for run.EntityID.
	Update(ctx context.Context, run Run) error
	// Get returns the run for an entity or ErrNotFound.
	Get(ctx context.Context, entityID string) (Run, error)
	// List returns all runs ordered by creation time, newest first.
	List(ctx context.Context) ([]Run, error)
	// Delete removes the run for an entity or returns ErrNotFound.
	Delete(ctx context.Context, entityID string) error
}

// MemoryRunStore is a RunStore held in process memory.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]Run
}

var _ RunStore = (*MemoryRunStore)(nil)

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]Run)}
}

func (m *MemoryRunStore) TryStart(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.runs[run.EntityID]; ok && cur.Status.Active() {
		return ErrRunInProgress
	}
	m.runs[run.EntityID] = run
	return nil
}

func (m *MemoryRunStore) Update(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.EntityID]; !ok {
		return ErrNotFound
	}
	m.runs[run.EntityID] = run
	return nil
}

func (m *MemoryRunStore) Get(_ context.Context, entityID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[entityID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

func (m *MemoryRunStore) List(_ context.Context) ([]Run, error) {
	m.mu.Lock()
	runs := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].EntityID < runs[j].EntityID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

func (m *MemoryRunStore) Delete(_ context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[entityID]; !ok {
		return ErrNotFound
	}
	delete(m.runs, entityID)
	return nil
}
