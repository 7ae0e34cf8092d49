// Package pipeline runs the analysis stages for one entity at a time on a
// bounded worker pool and tracks each run's lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kalambet/dealscope/internal/analysis"
	"github.com/kalambet/dealscope/internal/decision"
	"github.com/kalambet/dealscope/internal/structured"
)

const (
	defaultWorkers = 4

	progressProcessing = 10
	progressDone       = 100
)

// Lifecycle messages.
const (
	MessageQueued    = "Analysis queued"
	MessageStarting  = "Starting analysis..."
	MessageCompleted = "Analysis completed successfully"
)

// Orchestrator executes analysis runs. Runs for different entities proceed
// independently; an entity has at most one active run.
type Orchestrator struct {
	stages []analysis.Stage
	store  RunStore
	pool   *ants.Pool
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Orchestrator running stages in order with at most workers
// concurrent runs. A nil store uses a MemoryRunStore.
func New(stages []analysis.Stage, store RunStore, workers int) (*Orchestrator, error) {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if store == nil {
		store = NewMemoryRunStore()
	}

	logger := slog.Default().With("component", "orchestrator")
	// Submit blocks while every worker is busy; Start submits from its own
	// goroutine so extra runs wait in pending instead of being rejected.
	pool, err := ants.NewPool(workers,
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("analysis worker panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		stages: stages,
		store:  store,
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start records a pending run for entityID and schedules it. It returns
// immediately; ErrRunInProgress means the entity already has an active run.
// When every worker is busy the run stays pending until one frees up.
func (o *Orchestrator) Start(ctx context.Context, entityID string) (Run, error) {
	if o.ctx.Err() != nil {
		return Run{}, ErrClosed
	}

	now := o.now()
	run := Run{
		EntityID:  entityID,
		Status:    StatusPending,
		Progress:  0,
		Message:   MessageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.TryStart(ctx, run); err != nil {
		return Run{}, err
	}

	o.wg.Add(1)
	go o.schedule(run)

	o.logger.Info("analysis queued", "entity_id", entityID)
	return run, nil
}

// schedule hands run to the pool, waiting for a free worker.
func (o *Orchestrator) schedule(run Run) {
	logger := o.logger.With("entity_id", run.EntityID)
	err := o.pool.Submit(func() {
		defer o.wg.Done()
		if err := o.ctx.Err(); err != nil {
			o.fail(o.ctx, run, err, logger)
			return
		}
		o.execute(o.ctx, run)
	})
	if err != nil {
		defer o.wg.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			err = ErrClosed
		}
		o.fail(o.ctx, run, err, logger)
	}
}

// execute runs every stage and records the outcome. A stage error fails the
// run; a panic is recorded as a failure as well.
func (o *Orchestrator) execute(ctx context.Context, run Run) {
	start := time.Now()
	logger := o.logger.With("entity_id", run.EntityID)

	defer func() {
		if p := recover(); p != nil {
			o.fail(ctx, run, fmt.Errorf("panic: %v", p), logger)
		}
	}()

	run.Status = StatusProcessing
	run.Progress = progressProcessing
	run.Message = MessageStarting
	o.save(ctx, &run, logger)

	artifacts := &analysis.Artifacts{}
	provenance := make(map[string]structured.Provenance, len(o.stages))
	step := (progressDone - progressProcessing) / max(len(o.stages), 1)

	for i, s := range o.stages {
		prov, err := s.Run(ctx, run.EntityID, artifacts)
		if err != nil {
			o.fail(ctx, run, err, logger)
			return
		}
		provenance[s.Name()] = prov

		if i < len(o.stages)-1 {
			run.Progress = progressProcessing + step*(i+1)
			run.Message = fmt.Sprintf("Completed %s", s.Name())
			o.save(ctx, &run, logger)
		}
	}

	if artifacts.Recommendation != nil {
		var flags []analysis.RedFlag
		if artifacts.Risk != nil {
			flags = artifacts.Risk.RedFlags
		}
		rec := decision.Apply(*artifacts.Recommendation, flags)
		artifacts.Recommendation = &rec
	}

	run.Status = StatusCompleted
	run.Progress = progressDone
	run.Message = MessageCompleted
	run.Results = artifacts
	run.Provenance = provenance
	o.save(ctx, &run, logger)

	logger.Info("analysis completed", "duration_ms", time.Since(start).Milliseconds())
}

// fail marks run failed. Progress stays where the run stopped.
func (o *Orchestrator) fail(ctx context.Context, run Run, err error, logger *slog.Logger) {
	run.Status = StatusFailed
	run.Error = err.Error()
	run.Message = "Analysis failed: " + err.Error()
	run.Results = nil
	run.Provenance = nil
	// The run context may be cancelled; failure must still be recorded.
	o.save(context.WithoutCancel(ctx), &run, logger)
	logger.Error("analysis failed", "error", err)
}

func (o *Orchestrator) save(ctx context.Context, run *Run, logger *slog.Logger) {
	run.UpdatedAt = o.now()
	if err := o.store.Update(ctx, *run); err != nil {
		logger.Warn("updating run state", "status", run.Status, "error", err)
	}
}

// Status returns the current run for entityID.
func (o *Orchestrator) Status(ctx context.Context, entityID string) (Run, error) {
	return o.store.Get(ctx, entityID)
}

// Results returns the artifacts of a completed run.
func (o *Orchestrator) Results(ctx context.Context, entityID string) (Run, error) {
	run, err := o.store.Get(ctx, entityID)
	if err != nil {
		return Run{}, err
	}
	if run.Status != StatusCompleted {
		return run, fmt.Errorf("%w. Current status: %s", ErrNotCompleted, run.Status)
	}
	return run, nil
}

// Delete removes a finished run. Active runs cannot be deleted.
func (o *Orchestrator) Delete(ctx context.Context, entityID string) error {
	run, err := o.store.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if run.Status.Active() {
		return ErrRunInProgress
	}
	return o.store.Delete(ctx, entityID)
}

// List returns every known run, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]Run, error) {
	return o.store.List(ctx)
}

// Wait blocks until all scheduled runs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels in-flight runs, waits up to timeout for them to record their
// outcome and releases the worker pool.
func (o *Orchestrator) Close(timeout time.Duration) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		o.logger.Warn("timed out waiting for analysis runs")
	}
	return o.pool.ReleaseTimeout(timeout)
}
