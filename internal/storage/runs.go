package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/dealscope/internal/analysis"
	"github.com/kalambet/dealscope/internal/pipeline"
	"github.com/kalambet/dealscope/internal/structured"
)

var _ pipeline.RunStore = (*RunStore)(nil)

// RunStore persists analysis runs in the analysis_runs table.
type RunStore struct {
	db *sql.DB
}

// Runs returns the run store backed by this database.
func (s *Store) Runs() *RunStore {
	return &RunStore{db: s.db}
}

// TryStart inserts run unless the entity already has a pending or
// processing run.
func (s *RunStore) TryStart(ctx context.Context, run pipeline.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning start transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM analysis_runs WHERE entity_id = ?`, run.EntityID).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("checking run for %s: %w", run.EntityID, err)
	case pipeline.Status(status).Active():
		return pipeline.ErrRunInProgress
	}

	if err := upsertRun(ctx, tx, run); err != nil {
		return err
	}
	return tx.Commit()
}

// Update replaces the stored run.
func (s *RunStore) Update(ctx context.Context, run pipeline.Run) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_runs WHERE entity_id = ?`, run.EntityID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return pipeline.ErrNotFound
	}
	return upsertRun(ctx, s.db, run)
}

func (s *RunStore) Get(ctx context.Context, entityID string) (pipeline.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, status, progress, message, error, results_json, provenance_json, created_at, updated_at
		FROM analysis_runs WHERE entity_id = ?`, entityID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return pipeline.Run{}, pipeline.ErrNotFound
	}
	return run, err
}

func (s *RunStore) List(ctx context.Context) ([]pipeline.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, status, progress, message, error, results_json, provenance_json, created_at, updated_at
		FROM analysis_runs ORDER BY created_at DESC, entity_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []pipeline.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *RunStore) Delete(ctx context.Context, entityID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE entity_id = ?`, entityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// RecoverRuns marks runs left active by a previous process as failed. Runs
// never survive a restart.
func (s *RunStore) RecoverRuns(ctx context.Context) (int, error) {
	msg := "interrupted by restart"
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET status = ?, error = ?, message = ?, updated_at = ?
		WHERE status IN (?, ?)`,
		string(pipeline.StatusFailed), msg, "Analysis failed: "+msg, time.Now().UTC().Format(time.RFC3339Nano),
		string(pipeline.StatusPending), string(pipeline.StatusProcessing),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRun(ctx context.Context, db execer, run pipeline.Run) error {
	var results, provenance sql.NullString
	if run.Results != nil {
		b, err := json.Marshal(run.Results)
		if err != nil {
			return fmt.Errorf("encoding results: %w", err)
		}
		results = sql.NullString{String: string(b), Valid: true}
	}
	if run.Provenance != nil {
		b, err := json.Marshal(run.Provenance)
		if err != nil {
			return fmt.Errorf("encoding provenance: %w", err)
		}
		provenance = sql.NullString{String: string(b), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO analysis_runs (entity_id, status, progress, message, error, results_json, provenance_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			status = excluded.status, progress = excluded.progress, message = excluded.message,
			error = excluded.error, results_json = excluded.results_json,
			provenance_json = excluded.provenance_json, created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		run.EntityID, string(run.Status), run.Progress, run.Message, run.Error, results, provenance,
		run.CreatedAt.UTC().Format(time.RFC3339Nano), run.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving run for %s: %w", run.EntityID, err)
	}
	return nil
}

func scanRun(r rowScanner) (pipeline.Run, error) {
	var run pipeline.Run
	var status, createdAt, updatedAt string
	var results, provenance sql.NullString
	if err := r.Scan(&run.EntityID, &status, &run.Progress, &run.Message, &run.Error,
		&results, &provenance, &createdAt, &updatedAt); err != nil {
		return pipeline.Run{}, err
	}
	run.Status = pipeline.Status(status)

	if results.Valid {
		var a analysis.Artifacts
		if err := json.Unmarshal([]byte(results.String), &a); err != nil {
			return pipeline.Run{}, fmt.Errorf("decoding results for %s: %w", run.EntityID, err)
		}
		run.Results = &a
	}
	if provenance.Valid {
		p := map[string]structured.Provenance{}
		if err := json.Unmarshal([]byte(provenance.String), &p); err != nil {
			return pipeline.Run{}, fmt.Errorf("decoding provenance for %s: %w", run.EntityID, err)
		}
		run.Provenance = p
	}

	var err error
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return pipeline.Run{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if run.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return pipeline.Run{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return run, nil
}
