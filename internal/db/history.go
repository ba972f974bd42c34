package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowRow is one persisted workflow execution.
type WorkflowRow struct {
	ID         uuid.UUID
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// StageRunInput carries one finished stage run for persistence.
type StageRunInput struct {
	Stage       string
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Extracted   int
	Transformed int
	Loaded      int
	Rejected    int
	ErrorText   string
}

// CreateWorkflow records the start of a workflow execution.
func (db *DB) CreateWorkflow(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO workflow_executions (id, status, started_at)
		 VALUES ($1, 'running', $2)`,
		id, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow execution: %w", err)
	}
	return nil
}

// FinishWorkflow finalizes a workflow execution with its terminal status.
func (db *DB) FinishWorkflow(ctx context.Context, id uuid.UUID, status string, finishedAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE workflow_executions SET status = $1, finished_at = $2 WHERE id = $3`,
		status, finishedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish workflow execution: %w", err)
	}
	return nil
}

// SaveStageRun persists one stage's run record under a workflow execution.
func (db *DB) SaveStageRun(ctx context.Context, workflowID uuid.UUID, in StageRunInput) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO stage_runs
		   (workflow_id, stage, status, started_at, finished_at,
		    extracted, transformed, loaded, rejected, error_text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		workflowID, in.Stage, in.Status, in.StartedAt, in.FinishedAt,
		in.Extracted, in.Transformed, in.Loaded, in.Rejected, nullIfEmpty(in.ErrorText),
	)
	if err != nil {
		return fmt.Errorf("failed to save stage run %s: %w", in.Stage, err)
	}
	return nil
}

// ListWorkflows retrieves recent workflow executions, newest first.
func (db *DB) ListWorkflows(ctx context.Context, limit int) ([]WorkflowRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, status, started_at, finished_at
		 FROM workflow_executions ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow executions: %w", err)
	}
	defer rows.Close()

	var out []WorkflowRow
	for rows.Next() {
		var w WorkflowRow
		if err := rows.Scan(&w.ID, &w.Status, &w.StartedAt, &w.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow execution: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListStageRuns retrieves the stage runs of one workflow in execution order.
func (db *DB) ListStageRuns(ctx context.Context, workflowID uuid.UUID) ([]StageRunInput, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT stage, status, started_at, finished_at,
		        extracted, transformed, loaded, rejected, COALESCE(error_text, '')
		 FROM stage_runs WHERE workflow_id = $1 ORDER BY started_at ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage runs: %w", err)
	}
	defer rows.Close()

	var out []StageRunInput
	for rows.Next() {
		var s StageRunInput
		if err := rows.Scan(&s.Stage, &s.Status, &s.StartedAt, &s.FinishedAt,
			&s.Extracted, &s.Transformed, &s.Loaded, &s.Rejected, &s.ErrorText); err != nil {
			return nil, fmt.Errorf("failed to scan stage run: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
