// Package etl runs one extract-transform-load pass per data source and
// records what happened.
package etl

import (
	"context"
	"time"

	"github.com/jonathan/marketsync/internal/gate"
	"github.com/jonathan/marketsync/internal/load"
	"github.com/jonathan/marketsync/internal/oblog"
	"github.com/jonathan/marketsync/internal/seller"
)

// Status is the terminal state of a stage run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// RunRecord is the structured result of one stage execution. The stage owns
// it while running; afterwards it is read-only for the orchestrator and the
// reporting layer.
type RunRecord struct {
	Stage       string
	Status      Status
	StartedAt   time.Time
	FinishedAt  time.Time
	Extracted   int
	Transformed int
	Loaded      int
	Rejected    int
	ErrorText   string

	// Err keeps the typed error for the orchestrator's retry decisions;
	// ErrorText is what gets persisted.
	Err error
}

// Duration returns how long the run took.
func (r *RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Job supplies the three phases of one data source. Extract produces raw
// rows, Transform validates and normalizes them, Load applies them to the
// warehouse.
type Job[T gate.Keyed] interface {
	Name() string
	Extract(ctx context.Context) ([]seller.Row, error)
	Transform(ctx context.Context, rows []seller.Row) ([]T, *gate.Report, error)
	Load(ctx context.Context, records []T) (*load.Result, error)
}

// Runner is the type-erased face a Stage presents to the orchestrator.
type Runner interface {
	Name() string
	Run(ctx context.Context) *RunRecord
}

// Stage drives a Job through extract, transform, and load strictly in order.
// A failing phase finalizes the record immediately; later phases never run,
// and the counts collected so far stay on the record for diagnostics.
type Stage[T gate.Keyed] struct {
	job Job[T]
	log *oblog.Logger
	now func() time.Time
}

// NewStage wraps a job for execution.
func NewStage[T gate.Keyed](job Job[T], log *oblog.Logger) *Stage[T] {
	return &Stage[T]{job: job, log: log, now: time.Now}
}

func (s *Stage[T]) Name() string { return s.job.Name() }

// Run executes the stage and always returns a finalized RunRecord.
func (s *Stage[T]) Run(ctx context.Context) *RunRecord {
	rec := &RunRecord{
		Stage:     s.job.Name(),
		Status:    StatusRunning,
		StartedAt: s.now(),
	}
	s.log.Info("stage started", "stage", rec.Stage)

	rows, err := s.job.Extract(ctx)
	if err != nil {
		return s.fail(rec, err)
	}
	rec.Extracted = len(rows)
	s.log.Info("extract complete", "stage", rec.Stage, "rows", rec.Extracted)

	records, report, err := s.job.Transform(ctx, rows)
	if report != nil {
		rec.Rejected = report.Rejected
		rec.Transformed = len(records)
	}
	if err != nil {
		return s.fail(rec, err)
	}
	s.log.Info("transform complete",
		"stage", rec.Stage, "valid", rec.Transformed, "rejected", rec.Rejected)

	result, err := s.job.Load(ctx, records)
	if err != nil {
		return s.fail(rec, err)
	}
	rec.Loaded = result.Loaded

	rec.Status = StatusSuccess
	rec.FinishedAt = s.now()
	s.log.Info("stage completed",
		"stage", rec.Stage, "loaded", rec.Loaded, "duration", rec.Duration().Round(time.Millisecond))
	return rec
}

func (s *Stage[T]) fail(rec *RunRecord, err error) *RunRecord {
	rec.Status = StatusFailed
	rec.Err = err
	rec.ErrorText = err.Error()
	rec.FinishedAt = s.now()
	s.log.Error("stage failed", "stage", rec.Stage, "error", err)
	return rec
}
