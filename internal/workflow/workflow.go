// Package workflow sequences ETL stages under one cross-process lock,
// honoring declared dependencies and a bounded retry policy.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/marketsync/internal/db"
	"github.com/jonathan/marketsync/internal/etl"
	"github.com/jonathan/marketsync/internal/lockfile"
	"github.com/jonathan/marketsync/internal/oblog"
)

// StageStatus is a stage's terminal status within a workflow.
type StageStatus string

const (
	StageCompleted         StageStatus = "completed"
	StageFailed            StageStatus = "failed"
	StageSkippedDependency StageStatus = "skipped_dependency_failed"
)

// Workflow statuses.
const (
	WorkflowSuccess = "success"
	WorkflowFailed  = "failed"
)

// Spec declares one stage and the stages that must complete before it.
type Spec struct {
	Runner    etl.Runner
	DependsOn []string
}

// Outcome is one stage's aggregate result across its attempts.
type Outcome struct {
	Name     string
	Status   StageStatus
	Attempts int
	Record   *etl.RunRecord // last attempt; nil when the stage was skipped
	Err      *StageError    // set when Status is StageFailed
}

// Execution aggregates every stage outcome under one workflow id.
type Execution struct {
	ID         uuid.UUID
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Stages     []Outcome
}

// Failed reports whether any stage failed or was skipped.
func (e *Execution) Failed() bool {
	return e.Status == WorkflowFailed
}

// History persists workflow and stage run records. Persistence is
// best-effort: a history failure never aborts the pipeline.
type History interface {
	CreateWorkflow(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	FinishWorkflow(ctx context.Context, id uuid.UUID, status string, finishedAt time.Time) error
	SaveStageRun(ctx context.Context, workflowID uuid.UUID, in db.StageRunInput) error
}

// Orchestrator runs a fixed stage sequence. Stages execute strictly one after
// another; concurrency exists only across process invocations, which the lock
// arbitrates.
type Orchestrator struct {
	lock       *lockfile.Manager
	lockJob    string
	stages     []Spec
	maxRetries int
	retryDelay time.Duration
	history    History
	log        *oblog.Logger
	sleep      func(time.Duration)
	now        func() time.Time
}

// New validates the stage graph and builds an orchestrator. Every declared
// dependency must name a stage earlier in the sequence; anything else is a
// wiring bug surfaced before execution.
func New(lock *lockfile.Manager, lockJob string, stages []Spec, maxRetries int, retryDelay time.Duration, history History, log *oblog.Logger) (*Orchestrator, error) {
	if lock == nil {
		return nil, fmt.Errorf("orchestrator requires a lock manager")
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("orchestrator requires at least one stage")
	}
	if maxRetries < 1 {
		return nil, fmt.Errorf("maxRetries must be at least 1, got %d", maxRetries)
	}

	seen := map[string]bool{}
	for _, spec := range stages {
		name := spec.Runner.Name()
		if seen[name] {
			return nil, fmt.Errorf("duplicate stage %q", name)
		}
		for _, dep := range spec.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("stage %q depends on %q, which is not an earlier stage", name, dep)
			}
		}
		seen[name] = true
	}

	return &Orchestrator{
		lock:       lock,
		lockJob:    lockJob,
		stages:     stages,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		history:    history,
		log:        log,
		sleep:      time.Sleep,
		now:        time.Now,
	}, nil
}

// Execute runs the workflow. The lock covers the whole workflow, not
// individual stages, so two scheduled invocations never interleave. A held
// lock returns *lockfile.HeldError; stage failures are reported inside the
// Execution, not as an error.
func (o *Orchestrator) Execute(ctx context.Context) (*Execution, error) {
	ok, err := o.lock.Acquire(o.lockJob)
	if err != nil {
		return nil, fmt.Errorf("lock acquire failed: %w", err)
	}
	if !ok {
		held := &lockfile.HeldError{Job: o.lockJob}
		if holder, herr := o.lock.Holder(o.lockJob); herr == nil && holder != nil {
			held.Holder = *holder
		}
		return nil, held
	}
	defer func() {
		if rerr := o.lock.Release(o.lockJob); rerr != nil {
			o.log.Error("lock release failed", "job", o.lockJob, "error", rerr)
		}
	}()

	exec := &Execution{ID: uuid.New(), StartedAt: o.now()}
	o.log.Info("workflow started", "workflow", exec.ID, "stages", len(o.stages))

	if o.history != nil {
		if err := o.history.CreateWorkflow(ctx, exec.ID, exec.StartedAt); err != nil {
			o.log.Warn("failed to persist workflow start", "error", err)
		}
	}

	completed := map[string]bool{}
	for _, spec := range o.stages {
		name := spec.Runner.Name()

		if blocked, dep := o.blockedBy(spec, completed); blocked {
			o.log.Warn("stage skipped, dependency did not complete", "stage", name, "dependency", dep)
			exec.Stages = append(exec.Stages, Outcome{Name: name, Status: StageSkippedDependency})
			continue
		}

		outcome := o.runWithRetries(ctx, exec.ID, spec.Runner)
		exec.Stages = append(exec.Stages, outcome)
		if outcome.Status == StageCompleted {
			completed[name] = true
		}
	}

	exec.Status = WorkflowSuccess
	for _, outcome := range exec.Stages {
		if outcome.Status != StageCompleted {
			exec.Status = WorkflowFailed
			break
		}
	}
	exec.FinishedAt = o.now()

	if o.history != nil {
		if err := o.history.FinishWorkflow(ctx, exec.ID, exec.Status, exec.FinishedAt); err != nil {
			o.log.Warn("failed to persist workflow finish", "error", err)
		}
	}

	o.log.Info("workflow finished",
		"workflow", exec.ID, "status", exec.Status, "duration", exec.FinishedAt.Sub(exec.StartedAt).Round(time.Millisecond))
	return exec, nil
}

func (o *Orchestrator) blockedBy(spec Spec, completed map[string]bool) (bool, string) {
	for _, dep := range spec.DependsOn {
		if !completed[dep] {
			return true, dep
		}
	}
	return false, ""
}

// runWithRetries re-runs the entire stage on failure; partial-phase
// resumption is never safe given the refresh and upsert semantics.
func (o *Orchestrator) runWithRetries(ctx context.Context, workflowID uuid.UUID, runner etl.Runner) Outcome {
	name := runner.Name()
	var rec *etl.RunRecord

	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		rec = runner.Run(ctx)
		o.saveStageRun(ctx, workflowID, rec)

		if rec.Status == etl.StatusSuccess {
			return Outcome{Name: name, Status: StageCompleted, Attempts: attempt, Record: rec}
		}
		if attempt < o.maxRetries {
			o.log.Warn("stage failed, retrying",
				"stage", name, "attempt", attempt, "max_retries", o.maxRetries, "delay", o.retryDelay)
			o.sleep(o.retryDelay)
		}
	}

	return Outcome{
		Name:     name,
		Status:   StageFailed,
		Attempts: o.maxRetries,
		Record:   rec,
		Err:      &StageError{Stage: name, Attempts: o.maxRetries, Cause: rec.Err},
	}
}

func (o *Orchestrator) saveStageRun(ctx context.Context, workflowID uuid.UUID, rec *etl.RunRecord) {
	if o.history == nil {
		return
	}
	err := o.history.SaveStageRun(ctx, workflowID, db.StageRunInput{
		Stage:       rec.Stage,
		Status:      string(rec.Status),
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		Extracted:   rec.Extracted,
		Transformed: rec.Transformed,
		Loaded:      rec.Loaded,
		Rejected:    rec.Rejected,
		ErrorText:   rec.ErrorText,
	})
	if err != nil {
		o.log.Warn("failed to persist stage run", "stage", rec.Stage, "error", err)
	}
}
