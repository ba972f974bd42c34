package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/marketsync/internal/db"
	"github.com/jonathan/marketsync/internal/etl"
	"github.com/jonathan/marketsync/internal/lockfile"
	"github.com/jonathan/marketsync/internal/oblog"
)

// fakeRunner returns pre-scripted records, one per call. The last record
// repeats once the script runs out.
type fakeRunner struct {
	name    string
	records []*etl.RunRecord
	calls   int
}

func (r *fakeRunner) Name() string { return r.name }

func (r *fakeRunner) Run(_ context.Context) *etl.RunRecord {
	idx := r.calls
	if idx >= len(r.records) {
		idx = len(r.records) - 1
	}
	r.calls++
	return r.records[idx]
}

func succeeded(stage string) *etl.RunRecord {
	return &etl.RunRecord{Stage: stage, Status: etl.StatusSuccess, Loaded: 10}
}

func failed(stage string, err error) *etl.RunRecord {
	return &etl.RunRecord{Stage: stage, Status: etl.StatusFailed, Err: err, ErrorText: err.Error()}
}

type historyCall struct {
	kind  string
	stage string
}

type fakeHistory struct {
	calls   []historyCall
	starts  []uuid.UUID
	status  string
	failAll bool
}

func (h *fakeHistory) CreateWorkflow(_ context.Context, id uuid.UUID, _ time.Time) error {
	h.calls = append(h.calls, historyCall{kind: "create"})
	h.starts = append(h.starts, id)
	if h.failAll {
		return fmt.Errorf("history unavailable")
	}
	return nil
}

func (h *fakeHistory) FinishWorkflow(_ context.Context, _ uuid.UUID, status string, _ time.Time) error {
	h.calls = append(h.calls, historyCall{kind: "finish"})
	h.status = status
	if h.failAll {
		return fmt.Errorf("history unavailable")
	}
	return nil
}

func (h *fakeHistory) SaveStageRun(_ context.Context, _ uuid.UUID, in db.StageRunInput) error {
	h.calls = append(h.calls, historyCall{kind: "stage", stage: in.Stage})
	if h.failAll {
		return fmt.Errorf("history unavailable")
	}
	return nil
}

type allAlive struct{}

func (allAlive) Alive(int) bool { return true }

func newTestLock(t *testing.T) *lockfile.Manager {
	t.Helper()
	m, err := lockfile.NewManager(t.TempDir())
	require.NoError(t, err)
	return m.WithLiveness(allAlive{})
}

func newTestOrchestrator(t *testing.T, lock *lockfile.Manager, stages []Spec, maxRetries int, history History) (*Orchestrator, *[]time.Duration) {
	t.Helper()
	o, err := New(lock, "sync", stages, maxRetries, 30*time.Second, history, oblog.New(io.Discard))
	require.NoError(t, err)
	var slept []time.Duration
	o.sleep = func(d time.Duration) { slept = append(slept, d) }
	return o, &slept
}

func TestExecuteAllStagesSucceed(t *testing.T) {
	catalog := &fakeRunner{name: etl.StageCatalog, records: []*etl.RunRecord{succeeded(etl.StageCatalog)}}
	inventory := &fakeRunner{name: etl.StageInventory, records: []*etl.RunRecord{succeeded(etl.StageInventory)}}

	o, slept := newTestOrchestrator(t, newTestLock(t), []Spec{
		{Runner: catalog},
		{Runner: inventory, DependsOn: []string{etl.StageCatalog}},
	}, 3, nil)

	exec, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WorkflowSuccess, exec.Status)
	assert.False(t, exec.Failed())
	require.Len(t, exec.Stages, 2)
	assert.Equal(t, StageCompleted, exec.Stages[0].Status)
	assert.Equal(t, StageCompleted, exec.Stages[1].Status)
	assert.Equal(t, 1, exec.Stages[0].Attempts)
	assert.Empty(t, *slept)
	assert.NotEqual(t, uuid.Nil, exec.ID)
}

func TestDependencySkippedWhenUpstreamExhaustsRetries(t *testing.T) {
	cause := errors.New("report generation failed remotely")
	catalog := &fakeRunner{name: etl.StageCatalog, records: []*etl.RunRecord{failed(etl.StageCatalog, cause)}}
	inventory := &fakeRunner{name: etl.StageInventory, records: []*etl.RunRecord{succeeded(etl.StageInventory)}}

	o, slept := newTestOrchestrator(t, newTestLock(t), []Spec{
		{Runner: catalog},
		{Runner: inventory, DependsOn: []string{etl.StageCatalog}},
	}, 3, nil)

	exec, err := o.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, WorkflowFailed, exec.Status)
	require.Len(t, exec.Stages, 2)

	assert.Equal(t, StageFailed, exec.Stages[0].Status)
	assert.Equal(t, 3, exec.Stages[0].Attempts)
	assert.Equal(t, 3, catalog.calls)
	require.NotNil(t, exec.Stages[0].Err)
	assert.ErrorIs(t, exec.Stages[0].Err, cause)

	// Skipped stages never run and carry no record.
	assert.Equal(t, StageSkippedDependency, exec.Stages[1].Status)
	assert.Nil(t, exec.Stages[1].Record)
	assert.Equal(t, 0, inventory.calls)

	// Sleep happens between attempts only.
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, *slept)
}

func TestStageRecoversOnRetry(t *testing.T) {
	sales := &fakeRunner{name: etl.StageSales, records: []*etl.RunRecord{
		failed(etl.StageSales, errors.New("temporary network error")),
		succeeded(etl.StageSales),
	}}

	o, slept := newTestOrchestrator(t, newTestLock(t), []Spec{{Runner: sales}}, 3, nil)

	exec, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WorkflowSuccess, exec.Status)
	assert.Equal(t, StageCompleted, exec.Stages[0].Status)
	assert.Equal(t, 2, exec.Stages[0].Attempts)
	assert.Len(t, *slept, 1)
}

func TestMaxRetriesOneDisablesRetry(t *testing.T) {
	sales := &fakeRunner{name: etl.StageSales, records: []*etl.RunRecord{
		failed(etl.StageSales, errors.New("boom")),
		succeeded(etl.StageSales),
	}}

	o, slept := newTestOrchestrator(t, newTestLock(t), []Spec{{Runner: sales}}, 1, nil)

	exec, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, exec.Status)
	assert.Equal(t, 1, sales.calls)
	assert.Empty(t, *slept)
}

func TestExecuteReturnsHeldErrorWhenLockTaken(t *testing.T) {
	dir := t.TempDir()
	other, err := lockfile.NewManager(dir)
	require.NoError(t, err)
	other = other.WithLiveness(allAlive{})
	ok, err := other.Acquire("sync")
	require.NoError(t, err)
	require.True(t, ok)

	lock, err := lockfile.NewManager(dir)
	require.NoError(t, err)
	lock = lock.WithLiveness(allAlive{})

	stage := &fakeRunner{name: etl.StageCatalog, records: []*etl.RunRecord{succeeded(etl.StageCatalog)}}
	o, _ := newTestOrchestrator(t, lock, []Spec{{Runner: stage}}, 3, nil)

	exec, err := o.Execute(context.Background())
	assert.Nil(t, exec)

	var held *lockfile.HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "sync", held.Job)
	assert.NotZero(t, held.Holder.PID)
	assert.Equal(t, 0, stage.calls)
}

func TestLockReleasedAfterFailure(t *testing.T) {
	lock := newTestLock(t)
	stage := &fakeRunner{name: etl.StageCatalog, records: []*etl.RunRecord{failed(etl.StageCatalog, errors.New("boom"))}}

	o, _ := newTestOrchestrator(t, lock, []Spec{{Runner: stage}}, 1, nil)
	exec, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, exec.Failed())

	ok, err := lock.Acquire("sync")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHistoryRecordsEveryAttempt(t *testing.T) {
	history := &fakeHistory{}
	catalog := &fakeRunner{name: etl.StageCatalog, records: []*etl.RunRecord{
		failed(etl.StageCatalog, errors.New("boom")),
		succeeded(etl.StageCatalog),
	}}

	o, _ := newTestOrchestrator(t, newTestLock(t), []Spec{{Runner: catalog}}, 3, history)

	exec, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WorkflowSuccess, exec.Status)

	var kinds []string
	for _, c := range history.calls {
		kinds = append(kinds, c.kind)
	}
	assert.Equal(t, []string{"create", "stage", "stage", "finish"}, kinds)
	assert.Equal(t, WorkflowSuccess, history.status)
	require.Len(t, history.starts, 1)
	assert.Equal(t, exec.ID, history.starts[0])
}

func TestHistoryFailureDoesNotAbortWorkflow(t *testing.T) {
	history := &fakeHistory{failAll: true}
	catalog := &fakeRunner{name: etl.StageCatalog, records: []*etl.RunRecord{succeeded(etl.StageCatalog)}}

	o, _ := newTestOrchestrator(t, newTestLock(t), []Spec{{Runner: catalog}}, 3, history)

	exec, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WorkflowSuccess, exec.Status)
}

func TestNewRejectsBadGraphs(t *testing.T) {
	lock := newTestLock(t)
	log := oblog.New(io.Discard)
	catalog := &fakeRunner{name: etl.StageCatalog, records: []*etl.RunRecord{succeeded(etl.StageCatalog)}}
	inventory := &fakeRunner{name: etl.StageInventory, records: []*etl.RunRecord{succeeded(etl.StageInventory)}}

	tests := []struct {
		name       string
		lock       *lockfile.Manager
		stages     []Spec
		maxRetries int
	}{
		{"nil lock", nil, []Spec{{Runner: catalog}}, 3},
		{"no stages", lock, nil, 3},
		{"zero retries", lock, []Spec{{Runner: catalog}}, 0},
		{"duplicate stage", lock, []Spec{{Runner: catalog}, {Runner: catalog}}, 3},
		{"unknown dependency", lock, []Spec{{Runner: catalog, DependsOn: []string{"nope"}}}, 3},
		{"forward dependency", lock, []Spec{
			{Runner: catalog, DependsOn: []string{etl.StageInventory}},
			{Runner: inventory},
		}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.lock, "sync", tt.stages, tt.maxRetries, time.Second, nil, log)
			assert.Error(t, err)
		})
	}
}
