package pool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/pkg/types"
)

// gatedRunner blocks every task until the gate channel is closed, so tests
// can hold workers busy deterministically.
func gatedRunner(gate <-chan struct{}) Runner {
	return func(ctx context.Context, task *types.Task) (*types.ConsensusResult, error) {
		select {
		case <-gate:
			return &types.ConsensusResult{TaskID: task.ID}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func instantRunner(ctx context.Context, task *types.Task) (*types.ConsensusResult, error) {
	return &types.ConsensusResult{TaskID: task.ID}, nil
}

func startPool(t *testing.T, config Config, runner Runner) *Pool {
	t.Helper()
	p := New(config, runner)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)
	return p
}

func poolTask(id string) *types.Task {
	return &types.Task{ID: id, Kind: "qa", Priority: types.PriorityNormal}
}

func TestStartSpawnsMinWorkers(t *testing.T) {
	p := startPool(t, Config{MinWorkers: 3, MaxWorkers: 8}, instantRunner)

	total, busy, idle := p.Counts()
	assert.Equal(t, 3, total)
	assert.Equal(t, 0, busy)
	assert.Equal(t, 3, idle)

	for _, info := range p.Workers() {
		assert.Equal(t, types.WorkerStatusIdle, info.Status)
		assert.Equal(t, 1.0, info.PerformanceScore)
	}
}

func TestAssignMarksBusyAndRefusesSecondTask(t *testing.T) {
	gate := make(chan struct{})
	p := startPool(t, Config{MinWorkers: 2, MaxWorkers: 4}, gatedRunner(gate))

	idle := p.IdleWorkers()
	require.NotEmpty(t, idle)
	workerID := idle[0].ID()

	require.NoError(t, p.Assign(workerID, poolTask("t1")))
	assert.Error(t, p.Assign(workerID, poolTask("t2")))

	for _, w := range p.IdleWorkers() {
		assert.NotEqual(t, workerID, w.ID())
	}

	close(gate)
	select {
	case completion := <-p.Completions():
		assert.Equal(t, workerID, completion.WorkerID)
		assert.Equal(t, "t1", completion.Task.ID)
		require.NoError(t, completion.Err)
		assert.Equal(t, "t1", completion.Result.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	p.Release(workerID, true, 10*time.Millisecond)
	_, busy, _ := p.Counts()
	assert.Equal(t, 0, busy)
}

func TestAssignUnknownWorker(t *testing.T) {
	p := startPool(t, Config{MinWorkers: 1, MaxWorkers: 2}, instantRunner)
	assert.Error(t, p.Assign("worker-99", poolTask("t1")))
}

func TestReleaseUpdatesRollingAverageAndScore(t *testing.T) {
	p := startPool(t, Config{MinWorkers: 1, MaxWorkers: 2}, instantRunner)
	workerID := p.IdleWorkers()[0].ID()

	p.Release(workerID, true, 100*time.Millisecond)
	info := p.Workers()[0]
	assert.Equal(t, 100*time.Millisecond, info.RollingAvgDuration)
	assert.Equal(t, int64(1), info.TasksCompleted)

	p.Release(workerID, false, 200*time.Millisecond)
	info = p.Workers()[0]
	assert.InDelta(t, float64(130*time.Millisecond), float64(info.RollingAvgDuration), float64(time.Millisecond))
	assert.Equal(t, int64(1), info.TasksFailed)
	assert.Equal(t, 1, info.ConsecutiveFailures)
	assert.InDelta(t, 0.5, info.PerformanceScore, 1e-9)

	p.Release(workerID, true, 100*time.Millisecond)
	info = p.Workers()[0]
	assert.Equal(t, 0, info.ConsecutiveFailures)
}

func TestUnhealthyQuarantineAndReplacement(t *testing.T) {
	p := startPool(t, Config{MinWorkers: 2, MaxWorkers: 4, UnhealthyThreshold: 3}, instantRunner)
	workerID := p.IdleWorkers()[0].ID()

	for i := 0; i < 3; i++ {
		p.Release(workerID, false, 10*time.Millisecond)
	}

	var quarantined types.WorkerInfo
	for _, info := range p.Workers() {
		if info.ID == workerID {
			quarantined = info
		}
	}
	assert.Equal(t, types.WorkerStatusUnhealthy, quarantined.Status)

	for _, w := range p.IdleWorkers() {
		assert.NotEqual(t, workerID, w.ID())
	}

	added, retired := p.Evaluate(0)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, retired)

	total, _, idle := p.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, idle)
	for _, info := range p.Workers() {
		assert.NotEqual(t, workerID, info.ID)
		assert.Equal(t, types.WorkerStatusIdle, info.Status)
	}
}

func TestScaleUpNeedsUtilizationAndPressure(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	p := startPool(t, Config{MinWorkers: 2, MaxWorkers: 8}, gatedRunner(gate))

	for _, w := range p.IdleWorkers() {
		require.NoError(t, p.Assign(w.ID(), poolTask("busy-"+w.ID())))
	}

	// Utilization 1.0 but no queue pressure: stay put.
	added, _ := p.Evaluate(1)
	assert.Equal(t, 0, added)

	// Both signals exceeded: grow by the step.
	added, _ = p.Evaluate(5)
	assert.Equal(t, 2, added)
	total, _, _ := p.Counts()
	assert.Equal(t, 4, total)

	// Utilization dropped to 0.5 after growing: stay put again.
	added, _ = p.Evaluate(20)
	assert.Equal(t, 0, added)
}

func TestScaleUpCappedByMaxWorkers(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	p := startPool(t, Config{MinWorkers: 2, MaxWorkers: 3}, gatedRunner(gate))

	for _, w := range p.IdleWorkers() {
		require.NoError(t, p.Assign(w.ID(), poolTask("busy-"+w.ID())))
	}

	added, _ := p.Evaluate(10)
	assert.Equal(t, 1, added)

	total, _, _ := p.Counts()
	assert.Equal(t, 3, total)

	added, _ = p.Evaluate(10)
	assert.Equal(t, 0, added)
}

func TestScaleDownRetiresIdleOnly(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	p := startPool(t, Config{MinWorkers: 1, MaxWorkers: 8}, gatedRunner(gate))

	p.mu.Lock()
	for i := 0; i < 3; i++ {
		p.addWorkerLocked()
	}
	p.mu.Unlock()

	busyID := p.IdleWorkers()[0].ID()
	require.NoError(t, p.Assign(busyID, poolTask("busy")))

	// 1 busy of 4: utilization 0.25, retire one idle worker per round.
	_, retired := p.Evaluate(0)
	assert.Equal(t, 1, retired)

	total, busy, _ := p.Counts()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, busy)

	stillThere := false
	for _, info := range p.Workers() {
		if info.ID == busyID {
			stillThere = true
			assert.Equal(t, types.WorkerStatusBusy, info.Status)
		}
	}
	assert.True(t, stillThere, "busy worker must never be retired")
}

func TestScaleDownStopsAtMinWorkers(t *testing.T) {
	p := startPool(t, Config{MinWorkers: 2, MaxWorkers: 8}, instantRunner)

	p.mu.Lock()
	p.addWorkerLocked()
	p.mu.Unlock()

	_, retired := p.Evaluate(0)
	assert.Equal(t, 1, retired)
	_, retired = p.Evaluate(0)
	assert.Equal(t, 0, retired)

	total, _, _ := p.Counts()
	assert.Equal(t, 2, total)
}

func TestCancelTaskAbortsInFlight(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	p := startPool(t, Config{MinWorkers: 1, MaxWorkers: 2}, gatedRunner(gate))

	workerID := p.IdleWorkers()[0].ID()
	require.NoError(t, p.Assign(workerID, poolTask("doomed")))

	// Give the worker goroutine a beat to pick the task up.
	time.Sleep(20 * time.Millisecond)
	p.CancelTask(workerID)

	select {
	case completion := <-p.Completions():
		assert.Equal(t, "doomed", completion.Task.ID)
		assert.ErrorIs(t, completion.Err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled completion")
	}
}

func TestCanServe(t *testing.T) {
	p := startPool(t, Config{MinWorkers: 1, MaxWorkers: 2, WorkerCapabilities: []string{"general", "code"}}, instantRunner)

	assert.True(t, p.CanServe(nil))
	assert.True(t, p.CanServe([]string{"code"}))
	assert.True(t, p.CanServe([]string{"general", "code"}))
	assert.False(t, p.CanServe([]string{"gpu"}))
}

func TestWorkerPanicIsIsolated(t *testing.T) {
	panicRunner := func(ctx context.Context, task *types.Task) (*types.ConsensusResult, error) {
		panic(fmt.Sprintf("bad task %s", task.ID))
	}
	p := startPool(t, Config{MinWorkers: 1, MaxWorkers: 2}, panicRunner)

	workerID := p.IdleWorkers()[0].ID()
	require.NoError(t, p.Assign(workerID, poolTask("boom")))

	select {
	case completion := <-p.Completions():
		require.Error(t, completion.Err)
		assert.Contains(t, completion.Err.Error(), "panic")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for panic completion")
	}

	// The worker survives and accepts another task.
	p.Release(workerID, false, time.Millisecond)
	require.NoError(t, p.Assign(workerID, poolTask("boom-2")))
	select {
	case completion := <-p.Completions():
		require.Error(t, completion.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second completion")
	}
}

func TestStopDrainsWorkers(t *testing.T) {
	p := New(Config{MinWorkers: 2, MaxWorkers: 4}, instantRunner)
	require.NoError(t, p.Start(context.Background()))
	p.Stop()

	_, open := <-p.Completions()
	assert.False(t, open, "completions channel closes after stop")
}
