package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/types"
)

// Runner executes one assigned task end to end and returns its final result.
type Runner func(ctx context.Context, task *types.Task) (*types.ConsensusResult, error)

// Completion is the message a worker posts back when its task finishes.
// Workers never touch scheduler state directly.
type Completion struct {
	WorkerID string
	Task     *types.Task
	Result   *types.ConsensusResult
	Err      error
	Duration time.Duration
}

// Worker 是一个执行协程。任务通过容量为 1 的通道投递。
// The stats block is owned by the pool and guarded by the pool's lock.
type Worker struct {
	id           string
	capabilities []string
	runner       Runner
	assignments  chan *types.Task
	completions  chan<- Completion

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	cancelCurrent context.CancelFunc

	// Mutated only while holding the owning pool's lock.
	status              types.WorkerStatus
	currentTaskID       string
	tasksCompleted      int64
	tasksFailed         int64
	consecutiveFailures int
	rollingAvgDuration  time.Duration
	startedAt           time.Time
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.id
}

// Capabilities returns the capability set the worker serves.
func (w *Worker) Capabilities() []string {
	return w.capabilities
}

// run 运行工作协程，直到被池撤销。
func (w *Worker) run() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.assignments:
			start := time.Now()
			result, err := w.execute(task)
			completion := Completion{
				WorkerID: w.id,
				Task:     task,
				Result:   result,
				Err:      err,
				Duration: time.Since(start),
			}
			select {
			case w.completions <- completion:
			case <-w.ctx.Done():
				// Shutdown with a completion in hand; the result is dropped.
				return
			}
		}
	}
}

// execute runs a single task with panic isolation so one bad backend or
// reducer cannot take the worker goroutine down.
func (w *Worker) execute(task *types.Task) (result *types.ConsensusResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panic: %v", w.id, r)
			logger.Error("worker panic while executing task",
				zap.String("worker_id", w.id),
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	taskCtx, cancel := context.WithCancel(w.ctx)
	w.mu.Lock()
	w.cancelCurrent = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.cancelCurrent = nil
		w.mu.Unlock()
		cancel()
	}()

	return w.runner(taskCtx, task)
}

// CancelCurrent aborts the in-flight task, if any. The worker itself stays
// alive and reports the cancelled task through the completion channel.
func (w *Worker) CancelCurrent() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelCurrent != nil {
		w.cancelCurrent()
	}
}

// snapshot builds a WorkerInfo. Caller holds the pool's lock.
func (w *Worker) snapshot() types.WorkerInfo {
	info := types.WorkerInfo{
		ID:                  w.id,
		Capabilities:        append([]string(nil), w.capabilities...),
		Status:              w.status,
		CurrentTaskID:       w.currentTaskID,
		TasksCompleted:      w.tasksCompleted,
		TasksFailed:         w.tasksFailed,
		ConsecutiveFailures: w.consecutiveFailures,
		RollingAvgDuration:  w.rollingAvgDuration,
		PerformanceScore:    1.0,
		StartedAt:           w.startedAt,
	}
	if total := w.tasksCompleted + w.tasksFailed; total > 0 {
		info.PerformanceScore = float64(w.tasksCompleted) / float64(total)
	}
	return info
}
