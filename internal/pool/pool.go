// Package pool manages the dynamic worker pool. Workers are goroutines fed
// through per-worker assignment channels; all pool mutations are driven by
// the scheduler's event loop, so the pool itself never races on scaling
// decisions.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/types"
	"yqhp/conductor/pkg/utils"
)

// Defaults for the scaling policy.
const (
	DefaultMinWorkers       = 2
	DefaultMaxWorkers       = 16
	DefaultEvaluateInterval = 5 * time.Second

	defaultScaleUpUtilization   = 0.9
	defaultScaleDownUtilization = 0.3
	defaultPressureThreshold    = 2.0
	defaultMaxScaleStep         = 2
	defaultUnhealthyThreshold   = 3
	defaultCompletionBuffer     = 64
)

// Config tunes the pool size and scaling policy.
type Config struct {
	MinWorkers       int           `yaml:"min_workers" json:"min_workers"`
	MaxWorkers       int           `yaml:"max_workers" json:"max_workers"`
	EvaluateInterval time.Duration `yaml:"evaluate_interval" json:"evaluate_interval"`

	// ScaleUpUtilization and PressureThreshold must both be exceeded
	// before the pool grows; ScaleDownUtilization alone triggers shrink.
	ScaleUpUtilization   float64 `yaml:"scale_up_utilization" json:"scale_up_utilization"`
	ScaleDownUtilization float64 `yaml:"scale_down_utilization" json:"scale_down_utilization"`
	PressureThreshold    float64 `yaml:"pressure_threshold" json:"pressure_threshold"`

	// MaxScaleStep caps how many workers one evaluation may add.
	MaxScaleStep int `yaml:"max_scale_step" json:"max_scale_step"`

	// UnhealthyThreshold is the consecutive failure count after which a
	// worker is quarantined and replaced.
	UnhealthyThreshold int `yaml:"unhealthy_threshold" json:"unhealthy_threshold"`

	// WorkerCapabilities is the capability profile spawned workers carry.
	WorkerCapabilities []string `yaml:"worker_capabilities" json:"worker_capabilities"`

	CompletionBuffer int `yaml:"-" json:"-"`
}

func (c Config) withDefaults() Config {
	if c.MinWorkers <= 0 {
		c.MinWorkers = DefaultMinWorkers
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.EvaluateInterval <= 0 {
		c.EvaluateInterval = DefaultEvaluateInterval
	}
	if c.ScaleUpUtilization <= 0 {
		c.ScaleUpUtilization = defaultScaleUpUtilization
	}
	if c.ScaleDownUtilization <= 0 {
		c.ScaleDownUtilization = defaultScaleDownUtilization
	}
	if c.PressureThreshold <= 0 {
		c.PressureThreshold = defaultPressureThreshold
	}
	if c.MaxScaleStep <= 0 {
		c.MaxScaleStep = defaultMaxScaleStep
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = defaultUnhealthyThreshold
	}
	if c.CompletionBuffer <= 0 {
		c.CompletionBuffer = defaultCompletionBuffer
	}
	return c
}

// Pool 管理工作协程池。
type Pool struct {
	config Config
	runner Runner

	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string // spawn order; scale-down retires newest first
	nextID  int
	started bool

	baseCtx     context.Context
	cancelAll   context.CancelFunc
	wg          sync.WaitGroup
	completions chan Completion
}

// New creates a pool. Workers are not spawned until Start.
func New(config Config, runner Runner) *Pool {
	config = config.withDefaults()
	return &Pool{
		config:      config,
		runner:      runner,
		workers:     make(map[string]*Worker),
		completions: make(chan Completion, config.CompletionBuffer),
	}
}

// Start spawns the minimum worker set.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pool already started")
	}
	p.baseCtx, p.cancelAll = context.WithCancel(ctx)
	p.started = true

	for i := 0; i < p.config.MinWorkers; i++ {
		p.addWorkerLocked()
	}

	logger.Info("worker pool started",
		zap.Int("min_workers", p.config.MinWorkers),
		zap.Int("max_workers", p.config.MaxWorkers))
	return nil
}

// Stop cancels every worker and waits for their goroutines to exit. Pending
// completions already buffered remain readable until the channel is closed.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.cancelAll()
	p.mu.Unlock()

	p.wg.Wait()
	close(p.completions)
}

// Completions returns the channel workers report results on.
func (p *Pool) Completions() <-chan Completion {
	return p.completions
}

// Assign hands task to an idle worker. The worker is marked busy before the
// task enters its channel so the same worker can never be picked twice.
func (p *Pool) Assign(workerID string, task *types.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return fmt.Errorf("worker not found: %s", workerID)
	}
	if w.status != types.WorkerStatusIdle {
		return fmt.Errorf("worker %s is %s, not idle", workerID, w.status)
	}

	w.status = types.WorkerStatusBusy
	w.currentTaskID = task.ID

	select {
	case w.assignments <- task:
		return nil
	default:
		// Channel full despite idle status; undo and report.
		w.status = types.WorkerStatusIdle
		w.currentTaskID = ""
		return fmt.Errorf("worker %s assignment channel full", workerID)
	}
}

// Release records the finished task and returns the worker to the idle set,
// or quarantines it once consecutive failures reach the threshold.
func (p *Pool) Release(workerID string, success bool, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return
	}

	w.currentTaskID = ""
	if success {
		w.tasksCompleted++
		w.consecutiveFailures = 0
	} else {
		w.tasksFailed++
		w.consecutiveFailures++
	}

	if w.rollingAvgDuration == 0 {
		w.rollingAvgDuration = duration
	} else {
		// EMA with alpha 0.3
		w.rollingAvgDuration = time.Duration(0.3*float64(duration) + 0.7*float64(w.rollingAvgDuration))
	}

	if w.consecutiveFailures >= p.config.UnhealthyThreshold {
		w.status = types.WorkerStatusUnhealthy
		logger.Warn("worker quarantined after consecutive failures",
			zap.String("worker_id", workerID),
			zap.Int("consecutive_failures", w.consecutiveFailures))
		return
	}
	w.status = types.WorkerStatusIdle
}

// CancelTask aborts the task currently running on workerID, if any.
func (p *Pool) CancelTask(workerID string) {
	p.mu.RLock()
	w, ok := p.workers[workerID]
	p.mu.RUnlock()
	if ok {
		w.CancelCurrent()
	}
}

// IdleWorkers returns the workers currently available for assignment, in
// spawn order.
func (p *Pool) IdleWorkers() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var idle []*Worker
	for _, id := range p.order {
		if w := p.workers[id]; w != nil && w.status == types.WorkerStatusIdle {
			idle = append(idle, w)
		}
	}
	return idle
}

// CanServe reports whether the required capabilities could be served by any
// current worker or by a worker the pool is allowed to spawn.
func (p *Pool) CanServe(required []string) bool {
	if len(required) == 0 {
		return true
	}
	if types.HasAllCapabilities(p.config.WorkerCapabilities, required) {
		return true
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		if types.HasAllCapabilities(w.capabilities, required) {
			return true
		}
	}
	return false
}

// Counts returns total, busy, and idle worker counts.
func (p *Pool) Counts() (total, busy, idle int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.countsLocked()
}

func (p *Pool) countsLocked() (total, busy, idle int) {
	total = len(p.workers)
	for _, w := range p.workers {
		switch w.status {
		case types.WorkerStatusBusy:
			busy++
		case types.WorkerStatusIdle:
			idle++
		}
	}
	return total, busy, idle
}

// Utilization returns busy/total, zero for an empty pool.
func (p *Pool) Utilization() float64 {
	total, busy, _ := p.Counts()
	if total == 0 {
		return 0
	}
	return float64(busy) / float64(total)
}

// Workers returns a snapshot of every worker.
func (p *Pool) Workers() []types.WorkerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]types.WorkerInfo, 0, len(p.order))
	for _, id := range p.order {
		if w := p.workers[id]; w != nil {
			infos = append(infos, w.snapshot())
		}
	}
	return infos
}

// Evaluate applies one round of the scaling policy against the current
// queue depth. Growth needs both high utilization and queue pressure;
// shrink only ever takes idle workers, so in-flight tasks are never
// interrupted. Quarantined workers are replaced to keep capacity steady.
func (p *Pool) Evaluate(queued int) (added, retired int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0, 0
	}

	// Swap out quarantined workers first.
	for _, id := range append([]string(nil), p.order...) {
		w := p.workers[id]
		if w == nil || w.status != types.WorkerStatusUnhealthy || w.currentTaskID != "" {
			continue
		}
		p.retireWorkerLocked(id)
		p.addWorkerLocked()
		logger.Info("replaced unhealthy worker", zap.String("worker_id", id))
	}

	total, busy, _ := p.countsLocked()
	if total == 0 {
		for i := 0; i < p.config.MinWorkers; i++ {
			p.addWorkerLocked()
			added++
		}
		return added, retired
	}

	utilization := float64(busy) / float64(total)
	pressure := float64(queued) / float64(total)

	if utilization > p.config.ScaleUpUtilization && pressure > p.config.PressureThreshold && total < p.config.MaxWorkers {
		step := p.config.MaxScaleStep
		if room := p.config.MaxWorkers - total; room < step {
			step = room
		}
		for i := 0; i < step; i++ {
			p.addWorkerLocked()
			added++
		}
		logger.Info("scaled up worker pool",
			zap.Int("added", added),
			zap.Int("total", total+added),
			zap.Float64("utilization", utilization),
			zap.Float64("queue_pressure", pressure))
		return added, retired
	}

	if utilization < p.config.ScaleDownUtilization && total > p.config.MinWorkers {
		// Retire the newest idle worker, one per evaluation.
		for i := len(p.order) - 1; i >= 0; i-- {
			w := p.workers[p.order[i]]
			if w != nil && w.status == types.WorkerStatusIdle {
				p.retireWorkerLocked(p.order[i])
				retired++
				logger.Info("scaled down worker pool",
					zap.String("worker_id", w.id),
					zap.Int("total", total-1),
					zap.Float64("utilization", utilization))
				break
			}
		}
	}
	return added, retired
}

// addWorkerLocked spawns one worker. Caller holds the lock.
func (p *Pool) addWorkerLocked() *Worker {
	p.nextID++
	id := fmt.Sprintf("worker-%d", p.nextID)

	ctx, cancel := context.WithCancel(p.baseCtx)
	w := &Worker{
		id:           id,
		capabilities: append([]string(nil), p.config.WorkerCapabilities...),
		runner:       p.runner,
		assignments:  make(chan *types.Task, 1),
		completions:  p.completions,
		ctx:          ctx,
		cancel:       cancel,
		status:       types.WorkerStatusIdle,
		startedAt:    time.Now(),
	}
	p.workers[id] = w
	p.order = append(p.order, id)

	p.wg.Add(1)
	utils.SafeGoWithName("pool-"+id, func() {
		defer p.wg.Done()
		w.run()
	})
	return w
}

// retireWorkerLocked cancels a worker and removes it. Caller holds the lock
// and has verified the worker carries no task.
func (p *Pool) retireWorkerLocked(id string) {
	w, ok := p.workers[id]
	if !ok {
		return
	}
	w.cancel()
	delete(p.workers, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
