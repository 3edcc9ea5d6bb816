// Package scheduler implements the task scheduling core. A single event
// loop goroutine owns the queue, the worker pool and every task record,
// so no task transition ever races with a scaling decision or a
// submission. Callers talk to the loop through typed events and block on
// reply channels, never on the loop itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/conductor/internal/pool"
	"yqhp/conductor/internal/queue"
	"yqhp/conductor/internal/stats"
	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/types"
	"yqhp/conductor/pkg/utils"
)

// Scheduler accepts tasks and drives them to a terminal state.
type Scheduler interface {
	// Start spawns the worker pool and the event loop.
	Start(ctx context.Context) error

	// Stop drains the engine. Queued and retry-waiting tasks fail with
	// QUEUE_DRAINED; tasks already on a worker get until the context
	// deadline to finish, after which they are cancelled.
	Stop(ctx context.Context) error

	// Submit validates the spec, enqueues a task and returns its id.
	// Tasks whose capability requirements no worker profile can ever
	// satisfy are admitted and immediately failed with
	// CAPABILITY_MISMATCH, without consuming a retry.
	Submit(ctx context.Context, spec types.TaskSpec) (string, error)

	// SubmitBatch submits every spec or none. Ids are returned in input
	// order. Validation failures reject the whole batch.
	SubmitBatch(ctx context.Context, specs []types.TaskSpec) ([]string, error)

	// Cancel stops a task wherever it currently is. Queued and
	// retry-waiting tasks finish as cancelled immediately; a running
	// task is interrupted and finishes as cancelled once its worker
	// acknowledges. Cancelling a terminal task is a no-op.
	Cancel(ctx context.Context, taskID string) error

	// AwaitCompletion blocks the caller until every listed task reaches
	// a terminal state or the timeout passes. Ids still unresolved at
	// the timeout carry an AWAIT_TIMEOUT error in their outcome slot.
	AwaitCompletion(ctx context.Context, ids []string, timeout time.Duration) (map[string]AwaitOutcome, error)

	// Inspect returns a point-in-time view of one task.
	Inspect(ctx context.Context, taskID string) (*TaskView, error)

	// Status returns an engine snapshot: state, workers, queue depths
	// and aggregate stats.
	Status(ctx context.Context) (*types.EngineStatus, error)

	// State reports the lifecycle state without touching the event loop.
	State() types.EngineState
}

// Defaults for the retry policy and loop bookkeeping.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultRetryMaxDelay  = 30 * time.Second
	DefaultRetryJitter    = 0.2
	DefaultAwaitTimeout   = 60 * time.Second

	defaultRetainTerminal = 1024
	defaultEventBuffer    = 256
)

// Config tunes the retry policy and event loop bookkeeping.
type Config struct {
	// MaxRetries is the retry budget for specs that do not set their own.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RetryBaseDelay seeds the exponential backoff between attempts.
	// The nth retry waits roughly RetryBaseDelay * 2^(n-1), jittered.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`

	// RetryMaxDelay caps a single backoff wait.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`

	// RetryJitter is the randomization factor applied to each wait.
	RetryJitter float64 `yaml:"retry_jitter" json:"retry_jitter"`

	// EvaluateInterval is how often the pool scaling policy runs.
	EvaluateInterval time.Duration `yaml:"evaluate_interval" json:"evaluate_interval"`

	// RetainTerminal bounds how many finished tasks stay inspectable
	// before the oldest are dropped.
	RetainTerminal int `yaml:"retain_terminal" json:"retain_terminal"`

	EventBuffer int `yaml:"-" json:"-"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       DefaultMaxRetries,
		RetryBaseDelay:   DefaultRetryBaseDelay,
		RetryMaxDelay:    DefaultRetryMaxDelay,
		RetryJitter:      DefaultRetryJitter,
		EvaluateInterval: pool.DefaultEvaluateInterval,
		RetainTerminal:   defaultRetainTerminal,
		EventBuffer:      defaultEventBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.RetryJitter < 0 {
		c.RetryJitter = DefaultRetryJitter
	}
	if c.EvaluateInterval <= 0 {
		c.EvaluateInterval = pool.DefaultEvaluateInterval
	}
	if c.RetainTerminal <= 0 {
		c.RetainTerminal = defaultRetainTerminal
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	return c
}

// AwaitOutcome is the terminal outcome of one awaited task. Completed
// tasks carry a result; failed tasks carry an error, plus the last
// attempt's result when one was produced.
type AwaitOutcome struct {
	Result *types.ConsensusResult `json:"result,omitempty"`
	Err    *types.TaskError       `json:"error,omitempty"`
}

// TimedOut reports whether the await gave up before the task finished.
func (o AwaitOutcome) TimedOut() bool {
	return o.Err != nil && o.Err.Code == types.ErrCodeAwaitTimeout
}

// TaskView is a point-in-time copy of one task, with its terminal
// outcome when it has one.
type TaskView struct {
	Task   types.Task             `json:"task"`
	Result *types.ConsensusResult `json:"result,omitempty"`
	Err    *types.TaskError       `json:"error,omitempty"`
}

type event interface{ isEvent() }

type submitEvent struct {
	spec  types.TaskSpec
	reply chan submitReply
}

type submitReply struct {
	id  string
	err error
}

type submitBatchEvent struct {
	specs []types.TaskSpec
	reply chan batchReply
}

type batchReply struct {
	ids []string
	err error
}

type cancelEvent struct {
	taskID string
	reply  chan error
}

type awaitEvent struct {
	ids    []string
	ticket *awaitTicket
	reply  chan struct{}
}

type inspectEvent struct {
	taskID string
	reply  chan inspectReply
}

type inspectReply struct {
	view *TaskView
	err  error
}

type statusEvent struct {
	reply chan *types.EngineStatus
}

type retryDueEvent struct {
	taskID string
}

type drainEvent struct{}

func (submitEvent) isEvent()      {}
func (submitBatchEvent) isEvent() {}
func (cancelEvent) isEvent()      {}
func (awaitEvent) isEvent()       {}
func (inspectEvent) isEvent()     {}
func (statusEvent) isEvent()      {}
func (retryDueEvent) isEvent()    {}
func (drainEvent) isEvent()       {}

// taskEntry is the loop-private record for one task.
type taskEntry struct {
	task       *types.Task
	workerID   string
	retryTimer *time.Timer
	cancelled  bool
	outcome    *AwaitOutcome
	waiters    []*awaitTicket
}

// awaitTicket collects terminal outcomes for one AwaitCompletion call.
// The loop delivers under mu; the caller reads after done closes or its
// own timeout passes.
type awaitTicket struct {
	mu      sync.Mutex
	pending int
	results map[string]AwaitOutcome
	done    chan struct{}
}

func newAwaitTicket(n int) *awaitTicket {
	return &awaitTicket{
		pending: n,
		results: make(map[string]AwaitOutcome, n),
		done:    make(chan struct{}),
	}
}

func (t *awaitTicket) deliver(id string, out AwaitOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.results[id]; seen {
		return
	}
	t.results[id] = out
	t.pending--
	if t.pending == 0 {
		close(t.done)
	}
}

// collect snapshots the delivered outcomes, filling ids that never
// resolved with an await timeout error.
func (t *awaitTicket) collect(ids []string) map[string]AwaitOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]AwaitOutcome, len(ids))
	for _, id := range ids {
		if res, ok := t.results[id]; ok {
			out[id] = res
			continue
		}
		out[id] = AwaitOutcome{Err: types.NewAwaitTimeoutError(id)}
	}
	return out
}

// DefaultScheduler is the event loop implementation of Scheduler.
type DefaultScheduler struct {
	config Config
	queue  *queue.TaskQueue
	pool   *pool.Pool
	stats  *stats.Collector

	state    atomic.Value // types.EngineState
	started  atomic.Bool
	stopOnce sync.Once

	events   chan event
	loopDone chan struct{}

	// Everything below is owned by the event loop goroutine.
	tasks         map[string]*taskEntry
	terminalOrder []string
	inFlight      int
	draining      bool
	drainDone     chan struct{}
	drainClosed   bool
}

// NewScheduler creates a scheduler wired to the given queue, pool and
// stats collector. Nothing runs until Start.
func NewScheduler(config Config, taskQueue *queue.TaskQueue, workerPool *pool.Pool, collector *stats.Collector) *DefaultScheduler {
	cfg := config.withDefaults()
	s := &DefaultScheduler{
		config:    cfg,
		queue:     taskQueue,
		pool:      workerPool,
		stats:     collector,
		events:    make(chan event, cfg.EventBuffer),
		loopDone:  make(chan struct{}),
		drainDone: make(chan struct{}),
		tasks:     make(map[string]*taskEntry),
	}
	s.state.Store(types.EngineStateInit)
	return s
}

// Start starts the worker pool and the event loop.
func (s *DefaultScheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already started")
	}
	if err := s.pool.Start(ctx); err != nil {
		s.started.Store(false)
		return fmt.Errorf("start worker pool: %w", err)
	}
	s.state.Store(types.EngineStateRunning)
	utils.SafeGoWithName("scheduler-loop", s.run)
	logger.Info("scheduler started",
		zap.Int("max_retries", s.config.MaxRetries),
		zap.Duration("retry_base_delay", s.config.RetryBaseDelay),
		zap.Duration("evaluate_interval", s.config.EvaluateInterval))
	return nil
}

// Stop drains the scheduler and shuts down the pool.
func (s *DefaultScheduler) Stop(ctx context.Context) error {
	if !s.started.Load() {
		s.state.Store(types.EngineStateStopped)
		return nil
	}
	var err error
	s.stopOnce.Do(func() {
		s.state.Store(types.EngineStateDraining)
		select {
		case s.events <- drainEvent{}:
		case <-s.loopDone:
		case <-ctx.Done():
		}
		select {
		case <-s.drainDone:
		case <-s.loopDone:
		case <-ctx.Done():
			err = ctx.Err()
			logger.Warn("drain deadline passed, cancelling in-flight tasks")
		}
		// Stopping the pool closes the completion channel, which is the
		// loop's signal to finalize whatever is still open and exit.
		s.pool.Stop()
		<-s.loopDone
		s.state.Store(types.EngineStateStopped)
		logger.Info("scheduler stopped")
	})
	return err
}

// Submit validates the spec and enqueues a task.
func (s *DefaultScheduler) Submit(ctx context.Context, spec types.TaskSpec) (string, error) {
	if err := s.ensureRunning(); err != nil {
		return "", err
	}
	reply := make(chan submitReply, 1)
	if err := s.post(ctx, submitEvent{spec: spec, reply: reply}); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.id, r.err
	case <-s.loopDone:
		return "", fmt.Errorf("scheduler stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SubmitBatch submits every spec or none.
func (s *DefaultScheduler) SubmitBatch(ctx context.Context, specs []types.TaskSpec) ([]string, error) {
	if err := s.ensureRunning(); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, nil
	}
	reply := make(chan batchReply, 1)
	if err := s.post(ctx, submitBatchEvent{specs: specs, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.ids, r.err
	case <-s.loopDone:
		return nil, fmt.Errorf("scheduler stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation of one task.
func (s *DefaultScheduler) Cancel(ctx context.Context, taskID string) error {
	if !s.started.Load() {
		return fmt.Errorf("scheduler not started")
	}
	reply := make(chan error, 1)
	if err := s.post(ctx, cancelEvent{taskID: taskID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.loopDone:
		return fmt.Errorf("scheduler stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitCompletion blocks until every id is terminal or the timeout passes.
func (s *DefaultScheduler) AwaitCompletion(ctx context.Context, ids []string, timeout time.Duration) (map[string]AwaitOutcome, error) {
	if !s.started.Load() {
		return nil, fmt.Errorf("scheduler not started")
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return map[string]AwaitOutcome{}, nil
	}
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}

	ticket := newAwaitTicket(len(unique))
	registered := make(chan struct{})
	if err := s.post(ctx, awaitEvent{ids: unique, ticket: ticket, reply: registered}); err != nil {
		return nil, err
	}
	select {
	case <-registered:
	case <-s.loopDone:
		return ticket.collect(unique), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ticket.done:
	case <-timer.C:
	case <-s.loopDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return ticket.collect(unique), nil
}

// Inspect returns the current view of one task.
func (s *DefaultScheduler) Inspect(ctx context.Context, taskID string) (*TaskView, error) {
	if !s.started.Load() {
		return nil, fmt.Errorf("scheduler not started")
	}
	reply := make(chan inspectReply, 1)
	if err := s.post(ctx, inspectEvent{taskID: taskID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.view, r.err
	case <-s.loopDone:
		return nil, fmt.Errorf("scheduler stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns an engine snapshot.
func (s *DefaultScheduler) Status(ctx context.Context) (*types.EngineStatus, error) {
	if !s.started.Load() {
		return &types.EngineStatus{
			State:      s.State(),
			Workers:    []types.WorkerInfo{},
			QueueDepth: s.queue.Depths(),
			Stats:      *s.stats.Snapshot(),
		}, nil
	}
	reply := make(chan *types.EngineStatus, 1)
	if err := s.post(ctx, statusEvent{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.loopDone:
		return nil, fmt.Errorf("scheduler stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State reports the lifecycle state.
func (s *DefaultScheduler) State() types.EngineState {
	return s.state.Load().(types.EngineState)
}

func (s *DefaultScheduler) ensureRunning() error {
	switch s.State() {
	case types.EngineStateRunning:
		return nil
	case types.EngineStateInit:
		return fmt.Errorf("scheduler not started")
	default:
		return types.NewQueueDrainedError("")
	}
}

// post delivers an event to the loop, giving up when the loop has exited
// or the caller's context ends.
func (s *DefaultScheduler) post(ctx context.Context, ev event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.loopDone:
		return fmt.Errorf("scheduler stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the event loop. 所有任务状态变更都在这一个协程里串行处理。
func (s *DefaultScheduler) run() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.config.EvaluateInterval)
	defer ticker.Stop()

	completions := s.pool.Completions()
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case c, ok := <-completions:
			if !ok {
				s.finalizeShutdown()
				return
			}
			s.handleCompletion(c)
		case <-ticker.C:
			s.evaluatePool()
		}
		if s.draining && s.inFlight == 0 {
			s.finishDrain()
			return
		}
	}
}

func (s *DefaultScheduler) handleEvent(ev event) {
	switch e := ev.(type) {
	case submitEvent:
		id, err := s.handleSubmit(e.spec)
		e.reply <- submitReply{id: id, err: err}
	case submitBatchEvent:
		ids, err := s.handleSubmitBatch(e.specs)
		e.reply <- batchReply{ids: ids, err: err}
	case cancelEvent:
		e.reply <- s.handleCancel(e.taskID)
	case awaitEvent:
		s.handleAwait(e.ids, e.ticket)
		close(e.reply)
	case inspectEvent:
		view, err := s.handleInspect(e.taskID)
		e.reply <- inspectReply{view: view, err: err}
	case statusEvent:
		e.reply <- s.buildStatus()
	case retryDueEvent:
		s.handleRetryDue(e.taskID)
	case drainEvent:
		s.handleDrain()
	}
}

func (s *DefaultScheduler) handleSubmit(spec types.TaskSpec) (string, error) {
	if s.draining {
		return "", types.NewQueueDrainedError("")
	}
	task, err := s.buildTask(spec)
	if err != nil {
		return "", err
	}
	s.admit(task)
	s.dispatchQueued()
	return task.ID, nil
}

func (s *DefaultScheduler) handleSubmitBatch(specs []types.TaskSpec) ([]string, error) {
	if s.draining {
		return nil, types.NewQueueDrainedError("")
	}
	tasks := make([]*types.Task, 0, len(specs))
	for i, spec := range specs {
		task, err := s.buildTask(spec)
		if err != nil {
			return nil, types.NewInvalidSpecError(fmt.Sprintf("spec %d: %v", i, err))
		}
		tasks = append(tasks, task)
	}
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		s.admit(task)
		ids = append(ids, task.ID)
	}
	s.dispatchQueued()
	return ids, nil
}

// buildTask validates a spec and fills defaults. Unknown priorities fall
// back to normal rather than rejecting the spec.
func (s *DefaultScheduler) buildTask(spec types.TaskSpec) (*types.Task, error) {
	if spec.Kind == "" {
		return nil, types.NewInvalidSpecError("kind is required")
	}
	if spec.Prompt == "" {
		return nil, types.NewInvalidSpecError("prompt is required")
	}
	if spec.MaxRetries != nil && *spec.MaxRetries < 0 {
		return nil, types.NewInvalidSpecError("max_retries must not be negative")
	}
	priority := spec.Priority
	if !priority.IsValid() {
		priority = types.PriorityNormal
	}
	maxRetries := s.config.MaxRetries
	if spec.MaxRetries != nil {
		maxRetries = *spec.MaxRetries
	}
	return &types.Task{
		ID:                   "task-" + uuid.New().String(),
		Kind:                 spec.Kind,
		Prompt:               spec.Prompt,
		Payload:              spec.Payload,
		Priority:             priority,
		RequiredCapabilities: spec.RequiredCapabilities,
		MaxRetries:           maxRetries,
		Strategy:             spec.Strategy,
		Status:               types.TaskStatusQueued,
		CreatedAt:            time.Now(),
		Deadline:             spec.Deadline,
	}, nil
}

// admit registers the task and either queues it or fails it on the spot
// when no worker profile can ever serve it or its deadline has already
// passed.
func (s *DefaultScheduler) admit(task *types.Task) {
	entry := &taskEntry{task: task}
	s.tasks[task.ID] = entry
	s.stats.RecordSubmitted(1)

	if !s.pool.CanServe(task.RequiredCapabilities) {
		s.finalizeFailure(entry, "", types.NewCapabilityMismatchError(task.ID, task.RequiredCapabilities), nil)
		return
	}
	if task.DeadlineExpired(time.Now()) {
		s.finalizeFailure(entry, "", types.NewDeadlineExceededError(task.ID), nil)
		return
	}
	s.queue.Push(task)
	logger.Debug("task queued",
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.String("priority", string(task.Priority)))
}

// dispatchQueued hands queued tasks to idle workers. Tasks whose
// deadline passed while they waited fail here instead of dispatching.
func (s *DefaultScheduler) dispatchQueued() {
	if s.draining {
		return
	}
	now := time.Now()
	for _, w := range s.pool.IdleWorkers() {
		for {
			task := s.queue.PopFor(w.Capabilities())
			if task == nil {
				break
			}
			entry := s.tasks[task.ID]
			if entry == nil {
				continue
			}
			if task.DeadlineExpired(now) {
				s.finalizeFailure(entry, "", types.NewDeadlineExceededError(task.ID), nil)
				continue
			}
			if err := s.pool.Assign(w.ID(), task); err != nil {
				s.queue.Push(task)
				logger.Warn("assign failed",
					zap.String("worker_id", w.ID()),
					zap.String("task_id", task.ID),
					zap.Error(err))
				break
			}
			task.Status = types.TaskStatusRunning
			entry.workerID = w.ID()
			s.inFlight++
			break
		}
	}
}

func (s *DefaultScheduler) handleCompletion(c pool.Completion) {
	entry := s.tasks[c.Task.ID]
	cancelled := (entry != nil && entry.cancelled) ||
		errors.Is(c.Err, context.Canceled) ||
		types.IsTaskCancelledError(c.Err)

	// A cancelled attempt is not held against the worker.
	s.pool.Release(c.WorkerID, c.Err == nil || cancelled, c.Duration)
	if c.Result != nil {
		for i := range c.Result.Outcomes {
			s.stats.RecordOutcome(&c.Result.Outcomes[i])
		}
	}
	if entry == nil {
		return
	}
	s.inFlight--
	entry.workerID = ""

	switch {
	case cancelled:
		s.finalizeCancelled(entry)
	case c.Err == nil:
		s.finalizeCompleted(entry, c)
	default:
		s.handleFailure(entry, c)
	}
	s.dispatchQueued()
}

func (s *DefaultScheduler) handleFailure(entry *taskEntry, c pool.Completion) {
	task := entry.task
	if types.IsTransientError(c.Err) && task.RetryCount < task.MaxRetries && !s.draining {
		delay := s.retryDelay(task.RetryCount)
		task.RetryCount++
		task.Status = types.TaskStatusRetryWait
		s.stats.RecordAttemptFailure(c.WorkerID)
		id := task.ID
		entry.retryTimer = time.AfterFunc(delay, func() {
			_ = s.post(context.Background(), retryDueEvent{taskID: id})
		})
		logger.Info("task retry scheduled",
			zap.String("task_id", id),
			zap.Int("retry_count", task.RetryCount),
			zap.Int("max_retries", task.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(c.Err))
		return
	}

	taskErr := asTaskError(c.Err, task.ID)
	if types.IsTransientError(c.Err) && task.RetryCount >= task.MaxRetries {
		taskErr = types.NewRetriesExhaustedError(task.ID, task.RetryCount+1, c.Err)
	}
	s.finalizeFailure(entry, c.WorkerID, taskErr, c.Result)
}

// retryDelay computes the jittered exponential wait before the next
// attempt. retryCount is the number of retries already consumed.
func (s *DefaultScheduler) retryDelay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = s.config.RetryJitter
	b.MaxInterval = s.config.RetryMaxDelay

	delay := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (s *DefaultScheduler) handleRetryDue(taskID string) {
	entry := s.tasks[taskID]
	if entry == nil || entry.task.Status != types.TaskStatusRetryWait {
		return
	}
	entry.retryTimer = nil
	if entry.cancelled {
		s.finalizeCancelled(entry)
		return
	}
	if s.draining {
		s.finalizeFailure(entry, "", types.NewQueueDrainedError(taskID), nil)
		return
	}
	if entry.task.DeadlineExpired(time.Now()) {
		s.finalizeFailure(entry, "", types.NewDeadlineExceededError(taskID), nil)
		return
	}
	entry.task.Status = types.TaskStatusQueued
	s.queue.Push(entry.task)
	logger.Debug("task requeued for retry",
		zap.String("task_id", taskID),
		zap.Int("retry_count", entry.task.RetryCount))
	s.dispatchQueued()
}

func (s *DefaultScheduler) handleCancel(taskID string) error {
	entry := s.tasks[taskID]
	if entry == nil {
		return types.NewTaskNotFoundError(taskID)
	}
	task := entry.task
	if task.Status.IsTerminal() {
		return nil
	}
	logger.Info("task cancel requested",
		zap.String("task_id", taskID),
		zap.String("status", string(task.Status)))
	switch task.Status {
	case types.TaskStatusQueued:
		s.queue.Remove(taskID)
		s.finalizeCancelled(entry)
	case types.TaskStatusRetryWait:
		s.finalizeCancelled(entry)
	case types.TaskStatusRunning:
		// Finalized in handleCompletion once the worker acknowledges.
		entry.cancelled = true
		s.pool.CancelTask(entry.workerID)
	}
	return nil
}

func (s *DefaultScheduler) handleAwait(ids []string, ticket *awaitTicket) {
	for _, id := range ids {
		entry := s.tasks[id]
		switch {
		case entry == nil:
			ticket.deliver(id, AwaitOutcome{Err: types.NewTaskNotFoundError(id)})
		case entry.outcome != nil:
			ticket.deliver(id, *entry.outcome)
		default:
			entry.waiters = append(entry.waiters, ticket)
		}
	}
}

func (s *DefaultScheduler) handleInspect(taskID string) (*TaskView, error) {
	entry := s.tasks[taskID]
	if entry == nil {
		return nil, types.NewTaskNotFoundError(taskID)
	}
	view := &TaskView{Task: *entry.task}
	if entry.outcome != nil {
		view.Result = entry.outcome.Result
		view.Err = entry.outcome.Err
	}
	return view, nil
}

func (s *DefaultScheduler) buildStatus() *types.EngineStatus {
	return &types.EngineStatus{
		State:      s.State(),
		Workers:    s.pool.Workers(),
		QueueDepth: s.queue.Depths(),
		InFlight:   s.inFlight,
		Stats:      *s.stats.Snapshot(),
	}
}

func (s *DefaultScheduler) evaluatePool() {
	if s.draining {
		return
	}
	added, retired := s.pool.Evaluate(s.queue.Len())
	if added > 0 {
		// New capacity can drain the backlog right away.
		s.dispatchQueued()
	}
	if added > 0 || retired > 0 {
		total, busy, _ := s.pool.Counts()
		logger.Debug("pool evaluated",
			zap.Int("added", added),
			zap.Int("retired", retired),
			zap.Int("total", total),
			zap.Int("busy", busy))
	}
}

// handleDrain fails everything that has not started running yet.
// In-flight tasks keep their workers until they complete.
func (s *DefaultScheduler) handleDrain() {
	if s.draining {
		return
	}
	s.draining = true
	s.state.Store(types.EngineStateDraining)
	drained := s.queue.Drain()
	for _, task := range drained {
		if entry := s.tasks[task.ID]; entry != nil {
			s.finalizeFailure(entry, "", types.NewQueueDrainedError(task.ID), nil)
		}
	}
	for id, entry := range s.tasks {
		if entry.task.Status == types.TaskStatusRetryWait {
			s.finalizeFailure(entry, "", types.NewQueueDrainedError(id), nil)
		}
	}
	logger.Info("scheduler draining",
		zap.Int("dropped_queued", len(drained)),
		zap.Int("in_flight", s.inFlight))
}

// finalizeShutdown runs when the pool's completion channel closes while
// tasks are still open, which only happens on a forced stop.
func (s *DefaultScheduler) finalizeShutdown() {
	if !s.draining {
		s.handleDrain()
	}
	for _, entry := range s.tasks {
		if entry.task.Status == types.TaskStatusRunning {
			s.inFlight--
			entry.workerID = ""
			s.finalizeCancelled(entry)
		}
	}
	s.finishDrain()
}

func (s *DefaultScheduler) finishDrain() {
	if !s.drainClosed {
		s.drainClosed = true
		close(s.drainDone)
	}
}

func (s *DefaultScheduler) finalizeCompleted(entry *taskEntry, c pool.Completion) {
	entry.task.Status = types.TaskStatusCompleted
	s.stats.RecordTaskCompleted(c.WorkerID, c.Duration.Milliseconds(), c.Result.Confidence)
	s.settle(entry, &AwaitOutcome{Result: c.Result})
	logger.Debug("task completed",
		zap.String("task_id", entry.task.ID),
		zap.Float64("confidence", c.Result.Confidence),
		zap.Duration("duration", c.Duration))
}

func (s *DefaultScheduler) finalizeFailure(entry *taskEntry, workerID string, taskErr *types.TaskError, result *types.ConsensusResult) {
	entry.task.Status = types.TaskStatusFailed
	s.stats.RecordTaskFailed(workerID)
	s.settle(entry, &AwaitOutcome{Result: result, Err: taskErr})
	logger.Warn("task failed",
		zap.String("task_id", entry.task.ID),
		zap.String("code", string(taskErr.Code)),
		zap.String("message", taskErr.Message))
}

func (s *DefaultScheduler) finalizeCancelled(entry *taskEntry) {
	entry.task.Status = types.TaskStatusCancelled
	s.stats.RecordTaskCancelled()
	s.settle(entry, &AwaitOutcome{Err: types.NewTaskCancelledError(entry.task.ID)})
	logger.Info("task cancelled", zap.String("task_id", entry.task.ID))
}

// settle records the terminal outcome, notifies waiters and evicts the
// oldest finished tasks beyond the retention bound.
func (s *DefaultScheduler) settle(entry *taskEntry, out *AwaitOutcome) {
	entry.outcome = out
	if entry.retryTimer != nil {
		entry.retryTimer.Stop()
		entry.retryTimer = nil
	}
	for _, t := range entry.waiters {
		t.deliver(entry.task.ID, *out)
	}
	entry.waiters = nil

	s.terminalOrder = append(s.terminalOrder, entry.task.ID)
	for len(s.terminalOrder) > s.config.RetainTerminal {
		evicted := s.terminalOrder[0]
		s.terminalOrder = s.terminalOrder[1:]
		delete(s.tasks, evicted)
	}
}

// asTaskError normalizes an arbitrary runner error into a typed task error.
func asTaskError(err error, taskID string) *types.TaskError {
	var taskErr *types.TaskError
	if errors.As(err, &taskErr) {
		if taskErr.TaskID == "" {
			taskErr.TaskID = taskID
		}
		return taskErr
	}
	return &types.TaskError{
		Code:    types.ErrCodePermanentBackend,
		Message: "task execution failed",
		TaskID:  taskID,
		Cause:   err,
	}
}
