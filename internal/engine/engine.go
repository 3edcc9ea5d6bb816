// Package engine assembles the conductor pipeline into one runnable
// unit: model catalog, selector, backend mux, parallel dispatcher,
// consensus reducer, stats collector and the scheduler with its worker
// pool. The REST server and the CLI embed an Engine instead of wiring
// the parts themselves.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yqhp/conductor/internal/backend"
	"yqhp/conductor/internal/catalog"
	"yqhp/conductor/internal/config"
	"yqhp/conductor/internal/consensus"
	"yqhp/conductor/internal/dispatch"
	"yqhp/conductor/internal/pool"
	"yqhp/conductor/internal/queue"
	"yqhp/conductor/internal/scheduler"
	"yqhp/conductor/internal/selector"
	"yqhp/conductor/internal/stats"
	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/types"
)

// Engine 调度引擎门面，持有全部组件并对外暴露任务接口。
type Engine struct {
	config    *config.Config
	registry  catalog.Registry
	selector  *selector.Selector
	mux       *backend.Mux
	executor  *dispatch.Executor
	consensus *consensus.Engine
	collector *stats.Collector
	scheduler *scheduler.DefaultScheduler
}

var _ scheduler.Scheduler = (*Engine)(nil)

// New builds an engine from configuration, loading the model catalog
// from cfg.Catalog.Path.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	file, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load model catalog: %w", err)
	}
	return NewWithCatalog(cfg, file)
}

// NewWithCatalog builds an engine over an already parsed catalog file.
// Nothing runs until Start.
func NewWithCatalog(cfg *config.Config, file *catalog.File) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	registry, err := file.Registry()
	if err != nil {
		return nil, fmt.Errorf("build model registry: %w", err)
	}

	mux := backend.NewMux(registry.All())
	registerClients(mux, registry.All(), cfg.Backends)

	e := &Engine{
		config:   cfg,
		registry: registry,
		selector: selector.NewSelectorFromFile(registry, file),
		mux:      mux,
		executor: dispatch.NewExecutor(registry, mux, dispatch.Config{
			UnitTimeout:  cfg.Dispatch.UnitTimeout,
			BatchTimeout: cfg.Dispatch.BatchTimeout,
		}),
		consensus: consensus.NewEngine(types.ConsensusStrategy(cfg.Consensus.DefaultStrategy)),
		collector: stats.NewCollector(registry),
	}

	workerPool := pool.New(pool.Config{
		MinWorkers:           cfg.Pool.MinWorkers,
		MaxWorkers:           cfg.Pool.MaxWorkers,
		EvaluateInterval:     cfg.Pool.EvaluateInterval,
		ScaleUpUtilization:   cfg.Pool.ScaleUpUtilization,
		ScaleDownUtilization: cfg.Pool.ScaleDownUtilization,
		PressureThreshold:    cfg.Pool.PressureThreshold,
		MaxScaleStep:         cfg.Pool.MaxScaleStep,
		UnhealthyThreshold:   cfg.Pool.UnhealthyThreshold,
		WorkerCapabilities:   cfg.Pool.WorkerCapabilities,
	}, e.runTask)

	e.scheduler = scheduler.NewScheduler(scheduler.Config{
		MaxRetries:       cfg.Scheduler.MaxRetries,
		RetryBaseDelay:   cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:    cfg.Scheduler.RetryMaxDelay,
		RetryJitter:      cfg.Scheduler.RetryJitter,
		EvaluateInterval: cfg.Pool.EvaluateInterval,
		RetainTerminal:   cfg.Scheduler.RetainTerminal,
	}, queue.NewTaskQueue(), workerPool, e.collector)

	return e, nil
}

// registerClients installs one backend client per provider family found
// in the catalog. OpenAI, DeepSeek and Azure all speak the OpenAI chat
// protocol and share one adapter.
func registerClients(mux *backend.Mux, models []*types.ModelDescriptor, cfg config.BackendsConfig) {
	byProvider := make(map[types.ModelProvider][]*types.ModelDescriptor)
	for _, m := range models {
		byProvider[m.Provider] = append(byProvider[m.Provider], m)
	}

	openAIFamily := []types.ModelProvider{types.ProviderOpenAI, types.ProviderDeepSeek, types.ProviderAzure}
	var family []*types.ModelDescriptor
	for _, p := range openAIFamily {
		family = append(family, byProvider[p]...)
	}
	if len(family) > 0 {
		client := backend.NewOpenAIClient(family, backend.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			APIVersion: cfg.AzureAPIVersion,
		})
		for _, p := range openAIFamily {
			if len(byProvider[p]) > 0 {
				mux.Register(p, client)
			}
		}
	}

	if ms := byProvider[types.ProviderHTTP]; len(ms) > 0 {
		mux.Register(types.ProviderHTTP, backend.NewHTTPClient(ms, cfg.HTTPAPIKey))
	}
	if _, ok := byProvider[types.ProviderSim]; ok {
		mux.Register(types.ProviderSim, backend.NewSimClient(cfg.SimSeed))
	}
}

// runTask is the worker body: select the model set for the task, fan one
// execution unit out per model and reduce the successful subset into a
// consensus result. The returned error drives the scheduler's retry
// decision: a batch with any usable answer completes, an all-transient
// batch surfaces one transient error and an all-permanent batch fails
// for good.
func (e *Engine) runTask(ctx context.Context, task *types.Task) (*types.ConsensusResult, error) {
	models, err := e.selector.Select(task, 0)
	if err != nil {
		return nil, err
	}
	modelIDs := make([]string, len(models))
	for i, m := range models {
		modelIDs[i] = m.ID
	}

	outcomes := e.executor.Execute(ctx, task, modelIDs)
	result := e.consensus.Reduce(task, outcomes)

	if ctx.Err() != nil {
		return result, types.NewTaskCancelledError(task.ID)
	}

	succeeded, permanent := 0, 0
	for _, o := range outcomes {
		switch {
		case o.IsOK():
			succeeded++
		case o.Status == types.OutcomeError && types.IsPermanentError(o.Cause()):
			permanent++
		}
	}
	if succeeded > 0 {
		return result, nil
	}
	if permanent == len(outcomes) {
		return result, types.NewPermanentBackendError("",
			fmt.Sprintf("all %d model invocations rejected", len(outcomes)), nil)
	}
	return result, types.NewTransientBackendError("",
		fmt.Sprintf("no usable answer from %d model invocations", len(outcomes)), nil)
}

// Start spawns the worker pool and the scheduling loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}
	logger.Info("engine started",
		zap.Int("models", e.registry.Count()),
		zap.String("default_strategy", e.config.Consensus.DefaultStrategy))
	return nil
}

// Stop drains the engine. In-flight tasks get until the context deadline
// to finish, after which they are cancelled.
func (e *Engine) Stop(ctx context.Context) error {
	return e.scheduler.Stop(ctx)
}

// Submit enqueues one task and returns its id.
func (e *Engine) Submit(ctx context.Context, spec types.TaskSpec) (string, error) {
	return e.scheduler.Submit(ctx, spec)
}

// SubmitBatch enqueues every spec or none.
func (e *Engine) SubmitBatch(ctx context.Context, specs []types.TaskSpec) ([]string, error) {
	return e.scheduler.SubmitBatch(ctx, specs)
}

// Cancel stops one task wherever it currently is.
func (e *Engine) Cancel(ctx context.Context, taskID string) error {
	return e.scheduler.Cancel(ctx, taskID)
}

// AwaitCompletion blocks until every listed task is terminal or the
// timeout passes.
func (e *Engine) AwaitCompletion(ctx context.Context, ids []string, timeout time.Duration) (map[string]scheduler.AwaitOutcome, error) {
	return e.scheduler.AwaitCompletion(ctx, ids, timeout)
}

// Inspect returns a point-in-time view of one task.
func (e *Engine) Inspect(ctx context.Context, taskID string) (*scheduler.TaskView, error) {
	return e.scheduler.Inspect(ctx, taskID)
}

// Status returns an engine snapshot: state, workers, queue depths and
// aggregate stats.
func (e *Engine) Status(ctx context.Context) (*types.EngineStatus, error) {
	return e.scheduler.Status(ctx)
}

// State reports the lifecycle state.
func (e *Engine) State() types.EngineState {
	return e.scheduler.State()
}

// Models lists the catalog descriptors ordered by performance score.
func (e *Engine) Models() []*types.ModelDescriptor {
	return e.registry.ByPerformance()
}

// Stats returns the aggregate stats snapshot.
func (e *Engine) Stats() *types.StatsSnapshot {
	return e.collector.Snapshot()
}

// ModelStats returns the recorded stats for one model.
func (e *Engine) ModelStats(modelID string) (types.ModelStats, bool) {
	return e.collector.ModelSnapshot(modelID)
}
