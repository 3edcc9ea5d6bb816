// Package dispatch fans a task out to multiple model backends in parallel
// and collects one terminal outcome per model.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"yqhp/conductor/internal/backend"
	"yqhp/conductor/internal/catalog"
	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/types"
	"yqhp/conductor/pkg/utils"
)

const (
	// DefaultUnitTimeout bounds a single backend call.
	DefaultUnitTimeout = 45 * time.Second

	// DefaultBatchTimeout bounds the whole fan-out batch.
	DefaultBatchTimeout = 60 * time.Second

	// shortAnswerThreshold is the answer length below which derived
	// confidence takes a penalty.
	shortAnswerThreshold = 20
)

// Config tunes the executor timeouts.
type Config struct {
	UnitTimeout  time.Duration
	BatchTimeout time.Duration
}

// Executor runs one execution unit per selected model. Units are single
// attempt; retry policy lives with the task, not the unit.
type Executor struct {
	registry     catalog.Registry
	client       backend.Client
	unitTimeout  time.Duration
	batchTimeout time.Duration
}

// NewExecutor creates an executor over the given registry and backend client.
func NewExecutor(registry catalog.Registry, client backend.Client, config Config) *Executor {
	unitTimeout := config.UnitTimeout
	if unitTimeout <= 0 {
		unitTimeout = DefaultUnitTimeout
	}
	batchTimeout := config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}
	return &Executor{
		registry:     registry,
		client:       client,
		unitTimeout:  unitTimeout,
		batchTimeout: batchTimeout,
	}
}

// Execute dispatches task to every model in modelIDs and blocks until each
// unit is terminal or the batch timeout fires. It always returns exactly
// len(modelIDs) outcomes, in modelIDs order; units still pending when the
// batch window closes are reported as timed out.
func (e *Executor) Execute(ctx context.Context, task *types.Task, modelIDs []string) []*types.ExecutionOutcome {
	if len(modelIDs) == 0 {
		return nil
	}

	batchCtx, cancel := context.WithTimeout(ctx, e.batchTimeout)
	defer cancel()

	// 每个执行单元一个 goroutine，结果通过带缓冲的 channel 汇总
	results := make(chan *types.ExecutionOutcome, len(modelIDs))
	for _, modelID := range modelIDs {
		id := modelID
		utils.SafeGoWithName("dispatch-unit-"+id, func() {
			results <- e.runUnit(batchCtx, task, id)
		})
	}

	collected := make(map[string]*types.ExecutionOutcome, len(modelIDs))
	for len(collected) < len(modelIDs) {
		select {
		case outcome := <-results:
			collected[outcome.ModelID] = outcome
		case <-batchCtx.Done():
			// Take whatever already sits in the buffer, then report the
			// rest as timed out. Stragglers finish into the buffered
			// channel and exit; their results are discarded.
			draining := true
			for draining && len(collected) < len(modelIDs) {
				select {
				case outcome := <-results:
					collected[outcome.ModelID] = outcome
				default:
					draining = false
				}
			}
			for _, id := range modelIDs {
				if _, ok := collected[id]; !ok {
					timedOut := types.NewOutcome(id)
					timedOut.Timeout()
					timedOut.Error = "batch deadline exceeded"
					collected[id] = timedOut
				}
			}
		}
	}

	outcomes := make([]*types.ExecutionOutcome, 0, len(modelIDs))
	for _, id := range modelIDs {
		outcomes = append(outcomes, collected[id])
	}
	return outcomes
}

// runUnit performs one single-attempt backend call under the unit timeout.
func (e *Executor) runUnit(ctx context.Context, task *types.Task, modelID string) *types.ExecutionOutcome {
	outcome := types.NewOutcome(modelID)

	unitCtx, cancel := context.WithTimeout(ctx, e.unitTimeout)
	defer cancel()

	if err := e.registry.Acquire(unitCtx, modelID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			outcome.Timeout()
		} else {
			outcome.Fail(err)
		}
		return outcome
	}
	defer e.registry.Release(modelID)

	reply, err := e.client.Invoke(unitCtx, modelID, task.Prompt, buildOptions(task))
	if err != nil {
		if unitCtx.Err() == context.DeadlineExceeded {
			outcome.Timeout()
		} else {
			outcome.Fail(err)
		}
		logger.Debug("execution unit failed",
			zap.String("task_id", task.ID),
			zap.String("model_id", modelID),
			zap.String("status", string(outcome.Status)),
			zap.String("error", outcome.Error))
		return outcome
	}

	outcome.Complete(reply.Text, 0, reply.TokensUsed)
	outcome.Confidence = e.deriveConfidence(modelID, outcome.LatencyMs, reply.Text)
	return outcome
}

// deriveConfidence scores an answer from the model's catalog performance,
// discounted by how much of the unit window the call consumed and by
// suspiciously short replies. Backends in this protocol do not self-report
// confidence, so the engine derives one for consensus weighting.
func (e *Executor) deriveConfidence(modelID string, latencyMs int64, answer string) float64 {
	base := 0.5
	if desc, err := e.registry.Get(modelID); err == nil {
		base = desc.PerformanceScore
	}

	latencyRatio := float64(latencyMs) / float64(e.unitTimeout.Milliseconds())
	confidence := base - 0.25*latencyRatio
	if len(strings.TrimSpace(answer)) < shortAnswerThreshold {
		confidence -= 0.1
	}

	if confidence < 0.05 {
		confidence = 0.05
	}
	if confidence > 0.99 {
		confidence = 0.99
	}
	return confidence
}

// buildOptions lifts generation options out of the task payload.
func buildOptions(task *types.Task) backend.InvokeOptions {
	opts := backend.InvokeOptions{}
	if task.Payload == nil {
		return opts
	}
	if v, ok := task.Payload["system_prompt"].(string); ok {
		opts.SystemPrompt = v
	}
	switch v := task.Payload["max_tokens"].(type) {
	case int:
		opts.MaxTokens = v
	case float64:
		opts.MaxTokens = int(v)
	}
	switch v := task.Payload["temperature"].(type) {
	case float64:
		temp := float32(v)
		opts.Temperature = &temp
	}
	return opts
}
