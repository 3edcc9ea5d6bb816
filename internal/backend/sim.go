package backend

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"yqhp/conductor/pkg/types"
)

// SimBehavior scripts how the simulated backend answers for one model.
type SimBehavior struct {
	// Answer overrides the synthesized reply text.
	Answer string
	// MinLatency and MaxLatency bound the simulated response time.
	MinLatency time.Duration
	MaxLatency time.Duration
	// FailRate is the portion of calls that fail with a transient error.
	FailRate float64
	// PermanentFailRate is the portion of calls that fail permanently.
	PermanentFailRate float64
}

// SimClient 内存模拟后端（用于测试和演示）
// Answers are produced locally with scripted latency and failure behavior.
// A seeded source makes runs reproducible.
type SimClient struct {
	mu        sync.Mutex
	rng       *rand.Rand
	behaviors map[string]SimBehavior
	fallback  SimBehavior
}

// NewSimClient creates a simulated backend seeded for reproducible runs.
func NewSimClient(seed int64) *SimClient {
	return &SimClient{
		rng:       rand.New(rand.NewSource(seed)),
		behaviors: make(map[string]SimBehavior),
		fallback: SimBehavior{
			MinLatency: 5 * time.Millisecond,
			MaxLatency: 40 * time.Millisecond,
		},
	}
}

// SetBehavior scripts the behavior for one model id.
func (c *SimClient) SetBehavior(modelID string, behavior SimBehavior) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behaviors[modelID] = behavior
}

// SetFallback scripts the behavior for models without an explicit entry.
func (c *SimClient) SetFallback(behavior SimBehavior) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = behavior
}

// Invoke simulates one backend call, honoring context cancellation.
func (c *SimClient) Invoke(ctx context.Context, modelID string, prompt string, opts InvokeOptions) (*Reply, error) {
	c.mu.Lock()
	behavior, ok := c.behaviors[modelID]
	if !ok {
		behavior = c.fallback
	}
	latency := behavior.MinLatency
	if behavior.MaxLatency > behavior.MinLatency {
		latency += time.Duration(c.rng.Int63n(int64(behavior.MaxLatency - behavior.MinLatency)))
	}
	roll := c.rng.Float64()
	c.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, types.NewTransientBackendError(modelID, "simulated call cancelled", ctx.Err())
		}
	}

	switch {
	case roll < behavior.PermanentFailRate:
		return nil, types.NewPermanentBackendError(modelID, "simulated permanent failure", nil)
	case roll < behavior.PermanentFailRate+behavior.FailRate:
		return nil, types.NewTransientBackendError(modelID, "simulated transient failure", nil)
	}

	answer := behavior.Answer
	if answer == "" {
		answer = fmt.Sprintf("simulated answer from %s: %s", modelID, truncate(prompt, 48))
	}
	return &Reply{
		Text:       answer,
		TokensUsed: estimateTokens(prompt) + estimateTokens(answer),
	}, nil
}

// estimateTokens approximates token usage at four characters per token.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
