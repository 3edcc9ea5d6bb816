// Package catalog holds the static model catalog: descriptors for every
// backend the engine may dispatch to, loaded once at startup and read-only
// for the process lifetime.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"yqhp/conductor/pkg/types"
)

// Registry provides read access to model descriptors and enforces
// per-model concurrency limits.
type Registry interface {
	// Get returns the descriptor for id.
	Get(id string) (*types.ModelDescriptor, error)
	// Exists reports whether id is in the catalog.
	Exists(id string) bool
	// All returns every descriptor in the catalog.
	All() []*types.ModelDescriptor
	// IDs returns every catalog id.
	IDs() []string
	// ByPerformance returns all descriptors ordered by descending
	// performance score, ties broken by id.
	ByPerformance() []*types.ModelDescriptor
	// Acquire blocks until a concurrency slot for id is available or ctx ends.
	Acquire(ctx context.Context, id string) error
	// Release returns a concurrency slot for id.
	Release(id string)
	// Count returns the number of models in the catalog.
	Count() int
}

// InMemoryRegistry implements Registry backed by an in-memory map.
type InMemoryRegistry struct {
	models   map[string]*types.ModelDescriptor
	limiters map[string]*semaphore.Weighted
	ranked   []*types.ModelDescriptor

	mu sync.RWMutex
}

// NewInMemoryRegistry creates a registry from the given descriptors.
func NewInMemoryRegistry(models []types.ModelDescriptor) (*InMemoryRegistry, error) {
	r := &InMemoryRegistry{
		models:   make(map[string]*types.ModelDescriptor, len(models)),
		limiters: make(map[string]*semaphore.Weighted),
	}

	for i := range models {
		m := models[i]
		if m.ID == "" {
			return nil, fmt.Errorf("model id cannot be empty")
		}
		if _, exists := r.models[m.ID]; exists {
			return nil, fmt.Errorf("duplicate model id: %s", m.ID)
		}
		if m.PerformanceScore < 0 || m.PerformanceScore > 1 {
			return nil, fmt.Errorf("model %s: performance score must be in [0,1], got %v", m.ID, m.PerformanceScore)
		}
		if m.CostPerToken < 0 {
			return nil, fmt.Errorf("model %s: cost per token must be non-negative", m.ID)
		}
		r.models[m.ID] = &m
		if m.ConcurrencyLimit > 0 {
			r.limiters[m.ID] = semaphore.NewWeighted(int64(m.ConcurrencyLimit))
		}
	}

	r.ranked = make([]*types.ModelDescriptor, 0, len(r.models))
	for _, m := range r.models {
		r.ranked = append(r.ranked, m)
	}
	sort.Slice(r.ranked, func(i, j int) bool {
		if r.ranked[i].PerformanceScore != r.ranked[j].PerformanceScore {
			return r.ranked[i].PerformanceScore > r.ranked[j].PerformanceScore
		}
		return r.ranked[i].ID < r.ranked[j].ID
	})

	return r, nil
}

// Get returns the descriptor for id.
func (r *InMemoryRegistry) Get(id string) (*types.ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.models[id]
	if !exists {
		return nil, fmt.Errorf("model not found: %s", id)
	}
	return m, nil
}

// Exists reports whether id is in the catalog.
func (r *InMemoryRegistry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.models[id]
	return exists
}

// All returns every descriptor in the catalog.
func (r *InMemoryRegistry) All() []*types.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*types.ModelDescriptor, 0, len(r.models))
	result = append(result, r.ranked...)
	return result
}

// IDs returns every catalog id in performance order.
func (r *InMemoryRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.ranked))
	for _, m := range r.ranked {
		ids = append(ids, m.ID)
	}
	return ids
}

// ByPerformance returns descriptors by descending performance score.
func (r *InMemoryRegistry) ByPerformance() []*types.ModelDescriptor {
	return r.All()
}

// Acquire blocks until a concurrency slot for id is available.
// Models without a limit always acquire immediately.
func (r *InMemoryRegistry) Acquire(ctx context.Context, id string) error {
	r.mu.RLock()
	lim := r.limiters[id]
	r.mu.RUnlock()

	if lim == nil {
		return nil
	}
	return lim.Acquire(ctx, 1)
}

// Release returns a concurrency slot for id.
func (r *InMemoryRegistry) Release(id string) {
	r.mu.RLock()
	lim := r.limiters[id]
	r.mu.RUnlock()

	if lim != nil {
		lim.Release(1)
	}
}

// Count returns the number of models in the catalog.
func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
