// Package selector picks the ordered subset of catalog models a task is
// dispatched to. Selection is a pure function of the catalog, the routing
// table and the task attributes, so identical inputs always produce the
// same model list.
package selector

import (
	"fmt"

	"yqhp/conductor/internal/catalog"
	"yqhp/conductor/pkg/types"
)

// DefaultFanout is the per-priority dispatch width used when the catalog
// file does not override it.
var DefaultFanout = map[types.TaskPriority]int{
	types.PriorityCritical: 4,
	types.PriorityHigh:     3,
	types.PriorityNormal:   3,
	types.PriorityLow:      2,
}

// Selector resolves (kind, priority) to an ordered model preference list.
type Selector struct {
	registry catalog.Registry
	table    map[string]map[types.TaskPriority][]string
	fanout   map[types.TaskPriority]int
}

// NewSelector creates a selector with an empty routing table. Every
// selection falls through to performance-ranked fill.
func NewSelector(registry catalog.Registry) *Selector {
	return &Selector{
		registry: registry,
		table:    make(map[string]map[types.TaskPriority][]string),
		fanout:   DefaultFanout,
	}
}

// NewSelectorFromFile creates a selector using the catalog file's routing
// table and fanout overrides.
func NewSelectorFromFile(registry catalog.Registry, f *catalog.File) *Selector {
	s := NewSelector(registry)
	if f == nil {
		return s
	}

	for kind, byPriority := range f.Routing {
		entry := make(map[types.TaskPriority][]string, len(byPriority))
		for priority, ids := range byPriority {
			entry[types.TaskPriority(priority)] = ids
		}
		s.table[kind] = entry
	}

	if len(f.Fanout) > 0 {
		fanout := make(map[types.TaskPriority]int, len(DefaultFanout))
		for p, n := range DefaultFanout {
			fanout[p] = n
		}
		for priority, n := range f.Fanout {
			fanout[types.TaskPriority(priority)] = n
		}
		s.fanout = fanout
	}
	return s
}

// Fanout returns the dispatch width for priority.
func (s *Selector) Fanout(priority types.TaskPriority) int {
	if n, ok := s.fanout[priority]; ok && n > 0 {
		return n
	}
	return DefaultFanout[types.PriorityNormal]
}

// Select returns up to count models for the task: first the routing-table
// preference list, then highest-performance fill for the remaining slots.
// count <= 0 means the priority's default fanout.
func (s *Selector) Select(task *types.Task, count int) ([]*types.ModelDescriptor, error) {
	if count <= 0 {
		count = s.Fanout(task.Priority)
	}

	selected := make([]*types.ModelDescriptor, 0, count)
	chosen := make(map[string]struct{}, count)

	// Preference list for (kind, priority) first, in table order.
	if byPriority, ok := s.table[task.Kind]; ok {
		for _, id := range byPriority[task.Priority] {
			if len(selected) == count {
				break
			}
			m, err := s.registry.Get(id)
			if err != nil {
				continue
			}
			if !s.eligible(m, task) {
				continue
			}
			if _, dup := chosen[m.ID]; dup {
				continue
			}
			selected = append(selected, m)
			chosen[m.ID] = struct{}{}
		}
	}

	// Fill remaining slots with the best-performing eligible models.
	if len(selected) < count {
		for _, m := range s.registry.ByPerformance() {
			if len(selected) == count {
				break
			}
			if _, dup := chosen[m.ID]; dup {
				continue
			}
			if !s.eligible(m, task) {
				continue
			}
			selected = append(selected, m)
			chosen[m.ID] = struct{}{}
		}
	}

	if len(selected) == 0 {
		return nil, types.NewTaskError(
			types.ErrCodeCapabilityMismatch,
			fmt.Sprintf("no model can serve kind %q with capabilities %v", task.Kind, task.RequiredCapabilities),
			nil,
		)
	}
	return selected, nil
}

// eligible reports whether the model covers the task's required capabilities.
func (s *Selector) eligible(m *types.ModelDescriptor, task *types.Task) bool {
	return types.HasAllCapabilities(m.Capabilities, task.RequiredCapabilities)
}
