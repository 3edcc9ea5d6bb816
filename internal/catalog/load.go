package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"yqhp/conductor/pkg/types"
)

// File is the on-disk model catalog document.
type File struct {
	// Models lists every backend descriptor.
	Models []types.ModelDescriptor `yaml:"models"`
	// Routing maps task kind -> priority -> ordered model preference list.
	Routing map[string]map[string][]string `yaml:"routing,omitempty"`
	// Fanout maps priority -> number of models selected per dispatch.
	Fanout map[string]int `yaml:"fanout,omitempty"`
}

// Load reads and validates a catalog file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates catalog YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// validate collects every catalog violation into one error.
func (f *File) validate() error {
	var errs []string

	if len(f.Models) == 0 {
		errs = append(errs, "models: at least one model is required")
	}

	known := make(map[string]struct{}, len(f.Models))
	for i, m := range f.Models {
		if m.ID == "" {
			errs = append(errs, fmt.Sprintf("models[%d]: id is required", i))
			continue
		}
		if _, dup := known[m.ID]; dup {
			errs = append(errs, fmt.Sprintf("models[%d]: duplicate id %q", i, m.ID))
		}
		known[m.ID] = struct{}{}

		if m.Provider == "" {
			errs = append(errs, fmt.Sprintf("models[%s]: provider is required", m.ID))
		}
		if m.PerformanceScore < 0 || m.PerformanceScore > 1 {
			errs = append(errs, fmt.Sprintf("models[%s]: performance_score must be in [0,1]", m.ID))
		}
		if m.CostPerToken < 0 {
			errs = append(errs, fmt.Sprintf("models[%s]: cost_per_token must be non-negative", m.ID))
		}
		if m.ConcurrencyLimit < 0 {
			errs = append(errs, fmt.Sprintf("models[%s]: concurrency_limit must be non-negative", m.ID))
		}
	}

	for kind, byPriority := range f.Routing {
		for priority, ids := range byPriority {
			if !types.TaskPriority(priority).IsValid() {
				errs = append(errs, fmt.Sprintf("routing[%s]: unknown priority %q", kind, priority))
			}
			for _, id := range ids {
				if _, ok := known[id]; !ok {
					errs = append(errs, fmt.Sprintf("routing[%s][%s]: unknown model %q", kind, priority, id))
				}
			}
		}
	}

	for priority, n := range f.Fanout {
		if !types.TaskPriority(priority).IsValid() {
			errs = append(errs, fmt.Sprintf("fanout: unknown priority %q", priority))
		}
		if n <= 0 {
			errs = append(errs, fmt.Sprintf("fanout[%s]: must be positive", priority))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("catalog validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Registry builds an InMemoryRegistry from the file's models.
func (f *File) Registry() (*InMemoryRegistry, error) {
	return NewInMemoryRegistry(f.Models)
}
