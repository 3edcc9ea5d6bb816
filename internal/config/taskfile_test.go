package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/pkg/types"
)

func TestParseTaskFile(t *testing.T) {
	content := `
defaults:
  priority: high
  required_capabilities:
    - general
  max_retries: 2
  strategy: weighted_voting

await_timeout: 2m

tasks:
  - kind: summarize
    prompt: "summarize the quarterly report"
  - kind: classify
    prompt: "classify this ticket"
    priority: critical
    strategy: majority_vote
`
	f, err := ParseTaskFile([]byte(content))
	require.NoError(t, err)

	require.Len(t, f.Tasks, 2)
	assert.Equal(t, 2*time.Minute, f.AwaitTimeout)
	require.NotNil(t, f.Defaults)
	assert.Equal(t, types.PriorityHigh, f.Defaults.Priority)

	specs := f.Specs()
	require.Len(t, specs, 2)

	// First task inherits every default.
	assert.Equal(t, "summarize", specs[0].Kind)
	assert.Equal(t, types.PriorityHigh, specs[0].Priority)
	assert.Equal(t, []string{"general"}, specs[0].RequiredCapabilities)
	require.NotNil(t, specs[0].MaxRetries)
	assert.Equal(t, 2, *specs[0].MaxRetries)
	assert.Equal(t, types.StrategyWeightedVoting, specs[0].Strategy)

	// Second task keeps its own priority and strategy.
	assert.Equal(t, types.PriorityCritical, specs[1].Priority)
	assert.Equal(t, types.StrategyMajorityVote, specs[1].Strategy)
	assert.Equal(t, []string{"general"}, specs[1].RequiredCapabilities)
}

func TestParseTaskFileWithoutDefaults(t *testing.T) {
	content := `
tasks:
  - kind: summarize
    prompt: "hello"
`
	f, err := ParseTaskFile([]byte(content))
	require.NoError(t, err)

	specs := f.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, types.TaskPriority(""), specs[0].Priority)
	assert.Nil(t, specs[0].MaxRetries)
}

func TestParseTaskFileValidation(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		errorField string
	}{
		{
			name:       "no tasks",
			content:    "await_timeout: 10s\n",
			errorField: "tasks",
		},
		{
			name: "missing kind",
			content: `
tasks:
  - prompt: "hello"
`,
			errorField: "tasks[0].kind",
		},
		{
			name: "missing prompt",
			content: `
tasks:
  - kind: summarize
`,
			errorField: "tasks[0].prompt",
		},
		{
			name: "unknown priority",
			content: `
tasks:
  - kind: summarize
    prompt: "hello"
    priority: urgent
`,
			errorField: "tasks[0].priority",
		},
		{
			name: "negative await timeout",
			content: `
await_timeout: -5s
tasks:
  - kind: summarize
    prompt: "hello"
`,
			errorField: "await_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTaskFile([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorField)
		})
	}
}

func TestParseTaskFileInvalidYAML(t *testing.T) {
	_, err := ParseTaskFile([]byte("tasks:\n  - kind: a\n   broken"))
	assert.Error(t, err)
}

func TestLoadTaskFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "tasks.yaml")

	content := `
tasks:
  - kind: summarize
    prompt: "hello"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	f, err := LoadTaskFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Tasks, 1)
}

func TestLoadTaskFileMissing(t *testing.T) {
	_, err := LoadTaskFile("/nonexistent/tasks.yaml")
	assert.Error(t, err)
}

func TestTaskDefaultsMerge(t *testing.T) {
	two := 2
	five := 5

	base := &TaskDefaults{
		Priority:             types.PriorityNormal,
		RequiredCapabilities: []string{"general"},
		MaxRetries:           &two,
	}
	override := &TaskDefaults{
		Priority:   types.PriorityHigh,
		MaxRetries: &five,
		Strategy:   types.StrategyEnsembleBlend,
	}

	merged := base.Merge(override)

	assert.Equal(t, types.PriorityHigh, merged.Priority)
	assert.Equal(t, []string{"general"}, merged.RequiredCapabilities)
	require.NotNil(t, merged.MaxRetries)
	assert.Equal(t, 5, *merged.MaxRetries)
	assert.Equal(t, types.StrategyEnsembleBlend, merged.Strategy)

	// Originals unchanged.
	assert.Equal(t, types.PriorityNormal, base.Priority)
	assert.Equal(t, 2, *base.MaxRetries)
}

func TestTaskDefaultsMergeNil(t *testing.T) {
	d := &TaskDefaults{Priority: types.PriorityLow}

	assert.Same(t, d, d.Merge(nil))

	var empty *TaskDefaults
	merged := empty.Merge(d)
	require.NotNil(t, merged)
	assert.Equal(t, types.PriorityLow, merged.Priority)
}

func TestTaskDefaultsClone(t *testing.T) {
	three := 3
	d := &TaskDefaults{
		Priority:             types.PriorityHigh,
		RequiredCapabilities: []string{"general", "code"},
		MaxRetries:           &three,
	}

	clone := d.Clone()

	d.RequiredCapabilities[0] = "mutated"
	*d.MaxRetries = 9

	assert.Equal(t, []string{"general", "code"}, clone.RequiredCapabilities)
	assert.Equal(t, 3, *clone.MaxRetries)
}

func TestTaskDefaultsApply(t *testing.T) {
	one := 1
	d := &TaskDefaults{
		Priority:   types.PriorityLow,
		MaxRetries: &one,
	}

	spec := d.Apply(types.TaskSpec{Kind: "summarize", Prompt: "hi"})
	assert.Equal(t, types.PriorityLow, spec.Priority)
	require.NotNil(t, spec.MaxRetries)
	assert.Equal(t, 1, *spec.MaxRetries)

	zero := 0
	kept := d.Apply(types.TaskSpec{
		Kind:       "summarize",
		Prompt:     "hi",
		Priority:   types.PriorityCritical,
		MaxRetries: &zero,
	})
	assert.Equal(t, types.PriorityCritical, kept.Priority)
	assert.Equal(t, 0, *kept.MaxRetries)
}

func TestTaskFileClone(t *testing.T) {
	f := &TaskFile{
		Defaults:     &TaskDefaults{Priority: types.PriorityHigh},
		Tasks:        []types.TaskSpec{{Kind: "summarize", Prompt: "hi"}},
		AwaitTimeout: time.Minute,
	}

	clone := f.Clone()
	f.Tasks[0].Kind = "mutated"
	f.Defaults.Priority = types.PriorityLow

	assert.Equal(t, "summarize", clone.Tasks[0].Kind)
	assert.Equal(t, types.PriorityHigh, clone.Defaults.Priority)
	assert.Equal(t, time.Minute, clone.AwaitTimeout)
}
