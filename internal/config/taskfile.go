package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/conductor/pkg/types"
)

// TaskFile describes a batch of task submissions loaded from YAML.
// The run command submits every task and awaits the whole batch.
type TaskFile struct {
	// Defaults 应用到每个未显式设置的任务字段
	Defaults *TaskDefaults `yaml:"defaults,omitempty" json:"defaults,omitempty"`

	// 任务列表
	Tasks []types.TaskSpec `yaml:"tasks" json:"tasks"`

	// 等待整批完成的超时时间
	AwaitTimeout time.Duration `yaml:"await_timeout,omitempty" json:"await_timeout,omitempty"`
}

// TaskDefaults holds file-level defaults for task fields.
// A field set on the task itself always wins over the default.
type TaskDefaults struct {
	Priority             types.TaskPriority      `yaml:"priority,omitempty" json:"priority,omitempty"`
	RequiredCapabilities []string                `yaml:"required_capabilities,omitempty" json:"required_capabilities,omitempty"`
	MaxRetries           *int                    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Strategy             types.ConsensusStrategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// Merge 合并默认值（other 覆盖 d）
func (d *TaskDefaults) Merge(other *TaskDefaults) *TaskDefaults {
	if other == nil {
		return d
	}
	if d == nil {
		return other.Clone()
	}

	result := d.Clone()

	if other.Priority != "" {
		result.Priority = other.Priority
	}
	if len(other.RequiredCapabilities) > 0 {
		result.RequiredCapabilities = append([]string(nil), other.RequiredCapabilities...)
	}
	if other.MaxRetries != nil {
		retries := *other.MaxRetries
		result.MaxRetries = &retries
	}
	if other.Strategy != "" {
		result.Strategy = other.Strategy
	}

	return result
}

// Clone 克隆默认值
func (d *TaskDefaults) Clone() *TaskDefaults {
	if d == nil {
		return nil
	}

	result := &TaskDefaults{
		Priority: d.Priority,
		Strategy: d.Strategy,
	}

	if len(d.RequiredCapabilities) > 0 {
		result.RequiredCapabilities = append([]string(nil), d.RequiredCapabilities...)
	}
	if d.MaxRetries != nil {
		retries := *d.MaxRetries
		result.MaxRetries = &retries
	}

	return result
}

// Apply 应用默认值（任务字段 > 默认值）
func (d *TaskDefaults) Apply(spec types.TaskSpec) types.TaskSpec {
	if d == nil {
		return spec
	}

	if spec.Priority == "" {
		spec.Priority = d.Priority
	}
	if len(spec.RequiredCapabilities) == 0 && len(d.RequiredCapabilities) > 0 {
		spec.RequiredCapabilities = append([]string(nil), d.RequiredCapabilities...)
	}
	if spec.MaxRetries == nil && d.MaxRetries != nil {
		retries := *d.MaxRetries
		spec.MaxRetries = &retries
	}
	if spec.Strategy == "" {
		spec.Strategy = d.Strategy
	}

	return spec
}

// Specs returns the task list with file defaults applied.
func (f *TaskFile) Specs() []types.TaskSpec {
	specs := make([]types.TaskSpec, 0, len(f.Tasks))
	for _, spec := range f.Tasks {
		specs = append(specs, f.Defaults.Apply(spec))
	}
	return specs
}

// Clone 克隆任务文件
func (f *TaskFile) Clone() *TaskFile {
	if f == nil {
		return nil
	}

	result := &TaskFile{
		Defaults:     f.Defaults.Clone(),
		AwaitTimeout: f.AwaitTimeout,
	}

	result.Tasks = make([]types.TaskSpec, len(f.Tasks))
	copy(result.Tasks, f.Tasks)

	return result
}

// validate checks structural problems the scheduler cannot report per task.
func (f *TaskFile) validate() error {
	errs := make(ValidationErrors, 0)

	if len(f.Tasks) == 0 {
		errs = append(errs, ValidationError{Field: "tasks", Message: "at least one task is required"})
	}
	if f.AwaitTimeout < 0 {
		errs = append(errs, ValidationError{Field: "await_timeout", Message: "await timeout must be non-negative"})
	}

	for i, spec := range f.Tasks {
		if spec.Kind == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("tasks[%d].kind", i), Message: "kind is required"})
		}
		if spec.Prompt == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("tasks[%d].prompt", i), Message: "prompt is required"})
		}
		if spec.Priority != "" && !spec.Priority.IsValid() {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("tasks[%d].priority", i), Message: fmt.Sprintf("unknown priority '%s'", spec.Priority)})
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ParseTaskFile parses a task file from YAML bytes.
func ParseTaskFile(data []byte) (*TaskFile, error) {
	f := &TaskFile{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("解析任务文件失败: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadTaskFile loads a task file from a YAML file path.
func LoadTaskFile(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取任务文件失败: %w", err)
	}
	return ParseTaskFile(data)
}
