package types

import (
	"time"
)

// TaskPriority defines the scheduling priority of a task.
type TaskPriority string

const (
	// PriorityCritical is dispatched before all other priorities.
	PriorityCritical TaskPriority = "critical"
	// PriorityHigh is dispatched after critical, before normal.
	PriorityHigh TaskPriority = "high"
	// PriorityNormal is the default priority.
	PriorityNormal TaskPriority = "normal"
	// PriorityLow is dispatched last.
	PriorityLow TaskPriority = "low"
)

// Rank returns the dispatch order of the priority, lower first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// IsValid reports whether p is a known priority level.
func (p TaskPriority) IsValid() bool {
	return p.Rank() < 4
}

// Tier returns the queue tier the priority belongs to.
func (p TaskPriority) Tier() QueueTier {
	if p == PriorityCritical || p == PriorityHigh {
		return TierPriority
	}
	return TierNormal
}

// QueueTier identifies one of the two ordered queue buckets.
type QueueTier string

const (
	// TierPriority holds critical and high tasks.
	TierPriority QueueTier = "priority"
	// TierNormal holds normal and low tasks.
	TierNormal QueueTier = "normal"
)

// TaskStatus represents the lifecycle status of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting for a worker.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates the task is assigned to a worker.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusRetryWait indicates the task is waiting out a retry backoff.
	TaskStatusRetryWait TaskStatus = "retry_wait"
	// TaskStatusCompleted indicates the task finished with a consensus result.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed permanently.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled by the caller.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// TaskSpec is the caller-supplied description of a task.
// Zero values are filled with defaults at submission time.
type TaskSpec struct {
	Kind                 string            `yaml:"kind" json:"kind"`
	Prompt               string            `yaml:"prompt" json:"prompt"`
	Payload              map[string]any    `yaml:"payload,omitempty" json:"payload,omitempty"`
	Priority             TaskPriority      `yaml:"priority,omitempty" json:"priority,omitempty"`
	RequiredCapabilities []string          `yaml:"required_capabilities,omitempty" json:"required_capabilities,omitempty"`
	MaxRetries           *int              `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Strategy             ConsensusStrategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Deadline             time.Time         `yaml:"deadline,omitempty" json:"deadline,omitempty"`
}

// Task is a unit of work owned by the scheduler. Only the scheduler
// mutates RetryCount, Status and the timestamps.
type Task struct {
	ID                   string
	Kind                 string
	Prompt               string
	Payload              map[string]any
	Priority             TaskPriority
	RequiredCapabilities []string
	RetryCount           int
	MaxRetries           int
	Strategy             ConsensusStrategy
	Status               TaskStatus
	CreatedAt            time.Time
	Deadline             time.Time
}

// HasDeadline reports whether the task carries a deadline.
func (t *Task) HasDeadline() bool {
	return !t.Deadline.IsZero()
}

// DeadlineExpired reports whether the task deadline has passed at now.
func (t *Task) DeadlineExpired(now time.Time) bool {
	return t.HasDeadline() && now.After(t.Deadline)
}
