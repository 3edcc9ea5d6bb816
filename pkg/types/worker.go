package types

import "time"

// WorkerStatus represents the state of a worker.
type WorkerStatus string

const (
	// WorkerStatusIdle indicates the worker is waiting for a task.
	WorkerStatusIdle WorkerStatus = "idle"
	// WorkerStatusBusy indicates the worker is executing a task.
	WorkerStatusBusy WorkerStatus = "busy"
	// WorkerStatusUnhealthy indicates the worker is excluded from assignment.
	WorkerStatusUnhealthy WorkerStatus = "unhealthy"
)

// WorkerInfo is a point-in-time snapshot of a worker.
type WorkerInfo struct {
	ID                  string        `json:"id"`
	Capabilities        []string      `json:"capabilities"`
	Status              WorkerStatus  `json:"status"`
	CurrentTaskID       string        `json:"current_task_id,omitempty"`
	TasksCompleted      int64         `json:"tasks_completed"`
	TasksFailed         int64         `json:"tasks_failed"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RollingAvgDuration  time.Duration `json:"rolling_avg_duration"`
	PerformanceScore    float64       `json:"performance_score"`
	StartedAt           time.Time     `json:"started_at"`
}

// QueueDepths reports the number of pending tasks per tier.
type QueueDepths struct {
	Priority int `json:"priority"`
	Normal   int `json:"normal"`
}

// Total returns the total queued task count.
func (d QueueDepths) Total() int {
	return d.Priority + d.Normal
}

// EngineState represents the lifecycle state of the engine.
type EngineState string

const (
	// EngineStateInit indicates the engine has not been started.
	EngineStateInit EngineState = "init"
	// EngineStateRunning indicates the engine accepts and executes tasks.
	EngineStateRunning EngineState = "running"
	// EngineStateDraining indicates the engine is finishing in-flight tasks.
	EngineStateDraining EngineState = "draining"
	// EngineStateStopped indicates the engine has shut down.
	EngineStateStopped EngineState = "stopped"
)

// EngineStatus is the snapshot returned by GetStatus.
type EngineStatus struct {
	State      EngineState   `json:"state"`
	Workers    []WorkerInfo  `json:"workers"`
	QueueDepth QueueDepths   `json:"queue_depth"`
	InFlight   int           `json:"in_flight"`
	Stats      StatsSnapshot `json:"stats"`
}
