// Package rest provides the REST API server for the conductor engine.
package rest

import (
	"time"

	"yqhp/conductor/internal/scheduler"
	"yqhp/conductor/pkg/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SuccessResponse represents a generic success response.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse represents a readiness check response.
type ReadyResponse struct {
	Ready     bool   `json:"ready"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// TaskSubmitRequest represents a task submission request.
type TaskSubmitRequest struct {
	Task types.TaskSpec `json:"task"`
}

// TaskSubmitResponse represents a task submission response.
type TaskSubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// BatchSubmitRequest represents a batch submission request.
type BatchSubmitRequest struct {
	Tasks []types.TaskSpec `json:"tasks"`
}

// BatchSubmitResponse represents a batch submission response.
// Task ids are returned in the order the specs were given.
type BatchSubmitResponse struct {
	TaskIDs []string `json:"task_ids"`
	Total   int      `json:"total"`
}

// AwaitRequest represents a completion-wait request.
type AwaitRequest struct {
	TaskIDs   []string `json:"task_ids"`
	TimeoutMs int64    `json:"timeout_ms,omitempty"`
}

// AwaitResponse represents the outcome of a completion wait.
type AwaitResponse struct {
	Results map[string]*AwaitOutcomeResponse `json:"results"`
	Total   int                              `json:"total"`
}

// AwaitOutcomeResponse represents the terminal outcome of one awaited task.
type AwaitOutcomeResponse struct {
	Result   *ConsensusResultResponse `json:"result,omitempty"`
	Error    *TaskErrorResponse       `json:"error,omitempty"`
	TimedOut bool                     `json:"timed_out"`
}

// TaskResponse represents one task with its terminal outcome, if any.
type TaskResponse struct {
	ID                   string                   `json:"id"`
	Kind                 string                   `json:"kind"`
	Priority             string                   `json:"priority"`
	Status               string                   `json:"status"`
	RetryCount           int                      `json:"retry_count"`
	MaxRetries           int                      `json:"max_retries"`
	RequiredCapabilities []string                 `json:"required_capabilities,omitempty"`
	Strategy             string                   `json:"strategy"`
	CreatedAt            string                   `json:"created_at"`
	Deadline             string                   `json:"deadline,omitempty"`
	Result               *ConsensusResultResponse `json:"result,omitempty"`
	Error                *TaskErrorResponse       `json:"error,omitempty"`
}

// ConsensusResultResponse represents a reduced multi-model answer.
type ConsensusResultResponse struct {
	TaskID             string            `json:"task_id"`
	FinalAnswer        string            `json:"final_answer"`
	Confidence         float64           `json:"confidence"`
	ContributingModels []string          `json:"contributing_models"`
	StrategyUsed       string            `json:"strategy_used"`
	TotalLatencyMs     int64             `json:"total_latency_ms"`
	TotalTokens        int               `json:"total_tokens"`
	Outcomes           []OutcomeResponse `json:"outcomes,omitempty"`
}

// OutcomeResponse represents one backend dispatch outcome.
type OutcomeResponse struct {
	ModelID    string  `json:"model_id"`
	Status     string  `json:"status"`
	Answer     string  `json:"answer,omitempty"`
	Confidence float64 `json:"confidence"`
	LatencyMs  int64   `json:"latency_ms"`
	TokensUsed int     `json:"tokens_used"`
	Error      string  `json:"error,omitempty"`
}

// TaskErrorResponse represents a terminal task error.
type TaskErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
	ModelID string `json:"model_id,omitempty"`
}

// StatusResponse represents an engine status snapshot.
type StatusResponse struct {
	State      string              `json:"state"`
	Workers    []*WorkerResponse   `json:"workers"`
	QueueDepth QueueDepthResponse  `json:"queue_depth"`
	InFlight   int                 `json:"in_flight"`
	Stats      types.StatsSnapshot `json:"stats"`
}

// WorkerResponse represents one worker's snapshot.
type WorkerResponse struct {
	ID                  string   `json:"id"`
	Status              string   `json:"status"`
	Capabilities        []string `json:"capabilities,omitempty"`
	CurrentTaskID       string   `json:"current_task_id,omitempty"`
	TasksCompleted      int64    `json:"tasks_completed"`
	TasksFailed         int64    `json:"tasks_failed"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	AvgTaskDuration     string   `json:"avg_task_duration"`
	PerformanceScore    float64  `json:"performance_score"`
	StartedAt           string   `json:"started_at"`
}

// QueueDepthResponse represents pending task counts per tier.
type QueueDepthResponse struct {
	Priority int `json:"priority"`
	Normal   int `json:"normal"`
	Total    int `json:"total"`
}

// ModelListResponse represents the model catalog.
type ModelListResponse struct {
	Models []*types.ModelDescriptor `json:"models"`
	Total  int                      `json:"total"`
}

// Helper functions for converting types

// formatTime formats a time.Time to RFC3339 string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// toTaskResponse converts a scheduler.TaskView to TaskResponse.
func toTaskResponse(view *scheduler.TaskView) *TaskResponse {
	if view == nil {
		return nil
	}

	task := view.Task
	return &TaskResponse{
		ID:                   task.ID,
		Kind:                 task.Kind,
		Priority:             string(task.Priority),
		Status:               string(task.Status),
		RetryCount:           task.RetryCount,
		MaxRetries:           task.MaxRetries,
		RequiredCapabilities: task.RequiredCapabilities,
		Strategy:             string(task.Strategy),
		CreatedAt:            formatTime(task.CreatedAt),
		Deadline:             formatTime(task.Deadline),
		Result:               toConsensusResponse(view.Result),
		Error:                toTaskErrorResponse(view.Err),
	}
}

// toConsensusResponse converts a ConsensusResult to ConsensusResultResponse.
func toConsensusResponse(result *types.ConsensusResult) *ConsensusResultResponse {
	if result == nil {
		return nil
	}

	resp := &ConsensusResultResponse{
		TaskID:             result.TaskID,
		FinalAnswer:        result.FinalAnswer,
		Confidence:         result.Confidence,
		ContributingModels: result.ContributingModels,
		StrategyUsed:       string(result.StrategyUsed),
		TotalLatencyMs:     result.TotalLatencyMs,
		TotalTokens:        result.TotalTokens,
	}

	if len(result.Outcomes) > 0 {
		resp.Outcomes = make([]OutcomeResponse, len(result.Outcomes))
		for i, o := range result.Outcomes {
			resp.Outcomes[i] = OutcomeResponse{
				ModelID:    o.ModelID,
				Status:     string(o.Status),
				Answer:     o.Answer,
				Confidence: o.Confidence,
				LatencyMs:  o.LatencyMs,
				TokensUsed: o.TokensUsed,
				Error:      o.Error,
			}
		}
	}

	return resp
}

// toTaskErrorResponse converts a TaskError to TaskErrorResponse.
func toTaskErrorResponse(err *types.TaskError) *TaskErrorResponse {
	if err == nil {
		return nil
	}
	return &TaskErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
		TaskID:  err.TaskID,
		ModelID: err.ModelID,
	}
}

// toAwaitResponse converts await outcomes to AwaitResponse.
func toAwaitResponse(outcomes map[string]scheduler.AwaitOutcome) *AwaitResponse {
	resp := &AwaitResponse{
		Results: make(map[string]*AwaitOutcomeResponse, len(outcomes)),
		Total:   len(outcomes),
	}
	for id, outcome := range outcomes {
		resp.Results[id] = &AwaitOutcomeResponse{
			Result:   toConsensusResponse(outcome.Result),
			Error:    toTaskErrorResponse(outcome.Err),
			TimedOut: outcome.TimedOut(),
		}
	}
	return resp
}

// toStatusResponse converts an EngineStatus to StatusResponse.
func toStatusResponse(status *types.EngineStatus) *StatusResponse {
	if status == nil {
		return nil
	}

	resp := &StatusResponse{
		State:   string(status.State),
		Workers: make([]*WorkerResponse, len(status.Workers)),
		QueueDepth: QueueDepthResponse{
			Priority: status.QueueDepth.Priority,
			Normal:   status.QueueDepth.Normal,
			Total:    status.QueueDepth.Total(),
		},
		InFlight: status.InFlight,
		Stats:    status.Stats,
	}

	for i, w := range status.Workers {
		resp.Workers[i] = &WorkerResponse{
			ID:                  w.ID,
			Status:              string(w.Status),
			Capabilities:        w.Capabilities,
			CurrentTaskID:       w.CurrentTaskID,
			TasksCompleted:      w.TasksCompleted,
			TasksFailed:         w.TasksFailed,
			ConsecutiveFailures: w.ConsecutiveFailures,
			AvgTaskDuration:     w.RollingAvgDuration.String(),
			PerformanceScore:    w.PerformanceScore,
			StartedAt:           formatTime(w.StartedAt),
		}
	}

	return resp
}
