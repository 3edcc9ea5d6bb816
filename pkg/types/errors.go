package types

import (
	"fmt"
	"strings"
)

// TaskError represents a typed failure in the scheduling or dispatch path.
type TaskError struct {
	Code    TaskErrorCode
	Message string
	TaskID  string
	ModelID string
	Cause   error
}

// TaskErrorCode classifies a task failure for retry decisions.
type TaskErrorCode string

const (
	// ErrCodeTransientBackend indicates a retryable backend failure.
	ErrCodeTransientBackend TaskErrorCode = "TRANSIENT_BACKEND"
	// ErrCodePermanentBackend indicates a non-retryable backend failure.
	ErrCodePermanentBackend TaskErrorCode = "PERMANENT_BACKEND"
	// ErrCodeCapabilityMismatch indicates no worker or model set can serve the task.
	ErrCodeCapabilityMismatch TaskErrorCode = "CAPABILITY_MISMATCH"
	// ErrCodeRetriesExhausted indicates the task failed after its final retry.
	ErrCodeRetriesExhausted TaskErrorCode = "RETRIES_EXHAUSTED"
	// ErrCodeTaskCancelled indicates the task was cancelled by the caller.
	ErrCodeTaskCancelled TaskErrorCode = "TASK_CANCELLED"
	// ErrCodeDeadlineExceeded indicates the task deadline passed before dispatch.
	ErrCodeDeadlineExceeded TaskErrorCode = "DEADLINE_EXCEEDED"
	// ErrCodeQueueDrained indicates the engine shut down before the task ran.
	ErrCodeQueueDrained TaskErrorCode = "QUEUE_DRAINED"
	// ErrCodeInvalidSpec indicates the submitted task spec failed validation.
	ErrCodeInvalidSpec TaskErrorCode = "INVALID_SPEC"
	// ErrCodeTaskNotFound indicates the task id is unknown.
	ErrCodeTaskNotFound TaskErrorCode = "TASK_NOT_FOUND"
	// ErrCodeAwaitTimeout indicates the task did not reach a terminal state in time.
	ErrCodeAwaitTimeout TaskErrorCode = "AWAIT_TIMEOUT"
)

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// NewTaskError creates a new TaskError.
func NewTaskError(code TaskErrorCode, message string, cause error) *TaskError {
	return &TaskError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewTransientBackendError creates a retryable backend error.
func NewTransientBackendError(modelID, message string, cause error) *TaskError {
	return &TaskError{
		Code:    ErrCodeTransientBackend,
		Message: message,
		ModelID: modelID,
		Cause:   cause,
	}
}

// NewPermanentBackendError creates a non-retryable backend error.
func NewPermanentBackendError(modelID, message string, cause error) *TaskError {
	return &TaskError{
		Code:    ErrCodePermanentBackend,
		Message: message,
		ModelID: modelID,
		Cause:   cause,
	}
}

// NewCapabilityMismatchError creates an error for unservable capability requirements.
func NewCapabilityMismatchError(taskID string, missing []string) *TaskError {
	return &TaskError{
		Code:    ErrCodeCapabilityMismatch,
		Message: fmt.Sprintf("no worker can serve capabilities: %s", strings.Join(missing, ",")),
		TaskID:  taskID,
	}
}

// NewRetriesExhaustedError creates an error for a task that used all retries.
func NewRetriesExhaustedError(taskID string, attempts int, cause error) *TaskError {
	return &TaskError{
		Code:    ErrCodeRetriesExhausted,
		Message: fmt.Sprintf("task failed after %d attempts", attempts),
		TaskID:  taskID,
		Cause:   cause,
	}
}

// NewTaskCancelledError creates an error for a cancelled task.
func NewTaskCancelledError(taskID string) *TaskError {
	return &TaskError{
		Code:    ErrCodeTaskCancelled,
		Message: "task cancelled",
		TaskID:  taskID,
	}
}

// NewDeadlineExceededError creates an error for an expired task deadline.
func NewDeadlineExceededError(taskID string) *TaskError {
	return &TaskError{
		Code:    ErrCodeDeadlineExceeded,
		Message: "task deadline passed before dispatch",
		TaskID:  taskID,
	}
}

// NewQueueDrainedError creates an error for a task dropped at shutdown.
func NewQueueDrainedError(taskID string) *TaskError {
	return &TaskError{
		Code:    ErrCodeQueueDrained,
		Message: "engine draining, task not executed",
		TaskID:  taskID,
	}
}

// NewInvalidSpecError creates an error for an invalid task spec.
func NewInvalidSpecError(message string) *TaskError {
	return &TaskError{
		Code:    ErrCodeInvalidSpec,
		Message: message,
	}
}

// NewTaskNotFoundError creates an error for an unknown task id.
func NewTaskNotFoundError(taskID string) *TaskError {
	return &TaskError{
		Code:    ErrCodeTaskNotFound,
		Message: fmt.Sprintf("no task with id: %s", taskID),
		TaskID:  taskID,
	}
}

// NewAwaitTimeoutError creates an error for a task unresolved within an await window.
func NewAwaitTimeoutError(taskID string) *TaskError {
	return &TaskError{
		Code:    ErrCodeAwaitTimeout,
		Message: "task not terminal before await timeout",
		TaskID:  taskID,
	}
}

// IsTransientError checks if the error is a retryable backend error.
func IsTransientError(err error) bool {
	if taskErr, ok := err.(*TaskError); ok {
		return taskErr.Code == ErrCodeTransientBackend
	}
	return false
}

// IsPermanentError checks if the error is a non-retryable backend error.
func IsPermanentError(err error) bool {
	if taskErr, ok := err.(*TaskError); ok {
		return taskErr.Code == ErrCodePermanentBackend
	}
	return false
}

// IsCapabilityMismatchError checks if the error is a capability mismatch.
func IsCapabilityMismatchError(err error) bool {
	if taskErr, ok := err.(*TaskError); ok {
		return taskErr.Code == ErrCodeCapabilityMismatch
	}
	return false
}

// IsTaskCancelledError checks if the error is a task cancellation.
func IsTaskCancelledError(err error) bool {
	if taskErr, ok := err.(*TaskError); ok {
		return taskErr.Code == ErrCodeTaskCancelled
	}
	return false
}

// IsTaskNotFoundError checks if the error is an unknown task id.
func IsTaskNotFoundError(err error) bool {
	if taskErr, ok := err.(*TaskError); ok {
		return taskErr.Code == ErrCodeTaskNotFound
	}
	return false
}

// IsAwaitTimeoutError checks if the error is an await timeout.
func IsAwaitTimeoutError(err error) bool {
	if taskErr, ok := err.(*TaskError); ok {
		return taskErr.Code == ErrCodeAwaitTimeout
	}
	return false
}
