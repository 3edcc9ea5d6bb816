package rest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"yqhp/conductor/pkg/types"
)

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// readyCheck handles GET /ready
func (s *Server) readyCheck(c *fiber.Ctx) error {
	state := s.conductor.State()
	return c.JSON(ReadyResponse{
		Ready:     state == types.EngineStateRunning,
		State:     string(state),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// submitTask handles POST /api/v1/tasks
func (s *Server) submitTask(c *fiber.Ctx) error {
	ctx := context.Background()

	var req TaskSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}

	taskID, err := s.conductor.Submit(ctx, req.Task)
	if err != nil {
		return writeTaskError(c, err, "submission_failed")
	}

	return c.Status(fiber.StatusCreated).JSON(TaskSubmitResponse{
		TaskID: taskID,
		Status: string(types.TaskStatusQueued),
	})
}

// submitBatch handles POST /api/v1/tasks/batch
func (s *Server) submitBatch(c *fiber.Ctx) error {
	ctx := context.Background()

	var req BatchSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}

	if len(req.Tasks) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "At least one task is required",
		})
	}

	taskIDs, err := s.conductor.SubmitBatch(ctx, req.Tasks)
	if err != nil {
		return writeTaskError(c, err, "submission_failed")
	}

	return c.Status(fiber.StatusCreated).JSON(BatchSubmitResponse{
		TaskIDs: taskIDs,
		Total:   len(taskIDs),
	})
}

// awaitTasks handles POST /api/v1/tasks/await
func (s *Server) awaitTasks(c *fiber.Ctx) error {
	ctx := context.Background()

	var req AwaitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}

	if len(req.TaskIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "At least one task id is required",
		})
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	outcomes, err := s.conductor.AwaitCompletion(ctx, req.TaskIDs, timeout)
	if err != nil {
		return writeTaskError(c, err, "await_failed")
	}

	return c.JSON(toAwaitResponse(outcomes))
}

// getTask handles GET /api/v1/tasks/:id
func (s *Server) getTask(c *fiber.Ctx) error {
	ctx := context.Background()

	taskID := c.Params("id")
	if taskID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Task ID is required",
		})
	}

	view, err := s.conductor.Inspect(ctx, taskID)
	if err != nil {
		return writeTaskError(c, err, "inspect_failed")
	}

	return c.JSON(toTaskResponse(view))
}

// cancelTask handles DELETE /api/v1/tasks/:id
func (s *Server) cancelTask(c *fiber.Ctx) error {
	ctx := context.Background()

	taskID := c.Params("id")
	if taskID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Task ID is required",
		})
	}

	if err := s.conductor.Cancel(ctx, taskID); err != nil {
		return writeTaskError(c, err, "cancel_failed")
	}

	return c.JSON(SuccessResponse{
		Success: true,
		Message: "Task cancelled",
	})
}

// getStatus handles GET /api/v1/status
func (s *Server) getStatus(c *fiber.Ctx) error {
	ctx := context.Background()

	status, err := s.conductor.Status(ctx)
	if err != nil {
		return writeTaskError(c, err, "status_failed")
	}

	return c.JSON(toStatusResponse(status))
}

// listModels handles GET /api/v1/models
func (s *Server) listModels(c *fiber.Ctx) error {
	models := s.conductor.Models()
	return c.JSON(ModelListResponse{
		Models: models,
		Total:  len(models),
	})
}

// getStats handles GET /api/v1/stats
func (s *Server) getStats(c *fiber.Ctx) error {
	return c.JSON(s.conductor.Stats())
}

// taskErrorStatus maps a task error code to an HTTP status code.
func taskErrorStatus(code types.TaskErrorCode) int {
	switch code {
	case types.ErrCodeInvalidSpec:
		return fiber.StatusBadRequest
	case types.ErrCodeTaskNotFound:
		return fiber.StatusNotFound
	case types.ErrCodeQueueDrained:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// writeTaskError renders an engine error as a JSON error response.
func writeTaskError(c *fiber.Ctx, err error, fallback string) error {
	var taskErr *types.TaskError
	if errors.As(err, &taskErr) {
		return c.Status(taskErrorStatus(taskErr.Code)).JSON(ErrorResponse{
			Error:   strings.ToLower(string(taskErr.Code)),
			Message: taskErr.Message,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   fallback,
		Message: err.Error(),
	})
}
