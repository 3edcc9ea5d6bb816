package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"yqhp/conductor/internal/config"
	"yqhp/conductor/internal/engine"
	"yqhp/conductor/internal/scheduler"
	"yqhp/conductor/pkg/types"
)

// Conductor is the engine surface the API serves.
type Conductor interface {
	scheduler.Scheduler

	// Models returns the catalog ordered by performance score.
	Models() []*types.ModelDescriptor

	// Stats returns the current performance aggregates.
	Stats() *types.StatsSnapshot
}

var _ Conductor = (*engine.Engine)(nil)

// Server represents the REST API server.
type Server struct {
	app       *fiber.App
	conductor Conductor
	config    *config.ServerConfig
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Address:      ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		EnableCORS:   false,
	}
}

// NewServer creates a new REST API server around the given engine.
func NewServer(conductor Conductor, cfg *config.ServerConfig) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
		ErrorHandler: customErrorHandler,
		AppName:      "Conductor API",
	})

	server := &Server{
		app:       app,
		conductor: conductor,
		config:    cfg,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	// Recovery middleware - recovers from panics
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	// Logger middleware - logs HTTP requests
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS middleware
	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     "*",
			AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
			AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-API-Key",
			AllowCredentials: false,
			MaxAge:           86400,
		}))
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	// Health check endpoints
	s.app.Get("/health", s.healthCheck)
	s.app.Get("/ready", s.readyCheck)

	// API v1 routes
	api := s.app.Group("/api/v1")

	// Task routes
	api.Post("/tasks", s.submitTask)
	api.Post("/tasks/batch", s.submitBatch)
	api.Post("/tasks/await", s.awaitTasks)
	api.Get("/tasks/:id", s.getTask)
	api.Delete("/tasks/:id", s.cancelTask)

	// Engine routes
	api.Get("/status", s.getStatus)
	api.Get("/models", s.listModels)
	api.Get("/stats", s.getStats)
}

// Start starts the REST API server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext starts the REST API server with context support.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	// Default to 500 Internal Server Error
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
