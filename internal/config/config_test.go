package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2, cfg.Pool.MinWorkers)
	assert.Equal(t, 16, cfg.Pool.MaxWorkers)
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.UnitTimeout)
	assert.Equal(t, "weighted_voting", cfg.Consensus.DefaultStrategy)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  address: ":9000"
  read_timeout: 60s
  write_timeout: 60s
  enable_cors: true

pool:
  min_workers: 4
  max_workers: 32
  evaluate_interval: 10s
  worker_capabilities:
    - general
    - vision

scheduler:
  max_retries: 5
  retry_base_delay: 1s

consensus:
  default_strategy: majority_vote

logging:
  level: debug
  format: console
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Server.EnableCORS)
	assert.Equal(t, 4, cfg.Pool.MinWorkers)
	assert.Equal(t, 32, cfg.Pool.MaxWorkers)
	assert.Equal(t, 10*time.Second, cfg.Pool.EvaluateInterval)
	assert.Contains(t, cfg.Pool.WorkerCapabilities, "vision")
	assert.Equal(t, 5, cfg.Scheduler.MaxRetries)
	assert.Equal(t, time.Second, cfg.Scheduler.RetryBaseDelay)
	assert.Equal(t, "majority_vote", cfg.Consensus.DefaultStrategy)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadFromFileKeepsDefaultsForMissingSections(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  address: ":9000"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 16, cfg.Pool.MaxWorkers)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.BatchTimeout)
	assert.Equal(t, "configs/catalog.yaml", cfg.Catalog.Path)
}

func TestLoadFromNonExistentFile(t *testing.T) {
	cfg, err := LoadFromFile("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestEnvOverrides(t *testing.T) {
	// Set environment variables
	os.Setenv("CONDUCTOR_SERVER_ADDRESS", ":7070")
	os.Setenv("CONDUCTOR_SERVER_READ_TIMEOUT", "45s")
	os.Setenv("CONDUCTOR_POOL_MAX_WORKERS", "24")
	os.Setenv("CONDUCTOR_POOL_SCALE_UP_UTILIZATION", "0.8")
	os.Setenv("CONDUCTOR_POOL_WORKER_CAPABILITIES", "general,code")
	os.Setenv("CONDUCTOR_SCHEDULER_MAX_RETRIES", "7")
	os.Setenv("CONDUCTOR_LOG_LEVEL", "warn")
	os.Setenv("CONDUCTOR_SERVER_ENABLE_CORS", "true")

	defer func() {
		os.Unsetenv("CONDUCTOR_SERVER_ADDRESS")
		os.Unsetenv("CONDUCTOR_SERVER_READ_TIMEOUT")
		os.Unsetenv("CONDUCTOR_POOL_MAX_WORKERS")
		os.Unsetenv("CONDUCTOR_POOL_SCALE_UP_UTILIZATION")
		os.Unsetenv("CONDUCTOR_POOL_WORKER_CAPABILITIES")
		os.Unsetenv("CONDUCTOR_SCHEDULER_MAX_RETRIES")
		os.Unsetenv("CONDUCTOR_LOG_LEVEL")
		os.Unsetenv("CONDUCTOR_SERVER_ENABLE_CORS")
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 24, cfg.Pool.MaxWorkers)
	assert.InDelta(t, 0.8, cfg.Pool.ScaleUpUtilization, 1e-9)
	assert.Equal(t, []string{"general", "code"}, cfg.Pool.WorkerCapabilities)
	assert.Equal(t, 7, cfg.Scheduler.MaxRetries)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Server.EnableCORS)
}

func TestCmdOverrides(t *testing.T) {
	cmdArgs := map[string]string{
		"server.address":             ":6060",
		"server.read_timeout":        "90s",
		"pool.max_workers":           "8",
		"scheduler.retry_base_delay": "250ms",
		"consensus.default_strategy": "best_confidence",
		"logging.level":              "error",
	}

	cfg, err := NewLoader().WithCmdArgs(cmdArgs).Load()
	require.NoError(t, err)

	assert.Equal(t, ":6060", cfg.Server.Address)
	assert.Equal(t, 90*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 8, cfg.Pool.MaxWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.RetryBaseDelay)
	assert.Equal(t, "best_confidence", cfg.Consensus.DefaultStrategy)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestPrecedence(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  address: ":9000"
logging:
  level: debug
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Set environment variable (should override file)
	os.Setenv("CONDUCTOR_SERVER_ADDRESS", ":8000")
	os.Setenv("CONDUCTOR_LOG_LEVEL", "info")
	defer func() {
		os.Unsetenv("CONDUCTOR_SERVER_ADDRESS")
		os.Unsetenv("CONDUCTOR_LOG_LEVEL")
	}()

	// Set command-line args (should override env)
	cmdArgs := map[string]string{
		"server.address": ":7000",
	}

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithCmdArgs(cmdArgs).
		Load()
	require.NoError(t, err)

	// Command-line should win over env and file
	assert.Equal(t, ":7000", cfg.Server.Address)
	// Env should win over file
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestSerializeAndParse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Address = ":5000"
	cfg.Pool.WorkerCapabilities = []string{"custom1", "custom2"}
	cfg.Consensus.DefaultStrategy = "ensemble_blend"

	data, err := cfg.Serialize()
	require.NoError(t, err)

	parsed, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, cfg.Server.Address, parsed.Server.Address)
	assert.Equal(t, cfg.Pool.WorkerCapabilities, parsed.Pool.WorkerCapabilities)
	assert.Equal(t, cfg.Consensus.DefaultStrategy, parsed.Consensus.DefaultStrategy)
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Address = ":5000"

	clone := cfg.Clone()

	// Modify original
	cfg.Server.Address = ":6000"
	cfg.Pool.WorkerCapabilities[0] = "mutated"

	// Clone should be unchanged
	assert.Equal(t, ":5000", clone.Server.Address)
	assert.Equal(t, []string{"general"}, clone.Pool.WorkerCapabilities)
}

func TestInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
server:
  address: ":9000"
  invalid yaml content here
    - broken
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0644)
	require.NoError(t, err)

	_, err = LoadFromFile(configPath)
	assert.Error(t, err)
}

func TestInvalidEnvValue(t *testing.T) {
	os.Setenv("CONDUCTOR_SERVER_READ_TIMEOUT", "invalid-duration")
	defer os.Unsetenv("CONDUCTOR_SERVER_READ_TIMEOUT")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestInvalidCmdPath(t *testing.T) {
	cmdArgs := map[string]string{
		"nonexistent.path": "value",
	}

	_, err := NewLoader().WithCmdArgs(cmdArgs).Load()
	assert.Error(t, err)
}

func TestLoggerConfigMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Output = "both"
	cfg.Logging.FilePath = "/tmp/conductor.log"

	lc := cfg.Logging.LoggerConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "both", lc.Output)
	assert.Equal(t, "/tmp/conductor.log", lc.FilePath)
	assert.Equal(t, 100, lc.MaxSize)
}
