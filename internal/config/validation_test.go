package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidateServerConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorField  string
	}{
		{
			name:        "valid config",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "empty address",
			modify: func(c *Config) {
				c.Server.Address = ""
			},
			expectError: true,
			errorField:  "server.address",
		},
		{
			name: "invalid address format",
			modify: func(c *Config) {
				c.Server.Address = "invalid"
			},
			expectError: true,
			errorField:  "server.address",
		},
		{
			name: "negative read timeout",
			modify: func(c *Config) {
				c.Server.ReadTimeout = -1 * time.Second
			},
			expectError: true,
			errorField:  "server.read_timeout",
		},
		{
			name: "too small read timeout",
			modify: func(c *Config) {
				c.Server.ReadTimeout = 500 * time.Millisecond
			},
			expectError: true,
			errorField:  "server.read_timeout",
		},
		{
			name: "valid port only address",
			modify: func(c *Config) {
				c.Server.Address = ":9000"
			},
			expectError: false,
		},
		{
			name: "valid host:port address",
			modify: func(c *Config) {
				c.Server.Address = "localhost:9000"
			},
			expectError: false,
		},
		{
			name: "valid IP:port address",
			modify: func(c *Config) {
				c.Server.Address = "127.0.0.1:9000"
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorField)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePoolConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorField  string
	}{
		{
			name: "zero min workers",
			modify: func(c *Config) {
				c.Pool.MinWorkers = 0
			},
			expectError: true,
			errorField:  "pool.min_workers",
		},
		{
			name: "max below min",
			modify: func(c *Config) {
				c.Pool.MinWorkers = 8
				c.Pool.MaxWorkers = 4
			},
			expectError: true,
			errorField:  "pool.max_workers",
		},
		{
			name: "min equals max",
			modify: func(c *Config) {
				c.Pool.MinWorkers = 4
				c.Pool.MaxWorkers = 4
			},
			expectError: false,
		},
		{
			name: "zero evaluate interval",
			modify: func(c *Config) {
				c.Pool.EvaluateInterval = 0
			},
			expectError: true,
			errorField:  "pool.evaluate_interval",
		},
		{
			name: "scale up utilization above one",
			modify: func(c *Config) {
				c.Pool.ScaleUpUtilization = 1.5
			},
			expectError: true,
			errorField:  "pool.scale_up_utilization",
		},
		{
			name: "scale down above scale up",
			modify: func(c *Config) {
				c.Pool.ScaleUpUtilization = 0.5
				c.Pool.ScaleDownUtilization = 0.7
			},
			expectError: true,
			errorField:  "pool.scale_down_utilization",
		},
		{
			name: "negative pressure threshold",
			modify: func(c *Config) {
				c.Pool.PressureThreshold = -0.1
			},
			expectError: true,
			errorField:  "pool.pressure_threshold",
		},
		{
			name: "zero max scale step",
			modify: func(c *Config) {
				c.Pool.MaxScaleStep = 0
			},
			expectError: true,
			errorField:  "pool.max_scale_step",
		},
		{
			name: "zero unhealthy threshold",
			modify: func(c *Config) {
				c.Pool.UnhealthyThreshold = 0
			},
			expectError: true,
			errorField:  "pool.unhealthy_threshold",
		},
		{
			name: "no worker capabilities",
			modify: func(c *Config) {
				c.Pool.WorkerCapabilities = nil
			},
			expectError: true,
			errorField:  "pool.worker_capabilities",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorField)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSchedulerConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorField  string
	}{
		{
			name: "negative max retries",
			modify: func(c *Config) {
				c.Scheduler.MaxRetries = -1
			},
			expectError: true,
			errorField:  "scheduler.max_retries",
		},
		{
			name: "zero max retries",
			modify: func(c *Config) {
				c.Scheduler.MaxRetries = 0
			},
			expectError: false,
		},
		{
			name: "zero retry base delay",
			modify: func(c *Config) {
				c.Scheduler.RetryBaseDelay = 0
			},
			expectError: true,
			errorField:  "scheduler.retry_base_delay",
		},
		{
			name: "max delay below base delay",
			modify: func(c *Config) {
				c.Scheduler.RetryBaseDelay = 10 * time.Second
				c.Scheduler.RetryMaxDelay = 5 * time.Second
			},
			expectError: true,
			errorField:  "scheduler.retry_max_delay",
		},
		{
			name: "jitter of one",
			modify: func(c *Config) {
				c.Scheduler.RetryJitter = 1.0
			},
			expectError: true,
			errorField:  "scheduler.retry_jitter",
		},
		{
			name: "zero jitter",
			modify: func(c *Config) {
				c.Scheduler.RetryJitter = 0
			},
			expectError: false,
		},
		{
			name: "negative retain terminal",
			modify: func(c *Config) {
				c.Scheduler.RetainTerminal = -1
			},
			expectError: true,
			errorField:  "scheduler.retain_terminal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorField)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDispatchConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorField  string
	}{
		{
			name: "zero unit timeout",
			modify: func(c *Config) {
				c.Dispatch.UnitTimeout = 0
			},
			expectError: true,
			errorField:  "dispatch.unit_timeout",
		},
		{
			name: "zero batch timeout",
			modify: func(c *Config) {
				c.Dispatch.BatchTimeout = 0
			},
			expectError: true,
			errorField:  "dispatch.batch_timeout",
		},
		{
			name: "batch below unit",
			modify: func(c *Config) {
				c.Dispatch.UnitTimeout = 30 * time.Second
				c.Dispatch.BatchTimeout = 10 * time.Second
			},
			expectError: true,
			errorField:  "dispatch.batch_timeout",
		},
		{
			name: "batch equals unit",
			modify: func(c *Config) {
				c.Dispatch.UnitTimeout = 30 * time.Second
				c.Dispatch.BatchTimeout = 30 * time.Second
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorField)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConsensusConfig(t *testing.T) {
	tests := []struct {
		name        string
		strategy    string
		expectError bool
	}{
		{name: "weighted voting", strategy: "weighted_voting", expectError: false},
		{name: "majority vote", strategy: "majority_vote", expectError: false},
		{name: "best confidence", strategy: "best_confidence", expectError: false},
		{name: "ensemble blend", strategy: "ensemble_blend", expectError: false},
		{name: "empty strategy", strategy: "", expectError: true},
		{name: "unknown strategy", strategy: "coin_flip", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Consensus.DefaultStrategy = tt.strategy
			err := cfg.Validate()

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "consensus.default_strategy")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCatalogConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Catalog.Path = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog.path")
}

func TestValidateLoggingConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorField  string
	}{
		{
			name: "empty level",
			modify: func(c *Config) {
				c.Logging.Level = ""
			},
			expectError: true,
			errorField:  "logging.level",
		},
		{
			name: "invalid level",
			modify: func(c *Config) {
				c.Logging.Level = "invalid"
			},
			expectError: true,
			errorField:  "logging.level",
		},
		{
			name: "valid debug level",
			modify: func(c *Config) {
				c.Logging.Level = "debug"
			},
			expectError: false,
		},
		{
			name: "valid warn level",
			modify: func(c *Config) {
				c.Logging.Level = "warn"
			},
			expectError: false,
		},
		{
			name: "empty format",
			modify: func(c *Config) {
				c.Logging.Format = ""
			},
			expectError: true,
			errorField:  "logging.format",
		},
		{
			name: "invalid format",
			modify: func(c *Config) {
				c.Logging.Format = "xml"
			},
			expectError: true,
			errorField:  "logging.format",
		},
		{
			name: "valid console format",
			modify: func(c *Config) {
				c.Logging.Format = "console"
			},
			expectError: false,
		},
		{
			name: "invalid output",
			modify: func(c *Config) {
				c.Logging.Output = "stderr"
			},
			expectError: true,
			errorField:  "logging.output",
		},
		{
			name: "file output without path",
			modify: func(c *Config) {
				c.Logging.Output = "file"
				c.Logging.FilePath = ""
			},
			expectError: true,
			errorField:  "logging.file_path",
		},
		{
			name: "both output with path",
			modify: func(c *Config) {
				c.Logging.Output = "both"
				c.Logging.FilePath = "logs/test.log"
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorField)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMultipleValidationErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Address = ""
	cfg.Pool.MinWorkers = 0
	cfg.Logging.Level = "invalid"

	err := cfg.Validate()
	require.Error(t, err)

	errStr := err.Error()
	assert.Contains(t, errStr, "server.address")
	assert.Contains(t, errStr, "pool.min_workers")
	assert.Contains(t, errStr, "logging.level")
}

func TestMustValidatePanics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Address = ""

	assert.Panics(t, func() {
		cfg.MustValidate()
	})
}

func TestMustValidateDoesNotPanic(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotPanics(t, func() {
		cfg.MustValidate()
	})
}

func TestLoadAndValidate(t *testing.T) {
	// Test with default config file path (non-existent)
	cfg, err := LoadAndValidate("/nonexistent/path")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestGetSchema(t *testing.T) {
	schema := GetSchema()
	assert.NotNil(t, schema)
	assert.NotEmpty(t, schema.Fields)

	// Check that all expected fields are present
	fieldPaths := make(map[string]bool)
	for _, f := range schema.Fields {
		fieldPaths[f.Path] = true
	}

	expectedPaths := []string{
		"server.address",
		"pool.min_workers",
		"pool.max_workers",
		"scheduler.max_retries",
		"dispatch.unit_timeout",
		"consensus.default_strategy",
		"catalog.path",
		"logging.level",
	}

	for _, path := range expectedPaths {
		assert.True(t, fieldPaths[path], "expected field %s not found in schema", path)
	}
}

func TestValidationErrorsString(t *testing.T) {
	errors := ValidationErrors{
		{Field: "field1", Message: "error1"},
		{Field: "field2", Message: "error2"},
	}

	errStr := errors.Error()
	assert.Contains(t, errStr, "field1: error1")
	assert.Contains(t, errStr, "field2: error2")
}

func TestEmptyValidationErrors(t *testing.T) {
	errors := ValidationErrors{}
	assert.Equal(t, "", errors.Error())
	assert.False(t, errors.HasErrors())
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{":8080", true},
		{":9090", true},
		{"localhost:8080", true},
		{"127.0.0.1:8080", true},
		{"0.0.0.0:8080", true},
		{"example.com:8080", true},
		{"invalid", false},
		{"", false},
		{":invalid", false},
		{"host:", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			result := isValidAddress(tt.addr)
			assert.Equal(t, tt.valid, result, "address: %s", tt.addr)
		})
	}
}

func TestIsValidHostname(t *testing.T) {
	tests := []struct {
		hostname string
		valid    bool
	}{
		{"localhost", true},
		{"example.com", true},
		{"sub.example.com", true},
		{"my-host", true},
		{"", false},
		{"-invalid", false},
		{"invalid-", false},
		{strings.Repeat("a", 64), false}, // label too long
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			result := isValidHostname(tt.hostname)
			assert.Equal(t, tt.valid, result, "hostname: %s", tt.hostname)
		})
	}
}
