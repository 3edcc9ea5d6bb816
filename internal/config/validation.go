package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// addError adds a validation error.
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateServerConfig(&cfg.Server)
	v.validatePoolConfig(&cfg.Pool)
	v.validateSchedulerConfig(&cfg.Scheduler)
	v.validateDispatchConfig(&cfg.Dispatch)
	v.validateConsensusConfig(&cfg.Consensus)
	v.validateCatalogConfig(&cfg.Catalog)
	v.validateLoggingConfig(&cfg.Logging)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// validateServerConfig validates the server configuration.
func (v *Validator) validateServerConfig(cfg *ServerConfig) {
	// Validate address
	if cfg.Address == "" {
		v.addError("server.address", "address is required")
	} else if !isValidAddress(cfg.Address) {
		v.addError("server.address", "invalid address format, expected host:port or :port")
	}

	// Validate timeouts
	if cfg.ReadTimeout < 0 {
		v.addError("server.read_timeout", "read timeout must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("server.write_timeout", "write timeout must be non-negative")
	}
	if cfg.ReadTimeout > 0 && cfg.ReadTimeout < time.Second {
		v.addError("server.read_timeout", "read timeout should be at least 1 second")
	}
	if cfg.WriteTimeout > 0 && cfg.WriteTimeout < time.Second {
		v.addError("server.write_timeout", "write timeout should be at least 1 second")
	}
}

// validatePoolConfig validates the worker pool configuration.
func (v *Validator) validatePoolConfig(cfg *PoolConfig) {
	// Validate worker bounds
	if cfg.MinWorkers < 1 {
		v.addError("pool.min_workers", "min workers must be at least 1")
	}
	if cfg.MaxWorkers < 1 {
		v.addError("pool.max_workers", "max workers must be at least 1")
	}
	if cfg.MinWorkers >= 1 && cfg.MaxWorkers >= 1 && cfg.MaxWorkers < cfg.MinWorkers {
		v.addError("pool.max_workers", "max workers must be greater than or equal to min workers")
	}

	// Validate evaluation interval
	if cfg.EvaluateInterval <= 0 {
		v.addError("pool.evaluate_interval", "evaluate interval must be positive")
	}

	// Validate scaling thresholds
	if cfg.ScaleUpUtilization <= 0 || cfg.ScaleUpUtilization > 1 {
		v.addError("pool.scale_up_utilization", "scale up utilization must be in (0, 1]")
	}
	if cfg.ScaleDownUtilization < 0 || cfg.ScaleDownUtilization >= 1 {
		v.addError("pool.scale_down_utilization", "scale down utilization must be in [0, 1)")
	}
	if cfg.ScaleUpUtilization > 0 && cfg.ScaleDownUtilization >= cfg.ScaleUpUtilization {
		v.addError("pool.scale_down_utilization", "scale down utilization must be less than scale up utilization")
	}
	if cfg.PressureThreshold < 0 {
		v.addError("pool.pressure_threshold", "pressure threshold must be non-negative")
	}

	// Validate scale step and health threshold
	if cfg.MaxScaleStep < 1 {
		v.addError("pool.max_scale_step", "max scale step must be at least 1")
	}
	if cfg.UnhealthyThreshold < 1 {
		v.addError("pool.unhealthy_threshold", "unhealthy threshold must be at least 1")
	}

	// Validate capabilities
	if len(cfg.WorkerCapabilities) == 0 {
		v.addError("pool.worker_capabilities", "workers must have at least one capability")
	}
}

// validateSchedulerConfig validates the scheduler configuration.
func (v *Validator) validateSchedulerConfig(cfg *SchedulerConfig) {
	// Validate retry policy
	if cfg.MaxRetries < 0 {
		v.addError("scheduler.max_retries", "max retries must be non-negative")
	}
	if cfg.RetryBaseDelay <= 0 {
		v.addError("scheduler.retry_base_delay", "retry base delay must be positive")
	}
	if cfg.RetryMaxDelay <= 0 {
		v.addError("scheduler.retry_max_delay", "retry max delay must be positive")
	}
	if cfg.RetryBaseDelay > 0 && cfg.RetryMaxDelay > 0 &&
		cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		v.addError("scheduler.retry_max_delay", "retry max delay must be greater than or equal to retry base delay")
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter >= 1 {
		v.addError("scheduler.retry_jitter", "retry jitter must be in [0, 1)")
	}

	// Validate retention
	if cfg.RetainTerminal < 0 {
		v.addError("scheduler.retain_terminal", "retain terminal must be non-negative")
	}
}

// validateDispatchConfig validates the dispatch configuration.
func (v *Validator) validateDispatchConfig(cfg *DispatchConfig) {
	if cfg.UnitTimeout <= 0 {
		v.addError("dispatch.unit_timeout", "unit timeout must be positive")
	}
	if cfg.BatchTimeout <= 0 {
		v.addError("dispatch.batch_timeout", "batch timeout must be positive")
	}
	if cfg.UnitTimeout > 0 && cfg.BatchTimeout > 0 && cfg.BatchTimeout < cfg.UnitTimeout {
		v.addError("dispatch.batch_timeout", "batch timeout must be greater than or equal to unit timeout")
	}
}

// validateConsensusConfig validates the consensus configuration.
func (v *Validator) validateConsensusConfig(cfg *ConsensusConfig) {
	validStrategies := map[string]bool{
		"weighted_voting": true,
		"majority_vote":   true,
		"best_confidence": true,
		"ensemble_blend":  true,
	}
	if cfg.DefaultStrategy == "" {
		v.addError("consensus.default_strategy", "default strategy is required")
	} else if !validStrategies[cfg.DefaultStrategy] {
		v.addError("consensus.default_strategy", fmt.Sprintf("invalid strategy '%s', must be one of: weighted_voting, majority_vote, best_confidence, ensemble_blend", cfg.DefaultStrategy))
	}
}

// validateCatalogConfig validates the catalog configuration.
func (v *Validator) validateCatalogConfig(cfg *CatalogConfig) {
	if cfg.Path == "" {
		v.addError("catalog.path", "catalog path is required")
	}
}

// validateLoggingConfig validates the logging configuration.
func (v *Validator) validateLoggingConfig(cfg *LoggingConfig) {
	// Validate log level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if cfg.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Level))
	}

	// Validate log format
	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if cfg.Format == "" {
		v.addError("logging.format", "log format is required")
	} else if !validFormats[strings.ToLower(cfg.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", cfg.Format))
	}

	// Validate output
	validOutputs := map[string]bool{
		"stdout": true,
		"file":   true,
		"both":   true,
	}
	if cfg.Output != "" && !validOutputs[strings.ToLower(cfg.Output)] {
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: stdout, file, both", cfg.Output))
	}

	// File output needs a path
	if (strings.EqualFold(cfg.Output, "file") || strings.EqualFold(cfg.Output, "both")) && cfg.FilePath == "" {
		v.addError("logging.file_path", "file path is required when output includes a file")
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	if addr == "" {
		return false
	}

	// Handle :port format
	if strings.HasPrefix(addr, ":") {
		port := strings.TrimPrefix(addr, ":")
		if port == "" {
			return false
		}
		_, err := net.LookupPort("tcp", port)
		return err == nil
	}

	// Handle host:port format
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}

	// Port must be non-empty and valid
	if port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}

	// Host can be empty (meaning all interfaces), an IP, or a hostname
	if host != "" {
		// Try to parse as IP
		if ip := net.ParseIP(host); ip == nil {
			// Not an IP, check if it's a valid hostname (basic check)
			if !isValidHostname(host) {
				return false
			}
		}
	}

	return true
}

// isValidHostname performs basic hostname validation.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	// Check each label
	labels := strings.Split(hostname, ".")
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		// Labels must start and end with alphanumeric
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		// Labels can contain alphanumeric and hyphens
		for _, c := range label {
			if !isAlphanumeric(byte(c)) && c != '-' {
				return false
			}
		}
	}

	return true
}

// isAlphanumeric checks if a byte is alphanumeric.
func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Validate validates the configuration and returns any errors.
// This is a convenience method on Config.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// MustValidate validates the configuration and panics if validation fails.
// This is useful for startup validation.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("configuration validation failed: %v", err))
	}
}

// LoadAndValidate loads configuration from a file and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Schema represents a configuration schema for documentation and validation.
type Schema struct {
	Fields []FieldSchema
}

// FieldSchema describes a configuration field.
type FieldSchema struct {
	Path        string
	Type        string
	Required    bool
	Default     string
	Description string
	EnvVar      string
	Constraints []string
}

// GetSchema returns the configuration schema.
func GetSchema() *Schema {
	return &Schema{
		Fields: []FieldSchema{
			{Path: "server.address", Type: "string", Required: true, Default: ":8080", Description: "HTTP server listen address", EnvVar: "CONDUCTOR_SERVER_ADDRESS", Constraints: []string{"valid host:port format"}},
			{Path: "server.read_timeout", Type: "duration", Required: false, Default: "30s", Description: "HTTP read timeout", EnvVar: "CONDUCTOR_SERVER_READ_TIMEOUT", Constraints: []string{"non-negative", "at least 1s if set"}},
			{Path: "server.write_timeout", Type: "duration", Required: false, Default: "30s", Description: "HTTP write timeout", EnvVar: "CONDUCTOR_SERVER_WRITE_TIMEOUT", Constraints: []string{"non-negative", "at least 1s if set"}},
			{Path: "server.enable_cors", Type: "bool", Required: false, Default: "false", Description: "Enable CORS", EnvVar: "CONDUCTOR_SERVER_ENABLE_CORS"},
			{Path: "pool.min_workers", Type: "int", Required: true, Default: "2", Description: "Minimum worker count", EnvVar: "CONDUCTOR_POOL_MIN_WORKERS", Constraints: []string{"at least 1"}},
			{Path: "pool.max_workers", Type: "int", Required: true, Default: "16", Description: "Maximum worker count", EnvVar: "CONDUCTOR_POOL_MAX_WORKERS", Constraints: []string{"at least min_workers"}},
			{Path: "pool.evaluate_interval", Type: "duration", Required: false, Default: "5s", Description: "Scaling evaluation interval", EnvVar: "CONDUCTOR_POOL_EVALUATE_INTERVAL", Constraints: []string{"positive"}},
			{Path: "pool.scale_up_utilization", Type: "float", Required: false, Default: "0.9", Description: "Utilization above which the pool grows", EnvVar: "CONDUCTOR_POOL_SCALE_UP_UTILIZATION", Constraints: []string{"in (0, 1]"}},
			{Path: "pool.scale_down_utilization", Type: "float", Required: false, Default: "0.3", Description: "Utilization below which the pool shrinks", EnvVar: "CONDUCTOR_POOL_SCALE_DOWN_UTILIZATION", Constraints: []string{"in [0, 1)", "less than scale_up_utilization"}},
			{Path: "pool.pressure_threshold", Type: "float", Required: false, Default: "2.0", Description: "Queue pressure required before scaling up", EnvVar: "CONDUCTOR_POOL_PRESSURE_THRESHOLD", Constraints: []string{"non-negative"}},
			{Path: "pool.max_scale_step", Type: "int", Required: false, Default: "2", Description: "Max workers added per evaluation", EnvVar: "CONDUCTOR_POOL_MAX_SCALE_STEP", Constraints: []string{"at least 1"}},
			{Path: "pool.unhealthy_threshold", Type: "int", Required: false, Default: "3", Description: "Consecutive failures before a worker is replaced", EnvVar: "CONDUCTOR_POOL_UNHEALTHY_THRESHOLD", Constraints: []string{"at least 1"}},
			{Path: "pool.worker_capabilities", Type: "[]string", Required: true, Default: "general", Description: "Capability profile of spawned workers", EnvVar: "CONDUCTOR_POOL_WORKER_CAPABILITIES", Constraints: []string{"at least one capability"}},
			{Path: "scheduler.max_retries", Type: "int", Required: false, Default: "3", Description: "Default retry budget per task", EnvVar: "CONDUCTOR_SCHEDULER_MAX_RETRIES", Constraints: []string{"non-negative"}},
			{Path: "scheduler.retry_base_delay", Type: "duration", Required: false, Default: "500ms", Description: "Base retry backoff delay", EnvVar: "CONDUCTOR_SCHEDULER_RETRY_BASE_DELAY", Constraints: []string{"positive"}},
			{Path: "scheduler.retry_max_delay", Type: "duration", Required: false, Default: "30s", Description: "Retry backoff cap", EnvVar: "CONDUCTOR_SCHEDULER_RETRY_MAX_DELAY", Constraints: []string{"at least retry_base_delay"}},
			{Path: "scheduler.retry_jitter", Type: "float", Required: false, Default: "0.2", Description: "Randomization factor applied to retry delays", EnvVar: "CONDUCTOR_SCHEDULER_RETRY_JITTER", Constraints: []string{"in [0, 1)"}},
			{Path: "scheduler.retain_terminal", Type: "int", Required: false, Default: "1024", Description: "Terminal task records kept for inspection", EnvVar: "CONDUCTOR_SCHEDULER_RETAIN_TERMINAL", Constraints: []string{"non-negative"}},
			{Path: "dispatch.unit_timeout", Type: "duration", Required: false, Default: "45s", Description: "Per-model execution timeout", EnvVar: "CONDUCTOR_DISPATCH_UNIT_TIMEOUT", Constraints: []string{"positive"}},
			{Path: "dispatch.batch_timeout", Type: "duration", Required: false, Default: "60s", Description: "Whole-batch execution timeout", EnvVar: "CONDUCTOR_DISPATCH_BATCH_TIMEOUT", Constraints: []string{"at least unit_timeout"}},
			{Path: "consensus.default_strategy", Type: "string", Required: true, Default: "weighted_voting", Description: "Aggregation strategy when a task names none", EnvVar: "CONDUCTOR_CONSENSUS_DEFAULT_STRATEGY", Constraints: []string{"one of: weighted_voting, majority_vote, best_confidence, ensemble_blend"}},
			{Path: "catalog.path", Type: "string", Required: true, Default: "configs/catalog.yaml", Description: "Model catalog file path", EnvVar: "CONDUCTOR_CATALOG_PATH"},
			{Path: "backends.openai_api_key", Type: "string", Required: false, Default: "", Description: "OpenAI API key", EnvVar: "CONDUCTOR_OPENAI_API_KEY"},
			{Path: "backends.azure_api_version", Type: "string", Required: false, Default: "", Description: "Azure OpenAI API version", EnvVar: "CONDUCTOR_AZURE_API_VERSION"},
			{Path: "backends.http_api_key", Type: "string", Required: false, Default: "", Description: "Bearer token for HTTP backends", EnvVar: "CONDUCTOR_HTTP_API_KEY"},
			{Path: "backends.sim_seed", Type: "int", Required: false, Default: "0", Description: "Simulator RNG seed, 0 means time-based", EnvVar: "CONDUCTOR_SIM_SEED"},
			{Path: "logging.level", Type: "string", Required: true, Default: "info", Description: "Log level", EnvVar: "CONDUCTOR_LOG_LEVEL", Constraints: []string{"one of: debug, info, warn, error"}},
			{Path: "logging.format", Type: "string", Required: true, Default: "json", Description: "Log format", EnvVar: "CONDUCTOR_LOG_FORMAT", Constraints: []string{"one of: json, console"}},
			{Path: "logging.output", Type: "string", Required: false, Default: "stdout", Description: "Log output", EnvVar: "CONDUCTOR_LOG_OUTPUT", Constraints: []string{"one of: stdout, file, both"}},
			{Path: "logging.file_path", Type: "string", Required: false, Default: "logs/conductor.log", Description: "Log file path for file output", EnvVar: "CONDUCTOR_LOG_FILE_PATH"},
		},
	}
}
