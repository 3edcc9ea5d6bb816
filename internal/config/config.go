package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/conductor/pkg/logger"
)

// Config represents the complete configuration for the conductor engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pool      PoolConfig      `yaml:"pool"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Backends  BackendsConfig  `yaml:"backends"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `yaml:"address" env:"CONDUCTOR_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"CONDUCTOR_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"CONDUCTOR_SERVER_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" env:"CONDUCTOR_SERVER_ENABLE_CORS"`
}

// PoolConfig holds worker pool sizing and scaling configuration.
type PoolConfig struct {
	MinWorkers           int           `yaml:"min_workers" env:"CONDUCTOR_POOL_MIN_WORKERS"`
	MaxWorkers           int           `yaml:"max_workers" env:"CONDUCTOR_POOL_MAX_WORKERS"`
	EvaluateInterval     time.Duration `yaml:"evaluate_interval" env:"CONDUCTOR_POOL_EVALUATE_INTERVAL"`
	ScaleUpUtilization   float64       `yaml:"scale_up_utilization" env:"CONDUCTOR_POOL_SCALE_UP_UTILIZATION"`
	ScaleDownUtilization float64       `yaml:"scale_down_utilization" env:"CONDUCTOR_POOL_SCALE_DOWN_UTILIZATION"`
	PressureThreshold    float64       `yaml:"pressure_threshold" env:"CONDUCTOR_POOL_PRESSURE_THRESHOLD"`
	MaxScaleStep         int           `yaml:"max_scale_step" env:"CONDUCTOR_POOL_MAX_SCALE_STEP"`
	UnhealthyThreshold   int           `yaml:"unhealthy_threshold" env:"CONDUCTOR_POOL_UNHEALTHY_THRESHOLD"`
	WorkerCapabilities   []string      `yaml:"worker_capabilities" env:"CONDUCTOR_POOL_WORKER_CAPABILITIES"`
}

// SchedulerConfig holds task retry and retention configuration.
type SchedulerConfig struct {
	MaxRetries     int           `yaml:"max_retries" env:"CONDUCTOR_SCHEDULER_MAX_RETRIES"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"CONDUCTOR_SCHEDULER_RETRY_BASE_DELAY"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" env:"CONDUCTOR_SCHEDULER_RETRY_MAX_DELAY"`
	RetryJitter    float64       `yaml:"retry_jitter" env:"CONDUCTOR_SCHEDULER_RETRY_JITTER"`
	RetainTerminal int           `yaml:"retain_terminal" env:"CONDUCTOR_SCHEDULER_RETAIN_TERMINAL"`
}

// DispatchConfig holds per-unit and per-batch execution timeouts.
type DispatchConfig struct {
	UnitTimeout  time.Duration `yaml:"unit_timeout" env:"CONDUCTOR_DISPATCH_UNIT_TIMEOUT"`
	BatchTimeout time.Duration `yaml:"batch_timeout" env:"CONDUCTOR_DISPATCH_BATCH_TIMEOUT"`
}

// ConsensusConfig holds result aggregation configuration.
type ConsensusConfig struct {
	DefaultStrategy string `yaml:"default_strategy" env:"CONDUCTOR_CONSENSUS_DEFAULT_STRATEGY"`
}

// CatalogConfig holds the model catalog source configuration.
type CatalogConfig struct {
	Path string `yaml:"path" env:"CONDUCTOR_CATALOG_PATH"`
}

// BackendsConfig holds provider credentials and simulator settings.
// API keys are normally supplied through the environment, not the file.
type BackendsConfig struct {
	OpenAIAPIKey    string `yaml:"openai_api_key" env:"CONDUCTOR_OPENAI_API_KEY"`
	AzureAPIVersion string `yaml:"azure_api_version" env:"CONDUCTOR_AZURE_API_VERSION"`
	HTTPAPIKey      string `yaml:"http_api_key" env:"CONDUCTOR_HTTP_API_KEY"`
	SimSeed         int64  `yaml:"sim_seed" env:"CONDUCTOR_SIM_SEED"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"CONDUCTOR_LOG_LEVEL"`
	Format     string `yaml:"format" env:"CONDUCTOR_LOG_FORMAT"`
	Output     string `yaml:"output" env:"CONDUCTOR_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"CONDUCTOR_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"CONDUCTOR_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"CONDUCTOR_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"CONDUCTOR_LOG_MAX_AGE"`
	Compress   bool   `yaml:"compress" env:"CONDUCTOR_LOG_COMPRESS"`
}

// LoggerConfig converts the section into the logger package's config.
func (c LoggingConfig) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   false,
		},
		Pool: PoolConfig{
			MinWorkers:           2,
			MaxWorkers:           16,
			EvaluateInterval:     5 * time.Second,
			ScaleUpUtilization:   0.9,
			ScaleDownUtilization: 0.3,
			PressureThreshold:    2.0,
			MaxScaleStep:         2,
			UnhealthyThreshold:   3,
			WorkerCapabilities:   []string{"general"},
		},
		Scheduler: SchedulerConfig{
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
			RetryMaxDelay:  30 * time.Second,
			RetryJitter:    0.2,
			RetainTerminal: 1024,
		},
		Dispatch: DispatchConfig{
			UnitTimeout:  45 * time.Second,
			BatchTimeout: 60 * time.Second,
		},
		Consensus: ConsensusConfig{
			DefaultStrategy: "weighted_voting",
		},
		Catalog: CatalogConfig{
			Path: "configs/catalog.yaml",
		},
		Backends: BackendsConfig{
			SimSeed: 0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "logs/conductor.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "CONDUCTOR_",
		cmdArgs:   make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets command-line arguments for configuration override.
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Load from YAML file if specified
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	// Apply environment variable overrides
	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	// Apply command-line argument overrides
	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("应用命令行参数覆盖失败: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Handle nested structs
		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		// Get env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		// Get environment variable value
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		// Set the field value
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}

	return nil
}

// applyCmdOverrides applies command-line argument overrides to the configuration.
func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := l.setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by dot-notation path.
func (l *Loader) setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		// Convert to title case for struct field lookup
		fieldName := strings.Title(strings.ReplaceAll(part, "_", ""))

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName) || strings.EqualFold(name, part)
		})

		if !field.IsValid() {
			return fmt.Errorf("未知的配置路径: %s", path)
		}

		if i == len(parts)-1 {
			// Last part, set the value
			return setFieldValue(field, value)
		}

		// Navigate to nested struct
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("无效的无符号整数: %w", err)
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("无效的浮点数: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		// Handle string slices (comma-separated)
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		} else {
			return fmt.Errorf("不支持的切片类型: %s", field.Type().Elem().Kind())
		}

	case reflect.Map:
		// Handle string->string maps (key=value,key=value format)
		if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.String {
			m := make(map[string]string)
			pairs := strings.Split(value, ",")
			for _, pair := range pairs {
				kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
				if len(kv) == 2 {
					m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
				}
			}
			field.Set(reflect.ValueOf(m))
		} else {
			return fmt.Errorf("不支持的 map 类型")
		}

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := c.Serialize()
	clone, _ := ParseConfig(data)
	return clone
}
