package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// PrimaryKey selects the primary engine's section of a Backend mapping.
	PrimaryKey = "primary"
	// IndexKey selects the index engine's section of a Backend mapping.
	IndexKey = "index"
)

// EngineConfig is one sub-engine's configuration.
type EngineConfig map[string]string

// String returns the value for key, or def when unset.
func (c EngineConfig) String(key, def string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return def
}

// Bool returns the value for key parsed as a bool, or def when unset or invalid.
func (c EngineConfig) Bool(key string, def bool) bool {
	if v, ok := c[key]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Backend is the single configuration mapping handed to a backend at start,
// keyed by sub-engine.
type Backend map[string]EngineConfig

// Engine returns the sub-configuration for key. Absent keys yield an
// empty configuration.
func (b Backend) Engine(key string) EngineConfig {
	if cfg, ok := b[key]; ok && cfg != nil {
		return cfg
	}
	return EngineConfig{}
}

// Config represents the application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Partition uint64
	Primary   EngineSettings
	Index     EngineSettings
	// GCInterval is the period of the value log GC callback; zero disables it.
	GCInterval time.Duration
	Tracing    TracingConfig
}

// TracingConfig contains OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled       bool
	Endpoint      string // OTLP HTTP endpoint, e.g. "tempo:4318"
	ServiceName   string
	Environment   string
	SamplingRatio float64
	Insecure      bool
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host string
	Port int
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// EngineSettings selects and configures one sub-engine
type EngineSettings struct {
	Type       string // "memory", "badger"
	DataDir    string
	SyncWrites bool
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnvString("DUALKV_HOST", ""),
			Port: getEnvInt("DUALKV_PORT", 8898),
		},
		Log: LogConfig{
			Level:  getEnvString("DUALKV_LOG_LEVEL", "info"),
			Format: getEnvString("DUALKV_LOG_FORMAT", "text"),
		},
		Partition: getEnvUint64("DUALKV_PARTITION", 0),
		Primary: EngineSettings{
			Type:       getEnvString("DUALKV_PRIMARY_TYPE", "badger"),
			DataDir:    getEnvString("DUALKV_PRIMARY_DATA_DIR", "./data/primary"),
			SyncWrites: getEnvBool("DUALKV_PRIMARY_SYNC_WRITES", true),
		},
		Index: EngineSettings{
			Type:       getEnvString("DUALKV_INDEX_TYPE", "memory"),
			DataDir:    getEnvString("DUALKV_INDEX_DATA_DIR", "./data/index"),
			SyncWrites: getEnvBool("DUALKV_INDEX_SYNC_WRITES", true),
		},
		GCInterval: getEnvDuration("DUALKV_GC_INTERVAL", 5*time.Minute),
		Tracing: TracingConfig{
			Enabled:       getEnvBool("DUALKV_TRACING_ENABLED", false),
			Endpoint:      getEnvString("DUALKV_TRACING_ENDPOINT", "localhost:4318"),
			ServiceName:   getEnvString("DUALKV_TRACING_SERVICE_NAME", "dualkv"),
			Environment:   getEnvString("DUALKV_TRACING_ENVIRONMENT", "development"),
			SamplingRatio: getEnvFloat("DUALKV_TRACING_SAMPLING_RATIO", 1.0),
			Insecure:      getEnvBool("DUALKV_TRACING_INSECURE", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	if c.GCInterval < 0 {
		return fmt.Errorf("invalid GC interval: %s (must not be negative)", c.GCInterval)
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint must be specified when tracing is enabled")
		}
		if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
			return fmt.Errorf("invalid tracing sampling ratio: %v (must be 0.0-1.0)", c.Tracing.SamplingRatio)
		}
	}

	if err := c.Primary.validate(PrimaryKey); err != nil {
		return err
	}
	if err := c.Index.validate(IndexKey); err != nil {
		return err
	}

	// Badger locks its directory, so the two engines cannot share one.
	if c.Primary.Type == "badger" && c.Index.Type == "badger" &&
		filepath.Clean(c.Primary.DataDir) == filepath.Clean(c.Index.DataDir) {
		return fmt.Errorf("primary and index badger engines must use different data directories (both use %s)", c.Primary.DataDir)
	}
	return nil
}

func (s EngineSettings) validate(which string) error {
	validTypes := map[string]bool{
		"memory": true,
		"badger": true,
	}
	if !validTypes[s.Type] {
		return fmt.Errorf("invalid %s engine type: %s (must be memory or badger)", which, s.Type)
	}
	if s.Type == "badger" && s.DataDir == "" {
		return fmt.Errorf("data directory must be specified for the %s badger engine", which)
	}
	return nil
}

// Backend builds the per-engine configuration mapping
func (c *Config) Backend() Backend {
	return Backend{
		PrimaryKey: c.Primary.engineConfig(),
		IndexKey:   c.Index.engineConfig(),
	}
}

func (s EngineSettings) engineConfig() EngineConfig {
	return EngineConfig{
		"data_dir":    s.DataDir,
		"sync_writes": strconv.FormatBool(s.SyncWrites),
	}
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	if c.Server.Host == "" {
		return fmt.Sprintf(":%d", c.Server.Port)
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvString gets a string environment variable with a default value
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvUint64 gets an unsigned integer environment variable with a default value
func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
