// Package config loads and validates the YAML configuration shared by the
// resolver, the stub DNS server and the ambient services around them.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Resolution primitive and bounded-wait settings
	Resolver ResolverConfig `yaml:"resolver"`

	// Stub DNS server
	Server ServerConfig `yaml:"server"`

	// HTTP status API
	API APIConfig `yaml:"api"`

	// Lookup outcome journal
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry (OTEL)
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Resolver backends
const (
	BackendSystem   = "system"
	BackendUpstream = "upstream"
)

// ResolverConfig holds settings for the blocking primitive and the wait wrapped around it
type ResolverConfig struct {
	Backend         string        `yaml:"backend"`          // system, upstream
	Upstreams       []string      `yaml:"upstreams"`        // used by the upstream backend
	Timeout         time.Duration `yaml:"timeout"`          // default bounded wait per lookup
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"` // upstream backend's own per-exchange limit
	PreferGo        bool          `yaml:"prefer_go"`        // system backend: use the pure Go resolver
}

// ServerConfig holds stub DNS server settings
type ServerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
	TCPEnabled    bool   `yaml:"tcp_enabled"`
	UDPEnabled    bool   `yaml:"udp_enabled"`
	AnswerTTL     uint32 `yaml:"answer_ttl"`
}

// APIConfig holds HTTP status API settings
type APIConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// StorageConfig holds journal settings
type StorageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DatabasePath  string        `yaml:"database_path"`
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
	BusyTimeout   int           `yaml:"busy_timeout"` // milliseconds
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // if output=file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	TracingEnabled    bool   `yaml:"tracing_enabled"`
}

// Load loads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults sets default values for unset configuration fields
func (c *Config) applyDefaults() {
	// Resolver defaults
	if c.Resolver.Backend == "" {
		c.Resolver.Backend = BackendSystem
	}
	if c.Resolver.Backend == BackendUpstream && len(c.Resolver.Upstreams) == 0 {
		c.Resolver.Upstreams = []string{
			"1.1.1.1:53",
			"8.8.8.8:53",
		}
	}
	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = 5 * time.Second
	}
	if c.Resolver.ExchangeTimeout == 0 {
		c.Resolver.ExchangeTimeout = 30 * time.Second
	}

	// Server defaults
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = "127.0.0.1:5353"
	}
	if !c.Server.TCPEnabled && !c.Server.UDPEnabled {
		c.Server.TCPEnabled = true
		c.Server.UDPEnabled = true
	}
	if c.Server.AnswerTTL == 0 {
		c.Server.AnswerTTL = 60
	}

	// API defaults
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = "127.0.0.1:8080"
	}

	// Storage defaults
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./gaiwait.db"
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 100
	}
	if c.Storage.FlushInterval == 0 {
		c.Storage.FlushInterval = 5 * time.Second
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 7
	}
	if c.Storage.BusyTimeout == 0 {
		c.Storage.BusyTimeout = 5000
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "gaiwait"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate resolver config
	switch c.Resolver.Backend {
	case BackendSystem:
	case BackendUpstream:
		if len(c.Resolver.Upstreams) == 0 {
			return fmt.Errorf("resolver.upstreams must be set for the upstream backend")
		}
	default:
		return fmt.Errorf("invalid resolver backend: %s (must be system or upstream)", c.Resolver.Backend)
	}
	if c.Resolver.Timeout < 0 {
		return fmt.Errorf("resolver.timeout cannot be negative")
	}
	if c.Resolver.ExchangeTimeout < 0 {
		return fmt.Errorf("resolver.exchange_timeout cannot be negative")
	}

	// Validate server config
	if c.Server.Enabled && c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}

	if c.API.Enabled && c.API.ListenAddress == "" {
		return fmt.Errorf("api.listen_address cannot be empty")
	}

	// Validate storage config
	if c.Storage.Enabled {
		if c.Storage.DatabasePath == "" {
			return fmt.Errorf("storage.database_path cannot be empty")
		}
		if c.Storage.BatchSize > c.Storage.BufferSize {
			return fmt.Errorf("storage.batch_size (%d) cannot exceed storage.buffer_size (%d)",
				c.Storage.BatchSize, c.Storage.BufferSize)
		}
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate logging format
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	// Validate logging output
	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	return nil
}
