package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Publisher PublisherConfig `yaml:"publisher"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig contains speech engine configuration
type EngineConfig struct {
	LogLevel     int               `yaml:"log_level"`     // native library verbosity, negative silences
	Models       map[string]string `yaml:"models"`        // model name -> local directory path
	DefaultModel string            `yaml:"default_model"` // model used when a request names none
	SampleRate   float64           `yaml:"sample_rate"`   // Hz, no resampling is performed
	PoolWorkers  int               `yaml:"pool_workers"`  // 0 = number of CPUs
	ChunkBytes   int               `yaml:"chunk_bytes"`   // batch decode granularity, 0 = default
	IdleTimeout  int               `yaml:"idle_timeout"`  // seconds before an inactive session is reaped
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// WebSocketConfig contains streaming session configuration
type WebSocketConfig struct {
	MaxMessageBytes int64 `yaml:"max_message_bytes"` // largest accepted audio frame
	WriteTimeout    int   `yaml:"write_timeout"`     // seconds
	PingInterval    int   `yaml:"ping_interval"`     // seconds, 0 disables keepalive pings
}

// PublisherConfig contains transcript webhook configuration
type PublisherConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills zero-valued optional fields before validation.
func (c *Config) applyDefaults() {
	if c.Engine.SampleRate == 0 {
		c.Engine.SampleRate = 16000
	}
	if c.Engine.IdleTimeout == 0 {
		c.Engine.IdleTimeout = 300
	}
	if c.WebSocket.MaxMessageBytes == 0 {
		c.WebSocket.MaxMessageBytes = 1 << 20
	}
	if c.WebSocket.WriteTimeout == 0 {
		c.WebSocket.WriteTimeout = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}

	if err := c.Publisher.Validate(); err != nil {
		return fmt.Errorf("publisher config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	if len(e.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}

	for name, path := range e.Models {
		if name == "" {
			return fmt.Errorf("model name cannot be empty")
		}
		if path == "" {
			return fmt.Errorf("model %q has an empty path", name)
		}
	}

	if e.DefaultModel == "" {
		return fmt.Errorf("default_model cannot be empty")
	}
	if _, ok := e.Models[e.DefaultModel]; !ok {
		return fmt.Errorf("default_model %q is not in the models map", e.DefaultModel)
	}

	if e.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %f", e.SampleRate)
	}

	if e.PoolWorkers < 0 {
		return fmt.Errorf("pool_workers cannot be negative, got %d", e.PoolWorkers)
	}

	if e.ChunkBytes < 0 {
		return fmt.Errorf("chunk_bytes cannot be negative, got %d", e.ChunkBytes)
	}
	if e.ChunkBytes%2 != 0 {
		return fmt.Errorf("chunk_bytes must be sample-aligned (even), got %d", e.ChunkBytes)
	}

	if e.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", e.IdleTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates WebSocket configuration
func (w *WebSocketConfig) Validate() error {
	if w.MaxMessageBytes < 1024 {
		return fmt.Errorf("max_message_bytes must be at least 1024, got %d", w.MaxMessageBytes)
	}

	if w.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", w.WriteTimeout)
	}

	if w.PingInterval < 0 {
		return fmt.Errorf("ping_interval cannot be negative, got %d", w.PingInterval)
	}

	return nil
}

// Validate validates publisher configuration
func (p *PublisherConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when publisher is enabled")
	}

	if p.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", p.Timeout)
	}

	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", p.MaxRetries)
	}

	if p.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", p.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetIdleTimeoutDuration returns the session idle timeout as a time.Duration
func (e *EngineConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(e.IdleTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the WebSocket write timeout as a time.Duration
func (w *WebSocketConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(w.WriteTimeout) * time.Second
}

// GetPingIntervalDuration returns the WebSocket ping interval as a time.Duration
func (w *WebSocketConfig) GetPingIntervalDuration() time.Duration {
	return time.Duration(w.PingInterval) * time.Second
}

// GetTimeoutDuration returns the publisher request timeout as a time.Duration
func (p *PublisherConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}
