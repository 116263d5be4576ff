package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment" validate:"omitempty,oneof=development production"`
	Server       ServerConfig       `toml:"server"`
	Queue        QueueConfig        `toml:"queue"`
	Storage      StorageConfig      `toml:"storage"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Extract      ExtractConfig      `toml:"extract"`
	Embedding    EmbeddingConfig    `toml:"embedding"`
	Logging      LoggingConfig      `toml:"logging"`
	WebSocket    WebSocketConfig    `toml:"websocket"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=0,max=65535"`
}

// QueueConfig controls the broker and the worker pools that poll it.
type QueueConfig struct {
	PollInterval         string `toml:"poll_interval"`                // how often workers poll for messages
	MaxRetries           int    `toml:"max_retries" validate:"min=1"` // receives before dead-letter
	ExtractVisibility    string `toml:"extract_visibility"`           // visibility timeout for extract messages
	TransformVisibility  string `toml:"transform_visibility"`         // visibility timeout for transform messages
	EmbedVisibility      string `toml:"embed_visibility"`             // visibility timeout for embed messages
	ExtractConcurrency   int    `toml:"extract_concurrency" validate:"min=1"`
	TransformConcurrency int    `toml:"transform_concurrency" validate:"min=1"`
	EmbedConcurrency     int    `toml:"embed_concurrency" validate:"min=1"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
	Vector VectorConfig `toml:"vector"`
}

// SQLiteConfig represents the relational store configuration
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// BadgerConfig represents the queue broker database configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// VectorConfig represents the vector store configuration
type VectorConfig struct {
	Path      string `toml:"path"`
	Dimension int    `toml:"dimension" validate:"min=1"`
}

// OrchestratorConfig controls the scheduler tick loop and backpressure.
type OrchestratorConfig struct {
	TickInterval     string `toml:"tick_interval"` // how often due jobs are scanned
	ExtractQueueHWM  int    `toml:"extract_queue_hwm" validate:"min=1"`
	ExtractQueueLWM  int    `toml:"extract_queue_lwm" validate:"min=0"`
	RunawayThreshold string `toml:"runaway_threshold"` // RUNNING jobs older than this are failed
}

type ExtractConfig struct {
	BatchSize      int    `toml:"batch_size" validate:"min=1"`    // source pagination size
	TransformHWM   int    `toml:"transform_hwm" validate:"min=1"` // pause publishing above this depth
	PublishPause   string `toml:"publish_pause"`                  // wait between depth checks while paused
	RequestTimeout string `toml:"request_timeout"`                // per source API call deadline
}

type EmbeddingConfig struct {
	Provider  string `toml:"provider" validate:"oneof=offline gemini"`
	Model     string `toml:"model"`
	APIKey    string `toml:"api_key"`
	Dimension int    `toml:"dimension" validate:"min=1"`
	Timeout   string `toml:"timeout"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // time format for logs (default: "15:04:05.000")
}

// WebSocketConfig contains configuration for the progress stream
type WebSocketConfig struct {
	MinLevel         string `toml:"min_level"`         // minimum log level to broadcast
	ProgressThrottle string `toml:"progress_throttle"` // min interval between progress broadcasts per client
}

// DefaultConfig returns a config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Queue: QueueConfig{
			PollInterval:         "1s",
			MaxRetries:           5,
			ExtractVisibility:    "10m",
			TransformVisibility:  "2m",
			EmbedVisibility:      "2m",
			ExtractConcurrency:   1,
			TransformConcurrency: 4,
			EmbedConcurrency:     4,
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{Path: "./data/confluo.db"},
			Badger: BadgerConfig{Path: "./data/queue"},
			Vector: VectorConfig{Path: "./data/vectors", Dimension: 768},
		},
		Orchestrator: OrchestratorConfig{
			TickInterval:     "30s",
			ExtractQueueHWM:  10000,
			ExtractQueueLWM:  5000,
			RunawayThreshold: "2h",
		},
		Extract: ExtractConfig{
			BatchSize:      100,
			TransformHWM:   5000,
			PublishPause:   "500ms",
			RequestTimeout: "60s",
		},
		Embedding: EmbeddingConfig{
			Provider:  "offline",
			Model:     "gemini-embedding-001",
			Dimension: 768,
			Timeout:   "30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		WebSocket: WebSocketConfig{
			MinLevel:         "info",
			ProgressThrottle: "250ms",
		},
	}
}

// LoadConfig builds configuration from defaults, then overlays each config
// file in order, then environment variables.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Both the
// CONFLUO_-prefixed names and the short operational names are honored.
func (c *Config) applyEnvOverrides() {
	if v := envString("CONFLUO_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v, ok := envInt("CONFLUO_SERVER_PORT"); ok {
		c.Server.Port = v
	}
	if v, ok := envInt("MAX_RETRIES", "CONFLUO_QUEUE_MAX_RETRIES"); ok {
		c.Queue.MaxRetries = v
	}
	if v := envString("VISIBILITY_TIMEOUT", "CONFLUO_QUEUE_EXTRACT_VISIBILITY"); v != "" {
		c.Queue.ExtractVisibility = v
	}
	if v := envString("CONFLUO_QUEUE_TRANSFORM_VISIBILITY"); v != "" {
		c.Queue.TransformVisibility = v
	}
	if v := envString("CONFLUO_QUEUE_EMBED_VISIBILITY"); v != "" {
		c.Queue.EmbedVisibility = v
	}
	if v := envString("TICK_INTERVAL", "CONFLUO_ORCHESTRATOR_TICK_INTERVAL"); v != "" {
		c.Orchestrator.TickInterval = v
	}
	if v, ok := envInt("EXTRACT_QUEUE_HWM", "CONFLUO_EXTRACT_QUEUE_HWM"); ok {
		c.Orchestrator.ExtractQueueHWM = v
	}
	if v, ok := envInt("EXTRACT_QUEUE_LWM", "CONFLUO_EXTRACT_QUEUE_LWM"); ok {
		c.Orchestrator.ExtractQueueLWM = v
	}
	if v, ok := envInt("DEFAULT_BATCH_SIZE", "CONFLUO_EXTRACT_BATCH_SIZE"); ok {
		c.Extract.BatchSize = v
	}
	if v := envString("CONFLUO_SQLITE_PATH"); v != "" {
		c.Storage.SQLite.Path = v
	}
	if v := envString("CONFLUO_BADGER_PATH"); v != "" {
		c.Storage.Badger.Path = v
	}
	if v := envString("CONFLUO_VECTOR_PATH"); v != "" {
		c.Storage.Vector.Path = v
	}
	if v := envString("CONFLUO_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := envString("CONFLUO_EMBEDDING_API_KEY", "GOOGLE_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := envString("CONFLUO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks structural constraints plus the duration fields that the
// validator tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":            c.Queue.PollInterval,
		"queue.extract_visibility":       c.Queue.ExtractVisibility,
		"queue.transform_visibility":     c.Queue.TransformVisibility,
		"queue.embed_visibility":         c.Queue.EmbedVisibility,
		"orchestrator.tick_interval":     c.Orchestrator.TickInterval,
		"orchestrator.runaway_threshold": c.Orchestrator.RunawayThreshold,
		"extract.publish_pause":          c.Extract.PublishPause,
		"extract.request_timeout":        c.Extract.RequestTimeout,
		"embedding.timeout":              c.Embedding.Timeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, value)
		}
	}

	if c.Orchestrator.ExtractQueueLWM > c.Orchestrator.ExtractQueueHWM {
		return fmt.Errorf("extract_queue_lwm (%d) must not exceed extract_queue_hwm (%d)",
			c.Orchestrator.ExtractQueueLWM, c.Orchestrator.ExtractQueueHWM)
	}

	return nil
}

// Duration parses a duration config field that Validate already checked.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

func envString(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func envInt(names ...string) (int, bool) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
