package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/chunkline/pkg/transform"
)

//go:embed schema.json
var schemaJSON []byte

// Config defines configuration for the chunkline CLI.
type Config struct {
	Input             string        `yaml:"input"`
	Output            string        `yaml:"output"`
	Transform         string        `yaml:"transform"`
	ChunkSize         int           `yaml:"chunk_size"`
	Workers           int           `yaml:"workers"`
	WorkspaceDir      string        `yaml:"workspace_dir"`
	Overwrite         bool          `yaml:"overwrite"`
	Isolate           bool          `yaml:"isolate"`
	Progress          bool          `yaml:"progress"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	SkipEncodingCheck bool          `yaml:"skip_encoding_check"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	Publish           PublishConfig `yaml:"publish"`
}

// PublishConfig defines where the merged output is uploaded, if anywhere.
type PublishConfig struct {
	Bucket string      `yaml:"bucket"` // gocloud.dev/blob URL, e.g. s3://bucket?region=eu-west-1
	Object string      `yaml:"object"` // defaults to the output file name
	Retry  RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Transform:    "identity",
		ChunkSize:    10_000,
		Workers:      runtime.NumCPU(),
		WorkspaceDir: os.TempDir(),
		Overwrite:    true,
		PollInterval: 500 * time.Millisecond,
		LogLevel:     "info",
		LogFormat:    "text",
		Publish: PublishConfig{
			Retry: RetryConfig{
				Attempts:   5,
				Backoff:    time.Second,
				MaxBackoff: 30 * time.Second,
			},
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations. Pointer
// booleans tell an explicit false apart from an absent key.
type yamlConfig struct {
	Input             string            `yaml:"input"`
	Output            string            `yaml:"output"`
	Transform         string            `yaml:"transform"`
	ChunkSize         int               `yaml:"chunk_size"`
	Workers           int               `yaml:"workers"`
	WorkspaceDir      string            `yaml:"workspace_dir"`
	Overwrite         *bool             `yaml:"overwrite"`
	Isolate           bool              `yaml:"isolate"`
	Progress          bool              `yaml:"progress"`
	TaskTimeout       string            `yaml:"task_timeout"`
	PollInterval      string            `yaml:"poll_interval"`
	SkipEncodingCheck bool              `yaml:"skip_encoding_check"`
	LogLevel          string            `yaml:"log_level"`
	LogFormat         string            `yaml:"log_format"`
	Publish           yamlPublishConfig `yaml:"publish"`
}

type yamlPublishConfig struct {
	Bucket string          `yaml:"bucket"`
	Object string          `yaml:"object"`
	Retry  yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file. The document is checked
// against the embedded JSON schema first, so unknown keys and wrongly typed
// values are rejected with the offending location.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	if err := validateDocument(data); err != nil {
		return Config{}, err
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Input != "" {
		cfg.Input = yc.Input
	}
	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.Transform != "" {
		cfg.Transform = yc.Transform
	}
	if yc.ChunkSize != 0 {
		cfg.ChunkSize = yc.ChunkSize
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.WorkspaceDir != "" {
		cfg.WorkspaceDir = yc.WorkspaceDir
	}
	if yc.Overwrite != nil {
		cfg.Overwrite = *yc.Overwrite
	}
	cfg.Isolate = yc.Isolate
	cfg.Progress = yc.Progress
	cfg.SkipEncodingCheck = yc.SkipEncodingCheck
	if yc.TaskTimeout != "" {
		d, err := time.ParseDuration(yc.TaskTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse task_timeout: %w", err)
		}
		cfg.TaskTimeout = d
	}
	if yc.PollInterval != "" {
		d, err := time.ParseDuration(yc.PollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.LogFormat != "" {
		cfg.LogFormat = yc.LogFormat
	}
	if yc.Publish.Bucket != "" {
		cfg.Publish.Bucket = yc.Publish.Bucket
	}
	if yc.Publish.Object != "" {
		cfg.Publish.Object = yc.Publish.Object
	}
	if yc.Publish.Retry.Attempts != 0 {
		cfg.Publish.Retry.Attempts = yc.Publish.Retry.Attempts
	}
	if yc.Publish.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Publish.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse publish.retry.backoff: %w", err)
		}
		cfg.Publish.Retry.Backoff = d
	}
	if yc.Publish.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Publish.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse publish.retry.max_backoff: %w", err)
		}
		cfg.Publish.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// validateDocument checks a raw YAML document against the config schema.
func validateDocument(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if doc == nil {
		return nil
	}

	// The schema validator works on the JSON data model.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("config file does not match schema: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CHUNKLINE_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("CHUNKLINE_INPUT"); v != "" {
		c.Input = v
	}
	if v := os.Getenv("CHUNKLINE_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("CHUNKLINE_TRANSFORM"); v != "" {
		c.Transform = v
	}
	if v := os.Getenv("CHUNKLINE_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CHUNKLINE_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = n
	}
	if v := os.Getenv("CHUNKLINE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CHUNKLINE_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("CHUNKLINE_WORKSPACE_DIR"); v != "" {
		c.WorkspaceDir = v
	}
	if v := os.Getenv("CHUNKLINE_OVERWRITE"); v != "" {
		c.Overwrite = v == "true" || v == "1"
	}
	if v := os.Getenv("CHUNKLINE_ISOLATE"); v != "" {
		c.Isolate = v == "true" || v == "1"
	}
	if v := os.Getenv("CHUNKLINE_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("CHUNKLINE_SKIP_ENCODING_CHECK"); v != "" {
		c.SkipEncodingCheck = v == "true" || v == "1"
	}
	if v := os.Getenv("CHUNKLINE_TASK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CHUNKLINE_TASK_TIMEOUT: %w", err)
		}
		c.TaskTimeout = d
	}
	if v := os.Getenv("CHUNKLINE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CHUNKLINE_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	if v := os.Getenv("CHUNKLINE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CHUNKLINE_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("CHUNKLINE_PUBLISH_BUCKET"); v != "" {
		c.Publish.Bucket = v
	}
	if v := os.Getenv("CHUNKLINE_PUBLISH_OBJECT"); v != "" {
		c.Publish.Object = v
	}
	if v := os.Getenv("CHUNKLINE_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CHUNKLINE_RETRY_ATTEMPTS: %w", err)
		}
		c.Publish.Retry.Attempts = n
	}
	if v := os.Getenv("CHUNKLINE_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CHUNKLINE_RETRY_BACKOFF: %w", err)
		}
		c.Publish.Retry.Backoff = d
	}
	if v := os.Getenv("CHUNKLINE_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CHUNKLINE_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Publish.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Input == "" {
		return errors.New("config: input is required")
	}
	if c.Output == "" {
		return errors.New("config: output is required")
	}
	if c.Transform == "" {
		return errors.New("config: transform is required")
	}
	if _, err := transform.Lookup(c.Transform); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.WorkspaceDir != "" && !filepath.IsAbs(c.WorkspaceDir) {
		return errors.New("config: workspace_dir must be an absolute path")
	}
	if c.TaskTimeout < 0 {
		return errors.New("config: task_timeout must not be negative")
	}
	if c.PollInterval <= 0 {
		return errors.New("config: poll_interval must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Publish.Object != "" && c.Publish.Bucket == "" {
		return errors.New("config: publish.object requires publish.bucket")
	}
	if c.Publish.Bucket != "" && c.Publish.Retry.Attempts <= 0 {
		return errors.New("config: publish.retry.attempts must be positive")
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return level, nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored, so Overwrite can only be turned off
// by setting it on c directly.
func (c Config) Merge(override Config) Config {
	if override.Input != "" {
		c.Input = override.Input
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Transform != "" {
		c.Transform = override.Transform
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.WorkspaceDir != "" {
		c.WorkspaceDir = override.WorkspaceDir
	}
	if override.Isolate {
		c.Isolate = override.Isolate
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.SkipEncodingCheck {
		c.SkipEncodingCheck = override.SkipEncodingCheck
	}
	if override.TaskTimeout != 0 {
		c.TaskTimeout = override.TaskTimeout
	}
	if override.PollInterval != 0 {
		c.PollInterval = override.PollInterval
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		c.LogFormat = override.LogFormat
	}
	if override.Publish.Bucket != "" {
		c.Publish.Bucket = override.Publish.Bucket
	}
	if override.Publish.Object != "" {
		c.Publish.Object = override.Publish.Object
	}
	if override.Publish.Retry.Attempts != 0 {
		c.Publish.Retry.Attempts = override.Publish.Retry.Attempts
	}
	if override.Publish.Retry.Backoff != 0 {
		c.Publish.Retry.Backoff = override.Publish.Retry.Backoff
	}
	if override.Publish.Retry.MaxBackoff != 0 {
		c.Publish.Retry.MaxBackoff = override.Publish.Retry.MaxBackoff
	}
	return c
}
