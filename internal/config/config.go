// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig is optional. With an empty URL no distributed locks are used.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type AIConfig struct {
	Provider        string `yaml:"provider"` // openai | gemini | multi | noop
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultModel    string `yaml:"default_model"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
}

type RetryConfig struct {
	Retries     int `yaml:"retries"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

type InferenceConfig struct {
	PromptVersion   string      `yaml:"prompt_version"` // V1 | V2
	ModelTimeoutMs  int         `yaml:"model_timeout_ms"`
	TranscriptLimit int         `yaml:"transcript_limit"`
	Retry           RetryConfig `yaml:"retry"`
}

func (c InferenceConfig) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutMs) * time.Millisecond
}

type UserContextConfig struct {
	Interval  int         `yaml:"interval"` // inbound messages between extractions
	Model     string      `yaml:"model"`
	TimeoutMs int         `yaml:"timeout_ms"`
	Retry     RetryConfig `yaml:"retry"`
}

func (c UserContextConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type RunnerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Workers           int           `yaml:"workers"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	BatchLimit        int           `yaml:"batch_limit"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackgroundWorkers int           `yaml:"background_workers"`
	// StaleAfter returns processing jobs untouched this long to pending.
	StaleAfter        time.Duration `yaml:"stale_after"`
}

type Config struct {
	Log         LogConfig         `yaml:"log"`
	Admin       AdminConfig       `yaml:"admin"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	AI          AIConfig          `yaml:"ai"`
	Inference   InferenceConfig   `yaml:"inference"`
	UserContext UserContextConfig `yaml:"user_context"`
	Runner      RunnerConfig      `yaml:"runner"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev, os.Getenv)
}

// Parse is LoadConfig without the file read; getenv is usually os.Getenv.
func Parse(b []byte, dev bool, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// applyEnv lets deployment override the handful of settings that are
// usually set per environment.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := getenv("PROMPT_VERSION"); v != "" {
		cfg.Inference.PromptVersion = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.OpenAIKey = v
	}
	if v := getenv("OPENAI_MODEL"); v != "" {
		cfg.AI.DefaultModel = v
	}
	if v := getenv("MODEL_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MODEL_TIMEOUT_MS: %w", err)
		}
		cfg.Inference.ModelTimeoutMs = n
	}
	if v := getenv("CONTEXT_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONTEXT_INTERVAL: %w", err)
		}
		cfg.UserContext.Interval = n
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = 2 * time.Minute
	}

	if cfg.AI.Provider == "" {
		switch {
		case cfg.AI.OpenAIKey != "":
			cfg.AI.Provider = "openai"
		case cfg.AI.GeminiKey != "":
			cfg.AI.Provider = "gemini"
		default:
			cfg.AI.Provider = "noop"
		}
	}
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-5"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}

	if cfg.Inference.PromptVersion == "" {
		cfg.Inference.PromptVersion = "V1"
	}
	if cfg.Inference.ModelTimeoutMs <= 0 {
		cfg.Inference.ModelTimeoutMs = 60_000
	}
	if cfg.Inference.TranscriptLimit <= 0 {
		cfg.Inference.TranscriptLimit = 80
	}
	cfg.Inference.Retry = retryDefaults(cfg.Inference.Retry, 2, 500, 4000)

	if cfg.UserContext.Interval <= 0 {
		cfg.UserContext.Interval = 30
	}
	if cfg.UserContext.Model == "" {
		cfg.UserContext.Model = cfg.AI.DefaultModel
	}
	if cfg.UserContext.TimeoutMs <= 0 {
		cfg.UserContext.TimeoutMs = 30_000
	}
	cfg.UserContext.Retry = retryDefaults(cfg.UserContext.Retry, 3, 300, 3000)

	if cfg.Runner.Workers <= 0 {
		cfg.Runner.Workers = 4
	}
	if cfg.Runner.BackgroundWorkers <= 0 {
		cfg.Runner.BackgroundWorkers = 2
	}
	if cfg.Runner.PollInterval <= 0 {
		cfg.Runner.PollInterval = 500 * time.Millisecond
	}
	if cfg.Runner.StaleAfter <= 0 {
		cfg.Runner.StaleAfter = 5 * time.Minute
	}
	if cfg.Runner.BatchLimit <= 0 {
		cfg.Runner.BatchLimit = 10
	}
	if cfg.Runner.MaxAttempts <= 0 {
		cfg.Runner.MaxAttempts = 5
	}
}

func retryDefaults(r RetryConfig, retries, baseMs, maxMs int) RetryConfig {
	if r.Retries < 0 {
		r.Retries = 0
	} else if r.Retries == 0 && r.BaseDelayMs == 0 && r.MaxDelayMs == 0 {
		r.Retries = retries
	}
	if r.BaseDelayMs <= 0 {
		r.BaseDelayMs = baseMs
	}
	if r.MaxDelayMs <= 0 {
		r.MaxDelayMs = maxMs
	}
	if r.MaxDelayMs < r.BaseDelayMs {
		r.MaxDelayMs = r.BaseDelayMs
	}
	return r
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	switch strings.ToUpper(strings.TrimSpace(c.Inference.PromptVersion)) {
	case "V1", "V2":
	default:
		return fmt.Errorf("inference.prompt_version must be V1 or V2, got %q", c.Inference.PromptVersion)
	}
	switch c.AI.Provider {
	case "openai":
		if c.AI.OpenAIKey == "" {
			return errors.New("ai.openai_key is required for provider openai")
		}
	case "gemini":
		if c.AI.GeminiKey == "" {
			return errors.New("ai.gemini_key is required for provider gemini")
		}
	case "multi":
		if c.AI.OpenAIKey == "" && c.AI.GeminiKey == "" {
			return errors.New("ai.provider multi needs at least one of ai.openai_key, ai.gemini_key")
		}
	case "noop":
	default:
		return fmt.Errorf("ai.provider %q is not supported", c.AI.Provider)
	}
	return nil
}
