package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the sitepulse server and worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Notify    NotifyConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Fetch     FetchConfig
	AI        AIConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type NotifyConfig struct {
	Backend     string
	RabbitMQURL string
}

type QueueConfig struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type WorkerConfig struct {
	Concurrency       int
	PollInterval      time.Duration
	StageTimeout      time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	ReaperSchedule    string
}

type FetchConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

type AIConfig struct {
	Provider         string
	ImageProvider    string
	InferenceTimeout time.Duration
	ScenarioCount    int
	Ollama           OllamaConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	ImageModel string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type MetricsConfig struct {
	Addr string
}

type TracingConfig struct {
	Exporter string
}

var validProviders = map[string]bool{
	"ollama":    true,
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

var validImageProviders = map[string]bool{
	"openai": true,
	"mock":   true,
}

var validNotifyBackends = map[string]bool{
	"redis": true,
	"amqp":  true,
	"none":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SITEPULSE_PORT", 8080),
			Env:  envString("SITEPULSE_ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:          envString("DATABASE_DRIVER", "postgres"),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Notify: NotifyConfig{
			Backend:     envString("NOTIFY_BACKEND", "redis"),
			RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		},
		Queue: QueueConfig{
			MaxAttempts:    envInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffInitial: envDuration("QUEUE_BACKOFF_INITIAL", 5*time.Second),
			BackoffMax:     envDuration("QUEUE_BACKOFF_MAX", 5*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:       envInt("WORKER_CONCURRENCY", 4),
			PollInterval:      envDuration("WORKER_POLL_INTERVAL", 2*time.Second),
			StageTimeout:      envDurationSecs("WORKER_STAGE_TIMEOUT_SECS", 120*time.Second),
			HeartbeatInterval: envDuration("WORKER_HEARTBEAT_INTERVAL", 15*time.Second),
			StaleAfter:        envDuration("WORKER_STALE_AFTER", 10*time.Minute),
			ReaperSchedule:    envString("WORKER_REAPER_SCHEDULE", "@every 1m"),
		},
		Fetch: FetchConfig{
			Timeout:   envDuration("FETCH_TIMEOUT", 20*time.Second),
			MaxBytes:  int64(envInt("FETCH_MAX_BYTES", 2<<20)),
			UserAgent: envString("FETCH_USER_AGENT", "sitepulse-fetcher/1.0"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			ImageProvider:    envString("IMAGE_PROVIDER", "openai"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			ScenarioCount:    envInt("SCENARIO_COUNT", 3),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			OpenAI: OpenAIConfig{
				BaseURL:    envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:     os.Getenv("OPENAI_API_KEY"),
				Model:      envString("OPENAI_MODEL", "gpt-4o-mini"),
				ImageModel: envString("OPENAI_IMAGE_MODEL", "dall-e-3"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Metrics: MetricsConfig{
			Addr: envString("METRICS_ADDR", ":9091"),
		},
		Tracing: TracingConfig{
			Exporter: envString("OTEL_TRACES_EXPORTER", "none"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, sqlite; got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validNotifyBackends[c.Notify.Backend] {
		return fmt.Errorf("NOTIFY_BACKEND must be one of redis, amqp, none; got %q", c.Notify.Backend)
	}
	if c.Notify.Backend == "amqp" && c.Notify.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required when NOTIFY_BACKEND is amqp")
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BackoffMax < c.Queue.BackoffInitial {
		return fmt.Errorf("QUEUE_BACKOFF_MAX (%s) must not be below QUEUE_BACKOFF_INITIAL (%s)",
			c.Queue.BackoffMax, c.Queue.BackoffInitial)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.StaleAfter <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("WORKER_STALE_AFTER (%s) must exceed WORKER_HEARTBEAT_INTERVAL (%s)",
			c.Worker.StaleAfter, c.Worker.HeartbeatInterval)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, openai, anthropic, mock; got %q", c.AI.Provider)
	}
	if !validImageProviders[c.AI.ImageProvider] {
		return fmt.Errorf("IMAGE_PROVIDER must be one of openai, mock; got %q", c.AI.ImageProvider)
	}
	if (c.AI.Provider == "openai" || c.AI.ImageProvider == "openai") && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER or IMAGE_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.ScenarioCount < 1 || c.AI.ScenarioCount > 10 {
		return fmt.Errorf("SCENARIO_COUNT must be between 1 and 10, got %d", c.AI.ScenarioCount)
	}

	if !strings.HasPrefix(c.AI.Ollama.BaseURL, "http://") && !strings.HasPrefix(c.AI.Ollama.BaseURL, "https://") {
		return fmt.Errorf("OLLAMA_BASE_URL must start with http:// or https://, got %q", c.AI.Ollama.BaseURL)
	}

	if c.Tracing.Exporter != "none" && c.Tracing.Exporter != "stdout" {
		return fmt.Errorf("OTEL_TRACES_EXPORTER must be one of none, stdout; got %q", c.Tracing.Exporter)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
