package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration, loaded from environment
// variables with sensible defaults.
//
// Environment Variables:
// Provider Configuration:
// - LLM_API_KEY: API key for the model provider (optional; absence puts the
//   pipeline in a degraded mode that stops at upload confirmation)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_TIMEOUT: Request timeout in seconds (default: 60)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Object Storage Configuration:
// - STORAGE_ENDPOINT: Object store endpoint (default: localhost:9000)
// - STORAGE_ACCESS_KEY / STORAGE_SECRET_KEY: credentials
// - STORAGE_BUCKET: media bucket (default: clipshelf-media)
// - STORAGE_USE_SSL: whether to use TLS (default: false)
//
// Queue Configuration:
// - QUEUE_AMQP_URL: broker URL; empty selects the local transport
// - QUEUE_NAME: queue name (default: video-jobs)
// - QUEUE_MAX_RETRIES: delivery retries before dead-lettering (default: 3)
// - QUEUE_CALLBACK_URL: worker ingress URL targeted by the relay
// - SIGNING_KEY_CURRENT / SIGNING_KEY_NEXT: callback signing-key pair
// - LOCAL_DEV: trust the local-dev bypass header on the callback ingress
//
// Worker Configuration:
// - WORKER_TIMEOUT: wall-clock budget per ingress invocation, seconds (default: 60)
// - JANITOR_CRON: stale-job sweep schedule (default: @every 5m)
// - JOB_STALE_AFTER_MIN: minutes before a mid-pipeline job counts as stranded (default: 15)
//
// System Configuration:
// - SERVER_ADDR: HTTP listen address (default: :8080)
// - DB_PATH: SQLite path (default: data/clipshelf.db)
// - LOG_LEVEL: debug|info|warn|error (default: info)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Worker   WorkerConfig   `json:"worker"`
	Server   ServerConfig   `json:"server"`
}

// ProviderConfig holds the model provider connection settings.
type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIURL  string `json:"api_url"`
	Timeout int    `json:"timeout"`
	SiteURL string `json:"site_url"`
	AppName string `json:"app_name"`
}

// Ready reports whether the AI capability is configured. Absence is a
// degraded-but-valid state, not an error.
func (c ProviderConfig) Ready() bool {
	return c.APIKey != ""
}

type StorageConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"use_ssl"`
}

type QueueConfig struct {
	AMQPURL        string `json:"amqp_url"`
	QueueName      string `json:"queue_name"`
	MaxRetries     int    `json:"max_retries"`
	CallbackURL    string `json:"callback_url"`
	SigningKey     string `json:"-"`
	SigningKeyNext string `json:"-"`
	LocalDev       bool   `json:"local_dev"`
}

// DistributedReady reports whether the distributed transport can be used.
func (c QueueConfig) DistributedReady() bool {
	return c.AMQPURL != "" && c.SigningKey != ""
}

type WorkerConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds"`
	JanitorCron    string `json:"janitor_cron"`
	StaleAfterMin  int    `json:"stale_after_min"`
}

type ServerConfig struct {
	Addr     string `json:"addr"`
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Provider: ProviderConfig{
			APIKey:  getEnvString("LLM_API_KEY", ""),
			APIURL:  getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Timeout: getEnvInt("LLM_TIMEOUT", 60),
			SiteURL: getEnvString("LLM_SITE_URL", ""),
			AppName: getEnvString("LLM_APP_NAME", ""),
		},
		Storage: StorageConfig{
			Endpoint:  getEnvString("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey: getEnvString("STORAGE_ACCESS_KEY", ""),
			SecretKey: getEnvString("STORAGE_SECRET_KEY", ""),
			Bucket:    getEnvString("STORAGE_BUCKET", "clipshelf-media"),
			UseSSL:    getEnvBool("STORAGE_USE_SSL", false),
		},
		Queue: QueueConfig{
			AMQPURL:        getEnvString("QUEUE_AMQP_URL", ""),
			QueueName:      getEnvString("QUEUE_NAME", "video-jobs"),
			MaxRetries:     getEnvInt("QUEUE_MAX_RETRIES", 3),
			CallbackURL:    getEnvString("QUEUE_CALLBACK_URL", "http://localhost:8080/api/queue/callback"),
			SigningKey:     getEnvString("SIGNING_KEY_CURRENT", ""),
			SigningKeyNext: getEnvString("SIGNING_KEY_NEXT", ""),
			LocalDev:       getEnvBool("LOCAL_DEV", false),
		},
		Worker: WorkerConfig{
			TimeoutSeconds: getEnvInt("WORKER_TIMEOUT", 60),
			JanitorCron:    getEnvString("JANITOR_CRON", "@every 5m"),
			StaleAfterMin:  getEnvInt("JOB_STALE_AFTER_MIN", 15),
		},
		Server: ServerConfig{
			Addr:     getEnvString("SERVER_ADDR", ":8080"),
			DBPath:   getEnvString("DB_PATH", "data/clipshelf.db"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks the configuration that must always be present. The AI
// capability is deliberately optional.
func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("SERVER_ADDR is required")
	}
	if c.Server.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must not be negative")
	}
	if c.Queue.AMQPURL != "" && c.Queue.SigningKey == "" {
		return fmt.Errorf("SIGNING_KEY_CURRENT is required when QUEUE_AMQP_URL is set")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
