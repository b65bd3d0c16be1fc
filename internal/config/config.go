package config

import (
	"fmt"
	"strings"
	"time"

	"taxonomer/internal/ratelimit"

	"github.com/spf13/viper"
)

type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // "text" or "json"
	} `mapstructure:"log"`

	Server struct {
		Address         string        `mapstructure:"address"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		// EmbeddedWorker runs the asynq worker inside the serve process.
		EmbeddedWorker bool `mapstructure:"embedded_worker"`
	} `mapstructure:"server"`

	Database struct {
		Driver   string `mapstructure:"driver"` // "postgres" or "sqlite3"
		DSN      string `mapstructure:"dsn"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"database"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Worker struct {
		Concurrency int            `mapstructure:"concurrency"`
		Queues      map[string]int `mapstructure:"queues"`
		MaxRetry    int            `mapstructure:"max_retry"`
	} `mapstructure:"worker"`

	Embedding struct {
		Providers     []string `mapstructure:"providers"` // in fallback order
		OpenaiApiKey  string   `mapstructure:"openai_api_key"`
		OpenaiModel   string   `mapstructure:"openai_model"`
		OpenaiBaseURL string   `mapstructure:"openai_base_url"`
		GoogleApiKey  string   `mapstructure:"google_api_key"`
		GeminiModel   string   `mapstructure:"gemini_model"`
		DescribeModel string   `mapstructure:"describe_model"`
		BatchSize     int      `mapstructure:"batch_size"`
		Concurrency   int      `mapstructure:"concurrency"`
		Retry         struct {
			MaxAttempts int           `mapstructure:"max_attempts"`
			BaseDelay   time.Duration `mapstructure:"base_delay"`
			MaxDelay    time.Duration `mapstructure:"max_delay"`
		} `mapstructure:"retry"`
	} `mapstructure:"embedding"`

	RateLimit ratelimit.Config `mapstructure:"rate_limit"`

	Indexing struct {
		BuildTimeout      time.Duration `mapstructure:"build_timeout"`
		WatchInterval     time.Duration `mapstructure:"watch_interval"`
		RetainGenerations int           `mapstructure:"retain_generations"`
	} `mapstructure:"indexing"`

	Classification struct {
		TopK        int `mapstructure:"top_k"`
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"classification"`

	Google struct {
		CredentialsFile string `mapstructure:"credentials_file"`
		MediaMaxBytes   int64  `mapstructure:"media_max_bytes"`
	} `mapstructure:"google"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.embedded_worker", false)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queues", map[string]int{"indexing": 1})
	v.SetDefault("worker.max_retry", 3)

	v.SetDefault("embedding.providers", []string{"gemini"})
	v.SetDefault("embedding.openai_model", "text-embedding-3-small")
	v.SetDefault("embedding.openai_base_url", "")
	v.SetDefault("embedding.gemini_model", "text-embedding-004")
	v.SetDefault("embedding.describe_model", "gemini-1.5-flash")
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.retry.max_attempts", 10)
	v.SetDefault("embedding.retry.base_delay", 5*time.Second)
	v.SetDefault("embedding.retry.max_delay", 70*time.Second)

	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.max_in_flight", 8)
	v.SetDefault("rate_limit.max_wait", 30*time.Second)

	v.SetDefault("indexing.build_timeout", time.Hour)
	v.SetDefault("indexing.watch_interval", 30*time.Second)
	v.SetDefault("indexing.retain_generations", 3)

	v.SetDefault("classification.top_k", 10)
	v.SetDefault("classification.concurrency", 8)

	v.SetDefault("google.media_max_bytes", 20<<20)
}

// LoadConfig reads config.yaml (from configFile, or the working directory when empty),
// then applies TAXONOMER_* environment overrides.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TAXONOMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Well-known variables work without the prefix.
	v.BindEnv("embedding.openai_api_key", "TAXONOMER_EMBEDDING_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("embedding.google_api_key", "TAXONOMER_EMBEDDING_GOOGLE_API_KEY", "GOOGLE_API_KEY")
	v.BindEnv("database.dsn", "TAXONOMER_DATABASE_DSN", "DATABASE_DSN")
	v.BindEnv("redis.address", "TAXONOMER_REDIS_ADDRESS", "REDIS_ADDR")
	v.BindEnv("google.credentials_file", "TAXONOMER_GOOGLE_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &config, nil
}
