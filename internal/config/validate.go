package config

import (
	"errors"
	"fmt"

	"taxonomer/internal/models"
	"taxonomer/internal/tasks"
)

// Validate checks the configuration before anything connects. Provider keys are only
// required for the providers listed in embedding.providers.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	// Database config
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	// Redis config
	if c.Redis.Address == "" {
		return errors.New("redis.address is required")
	}

	// Worker config
	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be a positive integer")
	}
	if len(c.Worker.Queues) == 0 {
		return errors.New("worker.queues must define at least one queue")
	}
	for name, priority := range c.Worker.Queues {
		if name == "" {
			return errors.New("worker.queues contains an empty queue name")
		}
		if priority <= 0 {
			return fmt.Errorf("worker.queues priority for queue '%s' must be positive", name)
		}
	}
	if _, ok := c.Worker.Queues[tasks.QueueIndexing]; !ok {
		return fmt.Errorf("worker.queues must include the %q queue", tasks.QueueIndexing)
	}
	if c.Worker.MaxRetry < 0 {
		return errors.New("worker.max_retry must not be negative")
	}

	// Embedding config
	if len(c.Embedding.Providers) == 0 {
		return errors.New("embedding.providers must list at least one provider")
	}
	for _, p := range c.Embedding.Providers {
		switch p {
		case "openai":
			if c.Embedding.OpenaiApiKey == "" {
				return errors.New("embedding.openai_api_key is required when openai is an embedding provider")
			}
		case "gemini":
			if c.Embedding.GoogleApiKey == "" {
				return errors.New("embedding.google_api_key is required when gemini is an embedding provider")
			}
		default:
			return fmt.Errorf("unknown embedding provider %q", p)
		}
	}
	if c.Embedding.BatchSize <= 0 {
		return errors.New("embedding.batch_size must be positive")
	}
	if c.Embedding.Concurrency <= 0 {
		return errors.New("embedding.concurrency must be positive")
	}
	if c.Embedding.Retry.MaxAttempts <= 0 {
		return errors.New("embedding.retry.max_attempts must be positive")
	}
	if c.Embedding.Retry.MaxDelay > 0 && c.Embedding.Retry.BaseDelay > c.Embedding.Retry.MaxDelay {
		return fmt.Errorf("embedding.retry.base_delay (%s) must not exceed max_delay (%s)",
			c.Embedding.Retry.BaseDelay, c.Embedding.Retry.MaxDelay)
	}

	// Rate limit config
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 || c.RateLimit.MaxInFlight < 0 || c.RateLimit.MaxWait < 0 {
		return errors.New("rate_limit values must not be negative")
	}

	// Indexing config
	if c.Indexing.BuildTimeout < 0 {
		return errors.New("indexing.build_timeout must not be negative")
	}
	if c.Indexing.RetainGenerations < 0 {
		return errors.New("indexing.retain_generations must not be negative")
	}

	// Classification config
	if c.Classification.TopK <= 0 || c.Classification.TopK > models.MaxResultCategories {
		return fmt.Errorf("classification.top_k must be between 1 and %d", models.MaxResultCategories)
	}
	return nil
}
