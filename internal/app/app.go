package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"taxonomer/internal/config"
	"taxonomer/internal/objectstore"
	"taxonomer/internal/ratelimit"
	"taxonomer/internal/services"
	"taxonomer/internal/sheets"
	"taxonomer/internal/store"
	"taxonomer/internal/store/local"
	"taxonomer/internal/store/migrations"
	"taxonomer/internal/store/primary"
	"taxonomer/internal/tasks"
	"taxonomer/internal/vectorindex"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type App struct {
	Config    *config.Config
	Store     store.Store
	JobClient store.JobClient
	Limiter   *ratelimit.Limiter
	Embedder  *services.FallbackEmbeddingService
	Index     *vectorindex.Index
	Watcher   *vectorindex.Watcher

	// Optional Google adapters; nil when no credentials are available.
	Sheets  *sheets.Reader
	Fetcher *objectstore.Fetcher

	// --- Initialized Services ---
	TaskService           *services.TaskService
	IndexingService       *services.IndexingService
	ClassificationService *services.ClassificationService

	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, Index: vectorindex.New()}

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}
	if err := app.initJobClient(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initGoogle(ctx)
	if err := app.initEmbeddingService(ctx); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initCoreServices()

	// Serve whatever is already promoted; a missing generation is not an error.
	if err := app.Watcher.Refresh(ctx); err != nil {
		log.Warnf("Could not load the current generation: %v", err)
	}

	log.Info("Application initialization complete.")
	return app, nil
}

// --- Private Helper Methods ---

func (a *App) initStore(ctx context.Context) error {
	db := a.Config.Database
	switch db.Driver {
	case migrations.DriverSQLite:
		s, err := local.Open(db.DSN)
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		a.Store = s
	case migrations.DriverPostgres:
		s, err := primary.NewPrimaryStore(ctx, db.DSN, db.MaxConns)
		if err != nil {
			return fmt.Errorf("init primary store: %w", err)
		}
		a.Store = s
	default:
		return fmt.Errorf("unsupported database driver %q", db.Driver)
	}
	return nil
}

func (a *App) initJobClient() error {
	cfg := a.Config
	// asynq cancels a handler after its own timeout; keep it above the build timeout.
	timeout := 24 * time.Hour
	if cfg.Indexing.BuildTimeout > 0 {
		timeout = cfg.Indexing.BuildTimeout + 5*time.Minute
	}
	jc, err := store.NewAsynqJobClient(a.RedisOpt(), store.JobClientOptions{
		Queue:    tasks.QueueIndexing,
		MaxRetry: cfg.Worker.MaxRetry,
		Timeout:  timeout,
	})
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	a.JobClient = jc
	return nil
}

// RedisOpt returns the asynq connection settings shared by the client and the worker.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

func (a *App) googleOptions() []option.ClientOption {
	if f := a.Config.Google.CredentialsFile; f != "" {
		return []option.ClientOption{option.WithCredentialsFile(f)}
	}
	return nil
}

func (a *App) initGoogle(ctx context.Context) {
	opts := a.googleOptions()
	reader, err := sheets.NewReader(ctx, opts...)
	if err != nil {
		log.Warnf("Spreadsheet reader unavailable, index builds will fail: %v", err)
	} else {
		a.Sheets = reader
	}
	fetcher, err := objectstore.NewFetcher(ctx, a.Config.Google.MediaMaxBytes, opts...)
	if err != nil {
		log.Warnf("Object store fetcher unavailable, media classification will fail: %v", err)
	} else {
		a.Fetcher = fetcher
	}
}

func (a *App) initEmbeddingService(ctx context.Context) error {
	cfg := a.Config
	var (
		providers []services.EmbeddingProvider
		describer services.MediaDescriber
	)

	for _, name := range cfg.Embedding.Providers {
		switch name {
		case "openai":
			p, err := services.NewOpenAIProvider(services.OpenAIOptions{
				APIKey:  cfg.Embedding.OpenaiApiKey,
				Model:   cfg.Embedding.OpenaiModel,
				BaseURL: cfg.Embedding.OpenaiBaseURL,
			})
			if err != nil {
				return fmt.Errorf("init OpenAI provider: %w", err)
			}
			providers = append(providers, p)
		case "gemini":
			p, err := services.NewGeminiProvider(ctx, services.GeminiOptions{
				APIKey:         cfg.Embedding.GoogleApiKey,
				EmbeddingModel: cfg.Embedding.GeminiModel,
				DescribeModel:  cfg.Embedding.DescribeModel,
			})
			if err != nil {
				return fmt.Errorf("init Gemini provider: %w", err)
			}
			a.closers = append(a.closers, p)
			providers = append(providers, p)
			if describer == nil {
				describer = p
			}
		default:
			return fmt.Errorf("unknown embedding provider %q", name)
		}
	}
	if describer == nil {
		log.Warn("No Gemini provider configured; media classification is disabled.")
	}

	a.Limiter = ratelimit.New(cfg.RateLimit)
	deps := services.EmbeddingServiceDeps{
		Providers: providers,
		RetryStrategy: &services.SimpleRetryStrategy{
			MaxAttempts: cfg.Embedding.Retry.MaxAttempts,
			BaseDelay:   cfg.Embedding.Retry.BaseDelay,
			MaxDelay:    cfg.Embedding.Retry.MaxDelay,
		},
		Limiter:   a.Limiter,
		Describer: describer,
	}
	if a.Fetcher != nil {
		deps.Fetcher = a.Fetcher
	}
	embedder, err := services.NewFallbackEmbeddingService(deps)
	if err != nil {
		return fmt.Errorf("init embedding service: %w", err)
	}
	a.Embedder = embedder
	return nil
}

func (a *App) initCoreServices() {
	cfg := a.Config
	a.TaskService = services.NewTaskService(a.Store)

	deps := services.IndexingDeps{
		Tasks:    a.TaskService,
		Store:    a.Store,
		Jobs:     a.JobClient,
		Embedder: a.Embedder,
		Index:    a.Index,
	}
	if a.Sheets != nil {
		deps.Source = a.Sheets
	}
	a.IndexingService = services.NewIndexingService(deps, services.IndexingConfig{
		BatchSize:         cfg.Embedding.BatchSize,
		Concurrency:       cfg.Embedding.Concurrency,
		BuildTimeout:      cfg.Indexing.BuildTimeout,
		RetainGenerations: cfg.Indexing.RetainGenerations,
	})
	a.ClassificationService = services.NewClassificationService(a.Embedder, a.Index, services.ClassificationConfig{
		TopK:        cfg.Classification.TopK,
		Concurrency: cfg.Classification.Concurrency,
	})
	a.Watcher = vectorindex.NewWatcher(a.Index, a.Store, cfg.Indexing.WatchInterval)
}

func (a *App) cleanupPartialInit() {
	if err := a.Close(); err != nil {
		log.Warnf("Error during cleanup: %v", err)
	}
}

// Close releases every connection the app opened.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	if a.JobClient != nil {
		errs = append(errs, a.JobClient.Close())
		a.JobClient = nil
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
		a.Store = nil
	}
	return errors.Join(errs...)
}
