package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/ratelimit"
	"taxonomer/internal/store"
	"taxonomer/internal/util"
	"taxonomer/internal/vectorindex"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type IndexingConfig struct {
	BatchSize         int
	Concurrency       int
	BuildTimeout      time.Duration // measured from the task's RUNNING transition, across redeliveries
	RetainGenerations int
	// ThrottleRetry paces batches that were refused by the shared rate limiter.
	ThrottleRetry RetryStrategy
}

// IndexingService submits index builds and runs them.
type IndexingService struct {
	tasks    *TaskService
	store    store.CategoryStore
	jobs     store.JobClient
	source   CategorySource
	embedder EmbeddingClient
	index    *vectorindex.Index
	cfg      IndexingConfig
}

type IndexingDeps struct {
	Tasks    *TaskService
	Store    store.CategoryStore
	Jobs     store.JobClient
	Source   CategorySource
	Embedder EmbeddingClient
	Index    *vectorindex.Index
}

func NewIndexingService(deps IndexingDeps, cfg IndexingConfig) *IndexingService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ThrottleRetry == nil {
		cfg.ThrottleRetry = &SimpleRetryStrategy{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	}
	return &IndexingService{
		tasks:    deps.Tasks,
		store:    deps.Store,
		jobs:     deps.Jobs,
		source:   deps.Source,
		embedder: deps.Embedder,
		index:    deps.Index,
		cfg:      cfg,
	}
}

// ValidateSource checks the request parameters of a build.
func ValidateSource(src models.SpreadsheetSource) error {
	switch {
	case strings.TrimSpace(src.SpreadsheetID) == "":
		return fmt.Errorf("%w: spreadsheet_id is required", models.ErrInvalidInput)
	case strings.TrimSpace(src.WorksheetName) == "":
		return fmt.Errorf("%w: worksheet_name is required", models.ErrInvalidInput)
	case src.ColumnIndex < 1:
		return fmt.Errorf("%w: worksheet_col_index must be >= 1, got %d", models.ErrInvalidInput, src.ColumnIndex)
	}
	return nil
}

// Submit creates a PENDING task and enqueues its build. The build itself runs in a worker.
func (s *IndexingService) Submit(ctx context.Context, src models.SpreadsheetSource) (*models.Task, error) {
	if err := ValidateSource(src); err != nil {
		return nil, err
	}
	task, err := s.tasks.CreateTask(ctx, src)
	if err != nil {
		return nil, err
	}
	if s.jobs == nil {
		err = errors.New("no job queue configured")
	} else {
		err = s.jobs.EnqueueIndexBuild(ctx, task.ID)
	}
	if err != nil {
		msg := fmt.Sprintf("failed to enqueue index build: %v", err)
		if _, markErr := s.tasks.MarkFailed(context.WithoutCancel(ctx), task.ID, msg); markErr != nil {
			log.Errorf("Failed to mark task %s as failed: %v", task.ID, markErr)
		}
		return nil, fmt.Errorf("enqueue index build for task %s: %w", task.ID, err)
	}
	log.WithField("task_id", task.ID).Info("Index build enqueued")
	return task, nil
}

// Run executes the build for taskID. A RUNNING task is a redelivered job and is resumed;
// terminal tasks are left alone. Failures are recorded on the task and returned wrapping
// models.ErrBuildFailed.
func (s *IndexingService) Run(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.tasks.GetStatus(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	logger := log.WithField("task_id", taskID)

	switch task.Status {
	case models.TaskStatusPending:
		if task, err = s.tasks.MarkRunning(ctx, taskID); err != nil {
			return err
		}
	case models.TaskStatusRunning:
		logger.Info("Resuming index build")
	default:
		logger.Infof("Task is already %s, skipping", task.Status)
		return nil
	}

	// UpdatedAt of a RUNNING task is the time it started running, so a redelivered job
	// gets only what is left of the original budget.
	buildCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.BuildTimeout > 0 {
		buildCtx, cancel = context.WithDeadline(ctx, task.UpdatedAt.Add(s.cfg.BuildTimeout))
	}
	defer cancel()

	start := time.Now()
	gen, err := s.build(buildCtx, task)
	if err != nil {
		if ctx.Err() != nil {
			// Worker shutdown: leave the task RUNNING so the redelivered job resumes it.
			logger.Warnf("Index build interrupted: %v", err)
			return ctx.Err()
		}
		return s.fail(ctx, task, buildCtx, err)
	}

	if _, err := s.tasks.MarkSuccess(ctx, taskID); err != nil {
		return err
	}
	logger.Infof("Index build finished: generation %s with %d categories in %s", gen.ID, gen.Size, time.Since(start).Round(time.Millisecond))
	return nil
}

// Abandon marks a task FAILED when its job will not be delivered again, discarding any
// partial generation. Tasks that already reached a terminal status are left alone.
func (s *IndexingService) Abandon(ctx context.Context, taskID uuid.UUID, cause error) error {
	task, err := s.tasks.GetStatus(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status.IsTerminal() {
		return nil
	}
	if err := s.store.DiscardGeneration(ctx, taskID); err != nil {
		log.Errorf("Failed to discard generation %s: %v", taskID, err)
	}
	msg := fmt.Sprintf("index build abandoned after final attempt: %v", cause)
	if _, err := s.tasks.MarkFailed(ctx, taskID, msg); err != nil {
		return err
	}
	log.WithField("task_id", taskID).Errorf("Index build abandoned: %v", cause)
	return nil
}

func (s *IndexingService) fail(ctx context.Context, task *models.Task, buildCtx context.Context, cause error) error {
	msg := cause.Error()
	if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
		msg = fmt.Sprintf("index build timed out after %s", s.cfg.BuildTimeout)
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := s.store.DiscardGeneration(cleanupCtx, task.ID); err != nil {
		log.Errorf("Failed to discard generation %s: %v", task.ID, err)
	}
	if _, err := s.tasks.MarkFailed(cleanupCtx, task.ID, msg); err != nil {
		log.Errorf("Failed to mark task %s as failed: %v", task.ID, err)
	}
	log.WithField("task_id", task.ID).Errorf("Index build failed: %s", msg)
	return fmt.Errorf("%w: %s", models.ErrBuildFailed, msg)
}

// build reads, embeds, persists, promotes and publishes one generation.
// The generation id is the task id, so a resumed build finds the rows its previous attempt wrote.
func (s *IndexingService) build(ctx context.Context, task *models.Task) (*models.Generation, error) {
	if s.source == nil {
		return nil, errors.New("no category source configured")
	}
	cells, err := s.source.ReadColumn(ctx, task.Source)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	names := util.UniqueNonEmpty(cells)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no category names found in column %d of worksheet %q",
			models.ErrInvalidInput, task.Source.ColumnIndex, task.Source.WorksheetName)
	}

	want := &models.Generation{
		ID:        task.ID,
		TaskID:    task.ID,
		Model:     s.embedder.ModelName(),
		Dimension: s.embedder.Dimension(),
		Size:      len(names),
	}
	gen, err := s.store.CreateGeneration(ctx, want)
	if err != nil {
		return nil, err
	}
	if gen.State != models.GenerationBuilding {
		// Promoted by an earlier attempt that died before marking the task.
		return gen, nil
	}

	existing, err := s.store.ListCategories(ctx, gen.ID)
	if err != nil {
		return nil, err
	}
	if !reusable(gen, want, existing, names) {
		log.Infof("Resetting generation %s: stored rows do not match the category list", gen.ID)
		if err := s.store.DiscardGeneration(ctx, gen.ID); err != nil {
			return nil, err
		}
		if gen, err = s.store.CreateGeneration(ctx, want); err != nil {
			return nil, err
		}
		existing = nil
	}

	if err := s.embedMissing(ctx, gen.ID, names, existing); err != nil {
		return nil, err
	}

	categories, err := s.store.ListCategories(ctx, gen.ID)
	if err != nil {
		return nil, err
	}
	if len(categories) != len(names) {
		return nil, fmt.Errorf("generation %s is incomplete: %d of %d categories stored", gen.ID, len(categories), len(names))
	}
	snap, err := vectorindex.NewSnapshot(gen, categories)
	if err != nil {
		return nil, fmt.Errorf("generation %s is not queryable: %w", gen.ID, err)
	}

	promoted, err := s.store.PromoteGeneration(ctx, gen.ID)
	if err != nil {
		return nil, fmt.Errorf("promote generation %s: %w", gen.ID, err)
	}
	if promoted.PromotedAt != nil {
		snap = snap.WithVersion(*promoted.PromotedAt)
	}
	if s.index != nil {
		s.index.Publish(snap)
	}

	if s.cfg.RetainGenerations >= 0 {
		n, err := s.store.PurgeRetiredGenerations(ctx, s.cfg.RetainGenerations)
		if err != nil {
			log.Warnf("Failed to purge retired generations: %v", err)
		} else if n > 0 {
			log.Infof("Purged %d retired generations", n)
		}
	}
	return promoted, nil
}

// Rollback makes a retired generation current again and publishes it. Only retired
// generations qualify: a building one may still belong to a running task.
func (s *IndexingService) Rollback(ctx context.Context, genID uuid.UUID) (*models.Generation, error) {
	gen, err := s.store.GetGeneration(ctx, genID)
	if err != nil {
		return nil, fmt.Errorf("load generation %s: %w", genID, err)
	}
	if gen.State != models.GenerationRetired {
		return nil, fmt.Errorf("generation %s is %s, only retired generations can be restored: %w",
			genID, gen.State, store.ErrInvalidTransition)
	}
	categories, err := s.store.ListCategories(ctx, genID)
	if err != nil {
		return nil, err
	}
	if len(categories) != gen.Size {
		return nil, fmt.Errorf("generation %s is incomplete: %d of %d categories stored", genID, len(categories), gen.Size)
	}
	snap, err := vectorindex.NewSnapshot(gen, categories)
	if err != nil {
		return nil, fmt.Errorf("generation %s is not queryable: %w", genID, err)
	}

	promoted, err := s.store.PromoteGeneration(ctx, genID)
	if err != nil {
		return nil, fmt.Errorf("promote generation %s: %w", genID, err)
	}
	if promoted.PromotedAt != nil {
		snap = snap.WithVersion(*promoted.PromotedAt)
	}
	if s.index != nil {
		s.index.Publish(snap)
	}
	log.WithField("generation_id", genID).Infof("Rolled back to generation with %d categories", promoted.Size)
	return promoted, nil
}

// reusable reports whether rows from an earlier attempt belong to the same category list.
func reusable(gen, want *models.Generation, existing []models.Category, names []string) bool {
	if gen.Size != want.Size || gen.Model != want.Model || gen.Dimension != want.Dimension {
		return false
	}
	for _, c := range existing {
		if c.Position < 0 || c.Position >= len(names) || names[c.Position] != c.Name || len(c.Embedding) != want.Dimension {
			return false
		}
	}
	return true
}

func (s *IndexingService) embedMissing(ctx context.Context, genID uuid.UUID, names []string, existing []models.Category) error {
	done := make(map[int]bool, len(existing))
	for _, c := range existing {
		done[c.Position] = true
	}
	var todo []int
	for i := range names {
		if !done[i] {
			todo = append(todo, i)
		}
	}
	if len(todo) == 0 {
		return nil
	}
	log.Infof("Embedding %d of %d categories for generation %s", len(todo), len(names), genID)

	var embedded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for start := 0; start < len(todo); start += s.cfg.BatchSize {
		batch := todo[start:min(start+s.cfg.BatchSize, len(todo))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, pos := range batch {
				texts[i] = names[pos]
			}
			vecs, err := s.embedThrottled(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed categories %q..%q: %w", texts[0], texts[len(texts)-1], err)
			}
			cats := make([]models.Category, len(batch))
			for i, pos := range batch {
				cats[i] = models.Category{GenerationID: genID, Position: pos, Name: names[pos], Embedding: vecs[i]}
			}
			if err := s.store.AddCategories(gctx, genID, cats); err != nil {
				return err
			}
			n := embedded.Add(int64(len(batch)))
			log.Debugf("Generation %s: %d/%d categories embedded", genID, n, len(todo))
			return nil
		})
	}
	return g.Wait()
}

// embedThrottled backs off and retries while the shared limiter refuses admission.
// Provider failures are already retried inside the embedding client.
func (s *IndexingService) embedThrottled(ctx context.Context, texts []string) ([][]float32, error) {
	for attempt := 0; ; attempt++ {
		vecs, err := s.embedder.EmbedTexts(ctx, texts)
		if err == nil || !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			return vecs, err
		}
		backoff := s.cfg.ThrottleRetry.NextBackoff(attempt)
		if backoff < 0 {
			return nil, err
		}
		log.Debugf("Embedding batch throttled, retrying in %s", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
