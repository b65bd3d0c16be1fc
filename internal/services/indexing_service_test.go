package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/ratelimit"
	"taxonomer/internal/store"
	"taxonomer/internal/store/local"
	"taxonomer/internal/vectorindex"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type indexingFixture struct {
	store    *local.StoreImpl
	tasks    *TaskService
	provider *fakeProvider
	source   *fakeSource
	jobs     *mockJobClient
	index    *vectorindex.Index
	svc      *IndexingService
}

func newIndexingFixture(t *testing.T, cfg IndexingConfig) *indexingFixture {
	t.Helper()
	f := &indexingFixture{
		store:    newTestStore(t),
		provider: newFakeProvider("primary", taxonomyVectors),
		source:   &fakeSource{cells: []string{"Electronics", "Food", "Clothing"}},
		jobs:     &mockJobClient{},
		index:    vectorindex.New(),
	}
	f.tasks = NewTaskService(f.store)
	f.svc = NewIndexingService(IndexingDeps{
		Tasks:    f.tasks,
		Store:    f.store,
		Jobs:     f.jobs,
		Source:   f.source,
		Embedder: newTestEmbedder(t, f.provider),
		Index:    f.index,
	}, cfg)
	return f
}

func (f *indexingFixture) submit(t *testing.T) *models.Task {
	t.Helper()
	f.jobs.On("EnqueueIndexBuild", mock.Anything, mock.AnythingOfType("uuid.UUID")).Return(nil).Once()
	task, err := f.svc.Submit(context.Background(), testSource)
	require.NoError(t, err)
	return task
}

func TestIndexingService_SubmitValidates(t *testing.T) {
	f := newIndexingFixture(t, IndexingConfig{})
	for _, src := range []models.SpreadsheetSource{
		{WorksheetName: "Taxonomy", ColumnIndex: 1},
		{SpreadsheetID: "sheet-1", ColumnIndex: 1},
		{SpreadsheetID: "sheet-1", WorksheetName: "Taxonomy", ColumnIndex: 0},
	} {
		_, err := f.svc.Submit(context.Background(), src)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	}
	f.jobs.AssertNotCalled(t, "EnqueueIndexBuild", mock.Anything, mock.Anything)
}

func TestIndexingService_SubmitEnqueueFailureMarksTaskFailed(t *testing.T) {
	f := newIndexingFixture(t, IndexingConfig{})
	f.jobs.On("EnqueueIndexBuild", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	_, err := f.svc.Submit(context.Background(), testSource)
	require.Error(t, err)

	tasks, err := f.tasks.ListTasks(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusFailed, tasks[0].Status)
	require.NotNil(t, tasks[0].Message)
	assert.Contains(t, *tasks[0].Message, "redis down")
}

func TestIndexingService_RunBuildsAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{BatchSize: 2, Concurrency: 2, RetainGenerations: 2})
	f.source.cells = []string{" Electronics", "Food", "", "Food", "Clothing "}
	task := f.submit(t)

	require.NoError(t, f.svc.Run(ctx, task.ID))

	got, err := f.tasks.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, got.Status)
	assert.Nil(t, got.Message)

	gen, err := f.store.CurrentGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, gen.ID)
	assert.Equal(t, 3, gen.Size)

	cats, err := f.store.ListCategories(ctx, gen.ID)
	require.NoError(t, err)
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"Electronics", "Food", "Clothing"}, names)

	snap := f.index.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, gen.ID, snap.GenerationID())
	res, err := f.index.Query([]float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Electronics", res[0].Name)
	assert.Equal(t, 3, f.provider.embeddedTexts())
}

func TestIndexingService_RepeatedBuildsYieldIdenticalContent(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{RetainGenerations: 5})

	first := f.submit(t)
	require.NoError(t, f.svc.Run(ctx, first.ID))
	second := f.submit(t)
	require.NoError(t, f.svc.Run(ctx, second.ID))

	a, err := f.store.ListCategories(ctx, first.ID)
	require.NoError(t, err)
	b, err := f.store.ListCategories(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Name, b[i].Name)
		assert.Equal(t, a[i].Embedding, b[i].Embedding)
	}

	prev, err := f.store.GetGeneration(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationRetired, prev.State)
	assert.Equal(t, second.ID, f.index.Snapshot().GenerationID())
}

func TestIndexingService_FailureKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{BatchSize: 1, Concurrency: 1})

	first := f.submit(t)
	require.NoError(t, f.svc.Run(ctx, first.ID))

	f.source.cells = []string{"Electronics", "Food", "Clothing", "Toys"}
	f.provider.failOn["Toys"] = models.ErrInvalidInput
	second := f.submit(t)

	err := f.svc.Run(ctx, second.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBuildFailed)

	task, err := f.tasks.GetStatus(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	require.NotNil(t, task.Message)
	assert.NotEmpty(t, *task.Message)

	cur, err := f.store.CurrentGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, cur.ID)
	_, err = f.store.GetGeneration(ctx, second.ID)
	assert.Error(t, err, "failed building generation is discarded")
	assert.Equal(t, first.ID, f.index.Snapshot().GenerationID())
}

func TestIndexingService_EmptyColumnFails(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{})
	f.source.cells = []string{"", "   "}
	task := f.submit(t)

	err := f.svc.Run(ctx, task.ID)
	assert.ErrorIs(t, err, models.ErrBuildFailed)
	got, err := f.tasks.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Nil(t, f.index.Snapshot())
}

func TestIndexingService_Timeout(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{BuildTimeout: 20 * time.Millisecond})
	f.svc.embedder = slowEmbedder{EmbeddingClient: f.svc.embedder, delay: time.Second}
	task := f.submit(t)

	err := f.svc.Run(ctx, task.ID)
	assert.ErrorIs(t, err, models.ErrBuildFailed)

	got, err := f.tasks.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Message)
	assert.Contains(t, *got.Message, "timed out after 20ms")
}

func TestIndexingService_ResumesRunningTask(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{BatchSize: 1})
	task := f.submit(t)

	// Simulate an attempt that died after embedding the first category.
	_, err := f.tasks.MarkRunning(ctx, task.ID)
	require.NoError(t, err)
	_, err = f.store.CreateGeneration(ctx, &models.Generation{
		ID: task.ID, TaskID: task.ID, Model: "primary-model", Dimension: 3, Size: 3,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.AddCategories(ctx, task.ID, []models.Category{
		{Position: 0, Name: "Electronics", Embedding: []float32{1, 0, 0}},
	}))

	require.NoError(t, f.svc.Run(ctx, task.ID))
	assert.Equal(t, 2, f.provider.embeddedTexts(), "only the missing categories are embedded")

	got, err := f.tasks.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, got.Status)
}

func TestIndexingService_ResumedBuildKeepsOriginalDeadline(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{BuildTimeout: 20 * time.Millisecond})
	task := f.submit(t)

	// An earlier delivery started the build and then disappeared.
	_, err := f.tasks.MarkRunning(ctx, task.ID)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)

	err = f.svc.Run(ctx, task.ID)
	assert.ErrorIs(t, err, models.ErrBuildFailed)

	got, err := f.tasks.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Message)
	assert.Contains(t, *got.Message, "timed out after 20ms")
	assert.Nil(t, f.index.Snapshot())
}

func TestIndexingService_ThrottledBatchesAreRetried(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{
		ThrottleRetry: &SimpleRetryStrategy{MaxAttempts: 5, BaseDelay: time.Millisecond},
	})
	throttled := &throttledEmbedder{EmbeddingClient: f.svc.embedder}
	throttled.refusals.Store(2)
	f.svc.embedder = throttled
	task := f.submit(t)

	require.NoError(t, f.svc.Run(ctx, task.ID))
	got, err := f.tasks.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, got.Status)
	assert.Equal(t, 3, f.provider.embeddedTexts())
}

func TestIndexingService_ThrottlingGivesUp(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{
		ThrottleRetry: &SimpleRetryStrategy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})
	throttled := &throttledEmbedder{EmbeddingClient: f.svc.embedder}
	throttled.refusals.Store(100)
	f.svc.embedder = throttled
	task := f.submit(t)

	err := f.svc.Run(ctx, task.ID)
	assert.ErrorIs(t, err, models.ErrBuildFailed)
	got, err := f.tasks.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Message)
	assert.Contains(t, *got.Message, "rate limit exceeded")
}

func TestIndexingService_Abandon(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{})
	task := f.submit(t)
	_, err := f.tasks.MarkRunning(ctx, task.ID)
	require.NoError(t, err)
	_, err = f.store.CreateGeneration(ctx, &models.Generation{
		ID: task.ID, TaskID: task.ID, Model: "primary-model", Dimension: 3, Size: 3,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Abandon(ctx, task.ID, errors.New("database unavailable")))

	got, err := f.tasks.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Message)
	assert.Contains(t, *got.Message, "database unavailable")
	_, err = f.store.GetGeneration(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIndexingService_AbandonLeavesFinishedTask(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{})
	task := f.submit(t)
	require.NoError(t, f.svc.Run(ctx, task.ID))

	require.NoError(t, f.svc.Abandon(ctx, task.ID, errors.New("late redelivery")))
	got, err := f.tasks.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, got.Status)
	assert.NotNil(t, f.index.Snapshot())
}

func TestIndexingService_RollbackRestoresRetiredGeneration(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{RetainGenerations: 5})
	first := f.submit(t)
	require.NoError(t, f.svc.Run(ctx, first.ID))
	second := f.submit(t)
	require.NoError(t, f.svc.Run(ctx, second.ID))

	gen, err := f.svc.Rollback(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationCurrent, gen.State)
	assert.Equal(t, first.ID, f.index.Snapshot().GenerationID())

	prev, err := f.store.GetGeneration(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationRetired, prev.State)

	_, err = f.svc.Rollback(ctx, first.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "already current")
}

func TestIndexingService_RollbackRejectsBuildingGeneration(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{})
	task := f.submit(t)
	_, err := f.store.CreateGeneration(ctx, &models.Generation{
		ID: task.ID, TaskID: task.ID, Model: "primary-model", Dimension: 3, Size: 1,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.AddCategories(ctx, task.ID, []models.Category{
		{Position: 0, Name: "Electronics", Embedding: []float32{1, 0, 0}},
	}))

	_, err = f.svc.Rollback(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Nil(t, f.index.Snapshot())

	_, err = f.svc.Rollback(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIndexingService_SkipsTerminalTask(t *testing.T) {
	ctx := context.Background()
	f := newIndexingFixture(t, IndexingConfig{})
	task := f.submit(t)
	require.NoError(t, f.svc.Run(ctx, task.ID))

	require.NoError(t, f.svc.Run(ctx, task.ID))
	assert.Equal(t, 3, f.provider.embeddedTexts())

	err := f.svc.Run(ctx, uuid.New())
	assert.Error(t, err)
}

type slowEmbedder struct {
	EmbeddingClient
	delay time.Duration
}

func (s slowEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-time.After(s.delay):
		return s.EmbeddingClient.EmbedTexts(ctx, texts)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// throttledEmbedder refuses admission a set number of times before delegating.
type throttledEmbedder struct {
	EmbeddingClient
	refusals atomic.Int32
}

func (e *throttledEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.refusals.Add(-1) >= 0 {
		return nil, ratelimit.ErrRateLimitExceeded
	}
	return e.EmbeddingClient.EmbedTexts(ctx, texts)
}
