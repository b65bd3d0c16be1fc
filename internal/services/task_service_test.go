package services

import (
	"context"
	"testing"

	"taxonomer/internal/models"
	"taxonomer/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newTestStore(t))

	task, err := svc.CreateTask(ctx, testSource)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Nil(t, task.Message)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)

	running, err := svc.MarkRunning(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, running.Status)
	assert.False(t, running.UpdatedAt.Before(task.UpdatedAt))

	failed, err := svc.MarkFailed(ctx, task.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, failed.Status)
	require.NotNil(t, failed.Message)
	assert.Equal(t, "boom", *failed.Message)

	_, err = svc.MarkSuccess(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	_, err = svc.MarkRunning(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := svc.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, testSource, got.Source)
}

func TestTaskService_PendingCannotSucceedDirectly(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newTestStore(t))

	task, err := svc.CreateTask(ctx, testSource)
	require.NoError(t, err)
	_, err = svc.MarkSuccess(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestTaskService_UnknownTask(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newTestStore(t))

	_, err := svc.GetStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.MarkRunning(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
