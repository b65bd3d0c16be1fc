package services

import (
	"context"
	"fmt"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskService owns the task lifecycle. Every status change goes through the store's
// conditional transition using the sources allowed by models.CanTransition.
type TaskService struct {
	store store.TaskStore
	now   func() time.Time
}

func NewTaskService(s store.TaskStore) *TaskService {
	return &TaskService{store: s, now: time.Now}
}

// CreateTask records a new PENDING task for the given source.
func (s *TaskService) CreateTask(ctx context.Context, source models.SpreadsheetSource) (*models.Task, error) {
	now := s.now().UTC()
	task := &models.Task{
		ID:        uuid.New(),
		Status:    models.TaskStatusPending,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	log.WithField("task_id", task.ID).Info("Task created")
	return task, nil
}

func (s *TaskService) MarkRunning(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return s.transition(ctx, id, models.TaskStatusRunning, nil)
}

func (s *TaskService) MarkSuccess(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return s.transition(ctx, id, models.TaskStatusSuccess, nil)
}

func (s *TaskService) MarkFailed(ctx context.Context, id uuid.UUID, message string) (*models.Task, error) {
	return s.transition(ctx, id, models.TaskStatusFailed, &message)
}

func (s *TaskService) GetStatus(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *TaskService) ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTasks(ctx, limit, offset)
}

func (s *TaskService) transition(ctx context.Context, id uuid.UUID, to models.TaskStatus, message *string) (*models.Task, error) {
	task, err := s.store.TransitionTask(ctx, id, models.TransitionSources(to), to, message)
	if err != nil {
		return nil, fmt.Errorf("task %s -> %s: %w", id, to, err)
	}
	entry := log.WithFields(log.Fields{"task_id": id, "status": to})
	if message != nil {
		entry = entry.WithField("message", *message)
	}
	entry.Info("Task status updated")
	return task, nil
}
