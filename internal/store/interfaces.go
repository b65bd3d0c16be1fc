package store

import (
	"context"

	"taxonomer/internal/models"

	"github.com/google/uuid"
)

// --- Job Client ---

type JobClient interface {
	EnqueueIndexBuild(ctx context.Context, taskID uuid.UUID) error
	Close() error
}

// --- Task Store ---

type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	// TransitionTask moves the task to status `to` only if its current status is one of `from`.
	// Status, message and updated time change in a single statement.
	TransitionTask(ctx context.Context, id uuid.UUID, from []models.TaskStatus, to models.TaskStatus, message *string) (*models.Task, error)
	ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, error)
}

// --- Category Store ---

type CategoryStore interface {
	// CreateGeneration inserts a building generation, or returns the stored one if the id already exists.
	CreateGeneration(ctx context.Context, gen *models.Generation) (*models.Generation, error)
	GetGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	ListGenerations(ctx context.Context, limit int) ([]*models.Generation, error)
	CurrentGeneration(ctx context.Context) (*models.Generation, error)
	// AddCategories ignores rows whose (generation, position) already exist.
	AddCategories(ctx context.Context, genID uuid.UUID, categories []models.Category) error
	ListCategories(ctx context.Context, genID uuid.UUID) ([]models.Category, error)
	// PromoteGeneration makes a building or retired generation current and retires the previous one.
	PromoteGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	// DiscardGeneration deletes a building generation and its categories. Other states are left alone.
	DiscardGeneration(ctx context.Context, id uuid.UUID) error
	// PurgeRetiredGenerations deletes retired generations except the `keep` most recently promoted.
	PurgeRetiredGenerations(ctx context.Context, keep int) (int64, error)
}

// Store is the full persistence surface; both the PostgreSQL and SQLite backends implement it.
type Store interface {
	TaskStore
	CategoryStore
	Ping(ctx context.Context) error
	Close() error
}
