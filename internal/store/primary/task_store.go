package primary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Task Store Implementation ---

// CreateTask inserts a task row. Zero timestamps are filled with the current time.
func (s *StoreImpl) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	params, err := json.Marshal(task.Source)
	if err != nil {
		return fmt.Errorf("encode params for task %s: %w", task.ID, err)
	}

	query := `INSERT INTO task_status (` + taskColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.Exec(ctx, query, task.ID, task.Status, task.Message, params, task.CreatedAt, task.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *StoreImpl) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM task_status WHERE task_id = $1`
	task, err := scanTask(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// TransitionTask applies a status change as one conditional UPDATE.
func (s *StoreImpl) TransitionTask(ctx context.Context, id uuid.UUID, from []models.TaskStatus, to models.TaskStatus, message *string) (*models.Task, error) {
	sources := make([]string, len(from))
	for i, st := range from {
		sources[i] = string(st)
	}
	query := `
		UPDATE task_status
		SET status = $3, message = $4, updated_at = GREATEST(updated_at, $5)
		WHERE task_id = $1 AND status = ANY($2)
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRow(ctx, query, id, sources, to, message, time.Now().UTC()))
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition task %s to %s: %w", id, to, err)
	}

	// No row matched: either the task does not exist or its status does not allow the change.
	current, getErr := s.GetTask(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("task %s is %s, cannot move to %s: %w", id, current.Status, to, store.ErrInvalidTransition)
}

// ListTasks returns tasks newest first.
func (s *StoreImpl) ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM task_status ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return tasks, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return tasks, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

var _ store.TaskStore = (*StoreImpl)(nil)
