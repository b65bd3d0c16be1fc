package primary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"taxonomer/internal/models"
	"taxonomer/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreImpl implements store.Store using PostgreSQL with the pgvector extension.
type StoreImpl struct {
	db *pgxpool.Pool
}

// NewPrimaryStore creates a new PostgreSQL store.
func NewPrimaryStore(ctx context.Context, dsn string, maxConns int32) (*StoreImpl, error) {
	if dsn == "" {
		return nil, errors.New("database DSN cannot be empty")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database DSN: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &StoreImpl{db: dbpool}, nil
}

// Ping checks the database connection.
func (s *StoreImpl) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection pool.
func (s *StoreImpl) Close() error {
	s.db.Close()
	return nil
}

// --- Helper Functions ---

const taskColumns = `task_id, status, message, params, created_at, updated_at`

// scanTask scans a single task row. Column order matches taskColumns.
func scanTask(row pgx.Row) (*models.Task, error) {
	task := &models.Task{}
	var params []byte
	if err := row.Scan(&task.ID, &task.Status, &task.Message, &params, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &task.Source); err != nil {
			return nil, fmt.Errorf("decode params of task %s: %w", task.ID, err)
		}
	}
	return task, nil
}

const generationColumns = `generation_id, task_id, state, model, dimension, size, created_at, promoted_at`

func scanGeneration(row pgx.Row) (*models.Generation, error) {
	gen := &models.Generation{}
	err := row.Scan(&gen.ID, &gen.TaskID, &gen.State, &gen.Model, &gen.Dimension, &gen.Size, &gen.CreatedAt, &gen.PromotedAt)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

var _ store.Store = (*StoreImpl)(nil)
