// Package local implements store.Store on SQLite for single-node runs and tests.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/store"
	"taxonomer/internal/store/migrations"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type StoreImpl struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the SQLite database at dsn and applies migrations.
// ":memory:" databases live as long as the returned store.
func Open(dsn string) (*StoreImpl, error) {
	if dsn == "" {
		return nil, errors.New("sqlite DSN cannot be empty")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: SQLite has a single writer, and in-memory databases are per connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if err := migrations.UpSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &StoreImpl{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *StoreImpl) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *StoreImpl) Close() error {
	return s.db.Close()
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

// --- Tasks ---

const taskColumns = `task_id, status, message, params, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		id               string
		status           string
		message          sql.NullString
		params           string
		created, updated int64
	)
	if err := row.Scan(&id, &status, &message, &params, &created, &updated); err != nil {
		return nil, err
	}
	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse task id %q: %w", id, err)
	}
	task := &models.Task{
		ID:        taskID,
		Status:    models.TaskStatus(status),
		CreatedAt: fromUnix(created),
		UpdatedAt: fromUnix(updated),
	}
	if message.Valid {
		msg := message.String
		task.Message = &msg
	}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &task.Source); err != nil {
			return nil, fmt.Errorf("decode params of task %s: %w", taskID, err)
		}
	}
	return task, nil
}

func (s *StoreImpl) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	params, err := json.Marshal(task.Source)
	if err != nil {
		return fmt.Errorf("encode params for task %s: %w", task.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_status (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID.String(), string(task.Status), task.Message, string(params),
		toUnix(task.CreatedAt), toUnix(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.ID, err)
	}
	return nil
}

func (s *StoreImpl) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_status WHERE task_id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

func (s *StoreImpl) TransitionTask(ctx context.Context, id uuid.UUID, from []models.TaskStatus, to models.TaskStatus, message *string) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition of task %s: %w", id, err)
	}
	defer tx.Rollback()

	current, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_status WHERE task_id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	if !containsStatus(from, current.Status) {
		return nil, fmt.Errorf("task %s is %s, cannot move to %s: %w", id, current.Status, to, store.ErrInvalidTransition)
	}

	updated := s.now()
	if updated.Before(current.UpdatedAt) {
		updated = current.UpdatedAt
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE task_status SET status = ?, message = ?, updated_at = ? WHERE task_id = ?`,
		string(to), message, toUnix(updated), id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to transition task %s to %s: %w", id, to, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition of task %s: %w", id, err)
	}

	current.Status = to
	current.Message = message
	current.UpdatedAt = updated
	return current, nil
}

func containsStatus(list []models.TaskStatus, st models.TaskStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func (s *StoreImpl) ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM task_status ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
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
	return tasks, rows.Err()
}

// --- Generations ---

const generationColumns = `generation_id, task_id, state, model, dimension, size, created_at, promoted_at`

func scanGeneration(row rowScanner) (*models.Generation, error) {
	var (
		id, taskID, state, model string
		dimension, size          int
		created                  int64
		promoted                 sql.NullInt64
	)
	if err := row.Scan(&id, &taskID, &state, &model, &dimension, &size, &created, &promoted); err != nil {
		return nil, err
	}
	genID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse generation id %q: %w", id, err)
	}
	tid, err := uuid.Parse(taskID)
	if err != nil {
		return nil, fmt.Errorf("parse task id %q: %w", taskID, err)
	}
	gen := &models.Generation{
		ID:        genID,
		TaskID:    tid,
		State:     models.GenerationState(state),
		Model:     model,
		Dimension: dimension,
		Size:      size,
		CreatedAt: fromUnix(created),
	}
	if promoted.Valid {
		t := fromUnix(promoted.Int64)
		gen.PromotedAt = &t
	}
	return gen, nil
}

func (s *StoreImpl) CreateGeneration(ctx context.Context, gen *models.Generation) (*models.Generation, error) {
	if gen.ID == uuid.Nil {
		gen.ID = uuid.New()
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations (generation_id, task_id, state, model, dimension, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (generation_id) DO NOTHING`,
		gen.ID.String(), gen.TaskID.String(), string(models.GenerationBuilding), gen.Model, gen.Dimension, gen.Size, toUnix(gen.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation %s: %w", gen.ID, err)
	}
	return s.GetGeneration(ctx, gen.ID)
}

func (s *StoreImpl) GetGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	return s.getGeneration(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *StoreImpl) getGeneration(ctx context.Context, q queryer, id uuid.UUID) (*models.Generation, error) {
	gen, err := scanGeneration(q.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE generation_id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get generation %s: %w", id, err)
	}
	return gen, nil
}

func (s *StoreImpl) ListGenerations(ctx context.Context, limit int) ([]*models.Generation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+generationColumns+` FROM generations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var gens []*models.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return gens, fmt.Errorf("failed to scan generation row: %w", err)
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

func (s *StoreImpl) CurrentGeneration(ctx context.Context) (*models.Generation, error) {
	gen, err := scanGeneration(s.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE state = 'current'`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get current generation: %w", err)
	}
	return gen, nil
}

// --- Categories ---

func (s *StoreImpl) AddCategories(ctx context.Context, genID uuid.UUID, categories []models.Category) error {
	if len(categories) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin category insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO categories (generation_id, position, name, embedding) VALUES (?, ?, ?, ?)
		 ON CONFLICT (generation_id, position) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare category insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range categories {
		embedding, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding of %q: %w", c.Name, err)
		}
		if _, err := stmt.ExecContext(ctx, genID.String(), c.Position, c.Name, string(embedding)); err != nil {
			return fmt.Errorf("failed to insert category %q into generation %s: %w", c.Name, genID, err)
		}
	}
	return tx.Commit()
}

func (s *StoreImpl) ListCategories(ctx context.Context, genID uuid.UUID) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, name, embedding FROM categories WHERE generation_id = ? ORDER BY position`, genID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query categories of generation %s: %w", genID, err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		c := models.Category{GenerationID: genID}
		var embedding string
		if err := rows.Scan(&c.Position, &c.Name, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &c.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of %q: %w", c.Name, err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// --- Promotion ---

func (s *StoreImpl) PromoteGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin promote transaction: %w", err)
	}
	defer tx.Rollback()

	gen, err := s.getGeneration(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if gen.State == models.GenerationCurrent {
		return nil, fmt.Errorf("generation %s is %s: %w", id, gen.State, store.ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE generations SET state = 'retired' WHERE state = 'current'`); err != nil {
		return nil, fmt.Errorf("retire current generation: %w", err)
	}
	promoted := s.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE generations SET state = 'current', promoted_at = ? WHERE generation_id = ?`,
		toUnix(promoted), id.String()); err != nil {
		return nil, fmt.Errorf("promote generation %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promote of generation %s: %w", id, err)
	}

	gen.State = models.GenerationCurrent
	gen.PromotedAt = &promoted
	return gen, nil
}

func (s *StoreImpl) DiscardGeneration(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin discard of generation %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE generation_id = ? AND state = 'building'`, id.String())
	if err != nil {
		return fmt.Errorf("failed to discard generation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE generation_id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete categories of generation %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *StoreImpl) PurgeRetiredGenerations(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT generation_id FROM generations WHERE state = 'retired' ORDER BY promoted_at DESC LIMIT -1 OFFSET ?`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to select retired generations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan generation id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE generation_id IN (`+placeholders+`)`, args...); err != nil {
		return 0, fmt.Errorf("failed to purge categories: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE generation_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge generations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return res.RowsAffected()
}

var _ store.Store = (*StoreImpl)(nil)
