package primary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	log "github.com/sirupsen/logrus"
)

// promoteLockKey serializes promotions across processes.
const promoteLockKey = 7_311_054

// CreateGeneration inserts a building generation; an existing row with the same id is returned unchanged.
func (s *StoreImpl) CreateGeneration(ctx context.Context, gen *models.Generation) (*models.Generation, error) {
	if gen.ID == uuid.Nil {
		gen.ID = uuid.New()
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO generations (generation_id, task_id, state, model, dimension, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (generation_id) DO NOTHING`
	if _, err := s.db.Exec(ctx, query, gen.ID, gen.TaskID, models.GenerationBuilding, gen.Model, gen.Dimension, gen.Size, gen.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create generation %s: %w", gen.ID, err)
	}
	return s.GetGeneration(ctx, gen.ID)
}

func (s *StoreImpl) GetGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE generation_id = $1`
	gen, err := scanGeneration(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get generation %s: %w", id, err)
	}
	return gen, nil
}

func (s *StoreImpl) ListGenerations(ctx context.Context, limit int) ([]*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations ORDER BY created_at DESC LIMIT $1`
	rows, err := s.db.Query(ctx, query, limit)
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

// CurrentGeneration returns store.ErrNotFound until a generation has been promoted.
func (s *StoreImpl) CurrentGeneration(ctx context.Context) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE state = 'current'`
	gen, err := scanGeneration(s.db.QueryRow(ctx, query))
	if err != nil {
		return nil, notFound(err)
	}
	return gen, nil
}

func (s *StoreImpl) AddCategories(ctx context.Context, genID uuid.UUID, categories []models.Category) error {
	if len(categories) == 0 {
		return nil
	}
	query := `
		INSERT INTO categories (generation_id, position, name, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (generation_id, position) DO NOTHING`

	batch := &pgx.Batch{}
	for _, c := range categories {
		batch.Queue(query, genID, c.Position, c.Name, pgvector.NewVector(c.Embedding))
	}
	br := s.db.SendBatch(ctx, batch)
	for i := range categories {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert category %q into generation %s: %w", categories[i].Name, genID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to insert categories into generation %s: %w", genID, err)
	}
	return nil
}

func (s *StoreImpl) ListCategories(ctx context.Context, genID uuid.UUID) ([]models.Category, error) {
	query := `SELECT position, name, embedding FROM categories WHERE generation_id = $1 ORDER BY position`
	rows, err := s.db.Query(ctx, query, genID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories of generation %s: %w", genID, err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		c := models.Category{GenerationID: genID}
		var vec pgvector.Vector
		if err := rows.Scan(&c.Position, &c.Name, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		c.Embedding = vec.Slice()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rows: %w", err)
	}
	return categories, nil
}

// PromoteGeneration retires the current generation and makes id current in one transaction.
func (s *StoreImpl) PromoteGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin promote transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, promoteLockKey); err != nil {
		return nil, fmt.Errorf("acquire promote lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE generations SET state = 'retired' WHERE state = 'current' AND generation_id <> $1`, id); err != nil {
		return nil, fmt.Errorf("retire current generation: %w", err)
	}

	query := `
		UPDATE generations SET state = 'current', promoted_at = $2
		WHERE generation_id = $1 AND state IN ('building', 'retired')
		RETURNING ` + generationColumns
	gen, err := scanGeneration(tx.QueryRow(ctx, query, id, time.Now().UTC()))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("promote generation %s: %w", id, err)
		}
		existing, getErr := s.GetGeneration(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("generation %s is %s: %w", id, existing.State, store.ErrInvalidTransition)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit promote of generation %s: %w", id, err)
	}
	log.Infof("Promoted generation %s (%d categories)", gen.ID, gen.Size)
	return gen, nil
}

func (s *StoreImpl) DiscardGeneration(ctx context.Context, id uuid.UUID) error {
	// categories rows go with the generation via ON DELETE CASCADE
	if _, err := s.db.Exec(ctx, `DELETE FROM generations WHERE generation_id = $1 AND state = 'building'`, id); err != nil {
		return fmt.Errorf("failed to discard generation %s: %w", id, err)
	}
	return nil
}

func (s *StoreImpl) PurgeRetiredGenerations(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM generations
		WHERE state = 'retired' AND generation_id NOT IN (
			SELECT generation_id FROM generations WHERE state = 'retired'
			ORDER BY promoted_at DESC NULLS LAST LIMIT $1
		)`
	tag, err := s.db.Exec(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to purge retired generations: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ store.CategoryStore = (*StoreImpl)(nil)
