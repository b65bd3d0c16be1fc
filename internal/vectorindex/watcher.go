package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Loader is the slice of the category store the index needs.
type Loader interface {
	CurrentGeneration(ctx context.Context) (*models.Generation, error)
	ListCategories(ctx context.Context, genID uuid.UUID) ([]models.Category, error)
}

// Load builds a snapshot of the store's current generation.
// It returns models.ErrIndexNotReady when nothing has been promoted yet.
func Load(ctx context.Context, loader Loader) (*Snapshot, error) {
	gen, err := loader.CurrentGeneration(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.ErrIndexNotReady
		}
		return nil, fmt.Errorf("load current generation: %w", err)
	}
	categories, err := loader.ListCategories(ctx, gen.ID)
	if err != nil {
		return nil, fmt.Errorf("load categories of generation %s: %w", gen.ID, err)
	}
	return NewSnapshot(gen, categories)
}

// Watcher keeps an Index in step with the current generation in the store, so processes
// that do not run builds themselves still serve the latest promoted generation.
type Watcher struct {
	index    *Index
	loader   Loader
	interval time.Duration
}

func NewWatcher(index *Index, loader Loader, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{index: index, loader: loader, interval: interval}
}

// Refresh loads the current generation if it differs from the published one.
func (w *Watcher) Refresh(ctx context.Context) error {
	gen, err := w.loader.CurrentGeneration(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("check current generation: %w", err)
	}
	if cur := w.index.Snapshot(); cur != nil && cur.GenerationID() == gen.ID && gen.PromotedAt != nil && cur.Version().Equal(*gen.PromotedAt) {
		return nil
	}

	categories, err := w.loader.ListCategories(ctx, gen.ID)
	if err != nil {
		return fmt.Errorf("load categories of generation %s: %w", gen.ID, err)
	}
	snap, err := NewSnapshot(gen, categories)
	if err != nil {
		return err
	}
	if w.index.Publish(snap) {
		log.Infof("Loaded generation %s into the index (%d categories)", gen.ID, snap.Len())
	}
	return nil
}

// Run refreshes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("Index refresh failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
