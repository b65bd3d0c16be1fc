package vectorindex

import (
	"sync/atomic"

	"taxonomer/internal/models"
)

// Index publishes the snapshot of the current generation. Readers load the pointer once
// and keep using that snapshot; a rebuild never blocks them.
type Index struct {
	current atomic.Pointer[Snapshot]
}

func New() *Index {
	return &Index{}
}

// Snapshot returns the published snapshot, or nil before the first publish.
func (i *Index) Snapshot() *Snapshot {
	return i.current.Load()
}

// Publish swaps in s unless a snapshot promoted later is already published.
// It reports whether s became current.
func (i *Index) Publish(s *Snapshot) bool {
	if s == nil {
		return false
	}
	for {
		old := i.current.Load()
		if old != nil && s.version.Before(old.version) {
			return false
		}
		if i.current.CompareAndSwap(old, s) {
			return true
		}
	}
}

// Query runs k-nearest search against the current snapshot.
func (i *Index) Query(v []float32, k int) ([]models.CategoryScore, error) {
	s := i.Snapshot()
	if s == nil {
		return nil, models.ErrIndexNotReady
	}
	return s.Query(v, k)
}
