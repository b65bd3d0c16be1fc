// Package vectorindex holds the in-memory nearest-neighbour index over the current category generation.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"taxonomer/internal/models"

	"github.com/google/uuid"
)

var (
	ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")
	ErrZeroVector        = errors.New("vectorindex: query vector has zero magnitude")
)

// Snapshot is an immutable, fully built index over one generation.
// Vectors are stored L2-normalized so a query is a dot product per category.
type Snapshot struct {
	generationID uuid.UUID
	version      time.Time
	dim          int
	names        []string
	vectors      [][]float32
}

// NewSnapshot validates the categories and normalizes their embeddings.
func NewSnapshot(gen *models.Generation, categories []models.Category) (*Snapshot, error) {
	if gen == nil {
		return nil, errors.New("vectorindex: generation is required")
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("vectorindex: generation %s has no categories", gen.ID)
	}
	dim := len(categories[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("vectorindex: category %q has an empty embedding", categories[0].Name)
	}

	s := &Snapshot{
		generationID: gen.ID,
		dim:          dim,
		names:        make([]string, len(categories)),
		vectors:      make([][]float32, len(categories)),
	}
	if gen.PromotedAt != nil {
		s.version = *gen.PromotedAt
	}
	seen := make(map[string]struct{}, len(categories))
	for i, c := range categories {
		if len(c.Embedding) != dim {
			return nil, fmt.Errorf("%w: category %q has %d values, expected %d", ErrDimensionMismatch, c.Name, len(c.Embedding), dim)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("vectorindex: duplicate category %q in generation %s", c.Name, gen.ID)
		}
		seen[c.Name] = struct{}{}
		s.names[i] = c.Name
		s.vectors[i], _ = normalize(c.Embedding)
	}
	return s, nil
}

// WithVersion returns a copy stamped with the promotion time; the vectors are shared.
func (s *Snapshot) WithVersion(promotedAt time.Time) *Snapshot {
	cp := *s
	cp.version = promotedAt
	return &cp
}

func (s *Snapshot) GenerationID() uuid.UUID { return s.generationID }
func (s *Snapshot) Version() time.Time      { return s.version }
func (s *Snapshot) Dimension() int          { return s.dim }
func (s *Snapshot) Len() int                { return len(s.names) }

// Query ranks every category by cosine similarity to v and returns the best k,
// ordered by score descending and then by name ascending.
func (s *Snapshot) Query(v []float32, k int) ([]models.CategoryScore, error) {
	if k <= 0 {
		return nil, fmt.Errorf("vectorindex: k must be positive, got %d", k)
	}
	if len(v) != s.dim {
		return nil, fmt.Errorf("%w: query has %d values, index has %d", ErrDimensionMismatch, len(v), s.dim)
	}
	q, ok := normalize(v)
	if !ok {
		return nil, ErrZeroVector
	}

	scores := make([]models.CategoryScore, len(s.names))
	for i, vec := range s.vectors {
		scores[i] = models.CategoryScore{Name: s.names[i], Similarity: dot(q, vec)}
	}
	slices.SortFunc(scores, func(a, b models.CategoryScore) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	if k < len(scores) {
		scores = scores[:k]
	}
	return scores, nil
}

// normalize returns a unit-length copy of v. For a zero vector it returns zeros and false;
// zero category vectors then score 0 against everything.
func normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out, false
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
