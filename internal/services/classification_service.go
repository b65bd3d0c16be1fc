package services

import (
	"context"
	"fmt"
	"strings"

	"taxonomer/internal/models"
	"taxonomer/internal/vectorindex"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultTopK = 10

// ClassifyInput is one item to classify; exactly one of Text and MediaURI must be set.
type ClassifyInput struct {
	Text     string
	MediaURI string
}

type ClassificationConfig struct {
	TopK        int
	Concurrency int
}

type ClassificationService struct {
	embedder EmbeddingClient
	index    *vectorindex.Index
	cfg      ClassificationConfig
}

func NewClassificationService(embedder EmbeddingClient, index *vectorindex.Index, cfg ClassificationConfig) *ClassificationService {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	cfg.TopK = min(cfg.TopK, models.MaxResultCategories)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &ClassificationService{embedder: embedder, index: index, cfg: cfg}
}

// Classify ranks every input against one snapshot of the index. Results keep input order;
// an item that fails carries its error inline and does not affect the others.
// It returns models.ErrIndexNotReady when no generation has been published.
func (s *ClassificationService) Classify(ctx context.Context, inputs []ClassifyInput, includeEmbeddings bool) ([]models.ClassificationResult, error) {
	snap := s.index.Snapshot()
	if snap == nil {
		return nil, models.ErrIndexNotReady
	}

	results := make([]models.ClassificationResult, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			results[i] = s.classifyOne(gctx, snap, in, includeEmbeddings)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *ClassificationService) classifyOne(ctx context.Context, snap *vectorindex.Snapshot, in ClassifyInput, includeEmbedding bool) models.ClassificationResult {
	res := models.ClassificationResult{Categories: []models.CategoryScore{}}
	text := strings.TrimSpace(in.Text)
	uri := strings.TrimSpace(in.MediaURI)

	var (
		vec []float32
		err error
	)
	switch {
	case text != "" && uri != "":
		res.QueryIdentifier = text
		res.Text, res.MediaURI = &in.Text, &in.MediaURI
		err = fmt.Errorf("%w: provide either text or media_uri, not both", models.ErrInvalidInput)
	case text != "":
		res.QueryIdentifier = in.Text
		res.Text = &in.Text
		vec, err = s.embedder.EmbedText(ctx, text)
	case uri != "":
		res.QueryIdentifier = in.MediaURI
		res.MediaURI = &in.MediaURI
		var description string
		vec, description, err = s.embedder.EmbedMedia(ctx, uri)
		if description != "" {
			res.MediaDescription = &description
		}
	default:
		err = fmt.Errorf("%w: item has neither text nor media_uri", models.ErrInvalidInput)
	}

	if err == nil {
		res.Categories, err = snap.Query(vec, s.cfg.TopK)
		if err == nil && includeEmbedding {
			res.Embedding = vec
		}
	}
	if err != nil {
		res.Categories = []models.CategoryScore{}
		res.Error = &models.ItemError{Code: ErrorCode(err), Message: err.Error()}
		log.WithField("query", res.QueryIdentifier).Warnf("Classification failed: %v", err)
	}
	return res
}
