package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/ratelimit"

	log "github.com/sirupsen/logrus"
)

// FallbackEmbeddingService is the EmbeddingClient used by the pipeline and the classifier.
// Every provider call goes through the shared limiter; failures are retried with the
// RetryStrategy and, once it gives up, the next provider becomes active.
type FallbackEmbeddingService struct {
	Providers      []EmbeddingProvider
	ActiveProvider int
	RetryStrategy  RetryStrategy
	Limiter        *ratelimit.Limiter
	Describer      MediaDescriber
	Fetcher        MediaFetcher
	mu             sync.RWMutex
}

type EmbeddingServiceDeps struct {
	Providers     []EmbeddingProvider
	RetryStrategy RetryStrategy
	Limiter       *ratelimit.Limiter
	Describer     MediaDescriber // optional; media inputs fail without it
	Fetcher       MediaFetcher   // optional; media inputs fail without it
}

// NewFallbackEmbeddingService creates a new fallback service.
func NewFallbackEmbeddingService(deps EmbeddingServiceDeps) (*FallbackEmbeddingService, error) {
	if len(deps.Providers) == 0 {
		return nil, fmt.Errorf("at least one embedding provider is required")
	}
	strategy := deps.RetryStrategy
	if strategy == nil {
		strategy = &SimpleRetryStrategy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}
	}
	// Ensure all providers have the same dimension
	dim := deps.Providers[0].Dimension()
	for _, p := range deps.Providers[1:] {
		if p.Dimension() != dim {
			return nil, fmt.Errorf("all embedding providers must have the same dimension (provider %s has %d, expected %d)",
				p.Name(), p.Dimension(), dim)
		}
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}

	return &FallbackEmbeddingService{
		Providers:     deps.Providers,
		RetryStrategy: strategy,
		Limiter:       limiter,
		Describer:     deps.Describer,
		Fetcher:       deps.Fetcher,
	}, nil
}

func (s *FallbackEmbeddingService) active() (EmbeddingProvider, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Providers[s.ActiveProvider], s.ActiveProvider
}

// Dimension returns the dimension shared by all providers.
func (s *FallbackEmbeddingService) Dimension() int {
	p, _ := s.active()
	return p.Dimension()
}

// ModelName returns the model name of the currently active provider.
func (s *FallbackEmbeddingService) ModelName() string {
	p, _ := s.active()
	return p.ModelName()
}

func (s *FallbackEmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds a batch as one provider request per attempt.
func (s *FallbackEmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", models.ErrInvalidInput, i)
		}
	}

	var vecs [][]float32
	err := s.withFallback(ctx, func(ctx context.Context, p EmbeddingProvider) error {
		out, err := p.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return err
		}
		if len(out) != len(texts) {
			return fmt.Errorf("provider %s returned %d vectors for %d texts", p.Name(), len(out), len(texts))
		}
		for i, v := range out {
			if len(v) != p.Dimension() {
				return fmt.Errorf("provider %s returned dimension %d at index %d, expected %d", p.Name(), len(v), i, p.Dimension())
			}
		}
		vecs = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// EmbedMedia captions the media with the describer and embeds the caption.
func (s *FallbackEmbeddingService) EmbedMedia(ctx context.Context, uri string) ([]float32, string, error) {
	kind, mimeType, err := DetectMedia(uri)
	if err != nil {
		return nil, "", err
	}
	if s.Describer == nil || s.Fetcher == nil {
		return nil, "", fmt.Errorf("%w: media classification is not configured", models.ErrEmbeddingProvider)
	}

	data, err := s.Fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media %s: %w", uri, err)
	}

	var description string
	err = s.retry(ctx, s.Describer.Name(), func(ctx context.Context) error {
		d, err := s.Describer.DescribeMedia(ctx, data, mimeType, describePrompt(kind))
		if err != nil {
			return err
		}
		description = strings.TrimSpace(d)
		if description == "" {
			return fmt.Errorf("describer %s returned an empty description", s.Describer.Name())
		}
		return nil
	})
	if err != nil {
		return nil, "", escalate(err)
	}

	vec, err := s.EmbedText(ctx, description)
	if err != nil {
		return nil, description, err
	}
	return vec, description, nil
}

// withFallback runs call against the active provider with retries, switching providers
// when the strategy gives up, until one succeeds or all have been tried.
func (s *FallbackEmbeddingService) withFallback(ctx context.Context, call func(context.Context, EmbeddingProvider) error) error {
	provider, start := s.active()
	numProviders := len(s.Providers)
	idx := start

	for {
		err := s.retry(ctx, provider.Name(), func(ctx context.Context) error {
			return call(ctx, provider)
		})
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return escalate(err)
		}

		next := (idx + 1) % numProviders
		if next == start {
			log.Errorf("Cycled through all embedding providers: %v", err)
			return escalate(err)
		}
		s.mu.Lock()
		s.ActiveProvider = next
		s.mu.Unlock()
		log.Warnf("Switching active embedding provider to %s after: %v", s.Providers[next].Name(), err)
		idx = next
		provider = s.Providers[next]
	}
}

// retry calls fn through the limiter until it succeeds, fails permanently, or the
// strategy stops.
func (s *FallbackEmbeddingService) retry(ctx context.Context, name string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := s.Limiter.Do(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
		if !retryable(err) {
			return err
		}

		backoff := s.RetryStrategy.NextBackoff(attempt)
		if backoff < 0 {
			return fmt.Errorf("%s failed after %d attempts: %w", name, attempt+1, err)
		}
		log.Warnf("%s failed (attempt %d), retrying in %s: %v", name, attempt+1, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrUnsupportedMediaType):
		return false
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		// Local congestion: the caller decides when to retry, and providers stay as they are.
		return false
	}
	return true
}

// escalate marks an exhausted upstream failure as a provider error. Rate-limit and
// caller errors keep their own identity.
func escalate(err error) error {
	if !retryable(err) || errors.Is(err, models.ErrEmbeddingProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrEmbeddingProvider, err)
}

var _ EmbeddingClient = (*FallbackEmbeddingService)(nil)
