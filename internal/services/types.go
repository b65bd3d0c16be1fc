package services

import (
	"context"
	"time"

	"taxonomer/internal/models"
)

// EmbeddingProvider is one embedding backend (OpenAI, Gemini, ...).
type EmbeddingProvider interface {
	Name() string
	ModelName() string
	Dimension() int
	// GenerateEmbeddings returns one vector per input text, in order.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// MediaDescriber produces a text caption for an image or video.
type MediaDescriber interface {
	Name() string
	DescribeMedia(ctx context.Context, data []byte, mimeType, prompt string) (string, error)
}

// MediaFetcher loads the bytes behind a media URI.
type MediaFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// CategorySource reads the raw category cells of a spreadsheet column.
type CategorySource interface {
	ReadColumn(ctx context.Context, src models.SpreadsheetSource) ([]string, error)
}

// EmbeddingClient is what the pipeline and the classifier depend on.
type EmbeddingClient interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedMedia(ctx context.Context, uri string) ([]float32, string, error)
	Dimension() int
	ModelName() string
}

type RetryStrategy interface {
	NextBackoff(attempt int) time.Duration // negative: stop retrying
}

// SimpleRetryStrategy provides exponential backoff with a cap.
type SimpleRetryStrategy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NextBackoff returns the wait before retry number attempt+1, or -1 once MaxAttempts
// attempts have been made.
func (s *SimpleRetryStrategy) NextBackoff(attempt int) time.Duration {
	if s.MaxAttempts <= 0 || attempt >= s.MaxAttempts-1 {
		return -1
	}
	maxDelay := s.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if attempt > 30 {
		return maxDelay
	}
	backoff := s.BaseDelay * (1 << attempt)
	if backoff > maxDelay || backoff < 0 {
		backoff = maxDelay
	}
	return backoff
}
