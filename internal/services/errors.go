package services

import (
	"errors"

	"taxonomer/internal/models"
	"taxonomer/internal/ratelimit"
	"taxonomer/internal/store"
)

// API error codes.
const (
	CodeInvalidInput         = "invalid_input"
	CodeRateLimitExceeded    = "rate_limit_exceeded"
	CodeEmbeddingProvider    = "embedding_provider_error"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodeIndexNotReady        = "index_not_ready"
	CodeNotFound             = "not_found"
	CodeConflict             = "conflict"
	CodeInternal             = "classification_error"
)

// ErrorCode maps an error to its stable API code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrUnsupportedMediaType):
		return CodeUnsupportedMediaType
	case errors.Is(err, models.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return CodeRateLimitExceeded
	case errors.Is(err, models.ErrEmbeddingProvider):
		return CodeEmbeddingProvider
	case errors.Is(err, models.ErrIndexNotReady):
		return CodeIndexNotReady
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrInvalidTransition):
		return CodeConflict
	default:
		return CodeInternal
	}
}
