package models

import (
	"errors"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrEmbeddingProvider    = errors.New("embedding provider error")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrIndexNotReady        = errors.New("index not ready")

	// ErrBuildFailed marks a build failure that has already been recorded on its task.
	ErrBuildFailed = errors.New("index build failed")
)
