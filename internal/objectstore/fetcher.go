// Package objectstore fetches media objects referenced by gs:// URIs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"taxonomer/internal/models"

	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// DefaultMaxBytes bounds how much of one object is read into memory.
const DefaultMaxBytes = 20 << 20

var ErrObjectTooLarge = errors.New("objectstore: object exceeds size limit")

type Fetcher struct {
	svc      *storage.Service
	maxBytes int64
}

func NewFetcher(ctx context.Context, maxBytes int64, opts ...option.ClientOption) (*Fetcher, error) {
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage service: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{svc: svc, maxBytes: maxBytes}, nil
}

// ParseURI splits gs://bucket/path/to/object.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: media URI %q must start with gs://", models.ErrInvalidInput, uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: media URI %q has no object path", models.ErrInvalidInput, uri)
	}
	return bucket, object, nil
}

// Fetch downloads the object's bytes.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	resp, err := f.svc.Objects.Get(bucket, object).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", uri, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrObjectTooLarge, uri, f.maxBytes)
	}
	return data, nil
}
