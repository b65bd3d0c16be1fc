package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/store/local"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream unavailable")

// fakeProvider embeds known texts with fixed vectors and everything else with a
// vector derived from the text length.
type fakeProvider struct {
	name    string
	dim     int
	vectors map[string][]float32

	mu       sync.Mutex
	calls    int
	failFor  int              // fail this many calls before succeeding; -1 fails forever
	failOn   map[string]error // fail any batch containing one of these texts
	received [][]string
}

func newFakeProvider(name string, vectors map[string][]float32) *fakeProvider {
	return &fakeProvider{name: name, dim: 3, vectors: vectors, failOn: map[string]error{}}
}

func (p *fakeProvider) Name() string      { return p.name }
func (p *fakeProvider) ModelName() string { return p.name + "-model" }
func (p *fakeProvider) Dimension() int    { return p.dim }

func (p *fakeProvider) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.received = append(p.received, append([]string(nil), texts...))
	if p.failFor < 0 || p.calls <= p.failFor {
		return nil, errUpstream
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err, ok := p.failOn[t]; ok {
			return nil, err
		}
		if v, ok := p.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{float32(len(t)), 1, 0.5}
	}
	return out, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) embeddedTexts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, batch := range p.received {
		n += len(batch)
	}
	return n
}

type fakeDescriber struct {
	description string
	err         error

	mu       sync.Mutex
	prompts  []string
	mimeType string
}

func (d *fakeDescriber) Name() string { return "fake-describer" }

func (d *fakeDescriber) DescribeMedia(_ context.Context, _ []byte, mimeType, prompt string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompts = append(d.prompts, prompt)
	d.mimeType = mimeType
	return d.description, d.err
}

type fakeFetcher struct {
	mu      sync.Mutex
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, uri)
	return []byte("media-bytes"), nil
}

type fakeSource struct {
	cells []string
	err   error
}

func (s *fakeSource) ReadColumn(context.Context, models.SpreadsheetSource) ([]string, error) {
	return s.cells, s.err
}

type mockJobClient struct {
	mock.Mock
}

func (m *mockJobClient) EnqueueIndexBuild(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *mockJobClient) Close() error { return nil }

func newTestStore(t *testing.T) *local.StoreImpl {
	t.Helper()
	s, err := local.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEmbedder(t *testing.T, providers ...EmbeddingProvider) *FallbackEmbeddingService {
	t.Helper()
	svc, err := NewFallbackEmbeddingService(EmbeddingServiceDeps{
		Providers:     providers,
		RetryStrategy: &SimpleRetryStrategy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Describer:     &fakeDescriber{description: "a red cotton shirt"},
		Fetcher:       &fakeFetcher{},
	})
	require.NoError(t, err)
	return svc
}

var testSource = models.SpreadsheetSource{
	SpreadsheetID: "sheet-1",
	WorksheetName: "Taxonomy",
	ColumnIndex:   1,
	Header:        true,
}

// taxonomyVectors places three categories on the axes.
var taxonomyVectors = map[string][]float32{
	"Electronics": {1, 0, 0},
	"Food":        {0, 1, 0},
	"Clothing":    {0, 0, 1},
}
