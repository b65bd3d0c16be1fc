package services

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

// OpenAIProvider implements EmbeddingProvider using the OpenAI embeddings API.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

type OpenAIOptions struct {
	APIKey  string
	Model   string
	BaseURL string // override for proxies and tests
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY") // Fallback to env var
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided")
	}
	modelID := opts.Model
	if modelID == "" {
		modelID = string(openai.SmallEmbedding3)
	}

	var dim int
	switch modelID {
	case string(openai.AdaEmbeddingV2), string(openai.SmallEmbedding3):
		dim = 1536
	case string(openai.LargeEmbedding3):
		dim = 3072
	default:
		log.Warnf("Unknown OpenAI embedding model '%s', defaulting dimension to 1536.", modelID)
		dim = 1536
	}

	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	log.Infof("OpenAI provider initialized with model %s (dimension %d)", modelID, dim)

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(modelID),
		dim:    dim,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) ModelName() string { return string(p.model) }

func (p *OpenAIProvider) Dimension() int { return p.dim }

// GenerateEmbeddings sends all texts in one request. The response items carry their input
// index, which is used to restore request order.
func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error generating embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI API returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("OpenAI API returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) != p.dim {
			return nil, fmt.Errorf("OpenAI API returned unexpected embedding dimension: got %d, want %d", len(d.Embedding), p.dim)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("OpenAI API returned no embedding for input %d", i)
		}
	}
	log.Debugf("OpenAI embedded %d texts (%d tokens)", len(texts), resp.Usage.TotalTokens)
	return out, nil
}

var _ EmbeddingProvider = (*OpenAIProvider)(nil)
