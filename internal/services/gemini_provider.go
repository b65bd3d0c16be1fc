package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GeminiProvider implements EmbeddingProvider and MediaDescriber using the Google Gemini API.
type GeminiProvider struct {
	client         *genai.Client
	embeddingModel string
	describeModel  string
	dim            int
}

type GeminiOptions struct {
	APIKey         string
	EmbeddingModel string
	DescribeModel  string
	ClientOptions  []option.ClientOption // appended after the API key
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(ctx context.Context, opts GeminiOptions) (*GeminiProvider, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY") // Fallback to env var
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key not provided")
	}
	embeddingModel := opts.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}
	describeModel := opts.DescribeModel
	if describeModel == "" {
		describeModel = "gemini-1.5-flash"
	}

	var dim int
	switch strings.TrimPrefix(embeddingModel, "models/") {
	case "embedding-001", "text-embedding-004", "text-multilingual-embedding-002":
		dim = 768
	default:
		log.Warnf("Unknown Gemini embedding model '%s', defaulting dimension to 768.", embeddingModel)
		dim = 768
	}

	clientOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts.ClientOptions...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	log.Infof("Gemini provider initialized with model %s (dimension %d), describer %s", embeddingModel, dim, describeModel)

	return &GeminiProvider{
		client:         client,
		embeddingModel: embeddingModel,
		describeModel:  describeModel,
		dim:            dim,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) ModelName() string { return p.embeddingModel }

func (p *GeminiProvider) Dimension() int { return p.dim }

// GenerateEmbeddings embeds all texts with a single batch request.
func (p *GeminiProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	em := p.client.EmbeddingModel(p.embeddingModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error generating embeddings: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("Gemini API returned an incomplete embedding batch")
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("Gemini API returned no embedding data for text at index %d", i)
		}
		if len(e.Values) != p.dim {
			return nil, fmt.Errorf("Gemini API returned unexpected embedding dimension: got %d, want %d", len(e.Values), p.dim)
		}
		out[i] = e.Values
	}
	return out, nil
}

// DescribeMedia asks the multimodal model to complete prompt for the given media bytes.
func (p *GeminiProvider) DescribeMedia(ctx context.Context, data []byte, mimeType, prompt string) (string, error) {
	model := p.client.GenerativeModel(p.describeModel)
	model.SetTemperature(0.8)
	model.SetTopP(0.95)
	model.SetTopK(20)
	model.SetCandidateCount(1)
	model.StopSequences = []string{"STOP!"}

	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API error describing media: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("Gemini API returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

var (
	_ EmbeddingProvider = (*GeminiProvider)(nil)
	_ MediaDescriber    = (*GeminiProvider)(nil)
)
