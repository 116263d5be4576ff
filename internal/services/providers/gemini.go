package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
)

const defaultGeminiModel = "gemini-embedding-001"

// GeminiProvider generates embeddings with the Gemini API.
type GeminiProvider struct {
	client    *genai.Client
	logger    arbor.ILogger
	model     string
	dimension int
	timeout   time.Duration
}

var _ interfaces.EmbeddingProvider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a new Gemini embedding provider
func NewGeminiProvider(ctx context.Context, cfg *common.EmbeddingConfig, logger arbor.ILogger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google API key is required for the gemini embedding provider (set CONFLUO_EMBEDDING_API_KEY or embedding.api_key in config)")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	timeout := common.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Info().
		Str("model", model).
		Int("dimension", cfg.Dimension).
		Dur("timeout", timeout).
		Msg("Gemini embedding provider initialized")

	return &GeminiProvider{
		client:    client,
		logger:    logger,
		model:     model,
		dimension: cfg.Dimension,
		timeout:   timeout,
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Dimension returns the configured output dimensionality
func (p *GeminiProvider) Dimension() int {
	return p.dimension
}

// Embed generates one embedding vector per input text.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty for embedding generation")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	outputDim := int32(p.dimension)
	result, err := p.client.Models.EmbedContent(timeoutCtx, p.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), got)
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range result.Embeddings {
		if len(emb.Values) != p.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", p.dimension, len(emb.Values))
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}
