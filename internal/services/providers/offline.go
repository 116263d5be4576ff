package providers

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/ternarybob/confluo/internal/interfaces"
)

// OfflineProvider produces deterministic embeddings without any API
// dependency. The same text always maps to the same unit vector, which
// keeps the pipeline runnable in tests and air-gapped deployments.
type OfflineProvider struct {
	dimension int
}

var _ interfaces.EmbeddingProvider = (*OfflineProvider)(nil)

// NewOfflineProvider creates a new offline embedding provider
func NewOfflineProvider(dimension int) (*OfflineProvider, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	return &OfflineProvider{dimension: dimension}, nil
}

// Name returns the provider name
func (p *OfflineProvider) Name() string {
	return "offline"
}

// Dimension returns the configured output dimensionality
func (p *OfflineProvider) Dimension() int {
	return p.dimension
}

// Embed generates one deterministic vector per input text.
func (p *OfflineProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty for embedding generation")
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vectors[i] = p.hashVector(text)
	}
	return vectors, nil
}

// hashVector expands the text hash into a normalized vector by chaining
// FNV over the component index.
func (p *OfflineProvider) hashVector(text string) []float32 {
	vector := make([]float32, p.dimension)
	var norm float64

	var idx [8]byte
	for i := range vector {
		h := fnv.New64a()
		h.Write([]byte(text))
		binary.BigEndian.PutUint64(idx[:], uint64(i))
		h.Write(idx[:])

		// Map the hash onto [-1, 1).
		v := float64(int64(h.Sum64())) / float64(math.MaxInt64)
		vector[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}
