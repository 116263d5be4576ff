package interfaces

import "context"

// EmbeddingProvider computes dense vectors for text.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the length of vectors this provider produces.
	Dimension() int

	// Name identifies the provider in logs and stats.
	Name() string
}
