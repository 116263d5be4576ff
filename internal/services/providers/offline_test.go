package providers

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/confluo/internal/common"
)

func TestOfflineEmbedDeterministic(t *testing.T) {
	provider, err := NewOfflineProvider(64)
	require.NoError(t, err)
	assert.Equal(t, 64, provider.Dimension())

	first, err := provider.Embed(context.Background(), []string{"PROJ-7: Fix login timeout", "other text"})
	require.NoError(t, err)
	second, err := provider.Embed(context.Background(), []string{"PROJ-7: Fix login timeout", "other text"})
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.Equal(t, first[0], second[0])
	assert.NotEqual(t, first[0], first[1])
}

func TestOfflineEmbedUnitNorm(t *testing.T) {
	provider, err := NewOfflineProvider(128)
	require.NoError(t, err)

	vectors, err := provider.Embed(context.Background(), []string{"some text"})
	require.NoError(t, err)
	require.Len(t, vectors[0], 128)

	var norm float64
	for _, v := range vectors[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 0.001)
}

func TestOfflineEmbedRejectsEmptyInput(t *testing.T) {
	provider, err := NewOfflineProvider(8)
	require.NoError(t, err)

	_, err = provider.Embed(context.Background(), nil)
	assert.Error(t, err)
}

func TestNewProviderSelection(t *testing.T) {
	provider, err := NewProvider(context.Background(), &common.EmbeddingConfig{Provider: "offline", Dimension: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, "offline", provider.Name())

	// Unset provider defaults to offline.
	provider, err = NewProvider(context.Background(), &common.EmbeddingConfig{Dimension: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, "offline", provider.Name())

	_, err = NewProvider(context.Background(), &common.EmbeddingConfig{Provider: "bogus", Dimension: 16}, nil)
	assert.Error(t, err)

	// Gemini without an API key fails fast.
	_, err = NewProvider(context.Background(), &common.EmbeddingConfig{Provider: "gemini", Dimension: 16}, nil)
	assert.Error(t, err)
}
