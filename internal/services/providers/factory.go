package providers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
)

// NewProvider creates the embedding provider named by the configuration.
func NewProvider(ctx context.Context, cfg *common.EmbeddingConfig, logger arbor.ILogger) (interfaces.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiProvider(ctx, cfg, logger)
	case "offline", "":
		return NewOfflineProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
