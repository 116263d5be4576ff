package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// Store keeps embeddings in badgerhold, keyed by collection/external id.
// Collections are tenant-scoped by construction (tenant_{id}_{entity}),
// so tenant isolation holds as long as callers derive collection names
// through models.EntityType.VectorCollection.
type Store struct {
	store     *badgerhold.Store
	dimension int
	logger    arbor.ILogger
}

// NewStore opens the vector store at the configured path.
func NewStore(logger arbor.ILogger, config *common.VectorConfig) (*Store, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector store directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	logger.Debug().Str("path", config.Path).Int("dimension", config.Dimension).Msg("Vector store initialized")

	return &Store{
		store:     store,
		dimension: config.Dimension,
		logger:    logger,
	}, nil
}

var _ interfaces.VectorStorage = (*Store)(nil)

// Upsert writes one point, last-writer-wins.
func (s *Store) Upsert(ctx context.Context, point *models.VectorPoint) error {
	if err := point.Validate(); err != nil {
		return fmt.Errorf("invalid vector point: %w", err)
	}
	if s.dimension > 0 && len(point.Vector) != s.dimension {
		return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(point.Vector), s.dimension)
	}

	if err := s.store.Upsert(point.Key(), point); err != nil {
		return fmt.Errorf("failed to upsert vector point: %w", err)
	}

	s.logger.Debug().
		Str("collection", point.Collection).
		Str("external_id", point.ExternalID).
		Msg("Upserted vector point")
	return nil
}

// Get loads one point by collection and external id.
func (s *Store) Get(ctx context.Context, collection, externalID string) (*models.VectorPoint, error) {
	key := fmt.Sprintf("%s/%s", collection, externalID)

	var point models.VectorPoint
	err := s.store.Get(key, &point)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vector point: %w", err)
	}
	return &point, nil
}

// Delete removes one point.
func (s *Store) Delete(ctx context.Context, collection, externalID string) error {
	key := fmt.Sprintf("%s/%s", collection, externalID)

	err := s.store.Delete(key, &models.VectorPoint{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete vector point: %w", err)
	}
	return nil
}

// Count returns the number of points in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	count, err := s.store.Count(&models.VectorPoint{},
		badgerhold.Where("Collection").Eq(collection))
	if err != nil {
		return 0, fmt.Errorf("failed to count vector points: %w", err)
	}
	return int(count), nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.store.Close()
}
