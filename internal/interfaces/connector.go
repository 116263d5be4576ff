package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/confluo/internal/models"
)

// ExtractedItem is one source record produced by a connector page.
type ExtractedItem struct {
	ExternalID string
	Payload    []byte
	// UpdatedAt is the source-side modification time, used to advance
	// watermarks.
	UpdatedAt time.Time
	// Context carries linkage the payload lacks (owning repo, parent PR,
	// issue key). It travels with the staged record into transform.
	Context map[string]string
}

// ExtractPage is one page of connector results.
type ExtractPage struct {
	Items      []ExtractedItem
	NextCursor string
	Done       bool
}

// ExtractRequest parameterizes one extraction call.
type ExtractRequest struct {
	EntityType models.EntityType
	Since      time.Time
	Cursor     string
	PageSize   int
}

// Connector pulls entities from one external system. Implementations
// are stateless; credentials and settings come from the integration.
type Connector interface {
	Provider() models.Provider

	// Extract fetches one page of entities of the requested type
	// modified at or after the Since watermark.
	Extract(ctx context.Context, integ *models.Integration, req ExtractRequest) (*ExtractPage, error)

	// Discover enumerates source metadata (custom fields, issue types).
	// Connectors without a discovery surface return an empty result.
	Discover(ctx context.Context, integ *models.Integration) (*models.DiscoveryResult, error)
}
