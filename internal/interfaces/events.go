package interfaces

import (
	"context"

	"github.com/ternarybob/confluo/internal/models"
)

// ProgressHandler receives progress events for one subscription.
type ProgressHandler func(ctx context.Context, event models.ProgressEvent)

// EventService is the best-effort progress channel. Subscribers are
// tenant-scoped; publishing never blocks on a slow consumer.
type EventService interface {
	// Subscribe registers a handler for one tenant's events and returns
	// an unsubscribe func.
	Subscribe(tenantID string, handler ProgressHandler) (unsubscribe func())

	// Publish fans an event out to the tenant's subscribers.
	Publish(ctx context.Context, event models.ProgressEvent)

	// Close shuts down the event service
	Close() error
}
