package events

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// Service implements EventService with a tenant-scoped pub/sub pattern.
// Delivery is best-effort: handlers run on their own goroutine and a
// slow subscriber never blocks the pipeline.
type Service struct {
	subscribers map[string]map[int]interfaces.ProgressHandler
	nextID      int
	closed      bool
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[string]map[int]interfaces.ProgressHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for one tenant's events
func (s *Service) Subscribe(tenantID string, handler interfaces.ProgressHandler) func() {
	if handler == nil {
		return func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	id := s.nextID
	s.nextID++

	if s.subscribers[tenantID] == nil {
		s.subscribers[tenantID] = make(map[int]interfaces.ProgressHandler)
	}
	s.subscribers[tenantID][id] = handler

	s.logger.Debug().
		Str("tenant_id", tenantID).
		Int("subscriber_count", len(s.subscribers[tenantID])).
		Msg("Progress handler subscribed")

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		handlers := s.subscribers[tenantID]
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(s.subscribers, tenantID)
		}
	}
}

// Publish fans an event out to the tenant's subscribers asynchronously
func (s *Service) Publish(ctx context.Context, event models.ProgressEvent) {
	s.mu.RLock()
	handlers := make([]interfaces.ProgressHandler, 0, len(s.subscribers[event.TenantID]))
	for _, handler := range s.subscribers[event.TenantID] {
		handlers = append(handlers, handler)
	}
	s.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	s.logger.Debug().
		Str("tenant_id", event.TenantID).
		Str("event_type", string(event.Type)).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing progress event")

	for _, handler := range handlers {
		handler := handler
		common.SafeGo(s.logger, "progress-event", func() {
			handler(ctx, event)
		})
	}
}

// Close shuts down the event service
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[string]map[int]interfaces.ProgressHandler)
	s.closed = true
	s.logger.Info().Msg("Event service closed")

	return nil
}
