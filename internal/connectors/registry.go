package connectors

import (
	"fmt"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// Registry resolves the connector for an integration's provider.
type Registry struct {
	byProvider map[models.Provider]interfaces.Connector
}

// NewRegistry creates a registry from the given connectors
func NewRegistry(conns ...interfaces.Connector) *Registry {
	byProvider := make(map[models.Provider]interfaces.Connector, len(conns))
	for _, conn := range conns {
		byProvider[conn.Provider()] = conn
	}
	return &Registry{byProvider: byProvider}
}

// For returns the connector registered for the provider
func (r *Registry) For(provider models.Provider) (interfaces.Connector, error) {
	conn, ok := r.byProvider[provider]
	if !ok {
		return nil, fmt.Errorf("no connector registered for provider %s", provider)
	}
	return conn, nil
}
