package sqlite

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db           *SQLiteDB
	jobs         interfaces.JobStorage
	raw          interfaces.RawStorage
	integrations interfaces.IntegrationStorage
	targets      interfaces.TargetStorage
	catalogs     interfaces.CatalogStorage
	logger       arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:           db,
		jobs:         NewJobStorage(db, logger),
		raw:          NewRawStorage(db, logger),
		integrations: NewIntegrationStorage(db, logger),
		targets:      NewTargetStorage(db, logger),
		catalogs:     NewCatalogStorage(db, logger),
		logger:       logger,
	}, nil
}

// Jobs returns the job registry
func (m *Manager) Jobs() interfaces.JobStorage {
	return m.jobs
}

// Raw returns the raw staging store
func (m *Manager) Raw() interfaces.RawStorage {
	return m.raw
}

// Integrations returns the integration store
func (m *Manager) Integrations() interfaces.IntegrationStorage {
	return m.integrations
}

// Targets returns the canonical target store
func (m *Manager) Targets() interfaces.TargetStorage {
	return m.targets
}

// Catalogs returns the discovery catalog store
func (m *Manager) Catalogs() interfaces.CatalogStorage {
	return m.catalogs
}

// Close closes the underlying database
func (m *Manager) Close() error {
	m.logger.Info().Msg("Closing SQLite storage")
	return m.db.Close()
}
