package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/connectors"
	"github.com/ternarybob/confluo/internal/connectors/github"
	"github.com/ternarybob/confluo/internal/connectors/jira"
	"github.com/ternarybob/confluo/internal/handlers"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/orchestrator"
	"github.com/ternarybob/confluo/internal/queue"
	"github.com/ternarybob/confluo/internal/services/events"
	"github.com/ternarybob/confluo/internal/services/providers"
	"github.com/ternarybob/confluo/internal/storage/sqlite"
	"github.com/ternarybob/confluo/internal/storage/vector"
	"github.com/ternarybob/confluo/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	StorageManager interfaces.StorageManager
	VectorStore    interfaces.VectorStorage
	Broker         interfaces.Broker

	// Pipeline services
	EventService      interfaces.EventService
	EmbeddingProvider interfaces.EmbeddingProvider
	ConnectorRegistry *connectors.Registry
	Orchestrator      *orchestrator.Orchestrator

	// Worker pools, one per queue
	ExtractPool   *workers.Pool
	TransformPool *workers.Pool
	EmbedPool     *workers.Pool

	// HTTP handlers
	APIHandler         *handlers.APIHandler
	JobHandler         *handlers.JobHandler
	IntegrationHandler *handlers.IntegrationHandler
	QueueHandler       *handlers.QueueHandler
	AdminHandler       *handlers.AdminHandler
	WSHandler          *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("embedding_provider", cfg.Embedding.Provider).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage brings up the relational store, the vector store and the
// queue broker.
func (a *App) initStorage() error {
	storageManager, err := sqlite.NewManager(a.Logger, &a.Config.Storage.SQLite)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "sqlite").
		Str("path", a.Config.Storage.SQLite.Path).
		Msg("Relational storage initialized")

	vectorStore, err := vector.NewStore(a.Logger, &a.Config.Storage.Vector)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	a.VectorStore = vectorStore
	a.Logger.Debug().
		Str("path", a.Config.Storage.Vector.Path).
		Int("dimension", a.Config.Storage.Vector.Dimension).
		Msg("Vector storage initialized")

	broker, err := queue.NewBadgerBroker(a.Config.Storage.Badger.Path, a.Config.Queue, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create queue broker: %w", err)
	}
	a.Broker = broker
	a.Logger.Debug().
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Queue broker initialized")

	return nil
}

// initServices initializes the pipeline services in dependency order.
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)

	provider, err := providers.NewProvider(context.Background(), &a.Config.Embedding, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.EmbeddingProvider = provider

	a.ConnectorRegistry = connectors.NewRegistry(
		jira.NewConnector(a.Logger, common.Duration(a.Config.Extract.RequestTimeout)),
		github.NewConnector(a.Logger),
	)

	a.Orchestrator = orchestrator.New(
		a.StorageManager.Jobs(),
		a.Broker,
		a.EventService,
		a.Config,
		a.Logger,
	)

	extractWorker := workers.NewExtractWorker(a.Broker, a.StorageManager, a.ConnectorRegistry, a.EventService, a.Config, a.Logger)
	transformWorker := workers.NewTransformWorker(a.Broker, a.StorageManager, a.EventService, a.Config, a.Logger)
	embedWorker := workers.NewEmbedWorker(a.StorageManager, a.VectorStore, a.EmbeddingProvider, a.EventService, a.Config, a.Logger)

	a.ExtractPool = workers.NewPool(a.Broker, extractWorker, a.Config.Queue.ExtractConcurrency, a.Logger)
	a.TransformPool = workers.NewPool(a.Broker, transformWorker, a.Config.Queue.TransformConcurrency, a.Logger)
	a.EmbedPool = workers.NewPool(a.Broker, embedWorker, a.Config.Queue.EmbedConcurrency, a.Logger)

	return nil
}

// initHandlers wires the HTTP handlers onto the services.
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.StorageManager.Jobs(), a.Orchestrator, a.Logger)
	a.IntegrationHandler = handlers.NewIntegrationHandler(a.StorageManager.Integrations(), a.StorageManager.Catalogs(), a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.Broker, a.Logger)
	a.AdminHandler = handlers.NewAdminHandler(a.Broker, a.StorageManager.Raw(), a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, &a.Config.WebSocket, a.Logger)
}

// Start launches the broker, the worker pools and the scheduler.
func (a *App) Start() error {
	if err := a.Broker.Start(); err != nil {
		return fmt.Errorf("failed to start queue broker: %w", err)
	}

	a.ExtractPool.Start()
	a.TransformPool.Start()
	a.EmbedPool.Start()
	a.Orchestrator.Start()

	a.Logger.Info().Msg("Pipeline started")
	return nil
}

// Close shuts down components in reverse dependency order. The
// orchestrator and pools stop before the broker so in-flight messages
// settle; unacked messages reappear after the visibility timeout.
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application...")

	if a.Orchestrator != nil {
		a.Orchestrator.Stop()
	}
	if a.ExtractPool != nil {
		a.ExtractPool.Stop()
	}
	if a.TransformPool != nil {
		a.TransformPool.Stop()
	}
	if a.EmbedPool != nil {
		a.EmbedPool.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.Broker != nil {
		if err := a.Broker.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop queue broker")
		}
	}

	if a.VectorStore != nil {
		if err := a.VectorStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close vector store")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage manager")
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
