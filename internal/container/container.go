package container

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go-omr-marker/internal/batch"
	"go-omr-marker/internal/config"
	"go-omr-marker/internal/engine"
	"go-omr-marker/internal/factory"
	"go-omr-marker/internal/logger"
	"go-omr-marker/internal/observer"
	"go-omr-marker/internal/repository"
	"go-omr-marker/internal/service"
	"go-omr-marker/internal/session"
	"go-omr-marker/internal/transport"
)

// Container holds all application dependencies
type Container struct {
	config         *config.Config
	publisher      *observer.EventPublisher
	metrics        *observer.MetricsObserver
	engine         *engine.Engine
	sessions       *session.Manager
	records        repository.RecordRepository
	markingService service.MarkingService
	handler        http.Handler
	closers        []io.Closer
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{config: cfg}

	// Observers
	c.publisher = observer.NewEventPublisher()
	c.metrics = observer.NewMetricsObserver()
	c.publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	c.publisher.Subscribe(c.metrics)

	// Storage
	azure, err := factory.NewAzureBlobStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}
	archives, err := factory.NewArchiveStore(cfg, azure)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive store: %w", err)
	}

	// Marking engine
	checker, closer := factory.NewSheetChecker(cfg)
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	c.engine, err = factory.NewEngine(ctx, cfg, factory.EngineDeps{
		Templates:    factory.NewTemplateFetcher(azure),
		SheetChecker: checker,
		Publisher:    c.publisher,
	})
	if err != nil {
		c.closeAll()
		return nil, fmt.Errorf("failed to create marking engine: %w", err)
	}

	// Sessions
	store, err := factory.NewSessionStore(ctx, cfg)
	if err != nil {
		c.closeAll()
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	if cl, ok := store.(io.Closer); ok {
		c.closers = append(c.closers, cl)
	}
	c.sessions, err = session.NewManager(store, cfg.AppPassword, cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		c.closeAll()
		return nil, err
	}
	if cfg.AppPassword == "" {
		logger.Warn("APP_PASSWORD is not set, logins will be rejected")
	}

	// Marking history
	c.records, err = factory.NewRecordRepository(ctx, cfg)
	if err != nil {
		c.closeAll()
		return nil, fmt.Errorf("failed to create record repository: %w", err)
	}

	processor := batch.NewProcessor(c.engine, cfg.BatchWorkers, c.publisher)
	c.markingService = service.NewMarkingService(c.engine, processor, c.records, archives)
	c.handler = transport.NewHandler(transport.Dependencies{
		Marking:  c.markingService,
		Sessions: c.sessions,
		Metrics:  c.metrics,
	}, cfg)

	return c, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// MarkingService returns the marking service
func (c *Container) MarkingService() service.MarkingService {
	return c.markingService
}

// Metrics returns the metrics observer
func (c *Container) Metrics() *observer.MetricsObserver {
	return c.metrics
}

// Close flushes pending events and releases backends
func (c *Container) Close(ctx context.Context) error {
	c.publisher.Wait()
	var firstErr error
	if c.records != nil {
		if err := c.records.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if err := c.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Container) closeAll() error {
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
