package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/stock-sync/internal/api"
	"github.com/stock-sync/internal/cache"
	"github.com/stock-sync/internal/database"
	"github.com/stock-sync/internal/messaging"
	"github.com/stock-sync/internal/provider"
	enginesync "github.com/stock-sync/internal/sync"
	"github.com/stock-sync/pkg/config"
	"github.com/stock-sync/pkg/lock"
)

// App represents the main application
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Core components
	mysqlDB    *database.MySQLClient
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient
	provider   *provider.Client

	// Engine and front ends
	orchestrator *enginesync.Orchestrator
	apiServer    *api.Server
	scheduler    *cron.Cron
}

// New creates a new application instance
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize initializes all application components
func (a *App) Initialize() error {
	if err := a.initializeDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initializeCache(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	if err := a.initializeMessaging(); err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}

	a.initializeEngine()

	if err := a.initializeScheduler(); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	return nil
}

// Start starts the API server and the cron scheduler.
func (a *App) Start() error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.apiServer.Start(); err != nil {
			if err != http.ErrServerClosed {
				a.logger.WithError(err).Error("API server error")
			}
		}
	}()

	if a.scheduler != nil {
		a.scheduler.Start()
		a.logger.WithField("schedule", a.cfg.Sync.Schedule).Info("Sync scheduler started")
	}

	return nil
}

// Stop gracefully stops the application
func (a *App) Stop() error {
	a.logger.Info("Stopping application...")

	a.cancel()

	if a.scheduler != nil {
		// Wait for an in-flight scheduled run to release the DB cleanly.
		stopCtx := a.scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(10 * time.Second):
			a.logger.Warn("Timeout waiting for scheduled run to finish")
		}
	}

	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.apiServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Error("Error stopping API server")
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		a.logger.Warn("Timeout waiting for goroutines to finish")
	}

	if err := a.closeConnections(); err != nil {
		a.logger.WithError(err).Error("Error closing connections")
	}

	a.logger.Info("Application stopped")
	return nil
}

// Orchestrator returns the wired sync engine.
func (a *App) Orchestrator() *enginesync.Orchestrator {
	return a.orchestrator
}

// GetLogger returns the application logger
func (a *App) GetLogger() *logrus.Logger {
	return a.logger
}

// Private initialization methods

func (a *App) initializeDatabase() error {
	mysqlClient, err := database.NewMySQLClient(&a.cfg.MySQL, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	a.mysqlDB = mysqlClient

	if err := a.mysqlDB.Migrate(a.ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}

func (a *App) initializeCache() error {
	if !a.cfg.Redis.Enabled {
		a.logger.Info("Redis disabled, running without warm cache")
		return nil
	}

	redisClient, err := cache.NewRedisClient(&a.cfg.Redis, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.redisCache = redisClient

	return nil
}

func (a *App) initializeMessaging() error {
	if !a.cfg.NATS.Enabled {
		a.logger.Info("NATS disabled, sync events will not be published")
		return nil
	}

	natsClient, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.natsClient = natsClient

	return nil
}

func (a *App) initializeEngine() {
	a.provider = provider.NewClient(&a.cfg.Provider, a.logger)

	var engineCache enginesync.Cache = enginesync.NopCache{}
	if a.redisCache != nil {
		engineCache = a.redisCache
	}

	var events enginesync.Events = enginesync.NopEvents{}
	if a.natsClient != nil {
		events = a.natsClient
	}

	store := enginesync.NewStore(a.mysqlDB)
	a.orchestrator = enginesync.NewOrchestrator(store, a.provider, engineCache, events, a.logger, &a.cfg.Sync)
	a.apiServer = api.NewServer(a.cfg, a.logger, a.mysqlDB, a.orchestrator)
}

func (a *App) initializeScheduler() error {
	if a.cfg.Sync.Schedule == "" {
		return nil
	}

	// Six-field spec with seconds, matching the config default.
	scheduler := cron.New(cron.WithSeconds())
	_, err := scheduler.AddFunc(a.cfg.Sync.Schedule, a.runScheduledSync)
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", a.cfg.Sync.Schedule, err)
	}
	a.scheduler = scheduler

	return nil
}

// runScheduledSync executes one full sync under the process lock so a
// concurrently running CLI invocation cannot double-write.
func (a *App) runScheduledSync() {
	fileLock := lock.New(a.cfg.Sync.LockFile)
	if err := fileLock.Acquire(); err != nil {
		a.logger.WithError(err).Warn("Skipping scheduled sync, another sync holds the lock")
		return
	}
	defer fileLock.Release()

	a.logger.Info("Scheduled sync starting")

	report, err := a.orchestrator.Run(a.ctx, enginesync.Options{})
	if err != nil {
		a.logger.WithError(err).Error("Scheduled sync failed")
		return
	}

	a.logger.WithFields(logrus.Fields{
		"session_id": report.SessionID,
		"succeeded":  report.Succeeded(),
	}).Info("Scheduled sync finished")
}

func (a *App) closeConnections() error {
	var errs []error

	if a.mysqlDB != nil {
		if err := a.mysqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MySQL: %w", err))
		}
	}

	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if a.natsClient != nil {
		if err := a.natsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close NATS: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}

	return nil
}
