package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"logwarden/api"
	"logwarden/config"
	"logwarden/core"
	"logwarden/detect"
	"logwarden/ml"
	"logwarden/service"
	"logwarden/util/goroutine"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App represents the logwarden application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Storage *StorageComponents
	Redis   redis.UniversalClient

	// Detection
	Engine   *detect.Engine
	Pipeline *ml.Pipeline
	Pool     *core.WorkerPool
	Service  *service.Service

	// Services
	APIServer *api.API

	// Lifecycle
	serviceWg    sync.WaitGroup
	shutdownOnce sync.Once
	serveErr     chan error
}

// NewApp loads configuration from configPath (empty means the default search
// path) and initializes every component except the HTTP server.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := InitConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, sugar, err := InitLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return NewAppWithConfig(ctx, cfg, logger, sugar)
}

// NewAppWithConfig initializes the application from an already loaded
// configuration.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger, sugar *zap.SugaredLogger) (app *App, err error) {
	app = &App{
		Config:   cfg,
		Logger:   logger,
		Sugar:    sugar,
		serveErr: make(chan error, 1),
	}
	defer func() {
		if err != nil {
			app.closeResources()
		}
	}()

	logConfig(cfg, sugar)

	dirs := DataDirectoriesFromConfig(cfg)
	if err = EnsureDataDirectories(dirs, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	sqlite, err := InitSQLite(dirs, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = &StorageComponents{SQLite: sqlite}

	sc, err := InitStorage(cfg, sqlite, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = sc

	if app.Redis, err = InitRedis(ctx, cfg, sugar); err != nil {
		return nil, err
	}

	if app.Engine, err = InitEngine(cfg, app.Storage, sugar); err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	app.Pipeline = InitPipeline(cfg, app.Storage, sugar)

	if app.Pool, err = NewWorkerPool(ctx, cfg, sugar); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}
	app.Service = InitService(cfg, app.Engine, app.Pipeline, app.Pool, app.Redis, sugar)

	sugar.Info("logwarden initialized")
	return app, nil
}

// Start starts the HTTP API in the background.
func (a *App) Start(ctx context.Context) error {
	if a.APIServer != nil {
		return errors.New("app already started")
	}
	a.APIServer = api.NewAPI(a.Service, a.Storage.RuleStorage, a.Storage.SQLite, a.Config.API, a.Sugar)

	addr := a.Config.API.Addr()
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer goroutine.Recover("api-server", a.Sugar)

		a.Sugar.Infow("Starting API server", "addr", addr)
		if err := a.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "error", err)
			a.serveErr <- err
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received, ctx is done,
// or the API server fails.
func (a *App) WaitForShutdown(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Received signal", "signal", sig.String())
		return nil
	case <-ctx.Done():
		return nil
	case err := <-a.serveErr:
		return err
	}
}

// Shutdown gracefully shuts down all components. It is safe to call more
// than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		if a.APIServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.APIServer.Stop(ctx); err != nil {
				a.Sugar.Errorw("Failed to stop API server", "error", err)
			}
			cancel()
		}

		done := make(chan struct{})
		go func() {
			a.serviceWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			a.Sugar.Warn("Service goroutine shutdown timed out")
		}

		a.closeResources()
		a.Sugar.Info("Shutdown complete")
		_ = a.Logger.Sync()
	})
}

// closeResources releases the worker pool and connections in reverse order
// of creation.
func (a *App) closeResources() {
	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Sugar.Errorw("Failed to close Redis client", "error", err)
		}
	}
	if a.Storage != nil && a.Storage.SQLite != nil {
		if err := a.Storage.SQLite.Close(); err != nil {
			a.Sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}
}
