// Package bootstrap wires configuration, logging, storage and the HTTP
// server into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"greedybear/api"
	"greedybear/config"
	"greedybear/news"
	"greedybear/storage"
)

// App holds the assembled application
type App struct {
	Config *config.Config
	Logger *zap.SugaredLogger
	SQLite *storage.SQLite
	API    *api.API

	redisClient *redis.Client
}

// NewLogger builds the zap logger from the logging configuration
func NewLogger(level, format string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// NewApp loads configuration and assembles all components.
func NewApp(configFile string) (*App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	sqlite, err := storage.NewSQLite(cfg.Storage.SQLitePath, cfg.Storage.QueryTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	iocs := storage.NewSQLiteIOCStorage(sqlite)
	honeypots := storage.NewSQLiteHoneypotStorage(sqlite)
	stats := storage.NewSQLiteStatisticsStorage(sqlite)

	app := &App{
		Config: cfg,
		Logger: logger,
		SQLite: sqlite,
	}

	var newsProvider api.NewsProvider
	if cfg.News.Enabled {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.News.Redis.Addr,
			Password: cfg.News.Redis.Password,
			DB:       cfg.News.Redis.DB,
		})
		newsProvider = news.NewService(app.redisClient, cfg.News.FeedURL, cfg.News.CacheTTL, logger)
		logger.Infow("news endpoint enabled", "feed_url", cfg.News.FeedURL)
	}

	app.API = api.NewAPI(cfg, iocs, honeypots, stats, newsProvider, logger)
	return app, nil
}

// Run starts the server and blocks until shutdown completes.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.API.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.Shutdown()
		return err
	case sig := <-sigCh:
		a.Logger.Infow("shutdown signal received", "signal", sig)
		a.Shutdown()
		return nil
	}
}

// Shutdown stops components in reverse dependency order
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.API.Shutdown(ctx); err != nil {
		a.Logger.Warnw("API shutdown failed", "error", err)
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Warnw("redis close failed", "error", err)
		}
	}
	if err := a.SQLite.Close(); err != nil {
		a.Logger.Warnw("storage close failed", "error", err)
	}
	_ = a.Logger.Sync()
}
