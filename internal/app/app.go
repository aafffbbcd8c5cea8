// Package app wires storage, cache, events and services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vehirec/internal/config"
	"vehirec/internal/database"
	"vehirec/internal/domain"
	"vehirec/internal/events"
	"vehirec/internal/export"
	"vehirec/internal/google"
	"vehirec/internal/metrics"
	"vehirec/internal/modelstore"
	"vehirec/internal/repository"
	"vehirec/internal/service"
	"vehirec/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds every long-lived dependency of a process.
type App struct {
	Config      *config.Config
	Logger      *zerolog.Logger
	DB          *database.DB
	Redis       *redis.Client
	Events      *events.EventBus
	Store       *modelstore.Store
	Exporter    *export.Exporter
	Recommender *service.RecommendationService
	Catalog     *service.CatalogService
	Mirror      *worker.SheetsMirrorWorker

	closers []func() error
}

// New opens the database and model store and builds the services.
// Redis and Google Sheets are optional: failures there are logged and skipped.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	store, err := modelstore.NewStore(cfg.Recommender.ModelDir)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init model store: %w", err)
	}
	a.Store = store

	metrics.Register()

	a.Events = events.NewEventBus(logger)
	a.Exporter = export.NewExporter(cfg.Exports.Path)
	a.Redis = initRedis(ctx, cfg, logger)
	if a.Redis != nil {
		a.closers = append(a.closers, func() error { return repository.Close(a.Redis) })
	}

	a.Recommender = service.NewRecommendationService(
		db,
		store,
		a.recommendationCache(),
		a.Events,
		a.Exporter,
		cfg.Recommender,
		logger,
	)
	a.Catalog = service.NewCatalogService(db, logger)
	a.Events.Subscribe(events.EventModelTrained, a.Recommender.HandleModelTrained)

	if sheets := initGoogleSheets(ctx, cfg, logger); sheets != nil {
		a.Mirror = worker.NewSheetsMirrorWorker(sheets, a.Redis, worker.RetryPolicy{
			MaxRetries:    cfg.Worker.MaxRetries,
			InitialDelay:  cfg.Worker.InitialDelay,
			MaxDelay:      cfg.Worker.MaxDelay,
			BackoffFactor: cfg.Worker.BackoffFactor,
		}, cfg.Worker.QueueSize, logger)
		a.Events.Subscribe(events.EventRecommendationsExported, a.Mirror.HandleExported)
	}

	return a, nil
}

func (a *App) recommendationCache() domain.RecommendationCache {
	memory := repository.NewMemoryRecommendationCache(a.Config.Recommender.CacheTTL)
	if a.Redis == nil {
		return memory
	}
	primary := repository.NewRedisRecommendationCache(a.Redis, a.Config.Recommender.CacheTTL)
	return repository.NewFailoverRecommendationCache(primary, memory, a.Logger)
}

// StartWorkers runs background workers until ctx is done.
func (a *App) StartWorkers(ctx context.Context) {
	if a.Mirror != nil {
		go a.Mirror.Start(ctx)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if !cfg.Google.Enabled {
		return nil
	}

	sheets, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.RecommendationsSheet, cfg.Google.SheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheets.EnsureHeader(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets header check failed, continuing without sheets")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return sheets
}
