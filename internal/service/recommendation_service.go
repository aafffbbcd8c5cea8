package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vehirec/internal/config"
	"vehirec/internal/domain"
	"vehirec/internal/events"
	"vehirec/internal/metrics"
	"vehirec/internal/modelstore"
	"vehirec/internal/models"
	"vehirec/internal/pipeline"
	"vehirec/internal/ranker"
	"vehirec/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ModelStore persists trained bundles.
type ModelStore interface {
	Save(ctx context.Context, name string, b modelstore.Bundle) (modelstore.Metadata, error)
	Load(ctx context.Context, name string, version int) (*modelstore.Bundle, error)
	Prune(ctx context.Context, name string, keep int) (int, error)
	LatestVersion(name string) (int, bool, error)
}

// Exporter writes recommendation lists to a file artifact.
type Exporter interface {
	WriteRecommendations(list *models.RecommendationList) (string, error)
}

// TrainResult summarizes one training run.
type TrainResult struct {
	Meta      modelstore.Metadata
	Report    ranker.TrainReport
	Shortfall pipeline.Shortfall
	Skipped   int
}

// RecommendationService trains rankers and serves top-N lists from the current bundle.
// Reads share the bundle; Train and Reload replace it under the lock.
type RecommendationService struct {
	repo     domain.DatasetSource
	store    ModelStore
	cache    domain.RecommendationCache
	events   domain.EventPublisher
	exporter Exporter
	cfg      config.RecommenderConfig
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	bundle *modelstore.Bundle
}

// NewRecommendationService wires the service. cache, publisher and exporter may be nil.
func NewRecommendationService(
	repo domain.DatasetSource,
	store ModelStore,
	cache domain.RecommendationCache,
	publisher domain.EventPublisher,
	exporter Exporter,
	cfg config.RecommenderConfig,
	logger *zerolog.Logger,
) *RecommendationService {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "recommender").Logger()
	}
	return &RecommendationService{
		repo:     repo,
		store:    store,
		cache:    cache,
		events:   publisher,
		exporter: exporter,
		cfg:      cfg,
		logger:   l,
		now:      time.Now,
	}
}

// Train fits the pipeline on the current dataset, trains the configured ranker,
// saves the bundle and makes it current.
func (s *RecommendationService) Train(ctx context.Context) (*TrainResult, error) {
	started := s.now()
	runID := uuid.NewString()
	log := s.logger.With().Str("run_id", runID).Str("ranker", s.cfg.Ranker).Logger()

	result, err := s.train(ctx, runID, started, &log)
	if err != nil {
		metrics.ObserveTraining(s.cfg.Ranker, 0, 0, err)
		log.Error().Err(err).Msg("Training failed")
		return nil, err
	}
	metrics.ObserveTraining(s.cfg.Ranker, result.Report.Duration, result.Report.ValidationLoss, nil)

	if err := s.publish(events.EventModelTrained, events.ModelTrainedPayload{
		RunID:          runID,
		Ranker:         result.Meta.Ranker,
		Version:        result.Meta.Version,
		Examples:       result.Meta.Examples,
		Shortfall:      result.Meta.Shortfall,
		ValidationLoss: result.Meta.ValidationLoss,
		TrainedAt:      result.Meta.TrainedAt,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish model_trained")
	}

	log.Info().
		Int("version", result.Meta.Version).
		Int("examples", result.Meta.Examples).
		Int("shortfall", result.Shortfall.Count()).
		Int("best_epoch", result.Report.BestEpoch).
		Bool("stopped_early", result.Report.StoppedEarly).
		Float64("train_loss", result.Report.TrainLoss).
		Float64("validation_loss", result.Report.ValidationLoss).
		Dur("duration", result.Report.Duration).
		Msg("Model trained")

	return result, nil
}

func (s *RecommendationService) train(ctx context.Context, runID string, started time.Time, log *zerolog.Logger) (*TrainResult, error) {
	ds, err := s.repo.LoadDataset(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	state, err := pipeline.Fit(*ds, s.cfg.HistoryLength)
	if err != nil {
		return nil, fmt.Errorf("fit pipeline: %w", err)
	}
	prepared := state.Prepare(*ds, log)

	pairs, shortfall := pipeline.NewExampleGenerator(s.cfg.Seed, log).Generate(prepared.Interactions, state.Vehicles.Len())
	metrics.AddShortfall(shortfall.Count())

	examples := prepared.Examples(pairs)
	train, validation := pipeline.Split(examples, s.cfg.ValidationSplit, s.cfg.Seed)

	r, err := ranker.New(s.cfg.Ranker, s.cfg.RankerConfig())
	if err != nil {
		return nil, err
	}

	report, err := r.Train(ctx, pipeline.TrainingSet{Shape: state.Shape(), Train: train, Validation: validation})
	if err != nil {
		return nil, fmt.Errorf("train %s ranker: %w", r.Name(), err)
	}
	for _, e := range report.Curve {
		log.Debug().
			Int("epoch", e.Epoch).
			Float64("train_loss", e.TrainLoss).
			Float64("validation_loss", e.ValidationLoss).
			Msg("Epoch")
	}

	shape := state.Shape()
	meta, err := s.store.Save(ctx, models.ModelName, modelstore.Bundle{
		Meta: modelstore.Metadata{
			RunID:          runID,
			TrainedAt:      started,
			Users:          shape.Users,
			Items:          shape.Items,
			Features:       shape.Features,
			Examples:       len(examples),
			Shortfall:      shortfall.Count(),
			ValidationLoss: report.ValidationLoss,
			TrainDuration:  report.Duration,
		},
		State:  state,
		Ranker: r,
	})
	if err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}

	if s.cfg.KeepVersions > 0 {
		if removed, err := s.store.Prune(ctx, models.ModelName, s.cfg.KeepVersions); err != nil {
			log.Warn().Err(err).Msg("Failed to prune old models")
		} else if removed > 0 {
			log.Debug().Int("removed", removed).Msg("Old models pruned")
		}
	}

	s.mu.Lock()
	s.bundle = &modelstore.Bundle{Meta: meta, State: state, Ranker: r}
	s.mu.Unlock()

	return &TrainResult{Meta: meta, Report: report, Shortfall: shortfall, Skipped: prepared.Skipped}, nil
}

// Reload loads the latest persisted bundle. It never replaces a newer bundle
// that is already serving.
func (s *RecommendationService) Reload(ctx context.Context) (modelstore.Metadata, error) {
	b, err := s.reload(ctx)
	if err != nil {
		return modelstore.Metadata{}, err
	}
	return b.Meta, nil
}

func (s *RecommendationService) reload(ctx context.Context) (*modelstore.Bundle, error) {
	b, err := s.store.Load(ctx, models.ModelName, 0)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bundle != nil && s.bundle.Meta.Version > b.Meta.Version {
		return s.bundle, nil
	}
	s.bundle = b
	return b, nil
}

// Model returns metadata of the bundle that serves requests.
func (s *RecommendationService) Model(ctx context.Context) (modelstore.Metadata, error) {
	b, err := s.current(ctx)
	if err != nil {
		return modelstore.Metadata{}, err
	}
	return b.Meta, nil
}

// current returns the serving bundle. A bundle saved by another process
// (the CLI trains against the same model directory) replaces an older one.
func (s *RecommendationService) current(ctx context.Context) (*modelstore.Bundle, error) {
	s.mu.RLock()
	b := s.bundle
	s.mu.RUnlock()

	if b != nil {
		latest, ok, err := s.store.LatestVersion(models.ModelName)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to check stored model versions")
			return b, nil
		}
		if !ok || latest <= b.Meta.Version {
			return b, nil
		}
		loaded, err := s.reload(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Int("version", latest).Msg("Failed to load newer model, keeping current")
			return b, nil
		}
		s.logger.Info().Int("version", loaded.Meta.Version).Str("ranker", loaded.Meta.Ranker).Msg("Newer model picked up")
		return loaded, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bundle != nil {
		return s.bundle, nil
	}
	loaded, err := s.store.Load(ctx, models.ModelName, 0)
	if err != nil {
		return nil, err
	}
	s.bundle = loaded
	s.logger.Info().Int("version", loaded.Meta.Version).Str("ranker", loaded.Meta.Ranker).Msg("Model loaded")
	return loaded, nil
}

// Recommend returns the top n vehicles the client has not booked yet, best first.
// n <= 0 falls back to the configured default.
func (s *RecommendationService) Recommend(ctx context.Context, clientID int64, n int) (*models.RecommendationList, error) {
	if n <= 0 {
		n = s.cfg.TopN
	}
	if n > models.MaxTopN {
		n = models.MaxTopN
	}

	b, err := s.current(ctx)
	if err != nil {
		return nil, err
	}

	userIdx, err := b.State.Clients.Encode(clientID)
	if err != nil {
		return nil, err
	}

	key := repository.CacheKey(b.Meta.Version, clientID, n)
	if cached := s.fromCache(ctx, key); cached != nil {
		metrics.IncServed("cache")
		s.publishServed(cached, "", true)
		return cached, nil
	}

	ds, err := s.repo.LoadDataset(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	prepared := b.State.Prepare(*ds, &s.logger)

	query, err := prepared.Query(userIdx, true)
	if err != nil {
		return nil, err
	}
	scored, err := ranker.TopN(b.Ranker, query, n)
	if err != nil {
		return nil, fmt.Errorf("score client %d: %w", clientID, err)
	}

	list := &models.RecommendationList{
		ClientID:     clientID,
		Ranker:       b.Ranker.Name(),
		ModelVersion: b.Meta.Version,
		ColdStart:    len(pipeline.HistoryItems(query.History)) == 0,
		Items:        make([]models.Recommendation, 0, len(scored)),
		GeneratedAt:  s.now(),
	}
	for i, sc := range scored {
		list.Items = append(list.Items, models.Recommendation{
			Rank:    i + 1,
			Vehicle: prepared.Vehicles[sc.ItemIdx],
			Score:   sc.Score,
		})
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, list); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache recommendations")
		}
	}
	metrics.IncServed("model")
	s.publishServed(list, "", false)
	return list, nil
}

func (s *RecommendationService) fromCache(ctx context.Context, key string) *models.RecommendationList {
	if s.cache == nil {
		return nil
	}
	list, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
	}
	metrics.IncCache(list != nil)
	return list
}

// Export computes recommendations and writes them to an xlsx file.
// The exported list is published so the Sheets mirror can pick it up.
func (s *RecommendationService) Export(ctx context.Context, clientID int64, n int) (*models.RecommendationList, string, error) {
	if s.exporter == nil {
		return nil, "", errors.New("exporter is not configured")
	}
	list, err := s.Recommend(ctx, clientID, n)
	if err != nil {
		return nil, "", err
	}

	path, err := s.exporter.WriteRecommendations(list)
	metrics.IncExport("xlsx", err)
	if err != nil {
		return nil, "", fmt.Errorf("export recommendations: %w", err)
	}

	s.logger.Info().Int64("client_id", clientID).Str("file_path", path).Msg("Recommendations exported")
	if err := s.publish(events.EventRecommendationsExported, newRecommendationsPayload(list, path, false, true)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish recommendations_exported")
	}
	return list, path, nil
}

// HandleModelTrained invalidates cached lists and drops a bundle older than the announced one.
func (s *RecommendationService) HandleModelTrained(event *events.Event) error {
	var payload events.ModelTrainedPayload
	if err := event.Decode(&payload); err != nil {
		return fmt.Errorf("decode model_trained: %w", err)
	}

	s.mu.Lock()
	if s.bundle != nil && s.bundle.Meta.Version < payload.Version {
		s.bundle = nil
	}
	s.mu.Unlock()

	if s.cache == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	s.logger.Debug().Int("version", payload.Version).Msg("Recommendation cache invalidated")
	return nil
}

func (s *RecommendationService) publishServed(list *models.RecommendationList, path string, cached bool) {
	if err := s.publish(events.EventRecommendationsServed, newRecommendationsPayload(list, path, cached, false)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish recommendations_served")
	}
}

func (s *RecommendationService) publish(eventType string, payload interface{}) error {
	if s.events == nil {
		return nil
	}
	return s.events.PublishJSON(eventType, payload)
}

func newRecommendationsPayload(list *models.RecommendationList, path string, cached, withList bool) events.RecommendationsPayload {
	p := events.RecommendationsPayload{
		ClientID:     list.ClientID,
		ModelVersion: list.ModelVersion,
		VehicleIDs:   make([]int64, 0, len(list.Items)),
		Scores:       make([]float64, 0, len(list.Items)),
		Path:         path,
		Cached:       cached,
		CreatedAt:    time.Now(),
	}
	for _, rec := range list.Items {
		p.VehicleIDs = append(p.VehicleIDs, rec.Vehicle.ID)
		p.Scores = append(p.Scores, rec.Score)
	}
	if withList {
		p.List = list
	}
	return p
}
