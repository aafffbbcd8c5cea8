package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vehirec/internal/config"
	"vehirec/internal/database"
	"vehirec/internal/domain"
	"vehirec/internal/events"
	"vehirec/internal/export"
	"vehirec/internal/modelstore"
	"vehirec/internal/models"
	"vehirec/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	svc      *RecommendationService
	db       *database.DB
	bus      *events.EventBus
	modelDir string
}

func testConfig(kind string) config.RecommenderConfig {
	return config.RecommenderConfig{
		Ranker:          kind,
		TopN:            models.DefaultTopN,
		HistoryLength:   models.DefaultHistoryLength,
		Seed:            models.DefaultSeed,
		ValidationSplit: models.DefaultValidationSplit,
		KeepVersions:    2,
	}
}

func newTestEnv(t *testing.T, kind string) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Seed(context.Background(), database.DemoDataset()))

	modelDir := t.TempDir()
	store, err := modelstore.NewStore(modelDir)
	require.NoError(t, err)

	bus := events.NewEventBus(&logger)
	svc := NewRecommendationService(
		db,
		store,
		repository.NewMemoryRecommendationCache(time.Minute),
		bus,
		export.NewExporter(filepath.Join(t.TempDir(), "exports")),
		testConfig(kind),
		&logger,
	)
	bus.Subscribe(events.EventModelTrained, svc.HandleModelTrained)

	// монотонные часы, чтобы отличать закэшированные ответы
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	return &testEnv{svc: svc, db: db, bus: bus, modelDir: modelDir}
}

func vehicleIDs(list *models.RecommendationList) []int64 {
	ids := make([]int64, 0, len(list.Items))
	for _, rec := range list.Items {
		ids = append(ids, rec.Vehicle.ID)
	}
	return ids
}

func TestRecommend_NoModel(t *testing.T) {
	env := newTestEnv(t, models.RankerEmbedding)

	_, err := env.svc.Recommend(context.Background(), 1, 3)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)

	_, err = env.svc.Model(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}

func TestRecommend_SeedScenario(t *testing.T) {
	for _, kind := range []string{models.RankerEmbedding, models.RankerTree} {
		t.Run(kind, func(t *testing.T) {
			env := newTestEnv(t, kind)
			ctx := context.Background()

			result, err := env.svc.Train(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, result.Meta.Version)
			assert.Equal(t, kind, result.Meta.Ranker)
			assert.Equal(t, 18, result.Meta.Examples)
			assert.Zero(t, result.Shortfall.Count())
			assert.NotEmpty(t, result.Report.Curve)

			list, err := env.svc.Recommend(ctx, 1, 3)
			require.NoError(t, err)
			require.Len(t, list.Items, 3)
			assert.False(t, list.ColdStart)
			assert.Equal(t, kind, list.Ranker)

			seen := map[int64]bool{}
			for i, rec := range list.Items {
				assert.Equal(t, i+1, rec.Rank)
				assert.NotContains(t, []int64{1, 3, 7}, rec.Vehicle.ID)
				assert.False(t, seen[rec.Vehicle.ID], "duplicate vehicle %d", rec.Vehicle.ID)
				seen[rec.Vehicle.ID] = true
				assert.NotEmpty(t, rec.Vehicle.Name)
				if i > 0 {
					assert.GreaterOrEqual(t, list.Items[i-1].Score, rec.Score)
				}
			}

			cold, err := env.svc.Recommend(ctx, 5, 3)
			require.NoError(t, err)
			assert.True(t, cold.ColdStart)
			assert.Len(t, cold.Items, 3)
		})
	}
}

func TestRecommend_Deterministic(t *testing.T) {
	ctx := context.Background()
	a := newTestEnv(t, models.RankerEmbedding)
	b := newTestEnv(t, models.RankerEmbedding)

	_, err := a.svc.Train(ctx)
	require.NoError(t, err)
	_, err = b.svc.Train(ctx)
	require.NoError(t, err)

	la, err := a.svc.Recommend(ctx, 2, 5)
	require.NoError(t, err)
	lb, err := b.svc.Recommend(ctx, 2, 5)
	require.NoError(t, err)

	assert.Equal(t, vehicleIDs(la), vehicleIDs(lb))
	for i := range la.Items {
		assert.InDelta(t, la.Items[i].Score, lb.Items[i].Score, 1e-12)
	}
}

func TestRecommend_UnknownClient(t *testing.T) {
	env := newTestEnv(t, models.RankerTree)
	ctx := context.Background()
	_, err := env.svc.Train(ctx)
	require.NoError(t, err)

	_, err = env.svc.Recommend(ctx, 99, 3)
	assert.ErrorIs(t, err, domain.ErrUnknownID)

	var idErr *domain.UnknownIDError
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, domain.KindClient, idErr.Kind)
}

func TestRecommend_TopNBounds(t *testing.T) {
	env := newTestEnv(t, models.RankerTree)
	ctx := context.Background()
	_, err := env.svc.Train(ctx)
	require.NoError(t, err)

	list, err := env.svc.Recommend(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, list.Items, models.DefaultTopN)

	// у клиента 1 осталось 5 невзятых машин
	list, err = env.svc.Recommend(ctx, 1, 1000)
	require.NoError(t, err)
	assert.Len(t, list.Items, 5)
}

func TestRecommend_CacheAndRetrain(t *testing.T) {
	env := newTestEnv(t, models.RankerEmbedding)
	ctx := context.Background()

	_, err := env.svc.Train(ctx)
	require.NoError(t, err)

	first, err := env.svc.Recommend(ctx, 1, 3)
	require.NoError(t, err)
	second, err := env.svc.Recommend(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
	assert.Equal(t, vehicleIDs(first), vehicleIDs(second))

	result, err := env.svc.Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Meta.Version)

	third, err := env.svc.Recommend(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, third.ModelVersion)
	assert.NotEqual(t, first.GeneratedAt, third.GeneratedAt)
}

func TestRecommend_ReloadFromStore(t *testing.T) {
	env := newTestEnv(t, models.RankerTree)
	ctx := context.Background()

	_, err := env.svc.Train(ctx)
	require.NoError(t, err)
	trained, err := env.svc.Recommend(ctx, 3, 4)
	require.NoError(t, err)

	store, err := modelstore.NewStore(env.modelDir)
	require.NoError(t, err)
	fresh := NewRecommendationService(env.db, store, nil, nil, nil, testConfig(models.RankerTree), nil)

	loaded, err := fresh.Recommend(ctx, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, vehicleIDs(trained), vehicleIDs(loaded))
	for i := range trained.Items {
		assert.InDelta(t, trained.Items[i].Score, loaded.Items[i].Score, 1e-12)
	}

	meta, err := fresh.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Version)
}

func TestRecommend_PicksUpModelTrainedElsewhere(t *testing.T) {
	env := newTestEnv(t, models.RankerTree)
	ctx := context.Background()

	_, err := env.svc.Train(ctx)
	require.NoError(t, err)
	before, err := env.svc.Recommend(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, before.ModelVersion)

	// second process with its own store over the same directory
	store, err := modelstore.NewStore(env.modelDir)
	require.NoError(t, err)
	other := NewRecommendationService(env.db, store, nil, nil, nil, testConfig(models.RankerEmbedding), nil)
	res, err := other.Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Meta.Version)

	meta, err := env.svc.Model(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Version)
	assert.Equal(t, models.RankerEmbedding, meta.Ranker)

	after, err := env.svc.Recommend(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, after.ModelVersion)

	// the service's own retrain continues the sequence instead of overwriting v2
	res, err = env.svc.Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Meta.Version)

	loaded, err := store.Load(ctx, models.ModelName, 2)
	require.NoError(t, err)
	assert.Equal(t, models.RankerEmbedding, loaded.Meta.Ranker)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, models.RankerTree)
	ctx := context.Background()

	var exported events.RecommendationsPayload
	env.bus.Subscribe(events.EventRecommendationsExported, func(e *events.Event) error {
		return e.Decode(&exported)
	})

	_, err := env.svc.Train(ctx)
	require.NoError(t, err)

	list, path, err := env.svc.Export(ctx, 1, 3)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Len(t, list.Items, 3)

	assert.Equal(t, path, exported.Path)
	assert.Equal(t, vehicleIDs(list), exported.VehicleIDs)
	require.NotNil(t, exported.List)
	assert.Equal(t, int64(1), exported.List.ClientID)

	noExport := NewRecommendationService(env.db, nil, nil, nil, nil, testConfig(models.RankerTree), nil)
	_, _, err = noExport.Export(ctx, 1, 3)
	assert.Error(t, err)
}

type mockDatasetSource struct {
	mock.Mock
}

func (m *mockDatasetSource) LoadDataset(ctx context.Context) (*models.Dataset, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dataset), args.Error(1)
}

func TestTrain_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadFails", func(t *testing.T) {
		src := new(mockDatasetSource)
		src.On("LoadDataset", mock.Anything).Return(nil, errors.New("db down"))

		svc := NewRecommendationService(src, nil, nil, nil, nil, testConfig(models.RankerTree), nil)
		_, err := svc.Train(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
		src.AssertExpectations(t)
	})

	t.Run("EmptyDataset", func(t *testing.T) {
		src := new(mockDatasetSource)
		src.On("LoadDataset", mock.Anything).Return(&models.Dataset{Clients: []models.Client{{ID: 1}}}, nil)

		svc := NewRecommendationService(src, nil, nil, nil, nil, testConfig(models.RankerTree), nil)
		_, err := svc.Train(ctx)
		assert.ErrorIs(t, err, domain.ErrEmptyDataset)
	})

	t.Run("UnknownRanker", func(t *testing.T) {
		ds := database.DemoDataset()
		src := new(mockDatasetSource)
		src.On("LoadDataset", mock.Anything).Return(&ds, nil)

		svc := NewRecommendationService(src, nil, nil, nil, nil, testConfig("forest"), nil)
		_, err := svc.Train(ctx)
		assert.ErrorIs(t, err, domain.ErrUnknownRanker)
	})
}

func TestHandleModelTrained_BadPayload(t *testing.T) {
	svc := NewRecommendationService(nil, nil, nil, nil, nil, testConfig(models.RankerTree), nil)
	err := svc.HandleModelTrained(&events.Event{Type: events.EventModelTrained, Payload: []byte("{")})
	assert.Error(t, err)
}
