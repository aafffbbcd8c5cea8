package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"vehirec/internal/config"
	"vehirec/internal/domain"
	"vehirec/internal/modelstore"
	"vehirec/internal/models"
	"vehirec/internal/pipeline"
	"vehirec/internal/ranker"
	"vehirec/internal/service"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRecommender struct {
	mock.Mock
}

func (m *mockRecommender) Recommend(ctx context.Context, clientID int64, n int) (*models.RecommendationList, error) {
	args := m.Called(ctx, clientID, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RecommendationList), args.Error(1)
}

func (m *mockRecommender) Export(ctx context.Context, clientID int64, n int) (*models.RecommendationList, string, error) {
	args := m.Called(ctx, clientID, n)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*models.RecommendationList), args.String(1), args.Error(2)
}

func (m *mockRecommender) Train(ctx context.Context) (*service.TrainResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.TrainResult), args.Error(1)
}

func (m *mockRecommender) Model(ctx context.Context) (modelstore.Metadata, error) {
	args := m.Called(ctx)
	return args.Get(0).(modelstore.Metadata), args.Error(1)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Vehicle), args.Error(1)
}

func (m *mockCatalog) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vehicle), args.Error(1)
}

func (m *mockCatalog) ClientBookings(ctx context.Context, clientID int64) ([]models.Booking, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func newTestServer(t *testing.T, cfg *config.APIConfig) (*httptest.Server, *mockRecommender, *mockCatalog) {
	t.Helper()
	if cfg == nil {
		cfg = &config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true}}
	}
	recs := new(mockRecommender)
	catalog := new(mockCatalog)
	srv := NewHTTPServer(cfg, recs, catalog, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, recs, catalog
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func sampleList() *models.RecommendationList {
	return &models.RecommendationList{
		ClientID:     1,
		Ranker:       models.RankerEmbedding,
		ModelVersion: 3,
		Items: []models.Recommendation{
			{Rank: 1, Vehicle: models.Vehicle{ID: 4, Name: "Jeep Wrangler"}, Score: 0.9},
			{Rank: 2, Vehicle: models.Vehicle{ID: 2, Name: "Ford Ranger"}, Score: 0.7},
		},
	}
}

func TestRecommendations(t *testing.T) {
	ts, recs, _ := newTestServer(t, nil)
	recs.On("Recommend", mock.Anything, int64(1), 2).Return(sampleList(), nil)

	resp, body := get(t, ts.URL+"/api/v1/recommendations/1?n=2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	assert.EqualValues(t, 1, body["client_id"])
	assert.EqualValues(t, 3, body["model_version"])

	items := body["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.EqualValues(t, 1, first["rank"])
	assert.EqualValues(t, 4, first["vehicle"].(map[string]any)["id"])

	recs.AssertExpectations(t)
}

func TestRecommendations_DefaultN(t *testing.T) {
	ts, recs, _ := newTestServer(t, nil)
	recs.On("Recommend", mock.Anything, int64(7), 0).Return(sampleList(), nil)

	resp, _ := get(t, ts.URL+"/api/v1/recommendations/7")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	recs.AssertExpectations(t)
}

func TestRecommendations_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"UnknownClient", &domain.UnknownIDError{Kind: domain.KindClient, ID: 9}, http.StatusNotFound},
		{"NoModel", fmt.Errorf("load: %w", domain.ErrModelNotFound), http.StatusServiceUnavailable},
		{"EmptyDataset", &domain.EmptyDatasetError{Relation: "bookings"}, http.StatusConflict},
		{"Internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, recs, _ := newTestServer(t, nil)
			recs.On("Recommend", mock.Anything, int64(9), 0).Return(nil, tc.err)

			resp, body := get(t, ts.URL+"/api/v1/recommendations/9")
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRecommendations_BadInput(t *testing.T) {
	ts, recs, _ := newTestServer(t, nil)

	for _, path := range []string{
		"/api/v1/recommendations/abc",
		"/api/v1/recommendations/0",
		"/api/v1/recommendations/1?n=0",
		"/api/v1/recommendations/1?n=x",
		"/api/v1/recommendations/1?n=101",
	} {
		resp, _ := get(t, ts.URL+path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
	recs.AssertNotCalled(t, "Recommend", mock.Anything, mock.Anything, mock.Anything)
}

func TestExportEndpoint(t *testing.T) {
	ts, recs, _ := newTestServer(t, nil)
	recs.On("Export", mock.Anything, int64(1), 3).Return(sampleList(), "exports/r.xlsx", nil)

	resp, err := http.Post(ts.URL+"/api/v1/recommendations/1/export?n=3", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "exports/r.xlsx", body["file_path"])
}

func TestVehicles(t *testing.T) {
	ts, _, catalog := newTestServer(t, nil)
	catalog.On("ListVehicles", mock.Anything).Return([]models.Vehicle{{ID: 1, Name: "Toyota Corolla"}, {ID: 2, Name: "Ford Ranger"}}, nil)
	catalog.On("GetVehicle", mock.Anything, int64(2)).Return(&models.Vehicle{ID: 2, Name: "Ford Ranger"}, nil)
	catalog.On("GetVehicle", mock.Anything, int64(99)).Return(nil, &domain.UnknownIDError{Kind: domain.KindVehicle, ID: 99})

	resp, body := get(t, ts.URL+"/api/v1/vehicles")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["vehicles"].([]any), 2)

	resp, body = get(t, ts.URL+"/api/v1/vehicles/2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ford Ranger", body["name"])

	resp, _ = get(t, ts.URL+"/api/v1/vehicles/99")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClientBookings(t *testing.T) {
	ts, _, catalog := newTestServer(t, nil)
	catalog.On("ClientBookings", mock.Anything, int64(5)).Return(nil, nil)

	resp, body := get(t, ts.URL+"/api/v1/clients/5/bookings")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["bookings"])
	assert.NotNil(t, body["bookings"])
}

func TestModelAndHealth(t *testing.T) {
	ts, recs, _ := newTestServer(t, nil)
	recs.On("Model", mock.Anything).Return(modelstore.Metadata{Version: 4, Ranker: models.RankerTree}, nil)

	resp, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 4, body["model_version"])

	resp, body = get(t, ts.URL+"/api/v1/model")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.RankerTree, body["ranker"])
}

func TestHealth_NoModel(t *testing.T) {
	ts, recs, _ := newTestServer(t, nil)
	recs.On("Model", mock.Anything).Return(modelstore.Metadata{}, domain.ErrModelNotFound)

	resp, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["model_version"])
}

func TestTrainEndpoint(t *testing.T) {
	ts, recs, _ := newTestServer(t, nil)
	recs.On("Train", mock.Anything).Return(&service.TrainResult{
		Meta:      modelstore.Metadata{Version: 2, Ranker: models.RankerTree},
		Report:    ranker.TrainReport{BestEpoch: 5, Curve: []ranker.Epoch{{Epoch: 0}}},
		Shortfall: pipeline.Shortfall{Users: []int{3}},
	}, nil)

	resp, err := http.Post(ts.URL+"/api/v1/model/train", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 5, body["best_epoch"])
	assert.EqualValues(t, 1, body["shortfall"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/v1/vehicles", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
