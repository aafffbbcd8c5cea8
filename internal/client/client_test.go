package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"vehirec/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRecommendations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/recommendations/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "extra", r.Header.Get("x-api-extra"))
		assert.Equal(t, "2", r.URL.Query().Get("n"))
		if r.PathValue("id") == "404" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown client: 404"})
			return
		}
		writeJSON(w, http.StatusOK, models.RecommendationList{
			ClientID: 1,
			Items:    []models.Recommendation{{Rank: 1, Vehicle: models.Vehicle{ID: 4}, Score: 0.9}},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL, "key", "extra")

	list, err := c.Recommendations(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, int64(4), list.Items[0].Vehicle.ID)

	_, err = c.Recommendations(context.Background(), 404, 2)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "unknown client")
}

func TestExport(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/recommendations/3/export", r.URL.Path)
		writeJSON(w, http.StatusCreated, map[string]any{
			"file_path":       "exports/x.xlsx",
			"recommendations": models.RecommendationList{ClientID: 3},
		})
	}))
	defer ts.Close()

	res, err := New(ts.URL, "", "").Export(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, "exports/x.xlsx", res.FilePath)
	assert.Equal(t, int64(3), res.Recommendations.ClientID)
}

func TestListVehicles_Cached(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"vehicles": []models.Vehicle{{ID: 1, Name: "Toyota Corolla"}}})
	}))
	defer ts.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := New(ts.URL, "", "")
	c.UseRedisCache(rdb, time.Minute)

	for i := 0; i < 3; i++ {
		vehicles, err := c.ListVehicles(context.Background())
		require.NoError(t, err)
		require.Len(t, vehicles, 1)
		assert.Equal(t, "Toyota Corolla", vehicles[0].Name)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, mr.Exists("client:vehicles"))
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "model_version": 7})
	}))
	defer ts.Close()

	v, err := New(ts.URL, "", "").Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestAPIError_NoBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := New(ts.URL, "", "").Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, "http 503", err.Error())
}
