package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vehirec/internal/config"
	"vehirec/internal/domain"
	"vehirec/internal/metrics"
	"vehirec/internal/modelstore"
	"vehirec/internal/models"
	"vehirec/internal/service"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Recommender is what the HTTP layer needs from the recommendation service.
type Recommender interface {
	Recommend(ctx context.Context, clientID int64, n int) (*models.RecommendationList, error)
	Export(ctx context.Context, clientID int64, n int) (*models.RecommendationList, string, error)
	Train(ctx context.Context) (*service.TrainResult, error)
	Model(ctx context.Context) (modelstore.Metadata, error)
}

// Catalog is the read side of vehicles and bookings.
type Catalog interface {
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error)
	ClientBookings(ctx context.Context, clientID int64) ([]models.Booking, error)
}

// HTTPServer exposes recommendations, the vehicle catalog and model operations.
type HTTPServer struct {
	cfg     *config.APIConfig
	recs    Recommender
	catalog Catalog
	server  *http.Server
	auth    *Auth
	logger  zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, recs Recommender, catalog Catalog, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{cfg: cfg, recs: recs, catalog: catalog, logger: base}
	srv.auth = NewAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/recommendations/{client_id}", srv.handleRecommendations)
	mux.HandleFunc("POST /api/v1/recommendations/{client_id}/export", srv.handleExport)
	mux.HandleFunc("GET /api/v1/vehicles", srv.handleVehicles)
	mux.HandleFunc("GET /api/v1/vehicles/{id}", srv.handleVehicle)
	mux.HandleFunc("GET /api/v1/clients/{client_id}/bookings", srv.handleClientBookings)
	mux.HandleFunc("GET /api/v1/model", srv.handleModel)
	mux.HandleFunc("POST /api/v1/model/train", srv.handleTrain)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if meta, err := s.recs.Model(r.Context()); err == nil {
		resp["model_version"] = meta.Version
		resp["ranker"] = meta.Ranker
	} else {
		resp["model_version"] = 0
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	clientID, n, ok := parseRecommendationRequest(w, r)
	if !ok {
		return
	}

	list, err := s.recs.Recommend(r.Context(), clientID, n)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	clientID, n, ok := parseRecommendationRequest(w, r)
	if !ok {
		return
	}

	list, path, err := s.recs.Export(r.Context(), clientID, n)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"file_path": path, "recommendations": list})
}

func (s *HTTPServer) handleVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.catalog.ListVehicles(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicles": vehicles})
}

func (s *HTTPServer) handleVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vehicle id")
		return
	}
	vehicle, err := s.catalog.GetVehicle(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

func (s *HTTPServer) handleClientBookings(w http.ResponseWriter, r *http.Request) {
	clientID, err := parseID(r.PathValue("client_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid client_id")
		return
	}
	bookings, err := s.catalog.ClientBookings(r.Context(), clientID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"client_id": clientID, "bookings": bookings})
}

func (s *HTTPServer) handleModel(w http.ResponseWriter, r *http.Request) {
	meta, err := s.recs.Model(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *HTTPServer) handleTrain(w http.ResponseWriter, r *http.Request) {
	result, err := s.recs.Train(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"model":          result.Meta,
		"best_epoch":     result.Report.BestEpoch,
		"stopped_early":  result.Report.StoppedEarly,
		"shortfall":      result.Shortfall.Count(),
		"skipped_rows":   result.Skipped,
		"training_curve": result.Report.Curve,
	})
}

func parseRecommendationRequest(w http.ResponseWriter, r *http.Request) (clientID int64, n int, ok bool) {
	clientID, err := parseID(r.PathValue("client_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid client_id")
		return 0, 0, false
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("n")); raw != "" {
		n, err = strconv.Atoi(raw)
		if err != nil || n < 1 || n > models.MaxTopN {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("n must be an integer in [1, %d]", models.MaxTopN))
			return 0, 0, false
		}
	}
	return clientID, n, true
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownID):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrModelNotFound):
		writeError(w, http.StatusServiceUnavailable, "no trained model, run `vehirec train` first")
	case errors.Is(err, domain.ErrEmptyDataset):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "request cancelled")
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(endpointLabel(r))
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// endpointLabel keeps metric cardinality bounded by using the route pattern.
func endpointLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
