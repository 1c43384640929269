// Package http exposes operational endpoints and read access to the
// archived time series.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmogrid/raster-ingest/internal/dataset"
	"github.com/atmogrid/raster-ingest/internal/domain"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// DatasetResolver hands out query handles per source.
type DatasetResolver interface {
	Handle(src domain.Source) (*dataset.Handle, error)
}

// Server exposes health, readiness, metrics, and dataset query endpoints.
type Server struct {
	httpServer *http.Server
	datasets   DatasetResolver
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /v1/{source} query routes. Pass a nil resolver to disable queries.
func NewServer(addr string, ready ReadinessChecker, datasets DatasetResolver, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		datasets: datasets,
		logger:   logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if datasets != nil {
		mux.HandleFunc("GET /v1/{source}/point", s.handlePoint)
		mux.HandleFunc("GET /v1/{source}/area", s.handleArea)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handlePoint(w http.ResponseWriter, r *http.Request) {
	h, ok := s.resolve(w, r)
	if !ok {
		return
	}
	lat, ok1 := queryFloat(r, "lat")
	lon, ok2 := queryFloat(r, "lon")
	if !ok1 || !ok2 {
		writeError(w, http.StatusBadRequest, "lat and lon query parameters are required")
		return
	}
	series, err := h.PointSeries(lat, lon)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, seriesResponse{Series: jsonSafe(series)})
}

func (s *Server) handleArea(w http.ResponseWriter, r *http.Request) {
	h, ok := s.resolve(w, r)
	if !ok {
		return
	}
	minLat, ok1 := queryFloat(r, "min_lat")
	maxLat, ok2 := queryFloat(r, "max_lat")
	minLon, ok3 := queryFloat(r, "min_lon")
	maxLon, ok4 := queryFloat(r, "max_lon")
	if !(ok1 && ok2 && ok3 && ok4) {
		writeError(w, http.StatusBadRequest, "min_lat, max_lat, min_lon, and max_lon query parameters are required")
		return
	}
	series, err := h.AreaMean(minLat, maxLat, minLon, maxLon)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, seriesResponse{Series: jsonSafe(series)})
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*dataset.Handle, bool) {
	src, err := domain.SourceByName(r.PathValue("source"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	h, err := s.datasets.Handle(src)
	if err != nil {
		s.logger.Error("dataset handle unavailable", "source", src.Name, "error", err)
		writeError(w, http.StatusServiceUnavailable, "dataset unavailable")
		return nil, false
	}
	return h, true
}

type seriesResponse struct {
	Series []seriesPoint `json:"series"`
}

type seriesPoint struct {
	Day   string   `json:"day"`
	Value *float64 `json:"value"` // null where the archive has no data
}

// jsonSafe renders NaN no-data values as nulls, since JSON has no NaN.
func jsonSafe(series []dataset.Observation) []seriesPoint {
	out := make([]seriesPoint, len(series))
	for i, obs := range series {
		p := seriesPoint{Day: domain.DayKey(obs.Day)}
		if !domain.IsNoData(obs.Value) {
			v := obs.Value
			p.Value = &v
		}
		out[i] = p
	}
	return out
}

func queryFloat(r *http.Request, name string) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
