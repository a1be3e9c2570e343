// Package api is the admin/control HTTP surface: health, Prometheus
// metrics, config reload/get/push, and troubleshooting guide
// management. The alert-ingress webhook lives in internal/ingress and
// is mounted onto this server's Mux by the caller, mirroring the
// teacher's convention of a single ServeMux extended by sibling
// packages after construction.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilot-net/alert-relay/internal/metrics"
	"github.com/pilot-net/alert-relay/internal/types"
)

// ConfigService is the subset of config.Service the API depends on.
type ConfigService interface {
	Reload(ctx context.Context) (int, error)
	Snapshot() types.Config
	Push(ctx context.Context, raw any) error
}

// GuideStore is the subset of store.Store the troubleshooting-guide
// endpoints depend on. nil means no database is configured, in which
// case POST returns 503 per spec.md.
type GuideStore interface {
	GetGuide(ctx context.Context, ruleName string) (*types.TroubleshootingGuide, error)
	ListGuides(ctx context.Context) ([]types.TroubleshootingGuide, error)
	PutGuide(ctx context.Context, g types.TroubleshootingGuide) error
}

// Server is the admin HTTP API.
type Server struct {
	mux         *http.ServeMux
	bearerToken string
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewServer builds the admin API server. bearerToken is checked on
// every request when non-empty; an empty token disables auth entirely,
// matching spec.md's "bearer token when configured" wording.
func NewServer(cfgSvc ConfigService, guides GuideStore, m *metrics.Metrics, bearerToken string, logger *slog.Logger) *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		bearerToken: bearerToken,
		metrics:     m,
		logger:      logger.With("component", "api"),
	}
	s.registerRoutes(cfgSvc, guides)
	return s
}

// Mux exposes the underlying ServeMux so sibling packages (ingress, in
// particular) can register additional routes on the same server.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// ServeHTTP implements http.Handler, applying bearer auth and request
// logging ahead of routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/health" && !s.authorized(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
}

func (s *Server) authorized(r *http.Request) bool {
	if s.bearerToken == "" {
		return true
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return false
	}
	given := auth[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.bearerToken)) == 1
}

func (s *Server) registerRoutes(cfgSvc ConfigService, guides GuideStore) {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("GET /reload", s.handleReload(cfgSvc))
	s.mux.HandleFunc("POST /reload", s.handleReload(cfgSvc))
	s.mux.HandleFunc("GET /get-config", s.handleGetConfig(cfgSvc))
	s.mux.HandleFunc("POST /push-config", s.handlePushConfig(cfgSvc))

	s.mux.HandleFunc("GET /troubleshooting-guide", s.handleGetGuide(guides))
	s.mux.HandleFunc("POST /troubleshooting-guide", s.handlePutGuide(guides))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
