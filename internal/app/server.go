package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"alertsync/internal/config"
	"alertsync/internal/connector"
	"alertsync/internal/logging"
	"alertsync/internal/version"
)

// health tracks the latest run for /healthz.
type health struct {
	mu          sync.RWMutex
	now         func() time.Time
	started     time.Time
	lastRun     time.Time
	lastSuccess time.Time
	lastError   string
	lastAlerts  int
}

func newHealth(now func() time.Time) *health {
	return &health{now: now, started: now().UTC()}
}

func (h *health) observe(report connector.Report, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastRun = h.now().UTC()
	if err != nil {
		h.lastError = err.Error()
		return
	}
	h.lastError = ""
	if !report.Skipped {
		h.lastSuccess = h.lastRun
		h.lastAlerts = report.Alerts
	}
}

type healthStatus struct {
	Status      string     `json:"status"`
	Version     string     `json:"version"`
	StartedAt   time.Time  `json:"started_at"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastAlerts  int        `json:"last_alerts"`
	LastError   string     `json:"last_error,omitempty"`
}

func (h *health) snapshot() healthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := healthStatus{
		Status:     "ok",
		Version:    version.Version,
		StartedAt:  h.started,
		LastAlerts: h.lastAlerts,
		LastError:  h.lastError,
	}
	if !h.lastRun.IsZero() {
		t := h.lastRun
		st.LastRun = &t
	}
	if !h.lastSuccess.IsZero() {
		t := h.lastSuccess
		st.LastSuccess = &t
	}
	if h.lastError != "" {
		st.Status = "degraded"
	}
	return st
}

// server exposes metrics and health next to the scheduler.
type server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

func newServer(cfg config.MetricsConfig, reg *prometheus.Registry, h *health, logger zerolog.Logger) *server {
	return &server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           newRouter(cfg.Path, reg, h),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logging.Component(logger, "http"),
	}
}

func newRouter(metricsPath string, reg *prometheus.Registry, h *health) *mux.Router {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	router := mux.NewRouter()
	router.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := h.snapshot()
		w.Header().Set("Content-Type", "application/json")
		if st.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}).Methods(http.MethodGet)
	return router
}

// serve blocks until ctx is cancelled, then shuts the listener down.
func (s *server) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("metrics listener started")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("metrics listener stopped")
	return nil
}
