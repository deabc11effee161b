package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bendikrb/spotcast/internal/core"
)

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

type Metrics struct {
	RefreshesTotal  *prometheus.CounterVec
	CacheHitsTotal  *prometheus.CounterVec
	LaunchesTotal   *prometheus.CounterVec
	PlaybacksTotal  *prometheus.CounterVec
	TokenRefreshes  *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	LaunchDuration  prometheus.Histogram
	LinkedAccounts  prometheus.Gauge
	ActiveReceivers prometheus.Gauge
}

func NewServer(config *core.ServerConfig, logger *zap.Logger) *Server {
	metrics := &Metrics{
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotcast_dataset_refreshes_total",
				Help: "Total number of dataset refreshes against the Web API",
			},
			[]string{"dataset"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotcast_cache_hits_total",
				Help: "Total number of dataset reads served from cache",
			},
			[]string{"dataset"},
		),
		LaunchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotcast_launches_total",
				Help: "Total number of receiver app launches",
			},
			[]string{"outcome"},
		),
		PlaybacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotcast_playback_commands_total",
				Help: "Total number of playback commands issued",
			},
			[]string{"kind", "status"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotcast_token_refreshes_total",
				Help: "Total number of session token refreshes",
			},
			[]string{"session", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotcast_errors_total",
				Help: "Total number of errors",
			},
			[]string{"component", "type"},
		),
		LaunchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spotcast_launch_duration_seconds",
				Help:    "Time from app start to confirmed launch",
				Buckets: prometheus.DefBuckets,
			},
		),
		LinkedAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spotcast_linked_accounts",
				Help: "Number of configured accounts",
			},
		),
		ActiveReceivers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spotcast_active_receivers",
				Help: "Number of cast devices with a launched receiver app",
			},
		),
	}

	prometheus.MustRegister(
		metrics.RefreshesTotal,
		metrics.CacheHitsTotal,
		metrics.LaunchesTotal,
		metrics.PlaybacksTotal,
		metrics.TokenRefreshes,
		metrics.ErrorsTotal,
		metrics.LaunchDuration,
		metrics.LinkedAccounts,
		metrics.ActiveReceivers,
	)

	server := createHTTPServer(config, setupRoutes())

	return &Server{
		config:  config,
		logger:  logger,
		server:  server,
		metrics: metrics,
	}
}

func setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok","service":"spotcast"}`)); err != nil {
			// Log error if needed, but don't fail the handler
		}
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ready","service":"spotcast"}`)); err != nil {
			// Log error if needed, but don't fail the handler
		}
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", homeHandler())

	return mux
}

func homeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Spotcast</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
        .endpoint a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1 class="header">🔊 Spotcast</h1>
    <p>Spotify → Cast Device Bridge Service</p>

    <h2>Endpoints</h2>
    <div class="endpoint">📊 <a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint">💚 <a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint">✅ <a href="/readyz">Ready</a> - Readiness check</div>

    <h2>Status</h2>
    <p>Service is running and ready to launch receiver apps.</p>
</body>
</html>`)); err != nil {
			// Log error if needed, but don't fail the handler
		}
	}
}

func createHTTPServer(config *core.ServerConfig, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

func (s *Server) RecordRefresh(dataset string) {
	s.metrics.RefreshesTotal.WithLabelValues(dataset).Inc()
}

func (s *Server) RecordCacheHit(dataset string) {
	s.metrics.CacheHitsTotal.WithLabelValues(dataset).Inc()
}

func (s *Server) RecordLaunch(outcome string, duration time.Duration) {
	s.metrics.LaunchesTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		s.metrics.LaunchDuration.Observe(duration.Seconds())
	}
}

func (s *Server) RecordPlayback(kind, status string) {
	s.metrics.PlaybacksTotal.WithLabelValues(kind, status).Inc()
}

func (s *Server) RecordTokenRefresh(session, status string) {
	s.metrics.TokenRefreshes.WithLabelValues(session, status).Inc()
}

func (s *Server) RecordError(component, errorType string) {
	s.metrics.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func (s *Server) SetLinkedAccounts(count int) {
	s.metrics.LinkedAccounts.Set(float64(count))
}

func (s *Server) SetActiveReceivers(count int) {
	s.metrics.ActiveReceivers.Set(float64(count))
}
