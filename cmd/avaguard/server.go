package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/config"
	"github.com/vyrodovalexey/avaguard/internal/middleware"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

const (
	defaultAlertsLimit = 50
	maxAlertsLimit     = 1000
)

// routes builds the top level handler. Operational endpoints bypass
// admission; every other path goes through it to the demo upstream.
func (a *application) routes(cfg config.ServerConfig) http.Handler {
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	admitted := middleware.Logging(a.logger, a.httpMetrics)(
		middleware.Admission(a.engine,
			middleware.WithIPExtractor(middleware.NewClientIPExtractor(cfg.TrustedProxies)),
			middleware.WithAdmissionLogger(a.logger),
			middleware.WithAdmissionMetrics(a.httpMetrics),
		)(http.HandlerFunc(upstream)),
	)

	mux := http.NewServeMux()
	mux.Handle(metricsPath, a.metrics.Handler())
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /alerts", a.handleAlerts)
	mux.Handle("/", admitted)

	return middleware.Recovery(a.logger, a.httpMetrics)(middleware.RequestID()(mux))
}

// upstream stands in for the protected service.
func upstream(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"identity":   util.IdentityFromContext(r.Context()),
		"endpoint":   r.URL.Path,
		"method":     r.Method,
		"request_id": util.RequestIDFromContext(r.Context()),
		"time":       time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": version})
}

func (a *application) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Stats())
}

func (a *application) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAlertsLimit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": a.engine.RecentAlerts(limit),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
