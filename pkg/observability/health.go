package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus is the payload of the health endpoints.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthServer serves liveness, readiness and metrics on a port separate
// from the login endpoints.
type HealthServer struct {
	db  *sql.DB
	reg *prometheus.Registry
}

// NewHealthServer creates a health server probing the given database.
func NewHealthServer(db *sql.DB, reg *prometheus.Registry) *HealthServer {
	return &HealthServer{db: db, reg: reg}
}

// Handler returns the health/metrics mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleLiveness)
	mux.HandleFunc("/readyz", h.handleReadiness)
	mux.Handle("/metrics", promhttp.HandlerFor(h.reg, promhttp.HandlerOpts{}))
	return mux
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := HealthStatus{Status: "ok", Checks: map[string]string{"database": "ok"}}
	code := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		status.Status = "unavailable"
		status.Checks["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
