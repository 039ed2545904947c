package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// HealthChecker reports the readiness of one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (h HealthCheckFunc) Name() string                    { return h.CheckName }
func (h HealthCheckFunc) Check(ctx context.Context) error { return h.Fn(ctx) }

// Monitor serves /health and /metrics for operators.
type Monitor struct {
	addr     string
	checks   []HealthChecker
	registry *prometheus.Registry
	server   *http.Server
}

// NewMonitor builds the ops listener with health checks and a Prometheus
// registry.
func NewMonitor(addr string, registry *prometheus.Registry, checks ...HealthChecker) *Monitor {
	m := &Monitor{addr: addr, checks: checks, registry: registry}

	r := mux.NewRouter()
	r.HandleFunc("/health", m.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	m.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return m
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Time   time.Time         `json:"time"`
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}, Time: time.Now().UTC()}
	code := http.StatusOK
	for _, c := range m.checks {
		if err := c.Check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[c.Name()] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp.Checks[c.Name()] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// Start serves until the listener fails; call from a goroutine.
func (m *Monitor) Start() error {
	log.Info().Str("addr", m.addr).Msg("ops monitor listening")
	if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the listener.
func (m *Monitor) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}
