// Package metrics exposes Prometheus counters and the metrics HTTP server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/seedless-backup/common"
)

var (
	// RealmRequests counts calls to individual realms by operation and outcome.
	RealmRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "realm_requests_total",
		Help:      "Requests sent to PIN oracle realms.",
	}, []string{"realm", "op", "result"})

	// BackendRequests counts backup store calls per backend.
	BackendRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "backup_backend_requests_total",
		Help:      "Backup store calls per backend.",
	}, []string{"backend", "op", "result"})

	// OrchestratorRuns counts completed create/recover sequences.
	OrchestratorRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "orchestrator_runs_total",
		Help:      "Create and recover runs by outcome.",
	}, []string{"mode", "result"})

	// RealmGuesses counts PIN verification attempts seen by a realm server.
	RealmGuesses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "realm_pin_attempts_total",
		Help:      "PIN verification attempts handled by this realm.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(RealmRequests, BackendRequests, OrchestratorRuns, RealmGuesses)
}

// Result maps an error to a metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type MetricsServer struct {
	srv *http.Server
}

func New(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
