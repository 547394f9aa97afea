// Package metrics exposes the server's operational counters/gauges
// (queue depth, active sessions, transferred bytes, quota rejections)
// through prometheus/client_golang, on a port distinct from the file-store
// TCP listener itself.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gauge/counter the server updates. All fields are
// safe for concurrent use (prometheus client types are internally
// synchronized).
type Metrics struct {
	reg *prometheus.Registry

	ConnectionQueueDepth prometheus.Gauge
	TaskQueueDepth       prometheus.Gauge
	ActiveSessions       prometheus.Gauge
	RegisteredAccounts   prometheus.Gauge

	TasksCompleted  *prometheus.CounterVec
	BytesUploaded   prometheus.Counter
	BytesDownloaded prometheus.Counter
	QuotaRejections prometheus.Counter
}

// New constructs a Metrics with all series registered against a private
// registry (never the global default registry, so multiple servers in one
// process/test binary do not collide).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ConnectionQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "filestore_connection_queue_depth",
			Help: "Number of connections currently queued awaiting a session worker.",
		}),
		TaskQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "filestore_task_queue_depth",
			Help: "Number of tasks currently queued awaiting a file worker.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "filestore_active_sessions",
			Help: "Number of sessions currently being served by a session worker.",
		}),
		RegisteredAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "filestore_registered_accounts",
			Help: "Number of accounts currently in the registry.",
		}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filestore_tasks_completed_total",
			Help: "Number of tasks completed by the file worker pool, by command kind and outcome.",
		}, []string{"kind", "outcome"}),
		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "filestore_bytes_uploaded_total",
			Help: "Total bytes received via UPLOAD.",
		}),
		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "filestore_bytes_downloaded_total",
			Help: "Total bytes sent via DOWNLOAD.",
		}),
		QuotaRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "filestore_quota_rejections_total",
			Help: "Number of UPLOAD requests refused for exceeding quota.",
		}),
	}
}

// Server wraps an http.Server exposing /metrics. Binding failure here is
// non-fatal to the caller: metrics are observability, not correctness
// (SPEC_FULL.md §6).
type Server struct {
	httpSrv *http.Server
	ln      net.Listener
}

// Listen binds addr immediately so callers can detect a port conflict
// before deciding whether to proceed without metrics.
func (m *Metrics) Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))

	return &Server{
		httpSrv: &http.Server{Handler: mux},
		ln:      ln,
	}, nil
}

// Serve blocks, serving /metrics until the listener is closed.
func (s *Server) Serve() error {
	err := s.httpSrv.Serve(s.ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
