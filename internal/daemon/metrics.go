package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/relbuilder/internal/logfields"
)

var (
	promRegistry = prom.NewRegistry()

	buildsTotal = prom.NewCounter(prom.CounterOpts{
		Namespace: "relbuilder", Name: "builds_total",
		Help: "Total builds processed by the daemon"})
	buildsFailedTotal = prom.NewCounter(prom.CounterOpts{
		Namespace: "relbuilder", Name: "builds_failed_total",
		Help: "Failed builds processed by the daemon"})
	buildRunning = prom.NewGaugeFunc(prom.GaugeOpts{
		Namespace: "relbuilder", Name: "build_running",
		Help: "Whether a build is currently running"}, func() float64 {
		return float64(atomic.LoadInt32(&runningBuilds))
	})
	lastBuildDurationMS = prom.NewGauge(prom.GaugeOpts{
		Namespace: "relbuilder", Name: "last_build_duration_ms",
		Help: "Duration of the most recent successful build in milliseconds"})
)

var (
	registerMetricsOnce sync.Once
	runningBuilds       int32
)

// registerCollectors registers all collectors once per process.
func registerCollectors() {
	registerMetricsOnce.Do(func() {
		promRegistry.MustRegister(buildsTotal, buildsFailedTotal, buildRunning, lastBuildDurationMS)
		promRegistry.MustRegister(promcollect.NewGoCollector(),
			promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	})
}

func recordBuildStart() {
	atomic.AddInt32(&runningBuilds, 1)
	buildsTotal.Inc()
}

func recordBuildEnd(success bool, duration time.Duration) {
	atomic.AddInt32(&runningBuilds, -1)
	if success {
		lastBuildDurationMS.Set(float64(duration.Milliseconds()))
	} else {
		buildsFailedTotal.Inc()
	}
}

// MetricsServer serves the Prometheus /metrics endpoint.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on the given listen address.
func NewMetricsServer(addr string) *MetricsServer {
	registerCollectors()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background.
func (m *MetricsServer) Start() {
	go func() {
		slog.Info("Metrics server listening", slog.String("addr", m.server.Addr))
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", logfields.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (m *MetricsServer) Stop(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}
