// Package metrics exposes the recorder's counters to prometheus.
package metrics

import (
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goutils "go.viam.com/utils"

	"go.viam.com/jointrecord/logging"
)

// Metrics holds the collectors updated by a recorder.
type Metrics struct {
	registry *prometheus.Registry

	StateMessages   prometheus.Counter
	CommandMessages *prometheus.CounterVec
	Samples         prometheus.Counter
	Aborts          prometheus.Counter
	TickPeriod      prometheus.Gauge
	StateAge        prometheus.Gauge
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StateMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jointrecord_state_messages_total",
			Help: "Joint state messages received",
		}),
		CommandMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jointrecord_command_messages_total",
			Help: "Joint command messages received",
		}, []string{"mode"}),
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jointrecord_samples_total",
			Help: "Samples appended to the recording buffer",
		}),
		Aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jointrecord_aborts_total",
			Help: "Recordings aborted because the joint state went stale",
		}),
		TickPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jointrecord_tick_period_seconds",
			Help: "Measured period between the last two sampler ticks",
		}),
		StateAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jointrecord_state_age_seconds",
			Help: "Age of the latest joint state at the last sampler tick",
		}),
	}
	m.registry.MustRegister(m.StateMessages, m.CommandMessages, m.Samples, m.Aborts, m.TickPeriod, m.StateAge)
	return m
}

// Gatherer returns the registry the collectors live in.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts an http server exposing /metrics on addr. Failing to bind addr is returned; errors
// while serving are logged. The caller owns shutting the server down.
func (m *Metrics) Serve(addr string, logger logging.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening for metrics on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	goutils.PanicCapturingGo(func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server stopped", "address", srv.Addr, "error", err)
		}
	})
	return srv, nil
}
