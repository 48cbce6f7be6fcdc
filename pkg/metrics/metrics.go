// Package metrics exposes transport activity as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components take an
// optional *Metrics without guarding every call.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tlsnet"

// Metrics holds the transport collectors.
type Metrics struct {
	accepts           *prometheus.CounterVec
	dials             *prometheus.CounterVec
	handshakes        *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	lookups           *prometheus.CounterVec
	lookupDuration    prometheus.Histogram
	pendingLookups    prometheus.Gauge
	openStreams       *prometheus.GaugeVec
	bytes             *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// private registry, which keeps tests independent of each other.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		accepts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listener",
				Name:      "accepts_total",
				Help:      "Accepted connections by listener mode.",
			},
			[]string{"mode"},
		),
		dials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "dials_total",
				Help:      "Outbound TLS connection attempts by result.",
			},
			[]string{"result"},
		),
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tls",
				Name:      "handshakes_total",
				Help:      "Completed TLS handshakes by role and result.",
			},
			[]string{"role", "result"},
		),
		handshakeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tls",
				Name:      "handshake_duration_seconds",
				Help:      "TLS handshake duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"role"},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sni",
				Name:      "lookups_total",
				Help:      "SNI certificate lookups by outcome.",
			},
			[]string{"outcome"},
		),
		lookupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sni",
				Name:      "lookup_duration_seconds",
				Help:      "Time from queueing a hostname to its answer.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		pendingLookups: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sni",
				Name:      "pending_lookups",
				Help:      "Hostnames waiting for an answer.",
			},
		),
		openStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tls",
				Name:      "open_streams",
				Help:      "Open TLS streams by role.",
			},
			[]string{"role"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tls",
				Name:      "bytes_total",
				Help:      "Application bytes transferred by direction.",
			},
			[]string{"direction"},
		),
		gatherer: gatherer,
	}

	for _, c := range []prometheus.Collector{
		m.accepts, m.dials, m.handshakes, m.handshakeDuration,
		m.lookups, m.lookupDuration, m.pendingLookups, m.openStreams, m.bytes,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the gathered metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Accepted records an accepted connection. mode is "static" or "resolver".
func (m *Metrics) Accepted(mode string) {
	if m == nil {
		return
	}
	m.accepts.WithLabelValues(mode).Inc()
}

// Dialled records an outbound connection attempt.
func (m *Metrics) Dialled(err error) {
	if m == nil {
		return
	}
	m.dials.WithLabelValues(result(err)).Inc()
}

// Handshake records a finished handshake. role is "server" or "client".
func (m *Metrics) Handshake(role string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(role, result(err)).Inc()
	if err == nil {
		m.handshakeDuration.WithLabelValues(role).Observe(d.Seconds())
	}
}

// StreamOpened increments the open stream gauge.
func (m *Metrics) StreamOpened(role string) {
	if m == nil {
		return
	}
	m.openStreams.WithLabelValues(role).Inc()
}

// StreamClosed decrements the open stream gauge.
func (m *Metrics) StreamClosed(role string) {
	if m == nil {
		return
	}
	m.openStreams.WithLabelValues(role).Dec()
}

// Transferred records application bytes. direction is "in" or "out".
func (m *Metrics) Transferred(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(direction).Add(float64(n))
}

// LookupStarted implements sni.Observer.
func (m *Metrics) LookupStarted(string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("queued").Inc()
	m.pendingLookups.Inc()
}

// LookupDone implements sni.Observer.
func (m *Metrics) LookupDone(_ string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "resolved"
	if err != nil {
		outcome = "failed"
	}
	m.lookups.WithLabelValues(outcome).Inc()
	m.lookupDuration.Observe(elapsed.Seconds())
	m.pendingLookups.Dec()
}

// CacheHit implements sni.Observer.
func (m *Metrics) CacheHit(string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("cached").Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
