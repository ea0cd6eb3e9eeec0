// Package metrics exposes Prometheus counters for magic-link issuance,
// verification outcomes, reaping and storage failures.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "magiclink"

// Recorder is the instrumentation surface used by the services.
type Recorder interface {
	LinkIssued()
	Verification(outcome string)
	Reaped(n int)
	StorageError(op string)
}

// Metrics registers its collectors on a private registry so tests and
// multiple servers in one process do not collide.
type Metrics struct {
	registry      *prometheus.Registry
	issued        prometheus.Counter
	verifications *prometheus.CounterVec
	reaped        prometheus.Counter
	storageErrors *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issued_total",
			Help:      "Magic links issued, including overwrites of an existing record.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification attempts by outcome.",
		}, []string{"outcome"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_total",
			Help:      "Ledger records deleted by the reaper.",
		}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Operations that failed with a storage error.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.issued, m.verifications, m.reaped, m.storageErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) LinkIssued()                 { m.issued.Inc() }
func (m *Metrics) Verification(outcome string) { m.verifications.WithLabelValues(outcome).Inc() }
func (m *Metrics) StorageError(op string)      { m.storageErrors.WithLabelValues(op).Inc() }

func (m *Metrics) Reaped(n int) {
	if n > 0 {
		m.reaped.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Nop discards everything.
type Nop struct{}

func (Nop) LinkIssued()         {}
func (Nop) Verification(string) {}
func (Nop) Reaped(int)          {}
func (Nop) StorageError(string) {}
