// Package metrics exposes Prometheus collectors for the entry store and the
// HTTP API. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/stockrelay/stockrelay/server/internal/store"
)

const namespace = "stockrelay"

// Upsert sources.
const (
	SourceManual = "manual"
	SourceBatch  = "batch"
	SourceGRPC   = "grpc"
)

// Delete kinds.
const (
	DeleteByID      = "id"
	DeleteBySession = "session"
)

// Metrics holds the collectors registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	upserts  *prometheus.CounterVec
	deletes  *prometheus.CounterVec
	swept    prometheus.Counter
	skipped  prometheus.Counter
	requests *prometheus.CounterVec
}

// New creates the collectors and registers them, plus an entry-count gauge
// reading st and the standard Go runtime collectors.
func New(st *store.Store) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_upserted_total",
			Help:      "Entries inserted or replaced, by source.",
		}, []string{"source"}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_deleted_total",
			Help:      "Entries removed explicitly, by kind.",
		}, []string{"kind"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_swept_total",
			Help:      "Entries removed by the expiry sweep.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_elements_skipped_total",
			Help:      "Malformed session batch elements that were skipped.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled by the stock API.",
		}, []string{"method", "code"}),
	}

	entries := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "entries",
		Help:      "Entries currently held, including ones not yet swept.",
	}, func() float64 { return float64(st.Count()) })

	m.registry.MustRegister(
		m.upserts, m.deletes, m.swept, m.skipped, m.requests, entries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument counts requests passing through next by method and status code.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return promhttp.InstrumentHandlerCounter(m.requests, next)
}

// Gather returns the current metric families keyed by name.
func (m *Metrics) Gather() (map[string]*dto.MetricFamily, error) {
	mfs, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out, nil
}

// ObserveUpserts records n entries written from source.
func (m *Metrics) ObserveUpserts(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.upserts.WithLabelValues(source).Add(float64(n))
}

// ObserveDeletes records n entries removed by kind.
func (m *Metrics) ObserveDeletes(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deletes.WithLabelValues(kind).Add(float64(n))
}

// ObserveSwept records n entries removed by a sweep.
func (m *Metrics) ObserveSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

// ObserveSkipped records n skipped batch elements.
func (m *Metrics) ObserveSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skipped.Add(float64(n))
}
