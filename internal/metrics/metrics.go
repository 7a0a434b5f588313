package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the job's instrumentation. One instance per process,
// registered on its own registry so tests can build isolated copies.
type Metrics struct {
	reg *prometheus.Registry

	RequestsTotal *prometheus.CounterVec
	RetriesTotal  prometheus.Counter
	ItemsFetched  prometheus.Counter
	RowsUpserted  prometheus.Counter
	RowsPruned    prometheus.Counter
	RunDuration   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wb_requests_total",
			Help: "Upstream API responses by HTTP status code.",
		}, []string{"code"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wb_retries_total",
			Help: "Throttling retries performed against the upstream API.",
		}),
		ItemsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wb_items_fetched_total",
			Help: "Raw search-text items returned by the upstream API.",
		}),
		RowsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wb_rows_upserted_total",
			Help: "Canonical rows written to storage.",
		}),
		RowsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wb_rows_pruned_total",
			Help: "Rows removed by retention pruning.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wb_run_duration_seconds",
			Help: "Wall-clock duration of the last completed run.",
		}),
	}
	m.reg.MustRegister(
		m.RequestsTotal, m.RetriesTotal, m.ItemsFetched,
		m.RowsUpserted, m.RowsPruned, m.RunDuration,
	)
	return m
}

func (m *Metrics) ObserveRequest(status int) {
	m.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
