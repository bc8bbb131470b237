// Package monitoring exposes pinch operational metrics as Prometheus
// collectors, served on the dashboard's /metrics endpoint.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors incremented by the ingest path,
// the budget tracker, and the query API.
type Metrics struct {
	// Registry owns the collectors; the dashboard serves it on /metrics.
	Registry *prometheus.Registry

	RecordsTotal  prometheus.Counter
	CostTotal     prometheus.Counter
	IngestErrors  prometheus.Counter
	UnknownModels prometheus.Counter
	AlertsTotal   *prometheus.CounterVec
	QueriesTotal  *prometheus.CounterVec
	TodayCost     prometheus.Gauge
}

// New builds the pinch collectors on a dedicated registry. A dedicated
// registry keeps repeated construction (tests, embedded use) from fighting
// over the global default.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pinch_records_total",
			Help: "Cost records ingested since process start",
		}),
		CostTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pinch_cost_usd_total",
			Help: "Total metered cost in USD since process start",
		}),
		IngestErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pinch_ingest_errors_total",
			Help: "Completion events that yielded no record",
		}),
		UnknownModels: factory.NewCounter(prometheus.CounterOpts{
			Name: "pinch_unknown_model_records_total",
			Help: "Records written with an unknown model (cost $0)",
		}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pinch_budget_alerts_total",
			Help: "Budget threshold alerts produced",
		}, []string{"period"}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pinch_queries_total",
			Help: "Query API requests served",
		}, []string{"endpoint"}),
		TodayCost: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pinch_today_cost_usd",
			Help: "Current day's accumulated cost in USD",
		}),
	}
}
