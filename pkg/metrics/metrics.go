// Package metrics exposes local prometheus collectors fed by the resource
// monitor and the compute engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can run side by side.
type Metrics struct {
	registry *prometheus.Registry

	CPULoad       prometheus.Gauge
	MemAvailable  prometheus.Gauge
	StorageUsed   prometheus.Gauge
	HealthScore   prometheus.Gauge
	Autonomy      prometheus.Gauge
	ShardsServed  prometheus.Counter
	ShardLoads    prometheus.Counter
	FallbackRuns  prometheus.Counter
	AlertsRaised  *prometheus.CounterVec
	ComputeMillis prometheus.Histogram
}

// New builds and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CPULoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshnode_cpu_load_percent", Help: "Aggregate CPU load.",
		}),
		MemAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshnode_memory_available_mb", Help: "Available memory in MB.",
		}),
		StorageUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshnode_storage_used_percent", Help: "Root volume used percentage.",
		}),
		HealthScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshnode_health_score", Help: "Derived health score, 0-100.",
		}),
		Autonomy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshnode_autonomy_level", Help: "Autonomy tier: 0 survival .. 3 full.",
		}),
		ShardsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshnode_shards_processed_total", Help: "Shards processed.",
		}),
		ShardLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshnode_shard_loads_total", Help: "Model shard load operations.",
		}),
		FallbackRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshnode_fallback_shards_total", Help: "Shards served by the deterministic fallback.",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshnode_alerts_total", Help: "Resource alerts by severity.",
		}, []string{"severity"}),
		ComputeMillis: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshnode_compute_duration_ms",
			Help:    "Shard compute time in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	reg.MustRegister(
		m.CPULoad, m.MemAvailable, m.StorageUsed, m.HealthScore, m.Autonomy,
		m.ShardsServed, m.ShardLoads, m.FallbackRuns, m.AlertsRaised, m.ComputeMillis,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
