// Package metrics defines Prometheus instrumentation for luminaguardd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the sandbox core.
type Metrics struct {
	PoolHits         prometheus.Counter
	PoolMisses       prometheus.Counter
	ColdBoots        prometheus.Counter
	SnapshotRefresh  prometheus.Counter
	SnapshotFailures prometheus.Counter
	FirewallErrors   prometheus.Counter
	AuditDropped     prometheus.Counter
	ActiveVMs        prometheus.Gauge
}

// NewMetrics creates and registers sandbox metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		PoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luminaguard",
			Subsystem: "pool",
			Name:      "hits_total",
			Help:      "Total VM spawns served from a warm snapshot.",
		}),
		PoolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luminaguard",
			Subsystem: "pool",
			Name:      "misses_total",
			Help:      "Total acquire attempts that found the pool empty.",
		}),
		ColdBoots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luminaguard",
			Subsystem: "lifecycle",
			Name:      "cold_boots_total",
			Help:      "Total VM spawns that fell back to a full kernel boot.",
		}),
		SnapshotRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luminaguard",
			Subsystem: "pool",
			Name:      "refreshes_total",
			Help:      "Total pool snapshots replaced by the refresh loop.",
		}),
		SnapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luminaguard",
			Subsystem: "pool",
			Name:      "refresh_failures_total",
			Help:      "Total snapshot creation attempts that failed.",
		}),
		FirewallErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luminaguard",
			Subsystem: "firewall",
			Name:      "errors_total",
			Help:      "Total firewall configure or verify failures.",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luminaguard",
			Subsystem: "seccomp",
			Name:      "audit_dropped_total",
			Help:      "Total audit entries evicted from the ring buffer.",
		}),
		ActiveVMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "luminaguard",
			Subsystem: "lifecycle",
			Name:      "active_vms",
			Help:      "Number of VMs currently running.",
		}),
	}

	reg.MustRegister(
		m.PoolHits,
		m.PoolMisses,
		m.ColdBoots,
		m.SnapshotRefresh,
		m.SnapshotFailures,
		m.FirewallErrors,
		m.AuditDropped,
		m.ActiveVMs,
	)

	return m
}

// NewRegistry returns a registry pre-loaded with the standard Go process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
