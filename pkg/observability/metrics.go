package observability

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the access-control core.
type Metrics struct {
	// Permission resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	ChecksDenied       *prometheus.CounterVec

	// Reconciliation metrics
	ReconcilesTotal   *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	ReconcileWrites   prometheus.Counter
	ReconcileRemovals prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec
	StorageErrorsTotal     *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_resolutions_total",
				Help: "Total number of effective-permission resolutions",
			},
			[]string{"reference_type", "outcome"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_resolution_duration_seconds",
				Help:    "Duration of effective-permission resolutions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"reference_type"},
		),
		ChecksDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_checks_denied_total",
				Help: "Total number of denied permission checks",
			},
			[]string{"reference_type"},
		),
		ReconcilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_reconciles_total",
				Help: "Total number of provisioning reconciliations",
			},
			[]string{"provider", "outcome"},
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_reconcile_duration_seconds",
				Help:    "Duration of provisioning reconciliations",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReconcileWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_reconcile_writes_total",
				Help: "Membership edges created or re-roled by reconciliation",
			},
		),
		ReconcileRemovals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_reconcile_removals_total",
				Help: "Membership edges removed by reconciliation",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"store", "operation"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_storage_errors_total",
				Help: "Total number of storage operation failures",
			},
			[]string{"store", "operation"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.ChecksDenied,
		m.ReconcilesTotal,
		m.ReconcileDuration,
		m.ReconcileWrites,
		m.ReconcileRemovals,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.StorageOperationsTotal,
		m.StorageErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// UpdateDBStats refreshes the database connection gauges from sql.DBStats.
func (m *Metrics) UpdateDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}
