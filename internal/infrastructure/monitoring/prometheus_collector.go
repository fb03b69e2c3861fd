package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	connectionsActive prometheus.Gauge
	cachedSnapshots   prometheus.Gauge

	// Counters
	permissionLoadsTotal    prometheus.Counter
	permissionLoadFailures  prometheus.Counter
	cacheExpiredLookups     prometheus.Counter
	revocationsTotal        *prometheus.CounterVec
	subscriptionsRemoved    prometheus.Counter
	notificationsSent       prometheus.Counter
	notificationsFailed     prometheus.Counter
	recordsFiltered         *prometheus.CounterVec

	// Histograms
	filterDuration      prometheus.Histogram
	propagationDuration prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gridsync_connections_active",
			Help: "Number of live gateway connections",
		}),

		cachedSnapshots: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gridsync_permission_snapshots_cached",
			Help: "Number of connection permission snapshots currently tracked",
		}),

		permissionLoadsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_permission_loads_total",
			Help: "Total permission snapshot loads and refreshes",
		}),

		permissionLoadFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_permission_load_failures_total",
			Help: "Total failed permission snapshot loads",
		}),

		cacheExpiredLookups: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_permission_cache_expired_lookups_total",
			Help: "Lookups that found an expired permission snapshot",
		}),

		revocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_revocations_total",
			Help: "Revocation propagations processed, by kind",
		}, []string{"kind"}),

		subscriptionsRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_subscriptions_removed_total",
			Help: "Subscriptions torn down by revocation propagation",
		}),

		notificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_revocation_notifications_sent_total",
			Help: "permission_revoked events delivered to clients",
		}),

		notificationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_revocation_notifications_failed_total",
			Help: "permission_revoked events that could not be delivered",
		}),

		recordsFiltered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_records_filtered_total",
			Help: "Records evaluated by the permission filter, by outcome",
		}, []string{"outcome"}),

		filterDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridsync_record_filter_duration_seconds",
			Help:    "Duration of record batch filtering",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		propagationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridsync_revocation_propagation_duration_seconds",
			Help:    "Duration of a full revocation propagation pass",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsActive.Inc()
}

func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

func (c *PrometheusCollector) SetCachedSnapshots(count int) {
	c.cachedSnapshots.Set(float64(count))
}

func (c *PrometheusCollector) PermissionLoaded() {
	c.permissionLoadsTotal.Inc()
}

func (c *PrometheusCollector) PermissionLoadFailed() {
	c.permissionLoadFailures.Inc()
}

func (c *PrometheusCollector) ExpiredLookup() {
	c.cacheExpiredLookups.Inc()
}

// RecordPropagation records the outcome of one propagation pass.
// kind is "membership_revoked" or "role_changed".
func (c *PrometheusCollector) RecordPropagation(kind string, removedSubscriptions, notified, affected int, duration time.Duration) {
	c.revocationsTotal.WithLabelValues(kind).Inc()
	c.subscriptionsRemoved.Add(float64(removedSubscriptions))
	c.notificationsSent.Add(float64(notified))
	if failed := affected - notified; failed > 0 {
		c.notificationsFailed.Add(float64(failed))
	}
	c.propagationDuration.Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordFilterPass(allowed, denied int, duration time.Duration) {
	c.recordsFiltered.WithLabelValues("allowed").Add(float64(allowed))
	c.recordsFiltered.WithLabelValues("denied").Add(float64(denied))
	c.filterDuration.Observe(duration.Seconds())
}
