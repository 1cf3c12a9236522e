// Package licmetrics holds the Prometheus instrumentation for the
// licensing core.
package licmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts vendor webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigilo",
		Subsystem: "licensing",
		Name:      "webhook_requests_total",
		Help:      "Total license vendor webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vigilo",
		Subsystem: "licensing",
		Name:      "webhook_duration_seconds",
		Help:      "License vendor webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// LicensesByStatus tracks the number of licenses in each lifecycle status.
	LicensesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vigilo",
		Subsystem: "licensing",
		Name:      "licenses_by_status",
		Help:      "Number of licenses by lifecycle status.",
	}, []string{"status"})

	// ResolverCacheLookups counts entitlement cache lookups by outcome.
	ResolverCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigilo",
		Subsystem: "licensing",
		Name:      "resolver_cache_lookups_total",
		Help:      "Entitlement resolver cache lookups (hit/miss).",
	}, []string{"outcome"})

	// EnforcementDecisions counts guard decisions by operation and outcome.
	EnforcementDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigilo",
		Subsystem: "licensing",
		Name:      "enforcement_decisions_total",
		Help:      "Entitlement guard decisions by operation and outcome.",
	}, []string{"operation", "outcome"})

	// ReconcilerSweeps counts reconciler sweeps by outcome.
	ReconcilerSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigilo",
		Subsystem: "licensing",
		Name:      "reconciler_sweeps_total",
		Help:      "Grace period reconciler sweeps by outcome.",
	}, []string{"outcome"})

	// ReconcilerDowngrades counts downgrades applied after grace expiry.
	ReconcilerDowngrades = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vigilo",
		Subsystem: "licensing",
		Name:      "reconciler_downgrades_total",
		Help:      "Licenses downgraded to the free tier after grace expiry.",
	})

	// GraceWarningsSent counts grace warning notifications by day threshold.
	GraceWarningsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigilo",
		Subsystem: "licensing",
		Name:      "grace_warnings_sent_total",
		Help:      "Grace period warning notifications sent by day threshold.",
	}, []string{"threshold_days"})
)
