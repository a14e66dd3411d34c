package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	permissionChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trellis_permission_checks_total",
		Help: "Total number of permission checks by outcome",
	}, []string{"outcome"})
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_resolution_cache_hits_total",
		Help: "Total number of resolution cache hits",
	})
	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_resolution_cache_misses_total",
		Help: "Total number of resolution cache misses",
	})
	cacheInvalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_resolution_cache_invalidations_total",
		Help: "Total number of per-user cache invalidations",
	})
	loginFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_login_failures_total",
		Help: "Total number of failed login attempts",
	})
	accountLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_account_lockouts_total",
		Help: "Total number of account lockouts",
	})
	auditWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trellis_audit_write_failures_total",
		Help: "Total number of audit log writes that failed",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		permissionChecksTotal,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheInvalidationsTotal,
		loginFailuresTotal,
		accountLockoutsTotal,
		auditWriteFailuresTotal,
	)
}

// IncPermissionAllowed increments the allowed permission-check counter.
func IncPermissionAllowed() { permissionChecksTotal.WithLabelValues("allowed").Inc() }

// IncPermissionDenied increments the denied permission-check counter.
func IncPermissionDenied() { permissionChecksTotal.WithLabelValues("denied").Inc() }

// IncCacheHit increments the resolution cache hit counter.
func IncCacheHit() { cacheHitsTotal.Inc() }

// IncCacheMiss increments the resolution cache miss counter.
func IncCacheMiss() { cacheMissesTotal.Inc() }

// IncCacheInvalidation increments the per-user invalidation counter.
func IncCacheInvalidation() { cacheInvalidationsTotal.Inc() }

// IncLoginFailure increments the failed login counter.
func IncLoginFailure() { loginFailuresTotal.Inc() }

// IncAccountLockout increments the lockout counter.
func IncAccountLockout() { accountLockoutsTotal.Inc() }

// IncAuditWriteFailure increments the audit write failure counter.
func IncAuditWriteFailure() { auditWriteFailuresTotal.Inc() }
