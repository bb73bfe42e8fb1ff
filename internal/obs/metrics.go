package obs

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	securityAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_api_requests_total",
			Help: "Total number of requests against the backing security API.",
		},
		[]string{"operation", "status"},
	)

	securityAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "security_api_request_duration_seconds",
			Help:    "Security API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	auditWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit log lines that could not be written.",
	})

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_evaluations_total",
			Help: "Permission evaluations by decision.",
		},
		[]string{"decision"},
	)
)

var initOnce sync.Once

// Init registers the engine metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			securityAPIRequestsTotal,
			securityAPIRequestDuration,
			auditWriteFailuresTotal,
			evaluationsTotal,
		)
	})
}

// ObserveSecurityAPICall records one request/response cycle against the
// backing security API.
func ObserveSecurityAPICall(operation string, statusCode int, elapsed time.Duration) {
	securityAPIRequestsTotal.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	securityAPIRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// CountAuditWriteFailure increments the audit failure counter.
func CountAuditWriteFailure() {
	auditWriteFailuresTotal.Inc()
}

// CountEvaluation records the decision of one permission evaluation.
func CountEvaluation(allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	evaluationsTotal.WithLabelValues(decision).Inc()
}
