// Package metrics exposes Prometheus collectors for the integration core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sandboxRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complykit_sandbox_runs_total",
			Help: "Total sandbox executions by terminal state",
		},
		[]string{"outcome"},
	)

	sandboxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "complykit_sandbox_duration_seconds",
			Help:    "Wall-clock duration of sandbox executions",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "complykit_rate_limit_rejections_total",
			Help: "Total sandbox executions rejected by the per-tenant rate limiter",
		},
	)

	ssrfBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complykit_ssrf_blocked_total",
			Help: "Total outbound requests blocked by SSRF protection by reason",
		},
		[]string{"reason"},
	)

	decryptFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complykit_decrypt_failures_total",
			Help: "Total credential decryption failures by reason",
		},
		[]string{"reason"},
	)

	keyRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complykit_key_rotation_records_total",
			Help: "Total records processed by encryption key rotation by result",
		},
		[]string{"result"},
	)

	policyViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "complykit_code_policy_violations_total",
			Help: "Total code policy violations reported by the validator",
		},
	)

	auditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "complykit_audit_entries_dropped_total",
			Help: "Total audit entries dropped because the write buffer was full",
		},
	)
)

// RecordSandboxRun records the terminal state and duration of a sandbox run.
// outcome is the terminal or rejection state, e.g. completed, timeout,
// error, rate_limited.
func RecordSandboxRun(outcome string, d time.Duration) {
	sandboxRuns.WithLabelValues(outcome).Inc()
	sandboxDuration.Observe(d.Seconds())
}

// RecordRateLimitRejection increments the rate limit rejection counter.
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// RecordSSRFBlock increments the SSRF block counter.
// reason is a short category (e.g., "private_ip", "scheme", "host_denied")
func RecordSSRFBlock(reason string) {
	ssrfBlocks.WithLabelValues(reason).Inc()
}

// RecordDecryptFailure increments the decryption failure counter.
func RecordDecryptFailure(reason string) {
	decryptFailures.WithLabelValues(reason).Inc()
}

// RecordRotation records the per-record result of key rotation.
// result should be one of: rotated, failed
func RecordRotation(result string) {
	keyRotations.WithLabelValues(result).Inc()
}

// RecordPolicyViolations adds n to the policy violation counter.
func RecordPolicyViolations(n int) {
	if n > 0 {
		policyViolations.Add(float64(n))
	}
}

// RecordAuditDropped increments the dropped audit entry counter.
func RecordAuditDropped() {
	auditDropped.Inc()
}
