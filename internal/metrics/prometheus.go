// Package metrics provides Prometheus exporters for application metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the rewards gateway.
var (
	// Economy.
	CoinsEarnedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coins_earned_total",
			Help: "Coins credited to sessions, by source type and mode (simulate or delegate)",
		},
		[]string{"source", "mode"},
	)

	CoinEarnFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coin_earn_failures_total",
			Help: "Earn calls that failed remotely and granted nothing",
		},
		[]string{"source"},
	)

	CoinEarnDuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coin_earn_duplicates_total",
			Help: "Earn calls answered with zero by the remote procedure",
		},
		[]string{"source"},
	)

	SpendChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spend_checks_total",
			Help: "Local balance sufficiency checks, by result",
		},
		[]string{"result"},
	)

	CoinTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coin_transfers_total",
			Help: "Tip and boost outcomes",
		},
		[]string{"kind", "status"},
	)

	CoinPoolRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coin_pool_remaining",
			Help: "Last observed remaining coins in the global pool",
		},
	)

	// Gamification.
	XPGrantedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xp_granted_total",
			Help: "XP granted to sessions, by mode (guest or member)",
		},
		[]string{"mode"},
	)

	DeepReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_reads_total",
			Help: "Content views that satisfied the deep-read predicate",
		},
	)

	MissionsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missions_claimed_total",
			Help: "Daily missions claimed",
		},
		[]string{"mission"},
	)

	BestEffortFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "best_effort_failures_total",
			Help: "Fire-and-forget remote writes that failed and were swallowed",
		},
		[]string{"operation"},
	)

	// Transport.
	RemoteCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_call_duration_seconds",
			Help:    "Latency of calls to the hosted backend",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"operation", "status"},
	)

	// Sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Device sessions currently held in memory",
		},
	)

	IdentityMismatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_identity_mismatches_total",
			Help: "Requests rejected because their access token did not match the device session",
		},
	)

	// Scheduler.
	SchedulerJobsRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_run_total",
			Help: "Total scheduler job executions",
		},
		[]string{"job", "status"},
	)

	SchedulerJobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Time taken to execute scheduler jobs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)
)

// RecordCoinsEarned records a credited earn.
func RecordCoinsEarned(source, mode string, amount int) {
	CoinsEarnedTotal.WithLabelValues(source, mode).Add(float64(amount))
}

// RecordEarnFailure records an earn that failed remotely.
func RecordEarnFailure(source string) {
	CoinEarnFailuresTotal.WithLabelValues(source).Inc()
}

// RecordEarnDuplicate records an earn the remote side answered with zero.
func RecordEarnDuplicate(source string) {
	CoinEarnDuplicatesTotal.WithLabelValues(source).Inc()
}

// RecordSpendCheck records a spend sufficiency check.
func RecordSpendCheck(result string) {
	SpendChecksTotal.WithLabelValues(result).Inc()
}

// RecordCoinTransfer records a tip or boost outcome.
func RecordCoinTransfer(kind, status string) {
	CoinTransfersTotal.WithLabelValues(kind, status).Inc()
}

// SetCoinPoolRemaining sets the last observed pool remaining.
func SetCoinPoolRemaining(remaining int) {
	CoinPoolRemaining.Set(float64(remaining))
}

// RecordXPGranted records XP granted locally.
func RecordXPGranted(mode string, amount int) {
	XPGrantedTotal.WithLabelValues(mode).Add(float64(amount))
}

// RecordDeepRead records a deep-read completion.
func RecordDeepRead() {
	DeepReadsTotal.Inc()
}

// RecordMissionClaimed records a mission claim.
func RecordMissionClaimed(mission string) {
	MissionsClaimedTotal.WithLabelValues(mission).Inc()
}

// RecordBestEffortFailure records a swallowed remote write failure.
func RecordBestEffortFailure(operation string) {
	BestEffortFailuresTotal.WithLabelValues(operation).Inc()
}

// ObserveRemoteCall observes one backend call.
func ObserveRemoteCall(operation, status string, seconds float64) {
	RemoteCallDurationSeconds.WithLabelValues(operation, status).Observe(seconds)
}

// SetActiveSessions sets the number of in-memory sessions.
func SetActiveSessions(count int) {
	ActiveSessions.Set(float64(count))
}

// RecordIdentityMismatch records a request rejected by session binding.
func RecordIdentityMismatch() {
	IdentityMismatchesTotal.Inc()
}

// RecordSchedulerJobRun records a scheduler job execution.
func RecordSchedulerJobRun(job, status string) {
	SchedulerJobsRunTotal.WithLabelValues(job, status).Inc()
}

// ObserveSchedulerJobDuration observes the duration of a scheduler job.
func ObserveSchedulerJobDuration(job string, seconds float64) {
	SchedulerJobDurationSeconds.WithLabelValues(job).Observe(seconds)
}
