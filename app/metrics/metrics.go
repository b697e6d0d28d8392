package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payments_initiated_total",
		Help: "Payment initiations by rail and outcome",
	}, []string{
		"rail",
		"result", // accepted, rejected, unavailable, error
	})

	paymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payment_transitions_total",
		Help: "Effective ledger transitions",
	}, []string{
		"rail",
		"status",
		"source", // webhook, poll, capture, refund, reconcile, expire, initiate
	})

	duplicateCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_duplicate_completions_total",
		Help: "Completion attempts that lost the race to an earlier completion",
	}, []string{"rail", "source"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhooks_total",
		Help: "Inbound rail webhooks by outcome",
	}, []string{
		"rail",
		"result", // processed, ignored, unknown_payment, invalid_signature, unparseable, error
	})

	railRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_rail_request_duration_seconds",
		Help:    "Latency of outbound calls to payment rails",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"rail", "operation", "outcome"})

	tokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_rail_token_refreshes_total",
		Help: "Access token exchanges per rail",
	}, []string{"rail"})

	sideEffectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_side_effects_total",
		Help: "Post-completion side-effect dispatch outcomes",
	}, []string{"result"})

	jobRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_job_run_duration_seconds",
		Help:    "Duration of reconcile, expiry and effects batch runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"job", "outcome"})
)

func RecordInitiation(rail, result string) {
	paymentsInitiatedTotal.WithLabelValues(rail, result).Inc()
}

func RecordTransition(rail, status, source string) {
	paymentTransitionsTotal.WithLabelValues(rail, status, source).Inc()
}

func RecordDuplicateCompletion(rail, source string) {
	duplicateCompletionsTotal.WithLabelValues(rail, source).Inc()
}

func RecordWebhook(rail, result string) {
	webhooksTotal.WithLabelValues(rail, result).Inc()
}

func ObserveRailRequest(rail, operation string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	railRequestDuration.WithLabelValues(rail, operation, outcome).Observe(time.Since(started).Seconds())
}

func RecordTokenRefresh(rail string) {
	tokenRefreshesTotal.WithLabelValues(rail).Inc()
}

func RecordSideEffect(result string) {
	sideEffectsTotal.WithLabelValues(result).Inc()
}

func ObserveJobRun(job string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	jobRunDuration.WithLabelValues(job, outcome).Observe(elapsed.Seconds())
}
