package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	integrityViolations     *prometheus.CounterVec
	idempotencyCounter      *prometheus.CounterVec
	attentionQueueGauge     prometheus.Gauge
	payoutTransitionCounter *prometheus.CounterVec
	dispatchCounter         *prometheus.CounterVec
	providerDuration        *prometheus.HistogramVec
	manualEntryCounter      *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
	dispatchQueueGauge      prometheus.Gauge
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		integrityViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_integrity_violations_total",
			Help: "Batches whose payout rows disagree with their recorded totals",
		}, []string{"check"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		attentionQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payout_attention_queue_size",
			Help: "Payout rows in failed or reconciliation status across the last integrity sweep",
		})

		payoutTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_transitions_total",
			Help: "Payout row status transitions",
		}, []string{"from", "to"})

		dispatchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_dispatch_total",
			Help: "Payout dispatch outcomes by provider",
		}, []string{"provider", "result"})

		providerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payout_provider_request_duration_seconds",
			Help:    "Latency of provider payout submissions",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"})

		manualEntryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_manual_entries_total",
			Help: "Manually reconciled payouts by category",
		}, []string{"category"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		dispatchQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payout_dispatch_queue_depth",
			Help: "Payout rows waiting for a dispatch worker",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			integrityViolations,
			idempotencyCounter,
			attentionQueueGauge,
			payoutTransitionCounter,
			dispatchCounter,
			providerDuration,
			manualEntryCounter,
			workerRunCounter,
			dispatchQueueGauge,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIntegrityViolation(check string) {
	if integrityViolations == nil {
		return
	}
	integrityViolations.WithLabelValues(check).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetAttentionQueueSize(size int64) {
	if attentionQueueGauge == nil {
		return
	}
	attentionQueueGauge.Set(float64(size))
}

func IncrementPayoutTransition(from, to string) {
	if payoutTransitionCounter == nil {
		return
	}
	payoutTransitionCounter.WithLabelValues(from, to).Inc()
}

func IncrementDispatch(provider, result string) {
	if dispatchCounter == nil {
		return
	}
	dispatchCounter.WithLabelValues(provider, result).Inc()
}

func ObserveProviderRequest(provider string, duration time.Duration) {
	if providerDuration == nil {
		return
	}
	providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func IncrementManualEntry(category string) {
	if manualEntryCounter == nil {
		return
	}
	manualEntryCounter.WithLabelValues(category).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func SetDispatchQueueDepth(depth int) {
	if dispatchQueueGauge == nil {
		return
	}
	dispatchQueueGauge.Set(float64(depth))
}
