package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful monitoring checks.
	OutcomeSuccess = "success"
	// OutcomeError labels failed checks (orchestrator or store issues).
	OutcomeError = "error"

	// CacheHit labels exact-fingerprint cache hits.
	CacheHit = "hit"
	// CacheSimilarHit labels semantic-similarity cache hits.
	CacheSimilarHit = "similar_hit"
	// CacheMiss labels cache misses that led to full execution.
	CacheMiss = "miss"
)

var (
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vantage_intel",
			Name:      "checks_total",
			Help:      "Total number of monitoring checks run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	checkDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vantage_intel",
			Name:      "check_seconds",
			Help:      "Monitoring check latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 30},
		},
	)

	workerOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vantage_intel",
			Name:      "worker_outcomes_total",
			Help:      "Worker executions partitioned by worker and outcome kind.",
		},
		[]string{"worker", "kind"},
	)

	workerDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vantage_intel",
			Name:      "worker_seconds",
			Help:      "Individual worker latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"worker"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vantage_intel",
			Name:      "cache_lookups_total",
			Help:      "Analysis result cache lookups partitioned by result.",
		},
		[]string{"result"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vantage_intel",
			Name:      "alerts_total",
			Help:      "Alerts produced by the scorer, partitioned by urgency and disposition.",
		},
		[]string{"urgency", "disposition"},
	)
)

// Register attaches vantage-intel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		checksTotal,
		checkDurationSeconds,
		workerOutcomesTotal,
		workerDurationSeconds,
		cacheLookupsTotal,
		alertsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCheck records a monitoring check duration and outcome label.
func ObserveCheck(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	checksTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	checkDurationSeconds.Observe(duration.Seconds())
}

// ObserveWorker records one worker execution.
func ObserveWorker(worker, kind string, duration time.Duration) {
	workerOutcomesTotal.WithLabelValues(worker, kind).Inc()
	if duration < 0 {
		duration = 0
	}
	workerDurationSeconds.WithLabelValues(worker).Observe(duration.Seconds())
}

// ObserveCache records a result-cache lookup disposition.
func ObserveCache(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveAlert records a scored alert: disposition is "emitted" or "suppressed".
func ObserveAlert(urgency, disposition string) {
	alertsTotal.WithLabelValues(urgency, disposition).Inc()
}
