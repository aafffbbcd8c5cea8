package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vehirec"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	trainingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Training runs by ranker and outcome.",
		},
		[]string{"ranker", "status"},
	)

	trainingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Wall time of a full training run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"ranker"},
	)

	validationLoss = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validation_loss",
			Help:      "Validation log loss of the last trained model.",
		},
		[]string{"ranker"},
	)

	negativeShortfall = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negative_sampling_shortfall_total",
			Help:      "Clients that received no negative examples.",
		},
	)

	recommendationsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_served_total",
			Help:      "Recommendation lists served by source.",
		},
		[]string{"source"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Recommendation cache lookups by result.",
		},
		[]string{"result"},
	)

	exportsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Recommendation exports by target and outcome.",
		},
		[]string{"target", "status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			trainingRuns,
			trainingDuration,
			validationLoss,
			negativeShortfall,
			recommendationsServed,
			cacheLookups,
			exportsWritten,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ObserveTraining(ranker string, d time.Duration, loss float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	trainingRuns.WithLabelValues(ranker, status).Inc()
	if err == nil {
		trainingDuration.WithLabelValues(ranker).Observe(d.Seconds())
		validationLoss.WithLabelValues(ranker).Set(loss)
	}
}

func AddShortfall(n int) {
	negativeShortfall.Add(float64(n))
}

func IncServed(source string) {
	recommendationsServed.WithLabelValues(source).Inc()
}

func IncCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

func IncExport(target string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	exportsWritten.WithLabelValues(target, status).Inc()
}
