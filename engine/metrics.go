package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pricewatch/harvester/models"
)

// Metrics bundles Prometheus collectors for the engine. Every method is
// nil-safe so a metrics-less engine costs nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	ScrapesTotal    *prometheus.CounterVec
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	ListingsTotal   prometheus.Counter
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	scrapes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_scrapes_total",
			Help: "Terminal scrape results by outcome.",
		},
		[]string{"outcome"},
	)
	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_attempts_total",
			Help: "Provider invocations by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	attemptDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_attempt_duration_seconds",
			Help:    "Provider attempt latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	listings := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_listings_total",
			Help: "Normalized listings produced.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Fallback attempts beyond each target's primary provider.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Classified attempt errors by kind.",
		},
		[]string{"error_kind"},
	)

	registry.MustRegister(scrapes, attempts, attemptDuration, listings, retries, errorsTotal)

	return &Metrics{
		Registry:        registry,
		ScrapesTotal:    scrapes,
		AttemptsTotal:   attempts,
		AttemptDuration: attemptDuration,
		ListingsTotal:   listings,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
	}
}

// ObserveAttempt records one provider invocation.
func (m *Metrics) ObserveAttempt(attempt models.ExtractionAttempt) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(string(attempt.Provider), string(attempt.Outcome)).Inc()
	m.AttemptDuration.WithLabelValues(string(attempt.Provider)).Observe(attempt.Duration().Seconds())
	if attempt.ErrorKind != "" {
		m.ErrorsTotal.WithLabelValues(string(attempt.ErrorKind)).Inc()
	}
}

// ObserveResult records one terminal scrape result.
func (m *Metrics) ObserveResult(result *models.ScrapeResult) {
	if m == nil {
		return
	}
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	m.ScrapesTotal.WithLabelValues(outcome).Inc()
	m.ListingsTotal.Add(float64(len(result.Listings)))
	m.RetriesTotal.Add(float64(result.RetryCount))
}
