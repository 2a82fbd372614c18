// Package metrics exposes Prometheus collectors for pipeline runs
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "emissions_"

// Unit outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeDegraded  = "degraded"
	OutcomeFellBack  = "fellback"
	OutcomeFailed    = "failed"
)

var (
	registerOnce sync.Once

	unitsTotal      *prometheus.CounterVec
	fitDuration     *prometheus.HistogramVec
	stageDuration   *prometheus.HistogramVec
	fetchTotal      *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	lastRunFailures prometheus.Gauge
)

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		unitsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "units_total",
				Help: "Series units processed by category and outcome",
			},
			[]string{"category", "outcome"},
		)
		fitDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "forecast_fit_seconds",
				Help:    "Forecast model fit duration",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"model"},
		)
		stageDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "stage_seconds",
				Help:    "Pipeline stage duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		)
		fetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fetch_total",
				Help: "Upstream series requests by result",
			},
			[]string{"result"},
		)
		runsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Pipeline runs by result",
			},
			[]string{"result"},
		)
		lastRunFailures = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_run_failures",
			Help: "Failed units in the most recent run",
		})

		prometheus.MustRegister(
			unitsTotal,
			fitDuration,
			stageDuration,
			fetchTotal,
			runsTotal,
			lastRunFailures,
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// IncUnit counts a unit outcome
func IncUnit(category, outcome string) {
	if unitsTotal != nil {
		unitsTotal.WithLabelValues(category, outcome).Inc()
	}
}

// ObserveFit records how long a model took to fit
func ObserveFit(model string, d time.Duration) {
	if fitDuration != nil {
		fitDuration.WithLabelValues(model).Observe(d.Seconds())
	}
}

// ObserveStage records the duration of a stage step
func ObserveStage(stage string, d time.Duration) {
	if stageDuration != nil {
		stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncFetch counts an upstream request
func IncFetch(result string) {
	if result == "" {
		result = "unknown"
	}
	if fetchTotal != nil {
		fetchTotal.WithLabelValues(result).Inc()
	}
}

// ObserveRun records the outcome of a full run
func ObserveRun(failures int) {
	if runsTotal == nil {
		return
	}
	result := "success"
	if failures > 0 {
		result = "partial"
	}
	runsTotal.WithLabelValues(result).Inc()
	lastRunFailures.Set(float64(failures))
}
