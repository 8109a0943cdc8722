package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the engine's Prometheus instruments. A nil *Collector is
// valid and records nothing, so tests can wire components without touching
// the global registry.
type Collector struct {
	runsTotal        *prometheus.CounterVec
	combosTotal      *prometheus.CounterVec
	fetchesTotal     *prometheus.CounterVec
	rateLimitHits    prometheus.Counter
	runDuration      prometheus.Histogram
	lastRunTimestamp prometheus.Gauge
}

func NewCollector() *Collector {
	return &Collector{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_runs_total",
			Help: "Orchestrator runs by trigger",
		}, []string{"trigger"}),
		combosTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_combinations_total",
			Help: "Processed (tenant, subject, range) combinations by outcome",
		}, []string{"outcome"}),
		fetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_provider_fetches_total",
			Help: "Provider fetches by terminal status",
		}, []string{"status"}),
		rateLimitHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulseboard_provider_rate_limit_hits_total",
			Help: "429 responses received from the provider",
		}),
		runDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulseboard_run_duration_seconds",
			Help:    "Wall-clock duration of full orchestrator runs",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		lastRunTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulseboard_last_run_timestamp_seconds",
			Help: "Completion time of the most recent orchestrator run",
		}),
	}
}

func (c *Collector) RecordRun(trigger string) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(trigger).Inc()
}

func (c *Collector) RecordCombo(outcome string) {
	if c == nil {
		return
	}
	c.combosTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordFetch(ok bool) {
	if c == nil {
		return
	}
	status := "error"
	if ok {
		status = "success"
	}
	c.fetchesTotal.WithLabelValues(status).Inc()
}

func (c *Collector) RecordRateLimitHit() {
	if c == nil {
		return
	}
	c.rateLimitHits.Inc()
}

func (c *Collector) ObserveRunDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.runDuration.Observe(d.Seconds())
	c.lastRunTimestamp.SetToCurrentTime()
}
