package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	observations *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	fetchErrors  *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	ticks        *prometheus.CounterVec
	activeJobs   prometheus.Gauge
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New registers the collectors on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		observations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_observations_total",
				Help: "Competitor price observations accepted",
			},
			[]string{"competitor"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricepulse_competitor_last_price",
				Help: "Last observed price per competitor",
			},
			[]string{"competitor"},
		),
		fetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_fetch_errors_total",
				Help: "Failed observation fetches",
			},
			[]string{"competitor", "reason"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_alerts_total",
				Help: "Price alerts emitted by severity",
			},
			[]string{"severity"},
		),
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_scheduler_ticks_total",
				Help: "Scheduler ticks, split by whether they were skipped",
			},
			[]string{"skipped"},
		),
		activeJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "pricepulse_active_jobs",
			Help: "Tracking jobs currently running",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricepulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordObservation(competitor string, price float64) {
	r.observations.WithLabelValues(competitor).Inc()
	r.lastPrice.WithLabelValues(competitor).Set(price)
}

func (r *Recorder) RecordFetchError(competitor, reason string) {
	r.fetchErrors.WithLabelValues(competitor, reason).Inc()
}

func (r *Recorder) RecordAlert(severity string) {
	r.alerts.WithLabelValues(severity).Inc()
}

func (r *Recorder) RecordTick(skipped bool) {
	r.ticks.WithLabelValues(strconv.FormatBool(skipped)).Inc()
}

func (r *Recorder) SetActiveJobs(n int) {
	r.activeJobs.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
