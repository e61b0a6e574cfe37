package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes the engine's Prometheus instruments.
type Recorder struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobDegraded    *prometheus.GaugeVec
	storeAppends   *prometheus.CounterVec
	storeChunks    *prometheus.GaugeVec
	storeRows      *prometheus.GaugeVec
	signalsEmitted *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
}

// New registers the instruments on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		jobRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_job_runs_total",
				Help: "Scheduled job runs by final status",
			},
			[]string{"job", "status"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockpulse_job_duration_seconds",
				Help:    "Duration of scheduled job runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		jobDegraded: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockpulse_job_degraded",
				Help: "1 when a job class is degraded",
			},
			[]string{"job"},
		),
		storeAppends: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_store_appends_total",
				Help: "Store appends by table and outcome",
			},
			[]string{"table", "outcome"},
		),
		storeChunks: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockpulse_store_chunks",
				Help: "Chunks per table and state",
			},
			[]string{"table", "state"},
		),
		storeRows: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockpulse_store_rows",
				Help: "Retained rows per table",
			},
			[]string{"table"},
		),
		signalsEmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_signals_total",
				Help: "Composed signal predictions by type",
			},
			[]string{"signal_type"},
		),
		upstreamErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_upstream_errors_total",
				Help: "Failed calls to upstream data providers",
			},
			[]string{"provider"},
		),
	}
}

// RecordJobRun records one finished run and its duration.
func (r *Recorder) RecordJobRun(job, status string, seconds float64) {
	if r == nil {
		return
	}
	r.jobRuns.WithLabelValues(job, status).Inc()
	r.jobDuration.WithLabelValues(job).Observe(seconds)
}

// SetJobDegraded flips the degraded gauge for a job.
func (r *Recorder) SetJobDegraded(job string, degraded bool) {
	if r == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1
	}
	r.jobDegraded.WithLabelValues(job).Set(v)
}

// RecordAppend counts one store append.
func (r *Recorder) RecordAppend(table, outcome string) {
	if r == nil {
		return
	}
	r.storeAppends.WithLabelValues(table, outcome).Inc()
}

// RecordChunks publishes the chunk layout of a table.
func (r *Recorder) RecordChunks(table string, hot, compressed, rows int) {
	if r == nil {
		return
	}
	r.storeChunks.WithLabelValues(table, "hot").Set(float64(hot))
	r.storeChunks.WithLabelValues(table, "compressed").Set(float64(compressed))
	r.storeRows.WithLabelValues(table).Set(float64(rows))
}

// RecordSignal counts one composed signal.
func (r *Recorder) RecordSignal(signalType string) {
	if r == nil {
		return
	}
	r.signalsEmitted.WithLabelValues(signalType).Inc()
}

// RecordUpstreamError counts one failed upstream call.
func (r *Recorder) RecordUpstreamError(provider string) {
	if r == nil {
		return
	}
	r.upstreamErrors.WithLabelValues(provider).Inc()
}
