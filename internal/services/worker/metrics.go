package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"ytbatch-uploader/internal/models"
)

// Metrics are the worker's Prometheus collectors
type Metrics struct {
	jobsTotal      *prometheus.CounterVec
	tasksTotal     *prometheus.CounterVec
	uploadSeconds  prometheus.Histogram
	uploadedBytes  prometheus.Counter
	jobsInProgress prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytbatch_jobs_processed_total",
				Help: "Processing passes by resulting job status",
			},
			[]string{"status"},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytbatch_tasks_total",
				Help: "Task outcomes recorded by the worker",
			},
			[]string{"outcome"},
		),
		uploadSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "ytbatch_upload_duration_seconds",
				Help: "Wall time of video uploads",
				// 10s .. ~2.8h
				Buckets: prometheus.ExponentialBuckets(10, 2, 11),
			},
		),
		uploadedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ytbatch_uploaded_bytes_total",
				Help: "Bytes of video successfully uploaded",
			},
		),
		jobsInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ytbatch_jobs_in_progress",
				Help: "Jobs currently claimed by this worker",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.jobsTotal, m.tasksTotal, m.uploadSeconds, m.uploadedBytes, m.jobsInProgress)
	}
	return m
}

func (m *Metrics) jobFinished(status models.JobStatus) {
	m.jobsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) taskFinished(outcome string) {
	m.tasksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) uploaded(seconds float64, bytes int64) {
	m.uploadSeconds.Observe(seconds)
	m.uploadedBytes.Add(float64(bytes))
}
