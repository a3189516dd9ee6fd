package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainqueue_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
		[]string{"resource"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainqueue_jobs_processed_total",
			Help: "Total number of jobs processed",
		},
		[]string{"status", "worker_id"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trainqueue_job_duration_seconds",
			Help:    "Time from job start to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~4.5 hours
		},
		[]string{"status"},
	)

	JobsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trainqueue_jobs_cancelled_total",
			Help: "Total number of job cancellations applied",
		},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trainqueue_queue_depth",
			Help: "Current number of job ids in the pending queue",
		},
	)

	// Worker metrics
	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainqueue_worker_jobs_active",
			Help: "Number of jobs currently being executed by worker",
		},
		[]string{"worker_id"},
	)

	WorkerCPUUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainqueue_worker_cpu_usage_percent",
			Help: "Current CPU usage percentage of worker host",
		},
		[]string{"worker_id"},
	)

	WorkerMemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainqueue_worker_memory_usage_bytes",
			Help: "Current memory usage of worker host in bytes",
		},
		[]string{"worker_id"},
	)

	// Accelerator metrics, sampled for devices leased to running jobs
	GPUUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainqueue_gpu_utilization_percent",
			Help: "Utilization of a leased GPU",
		},
		[]string{"gpu"},
	)

	GPUMemoryUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainqueue_gpu_memory_used_mb",
			Help: "Memory in use on a leased GPU",
		},
		[]string{"gpu"},
	)

	GPUTemperature = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainqueue_gpu_temperature_celsius",
			Help: "Temperature of a leased GPU",
		},
		[]string{"gpu"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordJobSubmission records a job submission metric
func RecordJobSubmission(resource string) {
	JobsSubmitted.WithLabelValues(resource).Inc()
}

// RecordJobProcessed records a finished job and its duration in seconds
func RecordJobProcessed(status, workerID string, duration float64) {
	JobsProcessed.WithLabelValues(status, workerID).Inc()
	JobDuration.WithLabelValues(status).Observe(duration)
}

// UpdateQueueDepth updates the pending queue depth gauge
func UpdateQueueDepth(count float64) {
	QueueDepth.Set(count)
}

// UpdateWorkerResourceUsage updates worker resource usage metrics
func UpdateWorkerResourceUsage(workerID string, cpuPercent, memoryBytes float64) {
	WorkerCPUUsage.WithLabelValues(workerID).Set(cpuPercent)
	WorkerMemoryUsage.WithLabelValues(workerID).Set(memoryBytes)
}

// UpdateGPUStats updates the per-device gauges for a leased GPU
func UpdateGPUStats(gpu string, utilization, memoryUsedMB, temperature float64) {
	GPUUtilization.WithLabelValues(gpu).Set(utilization)
	GPUMemoryUsed.WithLabelValues(gpu).Set(memoryUsedMB)
	GPUTemperature.WithLabelValues(gpu).Set(temperature)
}
