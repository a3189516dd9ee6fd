package worker

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/trainqueue/trainqueue/internal/metrics"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

const (
	monitorSampleInterval = 20 * time.Second

	// A leased device reporting utilization this low is considered idle
	gpuIdleUtilization = 5.0
	// Consecutive idle samples on a leased device before warning. At the
	// sample interval above this is roughly a minute of dead time, which
	// in practice means the training script is stuck on input loading or
	// pip install rather than compute.
	gpuIdleSamplesBeforeWarn = 3
	// Temperature at which a device is flagged as running hot
	gpuHotTemperature = 85.0
)

// WorkerSample is one observation of the worker host and the accelerators
// its jobs currently hold.
type WorkerSample struct {
	CollectedAt       time.Time  `json:"collected_at"`
	HostCPUPercent    float64    `json:"host_cpu_percent"`
	HostMemoryPercent float64    `json:"host_memory_percent"`
	Goroutines        int        `json:"goroutines"`
	LeasedGPUs        []GPUStats `json:"leased_gpus"`
	ActiveJobs        int        `json:"active_jobs"`
	JobsCompleted     int64      `json:"jobs_completed"`
	JobsFailed        int64      `json:"jobs_failed"`
}

// ResourceMonitor watches the worker host and the devices its running jobs
// have leased. Host CPU/memory comes from gopsutil; per-device utilization,
// memory and temperature come from nvidia-smi, sampled only for gpu:<n>
// resources with a job actually on them so an eight-GPU box doesn't pay for
// eight queries while idle.
type ResourceMonitor struct {
	workerID string
	gpus     *GPUMonitor
	interval time.Duration
	started  time.Time

	mu sync.Mutex
	// resource -> job id for jobs this worker is executing right now
	activeByResource map[string]string
	// gpu index -> consecutive samples below the idle threshold
	idleStreak    map[int]int
	lastSample    WorkerSample
	jobsCompleted int64
	jobsFailed    int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewResourceMonitor creates a monitor for this worker's host and leased
// devices.
func NewResourceMonitor(workerID string, gpus *GPUMonitor) *ResourceMonitor {
	return &ResourceMonitor{
		workerID:         workerID,
		gpus:             gpus,
		interval:         monitorSampleInterval,
		started:          time.Now(),
		activeByResource: make(map[string]string),
		idleStreak:       make(map[int]int),
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic sampling.
func (rm *ResourceMonitor) Start(ctx context.Context) {
	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()

		ticker := time.NewTicker(rm.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-rm.stopCh:
				return
			case <-ticker.C:
				rm.sample(ctx)
			}
		}
	}()
}

// Stop halts sampling and logs the final job counts.
func (rm *ResourceMonitor) Stop() {
	close(rm.stopCh)
	rm.wg.Wait()

	rm.mu.Lock()
	completed, failed := rm.jobsCompleted, rm.jobsFailed
	rm.mu.Unlock()
	logging.Log.WithFields(map[string]interface{}{
		"worker_id":      rm.workerID,
		"uptime":         time.Since(rm.started).String(),
		"jobs_completed": completed,
		"jobs_failed":    failed,
	}).Info("Worker monitor stopped")
}

// RecordJobStart marks a resource as actively executing a job so its device
// gets sampled.
func (rm *ResourceMonitor) RecordJobStart(jobID, resource string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.activeByResource[resource] = jobID
	metrics.WorkerJobsActive.WithLabelValues(rm.workerID).Set(float64(len(rm.activeByResource)))
}

// RecordJobComplete clears the resource and counts the outcome.
func (rm *ResourceMonitor) RecordJobComplete(jobID, resource string, success bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.activeByResource[resource] == jobID {
		delete(rm.activeByResource, resource)
		if idx, ok := models.GPUIndex(resource); ok {
			if n, err := strconv.Atoi(idx); err == nil {
				delete(rm.idleStreak, n)
			}
		}
	}
	if success {
		rm.jobsCompleted++
	} else {
		rm.jobsFailed++
	}
	metrics.WorkerJobsActive.WithLabelValues(rm.workerID).Set(float64(len(rm.activeByResource)))
}

// sample collects one observation and flags leased devices that look wrong.
func (rm *ResourceMonitor) sample(ctx context.Context) {
	s := WorkerSample{
		CollectedAt: time.Now(),
		Goroutines:  runtime.NumGoroutine(),
	}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		s.HostCPUPercent = cpuPercent[0]
	}
	var hostMemoryUsed float64
	if vmStat, err := mem.VirtualMemory(); err == nil {
		s.HostMemoryPercent = vmStat.UsedPercent
		hostMemoryUsed = float64(vmStat.Used)
	}

	rm.mu.Lock()
	leased := make(map[int]string)
	for resource, jobID := range rm.activeByResource {
		if idx, ok := models.GPUIndex(resource); ok {
			if n, err := strconv.Atoi(idx); err == nil {
				leased[n] = jobID
			}
		}
	}
	s.ActiveJobs = len(rm.activeByResource)
	s.JobsCompleted = rm.jobsCompleted
	s.JobsFailed = rm.jobsFailed
	rm.mu.Unlock()

	for index, jobID := range leased {
		stats, err := rm.gpus.Stats(ctx, index)
		if err != nil {
			// No NVIDIA tooling on this host, or the device went away
			logging.Log.WithError(err).WithField("gpu", index).Debug("Could not sample leased device")
			continue
		}
		s.LeasedGPUs = append(s.LeasedGPUs, *stats)
		metrics.UpdateGPUStats(strconv.Itoa(index), stats.Utilization,
			float64(stats.MemoryUsedMB), stats.Temperature)
		rm.checkDevice(index, jobID, stats)
	}

	rm.mu.Lock()
	rm.lastSample = s
	rm.mu.Unlock()

	metrics.UpdateWorkerResourceUsage(rm.workerID, s.HostCPUPercent, hostMemoryUsed)
	logging.Log.WithField("sample", s).Debug("Worker sample collected")
}

// checkDevice warns when a leased device is idle for too long or running hot.
func (rm *ResourceMonitor) checkDevice(index int, jobID string, stats *GPUStats) {
	rm.mu.Lock()
	if stats.Utilization < gpuIdleUtilization {
		rm.idleStreak[index]++
	} else {
		rm.idleStreak[index] = 0
	}
	streak := rm.idleStreak[index]
	rm.mu.Unlock()

	if streak == gpuIdleSamplesBeforeWarn {
		logging.Log.WithFields(map[string]interface{}{
			"gpu":         index,
			"job_id":      jobID,
			"utilization": stats.Utilization,
		}).Warn("Leased device has been idle for several samples, job may be stalled")
	}
	if stats.Temperature >= gpuHotTemperature {
		logging.Log.WithFields(map[string]interface{}{
			"gpu":         index,
			"job_id":      jobID,
			"temperature": stats.Temperature,
		}).Warn("Leased device is running hot")
	}
}

// Snapshot returns the most recent sample.
func (rm *ResourceMonitor) Snapshot() WorkerSample {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.lastSample
}
