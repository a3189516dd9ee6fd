package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/trainqueue/trainqueue/internal/metrics"
	"github.com/trainqueue/trainqueue/internal/objects"
	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

// Config holds the configuration for the worker
type Config struct {
	Store       store.Store
	DataDir     string
	HostDataDir string

	// Concurrency is the number of runners that may be in flight at once.
	// 1 (the default) waits for each job inline; higher values fan out, one
	// runner per leased resource. Horizontal scaling beyond one process is
	// just more workers against the same store.
	Concurrency int

	// IdleSleep is how long to wait after finding the queue empty
	IdleSleep time.Duration
	// BusySleep is how long to back off after requeueing a job whose
	// resource is held
	BusySleep time.Duration
	// StopGrace is the container stop grace period
	StopGrace time.Duration

	WorkerID string

	// ObjectStore, when set, receives finished-job archives
	ObjectStore objects.ObjectStore

	// Runtime overrides the docker engine connection. Tests use this; when
	// nil the worker lazily connects via socket discovery.
	Runtime ContainerRuntime
}

// Worker owns the scheduler loop: it pops the pending queue, acquires
// resource leases, and dispatches job runners.
type Worker struct {
	config *Config
	runner *JobRunner
	pool   *workerpool.WorkerPool

	// Process-wide engine handle, lazily initialized once
	runtimeOnce sync.Once
	runtime     ContainerRuntime
	runtimeErr  error

	gpus    *GPUMonitor
	monitor *ResourceMonitor
}

// New creates a new worker instance
func New(config *Config) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%d", time.Now().Unix())
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.IdleSleep <= 0 {
		config.IdleSleep = 5 * time.Second
	}
	if config.BusySleep <= 0 {
		config.BusySleep = 2 * time.Second
	}
	if config.StopGrace <= 0 {
		config.StopGrace = 5 * time.Second
	}

	gpus := NewGPUMonitor()
	w := &Worker{
		config:  config,
		pool:    workerpool.New(config.Concurrency),
		gpus:    gpus,
		monitor: NewResourceMonitor(config.WorkerID, gpus),
	}
	w.runner = NewJobRunner(
		config.Store,
		w.containerRuntime,
		NewArchiver(config.Store, config.ObjectStore),
		gpus,
		config.DataDir,
		config.HostDataDir,
		config.StopGrace,
		config.WorkerID,
	)
	return w
}

// containerRuntime hands out the one engine handle per worker process. The
// first caller pays for socket discovery; a failed discovery is sticky for
// the process lifetime and every dispatched job fails fast with the cause.
func (w *Worker) containerRuntime(ctx context.Context) (ContainerRuntime, error) {
	w.runtimeOnce.Do(func() {
		if w.config.Runtime != nil {
			w.runtime = w.config.Runtime
			return
		}
		w.runtime, w.runtimeErr = NewDockerRuntime(ctx)
	})
	return w.runtime, w.runtimeErr
}

// Start runs the scheduler loop until the context is cancelled. In-flight
// runners are drained before returning.
func (w *Worker) Start(ctx context.Context) error {
	logging.Log.WithField("worker_id", w.config.WorkerID).Info("Worker starting...")

	// Probe the engine up front so an unreachable daemon is visible at
	// startup rather than on the first job.
	if _, err := w.containerRuntime(ctx); err != nil {
		logging.Log.WithError(err).Warn("Worker started but the container engine is unavailable; jobs will fail until the worker is restarted")
	}

	// Inventory the host's accelerators. Jobs asking for a gpu:<n> index
	// that isn't in this list fail fast instead of dying inside the engine.
	if gpus, err := w.gpus.ListGPUs(ctx); err != nil {
		logging.Log.WithError(err).Info("No NVIDIA tooling detected; gpu:<n> device indices cannot be validated on this worker")
	} else {
		for _, gpu := range gpus {
			logging.Log.WithFields(map[string]interface{}{
				"gpu":             gpu.Index,
				"name":            gpu.Name,
				"memory_total_mb": gpu.MemoryTotalMB,
			}).Info("Discovered GPU")
		}
		logging.Log.Infof("Discovered %d GPUs", len(gpus))
	}

	w.monitor.Start(ctx)
	defer w.monitor.Stop()

	// Reconcile jobs left running by a previous worker process
	if err := w.recoverJobs(ctx); err != nil {
		logging.Log.WithError(err).Warn("Failed to recover previously running jobs")
	}

	logging.Log.Infof("Scheduler loop started (concurrency %d)", w.config.Concurrency)
	for {
		select {
		case <-ctx.Done():
			logging.Log.Info("Scheduler loop stopping, draining in-flight jobs")
			w.pool.StopWait()
			logging.Log.WithField("worker_id", w.config.WorkerID).Info("Worker stopped")
			return nil
		default:
		}
		w.iterate(ctx)
	}
}

// iterate performs one scheduling pass: pop, check, acquire, dispatch.
func (w *Worker) iterate(ctx context.Context) {
	st := w.config.Store

	w.observeQueueDepth(ctx)

	jobID, err := st.PopPending(ctx)
	if err != nil {
		logging.Log.WithError(err).Error("Failed to pop pending queue")
		sleepCtx(ctx, w.config.IdleSleep)
		return
	}
	if jobID == "" {
		sleepCtx(ctx, w.config.IdleSleep)
		return
	}

	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			// Stale queue entry; drop it silently
			return
		}
		logging.Log.WithError(err).WithField("job_id", jobID).Error("Failed to load job")
		if pushErr := st.PushPending(ctx, jobID); pushErr != nil {
			logging.Log.WithError(pushErr).WithField("job_id", jobID).Error("Failed to requeue job")
		}
		sleepCtx(ctx, w.config.IdleSleep)
		return
	}
	if job.Status != models.StatusPending {
		// Cancelled or already dispatched elsewhere; drop it silently
		return
	}

	available, err := st.ResourceAvailable(ctx, job.Resource)
	if err != nil {
		logging.Log.WithError(err).WithField("job_id", jobID).Error("Failed to check resource availability")
		st.PushPending(ctx, jobID)
		sleepCtx(ctx, w.config.IdleSleep)
		return
	}
	if !available {
		// Requeue at the tail so other resources keep making progress
		if err := st.PushPending(ctx, jobID); err != nil {
			logging.Log.WithError(err).WithField("job_id", jobID).Error("Failed to requeue job")
		}
		sleepCtx(ctx, w.config.BusySleep)
		return
	}

	acquired, err := st.AcquireResource(ctx, job.Resource, jobID)
	if err != nil {
		logging.Log.WithError(err).WithField("job_id", jobID).Error("Failed to acquire resource lease")
		st.PushPending(ctx, jobID)
		sleepCtx(ctx, w.config.IdleSleep)
		return
	}
	if !acquired {
		// Lost the set-if-absent race to another worker
		st.PushPending(ctx, jobID)
		return
	}

	logging.Log.WithField("job_id", jobID).WithField("resource", job.Resource).Info("Dispatching job")
	w.monitor.RecordJobStart(jobID, job.Resource)
	run := func() {
		w.runner.Run(ctx, job)
		current, err := w.config.Store.GetJob(context.Background(), jobID)
		w.monitor.RecordJobComplete(jobID, job.Resource, err == nil && current.Status == models.StatusCompleted)
	}
	if w.config.Concurrency <= 1 {
		w.pool.SubmitWait(run)
	} else {
		w.pool.Submit(run)
	}
}

func (w *Worker) observeQueueDepth(ctx context.Context) {
	if depth, err := w.config.Store.PendingLen(ctx); err == nil {
		metrics.UpdateQueueDepth(float64(depth))
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
