package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/trainqueue/trainqueue/internal/metrics"
	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

// JobRunner executes a single job on a single leased resource: extract the
// upload, launch the container, stream its logs into the workspace, wait for
// exit, and reconcile the final status against a possible cancellation.
// Every failure inside the runner is converted into a status transition; the
// scheduler loop above it never sees an error.
type JobRunner struct {
	store       store.Store
	runtime     RuntimeFunc
	archiver    *Archiver
	gpus        *GPUMonitor
	dataDir     string
	hostDataDir string
	stopGrace   time.Duration
	workerID    string
}

// RuntimeFunc hands out the process-wide container engine handle. It is a
// function so engine-unreachable environments surface per job, as a fast
// failure, instead of killing the worker.
type RuntimeFunc func(ctx context.Context) (ContainerRuntime, error)

// NewJobRunner creates a runner bound to the worker's store and engine. A
// nil gpus monitor skips device-presence validation.
func NewJobRunner(st store.Store, runtime RuntimeFunc, archiver *Archiver, gpus *GPUMonitor, dataDir, hostDataDir string, stopGrace time.Duration, workerID string) *JobRunner {
	if stopGrace <= 0 {
		stopGrace = 5 * time.Second
	}
	return &JobRunner{
		store:       st,
		runtime:     runtime,
		archiver:    archiver,
		gpus:        gpus,
		dataDir:     dataDir,
		hostDataDir: hostDataDir,
		stopGrace:   stopGrace,
		workerID:    workerID,
	}
}

// Run drives the job to a terminal status and releases its resource lease.
// The lease is held from dispatch until Run returns, whatever the outcome.
func (r *JobRunner) Run(ctx context.Context, job *models.Job) {
	logger := logging.Log.WithField("job_id", job.ID)
	start := time.Now()

	defer func() {
		if err := r.store.ReleaseResource(context.Background(), job.Resource); err != nil {
			logger.WithError(err).Warn("Failed to release resource lease")
		}
	}()

	final := r.execute(ctx, job)
	if final == nil {
		return
	}
	metrics.RecordJobProcessed(final.Status, r.workerID, time.Since(start).Seconds())
	logger.WithField("status", final.Status).Info("Job finished")
}

// Resume re-attaches to a container that outlived a previous worker process:
// stream from the current point, wait, reconcile, release.
func (r *JobRunner) Resume(ctx context.Context, job *models.Job, containerID string) {
	logger := logging.Log.WithField("job_id", job.ID).WithField("container_id", containerID)

	runtime, err := r.runtime(ctx)
	if err != nil {
		// Leave the job running and the lease in place; the next startup
		// reconciliation pass will see it again.
		logger.WithError(err).Warn("Cannot resume supervision, container engine unavailable")
		return
	}

	logger.Info("Resuming supervision of running job")
	start := time.Now()
	final := r.supervise(ctx, runtime, job, containerID, workspaceFor(r.dataDir, job.ID))

	if err := r.store.ReleaseResource(context.Background(), job.Resource); err != nil {
		logger.WithError(err).Warn("Failed to release resource lease")
	}
	if final != nil {
		metrics.RecordJobProcessed(final.Status, r.workerID, time.Since(start).Seconds())
		logger.WithField("status", final.Status).Info("Resumed job finished")
	}
}

// execute runs the prepare and launch phases, then hands off to supervise.
// Returns the final job record, or nil when the store itself failed.
func (r *JobRunner) execute(ctx context.Context, job *models.Job) *models.Job {
	logger := logging.Log.WithField("job_id", job.ID)

	runtime, err := r.runtime(ctx)
	if err != nil {
		return r.fail(ctx, job.ID, fmt.Errorf("container engine unavailable: %w", err), "")
	}

	// A gpu:<n> index the host doesn't have fails fast here rather than as
	// an opaque engine error at launch. When nvidia-smi itself is missing
	// the check is skipped and the engine's device request is authoritative.
	if gpuIndex, ok := models.GPUIndex(job.Resource); ok && r.gpus != nil {
		if present, err := r.gpus.HasGPU(ctx, gpuIndex); err == nil && !present {
			return r.fail(ctx, job.ID, fmt.Errorf("resource %s is not present on this worker", job.Resource), "")
		}
	}

	// Prepare
	ws, err := prepareWorkspace(r.dataDir, job.ID)
	if err != nil {
		return r.fail(ctx, job.ID, err, workspaceFor(r.dataDir, job.ID).LogPath)
	}
	startedAt := time.Now().UTC()
	if err := writeLogHeader(ws.LogPath, job, startedAt); err != nil {
		return r.fail(ctx, job.ID, err, ws.LogPath)
	}

	current, err := r.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		if j.Status != models.StatusPending {
			return store.ErrUnchanged
		}
		j.Status = models.StatusRunning
		j.StartedAt = &startedAt
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("Failed to mark job running")
		return nil
	}
	if current.Status != models.StatusRunning {
		// Cancelled (or otherwise finished) between dispatch and here.
		logger.WithField("status", current.Status).Info("Job no longer pending, skipping run")
		return current
	}

	// Launch
	spec, err := r.buildRunSpec(job, ws)
	if err != nil {
		return r.fail(ctx, job.ID, err, ws.LogPath)
	}
	containerID, err := runtime.Run(ctx, spec)
	if err != nil {
		return r.fail(ctx, job.ID, fmt.Errorf("failed to launch training container: %w", err), ws.LogPath)
	}

	if err := r.store.SetContainer(ctx, job.ID, containerID); err != nil {
		logger.WithError(err).Warn("Failed to record container mapping")
	}
	current, err = r.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		if j.Status == models.StatusCancelled {
			return store.ErrUnchanged
		}
		j.ContainerID = containerID
		return nil
	})
	if err == nil && current.Status == models.StatusCancelled {
		// A cancel landed while the container was starting, before the
		// mapping was visible to the API. Tear the container down here.
		logger.Info("Job cancelled during launch, stopping container")
		if err := runtime.Stop(context.Background(), containerID, r.stopGrace); err != nil {
			logger.WithError(err).Warn("Failed to stop container")
		}
		r.removeContainer(context.Background(), runtime, job.ID, containerID)
		return current
	}

	return r.supervise(ctx, runtime, job, containerID, ws)
}

// supervise covers the stream, reconcile and cleanup phases for an already
// launched container. Also used when re-attaching after a worker restart.
func (r *JobRunner) supervise(ctx context.Context, runtime ContainerRuntime, job *models.Job, containerID string, ws *workspace) *models.Job {
	logger := logging.Log.WithField("job_id", job.ID)

	r.streamLogs(ctx, runtime, containerID, ws.LogPath)

	exitCode, waitErr := runtime.Wait(ctx, containerID)

	// Reconcile. Cancelled is sticky: if a cancel was observed the status
	// write is skipped; container cleanup and archiving still run.
	now := time.Now().UTC()
	current, err := r.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		if j.Status == models.StatusCancelled {
			return store.ErrUnchanged
		}
		switch {
		case waitErr != nil:
			j.Status = models.StatusFailed
			j.Error = waitErr.Error()
		case exitCode == 0:
			j.Status = models.StatusCompleted
		default:
			j.Status = models.StatusFailed
			j.Error = fmt.Sprintf("Container exited with code %d", exitCode)
		}
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("Failed to persist final job status")
		return nil
	}

	r.removeContainer(context.Background(), runtime, job.ID, containerID)

	if r.archiver != nil {
		r.archiver.Archive(context.Background(), job.ID, ws.OutputDir, ws.LogPath)
	}
	return current
}

// streamLogs appends the container's combined output to output.log,
// flushing chunk by chunk. Returns when the container exits or is removed
// out from under the stream.
func (r *JobRunner) streamLogs(ctx context.Context, runtime ContainerRuntime, containerID, logPath string) {
	logger := logging.Log.WithField("container_id", containerID)

	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		logger.WithError(err).Warn("Failed to open job log for append")
		return
	}
	defer f.Close()

	stream, err := runtime.StreamLogs(ctx, containerID)
	if err != nil {
		logger.WithError(err).Warn("Failed to open container log stream")
		return
	}
	defer stream.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				logger.WithError(werr).Warn("Failed to append to job log")
				return
			}
			f.Sync()
		}
		if err != nil {
			if err != io.EOF {
				logger.WithError(err).Debug("Container log stream ended")
			}
			return
		}
	}
}

// fail traps a runner error into a failed status unless a cancel already
// won, and records the cause at the end of output.log.
func (r *JobRunner) fail(ctx context.Context, jobID string, cause error, logPath string) *models.Job {
	logging.Log.WithField("job_id", jobID).WithError(cause).Error("Job execution failed")
	if logPath != "" {
		appendLogError(logPath, cause)
	}

	now := time.Now().UTC()
	current, err := r.store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		if j.IsTerminal() {
			return store.ErrUnchanged
		}
		j.Status = models.StatusFailed
		j.Error = cause.Error()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		logging.Log.WithField("job_id", jobID).WithError(err).Error("Failed to persist job failure")
		return nil
	}
	return current
}

// removeContainer drops the container and its store mapping, best effort.
func (r *JobRunner) removeContainer(ctx context.Context, runtime ContainerRuntime, jobID, containerID string) {
	if err := runtime.Remove(ctx, containerID); err != nil {
		logging.Log.WithField("container_id", containerID).WithError(err).Warn("Failed to remove container")
	}
	if err := r.store.DeleteContainer(ctx, jobID); err != nil {
		logging.Log.WithField("job_id", jobID).WithError(err).Warn("Failed to delete container mapping")
	}
}

// buildRunSpec assembles the container launch parameters for a job.
func (r *JobRunner) buildRunSpec(job *models.Job, ws *workspace) (*RunSpec, error) {
	hostJobDir, err := hostPath(r.dataDir, r.hostDataDir, ws.JobDir)
	if err != nil {
		return nil, err
	}
	hostOutputDir, err := hostPath(r.dataDir, r.hostDataDir, ws.OutputDir)
	if err != nil {
		return nil, err
	}

	gpuIndex, _ := models.GPUIndex(job.Resource)
	return &RunSpec{
		Image:   job.RuntimeImage,
		Command: trainingCommand(),
		// Unbuffered interpreter output keeps the log stream line-level
		Env: map[string]string{"PYTHONUNBUFFERED": "1"},
		Mounts: []Mount{
			{HostPath: hostJobDir, ContainerPath: workspaceMountPath},
			{HostPath: hostOutputDir, ContainerPath: outputMountPath},
		},
		GPUIndex:         gpuIndex,
		UseNvidiaRuntime: r.hostDataDir != "",
		Name:             containerName(job.ID),
	}, nil
}
