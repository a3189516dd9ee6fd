package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

// recoverJobs reconciles jobs that were running when a previous worker
// process stopped. For each, either the container is still alive and
// supervision is resumed, or it is gone and the job is failed, its lease
// released, and any stale queue entry removed. This is the sole recovery
// mechanism; no mid-run state is checkpointed.
func (w *Worker) recoverJobs(ctx context.Context) error {
	logging.Log.Info("Reconciling jobs left running by a previous worker")

	var stuck []*models.Job
	err := w.config.Store.ScanJobs(ctx, func(job *models.Job) bool {
		if job.IsRunning() {
			stuck = append(stuck, job)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to scan jobs: %w", err)
	}

	if len(stuck) == 0 {
		logging.Log.Info("No running jobs to reconcile")
		return nil
	}
	logging.Log.WithField("count", len(stuck)).Info("Found running jobs to reconcile")

	for _, job := range stuck {
		if err := w.reconcileRunningJob(ctx, job); err != nil {
			logging.Log.WithField("job_id", job.ID).WithError(err).Error("Failed to reconcile job")
			// Keep reconciling the others
		}
	}
	return nil
}

func (w *Worker) reconcileRunningJob(ctx context.Context, job *models.Job) error {
	logger := logging.Log.WithField("job_id", job.ID)

	containerID := job.ContainerID
	if containerID == "" {
		// The mapping key may have survived even if the record write didn't
		containerID, _ = w.config.Store.GetContainer(ctx, job.ID)
	}

	alive := false
	if containerID != "" {
		runtime, err := w.containerRuntime(ctx)
		if err == nil {
			alive, err = runtime.Alive(ctx, containerID)
			if err != nil {
				logger.WithError(err).Warn("Failed to inspect container, assuming it is gone")
			}
		} else {
			logger.WithError(err).Warn("Container engine unavailable, assuming container is gone")
		}
	}

	if alive {
		logger.WithField("container_id", containerID).Info("Container survived restart, resuming supervision")
		job := job
		cid := containerID
		w.pool.Submit(func() {
			w.runner.Resume(ctx, job, cid)
		})
		return nil
	}

	logger.Info("Container is gone, failing job")
	now := time.Now().UTC()
	_, err := w.config.Store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		if j.Status != models.StatusRunning {
			return store.ErrUnchanged
		}
		j.Status = models.StatusFailed
		j.Error = "worker restarted mid-run"
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	if err := w.config.Store.ReleaseResource(ctx, job.Resource); err != nil {
		logger.WithError(err).Warn("Failed to release resource lease")
	}
	if err := w.config.Store.RemovePending(ctx, job.ID); err != nil {
		logger.WithError(err).Warn("Failed to remove stale queue entry")
	}
	if err := w.config.Store.DeleteContainer(ctx, job.ID); err != nil {
		logger.WithError(err).Warn("Failed to delete container mapping")
	}
	return nil
}
