package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/trainqueue/trainqueue/internal/metrics"
	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

// ContainerStopper is the slice of the container runtime the cancellation
// protocol needs. A nil stopper skips the container teardown; the runner's
// reconcile step still honors the cancelled status.
type ContainerStopper interface {
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string) error
}

// Service implements the producer-side interface to the core: submitting
// jobs into the queue and cancelling them. The CLI commands call into this.
type Service struct {
	Store     store.Store
	DataDir   string
	Stopper   ContainerStopper
	StopGrace time.Duration
}

// SubmitRequest describes a new training job.
type SubmitRequest struct {
	// Name defaults to the archive filename without its extension
	Name string
	// Resource is gpu:<n> or cpu
	Resource string
	// RuntimeImage is the base container image to run the workload in
	RuntimeImage string
	// ArchivePath is the local zip bundling train.py, requirements.txt and
	// the input data
	ArchivePath string
}

// Submit stores the upload, writes the job record with status pending, and
// appends the job id to the pending queue.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*models.Job, error) {
	if !models.ValidResource(req.Resource) {
		return nil, fmt.Errorf("unknown resource %q: want gpu:<n> or cpu", req.Resource)
	}
	if req.RuntimeImage == "" {
		return nil, fmt.Errorf("runtime image is required")
	}
	if !strings.EqualFold(filepath.Ext(req.ArchivePath), ".zip") {
		return nil, fmt.Errorf("archive must be a zip file: %s", req.ArchivePath)
	}

	jobID := uuid.NewString()
	if err := s.storeUpload(req.ArchivePath, jobID); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(req.ArchivePath), filepath.Ext(req.ArchivePath))
	}

	job := &models.Job{
		ID:           jobID,
		Name:         name,
		Resource:     req.Resource,
		RuntimeImage: req.RuntimeImage,
		Status:       models.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job record: %w", err)
	}
	if err := s.Store.PushPending(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.RecordJobSubmission(job.Resource)
	logging.Log.WithField("job_id", jobID).WithField("resource", job.Resource).Info("Job submitted")
	return job, nil
}

// storeUpload copies the archive to <uploads>/<job_id>.zip on shared disk.
func (s *Service) storeUpload(archivePath, jobID string) error {
	src, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer src.Close()

	uploadsDir := filepath.Join(s.DataDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0755); err != nil {
		return fmt.Errorf("failed to create uploads directory: %w", err)
	}
	dst, err := os.Create(filepath.Join(uploadsDir, jobID+".zip"))
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	return nil
}

// Cancel marks the job cancelled, drops it from the pending queue, and
// stops its container if one is known. It returns once the store mutations
// are done; it does not wait for the runner to observe the cancel. Safe to
// call in every state, any number of times.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	logger := logging.Log.WithField("job_id", jobID)

	now := time.Now().UTC()
	job, err := s.Store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		if j.IsTerminal() {
			return store.ErrUnchanged
		}
		j.Status = models.StatusCancelled
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	if job.Status == models.StatusCancelled && job.CompletedAt != nil && job.CompletedAt.Equal(now) {
		metrics.JobsCancelled.Inc()
	}

	if err := s.Store.RemovePending(ctx, jobID); err != nil {
		logger.WithError(err).Warn("Failed to remove job from pending queue")
	}

	containerID, err := s.Store.GetContainer(ctx, jobID)
	if err != nil {
		logger.WithError(err).Warn("Failed to look up container mapping")
		return nil
	}
	if containerID == "" {
		return nil
	}

	if s.Stopper != nil {
		grace := s.StopGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		if err := s.Stopper.Stop(ctx, containerID, grace); err != nil {
			logger.WithError(err).Warn("Failed to stop container")
		}
		if err := s.Stopper.Remove(ctx, containerID); err != nil {
			logger.WithError(err).Warn("Failed to remove container")
		}
		logger.WithField("container_id", containerID).Info("Stopped and removed container")
	}
	if err := s.Store.DeleteContainer(ctx, jobID); err != nil {
		logger.WithError(err).Warn("Failed to delete container mapping")
	}
	return nil
}

// List returns all jobs, newest first.
func (s *Service) List(ctx context.Context) ([]*models.Job, error) {
	var all []*models.Job
	err := s.Store.ScanJobs(ctx, func(job *models.Job) bool {
		all = append(all, job)
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all, nil
}
