package store

import (
	"context"
	"errors"

	"github.com/trainqueue/trainqueue/internal/store/models"
)

var (
	// ErrNotFound is returned when a job record does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrUnchanged is returned by an UpdateJob mutate function to abort the
	// write and leave the stored record as-is. UpdateJob then returns the
	// current record with a nil error. The job runner uses this to keep a
	// cancelled status sticky: every terminal-status write re-reads the
	// record and backs off if a cancel landed first.
	ErrUnchanged = errors.New("job unchanged")
)

// Store is the shared state both the API process and the workers operate on.
// All operations are single-key and atomic; there are no cross-key
// transactions, which is why job mutations go through UpdateJob.
//
// Key layout:
//
//	job:<id>             serialized job record
//	queue:pending        ordered list of pending job ids
//	resource:<resource>  id of the job holding the resource lease
//	container:<job_id>   container id for a launched job
type Store interface {
	// PutJob writes the whole job record, replacing any existing one.
	PutJob(ctx context.Context, job *models.Job) error

	// GetJob returns the job record or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// UpdateJob performs a guarded read-modify-write of a job record. The
	// mutate function receives the current record; returning nil persists
	// the mutated record, returning ErrUnchanged skips the write, and any
	// other error aborts the update. The (possibly unchanged) current
	// record is returned so callers can inspect what actually won.
	UpdateJob(ctx context.Context, jobID string, mutate func(*models.Job) error) (*models.Job, error)

	// ScanJobs calls fn for every job record until fn returns false.
	ScanJobs(ctx context.Context, fn func(*models.Job) bool) error

	// PushPending appends a job id at the queue tail. Used both for new
	// submissions and for requeue-on-busy; requeueing at the tail trades
	// strict arrival order for forward progress on other resources.
	PushPending(ctx context.Context, jobID string) error

	// PopPending removes and returns the job id at the queue head, or ""
	// when the queue is empty.
	PopPending(ctx context.Context) (string, error)

	// RemovePending removes all occurrences of the job id from the queue.
	RemovePending(ctx context.Context, jobID string) error

	// PendingLen returns the number of queued job ids.
	PendingLen(ctx context.Context) (int64, error)

	// ResourceAvailable reports whether no lease exists for the resource.
	// This is a pre-check only; AcquireResource is authoritative.
	ResourceAvailable(ctx context.Context, resource string) (bool, error)

	// AcquireResource atomically takes the lease for the resource on behalf
	// of the job. Returns false if another job already holds it.
	AcquireResource(ctx context.Context, resource, jobID string) (bool, error)

	// ReleaseResource drops the lease. Releasing a free resource is a no-op.
	ReleaseResource(ctx context.Context, resource string) error

	// ResourceHolder returns the id of the job holding the resource, or ""
	// when the resource is free.
	ResourceHolder(ctx context.Context, resource string) (string, error)

	// SetContainer records the container id for a launched job so the API
	// can stop it on cancellation.
	SetContainer(ctx context.Context, jobID, containerID string) error

	// GetContainer returns the recorded container id, or "" if none.
	GetContainer(ctx context.Context, jobID string) (string, error)

	// DeleteContainer drops the container mapping. Tolerant of absence.
	DeleteContainer(ctx context.Context, jobID string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store connection.
	Close() error
}
