package models

import (
	"regexp"
	"strings"
	"time"
)

// Job statuses. A job is created as pending, moves to running when the
// scheduler dispatches it, and ends in exactly one of the terminal statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ResourceCPU is the fallback compute slot for jobs that don't need a GPU.
const ResourceCPU = "cpu"

var resourcePattern = regexp.MustCompile(`^(cpu|gpu:\d+)$`)

// Job is the record stored under job:<id> in the shared store. Records are
// serialized as JSON and written whole; readers must tolerate unknown fields,
// so every mutation is a read-modify-write of the full record.
type Job struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Resource     string     `json:"resource"`
	RuntimeImage string     `json:"runtime_image"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Error        string     `json:"error,omitempty"`
	ContainerID  string     `json:"container_id,omitempty"`

	// Object store references, set by the output archiver after the job
	// reaches a terminal status.
	LogsObjectKey      string `json:"logs_object_key,omitempty"`
	ArtifactsObjectKey string `json:"artifacts_object_key,omitempty"`
}

// IsRunning returns true if the job is currently executing.
func (j *Job) IsRunning() bool {
	return j.Status == StatusRunning
}

// IsTerminal returns true if the job has finished. Terminal statuses never
// revert.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// CanBeCancelled returns true if cancelling the job would change its state.
// Cancellation itself is idempotent in every state.
func (j *Job) CanBeCancelled() bool {
	return j.Status == StatusPending || j.Status == StatusRunning
}

// ValidResource reports whether s names a schedulable compute slot, either
// the cpu fallback or a single accelerator of the form gpu:<n>.
func ValidResource(s string) bool {
	return resourcePattern.MatchString(s)
}

// GPUIndex returns the device index of a gpu:<n> resource and true, or
// ("", false) for the cpu resource.
func GPUIndex(resource string) (string, bool) {
	if idx, ok := strings.CutPrefix(resource, "gpu:"); ok {
		return idx, true
	}
	return "", false
}
