package memorystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

// MemoryStore implements store.Store with in-process maps. It mirrors the
// shared store's semantics (whole-record job writes, atomic set-if-absent
// leases, FIFO pending list) and exists for tests and local development
// without a store server.
type MemoryStore struct {
	mu         sync.Mutex
	jobs       map[string][]byte
	pending    []string
	resources  map[string]string
	containers map[string]string
}

// New creates an empty in-memory store.
func New() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string][]byte),
		resources:  make(map[string]string),
		containers: make(map[string]string),
	}
}

func (s *MemoryStore) PutJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = data
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJobLocked(jobID)
}

func (s *MemoryStore) getJobLocked(jobID string) (*models.Job, error) {
	data, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &job, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, jobID string, mutate func(*models.Job) error) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getJobLocked(jobID)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		if errors.Is(err, store.ErrUnchanged) {
			return job, nil
		}
		return nil, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize job: %w", err)
	}
	s.jobs[jobID] = data
	return job, nil
}

func (s *MemoryStore) ScanJobs(ctx context.Context, fn func(*models.Job) bool) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !fn(job) {
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) PushPending(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, jobID)
	return nil
}

func (s *MemoryStore) PopPending(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return "", nil
	}
	jobID := s.pending[0]
	s.pending = s.pending[1:]
	return jobID, nil
}

func (s *MemoryStore) RemovePending(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[:0]
	for _, id := range s.pending {
		if id != jobID {
			kept = append(kept, id)
		}
	}
	s.pending = kept
	return nil
}

func (s *MemoryStore) PendingLen(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending)), nil
}

func (s *MemoryStore) ResourceAvailable(ctx context.Context, resource string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.resources[resource]
	return !held, nil
}

func (s *MemoryStore) AcquireResource(ctx context.Context, resource, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.resources[resource]; held {
		return false, nil
	}
	s.resources[resource] = jobID
	return true, nil
}

func (s *MemoryStore) ReleaseResource(ctx context.Context, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, resource)
	return nil
}

func (s *MemoryStore) ResourceHolder(ctx context.Context, resource string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[resource], nil
}

func (s *MemoryStore) SetContainer(ctx context.Context, jobID, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[jobID] = containerID
	return nil
}

func (s *MemoryStore) GetContainer(ctx context.Context, jobID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containers[jobID], nil
}

func (s *MemoryStore) DeleteContainer(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.containers, jobID)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements the Store interface
var _ store.Store = (*MemoryStore)(nil)
