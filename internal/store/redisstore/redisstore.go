package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

const (
	jobKeyPrefix       = "job:"
	containerKeyPrefix = "container:"
	resourceKeyPrefix  = "resource:"
	pendingQueueKey    = "queue:pending"

	// updateRetries bounds the optimistic-transaction retry loop in
	// UpdateJob. Contention on a single job record is rare (a runner and at
	// most one concurrent cancel), so a handful of attempts is plenty.
	updateRetries = 10
)

// RedisStore implements store.Store on a Redis server. The key layout is a
// shared contract with every other process talking to the same server, so
// the prefixes above must not change.
type RedisStore struct {
	client *redis.Client
}

// New connects to the store at the given URL (redis://host:port/db).
func New(storeURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing client. Useful for testing or custom
// configurations.
func NewWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func jobKey(jobID string) string       { return jobKeyPrefix + jobID }
func containerKey(jobID string) string { return containerKeyPrefix + jobID }
func resourceKey(resource string) string {
	return resourceKeyPrefix + resource
}

func (s *RedisStore) PutJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	return s.client.Set(ctx, jobKey(job.ID), data, 0).Err()
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeJob(data)
}

// UpdateJob runs the read-modify-write inside a WATCH transaction so a
// concurrent whole-record write (for example a cancel from the API) forces a
// re-read instead of being silently overwritten.
func (s *RedisStore) UpdateJob(ctx context.Context, jobID string, mutate func(*models.Job) error) (*models.Job, error) {
	key := jobKey(jobID)
	var result *models.Job

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		job, err := decodeJob(data)
		if err != nil {
			return err
		}

		if err := mutate(job); err != nil {
			if errors.Is(err, store.ErrUnchanged) {
				result = job
				return nil
			}
			return err
		}

		updated, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to serialize job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = job
		return nil
	}

	for i := 0; i < updateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("job %s update contention persisted after %d attempts", jobID, updateRetries)
}

func (s *RedisStore) ScanJobs(ctx context.Context, fn func(*models.Job) bool) error {
	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			// Record vanished between SCAN and GET.
			continue
		}
		if err != nil {
			return err
		}
		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if !fn(job) {
			return nil
		}
	}
	return iter.Err()
}

// PushPending appends at the tail of the list; PopPending consumes from the
// opposite end, giving head-to-tail FIFO order.
func (s *RedisStore) PushPending(ctx context.Context, jobID string) error {
	return s.client.LPush(ctx, pendingQueueKey, jobID).Err()
}

func (s *RedisStore) PopPending(ctx context.Context) (string, error) {
	jobID, err := s.client.RPop(ctx, pendingQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return jobID, err
}

func (s *RedisStore) RemovePending(ctx context.Context, jobID string) error {
	return s.client.LRem(ctx, pendingQueueKey, 0, jobID).Err()
}

func (s *RedisStore) PendingLen(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, pendingQueueKey).Result()
}

func (s *RedisStore) ResourceAvailable(ctx context.Context, resource string) (bool, error) {
	n, err := s.client.Exists(ctx, resourceKey(resource)).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *RedisStore) AcquireResource(ctx context.Context, resource, jobID string) (bool, error) {
	return s.client.SetNX(ctx, resourceKey(resource), jobID, 0).Result()
}

func (s *RedisStore) ReleaseResource(ctx context.Context, resource string) error {
	return s.client.Del(ctx, resourceKey(resource)).Err()
}

func (s *RedisStore) ResourceHolder(ctx context.Context, resource string) (string, error) {
	holder, err := s.client.Get(ctx, resourceKey(resource)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return holder, err
}

func (s *RedisStore) SetContainer(ctx context.Context, jobID, containerID string) error {
	return s.client.Set(ctx, containerKey(jobID), containerID, 0).Err()
}

func (s *RedisStore) GetContainer(ctx context.Context, jobID string) (string, error) {
	containerID, err := s.client.Get(ctx, containerKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return containerID, err
}

func (s *RedisStore) DeleteContainer(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, containerKey(jobID)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// decodeJob tolerates unknown fields so records written by newer producers
// still load.
func decodeJob(data []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &job, nil
}

// Ensure RedisStore implements the Store interface
var _ store.Store = (*RedisStore)(nil)
