//go:build integration

package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

// TestRedisStore_Integration exercises the store against a real Redis
// server. Run with: go test -tags integration ./internal/store/redisstore
func TestRedisStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	s, err := New(uri)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Ping(ctx))

	// Job round trip through a real server
	job := &models.Job{
		ID:           "int-1",
		Name:         "integration",
		Resource:     "gpu:0",
		RuntimeImage: "pytorch/pytorch:latest",
		Status:       models.StatusPending,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.PutJob(ctx, job))

	got, err := s.GetJob(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, job.Name, got.Name)

	// Guarded update inside a real WATCH transaction
	now := time.Now().UTC()
	updated, err := s.UpdateJob(ctx, "int-1", func(j *models.Job) error {
		j.Status = models.StatusCancelled
		j.CompletedAt = &now
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, updated.Status)

	// Sticky cancelled survives a competing terminal write
	current, err := s.UpdateJob(ctx, "int-1", func(j *models.Job) error {
		if j.Status == models.StatusCancelled {
			return store.ErrUnchanged
		}
		j.Status = models.StatusCompleted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, current.Status)

	// Queue and lease semantics
	require.NoError(t, s.PushPending(ctx, "a"))
	require.NoError(t, s.PushPending(ctx, "b"))
	first, err := s.PopPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first)

	acquired, err := s.AcquireResource(ctx, "gpu:0", "a")
	require.NoError(t, err)
	assert.True(t, acquired)
	acquired, err = s.AcquireResource(ctx, "gpu:0", "b")
	require.NoError(t, err)
	assert.False(t, acquired)
	require.NoError(t, s.ReleaseResource(ctx, "gpu:0"))
}
