package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

func TestMemoryStore_JobRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	job := &models.Job{
		ID:        "m1",
		Resource:  "cpu",
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PutJob(ctx, job))

	got, err := s.GetJob(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	// Returned records are copies; mutating them doesn't touch the store
	got.Status = models.StatusFailed
	again, err := s.GetJob(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_UpdateJobSticky(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.PutJob(ctx, &models.Job{ID: "m2", Status: models.StatusCancelled}))

	current, err := s.UpdateJob(ctx, "m2", func(j *models.Job) error {
		if j.Status == models.StatusCancelled {
			return store.ErrUnchanged
		}
		j.Status = models.StatusCompleted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, current.Status)
}

func TestMemoryStore_QueueOrderAndRemove(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, id := range []string{"a", "b", "a", "c"} {
		require.NoError(t, s.PushPending(ctx, id))
	}
	require.NoError(t, s.RemovePending(ctx, "a"))

	var order []string
	for {
		id, err := s.PopPending(ctx)
		require.NoError(t, err)
		if id == "" {
			break
		}
		order = append(order, id)
	}
	assert.Equal(t, []string{"b", "c"}, order)
}

func TestMemoryStore_Leases(t *testing.T) {
	ctx := context.Background()
	s := New()

	acquired, err := s.AcquireResource(ctx, "gpu:0", "j1")
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = s.AcquireResource(ctx, "gpu:0", "j2")
	require.NoError(t, err)
	assert.False(t, acquired)

	holder, err := s.ResourceHolder(ctx, "gpu:0")
	require.NoError(t, err)
	assert.Equal(t, "j1", holder)

	require.NoError(t, s.ReleaseResource(ctx, "gpu:0"))
	require.NoError(t, s.ReleaseResource(ctx, "gpu:0"))

	available, err := s.ResourceAvailable(ctx, "gpu:0")
	require.NoError(t, err)
	assert.True(t, available)
}
