package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainqueue/trainqueue/internal/store/memorystore"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

func TestRecoverJobs_DeadContainerFailsJob(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	rt := newFakeRuntime()
	dataDir := t.TempDir()

	// A previous worker died mid-run: record says running, container gone
	started := time.Now().UTC().Add(-time.Minute)
	job := &models.Job{
		ID:           "r1",
		Resource:     "gpu:0",
		RuntimeImage: "img",
		Status:       models.StatusRunning,
		CreatedAt:    started,
		StartedAt:    &started,
		ContainerID:  "ctr-gone",
	}
	require.NoError(t, st.PutJob(ctx, job))
	_, err := st.AcquireResource(ctx, "gpu:0", job.ID)
	require.NoError(t, err)
	require.NoError(t, st.SetContainer(ctx, job.ID, "ctr-gone"))
	require.NoError(t, st.PushPending(ctx, job.ID)) // stale entry

	w := newTestWorker(st, rt, dataDir, 1)
	require.NoError(t, w.recoverJobs(ctx))

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, "worker restarted mid-run", final.Error)
	assert.NotNil(t, final.CompletedAt)

	holder, err := st.ResourceHolder(ctx, "gpu:0")
	require.NoError(t, err)
	assert.Empty(t, holder)
	n, err := st.PendingLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	cid, err := st.GetContainer(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, cid)
}

func TestRecoverJobs_FiresOncePerJob(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	rt := newFakeRuntime()
	dataDir := t.TempDir()

	started := time.Now().UTC()
	job := &models.Job{
		ID:          "r2",
		Resource:    "cpu",
		Status:      models.StatusRunning,
		CreatedAt:   started,
		StartedAt:   &started,
		ContainerID: "ctr-gone",
	}
	require.NoError(t, st.PutJob(ctx, job))

	w := newTestWorker(st, rt, dataDir, 1)
	require.NoError(t, w.recoverJobs(ctx))
	first, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)

	// A second pass sees a terminal job and leaves it alone
	require.NoError(t, w.recoverJobs(ctx))
	second, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, first.CompletedAt.Equal(*second.CompletedAt))
}

func TestRecoverJobs_AliveContainerIsResumed(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	rt := newFakeRuntime()
	rt.nextLogs = "still going\n"
	rt.nextDelay = 150 * time.Millisecond
	dataDir := t.TempDir()

	// Launch a container directly so it outlives the "previous" worker
	cid, err := rt.Run(ctx, &RunSpec{Image: "img", Command: []string{"true"}, Name: "trainqueue-job-r3"})
	require.NoError(t, err)

	started := time.Now().UTC()
	job := &models.Job{
		ID:           "r3",
		Resource:     "gpu:0",
		RuntimeImage: "img",
		Status:       models.StatusRunning,
		CreatedAt:    started,
		StartedAt:    &started,
		ContainerID:  cid,
	}
	require.NoError(t, st.PutJob(ctx, job))
	_, err = st.AcquireResource(ctx, "gpu:0", job.ID)
	require.NoError(t, err)
	require.NoError(t, st.SetContainer(ctx, job.ID, cid))

	w := newTestWorker(st, rt, dataDir, 1)
	require.NoError(t, w.recoverJobs(ctx))

	require.Eventually(t, func() bool {
		return jobStatus(st, job.ID) == models.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	holder, err := st.ResourceHolder(ctx, "gpu:0")
	require.NoError(t, err)
	assert.Empty(t, holder)
	assert.Contains(t, rt.removedContainers(), cid)
}
