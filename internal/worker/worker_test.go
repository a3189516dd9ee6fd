package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/memorystore"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

func newTestWorker(st store.Store, rt ContainerRuntime, dataDir string, concurrency int) *Worker {
	return New(&Config{
		Store:       st,
		DataDir:     dataDir,
		Concurrency: concurrency,
		IdleSleep:   10 * time.Millisecond,
		BusySleep:   10 * time.Millisecond,
		StopGrace:   time.Second,
		WorkerID:    "test-worker",
		Runtime:     rt,
	})
}

// startWorker runs the scheduler loop in the background and returns a stop
// function that waits for it to drain.
func startWorker(t *testing.T, w *Worker) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Start(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// jobStatus is polled inside require.Eventually closures, so it reports
// lookup failures as an empty status instead of failing the test.
func jobStatus(st store.Store, jobID string) string {
	job, err := st.GetJob(context.Background(), jobID)
	if err != nil {
		return ""
	}
	return job.Status
}

func TestWorker_DispatchesPendingJob(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	rt := newFakeRuntime()
	rt.nextLogs = "done\n"
	dataDir := t.TempDir()

	job := pendingJob(t, st, "w1", "gpu:0")
	writeTestArchive(t, dataDir, job.ID, map[string]string{
		"train.py":         "",
		"requirements.txt": "",
	})
	require.NoError(t, st.PushPending(ctx, job.ID))

	stop := startWorker(t, newTestWorker(st, rt, dataDir, 1))
	defer stop()

	require.Eventually(t, func() bool {
		return jobStatus(st, job.ID) == models.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	holder, err := st.ResourceHolder(ctx, "gpu:0")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestWorker_DropsNonPendingEntries(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	rt := newFakeRuntime()
	dataDir := t.TempDir()

	job := pendingJob(t, st, "w2", "gpu:0")
	now := time.Now().UTC()
	_, err := st.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.Status = models.StatusCancelled
		j.CompletedAt = &now
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, st.PushPending(ctx, job.ID))
	// A vanished job id is dropped the same way
	require.NoError(t, st.PushPending(ctx, "no-such-job"))

	stop := startWorker(t, newTestWorker(st, rt, dataDir, 1))
	defer stop()

	require.Eventually(t, func() bool {
		n, err := st.PendingLen(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 0, rt.runCount)
	assert.Equal(t, models.StatusCancelled, jobStatus(st, job.ID))
}

func TestWorker_BusyResourceRotatesAtTail(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	rt := newFakeRuntime()
	dataDir := t.TempDir()

	// gpu:0 is held by some other job
	_, err := st.AcquireResource(ctx, "gpu:0", "other")
	require.NoError(t, err)

	job := pendingJob(t, st, "w3", "gpu:0")
	writeTestArchive(t, dataDir, job.ID, map[string]string{
		"train.py":         "",
		"requirements.txt": "",
	})
	require.NoError(t, st.PushPending(ctx, job.ID))

	stop := startWorker(t, newTestWorker(st, rt, dataDir, 1))
	defer stop()

	// The job keeps rotating through the queue without being dispatched
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, models.StatusPending, jobStatus(st, job.ID))
	assert.Equal(t, 0, rt.runCount)

	// Once the resource frees, the job runs
	require.NoError(t, st.ReleaseResource(ctx, "gpu:0"))
	require.Eventually(t, func() bool {
		return jobStatus(st, job.ID) == models.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorker_IndependentResourceOvertakesBusyOne(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	rt := newFakeRuntime()
	rt.nextDelay = 400 * time.Millisecond // every container runs a while
	dataDir := t.TempDir()

	for _, id := range []string{"A", "B", "D"} {
		resource := "gpu:0"
		if id == "D" {
			resource = "gpu:1"
		}
		job := pendingJob(t, st, id, resource)
		writeTestArchive(t, dataDir, job.ID, map[string]string{
			"train.py":         "",
			"requirements.txt": "",
		})
	}
	// A and B contend for gpu:0 in that order, D has gpu:1 to itself
	require.NoError(t, st.PushPending(ctx, "A"))
	require.NoError(t, st.PushPending(ctx, "B"))
	require.NoError(t, st.PushPending(ctx, "D"))

	stop := startWorker(t, newTestWorker(st, rt, dataDir, 2))
	defer stop()

	// D is dispatched while B is still waiting for gpu:0 behind A
	require.Eventually(t, func() bool {
		return jobStatus(st, "D") == models.StatusRunning || jobStatus(st, "D") == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.StatusPending, jobStatus(st, "B"))

	// Eventually everything finishes
	require.Eventually(t, func() bool {
		return jobStatus(st, "A") == models.StatusCompleted &&
			jobStatus(st, "B") == models.StatusCompleted &&
			jobStatus(st, "D") == models.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)
}

func TestWorker_IterateRequeuesWhenResourceHeld(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	rt := newFakeRuntime()
	dataDir := t.TempDir()

	w := newTestWorker(st, rt, dataDir, 1)

	job := pendingJob(t, st, "w5", "gpu:0")
	require.NoError(t, st.PushPending(ctx, job.ID))

	// A rival worker holds the lease; one scheduling pass must put the
	// entry back instead of dispatching or dropping it.
	_, err := st.AcquireResource(ctx, "gpu:0", "rival")
	require.NoError(t, err)

	w.iterate(ctx)

	n, err := st.PendingLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, models.StatusPending, jobStatus(st, job.ID))
	assert.Equal(t, 0, rt.runCount)
}
