package worker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// fakeRuntime is a scripted ContainerRuntime for exercising the runner and
// scheduler without a container engine.
type fakeRuntime struct {
	mu sync.Mutex

	pingErr error
	runErr  error

	// Script for the next Run call
	nextLogs  string
	nextExit  int
	nextDelay time.Duration

	containers map[string]*fakeContainer
	runCount   int

	stopCalls   []string
	removeCalls []string
}

type fakeContainer struct {
	logs     string
	exitCode int

	doneOnce sync.Once
	done     chan struct{}
	stopped  bool
}

func (c *fakeContainer) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]*fakeContainer)}
}

func (f *fakeRuntime) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeRuntime) Run(ctx context.Context, spec *RunSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.runErr != nil {
		return "", f.runErr
	}

	f.runCount++
	id := fmt.Sprintf("ctr-%d", f.runCount)
	c := &fakeContainer{
		logs:     f.nextLogs,
		exitCode: f.nextExit,
		done:     make(chan struct{}),
	}
	f.containers[id] = c

	if delay := f.nextDelay; delay > 0 {
		go func() {
			t := time.NewTimer(delay)
			defer t.Stop()
			<-t.C
			c.finish()
		}()
	} else {
		c.finish()
	}
	return id, nil
}

func (f *fakeRuntime) get(containerID string) *fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[containerID]
}

func (f *fakeRuntime) StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	c := f.get(containerID)
	if c == nil {
		return nil, fmt.Errorf("no such container: %s", containerID)
	}

	pr, pw := io.Pipe()
	go func() {
		io.Copy(pw, strings.NewReader(c.logs))
		<-c.done
		pw.Close()
	}()
	return pr, nil
}

func (f *fakeRuntime) Wait(ctx context.Context, containerID string) (int, error) {
	c := f.get(containerID)
	if c == nil {
		return -1, fmt.Errorf("no such container: %s", containerID)
	}
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-c.done:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c.stopped {
		return 137, nil
	}
	return c.exitCode, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	c := f.get(containerID)
	if c == nil {
		return nil
	}
	f.mu.Lock()
	f.stopCalls = append(f.stopCalls, containerID)
	c.stopped = true
	f.mu.Unlock()
	c.finish()
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, containerID string) error {
	c := f.get(containerID)
	f.mu.Lock()
	f.removeCalls = append(f.removeCalls, containerID)
	f.mu.Unlock()
	if c != nil {
		f.mu.Lock()
		c.stopped = true
		f.mu.Unlock()
		c.finish()
	}
	return nil
}

func (f *fakeRuntime) Alive(ctx context.Context, containerID string) (bool, error) {
	c := f.get(containerID)
	if c == nil {
		return false, nil
	}
	select {
	case <-c.done:
		return false, nil
	default:
		return true, nil
	}
}

func (f *fakeRuntime) removedContainers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removeCalls...)
}

func (f *fakeRuntime) stoppedContainers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopCalls...)
}

// Ensure fakeRuntime implements ContainerRuntime
var _ ContainerRuntime = (*fakeRuntime)(nil)
