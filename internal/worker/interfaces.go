package worker

import (
	"context"
	"io"
	"time"
)

// ContainerRuntime abstracts the local container engine. The production
// implementation talks to the docker daemon; tests substitute a fake so the
// runner and scheduler can be exercised without an engine.
type ContainerRuntime interface {
	// Ping verifies the engine is reachable
	Ping(ctx context.Context) error

	// Run creates and starts a detached container and returns its id
	Run(ctx context.Context, spec *RunSpec) (string, error)

	// StreamLogs follows combined stdout+stderr until the container exits
	// or is removed, producing every chunk exactly once
	StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error)

	// Wait blocks until the container stops and returns its exit code
	Wait(ctx context.Context, containerID string) (int, error)

	// Stop signals the container to stop, waits out the grace period, then
	// kills it. Safe to call concurrently with a logs stream.
	Stop(ctx context.Context, containerID string, grace time.Duration) error

	// Remove deletes the container record. Tolerant of already-removed.
	Remove(ctx context.Context, containerID string) error

	// Alive reports whether the container exists and is still running
	Alive(ctx context.Context, containerID string) (bool, error)
}

// Mount is a host-path to container-path read-write bind.
type Mount struct {
	HostPath      string
	ContainerPath string
}

// RunSpec contains everything needed to launch a training container.
type RunSpec struct {
	// Image is the base runtime image chosen at submission
	Image string

	// Command is the full command to execute; the entrypoint is cleared
	Command []string

	// Env is injected into the container
	Env map[string]string

	// Mounts are bound read-write. Host paths must be host-visible: when
	// the worker itself runs in a container they are pre-translated via the
	// configured host data directory.
	Mounts []Mount

	// GPUIndex requests exclusive visibility of a single device, "" for cpu
	GPUIndex string

	// UseNvidiaRuntime switches device attachment to the vendor runtime
	// plus NVIDIA_VISIBLE_DEVICES, the path that works when the worker
	// launches sibling containers from inside a container
	UseNvidiaRuntime bool

	// Name is a human-readable container name derived from the job id
	Name string
}
