package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/catalystcommunity/app-utils-go/logging"
)

// DockerRuntime implements ContainerRuntime against the docker daemon.
type DockerRuntime struct {
	client *client.Client
}

// socketCandidates returns the connection attempts in documented order: the
// per-user Docker Desktop socket if present, then the system socket, then an
// explicit DOCKER_HOST. The order is part of the operator contract.
func socketCandidates() []string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		userSock := filepath.Join(home, ".docker", "run", "docker.sock")
		if _, err := os.Stat(userSock); err == nil {
			candidates = append(candidates, "unix://"+userSock)
		}
	}
	if _, err := os.Stat("/var/run/docker.sock"); err == nil {
		candidates = append(candidates, "unix:///var/run/docker.sock")
	}
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		candidates = append(candidates, host)
	}
	return candidates
}

// NewDockerRuntime connects to the container engine, trying each socket
// candidate in order and pinging before accepting it.
func NewDockerRuntime(ctx context.Context) (*DockerRuntime, error) {
	candidates := socketCandidates()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no container engine socket found and DOCKER_HOST is not set")
	}

	var lastErr error
	for _, host := range candidates {
		cli, err := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := cli.Ping(ctx); err != nil {
			lastErr = err
			cli.Close()
			continue
		}
		logging.Log.WithField("host", host).Info("Connected to container engine")
		return &DockerRuntime{client: cli}, nil
	}
	return nil, fmt.Errorf("cannot connect to container engine (tried %s): %w",
		strings.Join(candidates, ", "), lastErr)
}

// NewDockerRuntimeWithClient wraps a custom client. Useful for testing or
// custom configurations.
func NewDockerRuntimeWithClient(cli *client.Client) *DockerRuntime {
	return &DockerRuntime{client: cli}
}

// Ping verifies the engine is reachable
func (dr *DockerRuntime) Ping(ctx context.Context) error {
	_, err := dr.client.Ping(ctx)
	return err
}

// Run creates and starts a detached container for a training job
func (dr *DockerRuntime) Run(ctx context.Context, spec *RunSpec) (string, error) {
	logger := logging.Log.WithField("container_name", spec.Name)

	if err := dr.validateSpec(spec); err != nil {
		return "", fmt.Errorf("invalid run spec: %w", err)
	}

	logger.WithField("image", spec.Image).Info("Ensuring container image is available")
	if err := dr.ensureImage(ctx, spec.Image); err != nil {
		return "", fmt.Errorf("failed to ensure image: %w", err)
	}

	env := spec.Env
	if spec.GPUIndex != "" && spec.UseNvidiaRuntime {
		env = make(map[string]string, len(spec.Env)+1)
		for k, v := range spec.Env {
			env[k] = v
		}
		env["NVIDIA_VISIBLE_DEVICES"] = spec.GPUIndex
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		Env:          envMapToSlice(env),
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Labels: map[string]string{
			"trainqueue.component": "training-job",
		},
	}
	// Command is the full invocation; never let the image entrypoint wrap it
	containerConfig.Entrypoint = []string{}

	binds := make([]string, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		binds = append(binds, fmt.Sprintf("%s:%s:rw", m.HostPath, m.ContainerPath))
	}
	hostConfig := &container.HostConfig{
		Binds:      binds,
		AutoRemove: false, // removed explicitly after reconciliation
	}

	if spec.GPUIndex != "" {
		if spec.UseNvidiaRuntime {
			// Sibling-container path: device selection travels via the env
			// var above, attachment via the vendor runtime
			hostConfig.Runtime = "nvidia"
		} else {
			hostConfig.DeviceRequests = []container.DeviceRequest{
				{
					DeviceIDs:    []string{spec.GPUIndex},
					Capabilities: [][]string{{"gpu"}},
				},
			}
		}
	}

	logger.WithFields(map[string]interface{}{
		"image":     spec.Image,
		"gpu_index": spec.GPUIndex,
	}).Info("Creating training container")

	resp, err := dr.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if len(resp.Warnings) > 0 {
		logger.WithField("warnings", resp.Warnings).Warn("Container creation warnings")
	}

	if err := dr.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		dr.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	logger.WithField("container_id", resp.ID).Info("Training container started")
	return resp.ID, nil
}

// StreamLogs follows the container's output. Docker multiplexes stdout and
// stderr into a single stream with frame headers; both are demultiplexed
// into one combined reader, which is what the per-job output.log wants.
func (dr *DockerRuntime) StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	logs, err := dr.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer logs.Close()
		_, err := stdcopy.StdCopy(pw, pw, logs)
		if err != nil && err != io.EOF {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return pr, nil
}

// Wait blocks until the container is no longer running
func (dr *DockerRuntime) Wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := dr.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return -1, fmt.Errorf("error waiting for container: %w", err)
		}
	case status := <-statusCh:
		logging.Log.WithField("container_id", containerID).
			WithField("exit_code", status.StatusCode).Info("Container exited")
		return int(status.StatusCode), nil
	}
	return -1, fmt.Errorf("unexpected error waiting for container")
}

// Stop signals the container and kills it after the grace period
func (dr *DockerRuntime) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	err := dr.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove deletes the container record, tolerating a container that is
// already gone
func (dr *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	err := dr.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Alive reports whether the container still exists and is running
func (dr *DockerRuntime) Alive(ctx context.Context, containerID string) (bool, error) {
	inspect, err := dr.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// validateSpec validates the run spec
func (dr *DockerRuntime) validateSpec(spec *RunSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("container image is required")
	}
	if len(spec.Command) == 0 {
		return fmt.Errorf("command is required")
	}
	if spec.Name == "" {
		return fmt.Errorf("container name is required")
	}
	return nil
}

// ensureImage pulls the image if it doesn't exist locally
func (dr *DockerRuntime) ensureImage(ctx context.Context, imageName string) error {
	logger := logging.Log.WithField("image", imageName)

	_, _, err := dr.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		logger.Debug("Image found locally")
		return nil
	}

	logger.Info("Pulling container image")
	pullResp, err := dr.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer pullResp.Close()

	// the pull only completes once the response body is drained
	if _, err := io.Copy(io.Discard, pullResp); err != nil {
		return fmt.Errorf("error reading pull response: %w", err)
	}

	logger.Info("Image pulled successfully")
	return nil
}

// envMapToSlice converts an environment variable map to "KEY=VALUE" strings
func envMapToSlice(envMap map[string]string) []string {
	if envMap == nil {
		return nil
	}
	envSlice := make([]string, 0, len(envMap))
	for key, value := range envMap {
		envSlice = append(envSlice, fmt.Sprintf("%s=%s", key, value))
	}
	return envSlice
}

// Ensure DockerRuntime implements ContainerRuntime
var _ ContainerRuntime = (*DockerRuntime)(nil)
