package worker

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GPUInfo identifies a physical accelerator on the worker host.
type GPUInfo struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	MemoryTotalMB int    `json:"memory_total_mb"`
}

// GPUStats is a point-in-time sample of one device.
type GPUStats struct {
	Index         int     `json:"index"`
	Utilization   float64 `json:"utilization"`
	MemoryUsedMB  int     `json:"memory_used_mb"`
	MemoryTotalMB int     `json:"memory_total_mb"`
	Temperature   float64 `json:"temperature"`
}

// GPUMonitor discovers devices and samples their utilization by shelling
// out to nvidia-smi. On hosts without the NVIDIA tooling every call returns
// an error and callers degrade to cpu-only behavior.
type GPUMonitor struct {
	// run executes nvidia-smi; swapped out in tests
	run func(ctx context.Context, args ...string) (string, error)
}

// NewGPUMonitor creates a monitor backed by the host's nvidia-smi.
func NewGPUMonitor() *GPUMonitor {
	return &GPUMonitor{run: runNvidiaSMI}
}

func runNvidiaSMI(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi", args...).Output()
	if err != nil {
		return "", fmt.Errorf("nvidia-smi: %w", err)
	}
	return string(out), nil
}

// ListGPUs returns the devices visible on the host.
func (g *GPUMonitor) ListGPUs(ctx context.Context) ([]GPUInfo, error) {
	out, err := g.run(ctx,
		"--query-gpu=index,name,memory.total",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, err
	}

	var gpus []GPUInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := splitQueryLine(line)
		if len(fields) < 3 {
			continue
		}
		index, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("unexpected nvidia-smi output line %q", line)
		}
		memory, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("unexpected nvidia-smi output line %q", line)
		}
		gpus = append(gpus, GPUInfo{Index: index, Name: fields[1], MemoryTotalMB: memory})
	}
	return gpus, nil
}

// Stats samples utilization, memory and temperature for one device.
func (g *GPUMonitor) Stats(ctx context.Context, index int) (*GPUStats, error) {
	out, err := g.run(ctx,
		"--query-gpu=index,utilization.gpu,memory.used,memory.total,temperature.gpu",
		"--format=csv,noheader,nounits",
		fmt.Sprintf("--id=%d", index))
	if err != nil {
		return nil, err
	}

	line := strings.TrimSpace(out)
	fields := splitQueryLine(line)
	if len(fields) < 5 {
		return nil, fmt.Errorf("no stats for gpu %d", index)
	}

	stats := &GPUStats{}
	if stats.Index, err = strconv.Atoi(fields[0]); err != nil {
		return nil, fmt.Errorf("unexpected nvidia-smi output line %q", line)
	}
	if stats.Utilization, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return nil, fmt.Errorf("unexpected nvidia-smi output line %q", line)
	}
	if stats.MemoryUsedMB, err = strconv.Atoi(fields[2]); err != nil {
		return nil, fmt.Errorf("unexpected nvidia-smi output line %q", line)
	}
	if stats.MemoryTotalMB, err = strconv.Atoi(fields[3]); err != nil {
		return nil, fmt.Errorf("unexpected nvidia-smi output line %q", line)
	}
	if stats.Temperature, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return nil, fmt.Errorf("unexpected nvidia-smi output line %q", line)
	}
	return stats, nil
}

// HasGPU reports whether the device index named by a gpu:<n> resource is
// physically present on this host.
func (g *GPUMonitor) HasGPU(ctx context.Context, index string) (bool, error) {
	gpus, err := g.ListGPUs(ctx)
	if err != nil {
		return false, err
	}
	for _, gpu := range gpus {
		if strconv.Itoa(gpu.Index) == index {
			return true, nil
		}
	}
	return false, nil
}

// splitQueryLine splits one line of csv,noheader,nounits output.
func splitQueryLine(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
