package worker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNvidiaSMI scripts the monitor's command runner with canned output per
// query, keyed on the --query-gpu argument.
func fakeNvidiaSMI(outputs map[string]string, err error) *GPUMonitor {
	return &GPUMonitor{
		run: func(ctx context.Context, args ...string) (string, error) {
			if err != nil {
				return "", err
			}
			for _, arg := range args {
				if out, ok := outputs[arg]; ok {
					return out, nil
				}
			}
			return "", nil
		},
	}
}

func TestGPUMonitor_ListGPUs(t *testing.T) {
	monitor := fakeNvidiaSMI(map[string]string{
		"--query-gpu=index,name,memory.total": "0, NVIDIA GeForce RTX 4090, 24564\n1, NVIDIA GeForce RTX 4090, 24564\n",
	}, nil)

	gpus, err := monitor.ListGPUs(context.Background())
	require.NoError(t, err)
	require.Len(t, gpus, 2)
	assert.Equal(t, 0, gpus[0].Index)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", gpus[0].Name)
	assert.Equal(t, 24564, gpus[0].MemoryTotalMB)
	assert.Equal(t, 1, gpus[1].Index)
}

func TestGPUMonitor_ListGPUs_NoTooling(t *testing.T) {
	monitor := fakeNvidiaSMI(nil, assert.AnError)
	_, err := monitor.ListGPUs(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGPUMonitor_ListGPUs_BadOutput(t *testing.T) {
	monitor := fakeNvidiaSMI(map[string]string{
		"--query-gpu=index,name,memory.total": "not, a, number\n",
	}, nil)
	_, err := monitor.ListGPUs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected nvidia-smi output")
}

func TestGPUMonitor_Stats(t *testing.T) {
	monitor := fakeNvidiaSMI(map[string]string{
		"--query-gpu=index,utilization.gpu,memory.used,memory.total,temperature.gpu": "1, 97, 21003, 24564, 71\n",
	}, nil)

	stats, err := monitor.Stats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Index)
	assert.Equal(t, 97.0, stats.Utilization)
	assert.Equal(t, 21003, stats.MemoryUsedMB)
	assert.Equal(t, 24564, stats.MemoryTotalMB)
	assert.Equal(t, 71.0, stats.Temperature)
}

func TestGPUMonitor_Stats_Empty(t *testing.T) {
	monitor := fakeNvidiaSMI(map[string]string{}, nil)
	_, err := monitor.Stats(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stats for gpu 0")
}

func TestGPUMonitor_HasGPU(t *testing.T) {
	monitor := fakeNvidiaSMI(map[string]string{
		"--query-gpu=index,name,memory.total": "0, RTX 4090, 24564\n1, RTX 4090, 24564\n",
	}, nil)

	present, err := monitor.HasGPU(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, present)

	present, err = monitor.HasGPU(context.Background(), "7")
	require.NoError(t, err)
	assert.False(t, present)

	_, err = fakeNvidiaSMI(nil, assert.AnError).HasGPU(context.Background(), "0")
	assert.Error(t, err)
}

func TestGPUMonitor_StatsQueryCarriesDeviceID(t *testing.T) {
	var gotArgs []string
	monitor := &GPUMonitor{
		run: func(ctx context.Context, args ...string) (string, error) {
			gotArgs = args
			return "3, 12, 100, 24564, 40\n", nil
		},
	}

	_, err := monitor.Stats(context.Background(), 3)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(gotArgs, " "), "--id=3")
}
