package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_StatusHelpers(t *testing.T) {
	tests := []struct {
		status      string
		running     bool
		terminal    bool
		cancellable bool
	}{
		{StatusPending, false, false, true},
		{StatusRunning, true, false, true},
		{StatusCompleted, false, true, false},
		{StatusFailed, false, true, false},
		{StatusCancelled, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			j := &Job{Status: tt.status}
			assert.Equal(t, tt.running, j.IsRunning())
			assert.Equal(t, tt.terminal, j.IsTerminal())
			assert.Equal(t, tt.cancellable, j.CanBeCancelled())
		})
	}
}

// Records written by newer producers may carry fields this reader doesn't
// know about; decoding must tolerate them and still fill in the fields we
// do know.
func TestJob_DecodeToleratesUnknownFields(t *testing.T) {
	raw := `{
		"id": "abc",
		"name": "mnist",
		"resource": "gpu:0",
		"runtime_image": "pytorch/pytorch:latest",
		"status": "pending",
		"created_at": "2025-06-01T12:00:00Z",
		"started_at": null,
		"completed_at": null,
		"gpu_memory_hint_mb": 4096,
		"submitted_by": "someone"
	}`

	var job Job
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, "abc", job.ID)
	assert.Equal(t, "gpu:0", job.Resource)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), job.CreatedAt)
	assert.Nil(t, job.StartedAt)
}

func TestValidResource(t *testing.T) {
	valid := []string{"cpu", "gpu:0", "gpu:1", "gpu:15"}
	for _, r := range valid {
		assert.True(t, ValidResource(r), r)
	}

	invalid := []string{"", "gpu", "gpu:", "gpu:x", "GPU:0", "cpu:0", "tpu:0", " gpu:0", "gpu:0 "}
	for _, r := range invalid {
		assert.False(t, ValidResource(r), r)
	}
}

func TestGPUIndex(t *testing.T) {
	idx, ok := GPUIndex("gpu:3")
	assert.True(t, ok)
	assert.Equal(t, "3", idx)

	idx, ok = GPUIndex("cpu")
	assert.False(t, ok)
	assert.Empty(t, idx)
}
