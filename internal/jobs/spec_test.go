package jobs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSubmitSpec_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: mnist
resource: gpu:1
runtime_image: pytorch/pytorch:2.1.0-cuda12.1-cudnn8-runtime
archive: bundles/mnist.zip
`), 0644))

	spec, err := LoadSubmitSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "mnist", spec.Name)
	assert.Equal(t, "gpu:1", spec.Resource)
	// Relative archive paths resolve against the spec file
	assert.Equal(t, filepath.Join(dir, "bundles", "mnist.zip"), spec.Archive)
}

func TestLoadSubmitSpec_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"name": "fashion",
		"resource": "cpu",
		"archive": "/bundles/fashion.zip"
	}`), 0644))

	spec, err := LoadSubmitSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "cpu", spec.Resource)
	assert.Equal(t, "/bundles/fashion.zip", spec.Archive)

	req := spec.ToSubmitRequest("pytorch/pytorch:latest")
	assert.Equal(t, "pytorch/pytorch:latest", req.RuntimeImage, "default image fills the gap")
	assert.Equal(t, "/bundles/fashion.zip", req.ArchivePath)
}

func TestLoadSubmitSpec_Invalid(t *testing.T) {
	dir := t.TempDir()

	missingArchive := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(missingArchive, []byte("resource: cpu\n"), 0644))
	_, err := LoadSubmitSpec(missingArchive)
	assert.ErrorContains(t, err, "archive")

	missingResource := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(missingResource, []byte("archive: x.zip\n"), 0644))
	_, err = LoadSubmitSpec(missingResource)
	assert.ErrorContains(t, err, "resource")

	_, err = LoadSubmitSpec(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read job file")
}
