package worker

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trainqueue/trainqueue/internal/store/models"
)

// workspace is the per-job directory tree on shared disk: the extracted
// archive plus output.log under the jobs dir, and a separate output dir
// mounted into the container. It is retained after terminal status for
// download and inspection.
type workspace struct {
	JobDir    string
	OutputDir string
	LogPath   string
}

// workspaceFor returns the workspace paths for a job without touching disk.
func workspaceFor(dataDir, jobID string) *workspace {
	jobDir := filepath.Join(dataDir, "jobs", jobID)
	return &workspace{
		JobDir:    jobDir,
		OutputDir: filepath.Join(dataDir, "outputs", jobID),
		LogPath:   filepath.Join(jobDir, "output.log"),
	}
}

// prepareWorkspace extracts the uploaded archive for the job and creates
// its output directory.
func prepareWorkspace(dataDir, jobID string) (*workspace, error) {
	ws := workspaceFor(dataDir, jobID)
	uploadPath := filepath.Join(dataDir, "uploads", jobID+".zip")

	if err := os.MkdirAll(ws.JobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job workspace: %w", err)
	}
	if err := os.MkdirAll(ws.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := extractArchive(uploadPath, ws.JobDir); err != nil {
		return nil, err
	}
	return ws, nil
}

// extractArchive unpacks a zip into destDir, preserving the submitted
// structure and refusing entries that would escape it.
func extractArchive(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open uploaded archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		target := filepath.Join(destDir, filepath.Clean(file.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes the workspace", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		src, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to read archive entry %q: %w", file.Name, err)
		}
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return fmt.Errorf("failed to extract archive entry %q: %w", file.Name, err)
		}
	}
	return nil
}

// writeLogHeader starts output.log with the job banner.
func writeLogHeader(logPath string, job *models.Job, startedAt time.Time) error {
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create job log: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "Job started at %s\n", startedAt.Format(time.RFC3339))
	fmt.Fprintf(f, "Resource: %s\n", job.Resource)
	fmt.Fprintf(f, "Runtime Image: %s\n", job.RuntimeImage)
	fmt.Fprintf(f, "%s\n\n", strings.Repeat("-", 50))
	return nil
}

// appendLogError records a runner failure at the end of output.log so the
// cause is visible next to the job's own output.
func appendLogError(logPath string, cause error) {
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	rule := strings.Repeat("=", 50)
	fmt.Fprintf(f, "\n\n%s\nERROR: %v\n%s\n", rule, cause, rule)
}

// hostPath translates a worker-local path under dataDir into the path the
// container engine can mount. When the worker runs directly on the host the
// absolute local path is used; when it runs inside a container
// (hostDataDir set) the path is rewritten onto the host-visible data dir.
func hostPath(dataDir, hostDataDir, path string) (string, error) {
	if hostDataDir == "" {
		return filepath.Abs(path)
	}
	rel, err := filepath.Rel(dataDir, path)
	if err != nil {
		return "", fmt.Errorf("path %q is outside the data directory: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q is outside the data directory", path)
	}
	return filepath.Join(hostDataDir, rel), nil
}
