package worker

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/trainqueue/trainqueue/internal/objects"
	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/models"
)

// Archiver ships a finished job's output directory and log to object
// storage so results survive workspace cleanup. Archiving is best effort
// and never changes a job's status.
type Archiver struct {
	store   store.Store
	objects objects.ObjectStore
}

// NewArchiver returns nil when no object store is configured, which
// disables archiving.
func NewArchiver(st store.Store, objectStore objects.ObjectStore) *Archiver {
	if objectStore == nil {
		return nil
	}
	return &Archiver{store: st, objects: objectStore}
}

// Archive uploads output.zip and output.log for the job and records the
// object keys on the job record.
func (a *Archiver) Archive(ctx context.Context, jobID, outputDir, logPath string) {
	logger := logging.Log.WithField("job_id", jobID)

	logsKey := fmt.Sprintf("logs/%s/output.log", jobID)
	artifactsKey := fmt.Sprintf("artifacts/%s/output.zip", jobID)

	logsShipped := a.putFile(ctx, logsKey, logPath, "text/plain")
	artifactsShipped := a.putOutputArchive(ctx, artifactsKey, outputDir)
	if !logsShipped && !artifactsShipped {
		return
	}

	_, err := a.store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		if !j.IsTerminal() {
			return store.ErrUnchanged
		}
		if logsShipped {
			j.LogsObjectKey = logsKey
		}
		if artifactsShipped {
			j.ArtifactsObjectKey = artifactsKey
		}
		return nil
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to record object keys on job")
		return
	}
	logger.WithFields(map[string]interface{}{
		"logs_key":      logsKey,
		"artifacts_key": artifactsKey,
	}).Info("Job output shipped to object storage")
}

func (a *Archiver) putFile(ctx context.Context, key, path, contentType string) bool {
	f, err := os.Open(path)
	if err != nil {
		logging.Log.WithError(err).WithField("path", path).Warn("Nothing to ship, file missing")
		return false
	}
	defer f.Close()

	if err := a.objects.Put(ctx, key, f, contentType); err != nil {
		logging.Log.WithError(err).WithField("key", key).Warn("Failed to ship file to object storage")
		return false
	}
	return true
}

// putOutputArchive zips the output directory and uploads it.
func (a *Archiver) putOutputArchive(ctx context.Context, key, outputDir string) bool {
	tmp, err := os.CreateTemp("", "trainqueue-output-*.zip")
	if err != nil {
		logging.Log.WithError(err).Warn("Failed to create archive scratch file")
		return false
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := zipDirectory(tmp, outputDir); err != nil {
		logging.Log.WithError(err).WithField("dir", outputDir).Warn("Failed to archive output directory")
		return false
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		logging.Log.WithError(err).Warn("Failed to rewind archive scratch file")
		return false
	}

	if err := a.objects.Put(ctx, key, tmp, "application/zip"); err != nil {
		logging.Log.WithError(err).WithField("key", key).Warn("Failed to ship archive to object storage")
		return false
	}
	return true
}

// zipDirectory writes dir's files into w with paths relative to dir.
func zipDirectory(w io.Writer, dir string) error {
	zw := zip.NewWriter(w)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
