package objects

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemObjectStore implements ObjectStore on a local directory tree.
// It suits single-host deployments where the data directory is already on
// shared disk.
type FilesystemObjectStore struct {
	basePath string
}

// NewFilesystemObjectStore creates a new filesystem-based object store
func NewFilesystemObjectStore(basePath string) *FilesystemObjectStore {
	return &FilesystemObjectStore{basePath: basePath}
}

// Put stores an object under basePath/key
func (f *FilesystemObjectStore) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	fullPath := filepath.Join(f.basePath, key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(file, data)
	return err
}

// Get retrieves an object from the filesystem
func (f *FilesystemObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(f.basePath, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

// Delete removes an object from the filesystem
func (f *FilesystemObjectStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(f.basePath, key))
	if err != nil && os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// Exists checks if an object exists in the filesystem
func (f *FilesystemObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	_, err := os.Stat(filepath.Join(f.basePath, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List objects with a prefix in the filesystem
func (f *FilesystemObjectStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := filepath.Walk(f.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(f.basePath, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if strings.HasPrefix(relPath, prefix) {
			objects = append(objects, ObjectInfo{
				Key:          relPath,
				Size:         info.Size(),
				LastModified: info.ModTime(),
				ContentType:  guessContentType(relPath),
			})
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return objects, nil
}

// guessContentType makes a simple guess based on file extension
func guessContentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".txt", ".log":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}

// Ensure FilesystemObjectStore implements ObjectStore
var _ ObjectStore = (*FilesystemObjectStore)(nil)
