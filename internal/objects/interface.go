package objects

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectStore is where finished-job archives and logs end up. Keys are
// slash-separated relative paths, e.g. artifacts/<job_id>/output.zip.
type ObjectStore interface {
	// Put stores an object under the key
	Put(ctx context.Context, key string, data io.Reader, contentType string) error

	// Get retrieves an object
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// List objects with a prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectInfo contains metadata about an object
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ContentType  string    `json:"content_type"`
}

// Config selects and parameterizes an object store backend.
type Config struct {
	Type     string // "s3", "filesystem", "memory", "none"
	BasePath string // filesystem
	Bucket   string // s3
	Prefix   string // s3
	Region   string // s3
	Endpoint string // s3, for S3-compatible services
}

// New creates an object store from the configuration. Type "none" returns
// (nil, nil): archiving is disabled and callers must tolerate a nil store.
func New(cfg Config) (ObjectStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "filesystem":
		basePath := cfg.BasePath
		if basePath == "" {
			basePath = "./objects"
		}
		return NewFilesystemObjectStore(basePath), nil
	case "memory":
		return NewMemoryObjectStore(), nil
	case "s3":
		return NewS3ObjectStore(S3Config{
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	default:
		return nil, errors.New("unsupported object store type: " + cfg.Type)
	}
}

// validateKey rejects keys that would escape the store root.
func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	for i := 0; i+1 < len(key); i++ {
		if key[i] == '.' && key[i+1] == '.' {
			return ErrInvalidKey
		}
	}
	if key[0] == '/' {
		return ErrInvalidKey
	}
	return nil
}
