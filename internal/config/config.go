package config

import (
	"path/filepath"

	"github.com/catalystcommunity/app-utils-go/env"
)

var (
	// StoreURL is the shared key-value store endpoint
	StoreURL = env.GetEnvOrDefault("STORE_URL", "redis://localhost:6379")

	// DataDir is the root for the uploads/jobs/outputs subtrees
	DataDir = env.GetEnvOrDefault("DATA_DIR", "./data")

	// HostDataDir, when set, indicates the worker runs inside a container;
	// its value is the host path that maps to DataDir and is used to rewrite
	// mount paths when spawning sibling containers via the host engine.
	HostDataDir = env.GetEnvOrDefault("HOST_DATA_DIR", "")

	// DefaultRuntimeImage is used when a submission doesn't name an image
	DefaultRuntimeImage = env.GetEnvOrDefault("DEFAULT_RUNTIME_IMAGE", "pytorch/pytorch:latest")

	// CancelStopGrace is the stop grace period in seconds when cancelling a
	// running job's container
	CancelStopGrace = env.GetEnvAsIntOrDefault("CANCEL_STOP_GRACE", "5")

	// MetricsPort exposes the Prometheus handler on the worker when > 0
	MetricsPort = env.GetEnvAsIntOrDefault("METRICS_PORT", "0")

	// Object store configuration for finished-job archives
	ObjectStoreType     = env.GetEnvOrDefault("OBJECT_STORE_TYPE", "none") // s3, filesystem, memory, none
	ObjectStoreBucket   = env.GetEnvOrDefault("OBJECT_STORE_BUCKET", "trainqueue-objects")
	ObjectStoreBasePath = env.GetEnvOrDefault("OBJECT_STORE_BASE_PATH", "./objects") // for filesystem
	ObjectStorePrefix   = env.GetEnvOrDefault("OBJECT_STORE_PREFIX", "trainqueue/")  // for s3
	ObjectStoreRegion   = env.GetEnvOrDefault("OBJECT_STORE_REGION", "")
	ObjectStoreEndpoint = env.GetEnvOrDefault("OBJECT_STORE_ENDPOINT", "")
)

// UploadsDir is where submitted archives land, one <job_id>.zip each.
func UploadsDir() string { return filepath.Join(DataDir, "uploads") }

// JobsDir holds the per-job workspaces with the extracted archive contents
// and the streamed output.log.
func JobsDir() string { return filepath.Join(DataDir, "jobs") }

// OutputsDir holds the per-job output directories mounted at /output.
func OutputsDir() string { return filepath.Join(DataDir, "outputs") }
