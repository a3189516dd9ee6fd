package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SubmitSpec is a job submission that can be loaded from a YAML or JSON
// file instead of being assembled from flags.
type SubmitSpec struct {
	// Name is a human-readable name for the job
	Name string `json:"name" yaml:"name"`

	// Resource is the compute slot to run on: gpu:<n> or cpu
	Resource string `json:"resource" yaml:"resource"`

	// RuntimeImage is the base container image
	RuntimeImage string `json:"runtime_image" yaml:"runtime_image"`

	// Archive is the path to the zip bundling the workload, relative paths
	// resolved against the spec file's directory
	Archive string `json:"archive" yaml:"archive"`
}

// LoadSubmitSpec reads a submission spec from a YAML or JSON file.
func LoadSubmitSpec(path string) (*SubmitSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var spec SubmitSpec
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	}

	if spec.Archive == "" {
		return nil, fmt.Errorf("job file must name an archive")
	}
	if !filepath.IsAbs(spec.Archive) {
		spec.Archive = filepath.Join(filepath.Dir(path), spec.Archive)
	}
	if spec.Resource == "" {
		return nil, fmt.Errorf("job file must name a resource")
	}
	return &spec, nil
}

// ToSubmitRequest converts a loaded spec into a submission request.
func (s *SubmitSpec) ToSubmitRequest(defaultImage string) *SubmitRequest {
	image := s.RuntimeImage
	if image == "" {
		image = defaultImage
	}
	return &SubmitRequest{
		Name:         s.Name,
		Resource:     s.Resource,
		RuntimeImage: image,
		ArchivePath:  s.Archive,
	}
}
