package adapters

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rivalapexmediation/auction/internal/models"
)

// adapterFile is the on-disk layout:
//
//	adapters:
//	  - id: applovin
//	    enabled: true
//	    priority: 1
//	    endpoint: https://bid.example.com/openrtb
type adapterFile struct {
	Adapters []models.AdapterDescriptor `yaml:"adapters"`
}

// FileRegistry re-reads a YAML file on every call so edits take effect
// without a restart. It cannot be modified through the API.
type FileRegistry struct {
	path string
}

// NewFileRegistry returns a registry reading path.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

func (r *FileRegistry) GetAdapterConfig(ctx context.Context) ([]models.AdapterDescriptor, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read adapter file: %w", err)
	}
	var f adapterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse adapter file %s: %w", r.path, err)
	}
	for _, a := range f.Adapters {
		if err := Validate(a); err != nil {
			return nil, fmt.Errorf("adapter file %s: %w", r.path, err)
		}
	}
	out := make([]models.AdapterDescriptor, len(f.Adapters))
	copy(out, f.Adapters)
	sortAdapters(out)
	return out, nil
}
