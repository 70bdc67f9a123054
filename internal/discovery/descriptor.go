package discovery

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
	"gopkg.in/yaml.v3"
)

// DescriptorName is the optional per-unit coverage descriptor
const DescriptorName = "regress.yaml"

// Descriptor is the YAML layout of regress.yaml
type Descriptor struct {
	Sources []string `yaml:"sources"`
	Top     string   `yaml:"top"`
	Scope   string   `yaml:"scope"`
}

// LoadDescriptor reads dir/regress.yaml. Returns nil, nil when the unit has none.
func LoadDescriptor(dir string) (*domain.CoverageTarget, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseDescriptor(data, dir)
}

// ParseDescriptor decodes descriptor YAML, anchoring relative sources at dir
func ParseDescriptor(data []byte, dir string) (*domain.CoverageTarget, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", DescriptorName, err)
	}

	target := &domain.CoverageTarget{Top: d.Top, Scope: d.Scope}
	for _, src := range d.Sources {
		if !filepath.IsAbs(src) {
			src = filepath.Join(dir, src)
		}
		target.Sources = append(target.Sources, src)
	}
	return target, nil
}

// Merge overlays the unit's descriptor on the configured defaults
func Merge(defaults domain.CoverageTarget, override *domain.CoverageTarget) domain.CoverageTarget {
	if override == nil {
		return defaults
	}
	out := defaults
	if len(override.Sources) > 0 {
		out.Sources = override.Sources
	}
	if override.Top != "" {
		out.Top = override.Top
	}
	if override.Scope != "" {
		out.Scope = override.Scope
	}
	return out
}
