package style

import (
	"fmt"
	"os"

	"github.com/paulmach/osm"
	"gopkg.in/yaml.v3"
)

// Tag keys that qualify a way as an addressed building
const (
	BuildingKey    = "building"
	HouseNumberKey = "addr:housenumber"
)

// Config represents the style configuration for qualifying buildings
type Config struct {
	// Buildings configures which ways are extracted as building footprints
	Buildings *FilterConfig `yaml:"buildings,omitempty"`
}

// FilterConfig defines filtering rules on way tags
type FilterConfig struct {
	// RequireAll lists tag keys that must all be present (any value), on
	// top of BuildingKey and HouseNumberKey
	RequireAll []string `yaml:"require_all,omitempty"`
	// RequireAny specifies that at least one of these tags must be present
	// If empty, no requirement
	RequireAny []string `yaml:"require_any,omitempty"`
	// Exclude drops ways carrying one of these key/values
	// An empty value list excludes any value for that key
	Exclude map[string][]string `yaml:"exclude,omitempty"`
}

// LoadConfig loads a style configuration from a YAML file
// Missing sections fall back to DefaultConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}

	if cfg.Buildings == nil {
		cfg.Buildings = DefaultConfig().Buildings
	}
	return &cfg, nil
}

// DefaultConfig requires both a building marker and a house number
func DefaultConfig() *Config {
	return &Config{
		Buildings: &FilterConfig{
			RequireAll: []string{BuildingKey, HouseNumberKey},
		},
	}
}

// Filter checks if tags match the filter configuration
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter from configuration. BuildingKey and
// HouseNumberKey are always required; cfg can only narrow the selection.
func NewFilter(cfg *FilterConfig) *Filter {
	var merged FilterConfig
	if cfg != nil {
		merged = *cfg
	}
	merged.RequireAll = withRequiredKeys(merged.RequireAll)
	return &Filter{cfg: &merged}
}

// withRequiredKeys returns keys plus any missing qualifying key, leaving keys unmodified
func withRequiredKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	for _, required := range []string{BuildingKey, HouseNumberKey} {
		found := false
		for _, k := range out {
			if k == required {
				found = true
				break
			}
		}
		if !found {
			out = append(out, required)
		}
	}
	return out
}

// Match checks if the given tags match the filter rules
// Returns true if the way should be extracted
func (f *Filter) Match(tags osm.Tags) bool {
	for _, key := range f.cfg.RequireAll {
		if !hasKey(tags, key) {
			return false
		}
	}

	if len(f.cfg.RequireAny) > 0 {
		found := false
		for _, key := range f.cfg.RequireAny {
			if hasKey(tags, key) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for key, values := range f.cfg.Exclude {
		for _, tag := range tags {
			if tag.Key != key {
				continue
			}
			if len(values) == 0 {
				return false
			}
			for _, v := range values {
				if v == tag.Value || v == "*" {
					return false
				}
			}
		}
	}

	return true
}

// hasKey reports whether at least one tag carries key, whatever its value
func hasKey(tags osm.Tags, key string) bool {
	for _, tag := range tags {
		if tag.Key == key {
			return true
		}
	}
	return false
}
