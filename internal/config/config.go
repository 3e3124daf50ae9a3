package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// MissingNodePolicy decides what happens when a way references a node
// that no input extract defines
type MissingNodePolicy string

const (
	// MissingNodeSkip drops the reference and keeps the shortened ring
	MissingNodeSkip MissingNodePolicy = "skip"
	// MissingNodeDrop excludes the whole way
	MissingNodeDrop MissingNodePolicy = "drop"
	// MissingNodeFail aborts the run
	MissingNodeFail MissingNodePolicy = "fail"
)

// ParseMissingNodePolicy parses skip, drop or fail
func ParseMissingNodePolicy(s string) (MissingNodePolicy, error) {
	switch p := MissingNodePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case MissingNodeSkip, MissingNodeDrop, MissingNodeFail:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported missing node policy: %q (supported: skip, drop, fail)", s)
	}
}

// DomainPolicy decides what happens to a ring with a coordinate outside the
// projected frame's valid region
type DomainPolicy string

const (
	DomainSkip DomainPolicy = "skip"
	DomainFail DomainPolicy = "fail"
)

// ParseDomainPolicy parses skip or fail
func ParseDomainPolicy(s string) (DomainPolicy, error) {
	switch p := DomainPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DomainSkip, DomainFail:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported out-of-domain policy: %q (supported: skip, fail)", s)
	}
}

// Config holds the configuration for one conversion run
type Config struct {
	// Input settings
	InputFiles    []string
	StyleFile     string // Path to style YAML file for building qualification
	FlatNodesFile string // Path to flat nodes file (empty = in-memory index)

	// Output settings
	OutputFile string // Feature collection path
	DXFFile    string // Drafting output path, empty = only log the follow-up command
	Ogr2ogr    string // Conversion tool binary

	// Policies
	MissingNode    MissingNodePolicy
	KeepDegenerate bool
	OutOfDomain    DomainPolicy

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for resource logging, 0 = disabled
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Ogr2ogr:         "ogr2ogr",
		MissingNode:     MissingNodeSkip,
		KeepDegenerate:  false,
		OutOfDomain:     DomainSkip,
		MetricsInterval: 0,
	}
}

// SetOutput assigns the output path. A path ending in .dxf is treated as the
// drafting target and the collection goes next to it with a .geojson extension.
func (c *Config) SetOutput(path string) {
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, ".dxf") {
		c.DXFFile = path
		c.OutputFile = strings.TrimSuffix(path, ext) + ".geojson"
		return
	}
	c.OutputFile = path
}

// RunConversion reports whether the external conversion tool should be invoked
func (c *Config) RunConversion() bool {
	return c.DXFFile != ""
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFile == "" {
		return fmt.Errorf("output file is required")
	}
	if len(c.InputFiles) == 0 {
		return fmt.Errorf("at least one input file is required")
	}
	for _, in := range c.InputFiles {
		if filepath.Clean(in) == filepath.Clean(c.OutputFile) {
			return fmt.Errorf("output file %s is also an input", c.OutputFile)
		}
	}
	if c.DXFFile != "" && filepath.Clean(c.DXFFile) == filepath.Clean(c.OutputFile) {
		return fmt.Errorf("dxf output must differ from the collection output")
	}
	if _, err := ParseMissingNodePolicy(string(c.MissingNode)); err != nil {
		return err
	}
	if _, err := ParseDomainPolicy(string(c.OutOfDomain)); err != nil {
		return err
	}
	if c.RunConversion() && c.Ogr2ogr == "" {
		return fmt.Errorf("ogr2ogr binary is required for dxf output")
	}
	if c.MetricsInterval < 0 {
		return fmt.Errorf("metrics interval must not be negative")
	}
	return nil
}
