// Package config loads the YAML configuration for depth calculation:
// hydraulic design parameters, tolerances, and attribute field mapping.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sewernet/pkg/hydraulics"
)

// Config is the top-level YAML structure.
type Config struct {
	Hydraulics Hydraulics `yaml:"hydraulics"`
	Tolerances Tolerances `yaml:"tolerances"`
	Fields     FieldMap   `yaml:"fields"`

	// InitialDepthM, when positive, overrides the rule minimum as the
	// starting depth at network roots.
	InitialDepthM float64 `yaml:"initial_depth_m"`
}

// Hydraulics holds the design parameters applied to every segment.
type Hydraulics struct {
	MinCoverM  float64 `yaml:"min_cover_m"`
	DiameterM  float64 `yaml:"diameter_m"`
	SlopeMPerM float64 `yaml:"slope_m_per_m"`
}

// Tolerances holds the thresholds that bound cascades and change detection.
type Tolerances struct {
	// DepthM is the significance threshold for depth writes and convergent
	// conflict resolution. Differences at or below it stop a cascade.
	DepthM float64 `yaml:"depth_m"`
	// MovementM is the minimum endpoint displacement (map units) that
	// counts as a geometry change.
	MovementM float64 `yaml:"movement_m"`
	// NodeKeyPrecision is the decimal precision for junction snapping.
	NodeKeyPrecision int `yaml:"node_key_precision"`
}

// FieldMap names the feature attributes that carry elevations and depths.
type FieldMap struct {
	P1Elev  string `yaml:"p1_elev"`
	P2Elev  string `yaml:"p2_elev"`
	P1Depth string `yaml:"p1_depth"`
	P2Depth string `yaml:"p2_depth"`
}

// ValidationError reports a config field that fails validation. A pass must
// not start with an invalid config, so these abort early.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads, parses, and validates a YAML config file. Unset fields take
// their defaults before validation runs.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Hydraulics.MinCoverM == 0 {
		c.Hydraulics.MinCoverM = 0.9
	}
	if c.Hydraulics.DiameterM == 0 {
		c.Hydraulics.DiameterM = 0.15
	}
	if c.Hydraulics.SlopeMPerM == 0 {
		c.Hydraulics.SlopeMPerM = 0.001
	}
	if c.Tolerances.DepthM == 0 {
		c.Tolerances.DepthM = 0.01
	}
	if c.Tolerances.MovementM == 0 {
		c.Tolerances.MovementM = 0.001
	}
	if c.Tolerances.NodeKeyPrecision == 0 {
		c.Tolerances.NodeKeyPrecision = 6
	}
	if c.Fields.P1Elev == "" {
		c.Fields.P1Elev = "p1_elev"
	}
	if c.Fields.P2Elev == "" {
		c.Fields.P2Elev = "p2_elev"
	}
	if c.Fields.P1Depth == "" {
		c.Fields.P1Depth = "p1_h"
	}
	if c.Fields.P2Depth == "" {
		c.Fields.P2Depth = "p2_h"
	}
}

// Validate rejects parameter values a pass cannot run with.
func (c Config) Validate() error {
	if c.Hydraulics.MinCoverM < 0 {
		return &ValidationError{"hydraulics.min_cover_m", "must not be negative"}
	}
	if c.Hydraulics.DiameterM <= 0 {
		return &ValidationError{"hydraulics.diameter_m", "must be positive"}
	}
	if c.Hydraulics.SlopeMPerM < 0 {
		return &ValidationError{"hydraulics.slope_m_per_m", "must not be negative"}
	}
	if c.Tolerances.DepthM <= 0 {
		return &ValidationError{"tolerances.depth_m", "must be positive"}
	}
	if c.Tolerances.MovementM <= 0 {
		return &ValidationError{"tolerances.movement_m", "must be positive"}
	}
	if c.Tolerances.NodeKeyPrecision < 1 || c.Tolerances.NodeKeyPrecision > 12 {
		return &ValidationError{"tolerances.node_key_precision", "must be in [1,12]"}
	}
	if c.InitialDepthM < 0 {
		return &ValidationError{"initial_depth_m", "must not be negative"}
	}
	return nil
}

// Params returns the hydraulic parameters as used by the rule evaluator.
func (c Config) Params() hydraulics.Params {
	return hydraulics.Params{
		MinCoverM:  c.Hydraulics.MinCoverM,
		DiameterM:  c.Hydraulics.DiameterM,
		SlopeMPerM: c.Hydraulics.SlopeMPerM,
	}
}
