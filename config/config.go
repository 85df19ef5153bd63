// Package config provides configuration loading and access for the engine and its runner.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all engine configuration parameters.
type Config struct {
	Field     FieldConfig     `yaml:"field"`
	Forces    ForcesConfig    `yaml:"forces"`
	Parallel  ParallelConfig  `yaml:"parallel"`
	Sim       SimConfig       `yaml:"sim"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// FieldConfig holds per-frame sparse field parameters.
type FieldConfig struct {
	Margin          float64 `yaml:"margin"`            // local-space padding around source boxes
	EvictAfterTicks uint64  `yaml:"evict_after_ticks"` // 0 disables the sweep
}

// ForcesConfig holds orchestrator toggles.
type ForcesConfig struct {
	UseCenterOfMassOverride         bool    `yaml:"use_center_of_mass_override"`
	SuppressForceAfterDiscontinuity bool    `yaml:"suppress_force_after_discontinuity"`
	DegenerateForceEpsilon          float64 `yaml:"degenerate_force_epsilon"`
}

// ParallelConfig holds worker pool parameters.
type ParallelConfig struct {
	Workers   int `yaml:"workers"`   // 0 means GOMAXPROCS
	Threshold int `yaml:"threshold"` // below this many bodies collect runs inline
}

// SimConfig holds reference host integration parameters.
type SimConfig struct {
	DT             float64 `yaml:"dt"`
	MaxTicks       uint64  `yaml:"max_ticks"`
	AngularDamping float64 `yaml:"angular_damping"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow      int    `yaml:"perf_window"`
	LogEvery        uint64 `yaml:"log_every"`
	BookmarkHistory int    `yaml:"bookmark_history"` // windows averaged by the bookmark detector
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Workers int // Parallel.Workers resolved against GOMAXPROCS
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in the file.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Field.Margin < 0:
		return fmt.Errorf("config: field.margin must be >= 0, got %v", c.Field.Margin)
	case c.Forces.DegenerateForceEpsilon < 0:
		return fmt.Errorf("config: forces.degenerate_force_epsilon must be >= 0, got %v", c.Forces.DegenerateForceEpsilon)
	case c.Parallel.Workers < 0:
		return fmt.Errorf("config: parallel.workers must be >= 0, got %d", c.Parallel.Workers)
	case c.Sim.DT <= 0:
		return fmt.Errorf("config: sim.dt must be > 0, got %v", c.Sim.DT)
	case c.Sim.AngularDamping < 0 || c.Sim.AngularDamping > 1:
		return fmt.Errorf("config: sim.angular_damping must be in [0, 1], got %v", c.Sim.AngularDamping)
	case c.Telemetry.PerfWindow < 1:
		return fmt.Errorf("config: telemetry.perf_window must be >= 1, got %d", c.Telemetry.PerfWindow)
	case c.Telemetry.BookmarkHistory < 3:
		return fmt.Errorf("config: telemetry.bookmark_history must be >= 3, got %d", c.Telemetry.BookmarkHistory)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Workers = c.Parallel.Workers
	if c.Derived.Workers == 0 {
		c.Derived.Workers = runtime.GOMAXPROCS(0)
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
