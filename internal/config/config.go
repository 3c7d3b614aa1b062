package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Conflict policies for activation.
const (
	ConflictAbort = "abort"
	ConflictSkip  = "skip"
)

// Config is the contents of config.yaml.
type Config struct {
	// FSRoot is the live filesystem root units are activated into.
	FSRoot string `yaml:"root"`

	// Prefix is the install prefix handed to build commands as ${prefix}.
	Prefix string `yaml:"prefix"`

	// UnitsDir overrides Paths.Units.
	UnitsDir string `yaml:"units_dir,omitempty"`

	// ExtraUnitDirs are searched, in order, after the units directory.
	ExtraUnitDirs []string `yaml:"extra_unit_dirs,omitempty"`

	Log        LogConfig              `yaml:"log"`
	Activation ActivationConfig       `yaml:"activation"`
	Store      StoreConfig            `yaml:"store"`
	Groups     map[string]GroupConfig `yaml:"groups,omitempty"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ActivationConfig controls the activation engine.
type ActivationConfig struct {
	// OnConflict is "abort" (default) or "skip".
	OnConflict string `yaml:"on_conflict"`
}

// StoreConfig tunes the state database.
type StoreConfig struct {
	// QueryBatch bounds ownership lookups per read transaction.
	QueryBatch int  `yaml:"query_batch,omitempty"`
	SyncWrites bool `yaml:"sync_writes"`
}

// GroupConfig is a named bundle of shell commands run around operations.
// Keys are "pre-<operation>" or "post-<operation>".
type GroupConfig struct {
	Description string            `yaml:"description,omitempty"`
	Hooks       map[string]string `yaml:"hooks"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		FSRoot: "/",
		Prefix: "/usr/local",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Activation: ActivationConfig{OnConflict: ConflictAbort},
		Store:      StoreConfig{SyncWrites: true},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values and normalizes paths.
func (c *Config) Validate() error {
	if c.FSRoot == "" {
		c.FSRoot = "/"
	}
	if !filepath.IsAbs(c.FSRoot) {
		return fmt.Errorf("root must be absolute, got %q", c.FSRoot)
	}
	if !filepath.IsAbs(c.Prefix) {
		return fmt.Errorf("prefix must be absolute, got %q", c.Prefix)
	}
	c.FSRoot = filepath.Clean(c.FSRoot)
	c.Prefix = filepath.Clean(c.Prefix)

	switch c.Activation.OnConflict {
	case "":
		c.Activation.OnConflict = ConflictAbort
	case ConflictAbort, ConflictSkip:
	default:
		return fmt.Errorf("activation.on_conflict must be %q or %q, got %q",
			ConflictAbort, ConflictSkip, c.Activation.OnConflict)
	}

	for _, dir := range c.ExtraUnitDirs {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("extra_unit_dirs entries must be absolute, got %q", dir)
		}
	}

	if c.Store.QueryBatch < 0 {
		return fmt.Errorf("store.query_batch must not be negative")
	}
	return nil
}

// ApplyTo returns paths with config overrides applied.
func (c *Config) ApplyTo(p Paths) Paths {
	if c.UnitsDir != "" {
		p.Units = c.UnitsDir
	}
	return p
}
