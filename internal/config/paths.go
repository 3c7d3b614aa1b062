// Package config manages unitforge configuration and filesystem paths.
//
// All state lives under one data root (default ~/.unitforge) which holds
// the unit definitions, the download and build caches, destroots, the
// state database and the configuration files. The root can be moved with
// the UNITFORGE_ROOT environment variable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// RootEnv overrides the data root.
const RootEnv = "UNITFORGE_ROOT"

// Paths contains all the filesystem paths used by unitforge.
type Paths struct {
	// Root is the base directory for all unitforge data (default: ~/.unitforge)
	Root string

	// Units holds one directory per unit definition (<name>/unit.yaml)
	Units string

	// Downloads is the download cache (<name>/<archive>)
	Downloads string

	// Builds is the build cache (<name>/<version>/{src,build})
	Builds string

	// Destroot holds staged install trees (<name>/<version>, <name>/current)
	Destroot string

	// Database is the state database directory
	Database string

	// Provides is the system-provided dependency file
	Provides string

	// Config is the path to the global config file
	Config string
}

// DefaultPaths returns the default paths for unitforge, honouring UNITFORGE_ROOT.
func DefaultPaths() (*Paths, error) {
	root := os.Getenv(RootEnv)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		root = filepath.Join(home, ".unitforge")
	}
	return PathsFor(root), nil
}

// PathsFor derives every path from root.
func PathsFor(root string) *Paths {
	return &Paths{
		Root:      root,
		Units:     filepath.Join(root, "units"),
		Downloads: filepath.Join(root, "cache", "downloads"),
		Builds:    filepath.Join(root, "cache", "builds"),
		Destroot:  filepath.Join(root, "destroot"),
		Database:  filepath.Join(root, "state"),
		Provides:  filepath.Join(root, "provides.yaml"),
		Config:    filepath.Join(root, "config.yaml"),
	}
}

// EnsureDirectories creates all necessary directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.Root,
		p.Units,
		p.Downloads,
		p.Builds,
		p.Destroot,
		p.Database,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
