// Package provides keeps the registry of dependencies satisfied by the host
// system instead of by building another unit.
//
// The registry is a YAML file:
//
//	provides:
//	  zlib: "1.3 (distribution package)"
//	  perl: "5.36"
package provides

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/unitforge/internal/fsops"
)

// ErrNotProvided indicates a name is not in the registry.
var ErrNotProvided = errors.New("not system-provided")

// Entry is one system-provided dependency.
type Entry struct {
	Name    string
	Version string
}

type file struct {
	Provides map[string]string `yaml:"provides"`
}

// Registry is the system-provided override store. It implements
// depend.SystemProvider.
type Registry struct {
	fs      fsops.FS
	path    string
	entries map[string]string
}

// Load reads the registry at path. A missing file yields an empty registry.
func Load(fs fsops.FS, path string) (*Registry, error) {
	r := &Registry{fs: fs, path: path, entries: make(map[string]string)}

	data, err := fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read provides file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse provides file %s: %w", path, err)
	}
	for name, version := range f.Provides {
		r.entries[name] = version
	}
	return r, nil
}

// Provided reports whether name is provided and with which version text.
func (r *Registry) Provided(name string) (string, bool) {
	v, ok := r.entries[name]
	return v, ok
}

// Add records name as provided, replacing any previous version.
func (r *Registry) Add(name, version string) error {
	if err := r.fs.ValidateIdentifier(name); err != nil {
		return fmt.Errorf("invalid name: %w", err)
	}
	r.entries[name] = version
	return nil
}

// Remove deletes name from the registry.
func (r *Registry) Remove(name string) error {
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotProvided, name)
	}
	delete(r.entries, name)
	return nil
}

// List returns all entries sorted by name.
func (r *Registry) List() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for name, version := range r.entries {
		out = append(out, Entry{Name: name, Version: version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Save writes the registry back to its file.
func (r *Registry) Save() error {
	data, err := yaml.Marshal(file{Provides: r.entries})
	if err != nil {
		return fmt.Errorf("failed to marshal provides: %w", err)
	}
	if err := r.fs.AtomicWrite(r.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write provides file: %w", err)
	}
	return nil
}
