// Package units loads build unit definitions from disk.
//
// Each unit lives in its own directory holding a unit.yaml definition plus
// any local sources and patches it references:
//
//	<units>/<name>/unit.yaml
//	<units>/<name>/patches/*.patch
//
// Loading wires the adapters (downloader, extractor, patch(1), shell build
// command) into the returned unit.Unit. Several unit directories can be
// searched in order with MultiRepo; the first definition found wins.
package units

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/unitforge/internal/adapters"
	"github.com/danieljhkim/unitforge/internal/fsops"
	"github.com/danieljhkim/unitforge/internal/hash"
	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/unit"
)

// ErrNotFound indicates no definition exists for a unit name.
var ErrNotFound = errors.New("unit not found")

// Repo provides access to unit definitions.
type Repo interface {
	// List returns the names of all defined units, sorted.
	List() ([]string, error)

	// Exists checks if a definition exists for name.
	Exists(name string) (bool, error)

	// LoadDefinition reads and validates the definition of name.
	LoadDefinition(name string) (*Definition, error)

	// Load returns the unit called name with its adapters wired.
	Load(name string) (*unit.Unit, error)
}

// Tools are the collaborators wired into loaded units.
type Tools struct {
	FS     fsops.FS
	Hasher hash.Hasher
	Runner adapters.Runner
	Logger *slog.Logger
}

// FileRepo implements Repo over one directory.
type FileRepo struct {
	fs       fsops.FS
	unitsDir string
	tools    Tools
}

// NewFileRepo creates a FileRepo reading from unitsDir.
func NewFileRepo(unitsDir string, tools Tools) *FileRepo {
	if tools.FS == nil {
		tools.FS = fsops.NewRealFS()
	}
	if tools.Hasher == nil {
		tools.Hasher = hash.NewFileHasher()
	}
	tools.Logger = logging.Ensure(tools.Logger)
	if tools.Runner == nil {
		tools.Runner = adapters.NewShellRunner(tools.Logger)
	}
	return &FileRepo{fs: tools.FS, unitsDir: unitsDir, tools: tools}
}

// Dir returns the definition directory of name.
func (r *FileRepo) Dir(name string) string {
	return filepath.Join(r.unitsDir, name)
}

// List returns the names of all defined units.
func (r *FileRepo) List() ([]string, error) {
	entries, err := r.fs.ReadDir(r.unitsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read units directory: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ok, err := r.fs.Exists(filepath.Join(r.unitsDir, entry.Name(), DefinitionFile))
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists checks if a definition exists for name.
func (r *FileRepo) Exists(name string) (bool, error) {
	if err := r.fs.ValidateIdentifier(name); err != nil {
		return false, fmt.Errorf("invalid unit name: %w", err)
	}
	return r.fs.Exists(filepath.Join(r.Dir(name), DefinitionFile))
}

// LoadDefinition reads and validates the definition of name.
func (r *FileRepo) LoadDefinition(name string) (*Definition, error) {
	if err := r.fs.ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("invalid unit name: %w", err)
	}

	path := filepath.Join(r.Dir(name), DefinitionFile)
	data, err := r.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}

	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if def.Name != name {
		return nil, fmt.Errorf("%s: defines unit %q, expected %q", path, def.Name, name)
	}
	return &def, nil
}

// Load returns the unit called name with its adapters wired.
func (r *FileRepo) Load(name string) (*unit.Unit, error) {
	def, err := r.LoadDefinition(name)
	if err != nil {
		return nil, err
	}
	return def.Unit(r.Dir(name), r.tools), nil
}

// Unit converts the definition into a unit rooted at dir.
func (d *Definition) Unit(dir string, tools Tools) *unit.Unit {
	u := &unit.Unit{
		Name:        d.Name,
		Version:     d.Version,
		Revision:    d.Revision,
		Description: d.Description,
		License:     d.License,
		Maintainer:  d.Maintainer,
		Category:    d.Category,
		Homepage:    d.Homepage,
		SCM:         d.SCM,
		SCMWeb:      d.SCMWeb,
		Vars:        d.Vars,
		Groups:      d.Groups,
		Sequences:   d.Sequences,
		Dir:         dir,
	}
	for _, dep := range d.Depends {
		u.Depends = append(u.Depends, unit.DependencySpec{Name: dep.Name, Version: dep.Version})
	}
	for _, dep := range d.RuntimeDepends {
		u.RuntimeDepends = append(u.RuntimeDepends, unit.DependencySpec{Name: dep.Name, Version: dep.Version})
	}
	for _, src := range d.Sources {
		u.Sources = append(u.Sources, unit.Source{URL: src.URL, Filename: src.Filename, Hashes: src.Checksums})
	}
	for _, p := range d.Patches {
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		u.Patches = append(u.Patches, p)
	}

	if len(d.Hooks) > 0 {
		u.Hooks = make(map[string]unit.HookFunc, len(d.Hooks))
		for name, command := range d.Hooks {
			u.Hooks[name] = shellHook(tools.Runner, command)
		}
	}

	dl := adapters.NewDownloader(tools.FS, tools.Hasher, dir)
	dl.Logger = tools.Logger
	u.Downloader = dl
	u.Extractor = adapters.NewArchiveExtractor(tools.FS)
	u.PatchSystem = adapters.NewPatchCmd(tools.Runner, u.Patches, tools.Logger)
	u.BuildCommand = adapters.NewShellBuild(tools.Runner, adapters.BuildCommands{
		Configure: d.Build.Configure,
		Build:     d.Build.Build,
		Destroot:  d.Build.Destroot,
		Clean:     d.Build.Clean,
		Distclean: d.Build.Distclean,
	})
	return u
}

func shellHook(runner adapters.Runner, command string) unit.HookFunc {
	return func(ctx context.Context, env *unit.Env) error {
		return runner.Run(ctx, env.DataDir, env.Environ(), env.Expand(command))
	}
}
