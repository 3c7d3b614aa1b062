// Package depend builds the dependency tree of a build unit.
//
// Every dependency name resolves to exactly one candidate: a unit already
// seen in this resolver session, a system-provided entry, or the unit the
// loader returns. Names that cannot be loaded are collected rather than
// failing immediately, so a caller can report all of them at once.
package depend

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/unit"
)

// Kind says how a dependency is satisfied.
type Kind int

const (
	// None marks a dependency that could not be resolved.
	None Kind = iota
	UnitProvided
	SystemProvided
)

// MarshalText renders the kind name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k Kind) String() string {
	switch k {
	case UnitProvided:
		return "unit"
	case SystemProvided:
		return "system"
	default:
		return "missing"
	}
}

// Dependency is one node of the tree.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Kind    Kind   `json:"kind"`

	// Unit is set for UnitProvided nodes.
	Unit *unit.Unit `json:"-"`

	Children []*Dependency `json:"children,omitempty"`
}

// SystemProvider reports dependencies satisfied by the host.
type SystemProvider interface {
	Provided(name string) (version string, ok bool)
}

// Loader loads a unit definition by name.
type Loader interface {
	Load(name string) (*unit.Unit, error)
}

// UnresolvedDependencies lists every dependency that could not be found.
type UnresolvedDependencies struct {
	Unit    string
	Missing map[string]string
}

func (e *UnresolvedDependencies) Error() string {
	names := make([]string, 0, len(e.Missing))
	for name := range e.Missing {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if v := e.Missing[name]; v != "" {
			names[i] = name + " (" + v + ")"
		}
	}
	return fmt.Sprintf("unresolved dependencies for %s: %s", e.Unit, strings.Join(names, ", "))
}

// CycleError reports a dependency chain that leads back to itself.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// Resolver resolves dependencies for one session. Results are cached by
// name, so a name shared by several units resolves to the same node.
type Resolver struct {
	loader   Loader
	provider SystemProvider
	logger   *slog.Logger
	runtime  bool

	root       string
	cache      map[string]*Dependency
	inProgress map[string]bool
	stack      []string
	missing    map[string]string
}

// NewBuildResolver resolves the build dependencies (depends) of units.
func NewBuildResolver(loader Loader, provider SystemProvider, logger *slog.Logger) *Resolver {
	return newResolver(loader, provider, logger, false)
}

// NewRuntimeResolver resolves runtime_depends followed by depends.
func NewRuntimeResolver(loader Loader, provider SystemProvider, logger *slog.Logger) *Resolver {
	return newResolver(loader, provider, logger, true)
}

func newResolver(loader Loader, provider SystemProvider, logger *slog.Logger, runtime bool) *Resolver {
	return &Resolver{
		loader:     loader,
		provider:   provider,
		logger:     logging.Ensure(logger),
		runtime:    runtime,
		cache:      make(map[string]*Dependency),
		inProgress: make(map[string]bool),
		missing:    make(map[string]string),
	}
}

// Analyse returns the dependencies of u in declaration order, each with
// its own dependencies attached. Missing dependencies appear as None nodes
// and are recorded for Check; only a cycle is returned as an error.
func (r *Resolver) Analyse(u *unit.Unit) ([]*Dependency, error) {
	r.root = u.Name
	return r.analyse(u)
}

func (r *Resolver) analyse(u *unit.Unit) ([]*Dependency, error) {
	r.inProgress[u.Name] = true
	r.stack = append(r.stack, u.Name)
	defer func() {
		delete(r.inProgress, u.Name)
		r.stack = r.stack[:len(r.stack)-1]
	}()

	var out []*Dependency
	for _, spec := range r.specs(u) {
		if spec.Name == u.Name {
			r.logger.Warn("unit depends on itself, ignoring", "unit", u.Name)
			continue
		}
		if r.inProgress[spec.Name] {
			path := append(append([]string{}, r.stack...), spec.Name)
			return nil, &CycleError{Path: path}
		}
		if dep, ok := r.cache[spec.Name]; ok {
			out = append(out, dep)
			continue
		}

		if r.provider != nil {
			if version, ok := r.provider.Provided(spec.Name); ok {
				dep := &Dependency{Name: spec.Name, Version: version, Kind: SystemProvided}
				r.cache[spec.Name] = dep
				out = append(out, dep)
				continue
			}
		}

		child, err := r.loader.Load(spec.Name)
		if err != nil {
			r.logger.Debug("dependency not found", "unit", u.Name, "dependency", spec.Name, "error", err)
			r.missing[spec.Name] = spec.Version
			dep := &Dependency{Name: spec.Name, Version: spec.Version, Kind: None}
			r.cache[spec.Name] = dep
			out = append(out, dep)
			continue
		}

		children, err := r.analyse(child)
		if err != nil {
			return nil, err
		}
		dep := &Dependency{
			Name:     child.Name,
			Version:  child.DistVersion(),
			Kind:     UnitProvided,
			Unit:     child,
			Children: children,
		}
		r.cache[spec.Name] = dep
		out = append(out, dep)
	}
	return out, nil
}

// specs returns the dependency list this resolver reads from u, first
// occurrence of each name winning.
func (r *Resolver) specs(u *unit.Unit) []unit.DependencySpec {
	if !r.runtime {
		return u.Depends
	}
	seen := make(map[string]bool, len(u.RuntimeDepends)+len(u.Depends))
	out := make([]unit.DependencySpec, 0, len(u.RuntimeDepends)+len(u.Depends))
	for _, list := range [][]unit.DependencySpec{u.RuntimeDepends, u.Depends} {
		for _, spec := range list {
			if !seen[spec.Name] {
				seen[spec.Name] = true
				out = append(out, spec)
			}
		}
	}
	return out
}

// Missing returns the dependencies that could not be loaded, mapped to the
// requested version (empty when none was given).
func (r *Resolver) Missing() map[string]string {
	out := make(map[string]string, len(r.missing))
	for k, v := range r.missing {
		out[k] = v
	}
	return out
}

// Check returns an *UnresolvedDependencies listing every missing name, or nil.
func (r *Resolver) Check() error {
	if len(r.missing) == 0 {
		return nil
	}
	return &UnresolvedDependencies{Unit: r.root, Missing: r.Missing()}
}

// Resolve analyses u and fails if anything is missing.
func (r *Resolver) Resolve(u *unit.Unit) ([]*Dependency, error) {
	deps, err := r.Analyse(u)
	if err != nil {
		return nil, err
	}
	if err := r.Check(); err != nil {
		return nil, err
	}
	return deps, nil
}

// InstallOrder flattens deps so every unit comes after its own
// dependencies. Only unit-provided nodes are returned, each once.
func InstallOrder(deps []*Dependency) []*Dependency {
	var out []*Dependency
	seen := make(map[string]bool)
	var visit func(d *Dependency)
	visit = func(d *Dependency) {
		if seen[d.Name] {
			return
		}
		seen[d.Name] = true
		for _, c := range d.Children {
			visit(c)
		}
		if d.Kind == UnitProvided {
			out = append(out, d)
		}
	}
	for _, d := range deps {
		visit(d)
	}
	return out
}

// Walk calls fn for every node depth first, parents before children,
// with its depth. Shared nodes are visited once per parent.
func Walk(deps []*Dependency, fn func(d *Dependency, depth int)) {
	var walk func([]*Dependency, int)
	walk = func(list []*Dependency, depth int) {
		for _, d := range list {
			fn(d, depth)
			walk(d.Children, depth+1)
		}
	}
	walk(deps, 0)
}
