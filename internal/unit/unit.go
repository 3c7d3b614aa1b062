// Package unit defines the build unit model and the collaborator
// interfaces (downloader, extractor, patch system, build command) a unit
// uses to carry out its lifecycle.
package unit

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
)

// DependencySpec names another unit, optionally pinned to a version.
type DependencySpec struct {
	Name    string
	Version string
}

func (d DependencySpec) String() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + " " + d.Version
}

// Source is one upstream artifact.
type Source struct {
	URL string

	// Filename overrides the name the source is stored under.
	Filename string

	// Hashes maps algorithm (sha1, sha256, sha512) to hex digest.
	Hashes map[string]string
}

// StoredName returns the file name the source is kept under in the
// download cache.
func (s Source) StoredName() (string, error) {
	if s.Filename != "" {
		return s.Filename, nil
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", s.URL, err)
	}
	p := u.Path
	if u.Scheme == "" {
		p = s.URL
	}
	name := path.Base(strings.TrimSuffix(p, "/"))
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("cannot derive a filename from %q", s.URL)
	}
	return name, nil
}

// HookFunc runs around an operation.
type HookFunc func(ctx context.Context, env *Env) error

// Downloader fetches one source into the download cache.
type Downloader interface {
	// Copy stores src in destDir and returns the resulting path. An existing
	// file is kept unless overwrite is true.
	Copy(ctx context.Context, src Source, destDir string, overwrite bool) (string, error)

	// Verify checks path against hashes and fails on any mismatch.
	Verify(path string, hashes map[string]string) error
}

// Extractor unpacks a downloaded archive into destDir.
type Extractor interface {
	Extract(ctx context.Context, archive, destDir string) error
}

// PatchSystem applies and reverts the unit's patch stack in env.SrcDir.
type PatchSystem interface {
	Apply(ctx context.Context, env *Env) error
	Unapply(ctx context.Context, env *Env) error
}

// BuildCommand drives the unit's build tool.
type BuildCommand interface {
	Configure(ctx context.Context, env *Env) error
	Build(ctx context.Context, env *Env) error
	Destroot(ctx context.Context, env *Env) error
	Clean(ctx context.Context, env *Env) error
	Distclean(ctx context.Context, env *Env) error
}

// Unit is a named, versioned build definition. It is not modified after
// it has been loaded.
type Unit struct {
	Name     string
	Version  string
	Revision int

	Description string
	License     string
	Maintainer  string
	Category    string
	Homepage    string
	SCM         string
	SCMWeb      string

	Depends        []DependencySpec
	RuntimeDepends []DependencySpec

	Sources []Source
	Patches []string

	// Vars extends the substitution context of build commands.
	Vars map[string]string

	// Groups names the hook groups attached to this unit, in order.
	Groups []string

	// Hooks maps "pre-<operation>" and "post-<operation>" to a hook.
	Hooks map[string]HookFunc

	// Sequences replaces the action list of the named sequences.
	Sequences map[string][]string

	// Dir is the directory the definition was loaded from.
	Dir string

	Downloader   Downloader
	Extractor    Extractor
	PatchSystem  PatchSystem
	BuildCommand BuildCommand
}

// DistVersion is the version string phases and directories are keyed by.
func (u *Unit) DistVersion() string {
	return u.Version + "-" + strconv.Itoa(u.Revision)
}

// Key identifies the unit at its dist version, e.g. "foo@1.0-0".
func (u *Unit) Key() string {
	return u.Name + "@" + u.DistVersion()
}

// Hook returns the hook for "<when>-<operation>", or nil.
func (u *Unit) Hook(when, operation string) HookFunc {
	if u.Hooks == nil {
		return nil
	}
	return u.Hooks[when+"-"+operation]
}

// Validate reports definition errors that would only surface mid-run.
func (u *Unit) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("unit has no name")
	}
	if u.Version == "" {
		return fmt.Errorf("unit %s has no version", u.Name)
	}
	if u.Revision < 0 {
		return fmt.Errorf("unit %s: negative revision %d", u.Name, u.Revision)
	}
	for _, src := range u.Sources {
		if src.URL == "" {
			return fmt.Errorf("unit %s: source without url", u.Name)
		}
	}
	return nil
}

// Env is the substitution context handed to hooks and collaborators.
type Env struct {
	Name        string
	Version     string
	DistVersion string

	// Prefix is the configured install prefix, e.g. /usr/local.
	Prefix string

	// Root is the live filesystem root units are activated into.
	Root string

	DownloadDir string
	SrcDir      string
	BuildDir    string
	DestDir     string
	DataDir     string

	Vars map[string]string
}

// Lookup resolves one variable name.
func (e *Env) Lookup(name string) (string, bool) {
	switch name {
	case "name":
		return e.Name, true
	case "version":
		return e.Version, true
	case "dist_version":
		return e.DistVersion, true
	case "prefix":
		return e.Prefix, true
	case "root":
		return e.Root, true
	case "download_dir":
		return e.DownloadDir, true
	case "src_dir", "srcdir":
		return e.SrcDir, true
	case "build_dir", "builddir":
		return e.BuildDir, true
	case "destdir", "dest_dir":
		return e.DestDir, true
	case "data_dir":
		return e.DataDir, true
	}
	v, ok := e.Vars[name]
	return v, ok
}

// Expand substitutes ${var} and $var references. Unknown names expand to "".
func (e *Env) Expand(s string) string {
	return os.Expand(s, func(name string) string {
		v, _ := e.Lookup(name)
		return v
	})
}

// Environ returns the variables as KEY=value pairs for a subprocess,
// upper-cased and sorted.
func (e *Env) Environ() []string {
	vars := map[string]string{
		"UNIT_NAME":    e.Name,
		"UNIT_VERSION": e.Version,
		"PREFIX":       e.Prefix,
		"SRCDIR":       e.SrcDir,
		"BUILDDIR":     e.BuildDir,
		"DESTDIR":      e.DestDir,
	}
	for k, v := range e.Vars {
		vars[upperSnake(k)] = v
	}
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func upperSnake(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case c == '-' || c == '.':
			b[i] = '_'
		}
	}
	return string(b)
}
