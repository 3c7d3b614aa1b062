// Package handler carries one build unit version through its lifecycle.
//
// A Handler derives the unit's directory layout from the configured cache
// roots, keeps the unit's phase set in sync with the store, and wraps every
// operation with its hooks:
//
//	group pre-hooks -> unit pre-hook -> operation -> unit post-hook -> group post-hooks
//
// The directories each phase produces are recorded in the store as it
// completes, and teardown removes the recorded paths rather than
// recomputing them. Handler implements sequence.Target.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/danieljhkim/unitforge/internal/config"
	"github.com/danieljhkim/unitforge/internal/fsops"
	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/phase"
	"github.com/danieljhkim/unitforge/internal/sequence"
	"github.com/danieljhkim/unitforge/internal/store"
	"github.com/danieljhkim/unitforge/internal/unit"
)

// Options are the configured roots a layout is derived from.
type Options struct {
	Downloads string
	Builds    string
	Destroot  string

	// Root is the live filesystem root units are activated into.
	Root string

	// Prefix is the install prefix, never removed by deactivation.
	Prefix string

	// OnConflict is config.ConflictAbort or config.ConflictSkip.
	OnConflict string
}

// Deps are the collaborators a Handler needs.
type Deps struct {
	Store   *store.Store
	FS      fsops.FS
	Groups  *Groups
	Logger  *slog.Logger
	Options Options
}

// Layout is the set of directories derived for one unit version.
type Layout struct {
	DownloadDir string
	WorkDir     string
	SrcDir      string
	BuildDir    string
	DestrootDir string
	CurrentLink string
	DataDir     string
}

// DeriveLayout computes the layout of u. It depends only on the options
// and the unit's name and dist version.
func DeriveLayout(opts Options, u *unit.Unit) Layout {
	work := filepath.Join(opts.Builds, u.Name, u.DistVersion())
	return Layout{
		DownloadDir: filepath.Join(opts.Downloads, u.Name),
		WorkDir:     work,
		SrcDir:      filepath.Join(work, "src"),
		BuildDir:    filepath.Join(work, "build"),
		DestrootDir: filepath.Join(opts.Destroot, u.Name, u.DistVersion()),
		CurrentLink: filepath.Join(opts.Destroot, u.Name, "current"),
		DataDir:     u.Dir,
	}
}

// Handler drives one unit version.
type Handler struct {
	unit   *unit.Unit
	store  *store.Store
	fs     fsops.FS
	logger *slog.Logger
	opts   Options
	layout Layout
	groups []Hook

	phases phase.Set
	dirs   store.InstallDirectories
}

// New creates a handler for u. It records the unit's metadata, loads its
// phase set and makes sure an install-directories row exists.
func New(ctx context.Context, deps Deps, u *unit.Unit) (*Handler, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if deps.Options.Root == "" {
		deps.Options.Root = "/"
	}
	if deps.Options.OnConflict == "" {
		deps.Options.OnConflict = config.ConflictAbort
	}

	groups := deps.Groups
	if groups == nil {
		groups = NewGroups()
	}
	hooks, err := groups.Resolve(u.Groups)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", u.Name, err)
	}

	h := &Handler{
		unit:   u,
		store:  deps.Store,
		fs:     deps.FS,
		logger: logging.Ensure(deps.Logger).With("unit", u.Key()),
		opts:   deps.Options,
		layout: DeriveLayout(deps.Options, u),
		groups: hooks,
	}

	err = h.store.UpsertInfo(ctx, store.Info{
		Unit:        u.Name,
		Description: u.Description,
		License:     u.License,
		Maintainer:  u.Maintainer,
		Category:    u.Category,
		Homepage:    u.Homepage,
		SCM:         u.SCM,
		SCMWeb:      u.SCMWeb,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record unit info: %w", err)
	}
	if err := h.reloadPhases(ctx); err != nil {
		return nil, err
	}
	if err := h.recordDirs(ctx, store.InstallDirectories{}); err != nil {
		return nil, err
	}
	return h, nil
}

// Unit returns the handled unit.
func (h *Handler) Unit() *unit.Unit { return h.unit }

// Layout returns the derived layout.
func (h *Handler) Layout() Layout { return h.layout }

// InstallDirectories returns the recorded phase directories.
func (h *Handler) InstallDirectories() store.InstallDirectories { return h.dirs }

// Phases returns the current phase set in order.
func (h *Handler) Phases() []phase.Phase { return h.phases.Sorted() }

// Stage is the furthest phase reached, ignoring Deactivated.
func (h *Handler) Stage() phase.Phase { return h.phases.Highest() }

// Key identifies the unit version.
func (h *Handler) Key() string { return h.unit.Key() }

// HasPhase reports whether p has been reached.
func (h *Handler) HasPhase(p phase.Phase) bool { return h.phases.Has(p) }

// SetPhase records p in the store.
func (h *Handler) SetPhase(ctx context.Context, p phase.Phase) error {
	if err := h.store.AddPhase(ctx, h.unit.Name, h.unit.DistVersion(), p); err != nil {
		return fmt.Errorf("failed to record phase %s: %w", p, err)
	}
	return h.reloadPhases(ctx)
}

// UnsetPhase clears p in the store.
func (h *Handler) UnsetPhase(ctx context.Context, p phase.Phase) error {
	if err := h.store.RemovePhase(ctx, h.unit.Name, h.unit.DistVersion(), p); err != nil {
		return fmt.Errorf("failed to clear phase %s: %w", p, err)
	}
	return h.reloadPhases(ctx)
}

// SequenceOverrides returns the unit's per-sequence action overrides.
func (h *Handler) SequenceOverrides() map[string][]string {
	return h.unit.Sequences
}

// Action maps an action identifier onto the operation implementing it. An
// action backed by a capability the unit lacks is reported as unavailable.
func (h *Handler) Action(a sequence.Action) (sequence.ActionFunc, bool) {
	u := h.unit
	switch a {
	case sequence.ActionDownload:
		return h.download, u.Downloader != nil
	case sequence.ActionExtract:
		return h.extract, u.Extractor != nil
	case sequence.ActionPatch:
		return h.patch, u.PatchSystem != nil
	case sequence.ActionUnpatch:
		return h.unpatch, u.PatchSystem != nil
	case sequence.ActionConfigure:
		return h.configure, u.BuildCommand != nil
	case sequence.ActionBuild:
		return h.build, u.BuildCommand != nil
	case sequence.ActionDestroot:
		return h.destroot, u.BuildCommand != nil
	case sequence.ActionClean:
		return h.clean, u.BuildCommand != nil
	case sequence.ActionDistclean:
		return h.distclean, u.BuildCommand != nil
	case sequence.ActionActivate:
		return h.activate, true
	case sequence.ActionDeactivate:
		return h.deactivate, true
	case sequence.ActionDeleteDownload:
		return h.deleteDownload, true
	case sequence.ActionDeleteSource:
		return h.deleteSource, true
	case sequence.ActionDeleteBuild:
		return h.deleteBuild, true
	case sequence.ActionDeleteDestroot:
		return h.deleteDestroot, true
	}
	return nil, false
}

// Env returns the substitution context for hooks and collaborators,
// preferring recorded paths over derived ones.
func (h *Handler) Env() *unit.Env {
	u := h.unit
	return &unit.Env{
		Name:        u.Name,
		Version:     u.Version,
		DistVersion: u.DistVersion(),
		Prefix:      h.opts.Prefix,
		Root:        h.opts.Root,
		DownloadDir: h.downloadDir(),
		SrcDir:      h.sourceDir(),
		BuildDir:    h.buildDir(),
		DestDir:     h.destrootDir(),
		DataDir:     h.layout.DataDir,
		Vars:        u.Vars,
	}
}

func (h *Handler) downloadDir() string { return orDefault(h.dirs.Download, h.layout.DownloadDir) }
func (h *Handler) sourceDir() string   { return orDefault(h.dirs.Source, h.layout.SrcDir) }
func (h *Handler) buildDir() string    { return orDefault(h.dirs.Build, h.layout.BuildDir) }
func (h *Handler) destrootDir() string { return orDefault(h.dirs.Destroot, h.layout.DestrootDir) }

func orDefault(recorded, derived string) string {
	if recorded != "" {
		return recorded
	}
	return derived
}

func (h *Handler) reloadPhases(ctx context.Context) error {
	set, err := h.store.Phases(ctx, h.unit.Name, h.unit.DistVersion())
	if err != nil {
		return err
	}
	h.phases = set
	return nil
}

func (h *Handler) recordDirs(ctx context.Context, dirs store.InstallDirectories) error {
	dirs.Unit = h.unit.Name
	dirs.Version = h.unit.DistVersion()
	merged, err := h.store.UpsertInstallDirectories(ctx, dirs)
	if err != nil {
		return err
	}
	h.dirs = *merged
	return nil
}

// run wraps an operation with its hooks. prepare, when set, runs before
// any hook.
func (h *Handler) run(ctx context.Context, operation string, prepare func(context.Context) error, primary func(context.Context, *unit.Env) error) error {
	if prepare != nil {
		if err := prepare(ctx); err != nil {
			return err
		}
	}

	env := h.Env()
	for _, g := range h.groups {
		if err := g.Before(ctx, operation, env); err != nil {
			return err
		}
	}
	if hook := h.unit.Hook("pre", operation); hook != nil {
		if err := hook(ctx, env); err != nil {
			return fmt.Errorf("pre-%s hook: %w", operation, err)
		}
	}

	if err := primary(ctx, env); err != nil {
		return err
	}

	env = h.Env()
	if hook := h.unit.Hook("post", operation); hook != nil {
		if err := hook(ctx, env); err != nil {
			return fmt.Errorf("post-%s hook: %w", operation, err)
		}
	}
	for _, g := range h.groups {
		if err := g.After(ctx, operation, env); err != nil {
			return err
		}
	}
	return nil
}
