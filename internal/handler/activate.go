package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danieljhkim/unitforge/internal/config"
	"github.com/danieljhkim/unitforge/internal/phase"
	"github.com/danieljhkim/unitforge/internal/planner"
	"github.com/danieljhkim/unitforge/internal/store"
	"github.com/danieljhkim/unitforge/internal/unit"
)

var (
	// ErrAlreadyActivated indicates another version of the unit is active.
	ErrAlreadyActivated = errors.New("another version is already activated")

	// ErrFileConflict indicates activation would take over another unit's files.
	ErrFileConflict = errors.New("file conflict")
)

// ConflictError lists the paths that blocked an activation.
type ConflictError struct {
	Unit      string
	Conflicts []planner.Conflict
}

func (e *ConflictError) Error() string {
	paths := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		paths = append(paths, c.Path+" ("+c.Reason+")")
	}
	return fmt.Sprintf("cannot activate %s: %d conflicting file(s): %s", e.Unit, len(e.Conflicts), strings.Join(paths, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrFileConflict }

// ActiveVersions returns the dist versions of this unit, other than the
// handled one, that are currently activated.
func (h *Handler) ActiveVersions(ctx context.Context) ([]string, error) {
	versions, err := h.store.VersionsWithPhase(ctx, h.unit.Name, phase.Activated)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range versions {
		if v != h.unit.DistVersion() {
			out = append(out, v)
		}
	}
	return out, nil
}

func (h *Handler) activate(ctx context.Context) error {
	others, err := h.ActiveVersions(ctx)
	if err != nil {
		return err
	}
	if len(others) > 0 {
		h.logger.Warn("another version is already activated", "active", strings.Join(others, ","))
		return fmt.Errorf("%s: %w (%s)", h.unit.Name, ErrAlreadyActivated, strings.Join(others, ", "))
	}

	act := &activation{}
	prepare := func(ctx context.Context) error {
		return h.prepareActivation(act)
	}
	err = h.run(ctx, "activate", prepare, func(ctx context.Context, env *unit.Env) error {
		return h.linkFiles(ctx, act)
	})
	if err != nil && !act.committed {
		h.rollbackActivation(act)
	}
	return err
}

// CheckActivation plans the activation of the staged tree without touching
// the filesystem. It returns a ConflictError when the conflict policy would
// abort, so a caller can bail out before disturbing the live state.
func (h *Handler) CheckActivation(ctx context.Context) error {
	plan, err := h.plan(ctx)
	if err != nil {
		return err
	}
	if plan.HasConflicts() && h.opts.OnConflict != config.ConflictSkip {
		return &ConflictError{Unit: h.unit.Name, Conflicts: plan.Conflicts}
	}
	return nil
}

func (h *Handler) plan(ctx context.Context) (*planner.ActivationPlan, error) {
	return planner.BuildActivationPlan(ctx, h.fs, h.store, planner.PlanInput{
		Unit:        h.unit.Name,
		DestrootDir: h.destrootDir(),
		CurrentLink: h.layout.CurrentLink,
		Root:        h.opts.Root,
	})
}

// activation tracks what one activate call changed on disk, so a failure
// before the records are committed can be undone.
type activation struct {
	// prevLink is the target the current link had before, if any
	prevLink string
	hadLink  bool

	// created are the real directories this call created, in order
	created []string

	// dirs are the logical destroot directories
	dirs []string

	committed bool
}

// prepareActivation points the current link at the destroot and creates
// every destroot directory under the filesystem root.
func (h *Handler) prepareActivation(act *activation) error {
	destroot := h.destrootDir()
	link := h.layout.CurrentLink

	// Lstat, not Exists: a dangling link must be replaced too.
	if _, err := h.fs.Lstat(link); err == nil {
		if target, err := h.fs.Readlink(link); err == nil {
			act.prevLink, act.hadLink = target, true
		}
		if err := h.fs.Remove(link); err != nil {
			return fmt.Errorf("failed to replace %s: %w", link, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := h.fs.Symlink(destroot, link); err != nil {
		return fmt.Errorf("failed to link %s: %w", link, err)
	}

	dirs, err := planner.CollectDirs(h.fs, destroot)
	if err != nil {
		return err
	}
	act.dirs = dirs
	return h.makeDirs(act, dirs)
}

// makeDirs creates the real directories of dirs, parents first, noting the
// ones that did not exist yet.
func (h *Handler) makeDirs(act *activation, dirs []string) error {
	for _, d := range dirs {
		target := planner.RealPath(h.opts.Root, d)
		if _, err := h.fs.Lstat(target); err == nil {
			continue
		}
		if err := h.fs.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", target, err)
		}
		act.created = append(act.created, target)
	}
	return nil
}

// rollbackActivation removes the directories an uncommitted activation
// created, deepest first and only while empty, and restores the current link.
func (h *Handler) rollbackActivation(act *activation) {
	for i := len(act.created) - 1; i >= 0; i-- {
		dir := act.created[i]
		empty, err := h.fs.IsEmptyDir(dir)
		if err != nil || !empty {
			continue
		}
		if err := h.fs.Remove(dir); err != nil {
			h.logger.Warn("failed to remove directory", "path", dir, "error", err)
		}
	}

	link := h.layout.CurrentLink
	if err := h.fs.Remove(link); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("failed to remove current link", "path", link, "error", err)
		return
	}
	if act.hadLink {
		if err := h.fs.Symlink(act.prevLink, link); err != nil {
			h.logger.Warn("failed to restore current link", "path", link, "target", act.prevLink, "error", err)
		}
	}
}

// linkFiles plans and commits the symlink farm. Pre-activate hooks may have
// added entries to the destroot, so the tree is walked again.
func (h *Handler) linkFiles(ctx context.Context, act *activation) error {
	plan, err := h.plan(ctx)
	if err != nil {
		return err
	}

	if plan.HasConflicts() {
		for _, c := range plan.Conflicts {
			h.logger.Error("file conflict", "path", c.Path, "owner", c.Owner, "reason", c.Reason)
		}
		if h.opts.OnConflict != config.ConflictSkip {
			return &ConflictError{Unit: h.unit.Name, Conflicts: plan.Conflicts}
		}
		plan = plan.WithoutConflicts()
	}

	dirs := mergeDirs(act.dirs, plan.Dirs)
	if err := h.makeDirs(act, dirs); err != nil {
		return err
	}

	dirRecs := make([]store.DirRecord, 0, len(dirs))
	for _, d := range dirs {
		dirRecs = append(dirRecs, store.DirRecord{Path: d, Unit: h.unit.Name})
	}
	if err := h.store.UpsertDirs(ctx, dirRecs); err != nil {
		return fmt.Errorf("failed to record directories: %w", err)
	}
	act.committed = true

	files := plan.Files()
	fileRecs := make([]store.FileRecord, 0, len(files))
	for _, f := range files {
		fileRecs = append(fileRecs, store.FileRecord{Path: f, Unit: h.unit.Name})
	}
	if err := h.store.UpsertFiles(ctx, fileRecs); err != nil {
		return fmt.Errorf("failed to record files: %w", err)
	}

	for _, op := range plan.Operations {
		if err := h.executeOperation(op); err != nil {
			return err
		}
	}
	h.logger.Info("activated", "files", len(files), "dirs", len(dirs))
	return nil
}

// executeOperation executes a single operation.
func (h *Handler) executeOperation(op planner.Operation) error {
	switch op.Type {
	case planner.OpRemove:
		if err := h.fs.Remove(op.DestPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to replace %s: %w", op.DestPath, err)
		}
	case planner.OpCreateSymlink:
		if err := h.fs.Symlink(op.SourcePath, op.DestPath); err != nil {
			return fmt.Errorf("failed to link %s: %w", op.DestPath, err)
		}
	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}
	return nil
}

func mergeDirs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, d := range list {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (h *Handler) deactivate(ctx context.Context) error {
	return h.run(ctx, "deactivate", nil, func(ctx context.Context, env *unit.Env) error {
		if err := h.unlinkFiles(ctx); err != nil {
			return err
		}
		if err := h.removeDirs(ctx); err != nil {
			return err
		}

		link := h.layout.CurrentLink
		if _, err := h.fs.Lstat(link); err == nil {
			if err := h.fs.Remove(link); err != nil {
				return fmt.Errorf("failed to remove %s: %w", link, err)
			}
		}
		return nil
	})
}

func (h *Handler) unlinkFiles(ctx context.Context) error {
	files, err := h.store.FilesOwnedBy(ctx, h.unit.Name)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}
	for _, f := range files {
		target := planner.RealPath(h.opts.Root, f.Path)
		info, err := h.fs.Lstat(target)
		switch {
		case os.IsNotExist(err):
			h.logger.Warn("activated file is already gone", "path", target)
		case err != nil:
			return fmt.Errorf("failed to check %s: %w", target, err)
		case info.Mode()&os.ModeSymlink == 0:
			h.logger.Warn("activated path is no longer a symlink, leaving it", "path", target)
		default:
			if err := h.fs.Remove(target); err != nil {
				return fmt.Errorf("failed to remove %s: %w", target, err)
			}
		}
		if err := h.store.DeleteFile(ctx, f); err != nil {
			return fmt.Errorf("failed to delete file record %s: %w", f.Path, err)
		}
	}
	return nil
}

// removeDirs removes the unit's directories deepest first, keeping any that
// still hold entries, the filesystem root, the prefix and its parents.
func (h *Handler) removeDirs(ctx context.Context) error {
	dirs, err := h.store.DirsOwnedBy(ctx, h.unit.Name)
	if err != nil {
		return fmt.Errorf("failed to list directories: %w", err)
	}
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i].Path, "/"), strings.Count(dirs[j].Path, "/")
		if di != dj {
			return di > dj
		}
		return dirs[i].Path > dirs[j].Path
	})

	for _, d := range dirs {
		if !h.protectedDir(d.Path) {
			target := planner.RealPath(h.opts.Root, d.Path)
			if info, err := h.fs.Lstat(target); err == nil && info.IsDir() {
				empty, err := h.fs.IsEmptyDir(target)
				if err != nil {
					return err
				}
				if empty {
					if err := h.fs.Remove(target); err != nil {
						return fmt.Errorf("failed to remove %s: %w", target, err)
					}
				}
			}
		}
		if err := h.store.DeleteDir(ctx, d); err != nil {
			return fmt.Errorf("failed to delete directory record %s: %w", d.Path, err)
		}
	}
	return nil
}

func (h *Handler) protectedDir(logical string) bool {
	logical = filepath.Clean(logical)
	if logical == "/" {
		return true
	}
	if h.opts.Prefix == "" {
		return false
	}
	prefix := filepath.Clean(h.opts.Prefix)
	return prefix == logical || strings.HasPrefix(prefix, logical+"/")
}
