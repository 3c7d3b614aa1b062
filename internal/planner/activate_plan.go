package planner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/danieljhkim/unitforge/internal/fsops"
)

// PlanInput locates the trees an activation plan is built from.
type PlanInput struct {
	Unit string

	// DestrootDir is the versioned destroot being activated
	DestrootDir string

	// CurrentLink is the unit's "current" link pointing at DestrootDir
	CurrentLink string

	// Root is the live filesystem root
	Root string
}

// CollectDirs walks destroot and returns its directories as logical paths,
// parents first. The destroot itself is not included.
func CollectDirs(fsys fsops.FS, destroot string) ([]string, error) {
	var dirs []string
	err := fsys.WalkDir(destroot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == destroot || !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(destroot, path)
		if err != nil {
			return err
		}
		dirs = append(dirs, LogicalPath(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk destroot %s: %w", destroot, err)
	}
	return dirs, nil
}

// collectFiles walks destroot and returns every non-directory entry as a
// logical path. Symlinks inside the destroot are activated like files.
func collectFiles(fsys fsops.FS, destroot string) ([]string, error) {
	var files []string
	err := fsys.WalkDir(destroot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(destroot, path)
		if err != nil {
			return err
		}
		files = append(files, LogicalPath(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk destroot %s: %w", destroot, err)
	}
	return files, nil
}

// BuildActivationPlan generates a deterministic activation plan.
//
// Every file in the destroot becomes a symlink at the same logical path
// under in.Root, pointing through in.CurrentLink. Files owned by another
// unit, or shadowed by a real directory, are reported as conflicts.
func BuildActivationPlan(ctx context.Context, fsys fsops.FS, lookup OwnerLookup, in PlanInput) (*ActivationPlan, error) {
	plan := NewActivationPlan(in.Unit)

	dirs, err := CollectDirs(fsys, in.DestrootDir)
	if err != nil {
		return nil, err
	}
	plan.Dirs = append(plan.Dirs, dirs...)

	files, err := collectFiles(fsys, in.DestrootDir)
	if err != nil {
		return nil, err
	}

	checker, err := NewConflictChecker(ctx, fsys, lookup, in.Unit, in.Root, files)
	if err != nil {
		return nil, err
	}

	for _, path := range files {
		conflict, replace := checker.CheckPath(path)
		if conflict != nil {
			plan.AddConflict(*conflict)
			continue
		}
		dest := RealPath(in.Root, path)
		if replace {
			plan.AddOperation(Operation{Type: OpRemove, DestPath: dest, Path: path})
		}
		plan.AddOperation(Operation{
			Type:       OpCreateSymlink,
			SourcePath: filepath.Join(in.CurrentLink, filepath.FromSlash(path)),
			DestPath:   dest,
			Path:       path,
		})
	}

	return plan, nil
}
